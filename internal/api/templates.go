package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/leadmail/internal/delivery"
	"github.com/foxzi/leadmail/internal/editor"
	"github.com/foxzi/leadmail/internal/lead"
	"github.com/foxzi/leadmail/internal/placeholder"
	"github.com/foxzi/leadmail/internal/template"
)

// TemplateRequest creates or updates a template. Absent fields are left
// unchanged on update. Listed placeholders are added or get their value
// set; placeholders not listed are kept.
type TemplateRequest struct {
	Name               *string              `json:"name"`
	Subject            *string              `json:"subject"`
	BodyTemplate       *string              `json:"body_template"`
	Icon               *string              `json:"icon"`
	CustomPlaceholders []placeholder.Custom `json:"custom_placeholders"`
}

// TemplateResponse is the response for a template
type TemplateResponse struct {
	ID                 string                   `json:"id"`
	Name               string                   `json:"name"`
	Subject            *string                  `json:"subject"`
	BodyTemplate       string                   `json:"body_template"`
	CustomPlaceholders placeholder.Inventory    `json:"custom_placeholders"`
	Icon               string                   `json:"icon,omitempty"`
	Placeholders       []placeholder.Classified `json:"placeholders"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
}

// TemplateListResponse is the response for listing templates
type TemplateListResponse struct {
	Templates []*TemplateResponse `json:"templates"`
	Total     int                 `json:"total"`
}

// PlaceholderRequest adds a custom placeholder or sets its value
type PlaceholderRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PlaceholderResponse is returned when adding a placeholder
type PlaceholderResponse struct {
	Placeholder placeholder.Custom `json:"placeholder"`
	Duplicate   bool               `json:"duplicate"`
	Message     string             `json:"message,omitempty"`
	Template    *TemplateResponse  `json:"template,omitempty"`
}

// PreviewRequest renders a template for one lead. LeadID takes precedence
// over inline lead data; Values override the stored custom values.
type PreviewRequest struct {
	LeadID string            `json:"lead_id,omitempty"`
	Lead   map[string]string `json:"lead,omitempty"`
	Values map[string]string `json:"values,omitempty"`
}

// PreviewResponse is the rendered template
type PreviewResponse struct {
	template.Rendered
	Untracked []string `json:"untracked,omitempty"`
}

// SendRequest sends a template to leads. An empty LeadIDs sends to every
// lead matching Search.
type SendRequest struct {
	LeadIDs []string `json:"lead_ids,omitempty"`
	Search  string   `json:"search,omitempty"`
	From    string   `json:"from,omitempty"`
}

// SendResponse summarizes a dispatch
type SendResponse struct {
	Total   int               `json:"total"`
	Sent    int               `json:"sent"`
	Failed  int               `json:"failed"`
	Results []delivery.Result `json:"results"`
}

// handleListTemplates handles GET /api/v1/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	filter := template.ListFilter{
		Search: r.URL.Query().Get("search"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}

	var (
		templates []*template.Template
		err       error
	)
	if filter == (template.ListFilter{}) && s.svc.Catalog != nil && s.svc.Catalog.Loaded() {
		templates = s.svc.Catalog.Templates()
	} else {
		templates, err = s.svc.Templates.List(r.Context(), filter)
		if err != nil {
			s.logger.Error("failed to list templates", "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to list templates")
			return
		}
	}

	response := TemplateListResponse{
		Templates: make([]*TemplateResponse, len(templates)),
		Total:     len(templates),
	}
	for i, tmpl := range templates {
		response.Templates[i] = s.templateToResponse(tmpl)
	}

	s.sendJSON(w, http.StatusOK, response)
}

// handleCreateTemplate handles POST /api/v1/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if !s.decode(w, r, &req) {
		return
	}

	session := s.newSession()
	if err := applyTemplateRequest(session, &req); err != nil {
		s.sendFailure(w, err)
		return
	}

	tmpl, err := session.Save(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, s.templateToResponse(tmpl))
}

// handleImportTemplate handles POST /api/v1/templates/import. The record is
// stored as given, in any historical shape, and returned migrated.
func (s *Server) handleImportTemplate(w http.ResponseWriter, r *http.Request) {
	var rec template.Record
	if !s.decode(w, r, &rec) {
		return
	}
	if rec.Name == "" {
		s.sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "is required", Field: "name"})
		return
	}

	if err := s.svc.Templates.PutRaw(r.Context(), &rec); err != nil {
		s.sendFailure(w, &template.PersistenceError{Op: "import", Err: err})
		return
	}

	tmpl, err := s.svc.Templates.Get(r.Context(), rec.ID)
	if err != nil || tmpl == nil {
		s.sendFailure(w, &template.PersistenceError{Op: "load", Err: err})
		return
	}

	s.sendJSON(w, http.StatusCreated, s.templateToResponse(tmpl))
}

// handleGetTemplate handles GET /api/v1/templates/{id}
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := s.lookupTemplate(w, r)
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, s.templateToResponse(tmpl))
}

// handleUpdateTemplate handles PUT /api/v1/templates/{id}
func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if !s.decode(w, r, &req) {
		return
	}

	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	if err := applyTemplateRequest(session, &req); err != nil {
		s.sendFailure(w, err)
		return
	}

	s.save(w, r, session, http.StatusOK)
}

// handleDeleteTemplate handles DELETE /api/v1/templates/{id}
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "id")
	tmpl, err := s.findTemplate(r.Context(), key)
	if err != nil {
		s.logger.Error("failed to get template", "id", key, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get template")
		return
	}

	// unknown keys are deleted as IDs so DELETE stays idempotent
	id := key
	if tmpl != nil {
		id = tmpl.ID
	}
	if err := s.newSession().Delete(r.Context(), id); err != nil {
		s.sendFailure(w, err)
		return
	}

	s.logger.Info("template deleted via API", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleAddPlaceholder handles POST /api/v1/templates/{id}/placeholders
func (s *Server) handleAddPlaceholder(w http.ResponseWriter, r *http.Request) {
	var req PlaceholderRequest
	if !s.decode(w, r, &req) {
		return
	}

	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	added, err := session.AddPlaceholder(req.Name)
	if placeholder.IsDuplicate(err) {
		s.sendJSON(w, http.StatusOK, PlaceholderResponse{
			Placeholder: added,
			Duplicate:   true,
			Message:     err.Error(),
		})
		return
	}
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	if req.Value != "" {
		session.SetPlaceholderValue(added.Name, req.Value)
		added.Value = req.Value
	}

	tmpl, err := session.Save(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, PlaceholderResponse{
		Placeholder: added,
		Template:    s.templateToResponse(tmpl),
	})
}

// handleSetPlaceholder handles PUT /api/v1/templates/{id}/placeholders/{name}
func (s *Server) handleSetPlaceholder(w http.ResponseWriter, r *http.Request) {
	var req PlaceholderRequest
	if !s.decode(w, r, &req) {
		return
	}

	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	name := chi.URLParam(r, "name")
	if !session.Draft().Placeholders.Has(name) {
		s.sendError(w, http.StatusNotFound, "Placeholder not found")
		return
	}
	session.SetPlaceholderValue(name, req.Value)

	s.save(w, r, session, http.StatusOK)
}

// handleRemovePlaceholder handles DELETE /api/v1/templates/{id}/placeholders/{name}.
// A name still used in the text is tracked again by the save.
func (s *Server) handleRemovePlaceholder(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	session.RemovePlaceholder(chi.URLParam(r, "name"))
	s.save(w, r, session, http.StatusOK)
}

// handlePreview handles POST /api/v1/templates/{id}/preview
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	tmpl, ok := s.lookupTemplate(w, r)
	if !ok {
		return
	}

	fields := req.Lead
	if req.LeadID != "" {
		l, err := s.svc.Leads.Get(r.Context(), req.LeadID)
		if err != nil {
			s.logger.Error("failed to get lead", "id", req.LeadID, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to get lead")
			return
		}
		if l == nil {
			s.sendError(w, http.StatusNotFound, "Lead not found")
			return
		}
		fields = l.Fields()
	}

	custom := tmpl.Values()
	for k, v := range req.Values {
		custom[k] = v
	}

	s.sendJSON(w, http.StatusOK, PreviewResponse{
		Rendered:  s.svc.Renderer.Render(tmpl, fields, custom),
		Untracked: s.svc.Reconciler.Missing(tmpl.Placeholders, tmpl.SubjectText(), tmpl.Body),
	})
}

// handleSend handles POST /api/v1/templates/{id}/send
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !s.decode(w, r, &req) {
		return
	}

	from := req.From
	if from == "" {
		from = s.svc.From
	}
	if from == "" {
		s.sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "is required", Field: "from"})
		return
	}

	tmpl, ok := s.lookupTemplate(w, r)
	if !ok {
		return
	}

	leads, err := s.selectLeads(r, &req)
	if err != nil {
		s.logger.Error("failed to load leads", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load leads")
		return
	}
	if len(leads) == 0 {
		s.sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "no leads selected", Field: "lead_ids"})
		return
	}

	results, err := s.svc.Dispatcher.SendTemplate(r.Context(), tmpl, leads, from)
	if err != nil {
		s.logger.Warn("dispatch interrupted", "template", tmpl.ID, "error", err)
		s.sendError(w, http.StatusServiceUnavailable, "Delivery interrupted")
		return
	}

	resp := SendResponse{Total: len(results), Results: results}
	for _, res := range results {
		if res.OK() {
			resp.Sent++
		} else {
			resp.Failed++
		}
	}

	s.logger.Info("template sent via API", "template", tmpl.ID, "sent", resp.Sent, "failed", resp.Failed)
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) selectLeads(r *http.Request, req *SendRequest) ([]*lead.Lead, error) {
	if len(req.LeadIDs) == 0 {
		return s.svc.Leads.List(r.Context(), lead.ListFilter{Search: req.Search})
	}

	leads := make([]*lead.Lead, 0, len(req.LeadIDs))
	for _, id := range req.LeadIDs {
		l, err := s.svc.Leads.Get(r.Context(), id)
		if err != nil {
			return nil, err
		}
		if l != nil {
			leads = append(leads, l)
		}
	}
	return leads, nil
}

func (s *Server) newSession() *editor.Session {
	return editor.NewSession(s.svc.Templates, s.svc.Reconciler, s.logger)
}

// loadSession starts a session editing the template named in the URL
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*editor.Session, bool) {
	tmpl, ok := s.lookupTemplate(w, r)
	if !ok {
		return nil, false
	}

	session := s.newSession()
	if err := session.Load(r.Context(), tmpl.ID); err != nil {
		s.sendFailure(w, err)
		return nil, false
	}
	return session, true
}

func (s *Server) save(w http.ResponseWriter, r *http.Request, session *editor.Session, status int) {
	tmpl, err := session.Save(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, status, s.templateToResponse(tmpl))
}

// findTemplate resolves key by ID, then by name. Neither matching yields
// nil without error.
func (s *Server) findTemplate(ctx context.Context, key string) (*template.Template, error) {
	tmpl, err := s.svc.Templates.Get(ctx, key)
	if err != nil || tmpl != nil {
		return tmpl, err
	}
	return s.svc.Templates.GetByName(ctx, key)
}

// lookupTemplate fetches the template named in the URL by ID, then by name
func (s *Server) lookupTemplate(w http.ResponseWriter, r *http.Request) (*template.Template, bool) {
	id := chi.URLParam(r, "id")

	tmpl, err := s.findTemplate(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get template", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get template")
		return nil, false
	}
	if tmpl == nil {
		s.sendError(w, http.StatusNotFound, "Template not found")
		return nil, false
	}
	return tmpl, true
}

// applyTemplateRequest copies the request onto the session draft. Body and
// subject go first so that their tokens are tracked before values are set.
func applyTemplateRequest(session *editor.Session, req *TemplateRequest) error {
	if req.Name != nil {
		session.SetName(*req.Name)
	}
	if req.Subject != nil {
		session.SetSubject(*req.Subject)
	}
	if req.BodyTemplate != nil {
		session.SetBody(*req.BodyTemplate)
	}
	if req.Icon != nil {
		session.SetIcon(*req.Icon)
	}

	for _, c := range req.CustomPlaceholders {
		added, err := session.AddPlaceholder(c.Name)
		if err != nil && !placeholder.IsDuplicate(err) {
			return err
		}
		session.SetPlaceholderValue(added.Name, c.Value)
	}
	return nil
}

func (s *Server) templateToResponse(tmpl *template.Template) *TemplateResponse {
	inv := tmpl.Placeholders
	if inv == nil {
		inv = placeholder.Inventory{}
	}
	return &TemplateResponse{
		ID:                 tmpl.ID,
		Name:               tmpl.Name,
		Subject:            tmpl.Subject,
		BodyTemplate:       tmpl.Body,
		CustomPlaceholders: inv,
		Icon:               tmpl.Icon,
		Placeholders:       s.svc.Reconciler.Registry().ClassifyAll(tmpl.SubjectText(), tmpl.Body),
		CreatedAt:          tmpl.CreatedAt,
		UpdatedAt:          tmpl.UpdatedAt,
	}
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
