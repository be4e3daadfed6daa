package api

import (
	"io"
	"mime"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/leadmail/internal/lead"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// maxImportBytes bounds uploaded lead files
const maxImportBytes = 32 << 20

// LeadRequest creates a lead
type LeadRequest struct {
	Email  string            `json:"email"`
	Fields map[string]string `json:"fields"`
}

// LeadListResponse is the response for listing leads
type LeadListResponse struct {
	Leads []*lead.Lead `json:"leads"`
	Total int64        `json:"total"`
}

// handleListLeads handles GET /api/v1/leads
func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	filter := lead.ListFilter{
		Search: r.URL.Query().Get("search"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}

	leads, err := s.svc.Leads.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list leads", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list leads")
		return
	}

	total, err := s.svc.Leads.Count(r.Context())
	if err != nil {
		s.logger.Error("failed to count leads", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to count leads")
		return
	}

	s.sendJSON(w, http.StatusOK, LeadListResponse{Leads: leads, Total: total})
}

// handleCreateLead handles POST /api/v1/leads
func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var req LeadRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		s.sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "is required", Field: "email"})
		return
	}

	l := &lead.Lead{Email: req.Email, Attributes: req.Fields}
	if l.Attributes == nil {
		l.Attributes = map[string]string{}
	}
	if err := s.svc.Leads.Create(r.Context(), l); err != nil {
		s.logger.Error("failed to create lead", "email", req.Email, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create lead")
		return
	}

	s.sendJSON(w, http.StatusCreated, l)
}

// handleImportLeads handles POST /api/v1/leads/import with a CSV or XLSX body
func (s *Server) handleImportLeads(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		result *lead.ImportResult
		err    error
	)
	switch mediaType {
	case xlsxContentType:
		result, err = s.importXLSX(r, body)
	case "text/csv", "":
		result, err = s.svc.Leads.ImportCSV(r.Context(), body)
	default:
		s.sendError(w, http.StatusUnsupportedMediaType, "Content-Type must be text/csv or "+xlsxContentType)
		return
	}
	if err != nil {
		s.logger.Warn("lead import failed", "error", err)
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("leads imported via API", "imported", result.Imported, "skipped", result.Skipped)
	s.sendJSON(w, http.StatusOK, result)
}

// importXLSX spools the upload to disk since spreadsheets are read by path
func (s *Server) importXLSX(r *http.Request, body io.Reader) (*lead.ImportResult, error) {
	f, err := os.CreateTemp("", "leads-*.xlsx")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	return s.svc.Leads.ImportXLSX(r.Context(), f.Name(), r.URL.Query().Get("sheet"))
}

// handleGetLead handles GET /api/v1/leads/{id}
func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	l, err := s.svc.Leads.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get lead", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get lead")
		return
	}
	if l == nil {
		s.sendError(w, http.StatusNotFound, "Lead not found")
		return
	}

	s.sendJSON(w, http.StatusOK, l)
}

// handleDeleteLead handles DELETE /api/v1/leads/{id}
func (s *Server) handleDeleteLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Leads.Delete(r.Context(), id); err != nil {
		s.logger.Error("failed to delete lead", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete lead")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
