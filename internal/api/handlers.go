package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/foxzi/leadmail/internal/editor"
	"github.com/foxzi/leadmail/internal/placeholder"
	"github.com/foxzi/leadmail/internal/template"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Templates int64  `json:"templates"`
	Leads     int64  `json:"leads"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// ExtractRequest is the request for POST /placeholders/extract
type ExtractRequest struct {
	Subject      string `json:"subject"`
	BodyTemplate string `json:"body_template"`
}

// ExtractResponse lists the tokens of a text with their kind
type ExtractResponse struct {
	Placeholders []placeholder.Classified `json:"placeholders"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.startTime).String(),
	}
	if stats, err := s.svc.Templates.Stats(r.Context()); err == nil {
		resp.Templates = stats.Total
	}
	if n, err := s.svc.Leads.Count(r.Context()); err == nil {
		resp.Leads = n
	}

	s.sendJSON(w, http.StatusOK, resp)
}

// handleAutoPlaceholders handles GET /api/v1/placeholders/auto
func (s *Server) handleAutoPlaceholders(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{
		"placeholders": s.svc.Reconciler.Registry().Entries(),
	})
}

// handleExtract handles POST /api/v1/placeholders/extract
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if !s.decode(w, r, &req) {
		return
	}

	s.sendJSON(w, http.StatusOK, ExtractResponse{
		Placeholders: s.svc.Reconciler.Registry().ClassifyAll(req.Subject, req.BodyTemplate),
	})
}

// decode reads a JSON body, answering 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// sendFailure maps the domain error taxonomy to HTTP statuses
func (s *Server) sendFailure(w http.ResponseWriter, err error) {
	var (
		validation  *template.ValidationError
		reserved    *placeholder.ReservedNameError
		persistence *template.PersistenceError
	)

	switch {
	case errors.As(err, &validation):
		s.sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: validation.Message, Field: validation.Field})
	case errors.Is(err, placeholder.ErrEmptyName):
		s.sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Field: "name"})
	case errors.As(err, &reserved):
		s.sendJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Field: "name"})
	case errors.Is(err, template.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "Template not found")
	case errors.Is(err, editor.ErrStale):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.As(err, &persistence):
		s.logger.Error("template persistence failed", "op", persistence.Op, "error", persistence.Err)
		s.sendError(w, http.StatusInternalServerError, "Failed to "+persistence.Op+" template")
	default:
		s.logger.Error("request failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Internal error")
	}
}
