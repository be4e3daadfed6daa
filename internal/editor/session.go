// Package editor holds the in-memory editing state of templates and the
// catalog of stored templates.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/foxzi/leadmail/internal/metrics"
	"github.com/foxzi/leadmail/internal/placeholder"
	"github.com/foxzi/leadmail/internal/template"
)

// ErrStale is returned by Load when the session moved on while the fetch
// was in flight. The fetched data was discarded.
var ErrStale = errors.New("stale template load discarded")

// Store is the persistence the session needs
type Store interface {
	Create(ctx context.Context, tmpl *template.Template) error
	Update(ctx context.Context, tmpl *template.Template) error
	Get(ctx context.Context, id string) (*template.Template, error)
	Delete(ctx context.Context, id string) error
}

// Draft is the editable projection of a template
type Draft struct {
	ID           string
	Name         string
	Subject      string
	Body         string
	Placeholders placeholder.Inventory
	Icon         string
}

func (d Draft) clone() Draft {
	d.Placeholders = d.Placeholders.Clone()
	return d
}

// Session edits one template at a time. It is safe for concurrent use.
type Session struct {
	store      Store
	reconciler *placeholder.Reconciler
	logger     *slog.Logger

	mu         sync.Mutex
	draft      Draft
	generation uint64
}

// NewSession creates an empty session
func NewSession(store Store, reconciler *placeholder.Reconciler, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		store:      store,
		reconciler: reconciler,
		logger:     logger,
		draft:      Draft{Placeholders: placeholder.Inventory{}},
	}
}

// Load replaces the draft with the stored template id. If Reset or another
// Load happened before the fetch returned, the result is dropped and
// ErrStale returned.
func (s *Session) Load(ctx context.Context, id string) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	tmpl, err := s.store.Get(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.logger.Debug("discarding stale template load", "id", id)
		return ErrStale
	}
	if err != nil {
		return &template.PersistenceError{Op: "load", Err: err}
	}
	if tmpl == nil {
		return template.ErrNotFound
	}

	s.draft = Draft{
		ID:      tmpl.ID,
		Name:    tmpl.Name,
		Subject: tmpl.SubjectText(),
		Body:    tmpl.Body,
		Icon:    tmpl.Icon,
	}
	s.draft.Placeholders = s.reconciler.Sync(tmpl.Placeholders, s.draft.Subject, s.draft.Body)
	return nil
}

// Reset discards the draft and invalidates in-flight loads
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Session) reset() {
	s.generation++
	s.draft = Draft{Placeholders: placeholder.Inventory{}}
}

// Draft returns a copy of the current draft
func (s *Session) Draft() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.clone()
}

// Editing returns the ID of the loaded template, or "" for a new one
func (s *Session) Editing() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.ID
}

func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Name = name
}

func (s *Session) SetIcon(icon string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Icon = template.SanitizeIcon(icon)
}

// SetSubject replaces the subject and tracks any new custom tokens in it
func (s *Session) SetSubject(subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Subject = subject
	s.sync()
}

// SetBody replaces the body and tracks any new custom tokens in it
func (s *Session) SetBody(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Body = body
	s.sync()
}

// InsertToken appends the token for name to the body
func (s *Session) InsertToken(name string) error {
	if strings.TrimSpace(name) == "" {
		return placeholder.ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Body += placeholder.Token(name)
	s.sync()
	return nil
}

func (s *Session) sync() {
	s.draft.Placeholders = s.reconciler.Sync(s.draft.Placeholders, s.draft.Subject, s.draft.Body)
}

// AddPlaceholder adds a custom placeholder from user input. A
// *placeholder.DuplicateNameError carries the existing entry.
func (s *Session) AddPlaceholder(raw string) (placeholder.Custom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, added, err := s.reconciler.Add(s.draft.Placeholders, raw)
	if err != nil {
		metrics.IncPlaceholderRejected(rejectionReason(err))
		return added, err
	}
	s.draft.Placeholders = inv
	return added, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, placeholder.ErrEmptyName):
		return "empty"
	case placeholder.IsReserved(err):
		return "reserved"
	case placeholder.IsDuplicate(err):
		return "duplicate"
	default:
		return "other"
	}
}

// RemovePlaceholder drops a custom placeholder. Tokens in the text are
// left alone, so the name comes back on the next sync if it is still used.
func (s *Session) RemovePlaceholder(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Placeholders = s.draft.Placeholders.Remove(name)
}

func (s *Session) SetPlaceholderValue(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Placeholders = s.draft.Placeholders.UpdateValue(name, value)
}

// Save validates and persists the draft. On success the session is reset
// and the stored template returned; on failure the draft is kept as is.
func (s *Session) Save(ctx context.Context) (*template.Template, error) {
	s.mu.Lock()
	tmpl := s.build()
	gen := s.generation
	s.mu.Unlock()

	if err := s.validate(tmpl); err != nil {
		return nil, err
	}

	var err error
	op := "update"
	if tmpl.ID == "" {
		op = "create"
		err = s.store.Create(ctx, tmpl)
	} else {
		err = s.store.Update(ctx, tmpl)
	}
	if err != nil {
		s.logger.Warn("failed to save template", "id", tmpl.ID, "error", err)
		return nil, &template.PersistenceError{Op: op, Err: err}
	}

	s.mu.Lock()
	if gen == s.generation {
		s.reset()
	}
	s.mu.Unlock()

	s.logger.Info("template saved", "id", tmpl.ID, "name", tmpl.Name, "op", op)
	return tmpl, nil
}

func (s *Session) build() *template.Template {
	d := s.draft
	tmpl := &template.Template{
		ID:           d.ID,
		Name:         strings.TrimSpace(d.Name),
		Body:         d.Body,
		Placeholders: s.reconciler.Sync(d.Placeholders, d.Subject, d.Body),
		Icon:         d.Icon,
	}
	if subject := strings.TrimSpace(d.Subject); subject != "" {
		tmpl.Subject = &subject
	}
	return tmpl
}

func (s *Session) validate(tmpl *template.Template) error {
	if err := template.Validate(tmpl); err != nil {
		return err
	}
	registry := s.reconciler.Registry()
	for _, c := range tmpl.Placeholders {
		if registry.IsAuto(c.Name) {
			return &template.ValidationError{
				Field:   "custom_placeholders",
				Message: fmt.Sprintf("placeholder %q is reserved for lead data", c.Name),
			}
		}
	}
	return nil
}

// Delete removes a stored template and resets the session if it was
// being edited
func (s *Session) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return &template.PersistenceError{Op: "delete", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft.ID == id {
		s.reset()
	}
	return nil
}
