package template

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/foxzi/leadmail/internal/placeholder"
)

// ErrNotFound is returned when a template does not exist
var ErrNotFound = errors.New("template not found")

// Template is the in-memory projection of an outreach email template
type Template struct {
	ID           string
	Name         string
	Subject      *string
	Body         string
	Placeholders placeholder.Inventory
	Icon         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SubjectText returns the subject or "" when unset
func (t *Template) SubjectText() string {
	if t.Subject == nil {
		return ""
	}
	return *t.Subject
}

// Values returns the custom placeholder values keyed by name
func (t *Template) Values() map[string]string {
	return t.Placeholders.Values()
}

// Clone returns a deep copy of the template
func (t *Template) Clone() *Template {
	c := *t
	if t.Subject != nil {
		s := *t.Subject
		c.Subject = &s
	}
	c.Placeholders = t.Placeholders.Clone()
	return &c
}

// ManualFields is the current shape of the placeholder container
type ManualFields struct {
	CustomPlaceholders placeholder.Inventory `json:"custom_placeholders"`
	Icon               string                `json:"icon,omitempty"`
}

// Record is the persisted form of a template. ManualFields is kept raw
// because stored records may still carry any historical shape.
type Record struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Subject      *string         `json:"subject"`
	BodyTemplate string          `json:"body_template"`
	ManualFields json.RawMessage `json:"manual_fields"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ToRecord converts the template to its persisted form, always in the
// current shape
func (t *Template) ToRecord() (*Record, error) {
	inv := t.Placeholders
	if inv == nil {
		inv = placeholder.Inventory{}
	}
	fields, err := json.Marshal(ManualFields{CustomPlaceholders: inv, Icon: t.Icon})
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:           t.ID,
		Name:         t.Name,
		Subject:      t.Subject,
		BodyTemplate: t.Body,
		ManualFields: fields,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}, nil
}

// FromRecord migrates a persisted record into a template. It never fails:
// unrecognized placeholder containers become an empty inventory.
func FromRecord(rec *Record) (*Template, Shape) {
	m := Migrate(rec.ManualFields)
	return &Template{
		ID:           rec.ID,
		Name:         rec.Name,
		Subject:      rec.Subject,
		Body:         rec.BodyTemplate,
		Placeholders: m.Fields.CustomPlaceholders,
		Icon:         m.Fields.Icon,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}, m.Shape
}

// Rendered is the final, sendable text of a template
type Rendered struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ListFilter contains filters for listing templates
type ListFilter struct {
	Limit  int
	Offset int
	Search string
}

// Stats contains template statistics
type Stats struct {
	Total int64 `json:"total"`
}
