// Package lead stores the prospect records that auto placeholders are
// filled from.
package lead

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Lead is one prospect. Attributes hold the lead data keyed by placeholder
// name, for example person_vorname or firma_name.
type Lead struct {
	ID         string            `json:"id"`
	Email      string            `json:"email"`
	Attributes map[string]string `json:"fields"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Fields returns the record used for auto substitution. The recipient
// address is available as email unless an attribute overrides it.
func (l *Lead) Fields() map[string]string {
	out := make(map[string]string, len(l.Attributes)+1)
	out["email"] = l.Email
	for k, v := range l.Attributes {
		out[k] = v
	}
	return out
}

// ListFilter contains filters for listing leads
type ListFilter struct {
	Search string
	Limit  int
	Offset int
}

// Store persists leads in SQLite
type Store struct {
	db *sql.DB
}

// Open opens the SQLite file at path and applies migrations
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database and applies migrations
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	for _, m := range []string{migrationLeads, migrationLeadFields} {
		if _, err := db.Exec(m); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	return &Store{db: db}, nil
}

const migrationLeads = `
CREATE TABLE IF NOT EXISTS leads (
    id TEXT PRIMARY KEY,
    email TEXT UNIQUE NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationLeadFields = `
CREATE TABLE IF NOT EXISTS lead_fields (
    lead_id TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
    key TEXT NOT NULL,
    value TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (lead_id, key)
);
`

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Create stores a lead. A lead whose email already exists replaces the
// stored attributes and keeps the stored ID.
func (s *Store) Create(ctx context.Context, lead *Lead) error {
	lead.Email = strings.TrimSpace(lead.Email)
	if lead.Email == "" {
		return fmt.Errorf("lead email is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var existingID string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, "SELECT id, created_at FROM leads WHERE email = ?", lead.Email).Scan(&existingID, &createdAt)
	switch {
	case err == sql.ErrNoRows:
		lead.ID = uuid.New().String()
		lead.CreatedAt = now
		lead.UpdatedAt = now
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO leads (id, email, created_at, updated_at) VALUES (?, ?, ?, ?)",
			lead.ID, lead.Email, lead.CreatedAt, lead.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to create lead: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to look up lead: %w", err)
	default:
		lead.ID = existingID
		lead.CreatedAt = createdAt
		lead.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, "UPDATE leads SET updated_at = ? WHERE id = ?", now, existingID); err != nil {
			return fmt.Errorf("failed to update lead: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM lead_fields WHERE lead_id = ?", existingID); err != nil {
			return fmt.Errorf("failed to clear lead fields: %w", err)
		}
	}

	for k, v := range lead.Attributes {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO lead_fields (lead_id, key, value) VALUES (?, ?, ?)",
			lead.ID, k, v,
		); err != nil {
			return fmt.Errorf("failed to store lead field %s: %w", k, err)
		}
	}

	return tx.Commit()
}

// Get returns a lead by ID, or nil when it does not exist
func (s *Store) Get(ctx context.Context, id string) (*Lead, error) {
	lead := &Lead{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, created_at, updated_at FROM leads WHERE id = ?", id,
	).Scan(&lead.ID, &lead.Email, &lead.CreatedAt, &lead.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fields, err := s.fields(ctx, []string{lead.ID})
	if err != nil {
		return nil, err
	}
	lead.Attributes = fields[lead.ID]
	if lead.Attributes == nil {
		lead.Attributes = map[string]string{}
	}
	return lead, nil
}

// List returns leads ordered by email
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Lead, error) {
	query := "SELECT id, email, created_at, updated_at FROM leads WHERE 1=1"
	args := []any{}

	if filter.Search != "" {
		query += ` AND (email LIKE ? OR id IN (SELECT lead_id FROM lead_fields WHERE value LIKE ?))`
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}

	query += " ORDER BY email ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	} else if filter.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := []*Lead{}
	ids := []string{}
	for rows.Next() {
		lead := &Lead{}
		if err := rows.Scan(&lead.ID, &lead.Email, &lead.CreatedAt, &lead.UpdatedAt); err != nil {
			return nil, err
		}
		leads = append(leads, lead)
		ids = append(ids, lead.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fields, err := s.fields(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, lead := range leads {
		lead.Attributes = fields[lead.ID]
		if lead.Attributes == nil {
			lead.Attributes = map[string]string{}
		}
	}

	return leads, nil
}

func (s *Store) fields(ctx context.Context, ids []string) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "SELECT lead_id, key, value FROM lead_fields WHERE lead_id IN (?" +
		strings.Repeat(",?", len(ids)-1) + ")"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, key, value string
		if err := rows.Scan(&id, &key, &value); err != nil {
			return nil, err
		}
		if out[id] == nil {
			out[id] = make(map[string]string)
		}
		out[id][key] = value
	}
	return out, rows.Err()
}

// Delete removes a lead and its fields
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM leads WHERE id = ?", id)
	return err
}

// Count returns the number of stored leads
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM leads").Scan(&n)
	return n, err
}
