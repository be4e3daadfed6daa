package template

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketTemplates = []byte("templates")

// EventType describes a change to the store
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is emitted after a write is committed
type Event struct {
	Type EventType
	ID   string
}

// subscriberBuffer bounds pending events per subscriber. Events are change
// hints, so dropping them when a subscriber lags is fine.
const subscriberBuffer = 16

// Storage provides template storage operations
type Storage struct {
	db     *bolt.DB
	ownsDB bool
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// Open opens (or creates) a bbolt file at path and returns a storage owning it
func Open(path string, logger *slog.Logger) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s, err := NewStorage(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewStorage creates a new template storage on an open database
func NewStorage(db *bolt.DB, logger *slog.Logger) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTemplates)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create template bucket: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{
		db:     db,
		logger: logger,
		subs:   make(map[int]chan Event),
	}, nil
}

// DB returns the underlying database
func (s *Storage) DB() *bolt.DB {
	return s.db
}

// Close closes all subscriptions and, when the storage opened the
// database itself, the database
func (s *Storage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// Create stores a new template and assigns its ID and timestamps
func (s *Storage) Create(ctx context.Context, tmpl *Template) error {
	tmpl.ID = uuid.New().String()
	tmpl.CreatedAt = time.Now().UTC()
	tmpl.UpdatedAt = tmpl.CreatedAt

	rec, err := tmpl.ToRecord()
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}

	if err := s.put(rec); err != nil {
		return err
	}

	s.notify(Event{Type: EventCreated, ID: tmpl.ID})
	return nil
}

// Update overwrites an existing template. Concurrent writers are not
// merged; the last write wins.
func (s *Storage) Update(ctx context.Context, tmpl *Template) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTemplates)

		existingData := bucket.Get([]byte(tmpl.ID))
		if existingData == nil {
			return ErrNotFound
		}

		var existing Record
		if err := json.Unmarshal(existingData, &existing); err != nil {
			return fmt.Errorf("failed to decode stored template: %w", err)
		}

		tmpl.CreatedAt = existing.CreatedAt
		tmpl.UpdatedAt = time.Now().UTC()

		rec, err := tmpl.ToRecord()
		if err != nil {
			return fmt.Errorf("failed to encode template: %w", err)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal template: %w", err)
		}

		return bucket.Put([]byte(tmpl.ID), data)
	})
	if err != nil {
		return err
	}

	s.notify(Event{Type: EventUpdated, ID: tmpl.ID})
	return nil
}

// PutRaw stores a record verbatim, whatever shape its manual fields have.
// It is used for imports; reads will migrate the record.
func (s *Storage) PutRaw(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	if err := s.put(rec); err != nil {
		return err
	}

	s.notify(Event{Type: EventUpdated, ID: rec.ID})
	return nil
}

func (s *Storage) put(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTemplates).Put([]byte(rec.ID), data)
	})
}

// Get retrieves a template by ID. It returns nil, nil when the template
// does not exist.
func (s *Storage) Get(ctx context.Context, id string) (*Template, error) {
	rec, err := s.GetRecord(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return s.migrate(rec), nil
}

// GetRecord returns the stored record without migrating it
func (s *Storage) GetRecord(ctx context.Context, id string) (*Record, error) {
	var rec *Record

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTemplates).Get([]byte(id))
		if data == nil {
			return nil
		}

		rec = &Record{}
		return json.Unmarshal(data, rec)
	})

	return rec, err
}

// GetByName returns the first template, in list order, named name
func (s *Storage) GetByName(ctx context.Context, name string) (*Template, error) {
	all, err := s.List(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}
	for _, t := range all {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, nil
}

// List returns templates ordered by name
func (s *Storage) List(ctx context.Context, filter ListFilter) ([]*Template, error) {
	var records []*Record

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTemplates).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				s.logger.Warn("skipping undecodable template record", "id", string(k), "error", err)
				return nil
			}

			if filter.Search != "" {
				search := strings.ToLower(filter.Search)
				if !strings.Contains(strings.ToLower(rec.Name), search) {
					return nil
				}
			}

			records = append(records, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return records[i].ID < records[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(records) {
			records = nil
		} else {
			records = records[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}

	templates := make([]*Template, 0, len(records))
	for _, rec := range records {
		templates = append(templates, s.migrate(rec))
	}
	return templates, nil
}

// Delete removes a template by ID. Deleting a missing template is not an error.
func (s *Storage) Delete(ctx context.Context, id string) error {
	var existed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTemplates)
		if bucket.Get([]byte(id)) == nil {
			return nil
		}
		existed = true
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return err
	}

	if existed {
		s.notify(Event{Type: EventDeleted, ID: id})
	}
	return nil
}

// Stats returns template statistics
func (s *Storage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		stats.Total = int64(tx.Bucket(bucketTemplates).Stats().KeyN)
		return nil
	})

	return stats, err
}

// Subscribe returns a channel receiving change events and a function that
// cancels the subscription
func (s *Storage) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Event, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				close(c)
				delete(s.subs, id)
			}
		})
	}
	return ch, cancel
}

func (s *Storage) notify(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("dropping template event for slow subscriber", "type", ev.Type, "id", ev.ID)
		}
	}
}

func (s *Storage) migrate(rec *Record) *Template {
	tmpl, shape := FromRecord(rec)
	if shape != ShapeCurrent {
		s.logger.Debug("migrated template placeholders", "id", rec.ID, "shape", shape)
	}
	return tmpl
}
