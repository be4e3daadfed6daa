package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMetrics = []byte("metrics")
	keyCounters   = []byte("counters")
)

// Counter reports the number of stored items for a gauge
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// CountFunc adapts a function to Counter
type CountFunc func(ctx context.Context) (int64, error)

// Count calls f
func (f CountFunc) Count(ctx context.Context) (int64, error) {
	return f(ctx)
}

// Sample is one persisted counter series
type Sample struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Snapshot maps counter family names to their series
type Snapshot map[string][]Sample

// Collector persists counter values across restarts and updates gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	templates     Counter
	leads         Counter
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time
	logger        *slog.Logger

	restore map[string]func(prometheus.Labels, float64)

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// CollectorOptions configures a Collector
type CollectorOptions struct {
	Templates     Counter
	Leads         Counter
	StoragePath   string
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// NewCollector creates a new metrics collector and restores persisted counters
func NewCollector(db *bolt.DB, m *Metrics, opts CollectorOptions) (*Collector, error) {
	if opts.FlushInterval == 0 {
		opts.FlushInterval = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		templates:     opts.Templates,
		leads:         opts.Leads,
		storagePath:   opts.StoragePath,
		flushInterval: opts.FlushInterval,
		startTime:     time.Now(),
		logger:        opts.Logger,
		stopCh:        make(chan struct{}),
	}
	c.restore = map[string]func(prometheus.Labels, float64){
		"leadmail_migrations_total":             vecRestorer(m.MigrationsTotal),
		"leadmail_renders_total":                counterRestorer(m.RendersTotal),
		"leadmail_placeholder_rejections_total": vecRestorer(m.PlaceholderRejectionsTotal),
		"leadmail_messages_sent_total":          counterRestorer(m.MessagesSentTotal),
		"leadmail_messages_failed_total":        vecRestorer(m.MessagesFailedTotal),
		"leadmail_api_requests_total":           vecRestorer(m.APIRequestsTotal),
		"leadmail_api_errors_total":             vecRestorer(m.APIErrorsTotal),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

func vecRestorer(v *prometheus.CounterVec) func(prometheus.Labels, float64) {
	return func(labels prometheus.Labels, value float64) {
		if c, err := v.GetMetricWith(labels); err == nil {
			c.Add(value)
		}
	}
}

func counterRestorer(c prometheus.Counter) func(prometheus.Labels, float64) {
	return func(_ prometheus.Labels, value float64) {
		c.Add(value)
	}
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateGauges(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	close(c.stopCh)
	c.wg.Wait()
	return c.persistCounters()
}

// loadCounters adds persisted counter values to the live counters
func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data := bucket.Get(keyCounters)
		if data == nil {
			return nil
		}

		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			c.logger.Warn("ignoring unreadable persisted counters", "error", err)
			return nil
		}

		for name, samples := range snap {
			restore, ok := c.restore[name]
			if !ok {
				continue
			}
			for _, s := range samples {
				restore(prometheus.Labels(s.Labels), s.Value)
			}
		}
		return nil
	})
}

// Snapshot returns the current values of all persisted counters
func (c *Collector) Snapshot() (Snapshot, error) {
	families, err := c.metrics.Registry().Gather()
	if err != nil {
		return nil, err
	}

	snap := make(Snapshot)
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		if _, ok := c.restore[mf.GetName()]; !ok {
			continue
		}
		for _, metric := range mf.GetMetric() {
			s := Sample{Value: metric.GetCounter().GetValue()}
			if pairs := metric.GetLabel(); len(pairs) > 0 {
				s.Labels = make(map[string]string, len(pairs))
				for _, p := range pairs {
					s.Labels[p.GetName()] = p.GetValue()
				}
			}
			snap[mf.GetName()] = append(snap[mf.GetName()], s)
		}
	}
	return snap, nil
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.Snapshot()
	if err != nil {
		return err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		return bucket.Put(keyCounters, data)
	})
}

// persistLoop periodically persists counter values
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.persistCounters(); err != nil {
				c.logger.Warn("failed to persist counters", "error", err)
			}
		}
	}
}

// updateGauges periodically refreshes system and store gauges
func (c *Collector) updateGauges(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	c.collectGauges(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectGauges(ctx)
		}
	}
}

func (c *Collector) collectGauges(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.templates != nil {
		if n, err := c.templates.Count(ctx); err == nil {
			c.metrics.Templates.Set(float64(n))
		}
	}
	if c.leads != nil {
		if n, err := c.leads.Count(ctx); err == nil {
			c.metrics.Leads.Set(float64(n))
		}
	}
}
