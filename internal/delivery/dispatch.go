package delivery

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/foxzi/leadmail/internal/lead"
	"github.com/foxzi/leadmail/internal/metrics"
	"github.com/foxzi/leadmail/internal/template"
)

// Result is the outcome of one lead's delivery
type Result struct {
	LeadID string `json:"lead_id"`
	Email  string `json:"email"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the message was delivered
func (r Result) OK() bool {
	return r.Error == ""
}

// Dispatcher renders a template per lead and hands the messages to a Sender
type Dispatcher struct {
	sender      Sender
	renderer    *template.Renderer
	concurrency int
	logger      *slog.Logger
}

// NewDispatcher creates a dispatcher sending at most concurrency messages
// at a time
func NewDispatcher(sender Sender, renderer *template.Renderer, concurrency int, logger *slog.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:      sender,
		renderer:    renderer,
		concurrency: concurrency,
		logger:      logger,
	}
}

// SendTemplate sends tmpl to every lead. A failing lead does not stop the
// others; results are in lead order. The returned error is only set when
// ctx ended before all leads were attempted.
func (d *Dispatcher) SendTemplate(ctx context.Context, tmpl *template.Template, leads []*lead.Lead, from string) ([]Result, error) {
	results := make([]Result, len(leads))
	custom := tmpl.Values()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, l := range leads {
		results[i] = Result{LeadID: l.ID, Email: l.Email}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Error = err.Error()
				return nil
			}

			rendered := d.renderer.Render(tmpl, l.Fields(), custom)
			err := d.sender.Send(gctx, Message{
				From:    from,
				To:      l.Email,
				Subject: rendered.Subject,
				Body:    rendered.Body,
			})
			if err != nil {
				results[i].Error = err.Error()
				metrics.IncMessagesFailed(errorType(err))
				d.logger.Warn("delivery failed", "template", tmpl.ID, "lead", l.ID, "error", err)
				return nil
			}

			metrics.IncMessagesSent()
			return nil
		})
	}

	g.Wait()

	sent := 0
	for _, r := range results {
		if r.OK() {
			sent++
		}
	}
	d.logger.Info("template dispatched", "template", tmpl.ID, "leads", len(leads), "sent", sent)

	return results, ctx.Err()
}

func errorType(err error) string {
	var de *DeliveryError
	if !errors.As(err, &de) {
		return "unknown"
	}
	switch {
	case de.Stage == "build":
		return "invalid_message"
	case de.Temporary:
		return "temporary"
	default:
		return "permanent"
	}
}
