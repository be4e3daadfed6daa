package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewServerAllowedIPs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		allowedIPs []string
		wantCount  int
	}{
		{"empty list", nil, 0},
		{"single IP", []string{"192.168.1.1"}, 1},
		{"CIDR notation", []string{"192.168.0.0/16", "10.0.0.0/8"}, 2},
		{"with invalid", []string{"192.168.1.1", "invalid", " ", "10.0.0.1"}, 2},
		{"IPv6", []string{"::1", "fe80::/10"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(New(), "", "", tt.allowedIPs, logger)
			if s.filter.Count() != tt.wantCount {
				t.Errorf("allowed networks = %d, want %d", s.filter.Count(), tt.wantCount)
			}
		})
	}
}

func TestServerHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New()
	m.RendersTotal.Inc()

	s := NewServer(m, ":0", "/metrics", []string{"10.0.0.0/8"}, logger)
	h := s.Handler()

	tests := []struct {
		name       string
		path       string
		remoteAddr string
		xff        string
		wantStatus int
	}{
		{"allowed", "/metrics", "10.1.2.3:5555", "", http.StatusOK},
		{"denied", "/metrics", "192.168.1.1:5555", "", http.StatusForbidden},
		{"forwarded allowed", "/metrics", "192.168.1.1:5555", "10.9.9.9, 1.1.1.1", http.StatusOK},
		{"health unfiltered", "/health", "192.168.1.1:5555", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.path == "/metrics" && rec.Code == http.StatusOK &&
				!strings.Contains(rec.Body.String(), "leadmail_renders_total") {
				t.Error("metrics output missing leadmail_renders_total")
			}
		})
	}
}
