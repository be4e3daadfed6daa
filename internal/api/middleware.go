package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/leadmail/internal/metrics"
)

// requestLogger writes one line per request with the matched route and
// the template, lead or placeholder it addressed
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		attrs := []any{
			"method", r.Method,
			"route", routePattern(r),
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		}
		attrs = append(attrs, resourceAttrs(r)...)

		level := slog.LevelInfo
		switch {
		case ww.Status() >= http.StatusInternalServerError:
			level = slog.LevelError
		case ww.Status() >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "api request", attrs...)
	})
}

// routePattern is only complete once the router has matched, so it is read
// after the handler returns
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func resourceAttrs(r *http.Request) []any {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil
	}

	var attrs []any
	if id := rctx.URLParam("id"); id != "" {
		if strings.HasPrefix(rctx.RoutePattern(), "/api/v1/leads") {
			attrs = append(attrs, "lead", id)
		} else {
			attrs = append(attrs, "template", id)
		}
	}
	if name := rctx.URLParam("name"); name != "" {
		attrs = append(attrs, "placeholder", name)
	}
	return attrs
}

// apiKey reads the key from X-API-Key or a Bearer Authorization header
func apiKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// authMiddleware rejects requests without the configured API key. It runs
// before the metrics middleware, so rejections are counted here.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	want := []byte(s.config.APIKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(want) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := apiKey(r)
		if key == "" || subtle.ConstantTimeCompare([]byte(key), want) != 1 {
			s.logger.Warn("rejected API key",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
				"key_present", key != "",
			)
			metrics.IncAPIErrors("auth_error")
			s.sendError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}
