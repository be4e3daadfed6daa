// Package ipfilter restricts HTTP listeners to configured client networks.
package ipfilter

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// ErrInvalidEntry is returned by ParseNetwork for entries that are neither
// an IP address nor a CIDR.
var ErrInvalidEntry = errors.New("not an IP address or CIDR")

// Filter matches client addresses against a list of networks.
// A filter without networks allows every client.
type Filter struct {
	name     string
	networks []*net.IPNet
	logger   *slog.Logger
}

// ParseNetwork parses a single IP (as a /32 or /128) or a CIDR.
// Blank entries yield nil without error.
func ParseNetwork(entry string) (*net.IPNet, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil, nil
	}
	if strings.Contains(entry, "/") {
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, ErrInvalidEntry
		}
		return ipNet, nil
	}

	ip := net.ParseIP(entry)
	if ip == nil {
		return nil, ErrInvalidEntry
	}
	bits := 128
	if ip.To4() != nil {
		bits = 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// New builds a filter for the named listener. Invalid entries are logged
// and skipped; config validation rejects them before this point.
func New(name string, allowed []string, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Filter{name: name, logger: logger}

	for _, entry := range allowed {
		ipNet, err := ParseNetwork(entry)
		if err != nil {
			logger.Warn("ignoring invalid allowed_ips entry", "listener", name, "entry", entry, "error", err)
			continue
		}
		if ipNet != nil {
			f.networks = append(f.networks, ipNet)
		}
	}

	if len(f.networks) > 0 {
		logger.Info("IP filtering enabled", "listener", name, "allowed_networks", len(f.networks))
	}
	return f
}

// Enabled reports whether any network is configured
func (f *Filter) Enabled() bool {
	return len(f.networks) > 0
}

// Count returns the number of allowed networks
func (f *Filter) Count() int {
	return len(f.networks)
}

// Allows reports whether ip belongs to an allowed network
func (f *Filter) Allows(ip net.IP) bool {
	if !f.Enabled() {
		return true
	}
	if ip == nil {
		return false
	}
	for _, ipNet := range f.networks {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// AllowsAddr checks a host:port or bare host string
func (f *Filter) AllowsAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return f.Allows(net.ParseIP(host))
}

// ClientIP returns the originating client address, preferring
// X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func ClientIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

// Middleware rejects requests from clients outside the allowed networks
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if ip := ClientIP(r); !f.Allows(ip) {
			f.logger.Warn("access denied by IP filter",
				"listener", f.name,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
