package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// loopback networks are always allowed so local tooling keeps working when
// an allowlist is configured.
var loopback = []string{"127.0.0.1/32", "::1/128"}

// IPAllowlist matches client addresses against a set of networks.
type IPAllowlist struct {
	nets []*net.IPNet
}

// NewIPAllowlist parses entries as CIDR blocks or single addresses. A bare
// address is widened to a /32 or /128.
func NewIPAllowlist(entries []string) (*IPAllowlist, error) {
	l := &IPAllowlist{}
	for _, e := range append(loopback, entries...) {
		n, err := ParseNetwork(e)
		if err != nil {
			return nil, err
		}
		l.nets = append(l.nets, n)
	}
	return l, nil
}

// ParseNetwork parses one allowlist entry.
func ParseNetwork(entry string) (*net.IPNet, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
		}
		return n, nil
	}
	ip := net.ParseIP(entry)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address %q", entry)
	}
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}, nil
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}

// Allows reports whether ip falls inside any allowed network.
func (l *IPAllowlist) Allows(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range l.nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// AllowIPs rejects requests from addresses outside l with 403.
func AllowIPs(l *IPAllowlist, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if !l.Allows(ip) {
				logger.Warn("admin request from disallowed address", "ip", ip, "path", r.URL.Path)
				writeAuthError(w, http.StatusForbidden, "Access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of RemoteAddr. When proxy headers are
// trusted, chimw.RealIP has already rewritten RemoteAddr upstream.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
