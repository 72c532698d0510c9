package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
)

// ProxyHandler meters calls and forwards admitted ones to the upstream API.
// Each call costs one unit; the recorded endpoint is the upstream path.
// Refused calls never reach the upstream.
type ProxyHandler struct {
	gateway      *GatewayHandler
	proxy        *httputil.ReverseProxy
	prefix       string
	apiKeyHeader string
	logger       *slog.Logger
}

// NewProxyHandler creates a ProxyHandler for requests mounted under prefix.
// When stripPrefix is set the prefix is removed before forwarding.
func NewProxyHandler(gateway *GatewayHandler, upstream, prefix string, stripPrefix bool, apiKeyHeader string, logger *slog.Logger) (*ProxyHandler, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("upstream url %q must be http or https", upstream)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}

	h := &ProxyHandler{
		gateway:      gateway,
		apiKeyHeader: apiKeyHeader,
		logger:       logger,
	}
	if stripPrefix {
		h.prefix = strings.TrimSuffix(prefix, "/")
	}
	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = h.upstreamPath(pr.In.URL.Path)
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.SetXForwarded()
			// Credentials for the gate are not credentials for the upstream.
			pr.Out.Header.Del(h.apiKeyHeader)
			pr.Out.Header.Del("Authorization")
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.Error("upstream request failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusBadGateway, "Upstream unavailable")
		},
	}
	return h, nil
}

func (h *ProxyHandler) upstreamPath(p string) string {
	if h.prefix == "" {
		return p
	}
	p = strings.TrimPrefix(p, h.prefix)
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	return p
}

// ServeHTTP implements http.Handler.
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.gateway.admit(w, r, h.upstreamPath(r.URL.Path), 1); !ok {
		return
	}
	h.proxy.ServeHTTP(w, r)
}
