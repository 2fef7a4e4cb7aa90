package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// DefaultAllowOrigin is the CORS origin used when none is configured.
const DefaultAllowOrigin = "http://localhost:8080"

// CORS holds the headers overlaid on every gateway response.
type CORS struct {
	AllowOrigin  string
	AllowMethods string
	AllowHeaders string
}

// DefaultCORS returns the overlay for origin, or DefaultAllowOrigin when origin is empty.
func DefaultCORS(origin string) CORS {
	if origin == "" {
		origin = DefaultAllowOrigin
	}

	return CORS{
		AllowOrigin:  origin,
		AllowMethods: "POST, GET, OPTIONS, PATCH, DELETE",
		AllowHeaders: "Content-Type",
	}
}

func (c CORS) apply(h http.Header) {
	h.Set("Access-Control-Allow-Origin", c.AllowOrigin)
	h.Set("Access-Control-Allow-Methods", c.AllowMethods)
	h.Set("Access-Control-Allow-Headers", c.AllowHeaders)
}

// Server answers preflight requests, dispatches through the router and replies 404 for
// anything unrouted.
type Server struct {
	router *Router
	cors   CORS
	logger *slog.Logger
}

// NewServer returns a Server over router. A nil logger uses slog.Default.
func NewServer(router *Router, cors CORS, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{router: router, cors: cors, logger: logger}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.DebugContext(r.Context(), "gateway request", "method", r.Method, "path", r.URL.Path)

	if r.Method == http.MethodOptions {
		s.cors.apply(w.Header())
		w.WriteHeader(http.StatusOK)

		return
	}

	h, ok := s.router.Match(r)
	if !ok {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Not found"))

		return
	}

	h.ServeHTTP(w, r)
}

// NewProxy forwards requests to target with path, query and body unchanged, adds the
// X-Forwarded headers and overlays the CORS headers on the backend's response. An
// unreachable backend yields 500.
func NewProxy(target *url.URL, cors CORS, logger *slog.Logger) (http.Handler, error) {
	if target == nil || target.Host == "" {
		return nil, errors.New("gateway proxy: backend url must have a host")
	}

	if logger == nil {
		logger = slog.Default()
	}

	rp := &httputil.ReverseProxy{
		// Host names the backend; the client's host travels in X-Forwarded-Host.
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ModifyResponse: func(resp *http.Response) error {
			cors.apply(resp.Header)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.ErrorContext(r.Context(), "backend request failed", "backend", target.Host, "path", r.URL.Path, "error", err)
			cors.apply(w.Header())
			w.WriteHeader(http.StatusInternalServerError)
		},
	}

	return rp, nil
}
