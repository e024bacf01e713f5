package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Endpoint limits.
const (
	requestsPerSecond = 10
	burst             = 20
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Logger defines the logging interface used by the server.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Server serves /metrics, /healthz and any routes added with Mount.
type Server struct {
	srv     *http.Server
	router  chi.Router
	limiter *rate.Limiter
	logger  Logger
}

// NewServer builds the HTTP server. health is called on every /healthz
// request; a non-nil error answers 503.
func NewServer(addr string, c *Collector, health func() error, logger Logger) *Server {
	r := chi.NewRouter()
	r.Get("/metrics", rateLimit(rate.NewLimiter(requestsPerSecond, burst), logger,
		promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{}).ServeHTTP))
	r.Get("/healthz", rateLimit(rate.NewLimiter(requestsPerSecond, burst), logger, healthHandler(health, logger)))

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		router:  r,
		limiter: rate.NewLimiter(requestsPerSecond, burst),
		logger:  logger,
	}
}

// Mount serves h under pattern, sharing one rate limiter across all
// mounted routes. Call before Start.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.router.Mount(pattern, rateLimit(s.limiter, s.logger, h.ServeHTTP))
}

// Handler returns the server's handler (for tests).
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start listens and serves in the background. It returns once the
// listener is bound so address errors surface immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("metrics server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting briefly for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func rateLimit(limiter *rate.Limiter, logger Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn("rate limit exceeded", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func healthHandler(health func() error, logger Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				http.Error(w, "NOT OK: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Error("writing health response", "error", err)
		}
	}
}
