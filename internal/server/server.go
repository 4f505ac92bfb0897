// Package server exposes the tagger over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Options configures the HTTP server
type Options struct {
	Addr        string
	CORSOrigins []string
	ReadTimeout time.Duration

	// Gatherer backs /metrics. If nil, the default registry is exposed.
	Gatherer prometheus.Gatherer
}

func RegisterRoutes(mux *http.ServeMux, handler *Handler, gatherer prometheus.Gatherer) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux.HandleFunc("GET /", handler.HandleRoot)
	mux.HandleFunc("GET /health", handler.HandleHealth)
	mux.HandleFunc("POST /predict", handler.HandlePredict)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// NewRouter wires the routes behind request id, logging and CORS middleware
func NewRouter(handler *Handler, opts Options, logger logrus.FieldLogger) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, handler, opts.Gatherer)

	var h http.Handler = mux
	h = withLogging(logger, h)
	h = withRequestID(h)
	h = withCORS(opts.CORSOrigins, h)
	return h
}

// Server is an http.Server bound to the router
type Server struct {
	srv    *http.Server
	logger logrus.FieldLogger
}

func New(handler *Handler, opts Options, logger logrus.FieldLogger) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	return &Server{
		srv: &http.Server{
			Addr:              opts.Addr,
			Handler:           NewRouter(handler, opts, logger),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       opts.ReadTimeout,
		},
		logger: logger,
	}
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	s.logger.WithField("addr", s.srv.Addr).Info("starting server")
	s.logger.Info("endpoints: GET /, GET /health, GET /metrics, POST /predict")

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
