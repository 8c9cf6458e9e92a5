// Package server exposes the inspection session over a local
// request/response HTTP protocol for a single editor client.
package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yueduduo/pth-viewer/internal/logger"
	"github.com/yueduduo/pth-viewer/internal/session"
)

// Server dispatches protocol commands onto a Session.
type Server struct {
	sess    *session.Session
	log     *logger.Logger
	router  *mux.Router
	metrics *metrics

	listener net.Listener
	httpSrv  *http.Server
}

// New creates a Server with its routes registered.
func New(sess *session.Session, log *logger.Logger) *Server {
	s := &Server{
		sess:    sess,
		log:     log,
		router:  mux.NewRouter(),
		metrics: newMetrics(func() float64 { return float64(sess.LoadCount()) }),
	}

	s.router.HandleFunc("/load", s.command("load", s.handleLoad)).Methods(http.MethodPost)
	s.router.HandleFunc("/inspect", s.command("inspect", s.handleInspect)).Methods(http.MethodPost)
	s.router.HandleFunc("/release", s.command("release", s.handleRelease)).Methods(http.MethodPost)
	s.router.Handle("/metrics",
		promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	return s
}

// Handler returns the request router. For tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds an ephemeral port on host and announces it on stdout as
// SERVER_STARTED:<port> before accepting connections. This line is the
// only startup handshake the client gets.
func (s *Server) Start(host string) (int, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("failed to listen on %s: %w", host, err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	fmt.Fprintf(os.Stdout, "SERVER_STARTED:%d\n", port)

	s.httpSrv = &http.Server{Handler: s.router}
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("serve error: %v", err)
		}
	}()

	s.log.Infow("server started", "port", port)
	return port, nil
}

// Close stops accepting connections.
func (s *Server) Close() error {
	if s.httpSrv != nil {
		return s.httpSrv.Close()
	}
	return nil
}

// command wraps a handler with the shared per-request discipline: the
// idle deadline reset, request counting, and the last-resort recovery
// that must always produce a response body.
func (s *Server) command(name string, h func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.sess.Touch()
		s.metrics.requests.WithLabelValues(name).Inc()
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Errorf("panic in %s handler: %v", name, rec)
				s.writeError(w, fmt.Sprintf("internal error: %v", rec))
			}
		}()
		h(w, r)
	}
}

// writeJSON writes a 200 response body. Recoverable failures are valid
// bodies too; HTTP status codes other than 200 are reserved for
// malformed requests and unknown routes.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, msg string) {
	s.metrics.errors.Inc()
	s.writeJSON(w, map[string]string{"error": msg})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown command"})
}

// decodeBody parses a JSON request body. A malformed body is a client
// bug and gets a plain 400.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return false
	}
	return true
}
