// Package web provides the thermostat's HTTP status and control API.
package web

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/thermostat/internal/control"
	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/status"
)

// maxCommandBytes bounds the request body accepted by /mode.
const maxCommandBytes = 4 << 10

// Server serves status JSON, metrics and the override endpoint over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	commands   chan<- control.Command
	log        *logger.Logger
}

// New creates a Server that reads state from the given tracker and enqueues
// override commands on commands. A nil gatherer disables /metrics.
func New(addr string, tracker *status.Tracker, commands chan<- control.Command, gatherer prometheus.Gatherer, log *logger.Logger) *Server {
	s := &Server{tracker: tracker, commands: commands, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/mode", s.handleMode)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.json" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !s.tracker.Snapshot().Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "starting\n")
		return
	}
	io.WriteString(w, "ok\n")
}

// handleMode accepts a JSON command and queues it for the control loop.
// The loop applies it on its next iteration; the response only confirms
// that the command parsed and was queued.
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "reading body failed", http.StatusBadRequest)
		return
	}
	cmd, err := control.ParseCommand(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	select {
	case s.commands <- cmd:
		s.log.Infow("override queued", "kind", int(cmd.Kind), "desired", cmd.Desired, "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusAccepted)
	default:
		s.log.Warnw("override dropped, command queue full", "remote", r.RemoteAddr)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}
}
