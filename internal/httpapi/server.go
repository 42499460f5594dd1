/* *****************************************************************************
 * Nehonix Taskmaster Process Supervisor
 * (see router.go for full license header)
 ***************************************************************************** */

// Package httpapi serves the JSON control API, the prometheus metrics
// endpoint, and the host system snapshot.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Nehonix-Team/taskmaster/internal/control"
	"github.com/Nehonix-Team/taskmaster/internal/logging"
	"github.com/Nehonix-Team/taskmaster/internal/supervisor"
	"github.com/Nehonix-Team/taskmaster/internal/sysinfo"
)

// StatusEntry is the wire form of one worker slot.
type StatusEntry struct {
	ProgramName   string  `json:"programName"`
	ProcessNumber int     `json:"processNumber"`
	ProcessID     int     `json:"processId"`
	State         string  `json:"state"`
	StartTime     string  `json:"startTime,omitempty"`
	RestartCount  int     `json:"restartCount"`
	CPUPercent    float64 `json:"cpuPercent,omitempty"`
	MemoryRSS     uint64  `json:"memoryRss,omitempty"`
}

// Server is the HTTP control surface.
type Server struct {
	facade *control.Facade
	log    *logging.Logger
	router *router
	srv    *http.Server
	ln     net.Listener
}

func New(facade *control.Facade, log *logging.Logger) *Server {
	s := &Server{
		facade: facade,
		log:    log,
		router: newRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.handle(http.MethodGet, "/api/status", s.handleStatus)
	s.router.handle(http.MethodPost, "/api/programs/:name/start", s.handleProgram("start", s.facade.Start))
	s.router.handle(http.MethodPost, "/api/programs/:name/stop", s.handleProgram("stop", s.facade.Stop))
	s.router.handle(http.MethodPost, "/api/programs/:name/restart", s.handleProgram("restart", s.facade.Restart))
	s.router.handle(http.MethodPost, "/api/reload", s.handleReload)
	s.router.handle(http.MethodPost, "/api/shutdown", s.handleShutdown)
	s.router.handle(http.MethodGet, "/api/system", s.handleSystem)

	metricsHandler := promhttp.Handler()
	s.router.handle(http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		metricsHandler.ServeHTTP(w, r)
	})
}

// Listen binds addr and serves until Close.
func (s *Server) Listen(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding http api: %w", err)
	}
	s.ln = ln
	s.log.Infof("http api listening on %s", ln.Addr())
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http api: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close drains in-flight requests briefly and stops the server.
func (s *Server) Close() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	s.log.Debugf("http %s %s (req %s)", r.Method, r.URL.Path, reqID)

	handler, params := s.router.match(r.Method, r.URL.Path)
	if handler == nil {
		http.NotFound(w, r)
		return
	}
	handler(w, r, params)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	snaps := s.facade.Status()
	entries := make([]StatusEntry, 0, len(snaps))
	for _, snap := range snaps {
		entries = append(entries, statusEntry(snap))
	}
	writeJSON(w, http.StatusOK, entries)
}

func statusEntry(snap supervisor.Snapshot) StatusEntry {
	e := StatusEntry{
		ProgramName:   snap.Program,
		ProcessNumber: snap.Index,
		ProcessID:     snap.PID,
		State:         snap.State.String(),
		RestartCount:  snap.Restarts,
	}
	if !snap.StartedAt.IsZero() {
		e.StartTime = snap.StartedAt.Format(time.RFC3339)
	}
	if snap.PID > 0 {
		if stat := sysinfo.Stat(snap.PID); stat != nil {
			e.CPUPercent = stat.CPUPercent
			e.MemoryRSS = stat.MemoryRSS
		}
	}
	return e
}

func (s *Server) handleProgram(op string, fn func(string) error) handlerFunc {
	return func(w http.ResponseWriter, _ *http.Request, params map[string]string) {
		if err := fn(params["name"]); err != nil {
			s.log.Warnf("http %s %s: %v", op, params["name"], err)
			writeText(w, http.StatusInternalServerError, "error")
			return
		}
		writeText(w, http.StatusOK, "ok")
	}
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	if err := s.facade.Reload(); err != nil {
		s.log.Warnf("http reload: %v", err)
		writeText(w, http.StatusInternalServerError, "error")
		return
	}
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	writeText(w, http.StatusOK, "shutting down")
	go func() { _ = s.facade.Shutdown() }()
}

func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, sysinfo.Collect())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
