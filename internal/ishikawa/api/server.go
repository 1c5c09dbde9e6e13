// Package api exposes the chat engine over HTTP: POST /chat for turns, plus
// health, status, schema, and metrics endpoints for operators.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bdobrica/Ishikawa/common/version"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/dataset"
	"github.com/bdobrica/Ishikawa/internal/ishikawa/engine"
)

// maxMessageBytes bounds a chat request body.
const maxMessageBytes = 16 << 10

// Server serves the chat API. It is optional; the Matrix gateway can run
// without it when the HTTP address is empty.
type Server struct {
	addr      string
	engine    *engine.Engine
	store     *dataset.Store
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
}

// chatRequest is the body of POST /chat.
type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id"`
}

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// statusResponse is returned by GET /status.
type statusResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	Commit     string    `json:"commit"`
	BuildTime  string    `json:"build_time"`
	StartedAt  time.Time `json:"started_at"`
	UptimeSecs float64   `json:"uptime_seconds"`
	Dataset    string    `json:"dataset"`
}

// schemaColumn is one column in the GET /schema response.
type schemaColumn struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Description string   `json:"description,omitempty"`
	Values      []string `json:"values,omitempty"`
}

// schemaResponse is returned by GET /schema.
type schemaResponse struct {
	Table     string              `json:"table"`
	Columns   []schemaColumn      `json:"columns"`
	Sortable  []string            `json:"sortable_columns"`
	Groupings map[string][]string `json:"groupings,omitempty"`
}

// NewServer creates and configures the HTTP server (does not start it).
// registry may be nil to skip the /metrics endpoint.
func NewServer(addr string, eng *engine.Engine, store *dataset.Store, registry *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	s := &Server{
		addr:      addr,
		engine:    eng,
		store:     store,
		startedAt: time.Now(),
		mux:       mux,
	}
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/schema", s.handleSchema)
	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	return s
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener (e.g. with httptest.NewRecorder).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start begins listening in the background. Blocks until the listener is
// established so the caller knows the port is open before returning.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api server: listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 120 * time.Second, // chat turns include model calls
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("api server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("api server shutdown error", "err", err)
		}
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		slog.Warn("api server shutdown error", "err", err)
	}
}

// handleChat runs one chat turn. The reply always has HTTP 200 with a text
// answer; pipeline failures are already degraded to user-facing messages by
// the engine.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	body := http.MaxBytesReader(w, r.Body, maxMessageBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message must not be empty"})
		return
	}

	reply := s.engine.Chat(r.Context(), req.ThreadID, req.Message)
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if exists, err := s.store.TableExists(); err != nil || !exists {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     status,
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  s.startedAt,
		UptimeSecs: time.Since(s.startedAt).Seconds(),
		Dataset:    s.store.Table(),
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	sc, err := s.store.Describe(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "dataset unavailable"})
		return
	}

	cols := make([]schemaColumn, len(sc.Columns))
	for i, c := range sc.Columns {
		cols[i] = schemaColumn{
			Name:        c.Name,
			Kind:        c.Kind,
			Description: c.Description,
			Values:      c.Values,
		}
	}
	writeJSON(w, http.StatusOK, schemaResponse{
		Table:     sc.Table,
		Columns:   cols,
		Sortable:  sc.SortableColumns(),
		Groupings: sc.Groupings,
	})
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: failed to encode JSON response", "err", err)
	}
}
