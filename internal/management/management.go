// Package management provides the HTTP API that triggers and inspects
// pipeline runs.
//
// Endpoints:
//
//	POST /api/v1/process         - schedule a run: ["id", ...] or {"ids": [...]}
//	GET  /api/v1/runs/{id}       - report of a scheduled run
//	GET  /api/v1/items/{id}      - raw source record
//	POST /api/v1/classification  - store labels {"chamadoId","emocao","categoria"}
//	GET  /status                 - service health and configuration summary
//	GET  /metrics                - counters snapshot
//	POST /log-level              - change the log level {"level":"debug"}
package management

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ticket-anonymizer/internal/config"
	"ticket-anonymizer/internal/logger"
	"ticket-anonymizer/internal/metrics"
	"ticket-anonymizer/internal/pipeline"
	"ticket-anonymizer/internal/store"
)

const maxRequestBody = 1 << 20 // 1 MB

// Runs schedules and reports pipeline runs.
type Runs interface {
	Submit(ids []string) (string, error)
	Report(id string) (pipeline.RunReport, bool)
}

// Server is the management API server.
type Server struct {
	cfg       *config.Config
	startTime time.Time
	runs      Runs
	store     store.Store
	token     string           // bearer token for auth; empty = no auth
	metrics   *metrics.Metrics // nil = no metrics
	log       *logger.Logger
	srv       *http.Server
}

// New creates a management server.
func New(cfg *config.Config, runs Runs, st store.Store, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		runs:      runs,
		store:     st,
		token:     cfg.APIToken,
		metrics:   m,
		log:       log,
	}
	s.srv = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.token != "" {
		log.Info("auth", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the management API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/process", s.handleProcess)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/v1/items/{id}", s.handleItem)
	mux.HandleFunc("POST /api/v1/classification", s.handleClassification)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /log-level", s.handleLogLevel)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.log.Warnf("unauthorized", "access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			writeDetail(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// parseIDs accepts a bare JSON list of identifiers or an object wrapping
// one under "ids". Numeric identifiers are converted to their decimal form.
func parseIDs(body []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var list []any
	switch v := doc.(type) {
	case []any:
		list = v
	case map[string]any:
		raw, ok := v["ids"]
		if !ok {
			return nil, errors.New("invalid format: expected {\"ids\": [...]} or a list of ids")
		}
		if list, ok = raw.([]any); !ok {
			return nil, errors.New("invalid format: \"ids\" must be a list")
		}
	default:
		return nil, errors.New("invalid format: expected {\"ids\": [...]} or a list of ids")
	}
	if len(list) == 0 {
		return nil, errors.New("empty id list")
	}

	ids := make([]string, 0, len(list))
	for i, item := range list {
		switch v := item.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return nil, fmt.Errorf("id at position %d is empty", i)
			}
			ids = append(ids, v)
		case json.Number:
			ids = append(ids, v.String())
		default:
			return nil, fmt.Errorf("id at position %d is not a string or number", i)
		}
	}
	return ids, nil
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	ids, err := parseIDs(body)
	if err != nil {
		s.log.Warnf("process_rejected", "%v", err)
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	runID, err := s.runs.Submit(ids)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.log.Infof("process", "run=%s received %d ids", runID, len(ids))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "success",
		"runId":        runID,
		"received_ids": len(ids),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.runs.Report(r.PathValue("id"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok, err := s.store.Raw(r.Context(), id)
	if err != nil {
		s.log.Errorf("item_lookup", "id=%s: %v", id, err)
		writeDetail(w, http.StatusInternalServerError, "error fetching item")
		return
	}
	if !ok {
		writeDetail(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": rec})
}

func (s *Server) handleClassification(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		ID       string `json:"chamadoId"`
		Emotion  string `json:"emocao"`
		Category string `json:"categoria"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.ID == "" ||
		strings.TrimSpace(req.Emotion) == "" || strings.TrimSpace(req.Category) == "" {
		writeDetail(w, http.StatusBadRequest, `invalid request: need {"chamadoId":"...","emocao":"...","categoria":"..."}`)
		return
	}

	err = s.store.SetClassification(r.Context(), req.ID, req.Emotion, req.Category)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "processed record not found")
	case err != nil:
		s.log.Errorf("classification", "id=%s: %v", req.ID, err)
		writeDetail(w, http.StatusInternalServerError, "error storing classification")
	default:
		s.log.Debugf("classification", "id=%s emotion=%s category=%s", req.ID, req.Emotion, req.Category)
		writeJSON(w, http.StatusOK, map[string]string{"updated": req.ID})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status      string `json:"status"`
		Uptime      string `json:"uptime"`
		Port        int    `json:"port"`
		StoreDriver string `json:"storeDriver"`
		NERBackend  string `json:"nerBackend"`
		BatchSize   int    `json:"batchSize"`
		Classifier  string `json:"classifierUrl"`
		LogLevel    string `json:"logLevel"`
	}

	writeJSON(w, http.StatusOK, response{
		Status:      "running",
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		Port:        s.cfg.APIPort,
		StoreDriver: s.cfg.StoreDriver,
		NERBackend:  s.cfg.NERBackend,
		BatchSize:   s.cfg.BatchSize,
		Classifier:  s.cfg.ClassifierURL,
		LogLevel:    s.log.Level().String(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		writeDetail(w, http.StatusServiceUnavailable, "metrics not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleLogLevel(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, `invalid request: need {"level":"..."}`)
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		writeDetail(w, http.StatusBadRequest, "level must be one of debug, info, warn, error")
		return
	}
	s.log.SetLevel(req.Level)
	s.log.Infof("log_level", "set to %s", s.log.Level())
	writeJSON(w, http.StatusOK, map[string]string{"level": s.log.Level().String()})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return buf.Bytes(), nil
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}

// Addr returns the listen address derived from the config.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.APIPort))
}

// ListenAndServe starts the HTTP server and blocks until it stops.
// It returns nil after a graceful Shutdown, including one that happened
// before the server started.
func (s *Server) ListenAndServe() error {
	s.log.Infof("listen", "listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
