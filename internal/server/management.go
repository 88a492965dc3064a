package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pii-redactor/internal/audit"
	"pii-redactor/internal/config"
	"pii-redactor/internal/detector"
	"pii-redactor/internal/logger"
	"pii-redactor/internal/metrics"
)

// AuditLister reads the audit trail; *audit.Store implements it.
type AuditLister interface {
	ListDocuments(ctx context.Context, limit int) ([]audit.DocumentRecord, error)
	ListSessions(ctx context.Context, limit int) ([]audit.SessionRecord, error)
}

// Management is the inspection API.
type Management struct {
	cfg       *config.Config
	startTime time.Time
	registry  *detector.Registry
	token     string           // bearer token; empty = no auth
	metrics   *metrics.Metrics // nil = no metrics
	audit     AuditLister      // nil = audit disabled
	log       *logger.Logger
}

// NewManagement creates the management server.
func NewManagement(cfg *config.Config, reg *detector.Registry, m *metrics.Metrics, lister AuditLister, log *logger.Logger) *Management {
	s := &Management{
		cfg:       cfg,
		startTime: time.Now(),
		registry:  reg,
		token:     cfg.ManagementToken,
		metrics:   m,
		audit:     lister,
		log:       log,
	}
	if s.token != "" {
		log.Info("auth", "Bearer token authentication enabled")
	}
	return s
}

// Handler returns the management routes behind the auth middleware.
func (s *Management) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /audit/documents", s.handleAuditDocuments)
	mux.HandleFunc("GET /audit/sessions", s.handleAuditSessions)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Management) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.log.Warnf("unauthorized", "from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Management) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status   string `json:"status"`
		Uptime   string `json:"uptime"`
		APIPort  int    `json:"apiPort"`
		Tier     string `json:"sensitivityTier"`
		Rules    int    `json:"rules"`
		Semantic struct {
			Enabled  bool   `json:"enabled"`
			Endpoint string `json:"endpoint"`
			Language string `json:"language"`
		} `json:"semantic"`
		OCR struct {
			Language      string  `json:"language"`
			MinConfidence float64 `json:"minConfidence"`
			Workers       int     `json:"workers"`
		} `json:"ocr"`
		Audit bool `json:"audit"`
	}

	resp := response{
		Status:  "running",
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		APIPort: s.cfg.APIPort,
		Tier:    s.cfg.Tier().String(),
		Audit:   s.audit != nil,
	}
	if s.registry != nil {
		resp.Rules = len(s.registry.Rules())
	}
	resp.Semantic.Enabled = s.cfg.UseSemantic
	resp.Semantic.Endpoint = s.cfg.AnalyzerEndpoint
	resp.Semantic.Language = s.cfg.Language
	resp.OCR.Language = s.cfg.OCRLanguage
	resp.OCR.MinConfidence = s.cfg.OCRMinConfidence
	resp.OCR.Workers = s.cfg.PageWorkers

	writeJSON(w, http.StatusOK, resp)
}

func (s *Management) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Management) handleAuditDocuments(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		http.Error(w, "audit not enabled", http.StatusServiceUnavailable)
		return
	}
	docs, err := s.audit.ListDocuments(r.Context(), limitParam(r))
	if err != nil {
		s.log.Errorf("audit_documents", "%v", err)
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Management) handleAuditSessions(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		http.Error(w, "audit not enabled", http.StatusServiceUnavailable)
		return
	}
	sessions, err := s.audit.ListSessions(r.Context(), limitParam(r))
	if err != nil {
		s.log.Errorf("audit_sessions", "%v", err)
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// limitParam reads ?limit=N; absent or malformed gives 0 (store default).
func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

var encodeLog = logger.New("server", "error")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		encodeLog.Errorf("json_encode", "%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Serve listens on 127.0.0.1:managementPort until ctx is cancelled.
func (s *Management) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.ManagementPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.log.Infof("listen", "management on %s", addr)
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, srv, ln)
}
