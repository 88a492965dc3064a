// Package server exposes the redactor over HTTP.
//
// API server (bindAddress:apiPort):
//
//	POST /upload           - multipart "file" (+ "redaction_level"); redacts a document
//	GET  /download/{name}  - a redacted page image written by /upload
//	GET  /stream           - websocket live transcription session
//
// Management server (127.0.0.1:managementPort), bearer-token protected:
//
//	GET /status            - health and active detection settings
//	GET /metrics           - counters and latency snapshot
//	GET /audit/documents   - recent document jobs (?limit=N)
//	GET /audit/sessions    - recent stream sessions (?limit=N)
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"

	"pii-redactor/internal/audit"
	"pii-redactor/internal/config"
	"pii-redactor/internal/detector"
	"pii-redactor/internal/document"
	"pii-redactor/internal/logger"
	"pii-redactor/internal/metrics"
	"pii-redactor/internal/ocr"
	"pii-redactor/internal/pii"
)

// MaxConnections caps concurrent API connections.
const MaxConnections = 256

// API serves uploads, downloads and live sessions.
type API struct {
	cfg        *config.Config
	processor  *document.Processor
	pipeline   *detector.Pipeline
	rasterizer ocr.Rasterizer
	recorder   audit.Recorder
	metrics    *metrics.Metrics
	log        *logger.Logger
	upgrader   websocket.Upgrader
}

// NewAPI wires the API server. recorder may be nil (no audit trail);
// rasterizer may be nil (PDF uploads rejected).
func NewAPI(cfg *config.Config, processor *document.Processor, pipeline *detector.Pipeline,
	rasterizer ocr.Rasterizer, recorder audit.Recorder, m *metrics.Metrics, log *logger.Logger) *API {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &API{
		cfg:        cfg,
		processor:  processor,
		pipeline:   pipeline,
		rasterizer: rasterizer,
		recorder:   recorder,
		metrics:    m,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the API routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", a.handleUpload)
	mux.HandleFunc("GET /download/{name}", a.handleDownload)
	mux.HandleFunc("GET /stream", a.handleStream)
	return mux
}

// Serve listens on bindAddress:apiPort until ctx is cancelled.
func (a *API) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.BindAddress, a.cfg.APIPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.log.Infof("listen", "API on %s (max %d connections)", addr, MaxConnections)
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, srv, netutil.LimitListener(ln, MaxConnections))
}

// tierFrom resolves a request's redaction level. Empty or unknown values
// fall back to the configured tier.
func (a *API) tierFrom(s string) pii.Tier {
	if s == "" {
		return a.cfg.Tier()
	}
	t, ok := pii.ParseTier(s)
	if !ok {
		a.log.Warnf("tier", "unknown redaction_level %q, using %s", s, a.cfg.Tier())
		return a.cfg.Tier()
	}
	return t
}

type uploadResponse struct {
	ID            string                `json:"id"`
	Filename      string                `json:"filename"`
	Format        string                `json:"format"`
	Tier          pii.Tier              `json:"redaction_level"`
	Text          string                `json:"text"`
	RedactedText  string                `json:"redacted_text"`
	Entities      pii.List              `json:"entities"`
	Pages         []document.PageResult `json:"pages"`
	RedactedFiles []string              `json:"redacted_files"`
	Degraded      bool                  `json:"degraded"`
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxUploadBytes())
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d MB", a.cfg.MaxUploadMB))
			return
		}
		writeError(w, http.StatusBadRequest, "missing multipart field \"file\"")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}
	name := filepath.Base(header.Filename)
	tier := a.tierFrom(r.FormValue("redaction_level"))

	pages, format, err := ocr.DecodePages(r.Context(), data, a.rasterizer)
	if err != nil {
		if a.metrics != nil {
			a.metrics.DocumentsRejected.Add(1)
		}
		a.log.Warnf("upload_rejected", "%s (%d bytes): %v", name, len(data), err)
		status := http.StatusBadRequest
		if !errors.Is(err, pii.ErrUnsupportedInput) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, err.Error())
		return
	}

	res := a.processor.Process(r.Context(), pages, tier)
	files, err := res.WritePages(a.cfg.OutputDir)
	if err != nil {
		a.log.Errorf("write_output", "doc=%s: %v", res.ID, err)
		writeError(w, http.StatusInternalServerError, "could not store redacted pages")
		return
	}

	if err := a.recorder.RecordDocument(r.Context(), audit.DocumentOf(res, name, format)); err != nil {
		a.log.Warnf("audit", "doc=%s: %v", res.ID, err)
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		ID:            res.ID,
		Filename:      name,
		Format:        format,
		Tier:          tier,
		Text:          res.FullText,
		RedactedText:  res.RedactedText,
		Entities:      res.Entities,
		Pages:         res.Pages,
		RedactedFiles: files,
		Degraded:      res.Degraded,
	})
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	path := filepath.Join(a.cfg.OutputDir, name)
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		writeError(w, http.StatusNotFound, "no such file")
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

// serve runs srv on ln and shuts it down when ctx ends.
func serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
