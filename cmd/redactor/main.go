// Command redactor finds and removes personally identifiable information
// from scanned documents and live transcripts.
//
// Documents (PNG, JPEG, GIF, BMP, TIFF, WebP, PDF) are OCR'd page by page,
// scanned by the pattern registry and an optional semantic analyzer, and
// written back out with every sensitive word painted over. Live sessions
// raise alerts as soon as a speaker announces or reads out sensitive data.
//
// Usage:
//
//	# HTTP API + management API
//	./redactor serve
//
//	# One-off document redaction
//	./redactor redact scan.pdf --tier critical --out ./redacted
//
//	# Inspect a string
//	./redactor scan "call me on 9876543210"
//
//	# Live session over stdin (empty line = unclear speech, /stop ends it)
//	./redactor listen --tier intermediate
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pii-redactor/internal/audit"
	"pii-redactor/internal/config"
	"pii-redactor/internal/detector"
	"pii-redactor/internal/document"
	"pii-redactor/internal/logger"
	"pii-redactor/internal/metrics"
	"pii-redactor/internal/ocr/tesseract"
	"pii-redactor/internal/pii"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "redactor",
		Short:         "PII detection and redaction for documents and live transcripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+config.DefaultFile+")")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(redactCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(listenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds the components every subcommand shares.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	registry *detector.Registry
	pipeline *detector.Pipeline
	cache    detector.ResultCache
}

func newApp() (*app, error) {
	cfg := config.Load(configPath)
	log := logger.New("redactor", cfg.LogLevel)

	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}
	types := reg.KnownTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	m := metrics.New(names)

	a := &app{cfg: cfg, log: log, metrics: m, registry: reg}

	var semantic detector.Semantic
	if cfg.UseSemantic {
		cache, err := detector.OpenCache(cfg.SemanticCachePath, cfg.SemanticCacheSize, log.Module("cache"))
		if err != nil {
			// Run uncached rather than not at all.
			log.Warnf("cache", "open %s: %v; semantic results will not be cached", cfg.SemanticCachePath, err)
		} else {
			a.cache = cache
		}
		semantic = detector.NewSemanticDetector(reg, detector.SemanticOptions{
			Endpoint: cfg.AnalyzerEndpoint,
			Language: cfg.Language,
			MinScore: cfg.SemanticMinScore,
			Timeout:  cfg.SemanticTimeout(),
			Cache:    a.cache,
		}, m, log.Module("semantic"))
	}
	a.pipeline = detector.NewPipeline(reg, semantic, m, log.Module("detector"))
	return a, nil
}

func loadRegistry(cfg *config.Config) (*detector.Registry, error) {
	if cfg.RulesFile == "" {
		return detector.DefaultRegistry()
	}
	reg, err := detector.LoadRegistry(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", cfg.RulesFile, err)
	}
	return reg, nil
}

func (a *app) processor() *document.Processor {
	engine := tesseract.New(strings.Split(a.cfg.OCRLanguage, "+")...)
	return document.NewProcessor(engine, a.pipeline, document.Options{
		Workers:       a.cfg.PageWorkers,
		MinConfidence: a.cfg.OCRMinConfidence,
		Placeholder:   a.cfg.Placeholder,
		Propagate:     a.cfg.PropagateValues,
	}, a.metrics, a.log.Module("document"))
}

// openAudit returns nil when the audit trail is disabled or unusable.
func (a *app) openAudit() *audit.Store {
	if a.cfg.AuditDBPath == "" {
		return nil
	}
	store, err := audit.Open(a.cfg.AuditDBPath)
	if err != nil {
		a.log.Warnf("audit", "open %s: %v; audit trail disabled", a.cfg.AuditDBPath, err)
		return nil
	}
	return store
}

// tier resolves a --tier flag, falling back to the configured tier.
func (a *app) tier(flag string) (pii.Tier, error) {
	if flag == "" {
		return a.cfg.Tier(), nil
	}
	t, ok := pii.ParseTier(flag)
	if !ok {
		return 0, fmt.Errorf("unknown tier %q (want basic, intermediate or critical)", flag)
	}
	return t, nil
}

func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warnf("cache", "close: %v", err)
		}
	}
}

func printBanner(cfg *config.Config) {
	semantic := "disabled (pattern registry only)"
	if cfg.UseSemantic {
		semantic = fmt.Sprintf("%s (%s)", cfg.AnalyzerEndpoint, cfg.Language)
	}
	auditDB := cfg.AuditDBPath
	if auditDB == "" {
		auditDB = "(disabled)"
	}

	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          PII Redactor  (Go)                          ║
╚══════════════════════════════════════════════════════╝
  API             : %s:%d
  Management port : %d
  Tier            : %s
  Semantic        : %s
  OCR language    : %s
  Output dir      : %s
  Audit database  : %s

  Redact a document:
    curl -F file=@scan.pdf http://localhost:%d/upload

  Check status:
    curl http://localhost:%d/status
`, cfg.BindAddress, cfg.APIPort, cfg.ManagementPort,
		cfg.Tier(), semantic, cfg.OCRLanguage, cfg.OutputDir, auditDB,
		cfg.APIPort,
		cfg.ManagementPort)
}
