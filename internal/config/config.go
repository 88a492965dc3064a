// Package config loads and holds all redactor configuration.
// Defaults are overridden by an optional YAML file (redactor.yaml unless a
// path is given), then by environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pii-redactor/internal/logger"
	"pii-redactor/internal/pii"
)

// DefaultFile is read when Load is given no path.
const DefaultFile = "redactor.yaml"

var log = logger.New("config", "info")

// Config holds the full redactor configuration.
type Config struct {
	APIPort         int    `yaml:"apiPort"`
	ManagementPort  int    `yaml:"managementPort"`
	BindAddress     string `yaml:"bindAddress"`
	ManagementToken string `yaml:"managementToken"`
	LogLevel        string `yaml:"logLevel"`

	SensitivityTier string `yaml:"sensitivityTier"`
	Placeholder     string `yaml:"placeholder"`
	RulesFile       string `yaml:"rulesFile"`

	UseSemantic         bool    `yaml:"useSemantic"`
	AnalyzerEndpoint    string  `yaml:"analyzerEndpoint"`
	Language            string  `yaml:"language"`
	SemanticMinScore    float64 `yaml:"semanticMinScore"`
	SemanticTimeoutSecs int     `yaml:"semanticTimeoutSecs"`
	SemanticCachePath   string  `yaml:"semanticCachePath"`
	SemanticCacheSize   int     `yaml:"semanticCacheSize"`

	OCRLanguage      string  `yaml:"ocrLanguage"`
	OCRMinConfidence float64 `yaml:"ocrMinConfidence"`
	PageWorkers      int     `yaml:"pageWorkers"`
	PropagateValues  bool    `yaml:"propagateValues"`

	SilenceBudget     int `yaml:"silenceBudget"`
	ListenTimeoutSecs int `yaml:"listenTimeoutSecs"`

	OutputDir   string `yaml:"outputDir"`
	AuditDBPath string `yaml:"auditDBPath"`
	MaxUploadMB int    `yaml:"maxUploadMB"`
}

// Load returns config with defaults overridden by the file at path (or
// DefaultFile) and then by env vars. A missing file is not an error.
func Load(path string) *Config {
	cfg := defaults()
	if path == "" {
		path = DefaultFile
	}
	loadFile(cfg, path)
	loadEnv(cfg)
	cfg.normalize()
	return cfg
}

func defaults() *Config {
	return &Config{
		APIPort:         5000,
		ManagementPort:  5001,
		BindAddress:     "127.0.0.1",
		LogLevel:        "info",
		SensitivityTier: "basic",
		Placeholder:     pii.DefaultPlaceholder,

		UseSemantic:         true,
		AnalyzerEndpoint:    "http://localhost:5002",
		Language:            "en",
		SemanticMinScore:    0.5,
		SemanticTimeoutSecs: 10,
		SemanticCachePath:   "semantic-cache.db",
		SemanticCacheSize:   10000,

		OCRLanguage:      "eng",
		OCRMinConfidence: 0.30,
		PageWorkers:      4,
		PropagateValues:  true,

		SilenceBudget:     6,
		ListenTimeoutSecs: 5,

		OutputDir:   "redacted_documents",
		AuditDBPath: "redactor-audit.db",
		MaxUploadMB: 32,
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file is optional
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Warnf("load_file", "could not parse %s: %v", path, err)
		return
	}
	log.Infof("load_file", "loaded %s", path)
}

func loadEnv(cfg *Config) {
	envInt("API_PORT", &cfg.APIPort)
	envInt("MANAGEMENT_PORT", &cfg.ManagementPort)
	envString("BIND_ADDRESS", &cfg.BindAddress)
	envString("MANAGEMENT_TOKEN", &cfg.ManagementToken)
	envString("LOG_LEVEL", &cfg.LogLevel)

	envString("SENSITIVITY_TIER", &cfg.SensitivityTier)
	envString("REDACTION_PLACEHOLDER", &cfg.Placeholder)
	envString("RULES_FILE", &cfg.RulesFile)

	if v := os.Getenv("USE_SEMANTIC"); v == "false" {
		cfg.UseSemantic = false
	}
	envString("ANALYZER_ENDPOINT", &cfg.AnalyzerEndpoint)
	envString("ANALYZER_LANGUAGE", &cfg.Language)
	envFloat("SEMANTIC_MIN_SCORE", &cfg.SemanticMinScore)
	envInt("SEMANTIC_TIMEOUT_SECS", &cfg.SemanticTimeoutSecs)
	if v, ok := os.LookupEnv("SEMANTIC_CACHE_PATH"); ok {
		cfg.SemanticCachePath = v // empty selects the memory-only cache
	}
	envInt("SEMANTIC_CACHE_SIZE", &cfg.SemanticCacheSize)

	envString("OCR_LANGUAGE", &cfg.OCRLanguage)
	envFloat("OCR_MIN_CONFIDENCE", &cfg.OCRMinConfidence)
	envInt("PAGE_WORKERS", &cfg.PageWorkers)
	if v := os.Getenv("PROPAGATE_VALUES"); v == "false" {
		cfg.PropagateValues = false
	}

	envInt("SILENCE_BUDGET", &cfg.SilenceBudget)
	envInt("LISTEN_TIMEOUT_SECS", &cfg.ListenTimeoutSecs)

	envString("OUTPUT_DIR", &cfg.OutputDir)
	if v, ok := os.LookupEnv("AUDIT_DB_PATH"); ok {
		cfg.AuditDBPath = v // empty disables the audit trail
	}
	envInt("MAX_UPLOAD_MB", &cfg.MaxUploadMB)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			log.Warnf("load_env", "%s=%q is not an integer, ignored", key, v)
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		} else {
			log.Warnf("load_env", "%s=%q is not a number, ignored", key, v)
		}
	}
}

// normalize replaces out-of-range values with defaults.
func (c *Config) normalize() {
	d := defaults()
	if _, ok := pii.ParseTier(c.SensitivityTier); !ok {
		log.Warnf("normalize", "unknown sensitivityTier %q, using %s", c.SensitivityTier, pii.DefaultTier)
		c.SensitivityTier = pii.DefaultTier.String()
	}
	c.SensitivityTier = strings.ToLower(strings.TrimSpace(c.SensitivityTier))
	if c.Placeholder == "" {
		c.Placeholder = d.Placeholder
	}
	if c.SilenceBudget <= 0 {
		c.SilenceBudget = d.SilenceBudget
	}
	if c.ListenTimeoutSecs <= 0 {
		c.ListenTimeoutSecs = d.ListenTimeoutSecs
	}
	if c.SemanticTimeoutSecs <= 0 {
		c.SemanticTimeoutSecs = d.SemanticTimeoutSecs
	}
	if c.SemanticCacheSize <= 0 {
		c.SemanticCacheSize = d.SemanticCacheSize
	}
	if c.PageWorkers <= 0 {
		c.PageWorkers = d.PageWorkers
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = d.MaxUploadMB
	}
	if c.OCRMinConfidence < 0 || c.OCRMinConfidence > 1 {
		c.OCRMinConfidence = d.OCRMinConfidence
	}
}

// Tier returns the configured default sensitivity tier.
func (c *Config) Tier() pii.Tier { return pii.TierOrDefault(c.SensitivityTier) }

// SemanticTimeout is the per-call analyzer deadline.
func (c *Config) SemanticTimeout() time.Duration {
	return time.Duration(c.SemanticTimeoutSecs) * time.Second
}

// ListenTimeout bounds one transcription listen attempt.
func (c *Config) ListenTimeout() time.Duration {
	return time.Duration(c.ListenTimeoutSecs) * time.Second
}

// MaxUploadBytes is the multipart body limit.
func (c *Config) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) << 20 }
