package detector

import (
	"context"
	"errors"
	"time"

	"pii-redactor/internal/logger"
	"pii-redactor/internal/metrics"
	"pii-redactor/internal/pii"
)

// Semantic is the statistical detector seen by the Pipeline.
// *SemanticDetector satisfies it; tests substitute fakes.
type Semantic interface {
	Detect(ctx context.Context, text string) (pii.List, error)
}

// Pipeline runs pattern and semantic detection over one text buffer and
// reconciles the results. It keeps no per-call state.
type Pipeline struct {
	reg      *Registry
	pattern  *PatternDetector
	semantic Semantic
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewPipeline wires a pipeline. semantic and m may be nil; without a semantic
// detector the pipeline is pattern-only and never degrades.
func NewPipeline(reg *Registry, semantic Semantic, m *metrics.Metrics, log *logger.Logger) *Pipeline {
	return &Pipeline{
		reg:      reg,
		pattern:  NewPatternDetector(reg),
		semantic: semantic,
		metrics:  m,
		log:      log,
	}
}

// Registry returns the registry the pipeline was built from.
func (p *Pipeline) Registry() *Registry { return p.reg }

// Detect returns the reconciled entities of text. If the semantic detector
// fails, Detect still returns the reconciled pattern entities together with
// an error wrapping pii.ErrDetectionUnavailable.
func (p *Pipeline) Detect(ctx context.Context, text string) (pii.List, error) {
	start := time.Now()
	patterns := p.pattern.Detect(text)

	var semantic pii.List
	var semErr error
	if p.semantic != nil {
		semantic, semErr = p.semantic.Detect(ctx, text)
		if semErr != nil {
			if !errors.Is(semErr, pii.ErrDetectionUnavailable) {
				semErr = errors.Join(pii.ErrDetectionUnavailable, semErr)
			}
			p.log.Warnf("semantic_failed", "continuing pattern-only: %v", semErr)
			semantic = nil
		}
	}

	out := pii.Reconcile(p.reg.Rank, patterns, semantic)
	if p.metrics != nil {
		p.metrics.RecordDetection(time.Since(start))
	}
	p.log.Debugf("detect", "%d pattern + %d semantic -> %d entities", len(patterns), len(semantic), len(out))
	return out, semErr
}

// Run is Detect followed by the sensitivity filter.
func (p *Pipeline) Run(ctx context.Context, text string, tier pii.Tier) (pii.List, error) {
	list, err := p.Detect(ctx, text)
	return pii.Filter(list, p.reg.Tiers(), tier), err
}
