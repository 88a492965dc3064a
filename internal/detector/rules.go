// Package detector finds PII spans in text.
//
// Three detectors share one declarative Registry (rules.yaml):
//  1. PatternDetector: typed regular expressions, confidence fixed at 0.9.
//  2. SemanticDetector: HTTP adapter over an external entity recognizer,
//     with a persistent result cache in front of it.
//  3. ContextWatcher: precursor phrases that predict a disclosure before it
//     is complete (used by live transcription).
//
// Pipeline chains the first two through pii.Reconcile and pii.Filter.
package detector

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"pii-redactor/internal/pii"
)

//go:embed rules.yaml
var defaultRules []byte

// Rule pairs a compiled pattern with its entity type.
type Rule struct {
	Type     pii.Type
	Pattern  *regexp.Regexp
	Tier     pii.Tier
	Priority int
}

// ContextRule lists the precursor phrases for one entity type.
type ContextRule struct {
	Type    pii.Type
	Phrases []string
}

// Registry is the process-wide detection configuration. It is immutable
// after construction and safe for concurrent use.
type Registry struct {
	rules    []Rule
	tiers    pii.TierMap
	priority map[pii.Type]int
	aliases  map[string]pii.Type
	context  []ContextRule
}

// registryFile mirrors rules.yaml.
type registryFile struct {
	Rules []struct {
		Type     string   `yaml:"type"`
		Pattern  string   `yaml:"pattern"`
		Tier     pii.Tier `yaml:"tier"`
		Priority int      `yaml:"priority"`
	} `yaml:"rules"`
	Tiers   map[string]pii.Tier `yaml:"tiers"`
	Aliases map[string]string   `yaml:"aliases"`
	Context []struct {
		Type    string   `yaml:"type"`
		Phrases []string `yaml:"phrases"`
	} `yaml:"context"`
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// DefaultRegistry returns the embedded registry, parsed and compiled once.
func DefaultRegistry() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = ParseRegistry(defaultRules)
	})
	return defaultReg, defaultErr
}

// LoadRegistry reads a registry file. An empty path returns the embedded one.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	reg, err := ParseRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return reg, nil
}

// ParseRegistry builds a Registry from YAML. Any pattern that fails to
// compile fails the whole load.
func ParseRegistry(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("parse rules: no rules defined")
	}

	reg := &Registry{
		priority: make(map[pii.Type]int, len(f.Rules)),
		aliases:  make(map[string]pii.Type, len(f.Aliases)),
	}
	tiers := make(map[pii.Type]pii.Tier, len(f.Rules)+len(f.Tiers))
	for name, tier := range f.Tiers {
		tiers[pii.Type(name)] = tier
	}
	for i, r := range f.Rules {
		if r.Type == "" || r.Pattern == "" {
			return nil, fmt.Errorf("rule %d: type and pattern are required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Type, err)
		}
		typ := pii.Type(r.Type)
		reg.rules = append(reg.rules, Rule{Type: typ, Pattern: re, Tier: r.Tier, Priority: r.Priority})
		tiers[typ] = r.Tier
		if r.Priority > reg.priority[typ] {
			reg.priority[typ] = r.Priority
		}
	}
	reg.tiers = pii.NewTierMap(tiers)

	for from, to := range f.Aliases {
		reg.aliases[strings.ToUpper(from)] = pii.Type(to)
	}
	for _, c := range f.Context {
		phrases := make([]string, 0, len(c.Phrases))
		for _, p := range c.Phrases {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				phrases = append(phrases, p)
			}
		}
		reg.context = append(reg.context, ContextRule{Type: pii.Type(c.Type), Phrases: phrases})
	}
	return reg, nil
}

// Rules returns the pattern table in declaration order.
func (r *Registry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Tiers returns the type → tier mapping.
func (r *Registry) Tiers() pii.TierMap { return r.tiers }

// Rank is a pii.Ranker backed by rule priorities.
func (r *Registry) Rank(t pii.Type) int { return r.priority[t] }

// Canonical maps an analyzer's type name onto the registry vocabulary.
func (r *Registry) Canonical(name string) pii.Type {
	name = strings.ToUpper(strings.TrimSpace(name))
	if t, ok := r.aliases[name]; ok {
		return t
	}
	return pii.Type(name)
}

// KnownTypes lists every type with an explicit tier, rule types first.
func (r *Registry) KnownTypes() []pii.Type {
	seen := make(map[pii.Type]bool)
	var out []pii.Type
	for _, rule := range r.rules {
		if !seen[rule.Type] {
			seen[rule.Type] = true
			out = append(out, rule.Type)
		}
	}
	for _, t := range r.tiers.Types() {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
