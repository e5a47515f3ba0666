package rules

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Overrides represents operator-supplied rule extensions loaded from
// YAML. Extensions only ever add patterns; the built-in tables cannot
// be disabled, so a bad overrides file can widen detection but never
// silently narrow it.
type Overrides struct {
	// NegationWindow, when positive, replaces the default window.
	NegationWindow int `yaml:"negation_window,omitempty"`

	// Extra patterns per axis, as regular expressions.
	Blocking    []string `yaml:"blocking,omitempty"`
	Critical    []string `yaml:"critical,omitempty"`
	Resolution  []string `yaml:"resolution,omitempty"`
	UIException []string `yaml:"ui_exception,omitempty"`
	NegatedSeed []string `yaml:"negated_seed,omitempty"`
}

// LoadOverrides loads rule extensions from a YAML file.
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule overrides: %w", err)
	}
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parsing rule overrides: %w", err)
	}
	return &o, nil
}

// Apply compiles and installs the override patterns into the package
// rule tables, and when NegationWindow is positive writes it into cfg.
// The tables are shared process-wide, so Apply must run during startup,
// before any pipeline touches them. Returns an error on the first
// pattern that does not compile; earlier patterns in the same call may
// already be installed.
func (o *Overrides) Apply(cfg *Config) error {
	if o.NegationWindow > 0 && cfg != nil {
		cfg.NegationWindow = o.NegationWindow
	}
	install := func(patterns []string, effect Effect, table *[]Rule, axis string) error {
		for i, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return fmt.Errorf("invalid %s override pattern %q: %w", axis, p, err)
			}
			*table = append(*table, Rule{Pattern: re, Effect: effect, Name: fmt.Sprintf("override-%s-%d", axis, i)})
		}
		return nil
	}

	if err := install(o.Blocking, EffectBlocking, &blockingRules, "blocking"); err != nil {
		return err
	}
	if err := install(o.Critical, EffectCritical, &criticalRules, "critical"); err != nil {
		return err
	}
	if err := install(o.Resolution, EffectResolution, &resolutionRules, "resolution"); err != nil {
		return err
	}
	if err := install(o.UIException, EffectUIException, &uiExceptionRules, "ui_exception"); err != nil {
		return err
	}
	return install(o.NegatedSeed, EffectNegatedSeed, &negatedSeedRules, "negated_seed")
}
