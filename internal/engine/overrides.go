package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleOverride replaces the operator-facing text of a built-in rule.
type RuleOverride struct {
	ID              string   `yaml:"id"`
	Diagnosis       string   `yaml:"diagnosis"`
	Recommendations []string `yaml:"recommendations"`
}

// RuleOverrideFile is the YAML root structure.
type RuleOverrideFile struct {
	Overrides []RuleOverride `yaml:"overrides"`
}

// LoadRules returns DefaultRules with the overrides at path applied. An empty
// path or a missing file yields the defaults unchanged.
func LoadRules(path string, logger *slog.Logger) ([]PatternRule, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("rule override file not found", slog.String("path", path))
			return rules, nil
		}
		return nil, fmt.Errorf("read rule overrides: %w", err)
	}
	var file RuleOverrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rule overrides: %w", err)
	}
	return ApplyOverrides(rules, file.Overrides, logger), nil
}

// ApplyOverrides rewrites diagnosis and recommendations of rules by ID.
// Predicates and ordering are never changed.
func ApplyOverrides(rules []PatternRule, overrides []RuleOverride, logger *slog.Logger) []PatternRule {
	if logger == nil {
		logger = slog.Default()
	}
	index := make(map[string]int, len(rules))
	for i, rule := range rules {
		index[rule.ID] = i
	}
	out := append([]PatternRule(nil), rules...)
	for _, o := range overrides {
		i, ok := index[o.ID]
		if !ok {
			logger.Warn("rule override references unknown rule", slog.String("id", o.ID))
			continue
		}
		if o.Diagnosis != "" {
			out[i].Diagnosis = o.Diagnosis
		}
		if len(o.Recommendations) > 0 {
			out[i].Recommendations = append([]string(nil), o.Recommendations...)
		}
	}
	return out
}
