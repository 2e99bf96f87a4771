// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// DefaultRules is the rule file compiled into the binary. It is used when
// no override file is configured.
//
//go:embed default_rules.yaml
var DefaultRules []byte

// ErrInvalidRules indicates a rule file that cannot be used.
var ErrInvalidRules = errors.New("invalid policy rules")

// Severity grades a violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// UnmarshalYAML rejects unknown severities.
func (s *Severity) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch sev := Severity(raw); sev {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		*s = sev
		return nil
	default:
		return fmt.Errorf("invalid severity %q", raw)
	}
}

// RuleFile is the top-level document of a rules file.
type RuleFile struct {
	// Package names the rule set in emitted violations.
	Package string `yaml:"package"`
	Rules   []Rule `yaml:"rules"`
}

// Rule denies changes matching every condition in Match.
type Rule struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Message     string   `yaml:"message"`
	Severity    Severity `yaml:"severity"`
	Priority    int      `yaml:"priority"`
	Disabled    bool     `yaml:"disabled"`
	Match       Match    `yaml:"match"`
}

// Match lists a rule's conditions. Empty conditions match everything.
type Match struct {
	InitiatorTypes []graph.InitiatorType `yaml:"initiator_types"`
	Actions        []graph.ChangeAction  `yaml:"actions"`
	Providers      []graph.Provider      `yaml:"providers"`

	// ResourceType and Initiator are regular expressions.
	ResourceType string `yaml:"resource_type"`
	Initiator    string `yaml:"initiator"`

	MinRiskScore int             `yaml:"min_risk_score"`
	MinRiskLevel graph.RiskLevel `yaml:"min_risk_level"`

	resourceTypeRe *regexp.Regexp
	initiatorRe    *regexp.Regexp
}

// ParseRules decodes a rules file, compiles its patterns and orders rules
// by priority, highest first. Disabled rules are dropped.
//
// # Outputs
//
//   - *RuleFile: Ready for evaluation.
//   - error: ErrInvalidRules wrapping the first problem found.
func ParseRules(data []byte) (*RuleFile, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	if file.Package == "" {
		file.Package = "infragraph.policy"
	}

	seen := make(map[string]bool, len(file.Rules))
	enabled := file.Rules[:0]
	for _, r := range file.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: rule without id", ErrInvalidRules)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: duplicate rule id %s", ErrInvalidRules, r.ID)
		}
		seen[r.ID] = true
		if r.Disabled {
			continue
		}
		if r.Severity == "" {
			r.Severity = SeverityMedium
		}
		if r.Match.MinRiskLevel != "" && levelRank(r.Match.MinRiskLevel) < 0 {
			return nil, fmt.Errorf("%w: rule %s: unknown risk level %q", ErrInvalidRules, r.ID, r.Match.MinRiskLevel)
		}
		if err := r.Match.compile(); err != nil {
			return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidRules, r.ID, err)
		}
		enabled = append(enabled, r)
	}
	file.Rules = enabled

	sort.SliceStable(file.Rules, func(i, j int) bool {
		return file.Rules[i].Priority > file.Rules[j].Priority
	})
	return &file, nil
}

func (m *Match) compile() error {
	var err error
	if m.ResourceType != "" {
		if m.resourceTypeRe, err = regexp.Compile(m.ResourceType); err != nil {
			return fmt.Errorf("resource_type pattern: %w", err)
		}
	}
	if m.Initiator != "" {
		if m.initiatorRe, err = regexp.Compile(m.Initiator); err != nil {
			return fmt.Errorf("initiator pattern: %w", err)
		}
	}
	return nil
}

// levelRank orders risk levels; unknown levels rank -1.
func levelRank(l graph.RiskLevel) int {
	switch l {
	case graph.RiskLow:
		return 0
	case graph.RiskMedium:
		return 1
	case graph.RiskHigh:
		return 2
	case graph.RiskCritical:
		return 3
	}
	return -1
}
