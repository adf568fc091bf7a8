package policy

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"github.com/aescanero/triage/pkg/domain"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// RuleFile is the on-disk form of a policy configuration.
type RuleFile struct {
	// Threshold is optional; zero keeps the configured threshold.
	Threshold float64 `yaml:"threshold"`
	Rules     []Rule  `yaml:"rules"`
}

// Rule is one content category. It matches when any pattern matches.
type Rule struct {
	Category string          `yaml:"category"`
	Severity domain.Severity `yaml:"severity"`
	Message  string          `yaml:"message"`
	Patterns []string        `yaml:"patterns"`
}

type compiledRule struct {
	Rule
	regexps []*regexp.Regexp
}

// ParseRules decodes a rule file.
func ParseRules(data []byte) (*RuleFile, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy rules: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("policy rules file declares no rules")
	}
	if file.Threshold < 0 || file.Threshold > 1 {
		return nil, fmt.Errorf("policy threshold %v out of range [0,1]", file.Threshold)
	}
	return &file, nil
}

// LoadRulesFile reads and decodes a rule file from disk.
func LoadRulesFile(path string) (*RuleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy rules %s: %w", path, err)
	}
	return ParseRules(data)
}

// DefaultRules returns the built-in content categories.
func DefaultRules() []Rule {
	file, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded policy rules are invalid: %v", err))
	}
	return file.Rules
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	seen := make(map[string]bool, len(rules))
	out := make([]compiledRule, 0, len(rules))

	for _, r := range rules {
		if r.Category == "" {
			return nil, fmt.Errorf("policy rule has no category")
		}
		if r.Category == LowConfidenceCategory {
			return nil, fmt.Errorf("category %s is reserved", LowConfidenceCategory)
		}
		if seen[r.Category] {
			return nil, fmt.Errorf("duplicate policy category %s", r.Category)
		}
		seen[r.Category] = true

		switch r.Severity {
		case domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
		default:
			return nil, fmt.Errorf("category %s: invalid severity %q", r.Category, r.Severity)
		}
		if len(r.Patterns) == 0 {
			return nil, fmt.Errorf("category %s has no patterns", r.Category)
		}

		cr := compiledRule{Rule: r}
		for _, p := range r.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("category %s: failed to compile %q: %w", r.Category, p, err)
			}
			cr.regexps = append(cr.regexps, re)
		}
		if cr.Message == "" {
			cr.Message = "Content matched policy category " + r.Category
		}
		out = append(out, cr)
	}
	return out, nil
}

func (r compiledRule) matches(haystack string) bool {
	for _, re := range r.regexps {
		if re.MatchString(haystack) {
			return true
		}
	}
	return false
}
