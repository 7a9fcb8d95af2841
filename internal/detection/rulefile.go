package detection

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/riskscan/scan-worker/internal/scan"
	"gopkg.in/yaml.v3"
)

// ruleFile is the operator-editable rule list:
//
//	rules:
//	  - name: acme_internal_token
//	    pattern: 'acme_[a-z0-9]{32}'
//	    severity: HIGH
type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Name     string `yaml:"name"`
	Pattern  string `yaml:"pattern"`
	Severity string `yaml:"severity"`
}

// ParseRules decodes a rule file. Entries that cannot be compiled are
// returned as errors next to the valid rules; only an undecodable document
// fails as a whole.
func ParseRules(data []byte) ([]Rule, []error, error) {
	var f ruleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("decoding rule file: %w", err)
	}

	var (
		rules []Rule
		errs  []error
	)
	for i, e := range f.Rules {
		sev, err := scan.ParseSeverity(e.Severity)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d (%s): %w", i, e.Name, err))
			continue
		}
		r, err := NewRule(e.Name, e.Pattern, sev)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		rules = append(rules, r)
	}
	return rules, errs, nil
}

func LoadRuleFile(path string) ([]Rule, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return ParseRules(data)
}

// MergeRules appends extra rules after the base ones. An extra rule reusing
// a name already present is reported and skipped.
func MergeRules(base, extra []Rule) ([]Rule, []error) {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]Rule, 0, len(base)+len(extra))
	for _, r := range base {
		seen[r.Name] = struct{}{}
		out = append(out, r)
	}
	var errs []error
	for _, r := range extra {
		if _, dup := seen[r.Name]; dup {
			errs = append(errs, fmt.Errorf("rule %s is already defined", r.Name))
			continue
		}
		seen[r.Name] = struct{}{}
		out = append(out, r)
	}
	return out, errs
}
