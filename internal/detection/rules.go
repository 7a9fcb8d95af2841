package detection

import (
	"fmt"
	"regexp"

	"github.com/riskscan/scan-worker/internal/scan"
)

// Rule is a named pattern with a fixed severity.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Severity scan.Severity
}

func NewRule(name, pattern string, severity scan.Severity) (Rule, error) {
	if name == "" {
		return Rule{}, fmt.Errorf("rule without a name")
	}
	if !severity.Valid() {
		return Rule{}, fmt.Errorf("rule %s: invalid severity %q", name, severity)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", name, err)
	}
	if re.MatchString("") {
		return Rule{}, fmt.Errorf("rule %s: pattern matches the empty string", name)
	}
	return Rule{Name: name, Pattern: re, Severity: severity}, nil
}

func mustRule(name, pattern string, severity scan.Severity) Rule {
	r, err := NewRule(name, pattern, severity)
	if err != nil {
		panic(err)
	}
	return r
}

var builtinRules = []Rule{
	mustRule("aws_access_key", `\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`, scan.SeverityHigh),
	mustRule("github_token", `\bgh[pousr]_[A-Za-z0-9]{36,255}\b`, scan.SeverityHigh),
	mustRule("stripe_live_secret", `\b[rs]k_live_[0-9a-zA-Z]{24,99}\b`, scan.SeverityCritical),
	mustRule("slack_token", `\bxox[abprs]-[0-9A-Za-z-]{10,72}\b`, scan.SeverityHigh),
	mustRule("google_api_key", `\bAIza[0-9A-Za-z_-]{35}\b`, scan.SeverityMedium),
	mustRule("private_key", `-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY(?: BLOCK)?-----`, scan.SeverityCritical),
	mustRule("jwt", `\beyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`, scan.SeverityMedium),
	mustRule("database_url_credentials", `\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqps?)://[^\s:/@"']+:[^\s@/"']+@[^\s"'/]+`, scan.SeverityHigh),
	mustRule("sendgrid_api_key", `\bSG\.[A-Za-z0-9_-]{22}\.[A-Za-z0-9_-]{43}\b`, scan.SeverityHigh),
	mustRule("openai_api_key", `\bsk-(?:proj-)?[A-Za-z0-9_-]{20,}T3BlbkFJ[A-Za-z0-9_-]{20,}`, scan.SeverityHigh),
	mustRule("twilio_api_key", `\bSK[0-9a-f]{32}\b`, scan.SeverityMedium),
}

// BuiltinRules returns a copy of the compiled-in rules.
func BuiltinRules() []Rule {
	out := make([]Rule, len(builtinRules))
	copy(out, builtinRules)
	return out
}

// RuleSet is an immutable, versioned list of rules. It is replaced as a whole
// and never modified in place.
type RuleSet struct {
	version int64
	rules   []Rule
}

func NewRuleSet(version int64, rules []Rule) *RuleSet {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &RuleSet{version: version, rules: cp}
}

func (s *RuleSet) Version() int64 {
	return s.version
}

func (s *RuleSet) Len() int {
	return len(s.rules)
}

// Rules returns a copy of the rules in evaluation order.
func (s *RuleSet) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Current makes a RuleSet usable as a fixed RuleSource.
func (s *RuleSet) Current() *RuleSet {
	return s
}

// RuleSource hands out the rule snapshot to use for one pipeline run.
type RuleSource interface {
	Current() *RuleSet
}
