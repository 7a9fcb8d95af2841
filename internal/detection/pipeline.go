package detection

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/pkg/metrics"
	"go.uber.org/zap"
)

const (
	DefaultNoiseCap  = 25
	DefaultBatchSize = 50

	EntropyRuleID       = "high_entropy_token"
	defaultContextRange = 80

	// validationReserve is the fraction, as 1/n, of the caller's remaining
	// deadline kept for the work after validation.
	validationReserve = 5
)

type Pipeline struct {
	rules          RuleSource
	validator      Validator
	cache          *VerdictCache
	noiseCap       int
	batchSize      int
	threshold      float64
	minTokenLength int
	contextRadius  int
	tokenRe        *regexp.Regexp
	log            *zap.SugaredLogger
}

type Option func(*Pipeline)

// WithNoiseCap bounds the accepted hits per unit. Zero or less disables the cap.
func WithNoiseCap(n int) Option {
	return func(p *Pipeline) {
		p.noiseCap = n
	}
}

// WithBatchSize sets the largest number of tokens sent in one validator call.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithEntropyThreshold(t float64) Option {
	return func(p *Pipeline) {
		p.threshold = t
	}
}

func WithMinTokenLength(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.minTokenLength = n
		}
	}
}

// NewPipeline builds a pipeline. The cache is shared by every run of the
// pipeline and may be shared between pipelines.
func NewPipeline(rules RuleSource, validator Validator, cache *VerdictCache, opts ...Option) *Pipeline {
	p := &Pipeline{
		rules:          rules,
		validator:      validator,
		cache:          cache,
		noiseCap:       DefaultNoiseCap,
		batchSize:      DefaultBatchSize,
		threshold:      DefaultEntropyThreshold,
		minTokenLength: DefaultMinTokenLength,
		contextRadius:  defaultContextRange,
		log:            zap.S().Named("detection"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.validator == nil {
		p.validator = AcceptAll{}
	}
	if p.cache == nil {
		p.cache = NewVerdictCache()
	}
	p.tokenRe = reToken
	if p.minTokenLength != DefaultMinTokenLength {
		p.tokenRe = regexp.MustCompile(fmt.Sprintf(`[A-Za-z0-9+/=_-]{%d,}`, p.minTokenLength))
	}
	return p
}

// Candidates runs rule matching, suppression and the entropy fallback on one
// unit, without validation.
func (p *Pipeline) Candidates(unit Unit) []Candidate {
	return p.candidates(p.rules.Current(), unit)
}

// Scan runs every stage over the units. Entropy candidates of all units are
// validated together, so one call covers one scan.
func (p *Pipeline) Scan(ctx context.Context, units []Unit) Result {
	rs := p.rules.Current()

	perUnit := make([][]Candidate, len(units))
	for i, u := range units {
		perUnit[i] = p.candidates(rs, u)
	}

	verdicts, validated, verr := p.validate(ctx, perUnit)
	res := Result{Validated: validated, ValidationErr: verr}
	metrics.IncreaseValidationTokens("sent", validated)

	for i, u := range units {
		var hits []Hit
		for _, c := range perUnit[i] {
			if c.Source == SourceRule {
				hits = append(hits, Hit{Candidate: c, Verdict: VerdictRule})
				continue
			}
			if v, ok := verdicts[c.MatchedText]; ok {
				hits = append(hits, Hit{Candidate: c, Verdict: v})
			}
		}

		if p.noiseCap > 0 && len(hits) > p.noiseCap {
			t := Truncation{Unit: u.ID, Kept: p.noiseCap, Dropped: len(hits) - p.noiseCap}
			p.log.Warnw("noise cap reached, dropping hits", "unit", u.ID, "kept", t.Kept, "dropped", t.Dropped)
			res.Truncations = append(res.Truncations, t)
			metrics.IncreaseDetectionTruncations(1)
			hits = hits[:p.noiseCap]
		}
		res.Hits = append(res.Hits, hits...)
	}
	return res
}

func (p *Pipeline) candidates(rs *RuleSet, unit Unit) []Candidate {
	text := unit.Text
	styles := styleBlocks(text)

	var (
		out       []Candidate
		ruleSpans []span
	)
	for _, rule := range rs.rules {
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			ruleSpans = append(ruleSpans, span{start: loc[0], end: loc[1]})
			if suppressed(text, loc[0], loc[1], styles) {
				continue
			}
			out = append(out, p.newCandidate(unit, loc, rule.Name, rule.Severity, SourceRule))
		}
	}

	for _, loc := range p.tokenRe.FindAllStringIndex(text, -1) {
		tok := text[loc[0]:loc[1]]
		if len(tok) > maxTokenLength || commonShape(tok) {
			continue
		}
		ts := span{start: loc[0], end: loc[1]}
		if overlapsAny(ts, ruleSpans) {
			continue
		}
		e := ShannonEntropy(tok)
		if e <= p.threshold {
			continue
		}
		if suppressed(text, loc[0], loc[1], styles) {
			continue
		}
		c := p.newCandidate(unit, loc, EntropyRuleID, scan.SeverityMedium, SourceEntropy)
		c.Entropy = e
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Location.Offset < out[j].Location.Offset
	})
	return out
}

func (p *Pipeline) newCandidate(unit Unit, loc []int, ruleID string, sev scan.Severity, src Source) Candidate {
	ctx, line := lineContext(unit.Text, loc[0], loc[1], p.contextRadius)
	return Candidate{
		RuleID:      ruleID,
		MatchedText: unit.Text[loc[0]:loc[1]],
		Context:     ctx,
		Severity:    sev,
		Location:    Location{Unit: unit.ID, Line: line, Offset: loc[0]},
		Source:      src,
	}
}

// validate asks the validator about every entropy token missing from the
// cache. Tokens of a failed batch are accepted unverified and not cached.
func (p *Pipeline) validate(ctx context.Context, perUnit [][]Candidate) (map[string]Verdict, int, error) {
	verdicts := make(map[string]Verdict)
	seen := make(map[string]struct{})
	var pending []Request

	for _, cands := range perUnit {
		for _, c := range cands {
			if c.Source != SourceEntropy {
				continue
			}
			if _, ok := seen[c.MatchedText]; ok {
				continue
			}
			seen[c.MatchedText] = struct{}{}
			if v, ok := p.cache.Get(c.MatchedText); ok {
				if v {
					verdicts[c.MatchedText] = VerdictConfirmed
				}
				continue
			}
			pending = append(pending, Request{Token: c.MatchedText, Context: c.Context})
		}
	}

	if len(pending) == 0 {
		return verdicts, 0, nil
	}
	vctx, cancel := validationContext(ctx)
	defer cancel()

	var errs error
	for start := 0; start < len(pending); start += p.batchSize {
		end := start + p.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		var out []bool
		err := vctx.Err()
		if err == nil {
			out, err = p.validator.Validate(vctx, batch)
		}
		switch {
		case err != nil:
			err = NewErrValidationService(len(batch), err)
		case len(out) != len(batch):
			err = NewErrValidationShape(len(batch), len(out))
		}
		if err != nil {
			p.log.Warnw("validation failed, accepting tokens unverified", "tokens", len(batch), "error", err)
			for _, r := range batch {
				verdicts[r.Token] = VerdictFailClosed
			}
			errs = errors.Join(errs, err)
			continue
		}

		for i, r := range batch {
			p.cache.Put(r.Token, out[i])
			if out[i] {
				verdicts[r.Token] = VerdictConfirmed
			}
		}
	}
	return verdicts, len(pending), errs
}

// validationContext ends validation before the caller's deadline, so that
// batches still running then fail closed and the hits are returned in time.
func validationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	remaining := time.Until(deadline)
	return context.WithTimeout(ctx, remaining-remaining/validationReserve)
}

func overlapsAny(s span, spans []span) bool {
	for _, o := range spans {
		if s.overlaps(o) {
			return true
		}
	}
	return false
}
