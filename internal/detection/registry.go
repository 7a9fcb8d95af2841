package detection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
)

// RuleRegistry owns the current RuleSet: the built-in rules merged with the
// operator rule file. Reloads build a new snapshot and swap it atomically.
type RuleRegistry struct {
	path    string
	current atomic.Pointer[RuleSet]
	mu      sync.Mutex
	log     *zap.SugaredLogger
}

// NewRuleRegistry loads the rules once. Problems with the rule file are
// logged and never fatal: the registry then serves the built-in rules.
func NewRuleRegistry(path string) *RuleRegistry {
	r := &RuleRegistry{path: path, log: zap.S().Named("rules")}
	r.current.Store(NewRuleSet(1, BuiltinRules()))
	if path != "" {
		if err := r.Reload(); err != nil {
			r.log.Errorw("failed to load rule file, serving built-in rules", "path", path, "error", err)
		}
	}
	return r
}

func (r *RuleRegistry) Current() *RuleSet {
	return r.current.Load()
}

// Reload reads the rule file and swaps in a new snapshot. On a read or decode
// error the current snapshot stays in place.
func (r *RuleRegistry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	extra, entryErrs, err := LoadRuleFile(r.path)
	if err != nil {
		return err
	}
	for _, e := range entryErrs {
		r.log.Warnw("skipping malformed rule", "path", r.path, "error", e)
	}

	rules, dupErrs := MergeRules(BuiltinRules(), extra)
	for _, e := range dupErrs {
		r.log.Warnw("skipping rule", "path", r.path, "error", e)
	}

	next := NewRuleSet(r.current.Load().Version()+1, rules)
	r.current.Store(next)
	r.log.Infow("rules loaded", "version", next.Version(), "rules", next.Len(), "custom", len(rules)-len(builtinRules))
	return nil
}

// Watch reloads the rule file on a jittered interval until ctx is done.
func (r *RuleRegistry) Watch(ctx context.Context, interval time.Duration) {
	if r.path == "" || interval <= 0 {
		return
	}
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reload(); err != nil {
				r.log.Warnw("rule reload failed, keeping current rules", "version", r.Current().Version(), "error", err)
			}
		}
	}
}
