package detection

import "sync"

// VerdictCache remembers validator verdicts by exact token. Concurrent writers
// for the same token store the same verdict, so races only cost a redundant
// validator call.
type VerdictCache struct {
	mu       sync.RWMutex
	verdicts map[string]bool
}

func NewVerdictCache() *VerdictCache {
	return &VerdictCache{verdicts: make(map[string]bool)}
}

func (c *VerdictCache) Get(token string) (verdict bool, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	verdict, ok = c.verdicts[token]
	return verdict, ok
}

func (c *VerdictCache) Put(token string, verdict bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verdicts[token] = verdict
}

func (c *VerdictCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.verdicts)
}
