package device

import (
	"sync"
)

// planCache memoizes negotiated convolution plans by descriptor
// fingerprint. Plans are immutable once built, so a cached plan can back any
// number of primitives with the same geometry and attributes.
type planCache struct {
	mu    sync.RWMutex
	plans map[string]*convPlan
}

func newPlanCache() *planCache {
	return &planCache{
		plans: make(map[string]*convPlan),
	}
}

func (c *planCache) get(key string) (*convPlan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.plans[key]
	if ok {
		planCacheHits.Inc()
	} else {
		planCacheMisses.Inc()
	}
	return p, ok
}

func (c *planCache) put(key string, p *convPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[key] = p
}

func (c *planCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plans)
}
