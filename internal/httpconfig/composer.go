package httpconfig

import "sync"

// Composer resolves and memoizes endpoint configs by key: a resolved
// config is built on first access of an endpoint key and memoized
// thereafter (spec §3 "Lifecycles").
type Composer struct {
	regs *Registries
	mu   sync.Mutex
	memo map[string]*Resolved
}

// NewComposer builds a Composer against a registry set.
func NewComposer(regs *Registries) *Composer {
	return &Composer{regs: regs, memo: make(map[string]*Resolved)}
}

// Resolve returns the memoized Resolved config for key, composing it from
// layers on first access.
func (c *Composer) Resolve(key string, layers ...EndpointOptions) (*Resolved, error) {
	c.mu.Lock()
	if r, ok := c.memo[key]; ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	resolved, err := Compose(c.regs, layers...)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if r, ok := c.memo[key]; ok {
		c.mu.Unlock()
		return r, nil
	}
	c.memo[key] = resolved
	c.mu.Unlock()
	return resolved, nil
}

// Forget clears a memoized entry, forcing recomposition on next Resolve.
func (c *Composer) Forget(key string) {
	c.mu.Lock()
	delete(c.memo, key)
	c.mu.Unlock()
}
