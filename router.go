package swcache

import (
	"fmt"
	"net/http"
)

// Router selects policy for a request URL.
//
// Policies are evaluated in declaration order, first match wins.
type Router struct {
	policies []Policy
}

// NewRouter validates policies and compiles their URL patterns.
//
// Malformed pattern, unknown strategy or duplicate cache name is a configuration error.
func NewRouter(policies ...Policy) (*Router, error) {
	r := &Router{policies: make([]Policy, 0, len(policies))}
	names := make(map[string]int, len(policies))

	for i, p := range policies {
		if err := p.compile(); err != nil {
			return nil, fmt.Errorf("policy #%d: %w", i, err)
		}

		if j, ok := names[p.CacheName]; ok {
			return nil, fmt.Errorf("policy #%d: cache name %q already used by policy #%d", i, p.CacheName, j)
		}

		names[p.CacheName] = i

		r.policies = append(r.policies, p)
	}

	return r, nil
}

// MustNewRouter creates Router or panics.
func MustNewRouter(policies ...Policy) *Router {
	r, err := NewRouter(policies...)
	if err != nil {
		panic(err)
	}

	return r
}

// Match returns first policy with pattern matching URL.
//
// False result means request bypasses cache and goes to network.
func (r *Router) Match(url string) (Policy, bool) {
	for _, p := range r.policies {
		if p.pattern.MatchString(url) {
			return p, true
		}
	}

	return Policy{}, false
}

// MatchRequest returns first policy matching request URL.
func (r *Router) MatchRequest(req *http.Request) (Policy, bool) {
	if req == nil || req.URL == nil {
		return Policy{}, false
	}

	return r.Match(req.URL.String())
}

// Lookup returns first policy matching request URL or ErrNoPolicy.
func (r *Router) Lookup(req *http.Request) (Policy, error) {
	if p, ok := r.MatchRequest(req); ok {
		return p, nil
	}

	return Policy{}, ErrNoPolicy
}

// Policies returns a copy of policy table.
func (r *Router) Policies() []Policy {
	return append([]Policy(nil), r.policies...)
}

// CacheNames returns names of all caches in declaration order.
func (r *Router) CacheNames() []string {
	names := make([]string, 0, len(r.policies))

	for _, p := range r.policies {
		names = append(names, p.CacheName)
	}

	return names
}

// SyncQueues returns background sync configuration of policies that have it, keyed by queue name.
func (r *Router) SyncQueues() map[string]BackgroundSync {
	queues := make(map[string]BackgroundSync)

	for _, p := range r.policies {
		if p.BackgroundSync != nil {
			queues[p.BackgroundSync.QueueName] = *p.BackgroundSync
		}
	}

	return queues
}
