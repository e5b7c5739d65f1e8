// Package respcache implements the per-request response cache: a
// memoization of safe, parameter-free GETs, scoped to one inbound request.
// The join fan-out commonly re-fetches the same related record from
// multiple primary records; this cache turns that into O(distinct URLs)
// upstream calls instead of O(join items).
package respcache

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nulpointcorp/gateway-mesh/internal/upstream"
)

// Cache memoizes upstream.Response by resolved URL for the lifetime of one
// inbound request. Construct one per request, alongside specs.Cache.
type Cache struct {
	mu        sync.RWMutex
	responses map[string]*upstream.Response

	group singleflight.Group
}

// New builds a request-scoped Cache.
func New() *Cache {
	return &Cache{responses: make(map[string]*upstream.Response)}
}

// Eligible reports whether a request is cache-eligible: method GET and
// no query parameters.
func Eligible(method string, query url.Values) bool {
	return method == http.MethodGet && len(query) == 0
}

// Get returns the cached response for url, if present.
func (c *Cache) Get(url string) (*upstream.Response, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.responses[url]
	return resp, ok
}

// Set stores resp under url.
func (c *Cache) Set(url string, resp *upstream.Response) {
	c.mu.Lock()
	c.responses[url] = resp
	c.mu.Unlock()
}

// Do returns the cached response for url if present; otherwise it invokes
// fetch, caches a successful result, and returns it. Concurrent misses for
// the same url coalesce into a single fetch via singleflight.
func (c *Cache) Do(_ context.Context, url string, fetch func() (*upstream.Response, error)) (*upstream.Response, error) {
	if resp, ok := c.Get(url); ok {
		return resp, nil
	}

	v, err, _ := c.group.Do(url, func() (any, error) {
		if resp, ok := c.Get(url); ok {
			return resp, nil
		}

		resp, err := fetch()
		if err != nil {
			return nil, err
		}
		c.Set(url, resp)
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*upstream.Response), nil
}
