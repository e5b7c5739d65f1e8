// Package specs implements the per-request OpenAPI specification cache.
// One Cache is constructed per inbound request and discarded at request
// exit — it must never be stored on a long-lived object; no state crosses
// inbound requests.
package specs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nulpointcorp/gateway-mesh/internal/gwerr"
)

// Operation is one (method, templated path) pair the upstream's OpenAPI
// document declares.
type Operation struct {
	HTTPMethod   string
	PathName     string
	PathTemplate string
}

// Spec is the OpenAPI document reduced to what the resolver needs.
type Spec struct {
	APIURL     string
	Operations []Operation
}

// rawDocument mirrors the slice of an OpenAPI-derived JSON document that
// this gateway actually reads. Other OpenAPI semantics are advisory and
// are intentionally not modeled.
type rawDocument struct {
	APIURL     string `json:"api_url"`
	Operations []struct {
		HTTPMethod   string `json:"http_method"`
		PathName     string `json:"path_name"`
		PathTemplate string `json:"path_template"`
	} `json:"operations"`
}

// Fetcher retrieves raw bytes for a schema_url. The default implementation
// issues an HTTP GET; tests may substitute a stub.
type Fetcher interface {
	Fetch(ctx context.Context, schemaURL string) ([]byte, error)
}

// HTTPFetcher is the default Fetcher, backed by net/http.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher builds an HTTPFetcher using client, or http.DefaultClient
// if client is nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{Client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, schemaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, schemaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("specs: build request for %s: %w", schemaURL, err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("specs: fetch %s: %w", schemaURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("specs: read body of %s: %w", schemaURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("specs: %s returned status %d", schemaURL, resp.StatusCode)
	}

	return body, nil
}

// Cache memoizes parsed Specs for the lifetime of one inbound request,
// keyed by schema_url. Concurrent misses for the same key coalesce into a
// single fetch via singleflight, satisfying the at-most-once-per-request
// guarantee under concurrent join fan-out.
type Cache struct {
	fetcher Fetcher

	mu    sync.RWMutex
	specs map[string]*Spec

	group singleflight.Group
}

// New builds a request-scoped Cache. Construct one per inbound request.
func New(fetcher Fetcher) *Cache {
	return &Cache{
		fetcher: fetcher,
		specs:   make(map[string]*Spec),
	}
}

// Get returns the parsed Spec for schemaURL, fetching and parsing it on
// first access. Concurrent callers requesting the same schemaURL share one
// fetch.
func (c *Cache) Get(ctx context.Context, schemaURL string) (*Spec, error) {
	c.mu.RLock()
	if s, ok := c.specs[schemaURL]; ok {
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(schemaURL, func() (any, error) {
		// Re-check under the singleflight key: another goroutine may have
		// populated the cache between our RUnlock above and Do acquiring
		// the group's internal lock.
		c.mu.RLock()
		if s, ok := c.specs[schemaURL]; ok {
			c.mu.RUnlock()
			return s, nil
		}
		c.mu.RUnlock()

		raw, err := c.fetcher.Fetch(ctx, schemaURL)
		if err != nil {
			return nil, gwerr.New(gwerr.KindSpecFetchFailure, "fetch "+schemaURL, err)
		}

		var doc rawDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, gwerr.New(gwerr.KindSpecFetchFailure, "parse "+schemaURL, err)
		}

		s := &Spec{APIURL: strings.TrimSuffix(doc.APIURL, "/")}
		for _, op := range doc.Operations {
			s.Operations = append(s.Operations, Operation{
				HTTPMethod:   strings.ToUpper(op.HTTPMethod),
				PathName:     op.PathName,
				PathTemplate: op.PathTemplate,
			})
		}

		c.mu.Lock()
		c.specs[schemaURL] = s
		c.mu.Unlock()

		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Spec), nil
}

// Warm pre-fetches every schema_url in urls concurrently and waits for all
// of them, converting later Get calls into cache hits. Used by the
// concurrent join executor's Phase 1 warm-up. Errors are not
// returned — Get will surface them on the actual access, consistent with
// warm-up being a pure optimization.
func (c *Cache) Warm(ctx context.Context, urls []string) {
	var wg sync.WaitGroup
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}

		wg.Add(1)
		go func(schemaURL string) {
			defer wg.Done()
			_, _ = c.Get(ctx, schemaURL)
		}(u)
	}
	wg.Wait()
}
