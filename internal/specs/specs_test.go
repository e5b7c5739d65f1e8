package specs

import (
	"context"
	"sync/atomic"
	"testing"
)

type stubFetcher struct {
	calls int32
	body  []byte
	err   error
}

func (s *stubFetcher) Fetch(context.Context, string) ([]byte, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return s.body, nil
}

const sampleDoc = `{
  "api_url": "https://orders.internal/",
  "operations": [
    {"http_method": "get", "path_name": "/orders/{id}/", "path_template": "/orders/{id}/"},
    {"http_method": "GET", "path_name": "/orders/", "path_template": "/orders/"}
  ]
}`

func TestCache_Get_ParsesDocument(t *testing.T) {
	c := New(&stubFetcher{body: []byte(sampleDoc)})

	s, err := c.Get(context.Background(), "https://orders.internal/openapi.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.APIURL != "https://orders.internal" {
		t.Fatalf("expected trailing slash trimmed, got %q", s.APIURL)
	}
	if len(s.Operations) != 2 || s.Operations[0].HTTPMethod != "GET" {
		t.Fatalf("unexpected operations: %+v", s.Operations)
	}
}

func TestCache_Get_CoalescesConcurrentMisses(t *testing.T) {
	fetcher := &stubFetcher{body: []byte(sampleDoc)}
	c := New(fetcher)

	const n = 20
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.Get(context.Background(), "https://orders.internal/openapi.json")
			if err != nil {
				t.Error(err)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	if got := atomic.LoadInt32(&fetcher.calls); got != 1 {
		t.Fatalf("expected exactly 1 fetch, got %d", got)
	}
}

func TestCache_Get_SecondCallIsCacheHit(t *testing.T) {
	fetcher := &stubFetcher{body: []byte(sampleDoc)}
	c := New(fetcher)

	if _, err := c.Get(context.Background(), "u"); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if _, err := c.Get(context.Background(), "u"); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if got := atomic.LoadInt32(&fetcher.calls); got != 1 {
		t.Fatalf("expected 1 fetch across two calls, got %d", got)
	}
}

func TestCache_Get_FetchFailureIsGatewayError(t *testing.T) {
	c := New(&stubFetcher{err: errTest})

	_, err := c.Get(context.Background(), "u")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestCache_Warm_PopulatesDistinctURLs(t *testing.T) {
	fetcher := &stubFetcher{body: []byte(sampleDoc)}
	c := New(fetcher)

	c.Warm(context.Background(), []string{"a", "b", "a", "b"})

	if got := atomic.LoadInt32(&fetcher.calls); got != 2 {
		t.Fatalf("expected 2 distinct fetches, got %d", got)
	}
}

var errTest = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
