package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/nulpointcorp/gateway-mesh/internal/datamesh"
	"github.com/nulpointcorp/gateway-mesh/internal/registry"
)

// --- pure helpers -------------------------------------------------------

func TestIsJSONContentType(t *testing.T) {
	tests := []struct {
		ct       string
		expected bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"multipart/form-data; boundary=xyz", false},
		{"application/x-www-form-urlencoded", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isJSONContentType(tt.ct); got != tt.expected {
			t.Errorf("isJSONContentType(%q) = %v, want %v", tt.ct, got, tt.expected)
		}
	}
}

func TestCountUnfilled(t *testing.T) {
	embed := []any{map[string]any{"id": 1}, nil, nil}
	items := []datamesh.PlanItem{
		{Embed: &embed, Index: 0},
		{Embed: &embed, Index: 1},
		{Embed: &embed, Index: 2},
	}
	if n := countUnfilled(items); n != 2 {
		t.Errorf("countUnfilled = %d, want 2", n)
	}
}

func TestCountUnfilled_AllFilled(t *testing.T) {
	embed := []any{map[string]any{"id": 1}}
	items := []datamesh.PlanItem{{Embed: &embed, Index: 0}}
	if n := countUnfilled(items); n != 0 {
		t.Errorf("countUnfilled = %d, want 0", n)
	}
}

// --- stub fetcher --------------------------------------------------------

// stubFetcher returns pre-baked bytes for a fixed schema_url, bypassing any
// real network fetch for the OpenAPI document.
type stubFetcher struct {
	body map[string][]byte
}

func (f *stubFetcher) Fetch(_ context.Context, schemaURL string) ([]byte, error) {
	return f.body[schemaURL], nil
}

func specDoc(apiURL string) []byte {
	doc, _ := json.Marshal(map[string]any{
		"api_url": apiURL,
		"operations": []map[string]string{
			{"http_method": "GET", "path_name": "/orders/", "path_template": "/orders/"},
			{"http_method": "GET", "path_name": "/orders/{id}/", "path_template": "/orders/{id}/"},
			{"http_method": "GET", "path_name": "/customers/{id}/", "path_template": "/customers/{id}/"},
		},
	})
	return doc
}

// --- integration: dispatch over an in-memory listener --------------------

func withRouter(ctx *fasthttp.RequestCtx, service, model, pk string) {
	ctx.SetUserValue("service", service)
	ctx.SetUserValue("model", model)
	if pk != "" {
		ctx.SetUserValue("pk", pk)
	}
}

func TestDispatch_PrimaryOnly_NoJoin(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 1, "customer_id": 42}`))
	}))
	defer upstream.Close()

	reg := registry.NewMemoryRegistry(
		[]registry.LogicModule{{EndpointName: "orders", SchemaURL: "schema://orders"}},
		[]registry.LogicModuleModel{{LogicModuleEndpointName: "orders", Endpoint: "/orders/", LookupFieldName: "id"}},
		nil, nil,
	)

	gw := NewGatewayWithOptions(context.Background(), reg, GatewayOptions{
		Fetcher: &stubFetcher{body: map[string][]byte{"schema://orders": specDoc(upstream.URL)}},
	})

	ln := fasthttputil.NewInmemoryListener()
	defer ln.Close()

	handler := func(ctx *fasthttp.RequestCtx) {
		withRouter(ctx, "orders", "orders", "1")
		gw.handleDispatch(ctx)
	}
	srv := &fasthttp.Server{Handler: handler}
	go srv.Serve(ln)
	defer srv.Shutdown()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) { return ln.Dial() },
		},
	}

	resp, err := client.Get("http://gateway/orders/orders/1/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if got["id"] != float64(1) {
		t.Errorf("expected passthrough body, got %v", got)
	}
}

func TestDispatch_ServiceNotFound(t *testing.T) {
	reg := registry.NewMemoryRegistry(nil, nil, nil, nil)
	gw := NewGatewayWithOptions(context.Background(), reg, GatewayOptions{})

	ln := fasthttputil.NewInmemoryListener()
	defer ln.Close()

	handler := func(ctx *fasthttp.RequestCtx) {
		withRouter(ctx, "missing", "orders", "1")
		gw.handleDispatch(ctx)
	}
	srv := &fasthttp.Server{Handler: handler}
	go srv.Serve(ln)
	defer srv.Shutdown()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) { return ln.Dial() },
		},
	}

	resp, err := client.Get("http://gateway/missing/orders/1/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
