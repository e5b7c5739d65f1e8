package join

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nulpointcorp/gateway-mesh/internal/datamesh"
	"github.com/nulpointcorp/gateway-mesh/internal/registry"
	"github.com/nulpointcorp/gateway-mesh/internal/respcache"
	"github.com/nulpointcorp/gateway-mesh/internal/specs"
	"github.com/nulpointcorp/gateway-mesh/internal/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// startProductsServer builds an httptest server that serves both an
// OpenAPI document (whose api_url points back at itself) and a
// /products/{id}/ endpoint driven by onHit.
func startProductsServer(t *testing.T, onHit func(id string) (int, string)) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"api_url":"` + srv.URL + `","operations":[{"http_method":"GET","path_name":"/products/{id}/","path_template":"/products/{id}/"}]}`))
	})
	mux.HandleFunc("/products/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/products/") : len(r.URL.Path)-1]
		status, body := onHit(id)
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestDeps(t *testing.T, srv *httptest.Server) Deps {
	t.Helper()

	modules := []registry.LogicModule{
		{EndpointName: "products", SchemaURL: srv.URL + "/openapi.json"},
	}
	models := []registry.LogicModuleModel{
		{LogicModuleEndpointName: "products", Endpoint: "/products/", LookupFieldName: "id"},
	}
	reg := registry.NewMemoryRegistry(modules, models, nil, nil)

	return Deps{
		Registry:       reg,
		Specs:          specs.New(specs.NewHTTPFetcher(srv.Client())),
		RespCache:      respcache.New(),
		Upstream:       upstream.New(srv.Client()),
		Breaker:        upstream.NewBreaker(upstream.BreakerConfig{ErrorThreshold: 3, TimeWindow: time.Minute, HalfOpenTimeout: time.Minute}),
		Log:            testLogger(),
		MaxConcurrency: 8,
	}
}

func itemsFor(pks ...string) []datamesh.PlanItem {
	embed := make([]any, len(pks))
	var items []datamesh.PlanItem
	for i, pk := range pks {
		items = append(items, datamesh.PlanItem{Service: "products", ModelPath: "/products/", PK: pk, Embed: &embed, Index: i})
	}
	return items
}

func TestSequential_EmbedsSuccessfulResults(t *testing.T) {
	srv := startProductsServer(t, func(id string) (int, string) {
		return 200, `{"id":` + id + `}`
	})

	deps := newTestDeps(t, srv)
	items := itemsFor("10", "11")

	NewSequential(deps).Run(context.Background(), items)

	embed := *items[0].Embed
	if embed[0] == nil || embed[1] == nil {
		t.Fatalf("expected both slots populated, got %v", embed)
	}
}

func TestConcurrent_EmbedsSuccessfulResults(t *testing.T) {
	srv := startProductsServer(t, func(id string) (int, string) {
		return 200, `{"id":` + id + `}`
	})

	deps := newTestDeps(t, srv)
	items := itemsFor("10", "11", "12")

	NewConcurrent(deps).Run(context.Background(), items)

	embed := *items[0].Embed
	for i, v := range embed {
		if v == nil {
			t.Fatalf("slot %d not populated: %v", i, embed)
		}
	}
}

func TestSequential_PartialFailureLeavesNilSlot(t *testing.T) {
	failing := map[string]bool{"11": true}
	srv := startProductsServer(t, func(id string) (int, string) {
		if failing[id] {
			return 500, `{"error":"boom"}`
		}
		return 200, `{"id":` + id + `}`
	})

	deps := newTestDeps(t, srv)
	items := itemsFor("10", "11")

	NewSequential(deps).Run(context.Background(), items)

	embed := *items[0].Embed
	if embed[0] == nil {
		t.Fatal("expected slot 0 to succeed")
	}
	if embed[1] != nil {
		t.Fatal("expected slot 1 to remain nil after upstream failure")
	}
}

func TestConcurrent_SharedRecordFetchedOnce(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	srv := startProductsServer(t, func(id string) (int, string) {
		mu.Lock()
		hits[id]++
		mu.Unlock()
		return 200, `{"id":` + id + `}`
	})

	deps := newTestDeps(t, srv)

	// Two primary records both referencing product 10 — two plan items with
	// the same PK but distinct embed targets.
	embedA := make([]any, 1)
	embedB := make([]any, 1)
	items := []datamesh.PlanItem{
		{Service: "products", ModelPath: "/products/", PK: "10", Embed: &embedA, Index: 0},
		{Service: "products", ModelPath: "/products/", PK: "10", Embed: &embedB, Index: 0},
	}

	NewConcurrent(deps).Run(context.Background(), items)

	if embedA[0] == nil || embedB[0] == nil {
		t.Fatalf("expected both embed targets populated, got %v / %v", embedA, embedB)
	}
	mu.Lock()
	defer mu.Unlock()
	if hits["10"] != 1 {
		t.Fatalf("expected exactly one upstream fetch of product 10, got %d", hits["10"])
	}
}

func TestExecutors_ProduceEquivalentResults(t *testing.T) {
	failing := map[string]bool{"12": true}
	handler := func(id string) (int, string) {
		if failing[id] {
			return 500, `{"error":"boom"}`
		}
		return 200, `{"id":` + id + `}`
	}

	run := func(exec func(Deps) Executor) []any {
		srv := startProductsServer(t, handler)
		items := itemsFor("10", "11", "12")
		exec(newTestDeps(t, srv)).Run(context.Background(), items)
		return *items[0].Embed
	}

	seq := run(func(d Deps) Executor { return NewSequential(d) })
	conc := run(func(d Deps) Executor { return NewConcurrent(d) })

	if len(seq) != len(conc) {
		t.Fatalf("embed lengths differ: %d vs %d", len(seq), len(conc))
	}
	for i := range seq {
		if !reflect.DeepEqual(seq[i], conc[i]) {
			t.Fatalf("slot %d differs: sequential %v, concurrent %v", i, seq[i], conc[i])
		}
	}
}

func TestSequential_OrderingMatchesPlannerEmission(t *testing.T) {
	srv := startProductsServer(t, func(id string) (int, string) {
		return 200, `{"id":` + id + `}`
	})

	deps := newTestDeps(t, srv)
	items := itemsFor("10", "11", "12")

	NewSequential(deps).Run(context.Background(), items)

	embed := *items[0].Embed
	for i, want := range []float64{10, 11, 12} {
		obj := embed[i].(map[string]any)
		if obj["id"] != want {
			t.Fatalf("slot %d: expected id %v, got %v", i, want, obj["id"])
		}
	}
}
