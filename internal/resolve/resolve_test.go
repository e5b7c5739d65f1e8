package resolve

import (
	"testing"

	"github.com/nulpointcorp/gateway-mesh/internal/specs"
)

var sampleSpec = &specs.Spec{
	APIURL: "https://orders.internal",
	Operations: []specs.Operation{
		{HTTPMethod: "GET", PathName: "/orders/", PathTemplate: "/orders/"},
		{HTTPMethod: "GET", PathName: "/orders/{uuid}/", PathTemplate: "/orders/{uuid}/"},
		{HTTPMethod: "GET", PathName: "/orders/{id}/", PathTemplate: "/orders/{id}/"},
	},
}

func TestResolve_NoPK(t *testing.T) {
	method, url, err := Resolve(sampleSpec, "GET", "/orders/", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if method != "GET" || url != "https://orders.internal/orders/" {
		t.Fatalf("got %s %s", method, url)
	}
}

func TestResolve_UUIDPK(t *testing.T) {
	uuidPK := "550e8400-e29b-41d4-a716-446655440000"
	_, url, err := Resolve(sampleSpec, "GET", "/orders/", uuidPK)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if url != "https://orders.internal/orders/"+uuidPK+"/" {
		t.Fatalf("got %s", url)
	}
}

func TestResolve_NumericPK(t *testing.T) {
	_, url, err := Resolve(sampleSpec, "GET", "/orders/", "42")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if url != "https://orders.internal/orders/42/" {
		t.Fatalf("got %s", url)
	}
}

func TestResolve_EndpointNotFound(t *testing.T) {
	_, _, err := Resolve(sampleSpec, "DELETE", "/orders/", "")
	if err == nil {
		t.Fatal("expected EndpointNotFound error")
	}
}

func TestIsUUID(t *testing.T) {
	cases := map[string]bool{
		"550e8400-e29b-41d4-a716-446655440000": true,
		"550E8400-E29B-41D4-A716-446655440000": true,
		"42":                                   false,
		"":                                     false,
		"550e8400e29b41d4a716446655440000":     false, // no hyphens
		"urn:uuid:550e8400-e29b-41d4-a716-446655440000": false,
		"550e8400-e29b-41d4-a716-44665544000g": false, // invalid hex
	}
	for s, want := range cases {
		if got := IsUUID(s); got != want {
			t.Errorf("IsUUID(%q) = %v, want %v", s, got, want)
		}
	}
}
