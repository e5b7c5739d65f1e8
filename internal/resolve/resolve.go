// Package resolve implements the operation resolver: given an inbound
// (method, model, pk) it computes the templated path the upstream's
// OpenAPI document is expected to declare, looks up the matching
// operation, and returns the concrete upstream method and URL.
package resolve

import (
	"fmt"
	"strings"

	"github.com/nulpointcorp/gateway-mesh/internal/gwerr"
	"github.com/nulpointcorp/gateway-mesh/internal/specs"
)

// Resolve computes the outbound HTTP method and URL for an inbound call
// against model, given an optional pk. modelPath is the LogicModuleModel's
// Endpoint, e.g. "/orders/".
func Resolve(spec *specs.Spec, method, modelPath, pk string) (httpMethod, url string, err error) {
	template := pathTemplate(modelPath, pk)

	op, ok := findOperation(spec, method, template)
	if !ok {
		return "", "", gwerr.New(gwerr.KindEndpointNotFound,
			fmt.Sprintf("%s %s", method, template), nil)
	}

	finalPath := op.PathName
	if pk != "" {
		finalPath = substitutePK(finalPath, pk)
	}

	return op.HTTPMethod, spec.APIURL + finalPath, nil
}

// pathTemplate builds the inbound path template:
//   - no pk            → /{model}/
//   - pk is a UUID     → /{model}/{uuid}/
//   - otherwise        → /{model}/{id}/
func pathTemplate(modelPath, pk string) string {
	base := strings.TrimSuffix(modelPath, "/")
	switch {
	case pk == "":
		return base + "/"
	case IsUUID(pk):
		return base + "/{uuid}/"
	default:
		return base + "/{id}/"
	}
}

func findOperation(spec *specs.Spec, method, template string) (specs.Operation, bool) {
	method = strings.ToUpper(method)
	for _, op := range spec.Operations {
		if op.HTTPMethod == method && op.PathTemplate == template {
			return op, true
		}
	}
	return specs.Operation{}, false
}

// substitutePK replaces the single {uuid} or {id} placeholder in pathName
// with the literal pk value.
func substitutePK(pathName, pk string) string {
	for _, placeholder := range []string{"{uuid}", "{id}"} {
		if strings.Contains(pathName, placeholder) {
			return strings.Replace(pathName, placeholder, pk, 1)
		}
	}
	return pathName
}

// IsUUID reports whether s is a canonical 8-4-4-4-12 hexadecimal UUID
// string (hyphens required at exactly those positions). This is
// deliberately stricter than uuid.Parse, which also accepts
// non-hyphenated and URN ("urn:uuid:...") forms — accepting those here
// would misclassify some numeric-looking identifiers as UUIDs.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, r := range s {
		switch i {
		case 8, 13, 18, 23:
			if r != '-' {
				return false
			}
		default:
			if !isHex(r) {
				return false
			}
		}
	}
	return true
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
