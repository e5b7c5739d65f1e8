// Package assemble implements the response assembler: it serializes
// the (possibly join-mutated) primary payload back to bytes.
package assemble

import (
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/gateway-mesh/internal/datamesh"
)

// Marshal serializes v to JSON. Object and Array values round-trip through
// encoding/json natively, since they are already map[string]any/[]any —
// the same representation encoding/json itself produces and consumes.
// Scalar values that hold raw, non-JSON upstream bytes ([]byte) pass
// through untouched rather than being re-encoded as a JSON string.
func Marshal(v datamesh.Value) ([]byte, error) {
	switch v.Kind {
	case datamesh.KindObject:
		pruneNilSlots(v.Object)
		return json.Marshal(v.Object)
	case datamesh.KindArray:
		pruneNilSlotsInSlice(v.Array)
		return json.Marshal(v.Array)
	default:
		if raw, ok := v.Scalar.([]byte); ok {
			return raw, nil
		}
		b, err := json.Marshal(v.Scalar)
		if err != nil {
			return nil, fmt.Errorf("assemble: marshal scalar: %w", err)
		}
		return b, nil
	}
}

// pruneNilSlots walks record, removing nil entries (left by a failed join
// sub-request) from any relationship slice found directly on it, and
// recurses into nested records (including a "results" envelope) so the
// caller never observes a hole anywhere in the payload.
func pruneNilSlots(record map[string]any) {
	for key, val := range record {
		switch v := val.(type) {
		case []any:
			pruned := make([]any, 0, len(v))
			for _, item := range v {
				if item == nil {
					continue
				}
				if obj, ok := item.(map[string]any); ok {
					pruneNilSlots(obj)
				}
				pruned = append(pruned, item)
			}
			record[key] = pruned
		case map[string]any:
			pruneNilSlots(v)
		}
	}
}

func pruneNilSlotsInSlice(items []any) {
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			pruneNilSlots(obj)
		}
	}
}
