// Package rpccache implements the RPC Cache and Transport (spec.md §4.4): a
// per-chain map from canonical request fingerprint to a response (or an
// in-flight future), wrapping an upstream transport with multicall
// batching, persistent storage, and retry classification.
package rpccache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Request is one JSON-RPC request this package fingerprints and caches.
type Request struct {
	Method string
	Params []any
}

// Fingerprint implements spec.md §6's canonical request fingerprint:
// lowercase(json_stringify(sort_keys(request))). This is the sole key
// identity used across the in-memory, persistent, and prefetch maps.
func Fingerprint(req Request) (string, error) {
	sorted := sortKeys(map[string]any{
		"method": req.Method,
		"params": req.Params,
	})
	b, err := json.Marshal(sorted)
	if err != nil {
		return "", fmt.Errorf("rpccache: fingerprint: %w", err)
	}
	return strings.ToLower(string(b)), nil
}

// sortKeys recursively copies maps and slices, visiting map keys in sorted
// order. The copies are plain Go maps, which carry no order of their own:
// the canonical key order in the fingerprint comes from encoding/json, which
// writes map[string] keys sorted at every nesting level, so two
// semantically-identical requests with differently-ordered object keys
// fingerprint identically.
func sortKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(x))
		for _, k := range keys {
			out[k] = sortKeys(x[k])
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = sortKeys(e)
		}
		return out
	default:
		return x
	}
}
