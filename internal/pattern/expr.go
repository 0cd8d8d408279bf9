// Package pattern implements the Pattern Matcher (spec.md §4.3): given an
// event and a read-contract request, discovers whether the request's
// address/arguments derive deterministically from event fields, and emits a
// reusable pattern. Used both for RPC calls (§4.4) and for row-access
// patterns (§4.7) — the caller decides what "address" and "args" mean.
package pattern

import (
	"fmt"
	"strconv"
	"strings"

	"chainindex/internal/chainevent"
)

// Bucket is a monotone integer transform applied to a timestamp-shaped
// field, per spec.md §4.3 ("divide by 60, 3600, or 86400").
type Bucket int

const (
	BucketNone Bucket = 0
	Bucket60   Bucket = 60
	Bucket3600 Bucket = 3600
	Bucket86400 Bucket = 86400
)

// Expr is a derived expression: a non-empty event-relative field accessor
// (namespace.field), optionally bucketed. Modeled as a tagged struct, not an
// arbitrary string eval'd at runtime, per spec.md §9's explicit instruction.
type Expr struct {
	Namespace string
	Field     string
	Bucket    Bucket
}

func (e Expr) String() string {
	if e.Bucket != BucketNone {
		return fmt.Sprintf("%s.%s/%d", e.Namespace, e.Field, e.Bucket)
	}
	return fmt.Sprintf("%s.%s", e.Namespace, e.Field)
}

// candidateExprs enumerates every event field the matcher may derive from,
// in the priority order spec.md §4.3 specifies: chain_id; event id; then per
// variant the listed fields; timestamp additionally offers three bucketed
// variants.
func candidateExprs(ev *chainevent.Event) []Expr {
	var out []Expr
	out = append(out, Expr{Namespace: "chain_id", Field: "chain_id"})
	out = append(out, Expr{Namespace: "event", Field: "id"})

	if ev.Block != nil {
		out = append(out,
			Expr{Namespace: "block", Field: "hash"},
			Expr{Namespace: "block", Field: "number"},
			Expr{Namespace: "block", Field: "timestamp"},
			Expr{Namespace: "block", Field: "timestamp", Bucket: Bucket60},
			Expr{Namespace: "block", Field: "timestamp", Bucket: Bucket3600},
			Expr{Namespace: "block", Field: "timestamp", Bucket: Bucket86400},
			Expr{Namespace: "block", Field: "miner"},
		)
	}
	if ev.Transaction != nil {
		out = append(out,
			Expr{Namespace: "transaction", Field: "hash"},
			Expr{Namespace: "transaction", Field: "from"},
			Expr{Namespace: "transaction", Field: "to"},
			Expr{Namespace: "transaction", Field: "transactionIndex"},
		)
	}
	if ev.Receipt != nil {
		out = append(out, Expr{Namespace: "receipt", Field: "contractAddress"})
	}
	if ev.Log != nil {
		out = append(out,
			Expr{Namespace: "log", Field: "address"},
			Expr{Namespace: "log", Field: "logIndex"},
		)
	}
	if ev.Trace != nil {
		out = append(out,
			Expr{Namespace: "trace", Field: "from"},
			Expr{Namespace: "trace", Field: "to"},
		)
	}
	if ev.Transfer != nil {
		out = append(out,
			Expr{Namespace: "transfer", Field: "from"},
			Expr{Namespace: "transfer", Field: "to"},
		)
	}
	for name, v := range ev.Args {
		if isMatchableScalar(v) {
			out = append(out, Expr{Namespace: "args", Field: name})
		}
	}
	for name, v := range ev.Result {
		if isMatchableScalar(v) {
			out = append(out, Expr{Namespace: "result", Field: name})
		}
	}
	return out
}

// isMatchableScalar implements spec.md §4.3's "skipping arrays and nested
// objects" rule for named args/result entries.
func isMatchableScalar(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	default:
		return true
	}
}

// Resolve evaluates expr against ev, returning its value and whether the
// field is present for this event's variant.
func Resolve(expr Expr, ev *chainevent.Event) (any, bool) {
	var raw any
	switch expr.Namespace {
	case "chain_id":
		raw = ev.ChainID
	case "event":
		raw = ev.EventID
	case "block":
		if ev.Block == nil {
			return nil, false
		}
		switch expr.Field {
		case "hash":
			raw = ev.Block.Hash
		case "number":
			raw = ev.Block.Number
		case "timestamp":
			raw = ev.Block.Timestamp
		case "miner":
			raw = ev.Block.Miner
		default:
			return nil, false
		}
	case "transaction":
		if ev.Transaction == nil {
			return nil, false
		}
		switch expr.Field {
		case "hash":
			raw = ev.Transaction.Hash
		case "from":
			raw = ev.Transaction.From
		case "to":
			if ev.Transaction.To == nil {
				return nil, false
			}
			raw = *ev.Transaction.To
		case "transactionIndex":
			raw = ev.Transaction.TransactionIndex
		default:
			return nil, false
		}
	case "receipt":
		if ev.Receipt == nil {
			return nil, false
		}
		if expr.Field != "contractAddress" {
			return nil, false
		}
		raw = ev.Receipt.ContractAddress
	case "log":
		if ev.Log == nil {
			return nil, false
		}
		switch expr.Field {
		case "address":
			raw = ev.Log.Address
		case "logIndex":
			raw = ev.Log.LogIndex
		default:
			return nil, false
		}
	case "trace":
		if ev.Trace == nil {
			return nil, false
		}
		switch expr.Field {
		case "from":
			raw = ev.Trace.From
		case "to":
			raw = ev.Trace.To
		default:
			return nil, false
		}
	case "transfer":
		if ev.Transfer == nil {
			return nil, false
		}
		switch expr.Field {
		case "from":
			raw = ev.Transfer.From
		case "to":
			raw = ev.Transfer.To
		default:
			return nil, false
		}
	case "args":
		v, ok := ev.Args[expr.Field]
		if !ok {
			return nil, false
		}
		raw = v
	case "result":
		v, ok := ev.Result[expr.Field]
		if !ok {
			return nil, false
		}
		raw = v
	default:
		return nil, false
	}
	if expr.Bucket != BucketNone {
		ts, ok := toUint64(raw)
		if !ok {
			return nil, false
		}
		return ts / uint64(expr.Bucket), true
	}
	return raw, true
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		return uint64(n), true
	case int:
		return uint64(n), true
	case string:
		parsed, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// canonicalString renders a resolved value to a comparable string, the same
// representation used for cache-key equality (spec.md §4.3 "cache-key
// equal").
func canonicalString(v any) string {
	return strings.TrimSpace(fmt.Sprintf("%v", v))
}
