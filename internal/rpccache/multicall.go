package rpccache

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// aggregate3Selector is the 4-byte selector of Multicall3.aggregate3((address,
// bool,bytes)[]), the call-data signature spec.md §4.4/§6 names explicitly.
const aggregate3Selector = "82ad56cb"

// call3 mirrors Multicall3's Call3 struct: {target, allowFailure, callData}.
type call3 struct {
	Target       [20]byte
	AllowFailure bool
	CallData     []byte
}

var aggregate3Args = mustArguments(
	abi.Argument{Name: "calls", Type: mustType("(address,bool,bytes)[]")},
)

var aggregate3ResultArgs = mustArguments(
	abi.Argument{Name: "returnData", Type: mustType("(bool,bytes)[]")},
)

func mustType(s string) abi.Type {
	t, err := abi.NewType(s, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

func mustArguments(args ...abi.Argument) abi.Arguments {
	return abi.Arguments(args)
}

// isAggregate3 reports whether data's 4-byte selector matches aggregate3.
func isAggregate3(data string) bool {
	data = strings.TrimPrefix(data, "0x")
	return len(data) >= 8 && strings.EqualFold(data[:8], aggregate3Selector)
}

// splitAggregate3 decodes an aggregate3 call's call-data into its individual
// sub-calls, per spec.md §4.4's multicall fast path.
func splitAggregate3(data string) ([]call3, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x")[8:])
	if err != nil {
		return nil, fmt.Errorf("rpccache: decode aggregate3 calldata: %w", err)
	}
	values, err := aggregate3Args.Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("rpccache: unpack aggregate3 calldata: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("rpccache: unexpected aggregate3 arity %d", len(values))
	}
	// abi.Unpack returns a slice of anonymous structs matching the tuple
	// shape; re-marshal through call3 via reflection-free field access is
	// not available generically, so we re-pack field by field.
	raw0, ok := values[0].([]struct {
		Target       [20]byte
		AllowFailure bool
		CallData     []byte
	})
	if !ok {
		return nil, fmt.Errorf("rpccache: unexpected aggregate3 decoded type %T", values[0])
	}
	calls := make([]call3, len(raw0))
	for i, c := range raw0 {
		calls[i] = call3{Target: c.Target, AllowFailure: c.AllowFailure, CallData: c.CallData}
	}
	return calls, nil
}

// encodeAggregate3 packs calls back into aggregate3 call-data, for
// re-submitting a reduced multicall containing only the sub-calls that
// missed every lookup.
func encodeAggregate3(calls []call3) (string, error) {
	packed, err := aggregate3Args.Pack(toAggregate3Values(calls))
	if err != nil {
		return "", fmt.Errorf("rpccache: pack aggregate3 calldata: %w", err)
	}
	return "0x" + aggregate3Selector + hex.EncodeToString(packed), nil
}

func toAggregate3Values(calls []call3) []struct {
	Target       [20]byte
	AllowFailure bool
	CallData     []byte
} {
	out := make([]struct {
		Target       [20]byte
		AllowFailure bool
		CallData     []byte
	}, len(calls))
	for i, c := range calls {
		out[i].Target = c.Target
		out[i].AllowFailure = c.AllowFailure
		out[i].CallData = c.CallData
	}
	return out
}

// decodeAggregate3Response unpacks an aggregate3 response's
// (bool success, bytes returnData)[] shape into one hex string per sub-call,
// in call order.
func decodeAggregate3Response(hexData string) ([]string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexData, "0x"))
	if err != nil {
		return nil, fmt.Errorf("rpccache: decode aggregate3 response: %w", err)
	}
	values, err := aggregate3ResultArgs.Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("rpccache: unpack aggregate3 response: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("rpccache: unexpected aggregate3 response arity %d", len(values))
	}
	raw0, ok := values[0].([]struct {
		Success    bool
		ReturnData []byte
	})
	if !ok {
		return nil, fmt.Errorf("rpccache: unexpected aggregate3 response decoded type %T", values[0])
	}
	out := make([]string, len(raw0))
	for i, r := range raw0 {
		out[i] = "0x" + hex.EncodeToString(r.ReturnData)
	}
	return out, nil
}

// fingerprintForSubcall builds the per-sub-call Request the cache dedupes
// each multicall entry against, so a sub-call already cached (from a prior
// multicall, or from a direct eth_call) is never re-sent upstream.
func fingerprintForSubcall(c call3) Request {
	return Request{
		Method: "eth_call",
		Params: []any{map[string]any{
			"to":   "0x" + hex.EncodeToString(c.Target[:]),
			"data": "0x" + hex.EncodeToString(c.CallData),
		}},
	}
}

// RequestMulticall implements spec.md §4.4's multicall fast path: each inner
// sub-call is looked up individually; only uncached sub-calls are
// re-assembled into a reduced aggregate3 and sent upstream; the response is
// rebuilt in the original order.
func (c *Cache) RequestMulticall(ctx context.Context, chainID uint64, req Request, opts CallOptions) (string, error) {
	if len(req.Params) == 0 {
		return c.Request(ctx, chainID, req, opts)
	}
	paramMap, ok := req.Params[0].(map[string]any)
	if !ok {
		return c.Request(ctx, chainID, req, opts)
	}
	data, _ := paramMap["data"].(string)
	if !isAggregate3(data) {
		return c.Request(ctx, chainID, req, opts)
	}

	calls, err := splitAggregate3(data)
	if err != nil {
		// Fall back to sending the whole multicall upstream unsplit rather
		// than failing the batch outright.
		return c.Request(ctx, chainID, req, opts)
	}

	results := make([]string, len(calls))
	var missing []int
	for i, call := range calls {
		subReq := fingerprintForSubcall(call)
		fp, err := Fingerprint(subReq)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		existing, found := c.chainSlots(chainID)[fp]
		c.mu.Unlock()
		if found {
			<-existing.done
			if existing.err == nil {
				results[i] = existing.result
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		reducedCalls := make([]call3, len(missing))
		for idx, i := range missing {
			reducedCalls[idx] = calls[i]
		}
		reducedData, err := encodeAggregate3(reducedCalls)
		if err != nil {
			return "", err
		}
		reducedParams := make(map[string]any, len(paramMap))
		for k, v := range paramMap {
			reducedParams[k] = v
		}
		reducedParams["data"] = reducedData
		reducedReq := Request{Method: req.Method, Params: []any{reducedParams}}

		respData, err := c.Request(ctx, chainID, reducedReq, opts)
		if err != nil {
			return "", err
		}
		decoded, err := decodeAggregate3Response(respData)
		if err != nil {
			return "", err
		}
		if len(decoded) != len(missing) {
			return "", fmt.Errorf("rpccache: reduced aggregate3 returned %d results, want %d", len(decoded), len(missing))
		}
		for idx, i := range missing {
			results[i] = decoded[idx]
			c.cacheSubcallResult(ctx, chainID, fingerprintForSubcall(calls[i]), decoded[idx], opts.BlockNumber)
		}
	}

	return rebuildAggregate3Response(results), nil
}

// cacheSubcallResult installs one sub-call's result from a reduced
// aggregate3 response into the in-memory map and persistent store, so a
// later request for the same sub-call (standalone or inside another
// multicall) hits without a further round-trip.
func (c *Cache) cacheSubcallResult(ctx context.Context, chainID uint64, subReq Request, result string, blockNumber uint64) {
	fp, err := Fingerprint(subReq)
	if err != nil {
		return
	}
	c.mu.Lock()
	m := c.chainSlots(chainID)
	if _, exists := m[fp]; !exists {
		m[fp] = concreteSlot(result, nil)
	}
	c.mu.Unlock()

	if c.store != nil {
		if _, uncacheable := c.uncacheable[result]; !uncacheable {
			_ = c.store.Put(ctx, chainID, fp, blockNumber, result)
		}
	}
}

// rebuildAggregate3Response reassembles the per-sub-call results into the
// shape an aggregate3 caller expects: a JSON array of {success, returnData}.
func rebuildAggregate3Response(results []string) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, r := range results {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"success":true,"returnData":%q}`, r)
	}
	b.WriteByte(']')
	return b.String()
}
