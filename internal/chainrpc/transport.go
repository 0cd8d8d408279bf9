// Package chainrpc implements the upstream JSON-RPC 2.0 transport
// (spec.md §6) that internal/rpccache wraps, using go-ethereum's rpc.Client.
package chainrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	cierrors "chainindex/pkg/errors"
)

// Client adapts a go-ethereum rpc.Client to internal/rpccache.Transport.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to endpoint (http(s):// or ws(s)://).
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	c, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("chainrpc: dial %s: %w", endpoint, err)
	}
	return &Client{rpc: c}, nil
}

// Call implements rpccache.Transport: issues one JSON-RPC request and
// returns the raw result as a string, classifying known "not found" error
// messages into the §7 taxonomy so the retry policy can recognize them.
func (c *Client) Call(ctx context.Context, method string, params []any) (string, error) {
	var raw json.RawMessage
	if err := c.rpc.CallContext(ctx, &raw, method, params...); err != nil {
		return "", classifyError(method, err)
	}
	if raw == nil {
		return "<nil>", nil
	}
	// Unquote a bare JSON string result (e.g. eth_call's hex return value);
	// otherwise return the raw JSON text as-is (objects/arrays for block
	// and receipt fetches).
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	return string(raw), nil
}

// Close releases the underlying connection.
func (c *Client) Close() { c.rpc.Close() }

// classifyError maps upstream error text to the RPC kinds spec.md §4.4/§7
// name explicitly. Node implementations vary in exact wording; this matches
// on the substrings every major client (geth, erigon) is known to emit.
func classifyError(method string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "header not found"),
		strings.Contains(msg, "block") && (strings.Contains(msg, "not found") || strings.Contains(msg, "not exist")):
		return cierrors.Wrap(cierrors.KindBlockNotFound, method, err)
	case strings.Contains(msg, "transaction") && strings.Contains(msg, "not found"):
		return cierrors.Wrap(cierrors.KindTransactionNotFnd, method, err)
	case strings.Contains(msg, "receipt") && strings.Contains(msg, "not found"):
		return cierrors.Wrap(cierrors.KindReceiptNotFound, method, err)
	case strings.Contains(msg, "no data") || strings.Contains(msg, "returned no data"):
		return cierrors.Wrap(cierrors.KindZeroData, method, err)
	default:
		return err
	}
}
