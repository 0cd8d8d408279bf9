package rpccache

import "context"

// Transport is the upstream JSON-RPC 2.0 collaborator (spec.md §6),
// implemented by internal/chainrpc against go-ethereum's rpc.Client.
type Transport interface {
	Call(ctx context.Context, method string, params []any) (string, error)
}

// RequestStore is the persistent request-result store (spec.md §4.4, §6),
// implemented by internal/reqstore against bbolt.
type RequestStore interface {
	Get(ctx context.Context, chainID uint64, fingerprint string, blockNumber uint64) (string, bool, error)
	GetBatch(ctx context.Context, chainID uint64, keys []RequestKey) (map[RequestKey]string, error)
	Put(ctx context.Context, chainID uint64, fingerprint string, blockNumber uint64, response string) error
}

// RequestKey identifies one row of the persistent request-result store:
// (chain_id, fingerprint, block_number), per spec.md §6.
type RequestKey struct {
	Fingerprint string
	BlockNumber uint64
}
