package rpccache

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	cierrors "chainindex/pkg/errors"
	"chainindex/pkg/observability"
)

// ActionType names the retryable action categories spec.md §4.4 lists.
type ActionType string

const (
	ActionReadContract     ActionType = "read_contract"
	ActionMulticall        ActionType = "multicall"
	ActionSimulateContract ActionType = "simulate_contract"
	ActionBlockFetch       ActionType = "block_fetch"
	ActionTransactionFetch ActionType = "transaction_fetch"
	ActionReceiptFetch     ActionType = "receipt_fetch"
)

var retryableActions = map[ActionType]bool{
	ActionReadContract:     true,
	ActionMulticall:        true,
	ActionSimulateContract: true,
	ActionBlockFetch:       true,
	ActionTransactionFetch: true,
	ActionReceiptFetch:     true,
}

// CallOptions configures one request() call (spec.md §4.4).
type CallOptions struct {
	Action      ActionType
	BlockNumber uint64
	// DisableRetryEmptyResponse opts a call out of the retry policy for the
	// §7 RPC kinds (BlockNotFound, TransactionNotFound, ReceiptNotFound,
	// ZeroData). Retries are on by default, so the zero value of
	// CallOptions keeps the spec's default behavior.
	DisableRetryEmptyResponse bool
}

// Cache is the RPC Cache and Transport (spec.md §4.4). One Cache instance
// serves every chain id the run touches.
type Cache struct {
	mu      sync.Mutex
	slots   map[uint64]map[string]*slot // chainID -> fingerprint -> slot
	uncacheable map[string]struct{}

	transport Transport
	store     RequestStore
	breaker   *gobreaker.CircuitBreaker
	metrics   *observability.Metrics
	logger    *zap.Logger

	baseBackoff time.Duration
	maxRetries  uint64
}

// New constructs a Cache wrapping transport, backed by store for persistence.
func New(transport Transport, store RequestStore, metrics *observability.Metrics, logger *zap.Logger, baseBackoff time.Duration, maxRetries uint64) *Cache {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "chainindex-rpc",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &Cache{
		slots: make(map[uint64]map[string]*slot),
		// Uncacheable responses (spec.md §9's open question): "0x" for call
		// results, "<nil>" standing in for a null block fetch. Configurable
		// via SetUncacheable.
		uncacheable: map[string]struct{}{"0x": {}, "<nil>": {}},
		transport:   transport,
		store:       store,
		breaker:     breaker,
		metrics:     metrics,
		logger:      logger,
		baseBackoff: baseBackoff,
		maxRetries:  maxRetries,
	}
}

// SetUncacheable replaces the set of response strings that are never
// persisted, per spec.md §9's "surface this as a configurable set".
func (c *Cache) SetUncacheable(values []string) {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	c.uncacheable = m
}

func (c *Cache) chainSlots(chainID uint64) map[string]*slot {
	m, ok := c.slots[chainID]
	if !ok {
		m = make(map[string]*slot)
		c.slots[chainID] = m
	}
	return m
}

// Request implements spec.md §4.4's request(): consults the in-memory map,
// then the persistent store, then the upstream transport.
func (c *Cache) Request(ctx context.Context, chainID uint64, req Request, opts CallOptions) (string, error) {
	fp, err := Fingerprint(req)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	m := c.chainSlots(chainID)
	if existing, ok := m[fp]; ok {
		c.mu.Unlock()
		<-existing.done
		return existing.result, existing.err
	}
	pending := newPendingSlot()
	m[fp] = pending
	c.mu.Unlock()

	result, err := c.resolve(ctx, chainID, fp, req, opts)
	pending.resolve(result, err)
	return result, err
}

func (c *Cache) resolve(ctx context.Context, chainID uint64, fp string, req Request, opts CallOptions) (string, error) {
	if c.store != nil {
		if v, found, err := c.store.Get(ctx, chainID, fp, opts.BlockNumber); err == nil && found {
			return v, nil
		}
	}

	start := time.Now()
	v, err := c.breaker.Execute(func() (any, error) { return c.callUpstream(ctx, req, opts) })
	result, _ := v.(string)
	if c.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		c.metrics.RecordRPCRequest(req.Method, outcome, time.Since(start))
	}
	if err != nil {
		return "", err
	}

	if c.store != nil {
		if _, uncacheable := c.uncacheable[result]; !uncacheable {
			// Best-effort: persistence failures are swallowed (spec.md §5
			// "writes are best-effort... because the response is already
			// fulfilled to the handler").
			_ = c.store.Put(ctx, chainID, fp, opts.BlockNumber, result)
		}
	}
	return result, nil
}

// callUpstream wraps the transport call in the retry policy (spec.md §4.4).
// resolve runs each whole retry series through the circuit breaker (a dead
// node shouldn't stall every handler), so the breaker counts one failure per
// exhausted series rather than one per attempt.
func (c *Cache) callUpstream(ctx context.Context, req Request, opts CallOptions) (string, error) {
	call := func() (string, error) {
		return c.transport.Call(ctx, req.Method, req.Params)
	}

	if !retryableActions[opts.Action] {
		return call()
	}

	retryEmpty := !opts.DisableRetryEmptyResponse
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.baseBackoff
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0
	bo := backoff.WithMaxRetries(policy, c.maxRetries)

	var result string
	operation := func() error {
		v, err := call()
		if err == nil {
			result = v
			return nil
		}
		if !retryEmpty {
			return backoff.Permanent(err)
		}
		if isRetryableRPCError(err) {
			if c.metrics != nil {
				c.metrics.RecordRPCRetry(req.Method)
			}
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, bo); err != nil {
		return "", err
	}
	return result, nil
}

// isRetryableRPCError classifies errors matching BlockNotFound,
// TransactionNotFound, TransactionReceiptNotFound, or "returned no data"
// (spec.md §4.4) as retryable.
func isRetryableRPCError(err error) bool {
	switch cierrors.KindOf(err) {
	case cierrors.KindBlockNotFound, cierrors.KindTransactionNotFnd,
		cierrors.KindReceiptNotFound, cierrors.KindZeroData:
		return true
	default:
		return false
	}
}
