package rpccache

import "context"

// PredictedCall is one call the Prefetch Controller's pattern recovery
// predicted for an upcoming event, with its expected-value estimate
// (spec.md §4.4 prefetch steps 2-3).
type PredictedCall struct {
	ChainID           uint64
	Request           Request
	Options           CallOptions
	ExpectedValue     float64
}

// Prefetch implements spec.md §4.4's prefetch(events) dispatch rules, given
// calls already deduplicated by canonical fingerprint with summed expected
// values (deduplication itself is the Prefetch Controller's job, since it
// must reason across multiple events at once). dbThreshold/rpcThreshold are
// the configured dbPredictionThreshold/rpcPredictionThreshold (spec.md §6).
func (c *Cache) Prefetch(ctx context.Context, calls []PredictedCall, dbThreshold, rpcThreshold float64) {
	var bulkLookup []PredictedCall
	for _, call := range calls {
		if call.ExpectedValue > dbThreshold {
			bulkLookup = append(bulkLookup, call)
		}
	}
	if len(bulkLookup) == 0 || c.store == nil {
		c.dispatchHighValueMisses(ctx, calls, nil, rpcThreshold)
		return
	}

	keys := make([]RequestKey, 0, len(bulkLookup))
	fpToCall := make(map[string]PredictedCall, len(bulkLookup))
	for _, call := range bulkLookup {
		fp, err := Fingerprint(call.Request)
		if err != nil {
			continue
		}
		keys = append(keys, RequestKey{Fingerprint: fp, BlockNumber: call.Options.BlockNumber})
		fpToCall[fp] = call
	}

	hits, err := c.store.GetBatch(ctx, bulkLookup[0].ChainID, keys)
	if err != nil {
		hits = nil
	}
	foundFingerprints := make(map[string]bool, len(hits))
	for key, value := range hits {
		foundFingerprints[key.Fingerprint] = true
		call := fpToCall[key.Fingerprint]
		c.mu.Lock()
		m := c.chainSlots(call.ChainID)
		if _, exists := m[key.Fingerprint]; !exists {
			m[key.Fingerprint] = concreteSlot(value, nil)
		}
		c.mu.Unlock()
	}

	c.dispatchHighValueMisses(ctx, calls, foundFingerprints, rpcThreshold)
}

// dispatchHighValueMisses implements the EV > 0.8 branch: calls whose store
// lookup missed (or was never attempted because EV <= dbThreshold) and whose
// EV exceeds rpcThreshold are dispatched upstream immediately, their
// promises inserted into the in-memory map but NOT awaited. foundFingerprints
// is nil when no bulk lookup ran at all.
func (c *Cache) dispatchHighValueMisses(ctx context.Context, calls []PredictedCall, foundFingerprints map[string]bool, rpcThreshold float64) {
	for _, call := range calls {
		if call.ExpectedValue <= rpcThreshold {
			continue
		}
		fp, err := Fingerprint(call.Request)
		if err != nil {
			continue
		}
		if foundFingerprints != nil && foundFingerprints[fp] {
			continue
		}

		c.mu.Lock()
		m := c.chainSlots(call.ChainID)
		if _, exists := m[fp]; exists {
			c.mu.Unlock()
			continue
		}
		pending := newPendingSlot()
		m[fp] = pending
		c.mu.Unlock()

		// Errors here are swallowed into the slot itself (spec.md §4.4
		// "The prefetch never fails the batch"); they surface only if a
		// handler later actually dereferences this fingerprint.
		go func(chainID uint64, fp string, req Request, opts CallOptions, pending *slot) {
			result, err := c.resolve(ctx, chainID, fp, req, opts)
			pending.resolve(result, err)
		}(call.ChainID, fp, call.Request, call.Options, pending)
	}
}
