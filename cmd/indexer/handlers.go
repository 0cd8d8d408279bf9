package main

import "chainindex/internal/runtime"

// registerHandlers is where a deployment wires its own event-name →
// row-mutation logic. None are registered by default; an event with no
// registered handler is a no-op (internal/runtime.Registry.Dispatch), which
// keeps this binary runnable against an empty schema for smoke-testing the
// rest of the pipeline (prefetch, flush, commit, checkpointing).
func registerHandlers(r *runtime.Registry) {
}
