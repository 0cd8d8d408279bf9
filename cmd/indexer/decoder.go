package main

import (
	"context"

	"chainindex/internal/runtime"
)

// Decoder produces the batches the runtime driver consumes. The decoder
// itself — turning raw chain data into chainevent.Event values — is out of
// scope (spec.md §1 "Out of scope"); this type is the seam a real decoder
// implementation plugs into.
type Decoder interface {
	Batches(ctx context.Context) <-chan runtime.Batch
}

// nullDecoder never produces a batch; it exists so this binary links and
// runs (serving metrics, holding the DB pool, accepting shutdown signals)
// before a real decoder is wired in.
type nullDecoder struct{ fromCheckpoint uint64 }

func newDecoder(fromCheckpoint uint64) Decoder {
	return &nullDecoder{fromCheckpoint: fromCheckpoint}
}

func (d *nullDecoder) Batches(ctx context.Context) <-chan runtime.Batch {
	ch := make(chan runtime.Batch)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}
