// Package chainevent defines the event vocabulary the Pattern Matcher and
// handlers operate on. It stands in for the out-of-scope decoder's output
// type (spec.md §1): the decoder is an external collaborator, but whatever
// it produces must speak this shape. Fields are modeled on go-ethereum's
// core/types (common.Address, common.Hash), since that is the wire
// vocabulary the rest of the retrieval pack's chain-indexer repos use.
package chainevent

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Variant identifies which arm of Event is populated.
type Variant string

const (
	VariantBlock       Variant = "block"
	VariantTransaction Variant = "transaction"
	VariantLog         Variant = "log"
	VariantTrace       Variant = "trace"
	VariantTransfer    Variant = "transfer"
)

// Block carries the block-level fields the Pattern Matcher can derive from
// (spec.md §4.3).
type Block struct {
	Hash      common.Hash
	Number    uint64
	Timestamp uint64
	Miner     common.Address
}

// Transaction carries the transaction-level fields.
type Transaction struct {
	Hash             common.Hash
	From             common.Address
	To               *common.Address
	TransactionIndex uint64
}

// Receipt carries the subset of receipt fields the matcher can derive from.
type Receipt struct {
	ContractAddress common.Address
}

// Log carries event-log fields.
type Log struct {
	Address  common.Address
	LogIndex uint64
	Topics   []common.Hash
}

// Trace carries call-trace fields.
type Trace struct {
	From common.Address
	To   common.Address
}

// Transfer carries native/token-transfer fields.
type Transfer struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// Event is one decoded on-chain occurrence. Name identifies the handler
// event name (e.g. "Transfer", "NewBlock") and is the key the Prefetch
// Controller and constant-pattern LRU index patterns under.
type Event struct {
	Name    string
	Variant Variant

	ChainID uint64
	EventID string

	Block       *Block
	Transaction *Transaction
	Receipt     *Receipt
	Log         *Log
	Trace       *Trace
	Transfer    *Transfer

	// Args and Result hold the decoded call arguments / return values;
	// named entries that are objects are matchable per spec.md §4.3, arrays
	// and nested objects are skipped.
	Args   map[string]any
	Result map[string]any

	// Checkpoint is this event's position in the stream (GLOSSARY), used by
	// the runtime for crash recovery and as the commit-boundary identifier.
	Checkpoint uint64
}
