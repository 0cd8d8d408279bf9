package pattern_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainindex/internal/chainevent"
	"chainindex/internal/pattern"
)

func transferEvent(txFrom string, logAddr string) *chainevent.Event {
	return &chainevent.Event{
		Name:    "Transfer",
		Variant: chainevent.VariantLog,
		ChainID: 1,
		EventID: "ev-1",
		Transaction: &chainevent.Transaction{
			From: common.HexToAddress(txFrom),
		},
		Log: &chainevent.Log{
			Address: common.HexToAddress(logAddr),
		},
	}
}

func TestMatcher_Record_DerivesAddressFromEventField(t *testing.T) {
	// Arrange
	m := pattern.NewMatcher(1, 10)
	ev := transferEvent("0xaaaa000000000000000000000000000000aaaa", "0xbbbb000000000000000000000000000000bbbb")

	// Act: the observed call's address equals the log address, so record()
	// should discover a derived (non-constant) pattern rather than a constant.
	logAddrStr := common.HexToAddress("0xbbbb000000000000000000000000000000bbbb").Hex()
	p := m.Record("Transfer", ev, pattern.Call{Address: logAddrStr})

	// Assert
	require.NotNil(t, p)
	assert.False(t, p.HasConstant)
}

func TestMatcher_Record_FallsBackToConstantWhenNoFieldMatches(t *testing.T) {
	m := pattern.NewMatcher(1, 10)
	ev := transferEvent("0xaaaa000000000000000000000000000000aaaa", "0xbbbb000000000000000000000000000000bbbb")

	p := m.Record("Transfer", ev, pattern.Call{Address: "0xdeadbeef00000000000000000000000000dead"})

	require.NotNil(t, p)
	assert.True(t, p.HasConstant)
}

func TestMatcher_Record_ReusesExistingPatternOnSecondObservation(t *testing.T) {
	m := pattern.NewMatcher(1, 10)
	addr := common.HexToAddress("0xbbbb000000000000000000000000000000bbbb").Hex()

	ev1 := transferEvent("0xaaaa000000000000000000000000000000aaaa", "0xbbbb000000000000000000000000000000bbbb")
	p1 := m.Record("Transfer", ev1, pattern.Call{Address: addr})

	ev2 := transferEvent("0xcccc000000000000000000000000000000cccc", "0xbbbb000000000000000000000000000000bbbb")
	p2 := m.Record("Transfer", ev2, pattern.Call{Address: addr})

	assert.Same(t, p1, p2, "same derivable relationship should reuse the pattern")
}

func TestMatcher_Recover_SubstitutesFieldsFromNewEvent(t *testing.T) {
	m := pattern.NewMatcher(1, 10)
	addr1 := common.HexToAddress("0xbbbb000000000000000000000000000000bbbb").Hex()
	ev1 := transferEvent("0xaaaa000000000000000000000000000000aaaa", "0xbbbb000000000000000000000000000000bbbb")
	p := m.Record("Transfer", ev1, pattern.Call{Address: addr1})

	ev2 := transferEvent("0xcccc000000000000000000000000000000cccc", "0xdddd000000000000000000000000000000dddd")
	call, ok := pattern.Recover(p, ev2)

	require.True(t, ok)
	assert.Equal(t, common.HexToAddress("0xdddd000000000000000000000000000000dddd").Hex(), call.Address)
}

func TestMatcher_ExpectedValue_ScalesBySamplingRate(t *testing.T) {
	m := pattern.NewMatcher(2, 10)
	addr := common.HexToAddress("0xbbbb000000000000000000000000000000bbbb").Hex()
	ev := transferEvent("0xaaaa000000000000000000000000000000aaaa", "0xbbbb000000000000000000000000000000bbbb")

	// Four handler invocations at sampling rate 2: the 1st and 3rd are
	// sampled and recorded.
	var p *pattern.Pattern
	for i := 0; i < 4; i++ {
		if m.ShouldSample("Transfer") {
			p = m.Record("Transfer", ev, pattern.Call{Address: addr})
		}
	}

	// 2 sampled hits * sampling rate 2 / 4 events seen = 1.0
	got := m.ExpectedValue("Transfer", p)
	assert.Equal(t, 1.0, got)
}

func TestMatcher_ShouldSample_FirstCallAlwaysSampled(t *testing.T) {
	m := pattern.NewMatcher(10, 10)

	assert.True(t, m.ShouldSample("Transfer"))
}

func TestMatcher_ConstantLRU_EvictsOldestPastCapacity(t *testing.T) {
	m := pattern.NewMatcher(1, 2)

	for i := 0; i < 3; i++ {
		ev := transferEvent("0xaaaa000000000000000000000000000000aaaa", "0xbbbb000000000000000000000000000000bbbb")
		m.Record("Transfer", ev, pattern.Call{Address: "0xconstantvalue0000000000000000000000000" + string(rune('a'+i))})
	}

	patterns := m.PatternsForEvent("Transfer")
	assert.Len(t, patterns, 2, "the least recently used constant pattern is dropped once capacity 2 is exceeded")
}
