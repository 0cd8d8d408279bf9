package pattern

import (
	"container/list"
	"sync"

	"chainindex/internal/chainevent"
)

// Matcher implements record/recover (spec.md §4.3) plus the statistics the
// Prefetch Controller consumes. One Matcher instance is shared across a run,
// keyed internally by event name.
type Matcher struct {
	mu sync.Mutex

	samplingRate int

	// allPatterns holds the patterns produced per event name, used as the
	// "known hint patterns" record() reconstructs against first. Patterns
	// without a constant atom are never dropped; a constant-bearing pattern
	// is removed from here when it falls out of constantLRU (spec.md §4.3
	// "Constant-pattern capacity").
	allPatterns map[string][]*Pattern

	// constantLRU bounds memory for patterns containing any constant atom,
	// per event name, to maxConstantPatternCount entries.
	constantLRU          map[string]*list.List // values are *Pattern
	maxConstantPatternCt int

	// eventsSeen counts handler invocations per event name (every
	// ShouldSample call, sampled or not), the denominator for the Prefetch
	// Controller's expected-value estimate.
	eventsSeen map[string]uint64
	callCount  map[string]uint64 // per event name: ShouldSample calls, driving the sampling cadence
}

// NewMatcher constructs a Matcher. samplingRate and maxConstantPatternCount
// correspond to spec.md §6's samplingRate [10] and maxConstantPatternCount
// [10] configuration values.
func NewMatcher(samplingRate, maxConstantPatternCount int) *Matcher {
	return &Matcher{
		samplingRate:         samplingRate,
		allPatterns:          make(map[string][]*Pattern),
		constantLRU:          make(map[string]*list.List),
		maxConstantPatternCt: maxConstantPatternCount,
		eventsSeen:           make(map[string]uint64),
		callCount:            make(map[string]uint64),
	}
}

// Record implements spec.md §4.3's record(event, call) operation. key is the
// namespaced event name the caller will later look patterns up under (e.g.
// "row:holders:Transfer" or "rpc:Transfer") — it must match what
// PatternsForEvent/ExpectedValue/ShouldSample are called with, since
// eventsSeen/allPatterns are indexed by key, not by ev.Name. Record is only
// actually invoked on a 1-in-samplingRate sample of handler calls; callers
// decide sampling via ShouldSample, keeping the hot path cheap.
func (m *Matcher) Record(key string, ev *chainevent.Event, call Call) *Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, hint := range m.allPatterns[key] {
		recon, ok := reconstruct(hint, ev)
		if ok && recon.Address == call.Address && argsEqual(recon.Args, call.Args) {
			hint.hits++
			if hint.HasConstant {
				m.touchConstantLRU(key, hint)
			}
			return hint
		}
	}

	candidates := candidateExprs(ev)
	addrAtom := matchValue(call.Address, candidates, ev)
	argAtoms := make([]Atom, len(call.Args))
	for i, a := range call.Args {
		argAtoms[i] = matchValue(a, candidates, ev)
	}

	p := &Pattern{
		Address:        addrAtom,
		Args:           argAtoms,
		FunctionName:   call.FunctionName,
		ABIFingerprint: call.ABIFingerprint,
		Immutable:      call.Immutable,
		hits:           1,
	}
	p.HasConstant = addrAtom.isConstant()
	for _, a := range argAtoms {
		p.HasConstant = p.HasConstant || a.isConstant()
	}

	m.allPatterns[key] = append(m.allPatterns[key], p)
	if p.HasConstant {
		m.touchConstantLRU(key, p)
	}
	return p
}

// touchConstantLRU inserts/refreshes p at the front of ev.Name's
// constant-pattern LRU, evicting the oldest entry past capacity (spec.md
// §4.3 "held in a per-event-name LRU of at most 10"). An evicted pattern is
// also removed from allPatterns.
func (m *Matcher) touchConstantLRU(eventName string, p *Pattern) {
	l, ok := m.constantLRU[eventName]
	if !ok {
		l = list.New()
		m.constantLRU[eventName] = l
	}
	for e := l.Front(); e != nil; e = e.Next() {
		if e.Value.(*Pattern) == p {
			l.MoveToFront(e)
			return
		}
	}
	l.PushFront(p)
	for l.Len() > m.maxConstantPatternCt {
		evicted := l.Remove(l.Back()).(*Pattern)
		kept := m.allPatterns[eventName][:0]
		for _, q := range m.allPatterns[eventName] {
			if q != evicted {
				kept = append(kept, q)
			}
		}
		m.allPatterns[eventName] = kept
	}
}

func argsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Recover implements spec.md §4.3's recover(pattern, event) operation:
// straightforward substitution from event.
func Recover(p *Pattern, ev *chainevent.Event) (Call, bool) {
	return reconstruct(p, ev)
}

// ShouldSample reports whether the n-th invocation of this event name should
// be recorded, implementing the "1-in-SAMPLING_RATE sample" rule: the 1st,
// (rate+1)-th, (2*rate+1)-th, ... invocation is sampled. samplingRate == 1
// must sample every call, so the check is on (n-1), not n.
func (m *Matcher) ShouldSample(eventName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsSeen[eventName]++
	m.callCount[eventName]++
	return (m.callCount[eventName]-1)%uint64(m.samplingRate) == 0
}

// PatternsForEvent returns every pattern recorded under name, for the
// Prefetch Controller to recover() against future events of the same name.
func (m *Matcher) PatternsForEvent(name string) []*Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Pattern, len(m.allPatterns[name]))
	copy(out, m.allPatterns[name])
	return out
}

// ExpectedValue implements spec.md §4.3's statistics formula:
// (count × SAMPLING_RATE) / events_seen_for_this_event_name.
func (m *Matcher) ExpectedValue(eventName string, p *Pattern) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := m.eventsSeen[eventName]
	if seen == 0 {
		return 0
	}
	return float64(p.hits*uint64(m.samplingRate)) / float64(seen)
}
