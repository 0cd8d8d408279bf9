package pattern

import (
	"strings"

	"chainindex/internal/chainevent"
)

// concatDelimiters is the fixed trial order spec.md §9 says must be
// preserved exactly: "- _ : # $".
var concatDelimiters = []byte{'-', '_', ':', '#', '$'}

// AtomKind discriminates the three shapes a PatternAtom can take.
type AtomKind int

const (
	AtomConstant AtomKind = iota
	AtomDerived
	AtomConcat
)

// Atom is a pattern atom (spec.md §4.3): either a constant value, a derived
// expression, or a delimited concatenation of several derived expressions.
type Atom struct {
	Kind     AtomKind
	Constant string
	Derived  Expr
	Delim    byte
	Parts    []Expr
}

func (a Atom) isConstant() bool { return a.Kind == AtomConstant }

// Call is a parameterized request: an address-shaped primary value plus
// zero or more further arguments. The same shape serves RPC calls (§4.4) and
// row-access lookups (§4.7) — callers decide what "address"/"args" mean for
// their domain (a contract address and call args, or a primary-key value and
// its remaining components).
type Call struct {
	Address          string
	Args             []string
	FunctionName     string
	ABIFingerprint   string
	Immutable        bool
	RetryEmptyResult bool
}

// Pattern is a reusable, learned template relating an event to a Call
// (spec.md §4.3, GLOSSARY).
type Pattern struct {
	Address        Atom
	Args           []Atom
	FunctionName   string
	ABIFingerprint string
	Immutable      bool
	HasConstant    bool

	hits uint64
}

// reconstruct substitutes event field values into every atom of p, producing
// the Call p would recover for this specific event.
func reconstruct(p *Pattern, ev *chainevent.Event) (Call, bool) {
	addr, ok := resolveAtom(p.Address, ev)
	if !ok {
		return Call{}, false
	}
	args := make([]string, len(p.Args))
	for i, a := range p.Args {
		v, ok := resolveAtom(a, ev)
		if !ok {
			return Call{}, false
		}
		args[i] = v
	}
	return Call{
		Address:        addr,
		Args:           args,
		FunctionName:   p.FunctionName,
		ABIFingerprint: p.ABIFingerprint,
		Immutable:      p.Immutable,
	}, true
}

func resolveAtom(a Atom, ev *chainevent.Event) (string, bool) {
	switch a.Kind {
	case AtomConstant:
		return a.Constant, true
	case AtomDerived:
		v, ok := Resolve(a.Derived, ev)
		if !ok {
			return "", false
		}
		return canonicalString(v), true
	case AtomConcat:
		parts := make([]string, len(a.Parts))
		for i, expr := range a.Parts {
			v, ok := Resolve(expr, ev)
			if !ok {
				return "", false
			}
			parts[i] = canonicalString(v)
		}
		return strings.Join(parts, string(a.Delim)), true
	default:
		return "", false
	}
}

// matchValue attempts to express target as a derived expression or delimited
// concatenation over ev's candidate fields, per spec.md §4.3 step 2. It
// returns a constant atom if no match is found.
func matchValue(target string, candidates []Expr, ev *chainevent.Event) Atom {
	for _, expr := range candidates {
		v, ok := Resolve(expr, ev)
		if ok && canonicalString(v) == target {
			return Atom{Kind: AtomDerived, Derived: expr}
		}
	}
	for _, delim := range concatDelimiters {
		parts := strings.Split(target, string(delim))
		if len(parts) < 2 {
			continue
		}
		exprs := make([]Expr, 0, len(parts))
		ok := true
		for _, part := range parts {
			expr, found := findExprFor(part, candidates, ev)
			if !found {
				ok = false
				break
			}
			exprs = append(exprs, expr)
		}
		if ok {
			return Atom{Kind: AtomConcat, Delim: delim, Parts: exprs}
		}
	}
	return Atom{Kind: AtomConstant, Constant: target}
}

func findExprFor(part string, candidates []Expr, ev *chainevent.Event) (Expr, bool) {
	for _, expr := range candidates {
		v, ok := Resolve(expr, ev)
		if ok && canonicalString(v) == part {
			return expr, true
		}
	}
	return Expr{}, false
}
