package btrtree

// CmpResult is the bitset a class comparator returns (§4.6). The low two
// bits give the base three-way order; CmpMatched is an orthogonal signal a
// comparator ORs in when a version-aware field (an epoch) differs even
// though the rest of the key agrees.
type CmpResult uint8

const (
	CmpEQ      CmpResult = 0
	CmpLT      CmpResult = 1 << 0
	CmpGT      CmpResult = 1 << 1
	CmpMatched CmpResult = 1 << 2
)

// IsLT reports whether r orders its left operand before its right one,
// ignoring CmpMatched.
func (r CmpResult) IsLT() bool { return r&CmpLT != 0 }

// IsGT reports whether r orders its left operand after its right one,
// ignoring CmpMatched.
func (r CmpResult) IsGT() bool { return r&CmpGT != 0 }

// IsEQ reports the pure equal result: neither LT nor GT, and not matched.
func (r CmpResult) IsEQ() bool { return r == CmpEQ }

// IsMatched reports whether the comparator flagged this as a same-identity,
// different-version comparison (§4.6).
func (r CmpResult) IsMatched() bool { return r&CmpMatched != 0 }

// Opcode selects a probe's search strategy (§4.3).
type Opcode int

const (
	OpFirst Opcode = iota
	OpLast
	OpEQ
	OpGT
	OpGE
	OpLT
	OpLE
	OpBypass
)

// Feature bits a class descriptor may set (§3, §4.2).
const (
	FeatUIntKey   uint64 = 1 << 0 // inline key area holds a raw uint64, compared numerically
	FeatDirectKey uint64 = 1 << 1 // on a hash tie, fall back to the class's KeyCmp for a full-key tiebreak
)
