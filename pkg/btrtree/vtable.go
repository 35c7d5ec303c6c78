package btrtree

import (
	"fmt"

	"github.com/ssargent/pmatree/pkg/pma"
)

// RecordRef is the read-only view of a record a comparator callback is
// handed: its inline key area and its payload id, so KeyCmp/RecStat/
// RecString can dereference the payload to fetch the full key or value.
type RecordRef struct {
	HKey    []byte
	Payload pma.ID
}

// ClassOps is a tree class's vtable (§4.2): the callbacks that give meaning
// to the otherwise-opaque inline key area and payload id every record
// carries. A class registers one of these with RegisterClass.
type ClassOps interface {
	// HKeySize returns the fixed width of this class's inline key area.
	HKeySize(h *Handle) int
	// HKeyGen derives the inline key area's bytes from a caller-supplied key.
	HKeyGen(h *Handle, key []byte) []byte
	// HKeyCmp orders rec against probeKey using only the inline key area.
	HKeyCmp(h *Handle, rec RecordRef, probeKey []byte) CmpResult
	// KeyCmp is the full-key tiebreaker invoked when HKeyCmp returns a pure
	// CmpEQ (inline keys agree, possibly as a hash collision of different
	// user keys): it loads the full key via RecFetch(rec.Payload) and
	// compares that against probeKey.
	KeyCmp(h *Handle, rec RecordRef, probeKey []byte) (CmpResult, error)
	// RecAlloc allocates and initializes a new leaf payload for key/value,
	// journaled under tx.
	RecAlloc(h *Handle, tx *pma.Tx, key, value []byte) (pma.ID, error)
	// RecFree releases a leaf payload, journaled under tx.
	RecFree(h *Handle, tx *pma.Tx, payload pma.ID) error
	// RecFetch returns the full key and/or value stored at payload.
	RecFetch(h *Handle, payload pma.ID, wantKey, wantValue bool) (key, value []byte, err error)
	// RecUpdate overwrites payload's value in place, journaled under tx. ok
	// is false (no error) when the new value can't fit in the existing
	// allocation and the caller must RecFree + RecAlloc instead.
	RecUpdate(h *Handle, tx *pma.Tx, payload pma.ID, value []byte) (ok bool, err error)
	// RecStat reports the key and value sizes stored at payload.
	RecStat(h *Handle, payload pma.ID) (keySize, valueSize int, err error)
	// RecString renders a short diagnostic description of payload.
	RecString(h *Handle, payload pma.ID, leaf bool) string
}

// DefaultOps supplies byte-wise defaults for the comparator and diagnostic
// callbacks so a concrete class only needs to embed it and override what
// differs (§4.2's "optional" callbacks, expressed in Go as overridable
// embedding rather than nullable function pointers).
type DefaultOps struct{}

// HKeyCmp does a plain byte-wise three-way compare of rec.HKey against
// probeKey. Classes with a richer ordering (epoch-aware, numeric) override
// this.
func (DefaultOps) HKeyCmp(h *Handle, rec RecordRef, probeKey []byte) CmpResult {
	return compareBytes(rec.HKey, probeKey)
}

// KeyCmp by default performs no additional tiebreak: a pure CmpEQ from
// HKeyCmp is taken as final. Classes whose inline key can collide for
// different full keys (FeatDirectKey) override this.
func (DefaultOps) KeyCmp(h *Handle, rec RecordRef, probeKey []byte) (CmpResult, error) {
	return CmpEQ, nil
}

// RecString gives a minimal diagnostic rendering.
func (DefaultOps) RecString(h *Handle, payload pma.ID, leaf bool) string {
	return fmt.Sprintf("payload=%d leaf=%t", payload, leaf)
}

func compareBytes(a, b []byte) CmpResult {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] < b[i] {
			return CmpLT
		}
		if a[i] > b[i] {
			return CmpGT
		}
	}
	switch {
	case len(a) < len(b):
		return CmpLT
	case len(a) > len(b):
		return CmpGT
	default:
		return CmpEQ
	}
}
