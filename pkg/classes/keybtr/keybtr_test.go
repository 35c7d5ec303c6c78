package keybtr_test

import (
	"bytes"
	"testing"

	"github.com/ssargent/pmatree/pkg/btrtree"
	"github.com/ssargent/pmatree/pkg/classes/keybtr"
	"github.com/ssargent/pmatree/pkg/classreg"
	"github.com/ssargent/pmatree/pkg/pma"
)

var nextClassID = classreg.ClassID(900)

func newTree(t *testing.T) (*btrtree.Handle, *pma.PMA) {
	t.Helper()
	id := nextClassID
	nextClassID++
	if err := btrtree.RegisterClass(id, 4, 0, keybtr.Ops{}); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	region := pma.NewMemRegion(1 << 16)
	p, err := pma.New(region, 64)
	if err != nil {
		t.Fatalf("pma.New: %v", err)
	}
	h, err := btrtree.Create(p, id, 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return h, p
}

func upsert(t *testing.T, h *btrtree.Handle, p *pma.PMA, key []byte) {
	t.Helper()
	tx := p.Begin()
	if err := h.Upsert(tx, key, nil); err != nil {
		tx.Abort()
		t.Fatalf("Upsert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

// TestLeafBodyRoundTripsThroughTheTree exercises keybtr.Ops entirely through
// the public btrtree.Handle surface: insert under a hashed (user key,
// epoch) pair, fetch it back, and confirm the embedded child-root area
// comes back zeroed and the right width.
func TestLeafBodyRoundTripsThroughTheTree(t *testing.T) {
	h, p := newTree(t)
	key := keybtr.EncodeKey([]byte("widget"), 1)
	upsert(t, h, p, key)

	fullKey, value, err := h.Fetch(btrtree.OpEQ, key)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(fullKey) != "widget" {
		t.Fatalf("full key = %q, want widget", fullKey)
	}
	if len(value) != keybtr.ChildRootSize {
		t.Fatalf("value len = %d, want %d", len(value), keybtr.ChildRootSize)
	}
	for _, b := range value {
		if b != 0 {
			t.Fatalf("expected zeroed child-root area, got %v", value)
		}
	}
}

// TestChildRootLocationIsWritableInPlace exercises the exact contract
// pkg/stacker relies on: allocate a leaf body directly through Ops.RecAlloc
// (bypassing a tree), resolve ChildRootLocation against the returned
// payload, write through it, and confirm RecFetch sees the write without
// disturbing the stored user key.
func TestChildRootLocationIsWritableInPlace(t *testing.T) {
	id := nextClassID
	nextClassID++
	ops := keybtr.Ops{}
	if err := btrtree.RegisterClass(id, 4, 0, ops); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	region := pma.NewMemRegion(1 << 16)
	p, err := pma.New(region, 64)
	if err != nil {
		t.Fatalf("pma.New: %v", err)
	}
	h, err := btrtree.Create(p, id, 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	probeKey := keybtr.EncodeKey([]byte("widget"), 1)

	tx := p.Begin()
	payload, err := ops.RecAlloc(h, tx, probeKey, nil)
	if err != nil {
		tx.Abort()
		t.Fatalf("RecAlloc: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	loc, err := keybtr.ChildRootLocation(h, payload)
	if err != nil {
		t.Fatalf("ChildRootLocation: %v", err)
	}

	marker := bytes.Repeat([]byte{0xAB}, keybtr.ChildRootSize)
	tx = p.Begin()
	if err := tx.AddRange(loc, keybtr.ChildRootSize); err != nil {
		t.Fatalf("AddRange: %v", err)
	}
	buf, err := h.PMA().Bytes(loc, keybtr.ChildRootSize)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	copy(buf, marker)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	key, value, err := ops.RecFetch(h, payload, true, true)
	if err != nil {
		t.Fatalf("RecFetch: %v", err)
	}
	if string(key) != "widget" {
		t.Fatalf("key after direct write = %q, want widget (user key must survive a child-root mutation)", key)
	}
	if !bytes.Equal(value, marker) {
		t.Fatalf("value after direct write = %x, want %x", value, marker)
	}
}
