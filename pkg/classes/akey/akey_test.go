package akey_test

import (
	"sync"
	"testing"

	"github.com/ssargent/pmatree/pkg/btrtree"
	"github.com/ssargent/pmatree/pkg/classes/akey"
	"github.com/ssargent/pmatree/pkg/pma"
)

var registerOnce sync.Once

func newTree(t *testing.T) (*btrtree.Handle, *pma.PMA) {
	t.Helper()
	registerOnce.Do(func() {
		if err := akey.Register(); err != nil {
			t.Fatalf("akey.Register: %v", err)
		}
	})
	region := pma.NewMemRegion(1 << 16)
	p, err := pma.New(region, 64)
	if err != nil {
		t.Fatalf("pma.New: %v", err)
	}
	h, err := btrtree.Create(p, akey.ClassID, akey.DefaultOrder)
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

func TestAkeyRegistersUnderItsOwnClassID(t *testing.T) {
	if akey.ClassID == 0 {
		t.Fatal("ClassID must be set")
	}
}

func TestInsertFetchDeleteRoundTrip(t *testing.T) {
	h, p := newTree(t)

	upsert(t, h, p, akey.EncodeKey([]byte("size"), 1))
	upsert(t, h, p, akey.EncodeKey([]byte("color"), 1))

	fullKey, _, err := h.Fetch(btrtree.OpEQ, akey.EncodeKey([]byte("size"), 1))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(fullKey) != "size" {
		t.Fatalf("full key = %q, want size", fullKey)
	}

	tx := p.Begin()
	if err := h.Delete(tx, akey.EncodeKey([]byte("size"), 1)); err != nil {
		tx.Abort()
		t.Fatalf("Delete: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, _, err := h.Fetch(btrtree.OpEQ, akey.EncodeKey([]byte("size"), 1)); err != btrtree.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, _, err := h.Fetch(btrtree.OpEQ, akey.EncodeKey([]byte("color"), 1)); err != nil {
		t.Fatalf("expected color to remain, got %v", err)
	}
}

func TestGEFloorAcrossRevisions(t *testing.T) {
	h, p := newTree(t)

	upsert(t, h, p, akey.EncodeKey([]byte("color"), 2))
	upsert(t, h, p, akey.EncodeKey([]byte("color"), 9))

	fullKey, _, err := h.Fetch(btrtree.OpGE, akey.EncodeKey([]byte("color"), 4))
	if err != nil {
		t.Fatalf("Fetch GE: %v", err)
	}
	if string(fullKey) != "color" {
		t.Fatalf("full key = %q, want color", fullKey)
	}
}
