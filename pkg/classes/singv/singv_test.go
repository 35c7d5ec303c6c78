package singv_test

import (
	"sync"
	"testing"

	"github.com/ssargent/pmatree/pkg/btrtree"
	"github.com/ssargent/pmatree/pkg/classes/singv"
	"github.com/ssargent/pmatree/pkg/pma"
)

var registerOnce sync.Once

func newTree(t *testing.T) (*btrtree.Handle, *pma.PMA) {
	t.Helper()
	registerOnce.Do(func() {
		if err := singv.Register(); err != nil {
			t.Fatalf("singv.Register: %v", err)
		}
	})
	region := pma.NewMemRegion(1 << 16)
	p, err := pma.New(region, 64)
	if err != nil {
		t.Fatalf("pma.New: %v", err)
	}
	h, err := btrtree.Create(p, singv.ClassID, singv.DefaultOrder)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return h, p
}

func upsert(t *testing.T, h *btrtree.Handle, p *pma.PMA, epoch uint64, value []byte) {
	t.Helper()
	tx := p.Begin()
	if err := h.Upsert(tx, singv.EncodeKey(epoch), value); err != nil {
		tx.Abort()
		t.Fatalf("Upsert(%d): %v", epoch, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

// TestStrictEpochFloorAndLast mirrors the spec's S5 scenario against the
// real singv class (not a test double): GE floors to the newest revision at
// or below the probe epoch, and LAST always finds the newest revision
// regardless of probe epoch.
func TestStrictEpochFloorAndLast(t *testing.T) {
	h, p := newTree(t)

	upsert(t, h, p, 5, []byte("V5"))
	upsert(t, h, p, 7, []byte("V7"))

	_, v, err := h.Fetch(btrtree.OpGE, singv.EncodeKey(6))
	if err != nil {
		t.Fatalf("Fetch GE: %v", err)
	}
	if string(v) != "V5" {
		t.Fatalf("GE(6) = %q, want V5", v)
	}

	_, v, err = h.Fetch(btrtree.OpLast, nil)
	if err != nil {
		t.Fatalf("Fetch LAST: %v", err)
	}
	if string(v) != "V7" {
		t.Fatalf("LAST = %q, want V7", v)
	}
}

func TestExactEpochMustMatchPrecisely(t *testing.T) {
	h, p := newTree(t)
	upsert(t, h, p, 5, []byte("V5"))

	if _, _, err := h.Fetch(btrtree.OpEQ, singv.EncodeKey(6)); err != btrtree.ErrNotFound {
		t.Fatalf("expected ErrNotFound for EQ at a non-existent epoch, got %v", err)
	}
	_, v, err := h.Fetch(btrtree.OpEQ, singv.EncodeKey(5))
	if err != nil {
		t.Fatalf("Fetch EQ: %v", err)
	}
	if string(v) != "V5" {
		t.Fatalf("EQ(5) = %q, want V5", v)
	}
}

func TestUpsertSmallerValueOverwritesInPlace(t *testing.T) {
	h, p := newTree(t)
	upsert(t, h, p, 5, []byte("a longer original value"))
	upsert(t, h, p, 5, []byte("short"))

	_, v, err := h.Fetch(btrtree.OpEQ, singv.EncodeKey(5))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(v) != "short" {
		t.Fatalf("value = %q, want short", v)
	}
}

func TestUpsertLargerValueReallocates(t *testing.T) {
	h, p := newTree(t)
	upsert(t, h, p, 5, []byte("short"))
	upsert(t, h, p, 5, []byte("a much longer replacement value"))

	_, v, err := h.Fetch(btrtree.OpEQ, singv.EncodeKey(5))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(v) != "a much longer replacement value" {
		t.Fatalf("value = %q, want the longer replacement", v)
	}
}

func TestDeleteRemovesEpoch(t *testing.T) {
	h, p := newTree(t)
	upsert(t, h, p, 5, []byte("V5"))
	upsert(t, h, p, 7, []byte("V7"))

	tx := p.Begin()
	if err := h.Delete(tx, singv.EncodeKey(5)); err != nil {
		tx.Abort()
		t.Fatalf("Delete: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, _, err := h.Fetch(btrtree.OpEQ, singv.EncodeKey(5)); err != btrtree.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, v, err := h.Fetch(btrtree.OpEQ, singv.EncodeKey(7)); err != nil || string(v) != "V7" {
		t.Fatalf("expected epoch 7 to remain, got v=%q err=%v", v, err)
	}
}
