package engine_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ssargent/pmatree/pkg/btrtree"
	"github.com/ssargent/pmatree/pkg/config"
	"github.com/ssargent/pmatree/pkg/engine"
)

func newStore(t *testing.T) *engine.Store {
	t.Helper()
	cfg := config.DefaultConfig().Engine
	cfg.PMAFile = filepath.Join(t.TempDir(), "pmatree.db")
	cfg.PMAInitialSize = 1 << 20
	s, err := engine.Open(cfg)
	if err != nil {
		t.Fatalf("engine.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s := newStore(t)

	if err := s.Put("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, 1, []byte("Ada")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	value, err := s.Get("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(value) != "Ada" {
		t.Fatalf("value = %q, want Ada", value)
	}
}

func TestGetFloorsToLatestRevisionAtOrBelowQueryEpoch(t *testing.T) {
	s := newStore(t)

	writes := []struct {
		epoch uint64
		value string
	}{
		{1, "v1"}, {3, "v3"}, {7, "v7"},
	}
	for _, w := range writes {
		if err := s.Put("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, w.epoch, []byte(w.value)); err != nil {
			t.Fatalf("Put at epoch %d: %v", w.epoch, err)
		}
	}

	cases := []struct {
		query uint64
		want  string
	}{
		{1, "v1"}, {2, "v1"}, {3, "v3"}, {6, "v3"}, {7, "v7"}, {100, "v7"},
	}
	for _, c := range cases {
		value, err := s.Get("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, c.query)
		if err != nil {
			t.Fatalf("Get at query epoch %d: %v", c.query, err)
		}
		if string(value) != c.want {
			t.Errorf("query epoch %d: value = %q, want %q", c.query, value, c.want)
		}
	}
}

func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	s := newStore(t)

	_, err := s.Get("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, 1)
	if err == nil {
		t.Fatal("expected an error for a key that was never written")
	}
}

func TestDeleteRemovesOneEpochButLeavesOthers(t *testing.T) {
	s := newStore(t)

	if err := s.Put("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, 1, []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, 3, []byte("v3")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.Delete("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, 3); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	value, err := s.Get("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, 10)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if string(value) != "v1" {
		t.Fatalf("value after deleting epoch 3 = %q, want v1 (floor to the surviving revision)", value)
	}
}

func TestDestroyObjectRemovesTheWholeChain(t *testing.T) {
	s := newStore(t)

	if err := s.Put("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, 1, []byte("Ada")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.DestroyObject("cust-1", "obj-1"); err != nil {
		t.Fatalf("DestroyObject: %v", err)
	}

	if _, err := s.Get("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, 1); !errors.Is(err, btrtree.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after DestroyObject, got %v", err)
	}
}

func TestDistinctObjectsDoNotCollide(t *testing.T) {
	s := newStore(t)

	if err := s.Put("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, 1, []byte("Ada")); err != nil {
		t.Fatalf("Put obj-1: %v", err)
	}
	if err := s.Put("cust-1", "obj-2", []byte("name"), 1, []byte("first"), 1, 1, []byte("Grace")); err != nil {
		t.Fatalf("Put obj-2: %v", err)
	}

	v1, err := s.Get("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, 1)
	if err != nil {
		t.Fatalf("Get obj-1: %v", err)
	}
	if string(v1) != "Ada" {
		t.Errorf("obj-1 = %q, want Ada", v1)
	}

	v2, err := s.Get("cust-1", "obj-2", []byte("name"), 1, []byte("first"), 1, 1)
	if err != nil {
		t.Fatalf("Get obj-2: %v", err)
	}
	if string(v2) != "Grace" {
		t.Errorf("obj-2 = %q, want Grace", v2)
	}
}

func TestStatsReportsContainerTableShape(t *testing.T) {
	s := newStore(t)
	stats := s.Stats()
	if stats.ContainerTableOrder <= 1 {
		t.Fatalf("ContainerTableOrder = %d, want > 1", stats.ContainerTableOrder)
	}
	if stats.ContainerTableDepth < 1 {
		t.Fatalf("ContainerTableDepth = %d, want >= 1", stats.ContainerTableDepth)
	}
}

func TestReopenAcrossCloseSeesPriorWrites(t *testing.T) {
	cfg := config.DefaultConfig().Engine
	cfg.PMAFile = filepath.Join(t.TempDir(), "pmatree.db")
	cfg.PMAInitialSize = 1 << 20

	s, err := engine.Open(cfg)
	if err != nil {
		t.Fatalf("engine.Open: %v", err)
	}
	if err := s.Put("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, 1, []byte("Ada")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := engine.Open(cfg)
	if err != nil {
		t.Fatalf("engine.Open (reopen): %v", err)
	}
	defer s2.Close()

	value, err := s2.Get("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, 1)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(value) != "Ada" {
		t.Fatalf("value after reopen = %q, want Ada", value)
	}
}

func TestIterateValuesVisitsEveryRevisionInEpochOrder(t *testing.T) {
	s := newStore(t)

	epochs := []uint64{7, 1, 3}
	for _, e := range epochs {
		value := []byte("v" + string(rune('0'+e)))
		if err := s.Put("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, e, value); err != nil {
			t.Fatalf("Put at epoch %d: %v", e, err)
		}
	}

	var seen []uint64
	n, err := s.IterateValues("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1,
		func(epoch uint64, value []byte) (bool, error) {
			seen = append(seen, epoch)
			return false, nil
		})
	if err != nil {
		t.Fatalf("IterateValues: %v", err)
	}
	if n != 3 {
		t.Fatalf("visited %d records, want 3", n)
	}
	want := []uint64{1, 3, 7}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen[%d] = %d, want %d", i, seen[i], want[i])
		}
	}
}

func TestIterateValuesOnUnknownCoordinateReturnsNotFound(t *testing.T) {
	s := newStore(t)

	_, err := s.IterateValues("cust-1", "obj-1", []byte("name"), 1, []byte("first"), 1, func(uint64, []byte) (bool, error) {
		t.Fatal("callback should not run against an empty coordinate")
		return true, nil
	})
	if err == nil {
		t.Fatal("IterateValues on a never-written coordinate: want error, got nil")
	}
}
