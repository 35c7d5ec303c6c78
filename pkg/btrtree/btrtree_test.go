package btrtree

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/ssargent/pmatree/pkg/classreg"
	"github.com/ssargent/pmatree/pkg/pma"
)

// --- shared leaf-body blob helpers, used by every test class below ---

func allocBlob(h *Handle, tx *pma.Tx, key, value []byte) (pma.ID, error) {
	size := 8 + len(key) + 8 + len(value)
	id, err := tx.Zalloc(size)
	if err != nil {
		return pma.Null, err
	}
	buf, err := h.PMA().Bytes(id, size)
	if err != nil {
		return pma.Null, err
	}
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(key)))
	copy(buf[8:8+len(key)], key)
	off := 8 + len(key)
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(len(value)))
	copy(buf[off+8:], value)
	return id, nil
}

func blobSize(h *Handle, payload pma.ID) (int, int, int, error) {
	head, err := h.PMA().Bytes(payload, 8)
	if err != nil {
		return 0, 0, 0, err
	}
	keyLen := int(binary.LittleEndian.Uint64(head))
	off := 8 + keyLen
	vlenBuf, err := h.PMA().Bytes(payload+pma.ID(off), 8)
	if err != nil {
		return 0, 0, 0, err
	}
	valLen := int(binary.LittleEndian.Uint64(vlenBuf))
	return keyLen, valLen, 8 + keyLen + 8 + valLen, nil
}

func readBlob(h *Handle, payload pma.ID) (key, value []byte, err error) {
	keyLen, valLen, total, err := blobSize(h, payload)
	if err != nil {
		return nil, nil, err
	}
	buf, err := h.PMA().Bytes(payload, total)
	if err != nil {
		return nil, nil, err
	}
	key = append([]byte(nil), buf[8:8+keyLen]...)
	value = append([]byte(nil), buf[8+keyLen+8:]...)
	return key, value, nil
}

func freeBlob(h *Handle, tx *pma.Tx, payload pma.ID) error {
	_, _, total, err := blobSize(h, payload)
	if err != nil {
		return err
	}
	tx.Free(payload, total)
	return nil
}

func updateBlob(h *Handle, tx *pma.Tx, payload pma.ID, newValue []byte) (bool, error) {
	keyLen, valLen, total, err := blobSize(h, payload)
	if err != nil {
		return false, err
	}
	if len(newValue) != valLen {
		return false, nil
	}
	if err := tx.AddRange(payload, total); err != nil {
		return false, err
	}
	buf, err := h.PMA().Bytes(payload, total)
	if err != nil {
		return false, err
	}
	copy(buf[8+keyLen+8:], newValue)
	return true, nil
}

// --- kvClass: plain, fixed-width-truncated byte keys (<=16 bytes) ---

type kvClass struct{ DefaultOps }

func (kvClass) HKeySize(*Handle) int { return 16 }
func (kvClass) HKeyGen(_ *Handle, key []byte) []byte {
	out := make([]byte, 16)
	copy(out, key)
	return out
}
func (c kvClass) HKeyCmp(h *Handle, rec RecordRef, probeKey []byte) CmpResult {
	return compareBytes(rec.HKey, c.HKeyGen(h, probeKey))
}
func (kvClass) RecAlloc(h *Handle, tx *pma.Tx, key, value []byte) (pma.ID, error) {
	return allocBlob(h, tx, key, value)
}
func (kvClass) RecFree(h *Handle, tx *pma.Tx, payload pma.ID) error {
	return freeBlob(h, tx, payload)
}
func (kvClass) RecFetch(h *Handle, payload pma.ID, _, _ bool) ([]byte, []byte, error) {
	return readBlob(h, payload)
}
func (kvClass) RecUpdate(h *Handle, tx *pma.Tx, payload pma.ID, value []byte) (bool, error) {
	return updateBlob(h, tx, payload, value)
}
func (kvClass) RecStat(h *Handle, payload pma.ID) (int, int, error) {
	k, v, err := readBlob(h, payload)
	return len(k), len(v), err
}

// --- versionedClass: 8-byte user-key hash + 8-byte epoch, epoch-matched ---

type versionedClass struct{ DefaultOps }

func fnv64(s []byte) uint64 {
	var h uint64 = 14695981039346656037
	for _, b := range s {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}

// EncodeVersionedKey builds the 16-byte probe key this test class expects:
// an 8-byte hash of userKey followed by an 8-byte big-endian epoch.
func EncodeVersionedKey(userKey string, epoch uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], fnv64([]byte(userKey)))
	binary.BigEndian.PutUint64(buf[8:16], epoch)
	return buf
}

func (versionedClass) HKeySize(*Handle) int { return 16 }
func (versionedClass) HKeyGen(_ *Handle, key []byte) []byte {
	return append([]byte(nil), key...)
}
func (versionedClass) HKeyCmp(_ *Handle, rec RecordRef, probeKey []byte) CmpResult {
	hashCmp := compareBytes(rec.HKey[0:8], probeKey[0:8])
	if !hashCmp.IsEQ() {
		return hashCmp
	}
	recEpoch := binary.BigEndian.Uint64(rec.HKey[8:16])
	probeEpoch := binary.BigEndian.Uint64(probeKey[8:16])
	switch {
	case recEpoch > probeEpoch:
		return CmpLT | CmpMatched
	case recEpoch < probeEpoch:
		return CmpGT | CmpMatched
	default:
		return CmpEQ
	}
}
func (versionedClass) RecAlloc(h *Handle, tx *pma.Tx, key, value []byte) (pma.ID, error) {
	return allocBlob(h, tx, key, value)
}
func (versionedClass) RecFree(h *Handle, tx *pma.Tx, payload pma.ID) error {
	return freeBlob(h, tx, payload)
}
func (versionedClass) RecFetch(h *Handle, payload pma.ID, _, _ bool) ([]byte, []byte, error) {
	return readBlob(h, payload)
}
func (versionedClass) RecUpdate(h *Handle, tx *pma.Tx, payload pma.ID, value []byte) (bool, error) {
	return updateBlob(h, tx, payload, value)
}
func (versionedClass) RecStat(h *Handle, payload pma.ID) (int, int, error) {
	k, v, err := readBlob(h, payload)
	return len(k), len(v), err
}

// --- singvClass: strict epoch ordering, never sets CmpMatched ---

type singvClass struct{ DefaultOps }

func EncodeEpochKey(epoch uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, epoch)
	return buf
}

func (singvClass) HKeySize(*Handle) int { return 8 }
func (singvClass) HKeyGen(_ *Handle, key []byte) []byte {
	return append([]byte(nil), key...)
}
func (singvClass) HKeyCmp(_ *Handle, rec RecordRef, probeKey []byte) CmpResult {
	recEpoch := binary.BigEndian.Uint64(rec.HKey)
	probeEpoch := binary.BigEndian.Uint64(probeKey)
	switch {
	case recEpoch > probeEpoch:
		return CmpLT
	case recEpoch < probeEpoch:
		return CmpGT
	default:
		return CmpEQ
	}
}
func (singvClass) RecAlloc(h *Handle, tx *pma.Tx, key, value []byte) (pma.ID, error) {
	return allocBlob(h, tx, key, value)
}
func (singvClass) RecFree(h *Handle, tx *pma.Tx, payload pma.ID) error {
	return freeBlob(h, tx, payload)
}
func (singvClass) RecFetch(h *Handle, payload pma.ID, _, _ bool) ([]byte, []byte, error) {
	return readBlob(h, payload)
}
func (singvClass) RecUpdate(h *Handle, tx *pma.Tx, payload pma.ID, value []byte) (bool, error) {
	return updateBlob(h, tx, payload, value)
}
func (singvClass) RecStat(h *Handle, payload pma.ID) (int, int, error) {
	k, v, err := readBlob(h, payload)
	return len(k), len(v), err
}

// --- test scaffolding ---

var nextTestClassID = classreg.ClassID(500)

func registerTestClass(t *testing.T, ops ClassOps, order int, features uint64) classreg.ClassID {
	t.Helper()
	id := nextTestClassID
	nextTestClassID++
	if err := RegisterClass(id, uint16(order), features, ops); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	return id
}

func newTestHandle(t *testing.T, ops ClassOps, order int) (*Handle, *pma.PMA) {
	t.Helper()
	region := pma.NewMemRegion(1 << 16)
	p, err := pma.New(region, 64)
	if err != nil {
		t.Fatalf("pma.New: %v", err)
	}
	classID := registerTestClass(t, ops, order, 0)
	h, err := Create(p, classID, order)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return h, p
}

func upsert(t *testing.T, h *Handle, p *pma.PMA, key, value []byte) {
	t.Helper()
	tx := p.Begin()
	if err := h.Upsert(tx, key, value); err != nil {
		tx.Abort()
		t.Fatalf("Upsert(%q): %v", key, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func deleteKey(t *testing.T, h *Handle, p *pma.PMA, key []byte) error {
	t.Helper()
	tx := p.Begin()
	err := h.Delete(tx, key)
	if err != nil {
		tx.Abort()
		return err
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return nil
}

// --- S1-style: many inserts force splits; every key is still fetchable ---

func TestInsertManyForcesSplitAndAllFetchable(t *testing.T) {
	h, p := newTestHandle(t, kvClass{}, 4)

	const n = 40
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		upsert(t, h, p, key, []byte(fmt.Sprintf("v%03d", i)))
	}

	if h.Depth() <= 1 {
		t.Fatalf("expected splitting to grow depth beyond 1, got %d", h.Depth())
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		_, value, err := h.Fetch(OpEQ, key)
		if err != nil {
			t.Fatalf("Fetch(%q): %v", key, err)
		}
		want := fmt.Sprintf("v%03d", i)
		if string(value) != want {
			t.Fatalf("Fetch(%q) = %q, want %q", key, value, want)
		}
	}
}

func TestUpsertOverwritesExistingKey(t *testing.T) {
	h, p := newTestHandle(t, kvClass{}, 4)
	upsert(t, h, p, []byte("a"), []byte("1"))
	upsert(t, h, p, []byte("a"), []byte("2"))

	_, value, err := h.Fetch(OpEQ, []byte("a"))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(value) != "2" {
		t.Fatalf("expected overwritten value %q, got %q", "2", value)
	}
}

// --- S3-style: deletes below minimum occupancy trigger merge/shrink ---

func TestDeleteAllShrinksToEmptyRoot(t *testing.T) {
	h, p := newTestHandle(t, kvClass{}, 4)

	const n = 30
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte(fmt.Sprintf("k%03d", i))
		upsert(t, h, p, keys[i], []byte("v"))
	}

	for _, key := range keys {
		if err := deleteKey(t, h, p, key); err != nil {
			t.Fatalf("Delete(%q): %v", key, err)
		}
	}

	empty, err := h.IsEmpty()
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Fatal("expected tree to be empty after deleting every key")
	}
	if h.Depth() != 1 {
		t.Fatalf("expected root to shrink back to depth 1, got %d", h.Depth())
	}

	if err := deleteKey(t, h, p, []byte("k000")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound deleting from an empty tree, got %v", err)
	}
}

func TestDeleteMissingKeyFails(t *testing.T) {
	h, p := newTestHandle(t, kvClass{}, 4)
	upsert(t, h, p, []byte("a"), []byte("1"))
	if err := deleteKey(t, h, p, []byte("nope")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// --- S2: epoch-matched GE returns the latest revision not exceeding the
// probe epoch, while EQ only ever sees an exact (key, epoch) pair. ---

func TestEpochMatchedGEFindsFloorRevision(t *testing.T) {
	h, p := newTestHandle(t, versionedClass{}, 4)

	upsert(t, h, p, EncodeVersionedKey("alpha", 1), []byte("A"))
	upsert(t, h, p, EncodeVersionedKey("alpha", 3), []byte("B"))

	if _, _, err := h.Fetch(OpEQ, EncodeVersionedKey("alpha", 2)); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for EQ at a non-existent epoch, got %v", err)
	}

	_, v, err := h.Fetch(OpGE, EncodeVersionedKey("alpha", 2))
	if err != nil {
		t.Fatalf("Fetch GE: %v", err)
	}
	if string(v) != "A" {
		t.Fatalf("GE(alpha,2) = %q, want %q (the e=1 revision)", v, "A")
	}

	_, v, err = h.Fetch(OpGE, EncodeVersionedKey("alpha", 3))
	if err != nil {
		t.Fatalf("Fetch GE: %v", err)
	}
	if string(v) != "B" {
		t.Fatalf("GE(alpha,3) = %q, want %q", v, "B")
	}
}

// --- S5: a strict-epoch (no MATCHED) class still floors via GE, and LAST
// finds the newest revision regardless of probe epoch. ---

func TestSingvStrictEpochFloorAndLast(t *testing.T) {
	h, p := newTestHandle(t, singvClass{}, 4)

	upsert(t, h, p, EncodeEpochKey(5), []byte("V5"))
	upsert(t, h, p, EncodeEpochKey(7), []byte("V7"))

	_, v, err := h.Fetch(OpGE, EncodeEpochKey(6))
	if err != nil {
		t.Fatalf("Fetch GE: %v", err)
	}
	if string(v) != "V5" {
		t.Fatalf("GE(6) = %q, want %q", v, "V5")
	}

	_, v, err = h.Fetch(OpLast, nil)
	if err != nil {
		t.Fatalf("Fetch LAST: %v", err)
	}
	if string(v) != "V7" {
		t.Fatalf("LAST = %q, want %q", v, "V7")
	}
}

// --- S6-style: an iterator walks all records in order, and an anchor
// resumes a paused walk without re-probing. ---

func TestIterateVisitsAllKeysInOrder(t *testing.T) {
	h, p := newTestHandle(t, kvClass{}, 4)

	const n = 15
	for i := 0; i < n; i++ {
		upsert(t, h, p, []byte(fmt.Sprintf("k%02d", i)), []byte(fmt.Sprintf("v%02d", i)))
	}

	var seen []string
	count, err := h.Iterate(OpFirst, nil, func(key, value []byte) (bool, error) {
		seen = append(seen, string(key))
		return false, nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if count != n {
		t.Fatalf("Iterate visited %d records, want %d", count, n)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i-1] >= seen[i] {
			t.Fatalf("iteration order broken at %d: %q >= %q", i, seen[i-1], seen[i])
		}
	}
}

func TestAnchorResumesPausedIteration(t *testing.T) {
	h, p := newTestHandle(t, kvClass{}, 4)
	for i := 0; i < 10; i++ {
		upsert(t, h, p, []byte(fmt.Sprintf("k%02d", i)), []byte(fmt.Sprintf("v%02d", i)))
	}

	it := h.NewIterator()
	if _, err := it.Prepare(OpFirst, nil); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	k0, _, err := it.Fetch()
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	anchor, err := it.Anchor()
	if err != nil {
		t.Fatalf("Anchor: %v", err)
	}
	it.Finish()

	it2 := h.NewIterator()
	if _, err := it2.Resume(anchor); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	k1, _, err := it2.Fetch()
	if err != nil {
		t.Fatalf("Fetch after resume: %v", err)
	}
	if string(k0) != string(k1) {
		t.Fatalf("resumed iterator at %q, want %q", k1, k0)
	}
}

// TestAnchorSurvivesDeleteBetweenAnchorAndResume is S6: iterate the first
// 10 of 1000 entries, capture an anchor, delete the 11th entry (a mutation
// the anchor must survive), resume from the anchor, call Next -- it must
// land on entry 12, not 11.
func TestAnchorSurvivesDeleteBetweenAnchorAndResume(t *testing.T) {
	h, p := newTestHandle(t, kvClass{}, 4)

	const n = 1000
	for i := 0; i < n; i++ {
		upsert(t, h, p, []byte(fmt.Sprintf("k%04d", i)), []byte(fmt.Sprintf("v%04d", i)))
	}

	it := h.NewIterator()
	if _, err := it.Prepare(OpFirst, nil); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	var lastKey []byte
	for i := 0; i < 10; i++ {
		k, _, err := it.Fetch()
		if err != nil {
			t.Fatalf("Fetch entry %d: %v", i, err)
		}
		lastKey = append([]byte(nil), k...)
		if i < 9 {
			if ok, err := it.Next(); err != nil || !ok {
				t.Fatalf("Next past entry %d: ok=%v err=%v", i, ok, err)
			}
		}
	}
	if string(lastKey) != "k0009" {
		t.Fatalf("10th entry = %q, want k0009", lastKey)
	}

	anchor, err := it.Anchor()
	if err != nil {
		t.Fatalf("Anchor: %v", err)
	}
	it.Finish()

	if err := deleteKey(t, h, p, []byte("k0010")); err != nil {
		t.Fatalf("delete 11th entry: %v", err)
	}

	it2 := h.NewIterator()
	if _, err := it2.Resume(anchor); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	resumedKey, _, err := it2.Fetch()
	if err != nil {
		t.Fatalf("Fetch after resume: %v", err)
	}
	if string(resumedKey) != "k0009" {
		t.Fatalf("resumed at %q, want k0009", resumedKey)
	}

	ok, err := it2.Next()
	if err != nil {
		t.Fatalf("Next after resume: %v", err)
	}
	if !ok {
		t.Fatal("Next after resume reported no record, want entry 12")
	}
	nextKey, _, err := it2.Fetch()
	if err != nil {
		t.Fatalf("Fetch 12th entry: %v", err)
	}
	if string(nextKey) != "k0011" {
		t.Fatalf("entry after resume+Next = %q, want k0011 (entry 12, skipping the deleted 11th)", nextKey)
	}
}

func TestDestroyFreesEveryPayload(t *testing.T) {
	h, p := newTestHandle(t, kvClass{}, 4)
	for i := 0; i < 20; i++ {
		upsert(t, h, p, []byte(fmt.Sprintf("k%02d", i)), []byte("v"))
	}

	tx := p.Begin()
	if err := h.Destroy(tx, true); err != nil {
		tx.Abort()
		t.Fatalf("Destroy: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}
