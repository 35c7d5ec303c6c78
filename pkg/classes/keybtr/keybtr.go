// Package keybtr implements the epoch-matched hashed-key comparator shared
// by the dkey and akey tree classes -- grounded on vos_tree.c's single
// key_btr_ops vtable, which DAOS registers twice (once per class id) rather
// than writing two near-identical comparator sets. dkey and akey differ only
// in which class id they register under and which child class their leaf
// bodies stack (pkg/classes/akey for dkey, pkg/classes/singv for akey); the
// comparison and storage policy itself is identical.
package keybtr

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/ssargent/pmatree/pkg/btrtree"
	"github.com/ssargent/pmatree/pkg/codec"
	"github.com/ssargent/pmatree/pkg/pma"
)

// inline key area: 8-byte FNV-1a hash of the user key, 8-byte big-endian
// epoch. hashSize/epochSize stay package-private; dkey/akey see only the
// exported HKeySize and ChildRootSize derived from them.
const (
	hashSize  = 8
	epochSize = 8
	// HKeySize is the width of this class family's inline key area.
	HKeySize = hashSize + epochSize
	// ChildRootSize is the width reserved in every leaf body for an
	// embedded child tree's root descriptor (zero when none has been
	// created yet).
	ChildRootSize = btrtree.RootDescriptorSize
)

// EncodeKey builds the probe key this class family expects from a caller:
// the user-visible key bytes plus the epoch to search at. It is not the
// inline (hashed) form stored on media -- HKeyGen derives that from this.
func EncodeKey(userKey []byte, epoch uint64) []byte {
	out := make([]byte, 8+len(userKey))
	binary.BigEndian.PutUint64(out[:8], epoch)
	copy(out[8:], userKey)
	return out
}

func splitProbeKey(key []byte) (userKey []byte, epoch uint64) {
	epoch = binary.BigEndian.Uint64(key[:8])
	userKey = key[8:]
	return
}

func hashKey(userKey []byte) uint64 {
	h := fnv.New64a()
	h.Write(userKey)
	return h.Sum64()
}

// Ops is the key_btr_ops equivalent: a btrtree.ClassOps a concrete class
// (dkey, akey) embeds and registers under its own class id. bodySize is
// the total size a concrete class's RecAlloc allocates: the user key plus
// this family's fixed header and embedded child-root area.
type Ops struct {
	btrtree.DefaultOps
}

// HKeySize returns this family's fixed inline key width.
func (Ops) HKeySize(*btrtree.Handle) int { return HKeySize }

// HKeyGen derives the inline (hash, epoch) pair from a caller's probe key.
func (Ops) HKeyGen(_ *btrtree.Handle, key []byte) []byte {
	userKey, epoch := splitProbeKey(key)
	out := make([]byte, HKeySize)
	binary.BigEndian.PutUint64(out[0:hashSize], hashKey(userKey))
	binary.BigEndian.PutUint64(out[hashSize:HKeySize], epoch)
	return out
}

// HKeyCmp compares the hash portion first (a plain total order over an
// opaque surrogate); on a hash tie it compares epoch with the inverted
// direction that makes a structural lower-bound probe implement "floor at or
// below the probed epoch" for GE without any extra lookback (a newer stored
// revision -- larger epoch -- must sort as LT a query for an older epoch, so
// probing forward from the first non-LT slot lands on the newest revision
// that is not newer than the query). Differing epochs at equal hash are
// flagged MATCHED: same identity, different version.
func (Ops) HKeyCmp(_ *btrtree.Handle, rec btrtree.RecordRef, probeKey []byte) btrtree.CmpResult {
	probeUser, probeEpoch := splitProbeKey(probeKey)
	probeHash := hashKey(probeUser)

	recHash := binary.BigEndian.Uint64(rec.HKey[0:hashSize])
	switch {
	case recHash < probeHash:
		return btrtree.CmpLT
	case recHash > probeHash:
		return btrtree.CmpGT
	}

	recEpoch := binary.BigEndian.Uint64(rec.HKey[hashSize:HKeySize])
	switch {
	case recEpoch > probeEpoch:
		return btrtree.CmpLT | btrtree.CmpMatched
	case recEpoch < probeEpoch:
		return btrtree.CmpGT | btrtree.CmpMatched
	default:
		return btrtree.CmpEQ
	}
}

// KeyCmp is the full-key tiebreak FeatDirectKey-style classes need: a pure
// HKeyCmp EQ only proves the hash and epoch agree, which a hash collision
// between two different user keys at the same epoch could also produce.
// Fetch the stored user key and compare its bytes directly.
func (o Ops) KeyCmp(h *btrtree.Handle, rec btrtree.RecordRef, probeKey []byte) (btrtree.CmpResult, error) {
	storedKey, _, err := readRecord(h, rec.Payload)
	if err != nil {
		return 0, err
	}
	probeUser, _ := splitProbeKey(probeKey)
	return compareBytes(storedKey, probeUser), nil
}

func compareBytes(a, b []byte) btrtree.CmpResult {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] < b[i] {
			return btrtree.CmpLT
		}
		if a[i] > b[i] {
			return btrtree.CmpGT
		}
	}
	switch {
	case len(a) < len(b):
		return btrtree.CmpLT
	case len(a) > len(b):
		return btrtree.CmpGT
	default:
		return btrtree.CmpEQ
	}
}

// leaf body layout: a pkg/codec record frame -- [CRC32(4)][KeySize(4)]
// [ValueSize(4)][Timestamp(8)][userKey][ChildRootSize bytes] -- with "value"
// standing in for the embedded child-tree root area. ValueSize is always
// ChildRootSize, so a record's total length is recoverable from KeySize
// alone without a second read.
//
// The embedded root area mutates in place on every write into the child
// tree (its generation and root-node fields change), which means the frame's
// CRC32 only ever verifies the record as of the moment RecAlloc wrote it --
// it goes stale the instant a child subtree is created or grows. That is
// intentional: the child tree carries its own generation counter for
// consistency, and RecFetch/KeyCmp only ever call codec.Decode (pure
// framing) here, never Record.Validate. Decode keeps working after the
// value bytes change because ValueSize, and therefore the frame's total
// length, never does.
var recCodec = codec.NewRecordCodec()

func bodySize(userKeyLen int) int { return codec.HeaderSize + userKeyLen + ChildRootSize }

// RecAlloc allocates a leaf body framing the user key and a zeroed,
// not-yet-created child-tree root area through pkg/codec, journaled under tx.
func (Ops) RecAlloc(h *btrtree.Handle, tx *pma.Tx, key, _ []byte) (pma.ID, error) {
	userKey, _ := splitProbeKey(key)
	frame, err := recCodec.Encode(userKey, make([]byte, ChildRootSize))
	if err != nil {
		return pma.Null, err
	}
	id, err := tx.Zalloc(len(frame))
	if err != nil {
		return pma.Null, err
	}
	buf, err := h.PMA().Bytes(id, len(frame))
	if err != nil {
		return pma.Null, err
	}
	copy(buf, frame)
	return id, nil
}

// userKeyLen reads the frame's KeySize field without decoding the whole
// record.
func userKeyLen(h *btrtree.Handle, payload pma.ID) (int, error) {
	head, err := h.PMA().Bytes(payload, codec.HeaderSize)
	if err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(head[4:8])), nil
}

// readRecord decodes the stored frame's key and embedded child-root bytes.
func readRecord(h *btrtree.Handle, payload pma.ID) (key, value []byte, err error) {
	kl, err := userKeyLen(h, payload)
	if err != nil {
		return nil, nil, err
	}
	buf, err := h.PMA().Bytes(payload, bodySize(kl))
	if err != nil {
		return nil, nil, err
	}
	rec, err := recCodec.Decode(buf)
	if err != nil {
		return nil, nil, err
	}
	return rec.Key, rec.Value, nil
}

// RecFree releases a leaf body's whole allocation (user key + embedded
// child-root area), journaled under tx. Punching a subtree first is the
// caller's responsibility (pkg/stacker); this never recurses into a child
// tree's own nodes.
func (Ops) RecFree(h *btrtree.Handle, tx *pma.Tx, payload pma.ID) error {
	kl, err := userKeyLen(h, payload)
	if err != nil {
		return err
	}
	tx.Free(payload, bodySize(kl))
	return nil
}

// RecFetch returns the stored user key and, as "value", the raw bytes of the
// embedded child-tree root area -- the only thing a dkey/akey leaf holds
// beyond its key, per the subtree-stacking design (§4.7). Callers that want
// a real child tree handle go through pkg/stacker, which resolves the
// returned payload id plus a fixed offset into a concrete root location
// rather than copying these bytes.
func (Ops) RecFetch(h *btrtree.Handle, payload pma.ID, wantKey, wantValue bool) (key, value []byte, err error) {
	k, v, err := readRecord(h, payload)
	if err != nil {
		return nil, nil, err
	}
	if wantKey {
		key = k
	}
	if wantValue {
		value = v
	}
	return key, value, nil
}

// RecUpdate is a no-op that always reports success: a dkey/akey leaf's only
// mutable content is its embedded child-root area, which the subtree
// stacker writes directly via ChildRootLocation, never through Upsert's
// value parameter. Re-upserting an existing (key, epoch) pair is therefore
// idempotent and leaves any already-created child subtree untouched, rather
// than falling back to RecFree+RecAlloc and orphaning it.
func (Ops) RecUpdate(*btrtree.Handle, *pma.Tx, pma.ID, []byte) (bool, error) {
	return true, nil
}

// RecStat reports the stored user key's size and the fixed embedded-root
// area size.
func (Ops) RecStat(h *btrtree.Handle, payload pma.ID) (int, int, error) {
	kl, err := userKeyLen(h, payload)
	if err != nil {
		return 0, 0, err
	}
	return kl, ChildRootSize, nil
}

// RecString renders a short diagnostic line.
func (Ops) RecString(h *btrtree.Handle, payload pma.ID, leaf bool) string {
	kl, err := userKeyLen(h, payload)
	if err != nil {
		return fmt.Sprintf("payload=%d <error: %v>", payload, err)
	}
	return fmt.Sprintf("payload=%d leaf=%t keylen=%d", payload, leaf, kl)
}

// ChildRootLocation returns the persistent id of the ChildRootSize-byte
// region inside payload reserved for an embedded child tree's root
// descriptor -- the address pkg/stacker hands to btrtree.CreateInPlace /
// OpenInPlace directly, with no extra allocation (§4.7). This offset sits
// past the codec frame's header and key, at exactly the point Encode placed
// the all-zero value it wrote at RecAlloc time.
func ChildRootLocation(h *btrtree.Handle, payload pma.ID) (pma.ID, error) {
	kl, err := userKeyLen(h, payload)
	if err != nil {
		return pma.Null, err
	}
	return payload + pma.ID(codec.HeaderSize+kl), nil
}
