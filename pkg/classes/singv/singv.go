// Package singv implements the single-value tree class: the terminal level
// of an object's dkey -> akey -> singv hierarchy, where an epoch maps
// directly to the actual value bytes a write stored. Grounded on
// vos_tree.c's singv_btr_ops, which -- unlike key_btr_ops -- keys purely by
// epoch and never sets BTR_CMP_MATCHED: every probe against a singv tree
// already carries a fully resolved epoch (the dkey/akey levels above have
// already done the hash-and-epoch floor search), so there is no identity
// component left to hash or to flag a version mismatch against (§4.6).
package singv

import (
	"encoding/binary"
	"fmt"

	"github.com/ssargent/pmatree/pkg/btrtree"
	"github.com/ssargent/pmatree/pkg/classreg"
	"github.com/ssargent/pmatree/pkg/codec"
	"github.com/ssargent/pmatree/pkg/pma"
)

// ClassID is the registered class id for singv trees, drawn from the
// storage-engine reserved range (§4.1).
const ClassID = classreg.RangeStorageEngineMin + 2

// DefaultOrder is the fan-out used when a caller does not specify one.
const DefaultOrder = 32

// HKeySize is the inline key width: an 8-byte big-endian epoch, nothing else.
const HKeySize = 8

var recCodec = codec.NewRecordCodec()

// Ops is the singv_btr_ops equivalent: epoch-only ordering over real,
// codec-framed values.
type Ops struct {
	btrtree.DefaultOps
}

// Register adds the singv class to the process-wide registry. Must be
// called once before any singv tree is created or opened.
func Register() error {
	return btrtree.RegisterClass(ClassID, DefaultOrder, 0, Ops{})
}

// EncodeKey builds the probe key a singv tree expects: the epoch alone.
func EncodeKey(epoch uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, epoch)
	return out
}

func decodeEpoch(key []byte) uint64 { return binary.BigEndian.Uint64(key[:8]) }

// DecodeEpoch extracts the epoch a singv record's inline key encodes,
// exported for callers (pkg/engine's iteration helper) that walk a singv
// tree directly rather than through Fetch/Upsert.
func DecodeEpoch(key []byte) uint64 { return decodeEpoch(key) }

// HKeySize returns the fixed 8-byte epoch width.
func (Ops) HKeySize(*btrtree.Handle) int { return HKeySize }

// HKeyGen is the identity: the probe key already is the inline key.
func (Ops) HKeyGen(_ *btrtree.Handle, key []byte) []byte {
	out := make([]byte, HKeySize)
	copy(out, key[:HKeySize])
	return out
}

// HKeyCmp orders strictly by epoch with the same inverted direction
// key_btr_ops uses for the epoch half of its comparison (a newer, larger
// stored epoch sorts as LT an older query epoch), but -- unlike
// keybtr.Ops.HKeyCmp -- never sets CmpMatched: a singv tree has no separate
// identity component to flag a version mismatch against, so a non-equal
// result is exactly that, an ordering, never a "same key different
// revision" signal (§4.6).
func (Ops) HKeyCmp(_ *btrtree.Handle, rec btrtree.RecordRef, probeKey []byte) btrtree.CmpResult {
	recEpoch := decodeEpoch(rec.HKey)
	probeEpoch := decodeEpoch(probeKey)
	switch {
	case recEpoch > probeEpoch:
		return btrtree.CmpLT
	case recEpoch < probeEpoch:
		return btrtree.CmpGT
	default:
		return btrtree.CmpEQ
	}
}

// KeyCmp is the DefaultOps passthrough: HKeyCmp's EQ is already a full-key
// match, since the inline key area holds the entire key (the epoch) with no
// hashing and therefore no collision risk.

// RecAlloc frames the epoch and value through pkg/codec (CRC32 +
// size-prefixed), journaled under tx. A new write at a new epoch gets its
// own record, and a re-write at the same epoch goes through RecUpdate, which
// re-encodes the whole frame, so unlike a dkey/akey leaf this frame's CRC
// stays meaningful for the life of the record.
func (Ops) RecAlloc(h *btrtree.Handle, tx *pma.Tx, key, value []byte) (pma.ID, error) {
	frame, err := recCodec.Encode(key[:HKeySize], value)
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

func readHeader(h *btrtree.Handle, payload pma.ID) (keySize, valueSize int, err error) {
	head, err := h.PMA().Bytes(payload, codec.HeaderSize)
	if err != nil {
		return 0, 0, err
	}
	keySize = int(binary.LittleEndian.Uint32(head[4:8]))
	valueSize = int(binary.LittleEndian.Uint32(head[8:12]))
	return keySize, valueSize, nil
}

func recordSize(keySize, valueSize int) int { return codec.HeaderSize + keySize + valueSize }

func readRecord(h *btrtree.Handle, payload pma.ID) (*codec.Record, error) {
	kl, vl, err := readHeader(h, payload)
	if err != nil {
		return nil, err
	}
	buf, err := h.PMA().Bytes(payload, recordSize(kl, vl))
	if err != nil {
		return nil, err
	}
	return recCodec.Decode(buf)
}

// RecFree releases a record's whole allocation, journaled under tx.
func (Ops) RecFree(h *btrtree.Handle, tx *pma.Tx, payload pma.ID) error {
	kl, vl, err := readHeader(h, payload)
	if err != nil {
		return err
	}
	tx.Free(payload, recordSize(kl, vl))
	return nil
}

// RecFetch decodes and returns the stored epoch key and/or value bytes.
// The frame's CRC32 stays valid (RecUpdate re-encodes it), but RecFetch
// does not call Validate, so a read does not pay for a checksum; no
// callback of this class runs Validate.
func (Ops) RecFetch(h *btrtree.Handle, payload pma.ID, wantKey, wantValue bool) (key, value []byte, err error) {
	rec, err := readRecord(h, payload)
	if err != nil {
		return nil, nil, err
	}
	if wantKey {
		key = rec.Key
	}
	if wantValue {
		value = rec.Value
	}
	return key, value, nil
}

// RecUpdate overwrites an existing record's value in place when the new
// value is no larger than the one it replaces (the allocation was sized for
// the original value and never grows); otherwise it reports false so the
// caller falls back to RecFree + RecAlloc. Re-encoding through pkg/codec
// keeps the CRC32 honest across the overwrite, since a singv record's
// value, unlike a dkey/akey leaf's embedded root, is the whole point of the
// checksum.
func (Ops) RecUpdate(h *btrtree.Handle, tx *pma.Tx, payload pma.ID, value []byte) (bool, error) {
	kl, vl, err := readHeader(h, payload)
	if err != nil {
		return false, err
	}
	if len(value) > vl {
		return false, nil
	}
	rec, err := readRecord(h, payload)
	if err != nil {
		return false, err
	}
	frame, err := recCodec.Encode(rec.Key, value)
	if err != nil {
		return false, err
	}
	if err := tx.AddRange(payload, recordSize(kl, vl)); err != nil {
		return false, err
	}
	buf, err := h.PMA().Bytes(payload, len(frame))
	if err != nil {
		return false, err
	}
	copy(buf, frame)
	return true, nil
}

// RecStat reports the stored key and value sizes.
func (Ops) RecStat(h *btrtree.Handle, payload pma.ID) (int, int, error) {
	return readHeader(h, payload)
}

// RecString renders a short diagnostic line including the stored epoch.
func (Ops) RecString(h *btrtree.Handle, payload pma.ID, leaf bool) string {
	rec, err := readRecord(h, payload)
	if err != nil {
		return fmt.Sprintf("payload=%d <error: %v>", payload, err)
	}
	return fmt.Sprintf("payload=%d leaf=%t epoch=%d valuelen=%d", payload, leaf, decodeEpoch(rec.Key), len(rec.Value))
}
