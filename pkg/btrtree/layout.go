package btrtree

import (
	"encoding/binary"

	"github.com/ssargent/pmatree/pkg/classreg"
	"github.com/ssargent/pmatree/pkg/pma"
)

// RootDescriptorSize is the exact on-media size of a root descriptor (§6).
const RootDescriptorSize = 32

// NodeHeaderSize is the exact on-media size of a node header, before its
// packed record array (§6).
const NodeHeaderSize = 24

// RootDescriptor is the 32-byte on-media root of a tree: order and current
// depth, the registered class this tree was created against, the feature
// bitmask actually in force (a copy of the class's, frozen at create time so
// a later re-registration of the class can't change an existing tree's
// semantics), a generation counter bumped on every mutating operation
// (inserts, in-place value updates and deletes alike), and
// the persistent id of the current root node.
type RootDescriptor struct {
	Order      uint16
	Depth      uint16
	ClassID    classreg.ClassID
	Features   uint64
	Generation uint64
	RootNode   pma.ID
}

// DecodeRootDescriptor reads a RootDescriptor from its 32-byte on-media form.
func DecodeRootDescriptor(buf []byte) RootDescriptor {
	_ = buf[:RootDescriptorSize]
	return RootDescriptor{
		Order:      binary.LittleEndian.Uint16(buf[0:2]),
		Depth:      binary.LittleEndian.Uint16(buf[2:4]),
		ClassID:    classreg.ClassID(binary.LittleEndian.Uint32(buf[4:8])),
		Features:   binary.LittleEndian.Uint64(buf[8:16]),
		Generation: binary.LittleEndian.Uint64(buf[16:24]),
		RootNode:   pma.ID(binary.LittleEndian.Uint64(buf[24:32])),
	}
}

// EncodeRootDescriptor writes rd into its 32-byte on-media form.
func EncodeRootDescriptor(buf []byte, rd RootDescriptor) {
	_ = buf[:RootDescriptorSize]
	binary.LittleEndian.PutUint16(buf[0:2], rd.Order)
	binary.LittleEndian.PutUint16(buf[2:4], rd.Depth)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(rd.ClassID))
	binary.LittleEndian.PutUint64(buf[8:16], rd.Features)
	binary.LittleEndian.PutUint64(buf[16:24], rd.Generation)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(rd.RootNode))
}

// Node flag bits, packed into the header's 16-bit flag word.
const (
	flagLeaf uint16 = 1 << 0
	flagRoot uint16 = 1 << 1
)

// recordStride returns the byte width of one packed record: an 8-byte
// payload id followed by hkeySize bytes of inline key area.
func recordStride(hkeySize int) int { return 8 + hkeySize }

// nodeByteSize returns the total on-media size of a node with the given
// fan-out and inline-key width.
func nodeByteSize(order int, hkeySize int) int {
	return NodeHeaderSize + order*recordStride(hkeySize)
}

// nodeView is a live, write-through accessor over a node's raw bytes: every
// getter/setter reads or writes directly into buf, which is itself a slice
// returned by pma.Bytes -- there is no separate in-memory copy to
// serialize back out.
type nodeView struct {
	buf      []byte
	order    int
	hkeySize int
	stride   int
}

func newNodeView(buf []byte, order, hkeySize int) *nodeView {
	return &nodeView{buf: buf, order: order, hkeySize: hkeySize, stride: recordStride(hkeySize)}
}

func (n *nodeView) Flags() uint16       { return binary.LittleEndian.Uint16(n.buf[0:2]) }
func (n *nodeView) setFlags(f uint16)   { binary.LittleEndian.PutUint16(n.buf[0:2], f) }
func (n *nodeView) IsLeaf() bool        { return n.Flags()&flagLeaf != 0 }
func (n *nodeView) IsRoot() bool        { return n.Flags()&flagRoot != 0 }
func (n *nodeView) SetLeaf(v bool)      { n.setFlagBit(flagLeaf, v) }
func (n *nodeView) SetRoot(v bool)      { n.setFlagBit(flagRoot, v) }

func (n *nodeView) setFlagBit(bit uint16, v bool) {
	f := n.Flags()
	if v {
		f |= bit
	} else {
		f &^= bit
	}
	n.setFlags(f)
}

func (n *nodeView) NKeys() int          { return int(binary.LittleEndian.Uint16(n.buf[2:4])) }
func (n *nodeView) SetNKeys(v int)      { binary.LittleEndian.PutUint16(n.buf[2:4], uint16(v)) }

func (n *nodeView) Generation() uint64     { return binary.LittleEndian.Uint64(n.buf[8:16]) }
func (n *nodeView) SetGeneration(v uint64) { binary.LittleEndian.PutUint64(n.buf[8:16], v) }

func (n *nodeView) LeftmostChild() pma.ID { return pma.ID(binary.LittleEndian.Uint64(n.buf[16:24])) }
func (n *nodeView) SetLeftmostChild(id pma.ID) {
	binary.LittleEndian.PutUint64(n.buf[16:24], uint64(id))
}

func (n *nodeView) recordOffset(i int) int { return NodeHeaderSize + i*n.stride }

func (n *nodeView) PayloadID(i int) pma.ID {
	off := n.recordOffset(i)
	return pma.ID(binary.LittleEndian.Uint64(n.buf[off : off+8]))
}

func (n *nodeView) SetPayloadID(i int, id pma.ID) {
	off := n.recordOffset(i)
	binary.LittleEndian.PutUint64(n.buf[off:off+8], uint64(id))
}

// HKey returns a direct, mutable view of record i's inline key area.
func (n *nodeView) HKey(i int) []byte {
	off := n.recordOffset(i) + 8
	return n.buf[off : off+n.hkeySize]
}

func (n *nodeView) SetHKey(i int, key []byte) {
	copy(n.HKey(i), key)
}

// Child returns the persistent id of the i-th child of an internal node,
// where i ranges over [0, NKeys()]: child 0 is the leftmost child and child
// i (i>0) is record[i-1]'s payload.
func (n *nodeView) Child(i int) pma.ID {
	if i == 0 {
		return n.LeftmostChild()
	}
	return n.PayloadID(i - 1)
}

func (n *nodeView) SetChild(i int, id pma.ID) {
	if i == 0 {
		n.SetLeftmostChild(id)
		return
	}
	n.SetPayloadID(i-1, id)
}

// insertAt shifts records [i, NKeys()) one slot to the right and bumps
// NKeys, leaving slot i undefined for the caller to fill in.
func (n *nodeView) insertAt(i int) {
	nk := n.NKeys()
	for j := nk; j > i; j-- {
		copy(n.buf[n.recordOffset(j):n.recordOffset(j)+n.stride], n.buf[n.recordOffset(j-1):n.recordOffset(j-1)+n.stride])
	}
	n.SetNKeys(nk + 1)
}

// removeAt shifts records (i, NKeys()) one slot to the left over slot i and
// decrements NKeys.
func (n *nodeView) removeAt(i int) {
	nk := n.NKeys()
	for j := i; j < nk-1; j++ {
		copy(n.buf[n.recordOffset(j):n.recordOffset(j)+n.stride], n.buf[n.recordOffset(j+1):n.recordOffset(j+1)+n.stride])
	}
	n.SetNKeys(nk - 1)
}
