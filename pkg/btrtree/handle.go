package btrtree

import (
	"fmt"

	"github.com/ssargent/pmatree/pkg/classreg"
	"github.com/ssargent/pmatree/pkg/pma"
)

// Handle is an open tree: a persistent memory allocator, the location of
// the tree's root descriptor, and the resolved class vtable that gives
// meaning to its records. A Handle is not safe for concurrent use by
// multiple goroutines without external synchronization, matching the
// teacher's BPlusTree (guarded by its own embedded mutex at a higher
// layer, e.g. pkg/engine).
type Handle struct {
	pma      *pma.PMA
	rootLoc  pma.ID
	classID  classreg.ClassID
	ops      ClassOps
	order    int
	hkeySize int
	stride   int
	nodeSize int
}

// Order returns the tree's fixed fan-out.
func (h *Handle) Order() int { return h.order }

// ClassID returns the class this tree was created against.
func (h *Handle) ClassID() classreg.ClassID { return h.classID }

// Features returns the feature bitmask frozen at create time.
func (h *Handle) Features() uint64 { return h.readRoot().Features }

// Depth returns the tree's current height (1 means just a leaf root).
func (h *Handle) Depth() int { return int(h.readRoot().Depth) }

// PMA exposes the underlying allocator, e.g. for a class's RecAlloc/RecFree
// to manage its own leaf-body storage.
func (h *Handle) PMA() *pma.PMA { return h.pma }

// RootLocation returns the persistent id of this tree's 32-byte root
// descriptor, e.g. for a parent leaf that wants to embed it (§ subtree
// stacking).
func (h *Handle) RootLocation() pma.ID { return h.rootLoc }

func (h *Handle) readRoot() RootDescriptor {
	buf, err := h.pma.Bytes(h.rootLoc, RootDescriptorSize)
	if err != nil {
		panic(fmt.Sprintf("btrtree: read root descriptor at %d: %v", h.rootLoc, err))
	}
	return DecodeRootDescriptor(buf)
}

func (h *Handle) writeRoot(tx *pma.Tx, rd RootDescriptor) error {
	if err := tx.AddRange(h.rootLoc, RootDescriptorSize); err != nil {
		return err
	}
	buf, err := h.pma.Bytes(h.rootLoc, RootDescriptorSize)
	if err != nil {
		return err
	}
	EncodeRootDescriptor(buf, rd)
	return nil
}

// allocNode allocates and zero-initializes a node of this tree's fixed size.
func (h *Handle) allocNode(tx *pma.Tx, leaf bool) (pma.ID, *nodeView, error) {
	id, err := tx.Zalloc(h.nodeSize)
	if err != nil {
		return pma.Null, nil, err
	}
	buf, err := h.pma.Bytes(id, h.nodeSize)
	if err != nil {
		return pma.Null, nil, err
	}
	nv := newNodeView(buf, h.order, h.hkeySize)
	nv.SetLeaf(leaf)
	return id, nv, nil
}

func (h *Handle) loadNode(id pma.ID) (*nodeView, error) {
	buf, err := h.pma.Bytes(id, h.nodeSize)
	if err != nil {
		return nil, err
	}
	return newNodeView(buf, h.order, h.hkeySize), nil
}

// dirtyNode journals a node's full byte range under tx so it can be mutated
// in place; callers must call this before writing through the returned
// *nodeView's setters.
func (h *Handle) dirtyNode(tx *pma.Tx, id pma.ID) (*nodeView, error) {
	if err := tx.AddRange(id, h.nodeSize); err != nil {
		return nil, err
	}
	return h.loadNode(id)
}

func effectiveOrder(classOrder uint16, requested int) int {
	if requested > 0 {
		return requested
	}
	return int(classOrder)
}

// CreateInPlace creates a new tree whose 32-byte root descriptor lives at
// rootLoc -- a byte range the caller already owns (typically a sub-range of
// a parent leaf's payload, per the subtree-stacking design). order of 0
// means "use the class's registered default order". The whole operation is
// journaled under tx; the caller commits or aborts.
func CreateInPlace(p *pma.PMA, tx *pma.Tx, rootLoc pma.ID, classID classreg.ClassID, order int) (*Handle, error) {
	desc, ops, err := resolveClass(classID)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		pma:     p,
		rootLoc: rootLoc,
		classID: classID,
		ops:     ops,
		order:   effectiveOrder(desc.DefaultOrder, order),
	}
	h.hkeySize = ops.HKeySize(h)
	h.stride = recordStride(h.hkeySize)
	h.nodeSize = nodeByteSize(h.order, h.hkeySize)

	rootNodeID, rootNode, err := h.allocNode(tx, true)
	if err != nil {
		return nil, err
	}
	rootNode.SetRoot(true)

	if err := tx.AddRange(rootLoc, RootDescriptorSize); err != nil {
		return nil, err
	}
	buf, err := p.Bytes(rootLoc, RootDescriptorSize)
	if err != nil {
		return nil, err
	}
	EncodeRootDescriptor(buf, RootDescriptor{
		Order:      uint16(h.order),
		Depth:      1,
		ClassID:    classID,
		Features:   desc.Features,
		Generation: 1,
		RootNode:   rootNodeID,
	})
	return h, nil
}

// Create allocates a fresh 32-byte root descriptor from p and creates a new
// tree there, committing its own short transaction.
func Create(p *pma.PMA, classID classreg.ClassID, order int) (*Handle, error) {
	tx := p.Begin()
	rootLoc, err := tx.Zalloc(RootDescriptorSize)
	if err != nil {
		tx.Abort()
		return nil, err
	}
	h, err := CreateInPlace(p, tx, rootLoc, classID, order)
	if err != nil {
		tx.Abort()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return h, nil
}

// OpenInPlace opens a tree whose root descriptor already exists at rootLoc.
func OpenInPlace(p *pma.PMA, rootLoc pma.ID) (*Handle, error) {
	buf, err := p.Bytes(rootLoc, RootDescriptorSize)
	if err != nil {
		return nil, err
	}
	rd := DecodeRootDescriptor(buf)
	_, ops, err := resolveClass(rd.ClassID)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		pma:     p,
		rootLoc: rootLoc,
		classID: rd.ClassID,
		ops:     ops,
		order:   int(rd.Order),
	}
	h.hkeySize = ops.HKeySize(h)
	h.stride = recordStride(h.hkeySize)
	h.nodeSize = nodeByteSize(h.order, h.hkeySize)
	return h, nil
}

// Open is an alias of OpenInPlace kept for symmetry with Create; trees
// opened this way and trees created with Create share the exact same
// representation, there being no separate "owned" vs "in-place" on-media
// format (§ subtree stacking's whole point is that a root descriptor looks
// identical wherever it's embedded).
func Open(p *pma.PMA, rootLoc pma.ID) (*Handle, error) { return OpenInPlace(p, rootLoc) }

// Close releases no resources of its own; it exists so callers have a
// symmetric counterpart to Create/Open, matching the teacher's
// BPlusTree lifecycle shape.
func (h *Handle) Close() error { return nil }

// IsEmpty reports whether the tree holds zero records.
func (h *Handle) IsEmpty() (bool, error) {
	rd := h.readRoot()
	root, err := h.loadNode(rd.RootNode)
	if err != nil {
		return false, err
	}
	return root.IsLeaf() && root.NKeys() == 0, nil
}

// Destroy walks the whole tree freeing every node and leaf payload,
// journaled under tx, and finally frees the root descriptor itself if it
// was allocated by Create (ownsRoot). A tree created with CreateInPlace is
// embedded in a parent's allocation and its root descriptor bytes are the
// parent's to free.
func (h *Handle) Destroy(tx *pma.Tx, ownsRoot bool) error {
	rd := h.readRoot()
	if err := h.destroySubtree(tx, rd.RootNode); err != nil {
		return err
	}
	if ownsRoot {
		tx.Free(h.rootLoc, RootDescriptorSize)
	}
	return nil
}

func (h *Handle) destroySubtree(tx *pma.Tx, id pma.ID) error {
	node, err := h.loadNode(id)
	if err != nil {
		return err
	}
	nk := node.NKeys()
	if node.IsLeaf() {
		for i := 0; i < nk; i++ {
			if err := h.ops.RecFree(h, tx, node.PayloadID(i)); err != nil {
				return err
			}
		}
	} else {
		for i := 0; i <= nk; i++ {
			if err := h.destroySubtree(tx, node.Child(i)); err != nil {
				return err
			}
		}
	}
	tx.Free(id, h.nodeSize)
	return nil
}
