package btrtree

import "github.com/ssargent/pmatree/pkg/pma"

// pathEntry records one internal-node hop taken while descending: which
// node, and which child slot (0..NKeys()) was taken. A Cursor's path is the
// full root-to-leaf trail (§4.3), which is what lets Next/Prev/Delete walk
// to adjacent leaves or rebalance without re-probing from the root.
type pathEntry struct {
	nodeID pma.ID
	slot   int
}

// Cursor is the result of a Probe: a root-to-leaf path plus the matched (or
// nearest) slot within the landing leaf.
type Cursor struct {
	path     []pathEntry
	leafID   pma.ID
	leafSlot int
	atEnd    bool
	atBegin  bool
}

// combinedCompare is the authoritative record/probe-key comparison: the
// class's HKeyCmp, refined by KeyCmp when HKeyCmp alone can't tell two
// different full keys apart (a pure CmpEQ from the inline comparator).
func (h *Handle) combinedCompare(leaf *nodeView, i int, key []byte) (CmpResult, error) {
	rec := RecordRef{HKey: leaf.HKey(i), Payload: leaf.PayloadID(i)}
	r := h.ops.HKeyCmp(h, rec, key)
	if r.IsEQ() {
		return h.ops.KeyCmp(h, rec, key)
	}
	return r, nil
}

// lowerBoundChild picks the child slot a key-guided descent should take:
// the first child whose separator is strictly greater than key, or the
// last child if key is not less than every separator. Splits promote the
// minimum key of the right subtree as the separator (see
// splitLeafWithInsert and splitInternalWithInsert), so a separator is
// itself a live key belonging to the right child -- a probe key equal to a
// separator must descend right, not left. Internal separators are compared
// with HKeyCmp alone -- the full-key tiebreak only matters once a search
// reaches the leaf holding the actual records.
func (h *Handle) lowerBoundChild(node *nodeView, key []byte) int {
	for i := 0; i < node.NKeys(); i++ {
		rec := RecordRef{HKey: node.HKey(i), Payload: node.PayloadID(i)}
		if h.ops.HKeyCmp(h, rec, key).IsGT() {
			return i
		}
	}
	return node.NKeys()
}

// descend walks from rootID to a leaf, calling pick at every internal node
// to choose which child to take, and returns the path of internal hops
// plus the landing leaf.
func (h *Handle) descend(rootID pma.ID, pick func(*nodeView) int) ([]pathEntry, pma.ID, *nodeView, error) {
	var path []pathEntry
	cur := rootID
	for {
		node, err := h.loadNode(cur)
		if err != nil {
			return nil, pma.Null, nil, err
		}
		if node.IsLeaf() {
			return path, cur, node, nil
		}
		slot := pick(node)
		path = append(path, pathEntry{nodeID: cur, slot: slot})
		cur = node.Child(slot)
	}
}

// Probe searches the tree per opcode (§4.3), returning a cursor positioned
// at the matched (or, for GE/LE, the nearest qualifying) record, and
// whether a record was actually found. OpBypass reuses last's position
// unchanged. key is ignored for OpFirst/OpLast/OpBypass.
func (h *Handle) Probe(opcode Opcode, key []byte, last *Cursor) (*Cursor, bool, error) {
	if opcode == OpBypass {
		if last == nil {
			return nil, false, ErrInvalidArgument
		}
		leaf, err := h.loadNode(last.leafID)
		if err != nil {
			return nil, false, err
		}
		return last, last.leafSlot >= 0 && last.leafSlot < leaf.NKeys(), nil
	}

	rd := h.readRoot()

	switch opcode {
	case OpFirst:
		path, leafID, leaf, err := h.descend(rd.RootNode, func(*nodeView) int { return 0 })
		if err != nil {
			return nil, false, err
		}
		c := &Cursor{path: path, leafID: leafID, leafSlot: 0}
		return c, leaf.NKeys() > 0, nil
	case OpLast:
		path, leafID, leaf, err := h.descend(rd.RootNode, func(n *nodeView) int { return n.NKeys() })
		if err != nil {
			return nil, false, err
		}
		c := &Cursor{path: path, leafID: leafID, leafSlot: leaf.NKeys() - 1}
		return c, leaf.NKeys() > 0, nil
	}

	path, leafID, leaf, err := h.descend(rd.RootNode, func(n *nodeView) int { return h.lowerBoundChild(n, key) })
	if err != nil {
		return nil, false, err
	}
	c := &Cursor{path: path, leafID: leafID, leafSlot: 0}

	nk := leaf.NKeys()
	lb := nk
	var lbCmp CmpResult
	for i := 0; i < nk; i++ {
		cmp, err := h.combinedCompare(leaf, i, key)
		if err != nil {
			return nil, false, err
		}
		if !cmp.IsLT() {
			lb, lbCmp = i, cmp
			break
		}
	}

	switch opcode {
	case OpEQ:
		if lb < nk && lbCmp.IsEQ() {
			c.leafSlot = lb
			return c, true, nil
		}
		return c, false, nil

	case OpGE:
		// Matched-tolerant: a pure EQ, or the landing GT/GT|matched slot, is
		// accepted as-is (§4.6) -- the inline comparator's epoch ordering
		// already does the floor-vs-ceiling work, so no extra lookback is
		// needed once we've found the first non-LT slot.
		if lb < nk {
			c.leafSlot = lb
			return c, true, nil
		}
		c.leafSlot = nk
		return h.scanForward(c, func(cmp CmpResult) bool { return true }, key)

	case OpGT:
		for i := lb; i < nk; i++ {
			cmp, err := h.combinedCompare(leaf, i, key)
			if err != nil {
				return nil, false, err
			}
			if cmp.IsGT() && !cmp.IsMatched() {
				c.leafSlot = i
				return c, true, nil
			}
		}
		c.leafSlot = nk
		return h.scanForward(c, func(cmp CmpResult) bool { return cmp.IsGT() && !cmp.IsMatched() }, key)

	case OpLE:
		if lb < nk && lbCmp.IsEQ() {
			c.leafSlot = lb
			return c, true, nil
		}
		if lb > 0 {
			c.leafSlot = lb - 1
			return c, true, nil
		}
		c.leafSlot = -1
		return h.scanBackward(c, func(cmp CmpResult) bool { return true }, key)

	case OpLT:
		for i := lb - 1; i >= 0; i-- {
			cmp, err := h.combinedCompare(leaf, i, key)
			if err != nil {
				return nil, false, err
			}
			if cmp.IsLT() && !cmp.IsMatched() {
				c.leafSlot = i
				return c, true, nil
			}
		}
		c.leafSlot = -1
		return h.scanBackward(c, func(cmp CmpResult) bool { return cmp.IsLT() && !cmp.IsMatched() }, key)
	}

	return nil, false, ErrInvalidArgument
}

// advance moves c one record forward (structurally, no key comparison),
// climbing the path and descending the next sibling's leftmost spine as
// needed. Sets c.atEnd once there is no next record.
func (h *Handle) advance(c *Cursor) error {
	leaf, err := h.loadNode(c.leafID)
	if err != nil {
		return err
	}
	if c.leafSlot+1 < leaf.NKeys() {
		c.leafSlot++
		return nil
	}
	for len(c.path) > 0 {
		top := c.path[len(c.path)-1]
		parent, err := h.loadNode(top.nodeID)
		if err != nil {
			return err
		}
		if top.slot < parent.NKeys() {
			newSlot := top.slot + 1
			c.path[len(c.path)-1].slot = newSlot
			cur := parent.Child(newSlot)
			for {
				node, err := h.loadNode(cur)
				if err != nil {
					return err
				}
				if node.IsLeaf() {
					c.leafID = cur
					c.leafSlot = 0
					return nil
				}
				c.path = append(c.path, pathEntry{nodeID: cur, slot: 0})
				cur = node.Child(0)
			}
		}
		c.path = c.path[:len(c.path)-1]
	}
	c.atEnd = true
	return nil
}

// retreat is advance's mirror image, moving c one record backward.
func (h *Handle) retreat(c *Cursor) error {
	if c.leafSlot > 0 {
		c.leafSlot--
		return nil
	}
	for len(c.path) > 0 {
		top := c.path[len(c.path)-1]
		if top.slot > 0 {
			newSlot := top.slot - 1
			c.path[len(c.path)-1].slot = newSlot
			parent, err := h.loadNode(top.nodeID)
			if err != nil {
				return err
			}
			cur := parent.Child(newSlot)
			for {
				node, err := h.loadNode(cur)
				if err != nil {
					return err
				}
				if node.IsLeaf() {
					c.leafID = cur
					c.leafSlot = node.NKeys() - 1
					return nil
				}
				c.path = append(c.path, pathEntry{nodeID: cur, slot: node.NKeys()})
				cur = node.Child(node.NKeys())
			}
		}
		c.path = c.path[:len(c.path)-1]
	}
	c.atBegin = true
	return nil
}

func (h *Handle) scanForward(c *Cursor, accept func(CmpResult) bool, key []byte) (*Cursor, bool, error) {
	for {
		if err := h.advance(c); err != nil {
			return nil, false, err
		}
		if c.atEnd {
			return c, false, nil
		}
		leaf, err := h.loadNode(c.leafID)
		if err != nil {
			return nil, false, err
		}
		cmp, err := h.combinedCompare(leaf, c.leafSlot, key)
		if err != nil {
			return nil, false, err
		}
		if accept(cmp) {
			return c, true, nil
		}
	}
}

func (h *Handle) scanBackward(c *Cursor, accept func(CmpResult) bool, key []byte) (*Cursor, bool, error) {
	for {
		if err := h.retreat(c); err != nil {
			return nil, false, err
		}
		if c.atBegin {
			return c, false, nil
		}
		leaf, err := h.loadNode(c.leafID)
		if err != nil {
			return nil, false, err
		}
		cmp, err := h.combinedCompare(leaf, c.leafSlot, key)
		if err != nil {
			return nil, false, err
		}
		if accept(cmp) {
			return c, true, nil
		}
	}
}
