package btrtree

import "github.com/ssargent/pmatree/pkg/pma"

func minKeys(order int) int {
	m := order / 2
	if m < 1 {
		m = 1
	}
	return m
}

// Fetch probes for key with opcode and, if found, returns its full key and
// value via the class's RecFetch.
func (h *Handle) Fetch(opcode Opcode, key []byte) (fullKey, value []byte, err error) {
	c, found, err := h.Probe(opcode, key, nil)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, ErrNotFound
	}
	leaf, err := h.loadNode(c.leafID)
	if err != nil {
		return nil, nil, err
	}
	return h.ops.RecFetch(h, leaf.PayloadID(c.leafSlot), true, true)
}

// PayloadID returns the persistent id of the record c landed on -- the
// address a caller that needs more than RecFetch's copied key/value (e.g.
// pkg/stacker resolving an embedded child-tree root in place) resolves
// further itself.
func (h *Handle) PayloadID(c *Cursor) (pma.ID, error) {
	leaf, err := h.loadNode(c.leafID)
	if err != nil {
		return pma.Null, err
	}
	if c.leafSlot < 0 || c.leafSlot >= leaf.NKeys() {
		return pma.Null, ErrNotFound
	}
	return leaf.PayloadID(c.leafSlot), nil
}

// splitPromote describes a (separator, new-right-sibling) pair still
// waiting to be inserted into a parent -- the "carry" of a split
// propagating up the tree.
type splitPromote struct {
	sepHKey []byte
	rightID pma.ID
}

// Upsert inserts key/value, or overwrites the existing record's value when
// key already has a pure (non-matched) exact match, journaled under tx.
func (h *Handle) Upsert(tx *pma.Tx, key, value []byte) error {
	rd := h.readRoot()
	path, leafID, _, err := h.descend(rd.RootNode, func(n *nodeView) int { return h.lowerBoundChild(n, key) })
	if err != nil {
		return err
	}
	leaf, err := h.dirtyNode(tx, leafID)
	if err != nil {
		return err
	}

	nk := leaf.NKeys()
	lb := nk
	var lbCmp CmpResult
	for i := 0; i < nk; i++ {
		cmp, err := h.combinedCompare(leaf, i, key)
		if err != nil {
			return err
		}
		if !cmp.IsLT() {
			lb, lbCmp = i, cmp
			break
		}
	}

	if lb < nk && lbCmp.IsEQ() {
		payload := leaf.PayloadID(lb)
		ok, err := h.ops.RecUpdate(h, tx, payload, value)
		if err != nil {
			return err
		}
		if !ok {
			if err := h.ops.RecFree(h, tx, payload); err != nil {
				return err
			}
			newPayload, err := h.ops.RecAlloc(h, tx, key, value)
			if err != nil {
				return err
			}
			leaf.SetPayloadID(lb, newPayload)
		}
		return h.bumpGeneration(tx, rd)
	}

	newHKey := h.ops.HKeyGen(h, key)
	newPayload, err := h.ops.RecAlloc(h, tx, key, value)
	if err != nil {
		return err
	}

	var pending *splitPromote
	if leaf.NKeys() < h.order {
		leaf.insertAt(lb)
		leaf.SetHKey(lb, newHKey)
		leaf.SetPayloadID(lb, newPayload)
	} else {
		pending, err = h.splitLeafWithInsert(tx, leafID, leaf, lb, newHKey, newPayload)
		if err != nil {
			return err
		}
	}

	for i := len(path) - 1; i >= 0 && pending != nil; i-- {
		entry := path[i]
		parent, err := h.dirtyNode(tx, entry.nodeID)
		if err != nil {
			return err
		}
		if parent.NKeys() < h.order {
			parent.insertAt(entry.slot)
			parent.SetHKey(entry.slot, pending.sepHKey)
			parent.SetPayloadID(entry.slot, pending.rightID)
			pending = nil
		} else {
			pending, err = h.splitInternalWithInsert(tx, parent, entry.slot, pending)
			if err != nil {
				return err
			}
		}
	}

	if pending != nil {
		if err := h.growRoot(tx, rd, pending); err != nil {
			return err
		}
		return nil
	}
	return h.bumpGeneration(tx, rd)
}

func (h *Handle) bumpGeneration(tx *pma.Tx, rd RootDescriptor) error {
	rd.Generation++
	return h.writeRoot(tx, rd)
}

type tempRec struct {
	hkey    []byte
	payload pma.ID
}

func readRecords(n *nodeView) []tempRec {
	out := make([]tempRec, n.NKeys())
	for i := range out {
		hk := make([]byte, len(n.HKey(i)))
		copy(hk, n.HKey(i))
		out[i] = tempRec{hkey: hk, payload: n.PayloadID(i)}
	}
	return out
}

func writeRecords(n *nodeView, recs []tempRec) {
	n.SetNKeys(0)
	n.SetNKeys(len(recs))
	for i, r := range recs {
		n.SetHKey(i, r.hkey)
		n.SetPayloadID(i, r.payload)
	}
}

// splitLeafWithInsert splits a full leaf, inserting (newHKey,newPayload) at
// logical position lb, keeping the left half under leafID and allocating a
// fresh right sibling. It returns the separator/right-id to promote.
func (h *Handle) splitLeafWithInsert(tx *pma.Tx, leafID pma.ID, leaf *nodeView, lb int, newHKey []byte, newPayload pma.ID) (*splitPromote, error) {
	existing := readRecords(leaf)
	merged := make([]tempRec, 0, len(existing)+1)
	merged = append(merged, existing[:lb]...)
	merged = append(merged, tempRec{hkey: newHKey, payload: newPayload})
	merged = append(merged, existing[lb:]...)

	mid := (len(merged) + 1) / 2
	left, right := merged[:mid], merged[mid:]

	writeRecords(leaf, left)

	rightID, rightNode, err := h.allocNode(tx, true)
	if err != nil {
		return nil, err
	}
	writeRecords(rightNode, right)

	return &splitPromote{sepHKey: right[0].hkey, rightID: rightID}, nil
}

// splitInternalWithInsert splits a full internal node, inserting
// (pending.sepHKey, pending.rightID) at child position slot (separator at
// index slot, new child at slot+1), keeping the left half under nodeID.
func (h *Handle) splitInternalWithInsert(tx *pma.Tx, node *nodeView, slot int, pending *splitPromote) (*splitPromote, error) {
	keys := make([][]byte, 0, node.NKeys()+1)
	children := make([]pma.ID, 0, node.NKeys()+2)
	children = append(children, node.LeftmostChild())
	for i := 0; i < node.NKeys(); i++ {
		hk := make([]byte, len(node.HKey(i)))
		copy(hk, node.HKey(i))
		keys = append(keys, hk)
		children = append(children, node.PayloadID(i))
	}

	// Insert the new separator at index slot and the new child right after
	// the existing child at that position.
	newKeys := make([][]byte, 0, len(keys)+1)
	newKeys = append(newKeys, keys[:slot]...)
	newKeys = append(newKeys, pending.sepHKey)
	newKeys = append(newKeys, keys[slot:]...)

	newChildren := make([]pma.ID, 0, len(children)+1)
	newChildren = append(newChildren, children[:slot+1]...)
	newChildren = append(newChildren, pending.rightID)
	newChildren = append(newChildren, children[slot+1:]...)

	mid := len(newKeys) / 2
	promoted := newKeys[mid]

	leftKeys, leftChildren := newKeys[:mid], newChildren[:mid+1]
	rightKeys, rightChildren := newKeys[mid+1:], newChildren[mid+1:]

	node.SetNKeys(0)
	node.SetLeftmostChild(leftChildren[0])
	node.SetNKeys(len(leftKeys))
	for i, k := range leftKeys {
		node.SetHKey(i, k)
		node.SetPayloadID(i, leftChildren[i+1])
	}

	rightID, rightNode, err := h.allocNode(tx, false)
	if err != nil {
		return nil, err
	}
	rightNode.SetLeftmostChild(rightChildren[0])
	rightNode.SetNKeys(len(rightKeys))
	for i, k := range rightKeys {
		rightNode.SetHKey(i, k)
		rightNode.SetPayloadID(i, rightChildren[i+1])
	}

	return &splitPromote{sepHKey: promoted, rightID: rightID}, nil
}

func (h *Handle) growRoot(tx *pma.Tx, rd RootDescriptor, pending *splitPromote) error {
	oldRootID := rd.RootNode
	oldRoot, err := h.loadNode(oldRootID)
	if err != nil {
		return err
	}
	oldRoot.SetRoot(false)

	newRootID, newRoot, err := h.allocNode(tx, false)
	if err != nil {
		return err
	}
	newRoot.SetRoot(true)
	newRoot.SetLeftmostChild(oldRootID)
	newRoot.insertAt(0)
	newRoot.SetHKey(0, pending.sepHKey)
	newRoot.SetPayloadID(0, pending.rightID)

	rd.RootNode = newRootID
	rd.Depth++
	rd.Generation++
	return h.writeRoot(tx, rd)
}

// Delete removes the record matching key exactly, journaled under tx.
func (h *Handle) Delete(tx *pma.Tx, key []byte) error {
	c, found, err := h.Probe(OpEQ, key, nil)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return h.deleteAt(tx, c)
}

// deleteAt removes the record a cursor currently points at, without
// re-probing by key -- used directly by Delete and by an iterator's Delete
// so a caller that already paid for a probe doesn't pay for another.
func (h *Handle) deleteAt(tx *pma.Tx, c *Cursor) error {
	leaf, err := h.dirtyNode(tx, c.leafID)
	if err != nil {
		return err
	}
	payload := leaf.PayloadID(c.leafSlot)
	if err := h.ops.RecFree(h, tx, payload); err != nil {
		return err
	}
	leaf.removeAt(c.leafSlot)

	if len(c.path) > 0 && leaf.NKeys() < minKeys(h.order) {
		if err := h.rebalance(tx, c.path, c.leafID, leaf); err != nil {
			return err
		}
	}

	rd := h.readRoot()
	root, err := h.loadNode(rd.RootNode)
	if err != nil {
		return err
	}
	if !root.IsLeaf() && root.NKeys() == 0 {
		newRootID := root.LeftmostChild()
		tx.Free(rd.RootNode, h.nodeSize)
		newRoot, err := h.dirtyNode(tx, newRootID)
		if err != nil {
			return err
		}
		newRoot.SetRoot(true)
		rd.RootNode = newRootID
		rd.Depth--
	}
	return h.bumpGeneration(tx, rd)
}

// rebalance restores the minimum-occupancy invariant for node (found at
// nodeID, underflowing) by borrowing from a sibling or merging with one,
// climbing path if a merge leaves the parent underflowing in turn.
func (h *Handle) rebalance(tx *pma.Tx, path []pathEntry, nodeID pma.ID, node *nodeView) error {
	for len(path) > 0 {
		entry := path[len(path)-1]
		parent, err := h.dirtyNode(tx, entry.nodeID)
		if err != nil {
			return err
		}
		slot := entry.slot
		leaf := node.IsLeaf()

		if slot > 0 {
			leftID := parent.Child(slot - 1)
			left, err := h.dirtyNode(tx, leftID)
			if err != nil {
				return err
			}
			if left.NKeys() > minKeys(h.order) {
				h.borrowFromLeft(parent, slot, left, node, leaf)
				return nil
			}
		}
		if slot < parent.NKeys() {
			rightID := parent.Child(slot + 1)
			right, err := h.dirtyNode(tx, rightID)
			if err != nil {
				return err
			}
			if right.NKeys() > minKeys(h.order) {
				h.borrowFromRight(parent, slot, node, right, leaf)
				return nil
			}
		}

		if slot > 0 {
			leftID := parent.Child(slot - 1)
			left, err := h.dirtyNode(tx, leftID)
			if err != nil {
				return err
			}
			h.mergeNodes(tx, parent, slot-1, leftID, left, nodeID, node, leaf)
		} else {
			rightID := parent.Child(slot + 1)
			right, err := h.dirtyNode(tx, rightID)
			if err != nil {
				return err
			}
			h.mergeNodes(tx, parent, slot, nodeID, node, rightID, right, leaf)
		}

		nodeID = entry.nodeID
		node = parent
		path = path[:len(path)-1]
		if node.NKeys() >= minKeys(h.order) {
			return nil
		}
	}
	return nil
}

func (h *Handle) borrowFromLeft(parent *nodeView, slot int, left, node *nodeView, isLeaf bool) {
	if isLeaf {
		last := left.NKeys() - 1
		hk := append([]byte(nil), left.HKey(last)...)
		payload := left.PayloadID(last)
		left.removeAt(last)
		node.insertAt(0)
		node.SetHKey(0, hk)
		node.SetPayloadID(0, payload)
		parent.SetHKey(slot-1, append([]byte(nil), node.HKey(0)...))
		return
	}
	last := left.NKeys() - 1
	promotedKey := append([]byte(nil), left.HKey(last)...)
	movingChild := left.PayloadID(last)
	left.removeAt(last)

	oldLeftmost := node.LeftmostChild()
	node.insertAt(0)
	node.SetHKey(0, append([]byte(nil), parent.HKey(slot-1)...))
	node.SetPayloadID(0, oldLeftmost)
	node.SetLeftmostChild(movingChild)
	parent.SetHKey(slot-1, promotedKey)
}

func (h *Handle) borrowFromRight(parent *nodeView, slot int, node, right *nodeView, isLeaf bool) {
	if isLeaf {
		hk := append([]byte(nil), right.HKey(0)...)
		payload := right.PayloadID(0)
		right.removeAt(0)
		idx := node.NKeys()
		node.insertAt(idx)
		node.SetHKey(idx, hk)
		node.SetPayloadID(idx, payload)
		parent.SetHKey(slot, append([]byte(nil), right.HKey(0)...))
		return
	}
	promotedKey := append([]byte(nil), parent.HKey(slot)...)
	movingChild := right.LeftmostChild()
	idx := node.NKeys()
	node.insertAt(idx)
	node.SetHKey(idx, promotedKey)
	node.SetPayloadID(idx, movingChild)

	newLeftmost := right.PayloadID(0)
	newSep := append([]byte(nil), right.HKey(0)...)
	right.removeAt(0)
	right.SetLeftmostChild(newLeftmost)
	parent.SetHKey(slot, newSep)
}

// mergeNodes folds right into left (left keeps nodeID, right is freed) and
// removes the separator (and right's child pointer) from parent at sepIdx.
func (h *Handle) mergeNodes(tx *pma.Tx, parent *nodeView, sepIdx int, leftID pma.ID, left *nodeView, rightID pma.ID, right *nodeView, isLeaf bool) {
	if isLeaf {
		base := left.NKeys()
		for i := 0; i < right.NKeys(); i++ {
			idx := base + i
			left.insertAt(idx)
			left.SetHKey(idx, right.HKey(i))
			left.SetPayloadID(idx, right.PayloadID(i))
		}
	} else {
		sep := append([]byte(nil), parent.HKey(sepIdx)...)
		base := left.NKeys()
		left.insertAt(base)
		left.SetHKey(base, sep)
		left.SetPayloadID(base, right.LeftmostChild())
		for i := 0; i < right.NKeys(); i++ {
			idx := base + 1 + i
			left.insertAt(idx)
			left.SetHKey(idx, right.HKey(i))
			left.SetPayloadID(idx, right.PayloadID(i))
		}
	}
	tx.Free(rightID, h.nodeSize)
	parent.removeAt(sepIdx)
}
