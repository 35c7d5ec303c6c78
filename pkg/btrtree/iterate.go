package btrtree

import "github.com/ssargent/pmatree/pkg/pma"

// Anchor is an opaque, resumable iteration position. Unlike a Cursor, it
// does not pin a node id and slot -- it carries the full key of the record
// it was taken at, so Resume can re-probe and land correctly even after
// the tree has been mutated (a split, merge, or neighbouring delete that
// would leave a raw node id/slot pair dangling or pointed at the wrong
// record). This is what lets an anchor "survive cursor invalidation"
// (§4.5), unlike OpBypass, whose raw-cursor replay is explicitly undefined
// once the tree state has changed underneath it (§4.3).
type Anchor struct {
	key []byte
}

// Iterator walks a tree's records in key order, owning a live Cursor
// across successive Next/Prev calls rather than re-probing from the root
// each time (§4.4's "owned vs embedded iterator": this is the owned form;
// an embedded iterator is just a *Cursor a caller drives directly via
// Handle.Probe/advance/retreat, e.g. from within a stacked subtree walk).
type Iterator struct {
	h      *Handle
	cursor *Cursor
}

// NewIterator creates an iterator over h, not yet positioned.
func (h *Handle) NewIterator() *Iterator {
	return &Iterator{h: h}
}

// Prepare positions the iterator via a probe, exactly like Handle.Probe,
// and retains the resulting cursor for subsequent Next/Prev/Fetch/Delete
// calls.
func (it *Iterator) Prepare(opcode Opcode, key []byte) (bool, error) {
	c, found, err := it.h.Probe(opcode, key, it.cursor)
	if err != nil {
		return false, err
	}
	it.cursor = c
	return found, nil
}

// Anchor captures the iterator's current position for later resumption,
// keyed on the record's full key rather than its physical location.
func (it *Iterator) Anchor() (*Anchor, error) {
	key, _, err := it.Fetch()
	if err != nil {
		return nil, err
	}
	return &Anchor{key: append([]byte(nil), key...)}, nil
}

// Resume positions the iterator at a previously taken Anchor by re-probing
// for the first record at or after the anchored key (OpGE): if the
// anchored record is still present, the iterator lands back on it exactly;
// if it was deleted in the meantime, the iterator lands on its immediate
// successor instead, which is what lets Next() correctly skip a record
// deleted between Anchor and Resume (§4.5, S6).
func (it *Iterator) Resume(a *Anchor) (bool, error) {
	return it.Prepare(OpGE, a.key)
}

// Next advances the iterator one record forward, reporting whether a
// record is now available.
func (it *Iterator) Next() (bool, error) {
	if it.cursor == nil {
		return false, ErrNoHandle
	}
	if err := it.h.advance(it.cursor); err != nil {
		return false, err
	}
	return !it.cursor.atEnd, nil
}

// Prev moves the iterator one record backward.
func (it *Iterator) Prev() (bool, error) {
	if it.cursor == nil {
		return false, ErrNoHandle
	}
	if err := it.h.retreat(it.cursor); err != nil {
		return false, err
	}
	return !it.cursor.atBegin, nil
}

// Fetch returns the full key and value at the iterator's current position.
func (it *Iterator) Fetch() (key, value []byte, err error) {
	if it.cursor == nil {
		return nil, nil, ErrNoHandle
	}
	leaf, err := it.h.loadNode(it.cursor.leafID)
	if err != nil {
		return nil, nil, err
	}
	if it.cursor.leafSlot < 0 || it.cursor.leafSlot >= leaf.NKeys() {
		return nil, nil, ErrNotFound
	}
	return it.h.ops.RecFetch(it.h, leaf.PayloadID(it.cursor.leafSlot), true, true)
}

// Delete removes the record at the iterator's current position, journaled
// under tx, without re-probing by key.
func (it *Iterator) Delete(tx *pma.Tx) error {
	if it.cursor == nil {
		return ErrNoHandle
	}
	return it.h.deleteAt(tx, it.cursor)
}

// Empty reports whether the underlying tree holds zero records.
func (it *Iterator) Empty() (bool, error) { return it.h.IsEmpty() }

// Finish releases the iterator's cursor.
func (it *Iterator) Finish() { it.cursor = nil }

// VisitFunc is the callback Handle.Iterate drives over each visited
// record. Its return value selects what happens next, mirroring the
// library's own probe/advance split: stop=true ends the walk after this
// record (a plain read-one-and-stop loop uses this to visit exactly one
// record); err aborts the walk immediately, surfaced to Iterate's caller.
type VisitFunc func(key, value []byte) (stop bool, err error)

// Iterate is a convenience wrapper: probe once with opcode/key, then call
// fn for every record from there forward until fn stops, errors, or the
// tree is exhausted. It returns the number of records visited.
func (h *Handle) Iterate(opcode Opcode, key []byte, fn VisitFunc) (int, error) {
	it := h.NewIterator()
	found, err := it.Prepare(opcode, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	count := 0
	for {
		k, v, err := it.Fetch()
		if err != nil {
			return count, err
		}
		stop, err := fn(k, v)
		count++
		if err != nil {
			return count, err
		}
		if stop {
			return count, nil
		}
		ok, err := it.Next()
		if err != nil {
			return count, err
		}
		if !ok {
			return count, nil
		}
	}
}
