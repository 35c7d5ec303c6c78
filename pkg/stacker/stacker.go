// Package stacker implements subtree stacking (§4.7): opening, creating, and
// punching a child tree embedded inside a parent leaf's own allocation, with
// no extra allocation beyond the parent leaf itself. Grounded on
// vos_tree.c's key_tree_prepare / key_tree_release / key_tree_punch, which
// give a dkey -> akey -> singv hierarchy its shape without ever nesting one
// dbtree operation inside another -- a parent leaf's embedded child root is
// fetched or created once per call, and the child is then operated on
// through its own, independent Handle.
//
// This package only handles the btrtree-class child (dkey's akey child,
// akey's singv child); vos_tree.c also embeds an evtree root alongside an
// akey leaf's singv root for array values, which is out of scope here (see
// pkg/classes/akey's package doc).
package stacker

import (
	"github.com/ssargent/pmatree/pkg/btrtree"
	"github.com/ssargent/pmatree/pkg/classes/keybtr"
	"github.com/ssargent/pmatree/pkg/classreg"
	"github.com/ssargent/pmatree/pkg/pma"
)

// Prepare resolves the child tree embedded in parent's leaf record for
// probeKey, exactly as key_tree_prepare does: it fetches the parent record
// (creating one via parent.Upsert if absent and create is true), then opens
// or -- if the embedded root area is still all zero, i.e. untouched since
// RecAlloc -- creates the child tree in place. created reports which of
// those two happened.
//
// Unlike key_tree_prepare's BTR_PROBE_GE|MATCHED fetch (which tolerates the
// parent record landing at a different epoch than the query and is
// resolved against DAOS's own epoch/punch bookkeeping), Prepare requires
// probeKey to already name the exact (key, epoch) pair the caller wants:
// callers that need floor semantics resolve the epoch themselves first
// (parent.Fetch(OpGE, ...)) and pass the resolved key back in.
func Prepare(parent *btrtree.Handle, tx *pma.Tx, probeKey []byte, childClassID classreg.ClassID, order int, create bool) (child *btrtree.Handle, created bool, err error) {
	c, found, err := parent.Probe(btrtree.OpEQ, probeKey, nil)
	if err != nil {
		return nil, false, err
	}
	if !found {
		if !create {
			return nil, false, btrtree.ErrNotFound
		}
		if err := parent.Upsert(tx, probeKey, nil); err != nil {
			return nil, false, err
		}
		c, found, err = parent.Probe(btrtree.OpEQ, probeKey, nil)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, btrtree.ErrNoHandle
		}
	}

	payload, err := parent.PayloadID(c)
	if err != nil {
		return nil, false, err
	}
	loc, err := keybtr.ChildRootLocation(parent, payload)
	if err != nil {
		return nil, false, err
	}

	empty, err := rootAreaEmpty(parent.PMA(), loc)
	if err != nil {
		return nil, false, err
	}
	if empty {
		if !create {
			return nil, false, btrtree.ErrNotFound
		}
		child, err = btrtree.CreateInPlace(parent.PMA(), tx, loc, childClassID, order)
		if err != nil {
			return nil, false, err
		}
		return child, true, nil
	}

	child, err = btrtree.OpenInPlace(parent.PMA(), loc)
	if err != nil {
		return nil, false, err
	}
	return child, false, nil
}

// rootAreaEmpty reports whether the ChildRootSize-byte region at loc is
// still the all-zero state RecAlloc wrote it in: a real root descriptor's
// Generation is always >= 1 from the moment CreateInPlace writes it, so a
// zero Generation is an unambiguous "no child tree yet" sentinel.
func rootAreaEmpty(p *pma.PMA, loc pma.ID) (bool, error) {
	buf, err := p.Bytes(loc, btrtree.RootDescriptorSize)
	if err != nil {
		return false, err
	}
	rd := btrtree.DecodeRootDescriptor(buf)
	return rd.Generation == 0, nil
}

// Release closes a child tree opened or created by Prepare. It exists for
// parity with key_tree_release; Handle.Close itself has nothing to release
// (a subtree's nodes live in the same PMA as its parent), so this is a
// documentation aid more than a resource-freeing call.
func Release(child *btrtree.Handle) error {
	return child.Close()
}

// Punch removes parent's record for probeKey, first destroying any child
// tree embedded in it (freeing every node and leaf payload the child ever
// allocated, though never the ChildRootSize-byte area itself, which belongs
// to parent's own leaf allocation and is freed along with it). This is a
// whole-key punch: it does not model DAOS's per-epoch punch markers
// (krec_df.kr_punched) or replay underwrite, which are out of scope (the
// engine here treats an absent key as the only "punched" state; see
// SPEC_FULL.md's object-store demo for how callers combine this with their
// own tombstone bookkeeping when they need epoch-visible punches).
func Punch(parent *btrtree.Handle, tx *pma.Tx, probeKey []byte) error {
	c, found, err := parent.Probe(btrtree.OpEQ, probeKey, nil)
	if err != nil {
		return err
	}
	if !found {
		return btrtree.ErrNotFound
	}

	payload, err := parent.PayloadID(c)
	if err != nil {
		return err
	}
	loc, err := keybtr.ChildRootLocation(parent, payload)
	if err != nil {
		return err
	}
	empty, err := rootAreaEmpty(parent.PMA(), loc)
	if err != nil {
		return err
	}
	if !empty {
		child, err := btrtree.OpenInPlace(parent.PMA(), loc)
		if err != nil {
			return err
		}
		if err := child.Destroy(tx, false); err != nil {
			return err
		}
	}

	return parent.Delete(tx, probeKey)
}
