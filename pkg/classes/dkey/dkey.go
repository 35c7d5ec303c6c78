// Package dkey implements the distribution-key tree class: the top level of
// an object's dkey -> akey -> singv hierarchy. Grounded on vos_tree.c's
// registration of VOS_BTR_DKEY against the shared key_btr_ops (see
// pkg/classes/keybtr); a dkey leaf's embedded child is an akey tree.
package dkey

import (
	"github.com/ssargent/pmatree/pkg/btrtree"
	"github.com/ssargent/pmatree/pkg/classes/keybtr"
	"github.com/ssargent/pmatree/pkg/classreg"
)

// ClassID is the registered class id for dkey trees, drawn from the
// storage-engine reserved range (§4.1).
const ClassID = classreg.RangeStorageEngineMin + 0

// DefaultOrder is the fan-out used when a caller does not specify one.
const DefaultOrder = 32

// Ops is the dkey class's vtable: the shared epoch-matched hashed-key
// comparator and leaf-body layout, registered under ClassID.
type Ops struct {
	keybtr.Ops
}

// Register adds the dkey class to the process-wide registry. Must be called
// once before any dkey tree is created or opened; re-registering fails with
// classreg.ErrDuplicateClass.
func Register() error {
	return btrtree.RegisterClass(ClassID, DefaultOrder, 0, Ops{})
}

// EncodeKey builds the probe key a dkey tree expects: the raw distribution
// key bytes plus the epoch to search or write at.
func EncodeKey(key []byte, epoch uint64) []byte { return keybtr.EncodeKey(key, epoch) }
