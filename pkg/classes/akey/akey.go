// Package akey implements the attribute-key tree class: the middle level of
// an object's dkey -> akey -> singv hierarchy. Grounded on vos_tree.c's
// registration of VOS_BTR_AKEY against the shared key_btr_ops (see
// pkg/classes/keybtr); an akey leaf's embedded child is a singv tree.
//
// The real akey leaf in vos_tree.c also embeds a byte-extent tree
// ("evtree") root alongside the singv root for array-value support; evtree
// is out of this engine's scope (§1, spec.md's Non-goals list it as an
// external collaborator consumed only through a narrow interface), so an
// akey leaf here embeds only the singv root.
package akey

import (
	"github.com/ssargent/pmatree/pkg/btrtree"
	"github.com/ssargent/pmatree/pkg/classes/keybtr"
	"github.com/ssargent/pmatree/pkg/classreg"
)

// ClassID is the registered class id for akey trees.
const ClassID = classreg.RangeStorageEngineMin + 1

// DefaultOrder is the fan-out used when a caller does not specify one.
const DefaultOrder = 32

// Ops is the akey class's vtable: identical in shape to dkey's, registered
// separately only so probes against an akey tree resolve the right class id
// when a parent leaf's embedded root is opened.
type Ops struct {
	keybtr.Ops
}

// Register adds the akey class to the process-wide registry.
func Register() error {
	return btrtree.RegisterClass(ClassID, DefaultOrder, 0, Ops{})
}

// EncodeKey builds the probe key an akey tree expects: the raw attribute
// key bytes plus the epoch to search or write at.
func EncodeKey(key []byte, epoch uint64) []byte { return keybtr.EncodeKey(key, epoch) }
