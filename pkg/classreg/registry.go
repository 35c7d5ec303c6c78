// Package classreg implements the process-wide tree class registry (§4.1):
// a small integer class id maps to a class descriptor (default order,
// feature bitmask, and the class's vtable of callbacks). Registration is
// idempotent-by-error only -- re-registering an id fails -- and there is no
// unregister, matching the registry's lifetime being the life of the
// process.
package classreg

import (
	"fmt"
	"sync"
)

// ClassID identifies a registered tree class. Ranges are reserved per
// subsystem so unrelated packages never collide by accident.
type ClassID uint32

// Reserved class id ranges (§4.1).
const (
	RangeStorageEngineMin ClassID = 10
	RangeStorageEngineMax ClassID = 19
	RangeDistributionMin  ClassID = 20
	RangeDistributionMax  ClassID = 29
)

// ErrDuplicateClass is returned by Register when classID is already taken.
var ErrDuplicateClass = fmt.Errorf("classreg: class already registered")

// ErrUnknownClass is returned by Lookup for an id that was never registered.
var ErrUnknownClass = fmt.Errorf("classreg: unknown class")

// Descriptor is what the registry stores per class: the class's default
// fan-out, its feature bitmask, and its vtable. Ops is declared as `any`
// here to avoid an import cycle with btrtree (which defines the concrete
// ClassOps interface and type-asserts it back out); see
// btrtree.RegisterClass for the typed wrapper callers actually use.
type Descriptor struct {
	DefaultOrder uint16
	Features     uint64
	Ops          any
}

var (
	mu      sync.RWMutex
	classes = map[ClassID]Descriptor{}
)

// Register adds a new class descriptor. It fails with ErrDuplicateClass if
// classID is already registered.
func Register(classID ClassID, defaultOrder uint16, features uint64, ops any) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := classes[classID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateClass, classID)
	}
	classes[classID] = Descriptor{DefaultOrder: defaultOrder, Features: features, Ops: ops}
	return nil
}

// Lookup returns the descriptor registered for classID.
func Lookup(classID ClassID) (Descriptor, error) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := classes[classID]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %d", ErrUnknownClass, classID)
	}
	return d, nil
}

// reset clears the registry; unexported, so only this package's own tests
// can use it.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	classes = map[ClassID]Descriptor{}
}
