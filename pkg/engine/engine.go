// Package engine wires the generic dkey/akey/singv tree classes into a
// small versioned object store: container table -> object table -> dkey
// tree -> akey tree -> singv tree, every level embedded in its parent's
// leaf allocation via pkg/stacker. Adapted from pkg/store.KVStore /
// hash_index.go, replacing the teacher's in-memory HashIndex map with a
// real, persistent btrtree instance so the demo store's own index is
// itself durable -- exercising the whole engine end to end, the way
// original_source/src/vos/vos_tree.c's obj_tree_init builds a container's
// object directory out of the same tree code it uses for dkeys and akeys.
package engine

import (
	"fmt"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/ssargent/pmatree/pkg/btrtree"
	"github.com/ssargent/pmatree/pkg/classes/akey"
	"github.com/ssargent/pmatree/pkg/classes/dkey"
	"github.com/ssargent/pmatree/pkg/classes/singv"
	"github.com/ssargent/pmatree/pkg/config"
	"github.com/ssargent/pmatree/pkg/pma"
	"github.com/ssargent/pmatree/pkg/pma/pebblepma"
	"github.com/ssargent/pmatree/pkg/stacker"
)

// NewObjectID mints a fresh, sortable object or container identifier.
// Grounded on the teacher's pkg/storage.DefaultStorage.Create, which
// generates a ksuid.New() per record; here the id is caller-supplied text
// (a dkey.EncodeKey input) rather than a pebble record key, but the same
// generator gives callers collision-free, time-sortable object ids without
// needing their own naming scheme.
func NewObjectID() string { return ksuid.New().String() }

// nameEpoch is the fixed epoch containers and objects are written at: the
// container and object tables are plain directories, not versioned data,
// so every entry lives at epoch 0 regardless of when it was created.
const nameEpoch = 0

var registerOnce sync.Once
var registerErr error

// registerClasses registers the three storage-engine classes exactly once
// per process; a Store can be opened more than once (e.g. one per test)
// without classreg.ErrDuplicateClass firing on the second attempt.
func registerClasses() error {
	registerOnce.Do(func() {
		if err := dkey.Register(); err != nil {
			registerErr = err
			return
		}
		if err := akey.Register(); err != nil {
			registerErr = err
			return
		}
		registerErr = singv.Register()
	})
	return registerErr
}

// Store is the top-level handle on a pmatree object store: one container
// table, opened over one PMA region. Store is not safe for concurrent use
// by multiple goroutines without its own external synchronization beyond
// the single mutex below, matching btrtree.Handle's own single-writer
// discipline (§5's Non-goal: no concurrent multi-writer access).
type Store struct {
	mu         sync.Mutex
	region     pma.Region
	p          *pma.PMA
	containers *btrtree.Handle
	cfg        config.Engine
	isOpen     bool
}

// Open creates or opens a Store backed by cfg.PMAFile (or, when
// cfg.Backend is "pebble", a pebblepma.Region at that same path), sized to
// at least cfg.PMAInitialSize. A fresh file gets a brand new container
// table; an existing one has its root descriptor read back at the fixed
// header offset reserved for it.
func Open(cfg config.Engine) (*Store, error) {
	if err := registerClasses(); err != nil {
		return nil, fmt.Errorf("engine: register classes: %w", err)
	}

	var region pma.Region
	var err error
	switch cfg.Backend {
	case "pebble":
		region, err = pebblepma.Open(cfg.PMAFile)
	default:
		region, err = pma.OpenFileRegion(cfg.PMAFile, cfg.PMAInitialSize)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: open region: %w", err)
	}

	p, err := pma.New(region, containerRootOffset+btrtree.RootDescriptorSize)
	if err != nil {
		region.Close()
		return nil, fmt.Errorf("engine: init pma: %w", err)
	}

	containers, err := openOrCreateContainerTable(p, cfg)
	if err != nil {
		region.Close()
		return nil, err
	}

	return &Store{region: region, p: p, containers: containers, cfg: cfg, isOpen: true}, nil
}

// containerRootOffset is the fixed byte offset the container table's root
// descriptor lives at -- a superblock-style reserved header, the same role
// pkg/storage's ksuid-keyed record ids play for the teacher's flat store,
// but fixed here since there is exactly one container table per Store.
const containerRootOffset = pma.ID(8)

func openOrCreateContainerTable(p *pma.PMA, cfg config.Engine) (*btrtree.Handle, error) {
	buf, err := p.Bytes(containerRootOffset, btrtree.RootDescriptorSize)
	if err != nil {
		return nil, err
	}
	rd := btrtree.DecodeRootDescriptor(buf)
	if rd.Generation != 0 {
		return btrtree.OpenInPlace(p, containerRootOffset)
	}

	tx := p.Begin()
	h, err := btrtree.CreateInPlace(p, tx, containerRootOffset, dkey.ClassID, cfg.DkeyOrder)
	if err != nil {
		tx.Abort()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return h, nil
}

// Close flushes and releases the backing region. It does not destroy any
// data; a subsequent Open against the same path resumes where this left
// off.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isOpen {
		return nil
	}
	s.isOpen = false
	if err := s.region.Flush(); err != nil {
		return fmt.Errorf("engine: flush on close: %w", err)
	}
	return s.region.Close()
}

// chain resolves (and, if create is true, creates as needed) every level
// from the container table down to the akey subtree for containerID,
// objectID, and dkeyName at dkeyEpoch, returning the open akey Handle the
// caller probes or writes its own akey/singv records through. The caller
// is responsible for releasing the returned handle via stacker.Release
// once done; chain itself does so for the levels it does not return
// (objects, dkeys).
func (s *Store) chain(tx *pma.Tx, containerID, objectID string, dkeyName []byte, dkeyEpoch uint64, create bool) (*btrtree.Handle, error) {
	objects, _, err := stacker.Prepare(s.containers, tx, dkey.EncodeKey([]byte(containerID), nameEpoch), dkey.ClassID, s.cfg.DkeyOrder, create)
	if err != nil {
		return nil, fmt.Errorf("engine: open container %q: %w", containerID, err)
	}
	defer stacker.Release(objects)

	dkeys, _, err := stacker.Prepare(objects, tx, dkey.EncodeKey([]byte(objectID), nameEpoch), dkey.ClassID, s.cfg.DkeyOrder, create)
	if err != nil {
		return nil, fmt.Errorf("engine: open object %q/%q: %w", containerID, objectID, err)
	}
	defer stacker.Release(dkeys)

	akeys, _, err := stacker.Prepare(dkeys, tx, dkey.EncodeKey(dkeyName, dkeyEpoch), akey.ClassID, s.cfg.AkeyOrder, create)
	if err != nil {
		return nil, fmt.Errorf("engine: open dkey %q@%d: %w", dkeyName, dkeyEpoch, err)
	}

	return akeys, nil
}

// Put writes value under containerID/objectID's dkeyName (at dkeyEpoch),
// akeyName (at akeyEpoch), recorded at the given value epoch -- the
// innermost singv tree's own key -- creating every intervening level
// (container, object, dkey, akey subtrees) that does not already exist.
func (s *Store) Put(containerID, objectID string, dkeyName []byte, dkeyEpoch uint64, akeyName []byte, akeyEpoch uint64, valueEpoch uint64, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isOpen {
		return fmt.Errorf("engine: store is not open")
	}

	tx := s.p.Begin()
	akeys, err := s.chain(tx, containerID, objectID, dkeyName, dkeyEpoch, true)
	if err != nil {
		tx.Abort()
		return err
	}
	defer stacker.Release(akeys)

	singvs, _, err := stacker.Prepare(akeys, tx, akey.EncodeKey(akeyName, akeyEpoch), singv.ClassID, s.cfg.SingvOrder, true)
	if err != nil {
		tx.Abort()
		return fmt.Errorf("engine: open akey %q@%d: %w", akeyName, akeyEpoch, err)
	}
	defer stacker.Release(singvs)

	if err := singvs.Upsert(tx, singv.EncodeKey(valueEpoch), value); err != nil {
		tx.Abort()
		return fmt.Errorf("engine: write value at epoch %d: %w", valueEpoch, err)
	}
	return tx.Commit()
}

// Get resolves the value visible at or before queryEpoch for
// containerID/objectID's dkeyName/akeyName, relying on btrtree.OpGE's
// epoch-inverted comparator (§4.6) to land on the latest revision at or
// below queryEpoch without the caller needing to enumerate revisions.
func (s *Store) Get(containerID, objectID string, dkeyName []byte, dkeyEpoch uint64, akeyName []byte, akeyEpoch uint64, queryEpoch uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isOpen {
		return nil, fmt.Errorf("engine: store is not open")
	}

	tx := s.p.Begin()
	akeys, err := s.chain(tx, containerID, objectID, dkeyName, dkeyEpoch, false)
	if err != nil {
		tx.Abort()
		return nil, err
	}
	defer stacker.Release(akeys)

	singvs, _, err := stacker.Prepare(akeys, tx, akey.EncodeKey(akeyName, akeyEpoch), singv.ClassID, s.cfg.SingvOrder, false)
	tx.Abort() // the whole lookup path only reads; nothing to commit
	if err != nil {
		return nil, fmt.Errorf("engine: open singv for %q@%d: %w", akeyName, akeyEpoch, err)
	}
	defer stacker.Release(singvs)

	_, value, err := singvs.Fetch(btrtree.OpGE, singv.EncodeKey(queryEpoch))
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Delete punches the exact value recorded at valueEpoch, leaving earlier
// revisions (and the akey/dkey/object/container levels above it) intact --
// the whole-key Punch semantics pkg/stacker documents, applied at the
// innermost level only.
func (s *Store) Delete(containerID, objectID string, dkeyName []byte, dkeyEpoch uint64, akeyName []byte, akeyEpoch uint64, valueEpoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isOpen {
		return fmt.Errorf("engine: store is not open")
	}

	tx := s.p.Begin()
	akeys, err := s.chain(tx, containerID, objectID, dkeyName, dkeyEpoch, false)
	if err != nil {
		tx.Abort()
		return err
	}
	defer stacker.Release(akeys)

	singvs, _, err := stacker.Prepare(akeys, tx, akey.EncodeKey(akeyName, akeyEpoch), singv.ClassID, s.cfg.SingvOrder, false)
	if err != nil {
		tx.Abort()
		return fmt.Errorf("engine: open singv for %q@%d: %w", akeyName, akeyEpoch, err)
	}
	defer stacker.Release(singvs)

	if err := singvs.Delete(tx, singv.EncodeKey(valueEpoch)); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

// DestroyObject punches objectID's whole dkey subtree out of its
// container's object table, freeing the dkey tree's nodes and dkey records.
// The akey and singv trees embedded beneath those dkey records are not
// walked, so their nodes and records are not returned to the allocator.
func (s *Store) DestroyObject(containerID, objectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isOpen {
		return fmt.Errorf("engine: store is not open")
	}

	tx := s.p.Begin()
	objects, _, err := stacker.Prepare(s.containers, tx, dkey.EncodeKey([]byte(containerID), nameEpoch), dkey.ClassID, s.cfg.DkeyOrder, false)
	if err != nil {
		tx.Abort()
		return fmt.Errorf("engine: open container %q: %w", containerID, err)
	}
	defer stacker.Release(objects)

	if err := stacker.Punch(objects, tx, dkey.EncodeKey([]byte(objectID), nameEpoch)); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

// ValueVisitFunc is called once per singv record an IterateValues walk
// visits, in epoch-ascending order; returning stop=true or a non-nil error
// ends the walk early, mirroring btrtree.VisitFunc (§4.5's iterate
// convenience operation).
type ValueVisitFunc func(epoch uint64, value []byte) (stop bool, err error)

// IterateValues walks every revision recorded under containerID/objectID's
// dkeyName/akeyName, forward from the first epoch, handing each (epoch,
// value) pair to fn. It opens the singv tree read-only: a create=false
// stacker.Prepare that returns ErrNotFound when the coordinate has never
// been written leaves the tree untouched.
func (s *Store) IterateValues(containerID, objectID string, dkeyName []byte, dkeyEpoch uint64, akeyName []byte, akeyEpoch uint64, fn ValueVisitFunc) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isOpen {
		return 0, fmt.Errorf("engine: store is not open")
	}

	tx := s.p.Begin()
	akeys, err := s.chain(tx, containerID, objectID, dkeyName, dkeyEpoch, false)
	if err != nil {
		tx.Abort()
		return 0, err
	}
	defer stacker.Release(akeys)

	singvs, _, err := stacker.Prepare(akeys, tx, akey.EncodeKey(akeyName, akeyEpoch), singv.ClassID, s.cfg.SingvOrder, false)
	tx.Abort() // read-only walk; nothing to commit
	if err != nil {
		return 0, fmt.Errorf("engine: open singv for %q@%d: %w", akeyName, akeyEpoch, err)
	}
	defer stacker.Release(singvs)

	// singv stores revisions newest-first, so the oldest is the last record.
	it := singvs.NewIterator()
	count := 0
	found, err := it.Prepare(btrtree.OpLast, nil)
	for ; err == nil && found; found, err = it.Prev() {
		key, value, ferr := it.Fetch()
		if ferr != nil {
			return count, ferr
		}
		stop, ferr := fn(singv.DecodeEpoch(key), value)
		count++
		if ferr != nil || stop {
			return count, ferr
		}
	}
	return count, err
}

// Stats summarises the shape of the container table, the demo store's own
// persistent index -- used by pkg/api's explain endpoint.
type Stats struct {
	ContainerTableDepth int
	ContainerTableOrder int
}

// Stats reports the container table's current shape.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ContainerTableDepth: s.containers.Depth(),
		ContainerTableOrder: s.containers.Order(),
	}
}
