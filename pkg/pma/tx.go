package pma

import (
	"errors"
	"fmt"
)

// ErrSimulatedCrash is returned by AddRange/AddPtr/Alloc/Zalloc once a Tx's
// journal byte budget (set with FailAfterBytes, used by crash-consistency
// tests) has been exhausted mid-operation.
var ErrSimulatedCrash = errors.New("pma: simulated crash")

// journalEntry records the pre-image of a byte range so Abort can restore it.
type journalEntry struct {
	offset ID
	orig   []byte
}

// Tx is a single PMA transaction. All tree mutations occur inside one; the
// engine never nests transactions.
type Tx struct {
	pma    *PMA
	active bool

	journal      []journalEntry
	journalBytes int
	allocated    []span
	pendingFrees []span

	// failAfterBytes, when nonzero, makes the Tx start failing once more
	// than that many bytes have been journaled -- used to simulate a crash
	// partway through an operation (spec property: crash-consistency).
	failAfterBytes int
}

// FailAfterBytes arms a budget: once more than n bytes have been journaled
// by AddRange/AddPtr, every subsequent mutating call on this Tx fails with
// ErrSimulatedCrash. Used only by tests.
func (tx *Tx) FailAfterBytes(n int) { tx.failAfterBytes = n }

func (tx *Tx) checkBudget() error {
	if tx.failAfterBytes > 0 && tx.journalBytes > tx.failAfterBytes {
		return ErrSimulatedCrash
	}
	return nil
}

// AddRange journals the current contents of the length bytes at id so a
// subsequent Abort can restore them. Must be called before the caller
// mutates that range. Equivalent to the spec's tx_add.
func (tx *Tx) AddRange(id ID, length int) error {
	if !tx.active {
		return fmt.Errorf("pma: tx not active")
	}
	buf, err := tx.pma.Bytes(id, length)
	if err != nil {
		return err
	}
	orig := make([]byte, length)
	copy(orig, buf)
	tx.journal = append(tx.journal, journalEntry{offset: id, orig: orig})
	tx.journalBytes += length
	return tx.checkBudget()
}

// AddPtr is the spec's tx_add_ptr: journaling a byte range already resolved
// to an offset, identical to AddRange for this engine since IDs are offsets.
func (tx *Tx) AddPtr(id ID, length int) error {
	return tx.AddRange(id, length)
}

// Alloc reserves size bytes within this transaction; on Abort the space is
// returned to the allocator's freelist.
func (tx *Tx) Alloc(size int) (ID, error) {
	if err := tx.checkBudget(); err != nil {
		return Null, err
	}
	tx.pma.mu.Lock()
	id, err := tx.pma.alloc(size)
	tx.pma.mu.Unlock()
	if err != nil {
		return Null, err
	}
	tx.allocated = append(tx.allocated, span{offset: id, size: roundUp8(size)})
	return id, nil
}

// Zalloc reserves size zeroed bytes within this transaction.
func (tx *Tx) Zalloc(size int) (ID, error) {
	id, err := tx.Alloc(size)
	if err != nil {
		return Null, err
	}
	buf, err := tx.pma.Bytes(id, size)
	if err != nil {
		return Null, err
	}
	for i := range buf {
		buf[i] = 0
	}
	return id, nil
}

// Free defers release of id (size bytes) until Commit, per the invariant
// that freeing is deferred to transaction commit.
func (tx *Tx) Free(id ID, size int) {
	tx.pendingFrees = append(tx.pendingFrees, span{offset: id, size: roundUp8(size)})
}

// Commit applies pending frees and flushes the region. Once Commit returns
// successfully the journal is discarded and writes already made through
// Bytes()-returned slices are the new durable image.
func (tx *Tx) Commit() error {
	if !tx.active {
		return fmt.Errorf("pma: tx not active")
	}
	tx.active = false

	tx.pma.mu.Lock()
	for _, s := range tx.pendingFrees {
		tx.pma.free(s.offset, s.size)
	}
	tx.pma.mu.Unlock()

	return tx.pma.region.Flush()
}

// Abort replays the journal in reverse to restore every journaled byte
// range to its pre-transaction contents, returns allocations made during
// the transaction to the freelist, and discards pending frees. The PMA
// image is left bit-identical to how it was before Begin.
func (tx *Tx) Abort() error {
	if !tx.active {
		return fmt.Errorf("pma: tx not active")
	}
	tx.active = false

	for i := len(tx.journal) - 1; i >= 0; i-- {
		e := tx.journal[i]
		buf, err := tx.pma.Bytes(e.offset, len(e.orig))
		if err != nil {
			return err
		}
		copy(buf, e.orig)
	}

	tx.pma.mu.Lock()
	for _, s := range tx.allocated {
		tx.pma.free(s.offset, s.size)
	}
	tx.pma.mu.Unlock()

	tx.pendingFrees = nil
	return nil
}

// Active reports whether the transaction has not yet been committed or
// aborted.
func (tx *Tx) Active() bool { return tx.active }
