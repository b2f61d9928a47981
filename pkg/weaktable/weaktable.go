// Package weaktable provides an owning registry whose entries live exactly as
// long as the ticket handed out on insertion.
//
// Entries are stored in generation-tagged slots. Releasing a ticket retires
// its slot; ApplyToAll only visits slots that are still live when it reaches
// them. An entry that is being visited when its ticket is released is retired
// immediately (later broadcasts skip it) but its release hook is deferred until
// the visit returns, so a removal never completes underneath a caller that is
// still using the value.
package weaktable

import (
	"sync"
	"sync/atomic"
)

type slot[T any] struct {
	value   T
	gen     uint32
	live    bool
	pins    int
	pending bool
}

// Table is a registry of owned values. The zero value is not usable; create
// tables with New.
type Table[T any] struct {
	mu        sync.Mutex
	slots     []slot[T]
	free      []int
	live      int
	onRelease func(T)
}

// New creates a table. onRelease, if not nil, is called exactly once for
// every entry when it leaves the table, outside of the table lock.
func New[T any](onRelease func(T)) *Table[T] {
	return &Table[T]{onRelease: onRelease}
}

// Ticket represents membership of one entry. Releasing it removes the entry.
type Ticket struct {
	owner    remover
	index    int
	gen      uint32
	released atomic.Bool
}

type remover interface {
	remove(index int, gen uint32)
}

// Release removes the entry from its table. Only the first call has any
// effect.
func (t *Ticket) Release() {
	if t == nil || t.released.Swap(true) {
		return
	}
	t.owner.remove(t.index, t.gen)
}

// Released reports whether Release has been called.
func (t *Ticket) Released() bool {
	return t == nil || t.released.Load()
}

// Insert transfers ownership of v to the table.
func (t *Table[T]) Insert(v T) *Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx int
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot[T]{})
		idx = len(t.slots) - 1
	}

	s := &t.slots[idx]
	s.value = v
	s.live = true
	t.live++

	return &Ticket{owner: t, index: idx, gen: s.gen}
}

func (t *Table[T]) remove(index int, gen uint32) {
	t.mu.Lock()
	s := &t.slots[index]
	if !s.live || s.gen != gen {
		t.mu.Unlock()
		return
	}
	s.live = false
	t.live--
	if s.pins > 0 {
		s.pending = true
		t.mu.Unlock()
		return
	}
	v := t.retire(index)
	t.mu.Unlock()

	t.release(v)
}

// retire empties a slot and puts it on the free list. Caller holds t.mu.
func (t *Table[T]) retire(index int) T {
	s := &t.slots[index]
	v := s.value
	var zero T
	s.value = zero
	s.pending = false
	s.gen++
	t.free = append(t.free, index)
	return v
}

func (t *Table[T]) release(v T) {
	if t.onRelease != nil {
		t.onRelease(v)
	}
}

type ref struct {
	index int
	gen   uint32
}

func (t *Table[T]) snapshot() []ref {
	t.mu.Lock()
	defer t.mu.Unlock()
	refs := make([]ref, 0, t.live)
	for i := range t.slots {
		if t.slots[i].live {
			refs = append(refs, ref{index: i, gen: t.slots[i].gen})
		}
	}
	return refs
}

// ApplyToAll calls fn for every entry that is live at call time and still
// live when its turn comes. Entries inserted during the broadcast are not
// visited. fn may insert into or release from the table.
func (t *Table[T]) ApplyToAll(fn func(T)) {
	for _, r := range t.snapshot() {
		t.mu.Lock()
		s := &t.slots[r.index]
		if !s.live || s.gen != r.gen {
			t.mu.Unlock()
			continue
		}
		s.pins++
		v := s.value
		t.mu.Unlock()

		fn(v)

		t.unpin(r.index)
	}
}

func (t *Table[T]) unpin(index int) {
	t.mu.Lock()
	s := &t.slots[index]
	s.pins--
	if s.pins > 0 || !s.pending {
		t.mu.Unlock()
		return
	}
	v := t.retire(index)
	t.mu.Unlock()

	t.release(v)
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Clear removes every live entry. Tickets of removed entries become no-ops.
func (t *Table[T]) Clear() {
	for _, r := range t.snapshot() {
		t.remove(r.index, r.gen)
	}
}
