package refpool

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// RefID identifies one managed reference. Ids are positive and unique
// within the process.
type RefID uint64

// FileRef is the handle a [SerializationFileDevice] stores in a leaf: the
// spill file's path and its encoded size in bytes.
type FileRef struct {
	Path string
	Size uint64
}

// StorageLeaf records one physical location holding a copy of a ref's
// bytes: the owning leaf device, an opaque device-specific handle (nil
// until the device assigns it), and a retain flag that suppresses
// medium-level deletion.
//
// Leaves are owned by the [StorageState] that contains them and are never
// mutated in place after that state completes; transitions clone the leaf.
// The only exception is the handle, which a background task assigns exactly
// once before completing the owning state.
type StorageLeaf struct {
	device StorageDevice
	retain bool
	handle any
}

// Device returns the leaf device owning this copy.
func (l *StorageLeaf) Device() StorageDevice { return l.device }

// Retained reports whether the underlying bytes survive a delete.
func (l *StorageLeaf) Retained() bool { return l.retain }

// Handle returns the device-specific handle, or nil if the device has not
// assigned one yet. For [SerializationFileDevice] leaves this is a
// *[FileRef]. Only valid on states obtained from [StorageRead].
func (l *StorageLeaf) Handle() any { return l.handle }

// clone returns a copy of the leaf with the given retain flag.
func (l *StorageLeaf) clone(retain bool) *StorageLeaf {
	return &StorageLeaf{device: l.device, retain: retain, handle: l.handle}
}

// StorageState is one placement snapshot of a ref: the live value (if it is
// resident in memory), every leaf currently holding a copy, and the root
// device managing the ref.
//
// States are immutable once complete. A device that needs background I/O
// installs an incomplete state, does the work in a goroutine, assigns the
// outstanding field (value or leaf handle) and then completes the state.
// Readers obtained the state through [StorageRead] and therefore never
// observe the fields mid-flight.
type StorageState struct {
	value  any
	hasVal bool
	leaves []*StorageLeaf
	root   StorageDevice

	ioErr error

	ready     chan struct{}
	completed sync.Once
}

// stateOpt mutates a state under construction. Used only by newState.
type stateOpt func(*StorageState)

func withValue(v any) stateOpt {
	return func(s *StorageState) { s.value = v; s.hasVal = true }
}

func withoutValue() stateOpt {
	return func(s *StorageState) { s.value = nil; s.hasVal = false }
}

func withLeaves(leaves []*StorageLeaf) stateOpt {
	return func(s *StorageState) { s.leaves = leaves }
}

func withRoot(dev StorageDevice) stateOpt {
	return func(s *StorageState) { s.root = dev }
}

// newState is the state copy-constructor: fields not overridden by opts are
// inherited from base. The returned state is incomplete; the caller must
// complete it, possibly from a background goroutine.
func newState(base *StorageState, opts ...stateOpt) *StorageState {
	s := &StorageState{ready: make(chan struct{})}

	if base != nil {
		s.value = base.value
		s.hasVal = base.hasVal
		s.leaves = append([]*StorageLeaf(nil), base.leaves...)
		s.root = base.root
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// complete publishes the state's fields: it records err (if any) and fires
// the readiness event. Completing twice is a no-op.
func (s *StorageState) complete(err error) {
	s.completed.Do(func() {
		s.ioErr = err
		close(s.ready)
	})
}

// wait blocks until the state is complete.
func (s *StorageState) wait() { <-s.ready }

// Value returns the live value and whether one is resident in memory.
// Only valid on states obtained from [StorageRead].
func (s *StorageState) Value() (any, bool) { return s.value, s.hasVal }

// Leaves returns the leaves in insertion order. The slice must not be
// modified. Only valid on states obtained from [StorageRead].
func (s *StorageState) Leaves() []*StorageLeaf { return s.leaves }

// Root returns the device managing this ref.
func (s *StorageState) Root() StorageDevice { return s.root }

// Err returns the error recorded by a failed background task, or nil.
// Only valid on states obtained from [StorageRead].
func (s *StorageState) Err() error {
	if s.ioErr != nil {
		return fmt.Errorf("%w: %w", ErrBackgroundIO, s.ioErr)
	}

	return nil
}

// leafFor returns the leaf owned by dev, or nil. Device identity, not
// equality, is what distinguishes leaves.
func (s *StorageState) leafFor(dev StorageDevice) *StorageLeaf {
	for _, l := range s.leaves {
		if l.device == dev {
			return l
		}
	}

	return nil
}

// leavesWithout returns a copy of the leaves with dev's leaf removed.
func (s *StorageState) leavesWithout(dev StorageDevice) []*StorageLeaf {
	out := make([]*StorageLeaf, 0, len(s.leaves))

	for _, l := range s.leaves {
		if l.device != dev {
			out = append(out, l)
		}
	}

	return out
}

// RefState is the per-reference record: the caller-estimated size in bytes
// (fixed at creation) and the current placement snapshot.
//
// The snapshot is private by design; the only accessors are [StorageRead]
// and [StorageRCU].
type RefState struct {
	// Size is the estimated payload size in bytes. The engine accounts
	// with it but never edits it.
	Size uint64

	storage atomic.Pointer[StorageState]
}

// NewRefState creates a ref record of the given size whose initial snapshot
// holds value resident in memory and is managed by root.
func NewRefState(size uint64, root StorageDevice, value any) *RefState {
	rs := &RefState{Size: size}

	initial := newState(nil, withRoot(root), withValue(value))
	initial.complete(nil)
	rs.storage.Store(initial)

	return rs
}

// StorageRead atomically loads the current snapshot of rs and waits until
// it is complete. The result may be stale by the time the caller inspects
// it; do not cache snapshots across entrypoints.
func StorageRead(rs *RefState) *StorageState {
	s := rs.storage.Load()
	s.wait()

	return s
}

// StorageRCU installs a new snapshot produced by fn. fn must be pure, must
// not block, and must build its result with the state copy-constructor so
// unchanged fields are inherited; it may run more than once under
// contention. Installation is a compare-and-swap loop on the snapshot
// pointer, so concurrent updates to one ref linearize.
//
// The returned state is incomplete: the caller owns completing it, either
// immediately for synchronous transitions or from a background goroutine
// once I/O settles. Readers block in [StorageRead] until then.
func StorageRCU(rs *RefState, fn func(*StorageState) *StorageState) *StorageState {
	for {
		cur := rs.storage.Load()
		cur.wait()

		next := fn(cur)
		if rs.storage.CompareAndSwap(cur, next) {
			return next
		}
	}
}
