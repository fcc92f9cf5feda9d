package refpool

import (
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStorageReadReturnsInitialState(t *testing.T) {
	t.Parallel()

	dev := NewCPURAMDevice()
	rs := NewRefState(8, dev, "hello")

	s := StorageRead(rs)

	v, ok := s.Value()
	if !ok {
		t.Fatal("initial state should hold the value")
	}

	if v != "hello" {
		t.Fatalf("expected hello, got %v", v)
	}

	if s.Root() != dev {
		t.Fatal("root should be the construction device")
	}

	if len(s.Leaves()) != 0 {
		t.Fatalf("expected no leaves, got %d", len(s.Leaves()))
	}
}

func TestStorageReadBlocksUntilComplete(t *testing.T) {
	t.Parallel()

	rs := NewRefState(8, NewCPURAMDevice(), "v")

	ns := StorageRCU(rs, func(cur *StorageState) *StorageState {
		return newState(cur)
	})

	var completed atomic.Bool

	go func() {
		time.Sleep(20 * time.Millisecond)
		completed.Store(true)
		ns.complete(nil)
	}()

	s := StorageRead(rs)

	if !completed.Load() {
		t.Fatal("StorageRead returned before the state completed")
	}

	if s != ns {
		t.Fatal("StorageRead should return the installed state")
	}
}

func TestStorageRCULinearizes(t *testing.T) {
	t.Parallel()

	const writers = 64

	rs := NewRefState(8, NewCPURAMDevice(), "v")

	var waitGroup sync.WaitGroup

	for range writers {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			leaf := &StorageLeaf{device: NewCPURAMDevice()}

			ns := StorageRCU(rs, func(cur *StorageState) *StorageState {
				return newState(cur, withLeaves(append(slices.Clone(cur.leaves), leaf)))
			})
			ns.complete(nil)
		}()
	}

	waitGroup.Wait()

	s := StorageRead(rs)
	if len(s.Leaves()) != writers {
		t.Fatalf("expected %d leaves after %d rcu swaps, got %d", writers, writers, len(s.Leaves()))
	}
}

func TestStorageStateCopyConstructorInherits(t *testing.T) {
	t.Parallel()

	dev := NewCPURAMDevice()
	leaf := &StorageLeaf{device: dev, retain: true}

	base := newState(nil, withRoot(dev), withValue("v"), withLeaves([]*StorageLeaf{leaf}))
	base.complete(nil)

	next := newState(base)
	next.complete(nil)

	if v, ok := next.Value(); !ok || v != "v" {
		t.Fatal("value should be inherited")
	}

	if next.Root() != dev {
		t.Fatal("root should be inherited")
	}

	if len(next.Leaves()) != 1 || next.Leaves()[0] != leaf {
		t.Fatal("leaves should be inherited")
	}

	cleared := newState(base, withoutValue())
	cleared.complete(nil)

	if _, ok := cleared.Value(); ok {
		t.Fatal("withoutValue should clear the value")
	}
}

func TestCompleteIsSticky(t *testing.T) {
	t.Parallel()

	s := newState(nil)
	s.complete(nil)
	s.complete(errTestSticky)

	if err := s.Err(); err != nil {
		t.Fatalf("second complete should be a no-op, got %v", err)
	}
}

var errTestSticky = errSentinel("sticky")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
