package refpool

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// deviceCell wraps the interface so it fits an atomic pointer.
type deviceCell struct {
	dev StorageDevice
}

var globalDevice atomic.Pointer[deviceCell]

// SetGlobalDevice installs the process-wide default device used by pools
// constructed with a nil device. Typically called once at startup.
func SetGlobalDevice(dev StorageDevice) {
	globalDevice.Store(&deviceCell{dev: dev})
}

// GlobalDevice returns the process-wide default device, or nil if none was
// configured.
func GlobalDevice() StorageDevice {
	cell := globalDevice.Load()
	if cell == nil {
		return nil
	}

	return cell.dev
}

// Pool is the process-wide table of managed refs. It maps ids to their
// [RefState] under a single short-held mutex and carries the default root
// device for new refs.
type Pool struct {
	device atomic.Pointer[deviceCell]
	nextID atomic.Uint64

	mu   sync.Mutex
	refs map[RefID]*RefState
}

// NewPool returns a pool whose new refs root at dev. A nil dev falls back
// to [GlobalDevice].
func NewPool(dev StorageDevice) *Pool {
	if dev == nil {
		dev = GlobalDevice()
	}

	p := &Pool{refs: make(map[RefID]*RefState)}
	p.device.Store(&deviceCell{dev: dev})

	return p
}

// SetDefaultDevice changes the root device for refs created after the
// call. Existing refs keep their root; use [Pool.SetDevice] to migrate
// them.
func (p *Pool) SetDefaultDevice(dev StorageDevice) {
	p.device.Store(&deviceCell{dev: dev})
}

// DefaultDevice returns the device new refs root at.
func (p *Pool) DefaultDevice() StorageDevice {
	return p.device.Load().dev
}

// Put stores value under a fresh ref id. size is the caller's estimate of
// the payload in bytes; the engine accounts with it as-is. On a write
// failure the ref is rolled back and the id is not reused.
func (p *Pool) Put(value any, size uint64) (RefID, error) {
	dev := p.DefaultDevice()
	if dev == nil {
		return 0, fmt.Errorf("%w: pool has no device", ErrInvalidConfig)
	}

	id := RefID(p.nextID.Add(1))
	rs := NewRefState(size, dev, value)

	p.mu.Lock()
	p.refs[id] = rs
	p.mu.Unlock()

	if err := dev.Write(rs, id); err != nil {
		p.mu.Lock()
		delete(p.refs, id)
		p.mu.Unlock()

		return 0, fmt.Errorf("putting ref %d: %w", id, err)
	}

	return id, nil
}

// Get returns the ref's value, materializing it back into memory if it was
// spilled.
func (p *Pool) Get(id RefID) (any, error) {
	rs, err := p.resolve(id)
	if err != nil {
		return nil, err
	}

	root := StorageRead(rs).Root()

	value, err := root.Read(rs, id, true)
	if err != nil {
		return nil, fmt.Errorf("getting ref %d: %w", id, err)
	}

	return value, nil
}

// Touch performs the accounting side of a read (recency bump) without
// materializing the value.
func (p *Pool) Touch(id RefID) error {
	rs, err := p.resolve(id)
	if err != nil {
		return err
	}

	root := StorageRead(rs).Root()

	if _, err := root.Read(rs, id, false); err != nil {
		return fmt.Errorf("touching ref %d: %w", id, err)
	}

	return nil
}

// Drop removes the ref from its root device and forgets it. Subsequent
// operations on id return [ErrUnknownRef].
func (p *Pool) Drop(id RefID) error {
	rs, err := p.resolve(id)
	if err != nil {
		return err
	}

	root := StorageRead(rs).Root()

	if err := root.Delete(rs, id); err != nil {
		return fmt.Errorf("dropping ref %d: %w", id, err)
	}

	p.mu.Lock()
	delete(p.refs, id)
	p.mu.Unlock()

	return nil
}

// SetDevice re-parents the ref onto dev: a no-op when dev is already the
// root and holds a copy, otherwise the value is written to dev and the
// root swapped.
func (p *Pool) SetDevice(id RefID, dev StorageDevice) error {
	rs, err := p.resolve(id)
	if err != nil {
		return err
	}

	s := StorageRead(rs)
	if s.Root() == dev && deviceHoldsCopy(s, dev) {
		return nil
	}

	if err := dev.Write(rs, id); err != nil {
		return fmt.Errorf("migrating ref %d: %w", id, err)
	}

	ns := StorageRCU(rs, func(cur *StorageState) *StorageState {
		return newState(cur, withRoot(dev))
	})
	ns.complete(nil)

	return nil
}

// StatsReporter is implemented by devices that keep read and eviction
// counters, such as [SimpleRecencyAllocator].
type StatsReporter interface {
	Stats() AllocatorStats
}

// Stats returns the counters of the pool's default device, or zero values
// when the device keeps none.
func (p *Pool) Stats() AllocatorStats {
	if reporter, ok := p.DefaultDevice().(StatsReporter); ok {
		return reporter.Stats()
	}

	return AllocatorStats{}
}

// Size returns the ref's estimated size in bytes.
func (p *Pool) Size(id RefID) (uint64, error) {
	rs, err := p.resolve(id)
	if err != nil {
		return 0, err
	}

	return rs.Size, nil
}

// Len returns the number of live refs.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.refs)
}

// resolve looks up the ref under the table lock.
func (p *Pool) resolve(id RefID) (*RefState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rs, ok := p.refs[id]
	if !ok {
		return nil, fmt.Errorf("ref %d: %w", id, ErrUnknownRef)
	}

	return rs, nil
}

// deviceHoldsCopy reports whether dev already holds the ref's bytes: a
// leaf of dev's, or a resident value (which the root device manages).
func deviceHoldsCopy(s *StorageState, dev StorageDevice) bool {
	if s.leafFor(dev) != nil {
		return true
	}

	_, resident := s.Value()

	return resident
}
