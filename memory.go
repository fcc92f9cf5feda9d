package refpool

import "fmt"

// CPURAMDevice stores refs as live in-memory values. Presence on this
// device is the snapshot's resident value itself; the device adds no leaf
// entries.
type CPURAMDevice struct {
	res *CPURAMResource
}

// NewCPURAMDevice returns an in-memory leaf device backed by [CPURAM].
func NewCPURAMDevice() *CPURAMDevice {
	return &CPURAMDevice{res: CPURAM()}
}

// Resources returns the main-memory resource.
func (d *CPURAMDevice) Resources() []StorageResource {
	return []StorageResource{d.res}
}

// Capacity returns total physical RAM.
func (d *CPURAMDevice) Capacity() (uint64, error) { return d.res.Capacity() }

// Available returns allocatable RAM.
func (d *CPURAMDevice) Available() (uint64, error) { return d.res.Available() }

// Utilized returns used RAM.
func (d *CPURAMDevice) Utilized() (uint64, error) { return d.res.Utilized() }

// CapacityOn answers for the memory resource.
func (d *CPURAMDevice) CapacityOn(res StorageResource) (uint64, error) {
	if err := checkResource(d, res); err != nil {
		return 0, err
	}

	return res.Capacity()
}

// AvailableOn answers for the memory resource.
func (d *CPURAMDevice) AvailableOn(res StorageResource) (uint64, error) {
	if err := checkResource(d, res); err != nil {
		return 0, err
	}

	return res.Available()
}

// UtilizedOn answers for the memory resource.
func (d *CPURAMDevice) UtilizedOn(res StorageResource) (uint64, error) {
	if err := checkResource(d, res); err != nil {
		return 0, err
	}

	return res.Utilized()
}

// ExternallyVarying is true: every other allocation in the process moves
// this device's availability.
func (d *CPURAMDevice) ExternallyVarying() bool { return true }

// Write ensures the value is resident in memory, pulling it back from the
// first leaf if it was spilled.
func (d *CPURAMDevice) Write(rs *RefState, id RefID) error {
	s := StorageRead(rs)
	if err := s.Err(); err != nil {
		return err
	}

	if _, ok := s.Value(); ok {
		return nil
	}

	leaves := s.Leaves()
	if len(leaves) == 0 {
		return fmt.Errorf("ref %d has no value and no leaves: %w", id, ErrMissingLeaf)
	}

	value, err := leaves[0].Device().Read(rs, id, true)
	if err != nil {
		return fmt.Errorf("pulling ref %d back into memory: %w", id, err)
	}

	ns := StorageRCU(rs, func(cur *StorageState) *StorageState {
		return newState(cur, withValue(value))
	})
	ns.complete(nil)

	return nil
}

// Read returns the resident value, or delegates to the first leaf if the
// value was evicted from memory.
func (d *CPURAMDevice) Read(rs *RefState, id RefID, ret bool) (any, error) {
	s := StorageRead(rs)
	if err := s.Err(); err != nil {
		return nil, err
	}

	if v, ok := s.Value(); ok {
		if ret {
			return v, nil
		}

		return nil, nil
	}

	leaves := s.Leaves()
	if len(leaves) == 0 {
		return nil, fmt.Errorf("ref %d: %w", id, ErrMissingLeaf)
	}

	return leaves[0].Device().Read(rs, id, ret)
}

// Delete releases the resident value. Leaf copies are untouched.
func (d *CPURAMDevice) Delete(rs *RefState, id RefID) error {
	s := StorageRead(rs)
	if err := s.Err(); err != nil {
		return err
	}

	if _, ok := s.Value(); !ok {
		return nil
	}

	ns := StorageRCU(rs, func(cur *StorageState) *StorageState {
		return newState(cur, withoutValue())
	})
	ns.complete(nil)

	return nil
}

// Retain is a no-op: retention of a live in-memory value is not
// expressible, the value is gone once deleted.
func (d *CPURAMDevice) Retain(rs *RefState, id RefID, retain, all bool) error {
	return nil
}
