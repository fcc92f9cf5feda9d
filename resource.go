package refpool

import (
	"github.com/calvinalkan/refpool/internal/sysinfo"
)

// StorageResource identifies a physical storage medium and reports its
// capacity in bytes. All queries are best-effort: values can change between
// calls and are not a reservation.
//
// User-defined media implement this interface; the engine ships
// [CPURAMResource] and [FilesystemResource].
type StorageResource interface {
	// Capacity returns the total size of the medium in bytes.
	Capacity() (uint64, error)

	// Available returns the bytes currently available for new data.
	Available() (uint64, error)

	// Utilized returns capacity minus available, clamped at zero.
	Utilized() (uint64, error)
}

// CPURAMResource is the process's main memory. Use [CPURAM] to obtain the
// singleton; device code compares resources by identity.
type CPURAMResource struct{}

var cpuRAM = &CPURAMResource{}

// CPURAM returns the singleton main-memory resource.
func CPURAM() *CPURAMResource { return cpuRAM }

// Capacity returns total physical RAM.
func (*CPURAMResource) Capacity() (uint64, error) {
	return sysinfo.TotalRAM()
}

// Available returns the kernel's estimate of allocatable memory. Prefers
// MemAvailable over naive free memory, which page cache pollutes.
func (*CPURAMResource) Available() (uint64, error) {
	return sysinfo.AvailableRAM()
}

// Utilized returns capacity minus available.
func (r *CPURAMResource) Utilized() (uint64, error) {
	return utilized(r)
}

// FilesystemResource is the filesystem mounted at (or containing)
// Mountpoint.
type FilesystemResource struct {
	Mountpoint string
}

// NewFilesystemResource returns the resource for the filesystem containing
// mountpoint.
func NewFilesystemResource(mountpoint string) *FilesystemResource {
	return &FilesystemResource{Mountpoint: mountpoint}
}

// Capacity returns the filesystem's total size.
func (r *FilesystemResource) Capacity() (uint64, error) {
	capacity, _, err := sysinfo.FilesystemStats(r.Mountpoint)

	return capacity, err
}

// Available returns the filesystem's free bytes.
func (r *FilesystemResource) Available() (uint64, error) {
	_, available, err := sysinfo.FilesystemStats(r.Mountpoint)

	return available, err
}

// Utilized returns capacity minus available.
func (r *FilesystemResource) Utilized() (uint64, error) {
	return utilized(r)
}

// utilized derives utilization from the capacity/available pair, clamping
// at zero because the two reads are not atomic.
func utilized(r StorageResource) (uint64, error) {
	capacity, err := r.Capacity()
	if err != nil {
		return 0, err
	}

	available, err := r.Available()
	if err != nil {
		return 0, err
	}

	if available > capacity {
		return 0, nil
	}

	return capacity - available, nil
}
