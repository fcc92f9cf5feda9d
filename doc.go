// Package refpool is a per-process storage engine for named, reference
// counted in-memory values that are transparently migrated between memory
// and secondary storage under pluggable placement policies.
//
// Client code puts a value into a [Pool] and gets back a [RefID]. The engine
// decides where the bytes physically live, materializes them back into
// memory on demand, and reclaims resources when a ref is dropped.
//
// # Basic Usage
//
//	lower, _ := refpool.NewSerializationFileDevice(dir)
//	alloc, err := refpool.NewSimpleRecencyAllocator(refpool.AllocatorOptions{
//	    MemLimit:    64 << 20,
//	    DeviceLimit: 1 << 30,
//	    Lower:       lower,
//	})
//	if err != nil {
//	    // handle [ErrInvalidConfig]
//	}
//	pool := refpool.NewPool(alloc)
//
//	id, _ := pool.Put(value, size)
//	v, _ := pool.Get(id)   // materialized from disk if it was spilled
//	_ = pool.Drop(id)
//
// # Devices
//
// Storage is modeled as a tree of [StorageDevice] values. Leaf devices own a
// physical medium ([CPURAMDevice], [SerializationFileDevice]); composite
// devices delegate ([SimpleRecencyAllocator]). Each device reports capacity
// and availability for its [StorageResource] set. Capacity limits are
// advisory: sizes are caller-estimated, so accounting may drift.
//
// # Concurrency
//
// Every ref carries an atomically swappable placement snapshot
// ([StorageState]). Writers install a new snapshot with [StorageRCU];
// readers load one with [StorageRead], which waits until the snapshot's
// fields are safe to observe. Long-running I/O runs in background
// goroutines that complete the snapshot when done. All public [Pool] and
// device operations are safe for concurrent use.
//
// # Error Handling
//
// Synchronous failures return sentinel errors ([ErrRefTooLarge],
// [ErrUnknownRef], ...) testable with errors.Is. A failure inside a
// background I/O goroutine is recorded on the snapshot and surfaces as
// [ErrBackgroundIO] from the next operation on that ref; the ref may be
// unusable afterwards.
//
// The engine makes no durability promises across process restarts; spill
// files are working storage, not a database.
package refpool
