package refpool

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Policy selects which end of a tier's recency list eviction victims come
// from.
type Policy int

const (
	// LRU evicts the least recently used ref first.
	LRU Policy = iota
	// MRU evicts the most recently used ref first.
	MRU
)

// ParsePolicy converts a config string into a [Policy].
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToUpper(s) {
	case "LRU":
		return LRU, nil
	case "MRU":
		return MRU, nil
	default:
		return 0, fmt.Errorf("%w: unknown policy %q", ErrInvalidConfig, s)
	}
}

// String returns the policy name.
func (p Policy) String() string {
	if p == MRU {
		return "MRU"
	}

	return "LRU"
}

// AllocatorStats are the allocator's monotonically increasing counters.
// Hits plus Misses equals the total number of reads.
type AllocatorStats struct {
	Hits   uint64
	Misses uint64
	Evicts uint64
}

// AllocatorOptions configure a [SimpleRecencyAllocator].
type AllocatorOptions struct {
	// MemLimit is the byte budget of the memory tier. Required, > 0.
	MemLimit uint64

	// DeviceLimit is the byte budget of the secondary tier. Required, > 0.
	DeviceLimit uint64

	// Upper is the memory-tier device. Defaults to [NewCPURAMDevice].
	Upper StorageDevice

	// Lower is the secondary-tier leaf device. Required.
	Lower StorageDevice

	// Policy selects LRU or MRU eviction. Defaults to LRU.
	Policy Policy

	// Retain makes dropped refs survive on the secondary medium.
	Retain bool

	// Logger overrides the package logger.
	Logger hclog.Logger
}

// SimpleRecencyAllocator is a two-tier composite device: an upper
// (memory) device and a lower (secondary) device, each with a byte budget.
// Writes land in memory, spilling older (LRU) or newer (MRU) refs to the
// lower tier; reads of spilled refs migrate them back.
//
// Budgets are advisory. Sizes are caller estimates, so the allocator may
// over- or under-account, and it never measures the media directly.
//
// The mutex covers migration planning, list bookkeeping and the spawning
// of I/O; the only I/O completed under it is the read-back of a
// device-tier victim pushed into memory. Each migrated ref is marked pending
// while its write/delete pair runs in the background, and operations that
// touch a pending ref, or that need it as an eviction victim, wait for the
// pair off the lock. Other operations do not wait on it.
type SimpleRecencyAllocator struct {
	memLimit    uint64
	deviceLimit uint64
	upper       StorageDevice
	lower       StorageDevice
	policy      Policy
	log         hclog.Logger

	mu sync.Mutex
	// memRefs and deviceRefs order each tier most recent first. The list
	// order is authoritative for victim selection.
	memRefs    []RefID
	deviceRefs []RefID
	refCache   map[RefID]*RefState
	pending    map[RefID]chan struct{}
	stats      AllocatorStats
	retain     bool
}

// NewSimpleRecencyAllocator validates opts and returns the allocator.
// Non-positive limits or a missing lower device are [ErrInvalidConfig].
func NewSimpleRecencyAllocator(opts AllocatorOptions) (*SimpleRecencyAllocator, error) {
	if opts.MemLimit == 0 {
		return nil, fmt.Errorf("%w: mem limit must be positive", ErrInvalidConfig)
	}

	if opts.DeviceLimit == 0 {
		return nil, fmt.Errorf("%w: device limit must be positive", ErrInvalidConfig)
	}

	if opts.Lower == nil {
		return nil, fmt.Errorf("%w: lower device is required", ErrInvalidConfig)
	}

	if opts.Policy != LRU && opts.Policy != MRU {
		return nil, fmt.Errorf("%w: unknown policy %d", ErrInvalidConfig, opts.Policy)
	}

	upper := opts.Upper
	if upper == nil {
		upper = NewCPURAMDevice()
	}

	logger := opts.Logger
	if logger == nil {
		logger = packageLogger()
	}

	return &SimpleRecencyAllocator{
		memLimit:    opts.MemLimit,
		deviceLimit: opts.DeviceLimit,
		upper:       upper,
		lower:       opts.Lower,
		policy:      opts.Policy,
		retain:      opts.Retain,
		log:         logger,
		refCache:    make(map[RefID]*RefState),
		pending:     make(map[RefID]chan struct{}),
	}, nil
}

// Stats returns a snapshot of the counters.
func (a *SimpleRecencyAllocator) Stats() AllocatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.stats
}

// Resources returns the upper device's resources followed by the lower
// device's.
func (a *SimpleRecencyAllocator) Resources() []StorageResource {
	return append(a.upper.Resources(), a.lower.Resources()...)
}

// Capacity is the sum of both tier budgets.
func (a *SimpleRecencyAllocator) Capacity() (uint64, error) {
	return a.memLimit + a.deviceLimit, nil
}

// Available is capacity minus utilized.
func (a *SimpleRecencyAllocator) Available() (uint64, error) {
	capacity, _ := a.Capacity()

	used, err := a.Utilized()
	if err != nil {
		return 0, err
	}

	if used > capacity {
		return 0, nil
	}

	return capacity - used, nil
}

// Utilized sums the cached sizes across both tiers.
func (a *SimpleRecencyAllocator) Utilized() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.sumSizes(a.memRefs) + a.sumSizes(a.deviceRefs), nil
}

// CapacityOn reports the tier budget for one of the allocator's resources:
// the memory budget for the upper tier's resources, the device budget for
// the lower tier's.
func (a *SimpleRecencyAllocator) CapacityOn(res StorageResource) (uint64, error) {
	tier, err := a.tierOf(res)
	if err != nil {
		return 0, err
	}

	if tier == tierMem {
		return a.memLimit, nil
	}

	return a.deviceLimit, nil
}

// AvailableOn is the tier budget minus the tier's cached bytes.
func (a *SimpleRecencyAllocator) AvailableOn(res StorageResource) (uint64, error) {
	limit, err := a.CapacityOn(res)
	if err != nil {
		return 0, err
	}

	used, err := a.UtilizedOn(res)
	if err != nil {
		return 0, err
	}

	if used > limit {
		return 0, nil
	}

	return limit - used, nil
}

// UtilizedOn sums the cached sizes of the tier owning res.
func (a *SimpleRecencyAllocator) UtilizedOn(res StorageResource) (uint64, error) {
	tier, err := a.tierOf(res)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if tier == tierMem {
		return a.sumSizes(a.memRefs), nil
	}

	return a.sumSizes(a.deviceRefs), nil
}

// ExternallyVarying is false: both budgets are engine-internal.
func (a *SimpleRecencyAllocator) ExternallyVarying() bool { return false }

type tier int

const (
	tierMem tier = iota
	tierDevice
)

// tierOf maps a resource to the tier accounting for it.
func (a *SimpleRecencyAllocator) tierOf(res StorageResource) (tier, error) {
	if ownsResource(a.upper, res) {
		return tierMem, nil
	}

	if ownsResource(a.lower, res) {
		return tierDevice, nil
	}

	return 0, fmt.Errorf("%w: %T", ErrInvalidResourceForDevice, res)
}

// Write admits the ref into the memory tier, evicting as needed; a ref
// larger than the memory budget is placed on the lower tier instead. It
// returns once the migration is spawned; the spill I/O itself runs in the
// background. A ref larger than both budgets is rejected with
// [ErrRefTooLarge] and the cache insertion rolled back.
func (a *SimpleRecencyAllocator) Write(rs *RefState, id RefID) error {
	for {
		a.mu.Lock()

		if ch, ok := a.pending[id]; ok {
			a.mu.Unlock()
			<-ch

			continue
		}

		_, existed := a.refCache[id]
		a.refCache[id] = rs

		if rs.Size > a.memLimit && rs.Size > a.deviceLimit {
			if !existed {
				delete(a.refCache, id)
			}

			a.mu.Unlock()

			return fmt.Errorf("ref %d (%d bytes): %w", id, rs.Size, ErrRefTooLarge)
		}

		// A ref that can never fit the memory budget lives on the lower
		// tier.
		waits, err := a.migrate(rs, id, rs.Size <= a.memLimit)
		a.mu.Unlock()

		if err != nil {
			return err
		}

		if len(waits) > 0 {
			waitAll(waits)

			continue
		}

		return nil
	}
}

// Read serves from memory when resident (hit, touch) and migrates the ref
// back from the lower tier otherwise (miss). All waiting on I/O happens
// off the allocator lock.
func (a *SimpleRecencyAllocator) Read(rs *RefState, id RefID, ret bool) (any, error) {
	for {
		a.mu.Lock()

		if ch, ok := a.pending[id]; ok {
			a.mu.Unlock()
			<-ch

			continue
		}

		if slices.Contains(a.memRefs, id) {
			a.stats.Hits++
			moveToHead(&a.memRefs, id)
			a.mu.Unlock()

			return a.upper.Read(rs, id, ret)
		}

		if slices.Contains(a.deviceRefs, id) {
			if rs.Size > a.memLimit {
				// Not promotable; serve it from the lower tier in place.
				a.stats.Misses++
				moveToHead(&a.deviceRefs, id)
				a.mu.Unlock()

				return a.lower.Read(rs, id, ret)
			}

			waits, err := a.migrate(rs, id, true)
			if len(waits) == 0 {
				// Count the miss once, on the pass that does not retry.
				a.stats.Misses++
			}

			a.mu.Unlock()

			if err != nil {
				return nil, err
			}

			if len(waits) > 0 {
				waitAll(waits)

				continue
			}

			if !ret {
				return nil, nil
			}

			a.awaitPending(id)

			return a.upper.Read(rs, id, true)
		}

		a.mu.Unlock()

		return nil, fmt.Errorf("ref %d not managed by allocator: %w", id, ErrUnknownRef)
	}
}

// Delete forgets the ref. With the retain cell set, a memory-resident ref
// is first demoted to the lower tier and the spill file survives the
// delete; without it, all copies are removed.
func (a *SimpleRecencyAllocator) Delete(rs *RefState, id RefID) error {
	for {
		a.mu.Lock()

		if ch, ok := a.pending[id]; ok {
			a.mu.Unlock()
			<-ch

			continue
		}

		if slices.Contains(a.memRefs, id) {
			if a.retain {
				waits, err := a.migrate(rs, id, false)
				a.mu.Unlock()

				if err != nil {
					return err
				}

				waitAll(waits)

				// Demoted (or retrying); the device-tier branch
				// finishes up on the next pass.
				continue
			}

			removeID(&a.memRefs, id)
			delete(a.refCache, id)
			a.mu.Unlock()

			return a.upper.Delete(rs, id)
		}

		if slices.Contains(a.deviceRefs, id) {
			retain := a.retain

			removeID(&a.deviceRefs, id)
			delete(a.refCache, id)
			a.mu.Unlock()

			if retain {
				if err := a.lower.Retain(rs, id, true, false); err != nil {
					return err
				}
			}

			return a.lower.Delete(rs, id)
		}

		a.mu.Unlock()

		return nil
	}
}

// Retain sets the allocator's retain cell. Retention takes effect lazily
// at delete time; with all, retention is also set right away on every
// current leaf of the ref.
func (a *SimpleRecencyAllocator) Retain(rs *RefState, id RefID, retain, all bool) error {
	a.mu.Lock()
	a.retain = retain
	a.mu.Unlock()

	if !all {
		return nil
	}

	s := StorageRead(rs)
	for _, l := range s.Leaves() {
		if err := l.Device().Retain(rs, id, retain, false); err != nil {
			return err
		}
	}

	return nil
}

// migrate places the ref in the destination tier (memory when toMem),
// spilling victims into the other tier until the destination budget holds
// the ref. Caller must hold a.mu.
//
// Planning, list bookkeeping and the spawning of I/O happen under the
// lock; a victim pushed from the device tier into memory is also read back
// here, synchronously. Each victim's spill write is spawned here (so its new snapshot is
// installed before the victim becomes visible in the spillover list), and
// the matching source delete runs concurrently in a background goroutine;
// the ref's own placement runs the same way. Every ref with an in-flight
// pair is marked pending until the pair completes.
//
// Victim order: with LRU, memory evicts from the tail (oldest) and the
// device tier from the head; MRU inverts both ends. Victims that do not
// fit the spillover budget are skipped. If the scan reaches a victim with
// an in-flight pair, that pair's channel is returned so the caller can
// wait off the lock and retry with a fresh plan. If the scan exhausts the
// list without freeing enough space the accounting has drifted and the
// operation fails with [ErrMigrationInvariant].
//
// A pre-existing copy in the spillover tier is removed with that device's
// Delete after the new placement is written, whatever its retain flag; the
// device's own retain handling decides whether the bytes outlive the leaf
// (a retained spill file stays on disk).
func (a *SimpleRecencyAllocator) migrate(rs *RefState, id RefID, toMem bool) ([]chan struct{}, error) {
	fromRefs, toRefs := &a.memRefs, &a.deviceRefs
	fromDev, toDev := a.upper, a.lower
	fromLimit, toLimit := a.memLimit, a.deviceLimit

	if !toMem {
		fromRefs, toRefs = toRefs, fromRefs
		fromDev, toDev = toDev, fromDev
		fromLimit, toLimit = toLimit, fromLimit
	}

	refSize := rs.Size
	fromSize := a.sumSizes(*fromRefs)
	toSize := a.sumSizes(*toRefs)

	if slices.Contains(*fromRefs, id) {
		// Re-placement into the tier it already occupies: its bytes are
		// already accounted in fromSize.
		fromSize -= refSize
	}

	scanFromHead := toMem != (a.policy == LRU)

	order := slices.Clone(*fromRefs)
	if !scanFromHead {
		slices.Reverse(order)
	}

	var victims []RefID

	for _, vid := range order {
		if refSize+fromSize <= fromLimit {
			break
		}

		if vid == id {
			continue
		}

		if ch, ok := a.pending[vid]; ok {
			// The next candidate in policy order is mid-migration: wait
			// for it off the lock and replan rather than pass over it.
			return []chan struct{}{ch}, nil
		}

		vs := a.refCache[vid]
		if toSize+vs.Size > toLimit {
			continue
		}

		victims = append(victims, vid)
		fromSize -= vs.Size
		toSize += vs.Size
	}

	if refSize+fromSize > fromLimit {
		return nil, fmt.Errorf("tier over budget by %d bytes with no evictable refs: %w",
			refSize+fromSize-fromLimit, ErrMigrationInvariant)
	}

	for _, vid := range victims {
		vs := a.refCache[vid]

		// The spillover write is spawned under the lock so the victim's
		// leaf-bearing snapshot exists before the list move publishes it;
		// the source delete waits for that write in the background, which
		// both keeps the write-before-delete order (a failed write
		// preserves the data) and keeps disk latency off the lock.
		if err := toDev.Write(vs, vid); err != nil {
			return nil, fmt.Errorf("evicting ref %d: %w", vid, err)
		}

		a.markPending(vid)

		go a.finishEviction(vs, vid, fromDev)

		removeID(fromRefs, vid)
		*toRefs = append(*toRefs, vid)
		a.stats.Evicts++

		a.log.Debug("evicting ref", "ref", uint64(vid), "toMem", !toMem, "bytes", vs.Size)
	}

	dropStale := slices.Contains(*toRefs, id)
	if dropStale {
		removeID(toRefs, id)
	}

	removeID(fromRefs, id)
	*fromRefs = slices.Insert(*fromRefs, 0, id)

	a.markPending(id)

	go a.finishPlacement(rs, id, fromDev, toDev, dropStale)

	return nil, nil
}

// finishEviction completes one victim's migration pair: it waits (via the
// device operation's own readiness handling) for the spill write, then
// removes the source copy. Failures cannot surface to a caller anymore and
// are reported through the logger.
func (a *SimpleRecencyAllocator) finishEviction(vs *RefState, vid RefID, src StorageDevice) {
	defer a.clearPending(vid)

	if err := src.Delete(vs, vid); err != nil {
		a.log.Error("eviction delete failed", "ref", uint64(vid), "error", err)
	}
}

// finishPlacement writes the ref to its destination tier and, once the
// bytes are in place, drops a stale copy left in the other tier.
func (a *SimpleRecencyAllocator) finishPlacement(rs *RefState, id RefID, dest, other StorageDevice, dropStale bool) {
	defer a.clearPending(id)

	if err := dest.Write(rs, id); err != nil {
		a.log.Error("placement write failed", "ref", uint64(id), "error", err)

		return
	}

	if dropStale {
		if err := other.Delete(rs, id); err != nil {
			a.log.Error("removing stale copy failed", "ref", uint64(id), "error", err)
		}
	}
}

// markPending records an in-flight migration pair for id. Caller holds
// a.mu.
func (a *SimpleRecencyAllocator) markPending(id RefID) {
	a.pending[id] = make(chan struct{})
}

// clearPending completes the pending marker for id.
func (a *SimpleRecencyAllocator) clearPending(id RefID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ch, ok := a.pending[id]; ok {
		delete(a.pending, id)
		close(ch)
	}
}

// awaitPending blocks until id has no in-flight migration pair.
func (a *SimpleRecencyAllocator) awaitPending(id RefID) {
	for {
		a.mu.Lock()
		ch, ok := a.pending[id]
		a.mu.Unlock()

		if !ok {
			return
		}

		<-ch
	}
}

// waitAll blocks until every channel is closed.
func waitAll(waits []chan struct{}) {
	for _, ch := range waits {
		<-ch
	}
}

// sumSizes adds the cached sizes of the listed refs. Caller holds a.mu.
func (a *SimpleRecencyAllocator) sumSizes(ids []RefID) uint64 {
	var total uint64

	for _, id := range ids {
		if rs, ok := a.refCache[id]; ok {
			total += rs.Size
		}
	}

	return total
}

// moveToHead moves id to the front of the list.
func moveToHead(list *[]RefID, id RefID) {
	removeID(list, id)
	*list = slices.Insert(*list, 0, id)
}

// removeID deletes id from the list if present.
func removeID(list *[]RefID, id RefID) {
	if i := slices.Index(*list, id); i >= 0 {
		*list = slices.Delete(*list, i, i+1)
	}
}
