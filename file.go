package refpool

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/calvinalkan/refpool/internal/fs"
)

const spillFilePerm = 0o644

// SerializationFileDevice is a leaf device that serializes values into one
// file per ref under a directory, optionally passing the byte stream
// through a filter chain (compression, encryption).
//
// Writes and materializing reads run in background goroutines; the
// placement snapshot installed up front completes once the I/O settles, so
// concurrent readers rendezvous on the same in-flight operation instead of
// duplicating it.
type SerializationFileDevice struct {
	res     *FilesystemResource
	dir     string
	filters []Filter
	fsys    fs.FS
	ser     Serializer
	log     hclog.Logger
}

// FileDeviceOption configures a [SerializationFileDevice].
type FileDeviceOption func(*SerializationFileDevice)

// WithFilters sets the byte-stream filter chain. The first filter sits
// outermost, nearest the file.
func WithFilters(filters ...Filter) FileDeviceOption {
	return func(d *SerializationFileDevice) { d.filters = filters }
}

// WithFilesystemResource overrides the resource the device accounts
// against. Defaults to the filesystem containing the directory.
func WithFilesystemResource(res *FilesystemResource) FileDeviceOption {
	return func(d *SerializationFileDevice) { d.res = res }
}

// WithFS overrides the filesystem implementation. For tests.
func WithFS(fsys fs.FS) FileDeviceOption {
	return func(d *SerializationFileDevice) { d.fsys = fsys }
}

// WithSerializer overrides the codec. Defaults to [GobSerializer].
func WithSerializer(ser Serializer) FileDeviceOption {
	return func(d *SerializationFileDevice) { d.ser = ser }
}

// WithFileDeviceLogger overrides the device's logger.
func WithFileDeviceLogger(logger hclog.Logger) FileDeviceOption {
	return func(d *SerializationFileDevice) { d.log = logger }
}

// NewSerializationFileDevice returns a file device spilling into dir,
// creating it if needed. An empty dir is [ErrInvalidConfig].
func NewSerializationFileDevice(dir string, opts ...FileDeviceOption) (*SerializationFileDevice, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty spill directory", ErrInvalidConfig)
	}

	d := &SerializationFileDevice{
		dir:  dir,
		fsys: fs.NewReal(),
		ser:  GobSerializer{},
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.res == nil {
		d.res = NewFilesystemResource(dir)
	}

	if d.log == nil {
		d.log = packageLogger()
	}

	if err := d.fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spill directory: %w", err)
	}

	return d, nil
}

// Dir returns the spill directory.
func (d *SerializationFileDevice) Dir() string { return d.dir }

// Resources returns the backing filesystem resource.
func (d *SerializationFileDevice) Resources() []StorageResource {
	return []StorageResource{d.res}
}

// Capacity returns the backing filesystem's size.
func (d *SerializationFileDevice) Capacity() (uint64, error) { return d.res.Capacity() }

// Available returns the backing filesystem's free bytes.
func (d *SerializationFileDevice) Available() (uint64, error) { return d.res.Available() }

// Utilized returns the backing filesystem's used bytes.
func (d *SerializationFileDevice) Utilized() (uint64, error) { return d.res.Utilized() }

// CapacityOn answers for the filesystem resource.
func (d *SerializationFileDevice) CapacityOn(res StorageResource) (uint64, error) {
	if err := checkResource(d, res); err != nil {
		return 0, err
	}

	return res.Capacity()
}

// AvailableOn answers for the filesystem resource.
func (d *SerializationFileDevice) AvailableOn(res StorageResource) (uint64, error) {
	if err := checkResource(d, res); err != nil {
		return 0, err
	}

	return res.Available()
}

// UtilizedOn answers for the filesystem resource.
func (d *SerializationFileDevice) UtilizedOn(res StorageResource) (uint64, error) {
	if err := checkResource(d, res); err != nil {
		return 0, err
	}

	return res.Utilized()
}

// ExternallyVarying is true: the filesystem is shared with the rest of the
// system.
func (d *SerializationFileDevice) ExternallyVarying() bool { return true }

// Write serializes the ref's value into a fresh file under the spill
// directory. It installs the new snapshot immediately and performs the
// encoding and file write in a goroutine; readers block on the snapshot
// until the file is fully published.
func (d *SerializationFileDevice) Write(rs *RefState, id RefID) error {
	s := StorageRead(rs)
	if err := s.Err(); err != nil {
		return err
	}

	if s.leafFor(d) != nil {
		return nil
	}

	value, ok := s.Value()
	if !ok {
		leaves := s.Leaves()
		if len(leaves) == 0 {
			return fmt.Errorf("ref %d has no value and no leaves: %w", id, ErrMissingLeaf)
		}

		pulled, err := leaves[0].Device().Read(rs, id, true)
		if err != nil {
			return fmt.Errorf("materializing ref %d for spill: %w", id, err)
		}

		value = pulled
	}

	path := filepath.Join(d.dir, uuid.NewString()+".ref")
	leaf := &StorageLeaf{device: d}

	ns := StorageRCU(rs, func(cur *StorageState) *StorageState {
		return newState(cur, withLeaves(append(cur.leavesWithout(d), leaf)))
	})

	go d.writeLeaf(ns, leaf, value, path, id)

	return nil
}

// writeLeaf encodes value through the filter chain, publishes the file
// atomically, assigns the leaf handle and completes the snapshot.
func (d *SerializationFileDevice) writeLeaf(ns *StorageState, leaf *StorageLeaf, value any, path string, id RefID) {
	var err error

	defer func() {
		if err != nil {
			d.log.Error("spill write failed", "ref", uint64(id), "path", path, "error", err)
		}

		ns.complete(err)
	}()

	var buf bytes.Buffer

	w, err := wrapWriters(d.filters, &buf)
	if err != nil {
		return
	}

	if err = d.ser.Encode(w, value); err != nil {
		return
	}

	if err = w.Close(); err != nil {
		return
	}

	if err = d.fsys.WriteFileAtomic(path, buf.Bytes(), spillFilePerm); err != nil {
		return
	}

	leaf.handle = &FileRef{Path: path, Size: uint64(buf.Len())}

	d.log.Debug("spilled ref", "ref", uint64(id), "path", path, "bytes", buf.Len())
}

// Read returns the resident value if there is one; otherwise it installs a
// snapshot that promises materialization, decodes the spill file in a
// goroutine, and (with ret) waits for the result.
func (d *SerializationFileDevice) Read(rs *RefState, id RefID, ret bool) (any, error) {
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

	leaf := s.leafFor(d)
	if leaf == nil {
		return nil, fmt.Errorf("ref %d: %w", id, ErrMissingLeaf)
	}

	fr, ok := leaf.Handle().(*FileRef)
	if !ok || fr == nil {
		return nil, fmt.Errorf("ref %d leaf has no file handle: %w", id, ErrMissingLeaf)
	}

	ns := StorageRCU(rs, func(cur *StorageState) *StorageState {
		return newState(cur)
	})

	go d.readLeaf(ns, fr, id)

	if !ret {
		return nil, nil
	}

	ns.wait()

	if err := ns.Err(); err != nil {
		return nil, err
	}

	value, _ := ns.Value()

	return value, nil
}

// readLeaf decodes the spill file through the filter chain, sets the
// snapshot's value and completes it.
func (d *SerializationFileDevice) readLeaf(ns *StorageState, fr *FileRef, id RefID) {
	var err error

	defer func() {
		if err != nil {
			d.log.Error("spill read failed", "ref", uint64(id), "path", fr.Path, "error", err)
		}

		ns.complete(err)
	}()

	// A concurrent read may have materialized the value between our
	// snapshot and the swap; the copied state already carries it.
	if ns.hasVal {
		return
	}

	f, err := d.fsys.Open(fr.Path)
	if err != nil {
		return
	}

	defer func() { _ = f.Close() }()

	r, err := wrapReaders(d.filters, f)
	if err != nil {
		return
	}

	value, err := d.ser.Decode(r)
	if err != nil {
		return
	}

	if err = r.Close(); err != nil {
		return
	}

	ns.value = value
	ns.hasVal = true

	d.log.Debug("materialized ref", "ref", uint64(id), "path", fr.Path)
}

// Delete removes this device's leaf. The file itself is unlinked in the
// background unless the leaf is retained. A missing leaf is a no-op.
//
// Deleting while a write is still in flight is safe: the snapshot was
// obtained through [StorageRead], which waited for the write to publish
// the handle, so the unlink never races the write.
func (d *SerializationFileDevice) Delete(rs *RefState, id RefID) error {
	s := StorageRead(rs)
	if err := s.Err(); err != nil {
		return err
	}

	leaf := s.leafFor(d)
	if leaf == nil {
		return nil
	}

	ns := StorageRCU(rs, func(cur *StorageState) *StorageState {
		return newState(cur, withLeaves(cur.leavesWithout(d)))
	})
	ns.complete(nil)

	if leaf.Retained() {
		return nil
	}

	fr, ok := leaf.Handle().(*FileRef)
	if !ok || fr == nil {
		return nil
	}

	go func() {
		if err := d.fsys.Remove(fr.Path); err != nil {
			d.log.Error("unlinking spill file failed", "ref", uint64(id), "path", fr.Path, "error", err)

			return
		}

		d.log.Debug("unlinked spill file", "ref", uint64(id), "path", fr.Path)
	}()

	return nil
}

// Retain sets retention on this device's leaf (or all leaves, if all is
// true and this device is the root). A missing leaf is a no-op.
func (d *SerializationFileDevice) Retain(rs *RefState, id RefID, retain, all bool) error {
	s := StorageRead(rs)
	if err := s.Err(); err != nil {
		return err
	}

	ns := StorageRCU(rs, func(cur *StorageState) *StorageState {
		leaves := make([]*StorageLeaf, len(cur.leaves))

		for i, l := range cur.leaves {
			if l.device == d || (all && cur.root == d) {
				leaves[i] = l.clone(retain)
			} else {
				leaves[i] = l
			}
		}

		return newState(cur, withLeaves(leaves))
	})
	ns.complete(nil)

	return nil
}
