// Package fs provides the filesystem abstraction used by the spill-file
// device, for testing and fault injection.
//
// The main types are:
//   - [FS]: interface for the filesystem operations the engine performs
//   - [Real]: production implementation using the [os] package
//   - [Injected]: testing implementation that injects errors per operation
//
// Example usage:
//
//	fsys := fs.NewReal()
//	data, err := fsys.ReadFile(path)
package fs

import (
	"io"
	"os"
)

// FS defines the filesystem operations the engine performs on spill
// directories. All methods mirror their [os] package equivalents but can be
// intercepted for testing with fault injection.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (io.ReadCloser, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic writes data to a file atomically.
	// Uses a temp file + rename so a reader never observes a partial
	// file at the final path.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// MkdirAll creates a directory and parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Remove deletes a file. See [os.Remove].
	Remove(path string) error

	// Stat returns file metadata. See [os.Stat].
	Stat(path string) (os.FileInfo, error)
}
