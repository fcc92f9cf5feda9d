package fs

import (
	"errors"
	"io"
	"os"
)

// InjectedError marks an error as intentionally injected by [Injected].
//
// It wraps the underlying error so errors.Is/As continue to work.
type InjectedError struct {
	Err error
}

// Error returns the underlying error's message.
func (e *InjectedError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *InjectedError) Unwrap() error {
	return e.Err
}

// IsInjected reports whether err (or any wrapped error) was injected by
// [Injected]. Returns false if err is nil.
func IsInjected(err error) bool {
	var injected *InjectedError

	return errors.As(err, &injected)
}

// Injected wraps an [FS] and fails chosen operations deterministically.
// A nil hook means the operation passes through to Inner. Hooks receive the
// path and return the error to inject, or nil to pass through.
//
// Injected is for tests; it is not safe to mutate hooks while in use.
type Injected struct {
	Inner FS

	OpenErr   func(path string) error
	ReadErr   func(path string) error
	WriteErr  func(path string) error
	RemoveErr func(path string) error
}

// NewInjected wraps inner with no hooks installed.
func NewInjected(inner FS) *Injected {
	return &Injected{Inner: inner}
}

func (f *Injected) Open(path string) (io.ReadCloser, error) {
	if err := f.hook(f.OpenErr, path); err != nil {
		return nil, err
	}

	return f.Inner.Open(path)
}

func (f *Injected) ReadFile(path string) ([]byte, error) {
	if err := f.hook(f.ReadErr, path); err != nil {
		return nil, err
	}

	return f.Inner.ReadFile(path)
}

func (f *Injected) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := f.hook(f.WriteErr, path); err != nil {
		return err
	}

	return f.Inner.WriteFileAtomic(path, data, perm)
}

func (f *Injected) MkdirAll(path string, perm os.FileMode) error {
	return f.Inner.MkdirAll(path, perm)
}

func (f *Injected) Remove(path string) error {
	if err := f.hook(f.RemoveErr, path); err != nil {
		return err
	}

	return f.Inner.Remove(path)
}

func (f *Injected) Stat(path string) (os.FileInfo, error) {
	return f.Inner.Stat(path)
}

func (f *Injected) hook(hook func(string) error, path string) error {
	if hook == nil {
		return nil
	}

	if err := hook(path); err != nil {
		return &InjectedError{Err: err}
	}

	return nil
}
