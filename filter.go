package refpool

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Filter is one stage of a byte-stream pipeline applied around the
// serialized payload: Encode wraps the writer on the way to the medium,
// Decode wraps the reader on the way back. The two must be symmetric.
//
// Given filters [f1, f2], the bytes on the medium are
// f1(f2(serialized)); f1 sits outermost, nearest the medium.
type Filter struct {
	Encode func(w io.Writer) (io.WriteCloser, error)
	Decode func(r io.Reader) (io.ReadCloser, error)
}

// GzipFilter returns a filter pair compressing the stream with gzip.
func GzipFilter() Filter {
	return Filter{
		Encode: func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriter(w), nil
		},
		Decode: func(r io.Reader) (io.ReadCloser, error) {
			zr, err := gzip.NewReader(r)
			if err != nil {
				return nil, fmt.Errorf("gzip reader: %w", err)
			}

			return zr, nil
		},
	}
}

// nopWriteCloser adapts a plain writer for the filter chain.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// wrapWriters stacks the encode sides over w, outermost filter first.
// Closing the returned writer flushes every stage, innermost first, without
// closing w itself.
func wrapWriters(filters []Filter, w io.Writer) (io.WriteCloser, error) {
	stack := []io.WriteCloser{nopWriteCloser{w}}

	for i, f := range filters {
		wrapped, err := f.Encode(stack[len(stack)-1])
		if err != nil {
			return nil, fmt.Errorf("filter %d encode: %w", i, err)
		}

		stack = append(stack, wrapped)
	}

	return &chainWriter{stack: stack}, nil
}

// chainWriter writes to the innermost stage and closes the whole stack.
type chainWriter struct {
	stack []io.WriteCloser
}

func (c *chainWriter) Write(p []byte) (int, error) {
	return c.stack[len(c.stack)-1].Write(p)
}

func (c *chainWriter) Close() error {
	for i := len(c.stack) - 1; i >= 0; i-- {
		if err := c.stack[i].Close(); err != nil {
			return err
		}
	}

	return nil
}

// wrapReaders stacks the decode sides over r, symmetric to wrapWriters.
func wrapReaders(filters []Filter, r io.Reader) (io.ReadCloser, error) {
	var current io.Reader = r

	closers := make([]io.ReadCloser, 0, len(filters))

	for i, f := range filters {
		wrapped, err := f.Decode(current)
		if err != nil {
			return nil, fmt.Errorf("filter %d decode: %w", i, err)
		}

		closers = append(closers, wrapped)
		current = wrapped
	}

	return &chainReader{inner: current, closers: closers}, nil
}

// chainReader reads from the innermost stage and closes all stages,
// innermost first.
type chainReader struct {
	inner   io.Reader
	closers []io.ReadCloser
}

func (c *chainReader) Read(p []byte) (int, error) {
	return c.inner.Read(p)
}

func (c *chainReader) Close() error {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			return err
		}
	}

	return nil
}
