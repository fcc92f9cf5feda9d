package refpool

import (
	"encoding/gob"
	"fmt"
	"io"
)

// Serializer turns values into byte streams and back. The engine treats it
// as opaque: whatever Encode writes, Decode must reproduce.
type Serializer interface {
	Encode(w io.Writer, value any) error
	Decode(r io.Reader) (any, error)
}

// GobSerializer is the default codec, encoding values with encoding/gob.
//
// Values travel inside an interface, so concrete types beyond the
// pre-registered ones ([]byte, string, the common ints, bools, floats,
// map[string]any, []any) must be registered with gob.Register by the
// caller.
type GobSerializer struct{}

func init() {
	gob.Register([]byte(nil))
	gob.Register("")
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(uint64(0))
	gob.Register(false)
	gob.Register(float64(0))
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Encode gob-encodes value into w.
func (GobSerializer) Encode(w io.Writer, value any) error {
	if err := gob.NewEncoder(w).Encode(&value); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	return nil
}

// Decode reads one gob-encoded value from r.
func (GobSerializer) Decode(r io.Reader) (any, error) {
	var value any

	if err := gob.NewDecoder(r).Decode(&value); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}

	return value, nil
}
