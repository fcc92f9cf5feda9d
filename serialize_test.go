package refpool

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGobSerializerRoundTrip(t *testing.T) {
	t.Parallel()

	values := []any{
		"a string",
		[]byte{0x00, 0x01, 0xFF},
		int(42),
		int64(-7),
		uint64(1 << 40),
		true,
		3.5,
		map[string]any{"k": "v"},
		[]any{"a", "b"},
	}

	for _, value := range values {
		var buf bytes.Buffer

		if err := (GobSerializer{}).Encode(&buf, value); err != nil {
			t.Fatalf("encoding %v: %v", value, err)
		}

		got, err := (GobSerializer{}).Decode(&buf)
		if err != nil {
			t.Fatalf("decoding %v: %v", value, err)
		}

		if diff := cmp.Diff(value, got); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestGobSerializerDecodeGarbage(t *testing.T) {
	t.Parallel()

	_, err := (GobSerializer{}).Decode(bytes.NewReader([]byte("not gob")))
	if err == nil {
		t.Fatal("expected a decode error")
	}
}
