package tracker

import (
	"bytes"
	"fmt"
	"hash/fnv"

	"github.com/axiomhq/hyperloglog"
)

// hllMagic identifies an HLL blob stored in a tracker value.
var hllMagic = [4]byte{'H', 'L', 'L', 0x01}

// NewSketch returns an empty cardinality sketch.
func NewSketch() *hyperloglog.Sketch {
	return hyperloglog.New()
}

// HashItem maps an arbitrary tracked item to the sketch's hash domain.
func HashItem(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// SerializeHLL prefixes the sketch's native binary encoding with the magic
// bytes so deserialization can reject foreign blobs. The wire format departs
// from a byte-for-byte reference implementation (which uses a JSON envelope
// around a dynamically-typed sketch) because Go's sketch type already has an
// efficient binary codec; see DESIGN.md.
func SerializeHLL(s *hyperloglog.Sketch) ([]byte, error) {
	body, err := s.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("tracker: marshal hll: %w", err)
	}
	out := make([]byte, 0, 4+len(body))
	out = append(out, hllMagic[:]...)
	out = append(out, body...)
	return out, nil
}

// DeserializeHLL reverses SerializeHLL.
func DeserializeHLL(b []byte) (*hyperloglog.Sketch, error) {
	if len(b) < 4 || !bytes.Equal(b[:4], hllMagic[:]) {
		return nil, fmt.Errorf("tracker: not an hll blob")
	}
	s := hyperloglog.New()
	if err := s.UnmarshalBinary(b[4:]); err != nil {
		return nil, fmt.Errorf("tracker: unmarshal hll: %w", err)
	}
	return s, nil
}

// MergeHLL merges two serialized sketches via element-wise register-max.
func MergeHLL(existing, incoming []byte) ([]byte, error) {
	a, err := DeserializeHLL(existing)
	if err != nil {
		return nil, err
	}
	b, err := DeserializeHLL(incoming)
	if err != nil {
		return nil, err
	}
	if err := a.Merge(b); err != nil {
		return nil, fmt.Errorf("tracker: merge hll: %w", err)
	}
	return SerializeHLL(a)
}
