package tracker

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/influxdata/tdigest"
)

// SerializeTDigest encodes a digest as: little-endian u64 centroid count,
// followed by count * {f64 mean, f64 weight}. Deserialization is strict on
// length — a short or truncated blob is rejected rather than silently
// truncated.
func SerializeTDigest(d *tdigest.TDigest) []byte {
	var means, weights []float64
	d.ForEachCentroid(func(mean, weight float64) bool {
		means = append(means, mean)
		weights = append(weights, weight)
		return true
	})

	buf := make([]byte, 8+16*len(means))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(means)))
	for i := range means {
		off := 8 + i*16
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(means[i]))
		binary.LittleEndian.PutUint64(buf[off+8:off+16], math.Float64bits(weights[i]))
	}
	return buf
}

// DeserializeTDigest rebuilds a digest from SerializeTDigest's wire format.
func DeserializeTDigest(b []byte) (*tdigest.TDigest, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("tracker: t-digest blob too short: %d bytes", len(b))
	}
	count := binary.LittleEndian.Uint64(b[0:8])
	want := 8 + int(count)*16
	if len(b) < want {
		return nil, fmt.Errorf("tracker: t-digest blob truncated: want %d have %d", want, len(b))
	}

	td := tdigest.New()
	for i := uint64(0); i < count; i++ {
		off := 8 + int(i)*16
		mean := math.Float64frombits(binary.LittleEndian.Uint64(b[off : off+8]))
		weight := math.Float64frombits(binary.LittleEndian.Uint64(b[off+8 : off+16]))
		td.Add(mean, weight)
	}
	return td, nil
}

// MergeTDigests merges two serialized digests by deserializing both into a
// single digest via the library's centroid-union Merge and re-serializing.
func MergeTDigests(existing, incoming []byte) ([]byte, error) {
	a, err := DeserializeTDigest(existing)
	if err != nil {
		return nil, err
	}
	b, err := DeserializeTDigest(incoming)
	if err != nil {
		return nil, err
	}
	a.Merge(b)
	return SerializeTDigest(a), nil
}
