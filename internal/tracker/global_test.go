package tracker

import (
	"math"
	"testing"

	"github.com/influxdata/tdigest"
)

// TestCountMergeAcrossWorkers exercises the "count per level" scenario: four
// independent worker trackers each count a subset of events, and merging
// their deltas into one GlobalTracker must equal counting everything on a
// single worker.
func TestCountMergeAcrossWorkers(t *testing.T) {
	gt := New()
	perWorker := []int64{25, 25, 25, 25}
	for _, n := range perWorker {
		wt := NewWorkerTracker()
		for i := int64(0); i < n; i++ {
			wt.User.Count("events", 1)
		}
		delta, ops := wt.Delta()
		gt.MergeUser(delta, ops)
	}
	user, _, _ := gt.Snapshot()
	got, ok := user["events"].(int64)
	if !ok {
		t.Fatalf("expected int64 count, got %T", user["events"])
	}
	if got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
}

func TestBucketMergeAcrossWorkers(t *testing.T) {
	gt := New()
	levels := [][]string{
		{"INFO", "INFO", "WARN"},
		{"ERROR", "INFO"},
	}
	for _, batch := range levels {
		wt := NewWorkerTracker()
		for _, lvl := range batch {
			wt.User.Bucket("by_level", lvl, 1)
		}
		delta, ops := wt.Delta()
		gt.MergeUser(delta, ops)
	}
	user, _, _ := gt.Snapshot()
	buckets, ok := user["by_level"].(map[string]int64)
	if !ok {
		t.Fatalf("expected map[string]int64, got %T", user["by_level"])
	}
	if buckets["INFO"] != 3 || buckets["WARN"] != 1 || buckets["ERROR"] != 1 {
		t.Fatalf("unexpected bucket merge: %+v", buckets)
	}
}

// TestTakeLimitAcrossWorkers mirrors the take-limit-across-4-workers scenario
// at the tracker level: each worker's count delta should sum regardless of
// how unevenly work was split between them.
func TestTakeLimitAcrossWorkers(t *testing.T) {
	gt := New()
	splits := []int64{40, 10, 0, 5}
	for _, n := range splits {
		wt := NewWorkerTracker()
		for i := int64(0); i < n; i++ {
			wt.User.Count("emitted", 1)
		}
		delta, ops := wt.Delta()
		gt.MergeUser(delta, ops)
	}
	user, _, _ := gt.Snapshot()
	if user["emitted"].(int64) != 55 {
		t.Fatalf("expected 55, got %v", user["emitted"])
	}
}

func TestAvgMergePreservesExactMean(t *testing.T) {
	gt := New()
	values := [][]float64{
		{10, 20, 30},
		{5},
		{100, 200},
	}
	var wantSum float64
	var wantCount int64
	for _, batch := range values {
		wt := NewWorkerTracker()
		for _, v := range batch {
			wt.User.Avg("latency", v)
			wantSum += v
			wantCount++
		}
		delta, ops := wt.Delta()
		gt.MergeUser(delta, ops)
	}
	user, _, _ := gt.Snapshot()
	got, ok := user["latency"].(AvgState)
	if !ok {
		t.Fatalf("expected AvgState, got %T", user["latency"])
	}
	if got.Sum != wantSum || got.Count != wantCount {
		t.Fatalf("expected sum=%v count=%d, got sum=%v count=%d", wantSum, wantCount, got.Sum, got.Count)
	}
	mean := got.Sum / float64(got.Count)
	wantMean := wantSum / float64(wantCount)
	if mean != wantMean {
		t.Fatalf("expected mean %v, got %v", wantMean, mean)
	}
}

func TestMinMaxMergeAcrossWorkers(t *testing.T) {
	gt := New()
	batches := [][]float64{
		{5, 3, 9},
		{1, 42},
	}
	for _, batch := range batches {
		wt := NewWorkerTracker()
		for _, v := range batch {
			wt.User.Min("min_latency", v, true)
			wt.User.Max("max_latency", v, true)
		}
		delta, ops := wt.Delta()
		gt.MergeUser(delta, ops)
	}
	user, _, _ := gt.Snapshot()
	if user["min_latency"].(int64) != 1 {
		t.Fatalf("expected min 1, got %v", user["min_latency"])
	}
	if user["max_latency"].(int64) != 42 {
		t.Fatalf("expected max 42, got %v", user["max_latency"])
	}
}

func TestUniqueMergeAcrossWorkers(t *testing.T) {
	gt := New()
	batches := [][]string{
		{"a", "b", "a"},
		{"b", "c"},
	}
	for _, batch := range batches {
		wt := NewWorkerTracker()
		for _, v := range batch {
			wt.User.Unique("hosts", v)
		}
		delta, ops := wt.Delta()
		gt.MergeUser(delta, ops)
	}
	user, _, _ := gt.Snapshot()
	got, ok := user["hosts"].([]string)
	if !ok {
		t.Fatalf("expected []string, got %T", user["hosts"])
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 unique hosts, got %v", got)
	}
}

func TestTopNMergeAcrossWorkers(t *testing.T) {
	gt := New()
	wt1 := NewWorkerTracker()
	wt1.User.TopCount("ip", 2, "1.1.1.1", 5)
	wt1.User.TopCount("ip", 2, "2.2.2.2", 3)
	d1, o1 := wt1.Delta()
	gt.MergeUser(d1, o1)

	wt2 := NewWorkerTracker()
	wt2.User.TopCount("ip", 2, "1.1.1.1", 2)
	wt2.User.TopCount("ip", 2, "3.3.3.3", 10)
	d2, o2 := wt2.Delta()
	gt.MergeUser(d2, o2)

	user, _, _ := gt.Snapshot()
	items, ok := user["ip"].([]TopItem)
	if !ok {
		t.Fatalf("expected []TopItem, got %T", user["ip"])
	}
	if len(items) != 2 {
		t.Fatalf("expected top-2 truncation, got %d items", len(items))
	}
	if items[0].Key != "3.3.3.3" || items[0].Count != 10 {
		t.Fatalf("expected 3.3.3.3 leading with 10, got %+v", items[0])
	}
	if items[1].Key != "1.1.1.1" || items[1].Count != 7 {
		t.Fatalf("expected 1.1.1.1 second with merged count 7, got %+v", items[1])
	}
}

// TestPercentileMergeAccuracy mirrors the 1..1000 split-round-robin-across-4-
// workers scenario: every worker's t-digest should merge into a combined
// digest whose median is close to the true median of 1..1000.
func TestPercentileMergeAccuracy(t *testing.T) {
	const workers = 4
	gt := New()
	for w := 0; w < workers; w++ {
		wt := NewWorkerTracker()
		for v := w + 1; v <= 1000; v += workers {
			wt.User.Percentile("latency_p", float64(v))
		}
		delta, ops := wt.Delta()
		gt.MergeUser(delta, ops)
	}
	user, _, _ := gt.Snapshot()
	blob, ok := user["latency_p"].([]byte)
	if !ok {
		t.Fatalf("expected []byte digest, got %T", user["latency_p"])
	}
	d, err := DeserializeTDigest(blob)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	median := d.Quantile(0.5)
	if math.Abs(median-500.5) > 15 {
		t.Fatalf("expected median near 500.5, got %v", median)
	}
}

func TestCardinalityMergeAcrossWorkers(t *testing.T) {
	gt := New()
	batches := [][]string{
		{"u1", "u2", "u1", "u3"},
		{"u4", "u2", "u5"},
	}
	for _, batch := range batches {
		wt := NewWorkerTracker()
		for _, v := range batch {
			wt.User.Cardinality("unique_users", v)
		}
		delta, ops := wt.Delta()
		gt.MergeUser(delta, ops)
	}
	user, _, _ := gt.Snapshot()
	blob, ok := user["unique_users"].([]byte)
	if !ok {
		t.Fatalf("expected []byte sketch, got %T", user["unique_users"])
	}
	sk, err := DeserializeHLL(blob)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	est := sk.Estimate()
	if est < 3 || est > 7 {
		t.Fatalf("expected cardinality estimate near 5, got %d", est)
	}
}

func TestErrorExamplesMergeCapsAtThree(t *testing.T) {
	gt := New()
	batches := [][]string{
		{"err: timeout", "err: timeout", "err: refused"},
		{"err: refused", "err: oom", "err: disk full"},
	}
	for _, batch := range batches {
		wt := NewWorkerTracker()
		for _, v := range batch {
			wt.User.ErrorExample("errors", v)
		}
		delta, ops := wt.Delta()
		gt.MergeUser(delta, ops)
	}
	user, _, _ := gt.Snapshot()
	got, ok := user["errors"].([]string)
	if !ok {
		t.Fatalf("expected []string, got %T", user["errors"])
	}
	if len(got) > 3 {
		t.Fatalf("expected at most 3 examples, got %d: %v", len(got), got)
	}
}

// TestOneWorkerVsFourWorkersEquivalence is the literal 1-worker-vs-N-workers
// final-state equivalence scenario from the testable properties: the same
// input split across a different number of workers must reach the same
// merged state.
func TestOneWorkerVsFourWorkersEquivalence(t *testing.T) {
	values := make([]float64, 0, 200)
	for i := 1; i <= 200; i++ {
		values = append(values, float64(i))
	}

	runWith := func(workers int) (int64, float64, int64) {
		gt := New()
		for w := 0; w < workers; w++ {
			wt := NewWorkerTracker()
			for i := w; i < len(values); i += workers {
				wt.User.Count("n", 1)
				wt.User.Sum("total", values[i])
				wt.User.Max("max", values[i], true)
			}
			delta, ops := wt.Delta()
			gt.MergeUser(delta, ops)
		}
		user, _, _ := gt.Snapshot()
		return user["n"].(int64), user["total"].(float64), user["max"].(int64)
	}

	wantN, wantSum, wantMax := runWith(1)
	gotN, gotSum, gotMax := runWith(4)
	if wantN != gotN || wantSum != gotSum || wantMax != gotMax {
		t.Fatalf("1-worker vs 4-worker mismatch: (%d,%v,%d) vs (%d,%v,%d)",
			wantN, wantSum, wantMax, gotN, gotSum, gotMax)
	}
}

func TestOperationTagFirstWriteWins(t *testing.T) {
	wt := NewWorkerTracker()
	wt.User.Count("x", 1)
	wt.User.Replace("x", "overwritten-but-tag-should-stay-count")
	if wt.User.opOf("x") != OpCount {
		t.Fatalf("expected first-write-wins to keep OpCount, got %v", wt.User.opOf("x"))
	}
}

func TestTDigestSerializeRoundTrip(t *testing.T) {
	d := tdigest.New()
	for i := 1; i <= 100; i++ {
		d.Add(float64(i), 1)
	}
	blob := SerializeTDigest(d)
	back, err := DeserializeTDigest(blob)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if math.Abs(back.Quantile(0.5)-d.Quantile(0.5)) > 0.001 {
		t.Fatalf("round-trip median drift: %v vs %v", back.Quantile(0.5), d.Quantile(0.5))
	}
}

func TestHLLSerializeRoundTrip(t *testing.T) {
	sk := NewSketch()
	for _, v := range []string{"a", "b", "c", "a"} {
		sk.InsertHash(HashItem(v))
	}
	blob, err := SerializeHLL(sk)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	back, err := DeserializeHLL(blob)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if back.Estimate() != sk.Estimate() {
		t.Fatalf("round-trip estimate mismatch: %d vs %d", back.Estimate(), sk.Estimate())
	}
}

func TestDeserializeHLLRejectsForeignBlob(t *testing.T) {
	if _, err := DeserializeHLL([]byte("not an hll blob at all")); err == nil {
		t.Fatal("expected error for non-HLL blob")
	}
}

func TestInternalDeltaDiffsAdditiveKeysOnly(t *testing.T) {
	wt := NewWorkerTracker()
	wt.Internal.Count("lines", 5)
	wt.Internal.Replace("last_level", "INFO")
	before := wt.BeforeInternal()

	wt.Internal.Count("lines", 3)
	wt.Internal.Replace("last_level", "WARN")

	delta, ops := wt.InternalDelta(before)
	if delta["lines"].(int64) != 3 {
		t.Fatalf("expected additive diff of 3, got %v", delta["lines"])
	}
	if delta["last_level"].(string) != "WARN" {
		t.Fatalf("expected absolute snapshot WARN, got %v", delta["last_level"])
	}
	if ops["lines"] != OpCount {
		t.Fatalf("expected OpCount, got %v", ops["lines"])
	}
}

func TestInternalDeltaOmitsZeroDiff(t *testing.T) {
	wt := NewWorkerTracker()
	wt.Internal.Count("lines", 5)
	before := wt.BeforeInternal()
	delta, _ := wt.InternalDelta(before)
	if _, ok := delta["lines"]; ok {
		t.Fatalf("expected zero-diff key to be omitted, got %v", delta["lines"])
	}
}
