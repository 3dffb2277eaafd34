package segment

import "testing"

// Testable property 1: for any capacity, any start, any write sequence
// summing to W < capacity, Extract(start) returns exactly W of the most
// recent samples in write order, contiguous even across the seam.
func TestRingWrapCorrectness(t *testing.T) {
	const capacity = 16
	r := New(capacity)

	// Prime the ring so writePos starts mid-buffer, forcing the next
	// extraction to cross the seam.
	r.Write(make([]float32, 10))

	start := r.WritePos()
	written := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}
	r.Write(written) // 14 < capacity, crosses the seam (10+14=24 > 16)

	got := r.Extract(start)
	if len(got) != len(written) {
		t.Fatalf("expected %d samples, got %d", len(written), len(got))
	}
	for i, v := range written {
		if got[i] != v {
			t.Fatalf("sample %d: want %v got %v", i, v, got[i])
		}
	}
}

func TestRingSegmentLengthAndOverflow(t *testing.T) {
	const capacity = 90
	r := New(capacity)
	r.Write(make([]float32, 30))
	start := r.WritePos()

	r.Write(make([]float32, 89)) // W = capacity-1, crosses the seam
	if got := r.SegmentLength(start); got != 89 {
		t.Fatalf("expected segment length 89, got %d", got)
	}
	if !r.ApproachingOverflow(start) {
		t.Fatalf("expected approaching-overflow at 89/90")
	}

	extracted := r.Extract(start)
	if len(extracted) != 89 {
		t.Fatalf("expected 89 extracted samples, got %d", len(extracted))
	}
}

func TestRingIndexFromLookback(t *testing.T) {
	r := New(10)
	r.Write(make([]float32, 7))
	idx := r.IndexFromLookback(3)
	if idx != 4 {
		t.Fatalf("expected idx 4, got %d", idx)
	}
	// n >= capacity clamps to writePos.
	if got := r.IndexFromLookback(20); got != r.WritePos() {
		t.Fatalf("expected clamp to writePos, got %d want %d", got, r.WritePos())
	}
}
