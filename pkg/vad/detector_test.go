package vad

import (
	"math"
	"testing"
)

const testSampleRate = 48000

func sineFrame(freq float64, n int, amp float64) []float32 {
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(testSampleRate)
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*t))
	}
	return out
}

func silenceFrame(n int) []float32 {
	return make([]float32, n)
}

// squareFrame alternates +amp/-amp every sample: high ZCR, high centroid,
// used to exercise the transient-rejection path.
func squareFrame(n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = amp
		} else {
			out[i] = -amp
		}
	}
	return out
}

const frameLen = 480 // 10ms @ 48kHz

// Testable property 5: onset-then-immediate-silence hysteresis. Speech
// starts after the voiced onset window (80ms) and, if followed immediately
// by silence, ends after the hold window with a duration equal to the
// onset window (no extra speech samples were ever accumulated).
func TestDetectorOnsetAndHoldHysteresis(t *testing.T) {
	d := New(testSampleRate)

	// First call only primes lookback/initialized state.
	d.Process(silenceFrame(frameLen))

	var started *StateChange
	voiceFrame := sineFrame(1000, frameLen, 0.5)
	for i := 0; i < 8; i++ {
		change, _ := d.Process(voiceFrame)
		if change.Kind == ChangeStarted {
			c := change
			started = &c
		}
	}
	if started == nil {
		t.Fatalf("expected Started after 8 onset frames (80ms)")
	}
	if started.LookbackSamples <= 0 {
		t.Fatalf("expected positive lookback sample count, got %d", started.LookbackSamples)
	}

	var ended *StateChange
	quiet := silenceFrame(frameLen)
	for i := 0; i < 30; i++ { // 300ms hold window
		change, _ := d.Process(quiet)
		if change.Kind == ChangeEnded {
			c := change
			ended = &c
			break
		}
	}
	if ended == nil {
		t.Fatalf("expected Ended after hold window elapses in silence")
	}
	if ended.DurationMs < 80 || ended.DurationMs > 100 {
		t.Fatalf("expected duration in [80,100]ms, got %d", ended.DurationMs)
	}
}

// Testable property 6: a transient burst (high ZCR, high spectral
// surrogate) never accumulates onset and never starts speech.
func TestDetectorRejectsTransient(t *testing.T) {
	d := New(testSampleRate)
	d.Process(silenceFrame(frameLen))

	burst := squareFrame(frameLen, 1.0)
	for i := 0; i < 40; i++ {
		change, _ := d.Process(burst)
		if change.Kind != ChangeNone {
			t.Fatalf("transient burst must never trigger a state change, got %+v at frame %d", change, i)
		}
	}
	m := d.Metrics()
	if !m.IsTransient {
		t.Fatalf("expected last frame to be flagged transient")
	}
	if m.Speaking {
		t.Fatalf("detector must not be speaking after only transient input")
	}
}

// Testable property 7: on speech start, the lookback scan reports a
// non-trivial span back into louder preceding audio rather than 0.
func TestDetectorLookbackSpan(t *testing.T) {
	d := New(testSampleRate)
	d.Process(silenceFrame(frameLen))

	voiceFrame := sineFrame(1000, frameLen, 0.5)
	var started *StateChange
	for i := 0; i < 8; i++ {
		change, _ := d.Process(voiceFrame)
		if change.Kind == ChangeStarted {
			c := change
			started = &c
			break
		}
	}
	if started == nil {
		t.Fatalf("expected Started")
	}
	// All fed frames were loud, so the scan should walk back across the
	// full onset run plus the 20ms margin, capped by what's been pushed so
	// far into the lookback ring.
	if started.LookbackSamples < frameLen {
		t.Fatalf("expected lookback to span at least one frame, got %d", started.LookbackSamples)
	}
	if started.LookbackSamples > testSampleRate*200/1000 {
		t.Fatalf("lookback must never exceed the 200ms ring capacity, got %d", started.LookbackSamples)
	}
}

// Testable property 8: a brief intra-speech dip bounded within
// [15ms,200ms] is reported as a word break once matching speech resumes.
func TestDetectorWordBreakEmission(t *testing.T) {
	d := New(testSampleRate)
	d.Process(silenceFrame(frameLen))

	voiceFrame := sineFrame(1000, frameLen, 0.5)
	for i := 0; i < 8; i++ {
		d.Process(voiceFrame)
	}

	// A few more matching frames so the rolling speech-amplitude average is
	// populated before the dip.
	for i := 0; i < 3; i++ {
		d.Process(voiceFrame)
	}

	quiet := silenceFrame(frameLen)
	for i := 0; i < 3; i++ { // 30ms gap, within [15,200]ms
		change, wb := d.Process(quiet)
		if change.Kind == ChangeEnded {
			t.Fatalf("30ms gap must not trigger Ended (hold is 300ms)")
		}
		if wb != nil {
			t.Fatalf("word break must only be reported once matching speech resumes")
		}
	}

	_, wb := d.Process(voiceFrame)
	if wb == nil {
		t.Fatalf("expected a word-break event once speech resumed after the gap")
	}
	if wb.GapDurationMs < 15 || wb.GapDurationMs > 200 {
		t.Fatalf("expected gap duration in [15,200]ms, got %d", wb.GapDurationMs)
	}
	if wb.OffsetMs < 80 {
		t.Fatalf("expected offset at or beyond the onset window, got %d", wb.OffsetMs)
	}
}

func TestZeroCrossingRateFormula(t *testing.T) {
	// Alternating sign every sample: all (n-1) adjacent pairs cross.
	samples := squareFrame(10, 1.0)
	got := computeZCR(samples)
	if math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("expected ZCR 1.0 for a full alternating sequence, got %f", got)
	}
}
