package mixer

import (
	"math"
	"sync"
)

// AEC is a rolling-correlation residual canceller. It keeps a short history
// of recently rendered (played-back) samples and, for each capture chunk,
// searches the history for the best-correlated lag and subtracts a
// magnitude-scaled copy of the matched render segment. This is the same
// family of technique as a correlation-based echo suppressor, adapted from
// a mute decision to a subtractive one so it satisfies the mixer's
// `aec(capture) -> capture'` arithmetic contract (see SPEC_FULL.md §4.A.1).
type AEC struct {
	mu sync.Mutex

	channels   int
	sampleRate int

	renderHistory     []float32
	maxHistorySamples int

	threshold float64
	enabled   bool
}

// NewAEC constructs an AEC bound to the given sample rate and channel count.
// A 250ms render history is kept: enough to cover one 10ms capture frame
// plus a generous delay-search window for typical playback-to-mic latency.
func NewAEC(sampleRate, channels int) *AEC {
	if channels <= 0 {
		channels = 1
	}
	const historyMs = 250
	return &AEC{
		channels:          channels,
		sampleRate:        sampleRate,
		maxHistorySamples: sampleRate * channels * historyMs / 1000,
		threshold:         0.55,
		enabled:           true,
	}
}

// PushRender appends newly rendered samples to the AEC's history. Must be
// called before the matching capture chunk is processed (the mixer's
// ordering guarantee, spec §4.A).
func (a *AEC) PushRender(frame []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(frame) == 0 {
		return
	}
	a.renderHistory = append(a.renderHistory, frame...)
	if over := len(a.renderHistory) - a.maxHistorySamples; over > 0 {
		a.renderHistory = a.renderHistory[over:]
	}
}

// Process cancels echo from a capture chunk. On any internal failure it
// returns the original chunk unchanged and a non-nil error so the caller
// can substitute raw capture per spec §4.A / §7.
func (a *AEC) Process(capture []float32) ([]float32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]float32, len(capture))
	copy(out, capture)

	if !a.enabled || len(capture) == 0 || len(a.renderHistory) < len(capture) {
		return out, nil
	}

	compareLen := len(capture)
	inEnergy := energy(capture)
	if inEnergy == 0 {
		return out, nil
	}

	stride := compareLen / 4
	if stride < 8 {
		stride = 8
	}

	searchRange := len(a.renderHistory) - compareLen + 1
	bestCorr := 0.0
	bestPos := -1
	bestDot := 0.0
	bestSegEnergy := 0.0

	for pos := 0; pos < searchRange; pos += stride {
		seg := a.renderHistory[pos : pos+compareLen]
		segEnergy := energy(seg)
		if segEnergy == 0 {
			continue
		}
		dot := dotProduct(capture, seg)
		corr := dot / math.Sqrt(inEnergy*segEnergy)
		if corr > bestCorr {
			bestCorr = corr
			bestPos = pos
			bestDot = dot
			bestSegEnergy = segEnergy
			if bestCorr >= 0.999 {
				break
			}
		}
	}

	if bestPos < 0 || bestCorr < a.threshold {
		return out, nil
	}

	matched := a.renderHistory[bestPos : bestPos+compareLen]
	scale := bestDot / bestSegEnergy
	for i := range out {
		out[i] = capture[i] - float32(scale)*matched[i]
	}
	return out, nil
}

// SetThreshold adjusts echo-detection sensitivity in [0,1].
func (a *AEC) SetThreshold(threshold float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if threshold >= 0 && threshold <= 1 {
		a.threshold = threshold
	}
}

// SetEnabled toggles cancellation; a disabled AEC passes capture through.
func (a *AEC) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// Reset clears the render history, e.g. after a render-drought drop.
func (a *AEC) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.renderHistory = a.renderHistory[:0]
}

func energy(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum
}

func dotProduct(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
