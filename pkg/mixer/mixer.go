// Package mixer implements the Mixer/AEC stage (spec §4.A): it consumes up
// to two raw streams (a render/loopback stream and a capture/microphone
// stream), frames the render stream into the AEC immediately on arrival,
// and produces one mixed or echo-cancelled output chunk per matched
// capture chunk.
package mixer

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// RecordingMode selects how the mixer combines capture and render when two
// streams are active.
type RecordingMode int32

const (
	ModeMixed RecordingMode = iota
	ModeEchoCancel
)

// FrameMs is the fixed AEC processing quantum (spec §4.A / glossary).
const FrameMs = 10

// RenderDroughtGrace is how long held capture chunks wait for a matching
// render chunk before being dropped (spec §7 "Render drought").
const RenderDroughtGrace = time.Second

// Mixer implements the A-stage wiring described above. It is driven by a
// single owner goroutine (the Audio Loop); aecEnabled and mode are the only
// fields read from other goroutines, so they are atomics.
type Mixer struct {
	sampleRate   int
	channels     int
	frameSamples int // 480 * channels at 48kHz

	aecEnabled atomic.Bool
	mode       atomic.Int32

	mu sync.Mutex

	numStreams int
	aec        *AEC

	captureAccum []float32
	renderAccum  []float32

	captureQueue [][]float32
	renderQueue  [][]float32

	captureQueuedAt []time.Time
}

// New constructs a Mixer for the given sample rate and channel count.
// numStreams (0, 1 or 2) selects the configuration per spec §4.A; it can be
// changed later with SetNumStreams as sources start/stop.
func New(sampleRate, channels, numStreams int) *Mixer {
	if channels <= 0 {
		channels = 1
	}
	m := &Mixer{
		sampleRate:   sampleRate,
		channels:     channels,
		frameSamples: FrameMs * sampleRate / 1000 * channels,
	}
	m.aecEnabled.Store(true)
	m.mode.Store(int32(ModeMixed))
	m.SetNumStreams(numStreams)
	return m
}

// SetNumStreams reconfigures the active-stream count (0, 1 or 2). An AEC
// instance exists iff numStreams == 2 (spec invariant).
func (m *Mixer) SetNumStreams(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numStreams = n
	if n == 2 {
		if m.aec == nil {
			m.aec = NewAEC(m.sampleRate, m.channels)
		}
	} else {
		m.aec = nil
	}
	m.captureAccum = m.captureAccum[:0]
	m.renderAccum = m.renderAccum[:0]
	m.captureQueue = nil
	m.renderQueue = nil
	m.captureQueuedAt = nil
}

// SetAECEnabled toggles AEC processing on the hot path (atomic scalar per
// spec §5).
func (m *Mixer) SetAECEnabled(enabled bool) { m.aecEnabled.Store(enabled) }

// SetMode selects Mixed or EchoCancel output composition.
func (m *Mixer) SetMode(mode RecordingMode) { m.mode.Store(int32(mode)) }

// Push feeds a raw stream frame into the mixer and returns zero or more
// produced stereo/mono output chunks, per spec §4.A.
func (m *Mixer) Push(samples []float32, isRender bool) [][]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.numStreams {
	case 0:
		return nil
	case 1:
		out := make([]float32, len(samples))
		copy(out, samples)
		return [][]float32{out}
	}

	if isRender {
		m.renderAccum = append(m.renderAccum, samples...)
		for len(m.renderAccum) >= m.frameSamples {
			chunk := append([]float32(nil), m.renderAccum[:m.frameSamples]...)
			m.renderAccum = m.renderAccum[m.frameSamples:]
			m.aec.PushRender(chunk)
			m.renderQueue = append(m.renderQueue, chunk)
		}
	} else {
		m.captureAccum = append(m.captureAccum, samples...)
		for len(m.captureAccum) >= m.frameSamples {
			chunk := append([]float32(nil), m.captureAccum[:m.frameSamples]...)
			m.captureAccum = m.captureAccum[m.frameSamples:]
			m.captureQueue = append(m.captureQueue, chunk)
			m.captureQueuedAt = append(m.captureQueuedAt, time.Now())
		}
	}

	m.dropStaleHeldCapture()
	return m.drainMatchedPairs()
}

// dropStaleHeldCapture implements the render-drought watchdog: capture
// chunks held longer than RenderDroughtGrace without a matching render
// chunk are dropped so the pipeline never stalls (spec §7).
func (m *Mixer) dropStaleHeldCapture() {
	if len(m.renderQueue) > 0 || len(m.captureQueue) == 0 {
		return
	}
	now := time.Now()
	drop := 0
	for drop < len(m.captureQueuedAt) && now.Sub(m.captureQueuedAt[drop]) > RenderDroughtGrace {
		drop++
	}
	if drop > 0 {
		m.captureQueue = m.captureQueue[drop:]
		m.captureQueuedAt = m.captureQueuedAt[drop:]
	}
}

func (m *Mixer) drainMatchedPairs() [][]float32 {
	var produced [][]float32
	for len(m.captureQueue) > 0 && len(m.renderQueue) > 0 {
		capture := m.captureQueue[0]
		render := m.renderQueue[0]
		m.captureQueue = m.captureQueue[1:]
		m.captureQueuedAt = m.captureQueuedAt[1:]
		m.renderQueue = m.renderQueue[1:]

		produced = append(produced, m.process(capture, render))
	}
	return produced
}

func (m *Mixer) process(capture, render []float32) []float32 {
	aecEnabled := m.aecEnabled.Load()
	mode := RecordingMode(m.mode.Load())

	var canceled []float32
	if aecEnabled {
		var err error
		canceled, err = m.aec.Process(capture)
		if err != nil {
			canceled = capture
		}
	}

	switch {
	case !aecEnabled && mode == ModeMixed:
		return linearMix(capture, render)
	case !aecEnabled && mode == ModeEchoCancel:
		out := make([]float32, len(capture))
		copy(out, capture)
		return out
	case aecEnabled && mode == ModeMixed:
		out := make([]float32, len(canceled))
		for i := range out {
			out[i] = softClip(canceled[i] + render[i])
		}
		return out
	default: // aecEnabled && ModeEchoCancel
		out := make([]float32, len(canceled))
		copy(out, canceled)
		return out
	}
}

func linearMix(capture, render []float32) []float32 {
	out := make([]float32, len(capture))
	for i := range out {
		out[i] = 0.5*capture[i] + 0.5*render[i]
	}
	return out
}

// softClip applies the symmetric soft-clip curve from spec §4.A.
func softClip(x float32) float32 {
	switch {
	case x > 1:
		return float32(1 - 0.5*math.Exp(-2*(float64(x)-1)))
	case x < -1:
		return float32(-1 + 0.5*math.Exp(2*(float64(x)+1)))
	default:
		return x
	}
}
