// Package viz implements the Visualization Processor (spec §4.C): a
// downsampled waveform feed plus a log-frequency, color-mapped spectrogram
// column. Payloads carry no VAD metrics.
package viz

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

const (
	fftSize           = 512
	spectrogramRows   = 256
	waveformBatchSize = 64
	minFreqHz         = 20
	maxFreqHz         = 24000
	lutGamma          = 0.7
)

// Payload is one emission of the visualization stream.
type Payload struct {
	Waveform          []float32 // peak-downsampled, sign preserved
	SpectrogramColumn []float32 // 256 rows, normalized to [0,1], log-frequency axis
}

// Processor accumulates mono samples into waveform batches and a 512-sample
// FFT window, emitting a Payload whenever either is ready.
type Processor struct {
	sampleRate int

	waveformPending []float32

	fftPending []float64
	binToRow   []int // precomputed bin->row mapping for the configured sample rate

	lut [256]Color
}

// Color is an RGB triple for the spectrogram color LUT.
type Color struct {
	R, G, B uint8
}

// New constructs a Processor for the given sample rate, precomputing the
// log-frequency bin→row mapping and the gamma color LUT once.
func New(sampleRate int) *Processor {
	p := &Processor{sampleRate: sampleRate}
	p.binToRow = buildBinToRowMap(sampleRate, fftSize/2, spectrogramRows)
	p.lut = buildColorLUT()
	return p
}

// Process consumes a mono frame and returns zero or more payloads: the
// waveform and spectrogram channels batch independently and are combined
// into a single Payload whenever a batch boundary is crossed, per spec
// §4.C's "accumulates two streams and emits one VizPayload" contract.
func (p *Processor) Process(monoFrame []float32) []Payload {
	var out []Payload

	p.waveformPending = append(p.waveformPending, monoFrame...)
	var waveform []float32
	for len(p.waveformPending) >= waveformBatchSize {
		waveform = append(waveform, peakDownsample(p.waveformPending[:waveformBatchSize])...)
		p.waveformPending = p.waveformPending[waveformBatchSize:]
	}

	var column []float32
	for _, s := range monoFrame {
		p.fftPending = append(p.fftPending, float64(s))
		if len(p.fftPending) == fftSize {
			column = p.computeSpectrogramColumn(p.fftPending)
			p.fftPending = p.fftPending[:0]
		}
	}

	if waveform != nil || column != nil {
		out = append(out, Payload{Waveform: waveform, SpectrogramColumn: column})
	}
	return out
}

// peakDownsample reduces a batch to one sample, the maximum-magnitude
// sample in the batch, preserving its sign (spec §4.C).
func peakDownsample(batch []float32) []float32 {
	peak := batch[0]
	peakAbs := float32(math.Abs(float64(peak)))
	for _, s := range batch[1:] {
		a := float32(math.Abs(float64(s)))
		if a > peakAbs {
			peak = s
			peakAbs = a
		}
	}
	return []float32{peak}
}

// computeSpectrogramColumn applies a Hann window, computes the FFT
// magnitudes of the first half, maps them onto a log-frequency 256-row
// axis, and normalizes per spec §4.C. Each row is the plain mean of the bins
// whose center frequency maps to it; bins are not split across rows, and a
// row that no bin maps to stays at 0.
func (p *Processor) computeSpectrogramColumn(samples []float64) []float32 {
	n := len(samples)
	input := make([]complex128, n)
	for i, s := range samples {
		window := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		input[i] = complex(s*window, 0)
	}

	output := fft.FFT(input)
	halfSize := n / 2
	magnitudes := make([]float64, halfSize)
	for i := 0; i < halfSize; i++ {
		magnitudes[i] = cmplx.Abs(output[i]) / float64(n)
	}

	rowSum := make([]float64, spectrogramRows)
	rowWeight := make([]float64, spectrogramRows)
	peak := 0.0
	for bin, row := range p.binToRow {
		if row < 0 {
			continue
		}
		mag := magnitudes[bin]
		rowSum[row] += mag
		rowWeight[row]++
		if mag > peak {
			peak = mag
		}
	}

	ref := math.Max(peak, 0.05)
	column := make([]float32, spectrogramRows)
	for row := 0; row < spectrogramRows; row++ {
		mag := 0.0
		if rowWeight[row] > 0 {
			mag = rowSum[row] / rowWeight[row]
		}
		norm := math.Log10(1 + (mag/ref)*9)
		if norm < 0 {
			norm = 0
		}
		if norm > 1 {
			norm = 1
		}
		column[row] = float32(norm)
	}
	return column
}

// ColorAt quantizes a normalized [0,1] spectrogram value into the
// precomputed 256-entry gamma color LUT (spec §4.C).
func (p *Processor) ColorAt(norm float32) Color {
	idx := int(norm * float32(len(p.lut)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.lut) {
		idx = len(p.lut) - 1
	}
	return p.lut[idx]
}

// buildBinToRowMap maps each FFT bin (0..halfSize-1) to a row on a
// log-frequency axis spanning [minFreqHz, maxFreqHz], or -1 if the bin's
// frequency falls outside that range.
func buildBinToRowMap(sampleRate, halfSize, rows int) []int {
	m := make([]int, halfSize)
	logMin := math.Log10(minFreqHz)
	logMax := math.Log10(maxFreqHz)
	for bin := 0; bin < halfSize; bin++ {
		freq := float64(bin) * float64(sampleRate) / float64(fftSize)
		if freq < minFreqHz || freq > maxFreqHz {
			m[bin] = -1
			continue
		}
		frac := (math.Log10(freq) - logMin) / (logMax - logMin)
		row := int(frac * float64(rows-1))
		if row < 0 {
			row = 0
		}
		if row >= rows {
			row = rows - 1
		}
		m[bin] = row
	}
	return m
}

// buildColorLUT builds a 256-entry gamma-corrected color ramp across 6
// stops, background (silence) through to red (peak energy).
func buildColorLUT() [256]Color {
	stops := []Color{
		{0x06, 0x08, 0x12}, // background
		{0x10, 0x2a, 0x6b}, // deep blue
		{0x1f, 0x6f, 0xb8}, // blue
		{0x2e, 0xc4, 0x9a}, // teal-green
		{0xf2, 0xc1, 0x2e}, // amber
		{0xe8, 0x2d, 0x2d}, // red
	}
	var lut [256]Color
	segments := len(stops) - 1
	for i := 0; i < 256; i++ {
		t := math.Pow(float64(i)/255, lutGamma)
		pos := t * float64(segments)
		seg := int(pos)
		if seg >= segments {
			seg = segments - 1
		}
		frac := pos - float64(seg)
		a, b := stops[seg], stops[seg+1]
		lut[i] = Color{
			R: lerpByte(a.R, b.R, frac),
			G: lerpByte(a.G, b.G, frac),
			B: lerpByte(a.B, b.B, frac),
		}
	}
	return lut
}

func lerpByte(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}
