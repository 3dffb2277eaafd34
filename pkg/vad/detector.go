// Package vad implements the dual-mode speech detector (spec §4.B):
// per-frame feature extraction, voiced/whisper onset and offset state
// machines, lookback scan on speech start, and intra-speech word-break
// detection. The algorithm, its constants, and its exact control flow are
// ported from the reference service's SpeechDetector (processor.rs) since
// spec.md itself only summarizes the behavior in prose.
package vad

import "math"

// ChangeKind enumerates the StateChange variants.
type ChangeKind int

const (
	ChangeNone ChangeKind = iota
	ChangeStarted
	ChangeEnded
)

// StateChange is emitted at most once per Process call.
type StateChange struct {
	Kind            ChangeKind
	LookbackSamples int // valid when Kind == ChangeStarted
	DurationMs      int // valid when Kind == ChangeEnded
}

// WordBreakEvent is emitted at most once per Process call, only while
// speaking.
type WordBreakEvent struct {
	OffsetMs      int
	GapDurationMs int
}

// Metrics mirrors the reference service's per-frame metrics snapshot,
// readable via Detector.Metrics. The Visualization Processor does not
// consume it.
type Metrics struct {
	AmplitudeDB        float64
	ZCR                float64
	CentroidHz         float64
	Speaking           bool
	VoicedOnsetPending bool
	WhisperOnsetPending bool
	IsTransient        bool
	IsLookbackSpeech   bool
	IsWordBreak        bool
}

// modeConfig is one row of the classification table (spec §4.B).
type modeConfig struct {
	thresholdDB              float64
	zcrMin, zcrMax           float64
	centroidMin, centroidMax float64
	onsetSamples             int
}

func matches(c modeConfig, db, zcr, centroid float64) bool {
	return db >= c.thresholdDB &&
		zcr >= c.zcrMin && zcr <= c.zcrMax &&
		centroid >= c.centroidMin && centroid <= c.centroidMax
}

// Detector is the dual-mode VAD. It is not safe for concurrent use; the
// Audio Loop is its sole owner (spec §5).
type Detector struct {
	sampleRate int

	voiced  modeConfig
	whisper modeConfig

	transientZCRThreshold      float64
	transientCentroidThreshold float64

	holdSamples        int
	onsetGraceSamples  int

	isSpeaking       bool
	isPendingVoiced  bool
	isPendingWhisper bool
	voicedOnsetCount  int
	whisperOnsetCount int
	silenceSampleCount int
	speechSampleCount  int
	voicedGraceCount  int
	whisperGraceCount int

	initialized bool

	lastAmplitudeDB float64
	lastZCR         float64
	lastCentroidHz  float64
	lastIsTransient bool

	// lookback ring buffer
	lookbackBuffer    []float32
	lookbackWriteIdx  int
	lookbackCapacity  int
	lookbackFilled    bool
	lookbackThresholdDB float64

	// word-break detection
	wordBreakThresholdRatio   float64
	minWordBreakSamples       int
	maxWordBreakSamples       int
	recentSpeechWindowSamples int
	recentSpeechAmplitudeSum   float64
	recentSpeechAmplitudeCount int
	inWordBreak               bool
	wordBreakSampleCount      int
	wordBreakStartSpeechSamples int
	lastIsWordBreak           bool
}

// New constructs a Detector for the given sample rate, converting the
// spec's millisecond constants to sample counts once at construction.
func New(sampleRate int) *Detector {
	lookbackCapacity := sampleRate * 200 / 1000

	d := &Detector{
		sampleRate: sampleRate,
		voiced: modeConfig{
			thresholdDB: -42, zcrMin: 0.01, zcrMax: 0.30,
			centroidMin: 200, centroidMax: 5500,
			onsetSamples: sampleRate * 80 / 1000,
		},
		whisper: modeConfig{
			thresholdDB: -52, zcrMin: 0.08, zcrMax: 0.45,
			centroidMin: 300, centroidMax: 7000,
			onsetSamples: sampleRate * 120 / 1000,
		},
		transientZCRThreshold:      0.45,
		transientCentroidThreshold: 6500,
		holdSamples:                sampleRate * 300 / 1000,
		onsetGraceSamples:          sampleRate * 30 / 1000,

		lastAmplitudeDB: math.Inf(-1),

		lookbackCapacity:    lookbackCapacity,
		lookbackThresholdDB: -55,

		wordBreakThresholdRatio:   0.5,
		minWordBreakSamples:       sampleRate * 15 / 1000,
		maxWordBreakSamples:       sampleRate * 200 / 1000,
		recentSpeechWindowSamples: sampleRate * 100 / 1000,
	}
	d.lookbackBuffer = make([]float32, lookbackCapacity)
	return d
}

// Metrics returns the most recently computed per-frame feature snapshot.
func (d *Detector) Metrics() Metrics {
	return Metrics{
		AmplitudeDB:         d.lastAmplitudeDB,
		ZCR:                 d.lastZCR,
		CentroidHz:          d.lastCentroidHz,
		Speaking:            d.isSpeaking,
		VoicedOnsetPending:  d.isPendingVoiced,
		WhisperOnsetPending: d.isPendingWhisper,
		IsTransient:         d.lastIsTransient,
		IsWordBreak:         d.lastIsWordBreak,
	}
}

// Process feeds one frame of mono float32 samples through the detector.
func (d *Detector) Process(frame []float32) (StateChange, *WordBreakEvent) {
	change := StateChange{}
	var wordBreak *WordBreakEvent

	d.pushToLookbackBuffer(frame)

	rmsVal := computeRMS(frame)
	db := amplitudeToDB(rmsVal)
	zcr := computeZCR(frame)
	centroid := d.estimateSpectralCentroid(frame, db)

	d.lastAmplitudeDB = db
	d.lastZCR = zcr
	d.lastCentroidHz = centroid
	d.lastIsTransient = zcr > d.transientZCRThreshold && centroid > d.transientCentroidThreshold
	d.lastIsWordBreak = false

	if !d.initialized {
		d.initialized = true
		return change, nil
	}

	if d.lastIsTransient {
		d.resetOnsetState()
		if !d.isSpeaking {
			return change, nil
		}
	}

	isVoiced := matches(d.voiced, db, zcr, centroid)
	isWhisper := matches(d.whisper, db, zcr, centroid)
	isSpeechCandidate := isVoiced || isWhisper

	sampleLen := len(frame)

	if isSpeechCandidate {
		d.silenceSampleCount = 0

		if d.isSpeaking {
			d.speechSampleCount += sampleLen
			d.updateSpeechAmplitudeAverage(rmsVal, sampleLen)

			if d.inWordBreak {
				if d.wordBreakSampleCount >= d.minWordBreakSamples && d.wordBreakSampleCount <= d.maxWordBreakSamples {
					gapMs := samplesToMs(d.sampleRate, d.wordBreakSampleCount)
					offsetMs := samplesToMs(d.sampleRate, d.wordBreakStartSpeechSamples)
					wordBreak = &WordBreakEvent{OffsetMs: offsetMs, GapDurationMs: gapMs}
					d.lastIsWordBreak = true
				}
				d.inWordBreak = false
				d.wordBreakSampleCount = 0
			}
		} else {
			if isVoiced {
				d.voicedGraceCount = 0
				if !d.isPendingVoiced {
					d.isPendingVoiced = true
					d.voicedOnsetCount = sampleLen
				} else {
					d.voicedOnsetCount += sampleLen
				}

				if d.voicedOnsetCount >= d.voiced.onsetSamples {
					d.isSpeaking = true
					d.speechSampleCount = d.voicedOnsetCount
					d.resetOnsetState()

					lookbackSamples := d.findLookbackStart()
					change = StateChange{Kind: ChangeStarted, LookbackSamples: lookbackSamples}
					return change, wordBreak
				}
			}

			if isWhisper {
				d.whisperGraceCount = 0
				if !d.isPendingWhisper {
					d.isPendingWhisper = true
					d.whisperOnsetCount = sampleLen
				} else {
					d.whisperOnsetCount += sampleLen
				}

				if !d.isSpeaking && d.whisperOnsetCount >= d.whisper.onsetSamples {
					d.isSpeaking = true
					d.speechSampleCount = d.whisperOnsetCount
					d.resetOnsetState()

					lookbackSamples := d.findLookbackStart()
					change = StateChange{Kind: ChangeStarted, LookbackSamples: lookbackSamples}
				}
			}
		}
		return change, wordBreak
	}

	// Grace period handling.
	if d.isPendingVoiced {
		d.voicedGraceCount += sampleLen
		if d.voicedGraceCount >= d.onsetGraceSamples {
			d.isPendingVoiced = false
			d.voicedOnsetCount = 0
			d.voicedGraceCount = 0
		}
	}
	if d.isPendingWhisper {
		d.whisperGraceCount += sampleLen
		if d.whisperGraceCount >= d.onsetGraceSamples {
			d.isPendingWhisper = false
			d.whisperOnsetCount = 0
			d.whisperGraceCount = 0
		}
	}

	if d.isSpeaking {
		d.silenceSampleCount += sampleLen

		recentAvg := d.recentSpeechAmplitude()
		threshold := recentAvg * d.wordBreakThresholdRatio

		if recentAvg > 0 && rmsVal < threshold {
			if !d.inWordBreak {
				d.inWordBreak = true
				d.wordBreakSampleCount = sampleLen
				d.wordBreakStartSpeechSamples = d.speechSampleCount
			} else {
				d.wordBreakSampleCount += sampleLen
			}
			if d.wordBreakSampleCount >= d.minWordBreakSamples && d.wordBreakSampleCount <= d.maxWordBreakSamples {
				d.lastIsWordBreak = true
			}
		}

		if d.silenceSampleCount >= d.holdSamples {
			durationMs := samplesToMs(d.sampleRate, d.speechSampleCount)
			d.isSpeaking = false
			d.speechSampleCount = 0
			d.resetWordBreakState()

			change = StateChange{Kind: ChangeEnded, DurationMs: durationMs}
		}
	}

	return change, wordBreak
}

func (d *Detector) resetOnsetState() {
	d.isPendingVoiced = false
	d.isPendingWhisper = false
	d.voicedOnsetCount = 0
	d.whisperOnsetCount = 0
	d.voicedGraceCount = 0
	d.whisperGraceCount = 0
}

func (d *Detector) resetWordBreakState() {
	d.inWordBreak = false
	d.wordBreakSampleCount = 0
	d.wordBreakStartSpeechSamples = 0
	d.recentSpeechAmplitudeSum = 0
	d.recentSpeechAmplitudeCount = 0
	d.lastIsWordBreak = false
}

func (d *Detector) updateSpeechAmplitudeAverage(rmsVal float64, sampleCount int) {
	d.recentSpeechAmplitudeSum += rmsVal * float64(sampleCount)
	d.recentSpeechAmplitudeCount += sampleCount

	if d.recentSpeechAmplitudeCount > d.recentSpeechWindowSamples {
		scale := float64(d.recentSpeechWindowSamples) / float64(d.recentSpeechAmplitudeCount)
		d.recentSpeechAmplitudeSum *= scale
		d.recentSpeechAmplitudeCount = d.recentSpeechWindowSamples
	}
}

func (d *Detector) recentSpeechAmplitude() float64 {
	if d.recentSpeechAmplitudeCount == 0 {
		return 0
	}
	return d.recentSpeechAmplitudeSum / float64(d.recentSpeechAmplitudeCount)
}

func (d *Detector) pushToLookbackBuffer(samples []float32) {
	for _, s := range samples {
		d.lookbackBuffer[d.lookbackWriteIdx] = s
		d.lookbackWriteIdx = (d.lookbackWriteIdx + 1) % d.lookbackCapacity
		if d.lookbackWriteIdx == 0 {
			d.lookbackFilled = true
		}
	}
}

func (d *Detector) lookbackContentsChronological() []float32 {
	if !d.lookbackFilled {
		out := make([]float32, d.lookbackWriteIdx)
		copy(out, d.lookbackBuffer[:d.lookbackWriteIdx])
		return out
	}
	out := make([]float32, 0, d.lookbackCapacity)
	out = append(out, d.lookbackBuffer[d.lookbackWriteIdx:]...)
	out = append(out, d.lookbackBuffer[:d.lookbackWriteIdx]...)
	return out
}

// findLookbackStart implements the backward 128-sample-chunk scan of spec
// §4.B, ported from find_lookback_start.
func (d *Detector) findLookbackStart() int {
	buffer := d.lookbackContentsChronological()
	if len(buffer) == 0 {
		return 0
	}

	const chunkSize = 128
	marginSamples := d.sampleRate * 20 / 1000
	thresholdLinear := math.Pow(10, d.lookbackThresholdDB/20)

	firstAboveIdx := len(buffer)
	pos := len(buffer)
	for pos > 0 {
		chunkStart := pos - chunkSize
		if chunkStart < 0 {
			chunkStart = 0
		}
		peak := peakAbs(buffer[chunkStart:pos])

		if peak >= thresholdLinear {
			firstAboveIdx = chunkStart
		} else if firstAboveIdx < len(buffer) {
			break
		}
		pos = chunkStart
	}

	startWithMargin := firstAboveIdx - marginSamples
	if startWithMargin < 0 {
		startWithMargin = 0
	}
	return len(buffer) - startWithMargin
}

func peakAbs(samples []float32) float64 {
	peak := 0.0
	for _, s := range samples {
		a := math.Abs(float64(s))
		if a > peak {
			peak = a
		}
	}
	return peak
}

func samplesToMs(sampleRate, samples int) int {
	return samples * 1000 / sampleRate
}

func computeRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func amplitudeToDB(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(amplitude)
}

// computeZCR is the fraction of adjacent sample pairs with opposite sign.
func computeZCR(samples []float32) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i] >= 0) != (samples[i-1] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// estimateSpectralCentroid is the cheap first-difference centroid surrogate
// from spec §4.B.
func (d *Detector) estimateSpectralCentroid(samples []float32, amplitudeDB float64) float64 {
	const centroidGateDB = -55
	if len(samples) < 2 || amplitudeDB < centroidGateDB {
		return 0
	}

	var diffSum float64
	for i := 1; i < len(samples); i++ {
		diffSum += math.Abs(float64(samples[i]) - float64(samples[i-1]))
	}
	meanDiff := diffSum / float64(len(samples)-1)

	var absSum float64
	for _, s := range samples {
		absSum += math.Abs(float64(s))
	}
	meanAbs := absSum / float64(len(samples))

	if meanAbs < 1e-10 {
		return 0
	}

	return float64(d.sampleRate) * meanDiff / (2 * meanAbs)
}
