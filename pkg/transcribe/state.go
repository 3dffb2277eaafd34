// Package transcribe implements the Transcribe State Machine (spec §4.E):
// it consumes VAD-style speech events plus the continuous raw audio
// stream, decides where segments start and end, and enqueues them to a
// transcription queue.
package transcribe

import (
	"math"

	"github.com/keathmilligan/flowstt/pkg/segment"
)

// Timing constants (spec §4.E), converted to sample counts in New.
const (
	MaxSegmentMs      = 4000
	WordBreakGraceMs  = 750
	MinSegmentMs      = 500
	MinRMS            = 0.01
)

// SegmentDriver is the seam both the VAD and an eventual push-to-talk
// controller feed (design note §9): a State implements it, and either
// driver can call started/ended/word-break without the state machine
// knowing which one is active.
type SegmentDriver interface {
	OnSpeechStarted(lookbackSamples int)
	OnSpeechEnded()
	OnWordBreak(offsetMs, gapDurationMs int)
}

// Enqueuer is the boundary to the transcription queue (component F); State
// depends only on this narrow interface so it can be tested without a real
// queue.
type Enqueuer interface {
	Enqueue(samples []float32, sampleRate, channels int, audioPath string) bool
}

// Dumper optionally persists a segment to disk before enqueue, returning
// the path written (or "" if dumping is disabled).
type Dumper interface {
	Dump(samples []float32, sampleRate, channels int) (string, error)
}

// State is the Transcribe State Machine. It is driven exclusively by the
// Audio Loop; see spec §5 for the single-writer invariant.
type State struct {
	ring       *segment.Ring
	sampleRate int
	channels   int

	queue  Enqueuer
	dumper Dumper
	log    Logger

	active           bool
	inSpeech         bool
	seekingWordBreak bool

	segmentStartIdx        int
	lookbackSamples        int
	segmentSamples         int
	wordBreakSeekStart     int

	maxSegmentSamples     int
	wordBreakGraceSamples int
	minSegmentSamples     int
}

// Logger is the narrow subset of pipeline.Logger this package needs,
// avoiding an import cycle with pkg/pipeline.
type Logger interface {
	Debug(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
}

type noOpLogger struct{}

func (noOpLogger) Debug(msg string, args ...interface{}) {}
func (noOpLogger) Warn(msg string, args ...interface{})  {}

// New constructs a State bound to its own Ring (component D), sized per
// spec §3.
func New(sampleRate, channels int, queue Enqueuer, dumper Dumper, log Logger) *State {
	if log == nil {
		log = noOpLogger{}
	}
	return &State{
		ring:       segment.New(segment.Capacity),
		sampleRate: sampleRate,
		channels:   channels,
		queue:      queue,
		dumper:     dumper,
		log:        log,

		maxSegmentSamples:     msToSamples(sampleRate, channels, MaxSegmentMs),
		wordBreakGraceSamples: msToSamples(sampleRate, channels, WordBreakGraceMs),
		minSegmentSamples:     msToSamples(sampleRate, channels, MinSegmentMs),
	}
}

func msToSamples(sampleRate, channels, ms int) int {
	return sampleRate * channels * ms / 1000
}

func samplesToMs(sampleRate, channels, samples int) int {
	if channels == 0 {
		channels = 1
	}
	return samples * 1000 / (sampleRate * channels)
}

// Activate/Deactivate gate whether ProcessSamples writes into the ring at
// all, per the lifecycle named in spec §4.E.
func (s *State) Activate()   { s.active = true }
func (s *State) Deactivate() { s.active = false }

// ProcessSamples appends raw frames to the ring and runs the in-speech
// overflow/word-break-grace policy (spec §4.E step-by-step).
func (s *State) ProcessSamples(frame []float32) {
	if !s.active {
		return
	}
	s.ring.Write(frame)

	if !s.inSpeech {
		return
	}

	if s.ring.ApproachingOverflow(s.segmentStartIdx) {
		s.cutAndContinue(s.ring.WritePos())
	}

	s.segmentSamples += len(frame)
	durationMs := samplesToMs(s.sampleRate, s.channels, s.segmentSamples)

	if durationMs >= MaxSegmentMs && !s.seekingWordBreak {
		s.seekingWordBreak = true
		s.wordBreakSeekStart = s.segmentSamples
	}

	if s.seekingWordBreak && (s.segmentSamples-s.wordBreakSeekStart) >= s.wordBreakGraceSamples {
		s.cutAndContinue(s.ring.WritePos())
		s.seekingWordBreak = false
	}
}

// cutAndContinue implements the overflow/grace-expiry cut policy: cut,
// enqueue, then keep recording into a fresh segment starting at cutEnd.
func (s *State) cutAndContinue(cutEnd int) {
	samples := s.ring.ExtractRange(s.segmentStartIdx, cutEnd)
	s.validateAndEnqueue(samples)
	s.segmentStartIdx = cutEnd
	s.lookbackSamples = 0
	s.segmentSamples = 0
}

// OnSpeechStarted implements SegmentDriver.
func (s *State) OnSpeechStarted(lookbackSamples int) {
	s.inSpeech = true
	s.segmentStartIdx = s.ring.IndexFromLookback(lookbackSamples)
	s.lookbackSamples = lookbackSamples
	s.segmentSamples = 0
	s.seekingWordBreak = false
}

// OnSpeechEnded implements SegmentDriver.
func (s *State) OnSpeechEnded() {
	if !s.inSpeech {
		return
	}
	samples := s.ring.Extract(s.segmentStartIdx)
	s.validateAndEnqueue(samples)
	s.inSpeech = false
	s.lookbackSamples = 0
	s.segmentSamples = 0
	s.seekingWordBreak = false
}

// OnWordBreak implements SegmentDriver. Only acts while in speech and
// while actively seeking a word-break cut point (spec §4.E).
func (s *State) OnWordBreak(offsetMs, gapDurationMs int) {
	if !s.inSpeech || !s.seekingWordBreak {
		return
	}

	cutOffsetSamples := msToSamples(s.sampleRate, s.channels, offsetMs+gapDurationMs/2)

	// ring_idx = segment_start_idx + lookback + samples(offset_ms+gap_ms/2),
	// mod capacity, clamped to write_pos (spec §4.E).
	distance := s.lookbackSamples + cutOffsetSamples
	available := s.ring.SegmentLength(s.segmentStartIdx)
	if distance > available {
		distance = available
	}
	capacity := s.ring.Capacity()
	cutIdx := (s.segmentStartIdx + distance) % capacity

	samples := s.ring.ExtractRange(s.segmentStartIdx, cutIdx)
	s.validateAndEnqueue(samples)

	s.segmentStartIdx = cutIdx
	s.lookbackSamples = 0
	consumed := cutOffsetSamples
	if consumed > s.segmentSamples {
		consumed = s.segmentSamples
	}
	s.segmentSamples -= consumed
	s.seekingWordBreak = false
}

// Finalize runs OnSpeechEnded if a segment is still open (spec §4.E).
func (s *State) Finalize() {
	if s.inSpeech {
		s.OnSpeechEnded()
	}
}

func (s *State) validateAndEnqueue(samples []float32) {
	if len(samples) == 0 {
		return
	}
	durationMs := samplesToMs(s.sampleRate, s.channels, len(samples))
	if durationMs < MinSegmentMs {
		s.log.Debug("dropping segment: too short", "duration_ms", durationMs)
		return
	}
	if rms(samples) < MinRMS {
		s.log.Debug("dropping segment: below RMS floor", "rms", rms(samples))
		return
	}

	audioPath := ""
	if s.dumper != nil {
		path, err := s.dumper.Dump(samples, s.sampleRate, s.channels)
		if err != nil {
			s.log.Warn("segment dump failed", "error", err)
		} else {
			audioPath = path
		}
	}

	if s.queue != nil && !s.queue.Enqueue(samples, s.sampleRate, s.channels, audioPath) {
		s.log.Warn("transcription queue full, segment dropped")
	}
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
