// Package queue implements the Transcription Queue (spec §4.F): a bounded
// single-producer/single-consumer FIFO that downmixes, resamples, and
// drives the external Whisper transcription call on its own worker.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/keathmilligan/flowstt/pkg/audio"
)

// QueuedSegment is an immutable unit of work handed to the worker.
type QueuedSegment struct {
	Samples    []float32
	SampleRate int
	Channels   int
	AudioPath  string
}

// Transcriber is the narrow external inference boundary this package
// depends on (spec §6), kept local to avoid an import cycle with
// pkg/pipeline.
type Transcriber interface {
	TranscribeSamples(ctx context.Context, mono16k []float32) (string, error)
}

// Logger mirrors pipeline.Logger's shape without importing it.
type Logger interface {
	Debug(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type noOpLogger struct{}

func (noOpLogger) Debug(msg string, args ...interface{}) {}
func (noOpLogger) Warn(msg string, args ...interface{})  {}
func (noOpLogger) Error(msg string, args ...interface{}) {}

// ResultHandler receives worker outcomes as they complete, in FIFO order
// (spec testable property 11).
type ResultHandler interface {
	OnTranscriptionComplete(text, audioPath string)
	OnTranscriptionError(err error)
	OnDepthChanged(depth int)
}

// Queue is the bounded FIFO + single worker described in spec §4.F.
type Queue struct {
	capacity int
	items    chan QueuedSegment

	mu      sync.Mutex
	depth   int

	workerDone chan struct{}
	cancel     context.CancelFunc

	transcriber Transcriber
	handler     ResultHandler
	log         Logger
}

// New constructs a Queue with the given bounded capacity (spec recommends
// 8).
func New(capacity int, transcriber Transcriber, handler ResultHandler, log Logger) *Queue {
	if capacity <= 0 {
		capacity = 8
	}
	if log == nil {
		log = noOpLogger{}
	}
	return &Queue{
		capacity:    capacity,
		items:       make(chan QueuedSegment, capacity),
		transcriber: transcriber,
		handler:     handler,
		log:         log,
	}
}

// Enqueue adds a segment if there is room, returning false (and dropping
// the segment) when full (spec §7 "Queue full").
func (q *Queue) Enqueue(samples []float32, sampleRate, channels int, audioPath string) bool {
	seg := QueuedSegment{Samples: samples, SampleRate: sampleRate, Channels: channels, AudioPath: audioPath}
	select {
	case q.items <- seg:
		q.mu.Lock()
		q.depth++
		d := q.depth
		q.mu.Unlock()
		if q.handler != nil {
			q.handler.OnDepthChanged(d)
		}
		return true
	default:
		q.log.Warn("transcription queue full, dropping segment")
		return false
	}
}

// SetHandler attaches (or replaces) the ResultHandler. Exposed as a setter
// because the handler (the pipeline) is typically constructed after the
// Queue it results are read from, to break the construction cycle.
func (q *Queue) SetHandler(handler ResultHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = handler
}

// Depth returns the current number of segments awaiting transcription.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// StartWorker launches the single consumer goroutine (spec §4.F, §5).
func (q *Queue) StartWorker() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.workerDone = make(chan struct{})
	go q.run(ctx)
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.workerDone)
	for {
		select {
		case <-ctx.Done():
			q.drain(ctx)
			return
		case seg, ok := <-q.items:
			if !ok {
				return
			}
			q.process(ctx, seg)
		}
	}
}

// drain processes any segments still buffered after cancellation. The
// overall shutdown deadline is enforced by StopWorker's caller, which gives
// up waiting on workerDone once it elapses; inference calls made here run
// to completion against a fresh context so a segment already popped is
// never half-transcribed.
func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case seg := <-q.items:
			q.process(context.Background(), seg)
		default:
			return
		}
	}
}

func (q *Queue) process(ctx context.Context, seg QueuedSegment) {
	q.mu.Lock()
	q.depth--
	d := q.depth
	q.mu.Unlock()
	if q.handler != nil {
		q.handler.OnDepthChanged(d)
	}

	mono := seg.Samples
	if seg.Channels > 1 {
		mono = audio.ToMono(seg.Samples, seg.Channels)
	}
	resampled := mono
	if seg.SampleRate != 16000 {
		resampled = audio.ResampleLinear(mono, seg.SampleRate, 16000)
	}

	text, err := q.transcriber.TranscribeSamples(ctx, resampled)
	if err != nil {
		q.log.Error("transcription failed", "error", err)
		if q.handler != nil {
			q.handler.OnTranscriptionError(err)
		}
		return
	}
	if q.handler != nil {
		q.handler.OnTranscriptionComplete(text, seg.AudioPath)
	}
}

// StopWorker cancels the worker and waits (up to deadline) for it to drain
// already-enqueued segments and exit (spec §4.F, §5, testable property 12).
func (q *Queue) StopWorker(deadline time.Duration) {
	if q.cancel == nil {
		return
	}
	q.cancel()
	select {
	case <-q.workerDone:
	case <-time.After(deadline):
		q.log.Warn("transcription worker did not drain within the shutdown deadline")
	}
}
