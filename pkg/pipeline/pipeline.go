package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keathmilligan/flowstt/pkg/audio"
	"github.com/keathmilligan/flowstt/pkg/mixer"
	"github.com/keathmilligan/flowstt/pkg/queue"
	"github.com/keathmilligan/flowstt/pkg/transcribe"
	"github.com/keathmilligan/flowstt/pkg/vad"
	"github.com/keathmilligan/flowstt/pkg/viz"
)

// pollInterval is how long the Audio Loop sleeps when the backend has no
// frame ready (spec §4.G).
const pollInterval = time.Millisecond

// backendStarvationTimeout is the "no frames for >N seconds while
// capturing" threshold spec §7's Backend starvation error kind names.
const backendStarvationTimeout = 2 * time.Second

// Pipeline owns the A→B→C→D→E wiring described in spec §4.G and §5: it
// pumps frames from an AudioBackend through the mixer, VAD, visualization
// processor and transcribe state machine, and publishes Events.
type Pipeline struct {
	backend AudioBackend
	mixer   *mixer.Mixer
	vad     *vad.Detector
	viz     *viz.Processor
	state   *transcribe.State

	// stateMu guards TranscribeState access from outside the Audio Loop
	// (e.g. an IPC status reader); the loop itself always acquires it
	// non-blockingly and skips the frame on contention (spec §5).
	stateMu sync.Mutex

	shutdown atomic.Bool

	// capturing, lastFrameAt and starved track the Backend starvation error
	// kind (spec §7): lastFrameAt is reset whenever a frame arrives or
	// capture (re)starts, and starved latches once an episode has been
	// reported so the loop doesn't re-publish every poll while it waits for
	// frames to resume.
	capturing   atomic.Bool
	lastFrameAt atomic.Int64
	starved     atomic.Bool

	events chan Event
	log    Logger

	sampleRate int
}

// New constructs a Pipeline. The caller starts and stops q's worker itself
// (component F's lifecycle is independent of the Audio Loop's).
func New(backend AudioBackend, q *queue.Queue, dumper transcribe.Dumper, log Logger, cfg Config) *Pipeline {
	if log == nil {
		log = &NoOpLogger{}
	}
	p := &Pipeline{
		backend:    backend,
		mixer:      mixer.New(cfg.SampleRate, cfg.Channels, 0),
		vad:        vad.New(cfg.SampleRate),
		viz:        viz.New(cfg.SampleRate),
		state:      transcribe.New(cfg.SampleRate, cfg.Channels, q, dumper, transcribeLoggerAdapter{log}),
		events:     make(chan Event, 64),
		log:        log,
		sampleRate: cfg.SampleRate,
	}
	p.state.Activate()
	return p
}

// transcribeLoggerAdapter narrows pipeline.Logger to transcribe.Logger.
type transcribeLoggerAdapter struct{ Logger }

// QueueResultHandler returns a queue.ResultHandler (satisfied structurally,
// no import needed) that republishes worker outcomes as pipeline Events.
// Callers attach it with (*queue.Queue).SetHandler once both the Queue and
// the Pipeline exist, since each is a constructor argument of the other.
func (p *Pipeline) QueueResultHandler() *queueResultHandler {
	return &queueResultHandler{p: p}
}

type queueResultHandler struct{ p *Pipeline }

func (h *queueResultHandler) OnTranscriptionComplete(text, audioPath string) {
	h.p.publish(Event{Type: EventTranscriptionComplete, Text: text, AudioPath: audioPath})
}

func (h *queueResultHandler) OnTranscriptionError(err error) {
	h.p.publish(Event{Type: EventTranscriptionError, Err: err})
}

func (h *queueResultHandler) OnDepthChanged(depth int) {}

// Events returns the channel consumers read published events from.
func (p *Pipeline) Events() <-chan Event { return p.events }

func (p *Pipeline) publish(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.log.Warn("event channel full, dropping event", "type", ev.Type)
	}
}

// StartCapture configures the backend's active streams and the mixer's
// stream count to match (0, 1, or 2), per spec §4.A / §6.
func (p *Pipeline) StartCapture(source1ID, source2ID string) error {
	if p.backend == nil {
		return ErrNoBackend
	}
	if err := p.backend.StartCaptureSources(source1ID, source2ID); err != nil {
		p.publish(Event{Type: EventCaptureStateChanged, Capturing: false, Err: err})
		return err
	}
	numStreams := 0
	if source1ID != "" {
		numStreams++
	}
	if source2ID != "" {
		numStreams++
	}
	p.mixer.SetNumStreams(numStreams)
	p.capturing.Store(true)
	p.lastFrameAt.Store(time.Now().UnixNano())
	p.starved.Store(false)
	p.publish(Event{Type: EventCaptureStateChanged, Capturing: true})
	return nil
}

// StopCapture stops the backend, resets the mixer to zero streams and clears
// the capturing flag. It does not stop Run, which keeps polling; a later
// StartCapture resumes capture.
func (p *Pipeline) StopCapture() error {
	if p.backend == nil {
		return ErrNoBackend
	}
	err := p.backend.StopCapture()
	p.mixer.SetNumStreams(0)
	p.capturing.Store(false)
	p.publish(Event{Type: EventCaptureStateChanged, Capturing: false, Err: err})
	return err
}

// SetAECEnabled/SetRecordingMode forward the atomic hot-path scalars named
// in spec §5 down to the mixer and backend.
func (p *Pipeline) SetAECEnabled(enabled bool) {
	p.mixer.SetAECEnabled(enabled)
	if p.backend != nil {
		p.backend.SetAECEnabled(enabled)
	}
}

func (p *Pipeline) SetRecordingMode(mode RecordingMode) {
	p.mixer.SetMode(mixer.RecordingMode(mode))
	if p.backend != nil {
		p.backend.SetRecordingMode(mode)
	}
}

// Shutdown requests the Run loop to exit on its next poll (spec §5).
func (p *Pipeline) Shutdown() {
	p.shutdown.Store(true)
}

// Run is the Audio Loop (spec §4.G). It blocks until Shutdown is called or
// ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer func() {
		p.state.Finalize()
		p.publish(Event{Type: EventShutdown})
	}()

	for {
		if p.shutdown.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		samples, channels, isRender, ok := p.backend.TryRecv()
		if !ok {
			p.checkBackendStarvation()
			time.Sleep(pollInterval)
			continue
		}

		p.lastFrameAt.Store(time.Now().UnixNano())
		p.starved.Store(false)

		for _, chunk := range p.mixer.Push(samples, isRender) {
			p.handleMixedChunk(chunk, channels)
		}
	}
}

// checkBackendStarvation implements spec §7's Backend starvation error
// kind: if capturing and no frame has arrived within
// backendStarvationTimeout, publish a CaptureStateChanged error event once
// per starvation episode. The loop keeps polling either way.
func (p *Pipeline) checkBackendStarvation() {
	if !p.capturing.Load() || p.starved.Load() {
		return
	}
	last := p.lastFrameAt.Load()
	if last == 0 {
		return
	}
	if time.Since(time.Unix(0, last)) <= backendStarvationTimeout {
		return
	}
	p.starved.Store(true)
	p.publish(Event{Type: EventCaptureStateChanged, Capturing: false, Err: ErrBackendStarved})
}

func (p *Pipeline) handleMixedChunk(chunk []float32, channels int) {
	mono := chunk
	if channels > 1 {
		mono = audio.ToMono(chunk, channels)
	}

	if payloads := p.viz.Process(mono); payloads != nil {
		for _, pl := range payloads {
			p.publish(Event{Type: EventVisualizationData, Waveform: pl.Waveform, SpectrogramColumn: pl.SpectrogramColumn})
		}
	}

	change, wordBreak := p.vad.Process(mono)

	if !p.stateMu.TryLock() {
		return // contended; skip this frame's TranscribeState update (spec §5)
	}
	defer p.stateMu.Unlock()

	p.state.ProcessSamples(chunk)

	switch change.Kind {
	case vad.ChangeStarted:
		p.state.OnSpeechStarted(change.LookbackSamples)
		p.publish(Event{Type: EventSpeechStarted})
	case vad.ChangeEnded:
		p.state.OnSpeechEnded()
		p.publish(Event{Type: EventSpeechEnded, DurationMs: change.DurationMs})
	}

	if wordBreak != nil {
		p.state.OnWordBreak(wordBreak.OffsetMs, wordBreak.GapDurationMs)
	}
}
