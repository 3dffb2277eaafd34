package pipeline

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/keathmilligan/flowstt/pkg/queue"
)

// fakeBackend feeds a fixed sequence of frames then reports empty.
type fakeBackend struct {
	mu      sync.Mutex
	frames  []fakeFrame
	idx     int
	started bool
}

type fakeFrame struct {
	samples  []float32
	channels int
	isRender bool
}

func (b *fakeBackend) SampleRate() int                                         { return 48000 }
func (b *fakeBackend) ListInputDevices() ([]Device, error)                     { return nil, nil }
func (b *fakeBackend) ListSystemDevices() ([]Device, error)                    { return nil, nil }
func (b *fakeBackend) StartCaptureSources(source1ID, source2ID string) error   { b.started = true; return nil }
func (b *fakeBackend) StopCapture() error                                      { b.started = false; return nil }
func (b *fakeBackend) SetAECEnabled(enabled bool)                              {}
func (b *fakeBackend) SetRecordingMode(mode RecordingMode)                     {}
func (b *fakeBackend) Close() error                                            { return nil }

func (b *fakeBackend) TryRecv() ([]float32, int, bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.idx >= len(b.frames) {
		return nil, 0, false, false
	}
	f := b.frames[b.idx]
	b.idx++
	return f.samples, f.channels, f.isRender, true
}

func sineMono(freq float64, sampleRate, n int, amp float64) []float32 {
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*t))
	}
	return out
}

type noopTranscriber struct{}

func (noopTranscriber) TranscribeSamples(ctx context.Context, mono16k []float32) (string, error) {
	return "", nil
}

// TestPipelinePassThroughSingleStream exercises the num_streams=1 path of
// scenario S1: the Audio Loop pulls every frame the backend offers and runs
// it through the mixer and the VAD/Viz/TranscribeState chain. It checks that
// all backend frames were drained before shutdown.
func TestPipelinePassThroughSingleStream(t *testing.T) {
	backend := &fakeBackend{}
	for i := 0; i < 20; i++ {
		backend.frames = append(backend.frames, fakeFrame{
			samples:  sineMono(440, 48000, 480, 0.5),
			channels: 1,
		})
	}

	q := queue.New(8, noopTranscriber{}, nil, nil)
	q.StartWorker()
	defer q.StopWorker(time.Second)

	cfg := DefaultConfig()
	cfg.Channels = 1
	p := New(backend, q, nil, nil, cfg)

	if err := p.StartCapture("mic", ""); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(200 * time.Millisecond)
		p.Shutdown()
	}()
	p.Run(ctx)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.idx != len(backend.frames) {
		t.Fatalf("expected all frames drained, got %d/%d", backend.idx, len(backend.frames))
	}
}

// TestPipelineBackendStarvationEmitsEvent exercises the Backend starvation
// error kind (spec §7): once the backend has gone quiet for longer than
// backendStarvationTimeout while capturing, the loop must publish a
// CaptureStateChanged{capturing:false, err:ErrBackendStarved} event exactly
// once per episode and keep polling rather than stopping.
func TestPipelineBackendStarvationEmitsEvent(t *testing.T) {
	backend := &fakeBackend{}
	q := queue.New(8, noopTranscriber{}, nil, nil)
	q.StartWorker()
	defer q.StopWorker(time.Second)

	p := New(backend, q, nil, nil, DefaultConfig())
	if err := p.StartCapture("mic", ""); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	// drain the CaptureStateChanged{capturing:true} event from StartCapture
	<-p.Events()

	// simulate the backend having gone quiet well past the threshold
	p.lastFrameAt.Store(time.Now().Add(-2 * backendStarvationTimeout).UnixNano())

	p.checkBackendStarvation()

	select {
	case ev := <-p.Events():
		if ev.Type != EventCaptureStateChanged || ev.Capturing || ev.Err != ErrBackendStarved {
			t.Fatalf("expected CaptureStateChanged{capturing:false, err:ErrBackendStarved}, got %+v", ev)
		}
	default:
		t.Fatal("expected a starvation CaptureStateChanged event to be published")
	}

	// a second check before any frame arrives must not re-publish
	p.checkBackendStarvation()
	select {
	case ev := <-p.Events():
		t.Fatalf("expected no further event while still starved, got %+v", ev)
	default:
	}

	// once a frame arrives the episode clears, so a later starvation can
	// report again
	p.lastFrameAt.Store(time.Now().UnixNano())
	p.starved.Store(false)
	p.lastFrameAt.Store(time.Now().Add(-2 * backendStarvationTimeout).UnixNano())
	p.checkBackendStarvation()
	select {
	case ev := <-p.Events():
		if ev.Type != EventCaptureStateChanged || ev.Err != ErrBackendStarved {
			t.Fatalf("expected a second starvation event after recovery, got %+v", ev)
		}
	default:
		t.Fatal("expected starvation to be reportable again after recovery")
	}
}

func TestPipelineEventsChannelPublishesCaptureState(t *testing.T) {
	backend := &fakeBackend{}
	q := queue.New(8, noopTranscriber{}, nil, nil)
	q.StartWorker()
	defer q.StopWorker(time.Second)

	p := New(backend, q, nil, nil, DefaultConfig())
	if err := p.StartCapture("mic", ""); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}

	select {
	case ev := <-p.Events():
		if ev.Type != EventCaptureStateChanged || !ev.Capturing {
			t.Fatalf("expected CaptureStateChanged{capturing:true}, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for CaptureStateChanged event")
	}
}
