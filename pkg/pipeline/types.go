// Package pipeline wires the Mixer/AEC, VAD, Visualization, Segment Ring,
// Transcribe State Machine and Transcription Queue stages into the Audio
// Loop (spec §4.G), and defines the external interfaces (§6) the rest of
// the process depends on.
package pipeline

import "context"

// Logger is the minimal structured-logging seam carried by every
// component, mirrored from the teacher's Logger/NoOpLogger pair so library
// code never hard-depends on a concrete sink.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything; the default when no Logger is supplied.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// SourceType distinguishes a microphone source from a system-loopback one.
type SourceType string

const (
	SourceInput  SourceType = "Input"
	SourceSystem SourceType = "System"
)

// Device describes one enumerable capture device.
type Device struct {
	ID         string
	Name       string
	SourceType SourceType
}

// RecordingMode mirrors mixer.RecordingMode at the pipeline boundary so
// callers outside pkg/mixer don't need to import it directly.
type RecordingMode int

const (
	ModeMixed RecordingMode = iota
	ModeEchoCancel
)

// AudioBackend is the external capture/playback boundary (spec §6). The
// core only ever consumes this interface; pkg/backend/malgo provides one
// concrete implementation.
type AudioBackend interface {
	SampleRate() int
	ListInputDevices() ([]Device, error)
	ListSystemDevices() ([]Device, error)
	StartCaptureSources(source1ID, source2ID string) error
	StopCapture() error
	TryRecv() (samples []float32, channels int, isRender bool, ok bool)
	SetAECEnabled(enabled bool)
	SetRecordingMode(mode RecordingMode)
	Close() error
}

// Transcribe is the external inference boundary (spec §6): blocking,
// CPU-bound, called only from the transcription queue's single worker.
type Transcribe interface {
	TranscribeSamples(ctx context.Context, mono16k []float32) (string, error)
}

// EventType tags the Event union emitted to consumers (spec §6).
type EventType string

const (
	EventVisualizationData     EventType = "VisualizationData"
	EventSpeechStarted         EventType = "SpeechStarted"
	EventSpeechEnded           EventType = "SpeechEnded"
	EventTranscriptionComplete EventType = "TranscriptionComplete"
	EventTranscriptionError    EventType = "TranscriptionError"
	EventCaptureStateChanged   EventType = "CaptureStateChanged"
	EventModelDownloadProgress EventType = "ModelDownloadProgress"
	EventModelDownloadComplete EventType = "ModelDownloadComplete"
	EventShutdown              EventType = "Shutdown"
)

// Event is the single observable effect of the core (spec §6). Only the
// fields relevant to Type are populated.
type Event struct {
	Type EventType

	// SpeechEnded
	DurationMs int

	// TranscriptionComplete / TranscriptionError
	Text      string
	AudioPath string
	Err       error

	// CaptureStateChanged
	Capturing bool

	// ModelDownloadProgress
	Percent int

	// ModelDownloadComplete
	Success bool

	// VisualizationData
	Waveform          []float32
	SpectrogramColumn []float32
}

// Config mirrors the teacher's Config/DefaultConfig pattern, adapted to
// FlowSTT's domain knobs.
type Config struct {
	SampleRate      int
	Channels        int
	ModelPath       string
	RecordingsDir   string
	DumpSegments    bool
	QueueCapacity   int
	ShutdownTimeout int // seconds
}

func DefaultConfig() Config {
	return Config{
		SampleRate:      48000,
		Channels:        2,
		QueueCapacity:   8,
		ShutdownTimeout: 5,
	}
}
