// Package whisper provides the concrete Transcribe implementation (spec
// §6.2): a direct CGO binding to whisper.cpp, following the same
// load-model-once / fresh-context-per-call pattern as the teacher pack's
// NativeProvider.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Transcriber wraps a single whisper.cpp model loaded once at construction.
// Transcribe creates a fresh context per call since whisper.cpp contexts
// are not safe for concurrent use; this is safe here because the
// transcription queue (component F) only ever has one worker calling it.
type Transcriber struct {
	model    whisperlib.Model
	language string
}

// Option configures a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the BCP-47 language code passed to whisper.cpp.
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// New loads the whisper.cpp model from modelPath. Model download/update is
// out of scope (spec §1); the path must already exist on disk.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	t := &Transcriber{model: model, language: "en"}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model.
func (t *Transcriber) Close() error {
	if t.model == nil {
		return nil
	}
	return t.model.Close()
}

// TranscribeSamples implements pkg/queue's Transcriber (and, by shape,
// pkg/pipeline's Transcribe) boundary (spec §6): blocking, CPU-bound,
// mono 16 kHz float32 samples in, text out.
func (t *Transcriber) TranscribeSamples(ctx context.Context, mono16k []float32) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(t.language); err != nil {
		return "", fmt.Errorf("whisper: set language %q: %w", t.language, err)
	}

	if err := wctx.Process(mono16k, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
