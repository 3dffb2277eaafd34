package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	flowstaudio "github.com/keathmilligan/flowstt/pkg/audio"
	backend "github.com/keathmilligan/flowstt/pkg/backend/malgo"
	"github.com/keathmilligan/flowstt/pkg/pipeline"
	"github.com/keathmilligan/flowstt/pkg/queue"
	"github.com/keathmilligan/flowstt/pkg/transcribe"
	"github.com/keathmilligan/flowstt/pkg/whisper"
)

const (
	sampleRate = 48000
	channels   = 2
)

// stdoutLogger is a minimal pipeline.Logger writing to the standard logger,
// mirroring the teacher's console-feedback style.
type stdoutLogger struct{}

func (stdoutLogger) Debug(msg string, args ...interface{}) { log.Println(prepend("DEBUG", msg, args)...) }
func (stdoutLogger) Info(msg string, args ...interface{})  { log.Println(prepend("INFO", msg, args)...) }
func (stdoutLogger) Warn(msg string, args ...interface{})  { log.Println(prepend("WARN", msg, args)...) }
func (stdoutLogger) Error(msg string, args ...interface{}) { log.Println(prepend("ERROR", msg, args)...) }

func prepend(level, msg string, args []interface{}) []interface{} {
	return append([]interface{}{level, msg}, args...)
}

// queueLoggerAdapter narrows pipeline.Logger to queue.Logger.
type queueLoggerAdapter struct{ pipeline.Logger }

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	modelPath := os.Getenv("FLOWSTT_WHISPER_MODEL")
	if modelPath == "" {
		log.Fatal("Error: FLOWSTT_WHISPER_MODEL must be set to a whisper.cpp ggml model path")
	}
	recordingsDir := os.Getenv("FLOWSTT_RECORDINGS_DIR")
	if recordingsDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		recordingsDir = home + "/Documents/Recordings"
	}
	dumpSegments := os.Getenv("FLOWSTT_DUMP_SEGMENTS") == "1"

	transcriber, err := whisper.New(modelPath, whisper.WithLanguage(envOr("FLOWSTT_LANGUAGE", "en")))
	if err != nil {
		log.Fatalf("Error: failed to load whisper model: %v", err)
	}
	defer transcriber.Close()

	be, err := backend.New(sampleRate, channels)
	if err != nil {
		log.Fatalf("Error: failed to initialize audio backend: %v", err)
	}
	defer be.Close()

	inputs, err := be.ListInputDevices()
	if err != nil {
		log.Fatalf("Error: failed to enumerate input devices: %v", err)
	}
	if len(inputs) == 0 {
		log.Fatal("Error: no input devices found")
	}
	fmt.Printf("Using input device: %s\n", inputs[0].Name)

	var systemSourceID string
	if systems, err := be.ListSystemDevices(); err == nil && len(systems) > 0 {
		systemSourceID = systems[0].ID
		fmt.Printf("Using system device: %s\n", systems[0].Name)
	}

	logger := stdoutLogger{}

	cfg := pipeline.DefaultConfig()
	cfg.SampleRate = sampleRate
	cfg.Channels = channels
	cfg.ModelPath = modelPath
	cfg.RecordingsDir = recordingsDir
	cfg.DumpSegments = dumpSegments

	q := queue.New(cfg.QueueCapacity, transcriber, nil, queueLoggerAdapter{logger})

	var dumper transcribe.Dumper
	if cfg.DumpSegments {
		dumper = flowstaudio.WavDumper{Dir: cfg.RecordingsDir}
	}

	p := pipeline.New(be, q, dumper, logger, cfg)
	q.SetHandler(p.QueueResultHandler())
	q.StartWorker()

	fmt.Printf("FlowSTT started (sample rate=%dHz, channels=%d)\n", sampleRate, channels)
	fmt.Println("Press Ctrl+C to exit")

	if err := p.StartCapture(inputs[0].ID, systemSourceID); err != nil {
		log.Fatalf("Error: failed to start capture: %v", err)
	}

	go func() {
		for ev := range p.Events() {
			switch ev.Type {
			case pipeline.EventSpeechStarted:
				fmt.Println("[SPEECH] started")
			case pipeline.EventSpeechEnded:
				fmt.Printf("[SPEECH] ended (%dms)\n", ev.DurationMs)
			case pipeline.EventTranscriptionComplete:
				fmt.Printf("[TRANSCRIPT] %s\n", ev.Text)
			case pipeline.EventTranscriptionError:
				fmt.Printf("[ERROR] transcription failed: %v\n", ev.Err)
			case pipeline.EventCaptureStateChanged:
				fmt.Printf("[CAPTURE] capturing=%v err=%v\n", ev.Capturing, ev.Err)
			case pipeline.EventShutdown:
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		p.Shutdown()
		cancel()
	}()

	p.Run(ctx)

	q.StopWorker(time.Duration(cfg.ShutdownTimeout) * time.Second)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
