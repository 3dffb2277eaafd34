package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"
	"time"
)

func TestEncodeWavFloat32Header(t *testing.T) {
	samples := []float32{0.1, -0.2, 0.3, -0.4}
	wav := EncodeWavFloat32(samples, 48000, 1)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Fatalf("expected RIFF prefix")
	}
	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Fatalf("expected WAVE identifier")
	}

	expectedLen := 44 + len(samples)*4
	if len(wav) != expectedLen {
		t.Fatalf("expected length %d, got %d", expectedLen, len(wav))
	}

	formatTag := binary.LittleEndian.Uint16(wav[20:22])
	if formatTag != 3 {
		t.Fatalf("expected IEEE float format tag 3, got %d", formatTag)
	}
	bitsPerSample := binary.LittleEndian.Uint16(wav[34:36])
	if bitsPerSample != 32 {
		t.Fatalf("expected 32 bits per sample, got %d", bitsPerSample)
	}
}

func TestRecordingFilename(t *testing.T) {
	ts := time.Date(2026, 7, 31, 13, 5, 9, 0, time.UTC)
	name := RecordingFilename(ts)
	want := "flowstt-20260731-130509.wav"
	if name != want {
		t.Fatalf("expected %q, got %q", want, name)
	}
}

func TestDumpSegmentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	samples := []float32{0, 0.5, -0.5, 1}
	path, err := DumpSegment(dir, samples, 48000, 1, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DumpSegment: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dumped file: %v", err)
	}
	if len(data) != 44+len(samples)*4 {
		t.Fatalf("unexpected dumped file size %d", len(data))
	}
}
