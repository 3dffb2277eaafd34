package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EncodeWavFloat32 writes samples (interleaved) as a 32-bit IEEE-float PCM
// WAV container, matching the debug dump format required by the pipeline
// (spec §6): format tag 3 (WAVE_FORMAT_IEEE_FLOAT), bits-per-sample 32.
func EncodeWavFloat32(samples []float32, sampleRate, channels int) []byte {
	dataLen := len(samples) * 4
	buf := new(bytes.Buffer)
	buf.Grow(44 + dataLen)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(3)) // WAVE_FORMAT_IEEE_FLOAT
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	byteRate := sampleRate * channels * 4
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	blockAlign := channels * 4
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(32))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	for _, s := range samples {
		binary.Write(buf, binary.LittleEndian, s)
	}

	return buf.Bytes()
}

// WavDumper implements transcribe.Dumper by writing each segment as a
// timestamped float32 WAV file under Dir (spec §6 "WAV dump").
type WavDumper struct {
	Dir string
}

func (w WavDumper) Dump(samples []float32, sampleRate, channels int) (string, error) {
	return DumpSegment(w.Dir, samples, sampleRate, channels, time.Now())
}

// RecordingFilename builds the "flowstt-YYYYMMDD-HHMMSS.wav" name required
// by spec §6 for debug segment dumps.
func RecordingFilename(t time.Time) string {
	return fmt.Sprintf("flowstt-%s.wav", t.Format("20060102-150405"))
}

// DumpSegment writes samples as a float32 WAV file under dir, creating dir
// if needed, and returns the full path written.
func DumpSegment(dir string, samples []float32, sampleRate, channels int, t time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("audio: create recordings dir: %w", err)
	}
	path := filepath.Join(dir, RecordingFilename(t))
	data := EncodeWavFloat32(samples, sampleRate, channels)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("audio: write wav %q: %w", path, err)
	}
	return path, nil
}
