package mixer

import (
	"math"
	"testing"
)

func TestAECCancelsMatchingRender(t *testing.T) {
	sr := 48000
	frame := FrameMs * sr / 1000
	aec := NewAEC(sr, 1)

	render := sineFloat32(300, sr, frame, 0.5)
	aec.PushRender(render)

	// Capture is exactly the rendered tone leaking into the mic (no delay).
	out, err := aec.Process(render)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	beforeRMS := rms(render)
	afterRMS := rms(out)
	if afterRMS >= beforeRMS*0.5 {
		t.Fatalf("expected substantial echo reduction, before=%f after=%f", beforeRMS, afterRMS)
	}
}

func TestAECPassesUncorrelatedCapture(t *testing.T) {
	sr := 48000
	frame := FrameMs * sr / 1000
	aec := NewAEC(sr, 1)

	render := sineFloat32(300, sr, frame, 0.5)
	aec.PushRender(render)

	voice := sineFloat32(1200, sr, frame, 0.5)
	out, err := aec.Process(voice)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if math.Abs(rms(out)-rms(voice)) > rms(voice)*0.2 {
		t.Fatalf("expected uncorrelated capture to pass through roughly unchanged: before=%f after=%f", rms(voice), rms(out))
	}
}

func TestAECDisabledPassesThrough(t *testing.T) {
	aec := NewAEC(48000, 1)
	aec.SetEnabled(false)
	capture := sineFloat32(440, 48000, 480, 0.5)
	out, err := aec.Process(capture)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	for i := range capture {
		if out[i] != capture[i] {
			t.Fatalf("expected passthrough at index %d", i)
		}
	}
}
