// Package malgo provides the concrete AudioBackend (spec §6.1): capture-only
// devices built on github.com/gen2brain/malgo, the same cross-platform
// miniaudio binding and device-config pattern the teacher's
// cmd/agent/main.go uses. Nothing is played back.
package malgo

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	malgosdk "github.com/gen2brain/malgo"

	"github.com/keathmilligan/flowstt/pkg/pipeline"
)

type frame struct {
	samples  []float32
	channels int
	isRender bool
}

// Backend wraps one malgo context plus up to two capture-only devices: one
// tagged as the primary (microphone) capture stream, and an optional second
// one (a loopback/monitor device) tagged as the render stream.
type Backend struct {
	ctx *malgosdk.AllocatedContext

	mu             sync.Mutex
	captureDevice  *malgosdk.Device
	renderDevice   *malgosdk.Device
	sampleRate     int
	channels       int
	capturing      bool

	frames chan frame

	aecEnabled atomic.Bool
	mode       atomic.Int32
}

// New initializes the malgo context. Callers must call Close when done.
func New(sampleRate, channels int) (*Backend, error) {
	ctx, err := malgosdk.InitContext(nil, malgosdk.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
		frames:     make(chan frame, 64),
	}
	b.aecEnabled.Store(true)
	return b, nil
}

func (b *Backend) SampleRate() int { return b.sampleRate }

func (b *Backend) ListInputDevices() ([]pipeline.Device, error) {
	return b.listDevices(malgosdk.Capture, pipeline.SourceInput)
}

func (b *Backend) ListSystemDevices() ([]pipeline.Device, error) {
	return b.listDevices(malgosdk.Loopback, pipeline.SourceSystem)
}

func (b *Backend) listDevices(deviceType malgosdk.DeviceType, sourceType pipeline.SourceType) ([]pipeline.Device, error) {
	infos, err := b.ctx.Devices(deviceType)
	if err != nil {
		return nil, err
	}
	out := make([]pipeline.Device, 0, len(infos))
	for _, info := range infos {
		// malgo's DeviceID has no stable string form of its own; the
		// device's name is unique per enumeration and doubles as the id
		// callers pass back into StartCaptureSources.
		out = append(out, pipeline.Device{
			ID:         info.Name(),
			Name:       info.Name(),
			SourceType: sourceType,
		})
	}
	return out, nil
}

// findDeviceID re-enumerates a device type and resolves a name (as handed
// back by ListInputDevices/ListSystemDevices) to its malgo DeviceID.
func (b *Backend) findDeviceID(deviceType malgosdk.DeviceType, name string) (malgosdk.DeviceID, bool) {
	infos, err := b.ctx.Devices(deviceType)
	if err != nil {
		return malgosdk.DeviceID{}, false
	}
	for _, info := range infos {
		if info.Name() == name {
			return info.ID, true
		}
	}
	return malgosdk.DeviceID{}, false
}

// StartCaptureSources opens one or two streams (spec §6): source1, if given,
// is the primary capture device; source2, if given, is a loopback device
// tagged as render. With neither id given it returns ErrNoPrimarySource.
func (b *Backend) StartCaptureSources(source1ID, source2ID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capturing {
		return pipeline.ErrAlreadyCapturing
	}
	if source1ID == "" && source2ID == "" {
		return pipeline.ErrNoPrimarySource
	}

	if source1ID != "" {
		device, err := b.openDuplexDevice(source1ID, false)
		if err != nil {
			return err
		}
		b.captureDevice = device
		if err := device.Start(); err != nil {
			return err
		}
	}

	if source2ID != "" {
		device, err := b.openDuplexDevice(source2ID, true)
		if err != nil {
			if b.captureDevice != nil {
				b.captureDevice.Uninit()
				b.captureDevice = nil
			}
			return err
		}
		b.renderDevice = device
		if err := device.Start(); err != nil {
			return err
		}
	}

	b.capturing = true
	return nil
}

func (b *Backend) openDuplexDevice(deviceID string, isRender bool) (*malgosdk.Device, error) {
	cfg := malgosdk.DefaultDeviceConfig(malgosdk.Capture)
	cfg.Capture.Format = malgosdk.FormatF32
	cfg.Capture.Channels = uint32(b.channels)
	cfg.SampleRate = uint32(b.sampleRate)

	deviceType := malgosdk.Capture
	if isRender {
		deviceType = malgosdk.Loopback
	}
	if id, found := b.findDeviceID(deviceType, deviceID); found {
		cfg.Capture.DeviceID = id.Pointer()
	} else {
		return nil, pipeline.ErrInvalidDevice
	}

	callbacks := malgosdk.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			if pInput == nil {
				return
			}
			samples := bytesToFloat32(pInput)
			select {
			case b.frames <- frame{samples: samples, channels: b.channels, isRender: isRender}:
			default:
				// backend frame channel is SPSC and bounded; drop under
				// backpressure rather than block the audio callback.
			}
		},
	}

	return malgosdk.InitDevice(b.ctx.Context, cfg, callbacks)
}

func (b *Backend) StopCapture() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.capturing {
		return pipeline.ErrCaptureNotStarted
	}
	if b.captureDevice != nil {
		b.captureDevice.Uninit()
		b.captureDevice = nil
	}
	if b.renderDevice != nil {
		b.renderDevice.Uninit()
		b.renderDevice = nil
	}
	b.capturing = false
	return nil
}

// TryRecv is the non-blocking backend poll the Audio Loop drives.
func (b *Backend) TryRecv() (samples []float32, channels int, isRender bool, ok bool) {
	select {
	case f := <-b.frames:
		return f.samples, f.channels, f.isRender, true
	default:
		return nil, 0, false, false
	}
}

func (b *Backend) SetAECEnabled(enabled bool) { b.aecEnabled.Store(enabled) }

func (b *Backend) SetRecordingMode(mode pipeline.RecordingMode) { b.mode.Store(int32(mode)) }

// Close releases the malgo context. Call after StopCapture.
func (b *Backend) Close() error {
	b.ctx.Uninit()
	b.ctx.Free()
	return nil
}

// bytesToFloat32 decodes a little-endian IEEE-754 float32 PCM buffer, the
// same manual decode style the teacher's main.go uses for 16-bit PCM.
func bytesToFloat32(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
