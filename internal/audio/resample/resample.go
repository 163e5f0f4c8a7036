// Package resample wraps github.com/tphakala/go-audio-resampler for
// the two fixed-ratio mono resamplers the HFP bridge needs: 8kHz→48kHz
// on the way to the USB codec, 48kHz→8kHz on the way back to the SCO
// link. Each is created once per direction at session start and fed
// one 10ms block at a time. The whole external API surface is isolated
// to New/Process/Close below so a signature change upstream touches one
// file.
package resample

import (
	"fmt"

	goresampler "github.com/tphakala/go-audio-resampler"
)

// Resampler converts one mono int16 PCM stream from inRate to outRate.
// It is not safe for concurrent use; the bridge engine owns one per
// direction and drives it from its single worker goroutine.
type Resampler struct {
	backend *goresampler.Resampler
	inRate  int
	outRate int
}

// New builds a mono resampler from inRate to outRate, both in Hz.
func New(inRate, outRate int) (*Resampler, error) {
	backend, err := goresampler.New(1, float64(inRate), float64(outRate))
	if err != nil {
		return nil, fmt.Errorf("resample: create %dHz->%dHz: %w", inRate, outRate, err)
	}
	return &Resampler{backend: backend, inRate: inRate, outRate: outRate}, nil
}

// Process converts one block of mono int16 samples at the input rate
// to the equivalent block at the output rate. The returned slice's
// length is implied by the rate ratio and is only approximately
// len(in)*outRate/inRate: callers that need an exact per-10ms frame
// count truncate or zero-pad the result themselves (FitFrame) rather
// than asking the resampler to hit an exact length.
func (r *Resampler) Process(in []int16) ([]int16, error) {
	out, err := r.backend.Resample(in)
	if err != nil {
		return nil, fmt.Errorf("resample: process: %w", err)
	}
	return out, nil
}

// Close releases any native resources the backend holds.
func (r *Resampler) Close() error {
	return r.backend.Close()
}

// FitFrame returns exactly n samples: frame truncated if it ran long,
// or frame with trailing silence if the resampler came up short. The
// bridge engine calls this after every Process so a rounding blip in
// the backend's ratio arithmetic never desynchronizes the fixed 10ms
// block size the rest of the pipeline assumes.
func FitFrame(frame []int16, n int) []int16 {
	if len(frame) == n {
		return frame
	}
	out := make([]int16, n)
	copy(out, frame)
	return out
}
