// Package apm defines the one-channel voice-processing contract the
// HFP bridge needs from a WebRTC-style audio processing module (echo
// cancellation, noise suppression, automatic gain control, a high-pass
// filter) and selects a build-tag-gated backend implementing it: one
// plain interface in this file, one real backend behind a cgo build
// tag, one stub behind its absence.
package apm

import "errors"

// errBlockSize is returned by the stub backend when callers pass a
// frame that isn't exactly one 10 ms block. The cgo backend reports the
// same condition with its own error values.
var errBlockSize = errors.New("apm: frame is not one 10ms block")

// Config is the fixed processing configuration applied at HFP session
// start. Every field is set once per session and never changed mid-call.
type Config struct {
	HighPassFilter    bool
	EchoCancel        bool
	DriftCompensation bool
	NoiseSuppression  NoiseLevel
	AGCMode           AGCMode
	AGCMinLevel       int
	AGCMaxLevel       int
}

// NoiseLevel mirrors the WebRTC APM's ns level enum.
type NoiseLevel int

const (
	NoiseLow NoiseLevel = iota
	NoiseModerate
	NoiseHigh
	NoiseVeryHigh
)

// AGCMode mirrors the WebRTC APM's gain-control mode enum.
type AGCMode int

const (
	AGCAdaptiveAnalog AGCMode = iota
	AGCAdaptiveDigital
	AGCFixedDigital
)

// SessionConfig is the fixed configuration used for every HFP call:
// HPF on, AEC on with drift compensation off, moderate NS, adaptive
// analog AGC over [0,255].
var SessionConfig = Config{
	HighPassFilter:    true,
	EchoCancel:        true,
	DriftCompensation: false,
	NoiseSuppression:  NoiseModerate,
	AGCMode:           AGCAdaptiveAnalog,
	AGCMinLevel:       0,
	AGCMaxLevel:       255,
}

// Processor is one mono voice-processing stream, block-synchronous at
// the frame size its Factory was given (always 10 ms blocks here).
// AnalyzeReverseStream must be called with the far-end reference block
// before the matching ProcessStream call for AEC to have a reference.
type Processor interface {
	// AnalyzeReverseStream submits a far-end (received) mono block as
	// the acoustic echo reference.
	AnalyzeReverseStream(frame []int16) error

	// ProcessStream runs the full near-end chain (HPF, AEC against the
	// last AnalyzeReverseStream block, NS, AGC) on frame in place.
	ProcessStream(frame []int16) error

	// Close releases any native resources held by the processor.
	Close() error
}

// Factory builds a Processor for one mono stream at sampleRate Hz,
// configured per cfg. Frame size is implied by sampleRate/100 (this
// repository only ever runs 10 ms blocks).
type Factory interface {
	New(sampleRate int, cfg Config) (Processor, error)
}
