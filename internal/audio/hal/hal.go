// Package hal adapts the orchestrator and the stream facade to the
// shape the host's audio HAL expects: one device handle with
// open/close stream entry points and the usual set_* knobs, plus
// per-stream objects whose immutable properties refuse modification
// instead of pretending to apply it.
package hal

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/caraudio/dmhd-hfp-bridge/internal/audio/stream"
	"github.com/caraudio/dmhd-hfp-bridge/internal/logging"
	"github.com/caraudio/dmhd-hfp-bridge/internal/orchestrator"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radioerr"
)

// Mode mirrors the host's audio mode enum; only the values this bridge
// reacts to are named.
type Mode int

const (
	ModeNormal Mode = iota
	ModeRingtone
	ModeInCall
	ModeInCommunication
)

// periodFrames and periodCount shape every buffer-size answer the HAL
// gives; they match the PCM negotiation in the stream facade.
const (
	periodFrames = 1024
	periodCount  = 4
)

// pcmStream is the slice of *stream.Stream behaviour the per-stream
// wrappers need, kept narrow so tests can substitute a fake without
// real ALSA hardware behind it.
type pcmStream interface {
	Write(buf []byte) (int, error)
	Read(buf []byte) (int, error)
	Standby() error
	Close() error
	Config() stream.Config
	SetMicMuted(muted bool)
}

// Device is the HAL-facing device handle. One exists per process.
type Device struct {
	log    *log.Logger
	orc    *orchestrator.Orchestrator
	shared *stream.SharedState

	mu       sync.Mutex
	mode     Mode
	micMuted bool
	inputs   []*InputStream
}

// Option configures a Device at construction.
type Option func(*Device)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(d *Device) { d.log = l }
}

// New returns a Device routing parameter changes through orc and
// coordinating stream suspension through shared.
func New(orc *orchestrator.Orchestrator, shared *stream.SharedState, opts ...Option) *Device {
	d := &Device{
		log:    logging.Discard(),
		orc:    orc,
		shared: shared,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// InitCheck reports whether the device is usable; construction cannot
// half-succeed, so this is always nil.
func (d *Device) InitCheck() error { return nil }

// SetVoiceVolume maps the host's 0.0..1.0 call volume onto the 1..15
// HFP volume range.
func (d *Device) SetVoiceVolume(volume float64) error {
	return d.orc.ApplyParameters(fmt.Sprintf("hfp_volume=%d", voiceVolumeToHFPLevel(volume)))
}

// voiceVolumeToHFPLevel maps 0.0..1.0 to 1..15, clamping out-of-range
// input rather than rejecting it.
func voiceVolumeToHFPLevel(volume float64) int {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	level := 1 + int(volume*14+0.5)
	if level > 15 {
		level = 15
	}
	return level
}

// SetMasterVolume applies the overall output volume. It never fails:
// a non-nil return would push the host into software volume emulation.
func (d *Device) SetMasterVolume(volume float64) error {
	return d.orc.SetMasterVolume(volume)
}

// SetMode records the host's audio mode. The HFP session itself is
// driven by the hfp_enable parameter, not the mode, so this is pure
// bookkeeping.
func (d *Device) SetMode(mode Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = mode
	return nil
}

// SetMicMute mutes or unmutes every open input stream.
func (d *Device) SetMicMute(muted bool) error {
	d.mu.Lock()
	d.micMuted = muted
	inputs := append([]*InputStream(nil), d.inputs...)
	d.mu.Unlock()

	for _, in := range inputs {
		in.dev.SetMicMuted(muted)
	}
	return nil
}

// GetMicMute reports the flag set by SetMicMute.
func (d *Device) GetMicMute() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.micMuted
}

// SetParameters forwards a "k1=v1;k2=v2" string to the orchestrator.
func (d *Device) SetParameters(kvpairs string) error {
	return d.orc.ApplyParameters(kvpairs)
}

// GetParameters answers parameter queries. Nothing this bridge holds
// is worth querying back yet, so every key reads as unset.
func (d *Device) GetParameters(keys string) string { return "" }

// GetInputBufferSize returns the byte size of one capture period for
// the given configuration.
func (d *Device) GetInputBufferSize(cfg stream.Config) int {
	return bufferBytes(cfg, periodFrames)
}

// OpenOutputStream opens a playback stream at address ("card=N;device=M")
// and registers it for HFP suspension. The returned Config is what the
// hardware actually accepted; on radioerr.ErrInvalidArguments the host
// should re-query and retry with it.
func (d *Device) OpenOutputStream(address string, cfg stream.Config) (*OutputStream, stream.Config, error) {
	addr, err := stream.ParseAddress(address)
	if err != nil {
		return nil, stream.Config{}, err
	}
	s, got, err := stream.Open(d.shared, stream.Playback, addr, cfg, stream.WithLogger(d.log))
	if err != nil && s == nil {
		return nil, got, err
	}
	d.orc.RegisterStream(s)
	return &OutputStream{dev: s, raw: s}, got, err
}

// CloseOutputStream unregisters and closes a stream returned by
// OpenOutputStream.
func (d *Device) CloseOutputStream(s *OutputStream) error {
	d.orc.UnregisterStream(s.raw)
	return s.dev.Close()
}

// OpenInputStream opens a capture stream at address and registers it
// for HFP suspension and device-wide mic muting.
func (d *Device) OpenInputStream(address string, cfg stream.Config) (*InputStream, stream.Config, error) {
	addr, err := stream.ParseAddress(address)
	if err != nil {
		return nil, stream.Config{}, err
	}
	s, got, err := stream.Open(d.shared, stream.Capture, addr, cfg, stream.WithLogger(d.log))
	if err != nil && s == nil {
		return nil, got, err
	}
	in := &InputStream{dev: s, raw: s}

	d.mu.Lock()
	s.SetMicMuted(d.micMuted)
	d.inputs = append(d.inputs, in)
	d.mu.Unlock()

	d.orc.RegisterStream(s)
	return in, got, err
}

// CloseInputStream unregisters and closes a stream returned by
// OpenInputStream.
func (d *Device) CloseInputStream(s *InputStream) error {
	d.mu.Lock()
	for i, existing := range d.inputs {
		if existing == s {
			d.inputs = append(d.inputs[:i], d.inputs[i+1:]...)
			break
		}
	}
	d.mu.Unlock()

	d.orc.UnregisterStream(s.raw)
	return s.dev.Close()
}

// Dump describes the device state for the host's debug dump.
func (d *Device) Dump() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("mode=%d mic_muted=%v inputs=%d", d.mode, d.micMuted, len(d.inputs))
}

// OutputStream is one playback stream handed to the host.
type OutputStream struct {
	dev pcmStream
	raw *stream.Stream

	mu      sync.Mutex
	written uint64
}

// SampleRate returns the negotiated rate in Hz.
func (o *OutputStream) SampleRate() int { return o.dev.Config().Rate }

// SetSampleRate refuses: the rate is fixed at open time.
func (o *OutputStream) SetSampleRate(int) error { return radioerr.ErrInvalidArguments }

// BufferSize returns the byte size of one playback period.
func (o *OutputStream) BufferSize() int { return bufferBytes(o.dev.Config(), periodFrames) }

// Channels returns the stream's channel mask.
func (o *OutputStream) Channels() stream.ChannelMask { return o.dev.Config().ChannelMask }

// Format returns the stream's PCM sample format.
func (o *OutputStream) Format() stream.Format { return o.dev.Config().Format }

// SetFormat refuses: the format is fixed at open time.
func (o *OutputStream) SetFormat(stream.Format) error { return radioerr.ErrInvalidArguments }

// Standby releases the PCM handle until the next Write.
func (o *OutputStream) Standby() error { return o.dev.Standby() }

// Dump describes the stream for the host's debug dump.
func (o *OutputStream) Dump() string {
	cfg := o.dev.Config()
	return fmt.Sprintf("out rate=%d channels=%d", cfg.Rate, cfg.ChannelMask.Count())
}

// SetParameters accepts and ignores routing hints; nothing per-stream
// is reconfigurable after open.
func (o *OutputStream) SetParameters(string) error { return nil }

// GetParameters answers per-stream queries; every key reads as unset.
func (o *OutputStream) GetParameters(string) string { return "" }

// AddAudioEffect is a no-op; effects run in the host, not here.
func (o *OutputStream) AddAudioEffect(int) error { return nil }

// RemoveAudioEffect is a no-op.
func (o *OutputStream) RemoveAudioEffect(int) error { return nil }

// Latency reports the full buffer depth as the worst-case latency.
func (o *OutputStream) Latency() time.Duration {
	rate := o.dev.Config().Rate
	if rate <= 0 {
		return 0
	}
	return time.Duration(periodFrames*periodCount) * time.Second / time.Duration(rate)
}

// SetVolume refuses: volume runs through the device mixer controls,
// not per-stream scaling.
func (o *OutputStream) SetVolume(left, right float64) error { return radioerr.ErrInvalidArguments }

// Write sends PCM to the hardware (or silently succeeds while an HFP
// session owns it) and advances the presentation counter.
func (o *OutputStream) Write(buf []byte) (int, error) {
	n, err := o.dev.Write(buf)
	if n > 0 {
		cfg := o.dev.Config()
		frame := cfg.ChannelMask.Count() * formatBytes(cfg.Format)
		if frame > 0 {
			o.mu.Lock()
			o.written += uint64(n / frame)
			o.mu.Unlock()
		}
	}
	return n, err
}

// RenderPosition refuses; the hardware offers no DSP-side render
// counter to report.
func (o *OutputStream) RenderPosition() (uint32, error) {
	return 0, radioerr.ErrInvalidArguments
}

// PresentationPosition reports frames accepted so far and the moment
// of the report.
func (o *OutputStream) PresentationPosition() (uint64, time.Time, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.written, time.Now(), nil
}

// NextWriteTimestamp refuses; writes are paced by blocking, not by
// timestamp.
func (o *OutputStream) NextWriteTimestamp() (time.Time, error) {
	return time.Time{}, radioerr.ErrInvalidArguments
}

// InputStream is one capture stream handed to the host.
type InputStream struct {
	dev pcmStream
	raw *stream.Stream
}

// SampleRate returns the negotiated rate in Hz.
func (i *InputStream) SampleRate() int { return i.dev.Config().Rate }

// SetSampleRate refuses: the rate is fixed at open time.
func (i *InputStream) SetSampleRate(int) error { return radioerr.ErrInvalidArguments }

// BufferSize returns the byte size of one capture period.
func (i *InputStream) BufferSize() int { return bufferBytes(i.dev.Config(), periodFrames) }

// Channels returns the stream's channel mask.
func (i *InputStream) Channels() stream.ChannelMask { return i.dev.Config().ChannelMask }

// Format returns the stream's PCM sample format.
func (i *InputStream) Format() stream.Format { return i.dev.Config().Format }

// SetFormat refuses: the format is fixed at open time.
func (i *InputStream) SetFormat(stream.Format) error { return radioerr.ErrInvalidArguments }

// Standby releases the PCM handle until the next Read.
func (i *InputStream) Standby() error { return i.dev.Standby() }

// Dump describes the stream for the host's debug dump.
func (i *InputStream) Dump() string {
	cfg := i.dev.Config()
	return fmt.Sprintf("in rate=%d channels=%d", cfg.Rate, cfg.ChannelMask.Count())
}

// SetParameters accepts and ignores routing hints.
func (i *InputStream) SetParameters(string) error { return nil }

// GetParameters answers per-stream queries; every key reads as unset.
func (i *InputStream) GetParameters(string) string { return "" }

// AddAudioEffect is a no-op.
func (i *InputStream) AddAudioEffect(int) error { return nil }

// RemoveAudioEffect is a no-op.
func (i *InputStream) RemoveAudioEffect(int) error { return nil }

// Read fills buf with captured PCM, or silence if the mic is muted.
func (i *InputStream) Read(buf []byte) (int, error) { return i.dev.Read(buf) }

func bufferBytes(cfg stream.Config, frames int) int {
	return frames * cfg.ChannelMask.Count() * formatBytes(cfg.Format)
}

func formatBytes(f stream.Format) int {
	if f == stream.FormatS32LE {
		return 4
	}
	return 2
}
