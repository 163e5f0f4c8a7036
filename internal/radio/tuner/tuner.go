// Package tuner implements the AM/FM tuner session facade: one session
// mutex gating every operation's preconditions, a deferred scheduler
// applying the nominal device-response delays, and the small amount of
// session state (current configuration, current selector) the host's
// tune/scan/step/configure operations act on.
package tuner

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/caraudio/dmhd-hfp-bridge/internal/logging"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/callback"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/codebook"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/protocol"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/state"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radioerr"
)

// Class distinguishes the two tuner personalities the host framework can
// ask for; this bridge only ever drives AM/FM hardware, but SatDT exists
// so TuneByProgramSelector and SetConfiguration can reject a class
// mismatch cleanly rather than panicking.
type Class int

const (
	ClassAMFM Class = iota
	ClassSatDT
)

// Delays are the nominal scheduler waits applied to each operation kind,
// standing in for the DMHD-1000's real response latency.
type Delays struct {
	Configure time.Duration
	Seek      time.Duration
	Step      time.Duration
	Tune      time.Duration
}

// DefaultDelays are the empirically-tuned waits for the DMHD-1000 link.
var DefaultDelays = Delays{
	Configure: 50 * time.Millisecond,
	Seek:      200 * time.Millisecond,
	Step:      100 * time.Millisecond,
	Tune:      150 * time.Millisecond,
}

// StepDirection is the direction argument to Step.
type StepDirection int

const (
	StepUp StepDirection = iota
	StepDown
)

// ScanDirection is the direction argument to Scan.
type ScanDirection int

const (
	ScanUp ScanDirection = iota
	ScanDown
)

// Tuner is one AM/FM tuning session. All exported methods acquire the
// session mutex to validate preconditions synchronously and return
// immediately; the actual device interaction (and any host callback it
// triggers) happens later, on the scheduler goroutine, so a caller
// never blocks for a nominal device delay. SetLevel and SetMuted are the
// exceptions: they write their command at once.
type Tuner struct {
	log *log.Logger

	writer     io.WriteCloser
	scheduler  *Scheduler
	dispatcher *state.Dispatcher
	cache      *state.Cache
	delays     Delays

	mu               sync.Mutex
	class            Class
	closed           bool
	configured       bool
	config           callback.BandConfig
	selector         callback.ProgramSelector
	analogForced     bool
	antennaConnected bool
}

// Option configures a Tuner at construction.
type Option func(*Tuner)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(t *Tuner) { t.log = l }
}

// WithDelays overrides DefaultDelays, mainly for tests that don't want
// to wait real wall-clock milliseconds.
func WithDelays(d Delays) Option {
	return func(t *Tuner) { t.delays = d }
}

// WithClass sets the tuner personality; the default is ClassAMFM.
func WithClass(c Class) Option {
	return func(t *Tuner) { t.class = c }
}

// New returns a closed-for-business Tuner: SetConfiguration must succeed
// before any tune/seek/step operation will. writer receives every
// encoded outbound frame (normally a *serialport.Port) and is closed by
// Close; dispatcher and cache back GetProgramInformation and the
// RDS/signal-strength reads it performs.
func New(writer io.WriteCloser, dispatcher *state.Dispatcher, cache *state.Cache, opts ...Option) *Tuner {
	t := &Tuner{
		log:        logging.Discard(),
		writer:     writer,
		dispatcher: dispatcher,
		cache:      cache,
		delays:     DefaultDelays,
		class:      ClassAMFM,
	}
	for _, o := range opts {
		o(t)
	}
	t.scheduler = NewScheduler(t.log)
	return t
}

func (t *Tuner) send(name string, op codebook.Op, value []byte) {
	frame, err := protocol.Encode(name, op, value)
	if err != nil {
		t.log.Error("failed to encode command", "command", name, "error", err)
		return
	}
	if _, err := t.writer.Write(frame); err != nil {
		t.log.Error("failed to write command", "command", name, "error", err)
	}
}

func (t *Tuner) sendTune(band codebook.Band, freq uint16) {
	t.send("tune", codebook.OpSet, protocol.EncodeTune(band, freq))
}

func (t *Tuner) sendSeek(band codebook.Band, dir ScanDirection) {
	value := protocol.EncodeTune(band, 0)
	if dir == ScanUp {
		copy(value[4:8], codebook.ConstUp.Bytes())
	} else {
		copy(value[4:8], codebook.ConstDown.Bytes())
	}
	t.send("seek", codebook.OpSet, value)
}

func (t *Tuner) sendGet(name string) {
	t.send(name, codebook.OpGet, nil)
}

func programTypeToBand(pt callback.ProgramType) codebook.Band {
	if pt == callback.ProgramTypeFM {
		return codebook.BandFM
	}
	return codebook.BandAM
}

// SetConfiguration validates that config makes sense for an AM/FM tuner
// (lower < upper) and, if so, schedules the device configure sequence:
// storing the band, tuning to its lower bound as a default channel, and
// requesting a fresh signal-strength reading, then reporting
// ConfigChange(OK, config) to the host.
func (t *Tuner) SetConfiguration(config callback.BandConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return radioerr.ErrNotInitialized
	}
	if t.class != ClassAMFM {
		return radioerr.ErrInvalidState
	}
	if config.Lower >= config.Upper {
		return radioerr.ErrInvalidArguments
	}

	band := programTypeToBand(config.Type)
	lower := config.Lower

	t.scheduler.Schedule(t.delays.Configure, func() {
		t.mu.Lock()
		t.config = config
		t.configured = true
		t.antennaConnected = true
		t.selector = callback.ProgramSelector{
			ProgramType: config.Type,
			PrimaryID:   callback.Identifier{Type: config.Type, Value: uint64(lower)},
		}
		t.mu.Unlock()

		// Device bring-up before the default tune: power, RDS text on,
		// the HD decoder off (its subchannel protocol is out of scope).
		t.send("power", codebook.OpSet, protocol.EncodeBool(true))
		t.send("rdsenable", codebook.OpSet, protocol.EncodeBool(true))
		t.send("hdenablehdtuner", codebook.OpSet, protocol.EncodeBool(false))
		t.sendTune(band, uint16(lower))
		t.sendGet("signalstrength")
		if cb, ok := t.hostCallback(); ok {
			cb.ConfigChange(callback.ResultOK, config)
		}
	})
	return nil
}

// IsAntennaConnected reports whether the antenna is considered present.
// There is no sense line on this hardware, so it simply becomes true
// once a configuration has been applied.
func (t *Tuner) IsAntennaConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.antennaConnected
}

// GetConfiguration returns the last configuration accepted by
// SetConfiguration, or ok=false if none has been.
func (t *Tuner) GetConfiguration() (callback.BandConfig, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config, t.configured
}

// TuneByProgramSelector validates sel against the current configuration
// and, for AM/FM, schedules a tune command at the given frequency. Any
// non-AM/FM selector type is rejected: this bridge has no DAB/DRM/SXM
// hardware to tune.
func (t *Tuner) TuneByProgramSelector(sel callback.ProgramSelector) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return radioerr.ErrNotInitialized
	}
	if !t.configured {
		t.mu.Unlock()
		return radioerr.ErrNotInitialized
	}
	if sel.ProgramType != callback.ProgramTypeAM && sel.ProgramType != callback.ProgramTypeFM {
		t.mu.Unlock()
		return radioerr.ErrInvalidArguments
	}
	if sel.ProgramType != t.config.Type {
		t.mu.Unlock()
		return radioerr.ErrInvalidArguments
	}
	freq := int(sel.PrimaryID.Value)
	if freq < t.config.Lower || freq > t.config.Upper {
		t.mu.Unlock()
		return radioerr.ErrInvalidArguments
	}
	band := programTypeToBand(sel.ProgramType)
	t.mu.Unlock()

	t.scheduler.Schedule(t.delays.Tune, func() {
		t.sendTune(band, uint16(freq))
	})
	return nil
}

// Tune is the plain channel-only convenience form of
// TuneByProgramSelector, using the currently configured band's type.
// channel is in band units: 10kHz steps for FM, kHz for AM.
func (t *Tuner) Tune(channel int) error {
	t.mu.Lock()
	if !t.configured {
		t.mu.Unlock()
		return radioerr.ErrNotInitialized
	}
	pt := t.config.Type
	t.mu.Unlock()

	return t.TuneByProgramSelector(callback.ProgramSelector{
		ProgramType: pt,
		PrimaryID:   callback.Identifier{Type: pt, Value: uint64(channel)},
	})
}

// Scan schedules a seek in the given direction. The resulting tune (or
// lack of one, if the seek finds nothing) arrives later as a decoded
// reply through the dispatcher, not as a return value here.
func (t *Tuner) Scan(dir ScanDirection) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return radioerr.ErrNotInitialized
	}
	if !t.configured {
		t.mu.Unlock()
		return radioerr.ErrNotInitialized
	}
	band := programTypeToBand(t.config.Type)
	t.mu.Unlock()

	t.scheduler.Schedule(t.delays.Seek, func() {
		t.sendSeek(band, dir)
	})
	return nil
}

// Step moves one spacing increment from the current selector, wrapping
// to the opposite band edge when it would run off the end: past the
// upper bound wraps to the lower bound and vice versa.
func (t *Tuner) Step(dir StepDirection) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return radioerr.ErrNotInitialized
	}
	if t.class != ClassAMFM {
		t.mu.Unlock()
		return radioerr.ErrInvalidState
	}
	if !t.configured {
		t.mu.Unlock()
		return radioerr.ErrNotInitialized
	}

	spacing := 1
	if len(t.config.Spacing) > 0 && t.config.Spacing[0] > 0 {
		spacing = t.config.Spacing[0]
	}
	cur := int(t.selector.PrimaryID.Value)
	var next int
	if dir == StepUp {
		next = cur + spacing
	} else {
		next = cur - spacing
	}
	if next > t.config.Upper {
		next = t.config.Lower
	}
	if next < t.config.Lower {
		next = t.config.Upper
	}
	band := programTypeToBand(t.config.Type)
	t.mu.Unlock()

	t.scheduler.Schedule(t.delays.Step, func() {
		t.sendTune(band, uint16(next))
	})
	return nil
}

// Cancel drops any queued-but-not-yet-run tune/seek/step/configure task.
// It always succeeds: cancellation is a best-effort request, not one
// that can fail.
func (t *Tuner) Cancel() error {
	t.scheduler.Cancel()
	return nil
}

// CancelAnnouncement is a no-op: this bridge has no traffic/emergency
// announcement source to interrupt, but the host framework still calls
// it as part of the normal tuner lifecycle, so it must not error.
func (t *Tuner) CancelAnnouncement() error {
	return nil
}

// Close cancels any pending scheduled task, closes the serial link and
// marks the session dead; every subsequent operation returns
// ErrNotInitialized. Closing the link also unblocks a listener goroutine
// waiting in a read on the same port. Safe to call more than once: a
// second call returns nil without closing the link again.
func (t *Tuner) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.configured = false
	t.mu.Unlock()

	t.scheduler.Close()
	if err := t.writer.Close(); err != nil {
		return fmt.Errorf("tuner: close serial link: %w", err)
	}
	return nil
}

// GetProgramInformation returns the dispatcher's current snapshot if a
// tune has ever completed; otherwise it synthesizes a dummy
// ProgramInfo from the current selector (tuned, stereo, not digital,
// 50% signal, live) so the host always has something plausible to show
// before the first real tune reply arrives. This one method serves both
// the 1.0 and the 1.1 host call forms; there is no separate 1.1 method.
func (t *Tuner) GetProgramInformation() (callback.ProgramInfo, error) {
	t.mu.Lock()
	closed := t.closed
	selector := t.selector
	t.mu.Unlock()
	if closed {
		return callback.ProgramInfo{}, radioerr.ErrNotInitialized
	}
	if t.dispatcher == nil {
		return callback.ProgramInfo{}, radioerr.ErrNotInitialized
	}
	if t.dispatcher.Tuned() {
		return t.dispatcher.CurrentInfo(), nil
	}
	return callback.ProgramInfo{
		Selector:       selector,
		Tuned:          true,
		Stereo:         true,
		Digital:        false,
		SignalStrength: 50,
		Flags:          callback.FlagLive,
	}, nil
}

// StartBackgroundScan always reports unavailable: the DMHD-1000 link
// has no way to scan in the background without interrupting live audio.
func (t *Tuner) StartBackgroundScan() error {
	return radioerr.ErrUnavailable
}

// GetProgramList returns an empty list with ProgramListOK: there is no
// station database behind this tuner, only whatever the last scan or
// tune found, so an empty-but-successful result is the honest answer.
func (t *Tuner) GetProgramList() ([]callback.ProgramSelector, callback.ProgramListResult) {
	return nil, callback.ProgramListOK
}

// SetLevel sets one of the device's audio level controls (volume,
// bass, treble) from a 0..100 value. Levels take effect immediately
// rather than through the deferred scheduler: they don't retune
// anything, so there is no device settling delay to respect and
// nothing for a later tune/seek/step to cancel.
func (t *Tuner) SetLevel(name string, level int) error {
	cmd, ok := codebook.Lookup(name)
	if !ok || !cmd.Scaled {
		return radioerr.ErrInvalidArguments
	}
	if level < 0 || level > 100 {
		return radioerr.ErrInvalidArguments
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return radioerr.ErrNotInitialized
	}

	t.send(name, codebook.OpSet, protocol.EncodeLevel(cmd, level))
	return nil
}

// SetMuted mutes or unmutes the tuner's audio output.
func (t *Tuner) SetMuted(muted bool) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return radioerr.ErrNotInitialized
	}
	t.send("mute", codebook.OpSet, protocol.EncodeBool(muted))
	return nil
}

// SetAnalogForced toggles whether this tuner refuses to consider a
// digital (HD) signal even when one is present; AM/FM-only hardware
// keeps this as a pure preference flag with no device-side effect.
func (t *Tuner) SetAnalogForced(forced bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.analogForced = forced
}

// IsAnalogForced reports the flag set by SetAnalogForced.
func (t *Tuner) IsAnalogForced() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.analogForced
}

func (t *Tuner) hostCallback() (callback.V1, bool) {
	if t.dispatcher == nil {
		return nil, false
	}
	cb := t.dispatcher.Callback()
	return cb, cb != nil
}
