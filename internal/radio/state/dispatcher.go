package state

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/caraudio/dmhd-hfp-bridge/internal/logging"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/callback"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/codebook"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/protocol"
)

// band plausibility windows a tune/seek reply's frequency must fall
// within to be accepted; frequencies outside these are dropped rather
// than surfaced, since they can only mean a corrupted or misread reply.
const (
	fmLow, fmHigh = 8500, 10900
	amLow, amHigh = 50, 1800
)

// Gate decides whether the dispatcher emits host-visible events at
// all. It's a function rather than a stored bool so the orchestrator
// can inject a live config read if it wants one, matching the design
// note that this should be supplied at construction, not polled from
// ambient process state.
type Gate func() bool

// AlwaysOpen is a Gate that never suppresses events.
func AlwaysOpen() bool { return true }

// Dispatcher owns the value cache and turns decoded replies into cache
// writes plus, when the gate is open, host callback invocations. One
// Dispatcher corresponds to one tuner session.
type Dispatcher struct {
	log   *log.Logger
	cache *Cache
	gate  Gate

	mu       sync.Mutex
	cb       callback.V1
	selector callback.ProgramSelector
	info     callback.ProgramInfo
	tuned    bool
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithGate overrides the default always-open gate.
func WithGate(g Gate) Option {
	return func(d *Dispatcher) { d.gate = g }
}

// NewDispatcher returns a Dispatcher that reports through cb (nil is
// allowed; it just means no events are ever delivered, only the cache
// is updated).
func NewDispatcher(cache *Cache, cb callback.V1, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:   logging.Discard(),
		cache: cache,
		gate:  AlwaysOpen,
		cb:    cb,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// HandleReply is called once per checksum-valid decoded reply. It
// always updates the cache; event emission additionally requires the
// gate to be open.
func (d *Dispatcher) HandleReply(reply *protocol.Reply) {
	if reply == nil || reply.Name == "" {
		return
	}
	cmd, ok := codebook.Lookup(reply.Name)
	if !ok {
		return
	}
	value := protocol.ParseValue(cmd, reply.Value)
	d.cache.Set(reply.Name, cacheString(value))

	switch reply.Name {
	case "tune":
		d.handleTune(value)
	case "seek":
		d.handleSeek(value)
	case "rdsprogramservice":
		d.handleRDS(func(m *callback.Metadata) { m.ProgramService = value.String })
	case "rdsradiotext":
		d.handleRDS(func(m *callback.Metadata) { m.RadioText = value.String })
	case "rdsgenre":
		d.handleRDS(func(m *callback.Metadata) { m.Genre = value.String })
	case "signalstrength":
		d.handleSignalStrength(value.Int)
	}
}

func (d *Dispatcher) handleTune(v protocol.Value) {
	freq := scaledFrequency(v.Band, v.Freq)
	if !inPlausibleBand(v.Band, freq) {
		d.log.Warn("dropping tune reply outside plausible band window", "band", v.Band, "freq", freq)
		return
	}

	// A new station makes the previous station's RDS text stale.
	for _, key := range []string{"rdsprogramservice", "rdsradiotext", "rdsgenre"} {
		d.cache.Set(key, "")
	}

	d.mu.Lock()
	d.selector = callback.ProgramSelector{
		ProgramType: bandToProgramType(v.Band),
		PrimaryID:   callback.Identifier{Type: bandToProgramType(v.Band), Value: uint64(freq)},
	}
	// A bare tune reply carries no RDS or live signal-strength reading
	// yet, so the host gets a fixed stand-in (stereo, not digital, 50%
	// signal) until a real signalstrength reply refines it.
	d.info = callback.ProgramInfo{
		Selector:       d.selector,
		Tuned:          true,
		Stereo:         true,
		Digital:        false,
		SignalStrength: 50,
		Flags:          callback.FlagLive,
	}
	d.tuned = true
	info := d.info
	cb := d.cb
	d.mu.Unlock()

	if !d.gate() || cb == nil {
		return
	}
	cb.TuneComplete(callback.ResultOK, info)
	if v11, ok := cb.(callback.V1_1); ok {
		v11.TuneComplete11(callback.ResultOK, info.Selector)
		v11.CurrentProgramInfoChanged(info)
	}
}

func (d *Dispatcher) handleSeek(v protocol.Value) {
	freq := scaledFrequency(v.Band, v.Freq)
	if !inPlausibleBand(v.Band, freq) {
		return
	}

	d.mu.Lock()
	d.selector = callback.ProgramSelector{
		ProgramType: bandToProgramType(v.Band),
		PrimaryID:   callback.Identifier{Type: bandToProgramType(v.Band), Value: uint64(freq)},
	}
	d.info.Selector = d.selector
	d.info.Tuned = false
	d.tuned = false
	info := d.info
	cb := d.cb
	d.mu.Unlock()

	d.emitProgramInfoChanged(cb, info)
}

func (d *Dispatcher) handleRDS(apply func(*callback.Metadata)) {
	d.mu.Lock()
	apply(&d.info.Metadata)
	info := d.info
	cb := d.cb
	d.mu.Unlock()

	d.emitProgramInfoChanged(cb, info)
}

func (d *Dispatcher) handleSignalStrength(raw int) {
	pct := signalStrengthPercent(raw)

	d.mu.Lock()
	d.info.SignalStrength = pct
	info := d.info
	cb := d.cb
	d.mu.Unlock()

	d.emitProgramInfoChanged(cb, info)
}

// CurrentInfo returns the most recently assembled program snapshot,
// regardless of whether the gate would currently allow it to be
// delivered as an event — a direct GetProgramInformation call always
// sees live state.
func (d *Dispatcher) CurrentInfo() callback.ProgramInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// Callback returns the host callback this dispatcher reports through,
// or nil if none was supplied.
func (d *Dispatcher) Callback() callback.V1 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cb
}

// Tuned reports whether a tune reply has ever been observed. Callers
// use this to decide between CurrentInfo's live snapshot and a
// dummy ProgramInfo built from the current selector.
func (d *Dispatcher) Tuned() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tuned
}

func (d *Dispatcher) emitProgramInfoChanged(cb callback.V1, info callback.ProgramInfo) {
	if !d.gate() || cb == nil {
		return
	}
	if v11, ok := cb.(callback.V1_1); ok {
		v11.CurrentProgramInfoChanged(info)
	}
}

// signalStrengthPercent implements the raw→percent mapping: r<400→0;
// r>2850→100; otherwise (r-400)*100/2450 (integer division).
func signalStrengthPercent(r int) int {
	switch {
	case r < 400:
		return 0
	case r > 2850:
		return 100
	default:
		return (r - 400) * 100 / 2450
	}
}

// scaledFrequency converts a reply's raw frequency into channel units:
// FM replies arrive in 100kHz steps and the channel space is 10kHz
// steps, so they scale by ten; AM replies are already in kHz.
func scaledFrequency(band codebook.Band, raw uint16) int {
	if band == codebook.BandFM {
		return int(raw) * 10
	}
	return int(raw)
}

func inPlausibleBand(band codebook.Band, freq int) bool {
	if band == codebook.BandFM {
		return freq >= fmLow && freq <= fmHigh
	}
	return freq >= amLow && freq <= amHigh
}

func bandToProgramType(band codebook.Band) callback.ProgramType {
	if band == codebook.BandFM {
		return callback.ProgramTypeFM
	}
	return callback.ProgramTypeAM
}

func cacheString(v protocol.Value) string {
	switch v.Format {
	case codebook.FormatBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case codebook.FormatInt:
		return strconv.Itoa(v.Int)
	case codebook.FormatString:
		return v.String
	case codebook.FormatBandInt:
		// The device reports FM in 100kHz steps, so the display form
		// carries one decimal place; AM is plain kHz.
		if v.Band == codebook.BandFM {
			return fmt.Sprintf("%d.%d FM", v.Freq/10, v.Freq%10)
		}
		return fmt.Sprintf("%d AM", v.Freq)
	default:
		return ""
	}
}
