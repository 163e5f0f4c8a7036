// Package orchestrator is the top-level assembly of the audio side: it
// parses the host's `k1=v1;k2=v2` parameter strings and routes them to
// the HFP engine and mixer controls. Nothing here owns a PCM handle
// itself — that's the streams' and the HFP session's job — this
// package only decides which of them gets to run.
package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/caraudio/dmhd-hfp-bridge/internal/audio/hfp"
	"github.com/caraudio/dmhd-hfp-bridge/internal/audio/mixer"
	"github.com/caraudio/dmhd-hfp-bridge/internal/audio/stream"
	"github.com/caraudio/dmhd-hfp-bridge/internal/logging"
)

const (
	keyCard                = "card"
	keyHFPSetSamplingRate  = "hfp_set_sampling_rate"
	keyHFPEnable           = "hfp_enable"
	keyHFPVolume           = "hfp_volume"
	keyLineIn              = "line_in_ctl"
	valueLineInPlay        = "play"
	defaultSCOSampleRateHz = 8000
)

// hfpEngine is the slice of *hfp.Engine's behaviour the orchestrator
// needs, narrowed to an interface so tests can drive ApplyParameters
// without opening real ALSA hardware.
type hfpEngine interface {
	Start(cfg hfp.Config, suspend ...*stream.Stream) error
	Stop() error
	Running() bool
}

// Orchestrator owns the parsed device configuration plus the engine
// and mixer collaborators it routes parameter changes to.
type Orchestrator struct {
	log *log.Logger

	shared   *stream.SharedState
	engine   hfpEngine
	newMixer func(card int, hfpActive func() bool) *mixer.Mixer

	mu            sync.Mutex
	usbCard       int
	btCard        int
	scoSampleRate int
	lineIn        bool
	masterVolume  float64
	usbMixer      *mixer.Mixer
	suspend       []*stream.Stream
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New returns an Orchestrator with no card assigned yet; ApplyParameters
// with a "card=N" pair must run before the first "hfp_enable=true"
// for Start to have anywhere to open PCMs.
func New(shared *stream.SharedState, engine hfpEngine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		log:           logging.Discard(),
		shared:        shared,
		engine:        engine,
		newMixer:      mixer.New,
		scoSampleRate: defaultSCOSampleRateHz,
		masterVolume:  1.0,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterStream tells the orchestrator about an open stream that must
// be put into standby before an HFP session opens its own PCM handles.
// The host calls this once per stream it opens.
func (o *Orchestrator) RegisterStream(s *stream.Stream) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.suspend = append(o.suspend, s)
}

// UnregisterStream removes a stream the host has closed, so a later
// HFP session doesn't try to standby a handle that no longer exists.
func (o *Orchestrator) UnregisterStream(s *stream.Stream) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.suspend {
		if existing == s {
			o.suspend = append(o.suspend[:i], o.suspend[i+1:]...)
			return
		}
	}
}

// ApplyParameters parses kvpairs as a ";"-separated list of "key=value"
// pairs and routes the recognised ones: unknown keys are ignored
// rather than rejected, and a malformed pair is skipped rather than
// aborting the rest of the string.
func (o *Orchestrator) ApplyParameters(kvpairs string) error {
	for _, pair := range strings.Split(kvpairs, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			o.log.Warn("ignoring malformed parameter pair", "pair", pair)
			continue
		}
		if err := o.applyOne(key, value); err != nil {
			o.log.Error("failed to apply parameter", "key", key, "value", value, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) applyOne(key, value string) error {
	switch key {
	case keyCard:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("orchestrator: %s: %w", key, err)
		}
		o.mu.Lock()
		o.usbCard = n
		o.btCard = (n + 1) % 2
		o.usbMixer = o.newMixer(o.usbCard, o.engine.Running)
		o.mu.Unlock()

	case keyHFPSetSamplingRate:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("orchestrator: %s: %w", key, err)
		}
		// Accepted but the actual SCO link is always forced to 8000Hz
		// regardless of what's asked for; no supported headset
		// negotiates anything else on this hardware.
		o.mu.Lock()
		o.scoSampleRate = defaultSCOSampleRateHz
		o.mu.Unlock()

	case keyHFPEnable:
		return o.setHFPEnabled(value == "true")

	case keyHFPVolume:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("orchestrator: %s: %w", key, err)
		}
		o.mu.Lock()
		m := o.usbMixer
		o.mu.Unlock()
		if m == nil {
			return fmt.Errorf("orchestrator: %s: no card configured", key)
		}
		return m.SetHFPVolume(n)

	case keyLineIn:
		o.mu.Lock()
		o.lineIn = value == valueLineInPlay
		m := o.usbMixer
		lineIn := o.lineIn
		o.mu.Unlock()
		if m == nil {
			return nil
		}
		return m.SetLineIn(lineIn)
	}
	return nil
}

func (o *Orchestrator) setHFPEnabled(enable bool) error {
	o.mu.Lock()
	cfg := hfp.Config{USBCard: o.usbCard, BTCard: o.btCard, SCOSampleRate: o.scoSampleRate}
	suspend := append([]*stream.Stream(nil), o.suspend...)
	m := o.usbMixer
	lineIn := o.lineIn
	volume := o.masterVolume
	o.mu.Unlock()

	if enable {
		if err := o.engine.Start(cfg, suspend...); err != nil {
			return fmt.Errorf("orchestrator: start HFP session: %w", err)
		}
		// The session is already marked active at this point, so the
		// mixer's own hfpActive guard makes this a no-op; the stored
		// flag is what matters once the session ends.
		if m != nil {
			_ = m.SetLineIn(lineIn)
		}
		return nil
	}

	if err := o.engine.Stop(); err != nil {
		return fmt.Errorf("orchestrator: stop HFP session: %w", err)
	}
	if m != nil {
		if err := m.SetLineIn(lineIn); err != nil {
			o.log.Warn("failed to restore line-in after HFP session", "error", err)
		}
		if err := m.SetMasterVolume(volume); err != nil {
			o.log.Warn("failed to restore master volume after HFP session", "error", err)
		}
	}
	return nil
}

// SetMasterVolume stores volume and, if a card is configured, applies
// it immediately. It always returns nil: a non-nil return would make
// the host framework fall back to software volume emulation, which
// this bridge never wants.
func (o *Orchestrator) SetMasterVolume(volume float64) error {
	o.mu.Lock()
	o.masterVolume = volume
	m := o.usbMixer
	o.mu.Unlock()
	if m != nil {
		_ = m.SetMasterVolume(volume)
	}
	return nil
}

// Close stops any running HFP session. It does not close registered
// streams; the host owns their lifecycle.
func (o *Orchestrator) Close() error {
	return o.engine.Stop()
}
