// Package hfp implements the HFP bridge engine: a single worker
// goroutine that, while an HFP voice call is active, owns two PCM
// cards directly (the Bluetooth SCO endpoint and the USB codec) and
// shuttles 10ms mono blocks between them through a WebRTC-style voice
// processing chain, bypassing the ordinary per-stream facade entirely
// for the session's duration. Shutdown is cooperative: the
// orchestrator raises the terminate flag and the worker exits at the
// next loop head, after the current SCO block completes.
package hfp

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	yalsa "github.com/yobert/alsa"

	"github.com/charmbracelet/log"

	"github.com/caraudio/dmhd-hfp-bridge/internal/audio/apm"
	"github.com/caraudio/dmhd-hfp-bridge/internal/audio/resample"
	"github.com/caraudio/dmhd-hfp-bridge/internal/audio/stream"
	"github.com/caraudio/dmhd-hfp-bridge/internal/logging"
)

const (
	periodSize          = 1024
	periodCount         = 4
	usbRate             = 48000
	channels            = 2
	bytesPerInt16Sample = 2
)

// Config is the fixed session configuration: which card indexes host
// the BT SCO endpoint and the USB codec, and the SCO link's sample
// rate. The rate is accepted and stored for visibility but always
// forced to 8000; no SCO link this bridge targets runs at anything
// else.
type Config struct {
	USBCard       int
	BTCard        int
	SCOSampleRate int
}

// Engine runs the bridge. One Engine exists per orchestrator; Start and
// Stop are idempotent and safe to call from the orchestrator's
// parameter-parsing goroutine while the worker goroutine runs
// concurrently.
type Engine struct {
	log        *log.Logger
	shared     *stream.SharedState
	apmFactory apm.Factory
	onExit     func()

	mu        sync.Mutex
	running   bool
	terminate atomic.Bool
	doneCh    chan struct{}
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithAPMFactory overrides the APM backend, mainly for tests that want
// the stub processor regardless of build tags.
func WithAPMFactory(f apm.Factory) Option {
	return func(e *Engine) { e.apmFactory = f }
}

// New returns an idle Engine. shared is the same SharedState every
// stream.Stream in the orchestrator was built with, so Start/Stop can
// flip its hfpActive flag; onExit is called after every PCM handle is
// closed and the flag cleared. The orchestrator restores line-in routing
// and master volume itself after Stop returns, not through onExit.
func New(shared *stream.SharedState, onExit func(), opts ...Option) *Engine {
	e := &Engine{
		log:        logging.Discard(),
		shared:     shared,
		apmFactory: apm.GetFactory(),
		onExit:     onExit,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Running reports whether a session is currently active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start begins an HFP session: every stream in suspend is put into
// standby, the shared hfpActive flag is raised so concurrent stream
// Read/Write calls become no-ops, the four PCM handles are opened before
// Start returns, and a worker goroutine begins pumping. A session
// already running makes this a no-op.
func (e *Engine) Start(cfg Config, suspend ...*stream.Stream) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.terminate.Store(false)
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	for _, s := range suspend {
		if err := s.Standby(); err != nil {
			e.log.Warn("failed to standby stream before HFP session", "error", err)
		}
	}
	e.shared.SetHFPActive(true)

	if cfg.SCOSampleRate == 0 {
		cfg.SCOSampleRate = 8000
	}

	session, err := e.open(cfg)
	if err != nil {
		e.shared.SetHFPActive(false)
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return err
	}

	go e.run(session)
	return nil
}

// Stop raises the cooperative terminate flag and blocks until the
// worker goroutine has exited its loop, closed every PCM handle and
// invoked onExit. A session not running is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	done := e.doneCh
	e.mu.Unlock()

	e.terminate.Store(true)
	<-done
	return nil
}

// session bundles the four open PCM handles plus the processing chain
// for one HFP call.
type session struct {
	btIn, btOut   *yalsa.Device
	usbIn, usbOut *yalsa.Device
	proc          apm.Processor
	to48, from48  *resample.Resampler

	framesFar  int
	framesNear int
}

func (e *Engine) open(cfg Config) (*session, error) {
	framesFar := cfg.SCOSampleRate / 100
	framesNear := usbRate / 100

	btIn, err := openPCM(cfg.BTCard, false, cfg.SCOSampleRate)
	if err != nil {
		return nil, fmt.Errorf("hfp: open BT in: %w", err)
	}
	btOut, err := openPCM(cfg.BTCard, true, cfg.SCOSampleRate)
	if err != nil {
		_ = btIn.Close()
		return nil, fmt.Errorf("hfp: open BT out: %w", err)
	}
	usbIn, err := openPCM(cfg.USBCard, false, usbRate)
	if err != nil {
		_ = btIn.Close()
		_ = btOut.Close()
		return nil, fmt.Errorf("hfp: open USB in: %w", err)
	}
	usbOut, err := openPCM(cfg.USBCard, true, usbRate)
	if err != nil {
		_ = btIn.Close()
		_ = btOut.Close()
		_ = usbIn.Close()
		return nil, fmt.Errorf("hfp: open USB out: %w", err)
	}

	proc, err := e.apmFactory.New(cfg.SCOSampleRate, apm.SessionConfig)
	if err != nil {
		_ = btIn.Close()
		_ = btOut.Close()
		_ = usbIn.Close()
		_ = usbOut.Close()
		return nil, fmt.Errorf("hfp: create APM: %w", err)
	}

	to48, err := resample.New(cfg.SCOSampleRate, usbRate)
	if err != nil {
		_ = proc.Close()
		_ = btIn.Close()
		_ = btOut.Close()
		_ = usbIn.Close()
		_ = usbOut.Close()
		return nil, fmt.Errorf("hfp: create to-48 resampler: %w", err)
	}
	from48, err := resample.New(usbRate, cfg.SCOSampleRate)
	if err != nil {
		_ = to48.Close()
		_ = proc.Close()
		_ = btIn.Close()
		_ = btOut.Close()
		_ = usbIn.Close()
		_ = usbOut.Close()
		return nil, fmt.Errorf("hfp: create from-48 resampler: %w", err)
	}

	return &session{
		btIn: btIn, btOut: btOut, usbIn: usbIn, usbOut: usbOut,
		proc: proc, to48: to48, from48: from48,
		framesFar: framesFar, framesNear: framesNear,
	}, nil
}

// openPCM finds a PCM device on card that supports the requested
// direction and negotiates it to 2 channels, S16LE, at rate, with a
// 1024-frame, 4-period buffer — the same fixed shape for both the BT
// and USB cards. Unlike internal/audio/stream, there is no
// channel-count conversion here: the hardware is expected to offer
// stereo, and if it doesn't, NegotiateChannels itself returns an error.
func openPCM(card int, playback bool, rate int) (*yalsa.Device, error) {
	cards, err := yalsa.OpenCards()
	if err != nil {
		return nil, fmt.Errorf("open cards: %w", err)
	}
	defer yalsa.CloseCards(cards)

	var dev *yalsa.Device
	for _, c := range cards {
		if c.Number != card {
			continue
		}
		devices, err := c.Devices()
		if err != nil {
			continue
		}
		for _, d := range devices {
			if d.Type != yalsa.PCM {
				continue
			}
			if playback && d.Play {
				dev = d
			}
			if !playback && d.Record {
				dev = d
			}
		}
	}
	if dev == nil {
		return nil, fmt.Errorf("no matching ALSA device on card %d", card)
	}
	if err := dev.Open(); err != nil {
		return nil, fmt.Errorf("device open: %w", err)
	}
	if _, err := dev.NegotiateChannels(channels); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("negotiate channels: %w", err)
	}
	if _, err := dev.NegotiateRate(rate); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("negotiate rate: %w", err)
	}
	if _, err := dev.NegotiateFormat(yalsa.S16_LE); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("negotiate format: %w", err)
	}
	if _, err := dev.NegotiatePeriodSize(periodSize); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("negotiate period size: %w", err)
	}
	if _, err := dev.NegotiateBufferSize(periodSize * periodCount); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("negotiate buffer size: %w", err)
	}
	if err := dev.Prepare(); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("prepare: %w", err)
	}
	return dev, nil
}

// run is the 10ms real-time loop. It owns every PCM handle exclusively
// until terminate is observed, at which point it tears the session
// down and hands control back to the stream facade via onExit.
func (e *Engine) run(s *session) {
	defer e.teardown(s)

	farStereo := make([]byte, s.framesFar*channels*bytesPerInt16Sample)
	nearStereo := make([]byte, s.framesNear*channels*bytesPerInt16Sample)

	for !e.terminate.Load() {
		if err := s.btIn.Read(farStereo); err != nil {
			e.log.Error("hfp: BT-in read failed, ending session", "error", err)
			return
		}

		farMono := stereoToMono(farStereo)
		if err := s.proc.AnalyzeReverseStream(farMono); err != nil {
			e.log.Debug("hfp: analyze reverse stream failed", "error", err)
		}

		nearMono, err := s.to48.Process(farMono)
		if err != nil {
			e.log.Error("hfp: resample to 48kHz failed", "error", err)
			continue
		}
		nearMono = resample.FitFrame(nearMono, s.framesNear)
		monoToStereo(nearMono, nearStereo)

		if err := s.usbOut.Write(nearStereo, s.framesNear); err != nil {
			e.log.Debug("hfp: USB-out write failed", "error", err)
		}

		if err := s.usbIn.Read(nearStereo); err != nil {
			e.log.Debug("hfp: USB-in read failed", "error", err)
			continue
		}
		nearMono = stereoToMono(nearStereo)

		farMono, err = s.from48.Process(nearMono)
		if err != nil {
			e.log.Error("hfp: resample to SCO rate failed", "error", err)
			continue
		}
		farMono = resample.FitFrame(farMono, s.framesFar)

		if err := s.proc.ProcessStream(farMono); err != nil {
			e.log.Debug("hfp: process stream failed", "error", err)
		}
		monoToStereo(farMono, farStereo)

		if err := s.btOut.Write(farStereo, s.framesFar); err != nil {
			e.log.Debug("hfp: BT-out write failed", "error", err)
		}
	}
}

func (e *Engine) teardown(s *session) {
	_ = s.to48.Close()
	_ = s.from48.Close()
	_ = s.proc.Close()
	_ = s.btIn.Close()
	_ = s.btOut.Close()
	_ = s.usbIn.Close()
	_ = s.usbOut.Close()

	e.shared.SetHFPActive(false)

	e.mu.Lock()
	e.running = false
	done := e.doneCh
	e.mu.Unlock()

	if e.onExit != nil {
		e.onExit()
	}
	close(done)
}

// stereoToMono discards the right channel of an interleaved S16LE
// stereo buffer.
func stereoToMono(stereo []byte) []int16 {
	frames := len(stereo) / (channels * bytesPerInt16Sample)
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		off := i * channels * bytesPerInt16Sample
		mono[i] = int16(binary.LittleEndian.Uint16(stereo[off : off+2]))
	}
	return mono
}

// monoToStereo duplicates each mono sample into both channels of dst.
func monoToStereo(mono []int16, dst []byte) {
	for i, v := range mono {
		off := i * channels * bytesPerInt16Sample
		if off+4 > len(dst) {
			break
		}
		binary.LittleEndian.PutUint16(dst[off:off+2], uint16(v))
		binary.LittleEndian.PutUint16(dst[off+2:off+4], uint16(v))
	}
}
