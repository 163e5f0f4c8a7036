// Package stream implements the per-direction ALSA PCM facade: a
// profile negotiated against real hardware through
// github.com/yobert/alsa, standby/reopen semantics, and channel-count
// conversion so a host that wants N channels can ride on hardware that
// only offers M. While an HFP session owns the cards, every stream's
// Read/Write silently succeeds without touching hardware; the bridge
// engine has exclusive use of the PCMs for the call's duration.
package stream

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	yalsa "github.com/yobert/alsa"

	"github.com/charmbracelet/log"

	"github.com/caraudio/dmhd-hfp-bridge/internal/logging"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radioerr"
)

// Direction is playback (host writes, device plays) or capture (device
// records, host reads).
type Direction int

const (
	Playback Direction = iota
	Capture
)

// Format is the PCM sample format this facade supports.
type Format int

const (
	FormatS16LE Format = iota
	FormatS32LE
)

func (f Format) bytesPerSample() int {
	if f == FormatS32LE {
		return 4
	}
	return 2
}

func (f Format) alsaFormat() yalsa.FormatType {
	if f == FormatS32LE {
		return yalsa.S32_LE
	}
	return yalsa.S16_LE
}

// ChannelMask is a bitmask of channel positions, up to 8 channels. A
// mask of 0 ("none") means "query": the facade picks a default and
// reports what it chose back to the caller.
type ChannelMask uint8

const maxChannels = 8

// Count returns how many channels mask selects.
func (m ChannelMask) Count() int {
	n := 0
	for i := 0; i < maxChannels; i++ {
		if m&(1<<uint(i)) != 0 {
			n++
		}
	}
	return n
}

// defaultMask returns the positional mask for n channels: <=2 channels
// use a plain low-bit positional mask; >2 channels use an explicit
// index-assignment mask occupying the low n bits — both shapes
// collapse to the same low-n-bits representation in this 8-channel
// model, since there's no surround-position table to diverge on.
func defaultMask(n int) ChannelMask {
	if n <= 0 {
		n = 1
	}
	if n > maxChannels {
		n = maxChannels
	}
	return ChannelMask(1<<uint(n)) - 1
}

// Config is the parameters a host requests when opening a stream.
type Config struct {
	Rate        int
	Format      Format
	ChannelMask ChannelMask
}

// Address identifies the hardware endpoint: "card=N;device=M".
type Address struct {
	Card   int
	Device int
}

// ParseAddress parses the "card=N;device=M" form a host passes when
// opening a stream. Unknown keys are ignored; a missing key leaves the
// zero value in place.
func ParseAddress(s string) (Address, error) {
	var a Address
	for _, pair := range strings.Split(s, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return Address{}, fmt.Errorf("stream: address %q: %w", s, err)
		}
		switch key {
		case "card":
			a.Card = n
		case "device":
			a.Device = n
		}
	}
	return a, nil
}

// sharedState tracks facts that span every open Stream: whether an HFP
// session currently owns both cards, and the rate a ≥96kHz playback
// stream locked input streams to. One instance is shared by every
// Stream the orchestrator creates.
type sharedState struct {
	mu           sync.Mutex
	hfpActive    bool
	lockedRate   int
	lockedActive bool
}

// SharedState is the cross-stream coordination handle stream.Open needs;
// one instance is shared by every Stream opened and by the HFP engine.
type SharedState struct {
	s *sharedState
}

// NewSharedState returns a fresh, idle SharedState.
func NewSharedState() *SharedState {
	return &SharedState{s: &sharedState{}}
}

// SetHFPActive is called by the HFP engine when an HFP session starts
// or ends; while active, every Stream's Read/Write becomes a no-op.
func (s *SharedState) SetHFPActive(active bool) {
	s.s.mu.Lock()
	defer s.s.mu.Unlock()
	s.s.hfpActive = active
}

func (s *SharedState) hfpActiveNow() bool {
	s.s.mu.Lock()
	defer s.s.mu.Unlock()
	return s.s.hfpActive
}

// Stream is one open (or standby) PCM direction.
type Stream struct {
	log *log.Logger

	shared *SharedState
	dir    Direction
	addr   Address

	preMu sync.Mutex
	mu    sync.Mutex

	cfg     Config
	hw      Config
	standby bool
	dev     *yalsa.Device

	micMuted bool
	scratch  []byte
}

// Option configures a Stream at construction.
type Option func(*Stream)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(s *Stream) { s.log = l }
}

// Open negotiates cfg against the hardware at addr and returns the
// Stream plus the configuration actually in effect. If the requested
// rate/format isn't supported, the returned Config reflects what the
// hardware negotiated and err is ErrInvalidArguments so the host knows
// to re-read the parameters; the Stream itself is still usable at the
// negotiated settings.
func Open(shared *SharedState, dir Direction, addr Address, cfg Config, opts ...Option) (*Stream, Config, error) {
	s := &Stream{
		log:    logging.Discard(),
		shared: shared,
		dir:    dir,
		addr:   addr,
		cfg:    cfg,
	}
	for _, o := range opts {
		o(s)
	}

	maskWasQuery := cfg.ChannelMask == 0
	if maskWasQuery {
		cfg.ChannelMask = defaultMask(2)
		s.cfg.ChannelMask = cfg.ChannelMask
	}

	shared.s.mu.Lock()
	rateLocked := shared.s.lockedActive && cfg.Rate != shared.s.lockedRate
	shared.s.mu.Unlock()
	if dir == Capture && rateLocked {
		return nil, Config{}, radioerr.ErrInvalidArguments
	}

	negotiated, mismatch, err := s.open()
	if err != nil {
		return nil, Config{}, err
	}
	s.hw = negotiated
	s.cfg.Rate = negotiated.Rate
	s.cfg.Format = negotiated.Format
	if maskWasQuery {
		s.cfg.ChannelMask = defaultMask(negotiated.ChannelMask.Count())
	}

	if dir == Playback && negotiated.Rate >= 96000 {
		shared.s.mu.Lock()
		shared.s.lockedActive = true
		shared.s.lockedRate = negotiated.Rate
		shared.s.mu.Unlock()
	}

	if mismatch {
		return s, s.cfg, radioerr.ErrInvalidArguments
	}
	return s, s.cfg, nil
}

// open finds and negotiates the PCM device. The caller must guarantee
// exclusive access to s: Open calls it before the Stream is shared, and
// reopenLocked holds s.mu.
func (s *Stream) open() (Config, bool, error) {
	cards, err := yalsa.OpenCards()
	if err != nil {
		return Config{}, false, fmt.Errorf("stream: open cards: %w", err)
	}
	defer yalsa.CloseCards(cards)

	var dev *yalsa.Device
	for _, card := range cards {
		if card.Number != s.addr.Card {
			continue
		}
		devices, err := card.Devices()
		if err != nil {
			continue
		}
		for _, d := range devices {
			if d.Type != yalsa.PCM || d.Number != s.addr.Device {
				continue
			}
			wantsPlayback := s.dir == Playback && d.Play
			wantsCapture := s.dir == Capture && d.Record
			if wantsPlayback || wantsCapture {
				dev = d
			}
		}
	}
	if dev == nil {
		return Config{}, false, fmt.Errorf("stream: no matching ALSA device at card=%d;device=%d", s.addr.Card, s.addr.Device)
	}

	if err := dev.Open(); err != nil {
		return Config{}, false, fmt.Errorf("stream: device open: %w", err)
	}

	mismatch := false

	wantChannels := s.cfg.ChannelMask.Count()
	channels, err := dev.NegotiateChannels(wantChannels)
	if err != nil {
		dev.Close()
		return Config{}, false, fmt.Errorf("stream: negotiate channels: %w", err)
	}
	if channels != wantChannels {
		mismatch = true
	}

	rate, err := dev.NegotiateRate(s.cfg.Rate)
	if err != nil {
		dev.Close()
		return Config{}, false, fmt.Errorf("stream: negotiate rate: %w", err)
	}
	if rate != s.cfg.Rate {
		mismatch = true
	}

	fmtGot, err := dev.NegotiateFormat(s.cfg.Format.alsaFormat())
	if err != nil {
		dev.Close()
		return Config{}, false, fmt.Errorf("stream: negotiate format: %w", err)
	}
	gotFormat := FormatS16LE
	if fmtGot == yalsa.S32_LE {
		gotFormat = FormatS32LE
	}
	if gotFormat != s.cfg.Format {
		mismatch = true
	}

	if _, err := dev.NegotiatePeriodSize(1024); err != nil {
		dev.Close()
		return Config{}, false, fmt.Errorf("stream: negotiate period size: %w", err)
	}
	if _, err := dev.NegotiateBufferSize(1024 * 4); err != nil {
		dev.Close()
		return Config{}, false, fmt.Errorf("stream: negotiate buffer size: %w", err)
	}
	if err := dev.Prepare(); err != nil {
		dev.Close()
		return Config{}, false, fmt.Errorf("stream: prepare: %w", err)
	}

	s.dev = dev
	s.standby = false

	return Config{Rate: rate, Format: gotFormat, ChannelMask: defaultMask(channels)}, mismatch, nil
}

// Standby closes the underlying PCM handle; the next Read/Write
// transparently reopens it at the last negotiated settings.
func (s *Stream) Standby() error {
	s.preMu.Lock()
	defer s.preMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return nil
	}
	err := s.dev.Close()
	s.dev = nil
	s.standby = true
	if err != nil {
		return fmt.Errorf("stream: standby close: %w", err)
	}
	return nil
}

// Config returns the host-side parameters in effect: the rate and
// format negotiated at Open plus the channel mask the host reads and
// writes in.
func (s *Stream) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetMicMuted controls whether Read zero-fills instead of returning
// captured audio; it has no effect on a playback Stream.
func (s *Stream) SetMicMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.micMuted = muted
}

func (s *Stream) reopenLocked() error {
	cfg, _, err := s.open()
	if err != nil {
		return err
	}
	s.hw = cfg
	return nil
}

// Write sends n bytes of host-format PCM. While an HFP session owns the
// hardware, it's a pure no-op that reports success so the host never
// sees an error it would otherwise surface to the user.
func (s *Stream) Write(buf []byte) (int, error) {
	s.preMu.Lock()
	defer s.preMu.Unlock()

	if s.shared.hfpActiveNow() {
		return len(buf), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		if err := s.reopenLocked(); err != nil {
			return 0, err
		}
	}

	hwChannels := s.hw.ChannelMask.Count()
	out := s.convertChannelsLocked(buf, s.cfg.ChannelMask.Count(), hwChannels)
	frames := len(out) / (hwChannels * s.hw.Format.bytesPerSample())
	if err := s.dev.Write(out, frames); err != nil {
		return 0, fmt.Errorf("stream: write: %w", err)
	}
	return len(buf), nil
}

// Read fills buf with up to len(buf) bytes of captured PCM. While an
// HFP session owns the hardware it's a no-op that reports success; if
// the mic is muted it returns silence instead of touching the device.
func (s *Stream) Read(buf []byte) (int, error) {
	s.preMu.Lock()
	defer s.preMu.Unlock()

	if s.shared.hfpActiveNow() {
		return len(buf), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.micMuted {
		for i := range buf {
			buf[i] = 0
		}
		return len(buf), nil
	}

	if s.dev == nil {
		if err := s.reopenLocked(); err != nil {
			return 0, err
		}
	}

	hwChannels := s.hw.ChannelMask.Count()
	wantChannels := s.cfg.ChannelMask.Count()
	bps := s.hw.Format.bytesPerSample()
	hwLen := len(buf) / wantChannels / bps * hwChannels * bps
	if cap(s.scratch) < hwLen {
		s.scratch = make([]byte, hwLen)
	}
	raw := s.scratch[:hwLen]
	if err := s.dev.Read(raw); err != nil {
		return 0, fmt.Errorf("stream: read: %w", err)
	}
	converted := s.convertChannelsLocked(raw, hwChannels, wantChannels)
	n := copy(buf, converted)
	return n, nil
}

// convertChannelsLocked expands or reduces an interleaved PCM buffer
// from fromChannels to toChannels by duplicating or discarding
// channels, sample-size aware. Callers hold s.mu.
func (s *Stream) convertChannelsLocked(buf []byte, fromChannels, toChannels int) []byte {
	if fromChannels == toChannels || fromChannels == 0 || toChannels == 0 {
		return buf
	}
	bps := s.hw.Format.bytesPerSample()
	frameIn := fromChannels * bps
	if frameIn == 0 || len(buf)%frameIn != 0 {
		return buf
	}
	frames := len(buf) / frameIn
	out := make([]byte, frames*toChannels*bps)
	for f := 0; f < frames; f++ {
		in := buf[f*frameIn : f*frameIn+frameIn]
		o := out[f*toChannels*bps : f*toChannels*bps+toChannels*bps]
		for ch := 0; ch < toChannels; ch++ {
			srcCh := ch
			if srcCh >= fromChannels {
				srcCh = fromChannels - 1
			}
			copy(o[ch*bps:ch*bps+bps], in[srcCh*bps:srcCh*bps+bps])
		}
	}
	return out
}

// Close releases the PCM handle for good; the Stream is not reusable
// afterward.
func (s *Stream) Close() error {
	s.preMu.Lock()
	defer s.preMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil
	}
	err := s.dev.Close()
	s.dev = nil
	if err != nil {
		return fmt.Errorf("stream: close: %w", err)
	}
	return nil
}
