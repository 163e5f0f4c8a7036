// Package serialport owns one character-device file: open/close,
// blocking read/write, DTR control and hangup-on-exit.
package serialport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/term"

	"github.com/caraudio/dmhd-hfp-bridge/internal/logging"
)

// Port is one open serial connection to the DMHD-1000 tuner.
//
// Re-opening after Close is allowed. ReadOne blocks until a byte arrives
// or the port is closed out from under it, in which case it returns an
// error the caller treats as "stop reading".
type Port struct {
	log *log.Logger

	mu      sync.Mutex
	path    string
	baud    int
	fd      *term.Term
	hangup  bool
	dtrLine dtrLine
}

// dtrLine abstracts the physical control line backing SetDTR. The normal
// case is the UART's own DTR pin (termDTR); carrier boards that wire the
// DMHD-1000's power/mode pin to a GPIO header instead use gpioDTR (see
// WithGPIODTR). path is the port's device path; the GPIO backend
// ignores it.
type dtrLine interface {
	Set(path string, on bool) error
	Close() error
}

// Option configures a Port at construction.
type Option func(*Port)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(p *Port) { p.log = l }
}

// New builds a Port for devicename (e.g. "/dev/ttyUSB0") at the given
// baud rate. baud of 0 leaves the line speed alone. The device is not
// opened until Open is called.
func New(devicename string, baud int, opts ...Option) *Port {
	p := &Port{
		log:     logging.Discard(),
		path:    devicename,
		baud:    baud,
		dtrLine: termDTR{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// supportedBauds mirrors the termios speeds the DMHD-1000 link actually
// uses; anything else is rejected rather than silently downgraded.
var supportedBauds = map[int]bool{
	0: true, 1200: true, 2400: true, 4800: true, 9600: true,
	19200: true, 38400: true, 57600: true, 115200: true,
}

// Open opens the character device in raw mode (8N1, no flow control, no
// modem-control lines, non-canonical) and sets the line speed to the
// baud given to New (0 leaves it alone). No read timeout is set: a read
// blocks until a byte arrives or the port is closed. Calling Open on an
// already-open Port closes and reopens it.
func (p *Port) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !supportedBauds[p.baud] {
		return fmt.Errorf("serialport: unsupported speed %d", p.baud)
	}
	if p.fd != nil {
		_ = p.fd.Close()
		p.fd = nil
	}

	// term.RawMode configures 8N1, no flow control, no modem-control
	// lines, non-canonical blocking reads. Speed 0 means "leave it
	// alone", so it's applied after open rather than as an Open option.
	fd, err := term.Open(p.path, term.RawMode)
	if err != nil {
		return fmt.Errorf("serialport: open %s: %w", p.path, err)
	}
	if p.baud != 0 {
		if err := fd.SetSpeed(p.baud); err != nil {
			_ = fd.Close()
			return fmt.Errorf("serialport: set speed %d on %s: %w", p.baud, p.path, err)
		}
	}
	p.fd = fd
	p.log.Info("opened serial port", "path", p.path, "baud", p.baud)
	return nil
}

// Close closes the device. If HangupOnExit(true) was requested, DTR is
// dropped first so the far end sees a clean disconnect.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fd == nil {
		return nil
	}
	if p.hangup {
		_ = p.dtrLine.Set(p.path, false)
	}
	err := p.fd.Close()
	p.fd = nil
	if err != nil {
		return fmt.Errorf("serialport: close %s: %w", p.path, err)
	}
	return nil
}

// Write sends data on the wire, returning the number of bytes written.
func (p *Port) Write(data []byte) (int, error) {
	p.mu.Lock()
	fd := p.fd
	p.mu.Unlock()

	if fd == nil {
		return 0, errors.New("serialport: write on closed port")
	}
	n, err := fd.Write(data)
	if err != nil {
		return n, fmt.Errorf("serialport: write: %w", err)
	}
	if n != len(data) {
		return n, fmt.Errorf("serialport: short write: wrote %d of %d bytes", n, len(data))
	}
	return n, nil
}

// ReadOne blocks until exactly one byte arrives, or the port errors out
// (including because it was closed concurrently).
func (p *Port) ReadOne() (byte, error) {
	p.mu.Lock()
	fd := p.fd
	p.mu.Unlock()

	if fd == nil {
		return 0, errors.New("serialport: read on closed port")
	}
	var buf [1]byte
	n, err := fd.Read(buf[:])
	if err != nil {
		return 0, fmt.Errorf("serialport: read: %w", err)
	}
	if n != 1 {
		return 0, errors.New("serialport: short read")
	}
	return buf[0], nil
}

// SetDTR raises or lowers the DTR control line (the device's power/mode
// line), via whichever dtrLine backend was configured.
func (p *Port) SetDTR(on bool) error {
	p.mu.Lock()
	fd, line, path := p.fd, p.dtrLine, p.path
	p.mu.Unlock()
	if fd == nil {
		return errors.New("serialport: set DTR on closed port")
	}
	return line.Set(path, on)
}

// HangupOnExit configures whether Close drops DTR before closing the fd,
// mirroring the termios HUPCL behaviour.
func (p *Port) HangupOnExit(hangup bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hangup = hangup
}
