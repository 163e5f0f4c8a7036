// Package listen owns the dedicated reader goroutine that turns a
// serial port's byte stream into dispatcher events: it is the glue
// between the serial port and the response decoder/state dispatcher
// that those packages don't wire up themselves.
package listen

import (
	"errors"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/caraudio/dmhd-hfp-bridge/internal/logging"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/protocol"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/state"
)

// Reader is the one serial-port operation this package needs; satisfied
// by *serialport.Port. Kept as a narrow interface so tests can feed a
// canned byte sequence without opening a real character device.
type Reader interface {
	ReadOne() (byte, error)
}

// Listener owns the decoder state machine and runs it against a Reader
// on its own goroutine until the Reader starts erroring (the owner
// closes the underlying port to signal "stop"; as the serialport.Port
// doc comment describes, a read pending when the port is closed returns
// an error, and that error ends the loop).
type Listener struct {
	log *log.Logger

	reader     Reader
	decoder    *protocol.Decoder
	dispatcher *state.Dispatcher

	doneCh chan struct{}
	once   sync.Once
}

// Option configures a Listener at construction.
type Option func(*Listener)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(ln *Listener) { ln.log = l }
}

// New returns a Listener reading from r and feeding decoded replies to
// dispatcher. Call Start to begin the goroutine.
func New(r Reader, dispatcher *state.Dispatcher, opts ...Option) *Listener {
	ln := &Listener{
		log:        logging.Discard(),
		reader:     r,
		decoder:    protocol.NewDecoder(),
		dispatcher: dispatcher,
		doneCh:     make(chan struct{}),
	}
	for _, o := range opts {
		o(ln)
	}
	return ln
}

// Start launches the reader goroutine. Calling Start more than once has
// no additional effect.
func (ln *Listener) Start() {
	ln.once.Do(func() { go ln.run() })
}

func (ln *Listener) run() {
	defer close(ln.doneCh)
	for {
		b, err := ln.reader.ReadOne()
		if err != nil {
			if !errors.Is(err, errStopped) {
				ln.log.Debug("serial read ended, listener exiting", "error", err)
			}
			return
		}
		reply, ok := ln.decoder.Feed(b)
		if !ok {
			continue
		}
		ln.dispatcher.HandleReply(reply)
	}
}

// errStopped is never actually returned by serialport.Port; it exists
// only so run's log line can stay quiet if a future Reader
// implementation wants an unsurprising "stop" sentinel instead of a
// generic I/O error.
var errStopped = errors.New("listen: stopped")

// Done returns a channel closed once the reader goroutine has exited,
// for callers that want to join it before tearing down the dispatcher
// it feeds.
func (ln *Listener) Done() <-chan struct{} {
	return ln.doneCh
}
