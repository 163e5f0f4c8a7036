// Package rigctl is a bench-test-only TCP server that speaks a fixed
// subset of Hamlib's rigctld line protocol against the tuner facade:
// F/f for frequency set/get, m/M for a mode report, q to close. It is
// read-only scaffolding around the tuner and has no effect on the
// tuner's own invariants.
package rigctl

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/caraudio/dmhd-hfp-bridge/internal/logging"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/callback"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/state"
)

// tuner is the slice of *tuner.Tuner the shim needs: a one-argument
// tune in band channel units. Narrowed to an interface so tests can
// drive the protocol without a real serial port underneath.
type tuner interface {
	Tune(channel int) error
}

// Server accepts rigctld-subset TCP connections and serves each on its
// own goroutine. The zero value is not usable; construct with New.
type Server struct {
	log      *log.Logger
	tuner    tuner
	dispatch *state.Dispatcher

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// Option configures a Server at construction.
type Option func(*Server)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New returns a Server bound to t for tune commands and d for
// frequency/band queries. It does not listen until Start is called.
func New(t tuner, d *state.Dispatcher, opts ...Option) *Server {
	s := &Server{
		log:      logging.Discard(),
		tuner:    t,
		dispatch: d,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds addr (e.g. ":4532", rigctld's conventional port) and
// begins accepting clients in the background. It returns once the
// listener is bound, so the caller can learn the actual address when
// addr ends in ":0".
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rigctl: listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return ln.Addr(), nil
}

// Close stops accepting new connections. Connections already accepted
// run to completion on their own goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.log.Debug("rigctl accept loop exiting", "error", err)
			return
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	s.log.Info("rigctld client connected", "remote", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply, keepOpen := s.dispatchLine(line)
		if _, err := fmt.Fprint(conn, reply); err != nil {
			s.log.Debug("rigctld write failed", "error", err)
			return
		}
		if !keepOpen {
			return
		}
	}
}

// dispatchLine handles one rigctld command line and returns the text
// to write back plus whether the connection should stay open.
func (s *Server) dispatchLine(line string) (reply string, keepOpen bool) {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "F":
		return s.handleSetFreq(rest), true
	case "f":
		return s.handleGetFreq(), true
	case "m", "M":
		return s.handleMode(), true
	case "q", "Q":
		return "RPRT 0\n", false
	default:
		return "RPRT -1\n", true
	}
}

// fmHzThreshold splits the two unit systems the tuner's channel values
// use: FM channels are 10kHz units (9750 is 97.5MHz), AM channels are
// kHz. Anything at or above 30MHz can only be an FM request.
const fmHzThreshold = 30_000_000

func (s *Server) handleSetFreq(arg string) string {
	hz, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return "RPRT -1\n"
	}
	channel := int(hz / 1000)
	if hz >= fmHzThreshold {
		channel = int(hz / 10000)
	}
	if err := s.tuner.Tune(channel); err != nil {
		return "RPRT -1\n"
	}
	return "RPRT 0\n"
}

func (s *Server) handleGetFreq() string {
	info := s.dispatch.CurrentInfo()
	unit := uint64(1000)
	if info.Selector.ProgramType == callback.ProgramTypeFM {
		unit = 10000
	}
	return fmt.Sprintf("%d\n", info.Selector.PrimaryID.Value*unit)
}

func (s *Server) handleMode() string {
	info := s.dispatch.CurrentInfo()
	mode := "AM"
	if info.Selector.ProgramType == callback.ProgramTypeFM {
		mode = "FM"
	}
	return fmt.Sprintf("%s\n0\n", mode)
}
