// Package announce is a thin wrapper over github.com/brutella/dnssd
// that advertises the rigctld-subset TCP endpoint over mDNS/DNS-SD, so
// a companion laptop can find the bridge without a fixed IP.
package announce

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"

	"github.com/caraudio/dmhd-hfp-bridge/internal/logging"
)

// ServiceType is the mDNS/DNS-SD service type the bridge registers
// under.
const ServiceType = "_dmhdbridge._tcp"

// Announcer runs a dnssd responder for the lifetime of the process.
type Announcer struct {
	log *log.Logger

	responder dnssd.Responder
	cancel    context.CancelFunc
}

// Option configures an Announcer at construction.
type Option func(*announceConfig)

type announceConfig struct {
	log *log.Logger
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(c *announceConfig) { c.log = l }
}

// Start registers name (or a sensible default if empty) at port and
// begins responding to mDNS queries in the background. Call Close to
// stop responding and withdraw the announcement.
func Start(name string, port int, opts ...Option) (*Announcer, error) {
	cfg := announceConfig{log: logging.Discard()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if name == "" {
		name = "DMHD-1000 Bridge"
	}

	svc, err := dnssd.NewService(dnssd.Config{
		Name: name,
		Type: ServiceType,
		Port: port,
		Text: map[string]string{"proto": "rigctld-subset"},
	})
	if err != nil {
		return nil, fmt.Errorf("announce: create service: %w", err)
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("announce: create responder: %w", err)
	}
	if _, err := responder.Add(svc); err != nil {
		return nil, fmt.Errorf("announce: add service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Announcer{log: cfg.log, responder: responder, cancel: cancel}

	go func() {
		if err := responder.Respond(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("dns-sd responder stopped", "error", err)
		}
	}()

	a.log.Info("announcing bridge over mDNS", "name", name, "type", ServiceType, "port", port)
	return a, nil
}

// Close withdraws the announcement and stops responding.
func (a *Announcer) Close() error {
	a.cancel()
	return nil
}
