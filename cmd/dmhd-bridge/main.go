// Command dmhd-bridge wires the DMHD-1000 radio controller and the HFP
// audio bridge, plus the optional bench-test surfaces (rigctld shim,
// mDNS announcer), into one running process. It owns no protocol or
// audio logic itself — everything here is construction and plumbing.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/caraudio/dmhd-hfp-bridge/internal/announce"
	"github.com/caraudio/dmhd-hfp-bridge/internal/audio/hal"
	"github.com/caraudio/dmhd-hfp-bridge/internal/audio/hfp"
	"github.com/caraudio/dmhd-hfp-bridge/internal/audio/stream"
	"github.com/caraudio/dmhd-hfp-bridge/internal/config"
	"github.com/caraudio/dmhd-hfp-bridge/internal/logging"
	"github.com/caraudio/dmhd-hfp-bridge/internal/orchestrator"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/callback"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/listen"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/state"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/tuner"
	"github.com/caraudio/dmhd-hfp-bridge/internal/rigctl"
	"github.com/caraudio/dmhd-hfp-bridge/internal/serialport"
)

func main() {
	configPath := pflag.StringP("config-file", "c", "", "YAML configuration file; flags below override its values.")
	serialDevice := pflag.StringP("serial-device", "s", "", "DMHD-1000 serial device path, e.g. /dev/ttyUSB0.")
	serialBaud := pflag.IntP("serial-baud", "b", 0, "Serial baud rate. 0 keeps the config file's value.")
	usbCard := pflag.IntP("usb-card", "u", -1, "ALSA card index for the USB codec. -1 keeps the config file's value.")
	btCard := pflag.IntP("bt-card", "t", -1, "Stored as audio.bt_card; -1 keeps the config file's value. Not used: the Bluetooth SCO card is derived from the USB card.")
	verbose := pflag.BoolP("verbose", "v", false, "Enable debug-level logging.")
	pflag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *serialDevice != "" {
		cfg.Serial.Device = *serialDevice
	}
	if *serialBaud != 0 {
		cfg.Serial.Baud = *serialBaud
	}
	if *usbCard >= 0 {
		cfg.Audio.USBCard = *usbCard
	}
	if *btCard >= 0 {
		cfg.Audio.BTCard = *btCard
	}

	level := log.InfoLevel
	if *verbose {
		level = log.DebugLevel
	}

	if err := run(cfg, level); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config, level log.Level) error {
	newLogger := func(component string) *log.Logger {
		return logging.New(logging.Options{Level: level, Prefix: component, ReportTimestamp: true})
	}

	port := serialport.New(cfg.Serial.Device, cfg.Serial.Baud, serialport.WithLogger(newLogger("serial")))
	if cfg.Serial.GPIODTRChip != "" {
		port = serialport.New(cfg.Serial.Device, cfg.Serial.Baud,
			serialport.WithLogger(newLogger("serial")),
			serialport.WithGPIODTR(cfg.Serial.GPIODTRChip, cfg.Serial.GPIODTRLine))
	}
	port.HangupOnExit(cfg.Serial.HangupOnExit)
	if err := port.Open(); err != nil {
		return fmt.Errorf("dmhd-bridge: open serial port: %w", err)
	}

	cache := state.NewCache()
	cb := &loggingCallback{log: newLogger("callback")}
	dispatcher := state.NewDispatcher(cache, cb, state.WithLogger(newLogger("dispatcher")))

	radio := tuner.New(port, dispatcher, cache, tuner.WithLogger(newLogger("tuner")))
	defer radio.Close()

	ln := listen.New(port, dispatcher, listen.WithLogger(newLogger("listen")))
	ln.Start()
	// Closing the port unblocks the listener's pending read; wait for
	// it to exit before the process does, so it never logs against an
	// already-torn-down dispatcher.
	defer func() { <-ln.Done() }()
	defer port.Close()

	shared := stream.NewSharedState()
	engine := hfp.New(shared, func() {
		newLogger("hfp").Info("hfp session ended, restoring stream routing")
	}, hfp.WithLogger(newLogger("hfp")))

	orc := orchestrator.New(shared, engine, orchestrator.WithLogger(newLogger("orchestrator")))
	defer orc.Close()
	if err := orc.ApplyParameters(fmt.Sprintf("card=%d", cfg.Audio.USBCard)); err != nil {
		newLogger("orchestrator").Warn("failed to apply initial card parameter", "error", err)
	}

	// The HAL device is what a hosting framework would hold; standalone
	// runs still use it to seed the master volume so the codec isn't
	// left wherever the last boot put it.
	audioDev := hal.New(orc, shared, hal.WithLogger(newLogger("hal")))
	if err := audioDev.SetMasterVolume(1.0); err != nil {
		newLogger("hal").Warn("failed to set initial master volume", "error", err)
	}

	var stopFns []func() error
	defer func() {
		for i := len(stopFns) - 1; i >= 0; i-- {
			_ = stopFns[i]()
		}
	}()

	if cfg.Rigctl.Enabled {
		srv := rigctl.New(radio, dispatcher, rigctl.WithLogger(newLogger("rigctl")))
		addr, err := srv.Start(cfg.Rigctl.Listen)
		if err != nil {
			return fmt.Errorf("dmhd-bridge: start rigctl: %w", err)
		}
		newLogger("rigctl").Info("rigctld-subset listening", "addr", addr)
		stopFns = append(stopFns, srv.Close)

		if cfg.Announce.Enabled {
			announcePort, err := tcpPort(addr.String())
			if err != nil {
				return fmt.Errorf("dmhd-bridge: parse rigctl addr: %w", err)
			}
			a, err := announce.Start(cfg.Announce.Name, announcePort, announce.WithLogger(newLogger("announce")))
			if err != nil {
				newLogger("announce").Error("failed to start mDNS announcer", "error", err)
			} else {
				stopFns = append(stopFns, a.Close)
			}
		}
	}

	waitForSignal()
	return nil
}

// tcpPort extracts the numeric port from a net.Listener's Addr
// string, needed because rigctl.Start may be given ":0" and the
// announcer needs the OS-assigned port it actually bound.
func tcpPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

// loggingCallback is the host callback used when no real media
// framework is attached: every event is logged at debug level instead
// of driven across a process boundary. It satisfies callback.V1_1 so
// the dispatcher exercises the wider event surface too.
type loggingCallback struct {
	log *log.Logger
}

func (c *loggingCallback) TuneComplete(result callback.Result, info callback.ProgramInfo) {
	c.log.Debug("tune complete", "result", result, "frequency", info.Selector.PrimaryID.Value)
}

func (c *loggingCallback) ConfigChange(result callback.Result, config callback.BandConfig) {
	c.log.Debug("config change", "result", result, "type", config.Type)
}

func (c *loggingCallback) TuneComplete11(result callback.Result, selector callback.ProgramSelector) {
	c.log.Debug("tune complete (v1.1)", "result", result, "frequency", selector.PrimaryID.Value)
}

func (c *loggingCallback) CurrentProgramInfoChanged(info callback.ProgramInfo) {
	c.log.Debug("program info changed", "frequency", info.Selector.PrimaryID.Value, "signal", info.SignalStrength)
}
