package serialport

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
)

// termDTR drives the UART's own DTR modem-control line with the raw
// TIOCMBIS/TIOCMBIC termios ioctls. pkg/term exposes no modem-line
// accessor and no way at its underlying descriptor, so this opens a
// second descriptor on the same device just for the ioctl: modem
// control lines belong to the device, not the file description, so the
// change is visible on the port's own fd too.
type termDTR struct{}

func (termDTR) Set(path string, on bool) error {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("serialport: open %s for DTR: %w", path, err)
	}
	defer unix.Close(fd)

	req := uint(unix.TIOCMBIC)
	if on {
		req = unix.TIOCMBIS
	}
	if err := unix.IoctlSetPointerInt(fd, req, unix.TIOCM_DTR); err != nil {
		return fmt.Errorf("serialport: set DTR: %w", err)
	}
	return nil
}

func (termDTR) Close() error { return nil }

// gpioDTR drives a GPIO line instead of the UART's DTR pin, for carrier
// boards where the tuner's power/mode input is wired to a header GPIO
// rather than through the serial adapter. Selected explicitly by
// WithGPIODTR; never auto-detected (device probing is out of scope).
type gpioDTR struct {
	line *gpiocdev.Line
}

func (g gpioDTR) Set(_ string, on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := g.line.SetValue(v); err != nil {
		return fmt.Errorf("serialport: set GPIO DTR line: %w", err)
	}
	return nil
}

func (g gpioDTR) Close() error {
	if g.line == nil {
		return nil
	}
	return g.line.Close()
}

// WithGPIODTR replaces the UART DTR line with a GPIO character-device
// line (chip e.g. "gpiochip0", offset the line number), requested as an
// output initially low. Opening the line happens immediately so
// configuration errors surface at construction, not on first SetDTR.
func WithGPIODTR(chip string, offset int) Option {
	return func(p *Port) {
		line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
		if err != nil {
			p.log.Error("failed to request GPIO DTR line, falling back to UART DTR",
				"chip", chip, "offset", offset, "error", err)
			return
		}
		p.dtrLine = gpioDTR{line: line}
	}
}
