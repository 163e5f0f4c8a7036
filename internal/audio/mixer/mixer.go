// Package mixer gives the orchestrator named-control access to the USB
// codec: line-in passthrough, HFP call volume and master volume.
// yobert/alsa (already used by internal/audio/stream for PCM) exposes
// no element/control surface, so this talks to /dev/snd/controlCN
// directly via the same SNDRV_CTL_ELEM_* ioctls tinyalsa issues under
// the hood.
package mixer

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	elemIfaceMixer = 2 // SNDRV_CTL_ELEM_IFACE_MIXER
	nameLen        = 44
	maxValues      = 128
)

// ioctl request codes for SNDRV_CTL_IOCTL_ELEM_{INFO,READ,WRITE}, fixed
// kernel ABI values on every Linux ALSA build.
const (
	iocElemInfo  = 0xC2D85511
	iocElemRead  = 0xC2D85512
	iocElemWrite = 0xC2D85513
)

// elemID names a control element, matching struct snd_ctl_elem_id.
type elemID struct {
	NumID     uint32
	Iface     int32
	Device    uint32
	Subdevice uint32
	Name      [nameLen]byte
	Index     uint32
}

// elemInfo matches the front of struct snd_ctl_elem_info: enough fields
// to read back a control's value count and its max range.
type elemInfo struct {
	ID         elemID
	Type       int32
	Access     uint32
	Count      uint32
	_          int32
	_          [3]uint32
	valueUnion [8]int64 // covers {min,max,step} for integer controls
	reserved   [128]byte
}

// elemValue matches struct snd_ctl_elem_value: enough to read/write up
// to maxValues integer control values.
type elemValue struct {
	ID       elemID
	Indirect uint32
	Value    [maxValues]int64
	Reserved [128 - 8]byte
}

// Control is one open handle to a named mixer element on one card.
type Control struct {
	fd   int
	id   elemID
	max  int
	size int
}

// Open finds the control named name on ALSA card N's control device
// (/dev/snd/controlCN) and returns a handle to it.
func Open(card int, name string) (*Control, error) {
	fd, err := unix.Open(fmt.Sprintf("/dev/snd/controlC%d", card), unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("mixer: open control device for card %d: %w", card, err)
	}

	var info elemInfo
	info.ID.Iface = elemIfaceMixer
	info.ID.Name = encodeName(name)

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), iocElemInfo, uintptr(unsafe.Pointer(&info))); errno != 0 {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mixer: control %q not found: %w", name, errno)
	}

	c := &Control{
		fd:   fd,
		id:   info.ID,
		max:  int(info.valueUnion[1]),
		size: int(info.Count),
	}
	return c, nil
}

// Close releases the control device handle.
func (c *Control) Close() error {
	return unix.Close(c.fd)
}

// RangeMax returns the control's maximum integer value.
func (c *Control) RangeMax() int { return c.max }

// NumValues returns how many independent values the control holds (one
// per channel, for a multi-channel volume control).
func (c *Control) NumValues() int { return c.size }

// SetValue writes value into the control's channel-index-th slot,
// leaving the other slots as they were.
func (c *Control) SetValue(index, value int) error {
	if index < 0 || index >= maxValues {
		return fmt.Errorf("mixer: control value index %d out of range", index)
	}

	var v elemValue
	v.ID = c.id
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), iocElemRead, uintptr(unsafe.Pointer(&v))); errno != 0 {
		return fmt.Errorf("mixer: read current value: %w", errno)
	}
	v.Value[index] = int64(value)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), iocElemWrite, uintptr(unsafe.Pointer(&v))); errno != 0 {
		return fmt.Errorf("mixer: write value: %w", errno)
	}
	return nil
}

// encodeName packs a control name into the fixed-width field the
// kernel ABI expects, truncating anything longer.
func encodeName(name string) [nameLen]byte {
	var b [nameLen]byte
	copy(b[:], name)
	return b
}
