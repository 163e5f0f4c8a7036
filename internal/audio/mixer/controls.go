package mixer

// DefaultBalance is the per-channel scaling vector SetMasterVolume
// applies on top of the requested overall volume: front L/R at full
// scale, rear L/R attenuated, the remaining four channels silent.
var DefaultBalance = [8]float64{1.0, 1.0, 0.75, 0.75, 0, 0, 0, 0}

const (
	lineInControlName = "Line Playback Switch"
	volumeControlName = "Speaker Playback Volume"
)

// control is the subset of *Control's behaviour the scaling/clamping
// logic below needs. Mixer.open returns this interface rather than the
// concrete type so tests can substitute a fake that never opens a real
// ioctl fd, instead of requiring hardware to exercise the pure
// arithmetic in SetHFPVolume/SetMasterVolume.
type control interface {
	RangeMax() int
	NumValues() int
	SetValue(index, value int) error
	Close() error
}

// Mixer is a handle on one sound card's named controls.
type Mixer struct {
	card      int
	open      func(card int, name string) (control, error)
	hfpActive func() bool
}

// New returns a Mixer for the given ALSA card index. hfpActive is
// consulted by SetLineIn, which is only allowed to change hardware
// while no HFP session is running.
func New(card int, hfpActive func() bool) *Mixer {
	return &Mixer{
		card:      card,
		open:      func(card int, name string) (control, error) { return Open(card, name) },
		hfpActive: hfpActive,
	}
}

// SetLineIn toggles the line-input passthrough switch, unless an HFP
// session currently owns the hardware, in which case it's a silent
// no-op rather than an error.
func (m *Mixer) SetLineIn(on bool) error {
	if m.hfpActive() {
		return nil
	}
	ctl, err := m.open(m.card, lineInControlName)
	if err != nil {
		return err
	}
	defer ctl.Close()

	val := 0
	if on {
		val = 1
	}
	return ctl.SetValue(0, val)
}

// SetHFPVolume linearly scales the speaker volume control's first two
// (front) channels to volume/15 of its range and silences the rest.
// volume is clamped to [1,15].
func (m *Mixer) SetHFPVolume(volume int) error {
	if volume < 1 {
		volume = 1
	}
	if volume > 15 {
		volume = 15
	}

	ctl, err := m.open(m.card, volumeControlName)
	if err != nil {
		return err
	}
	defer ctl.Close()

	max := ctl.RangeMax()
	n := ctl.NumValues()
	scaled := int(float64(max) * (float64(volume) / 15.0))
	for i := 0; i < n; i++ {
		v := 0
		if i < 2 {
			v = scaled
		}
		if err := ctl.SetValue(i, v); err != nil {
			return err
		}
	}
	return nil
}

// SetMasterVolume scales the same speaker volume control across every
// channel using DefaultBalance. Individual channel-write failures are
// swallowed so the host framework never falls back to a software
// volume stage on top of this control.
func (m *Mixer) SetMasterVolume(volume float64) error {
	ctl, err := m.open(m.card, volumeControlName)
	if err != nil {
		return err
	}
	defer ctl.Close()

	max := ctl.RangeMax()
	n := ctl.NumValues()
	for i := 0; i < n; i++ {
		bal := 0.0
		if i < len(DefaultBalance) {
			bal = DefaultBalance[i]
		}
		_ = ctl.SetValue(i, int(float64(max)*bal*volume))
	}
	return nil
}
