package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// While an HFP session owns the cards, every stream must report full
// success from Write and Read without ever reaching the PCM layer — a
// zero-value Stream has no device at all, so any hardware touch here
// would panic.
func TestWriteAndReadNoOpDuringHFPSession(t *testing.T) {
	shared := NewSharedState()
	shared.SetHFPActive(true)
	s := &Stream{shared: shared}

	buf := make([]byte, 256)
	n, err := s.Write(buf)
	assert.NoError(t, err)
	assert.Equal(t, len(buf), n)

	n, err = s.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, len(buf), n)
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("card=2;device=1")
	assert.NoError(t, err)
	assert.Equal(t, Address{Card: 2, Device: 1}, a)

	a, err = ParseAddress("card=3")
	assert.NoError(t, err)
	assert.Equal(t, Address{Card: 3}, a)

	_, err = ParseAddress("card=notanumber")
	assert.Error(t, err)
}

func TestChannelMaskCount(t *testing.T) {
	assert.Equal(t, 0, ChannelMask(0).Count())
	assert.Equal(t, 1, defaultMask(1).Count())
	assert.Equal(t, 2, defaultMask(2).Count())
	assert.Equal(t, 6, defaultMask(6).Count())
	assert.Equal(t, 8, defaultMask(100).Count())
}

func TestConvertChannelsMonoToStereoDuplicates(t *testing.T) {
	s := &Stream{hw: Config{Format: FormatS16LE}}
	mono := []byte{0x01, 0x02}
	stereo := s.convertChannelsLocked(mono, 1, 2)
	assert.Equal(t, []byte{0x01, 0x02, 0x01, 0x02}, stereo)
}

func TestConvertChannelsStereoToMonoDropsRight(t *testing.T) {
	s := &Stream{hw: Config{Format: FormatS16LE}}
	stereo := []byte{0x01, 0x02, 0x03, 0x04}
	mono := s.convertChannelsLocked(stereo, 2, 1)
	assert.Equal(t, []byte{0x01, 0x02}, mono)
}

func TestConvertChannelsIdentityNoAlloc(t *testing.T) {
	s := &Stream{hw: Config{Format: FormatS16LE}}
	buf := []byte{0x01, 0x02, 0x03, 0x04}
	out := s.convertChannelsLocked(buf, 2, 2)
	assert.Equal(t, buf, out)
}

func TestConvertChannelsPropertyPreservesFrameCount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := rapid.IntRange(1, 8).Draw(t, "from")
		to := rapid.IntRange(1, 8).Draw(t, "to")
		frames := rapid.IntRange(0, 32).Draw(t, "frames")
		bps := 2

		buf := make([]byte, frames*from*bps)
		for i := range buf {
			buf[i] = byte(i)
		}

		s := &Stream{hw: Config{Format: FormatS16LE}}
		out := s.convertChannelsLocked(buf, from, to)
		if from == to {
			assert.Equal(t, buf, out)
			return
		}
		assert.Equal(t, frames*to*bps, len(out))
	})
}
