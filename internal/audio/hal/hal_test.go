package hal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caraudio/dmhd-hfp-bridge/internal/audio/stream"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radioerr"
)

// fakePCM satisfies pcmStream without ALSA hardware behind it.
type fakePCM struct {
	cfg      stream.Config
	written  int
	read     int
	standbys int
	muted    bool
}

func (f *fakePCM) Write(buf []byte) (int, error) { f.written += len(buf); return len(buf), nil }
func (f *fakePCM) Read(buf []byte) (int, error)  { f.read += len(buf); return len(buf), nil }
func (f *fakePCM) Standby() error                { f.standbys++; return nil }
func (f *fakePCM) Close() error                  { return nil }
func (f *fakePCM) Config() stream.Config         { return f.cfg }
func (f *fakePCM) SetMicMuted(muted bool)        { f.muted = muted }

func stereo48k() stream.Config {
	return stream.Config{Rate: 48000, Format: stream.FormatS16LE, ChannelMask: 0b11}
}

func TestOutputStreamRefusesImmutableProperties(t *testing.T) {
	o := &OutputStream{dev: &fakePCM{cfg: stereo48k()}}

	assert.ErrorIs(t, o.SetSampleRate(44100), radioerr.ErrInvalidArguments)
	assert.ErrorIs(t, o.SetFormat(stream.FormatS32LE), radioerr.ErrInvalidArguments)
	assert.ErrorIs(t, o.SetVolume(1, 1), radioerr.ErrInvalidArguments)

	_, err := o.RenderPosition()
	assert.ErrorIs(t, err, radioerr.ErrInvalidArguments)
	_, err = o.NextWriteTimestamp()
	assert.ErrorIs(t, err, radioerr.ErrInvalidArguments)
}

func TestOutputStreamReportsNegotiatedProperties(t *testing.T) {
	o := &OutputStream{dev: &fakePCM{cfg: stereo48k()}}

	assert.Equal(t, 48000, o.SampleRate())
	assert.Equal(t, 2, o.Channels().Count())
	assert.Equal(t, stream.FormatS16LE, o.Format())
	assert.Equal(t, periodFrames*2*2, o.BufferSize())
	assert.Equal(t, time.Duration(periodFrames*periodCount)*time.Second/48000, o.Latency())
}

func TestOutputStreamWriteAdvancesPresentationPosition(t *testing.T) {
	o := &OutputStream{dev: &fakePCM{cfg: stereo48k()}}

	buf := make([]byte, 480*2*2) // one 10ms stereo S16LE block
	n, err := o.Write(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	frames, _, err := o.PresentationPosition()
	require.NoError(t, err)
	assert.EqualValues(t, 480, frames)
}

func TestInputStreamRefusesImmutableProperties(t *testing.T) {
	in := &InputStream{dev: &fakePCM{cfg: stereo48k()}}

	assert.ErrorIs(t, in.SetSampleRate(8000), radioerr.ErrInvalidArguments)
	assert.ErrorIs(t, in.SetFormat(stream.FormatS32LE), radioerr.ErrInvalidArguments)
	assert.NoError(t, in.AddAudioEffect(1))
	assert.NoError(t, in.RemoveAudioEffect(1))
}

func TestGetInputBufferSize(t *testing.T) {
	d := &Device{}
	assert.Equal(t, periodFrames*2*2, d.GetInputBufferSize(stereo48k()))
}

func TestSetMicMuteFansOutToOpenInputs(t *testing.T) {
	d := &Device{}
	pcm := &fakePCM{cfg: stereo48k()}
	in := &InputStream{dev: pcm}
	d.inputs = append(d.inputs, in)

	require.NoError(t, d.SetMicMute(true))
	assert.True(t, pcm.muted)
	assert.True(t, d.GetMicMute())

	require.NoError(t, d.SetMicMute(false))
	assert.False(t, pcm.muted)
}

func TestVoiceVolumeMapsToHFPRange(t *testing.T) {
	cases := []struct {
		volume float64
		want   int
	}{
		{0.0, 1},
		{0.5, 8},
		{1.0, 15},
		{2.0, 15},
		{-1.0, 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, voiceVolumeToHFPLevel(tc.volume), "volume=%v", tc.volume)
	}
}
