package orchestrator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caraudio/dmhd-hfp-bridge/internal/audio/hfp"
	"github.com/caraudio/dmhd-hfp-bridge/internal/audio/stream"
)

type fakeEngine struct {
	mu        sync.Mutex
	running   bool
	startCfg  hfp.Config
	startArgs []*stream.Stream
	starts    int
	stops     int
}

func (f *fakeEngine) Start(cfg hfp.Config, suspend ...*stream.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	f.startCfg = cfg
	f.startArgs = suspend
	f.starts++
	return nil
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.stops++
	return nil
}

func (f *fakeEngine) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func TestApplyParametersCardAssignsUSBAndBTIndexes(t *testing.T) {
	o := New(stream.NewSharedState(), &fakeEngine{})
	require.NoError(t, o.ApplyParameters("card=1"))
	o.mu.Lock()
	defer o.mu.Unlock()
	assert.Equal(t, 1, o.usbCard)
	assert.Equal(t, 0, o.btCard)
}

func TestApplyParametersHFPEnableStartsAndStopsEngine(t *testing.T) {
	fe := &fakeEngine{}
	o := New(stream.NewSharedState(), fe)
	require.NoError(t, o.ApplyParameters("card=0;hfp_enable=true"))
	assert.Equal(t, 1, fe.starts)
	assert.Equal(t, 0, fe.startCfg.USBCard)
	assert.Equal(t, 1, fe.startCfg.BTCard)

	require.NoError(t, o.ApplyParameters("hfp_enable=false"))
	assert.Equal(t, 1, fe.stops)
}

func TestApplyParametersLineInStoresFlag(t *testing.T) {
	o := New(stream.NewSharedState(), &fakeEngine{})
	require.NoError(t, o.ApplyParameters("line_in_ctl=play"))
	o.mu.Lock()
	assert.True(t, o.lineIn)
	o.mu.Unlock()

	require.NoError(t, o.ApplyParameters("line_in_ctl=off"))
	o.mu.Lock()
	assert.False(t, o.lineIn)
	o.mu.Unlock()
}

func TestApplyParametersMalformedPairIsSkippedNotFatal(t *testing.T) {
	o := New(stream.NewSharedState(), &fakeEngine{})
	assert.NoError(t, o.ApplyParameters("card=0;garbage;line_in_ctl=play"))
	o.mu.Lock()
	assert.True(t, o.lineIn)
	o.mu.Unlock()
}

func TestSetMasterVolumeAlwaysReturnsNil(t *testing.T) {
	o := New(stream.NewSharedState(), &fakeEngine{})
	assert.NoError(t, o.SetMasterVolume(0.5))
	o.mu.Lock()
	assert.InDelta(t, 0.5, o.masterVolume, 0.0001)
	o.mu.Unlock()
}

func TestRegisterAndUnregisterStream(t *testing.T) {
	o := New(stream.NewSharedState(), &fakeEngine{})
	s := &stream.Stream{}
	o.RegisterStream(s)
	o.mu.Lock()
	assert.Len(t, o.suspend, 1)
	o.mu.Unlock()

	o.UnregisterStream(s)
	o.mu.Lock()
	assert.Empty(t, o.suspend)
	o.mu.Unlock()
}
