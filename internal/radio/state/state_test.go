package state

import (
	"encoding/binary"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/callback"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/codebook"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/protocol"
)

// recordingCallback is a callback.V1_1 that just appends every event it
// receives, in arrival order, so tests can assert on what the
// dispatcher actually fired rather than just its side effects on the
// cache.
type recordingCallback struct {
	tuneCompletes   []callback.ProgramInfo
	tuneCompletes11 []callback.ProgramSelector
	infoChanges     []callback.ProgramInfo
}

func (r *recordingCallback) TuneComplete(result callback.Result, info callback.ProgramInfo) {
	r.tuneCompletes = append(r.tuneCompletes, info)
}

func (r *recordingCallback) ConfigChange(callback.Result, callback.BandConfig) {}

func (r *recordingCallback) TuneComplete11(result callback.Result, selector callback.ProgramSelector) {
	r.tuneCompletes11 = append(r.tuneCompletes11, selector)
}

func (r *recordingCallback) CurrentProgramInfoChanged(info callback.ProgramInfo) {
	r.infoChanges = append(r.infoChanges, info)
}

// tuneReplyValue builds the raw payload bytes a decoded "tune" Reply
// carries for band/freq, matching FormatBandInt's layout (band at
// offset 0, little-endian frequency at offset 4..6).
func tuneReplyValue(band codebook.Band, freq uint16) []byte {
	raw := make([]byte, 6)
	raw[0] = byte(band)
	binary.LittleEndian.PutUint16(raw[4:6], freq)
	return raw
}

func TestCacheLastWriterWinsDistinctKeys(t *testing.T) {
	c := NewCache()
	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set(fmt.Sprintf("key%d", i), fmt.Sprintf("val%d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.Equal(t, fmt.Sprintf("val%d", i), c.Get(fmt.Sprintf("key%d", i)))
	}
}

func TestCacheLastWriterWinsSameKey(t *testing.T) {
	c := NewCache()
	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set("shared", fmt.Sprintf("val%d", i))
		}(i)
	}
	wg.Wait()

	got := c.Get("shared")
	require.NotEmpty(t, got)
	var seen int
	_, err := fmt.Sscanf(got, "val%d", &seen)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, seen, 0)
	assert.Less(t, seen, n)
}

func TestCacheAbsentKeyDefaults(t *testing.T) {
	c := NewCache()
	assert.Equal(t, "", c.Get("nope"))
	assert.Equal(t, -1, c.GetInt("nope"))
	assert.False(t, c.GetBool("nope"))
}

func TestSignalStrengthMapping(t *testing.T) {
	cases := []struct {
		raw  int
		want int
	}{
		{0, 0},
		{399, 0},
		{400, 0},
		{1536, 46},
		{2850, 100},
		{2851, 100},
		{5000, 100},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, signalStrengthPercent(tc.raw), "raw=%d", tc.raw)
	}
}

func TestSignalStrengthMappingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := rapid.IntRange(-1000, 10000).Draw(t, "r")
		got := signalStrengthPercent(r)
		switch {
		case r < 400:
			assert.Equal(t, 0, got)
		case r > 2850:
			assert.Equal(t, 100, got)
		default:
			assert.Equal(t, (r-400)*100/2450, got)
		}
	})
}

// A bare tune reply alone (no signalstrength reply yet) must surface
// tuned, stereo, not digital, signalStrength=50 and the LIVE flag, on
// both TuneComplete/TuneComplete11 and CurrentProgramInfoChanged.
func TestHandleTuneEmitsDummyInfoWithFiftyPercentSignal(t *testing.T) {
	cache := NewCache()
	cb := &recordingCallback{}
	d := NewDispatcher(cache, cb)

	d.HandleReply(&protocol.Reply{Name: "tune", Value: tuneReplyValue(codebook.BandFM, 975), Known: true})

	require.True(t, d.Tuned(), "handleTune must mark the session tuned")
	require.Len(t, cb.tuneCompletes, 1)
	require.Len(t, cb.tuneCompletes11, 1)
	require.Len(t, cb.infoChanges, 1, "a tune reply must also emit CurrentProgramInfoChanged")

	want := callback.ProgramInfo{
		Selector: callback.ProgramSelector{
			ProgramType: callback.ProgramTypeFM,
			PrimaryID:   callback.Identifier{Type: callback.ProgramTypeFM, Value: 9750},
		},
		Tuned:          true,
		Stereo:         true,
		Digital:        false,
		SignalStrength: 50,
		Flags:          callback.FlagLive,
	}
	assert.Equal(t, want, cb.tuneCompletes[0])
	assert.Equal(t, want, cb.infoChanges[0])
	assert.Equal(t, want.Selector, cb.tuneCompletes11[0])
}

func TestTuneReplyCachesBandAwareDisplayString(t *testing.T) {
	cache := NewCache()
	d := NewDispatcher(cache, nil)

	d.HandleReply(&protocol.Reply{Name: "tune", Value: tuneReplyValue(codebook.BandFM, 975), Known: true})
	assert.Equal(t, "97.5 FM", cache.Get("tune"))

	d.HandleReply(&protocol.Reply{Name: "tune", Value: tuneReplyValue(codebook.BandAM, 1060), Known: true})
	assert.Equal(t, "1060 AM", cache.Get("tune"))
}

func TestHandleTuneClearsCachedRDSStrings(t *testing.T) {
	cache := NewCache()
	d := NewDispatcher(cache, nil)
	cache.Set("rdsprogramservice", "KEXP")
	cache.Set("rdsradiotext", "Now Playing")
	cache.Set("rdsgenre", "Alternative")

	d.HandleReply(&protocol.Reply{Name: "tune", Value: tuneReplyValue(codebook.BandFM, 981), Known: true})

	assert.Empty(t, cache.Get("rdsprogramservice"))
	assert.Empty(t, cache.Get("rdsradiotext"))
	assert.Empty(t, cache.Get("rdsgenre"))
}

func TestHandleTuneDropsImplausibleFrequency(t *testing.T) {
	cache := NewCache()
	cb := &recordingCallback{}
	d := NewDispatcher(cache, cb)

	// 20000 is outside both the FM and AM plausibility windows; only a
	// corrupted reply could carry it.
	d.HandleReply(&protocol.Reply{Name: "tune", Value: tuneReplyValue(codebook.BandFM, 20000), Known: true})

	assert.False(t, d.Tuned())
	assert.Empty(t, cb.tuneCompletes)
	assert.Empty(t, cb.infoChanges)
}

func TestHandleSeekEmitsUntunedInfo(t *testing.T) {
	cache := NewCache()
	cb := &recordingCallback{}
	d := NewDispatcher(cache, cb)

	d.HandleReply(&protocol.Reply{Name: "seek", Value: tuneReplyValue(codebook.BandFM, 993), Known: true})

	require.Len(t, cb.infoChanges, 1)
	assert.False(t, cb.infoChanges[0].Tuned)
	assert.EqualValues(t, 9930, cb.infoChanges[0].Selector.PrimaryID.Value)
	assert.Empty(t, cb.tuneCompletes, "a seek reply is not a tune completion")
}

func TestRDSRepliesRefreshMetadata(t *testing.T) {
	cache := NewCache()
	cb := &recordingCallback{}
	d := NewDispatcher(cache, cb)

	d.HandleReply(&protocol.Reply{Name: "tune", Value: tuneReplyValue(codebook.BandFM, 975), Known: true})
	d.HandleReply(&protocol.Reply{Name: "rdsprogramservice", Value: stringReplyValue("KEXP"), Known: true})
	d.HandleReply(&protocol.Reply{Name: "rdsradiotext", Value: stringReplyValue("Now Playing"), Known: true})
	d.HandleReply(&protocol.Reply{Name: "rdsgenre", Value: stringReplyValue("Alternative"), Known: true})

	require.Len(t, cb.infoChanges, 4)
	last := cb.infoChanges[3]
	assert.Equal(t, "KEXP", last.Metadata.ProgramService)
	assert.Equal(t, "Now Playing", last.Metadata.RadioText)
	assert.Equal(t, "Alternative", last.Metadata.Genre)
}

func TestSignalStrengthReplyRefreshesInfo(t *testing.T) {
	cache := NewCache()
	cb := &recordingCallback{}
	d := NewDispatcher(cache, cb)

	d.HandleReply(&protocol.Reply{Name: "tune", Value: tuneReplyValue(codebook.BandFM, 975), Known: true})
	d.HandleReply(&protocol.Reply{Name: "signalstrength", Value: intReplyValue(1536), Known: true})

	require.Len(t, cb.infoChanges, 2)
	assert.Equal(t, 46, cb.infoChanges[1].SignalStrength)
	assert.Equal(t, "1536", cache.Get("signalstrength"))
}

func TestClosedGateUpdatesCacheButEmitsNothing(t *testing.T) {
	cache := NewCache()
	cb := &recordingCallback{}
	d := NewDispatcher(cache, cb, WithGate(func() bool { return false }))

	d.HandleReply(&protocol.Reply{Name: "tune", Value: tuneReplyValue(codebook.BandFM, 975), Known: true})

	assert.True(t, d.Tuned(), "the cache and snapshot still update behind a closed gate")
	assert.Empty(t, cb.tuneCompletes)
	assert.Empty(t, cb.infoChanges)
}

// stringReplyValue lays out a string-format reply value: 32-bit
// little-endian length, then the ASCII bytes.
func stringReplyValue(s string) []byte {
	raw := make([]byte, 4+len(s))
	binary.LittleEndian.PutUint32(raw[0:4], uint32(len(s)))
	copy(raw[4:], s)
	return raw
}

// intReplyValue lays out an int-format reply value: 16-bit
// little-endian at offset 0.
func intReplyValue(v uint16) []byte {
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint16(raw[0:2], v)
	return raw
}
