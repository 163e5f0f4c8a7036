package codebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestLookupKnownAndUnknown(t *testing.T) {
	cmd, ok := Lookup("tune")
	require.True(t, ok)
	assert.Equal(t, Opcode{0x02, 0x01}, cmd.Code)
	assert.Equal(t, FormatBandInt, cmd.Format)

	_, ok = Lookup("definitely-not-a-command")
	assert.False(t, ok)
}

func TestNameReversesEveryRegisteredOpcode(t *testing.T) {
	for _, c := range commands {
		name, ok := Name(c.Code)
		require.True(t, ok, "command %q has no reverse mapping", c.Name)
		// hdhwversion shares hdapiversion's opcode; the reverse map
		// resolves shared codes to whichever name registered first, so
		// only require that the resolved name maps back to the same code.
		resolved, ok := Lookup(name)
		require.True(t, ok)
		assert.Equal(t, c.Code, resolved.Code)
	}
}

func TestScaledCommands(t *testing.T) {
	for _, name := range []string{"volume", "bass", "treble"} {
		cmd := MustLookup(name)
		assert.True(t, cmd.Scaled, "%s reports on the 0..90 device scale", name)
	}
	assert.False(t, MustLookup("signalstrength").Scaled)
}

func TestScaleValueStaysInDeviceRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.IntRange(-10, 300).Draw(t, "v")
		got := ScaleValue(v)
		assert.LessOrEqual(t, got, byte(ScaleMax))
	})
}

func TestMustLookupPanicsOnTypo(t *testing.T) {
	assert.Panics(t, func() { MustLookup("volme") })
}
