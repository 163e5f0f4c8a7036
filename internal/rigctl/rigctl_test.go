package rigctl

import (
	"bufio"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/codebook"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/protocol"
	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/state"
)

type fakeTuner struct {
	lastChannel int
	fail        bool
}

func (f *fakeTuner) Tune(channel int) error {
	if f.fail {
		return assertError{}
	}
	f.lastChannel = channel
	return nil
}

type assertError struct{}

func (assertError) Error() string { return "tune failed" }

func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	return conn
}

func TestServerSetAndQueryFrequency(t *testing.T) {
	cache := state.NewCache()
	dispatch := state.NewDispatcher(cache, nil)
	ft := &fakeTuner{}
	s := New(ft, dispatch)

	addr, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer s.Close()

	conn := dial(t, addr)
	defer conn.Close()

	_, err = conn.Write([]byte("F 97700000\n"))
	require.NoError(t, err)
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "RPRT 0\n", line)
	require.Equal(t, 9770, ft.lastChannel, "FM hertz convert to 10kHz channel units")
}

func TestServerSetFrequencyAMUsesKHzUnits(t *testing.T) {
	cache := state.NewCache()
	dispatch := state.NewDispatcher(cache, nil)
	ft := &fakeTuner{}
	s := New(ft, dispatch)

	reply, keepOpen := s.dispatchLine("F 1060000")
	require.True(t, keepOpen)
	require.Equal(t, "RPRT 0\n", reply)
	require.Equal(t, 1060, ft.lastChannel)
}

func TestServerUnknownVerbReturnsError(t *testing.T) {
	cache := state.NewCache()
	dispatch := state.NewDispatcher(cache, nil)
	s := New(&fakeTuner{}, dispatch)

	addr, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer s.Close()

	conn := dial(t, addr)
	defer conn.Close()

	_, err = conn.Write([]byte("Z\n"))
	require.NoError(t, err)
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "RPRT -1\n", line)
}

func TestServerModeReportsBandFromCurrentInfo(t *testing.T) {
	cache := state.NewCache()
	dispatch := state.NewDispatcher(cache, nil)

	s := New(&fakeTuner{}, dispatch)
	reply, keepOpen := s.dispatchLine("m")
	require.True(t, keepOpen)
	require.Equal(t, "AM\n0\n", reply)
}

func TestServerQuitClosesConnection(t *testing.T) {
	cache := state.NewCache()
	dispatch := state.NewDispatcher(cache, nil)
	s := New(&fakeTuner{}, dispatch)

	addr, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer s.Close()

	conn := dial(t, addr)
	defer conn.Close()

	_, err = conn.Write([]byte("q\n"))
	require.NoError(t, err)
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "RPRT 0\n", line)

	_, err = reader.ReadString('\n')
	require.Error(t, err)
}

// TestServerModeReportsFMAfterFMTune drives a real FM tune reply through
// the dispatcher and checks the "m" verb reflects it, instead of just
// asserting on a ProgramType constant in isolation.
func TestServerModeReportsFMAfterFMTune(t *testing.T) {
	cache := state.NewCache()
	dispatch := state.NewDispatcher(cache, nil)
	s := New(&fakeTuner{}, dispatch)

	// 975 is the device's own 100kHz-unit report for 97.5MHz.
	raw := make([]byte, 6)
	raw[0] = byte(codebook.BandFM)
	binary.LittleEndian.PutUint16(raw[4:6], 975)
	dispatch.HandleReply(&protocol.Reply{Name: "tune", Value: raw, Known: true})

	reply, keepOpen := s.dispatchLine("m")
	require.True(t, keepOpen)
	require.Equal(t, "FM\n0\n", reply)
}
