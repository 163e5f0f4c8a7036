// Package codebook is the DMHD-1000's static protocol dictionary: the
// symbolic names the rest of this repository uses (power, tune, volume,
// rdsradiotext, ...) and the raw opcode bytes, band bytes, operation
// bytes and reply formats the wire actually carries for each one.
//
// Everything here is a compile-time table of typed constants: the only
// place a bare string survives is the Lookup/Name boundary used by the
// encoder/decoder and by external callers speaking the host's
// key=value parameter surface.
package codebook

import "fmt"

// Opcode is the two-byte (cmd0, cmd1) or (op0, op1) pair the wire uses
// to identify a command or operation.
type Opcode [2]byte

// Format describes the shape of a command's reply payload.
type Format int

const (
	FormatNone Format = iota
	FormatBoolean
	FormatInt
	FormatString
	FormatBandInt
	FormatIntString
)

func (f Format) String() string {
	switch f {
	case FormatBoolean:
		return "boolean"
	case FormatInt:
		return "int"
	case FormatString:
		return "string"
	case FormatBandInt:
		return "band:int"
	case FormatIntString:
		return "int:string"
	default:
		return "none"
	}
}

// Band identifies AM or FM for tune/seek payloads.
type Band byte

const (
	BandAM Band = 0
	BandFM Band = 1
)

func (b Band) String() string {
	if b == BandFM {
		return "FM"
	}
	return "AM"
}

// bandBytes are the 4-byte little-endian band selector slots; the low
// two bytes double as the frequency field once a tune payload is built
// on top of them.
var bandBytes = map[Band][4]byte{
	BandAM: {0x00, 0x00, 0x00, 0x00},
	BandFM: {0x01, 0x00, 0x00, 0x00},
}

// Bytes returns the 4-byte band selector for b.
func (b Band) Bytes() [4]byte { return bandBytes[b] }

// Op identifies the direction of a framed message: a host-to-device
// set/get, or a device-to-host reply.
type Op int

const (
	OpSet Op = iota
	OpGet
	OpReply
)

var opBytes = map[Op]Opcode{
	OpSet:   {0x00, 0x00},
	OpGet:   {0x01, 0x00},
	OpReply: {0x02, 0x00},
}

// Bytes returns the two-byte operation code for op.
func (op Op) Bytes() Opcode { return opBytes[op] }

// Constant names the fixed byte sequences the protocol uses beyond
// bands and operations.
type Constant int

const (
	ConstUp Constant = iota
	ConstDown
	ConstOne
	ConstZero
	ConstBeginCommand
)

var constantBytes = map[Constant][]byte{
	ConstUp:           {0x01, 0x00, 0x00, 0x00},
	ConstDown:         {0xFF, 0xFF, 0xFF, 0xFF},
	ConstOne:          {0x01, 0x00, 0x00, 0x00},
	ConstZero:         {0x00, 0x00, 0x00, 0x00},
	ConstBeginCommand: {0xA4},
}

// Bytes returns the raw byte sequence for a named constant.
func (c Constant) Bytes() []byte {
	b := constantBytes[c]
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// BeginByte is the frame sentinel, pulled out of Constant for callers
// that only need the single byte (the encoder and decoder both do).
const BeginByte byte = 0xA4

// Command is one entry of the codebook: a symbolic name, its two-byte
// opcode, the shape its reply takes, and whether its numeric value is
// reported on the device's internal 0..90 scale rather than 0..100.
type Command struct {
	Name   string
	Code   Opcode
	Format Format
	Scaled bool
}

// ScaleMax is the device-internal ceiling that Scaled commands (volume,
// bass, treble) report against instead of the human-facing 0..100.
const ScaleMax = 90

// commands is the full table. Ordering here is cosmetic; cmdByName and
// codeToName below are what callers use.
var commands = [...]Command{
	{"power", Opcode{0x01, 0x00}, FormatBoolean, false},
	{"mute", Opcode{0x02, 0x00}, FormatBoolean, false},

	{"signalstrength", Opcode{0x01, 0x01}, FormatInt, false},
	{"tune", Opcode{0x02, 0x01}, FormatBandInt, false},
	{"seek", Opcode{0x03, 0x01}, FormatBandInt, false},

	{"hdactive", Opcode{0x01, 0x02}, FormatBoolean, false},
	{"hdstreamlock", Opcode{0x02, 0x02}, FormatBoolean, false},
	{"hdsignalstrength", Opcode{0x03, 0x02}, FormatInt, false},
	{"hdsubchannel", Opcode{0x04, 0x02}, FormatInt, false},
	{"hdsubchannelcount", Opcode{0x05, 0x02}, FormatInt, false},
	{"hdenablehdtuner", Opcode{0x06, 0x02}, FormatBoolean, false},
	{"hdtitle", Opcode{0x07, 0x02}, FormatIntString, false},
	{"hdartist", Opcode{0x08, 0x02}, FormatIntString, false},
	{"hdcallsign", Opcode{0x09, 0x02}, FormatString, false},
	{"hdstationname", Opcode{0x10, 0x02}, FormatString, false},
	{"hduniqueid", Opcode{0x11, 0x02}, FormatString, false},
	{"hdapiversion", Opcode{0x12, 0x02}, FormatString, false},
	{"hdhwversion", Opcode{0x12, 0x02}, FormatString, false},

	{"rdsenable", Opcode{0x01, 0x03}, FormatBoolean, false},
	{"rdsgenre", Opcode{0x07, 0x03}, FormatString, false},
	{"rdsprogramservice", Opcode{0x08, 0x03}, FormatString, false},
	{"rdsradiotext", Opcode{0x09, 0x03}, FormatString, false},

	{"volume", Opcode{0x03, 0x04}, FormatInt, true},
	{"bass", Opcode{0x05, 0x04}, FormatInt, true},
	{"treble", Opcode{0x05, 0x04}, FormatInt, true},
	{"compression", Opcode{0x06, 0x04}, FormatNone, false},
}

var (
	cmdByName  = make(map[string]Command, len(commands))
	codeToName = make(map[Opcode]string, len(commands))
)

func init() {
	for _, c := range commands {
		cmdByName[c.Name] = c
		// hdhwversion shares hdapiversion's opcode; first name
		// registered wins the reverse lookup.
		if _, ok := codeToName[c.Code]; !ok {
			codeToName[c.Code] = c.Name
		}
	}
}

// Lookup returns the Command registered under name. The empty Command
// and ok=false mean "no such command" — callers must treat this as a
// distinct outcome from a found-but-zero-value command.
func Lookup(name string) (Command, bool) {
	c, ok := cmdByName[name]
	return c, ok
}

// Name reverses an opcode pair back to its symbolic command name, used
// by the decoder to identify an inbound reply.
func Name(code Opcode) (string, bool) {
	n, ok := codeToName[code]
	return n, ok
}

// ScaleValue converts a human-facing 0..100 level into the device's
// internal scale for commands where Scaled is true:
// (scale*(v+1))/100, clamped to scale.
func ScaleValue(v int) byte {
	scaled := (ScaleMax * (v + 1)) / 100
	if scaled > ScaleMax {
		scaled = ScaleMax
	}
	if scaled < 0 {
		scaled = 0
	}
	return byte(scaled)
}

// MustLookup is Lookup for call sites where the name is a compile-time
// literal known to be in the table (tests, internal wiring); it panics
// otherwise, which is the point — a typo here is a programmer error,
// not a runtime condition to recover from.
func MustLookup(name string) Command {
	c, ok := Lookup(name)
	if !ok {
		panic(fmt.Sprintf("codebook: unknown command %q", name))
	}
	return c
}
