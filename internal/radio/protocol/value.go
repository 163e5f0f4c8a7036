package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/codebook"
)

// Value is the decoded, typed form of a Reply's raw bytes. Exactly one
// of the typed fields is meaningful, selected by Format; FormatNone and
// FormatIntString replies carry no usable value (HD subchannel text is
// deliberately not decoded, per scope).
type Value struct {
	Format codebook.Format
	Bool   bool
	Int    int
	String string
	Band   codebook.Band
	Freq   uint16
}

// ParseValue interprets raw (the bytes following a reply's code and op
// fields) according to cmd's declared format. It never returns an
// error for a short or empty raw — a truncated reply just yields a
// zero-value result for the fields that couldn't be read, since the
// wire is allowed to lose bytes and the decoder already dropped
// anything with a bad checksum before this is ever called.
func ParseValue(cmd codebook.Command, raw []byte) Value {
	v := Value{Format: cmd.Format}
	switch cmd.Format {
	case codebook.FormatBoolean:
		v.Bool = hasPrefix(raw, codebook.ConstOne.Bytes())

	case codebook.FormatInt:
		if len(raw) >= 2 {
			v.Int = int(binary.LittleEndian.Uint16(raw[0:2]))
		}
		if cmd.Scaled {
			v.Int = v.Int * 100 / codebook.ScaleMax
		}

	case codebook.FormatString:
		if len(raw) >= 4 {
			n := int(binary.LittleEndian.Uint32(raw[0:4]))
			end := 4 + n
			if end > len(raw) {
				end = len(raw)
			}
			v.String = string(raw[4:end])
		}

	case codebook.FormatBandInt:
		if len(raw) >= 1 {
			v.Band = codebook.Band(raw[0])
		}
		if len(raw) >= 6 {
			v.Freq = binary.LittleEndian.Uint16(raw[4:6])
		}

	case codebook.FormatIntString, codebook.FormatNone:
		// HD subchannel text, deliberately unimplemented.
	}
	return v
}

func hasPrefix(raw, prefix []byte) bool {
	if len(raw) < len(prefix) {
		return false
	}
	for i, b := range prefix {
		if raw[i] != b {
			return false
		}
	}
	return true
}

// FormatString describes v for logging; exported for decoder-level
// tests that want a one-line summary without a type switch.
func (v Value) FormatString() string {
	switch v.Format {
	case codebook.FormatBoolean:
		return fmt.Sprintf("bool(%v)", v.Bool)
	case codebook.FormatInt:
		return fmt.Sprintf("int(%d)", v.Int)
	case codebook.FormatString:
		return fmt.Sprintf("string(%q)", v.String)
	case codebook.FormatBandInt:
		return fmt.Sprintf("band:int(%s,%d)", v.Band, v.Freq)
	default:
		return "none"
	}
}
