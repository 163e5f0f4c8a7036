// Package protocol frames, checksums, escapes and decodes the
// DMHD-1000's serial command/reply messages. The outbound and inbound
// paths are deliberately asymmetric: commands are escaped on the wire,
// replies from the tuner arrive unescaped.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/caraudio/dmhd-hfp-bridge/internal/radio/codebook"
)

// Encode builds a complete framed, escaped, checksummed message for
// name. value is the command-specific payload that follows the code
// and op fields on the wire (built with EncodeTune/EncodeLevel/
// EncodeBool/EncodeBytes below, or directly for commands that need no
// argument, such as a get).
//
// Byte layout on the wire: BEGIN, LEN, CODE0, CODE1, OP0, OP1,
// <value>, CSUM — the command's code precedes the operation. The
// checksum is computed over the unescaped LEN+CODE+OP+value bytes,
// then that same range is escaped for transmission; BEGIN and CSUM
// are never escaped.
func Encode(name string, op codebook.Op, value []byte) ([]byte, error) {
	cmd, ok := codebook.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("protocol: unknown command %q", name)
	}

	opBytes := op.Bytes()
	body := make([]byte, 0, 4+len(value))
	body = append(body, cmd.Code[0], cmd.Code[1])
	body = append(body, opBytes[0], opBytes[1])
	body = append(body, value...)

	if len(body) > 255 {
		return nil, fmt.Errorf("protocol: payload too large for %q: %d bytes", name, len(body))
	}
	length := byte(len(body))

	sum := int(codebook.BeginByte) + int(length)
	for _, b := range body {
		sum += int(b)
	}
	csum := byte(sum % 256)

	interior := make([]byte, 0, 1+len(body))
	interior = append(interior, length)
	interior = append(interior, body...)
	escaped := escape(interior)

	frame := make([]byte, 0, 2+len(escaped))
	frame = append(frame, codebook.BeginByte)
	frame = append(frame, escaped...)
	frame = append(frame, csum)
	return frame, nil
}

// EncodeTune builds the 8-byte value for a tune or seek command: the
// 4-byte band selector, the little-endian frequency, and two zero
// bytes of padding.
func EncodeTune(band codebook.Band, freq uint16) []byte {
	v := band.Bytes()
	value := make([]byte, 8)
	copy(value, v[:])
	binary.LittleEndian.PutUint16(value[4:6], freq)
	return value
}

// EncodeLevel builds the 4-byte value for a level-setting command
// (volume, bass, treble): a 0..100 input is scaled to the command's
// internal range first if the command is marked Scaled.
func EncodeLevel(cmd codebook.Command, level int) []byte {
	var b byte
	if cmd.Scaled {
		b = codebook.ScaleValue(level)
	} else {
		b = byte(level)
	}
	return []byte{b, 0x00, 0x00, 0x00}
}

// EncodeBool builds the 4-byte value for a boolean command (power,
// mute, rdsenable, ...): codebook.ConstOne or codebook.ConstZero.
func EncodeBool(on bool) []byte {
	if on {
		return codebook.ConstOne.Bytes()
	}
	return codebook.ConstZero.Bytes()
}
