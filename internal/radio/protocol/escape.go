package protocol

import "github.com/caraudio/dmhd-hfp-bridge/internal/radio/codebook"

// escByte is the escape sentinel; escA4 is what 0xA4 becomes when it
// appears inside the escaped range.
const (
	escByte byte = 0x1B
	escA4   byte = 0x48
)

// escape returns body with 0x1B and 0xA4 bytes doubled/substituted per
// the wire's escaping rule. It never touches the BEGIN or CSUM bytes —
// callers only pass the LEN-through-value range through it.
func escape(body []byte) []byte {
	out := make([]byte, 0, len(body))
	for _, b := range body {
		switch b {
		case escByte:
			out = append(out, escByte, escByte)
		case codebook.BeginByte:
			out = append(out, escByte, escA4)
		default:
			out = append(out, b)
		}
	}
	return out
}
