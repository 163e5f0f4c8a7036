package protocol

import "github.com/caraudio/dmhd-hfp-bridge/internal/radio/codebook"

type decoderState int

const (
	stateIdle decoderState = iota
	stateLen
	statePayload
	stateCsum
)

// Reply is one fully validated inbound message: the command name the
// code bytes resolved to, and the raw value bytes that follow the code
// and op fields (the same slice layout Encode takes for value).
// Unknown codes still decode — Name is empty and Known is false — since
// a malformed code is not the same failure as a bad checksum.
type Reply struct {
	Name  string
	Value []byte
	Known bool
}

// Decoder is the IDLE/LEN/PAYLOAD/CSUM state machine for inbound
// frames. It never unescapes: the device's own replies are observed
// to arrive on the wire already unescaped, so Feed treats every byte
// literally. This is the documented encode/decode asymmetry, not a bug.
type Decoder struct {
	state   decoderState
	length  int
	payload []byte
}

// NewDecoder returns a Decoder starting in IDLE.
func NewDecoder() *Decoder {
	return &Decoder{state: stateIdle}
}

// Feed processes one inbound byte. It returns a non-nil Reply exactly
// when that byte completes a frame whose checksum validates; any other
// call returns (nil, false), including ones that silently discard a
// malformed frame and fall back to IDLE.
func (d *Decoder) Feed(b byte) (*Reply, bool) {
	switch d.state {
	case stateIdle:
		if b == codebook.BeginByte {
			d.state = stateLen
		}
		return nil, false

	case stateLen:
		d.length = int(b)
		d.payload = d.payload[:0]
		if d.length == 0 {
			d.state = stateCsum
		} else {
			d.state = statePayload
		}
		return nil, false

	case statePayload:
		d.payload = append(d.payload, b)
		if len(d.payload) >= d.length {
			d.state = stateCsum
		}
		return nil, false

	case stateCsum:
		d.state = stateIdle
		sum := int(codebook.BeginByte) + d.length
		for _, pb := range d.payload {
			sum += int(pb)
		}
		if byte(sum%256) != b {
			return nil, false
		}
		return d.dispatch(), true

	default:
		d.state = stateIdle
		return nil, false
	}
}

// dispatch turns a checksum-valid payload into a Reply. Malformed
// dispatch (too short to carry a code+op) is treated the same as a bad
// checksum: dropped, no event. The caller already committed to
// "handled" by the time dispatch runs, so this returns an empty Reply
// rather than signalling failure outward — the dispatcher ignores an
// empty Name.
func (d *Decoder) dispatch() *Reply {
	if len(d.payload) < 4 {
		return &Reply{}
	}
	code := codebook.Opcode{d.payload[0], d.payload[1]}
	name, known := codebook.Name(code)
	value := make([]byte, len(d.payload)-4)
	copy(value, d.payload[4:])
	return &Reply{Name: name, Value: value, Known: known}
}
