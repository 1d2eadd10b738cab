package websocket

import (
	"encoding/binary"
	"math"

	"github.com/wmdanor/wsproto/internal"
)

type decodeState uint8

const (
	stateHeader decodeState = iota
	stateExtLength
	stateMaskKey
	statePayload
)

// Initial payload allocation is capped so a forged length cannot reserve
// memory before the bytes actually arrive.
const maxPayloadPrealloc = 64 << 10

type DecoderOptions struct {
	// MaxMessageSize bounds a single frame and a reassembled message. 0 means no limit.
	MaxMessageSize int64
}

// Decoder turns an arbitrarily chunked byte stream into frames. It never
// waits for input: Feed consumes what it is given, returns every frame that
// became complete and keeps the partial tail for the next call.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	role           Role
	maxMessageSize uint64

	// cursor
	state decodeState
	need  int
	acc   []byte

	hdr     internal.FrameHeader
	payload []byte
	maskPos int

	// fragmented message in progress
	inMessage  bool
	msgOpcode  Opcode
	msgPayload []byte

	err error
}

func NewDecoder(role Role, opts DecoderOptions) *Decoder {
	d := &Decoder{role: role}
	if opts.MaxMessageSize > 0 {
		d.maxMessageSize = uint64(opts.MaxMessageSize)
	}
	d.reset()
	return d
}

func (d *Decoder) reset() {
	d.state = stateHeader
	d.need = 2
	d.acc = d.acc[:0]
	d.hdr = internal.FrameHeader{}
	d.payload = nil
	d.maskPos = 0
}

// Buffered reports how many bytes of an incomplete frame are held.
func (d *Decoder) Buffered() int {
	return len(d.acc) + len(d.payload)
}

// InMessage reports whether a fragmented message is waiting for its final frame.
func (d *Decoder) InMessage() bool {
	return d.inMessage
}

// Feed appends chunk to the stream and returns the frames completed by it.
// On a protocol violation the frames decoded before it are returned together
// with the error, and every later call returns the same error.
func (d *Decoder) Feed(chunk []byte) ([]Frame, error) {
	if d.err != nil {
		return nil, d.err
	}

	var frames []Frame
	for len(chunk) > 0 || d.frameReady() {
		f, n, err := d.step(chunk)
		chunk = chunk[n:]
		if err != nil {
			d.err = err
			d.acc = nil
			d.payload = nil
			d.msgPayload = nil
			return frames, err
		}
		if f != nil {
			frames = append(frames, *f)
		}
	}

	return frames, nil
}

// frameReady is true when the payload state needs no more bytes, which
// happens for zero length payloads.
func (d *Decoder) frameReady() bool {
	return d.state == statePayload && d.need == 0
}

// step advances the cursor using bytes from chunk and returns how many it consumed.
func (d *Decoder) step(chunk []byte) (*Frame, int, error) {
	if d.state == statePayload {
		return d.stepPayload(chunk)
	}

	n := min(d.need-len(d.acc), len(chunk))
	d.acc = append(d.acc, chunk[:n]...)
	if len(d.acc) < d.need {
		return nil, n, nil
	}

	var err error
	switch d.state {
	case stateHeader:
		err = d.onFixedHeader()
	case stateExtLength:
		err = d.onExtendedLength()
	case stateMaskKey:
		copy(d.hdr.MaskingKey[:], d.acc)
		d.startPayload()
	}
	return nil, n, err
}

func (d *Decoder) onFixedHeader() error {
	d.hdr = internal.ParseFixedHeader(d.acc[0], d.acc[1])
	d.acc = d.acc[:0]

	if d.hdr.RSV != 0 {
		return protocolErrorf(CloseProtocolError, "RSV bits must be 0 as extensions are not supported")
	}

	if d.hdr.Opcode.IsReserved() {
		return protocolErrorf(CloseProtocolError, "opcode must not be one of reserved values, received 0x%X", uint8(d.hdr.Opcode))
	}

	switch {
	case d.role == RoleServer && !d.hdr.IsMasked:
		return protocolErrorf(CloseProtocolError, "received unmasked frame on the server")
	case d.role == RoleClient && d.hdr.IsMasked:
		return protocolErrorf(CloseProtocolError, "received masked frame on the client")
	}

	if d.hdr.Opcode.IsControl() && !d.hdr.IsFinalFrame {
		return protocolErrorf(CloseProtocolError, "control frames must not be fragmented")
	}

	if ext := d.hdr.ExtendedLengthSize(); ext > 0 {
		d.state = stateExtLength
		d.need = ext
		return nil
	}

	return d.onLength()
}

func (d *Decoder) onExtendedLength() error {
	if d.need == 2 {
		d.hdr.PayloadLength = uint64(binary.BigEndian.Uint16(d.acc))
	} else {
		d.hdr.PayloadLength = binary.BigEndian.Uint64(d.acc)
		if d.hdr.PayloadLength&(1<<63) != 0 {
			return protocolErrorf(CloseProtocolError, "most significant bit of 64 bit payload length must be 0")
		}
	}
	d.acc = d.acc[:0]

	return d.onLength()
}

func (d *Decoder) onLength() error {
	length := d.hdr.PayloadLength

	if d.hdr.Opcode.IsControl() && length > internal.MaxControlPayload {
		return protocolErrorf(CloseProtocolError,
			"control frames must have a payload length of %d bytes or less, received %d", internal.MaxControlPayload, length)
	}

	if length > math.MaxInt {
		return &ProtocolError{Code: CloseMessageTooBig, Reason: "frame length does not fit in memory", Err: ErrMessageTooBig}
	}

	if d.maxMessageSize > 0 && d.hdr.Opcode.IsData() {
		total := length
		if d.hdr.Opcode == OpContinuation {
			total += uint64(len(d.msgPayload))
		}
		if total > d.maxMessageSize {
			return &ProtocolError{
				Code:   CloseMessageTooBig,
				Reason: "message exceeds size limit",
				Err:    ErrMessageTooBig,
			}
		}
	}

	if d.hdr.IsMasked {
		d.state = stateMaskKey
		d.need = 4
		return nil
	}

	d.startPayload()
	return nil
}

func (d *Decoder) startPayload() {
	d.acc = d.acc[:0]
	d.state = statePayload
	d.need = int(d.hdr.PayloadLength)
	d.payload = make([]byte, 0, min(d.need, maxPayloadPrealloc))
	d.maskPos = 0
}

func (d *Decoder) stepPayload(chunk []byte) (*Frame, int, error) {
	n := min(d.need, len(chunk))
	start := len(d.payload)
	d.payload = append(d.payload, chunk[:n]...)
	d.need -= n

	if d.hdr.IsMasked {
		d.maskPos = internal.MaskOffset(d.payload[start:], d.hdr.MaskingKey, d.maskPos)
	}

	if d.need > 0 {
		return nil, n, nil
	}

	f, err := d.completeFrame()
	return f, n, err
}

// completeFrame resets the cursor and runs the fragmentation rules. Control
// frames come out immediately; data frames only once their message is whole.
func (d *Decoder) completeFrame() (*Frame, error) {
	hdr, payload := d.hdr, d.payload
	d.reset()

	switch hdr.Opcode {
	case OpClose, OpPing, OpPong:
		return &Frame{Fin: true, Opcode: hdr.Opcode, Masked: hdr.IsMasked, Payload: payload}, nil

	case OpText, OpBinary:
		if d.inMessage {
			return nil, protocolErrorf(CloseProtocolError,
				"received %s frame while a fragmented %s message is in progress", hdr.Opcode, d.msgOpcode)
		}
		if hdr.IsFinalFrame {
			return &Frame{Fin: true, Opcode: hdr.Opcode, Masked: hdr.IsMasked, Payload: payload}, nil
		}
		d.inMessage = true
		d.msgOpcode = hdr.Opcode
		d.msgPayload = payload
		return nil, nil

	case OpContinuation:
		if !d.inMessage {
			return nil, protocolErrorf(CloseProtocolError, "received continuation frame without a message in progress")
		}
		d.msgPayload = append(d.msgPayload, payload...)
		if !hdr.IsFinalFrame {
			return nil, nil
		}
		f := &Frame{Fin: true, Opcode: d.msgOpcode, Masked: hdr.IsMasked, Payload: d.msgPayload}
		d.inMessage = false
		d.msgOpcode = 0
		d.msgPayload = nil
		return f, nil

	default:
		return nil, protocolErrorf(CloseProtocolError, "opcode must not be one of reserved values, received 0x%X", uint8(hdr.Opcode))
	}
}
