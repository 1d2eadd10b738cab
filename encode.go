package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/wmdanor/wsproto/internal"
)

// MaxHeaderSize is the longest frame header: 2 fixed bytes, 8 length bytes and a 4 byte mask key.
const MaxHeaderSize = 14

// Encoder builds outbound frames. Server encoders never set the MASK bit;
// client encoders mask every frame with a fresh random key.
type Encoder struct {
	role Role
	rand io.Reader
}

func NewEncoder(role Role) *Encoder {
	return &Encoder{role: role, rand: rand.Reader}
}

// EncodeFrame returns the wire bytes of a single frame.
func (e *Encoder) EncodeFrame(fin bool, opcode Opcode, payload []byte) ([]byte, error) {
	return e.AppendFrame(make([]byte, 0, MaxHeaderSize+len(payload)), fin, opcode, payload)
}

// AppendFrame appends the wire bytes of a single frame to dst. The payload is
// copied, never modified. Passing fin=false lets a caller fragment a message
// itself; continuation frames use OpContinuation.
func (e *Encoder) AppendFrame(dst []byte, fin bool, opcode Opcode, payload []byte) ([]byte, error) {
	if opcode.IsReserved() {
		return dst, fmt.Errorf("opcode must not be one of reserved values, received 0x%X", uint8(opcode))
	}
	if opcode.IsControl() {
		if !fin {
			return dst, fmt.Errorf("control frame %s must not be fragmented", opcode)
		}
		if len(payload) > internal.MaxControlPayload {
			return dst, fmt.Errorf("control frame data must not exceed %d bytes, received: %d",
				internal.MaxControlPayload, len(payload))
		}
	}

	start := len(dst)

	var b0, b1 byte

	if fin {
		b0 = b0 | 0b1_000_0000
	}
	// RSV1-3 stay 0, no extensions are negotiated
	b0 = b0 | byte(opcode)

	masked := e.role == RoleClient
	if masked {
		b1 = b1 | 0b1_000_0000
	}

	length := uint64(len(payload))
	switch {
	case length <= 125:
		dst = append(dst, b0, b1|byte(length))
	case length <= math.MaxUint16:
		dst = append(dst, b0, b1|internal.LengthIndicator16)
		dst = binary.BigEndian.AppendUint16(dst, uint16(length))
	default:
		dst = append(dst, b0, b1|internal.LengthIndicator64)
		dst = binary.BigEndian.AppendUint32(dst, uint32(length>>32))
		dst = binary.BigEndian.AppendUint32(dst, uint32(length))
	}

	if !masked {
		return append(dst, payload...), nil
	}

	var maskingKey [4]byte
	if _, err := io.ReadFull(e.rand, maskingKey[:]); err != nil {
		return dst[:start], fmt.Errorf("failed to generate masking key: [%w]", err)
	}
	dst = append(dst, maskingKey[:]...)

	payloadStart := len(dst)
	dst = append(dst, payload...)
	internal.Mask(dst[payloadStart:], maskingKey)

	return dst, nil
}
