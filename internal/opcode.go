package internal

import "fmt"

type Opcode uint8

const (
	OpcodeContinuationFrame Opcode = iota
	OpcodeTextFrame
	OpcodeBinaryFrame
	OpcodeNonControlFrame1
	OpcodeNonControlFrame2
	OpcodeNonControlFrame3
	OpcodeNonControlFrame4
	OpcodeNonControlFrame5
	OpcodeConnectionClose
	OpcodePing
	OpcodePong
	OpcodeControlFrame1
	OpcodeControlFrame2
	OpcodeControlFrame3
	OpcodeControlFrame4
	OpcodeControlFrame5
)

// MaxControlPayload is the largest payload a close, ping or pong frame may carry.
const MaxControlPayload = 125

func (c Opcode) IsControl() bool {
	switch c {
	case OpcodeConnectionClose, OpcodePing, OpcodePong:
		return true
	default:
		return false
	}
}

func (c Opcode) IsData() bool {
	switch c {
	case OpcodeContinuationFrame, OpcodeTextFrame, OpcodeBinaryFrame:
		return true
	default:
		return false
	}
}

// IsReserved reports values 0x3-0x7 and 0xB-0xF, and anything that does not fit in 4 bits.
func (c Opcode) IsReserved() bool {
	return !c.IsControl() && !c.IsData()
}

func (c Opcode) String() string {
	switch c {
	case OpcodeContinuationFrame:
		return "continuation"
	case OpcodeTextFrame:
		return "text"
	case OpcodeBinaryFrame:
		return "binary"
	case OpcodeConnectionClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return fmt.Sprintf("reserved(0x%X)", uint8(c))
	}
}
