package internal

// FrameHeader holds the fields of a frame header decoded so far.
type FrameHeader struct {
	IsFinalFrame bool
	// RSV1-RSV3 packed in the low 3 bits
	RSV uint8
	// 4 bits
	Opcode Opcode
	// 1 bit
	IsMasked bool
	// 7 bit indicator: 0-125 literal, 126 or 127 for extended length
	LengthIndicator uint8
	// 7 bits, 7+16 bits, or 7+64 bits
	PayloadLength uint64
	// 0 or 4 bytes
	MaskingKey [4]byte
}

const (
	LengthIndicator16 = 126
	LengthIndicator64 = 127
)

// ParseFixedHeader decodes the first two bytes of a frame.
func ParseFixedHeader(b0, b1 byte) FrameHeader {
	h := FrameHeader{
		IsFinalFrame:    b0&0b1_000_0000 != 0,
		RSV:             b0 & 0b0_111_0000 >> 4,
		Opcode:          Opcode(b0 & 0b0_000_1111),
		IsMasked:        b1&0b1_0000000 != 0,
		LengthIndicator: b1 & 0b0_1111111,
	}
	if h.LengthIndicator < LengthIndicator16 {
		h.PayloadLength = uint64(h.LengthIndicator)
	}
	return h
}

// ExtendedLengthSize is the number of bytes following the fixed header that carry the payload length.
func (h FrameHeader) ExtendedLengthSize() int {
	switch h.LengthIndicator {
	case LengthIndicator16:
		return 2
	case LengthIndicator64:
		return 8
	default:
		return 0
	}
}
