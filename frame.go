package websocket

import (
	"github.com/wmdanor/wsproto/internal"
)

/*
  0                   1                   2                   3
  0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
 +-+-+-+-+-------+-+-------------+-------------------------------+
 |F|R|R|R| opcode|M| Payload len |    Extended payload length    |
 |I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
 |N|V|V|V|       |S|             |   (if payload len==126/127)   |
 | |1|2|3|       |K|             |                               |
 +-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
 |     Extended payload length continued, if payload len == 127  |
 + - - - - - - - - - - - - - - - +-------------------------------+
 |                               |Masking-key, if MASK set to 1  |
 +-------------------------------+-------------------------------+
 | Masking-key (continued)       |          Payload Data         |
 +-------------------------------- - - - - - - - - - - - - - - - +
 :                     Payload Data continued ...                :
 + - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - +
 |                     Payload Data continued ...                |
 +---------------------------------------------------------------+
*/

// Opcode is the 4-bit frame type. Values outside the constants below are reserved.
type Opcode = internal.Opcode

const (
	OpContinuation Opcode = internal.OpcodeContinuationFrame
	OpText         Opcode = internal.OpcodeTextFrame
	OpBinary       Opcode = internal.OpcodeBinaryFrame
	OpClose        Opcode = internal.OpcodeConnectionClose
	OpPing         Opcode = internal.OpcodePing
	OpPong         Opcode = internal.OpcodePong
)

// Frame is a decoded frame with its payload already unmasked. Data frames
// handed out by a Decoder are always complete messages: fragments are
// reassembled before delivery, so Opcode is never OpContinuation there.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	Payload []byte
}

func (f *Frame) IsControlFrame() bool {
	return f.Opcode.IsControl()
}

func (f *Frame) IsDataFrame() bool {
	return f.Opcode.IsData()
}

// Role selects which side of the connection a codec serves. Servers expect
// masked input and write unmasked frames; clients do the opposite.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}
