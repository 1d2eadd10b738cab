package websocket

import (
	"encoding/binary"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/wmdanor/wsproto/internal"
)

type CloseCode uint16

// Close codes defined in RFC 6455, section 11.7.
const (
	CloseNormalClosure           CloseCode = 1000
	CloseGoingAway               CloseCode = 1001
	CloseProtocolError           CloseCode = 1002
	CloseUnsupportedData         CloseCode = 1003
	CloseNoStatusReceived        CloseCode = 1005
	CloseAbnormalClosure         CloseCode = 1006
	CloseInvalidFramePayloadData CloseCode = 1007
	ClosePolicyViolation         CloseCode = 1008
	CloseMessageTooBig           CloseCode = 1009
	CloseMandatoryExtension      CloseCode = 1010
	CloseInternalServerErr       CloseCode = 1011
	CloseServiceRestart          CloseCode = 1012
	CloseTryAgainLater           CloseCode = 1013
	CloseTLSHandshake            CloseCode = 1015
)

var (
	// 1005, 1006 and 1015 describe local conditions and never go on the wire.
	validCloseCodes []CloseCode = []CloseCode{
		CloseNormalClosure,
		CloseGoingAway,
		CloseProtocolError,
		CloseUnsupportedData,
		CloseInvalidFramePayloadData,
		ClosePolicyViolation,
		CloseMessageTooBig,
		CloseMandatoryExtension,
		CloseInternalServerErr,
		CloseServiceRestart,
		CloseTryAgainLater,
	}
)

const maxCloseReason = internal.MaxControlPayload - 2

func (c CloseCode) U() uint16 {
	return uint16(c)
}

func NewCloseCode(code uint16) (c CloseCode, ok bool) {
	c = CloseCode(code)
	ok = c.IsValid()
	return
}

// IsValid reports whether the code may appear in a close frame.
func (c CloseCode) IsValid() bool {
	return slices.Contains(validCloseCodes, c) || (c >= 3000 && c <= 4999)
}

func (c CloseCode) String() string {
	switch c {
	case CloseNormalClosure:
		return "normal closure"
	case CloseGoingAway:
		return "going away"
	case CloseProtocolError:
		return "protocol error"
	case CloseUnsupportedData:
		return "unsupported data"
	case CloseNoStatusReceived:
		return "no status received"
	case CloseAbnormalClosure:
		return "abnormal closure"
	case CloseInvalidFramePayloadData:
		return "invalid frame payload data"
	case ClosePolicyViolation:
		return "policy violation"
	case CloseMessageTooBig:
		return "message too big"
	case CloseMandatoryExtension:
		return "mandatory extension"
	case CloseInternalServerErr:
		return "internal server error"
	case CloseServiceRestart:
		return "service restart"
	case CloseTryAgainLater:
		return "try again later"
	case CloseTLSHandshake:
		return "TLS handshake"
	default:
		return fmt.Sprintf("close code %d", uint16(c))
	}
}

// CloseMessageData builds a close frame payload: a 2 byte big-endian code
// followed by the UTF-8 reason, cut so the payload fits in a control frame.
// CloseNoStatusReceived yields an empty payload.
func CloseMessageData(code CloseCode, reason string) []byte {
	if code == CloseNoStatusReceived {
		return []byte{}
	}

	reason = truncateUTF8(reason, maxCloseReason)

	b := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(b, code.U())

	return append(b, reason...)
}

// parseClosePayload splits a received close payload. An empty payload means
// the peer sent no status and is reported as CloseNoStatusReceived.
func parseClosePayload(payload []byte) (CloseCode, string, error) {
	switch len(payload) {
	case 0:
		return CloseNoStatusReceived, "", nil
	case 1:
		return 0, "", protocolErrorf(CloseProtocolError,
			"close frame must either have 0 or 2+ payload length, but received 1")
	}

	code, ok := NewCloseCode(binary.BigEndian.Uint16(payload))
	if !ok {
		return 0, "", protocolErrorf(CloseProtocolError, "received invalid close code: %d", code.U())
	}

	reason := payload[2:]
	if !utf8.Valid(reason) {
		return 0, "", protocolErrorf(CloseInvalidFramePayloadData,
			"close frame reason in data must be valid UTF-8 encoded string")
	}

	return code, string(reason), nil
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
