package websocket

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCloseMessageData(t *testing.T) {
	got := CloseMessageData(CloseNormalClosure, "bye")
	if expected := []byte{0x03, 0xE8, 'b', 'y', 'e'}; !bytes.Equal(got, expected) {
		t.Errorf("CloseMessageData(1000, \"bye\") = %v, ERROR expected %v", got, expected)
	}

	if got := CloseMessageData(CloseNoStatusReceived, "ignored"); len(got) != 0 {
		t.Errorf("CloseMessageData(1005) = %v, ERROR expected empty payload", got)
	}

	long := strings.Repeat("é", 100)
	got = CloseMessageData(CloseGoingAway, long)
	if len(got) > 125 {
		t.Errorf("CloseMessageData(long reason) length %d, ERROR expected at most 125", len(got))
	}
	if !utf8.Valid(got[2:]) {
		t.Errorf("CloseMessageData(long reason) cut a rune in half")
	}
}

func TestCloseCodeIsValid(t *testing.T) {
	valid := []CloseCode{1000, 1001, 1002, 1003, 1007, 1008, 1009, 1010, 1011, 1012, 1013, 3000, 4999}
	for _, code := range valid {
		if !code.IsValid() {
			t.Errorf("CloseCode(%d).IsValid() = false, ERROR expected true", code)
		}
	}

	invalid := []CloseCode{0, 999, 1004, 1005, 1006, 1014, 1015, 1016, 2999, 5000}
	for _, code := range invalid {
		if code.IsValid() {
			t.Errorf("CloseCode(%d).IsValid() = true, ERROR expected false", code)
		}
	}
}

func TestParseClosePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		code    CloseCode
		reason  string
		errCode CloseCode
	}{
		{name: "empty", payload: nil, code: CloseNoStatusReceived},
		{name: "code only", payload: []byte{0x03, 0xE8}, code: CloseNormalClosure},
		{name: "code and reason", payload: []byte{0x0F, 0xA0, 'o', 'k'}, code: 4000, reason: "ok"},
		{name: "single byte", payload: []byte{0x03}, errCode: CloseProtocolError},
		{name: "reserved code", payload: []byte{0x03, 0xED}, errCode: CloseProtocolError},
		{name: "invalid utf8 reason", payload: []byte{0x03, 0xE8, 0xFF, 0xFE}, errCode: CloseInvalidFramePayloadData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, reason, err := parseClosePayload(tt.payload)

			if tt.errCode != 0 {
				var pe *ProtocolError
				if !errors.As(err, &pe) || pe.Code != tt.errCode {
					t.Errorf("parseClosePayload(%v) error %v, ERROR expected close code %d", tt.payload, err, tt.errCode)
				}
				return
			}

			if err != nil {
				t.Fatalf("parseClosePayload(%v) ERROR returned unexpected error %q", tt.payload, err)
			}
			if code != tt.code || reason != tt.reason {
				t.Errorf("parseClosePayload(%v) = %d, %q, ERROR expected %d, %q", tt.payload, code, reason, tt.code, tt.reason)
			}
		})
	}
}
