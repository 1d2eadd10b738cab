package websocket

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"strings"
)

const (
	headerUpgrade      = "Upgrade"
	headerConn         = "Connection"
	headerSecWsVersion = "Sec-WebSocket-Version"
	headerSecWsProto   = "Sec-WebSocket-Protocol"
	headerSecWsExt     = "Sec-WebSocket-Extensions"
	headerSecWsKey     = "Sec-WebSocket-Key"
	headerSecWsAccept  = "Sec-WebSocket-Accept"

	headerUpgradeExpected      = "websocket"
	headerConnExpected         = "Upgrade"
	headerSecWsVersionExpected = "13"

	wsGuid = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

	secWsKeyDecodedLen = 16
)

func newSecWsKey() string {
	nonce := [secWsKeyDecodedLen]byte{}

	rand.Read(nonce[:])

	return base64.StdEncoding.EncodeToString(nonce[:])
}

// AcceptToken computes Sec-WebSocket-Accept for a client key:
// base64(SHA-1(key + GUID)).
func AcceptToken(secWebSocketKey string) string {
	hasher := sha1.New()
	hasher.Write([]byte(secWebSocketKey + wsGuid))

	return base64.StdEncoding.EncodeToString(hasher.Sum(nil))
}

// HandshakeResponse is the accepted answer to an upgrade request.
type HandshakeResponse struct {
	accept string
}

func (r *HandshakeResponse) Accept() string {
	return r.accept
}

// Bytes returns the complete 101 response, blank line included.
func (r *HandshakeResponse) Bytes() []byte {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString(headerUpgrade + ": " + headerUpgradeExpected + "\r\n")
	b.WriteString(headerConn + ": " + headerConnExpected + "\r\n")
	b.WriteString(headerSecWsAccept + ": " + r.accept + "\r\n")
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Header returns the response headers as a fresh http.Header.
func (r *HandshakeResponse) Header() http.Header {
	h := make(http.Header, 3)
	h.Set(headerUpgrade, headerUpgradeExpected)
	h.Set(headerConn, headerConnExpected)
	h.Set(headerSecWsAccept, r.accept)
	return h
}

// Negotiate validates the upgrade headers of a request and computes the
// accept token. The request method and target are left to the HTTP layer.
func Negotiate(h http.Header) (*HandshakeResponse, error) {
	actual, ok := headerContainsToken(h, headerUpgrade, headerUpgradeExpected)
	if !ok {
		return nil, handshakeErrorf(`%q header must contain %q, actual %q`,
			headerUpgrade, headerUpgradeExpected, actual)
	}

	actual, ok = headerContainsToken(h, headerConn, headerConnExpected)
	if !ok {
		return nil, handshakeErrorf(`%q header must contain %q, actual %q`,
			headerConn, headerConnExpected, actual)
	}

	if version := strings.TrimSpace(h.Get(headerSecWsVersion)); version != "" && version != headerSecWsVersionExpected {
		err := handshakeErrorf(`%q header must be %q, actual %q`,
			headerSecWsVersion, headerSecWsVersionExpected, version)
		err.Status = http.StatusUpgradeRequired
		err.Header = make(http.Header)
		err.Header.Set(headerSecWsVersion, headerSecWsVersionExpected)
		return nil, err
	}

	secWsKey := strings.TrimSpace(h.Get(headerSecWsKey))
	if len(secWsKey) == 0 {
		return nil, handshakeErrorf("missing %q header", headerSecWsKey)
	}
	decoded, err := base64.StdEncoding.DecodeString(secWsKey)
	if err != nil {
		return nil, handshakeErrorf("failed to base64 decode %q header: [%s]", headerSecWsKey, err)
	}
	if len(decoded) != secWsKeyDecodedLen {
		return nil, handshakeErrorf("decoded value of %q must be %d bytes, received %d bytes",
			headerSecWsKey, secWsKeyDecodedLen, len(decoded))
	}

	return &HandshakeResponse{accept: AcceptToken(secWsKey)}, nil
}

// Checks whether any comma separated token of the header equals expected (case insensitive)
// If yes - returns `"", true`
// If no - returns `"<actual_value>", false`
func headerContainsToken(h http.Header, header, expected string) (string, bool) {
	values := h.Values(header)
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(token), expected) {
				return "", true
			}
		}
	}
	return strings.Join(values, ", "), false
}
