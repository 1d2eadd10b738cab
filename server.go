package websocket

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Upgrader turns net/http requests into server connections.
type Upgrader struct {
	Options
}

// Upgrade performs the opening handshake. When the request is rejected the
// HTTP error response is written here and the returned error wraps
// ErrInvalidHandshakeRequest; the caller must not write to w afterwards.
func (u *Upgrader) Upgrade(w http.ResponseWriter, req *http.Request) (*Conn, error) {
	opts := u.Options.withDefaults()
	l := opts.Logger

	l.Debug("handling opening handshake", zap.String("remoteAddr", req.RemoteAddr))

	if req.Method != http.MethodGet {
		return nil, reject(w, l, &HandshakeError{
			Status: http.StatusMethodNotAllowed,
			Reason: fmt.Sprintf("method must be GET, actual %q", req.Method),
		})
	}

	if secWsProto := req.Header.Get(headerSecWsProto); secWsProto != "" {
		l.Debug("subprotocols are not supported, ignoring offer", zap.String("header", headerSecWsProto))
	}
	if secWsExt := req.Header.Get(headerSecWsExt); secWsExt != "" {
		l.Debug("extensions are not supported, ignoring offer", zap.String("header", headerSecWsExt))
	}

	res, err := Negotiate(req.Header)
	if err != nil {
		return nil, reject(w, l, err)
	}

	netConn, rw, err := http.NewResponseController(w).Hijack()
	if err != nil {
		http.Error(w, "websocket: failed to take over connection", http.StatusInternalServerError)
		return nil, fmt.Errorf("failed to hijack net.Conn: [%w]", err)
	}
	// net/http may have armed deadlines for the request
	_ = netConn.SetDeadline(time.Time{})

	c := newConn(netConn, RoleServer, opts)
	if n := rw.Reader.Buffered(); n > 0 {
		b, _ := rw.Reader.Peek(n)
		c.readAhead = bytes.Clone(b)
	}

	if _, err := netConn.Write(res.Bytes()); err != nil {
		_ = netConn.Close()
		return nil, &TransportError{Op: "write handshake response", Err: err}
	}
	c.open()

	return c, nil
}

func reject(w http.ResponseWriter, l *zap.Logger, err error) error {
	l.Debug("rejecting opening handshake", zap.Error(err))

	status, reason := http.StatusBadRequest, err.Error()
	var he *HandshakeError
	if errors.As(err, &he) {
		status, reason = he.Status, he.Reason
		for k, v := range he.Header {
			w.Header()[k] = v
		}
	}
	w.Header().Set(headerConn, "close")
	http.Error(w, reason, status)

	return err
}
