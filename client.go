package websocket

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Dialer opens client connections over plain TCP.
type Dialer struct {
	Options

	// HandshakeTimeout bounds dialing plus the opening handshake. 0 relies on ctx alone.
	HandshakeTimeout time.Duration
}

func (d *Dialer) Dial(ctx context.Context, urlStr string, header http.Header) (*Conn, error) {
	opts := d.Options.withDefaults()
	l := opts.Logger

	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse url: [%w]", ErrHandshakeFailure, err)
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	default:
		return nil, fmt.Errorf("%w: url scheme must be ws, actual %q", ErrHandshakeFailure, u.Scheme)
	}

	dialAddr := u.Host
	if u.Port() == "" {
		dialAddr = net.JoinHostPort(u.Hostname(), "80")
	}

	if d.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.HandshakeTimeout)
		defer cancel()
	}

	l.Debug("dialing websocket server", zap.String("addr", dialAddr))

	var nd net.Dialer
	netConn, err := nd.DialContext(ctx, "tcp", dialAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial remote address %q: [%w]", dialAddr, err)
	}
	defer func() {
		if netConn != nil {
			_ = netConn.Close()
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}

	req := http.Request{
		Method:     http.MethodGet,
		URL:        u,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Host:       u.Host,
		Header:     make(http.Header),
	}

	for hk, hv := range header {
		req.Header[hk] = hv
	}

	req.Header[headerUpgrade] = []string{headerUpgradeExpected}
	req.Header[headerConn] = []string{headerConnExpected}
	req.Header[headerSecWsVersion] = []string{headerSecWsVersionExpected}

	secWsKey := newSecWsKey()
	expectedSecWsAccept := AcceptToken(secWsKey)

	req.Header[headerSecWsKey] = []string{secWsKey}

	err = req.Write(netConn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to write request: [%w]", ErrHandshakeFailure, err)
	}

	bufReader := bufio.NewReaderSize(netConn, opts.ReadBufferSize)

	res, err := http.ReadResponse(bufReader, &req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: [%w]", ErrHandshakeFailure, err)
	}

	if res.StatusCode != http.StatusSwitchingProtocols {
		return nil, fmt.Errorf(`%w: status code must be %d, actual %d`,
			ErrHandshakeFailure, http.StatusSwitchingProtocols, res.StatusCode)
	}

	actual, ok := headerContainsToken(res.Header, headerUpgrade, headerUpgradeExpected)
	if !ok {
		return nil, fmt.Errorf(`%w: %q header must be %q, actual %q`,
			ErrHandshakeFailure, headerUpgrade, headerUpgradeExpected, actual)
	}

	actual, ok = headerContainsToken(res.Header, headerConn, headerConnExpected)
	if !ok {
		return nil, fmt.Errorf(`%w: %q header must be %q, actual %q`,
			ErrHandshakeFailure, headerConn, headerConnExpected, actual)
	}

	secWsAccept := res.Header.Get(headerSecWsAccept)
	if len(secWsAccept) == 0 {
		return nil, fmt.Errorf("%w: missing %q header", ErrHandshakeFailure, headerSecWsAccept)
	} else if secWsAccept != expectedSecWsAccept {
		return nil, fmt.Errorf("%w: %q header does not equal expected value", ErrHandshakeFailure, headerSecWsAccept)
	}

	_ = netConn.SetDeadline(time.Time{})

	c := newConn(netConn, RoleClient, opts)
	if n := bufReader.Buffered(); n > 0 {
		b, _ := bufReader.Peek(n)
		c.readAhead = bytes.Clone(b)
	}
	c.open()

	netConn = nil

	return c, nil
}
