package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type State uint8

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Transport is the byte stream under a connection. net.Conn satisfies it.
type Transport interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

const (
	defaultCloseTimeout = 5 * time.Second
	// min size to be able to hold a full control frame
	minBufSize = 4096
)

type Options struct {
	// Logger receives connection events. Defaults to a no-op logger.
	Logger *zap.Logger
	// CloseTimeout bounds the wait for the peer's close frame after a local close.
	CloseTimeout time.Duration
	// WriteTimeout bounds a single flush. 0 blocks until the transport accepts the bytes.
	WriteTimeout time.Duration
	ReadBufferSize  int
	WriteBufferSize int
	// MaxMessageSize limits inbound messages, 0 means unlimited.
	MaxMessageSize int64
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = defaultCloseTimeout
	}
	if o.ReadBufferSize < minBufSize {
		o.ReadBufferSize = minBufSize
	}
	if o.WriteBufferSize < minBufSize {
		o.WriteBufferSize = minBufSize
	}
	return o
}

type Initiator uint8

const (
	InitiatorLocal Initiator = iota
	InitiatorPeer
	InitiatorTransport
)

func (i Initiator) String() string {
	switch i {
	case InitiatorLocal:
		return "local"
	case InitiatorPeer:
		return "peer"
	default:
		return "transport"
	}
}

// Teardown describes why a connection reached StateClosed. It is produced
// exactly once per connection.
type Teardown struct {
	ConnID    string
	Code      CloseCode
	Reason    string
	Initiator Initiator
	// Err is nil after a clean close handshake.
	Err error
}

type closeInfo struct {
	code   CloseCode
	reason string
}

// Conn runs the protocol for one connection. All methods must be called from
// the goroutine that owns the connection, which is the goroutine running
// Serve when Serve is used; handlers run on that goroutine too.
type Conn struct {
	id string
	l  *zap.Logger

	transport Transport
	role      Role
	opts      Options

	state   State
	decoder *Decoder
	encoder *Encoder
	out     *outbox

	// bytes read together with the handshake
	readAhead []byte

	sentConnClose bool
	recvConnClose bool
	pendingClose  *closeInfo
	closeDeadline time.Time
	teardown      *Teardown

	curWriter *messageWriter

	handleMessage  func(mt MessageType, data []byte) error
	handleClose    func(code CloseCode, reason string) error
	handlePing     func(appData []byte) error
	handlePong     func(appData []byte) error
	handleTeardown func(td Teardown)
}

// NewConn wraps a transport whose opening handshake has already completed.
func NewConn(t Transport, role Role, opts Options) *Conn {
	c := newConn(t, role, opts)
	c.open()
	return c
}

func newConn(t Transport, role Role, opts Options) *Conn {
	opts = opts.withDefaults()
	id := uuid.NewString()

	c := &Conn{
		id:        id,
		l:         opts.Logger.With(zap.String("conn", id), zap.Stringer("role", role)),
		transport: t,
		role:      role,
		opts:      opts,
		state:     StateConnecting,
		decoder:   NewDecoder(role, DecoderOptions{MaxMessageSize: opts.MaxMessageSize}),
		encoder:   NewEncoder(role),
		out:       newOutbox(),
	}

	c.SetMessageHandler(nil)
	c.SetCloseHandler(nil)
	c.SetPingHandler(nil)
	c.SetPongHandler(nil)
	c.SetTeardownHandler(nil)

	return c
}

func (c *Conn) open() {
	c.state = StateOpen
	c.l.Debug("connection open")
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) State() State {
	return c.state
}

func (c *Conn) Role() Role {
	return c.role
}

// Pending is the number of encoded bytes the transport has not accepted yet.
func (c *Conn) Pending() int {
	return c.out.Len()
}

// Teardown returns the teardown record once the connection is closed.
func (c *Conn) Teardown() (Teardown, bool) {
	if c.teardown == nil {
		return Teardown{}, false
	}
	return *c.teardown, true
}

// Process feeds bytes received from the transport through the decoder and
// reacts to every frame they complete. It never blocks on input; bytes of an
// incomplete frame stay buffered until the next call. Bytes that arrived
// together with the opening handshake are consumed by the first call. Queued
// output is flushed before returning.
func (c *Conn) Process(chunk []byte) error {
	switch c.state {
	case StateConnecting:
		return fmt.Errorf("connection is not open yet")
	case StateClosed:
		return ErrClosed
	}

	if len(c.readAhead) > 0 {
		chunk = append(c.readAhead, chunk...)
		c.readAhead = nil
	}

	frames, decodeErr := c.decoder.Feed(chunk)
	for i := range frames {
		if err := c.handleFrame(&frames[i]); err != nil {
			return err
		}
		if c.state == StateClosed {
			return nil
		}
	}

	if decodeErr != nil {
		return c.fail(decodeErr)
	}

	return c.flush()
}

func (c *Conn) handleFrame(f *Frame) error {
	c.l.Debug("received frame", zap.Stringer("opcode", f.Opcode), zap.Int("payloadLength", len(f.Payload)))

	switch f.Opcode {
	case OpText, OpBinary:
		if c.state != StateOpen {
			c.l.Debug("discarding data frame, close already sent")
			return nil
		}
		if f.Opcode == OpText && !utf8.Valid(f.Payload) {
			return c.fail(protocolErrorf(CloseInvalidFramePayloadData, "received invalid UTF-8 data"))
		}
		if err := c.handleMessage(MessageType(f.Opcode), f.Payload); err != nil {
			return c.fail(fmt.Errorf("failed to handle message: [%w]", err))
		}

	case OpPing:
		if c.state == StateOpen {
			if err := c.writeControl(OpPong, f.Payload); err != nil {
				return c.fail(err)
			}
		}
		if err := c.handlePing(f.Payload); err != nil {
			return c.fail(fmt.Errorf("failed to handle ping frame: [%w]", err))
		}

	case OpPong:
		if err := c.handlePong(f.Payload); err != nil {
			return c.fail(fmt.Errorf("failed to handle pong frame: [%w]", err))
		}

	case OpClose:
		return c.onPeerClose(f.Payload)

	case OpContinuation:
		return c.fail(protocolErrorf(CloseProtocolError, "unexpected continuation frame"))

	default:
		return c.fail(protocolErrorf(CloseProtocolError, "opcode must not be one of reserved values, received 0x%X", uint8(f.Opcode)))
	}

	return nil
}

func (c *Conn) onPeerClose(payload []byte) error {
	code, reason, err := parseClosePayload(payload)
	if err != nil {
		return c.fail(err)
	}

	c.recvConnClose = true
	c.l.Debug("received close frame", zap.Stringer("code", code))

	if err := c.handleClose(code, reason); err != nil {
		c.l.Debug("close handler failed", zap.Error(err))
	}

	td := Teardown{Code: code, Reason: reason, Initiator: InitiatorPeer}
	if c.sentConnClose {
		td.Initiator = InitiatorLocal
		if c.pendingClose != nil {
			td.Code, td.Reason = c.pendingClose.code, c.pendingClose.reason
		}
	} else {
		echo := code
		if echo == CloseNoStatusReceived {
			echo = CloseNormalClosure
		}
		if err := c.writeClose(echo, ""); err != nil {
			return c.fail(err)
		}
	}

	c.state = StateClosing
	c.finish(td, c.flushBestEffort())

	return nil
}

// fail tears the connection down because of err. Transport failures close
// without writing; anything else sends a close frame first.
func (c *Conn) fail(err error) error {
	if c.state == StateClosed {
		return err
	}

	var te *TransportError
	if errors.As(err, &te) {
		c.out.discard()
		c.finish(Teardown{Code: CloseAbnormalClosure, Reason: te.Op, Initiator: InitiatorTransport, Err: err})
		return err
	}

	code, reason := CloseInternalServerErr, ""
	var pe *ProtocolError
	if errors.As(err, &pe) {
		code, reason = pe.Code, pe.Reason
	}

	c.abort(code, reason, err)
	return err
}

// abort sends a close frame on a best effort basis and releases the transport
// whether or not the write succeeds.
func (c *Conn) abort(code CloseCode, reason string, cause error) {
	c.l.Debug("connection fatal error, closing connection", zap.Stringer("code", code), zap.Error(cause))

	var writeErr error
	if !c.sentConnClose {
		writeErr = c.writeClose(code, reason)
	}
	c.state = StateClosing

	c.finish(Teardown{Code: code, Reason: reason, Initiator: InitiatorLocal, Err: cause},
		writeErr, c.flushBestEffort())
}

func (c *Conn) finish(td Teardown, errs ...error) {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.curWriter = nil

	var closeErr error
	if err := c.transport.Close(); err != nil {
		closeErr = &TransportError{Op: "close", Err: err}
	}

	td.ConnID = c.id
	td.Err = multierr.Combine(append([]error{td.Err}, append(errs, closeErr)...)...)
	c.out.discard()
	c.teardown = &td

	c.l.Info("connection torn down",
		zap.Stringer("code", td.Code),
		zap.Stringer("initiator", td.Initiator),
		zap.Error(td.Err))

	c.handleTeardown(td)
}

// Close starts a normal closure.
func (c *Conn) Close() error {
	return c.CloseWithReason(CloseNormalClosure, "")
}

// CloseWithReason sends a close frame and moves to StateClosing. The
// connection reaches StateClosed when the peer answers, or when
// CloseTimeout passes without an answer.
func (c *Conn) CloseWithReason(code CloseCode, reason string) error {
	switch c.state {
	case StateClosed:
		return ErrClosed
	case StateClosing:
		return nil
	case StateConnecting:
		return fmt.Errorf("connection is not open yet")
	}

	if !code.IsValid() {
		return fmt.Errorf("close code %d must not be sent in a close frame", code.U())
	}

	if err := c.writeClose(code, reason); err != nil {
		return err
	}
	c.pendingClose = &closeInfo{code: code, reason: reason}
	c.state = StateClosing
	c.closeDeadline = time.Now().Add(c.opts.CloseTimeout)

	return c.flush()
}

// CheckCloseTimeout forces StateClosed when a local close has waited longer
// than CloseTimeout for the peer's answer. It reports whether it did so.
func (c *Conn) CheckCloseTimeout(now time.Time) bool {
	if c.state != StateClosing || c.closeDeadline.IsZero() || now.Before(c.closeDeadline) {
		return false
	}

	td := Teardown{Initiator: InitiatorLocal, Err: ErrCloseTimeout}
	if c.pendingClose != nil {
		td.Code, td.Reason = c.pendingClose.code, c.pendingClose.reason
	}
	c.finish(td)

	return true
}

// Serve reads the transport until the connection is closed. Cancelling ctx
// closes the connection with CloseGoingAway. It returns nil after a clean
// close handshake and the teardown error otherwise.
func (c *Conn) Serve(ctx context.Context) error {
	if c.state == StateConnecting {
		return fmt.Errorf("connection is not open yet")
	}

	unblocked := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		// unblocks a pending Read or Write, the loop below notices ctx.Err()
		_ = c.transport.SetReadDeadline(time.Unix(1, 0))
		_ = c.transport.SetWriteDeadline(time.Unix(1, 0))
		close(unblocked)
	})
	defer stop()

	goingAway := func(err error) {
		// the callback must be done before the close frame arms its own write deadline
		if !stop() {
			<-unblocked
		}
		c.abort(CloseGoingAway, "", err)
	}

	if len(c.readAhead) > 0 {
		_ = c.Process(nil)
	}

	buf := make([]byte, c.opts.ReadBufferSize)
	for c.state != StateClosed {
		if err := ctx.Err(); err != nil {
			goingAway(err)
			break
		}
		if err := c.flush(); err != nil {
			break
		}

		if err := c.transport.SetReadDeadline(c.readDeadline()); err != nil {
			c.fail(&TransportError{Op: "set read deadline", Err: err})
			break
		}
		if err := ctx.Err(); err != nil {
			goingAway(err)
			break
		}

		n, err := c.transport.Read(buf)
		if n > 0 {
			_ = c.Process(buf[:n])
		}
		if err == nil || c.state == StateClosed {
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			goingAway(ctxErr)
			break
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			c.CheckCloseTimeout(time.Now())
			continue
		}
		c.fail(&TransportError{Op: "read", Err: err})
	}

	if c.teardown == nil {
		return ErrClosed
	}
	return c.teardown.Err
}

func (c *Conn) readDeadline() time.Time {
	switch {
	case c.state == StateClosing && !c.closeDeadline.IsZero():
		return c.closeDeadline
	case !c.out.empty() && c.opts.WriteTimeout > 0:
		// come back to retry the flush
		return time.Now().Add(c.opts.WriteTimeout)
	default:
		return time.Time{}
	}
}

// WriteMessage sends data as a single unfragmented frame.
func (c *Conn) WriteMessage(messageType MessageType, data []byte) error {
	if !messageType.isData() {
		return fmt.Errorf("message type must be text or binary")
	}
	if err := c.writable(); err != nil {
		return err
	}
	if c.curWriter != nil {
		return fmt.Errorf("a fragmented message is being written, close its writer first")
	}

	frame, err := c.encoder.EncodeFrame(true, Opcode(messageType), data)
	if err != nil {
		return fmt.Errorf("failed to encode frame: [%w]", err)
	}
	c.out.push(frame)

	return c.flush()
}

// WritePing sends a ping; the answer arrives at the pong handler.
func (c *Conn) WritePing(data []byte) error {
	if err := c.writable(); err != nil {
		return err
	}
	if err := c.writeControl(OpPing, data); err != nil {
		return err
	}
	return c.flush()
}

func (c *Conn) writable() error {
	if c.state != StateOpen {
		return ErrClosed
	}
	return nil
}

func (c *Conn) writeClose(code CloseCode, reason string) error {
	if c.sentConnClose {
		c.l.Debug("already wrote close message, skipping")
		return nil
	}

	c.l.Debug("writing close message", zap.Stringer("code", code))
	if err := c.writeControl(OpClose, CloseMessageData(code, reason)); err != nil {
		return err
	}
	c.sentConnClose = true

	return nil
}

func (c *Conn) writeControl(opcode Opcode, data []byte) error {
	frame, err := c.encoder.EncodeFrame(true, opcode, data)
	if err != nil {
		return fmt.Errorf("failed to write control frame: [%w]", err)
	}
	c.out.push(frame)
	return nil
}

func (c *Conn) flush() error {
	if _, err := c.out.flush(c.transport, c.opts.WriteTimeout); err != nil {
		return c.fail(&TransportError{Op: "write", Err: err})
	}
	return nil
}

// flushBestEffort is used while closing: it never waits longer than
// WriteTimeout (CloseTimeout when unset) and reports rather than handles errors.
func (c *Conn) flushBestEffort() error {
	timeout := c.opts.WriteTimeout
	if timeout <= 0 {
		timeout = c.opts.CloseTimeout
	}
	if _, err := c.out.flush(c.transport, timeout); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}
