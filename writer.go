package websocket

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// NextWriter returns a writer for one message. Data is buffered up to
// WriteBufferSize and sent as a fragment each time the buffer fills; Close
// sends the final fragment. Control frames may be sent between fragments.
func (c *Conn) NextWriter(messageType MessageType) (io.WriteCloser, error) {
	if !messageType.isData() {
		return nil, fmt.Errorf("message type must be text or binary")
	}
	if err := c.writable(); err != nil {
		return nil, err
	}

	if c.curWriter != nil {
		err := c.curWriter.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to close current writer: [%w]", err)
		}
	}

	c.l.Debug("creating new writer", zap.Stringer("messageType", messageType))

	c.curWriter = &messageWriter{
		c:           c,
		messageType: messageType,
		buf:         make([]byte, 0, c.opts.WriteBufferSize),
		isFirst:     true,
	}
	return c.curWriter, nil
}

type messageWriter struct {
	c *Conn

	messageType MessageType
	buf         []byte

	isFirst bool
	closed  bool
}

func (w *messageWriter) Write(p []byte) (n int, err error) {
	if w.closed {
		return 0, fmt.Errorf("message writer is closed")
	}
	if err := w.c.writable(); err != nil {
		return 0, err
	}

	for len(p) != 0 {
		if len(w.buf) == cap(w.buf) {
			if err := w.writeFrame(false); err != nil {
				return n, fmt.Errorf("failed to write frame: [%w]", err)
			}
		}

		toCopy := min(len(p), cap(w.buf)-len(w.buf))
		w.buf = append(w.buf, p[:toCopy]...)
		p = p[toCopy:]
		n += toCopy
	}

	return n, nil
}

func (w *messageWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.c.curWriter == w {
		w.c.curWriter = nil
	}
	if err := w.c.writable(); err != nil {
		return err
	}

	return w.writeFrame(true)
}

func (w *messageWriter) writeFrame(isFinal bool) error {
	opcode := OpContinuation
	if w.isFirst {
		opcode = Opcode(w.messageType)
		w.isFirst = false
	}

	frame, err := w.c.encoder.EncodeFrame(isFinal, opcode, w.buf)
	if err != nil {
		return err
	}
	w.buf = w.buf[:0]
	w.c.out.push(frame)

	return w.c.flush()
}
