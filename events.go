package websocket

import (
	"go.uber.org/zap"
)

// SetMessageHandler sets the callback for complete text and binary messages.
// The data slice is owned by the handler. A returned error closes the
// connection with CloseInternalServerErr.
func (c *Conn) SetMessageHandler(h func(mt MessageType, data []byte) error) {
	if h == nil {
		c.handleMessage = func(mt MessageType, data []byte) error {
			c.l.Debug("received message, no handler set", zap.Stringer("messageType", mt), zap.Int("len", len(data)))
			return nil
		}
	} else {
		c.handleMessage = h
	}
}

// SetCloseHandler sets a callback notified when the peer sends a close frame.
// The close reply is sent by the connection itself.
func (c *Conn) SetCloseHandler(h func(code CloseCode, reason string) error) {
	if h == nil {
		c.handleClose = func(code CloseCode, reason string) error {
			return nil
		}
	} else {
		c.handleClose = h
	}
}

// SetPingHandler sets a callback notified of every ping. The pong reply is
// queued before the handler runs.
func (c *Conn) SetPingHandler(h func(appData []byte) error) {
	if h == nil {
		c.handlePing = func(appData []byte) error {
			return nil
		}
	} else {
		c.handlePing = h
	}
}

func (c *Conn) SetPongHandler(h func(appData []byte) error) {
	if h == nil {
		c.handlePong = func(appData []byte) error {
			c.l.Debug("received pong message", zap.Int("len", len(appData)))
			return nil
		}
	} else {
		c.handlePong = h
	}
}

// SetTeardownHandler sets the callback that receives the single teardown event.
func (c *Conn) SetTeardownHandler(h func(td Teardown)) {
	if h == nil {
		c.handleTeardown = func(td Teardown) {}
	} else {
		c.handleTeardown = h
	}
}
