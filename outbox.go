package websocket

import (
	"errors"
	"os"
	"time"

	"github.com/eapache/queue"
)

// outbox holds encoded frames until the transport accepts them. A write that
// hits the write deadline leaves the unsent tail in head, so a slow peer
// delays frames but never loses them.
type outbox struct {
	q    *queue.Queue
	head []byte

	bytes int
}

func newOutbox() *outbox {
	return &outbox{q: queue.New()}
}

func (o *outbox) push(frame []byte) {
	o.q.Add(frame)
	o.bytes += len(frame)
}

// Len is the number of bytes waiting to be written.
func (o *outbox) Len() int {
	return o.bytes
}

func (o *outbox) empty() bool {
	return len(o.head) == 0 && o.q.Length() == 0
}

// flush writes queued frames in order. It returns drained=false with a nil
// error when the transport stopped accepting bytes before the deadline.
func (o *outbox) flush(t Transport, timeout time.Duration) (drained bool, err error) {
	if o.empty() {
		return true, nil
	}

	if timeout > 0 {
		if err := t.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return false, err
		}
		defer t.SetWriteDeadline(time.Time{})
	}

	for {
		if len(o.head) == 0 {
			if o.q.Length() == 0 {
				return true, nil
			}
			o.head = o.q.Remove().([]byte)
		}

		n, err := t.Write(o.head)
		o.head = o.head[n:]
		o.bytes -= n
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return false, nil
			}
			return false, err
		}
	}
}

// discard drops everything still queued, used once the transport is gone.
func (o *outbox) discard() {
	o.q = queue.New()
	o.head = nil
	o.bytes = 0
}
