package syncctl

import (
	"context"

	"taxdesk/internal/recordstore"
)

// Call tracks one remote call issued by a command. Err, Applied and Next are
// only meaningful once Done is closed.
type Call struct {
	// Op is the remote operation the call performs.
	Op recordstore.Op
	// Seq is the fetch sequence number. Creates are not sequenced and carry 0.
	Seq uint64

	done    chan struct{}
	err     error
	applied bool
	next    *Call
}

func newCall(op recordstore.Op, seq uint64) *Call {
	return &Call{Op: op, Seq: seq, done: make(chan struct{})}
}

func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Err is the normalized outcome of the call, a *recordstore.StoreError or nil.
// It is reported even when the result was superseded.
func (c *Call) Err() error {
	return c.err
}

// Applied reports whether the outcome reached the view state. A fetch
// outcome is dropped when a newer fetch was issued before it settled.
func (c *Call) Applied() bool {
	return c.applied
}

// Next is the refresh issued by a successful create, or nil.
func (c *Call) Next() *Call {
	return c.next
}

// Wait blocks until the call settles or ctx is done, then follows Next so
// that waiting on a create also covers the refresh it triggered.
func (c *Call) Wait(ctx context.Context) error {
	for call := c; call != nil; call = call.next {
		select {
		case <-call.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Call) finish(err *recordstore.StoreError, applied bool, next *Call) {
	if err != nil {
		c.err = err
	}
	c.applied = applied
	c.next = next
	close(c.done)
}
