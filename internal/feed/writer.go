package feed

import (
	"context"
	"errors"
)

// ErrWriterClosed is returned for writes submitted after shutdown.
var ErrWriterClosed = errors.New("store writer is closed")

type writeReply struct {
	n   int64
	err error
}

type writeRequest struct {
	ctx   context.Context
	fn    func(ctx context.Context) (int64, error)
	reply chan writeReply
}

// storeWriter serializes all mutating store calls through a single
// goroutine. Feed units submit write closures over a channel instead of
// sharing a lock, so who wants to write is decoupled from who is allowed
// to write right now. The backing store may be a single-writer embedded
// database; reads go around the writer.
type storeWriter struct {
	requests chan writeRequest
	done     chan struct{}
}

func newStoreWriter() *storeWriter {
	w := &storeWriter{
		requests: make(chan writeRequest),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *storeWriter) loop() {
	for {
		select {
		case req := <-w.requests:
			n, err := req.fn(req.ctx)
			req.reply <- writeReply{n: n, err: err}
		case <-w.done:
			return
		}
	}
}

// do runs fn on the writer goroutine and returns its result. It respects
// ctx both while queueing and while waiting for the reply.
func (w *storeWriter) do(ctx context.Context, fn func(ctx context.Context) (int64, error)) (int64, error) {
	req := writeRequest{ctx: ctx, fn: fn, reply: make(chan writeReply, 1)}
	select {
	case w.requests <- req:
	case <-w.done:
		return 0, ErrWriterClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.n, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (w *storeWriter) close() {
	close(w.done)
}
