package daemon

import (
	"context"
	"net"
)

// runChild is the worker-side loop (§4.6, "child main loop"): announce idle,
// then repeatedly wait for a command frame. P is a no-op keepalive; A means
// a connection is already waiting on work, so accept it, announce busy,
// hand it to handler, then announce idle again. Any read error (including
// EOF when the parent closes ctrl) ends the loop.
func runChild(ctx context.Context, pid int32, ctrl Channel, work <-chan net.Conn, handler ConnHandler, stats *WorkerStats) {
	defer ctrl.Close()

	if err := writeFrame(ctrl, idleFrame(pid)); err != nil {
		return
	}

	for {
		f, err := readFrame(ctrl)
		if err != nil {
			return
		}
		switch f.tag() {
		case 'P':
			continue
		case 'A':
			if !serveOne(ctx, pid, ctrl, work, handler, stats) {
				return
			}
		default:
			return
		}
	}
}

// serveOne handles the single connection queued for this accept command. It
// reports false when the child should exit (work channel closed, context
// cancelled, or a status write failed).
func serveOne(ctx context.Context, pid int32, ctrl Channel, work <-chan net.Conn, handler ConnHandler, stats *WorkerStats) bool {
	var conn net.Conn
	select {
	case c, ok := <-work:
		if !ok {
			return false
		}
		conn = c
	case <-ctx.Done():
		return false
	}

	if err := writeFrame(ctrl, busyFrame(pid)); err != nil {
		conn.Close()
		return false
	}

	if stats != nil {
		stats.Requests.Add(1)
		stats.touch()
	}
	handler.Handle(withStats(ctx, stats), conn)
	conn.Close()

	return writeFrame(ctrl, idleFrame(pid)) == nil
}
