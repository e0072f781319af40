package daemon

import (
	"io"
	"time"
)

// Channel is the parent<->child command transport. The only transport in
// this package is the in-memory net.Pipe that spawnInProcess creates; the
// state machine below depends on nothing beyond io.ReadWriteCloser.
type Channel = io.ReadWriteCloser

// readMaxWait is the §4.6 "Read contract" soft deadline, enforced by
// readFrame itself since not every Channel implementation supports
// SetReadDeadline (a net.Pipe does not); pingInterval paces the parent's
// keepalive broadcast.
const (
	readMaxWait  = 300 * time.Second
	pingInterval = 150 * time.Second
)

// readFrame reads exactly one 6-byte frame from ch, giving up after
// readMaxWait (§4.6's TOUT_READ_MAX). The read runs in a goroutine because
// the underlying Channel may not support a real deadline; on timeout the
// goroutine is abandoned; its eventual result is discarded.
func readFrame(ch Channel) (frame, error) {
	type result struct {
		f   frame
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, 6)
		_, err := io.ReadFull(ch, buf)
		if err != nil {
			done <- result{err: err}
			return
		}
		f, err := parseFrame(buf)
		done <- result{f: f, err: err}
	}()

	select {
	case r := <-done:
		return r.f, r.err
	case <-time.After(readMaxWait):
		return frame{}, io.ErrNoProgress
	}
}

// writeFrame writes one frame with a single Write call and returns its
// error. It does not retry: a Channel backed by net.Pipe blocks the writer
// until the reader takes the frame and never reports EAGAIN, and a write to
// a wedged reader blocks for as long as that reader does.
func writeFrame(ch Channel, f frame) error {
	_, err := ch.Write(f[:])
	return err
}
