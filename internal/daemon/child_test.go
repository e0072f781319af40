package daemon

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	got chan net.Conn
}

func (h *recordingHandler) Handle(_ context.Context, conn net.Conn) {
	h.got <- conn
}

func TestRunChildAnnouncesIdleThenServesOneConnection(t *testing.T) {
	parentEnd, childEnd := net.Pipe()
	work := make(chan net.Conn, 1)
	handler := &recordingHandler{got: make(chan net.Conn, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runChild(ctx, 42, childEnd, work, handler, nil)

	f, err := readFrame(parentEnd)
	require.NoError(t, err)
	assert.Equal(t, byte('I'), f.tag())
	assert.EqualValues(t, 42, f.pid())

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	work <- serverConn
	require.NoError(t, writeFrame(parentEnd, cmdAccept))

	f, err = readFrame(parentEnd)
	require.NoError(t, err)
	assert.Equal(t, byte('B'), f.tag())

	handled := <-handler.got
	assert.Equal(t, serverConn, handled)

	f, err = readFrame(parentEnd)
	require.NoError(t, err)
	assert.Equal(t, byte('I'), f.tag())
}

func TestRunChildIgnoresPing(t *testing.T) {
	parentEnd, childEnd := net.Pipe()
	work := make(chan net.Conn, 1)
	handler := &recordingHandler{got: make(chan net.Conn, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runChild(ctx, 1, childEnd, work, handler, nil)

	_, err := readFrame(parentEnd) // initial idle
	require.NoError(t, err)

	require.NoError(t, writeFrame(parentEnd, cmdPing))
	require.NoError(t, writeFrame(parentEnd, cmdPing))

	// child keeps looping without announcing anything new for a ping; a
	// subsequent accept should still be served normally.
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	work <- serverConn
	require.NoError(t, writeFrame(parentEnd, cmdAccept))

	f, err := readFrame(parentEnd)
	require.NoError(t, err)
	assert.Equal(t, byte('B'), f.tag())
}

func TestRunChildExitsOnParentClose(t *testing.T) {
	parentEnd, childEnd := net.Pipe()
	work := make(chan net.Conn)
	handler := &recordingHandler{got: make(chan net.Conn, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		runChild(ctx, 1, childEnd, work, handler, nil)
		close(done)
	}()

	_, err := readFrame(parentEnd)
	require.NoError(t, err)
	parentEnd.Close()

	<-done
}
