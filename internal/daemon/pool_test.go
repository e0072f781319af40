package daemon

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestListener(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

// newStubChild wires a child whose control channel is a net.Pipe, with the
// "remote" (child-process) end drained by a goroutine that records every
// frame it reads, so tests can assert on what the pool sends without
// running the real worker loop.
func newStubChild(t *testing.T, pid int32) (*child, <-chan frame) {
	t.Helper()
	parentEnd, remoteEnd := net.Pipe()
	seen := make(chan frame, 16)
	go func() {
		for {
			f, err := readFrame(remoteEnd)
			if err != nil {
				close(seen)
				return
			}
			seen <- f
		}
	}()
	c := &child{pid: pid, state: Idle, ctrl: parentEnd, work: make(chan net.Conn, 1)}
	t.Cleanup(func() { remoteEnd.Close(); parentEnd.Close() })
	return c, seen
}

func TestLowestIdlePIDPicksSmallestPid(t *testing.T) {
	p := NewPool(DefaultConfig(), newTestListener(t), nil)
	c1, _ := newStubChild(t, 5)
	c2, _ := newStubChild(t, 2)
	c3, _ := newStubChild(t, 9)
	c3.state = Busy
	p.children = map[int32]*child{5: c1, 2: c2, 9: c3}

	got := p.lowestIdlePID()
	require.NotNil(t, got)
	assert.EqualValues(t, 2, got.pid)
}

func TestDispatchSendsAcceptAndQueuesConnOnIdleChild(t *testing.T) {
	p := NewPool(DefaultConfig(), newTestListener(t), nil)
	c, seen := newStubChild(t, 1)
	p.children = map[int32]*child{1: c}

	_, serverConn := net.Pipe()
	defer serverConn.Close()
	p.dispatch(serverConn)

	f := <-seen
	assert.Equal(t, byte('A'), f.tag())
	select {
	case got := <-c.work:
		assert.Equal(t, serverConn, got)
	default:
		t.Fatal("expected conn queued on child.work")
	}
}

func TestDispatchWithNoIdleChildBacklogsConnection(t *testing.T) {
	p := NewPool(DefaultConfig(), newTestListener(t), nil)
	c, _ := newStubChild(t, 1)
	c.state = Busy
	p.children = map[int32]*child{1: c}

	_, serverConn := net.Pipe()
	defer serverConn.Close()
	p.dispatch(serverConn)

	assert.True(t, p.overloaded)
	assert.NotNil(t, p.pendingConn)
}

func TestHandleEventHandsOffBacklogOnceChildGoesIdle(t *testing.T) {
	p := NewPool(DefaultConfig(), newTestListener(t), nil)
	c, seen := newStubChild(t, 1)
	c.state = Busy
	p.children = map[int32]*child{1: c}

	_, serverConn := net.Pipe()
	defer serverConn.Close()
	p.pendingConn = serverConn
	p.overloaded = true

	p.handleEvent(childEvent{pid: 1, f: idleFrame(1)})

	assert.Nil(t, p.pendingConn)
	assert.False(t, p.overloaded)

	f := <-seen
	assert.Equal(t, byte('A'), f.tag())
}

func TestHandleEventRemovesChildOnReadError(t *testing.T) {
	p := NewPool(DefaultConfig(), newTestListener(t), nil)
	c, _ := newStubChild(t, 1)
	p.children = map[int32]*child{1: c}

	p.handleEvent(childEvent{pid: 1, err: errStub("eof")})

	_, ok := p.children[1]
	assert.False(t, ok)
}

type errStub string

func (e errStub) Error() string { return string(e) }

func TestAdjustPoolAddsChildBelowMinIdle(t *testing.T) {
	cfg := Config{MinChildren: 1, MaxChildren: 5, MinIdle: 2, MaxIdle: 4}
	p := NewPool(cfg, newTestListener(t), nil)
	p.spawn = stubSpawn(t)

	require.Equal(t, 0, p.numServers())
	p.adjustPool()
	assert.Equal(t, 1, p.numServers())
}

func TestAdjustPoolKillsHighestIdleAboveMaxIdle(t *testing.T) {
	cfg := Config{MinChildren: 1, MaxChildren: 5, MinIdle: 0, MaxIdle: 1}
	p := NewPool(cfg, newTestListener(t), nil)
	c1, _ := newStubChild(t, 1)
	c2, _ := newStubChild(t, 7)
	c3, _ := newStubChild(t, 3)
	p.children = map[int32]*child{1: c1, 7: c2, 3: c3}

	p.adjustPool()

	assert.Equal(t, Killed, c2.state)
	assert.NotEqual(t, Killed, c1.state)
	assert.NotEqual(t, Killed, c3.state)
}

// stubSpawn builds a spawn func whose "child" side only ever announces idle
// once and then blocks, enough to exercise addChild/pump without a real
// worker loop.
func stubSpawn(t *testing.T) func(*Pool, int32) *child {
	return func(_ *Pool, pid int32) *child {
		parentEnd, remoteEnd := net.Pipe()
		go func() {
			writeFrame(remoteEnd, idleFrame(pid))
			buf := make([]byte, 6)
			for {
				if _, err := remoteEnd.Read(buf); err != nil {
					return
				}
			}
		}()
		t.Cleanup(func() { parentEnd.Close(); remoteEnd.Close() })
		return &child{ctrl: parentEnd, work: make(chan net.Conn, 1)}
	}
}
