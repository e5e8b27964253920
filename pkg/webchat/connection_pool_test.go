package webchat

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubConn struct {
	mu       sync.Mutex
	writes   [][]byte
	blockCh  chan struct{}
	closedCh chan struct{}
	failErr  error
}

func newStubConn(blockWrites bool) *stubConn {
	blockCh := make(chan struct{})
	if !blockWrites {
		close(blockCh)
	}
	return &stubConn{blockCh: blockCh, closedCh: make(chan struct{})}
}

func (s *stubConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-s.closedCh:
		return errors.New("closed")
	case <-s.blockCh:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.writes = append(s.writes, data)
	return nil
}

func (s *stubConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closedCh:
	default:
		close(s.closedCh)
	}
	return nil
}

func (s *stubConn) SetWriteDeadline(_ time.Time) error {
	return nil
}

func (s *stubConn) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.writes))
	for _, w := range s.writes {
		out = append(out, string(w))
	}
	return out
}

func TestConnectionPoolBroadcastsInOrder(t *testing.T) {
	pool := NewConnectionPool("c1")
	a, b := newStubConn(false), newStubConn(false)
	pool.Add(a)
	pool.Add(b)
	require.Equal(t, 2, pool.Count())

	pool.Broadcast([]byte("one"))
	pool.Broadcast([]byte("two"))

	for _, c := range []*stubConn{a, b} {
		require.Eventually(t, func() bool { return len(c.written()) == 2 }, time.Second, 5*time.Millisecond)
		require.Equal(t, []string{"one", "two"}, c.written())
	}
}

func TestConnectionPoolDropsOnFullBuffer(t *testing.T) {
	pool := NewConnectionPool("c1")
	pool.sendBuffer = 1
	pool.writeTimeout = 0

	conn := newStubConn(true)
	pool.Add(conn)

	pool.Broadcast([]byte("one"))
	pool.Broadcast([]byte("two"))
	pool.Broadcast([]byte("three"))

	require.Eventually(t, func() bool {
		return pool.Count() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestConnectionPoolDropsOnWriteError(t *testing.T) {
	pool := NewConnectionPool("c1")
	conn := newStubConn(false)
	conn.failErr = errors.New("broken pipe")
	pool.Add(conn)

	pool.Broadcast([]byte("one"))
	require.Eventually(t, func() bool { return pool.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestConnectionPoolCloseAll(t *testing.T) {
	pool := NewConnectionPool("c1")
	a := newStubConn(false)
	pool.Add(a)
	pool.CloseAll()
	require.Equal(t, 0, pool.Count())
	select {
	case <-a.closedCh:
	default:
		t.Fatal("connection was not closed")
	}
}
