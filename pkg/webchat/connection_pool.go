package webchat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 5 * time.Second
)

// ConnectionPool fans widget frames out to the browser sockets attached to
// one widget. Each connection gets its own writer goroutine; a connection
// that cannot keep up is dropped instead of stalling the others.
type ConnectionPool struct {
	convID       string
	mu           sync.Mutex
	conns        map[wsConn]*connWriter
	sendBuffer   int
	writeTimeout time.Duration
}

type connWriter struct {
	conn wsConn
	ch   chan []byte
	once sync.Once
}

func NewConnectionPool(convID string) *ConnectionPool {
	return &ConnectionPool{
		convID:       convID,
		conns:        map[wsConn]*connWriter{},
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
	}
}

func (cp *ConnectionPool) Add(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cw := &connWriter{conn: conn, ch: make(chan []byte, max(1, cp.sendBuffer))}
	cp.mu.Lock()
	cp.conns[conn] = cw
	cp.mu.Unlock()
	go cp.writeLoop(cw)
}

func (cp *ConnectionPool) Remove(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	cw, ok := cp.conns[conn]
	delete(cp.conns, conn)
	cp.mu.Unlock()
	if ok {
		cw.stop()
	}
	_ = conn.Close()
}

func (cp *ConnectionPool) Broadcast(data []byte) {
	if cp == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	var dropped []*connWriter
	for conn, cw := range cp.conns {
		select {
		case cw.ch <- data:
		default:
			log.Warn().Str("component", "webchat").Str("conv_id", cp.convID).Msg("ws send buffer full, dropping connection")
			delete(cp.conns, conn)
			dropped = append(dropped, cw)
		}
	}
	cp.mu.Unlock()
	for _, cw := range dropped {
		cw.stop()
		_ = cw.conn.Close()
	}
}

func (cp *ConnectionPool) SendToOne(conn wsConn, data []byte) {
	if cp == nil || conn == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	cw, ok := cp.conns[conn]
	full := false
	if ok {
		select {
		case cw.ch <- data:
		default:
			full = true
			delete(cp.conns, conn)
		}
	}
	cp.mu.Unlock()
	if full {
		log.Warn().Str("component", "webchat").Str("conv_id", cp.convID).Msg("ws send buffer full, dropping connection")
		cw.stop()
		_ = conn.Close()
	}
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	writers := make([]*connWriter, 0, len(cp.conns))
	for conn, cw := range cp.conns {
		writers = append(writers, cw)
		delete(cp.conns, conn)
	}
	cp.mu.Unlock()
	for _, cw := range writers {
		cw.stop()
		_ = cw.conn.Close()
	}
}

func (cp *ConnectionPool) writeLoop(cw *connWriter) {
	for data := range cw.ch {
		if cp.writeTimeout > 0 {
			_ = cw.conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
		}
		if err := cw.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Str("component", "webchat").Str("conv_id", cp.convID).Msg("ws write failed, dropping connection")
			cp.Remove(cw.conn)
			return
		}
	}
}

func (cw *connWriter) stop() {
	cw.once.Do(func() { close(cw.ch) })
}
