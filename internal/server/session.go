package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keypad-relay/keypad-relay-server/internal/models"
	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
)

// ErrPeerDisconnected is returned when a client can no longer be written to
var ErrPeerDisconnected = errors.New("peer disconnected")

// ClientSession 单个客户端连接的状态
type ClientSession struct {
	ID          string
	Addr        string
	ConnectedAt time.Time

	conn         net.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closed       atomic.Bool

	lastSeen  atomic.Int64 // unix nanoseconds
	keyEvents atomic.Int64
	messages  atomic.Int64
	malformed atomic.Int64

	// consecutive malformed lines, owned by the connection goroutine
	badRun int
}

func newClientSession(conn net.Conn, writeTimeout time.Duration) *ClientSession {
	now := time.Now()
	addr := conn.RemoteAddr().String()
	s := &ClientSession{
		ID:           addr,
		Addr:         addr,
		ConnectedAt:  now,
		conn:         conn,
		writeTimeout: writeTimeout,
	}
	s.lastSeen.Store(now.UnixNano())
	return s
}

// Touch marks the session as seen now
func (s *ClientSession) Touch() {
	s.lastSeen.Store(time.Now().UnixNano())
	s.messages.Add(1)
}

// LastSeen returns when the last well-formed message arrived
func (s *ClientSession) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// KeyEventCount returns the number of accepted key events. It never decreases.
func (s *ClientSession) KeyEventCount() int64 {
	return s.keyEvents.Load()
}

func (s *ClientSession) nextSequence() int64 {
	return s.keyEvents.Add(1)
}

func (s *ClientSession) markMalformed() int {
	s.malformed.Add(1)
	s.badRun++
	return s.badRun
}

func (s *ClientSession) resetMalformed() {
	s.badRun = 0
}

// Send writes one message line. Writes from different goroutines are serialized.
func (s *ClientSession) Send(msg protocol.Message) error {
	line, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	if s.closed.Load() {
		return ErrPeerDisconnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if _, err := s.conn.Write(line); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPeerDisconnected, s.ID, err)
	}
	return nil
}

// Close closes the socket exactly once
func (s *ClientSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
	})
	return err
}

// Stats returns a snapshot of the session
func (s *ClientSession) Stats() models.ClientStats {
	last := s.LastSeen()
	return models.ClientStats{
		ClientID:      s.ID,
		Addr:          s.Addr,
		ConnectedAt:   s.ConnectedAt.Format(time.RFC3339),
		LastSeen:      last.Format(time.RFC3339Nano),
		KeyEventCount: s.KeyEventCount(),
		Messages:      s.messages.Load(),
		Malformed:     s.malformed.Load(),
		IdleSeconds:   time.Since(last).Seconds(),
	}
}
