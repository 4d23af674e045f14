// Package session holds the per-connection state of connected clients.
package session

import (
	"net"
	"sync"
	"time"

	"github.com/dm-vev/sqe/server/stats"
	"github.com/google/uuid"
)

// Transport carries encoded messages for a single client connection.
type Transport interface {
	// Send writes one complete message. The slice is not retained after Send
	// returns.
	Send(b []byte) error
	// RemoteAddr returns the address of the client.
	RemoteAddr() net.Addr
	// Close closes the connection.
	Close() error
}

// Session is the server side state of one client connection. It owns the
// connection's counters, which live exactly as long as the Session.
type Session struct {
	id     uuid.UUID
	t      Transport
	opened time.Time

	mu       sync.Mutex
	counters stats.Counters

	sendMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// New creates a Session for a freshly accepted connection.
func New(t Transport) *Session {
	return &Session{
		id:       uuid.New(),
		t:        t,
		opened:   time.Now(),
		counters: stats.NewConnectionCounters(),
	}
}

// ID returns the unique identifier of the session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// RemoteAddr returns the address of the client.
func (s *Session) RemoteAddr() net.Addr {
	return s.t.RemoteAddr()
}

// Opened returns the time at which the connection was accepted.
func (s *Session) Opened() time.Time {
	return s.opened
}

// Counters returns a snapshot of the connection counters.
func (s *Session) Counters() stats.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// ClientRequest records a request received on the connection.
func (s *Session) ClientRequest() {
	s.mu.Lock()
	s.counters.ClientRequest()
	s.mu.Unlock()
}

// InvalidRequest records a request on the connection that was answered with an
// error reply.
func (s *Session) InvalidRequest() {
	s.mu.Lock()
	s.counters.InvalidRequest()
	s.mu.Unlock()
}

// Send writes b to the client. Concurrent calls are serialised so that
// messages are never interleaved.
func (s *Session) Send(b []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.t.Send(b)
}

// Close closes the underlying connection. Subsequent calls return the result
// of the first one.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.t.Close()
	})
	return s.closeErr
}
