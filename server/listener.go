package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dm-vev/sqe/server/session"
	"github.com/dm-vev/sqe/server/wire"
	"github.com/gorilla/websocket"
)

// Listener is a source for connections that may be listened on by a Server
// using Server.Listen. Implementations must return net.ErrClosed from Accept
// once closed.
type Listener interface {
	// Accept blocks until the next client connection is established.
	Accept() (Conn, error)
	// Addr returns the address the Listener is bound to.
	Addr() net.Addr
	io.Closer
}

// Conn is a client connection produced by a Listener.
type Conn interface {
	session.Transport
	// ReadRequest blocks until the next request arrives. A *wire.RequestError
	// reports a request that was received but cannot be dispatched, after
	// which reading may continue. Any other error ends the connection.
	ReadRequest() (*wire.Request, error)
}

// ListenTCP returns a Listener accepting MessagePack request streams on
// address. Replies that cannot be written within writeTimeout fail; a
// writeTimeout of 0 or lower disables the limit.
func ListenTCP(address string, writeTimeout time.Duration) (Listener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &tcpListener{Listener: l, writeTimeout: writeTimeout}, nil
}

type tcpListener struct {
	net.Listener
	writeTimeout time.Duration
}

// Accept ...
func (l *tcpListener) Accept() (Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
	}
	return &tcpConn{Conn: c, r: wire.NewReader(c), writeTimeout: l.writeTimeout}, nil
}

type tcpConn struct {
	net.Conn
	r            *wire.Reader
	writeTimeout time.Duration
}

// ReadRequest ...
func (c *tcpConn) ReadRequest() (*wire.Request, error) {
	return c.r.Next()
}

// Send ...
func (c *tcpConn) Send(b []byte) error {
	if c.writeTimeout > 0 {
		if err := c.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.Write(b)
	return err
}

// ListenWebSocket returns a Listener accepting WebSocket clients on address.
// Every binary message a client sends carries one request and every reply is
// sent as one binary message.
func ListenWebSocket(address string, writeTimeout time.Duration, log *slog.Logger) (Listener, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	l := &wsListener{
		ln:           ln,
		writeTimeout: writeTimeout,
		incoming:     make(chan Conn),
		closed:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			// Clients are tools and agents rather than browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	l.srv = &http.Server{
		Handler:           http.HandlerFunc(l.serveHTTP),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelDebug),
	}
	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("websocket listener stopped", "err", err, "addr", ln.Addr().String())
		}
	}()
	return l, nil
}

type wsListener struct {
	ln           net.Listener
	srv          *http.Server
	upgrader     websocket.Upgrader
	writeTimeout time.Duration

	incoming  chan Conn
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (l *wsListener) serveHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		return
	}
	conn := &wsConn{c: c, writeTimeout: l.writeTimeout}
	select {
	case l.incoming <- conn:
	case <-l.closed:
		_ = c.Close()
	}
}

// Accept ...
func (l *wsListener) Accept() (Conn, error) {
	select {
	case c := <-l.incoming:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

// Addr ...
func (l *wsListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close ...
func (l *wsListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.closeErr = l.srv.Close()
	})
	return l.closeErr
}

type wsConn struct {
	c            *websocket.Conn
	writeTimeout time.Duration
}

// ReadRequest ...
func (c *wsConn) ReadRequest() (*wire.Request, error) {
	typ, data, err := c.c.ReadMessage()
	if err != nil {
		return nil, err
	}
	if typ != websocket.BinaryMessage {
		return nil, &wire.RequestError{Tag: wire.FlagError, Msg: "request is not a binary message"}
	}
	req, err := wire.DecodeRequest(data)
	if err != nil {
		var reqErr *wire.RequestError
		if errors.As(err, &reqErr) {
			return nil, err
		}
		// Messages are framed, so a broken one does not desynchronise the
		// connection.
		return nil, &wire.RequestError{Tag: wire.FlagError, Msg: "request is not valid MessagePack"}
	}
	return req, nil
}

// Send ...
func (c *wsConn) Send(b []byte) error {
	if c.writeTimeout > 0 {
		if err := c.c.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.c.WriteMessage(websocket.BinaryMessage, b)
}

// RemoteAddr ...
func (c *wsConn) RemoteAddr() net.Addr {
	return c.c.RemoteAddr()
}

// Close ...
func (c *wsConn) Close() error {
	return c.c.Close()
}
