package server

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/dm-vev/sqe/server/stats"
	"github.com/dm-vev/sqe/server/stats/statsdb"
	"github.com/dm-vev/sqe/server/wire"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func startServer(t *testing.T, conf Config, listeners ...func(conf Config) (Listener, error)) *Server {
	t.Helper()
	conf.Log = testLogger()
	conf.Listeners = listeners
	srv := conf.New()
	if len(srv.Addrs()) != len(listeners) {
		t.Fatalf("expected %d listeners, got %d", len(listeners), len(srv.Addrs()))
	}
	srv.Listen()
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func tcpOn(address string) func(conf Config) (Listener, error) {
	return func(conf Config) (Listener, error) {
		return ListenTCP(address, conf.WriteTimeout)
	}
}

func wsOn(address string) func(conf Config) (Listener, error) {
	return func(conf Config) (Listener, error) {
		return ListenWebSocket(address, conf.WriteTimeout, conf.Log)
	}
}

type client struct {
	t    *testing.T
	conn net.Conn
	dec  *msgpack.Decoder
}

func dialTCP(t *testing.T, addr net.Addr) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	dec := msgpack.NewDecoder(conn)
	dec.UseLooseInterfaceDecoding(true)
	return &client{t: t, conn: conn, dec: dec}
}

func (c *client) send(v any) {
	c.t.Helper()
	data, err := msgpack.Marshal(v)
	if err != nil {
		c.t.Fatalf("marshal request: %v", err)
	}
	if _, err := c.conn.Write(data); err != nil {
		c.t.Fatalf("write request: %v", err)
	}
}

func (c *client) reply() []any {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	v, err := c.dec.DecodeInterfaceLoose()
	if err != nil {
		c.t.Fatalf("read reply: %v", err)
	}
	return replyArray(c.t, v)
}

func replyArray(t *testing.T, v any) []any {
	t.Helper()
	arr, ok := v.([]any)
	if !ok || len(arr) != 3 {
		t.Fatalf("expected reply array of 3, got %#v", v)
	}
	return arr
}

func asInt(t *testing.T, v any) int64 {
	t.Helper()
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	}
	t.Fatalf("expected integer, got %#v", v)
	return 0
}

func counterMap(t *testing.T, payload any, scope string) map[string]int64 {
	t.Helper()
	m, ok := payload.(map[string]any)
	if !ok || len(m) != 2 {
		t.Fatalf("expected payload map with two scopes, got %#v", payload)
	}
	raw, ok := m[scope].(map[string]any)
	if !ok {
		t.Fatalf("expected %s scope to be a map, got %#v", scope, m[scope])
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		out[k] = asInt(t, v)
	}
	return out
}

func expectCounters(t *testing.T, scope string, got, want map[string]int64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %s counters %v, got %v", scope, want, got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("unexpected %s counter %s: got %d, want %d", scope, k, got[k], v)
		}
	}
}

func expectError(t *testing.T, rep []any, tag, id int64, msg string) {
	t.Helper()
	if got := asInt(t, rep[0]); got != tag {
		t.Fatalf("expected tag %#x, got %#x", tag, got)
	}
	if got := asInt(t, rep[1]); got != id {
		t.Fatalf("expected id %d, got %d", id, got)
	}
	if got, _ := rep[2].(string); got != msg {
		t.Fatalf("expected message %q, got %#v", msg, rep[2])
	}
}

func TestServerInfoOverTCP(t *testing.T) {
	srv := startServer(t, Config{}, tcpOn("127.0.0.1:0"))
	c := dialTCP(t, srv.Addrs()[0])

	c.send([]any{wire.TypeInfo, 7})
	rep := c.reply()
	if tag := asInt(t, rep[0]); tag != wire.TypeInfo|wire.FlagReply {
		t.Fatalf("expected reply tag %#x, got %#x", wire.TypeInfo|wire.FlagReply, tag)
	}
	if id := asInt(t, rep[1]); id != 7 {
		t.Fatalf("expected id 7, got %d", id)
	}
	expectCounters(t, "global", counterMap(t, rep[2], "global"), map[string]int64{
		"active_client_connections": 1,
		"total_client_connections":  1,
		"client_requests":           1,
		"invalid_requests":          0,
		"snmp_sends":                0,
		"snmp_retries":              0,
	})
	expectCounters(t, "connection", counterMap(t, rep[2], "connection"), map[string]int64{
		"client_requests":  1,
		"invalid_requests": 0,
	})
}

func TestServerRejectsInvalidRequests(t *testing.T) {
	srv := startServer(t, Config{}, tcpOn("127.0.0.1:0"))
	c := dialTCP(t, srv.Addrs()[0])

	c.send([]any{wire.TypeInfo, 8, "extra"})
	expectError(t, c.reply(), wire.TypeInfo|wire.FlagError, 8, "bad request length")

	c.send([]any{wire.TypeInfo})
	expectError(t, c.reply(), wire.TypeInfo|wire.FlagError, 0, "request without an id")

	c.send([]any{9, 1})
	expectError(t, c.reply(), 9|wire.FlagError, 1, "bad request type")

	c.send([]any{wire.TypeGet, 2})
	expectError(t, c.reply(), wire.TypeGet|wire.FlagError, 2, "unsupported request type")

	c.send("nope")
	expectError(t, c.reply(), wire.FlagError, 0, "request is not an array")

	c.send([]any{wire.TypeInfo, 10})
	rep := c.reply()
	global := counterMap(t, rep[2], "global")
	if global["client_requests"] != 6 || global["invalid_requests"] != 5 {
		t.Fatalf("expected 6 requests and 5 invalid requests, got %v", global)
	}
	expectCounters(t, "connection", counterMap(t, rep[2], "connection"), map[string]int64{
		"client_requests":  6,
		"invalid_requests": 5,
	})
}

func TestServerConnectionScopesAreIsolated(t *testing.T) {
	srv := startServer(t, Config{}, tcpOn("127.0.0.1:0"))
	a := dialTCP(t, srv.Addrs()[0])
	b := dialTCP(t, srv.Addrs()[0])

	for i := 0; i < 3; i++ {
		a.send([]any{wire.TypeInfo, i + 1})
		a.reply()
	}
	b.send([]any{wire.TypeInfo, 1})
	rep := b.reply()

	if conn := counterMap(t, rep[2], "connection"); conn["client_requests"] != 1 {
		t.Fatalf("expected connection b to report its own request only, got %v", conn)
	}
	global := counterMap(t, rep[2], "global")
	if global["client_requests"] != 4 || global["active_client_connections"] != 2 || global["total_client_connections"] != 2 {
		t.Fatalf("unexpected global counters: %v", global)
	}
}

func TestServerInfoOverWebSocket(t *testing.T) {
	srv := startServer(t, Config{}, wsOn("127.0.0.1:0"))
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addrs()[0].String()+"/", nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	read := func() []any {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		typ, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
		if typ != websocket.BinaryMessage {
			t.Fatalf("expected binary reply, got message type %d", typ)
		}
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		dec.UseLooseInterfaceDecoding(true)
		v, err := dec.DecodeInterfaceLoose()
		if err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		return replyArray(t, v)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("info")); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectError(t, read(), wire.FlagError, 0, "request is not a binary message")

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0xc1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectError(t, read(), wire.FlagError, 0, "request is not valid MessagePack")

	data, _ := msgpack.Marshal([]any{wire.TypeInfo, 99})
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	rep := read()
	if id := asInt(t, rep[1]); id != 99 {
		t.Fatalf("expected id 99, got %d", id)
	}
	expectCounters(t, "connection", counterMap(t, rep[2], "connection"), map[string]int64{
		"client_requests":  3,
		"invalid_requests": 2,
	})
}

func TestServerCloseDisconnectsClients(t *testing.T) {
	srv := startServer(t, Config{}, tcpOn("127.0.0.1:0"))
	c := dialTCP(t, srv.Addrs()[0])
	c.send([]any{wire.TypeInfo, 1})
	c.reply()

	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.dec.DecodeInterfaceLoose(); err == nil {
		t.Fatalf("expected connection to be closed")
	}
	if n := srv.SessionCount(); n != 0 {
		t.Fatalf("expected no sessions after close, got %d", n)
	}
	if snap := srv.Stats().Snapshot(); snap.ActiveClientConnections != 0 {
		t.Fatalf("expected no active connections after close, got %d", snap.ActiveClientConnections)
	}
	select {
	case <-srv.Closed():
	default:
		t.Fatalf("expected Closed channel to be closed")
	}
}

func TestServerRestoresStatsCheckpoint(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "stats")

	db, err := statsdb.Open(dir)
	if err != nil {
		t.Fatalf("open stats db: %v", err)
	}
	srv := startServer(t, Config{StatsDB: db}, tcpOn("127.0.0.1:0"))
	c := dialTCP(t, srv.Addrs()[0])
	c.send([]any{wire.TypeInfo, 1})
	c.reply()
	c.send([]any{wire.TypeInfo})
	c.reply()
	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = statsdb.Open(dir)
	if err != nil {
		t.Fatalf("reopen stats db: %v", err)
	}
	restarted := Config{Log: testLogger(), StatsDB: db}.New()
	t.Cleanup(func() { _ = restarted.Close() })

	want := stats.Counters{
		ActiveClientConnections: 0,
		TotalClientConnections:  1,
		ClientRequests:          2,
		InvalidRequests:         1,
	}
	if got := restarted.Stats().Snapshot(); got != want {
		t.Fatalf("unexpected restored counters: got %+v, want %+v", got, want)
	}
}
