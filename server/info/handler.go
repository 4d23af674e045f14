package info

import (
	"errors"
	"fmt"

	"github.com/dm-vev/sqe/server/stats"
	"github.com/dm-vev/sqe/server/wire"
)

// ErrMalformedRequest is returned by HandleInfoRequest after an error reply has
// been sent for a request of the wrong shape.
var ErrMalformedRequest = errors.New("info: malformed request")

// requestLen is the number of elements in a valid info request: the type tag
// and the correlation id.
const requestLen = 2

// Conn is the connection an info request arrived on.
type Conn interface {
	// Counters returns a snapshot of the counters owned by the connection.
	Counters() stats.Counters
	// Send hands a complete message to the transport. The slice is not
	// retained after Send returns.
	Send(b []byte) error
}

// Source provides the process-wide counters. *stats.Registry implements it.
type Source interface {
	Snapshot() stats.Counters
}

// Handler builds and sends replies to info requests.
type Handler struct {
	global Source
}

// NewHandler returns a Handler reporting the global counters of src.
func NewHandler(src Source) *Handler {
	return &Handler{global: src}
}

// HandleInfoRequest answers req, which arrived on conn with correlation id id.
// A request that is not exactly [type, id] is answered with an error reply and
// ErrMalformedRequest is returned. Errors from encoding or from conn.Send are
// returned wrapped; in that case nothing, or only a complete reply, has been
// handed to the transport.
func (h *Handler) HandleInfoRequest(conn Conn, id uint32, req *wire.Request) error {
	w := wire.NewWriter()
	defer w.Release()

	if req.Len != requestLen {
		if err := w.Error(req.Type&wire.TypeMask|wire.FlagError, id, "bad request length"); err != nil {
			return fmt.Errorf("info: encode error reply: %w", err)
		}
		if err := conn.Send(w.Bytes()); err != nil {
			return fmt.Errorf("info: send error reply: %w", err)
		}
		return fmt.Errorf("%w: %d elements", ErrMalformedRequest, req.Len)
	}

	if err := writeReply(w, id, h.global.Snapshot(), conn.Counters()); err != nil {
		return fmt.Errorf("info: encode reply: %w", err)
	}
	if err := conn.Send(w.Bytes()); err != nil {
		return fmt.Errorf("info: send reply: %w", err)
	}
	return nil
}

// scope is one named counter map of the reply payload.
type scope struct {
	name     string
	counters stats.Counters
}

// writeReply encodes [TypeInfo|FlagReply, id, {"global": {...}, "connection": {...}}].
// Each map length is derived from the same snapshot that is emitted.
func writeReply(w *wire.Writer, id uint32, global, conn stats.Counters) error {
	if err := w.Header(wire.TypeInfo|wire.FlagReply, id); err != nil {
		return err
	}
	scopes := [...]scope{
		{name: "global", counters: global},
		{name: "connection", counters: conn},
	}
	enc := w.Encoder()
	if err := enc.EncodeMapLen(len(scopes)); err != nil {
		return err
	}
	for _, s := range scopes {
		if err := enc.EncodeString(s.name); err != nil {
			return err
		}
		if err := enc.EncodeMapLen(stats.Count(s.counters)); err != nil {
			return err
		}
		if err := stats.Emit(s.counters, enc); err != nil {
			return err
		}
	}
	return nil
}
