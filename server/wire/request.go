// Package wire implements the MessagePack envelope shared by every request and
// reply exchanged with clients.
//
// A request is an array whose first element is the request type and whose
// second element is a correlation id chosen by the client. Replies are arrays
// of exactly three elements: the request type with FlagReply or FlagError set,
// the echoed id and a payload.
package wire

import (
	"bytes"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// Request types understood by the server.
const (
	TypeSetOpt   = 1
	TypeGetOpt   = 2
	TypeInfo     = 3
	TypeGet      = 4
	TypeGetTable = 5
	TypeDestInfo = 6
)

const (
	// TypeMask selects the request kind bits of a tag.
	TypeMask = 0x0f
	// FlagReply marks a successful reply.
	FlagReply = 0x10
	// FlagError marks an error reply.
	FlagError = 0x20
)

// Request is a decoded request envelope.
type Request struct {
	// Type is the request type tag sent by the client.
	Type int
	// ID is the correlation id echoed in the reply.
	ID uint32
	// Len is the number of elements in the request array, including the type
	// and the id.
	Len int
	// Args holds the elements following the id.
	Args []any
}

// RequestError describes a request that cannot be dispatched. It carries the
// tag and id to use for the error reply.
type RequestError struct {
	Tag int
	ID  uint32
	Msg string
}

// Error ...
func (e *RequestError) Error() string {
	return "wire: " + e.Msg
}

// ParseRequest validates a decoded MessagePack object against the request
// envelope. Validation failures are returned as *RequestError.
func ParseRequest(v any) (*Request, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, &RequestError{Tag: FlagError, Msg: "request is not an array"}
	}
	if len(arr) == 0 {
		return nil, &RequestError{Tag: FlagError, Msg: "empty request array"}
	}
	typ, ok := unsigned(arr[0])
	if !ok || typ > math.MaxInt32 {
		return nil, &RequestError{Tag: FlagError, Msg: "request type is not a positive integer"}
	}
	tag := int(typ&TypeMask) | FlagError
	if len(arr) < 2 {
		return nil, &RequestError{Tag: tag, Msg: "request without an id"}
	}
	id, ok := unsigned(arr[1])
	if !ok || id > math.MaxUint32 {
		return nil, &RequestError{Tag: tag, Msg: "request id is not a positive integer"}
	}
	return &Request{
		Type: int(typ),
		ID:   uint32(id),
		Len:  len(arr),
		Args: arr[2:],
	}, nil
}

// unsigned converts a decoded MessagePack integer to uint64. Negative numbers
// and non-integers are rejected.
func unsigned(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case int64:
		return uint64(n), n >= 0
	case int32:
		return uint64(n), n >= 0
	case int16:
		return uint64(n), n >= 0
	case int8:
		return uint64(n), n >= 0
	}
	return 0, false
}

// Reader decodes a stream of concatenated request objects.
type Reader struct {
	dec *msgpack.Decoder
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader) *Reader {
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)
	return &Reader{dec: dec}
}

// Next decodes the next object from the stream. A *RequestError means that the
// object was consumed but is not a valid request, so the stream may continue.
// Any other error leaves the stream in an unknown state.
func (r *Reader) Next() (*Request, error) {
	v, err := r.dec.DecodeInterfaceLoose()
	if err != nil {
		return nil, err
	}
	return ParseRequest(v)
}

// DecodeRequest decodes a single request from a self-contained message.
func DecodeRequest(data []byte) (*Request, error) {
	return NewReader(bytes.NewReader(data)).Next()
}
