package wire

import (
	"bytes"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// maxPooledSize bounds the capacity of buffers returned to the pool so that a
// single oversized reply does not pin memory.
const maxPooledSize = 64 << 10

// Writer builds a single outgoing message in pooled scratch memory. A Writer
// must be released with Release once its bytes have been handed to the
// transport.
type Writer struct {
	buf bytes.Buffer
	enc *msgpack.Encoder
}

var writerPool = sync.Pool{
	New: func() any {
		w := &Writer{}
		w.enc = msgpack.NewEncoder(&w.buf)
		return w
	},
}

// NewWriter returns an empty Writer from the pool.
func NewWriter() *Writer {
	w := writerPool.Get().(*Writer)
	w.buf.Reset()
	return w
}

// Encoder returns the encoder writing into w.
func (w *Writer) Encoder() *msgpack.Encoder {
	return w.enc
}

// Header writes the start of a reply envelope: a three element array, the
// reply tag and the echoed correlation id. The payload must follow.
func (w *Writer) Header(tag int, id uint32) error {
	if err := w.enc.EncodeArrayLen(3); err != nil {
		return err
	}
	if err := w.enc.EncodeInt(int64(tag)); err != nil {
		return err
	}
	return w.enc.EncodeUint(uint64(id))
}

// Error writes a complete error reply with msg as its payload.
func (w *Writer) Error(tag int, id uint32, msg string) error {
	if err := w.Header(tag, id); err != nil {
		return err
	}
	return w.enc.EncodeString(msg)
}

// Bytes returns the encoded message. The slice is only valid until Release.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of encoded bytes.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Release returns w to the pool. w must not be used afterwards.
func (w *Writer) Release() {
	if w.buf.Cap() > maxPooledSize {
		return
	}
	w.buf.Reset()
	writerPool.Put(w)
}
