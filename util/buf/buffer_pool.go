// Package buf provides a sync.Pool-backed buffer pool sized for the three
// buffer shapes that recur on the hot path: wire packet headers, encoded
// row payloads, and composite index keys.
package buf

import (
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// HeaderSize is the pooled capacity for a Packet header buffer. The
	// header Packet.WriteTo writes (opcode, result code, request-id
	// length, request id, body length) varies in size with the id.
	HeaderSize = 24
	// RowBufSize is the default capacity handed out for encoding a single
	// vertex/edge row before the real length is known.
	RowBufSize = 4096
	// KeyBufSize is the default capacity for a composite (space, part,
	// vid, ...) key buffer.
	KeyBufSize = 256
)

// BufferPool hands out reusable byte slices for the fixed sizes above,
// tracking pool-miss counts so operators can size it from metrics rather
// than guesswork.
type BufferPool struct {
	headerPool *sync.Pool
	rowPool    *sync.Pool
	keyPool    *sync.Pool

	rowGetNum  uint64
	rowMissNum uint64
}

// NewBufferPool returns a ready-to-use pool.
func NewBufferPool() *BufferPool {
	p := &BufferPool{}
	p.headerPool = &sync.Pool{New: func() interface{} { return make([]byte, HeaderSize) }}
	p.rowPool = &sync.Pool{New: func() interface{} {
		atomic.AddUint64(&p.rowMissNum, 1)
		return make([]byte, RowBufSize)
	}}
	p.keyPool = &sync.Pool{New: func() interface{} { return make([]byte, KeyBufSize) }}
	return p
}

// Get returns a buffer for one of the three recognized sizes.
func (p *BufferPool) Get(size int) ([]byte, error) {
	atomic.AddUint64(&p.rowGetNum, 1)
	switch size {
	case HeaderSize:
		return p.headerPool.Get().([]byte), nil
	case RowBufSize:
		return p.rowPool.Get().([]byte), nil
	case KeyBufSize:
		return p.keyPool.Get().([]byte), nil
	default:
		return nil, fmt.Errorf("buf: unsupported pool size %d", size)
	}
}

// Put returns a buffer obtained from Get back to its pool.
func (p *BufferPool) Put(data []byte) {
	if data == nil {
		return
	}
	switch len(data) {
	case HeaderSize:
		p.headerPool.Put(data)
	case RowBufSize:
		p.rowPool.Put(data)
	case KeyBufSize:
		p.keyPool.Put(data)
	}
}

// Stats reports, for diagnostics, the number of Get calls across all
// sizes and the number of row buffers newly allocated by the row pool.
func (p *BufferPool) Stats() (gets, misses uint64) {
	return atomic.LoadUint64(&p.rowGetNum), atomic.LoadUint64(&p.rowMissNum)
}
