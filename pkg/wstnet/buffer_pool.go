package wstnet

import "sync"

const (
	// RecommendedBufferSize is the transfer buffer size used when none, or one that
	// is too small, is configured.
	RecommendedBufferSize = 64 * 1024

	// MinBufferSize is the smallest transfer buffer size that will be honored
	MinBufferSize = 1024
)

// NormalizeBufferSize returns size, or RecommendedBufferSize if size is below
// MinBufferSize.
func NormalizeBufferSize(size int) int {
	if size < MinBufferSize {
		return RecommendedBufferSize
	}
	return size
}

// BufferPool rents fixed-size transfer buffers. Every buffer obtained with Get must
// be handed back with Put exactly once, by the same owner, on every exit path.
type BufferPool interface {
	Get() []byte
	Put(buf []byte)
}

// SyncBufferPool is a BufferPool backed by sync.Pool. All buffers it hands out
// have the same length.
type SyncBufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool creates a SyncBufferPool of buffers of the given size, normalized
// with NormalizeBufferSize.
func NewBufferPool(size int) *SyncBufferPool {
	p := &SyncBufferPool{
		size: NormalizeBufferSize(size),
	}
	p.pool.New = func() interface{} {
		b := make([]byte, p.size)
		return &b
	}
	return p
}

// BufferSize returns the length of every buffer handed out by the pool
func (p *SyncBufferPool) BufferSize() int {
	return p.size
}

// Get rents a buffer
func (p *SyncBufferPool) Get() []byte {
	return *(p.pool.Get().(*[]byte))
}

// Put returns a rented buffer. Buffers of the wrong size are dropped.
func (p *SyncBufferPool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}
