package utils

import (
	"sync"

	"github.com/valyala/bytebufferpool"
)

// BufferPool pools byte buffers for SSE frame assembly and asset downloads.
type BufferPool struct {
	pool *bytebufferpool.Pool
}

var (
	globalPool     *BufferPool
	globalPoolOnce sync.Once
)

func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: &bytebufferpool.Pool{},
	}
}

func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	return bp.pool.Get()
}

func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	bp.pool.Put(buf)
}

// Global returns the shared buffer pool instance.
func Global() *BufferPool {
	globalPoolOnce.Do(func() {
		globalPool = NewBufferPool()
	})
	return globalPool
}

func Get() *bytebufferpool.ByteBuffer {
	return Global().Get()
}

func Put(buf *bytebufferpool.ByteBuffer) {
	Global().Put(buf)
}
