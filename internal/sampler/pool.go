package sampler

import (
	"bytes"
	"sync"
)

// BufferPool recycles render buffers between snapshots.
type BufferPool struct {
	pool    sync.Pool
	maxSize int
}

func NewBufferPool(maxSize int) *BufferPool {
	return &BufferPool{
		maxSize: maxSize,
		pool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

func (p *BufferPool) Get() *bytes.Buffer {
	b := p.pool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// Put returns b to the pool unless it has grown past the size limit.
func (p *BufferPool) Put(b *bytes.Buffer) {
	if p.maxSize > 0 && b.Cap() > p.maxSize {
		return
	}
	p.pool.Put(b)
}
