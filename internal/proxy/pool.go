package proxy

import "sync"

// Every relay holds two pooled buffers, so a busy proxy churns a small heap
// quickly. Setting a minimum heap size keeps GC from running constantly;
// GOGC+GOMEMLIMIT can't express this. Only virtual memory is reserved, not
// RSS.
var (
	ballast = make([]byte, 0, 25_000_000)
	_       = ballast
)

// bufferPool hands out fixed-size relay buffers.
type bufferPool struct {
	size int
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

func (p *bufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *bufferPool) Put(b *[]byte) {
	if len(*b) != p.size {
		return
	}
	p.pool.Put(b)
}
