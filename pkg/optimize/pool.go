package optimize

import (
	"sync"
)

// BytePool recycles fixed-size byte slices. The synthetic media pumps burn
// through one buffer per RTP packet, which is exactly the churn sync.Pool
// exists for.
type BytePool struct {
	pool sync.Pool
	size int
}

// NewBytePool creates a pool handing out slices of the given size.
func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
	}
}

// Size returns the slice size the pool hands out.
func (p *BytePool) Size() int {
	return p.size
}

// Get returns a slice of the pool's size. Contents are whatever the last
// user left there.
func (p *BytePool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put recycles a slice. Slices too small to serve a future Get are dropped
// instead of poisoning the pool.
func (p *BytePool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	p.pool.Put(b[:p.size])
}
