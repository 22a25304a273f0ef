package pools

import "sync"

// BufferPool is a multi-tiered byte slice pool for different size classes.
type BufferPool struct {
	pools []*sync.Pool
	sizes []int
}

// Common buffer sizes for HTTP workloads.
var defaultSizes = []int{
	512,   // small responses
	2048,  // medium (most common)
	8192,  // read chunks
	32768, // large bodies
}

// NewBufferPool creates a buffer pool with the standard size tiers.
func NewBufferPool() *BufferPool {
	return NewBufferPoolWithSizes(defaultSizes)
}

// NewBufferPoolWithSizes creates a buffer pool with custom size tiers.
func NewBufferPoolWithSizes(sizes []int) *BufferPool {
	bp := &BufferPool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}

	for i, size := range sizes {
		sz := size
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, sz)
				return &buf
			},
		}
	}

	return bp
}

// Get returns a byte slice of at least the requested size.
func (bp *BufferPool) Get(size int) []byte {
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			bufPtr := bp.pools[i].Get().(*[]byte)
			return (*bufPtr)[:size]
		}
	}

	// Size too large for any tier, allocate directly.
	return make([]byte, size)
}

// Put returns a byte slice to the pool. Slices whose capacity does not
// match a tier are left to the GC.
func (bp *BufferPool) Put(buf []byte) {
	capacity := cap(buf)

	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			buf = buf[:capacity]
			bp.pools[i].Put(&buf)
			return
		}
	}
}
