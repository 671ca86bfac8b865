// Package buffer provides pooled byte slices for the copy loops of the spill
// producer and its readers.
package buffer

import (
	"sync"
)

// BytePool hands out byte slices from size-bucketed sync.Pools. Slices are
// zeroed on Put so no plaintext lingers in pooled memory.
type BytePool struct {
	pools map[int]*sync.Pool
	sizes []int
}

// DefaultSizes are the bucket sizes of NewBytePool.
var DefaultSizes = []int{
	4096,    // 4KiB
	16384,   // 16KiB
	65536,   // 64KiB
	262144,  // 256KiB
	1048576, // 1MiB
	4194304, // 4MiB
}

// NewBytePool creates a pool with the given ascending bucket sizes, or
// DefaultSizes when none are given.
func NewBytePool(sizes ...int) *BytePool {
	if len(sizes) == 0 {
		sizes = DefaultSizes
	}

	pools := make(map[int]*sync.Pool, len(sizes))
	for _, size := range sizes {
		pools[size] = &sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		}
	}

	return &BytePool{
		pools: pools,
		sizes: append([]int(nil), sizes...),
	}
}

// Get retrieves a byte slice of length size.
func (p *BytePool) Get(size int) []byte {
	for _, bucketSize := range p.sizes {
		if bucketSize >= size {
			buf := *(p.pools[bucketSize].Get().(*[]byte))
			return buf[:size]
		}
	}

	// Larger than every bucket
	return make([]byte, size)
}

// Put returns a slice obtained from Get. Slices whose capacity matches no
// bucket are left to the GC.
func (p *BytePool) Put(buf []byte) {
	if buf == nil {
		return
	}

	pool, exists := p.pools[cap(buf)]
	if !exists {
		return
	}
	buf = buf[:cap(buf)]
	clear(buf)
	pool.Put(&buf)
}

var defaultBytePool = NewBytePool()

// GetBuffer gets a buffer from the shared pool.
func GetBuffer(size int) []byte {
	return defaultBytePool.Get(size)
}

// PutBuffer returns a buffer to the shared pool.
func PutBuffer(buf []byte) {
	defaultBytePool.Put(buf)
}
