package buffer

import (
	"testing"
)

func TestBytePoolGet(t *testing.T) {
	pool := NewBytePool(1024, 4096)

	tests := []struct {
		name    string
		size    int
		wantCap int
	}{
		{"exact bucket", 1024, 1024},
		{"rounds up", 1500, 4096},
		{"zero", 0, 1024},
		{"larger than buckets", 10000, 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := pool.Get(tt.size)
			if len(buf) != tt.size {
				t.Errorf("len = %d, want %d", len(buf), tt.size)
			}
			if cap(buf) != tt.wantCap {
				t.Errorf("cap = %d, want %d", cap(buf), tt.wantCap)
			}
			pool.Put(buf)
		})
	}
}

func TestBytePoolPutClears(t *testing.T) {
	pool := NewBytePool(64)

	buf := pool.Get(64)
	for i := range buf {
		buf[i] = 0xAB
	}
	pool.Put(buf[:10])

	// sync.Pool may or may not hand the same slice back; either way it must be zeroed.
	again := pool.Get(64)
	for i, b := range again {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, b)
		}
	}
}

func TestBytePoolPutIgnoresForeignSlices(t *testing.T) {
	pool := NewBytePool(64)
	pool.Put(nil)
	pool.Put(make([]byte, 100))
}

func TestSharedPool(t *testing.T) {
	buf := GetBuffer(65536)
	if len(buf) != 65536 {
		t.Fatalf("len = %d", len(buf))
	}
	PutBuffer(buf)
}
