package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/spillcache/internal/codec"
	"github.com/objectfs/spillcache/pkg/errors"
)

var plainCodec = codec.Options{Compression: codec.CompressionNone}

// completedCache returns a cache that has fully drained payload.
func completedCache(t *testing.T, payload []byte, opts ...Option) *Cache {
	t.Helper()
	c := newTestCache(t, bytes.NewReader(payload), opts...)
	require.True(t, c.AwaitCompletion(10*time.Second))
	require.NoError(t, c.Err())
	return c
}

func TestReaderBoundaries(t *testing.T) {
	for _, threshold := range []int64{97, 4096, 10_000, 1 << 20} {
		t.Run(fmt.Sprintf("threshold %d", threshold), func(t *testing.T) {
			size := int(3*threshold + 17)
			payload := randomPayload(t, 11, size)
			c := completedCache(t, payload, WithMaxPartSize(threshold))

			parts := c.Parts()
			require.Len(t, parts, 4)
			for _, part := range parts[:3] {
				assert.Equal(t, threshold, part.Length)
			}
			assert.Equal(t, int64(17), parts[3].Length)

			r := c.NewReader(false)
			defer r.Close()

			var got []byte
			buf := make([]byte, 333)
			for {
				n, err := r.Read(buf)
				got = append(got, buf[:n]...)
				assert.Equal(t, int64(len(got)), r.Offset())
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
			}
			assert.True(t, bytes.Equal(payload, got), "bytes lost or reordered across part boundaries")
		})
	}
}

func TestReaderNeverCrossesPartInOneRead(t *testing.T) {
	payload := randomPayload(t, 12, 300)
	c := completedCache(t, payload, WithMaxPartSize(100))
	r := c.NewReader(false)
	defer r.Close()

	buf := make([]byte, 250)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 100)
	assert.Equal(t, payload[:n], buf[:n])

	n, err = r.Read(buf[:0])
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestReaderIndependentCursors(t *testing.T) {
	payload := randomPayload(t, 13, 5000)
	c := completedCache(t, payload, WithMaxPartSize(1000))

	a := c.NewReader(false)
	b := c.NewReader(false)
	defer a.Close()
	defer b.Close()

	head := make([]byte, 2500)
	_, err := io.ReadFull(a, head)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), a.Offset())
	assert.Zero(t, b.Offset())

	assert.Equal(t, payload, readAll(t, b))
	assert.Equal(t, payload[2500:], readAll(t, a))
}

func TestConsumingReaderRemovesParts(t *testing.T) {
	payload := randomPayload(t, 14, 4000)
	c := completedCache(t, payload, WithMaxPartSize(1000), WithPrefix("consume"))
	require.Len(t, partFiles(t, c.Dir()), 4)

	r := c.NewReader(true)
	assert.True(t, r.Consuming())

	head := make([]byte, 1000)
	_, err := io.ReadFull(r, head)
	require.NoError(t, err)
	assert.NoFileExists(t, c.partPath(0), "a part is removed once its last byte is read")
	assert.FileExists(t, c.partPath(1))

	rest := readAll(t, r)
	assert.Equal(t, payload, append(head, rest...))
	assert.Empty(t, partFiles(t, c.Dir()))

	// The reader closed itself at EOF; EOF stays EOF until an explicit Close.
	n, err := r.Read(make([]byte, 1))
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)
	assert.Zero(t, c.Stats().ActiveReaders)

	require.NoError(t, r.Close())
	_, err = r.Read(make([]byte, 1))
	assert.True(t, errors.HasCode(err, errors.ErrCodeReaderClosed))
	assert.Zero(t, c.Stats().ActiveReaders, "explicit Close after auto-close is not counted twice")
}

func TestPartMissingAfterConsumption(t *testing.T) {
	payload := randomPayload(t, 15, 3000)
	c := completedCache(t, payload, WithMaxPartSize(1000))

	readAll(t, c.NewReader(true))

	late := c.NewReader(false)
	defer late.Close()
	_, err := late.Read(make([]byte, 10))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePartMissing), "got %v", err)

	_, again := late.Read(make([]byte, 10))
	assert.True(t, errors.HasCode(again, errors.ErrCodePartMissing), "terminal errors are sticky")

	ahead := c.NewReader(false)
	defer ahead.Close()
	skipped, err := ahead.Skip(10_000)
	assert.Equal(t, int64(0), skipped)
	assert.True(t, errors.HasCode(err, errors.ErrCodePartMissing))
}

func TestPartMissingWhenFileVanishes(t *testing.T) {
	payload := randomPayload(t, 16, 2000)
	c := completedCache(t, payload, WithMaxPartSize(1000))
	require.NoError(t, os.Remove(c.partPath(1)))

	r := c.NewReader(false)
	defer r.Close()
	head := make([]byte, 1000)
	_, err := io.ReadFull(r, head)
	require.NoError(t, err)
	assert.Equal(t, payload[:1000], head)

	_, err = r.Read(make([]byte, 10))
	assert.True(t, errors.HasCode(err, errors.ErrCodePartMissing), "got %v", err)
}

func TestReaderSkip(t *testing.T) {
	payload := randomPayload(t, 17, 5000)

	t.Run("within and across parts", func(t *testing.T) {
		c := completedCache(t, payload, WithMaxPartSize(1000))
		r := c.NewReader(false)
		defer r.Close()

		skipped, err := r.Skip(10)
		require.NoError(t, err)
		assert.Equal(t, int64(10), skipped)

		b, err := r.ReadByte()
		require.NoError(t, err)
		assert.Equal(t, payload[10], b)

		skipped, err = r.Skip(2500)
		require.NoError(t, err)
		assert.Equal(t, int64(2500), skipped)
		assert.Equal(t, int64(2511), r.Offset())
		assert.Equal(t, payload[2511:], readAll(t, r))
	})

	t.Run("past the end", func(t *testing.T) {
		c := completedCache(t, payload, WithMaxPartSize(1000))
		r := c.NewReader(false)
		defer r.Close()

		skipped, err := r.Skip(1 << 20)
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), skipped)

		_, err = r.Read(make([]byte, 1))
		assert.Equal(t, io.EOF, err)
		skipped, err = r.Skip(1)
		assert.Equal(t, int64(0), skipped)
		assert.Equal(t, io.EOF, err)
	})

	t.Run("whole parts are not decoded", func(t *testing.T) {
		c := completedCache(t, payload, WithMaxPartSize(1000), WithCodec(plainCodec))
		require.NoError(t, os.WriteFile(c.partPath(1), []byte("garbage"), 0600))

		r := c.NewReader(false)
		defer r.Close()
		skipped, err := r.Skip(2100)
		require.NoError(t, err)
		assert.Equal(t, int64(2100), skipped)
		assert.Equal(t, payload[2100:], readAll(t, r))
	})

	t.Run("consuming", func(t *testing.T) {
		c := completedCache(t, payload, WithMaxPartSize(1000))
		r := c.NewReader(true)

		skipped, err := r.Skip(2000)
		require.NoError(t, err)
		assert.Equal(t, int64(2000), skipped)
		assert.NoFileExists(t, c.partPath(0))
		assert.NoFileExists(t, c.partPath(1))
		assert.FileExists(t, c.partPath(2))

		skipped, err = r.Skip(10_000)
		require.NoError(t, err)
		assert.Equal(t, int64(3000), skipped)
		assert.Empty(t, partFiles(t, c.Dir()))
		assert.Equal(t, 5, c.Stats().PartsDeleted)
	})
}

func TestReadByte(t *testing.T) {
	payload := []byte("abc")
	c := completedCache(t, payload, WithMaxPartSize(2))
	r := c.NewReader(false)
	defer r.Close()

	for _, want := range payload {
		b, err := r.ReadByte()
		require.NoError(t, err)
		assert.Equal(t, want, b)
	}
	_, err := r.ReadByte()
	assert.Equal(t, io.EOF, err)
}

func TestCorruptPart(t *testing.T) {
	tests := []struct {
		name    string
		codec   codec.Options
		corrupt func(t *testing.T, path string)
	}{
		{
			name:  "flipped bytes",
			codec: plainCodec,
			corrupt: func(t *testing.T, path string) {
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				data[len(data)/2] ^= 0xff
				require.NoError(t, os.WriteFile(path, data, 0600))
			},
		},
		{
			name:  "truncated",
			codec: plainCodec,
			corrupt: func(t *testing.T, path string) {
				require.NoError(t, os.Truncate(path, 500))
			},
		},
		{
			name:  "trailing bytes",
			codec: plainCodec,
			corrupt: func(t *testing.T, path string) {
				f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
				require.NoError(t, err)
				_, err = f.Write([]byte("extra"))
				require.NoError(t, err)
				require.NoError(t, f.Close())
			},
		},
		{
			name:  "truncated zstd",
			codec: codec.DefaultOptions(),
			corrupt: func(t *testing.T, path string) {
				info, err := os.Stat(path)
				require.NoError(t, err)
				require.NoError(t, os.Truncate(path, info.Size()/2))
			},
		},
		{
			name:  "zstd replaced with garbage",
			codec: codec.DefaultOptions(),
			corrupt: func(t *testing.T, path string) {
				require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x5a}, 64), 0600))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := randomPayload(t, 18, 3000)
			c := completedCache(t, payload, WithMaxPartSize(1000), WithCodec(tt.codec))
			tt.corrupt(t, c.partPath(1))

			r := c.NewReader(false)
			defer r.Close()
			_, err := io.ReadAll(r)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodePartCorrupt), "got %v", err)

			var cacheErr *errors.CacheError
			require.True(t, errors.As(err, &cacheErr))
			assert.Equal(t, 1, cacheErr.Details["part"])
			assert.True(t, cacheErr.Terminal)

			_, again := r.Read(make([]byte, 1))
			assert.Equal(t, err, again, "terminal errors are sticky")
		})
	}
}

func TestReadContext(t *testing.T) {
	t.Run("timeout is not sticky", func(t *testing.T) {
		pr, pw := io.Pipe()
		c := newTestCache(t, pr, WithMaxPartSize(10))
		r := c.NewReader(false)
		defer r.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		n, err := r.ReadContext(ctx, make([]byte, 5))
		assert.Zero(t, n)
		assert.True(t, errors.HasCode(err, errors.ErrCodeOperationTimeout), "got %v", err)

		go func() {
			_, _ = pw.Write([]byte("late data"))
			_ = pw.Close()
		}()
		assert.Equal(t, "late data", string(readAll(t, r)))
	})

	t.Run("cancellation", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer pw.Close()
		c := newTestCache(t, pr)
		r := c.NewReader(false)
		defer r.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := r.ReadContext(ctx, make([]byte, 5))
		assert.True(t, errors.HasCode(err, errors.ErrCodeOperationCanceled))
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestReaderClose(t *testing.T) {
	c := completedCache(t, []byte("hello world"), WithMaxPartSize(4))
	r := c.NewReader(false)

	head := make([]byte, 6)
	_, err := io.ReadFull(r, head)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Stats().ActiveReaders)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "Close is idempotent")
	assert.Zero(t, c.Stats().ActiveReaders)

	_, err = r.Read(make([]byte, 1))
	assert.True(t, errors.HasCode(err, errors.ErrCodeReaderClosed))
	_, err = r.Skip(1)
	assert.True(t, errors.HasCode(err, errors.ErrCodeReaderClosed))
	assert.True(t, errors.Is(err, os.ErrClosed))
}

func TestReaderSeesTruncationAfterProducerFailure(t *testing.T) {
	boom := fmt.Errorf("source broke")
	payload := randomPayload(t, 19, 2500)
	source := io.MultiReader(bytes.NewReader(payload), &failingReader{err: boom})

	c := newTestCache(t, source, WithMaxPartSize(1000))
	require.True(t, c.AwaitCompletion(5*time.Second))
	require.Error(t, c.Err())

	r := c.NewReader(false)
	defer r.Close()
	assert.Equal(t, payload[:2000], readAll(t, r))
}

type failingReader struct {
	err error
}

func (f *failingReader) Read([]byte) (int, error) {
	return 0, f.err
}
