package cache

import (
	"context"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"

	"github.com/objectfs/spillcache/internal/buffer"
	"github.com/objectfs/spillcache/internal/codec"
	"github.com/objectfs/spillcache/pkg/errors"
)

// skipBufferSize bounds the scratch buffer Skip decodes into.
const skipBufferSize = 32 << 10

// Reader is an independent cursor over a cache's logical stream. It blocks
// while the producer is still appending and returns io.EOF once every Part
// has been read. A Reader is not safe for concurrent use.
type Reader struct {
	cache     *Cache
	consuming bool

	// index is the Part being read or, when unattached, the next one.
	index  int
	offset int64

	// Attached state, valid while file != nil.
	part Part
	pos  int64
	file *os.File
	dec  io.ReadCloser
	hash *xxhash.Digest

	eof        bool
	closed     bool
	autoClosed bool
	err        error
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	return r.ReadContext(context.Background(), p)
}

// ReadContext reads like Read. While waiting for the producer to publish the
// next Part it also returns when ctx is done; that error is not sticky.
func (r *Reader) ReadContext(ctx context.Context, p []byte) (int, error) {
	if err := r.check("read"); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		if r.file == nil {
			part, err := r.cache.awaitPart(ctx, r.index)
			if err == io.EOF {
				r.reachEOF()
				return 0, io.EOF
			}
			if err != nil {
				return 0, r.fail(err)
			}
			if err := r.attach(part); err != nil {
				return 0, r.fail(err)
			}
		}

		n, err := r.readAttached(p)
		if err != nil {
			return n, r.fail(err)
		}
		if n > 0 {
			return n, nil
		}
	}
}

// ReadByte implements io.ByteReader.
func (r *Reader) ReadByte() (byte, error) {
	var b [1]byte
	for {
		n, err := r.Read(b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// Skip advances up to n bytes and returns the number skipped, which is less
// than n only at the end of the stream. Parts that lie entirely inside the
// skipped range are passed using their metadata without being decoded; in
// consuming mode their files are removed.
func (r *Reader) Skip(n int64) (int64, error) {
	if err := r.check("skip"); err != nil {
		return 0, err
	}

	var skipped int64
	var scratch []byte
	for skipped < n {
		if r.file == nil {
			part, err := r.cache.awaitPart(context.Background(), r.index)
			if err == io.EOF {
				r.reachEOF()
				return skipped, nil
			}
			if err != nil {
				return skipped, r.fail(err)
			}

			if n-skipped >= part.Length {
				skipped += part.Length
				r.offset += part.Length
				r.index++
				if r.consuming {
					r.cache.removeConsumed(part)
				}
				continue
			}
			if err := r.attach(part); err != nil {
				return skipped, r.fail(err)
			}
		}

		if scratch == nil {
			scratch = buffer.GetBuffer(int(min(n-skipped, skipBufferSize)))
			defer buffer.PutBuffer(scratch)
		}
		want := min(n-skipped, int64(len(scratch)))
		m, err := r.readAttached(scratch[:want])
		skipped += int64(m)
		if err != nil {
			return skipped, r.fail(err)
		}
	}
	return skipped, nil
}

// Close releases the attached Part. It is idempotent; later reads fail
// with READER_CLOSED.
func (r *Reader) Close() error {
	if r.closed {
		r.autoClosed = false
		return nil
	}
	r.closed = true
	err := r.detach()
	r.cache.readerClosed()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageRead, "failed to close part").
			WithComponent("reader").WithOperation("close")
	}
	return nil
}

// Offset returns the logical offset of the next byte to be read.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Consuming reports whether the reader removes Parts it has passed.
func (r *Reader) Consuming() bool {
	return r.consuming
}

func (r *Reader) check(operation string) error {
	switch {
	case r.closed && !r.autoClosed:
		return errors.Wrap(os.ErrClosed, errors.ErrCodeReaderClosed, "reader is closed").
			WithComponent("reader").WithOperation(operation)
	case r.err != nil:
		return r.err
	case r.cache.IsDeleted():
		r.err = errDeleted(operation)
		_ = r.detach()
		return r.err
	case r.eof:
		return io.EOF
	}
	return nil
}

// fail makes terminal errors sticky and releases the attached Part.
func (r *Reader) fail(err error) error {
	var cacheErr *errors.CacheError
	if errors.As(err, &cacheErr) && !cacheErr.Terminal {
		return err
	}
	r.err = err
	_ = r.detach()
	r.cache.metrics.RecordError("read", err)
	return err
}

func (r *Reader) attach(part Part) error {
	f, err := os.Open(part.Path)
	if err != nil {
		if os.IsNotExist(err) {
			if r.cache.IsDeleted() {
				return errDeleted("read")
			}
			return errPartMissing(part)
		}
		return errors.Wrap(err, errors.ErrCodeStorageRead, "failed to open part").
			WithComponent("reader").WithOperation("read").WithDetail("part", part.Index)
	}

	dec, err := r.cache.pipeline.NewReader(f, part.Index)
	if err != nil {
		_ = f.Close()
		if errors.Is(err, codec.ErrWiped) {
			return errDeleted("read")
		}
		return errPartCorrupt(part, "failed to open decoder", err)
	}

	if r.hash == nil {
		r.hash = xxhash.New()
	}
	r.hash.Reset()
	r.part = part
	r.pos = 0
	r.file = f
	r.dec = dec
	return nil
}

// readAttached reads from the attached Part without crossing its end. When
// the last byte of the Part has been read the Part is finished, so the next
// call starts on the following Part.
func (r *Reader) readAttached(p []byte) (int, error) {
	if rem := r.part.Length - r.pos; int64(len(p)) > rem {
		p = p[:rem]
	}

	n, err := r.dec.Read(p)
	if n > 0 {
		_, _ = r.hash.Write(p[:n])
		r.pos += int64(n)
		r.offset += int64(n)
		r.cache.metrics.RecordReaderBytes(n)
	}

	switch {
	case err == io.EOF && r.pos < r.part.Length:
		return n, errPartCorrupt(r.part, "part ended early", io.ErrUnexpectedEOF)
	case err != nil && err != io.EOF:
		return n, errPartCorrupt(r.part, "failed to decode part", err)
	}

	if r.pos == r.part.Length {
		if err := r.finishPart(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// finishPart verifies the decoder ends exactly at the recorded length and the
// checksum matches, then moves to the next Part.
func (r *Reader) finishPart() error {
	part := r.part

	var probe [1]byte
	extra, err := io.ReadAtLeast(r.dec, probe[:], 1)
	switch {
	case extra > 0:
		return errPartCorrupt(part, "part is longer than recorded", nil)
	case err != io.EOF:
		return errPartCorrupt(part, "failed to decode part trailer", err)
	case r.hash.Sum64() != part.Checksum:
		return errPartCorrupt(part, "checksum mismatch", nil)
	}

	if err := r.detach(); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageRead, "failed to close part").
			WithComponent("reader").WithOperation("read").WithDetail("part", part.Index)
	}
	r.index++
	if r.consuming {
		r.cache.removeConsumed(part)
	}
	return nil
}

func (r *Reader) detach() error {
	if r.file == nil {
		return nil
	}
	err := multierr.Append(r.dec.Close(), r.file.Close())
	r.file = nil
	r.dec = nil
	r.pos = 0
	return err
}

// reachEOF marks the end of the stream. A consuming reader closes itself.
func (r *Reader) reachEOF() {
	r.eof = true
	if r.consuming && !r.closed {
		_ = r.detach()
		r.closed = true
		r.autoClosed = true
		r.cache.readerClosed()
	}
}

func errPartCorrupt(part Part, msg string, cause error) error {
	return errors.Newf(errors.ErrCodePartCorrupt, "part %d: %s", part.Index, msg).
		WithComponent("reader").WithOperation("read").
		WithCause(cause).
		WithDetail("part", part.Index).WithDetail("path", part.Path)
}
