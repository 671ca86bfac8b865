package cache

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/multierr"

	"github.com/objectfs/spillcache/internal/buffer"
	"github.com/objectfs/spillcache/pkg/errors"
	"github.com/objectfs/spillcache/pkg/utils"
)

// producer is the single task draining the source into Parts.
type producer struct {
	cache  *Cache
	source io.Reader
	first  partFile

	// current is the path of the Part file being written, removed on failure.
	current string
}

func newProducer(c *Cache, source io.Reader, first partFile) *producer {
	return &producer{
		cache:  c,
		source: source,
		first:  first,
	}
}

func (p *producer) run() {
	var catcher panics.Catcher
	var err error
	catcher.Try(func() {
		err = p.drain()
	})
	if r := catcher.Recovered(); r != nil {
		p.discardCurrent()
		err = errors.Wrap(r.AsError(), errors.ErrCodePanicRecovered, "producer panicked").
			WithComponent("producer").WithOperation("drain").
			WithDetail("stack", string(r.Stack))
	}

	c := p.cache
	if err != nil {
		c.metrics.RecordError("produce", err)
		c.log.Error("producer failed", map[string]interface{}{
			"error": err.Error(),
			"parts": len(c.Parts()),
		})
	} else {
		c.log.Debug("producer finished", map[string]interface{}{
			"parts": len(c.Parts()),
			"bytes": utils.FormatBytes(c.Len()),
		})
	}
	c.finish(err)
}

// drain writes Parts until the source is exhausted, the cache is deleted or
// an error occurs. The Part file being written when either of the latter
// happens is removed and never published.
func (p *producer) drain() error {
	c := p.cache
	buf := buffer.GetBuffer(c.opts.copyBufferSize)
	defer buffer.PutBuffer(buf)

	file := p.first
	p.first = nil
	var offset int64

	for index := 0; ; index++ {
		if file == nil {
			if c.IsDeleted() {
				return nil
			}
			f, err := c.createPartFile(index)
			if err != nil {
				return err
			}
			file = f
		}
		p.current = file.Name()

		part, eof, err := p.writePart(file, index, offset, buf)
		file = nil
		if err != nil {
			p.discardCurrent()
			return err
		}

		if part.Length == 0 {
			// Source ended on a Part boundary, or deletion was observed
			// before anything was copied.
			p.discardCurrent()
			return nil
		}
		if !c.publish(part) {
			p.discardCurrent()
			return nil
		}
		p.current = ""

		c.metrics.RecordPartWritten(part.Length, part.StoredSize)
		c.log.Debug("part published", map[string]interface{}{
			"part":   part.Index,
			"offset": part.Offset,
			"length": utils.FormatBytes(part.Length),
			"stored": utils.FormatBytes(part.StoredSize),
		})

		offset += part.Length
		if eof {
			return nil
		}
	}
}

// writePart copies up to maxPartSize bytes from the source through the codec
// into file and closes it. eof reports whether the source is exhausted.
func (p *producer) writePart(file partFile, index int, offset int64, buf []byte) (part Part, eof bool, err error) {
	c := p.cache
	counter := &countingWriter{w: file}

	enc, err := c.pipeline.NewWriter(counter, index)
	if err != nil {
		_ = file.Close()
		return Part{}, false, storageWriteError(err, "failed to create part encoder", index)
	}

	hash := xxhash.New()
	var n int64
	for n < c.opts.maxPartSize {
		if c.IsDeleted() {
			break
		}

		chunk := buf
		if rem := c.opts.maxPartSize - n; rem < int64(len(chunk)) {
			chunk = chunk[:rem]
		}

		read, rerr := p.source.Read(chunk)
		if read > 0 {
			_, _ = hash.Write(chunk[:read])
			if _, werr := enc.Write(chunk[:read]); werr != nil {
				_ = multierr.Append(enc.Close(), file.Close())
				return Part{}, false, storageWriteError(werr, "failed to encode part", index)
			}
			n += int64(read)
		}
		if rerr == io.EOF {
			eof = true
			break
		}
		if rerr != nil {
			_ = multierr.Append(enc.Close(), file.Close())
			return Part{}, false, errors.Wrap(rerr, errors.ErrCodeOperationFailed, "failed to read source").
				WithComponent("producer").WithOperation("read").WithDetail("part", index)
		}
	}

	if err := multierr.Append(enc.Close(), file.Close()); err != nil {
		return Part{}, false, storageWriteError(err, "failed to finish part file", index)
	}

	info, err := os.Stat(file.Name())
	if err != nil {
		return Part{}, false, storageWriteError(err, "failed to stat part file", index)
	}
	if n > 0 && (info.Size() == 0 || info.Size() != counter.n) {
		return Part{}, false, errors.Newf(errors.ErrCodeIntegrity,
			"part %d holds %d bytes on disk, %d written for %d bytes of input", index, info.Size(), counter.n, n).
			WithComponent("producer").WithOperation("write").
			WithDetail("part", index).WithDetail("path", file.Name())
	}

	return Part{
		Index:      index,
		Path:       file.Name(),
		Offset:     offset,
		Length:     n,
		StoredSize: counter.n,
		Checksum:   hash.Sum64(),
	}, eof, nil
}

func (p *producer) discardCurrent() {
	if p.current == "" {
		return
	}
	if err := os.Remove(p.current); err != nil && !os.IsNotExist(err) {
		p.cache.log.Warn("failed to remove unpublished part", map[string]interface{}{
			"path":  p.current,
			"error": err.Error(),
		})
	}
	p.current = ""
}

func storageWriteError(err error, msg string, index int) error {
	return errors.Wrap(err, errors.ErrCodeStorageWrite, msg).
		WithComponent("producer").WithOperation("write").
		WithDetail("part", index)
}

// countingWriter counts the bytes that reach the Part file.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(b []byte) (int, error) {
	n, err := cw.w.Write(b)
	cw.n += int64(n)
	if err != nil {
		return n, fmt.Errorf("write part file: %w", err)
	}
	return n, nil
}
