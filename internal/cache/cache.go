package cache

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/objectfs/spillcache/internal/codec"
	"github.com/objectfs/spillcache/internal/config"
	"github.com/objectfs/spillcache/internal/metrics"
	"github.com/objectfs/spillcache/pkg/errors"
	"github.com/objectfs/spillcache/pkg/types"
	"github.com/objectfs/spillcache/pkg/utils"
)

// Cache drains a source stream into encrypted, compressed Part files on disk
// and hands out independent Readers that replay the stream from the start.
type Cache struct {
	dir      string
	prefix   string
	opts     options
	pipeline *codec.Pipeline
	log      *utils.StructuredLogger
	metrics  types.MetricsCollector

	mu      sync.Mutex
	parts   []Part
	removed []bool // parallel to parts; the file is gone
	deleted bool
	running bool
	err     error
	// changed is closed and replaced on every append, delete and producer
	// exit, waking every waiter at once.
	changed chan struct{}

	appended     int64
	stored       int64
	partsDeleted int
	readers      int

	done chan struct{}
}

// New creates a cache over source and starts draining it. The directory and
// the first Part file are created before New returns, so an unusable
// directory fails here rather than in the producer.
func New(source io.Reader, opts ...Option) (*Cache, error) {
	if source == nil {
		return nil, invalidOption("source cannot be nil")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	dir := o.directory
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDirectoryUnavailable, "failed to create spill directory").
			WithComponent("cache").WithOperation("new").WithDetail("directory", dir)
	}

	prefix := o.prefix
	if prefix == "" {
		id, err := uuid.NewRandomFromReader(o.random)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to generate prefix").
				WithComponent("cache").WithOperation("new")
		}
		prefix = "spill-" + id.String()
	}

	keys, err := codec.GenerateKeyMaterial(o.codec.Cipher, o.random)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to generate key material").
			WithComponent("cache").WithOperation("new")
	}
	pipeline, err := codec.NewPipeline(o.codec, keys)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid codec options").
			WithComponent("cache").WithOperation("new")
	}

	c := &Cache{
		dir:      dir,
		prefix:   prefix,
		opts:     o,
		pipeline: pipeline,
		log:      o.logger.WithComponent("spillcache").WithField("prefix", prefix),
		metrics:  o.metrics,
		running:  true,
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	first, err := c.createPartFile(0)
	if err != nil {
		return nil, err
	}

	p := newProducer(c, source, first)
	c.metrics.SetProducerRunning(true)
	c.log.Debug("cache created", map[string]interface{}{
		"directory":     dir,
		"max_part_size": utils.FormatBytes(o.maxPartSize),
		"compression":   string(pipeline.Options().Compression),
		"cipher":        string(pipeline.Options().Cipher),
	})
	o.scheduler.Go(p.run)

	return c, nil
}

// NewFromConfig creates a cache configured by cfg. Options in opts are
// applied after the configuration and override it.
func NewFromConfig(source io.Reader, cfg *config.Configuration, opts ...Option) (*Cache, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	base, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return New(source, append(base, opts...)...)
}

// NewReader returns a cursor at logical offset 0. A consuming reader removes
// each Part file once it has read past it; any other reader that has not yet
// reached that Part will fail with PART_MISSING.
func (c *Cache) NewReader(consuming bool) *Reader {
	c.mu.Lock()
	c.readers++
	c.mu.Unlock()
	c.metrics.ReaderOpened()

	return &Reader{
		cache:     c,
		consuming: consuming,
	}
}

// Delete removes every known Part file, marks the cache deleted and wakes all
// waiters. It returns the number of files actually removed; failed removals
// are logged and not reported. Calls after the first return 0. The key
// material is wiped once the producer has also stopped.
func (c *Cache) Delete() int {
	c.mu.Lock()
	if c.deleted {
		c.mu.Unlock()
		return 0
	}
	c.deleted = true

	removed := 0
	for i, part := range c.parts {
		if c.removed[i] {
			continue
		}
		c.removed[i] = true
		if err := os.Remove(part.Path); err != nil {
			c.log.Warn("failed to remove part", map[string]interface{}{
				"part":  part.Index,
				"error": err.Error(),
			})
			continue
		}
		removed++
	}
	c.partsDeleted += removed
	if !c.running {
		c.pipeline.Wipe()
	}
	c.broadcastLocked()
	c.mu.Unlock()

	c.metrics.RecordPartsDeleted(metrics.ReasonDelete, removed)
	c.log.Info("cache deleted", map[string]interface{}{"removed": removed})
	return removed
}

// IsDeleted reports whether Delete has been called.
func (c *Cache) IsDeleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleted
}

// IsAppending reports whether the producer is still draining the source.
func (c *Cache) IsAppending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// AwaitCompletion blocks until the producer finishes or timeout elapses and
// reports whether it finished. A timeout <= 0 waits indefinitely.
func (c *Cache) AwaitCompletion(timeout time.Duration) bool {
	if timeout <= 0 {
		<-c.done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return true
	case <-timer.C:
		return false
	}
}

// Wait blocks until the producer finishes and returns its error, or until ctx
// is done.
func (c *Cache) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return contextError(ctx.Err(), "cache", "wait")
	}
}

// Done is closed when the producer has finished.
func (c *Cache) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that stopped the producer. It is nil while the
// producer runs, after a clean end of source and after a deletion. A cache
// with a non-nil Err is truncated: readers see EOF at the last published Part.
func (c *Cache) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Parts returns a snapshot of the published Parts, including those whose
// files have since been removed.
func (c *Cache) Parts() []Part {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Part(nil), c.parts...)
}

// Len returns the number of logical bytes published so far.
func (c *Cache) Len() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appended
}

// Dir returns the directory holding the Part files.
func (c *Cache) Dir() string {
	return c.dir
}

// Prefix returns the Part file name prefix.
func (c *Cache) Prefix() string {
	return c.prefix
}

// Stats returns a snapshot of the cache.
func (c *Cache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := types.CacheStats{
		Directory:     c.dir,
		Prefix:        c.prefix,
		PartsWritten:  len(c.parts),
		PartsDeleted:  c.partsDeleted,
		BytesAppended: c.appended,
		StoredBytes:   c.stored,
		ActiveReaders: c.readers,
		Appending:     c.running,
		Deleted:       c.deleted,
	}
	if c.err != nil {
		stats.LastError = c.err.Error()
	}
	return stats
}

// Replay returns the cache as a types.ReplayCache.
func (c *Cache) Replay() types.ReplayCache {
	return replayCache{c}
}

type replayCache struct {
	*Cache
}

func (r replayCache) NewReader(consuming bool) types.StreamReader {
	return r.Cache.NewReader(consuming)
}

func (c *Cache) partPath(index int) string {
	return filepath.Join(c.dir, partFileName(c.prefix, index))
}

// partFile receives the encoded bytes of one Part.
type partFile interface {
	io.WriteCloser
	Name() string
}

// createPartFile creates the file for the Part at index.
func (c *Cache) createPartFile(index int) (partFile, error) {
	path := c.partPath(index)
	f, err := c.opts.openPart(index, path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to create part file").
			WithComponent("cache").WithOperation("create").
			WithDetail("part", index).WithDetail("path", path)
	}
	return f, nil
}

// openPartFile is the default Part opener. O_EXCL keeps two caches sharing a
// prefix from writing into each other's files.
func openPartFile(_ int, path string) (partFile, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (c *Cache) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// publish appends part unless the cache was deleted in the meantime.
func (c *Cache) publish(part Part) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deleted {
		return false
	}
	c.parts = append(c.parts, part)
	c.removed = append(c.removed, false)
	c.appended += part.Length
	c.stored += part.StoredSize
	c.broadcastLocked()
	return true
}

// finish records the producer's exit and wakes all waiters.
func (c *Cache) finish(err error) {
	c.mu.Lock()
	c.running = false
	c.err = err
	if c.deleted {
		c.pipeline.Wipe()
	}
	c.broadcastLocked()
	c.mu.Unlock()

	c.metrics.SetProducerRunning(false)
	close(c.done)
}

// awaitPart blocks until the Part at index is published, the producer has
// finished without publishing it (io.EOF), or the cache is deleted.
func (c *Cache) awaitPart(ctx context.Context, index int) (Part, error) {
	for {
		c.mu.Lock()
		switch {
		case c.deleted:
			c.mu.Unlock()
			return Part{}, errDeleted("read")
		case index < len(c.parts):
			part, removed := c.parts[index], c.removed[index]
			c.mu.Unlock()
			if removed {
				return Part{}, errPartMissing(part)
			}
			return part, nil
		case !c.running:
			c.mu.Unlock()
			return Part{}, io.EOF
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return Part{}, contextError(ctx.Err(), "reader", "read")
		}
	}
}

// removeConsumed deletes the file of a Part a consuming reader has passed.
// A Part already removed, by Delete or another consuming reader, is left alone.
func (c *Cache) removeConsumed(part Part) {
	c.mu.Lock()
	if c.deleted || c.removed[part.Index] {
		c.mu.Unlock()
		return
	}
	c.removed[part.Index] = true
	err := os.Remove(part.Path)
	if err == nil {
		c.partsDeleted++
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("failed to remove consumed part", map[string]interface{}{
			"part":  part.Index,
			"error": err.Error(),
		})
		return
	}
	c.metrics.RecordPartsDeleted(metrics.ReasonConsumed, 1)
	c.log.Trace("consumed part removed", map[string]interface{}{"part": part.Index})
}

func (c *Cache) readerClosed() {
	c.mu.Lock()
	c.readers--
	c.mu.Unlock()
	c.metrics.ReaderClosed()
}

func errDeleted(operation string) error {
	return errors.NewError(errors.ErrCodeCacheDeleted, "cache has been deleted").
		WithComponent("reader").WithOperation(operation)
}

func errPartMissing(part Part) error {
	return errors.Newf(errors.ErrCodePartMissing, "part %d was removed before it was read", part.Index).
		WithComponent("reader").WithOperation("read").
		WithDetail("part", part.Index).WithDetail("path", part.Path)
}

func contextError(err error, component, operation string) error {
	code := errors.ErrCodeOperationCanceled
	if stderrors.Is(err, context.DeadlineExceeded) {
		code = errors.ErrCodeOperationTimeout
	}
	return errors.Wrap(err, code, "wait interrupted").WithComponent(component).WithOperation(operation)
}
