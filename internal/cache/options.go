package cache

import (
	"crypto/rand"
	"io"
	"os"

	"github.com/objectfs/spillcache/internal/codec"
	"github.com/objectfs/spillcache/internal/config"
	"github.com/objectfs/spillcache/internal/metrics"
	"github.com/objectfs/spillcache/pkg/errors"
	"github.com/objectfs/spillcache/pkg/types"
	"github.com/objectfs/spillcache/pkg/utils"
)

const (
	// DefaultMaxPartSize is the plaintext threshold of one Part.
	DefaultMaxPartSize = 4 << 20
	// DefaultCopyBufferSize is the producer's read size from the source.
	DefaultCopyBufferSize = 64 << 10
)

type options struct {
	directory      string
	prefix         string
	maxPartSize    int64
	copyBufferSize int
	codec          codec.Options
	random         io.Reader
	scheduler      Scheduler
	logger         *utils.StructuredLogger
	metrics        types.MetricsCollector
	openPart       func(index int, path string) (partFile, error)
}

// Option configures a Cache.
type Option func(*options)

func defaultOptions() options {
	return options{
		maxPartSize:    DefaultMaxPartSize,
		copyBufferSize: DefaultCopyBufferSize,
		codec:          codec.DefaultOptions(),
		random:         rand.Reader,
		scheduler:      goroutineScheduler,
		metrics:        (*metrics.Collector)(nil),
		openPart:       openPartFile,
	}
}

// WithDirectory sets the directory Part files are written to. It is created
// if missing. The system temp directory is used when unset.
func WithDirectory(dir string) Option {
	return func(o *options) { o.directory = dir }
}

// WithPrefix sets the Part file name prefix. A random spill-<uuid> prefix is
// used when unset.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithMaxPartSize sets the maximum plaintext bytes per Part.
func WithMaxPartSize(n int64) Option {
	return func(o *options) { o.maxPartSize = n }
}

// WithCopyBufferSize sets how many bytes the producer reads from the source
// at a time. Deletion is observed between buffers.
func WithCopyBufferSize(n int) Option {
	return func(o *options) { o.copyBufferSize = n }
}

// WithCodec sets the Part encoding.
func WithCodec(opts codec.Options) Option {
	return func(o *options) { o.codec = opts }
}

// WithRandom sets the source of key material and of the default prefix.
func WithRandom(r io.Reader) Option {
	return func(o *options) { o.random = r }
}

// WithScheduler sets where the producer task runs.
func WithScheduler(s Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithLogger sets the logger. The cache logs under component "spillcache".
func WithLogger(l *utils.StructuredLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m types.MetricsCollector) Option {
	return func(o *options) { o.metrics = m }
}

// withPartOpener replaces how Part files are created.
func withPartOpener(open func(index int, path string) (partFile, error)) Option {
	return func(o *options) { o.openPart = open }
}

func (o *options) validate() error {
	switch {
	case o.maxPartSize <= 0:
		return invalidOption("max part size must be greater than 0, got %d", o.maxPartSize)
	case o.copyBufferSize <= 0:
		return invalidOption("copy buffer size must be greater than 0, got %d", o.copyBufferSize)
	case o.random == nil:
		return invalidOption("random source cannot be nil")
	case o.scheduler == nil:
		return invalidOption("scheduler cannot be nil")
	case o.metrics == nil:
		return invalidOption("metrics collector cannot be nil")
	}

	if int64(o.copyBufferSize) > o.maxPartSize {
		o.copyBufferSize = int(o.maxPartSize)
	}
	if o.logger == nil {
		logger, err := utils.NewStructuredLogger(utils.DefaultStructuredLoggerConfig())
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to create logger").WithComponent("cache")
		}
		o.logger = logger
	}
	if o.prefix != "" {
		if err := utils.ValidateFileName(o.prefix); err != nil {
			return errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid prefix").WithComponent("cache")
		}
	}
	return nil
}

func invalidOption(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeInvalidConfig, format, args...).WithComponent("cache")
}

// optionsFromConfig turns a validated configuration into options. Logging goes
// to stderr at the configured level.
func optionsFromConfig(cfg *config.Configuration) ([]Option, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	maxPart, err := cfg.MaxPartSizeBytes()
	if err != nil {
		return nil, err
	}
	copyBuf, err := cfg.CopyBufferSizeBytes()
	if err != nil {
		return nil, err
	}
	codecOpts, err := cfg.CodecOptions()
	if err != nil {
		return nil, err
	}

	level, _ := utils.ParseLogLevel(cfg.Global.LogLevel)
	format, _ := utils.ParseLogFormat(cfg.Global.LogFormat)
	logger, err := utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:  level,
		Output: os.Stderr,
		Format: format,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to create logger").WithComponent("cache")
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Namespace: cfg.Monitoring.Metrics.Namespace,
		Labels:    cfg.Monitoring.Metrics.CustomLabels,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to create metrics collector").WithComponent("cache")
	}

	return []Option{
		WithDirectory(cfg.Spill.Directory),
		WithPrefix(cfg.Spill.Prefix),
		WithMaxPartSize(maxPart),
		WithCopyBufferSize(int(copyBuf)),
		WithCodec(codecOpts),
		WithLogger(logger),
		WithMetrics(collector),
	}, nil
}
