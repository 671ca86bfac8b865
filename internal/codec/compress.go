package codec

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the streaming compression layer of a Part file.
type Compression string

const (
	// CompressionZstd is zstd via klauspost/compress. The default.
	CompressionZstd Compression = "zstd"

	// CompressionGzip is gzip via klauspost/compress.
	CompressionGzip Compression = "gzip"

	// CompressionLZ4 is the LZ4 frame format.
	CompressionLZ4 Compression = "lz4"

	// CompressionNone writes the cipher stream to disk as-is.
	CompressionNone Compression = "none"
)

// ParseCompression parses a compression name. The empty string selects zstd.
func ParseCompression(name string) (Compression, error) {
	switch Compression(strings.ToLower(strings.TrimSpace(name))) {
	case "", CompressionZstd:
		return CompressionZstd, nil
	case CompressionGzip:
		return CompressionGzip, nil
	case CompressionLZ4:
		return CompressionLZ4, nil
	case CompressionNone:
		return CompressionNone, nil
	default:
		return "", fmt.Errorf("unknown compression: %q", name)
	}
}

// flushWriteCloser is a compressor: Flush makes everything written so far a
// decodable prefix, Close finishes the stream without closing the destination.
type flushWriteCloser interface {
	io.WriteCloser
	Flush() error
}

// lz4Levels maps levels 0-9 onto lz4's option values.
var lz4Levels = []lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

func validateLevel(c Compression, level int) error {
	switch c {
	case CompressionZstd:
		if level < 0 || level > 22 {
			return fmt.Errorf("zstd level must be 0-22, got %d", level)
		}
	case CompressionGzip:
		if level < gzip.HuffmanOnly || level > gzip.BestCompression {
			return fmt.Errorf("gzip level must be %d-%d, got %d", gzip.HuffmanOnly, gzip.BestCompression, level)
		}
	case CompressionLZ4:
		if level < 0 || level >= len(lz4Levels) {
			return fmt.Errorf("lz4 level must be 0-%d, got %d", len(lz4Levels)-1, level)
		}
	}
	return nil
}

// newCompressor wraps dst in the compression layer. Level 0 selects the
// library default for zstd and gzip.
func newCompressor(c Compression, level int, dst io.Writer) (flushWriteCloser, error) {
	switch c {
	case CompressionZstd:
		opts := []zstd.EOption{zstd.WithEncoderConcurrency(1)}
		if level > 0 {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		}
		enc, err := zstd.NewWriter(dst, opts...)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil

	case CompressionGzip:
		if level == 0 {
			level = gzip.DefaultCompression
		}
		gz, err := gzip.NewWriterLevel(dst, level)
		if err != nil {
			return nil, fmt.Errorf("gzip writer: %w", err)
		}
		return gz, nil

	case CompressionLZ4:
		zw := lz4.NewWriter(dst)
		if err := zw.Apply(lz4.CompressionLevelOption(lz4Levels[level]), lz4.ConcurrencyOption(1)); err != nil {
			return nil, fmt.Errorf("lz4 writer: %w", err)
		}
		return zw, nil

	case CompressionNone:
		return nopFlushCloser{dst}, nil

	default:
		return nil, fmt.Errorf("unsupported compression: %q", c)
	}
}

// newDecompressor wraps src in the matching decompression layer.
func newDecompressor(c Compression, src io.Reader) (io.ReadCloser, error) {
	switch c {
	case CompressionZstd:
		dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil

	case CompressionGzip:
		gz, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return gz, nil

	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(src)), nil

	case CompressionNone:
		return io.NopCloser(src), nil

	default:
		return nil, fmt.Errorf("unsupported compression: %q", c)
	}
}

type nopFlushCloser struct {
	io.Writer
}

func (nopFlushCloser) Flush() error { return nil }
func (nopFlushCloser) Close() error { return nil }
