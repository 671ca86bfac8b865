package codec

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrWiped is returned by a Pipeline whose key material has been wiped.
var ErrWiped = errors.New("codec: key material wiped")

// Options selects the layers of a Pipeline.
type Options struct {
	Cipher           Cipher
	Compression      Compression
	CompressionLevel int
	NonceMode        NonceMode
}

// DefaultOptions returns AES-CTR, zstd at its default level and per-part nonces.
func DefaultOptions() Options {
	return Options{
		Cipher:      CipherAESCTR,
		Compression: CompressionZstd,
		NonceMode:   NoncePerPart,
	}
}

// Validate checks that every layer is known and the level fits the compressor.
func (o Options) Validate() error {
	if _, err := ParseCipher(string(o.Cipher)); err != nil {
		return err
	}
	if _, err := ParseCompression(string(o.Compression)); err != nil {
		return err
	}
	if _, err := ParseNonceMode(string(o.NonceMode)); err != nil {
		return err
	}
	return validateLevel(o.Compression, o.CompressionLevel)
}

// Pipeline encodes and decodes Part files with a fixed key. A Pipeline is
// safe for concurrent use; each Part gets its own Writer or reader.
//
// Writes flow plaintext -> cipher stream -> compressor -> file, and reads
// undo the two layers in reverse. There is no authentication tag: a
// tampered file decodes to garbage and is caught by the Part checksum.
type Pipeline struct {
	opts Options

	mu       sync.RWMutex
	keys     *KeyMaterial
	nonceKey []byte
	wiped    bool
}

// NewPipeline validates opts and binds them to keys.
func NewPipeline(opts Options, keys *KeyMaterial) (*Pipeline, error) {
	if opts.Cipher == "" {
		opts.Cipher = CipherAESCTR
	}
	if opts.Compression == "" {
		opts.Compression = CompressionZstd
	}
	if opts.NonceMode == "" {
		opts.NonceMode = NoncePerPart
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, fmt.Errorf("key material cannot be nil")
	}
	if len(keys.Key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(keys.Key))
	}
	if len(keys.IV) != opts.Cipher.IVSize() {
		return nil, fmt.Errorf("%s iv must be %d bytes, got %d", opts.Cipher, opts.Cipher.IVSize(), len(keys.IV))
	}
	return &Pipeline{
		opts:     opts,
		keys:     keys,
		nonceKey: keys.nonceKey(),
	}, nil
}

// Wipe zeroes the key material. Writers and readers created afterwards fail
// with ErrWiped; those already open keep their expanded cipher state.
func (p *Pipeline) Wipe() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wiped {
		return
	}
	p.keys.Zero()
	clear(p.nonceKey)
	p.wiped = true
}

// Wiped reports whether Wipe has been called.
func (p *Pipeline) Wiped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.wiped
}

// Options returns the resolved options.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Writer is the encoding stack for one Part. Close finishes the compressed
// stream; it does not close the destination.
type Writer struct {
	enc  cipher.StreamWriter
	comp flushWriteCloser
}

// NewWriter returns an encoder that writes the Part at index to dst.
func (p *Pipeline) NewWriter(dst io.Writer, index int) (*Writer, error) {
	comp, err := newCompressor(p.opts.Compression, p.opts.CompressionLevel, dst)
	if err != nil {
		return nil, err
	}
	stream, err := p.stream(index)
	if err != nil {
		_ = comp.Close()
		return nil, err
	}
	return &Writer{
		enc:  cipher.StreamWriter{S: stream, W: comp},
		comp: comp,
	}, nil
}

// Write encrypts b and feeds it to the compressor.
func (w *Writer) Write(b []byte) (int, error) {
	return w.enc.Write(b)
}

// Flush pushes buffered compressor state to the destination so the bytes
// written so far decode on their own.
func (w *Writer) Flush() error {
	return w.comp.Flush()
}

// Close finishes the compressed stream.
func (w *Writer) Close() error {
	return w.comp.Close()
}

// NewReader returns a decoder for the Part at index read from src.
func (p *Pipeline) NewReader(src io.Reader, index int) (io.ReadCloser, error) {
	decomp, err := newDecompressor(p.opts.Compression, src)
	if err != nil {
		return nil, err
	}
	stream, err := p.stream(index)
	if err != nil {
		_ = decomp.Close()
		return nil, err
	}
	return &reader{
		dec:    cipher.StreamReader{S: stream, R: decomp},
		decomp: decomp,
	}, nil
}

type reader struct {
	dec    cipher.StreamReader
	decomp io.ReadCloser
}

func (r *reader) Read(b []byte) (int, error) {
	return r.dec.Read(b)
}

func (r *reader) Close() error {
	return r.decomp.Close()
}

func (p *Pipeline) stream(index int) (cipher.Stream, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.wiped {
		return nil, ErrWiped
	}

	iv, err := partIV(p.nonceKey, p.keys.IV, p.opts.NonceMode, index)
	if err != nil {
		return nil, err
	}
	return newStream(p.opts.Cipher, p.keys.Key, iv)
}
