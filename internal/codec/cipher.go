package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20"
)

// KeySize is the size in bytes of the cache-wide symmetric key for both
// supported ciphers (AES-256, ChaCha20).
const KeySize = 32

// Cipher identifies the stream cipher layer of a Part file.
type Cipher string

const (
	// CipherAESCTR is AES-256 in counter mode. The default.
	CipherAESCTR Cipher = "aes-ctr"

	// CipherChaCha20 is the unauthenticated ChaCha20 stream cipher.
	CipherChaCha20 Cipher = "chacha20"
)

// ParseCipher parses a cipher name. The empty string selects AES-CTR.
func ParseCipher(name string) (Cipher, error) {
	switch Cipher(strings.ToLower(strings.TrimSpace(name))) {
	case "", CipherAESCTR:
		return CipherAESCTR, nil
	case CipherChaCha20:
		return CipherChaCha20, nil
	default:
		return "", fmt.Errorf("unknown cipher: %q", name)
	}
}

// IVSize returns the IV (nonce) length the cipher requires.
func (c Cipher) IVSize() int {
	switch c {
	case CipherChaCha20:
		return chacha20.NonceSize
	default:
		return aes.BlockSize
	}
}

// NonceMode controls how each Part's IV is obtained from the cache-wide IV.
type NonceMode string

const (
	// NoncePerPart derives a distinct IV for every Part index, so no two
	// Parts are encrypted under the same keystream. The default.
	NoncePerPart NonceMode = "per-part"

	// NonceShared uses the cache-wide IV for every Part. Parts then share a
	// keystream prefix; this only obfuscates the files.
	NonceShared NonceMode = "shared"
)

// ParseNonceMode parses a nonce mode name. The empty string selects per-part.
func ParseNonceMode(name string) (NonceMode, error) {
	switch NonceMode(strings.ToLower(strings.TrimSpace(name))) {
	case "", NoncePerPart:
		return NoncePerPart, nil
	case NonceShared:
		return NonceShared, nil
	default:
		return "", fmt.Errorf("unknown nonce mode: %q", name)
	}
}

// KeyMaterial is the key and base IV generated once per cache.
type KeyMaterial struct {
	Key []byte
	IV  []byte
}

// GenerateKeyMaterial reads a fresh key and IV for c from random.
func GenerateKeyMaterial(c Cipher, random io.Reader) (*KeyMaterial, error) {
	if random == nil {
		return nil, fmt.Errorf("random source cannot be nil")
	}
	km := &KeyMaterial{
		Key: make([]byte, KeySize),
		IV:  make([]byte, c.IVSize()),
	}
	if _, err := io.ReadFull(random, km.Key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	if _, err := io.ReadFull(random, km.IV); err != nil {
		return nil, fmt.Errorf("generating iv: %w", err)
	}
	return km, nil
}

// Zero overwrites the key material.
func (km *KeyMaterial) Zero() {
	clear(km.Key)
	clear(km.IV)
}

const partNonceContext = "spillcache 2025 part nonce key v1"

// nonceKey derives the BLAKE3 key for per-part IVs, so the cipher key is
// never used as a hash key.
func (km *KeyMaterial) nonceKey() []byte {
	out := make([]byte, KeySize)
	blake3.DeriveKey(partNonceContext, km.Key, out)
	return out
}

// partIV returns the IV used for the Part at index.
func partIV(nonceKey, base []byte, mode NonceMode, index int) ([]byte, error) {
	if mode == NonceShared {
		return base, nil
	}

	hasher, err := blake3.NewKeyed(nonceKey)
	if err != nil {
		return nil, fmt.Errorf("blake3 keyed hash: %w", err)
	}
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(index))
	_, _ = hasher.Write(base)
	_, _ = hasher.Write(idx[:])
	return hasher.Sum(nil)[:len(base)], nil
}

func newStream(c Cipher, key, iv []byte) (cipher.Stream, error) {
	switch c {
	case CipherAESCTR:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes: %w", err)
		}
		return cipher.NewCTR(block, iv), nil
	case CipherChaCha20:
		stream, err := chacha20.NewUnauthenticatedCipher(key, iv)
		if err != nil {
			return nil, fmt.Errorf("chacha20: %w", err)
		}
		return stream, nil
	default:
		return nil, fmt.Errorf("unsupported cipher: %q", c)
	}
}
