/*
Package codec implements the layered encoding of spill Part files.

A Part's plaintext is run through a stream cipher and then a streaming
compressor before it reaches disk:

	plaintext -> cipher (aes-ctr | chacha20) -> compressor (zstd | gzip | lz4 | none) -> file

Decoding reverses both layers. Every Part file is an independent stream and
can be decoded on its own given the cache key and the Part index.

# Key material

A cache generates one key and one base IV at construction. In per-part nonce
mode each Part's IV is a BLAKE3 keyed hash of the base IV and the Part index,
so no two Parts share a keystream. Shared mode reuses the base IV for every
Part. Neither mode authenticates the ciphertext: the encryption keeps
transient spill files unreadable on local disk and is not a confidentiality
guarantee. Corruption is detected by the cache's plaintext checksum.

# Usage

	keys, _ := codec.GenerateKeyMaterial(codec.CipherAESCTR, rand.Reader)
	p, _ := codec.NewPipeline(codec.DefaultOptions(), keys)

	w, _ := p.NewWriter(file, 0)
	w.Write(data)
	w.Close()

	r, _ := p.NewReader(file, 0)
	io.ReadAll(r)
*/
package codec
