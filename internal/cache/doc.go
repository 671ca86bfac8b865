/*
Package cache implements a disk-spilling replay cache for byte streams.

A Cache decouples the rate at which a stream is produced from the rate at
which it is consumed. A single producer task drains the source into a
sequence of bounded Part files, each encrypted and compressed by
internal/codec, while any number of Readers replay the stream from offset 0.

	source ──▶ producer ──▶ [Part 0][Part 1][Part 2]... ──▶ Reader ×N
	                            <dir>/<prefix>-<N>.dat

# Parts

A Part is published only after its file is closed, so a Reader never sees a
partially written chunk. Parts are contiguous and append-only: the Part at
index i+1 starts where i ends. Each Part records the xxhash64 of its
plaintext; a Reader checks it, along with the exact length, before moving to
the next Part and reports PART_CORRUPT on any mismatch.

# Readers

	c, err := cache.New(body, cache.WithDirectory(dir), cache.WithMaxPartSize(4<<20))
	if err != nil {
		return err
	}
	defer c.Delete()

	r := c.NewReader(false)
	defer r.Close()
	_, err = io.Copy(dst, r)

A Reader blocks while the producer is still appending and returns io.EOF once
the producer has finished and every Part has been read. Readers own no
goroutine and are independent of each other.

A consuming Reader (NewReader(true)) removes each Part file once it has read
past it and closes itself at EOF. Another Reader that has not yet reached a
removed Part fails with PART_MISSING when it gets there; do not mix a
consuming Reader with readers that are behind it.

# Deletion and failure

Delete removes every Part file, wakes every blocked Reader with CACHE_DELETED
and makes all later reads fail. It is the only way to cancel the producer,
which notices between copy buffers.

A producer that fails (source error, disk error, integrity violation) stops
without publishing the chunk it was writing. IsAppending turns false, Err
returns the cause and Readers see EOF at the last published Part, so callers
must check Err before trusting a complete read.

# Scheduling

The producer runs on its own goroutine unless WithScheduler supplies a pool:

	p := pool.New()
	c, err := cache.New(body, cache.WithScheduler(p))
	...
	p.Wait()

Done, Wait and AwaitCompletion observe its completion. Panics are recovered
and surface as PANIC_RECOVERED from Err.
*/
package cache
