package cache

import (
	"fmt"

	"github.com/objectfs/spillcache/pkg/types"
)

// Part describes one closed, encoded chunk file. Parts are immutable once
// published and contiguous: the Part at i+1 starts at Offset+Length of i.
type Part struct {
	Index      int
	Path       string
	Offset     int64
	Length     int64
	StoredSize int64
	// Checksum is the xxhash64 of the Part's plaintext.
	Checksum uint64
}

// End returns the logical offset just past the Part.
func (p Part) End() int64 {
	return p.Offset + p.Length
}

// Info converts the Part to its exported snapshot form.
func (p Part) Info() types.PartInfo {
	return types.PartInfo{
		Index:      p.Index,
		Path:       p.Path,
		Offset:     p.Offset,
		Length:     p.Length,
		StoredSize: p.StoredSize,
		Checksum:   p.Checksum,
	}
}

func partFileName(prefix string, index int) string {
	return fmt.Sprintf("%s-%d.dat", prefix, index)
}
