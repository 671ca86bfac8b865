package types

import (
	"github.com/objectfs/spillcache/internal/config"
)

// PartInfo describes one published Part.
type PartInfo struct {
	Index      int    `json:"index"`
	Path       string `json:"path"`
	Offset     int64  `json:"offset"`
	Length     int64  `json:"length"`
	StoredSize int64  `json:"stored_size"`
	Checksum   uint64 `json:"checksum"`
}

// CacheStats represents a point-in-time view of a spill cache
type CacheStats struct {
	Directory string `json:"directory"`
	Prefix    string `json:"prefix"`

	// PartsWritten counts every Part the producer published.
	PartsWritten int `json:"parts_written"`
	// PartsDeleted counts Part files removed by consuming readers or Delete.
	PartsDeleted int `json:"parts_deleted"`

	BytesAppended int64 `json:"bytes_appended"`
	StoredBytes   int64 `json:"stored_bytes"`
	ActiveReaders int   `json:"active_readers"`

	Appending bool   `json:"appending"`
	Deleted   bool   `json:"deleted"`
	LastError string `json:"last_error,omitempty"`
}

// CompressionRatio is stored bytes over logical bytes, 0 when nothing was written.
func (s CacheStats) CompressionRatio() float64 {
	if s.BytesAppended == 0 {
		return 0
	}
	return float64(s.StoredBytes) / float64(s.BytesAppended)
}

// Configuration type aliases so collaborators can build a cache from
// configuration without importing internal packages.
type (
	Configuration     = config.Configuration
	GlobalConfig      = config.GlobalConfig
	SpillConfig       = config.SpillConfig
	CompressionConfig = config.CompressionConfig
	EncryptionConfig  = config.EncryptionConfig
	MonitoringConfig  = config.MonitoringConfig
	MetricsConfig     = config.MetricsConfig
)
