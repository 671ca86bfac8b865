/*
Package types defines the interfaces and data structures shared between the
spill cache and the collaborators that consume it.

A collaborator hands a source stream to the cache once and afterwards asks
for readers:

	┌──────────┐     ┌────────────┐     ┌──────────────┐
	│  source  │ ──▶ │ ReplayCache│ ──▶ │ StreamReader │ ×N
	└──────────┘     └────────────┘     └──────────────┘

ReplayCache: the cache controller. NewReader returns an independent cursor
at offset 0; Delete tears down every Part file; AwaitCompletion and Wait
observe the producer.

StreamReader: an io.ReadCloser and io.ByteReader that blocks while the
producer is still appending and reports io.EOF once the whole stream has
been read.

MetricsCollector: the events the cache reports. internal/metrics.Collector
implements it with Prometheus.

CacheStats and PartInfo are plain snapshots suitable for JSON encoding.

The configuration types are aliases of internal/config so a collaborator can
construct a cache from YAML without importing internal packages.
*/
package types
