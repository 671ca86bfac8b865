/*
Package metrics records Prometheus metrics for spill caches.

Each Collector owns a private registry so several caches in one process never
collide on registration. The cache calls the Record methods from its producer
and readers; a collaborator that serves HTTP mounts Handler:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Namespace: "spillcache",
	})
	if err != nil {
		return err
	}
	mux.Handle("/metrics", collector.Handler())

# Metrics

	parts_written_total              counter    Parts published by the producer
	part_bytes                       histogram  logical Part size
	part_stored_bytes                histogram  on-disk Part size
	bytes_appended_total             counter    logical bytes published
	parts_deleted_total{reason}      counter    files removed (consumed, delete)
	active_readers                   gauge      open readers
	reader_bytes_total               counter    bytes handed to consumers
	errors_total{operation,code}     counter    errors by operation and error code
	producer_running                 gauge      1 while the producer drains its source

A nil or disabled Collector is valid and records nothing.
*/
package metrics
