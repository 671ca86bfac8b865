/*
Package config loads spill cache configuration from YAML files and
environment variables.

Sources are applied in order, later ones winning:

	NewDefault()        compiled-in defaults
	LoadFromFile(path)  YAML, unknown keys rejected
	LoadFromEnv()       SPILLCACHE_* overrides

Call Validate before use. A complete file:

	global:
	  log_level: INFO        # TRACE, DEBUG, INFO, WARN, ERROR, FATAL
	  log_format: text       # text or json
	spill:
	  directory: ""          # system temp directory when empty
	  prefix: ""             # spill-<uuid> when empty
	  max_part_size: 4MiB    # plaintext bytes per Part file
	  copy_buffer_size: 64KiB
	  compression:
	    algorithm: zstd      # zstd, gzip, lz4, none
	    level: 3             # 0 selects the library default
	  encryption:
	    cipher: aes-ctr      # aes-ctr or chacha20
	    nonce_mode: per-part # per-part or shared
	monitoring:
	  metrics:
	    enabled: true
	    namespace: spillcache
	    custom_labels: {}

# Environment variables

	SPILLCACHE_LOG_LEVEL, SPILLCACHE_LOG_FORMAT
	SPILLCACHE_DIR, SPILLCACHE_PREFIX
	SPILLCACHE_MAX_PART_SIZE, SPILLCACHE_COPY_BUFFER_SIZE
	SPILLCACHE_COMPRESSION, SPILLCACHE_COMPRESSION_LEVEL
	SPILLCACHE_CIPHER, SPILLCACHE_NONCE_MODE
	SPILLCACHE_METRICS_ENABLED, SPILLCACHE_METRICS_NAMESPACE

Sizes accept humanize notation ("4MiB", "64 KB", "1048576").
*/
package config
