// Package constants defines magic numbers and default values shared across excon.
package constants

import "time"

// Connection timeouts and limits.
const (
	DefaultIdleTimeout    = 90 * time.Second
	DefaultConnTimeout    = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	MaxConnectionIdleTime = 5 * time.Minute
	CleanupInterval       = 30 * time.Second
)

// HTTP limits.
const (
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB
	MaxHeaderBytes   = 64 * 1024
)

// Buffer limits.
const (
	DefaultBodyMemLimit = 4 * 1024 * 1024   // 4MB
	MaxRawBufferSize    = 100 * 1024 * 1024 // 100MB cap for raw buffer
)

// Wire defaults.
const (
	// DefaultChunkSize is the response read/streaming granularity used by the
	// framers when none is specified. The request-side chunked encoder writes
	// each RequestBlock chunk as given and does not use it.
	DefaultChunkSize = 64 * 1024

	// DefaultRetryLimit is the number of attempts (including the first) made
	// for an idempotent request before giving up.
	DefaultRetryLimit = 4
)

// Default ports applied when a proxy URL omits one.
const (
	DefaultHTTPProxyPort  = 8080
	DefaultHTTPSProxyPort = 443
	DefaultSOCKSProxyPort = 1080
)
