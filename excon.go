// Package excon provides a connection-oriented HTTP/1.1 client: persistent,
// per-destination connections that retain defaults (headers, timeouts,
// proxy, middleware stack) across requests and reuse a cached socket when
// the server allows keep-alive.
package excon

import (
	"github.com/wireclient/excon/pkg/buffer"
	"github.com/wireclient/excon/pkg/datum"
	"github.com/wireclient/excon/pkg/errors"
	"github.com/wireclient/excon/pkg/timing"
)

// Version is the current version of the excon library.
const Version = "1.0.0"

// Re-export the core record types so callers only need to import the root
// package for everyday use.
type (
	// Datum is the mutable per-request record threaded through the
	// middleware stack and wire layer.
	Datum = datum.Datum

	// Response is the parsed result of a request.
	Response = datum.Response

	// Proxy describes an upstream proxy a request is tunneled through.
	Proxy = datum.Proxy

	// Handler is implemented by every link in the middleware stack.
	Handler = datum.Handler

	// Constructor wraps a downstream Handler to build the next outer one.
	Constructor = datum.Constructor

	// ResponseSink receives streamed response body chunks.
	ResponseSink = datum.ResponseSink

	// RequestBlock supplies the next chunk of a chunked upload body.
	RequestBlock = datum.RequestBlock

	// Instrumentor observes named lifecycle events (see StandardInstrumentor).
	Instrumentor = datum.Instrumentor

	// Buffer provides memory-efficient storage with disk spilling.
	Buffer = buffer.Buffer

	// Metrics captures per-phase timing for a request (DNS/connect/TLS/TTFB/total).
	Metrics = timing.Metrics

	// Error is the structured error type returned throughout the engine.
	Error = errors.Error
)

// Re-export error-type constants for convenience.
const (
	ErrorTypeDNS        = errors.ErrorTypeDNS
	ErrorTypeConnection = errors.ErrorTypeConnection
	ErrorTypeTLS        = errors.ErrorTypeTLS
	ErrorTypeTimeout    = errors.ErrorTypeTimeout
	ErrorTypeProtocol   = errors.ErrorTypeProtocol
	ErrorTypeIO         = errors.ErrorTypeIO
	ErrorTypeValidation = errors.ErrorTypeValidation
	ErrorTypeArgument   = errors.ErrorTypeArgument
	ErrorTypeProxy      = errors.ErrorTypeProxy
	ErrorTypeHTTPStatus = errors.ErrorTypeHTTPStatus
)

// IsTimeoutError reports whether err is a timeout.
func IsTimeoutError(err error) bool { return errors.IsTimeoutError(err) }

// IsTemporaryError reports whether err is transient.
func IsTemporaryError(err error) bool { return errors.IsTemporaryError(err) }

// GetErrorType returns the error's type tag, or "" if err isn't structured.
func GetErrorType(err error) string { return string(errors.GetErrorType(err)) }

// NewBuffer creates a buffer with the given in-memory size limit before it
// spills to disk.
func NewBuffer(limit int64) *Buffer { return buffer.New(limit) }
