// Package datum defines the mutable per-request record threaded through the
// middleware stack and the wire layer, and the response record it produces.
package datum

import (
	"strconv"
	"time"

	"github.com/wireclient/excon/pkg/buffer"
	"github.com/wireclient/excon/pkg/timing"
)

// Handler is exposed by every link in the middleware stack: the outer
// middlewares and the terminal handler (the Connection itself, see §4.3/4.5).
// Pipelining (§5) drives one Datum through RequestCall twice — once to write
// the request, and once more in a later pass whose terminal performs the
// deferred read, so middlewares observe the populated Response as that
// call unwinds — rather than a separate response-phase method.
type Handler interface {
	RequestCall(*Datum) error
}

// Constructor wraps a downstream Handler to produce the next outer Handler.
// A stack is built by folding a list of Constructors right-to-left over a
// terminal Handler, so the first constructor in the list ends up outermost.
type Constructor func(next Handler) Handler

// BuildStack composes constructors (outermost first) around terminal.
func BuildStack(constructors []Constructor, terminal Handler) Handler {
	h := terminal
	for i := len(constructors) - 1; i >= 0; i-- {
		h = constructors[i](h)
	}
	return h
}

// ResponseSink receives streamed response chunks when ResponseBlock is set.
// For chunked framing both remaining and total are nil. For content-length
// framing remaining is the post-chunk remaining byte count (never negative)
// and total is the declared Content-Length. For read-to-close framing
// remaining is the chunk length and total is nil.
type ResponseSink func(chunk []byte, remaining, total *int64) error

// RequestBlock pulls the next chunk of an upload body. A zero-length slice
// with a nil error signals end of stream.
type RequestBlock func() ([]byte, error)

// Proxy describes an upstream proxy a request should be tunneled through.
type Proxy struct {
	Scheme   string // "http", "https", "socks4", "socks5"
	Host     string
	Port     int
	User     string
	Password string
}

// Datum is the mutable record that flows through the middleware stack for a
// single request/response cycle.
type Datum struct {
	// Target
	Scheme string
	Host   string
	Port   string // string so it can be used uniformly in header values and cache keys
	Path   string
	Query  interface{} // string, or map[string]interface{} (value: nil | scalar | []interface{})

	// Framing
	Method       string // emitted uppercase; matched case-insensitively on input
	Body         interface{} // nil, string, []byte, or io.ReadSeeker
	RequestBlock RequestBlock
	ChunkSize    int64

	// Headers
	Headers *Headers

	// Policy
	Expects          map[int]bool // nil means "any status is acceptable"
	Idempotent       bool
	RetryLimit       int
	RetriesRemaining int
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration

	// Runtime
	Stack          Handler
	Response       *Response
	ResponseBlock  ResponseSink
	Pipeline       bool
	Instrumentor   Instrumentor
	InstrumentorTag string
	Captures       map[string]string

	// Proxy
	Proxy *Proxy
}

// Instrumentor observes named lifecycle events with structured parameters.
// It is the seam the connection orchestrator drives for §6's EXCON_DEBUG /
// instrumentor option; concrete sinks (e.g. the logrus-backed standard
// instrumentor) live outside this package.
type Instrumentor interface {
	Instrument(name string, params map[string]interface{})
}

// Response is the parsed result of a request.
type Response struct {
	StatusCode int
	Headers    *Headers
	Body       *buffer.Buffer
	RemoteIP   string

	Method string

	Timings timing.Metrics

	ConnectedIP      string
	ConnectedPort    int
	ConnectionReused bool
	LocalAddr        string
	RemoteAddr       string

	TLSVersion     string
	TLSCipherSuite string
	TLSServerName  string

	ProxyUsed bool
	ProxyType string
	ProxyAddr string
}

// AddHeader appends a value to a header, preserving insertion order and
// allowing multiple values for the same name (§3 Headers).
func (d *Datum) AddHeader(name, value string) {
	if d.Headers == nil {
		d.Headers = NewHeaders()
	}
	d.Headers.Add(name, value)
}

// SetHeader replaces all values of a header with a single value.
func (d *Datum) SetHeader(name, value string) {
	if d.Headers == nil {
		d.Headers = NewHeaders()
	}
	d.Headers.Set(name, value)
}

// HeaderGet returns the first value of a header, or "" if absent.
func (d *Datum) HeaderGet(name string) string {
	return d.Headers.Get(name)
}

// HeaderHas reports whether a header has been set at all.
func (d *Datum) HeaderHas(name string) bool {
	return d.Headers.Has(name)
}

// CacheKey returns the socket-cache key for this Datum's destination,
// incorporating the proxy tuple when one is set (§4.2).
func (d *Datum) CacheKey() string {
	if d.Proxy != nil {
		return d.Proxy.Scheme + ":" + d.Proxy.Host + ":" + strconv.Itoa(d.Proxy.Port) + "->" + d.Host + ":" + d.Port
	}
	return d.Host + ":" + d.Port
}

// Clone returns a shallow copy of the Datum suitable for merging defaults
// with per-call overrides (§4.6 step 1). Headers are deep-copied one level
// so that mutating the copy's headers never mutates the original's headers.
func (d *Datum) Clone() *Datum {
	clone := *d
	clone.Headers = d.Headers.Clone()
	if d.Expects != nil {
		clone.Expects = make(map[int]bool, len(d.Expects))
		for k, v := range d.Expects {
			clone.Expects[k] = v
		}
	}
	if d.Captures != nil {
		clone.Captures = make(map[string]string, len(d.Captures))
		for k, v := range d.Captures {
			clone.Captures[k] = v
		}
	}
	return &clone
}
