package excon

import (
	"encoding/base64"
	"time"

	"github.com/wireclient/excon/pkg/datum"
	"github.com/wireclient/excon/pkg/errors"

	"github.com/mitchellh/mapstructure"
)

// ConnOption configures a Connection at construction time (§4.6).
type ConnOption func(*Connection)

// ReqOption configures one call's Datum, layered on top of the Connection's
// defaults (§4.6 step 1).
type ReqOption func(*datum.Datum)

// WithHeader sets a default header on every request made through the
// Connection.
func WithHeader(name, value string) ConnOption {
	return func(c *Connection) { c.Defaults.SetHeader(name, value) }
}

// WithConnectTimeout overrides the default dial timeout.
func WithConnectTimeout(d time.Duration) ConnOption {
	return func(c *Connection) { c.Defaults.ConnectTimeout = d }
}

// WithReadTimeout overrides the default response-read timeout.
func WithReadTimeout(d time.Duration) ConnOption {
	return func(c *Connection) { c.Defaults.ReadTimeout = d }
}

// WithRetryLimit overrides the default idempotent-retry attempt count.
func WithRetryLimit(n int) ConnOption {
	return func(c *Connection) { c.Defaults.RetryLimit = n }
}

// WithProxy sets an explicit proxy, overriding any resolved from the
// environment.
func WithProxy(p *Proxy) ConnOption {
	return func(c *Connection) { c.Defaults.Proxy = p }
}

// WithStack replaces the default middleware stack
// ([ResponseExpectations, ProxyAuthorization]) with a caller-supplied one.
func WithStack(constructors ...Constructor) ConnOption {
	return func(c *Connection) { c.stack = constructors }
}

// WithInstrumentor attaches an Instrumentor invoked for lifecycle events on
// every request made through the Connection.
func WithInstrumentor(i Instrumentor) ConnOption {
	return func(c *Connection) { c.instrumentor = i }
}

// Path overrides the request path for one call.
func Path(p string) ReqOption {
	return func(d *datum.Datum) { d.Path = normalizePath(p) }
}

// Query sets the query for one call (string or map[string]interface{}, §3).
func Query(q interface{}) ReqOption {
	return func(d *datum.Datum) { d.Query = q }
}

// Header appends a header value for one call.
func Header(name, value string) ReqOption {
	return func(d *datum.Datum) { d.AddHeader(name, value) }
}

// Body sets a string, []byte or io.Reader request body for one call.
func Body(b interface{}) ReqOption {
	return func(d *datum.Datum) { d.Body = b }
}

// WithRequestBlock streams a chunked upload body from block instead of a
// fixed Body (§6).
func WithRequestBlock(block RequestBlock) ReqOption {
	return func(d *datum.Datum) { d.RequestBlock = block }
}

// WithResponseBlock streams the response body to sink instead of buffering
// it on Response.Body (§6).
func WithResponseBlock(sink ResponseSink) ReqOption {
	return func(d *datum.Datum) { d.ResponseBlock = sink }
}

// Expects restricts the acceptable response status codes for one call; a
// status outside this set becomes an ErrorTypeHTTPStatus error.
func Expects(codes ...int) ReqOption {
	return func(d *datum.Datum) {
		set := make(map[int]bool, len(codes))
		for _, c := range codes {
			set[c] = true
		}
		d.Expects = set
	}
}

// Idempotent marks one call as safe to retry on transport-class errors and
// the default retryable statuses (§7).
func Idempotent(v bool) ReqOption {
	return func(d *datum.Datum) { d.Idempotent = v }
}

// Pipeline marks one call to be written without waiting for the prior
// call's response (§5), for use with Connection.Requests.
func Pipeline(v bool) ReqOption {
	return func(d *datum.Datum) { d.Pipeline = v }
}

// RequestFromMap decodes a dynamic option map into ReqOptions, mirroring
// the Ruby form of excon's keyword-argument call (e.g. from config files or
// scripting bridges). An unrecognized key is an ErrorTypeArgument error
// rather than being silently ignored (§4.6's explicit option validation).
func RequestFromMap(m map[string]interface{}) ([]ReqOption, error) {
	var fields struct {
		Method  string                 `mapstructure:"method"`
		Path    string                 `mapstructure:"path"`
		Query   interface{}            `mapstructure:"query"`
		Headers map[string]string      `mapstructure:"headers"`
		Body    interface{}            `mapstructure:"body"`
		Expects []int                  `mapstructure:"expects"`
		Idempotent bool                `mapstructure:"idempotent"`
		Pipeline   bool                `mapstructure:"pipeline"`
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &fields,
	})
	if err != nil {
		return nil, errors.NewValidationError("building option decoder: " + err.Error())
	}
	if err := decoder.Decode(m); err != nil {
		return nil, errors.NewArgumentError(err.Error())
	}

	var opts []ReqOption
	if fields.Method != "" {
		opts = append(opts, method(fields.Method))
	}
	if fields.Path != "" {
		opts = append(opts, Path(fields.Path))
	}
	if fields.Query != nil {
		opts = append(opts, Query(fields.Query))
	}
	for k, v := range fields.Headers {
		opts = append(opts, Header(k, v))
	}
	if fields.Body != nil {
		opts = append(opts, Body(fields.Body))
	}
	if len(fields.Expects) > 0 {
		opts = append(opts, Expects(fields.Expects...))
	}
	if fields.Idempotent {
		opts = append(opts, Idempotent(true))
	}
	if fields.Pipeline {
		opts = append(opts, Pipeline(true))
	}
	return opts, nil
}

func encodeBasic(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
