package excon

import (
	"strconv"

	"github.com/wireclient/excon/pkg/constants"
	"github.com/wireclient/excon/pkg/datum"
	"github.com/wireclient/excon/pkg/middleware"
	"github.com/wireclient/excon/pkg/socketcache"
	"github.com/wireclient/excon/pkg/urlutil"
)

// Connection holds the defaults shared by every request made against one
// destination: scheme/host/port, default headers and timeouts, the
// middleware stack, proxy configuration, and the socket cache that lets
// consecutive requests reuse a keep-alive connection (§3, §4.2).
type Connection struct {
	Defaults *datum.Datum

	stack        []datum.Constructor
	cache        *socketcache.Cache
	instrumentor datum.Instrumentor
}

// New builds a Connection for a destination URL plus any number of
// ConnOptions. Middlewares default to [ResponseExpectations,
// ProxyAuthorization] unless overridden with WithStack.
func New(rawURL string, opts ...ConnOption) (*Connection, error) {
	target, err := urlutil.ParseTarget(rawURL)
	if err != nil {
		return nil, err
	}

	d := &datum.Datum{
		Scheme:         target.Scheme,
		Host:           target.Host,
		Port:           strconv.Itoa(target.Port),
		Path:           "/",
		Headers:        datum.NewHeaders(),
		Idempotent:     false,
		RetryLimit:     constants.DefaultRetryLimit,
		ConnectTimeout: constants.DefaultConnTimeout,
		ReadTimeout:    constants.DefaultReadTimeout,
		WriteTimeout:   constants.DefaultConnTimeout,
		ChunkSize:      constants.DefaultChunkSize,
	}
	if target.User != "" {
		d.SetHeader("Authorization", basicAuthHeader(target.User, target.Password))
	}
	if target.Query != "" {
		d.Query = target.Query
	}

	c := &Connection{
		Defaults:     d,
		stack:        []datum.Constructor{middleware.ResponseExpectations(), middleware.ProxyAuthorization()},
		cache:        socketcache.New(),
		instrumentor: instrumentorFromEnv(),
	}

	if proxy, err := urlutil.ResolveEnvProxy(target.Scheme, target.Host, target.Port); err == nil && proxy != nil {
		d.Proxy = proxy
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Reset closes and discards every cached socket for this Connection (§4.6).
func (c *Connection) Reset() {
	c.cache.Reset()
}

// merge produces the effective Datum for one call: Connection defaults
// cloned, then per-request overrides layered on top (§4.6 step 1).
func (c *Connection) merge(overrides ...ReqOption) *datum.Datum {
	d := c.Defaults.Clone()
	d.Stack = middleware.Build(c.stack, terminalHandler{c: c})
	d.Instrumentor = c.instrumentor
	for _, o := range overrides {
		o(d)
	}
	if d.RetriesRemaining == 0 {
		d.RetriesRemaining = d.RetryLimit
	}
	return d
}

func basicAuthHeader(user, password string) string {
	return "Basic " + encodeBasic(user+":"+password)
}

// normalizePath ensures a request-level path override starts with "/" the
// way a Connection default does.
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		return "/" + p
	}
	return p
}
