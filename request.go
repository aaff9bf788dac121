package excon

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/wireclient/excon/pkg/datum"
	"github.com/wireclient/excon/pkg/errors"
	"github.com/wireclient/excon/pkg/middleware"
	"github.com/wireclient/excon/pkg/socket"
	"github.com/wireclient/excon/pkg/timing"
	"github.com/wireclient/excon/pkg/tlsconfig"
	"github.com/wireclient/excon/pkg/wire"
)

// terminalHandler is the innermost Handler in every middleware stack: it
// performs the actual socket acquisition, request write and response read
// (§4.3's "terminal handler" role), then reports back up through the stack.
type terminalHandler struct {
	c *Connection
}

func (t terminalHandler) RequestCall(d *datum.Datum) error {
	return t.c.deliver(context.Background(), d)
}

// deliver acquires a socket (cached or freshly dialed), writes the request,
// reads the response, and returns the socket to the cache or evicts it,
// depending on whether the connection can be kept alive (§4.2).
func (c *Connection) deliver(ctx context.Context, d *datum.Datum) error {
	timer := timing.NewTimer()
	key := d.CacheKey()

	instrument(d, "excon.request", map[string]interface{}{"method": d.Method, "host": d.Host, "path": d.Path})

	sock, reused, err := c.acquireSocket(ctx, d, timer)
	if err != nil {
		instrument(d, "excon.error", map[string]interface{}{"error": err.Error()})
		return err
	}

	useAbsoluteForm := d.Proxy != nil && (d.Proxy.Scheme == "http" || d.Proxy.Scheme == "https") && strings.EqualFold(d.Scheme, "http")
	w := wire.Writer{UseAbsoluteForm: useAbsoluteForm}

	if d.WriteTimeout > 0 {
		if dl, ok := sock.(socket.Deadliner); ok {
			_ = dl.SetWriteDeadline(deadlineFrom(d.WriteTimeout))
		}
	}
	if err := w.Write(sock, d); err != nil {
		c.cache.Evict(key)
		sock.Close()
		return err
	}

	if d.ReadTimeout > 0 {
		if dl, ok := sock.(socket.Deadliner); ok {
			_ = dl.SetReadDeadline(deadlineFrom(d.ReadTimeout))
		}
	}
	timer.StartTTFB()
	r := wire.Reader{}
	readErr := r.Read(sock, d)
	timer.EndTTFB()

	if readErr != nil {
		c.cache.Evict(key)
		sock.Close()
		instrument(d, "excon.error", map[string]interface{}{"error": readErr.Error()})
		return readErr
	}

	d.Response.Timings = timer.GetMetrics()
	d.Response.RemoteIP = sock.RemoteIP()
	d.Response.ConnectionReused = reused
	if d.Proxy != nil {
		d.Response.ProxyUsed = true
		d.Response.ProxyType = d.Proxy.Scheme
		d.Response.ProxyAddr = d.Proxy.Host
	}
	populateConnectionInfo(d, sock)

	if keepAlive(d) {
		c.cache.Put(key, sock)
	} else {
		c.cache.Evict(key)
		sock.Close()
	}

	instrument(d, "excon.response", map[string]interface{}{"status": d.Response.StatusCode})
	return nil
}

// populateConnectionInfo fills in Response's local/remote endpoint and, for
// TLS connections, negotiated handshake metadata (§6), when the underlying
// socket exposes socket.ConnectionInfo.
func populateConnectionInfo(d *datum.Datum, sock socket.Socket) {
	info, ok := sock.(socket.ConnectionInfo)
	if !ok {
		return
	}
	d.Response.LocalAddr = info.LocalAddr()
	d.Response.RemoteAddr = info.RemoteAddr()
	if host, portStr, err := net.SplitHostPort(info.RemoteAddr()); err == nil {
		d.Response.ConnectedIP = host
		if port, err := strconv.Atoi(portStr); err == nil {
			d.Response.ConnectedPort = port
		}
	}
	if state, ok := info.TLSState(); ok {
		d.Response.TLSVersion = tlsconfig.GetVersionName(state.Version)
		d.Response.TLSCipherSuite = tlsconfig.GetCipherSuiteName(state.CipherSuite)
		d.Response.TLSServerName = state.ServerName
	}
}

func instrument(d *datum.Datum, name string, params map[string]interface{}) {
	if d.Instrumentor == nil {
		return
	}
	d.Instrumentor.Instrument(name, params)
}

// acquireSocket returns a cached socket for d's destination if one is
// available, otherwise dials a fresh one.
func (c *Connection) acquireSocket(ctx context.Context, d *datum.Datum, timer *timing.Timer) (socket.Socket, bool, error) {
	key := d.CacheKey()
	if sock, ok := c.cache.Take(key); ok {
		return sock, true, nil
	}

	port, err := portInt(d.Port)
	if err != nil {
		return nil, false, errors.NewValidationError("invalid port: " + d.Port)
	}

	timer.StartTCP()
	sock, _, err := socket.Dial(ctx, socket.Config{
		Scheme:         d.Scheme,
		Host:           d.Host,
		Port:           port,
		ConnectTimeout: d.ConnectTimeout,
		Proxy:          d.Proxy,
	})
	timer.EndTCP()
	if err != nil {
		return nil, false, err
	}
	return sock, false, nil
}

// keepAlive reports whether the response headers permit reusing the socket:
// no "Connection: close" from the server, and a declared or inferable
// framing (so the next request's reader won't get confused by leftover
// bytes on a read-to-close body, §4.2).
func keepAlive(d *datum.Datum) bool {
	if d.Response == nil {
		return false
	}
	for _, token := range strings.Split(d.Response.Headers.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(token), "close") {
			return false
		}
	}
	if d.Response.Headers.Has("Content-Length") {
		return true
	}
	if strings.Contains(strings.ToLower(d.Response.Headers.Get("Transfer-Encoding")), "chunked") {
		return true
	}
	return hasResponseBody(d.Method, d.Response.StatusCode) == false
}

func hasResponseBody(method string, statusCode int) bool {
	if method == "HEAD" || method == "CONNECT" {
		return false
	}
	if statusCode >= 100 && statusCode < 200 {
		return false
	}
	return statusCode != 204 && statusCode != 304
}

// Request issues one HTTP request against the Connection's destination,
// applying any ReqOptions on top of the Connection defaults, then running
// the full middleware stack with idempotent retry (§4.6).
func (c *Connection) Request(opts ...ReqOption) (*Response, error) {
	d := c.merge(opts...)
	if err := runWithRetry(d); err != nil {
		return d.Response, err
	}
	return d.Response, nil
}

// Requests runs a batch of calls against this Connection. If none of them
// set Pipeline, each is issued in full (write, then read, then retry on
// failure) before the next begins, exactly like separate Request calls. If
// any call sets Pipeline, the whole batch is pipelined instead (§1, §2, §5,
// §8): every request is written onto one shared socket before any response
// is read, then responses are drained in the same order the requests were
// written (the FIFO correspondence §8 requires). Pipelined batches are not
// retried — a retry would require rewinding other callers' place in the
// same FIFO queue.
func (c *Connection) Requests(calls ...[]ReqOption) ([]*Response, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	datums := make([]*datum.Datum, len(calls))
	pipelined := false
	for i, opts := range calls {
		datums[i] = c.merge(opts...)
		if datums[i].Pipeline {
			pipelined = true
		}
	}

	if !pipelined {
		responses := make([]*Response, 0, len(datums))
		for _, d := range datums {
			if err := runWithRetry(d); err != nil {
				return responses, err
			}
			responses = append(responses, d.Response)
		}
		return responses, nil
	}

	return c.deliverPipeline(datums)
}

// deliverPipeline writes every queued Datum's request onto one shared
// socket (acquired once for the whole batch) and only then reads their
// responses back, in the same order, implementing the deferred-read half
// of §5 pipelining that Request's synchronous write-then-read path skips.
func (c *Connection) deliverPipeline(datums []*datum.Datum) ([]*Response, error) {
	ctx := context.Background()
	first := datums[0]
	key := first.CacheKey()
	timer := timing.NewTimer()

	sock, reused, err := c.acquireSocket(ctx, first, timer)
	if err != nil {
		instrument(first, "excon.error", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	for _, d := range datums {
		if d.WriteTimeout > 0 {
			if dl, ok := sock.(socket.Deadliner); ok {
				_ = dl.SetWriteDeadline(deadlineFrom(d.WriteTimeout))
			}
		}
		writeStack := middleware.Build(c.stack, pipelineWriteHandler{sock: sock})
		if err := writeStack.RequestCall(d); err != nil {
			c.cache.Evict(key)
			sock.Close()
			return nil, err
		}
	}

	responses := make([]*Response, 0, len(datums))
	keepOpen := true
	for _, d := range datums {
		if d.ReadTimeout > 0 {
			if dl, ok := sock.(socket.Deadliner); ok {
				_ = dl.SetReadDeadline(deadlineFrom(d.ReadTimeout))
			}
		}
		readStack := middleware.Build(c.stack, pipelineReadHandler{sock: sock, reused: reused})
		err := readStack.RequestCall(d)
		if d.Response != nil {
			responses = append(responses, d.Response)
		}
		if err != nil || !keepAlive(d) {
			keepOpen = false
		}
		if err != nil {
			c.cache.Evict(key)
			sock.Close()
			return responses, err
		}
	}

	if keepOpen {
		c.cache.Put(key, sock)
	} else {
		c.cache.Evict(key)
		sock.Close()
	}
	return responses, nil
}

// pipelineWriteHandler is the write-phase terminal for a pipelined batch:
// it only emits d's request onto the shared socket, leaving the read to a
// separate pass over all queued Datums (§5).
type pipelineWriteHandler struct {
	sock socket.Socket
}

func (t pipelineWriteHandler) RequestCall(d *datum.Datum) error {
	instrument(d, "excon.request", map[string]interface{}{"method": d.Method, "host": d.Host, "path": d.Path})
	useAbsoluteForm := d.Proxy != nil && (d.Proxy.Scheme == "http" || d.Proxy.Scheme == "https") && strings.EqualFold(d.Scheme, "http")
	w := wire.Writer{UseAbsoluteForm: useAbsoluteForm}
	if err := w.Write(t.sock, d); err != nil {
		instrument(d, "excon.error", map[string]interface{}{"error": err.Error()})
		return err
	}
	return nil
}

// pipelineReadHandler is the read-phase terminal for a pipelined batch: it
// reads one response off the shared socket for a Datum already written by
// pipelineWriteHandler, in the same FIFO order the batch was written (§5, §8).
type pipelineReadHandler struct {
	sock   socket.Socket
	reused bool
}

func (t pipelineReadHandler) RequestCall(d *datum.Datum) error {
	timer := timing.NewTimer()
	timer.StartTTFB()
	r := wire.Reader{}
	err := r.Read(t.sock, d)
	timer.EndTTFB()
	if err != nil {
		instrument(d, "excon.error", map[string]interface{}{"error": err.Error()})
		return err
	}

	d.Response.Timings = timer.GetMetrics()
	d.Response.RemoteIP = t.sock.RemoteIP()
	d.Response.ConnectionReused = t.reused
	if d.Proxy != nil {
		d.Response.ProxyUsed = true
		d.Response.ProxyType = d.Proxy.Scheme
		d.Response.ProxyAddr = d.Proxy.Host
	}
	populateConnectionInfo(d, t.sock)

	instrument(d, "excon.response", map[string]interface{}{"status": d.Response.StatusCode})
	return nil
}

func method(m string) ReqOption {
	return func(d *datum.Datum) { d.Method = m }
}

// Get issues a GET request.
func (c *Connection) Get(opts ...ReqOption) (*Response, error) {
	return c.Request(append([]ReqOption{method("GET")}, opts...)...)
}

// Head issues a HEAD request.
func (c *Connection) Head(opts ...ReqOption) (*Response, error) {
	return c.Request(append([]ReqOption{method("HEAD")}, opts...)...)
}

// Post issues a POST request.
func (c *Connection) Post(opts ...ReqOption) (*Response, error) {
	return c.Request(append([]ReqOption{method("POST")}, opts...)...)
}

// Put issues a PUT request.
func (c *Connection) Put(opts ...ReqOption) (*Response, error) {
	return c.Request(append([]ReqOption{method("PUT")}, opts...)...)
}

// Patch issues a PATCH request.
func (c *Connection) Patch(opts ...ReqOption) (*Response, error) {
	return c.Request(append([]ReqOption{method("PATCH")}, opts...)...)
}

// Delete issues a DELETE request.
func (c *Connection) Delete(opts ...ReqOption) (*Response, error) {
	return c.Request(append([]ReqOption{method("DELETE")}, opts...)...)
}

// Options issues an OPTIONS request.
func (c *Connection) Options(opts ...ReqOption) (*Response, error) {
	return c.Request(append([]ReqOption{method("OPTIONS")}, opts...)...)
}

// Trace issues a TRACE request.
func (c *Connection) Trace(opts ...ReqOption) (*Response, error) {
	return c.Request(append([]ReqOption{method("TRACE")}, opts...)...)
}

// Connect issues a CONNECT request.
func (c *Connection) Connect(opts ...ReqOption) (*Response, error) {
	return c.Request(append([]ReqOption{method("CONNECT")}, opts...)...)
}
