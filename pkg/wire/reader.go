package wire

import (
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/wireclient/excon/pkg/buffer"
	"github.com/wireclient/excon/pkg/constants"
	"github.com/wireclient/excon/pkg/datum"
	"github.com/wireclient/excon/pkg/errors"
	"github.com/wireclient/excon/pkg/socket"
)

// Reader parses a single HTTP/1.1 response from a socket into a
// datum.Response, dispatching body framing per §4.1.
type Reader struct {
	// BodyMemLimit bounds the in-memory portion of the response body buffer
	// before it spills to disk (pkg/buffer).
	BodyMemLimit int64
}

// Read parses the status line, headers, and body for d's response, writing
// the result onto d.Response. If d.ResponseBlock is set, body bytes are
// streamed to it instead of buffered (§6 ResponseBlock).
func (r Reader) Read(sock socket.Socket, d *datum.Datum) error {
	statusLine, err := sock.ReadLine()
	if err != nil {
		return errors.NewProtocolError("reading status line", err)
	}
	statusLine = strings.TrimRight(statusLine, "\r\n")

	statusCode, err := parseStatusLine(statusLine)
	if err != nil {
		return err
	}

	headers, err := readHeaders(sock)
	if err != nil {
		return err
	}

	resp := &datum.Response{
		StatusCode: statusCode,
		Headers:    headers,
		Method:     strings.ToUpper(d.Method),
	}
	d.Response = resp

	if !hasResponseBody(resp.Method, statusCode) {
		return nil
	}

	return r.readBody(sock, d, headers)
}

// chunkSize returns d's configured read granularity (§6 chunk_size), falling
// back to the package default when unset.
func chunkSize(d *datum.Datum) int64 {
	if d.ChunkSize > 0 {
		return d.ChunkSize
	}
	return constants.DefaultChunkSize
}

func parseStatusLine(line string) (int, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, errors.NewProtocolError("malformed status line: "+line, nil)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, errors.NewProtocolError("invalid status code in: "+line, err)
	}
	return code, nil
}

// readHeaders reads header lines until the blank-line terminator, joining
// continuation lines (RFC 7230 §3.2.4) with a space and folding repeated
// header names into a single ", "-joined value in insertion order (§4.4, §8).
func readHeaders(sock socket.Socket) (*datum.Headers, error) {
	headers := datum.NewHeaders()
	var lastKey string
	total := 0

	for {
		line, err := sock.ReadLine()
		if err != nil {
			return nil, errors.NewProtocolError("reading headers", err)
		}
		total += len(line)
		if total > constants.MaxHeaderBytes {
			return nil, errors.NewProtocolError("headers exceed maximum size", nil)
		}

		if line == "\r\n" || line == "\n" {
			break
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(trimmed, " ") || strings.HasPrefix(trimmed, "\t") {
			if lastKey == "" {
				continue
			}
			headers.Continue(lastKey, strings.TrimSpace(trimmed))
			continue
		}

		parts := strings.SplitN(trimmed, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		headers.Merge(key, value)
		lastKey = key
	}

	return headers, nil
}

// hasResponseBody applies the no-entity-status rule of §4.1: HEAD requests
// and 1xx/204/304 responses never carry a body regardless of headers.
func hasResponseBody(method string, statusCode int) bool {
	if method == "HEAD" || method == "CONNECT" {
		return false
	}
	if statusCode >= 100 && statusCode < 200 {
		return false
	}
	if statusCode == 204 || statusCode == 304 {
		return false
	}
	return true
}

// readBody dispatches to the chunked, content-length, or read-to-close
// framer based on the response headers (§4.1), streaming to d.ResponseBlock
// when set and otherwise buffering into d.Response.Body. Read granularity
// follows d.ChunkSize (§6 chunk_size).
func (r Reader) readBody(sock socket.Socket, d *datum.Datum, headers *datum.Headers) error {
	transferEncoding := strings.ToLower(headers.Get("Transfer-Encoding"))
	contentLength := headers.Get("Content-Length")
	size := chunkSize(d)

	memLimit := r.BodyMemLimit
	if memLimit <= 0 {
		memLimit = constants.DefaultBodyMemLimit
	}

	var buf *buffer.Buffer
	if d.ResponseBlock == nil {
		buf = buffer.New(memLimit)
		d.Response.Body = buf
	}

	// plainSink buffers or forwards a chunk with no remaining/total context
	// (used for chunked framing, per the ResponseSink contract).
	plainSink := func(chunk []byte) error {
		if d.ResponseBlock != nil {
			return d.ResponseBlock(chunk, nil, nil)
		}
		_, err := buf.Write(chunk)
		return err
	}

	switch {
	case strings.Contains(transferEncoding, "chunked"):
		trailers, err := readChunkedBody(sock, size, plainSink)
		if err != nil {
			return err
		}
		for _, f := range trailers.All() {
			d.Response.Headers.Merge(f.Name, f.Value)
		}
		return nil
	case contentLength != "":
		length, err := strconv.ParseInt(strings.TrimSpace(contentLength), 10, 64)
		if err != nil {
			return errors.NewProtocolError("invalid content-length", err)
		}
		if length < 0 {
			return errors.NewProtocolError("negative content-length", nil)
		}
		if length > constants.MaxContentLength {
			return errors.NewProtocolError("content-length too large", nil)
		}
		return readFixedBody(sock, length, size, d.ResponseBlock, buf)
	default:
		// Read-to-close: the sink gets the chunk length as remaining and a nil total.
		return readUntilClose(sock, size, func(chunk []byte) error {
			if d.ResponseBlock != nil {
				remaining := int64(len(chunk))
				return d.ResponseBlock(chunk, &remaining, nil)
			}
			_, err := buf.Write(chunk)
			return err
		})
	}
}

func readFixedBody(sock socket.Socket, length, size int64, sinkBlock datum.ResponseSink, buf *buffer.Buffer) error {
	var remaining int64 = length
	for remaining > 0 {
		want := size
		if remaining < want {
			want = remaining
		}
		data, err := sock.Read(int(want))
		if err != nil {
			return errors.NewIOError("reading fixed body", err)
		}
		if len(data) == 0 {
			// Server closed early; accept the partial body (§4.1 tolerance
			// for length mismatches) rather than failing the whole request.
			return nil
		}
		remaining -= int64(len(data))
		if sinkBlock != nil {
			total := length
			if err := sinkBlock(data, &remaining, &total); err != nil {
				return err
			}
		} else if _, err := buf.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func readUntilClose(sock socket.Socket, size int64, sink func([]byte) error) error {
	for {
		data, err := sock.Read(int(size))
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.NewIOError("reading until close", err)
		}
		if len(data) == 0 {
			return nil
		}
		if err := sink(data); err != nil {
			return err
		}
	}
}
