// Package wire assembles outbound HTTP/1.1 requests and parses inbound
// responses over a socket.Socket, implementing the framing rules of §4
// (request line, headers, content-length/chunked/read-to-close bodies).
package wire

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wireclient/excon/pkg/datum"
	"github.com/wireclient/excon/pkg/errors"
	"github.com/wireclient/excon/pkg/socket"

	"golang.org/x/net/http/httpguts"
)

// Writer emits the request line, headers and body for a Datum onto a socket.
type Writer struct {
	// UseAbsoluteForm selects an absolute-form request target
	// (http://host/path) instead of origin-form (/path); set when tunneling
	// a plaintext request through an http or https proxy (§3).
	UseAbsoluteForm bool
}

// Write sends the full request for d over sock.
func (w Writer) Write(sock socket.Socket, d *datum.Datum) error {
	line, err := w.requestLine(d)
	if err != nil {
		return err
	}

	headerBlock, bodyBytes, chunked, err := w.prepareHeaders(d)
	if err != nil {
		return err
	}

	if _, err := sock.Write([]byte(line)); err != nil {
		return errors.NewIOError("writing request line", err)
	}
	if _, err := sock.Write(headerBlock); err != nil {
		return errors.NewIOError("writing request headers", err)
	}

	if chunked {
		return w.writeChunkedBody(sock, d)
	}
	if bodyBytes != nil {
		if _, err := sock.Write(bodyBytes); err != nil {
			return errors.NewIOError("writing request body", err)
		}
	}
	return nil
}

// requestLine builds "METHOD target HTTP/1.1\r\n". The target is
// origin-form (path?query) unless UseAbsoluteForm is set, in which case it
// is scheme://host[:port]path?query, per the http-proxy tunneling rule.
func (w Writer) requestLine(d *datum.Datum) (string, error) {
	method := strings.ToUpper(d.Method)
	if method == "" {
		return "", errors.NewValidationError("method cannot be empty")
	}

	path := d.Path
	if path == "" {
		path = "/"
	}

	query, err := EncodeQuery(d.Query)
	if err != nil {
		return "", err
	}

	target := path
	if query != "" {
		target += "?" + query
	}

	if w.UseAbsoluteForm {
		host := d.Host
		if d.Port != "" && d.Port != "80" && d.Port != "443" {
			host = d.Host + ":" + d.Port
		}
		target = d.Scheme + "://" + host + target
	}

	return fmt.Sprintf("%s %s HTTP/1.1\r\n", method, target), nil
}

// prepareHeaders renders the header block, deciding between Content-Length
// and Transfer-Encoding: chunked framing for the body (§4.1 invariant: the
// two are mutually exclusive and exactly one applies whenever a body is
// present). Returns the rendered header bytes (CRLF-terminated, including
// the blank line), the body bytes to write verbatim (nil if chunked or
// bodyless), and whether chunked framing was selected.
//
// HTTP/1.1 is keep-alive by default, so unlike Host, no Connection header is
// synthesized when the caller didn't set one (§8).
func (w Writer) prepareHeaders(d *datum.Datum) ([]byte, []byte, bool, error) {
	headers := datum.NewHeaders()
	if !d.Headers.Has("Host") {
		hostValue := d.Host
		if d.Port != "" && d.Port != "80" && d.Port != "443" {
			hostValue = d.Host + ":" + d.Port
		}
		headers.Add("Host", hostValue)
	}
	for _, f := range d.Headers.All() {
		headers.Add(f.Name, f.Value)
	}

	var bodyBytes []byte
	chunked := false

	switch {
	case d.RequestBlock != nil:
		chunked = true
		headers.Del("Content-Length")
		headers.Set("Transfer-Encoding", "chunked")
	case d.Body != nil:
		b, err := bodyToBytes(d.Body)
		if err != nil {
			return nil, nil, false, err
		}
		bodyBytes = b
		if !headers.Has("Content-Length") && !headers.Has("Transfer-Encoding") {
			headers.Set("Content-Length", strconv.Itoa(len(b)))
		}
	}

	block, err := renderHeaders(headers)
	if err != nil {
		return nil, nil, false, err
	}
	return block, bodyBytes, chunked, nil
}

func bodyToBytes(body interface{}) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case io.Reader:
		return io.ReadAll(v)
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unsupported body type %T", body))
	}
}

// renderHeaders validates every header name/value with httpguts (rejecting
// CR/LF injection and invalid field names, §4.1) and writes them in
// insertion order, CRLF-terminated, plus the separating blank line (§8).
func renderHeaders(headers *datum.Headers) ([]byte, error) {
	var sb strings.Builder
	for _, f := range headers.All() {
		if !httpguts.ValidHeaderFieldName(f.Name) {
			return nil, errors.NewValidationError("invalid header field name: " + f.Name)
		}
		if !httpguts.ValidHeaderFieldValue(f.Value) {
			return nil, errors.NewValidationError("invalid header field value for " + f.Name)
		}
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		sb.WriteString(f.Value)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	return []byte(sb.String()), nil
}

func (w Writer) writeChunkedBody(sock socket.Socket, d *datum.Datum) error {
	for {
		chunk, err := d.RequestBlock()
		if err != nil {
			return errors.NewIOError("reading request chunk", err)
		}
		if len(chunk) == 0 {
			break
		}
		header := []byte(fmt.Sprintf("%x\r\n", len(chunk)))
		if _, err := sock.Write(header); err != nil {
			return errors.NewIOError("writing chunk size", err)
		}
		if _, err := sock.Write(chunk); err != nil {
			return errors.NewIOError("writing chunk body", err)
		}
		if _, err := sock.Write([]byte("\r\n")); err != nil {
			return errors.NewIOError("writing chunk trailer CRLF", err)
		}
	}
	_, err := sock.Write([]byte("0\r\n\r\n"))
	if err != nil {
		return errors.NewIOError("writing final chunk", err)
	}
	return nil
}
