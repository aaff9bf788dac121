package wire

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/wireclient/excon/pkg/datum"
	"github.com/wireclient/excon/pkg/socket"
)

// memSocket is an in-memory socket.Socket test double: writes go to out,
// reads come from a bufio.Reader over in.
type memSocket struct {
	out *bytes.Buffer
	in  *bufio.Reader
}

func newMemSocket(readFrom string) *memSocket {
	return &memSocket{out: &bytes.Buffer{}, in: bufio.NewReader(strings.NewReader(readFrom))}
}

func (m *memSocket) Write(p []byte) (int, error) { return m.out.Write(p) }

func (m *memSocket) Read(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := m.in.Read(buf)
	if err != nil {
		return nil, nil
	}
	return buf[:read], nil
}

func (m *memSocket) ReadLine() (string, error) { return m.in.ReadString('\n') }
func (m *memSocket) RemoteIP() string          { return "127.0.0.1" }
func (m *memSocket) SetData(d *datum.Datum)    {}
func (m *memSocket) Close() error              { return nil }

var _ socket.Socket = (*memSocket)(nil)

func TestWriterGETRequestLine(t *testing.T) {
	d := &datum.Datum{
		Scheme: "http",
		Host:   "example.com",
		Port:   "80",
		Path:   "/widgets",
		Method: "GET",
		Query:  map[string]interface{}{"page": 2},
	}
	sock := newMemSocket("")
	if err := (Writer{}).Write(sock, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := sock.out.String()
	if !strings.HasPrefix(out, "GET /widgets?page=2 HTTP/1.1\r\n") {
		t.Fatalf("unexpected request line in: %q", out)
	}
	if !strings.Contains(out, "Host: example.com\r\n") {
		t.Fatalf("missing Host header: %q", out)
	}
	if !strings.HasSuffix(out, "\r\n\r\n") {
		t.Fatalf("missing terminating blank line: %q", out)
	}
}

func TestWriterPostSetsContentLength(t *testing.T) {
	d := &datum.Datum{
		Scheme: "http",
		Host:   "example.com",
		Port:   "80",
		Path:   "/items",
		Method: "POST",
		Body:   "hello",
	}
	sock := newMemSocket("")
	if err := (Writer{}).Write(sock, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := sock.out.String()
	if !strings.Contains(out, "Content-Length: 5\r\n") {
		t.Fatalf("expected Content-Length: 5, got: %q", out)
	}
	if !strings.HasSuffix(out, "hello") {
		t.Fatalf("expected body to be written verbatim, got: %q", out)
	}
}

func TestWriterChunkedBody(t *testing.T) {
	parts := []string{"ab", "cde", ""}
	i := 0
	d := &datum.Datum{
		Scheme: "http", Host: "example.com", Port: "80", Path: "/upload", Method: "PUT",
		RequestBlock: func() ([]byte, error) {
			p := parts[i]
			i++
			return []byte(p), nil
		},
	}
	sock := newMemSocket("")
	if err := (Writer{}).Write(sock, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := sock.out.String()
	if !strings.Contains(out, "Transfer-Encoding: chunked\r\n") {
		t.Fatalf("expected chunked transfer-encoding, got: %q", out)
	}
	if !strings.HasSuffix(out, "2\r\nab\r\n3\r\ncde\r\n0\r\n\r\n") {
		t.Fatalf("unexpected chunked body framing: %q", out)
	}
}

func TestRejectsHeaderInjection(t *testing.T) {
	d := &datum.Datum{
		Scheme: "http", Host: "example.com", Port: "80", Path: "/", Method: "GET",
	}
	d.AddHeader("X-Evil", "value\r\nX-Injected: yes")
	sock := newMemSocket("")
	if err := (Writer{}).Write(sock, d); err == nil {
		t.Fatal("expected validation error for CRLF-injecting header value")
	}
}

func TestReaderParsesFixedLengthResponse(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nContent-Type: text/plain\r\n\r\nhello"
	sock := newMemSocket(raw)
	d := &datum.Datum{Method: "GET"}
	if err := (Reader{}).Read(sock, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Response.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d", d.Response.StatusCode)
	}
	if got := string(d.Response.Body.Bytes()); got != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", got)
	}
}

func TestReaderHeadHasNoBody(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n"
	sock := newMemSocket(raw)
	d := &datum.Datum{Method: "HEAD"}
	if err := (Reader{}).Read(sock, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Response.Body != nil {
		t.Fatal("expected no body buffer for a HEAD response")
	}
}

func TestReaderChunkedResponse(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nab\r\n3\r\ncde\r\n0\r\n\r\n"
	sock := newMemSocket(raw)
	d := &datum.Datum{Method: "GET"}
	if err := (Reader{}).Read(sock, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := string(d.Response.Body.Bytes()); got != "abcde" {
		t.Fatalf("expected decoded body %q, got %q", "abcde", got)
	}
}

func TestReaderMalformedChunkTerminator(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nabXX0\r\n\r\n"
	sock := newMemSocket(raw)
	d := &datum.Datum{Method: "GET"}
	if err := (Reader{}).Read(sock, d); err == nil {
		t.Fatal("expected protocol error for malformed chunk terminator")
	}
}
