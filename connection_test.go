package excon

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// startFixtureServer runs a minimal HTTP/1.1 server on an ephemeral port
// that replies with resp to every request it accepts, handling one
// connection at a time. It returns the listener's address.
func startFixtureServer(t *testing.T, resp string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start fixture server: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				reader := bufio.NewReader(c)
				for {
					line, err := reader.ReadString('\n')
					if err != nil || line == "" {
						return
					}
					if line == "\r\n" {
						break
					}
				}
				c.Write([]byte(resp))
			}(conn)
		}
	}()

	return ln.Addr().String()
}

func TestConnectionGet(t *testing.T) {
	addr := startFixtureServer(t, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok")
	host, port, _ := net.SplitHostPort(addr)

	c, err := New(fmt.Sprintf("http://%s:%s", host, port))
	if err != nil {
		t.Fatalf("unexpected error building connection: %v", err)
	}

	resp, err := c.Get(Path("/status"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if got := string(resp.Body.Bytes()); got != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", got)
	}
}

func TestConnectionExpectsRejectsUnexpectedStatus(t *testing.T) {
	addr := startFixtureServer(t, "HTTP/1.1 500 Internal Server Error\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
	host, port, _ := net.SplitHostPort(addr)

	c, err := New(fmt.Sprintf("http://%s:%s", host, port))
	if err != nil {
		t.Fatalf("unexpected error building connection: %v", err)
	}

	_, err = c.Get(Expects(200))
	if err == nil {
		t.Fatal("expected an error for an unexpected status code")
	}
	if !strings.Contains(err.Error(), "http_status") {
		t.Fatalf("expected an http_status error, got: %v", err)
	}
}

func TestRequestFromMapRejectsUnknownKey(t *testing.T) {
	_, err := RequestFromMap(map[string]interface{}{"methdo": "GET"})
	if err == nil {
		t.Fatal("expected an error for an unrecognized option key")
	}
}

func TestRequestFromMapBuildsOptions(t *testing.T) {
	opts, err := RequestFromMap(map[string]interface{}{
		"method": "POST",
		"path":   "widgets",
		"body":   "payload",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := &Datum{}
	for _, o := range opts {
		o(d)
	}
	if d.Method != "POST" || d.Path != "/widgets" || d.Body != "payload" {
		t.Fatalf("unexpected datum after applying mapped options: %+v", d)
	}
}

func TestConnectionIdempotentRetryGivesUp(t *testing.T) {
	// Connect to a closed port so every dial attempt fails immediately,
	// proving RetriesRemaining is exhausted rather than retried forever.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	host, port, _ := net.SplitHostPort(addr)
	c, err := New(fmt.Sprintf("http://%s:%s", host, port), WithRetryLimit(2), WithConnectTimeout(200*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error building connection: %v", err)
	}

	_, err = c.Get(Idempotent(true))
	if err == nil {
		t.Fatal("expected a connection error against a closed port")
	}
}

// TestConnectionRetryLimitCountsAttempts pins down RetryLimit's "attempts
// including the first" contract: with RetryLimit(n) and a persistently
// retryable response, exactly n connections should be made, not n+1.
func TestConnectionRetryLimitCountsAttempts(t *testing.T) {
	var attempts int32
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start fixture server: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			atomic.AddInt32(&attempts, 1)
			go func(c net.Conn) {
				defer c.Close()
				reader := bufio.NewReader(c)
				for {
					line, err := reader.ReadString('\n')
					if err != nil || line == "" {
						return
					}
					if line == "\r\n" {
						break
					}
				}
				c.Write([]byte("HTTP/1.1 503 Service Unavailable\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"))
			}(conn)
		}
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	c, err := New(fmt.Sprintf("http://%s:%s", host, port), WithRetryLimit(3))
	if err != nil {
		t.Fatalf("unexpected error building connection: %v", err)
	}

	_, err = c.Get(Idempotent(true), Expects(200))
	if err == nil {
		t.Fatal("expected an http_status error after exhausting retries")
	}

	// Give the last accepted connection's goroutine a moment to record itself.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected exactly 3 attempts for RetryLimit(3), got %d", got)
	}
}
