package middleware

import (
	"testing"

	"github.com/wireclient/excon/pkg/datum"
	"github.com/wireclient/excon/pkg/errors"
)

type terminal struct {
	status int
}

func (t terminal) RequestCall(d *datum.Datum) error {
	d.Response = &datum.Response{StatusCode: t.status}
	return nil
}

func TestResponseExpectationsAccepts(t *testing.T) {
	stack := Build([]datum.Constructor{ResponseExpectations()}, terminal{status: 200})
	d := &datum.Datum{Expects: map[int]bool{200: true}}
	if err := stack.RequestCall(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResponseExpectationsRejects(t *testing.T) {
	stack := Build([]datum.Constructor{ResponseExpectations()}, terminal{status: 500})
	d := &datum.Datum{Expects: map[int]bool{200: true}}
	err := stack.RequestCall(d)
	if err == nil {
		t.Fatal("expected an error for an unexpected status")
	}
	if errors.GetErrorType(err) != errors.ErrorTypeHTTPStatus {
		t.Fatalf("expected ErrorTypeHTTPStatus, got %v", errors.GetErrorType(err))
	}
}

func TestProxyAuthorizationAddsHeaders(t *testing.T) {
	var captured *datum.Datum
	term := recordingHandler{record: &captured}
	stack := Build([]datum.Constructor{ProxyAuthorization()}, term)

	d := &datum.Datum{Proxy: &datum.Proxy{Scheme: "http", User: "alice", Password: "secret"}}
	if err := stack.RequestCall(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.HeaderHas("Proxy-Authorization") {
		t.Fatal("expected Proxy-Authorization header to be set")
	}
	if d.HeaderGet("Proxy-Connection") != "Keep-Alive" {
		t.Fatalf("expected Proxy-Connection: Keep-Alive, got %q", d.HeaderGet("Proxy-Connection"))
	}
}

type recordingHandler struct {
	record **datum.Datum
}

func (r recordingHandler) RequestCall(d *datum.Datum) error {
	*r.record = d
	return nil
}
