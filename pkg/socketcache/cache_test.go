package socketcache

import (
	"testing"

	"github.com/wireclient/excon/pkg/datum"
)

type fakeSocket struct{ closed bool }

func (f *fakeSocket) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeSocket) Read(n int) ([]byte, error)   { return nil, nil }
func (f *fakeSocket) ReadLine() (string, error)    { return "", nil }
func (f *fakeSocket) RemoteIP() string             { return "10.0.0.1" }
func (f *fakeSocket) SetData(d *datum.Datum)       {}
func (f *fakeSocket) Close() error                 { f.closed = true; return nil }

func TestTakeMissingKey(t *testing.T) {
	c := New()
	if _, ok := c.Take("host:80"); ok {
		t.Fatal("expected no entry for an empty cache")
	}
}

func TestPutThenTake(t *testing.T) {
	c := New()
	sock := &fakeSocket{}
	c.Put("host:80", sock)

	got, ok := c.Take("host:80")
	if !ok {
		t.Fatal("expected cached socket to be found")
	}
	if got != sock {
		t.Fatal("expected the same socket instance back")
	}
	if _, ok := c.Take("host:80"); ok {
		t.Fatal("expected Take to remove the entry")
	}
}

func TestPutReplacesAndClosesOld(t *testing.T) {
	c := New()
	old := &fakeSocket{}
	next := &fakeSocket{}
	c.Put("host:80", old)
	c.Put("host:80", next)

	if !old.closed {
		t.Fatal("expected the replaced socket to be closed")
	}
	got, ok := c.Take("host:80")
	if !ok || got != next {
		t.Fatal("expected the newest socket to be cached")
	}
}

func TestEvictClosesSocket(t *testing.T) {
	c := New()
	sock := &fakeSocket{}
	c.Put("host:80", sock)
	c.Evict("host:80")

	if !sock.closed {
		t.Fatal("expected Evict to close the socket")
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after evict, got %d entries", c.Len())
	}
}

func TestResetClosesEverything(t *testing.T) {
	c := New()
	a, b := &fakeSocket{}, &fakeSocket{}
	c.Put("a", a)
	c.Put("b", b)
	c.Reset()

	if !a.closed || !b.closed {
		t.Fatal("expected Reset to close every cached socket")
	}
	if c.Len() != 0 {
		t.Fatal("expected empty cache after reset")
	}
}
