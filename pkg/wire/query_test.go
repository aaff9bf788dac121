package wire

import "testing"

func TestEncodeQueryNil(t *testing.T) {
	got, err := EncodeQuery(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty query, got %q", got)
	}
}

func TestEncodeQueryString(t *testing.T) {
	got, err := EncodeQuery("a=1&b=2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "a=1&b=2" {
		t.Fatalf("expected verbatim string, got %q", got)
	}
}

func TestEncodeQueryMap(t *testing.T) {
	q := map[string]interface{}{
		"a": 1,
		"b": []interface{}{2, 3},
		"c": nil,
	}
	got, err := EncodeQuery(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "a=1&b=2&b=3&c"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEncodeQueryUnsupportedType(t *testing.T) {
	if _, err := EncodeQuery(42); err == nil {
		t.Fatal("expected error for unsupported query type")
	}
}
