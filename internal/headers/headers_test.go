package headers

import (
	"net/url"
	"testing"
)

func TestExtendIdempotence(t *testing.T) {
	h := New(Entry{Name: "Content-Type", Value: "application/json"}, Entry{Name: "X-A", Value: "1"})
	for _, mode := range []MergeMode{ReplaceAll, ReplaceMatching, Append} {
		got := h.Extend(h.Entries(), mode)
		if got != h {
			t.Fatalf("mode %v: expected same reference, got a new one", mode)
		}
	}
}

func TestReplaceMatchingKeepsOtherKeys(t *testing.T) {
	h := New(Entry{Name: "A", Value: "1"}, Entry{Name: "B", Value: "2"})
	got := h.Extend([]Entry{{Name: "a", Value: "new"}}, ReplaceMatching)
	if len(got.Get("a")) != 1 || got.Get("a")[0].Value != "new" {
		t.Fatalf("expected replaced a, got %+v", got.Get("a"))
	}
	if len(got.Get("b")) != 1 || got.Get("b")[0].Value != "2" {
		t.Fatalf("expected untouched b, got %+v", got.Get("b"))
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	h := New(Entry{Name: "X", Value: "1"})
	got := h.Extend([]Entry{{Name: "x", Value: "2"}}, Append)
	vals := got.Get("x")
	if len(vals) != 2 || vals[0].Value != "1" || vals[1].Value != "2" {
		t.Fatalf("expected append order preserved, got %+v", vals)
	}
}

func TestReplaceAllDropsEverything(t *testing.T) {
	h := New(Entry{Name: "A", Value: "1"})
	got := h.Extend([]Entry{{Name: "B", Value: "2"}}, ReplaceAll)
	if len(got.Get("a")) != 0 {
		t.Fatalf("expected a to be gone")
	}
	if len(got.Get("b")) != 1 {
		t.Fatalf("expected b present")
	}
}

func TestURLComposeAbsoluteReplacesWholesale(t *testing.T) {
	base := &URL{Origin: "https://old.example", Path: "/old", Hash: "frag"}
	out, err := Compose(base, Fragment{Absolute: true, Origin: "https://new.example", Path: "/new"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Origin != "https://new.example" || out.Path != "/new" || out.Hash != "" {
		t.Fatalf("expected wholesale replacement, got %+v", out)
	}
}

func TestURLComposeRelativeNeedsBase(t *testing.T) {
	_, err := Compose(nil, Fragment{Path: "/x"})
	if err == nil {
		t.Fatalf("expected error for relative fragment with no base")
	}
}

func TestURLComposeAppendsPathAndMergesQuery(t *testing.T) {
	base := &URL{Origin: "https://api.example", Path: "/v1", Query: url.Values{"a": {"1"}}}
	out, err := Compose(base, Fragment{Path: "users", Query: url.Values{"b": {"2"}}, QueryMode: QueryAppend})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Path != "/v1/users" {
		t.Fatalf("expected joined path, got %q", out.Path)
	}
	if out.Query.Get("a") != "1" || out.Query.Get("b") != "2" {
		t.Fatalf("expected merged query, got %v", out.Query)
	}
}
