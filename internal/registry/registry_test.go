package registry

import "testing"

func TestRegisterAndLookup(t *testing.T) {
	r := New[int]()
	if err := r.Register("a", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := r.Lookup("a")
	if !ok || v != 1 {
		t.Fatalf("expected to find a=1, got %v %v", v, ok)
	}
}

func TestDuplicateRejected(t *testing.T) {
	r := New[int]()
	r.Register("a", 1)
	if err := r.Register("a", 2); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestEmptyKindRejected(t *testing.T) {
	r := New[int]()
	if err := r.Register("", 1); err == nil {
		t.Fatalf("expected empty kind to fail")
	}
}

func TestFreezeRejectsFurtherRegistration(t *testing.T) {
	r := New[int]()
	r.Register("a", 1)
	r.Freeze()
	if err := r.Register("b", 2); err == nil {
		t.Fatalf("expected registration after freeze to fail")
	}
}

func TestMustLookupMissing(t *testing.T) {
	r := New[int]()
	if _, err := r.MustLookup("missing"); err == nil {
		t.Fatalf("expected error for missing kind")
	}
}

func TestKindsPreservesOrder(t *testing.T) {
	r := New[int]()
	r.Register("z", 1)
	r.Register("a", 2)
	got := r.Kinds()
	if len(got) != 2 || got[0] != "z" || got[1] != "a" {
		t.Fatalf("expected insertion order, got %v", got)
	}
}
