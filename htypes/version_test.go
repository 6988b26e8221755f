package htypes

import "testing"

func TestHosVersionOrdering(t *testing.T) {
	v1 := NewHosVersion(1, 0, 0)
	v2 := NewHosVersion(1, 2, 3)
	v3 := NewHosVersion(2, 0, 0)

	if !v1.Less(v2) || !v2.Less(v3) {
		t.Fatal("expected v1 < v2 < v3")
	}
	if !v3.Greater(v1) {
		t.Fatal("expected v3 > v1")
	}
	if !v1.Equal(NewHosVersion(1, 0, 0)) {
		t.Fatal("expected equal versions to compare equal")
	}
}

func TestHosVersionInRange(t *testing.T) {
	lo := NewHosVersion(1, 0, 0)
	hi := NewHosVersion(3, 0, 0)

	if !NewHosVersion(2, 0, 0).InRange(lo, hi) {
		t.Fatal("2.0.0 should be in [1.0.0, 3.0.0]")
	}
	if !lo.InRange(lo, hi) || !hi.InRange(lo, hi) {
		t.Fatal("range bounds should be inclusive")
	}
	if NewHosVersion(3, 0, 1).InRange(lo, hi) {
		t.Fatal("3.0.1 should not be in [1.0.0, 3.0.0]")
	}
}

func TestHosVersionString(t *testing.T) {
	if got, want := NewHosVersion(12, 3, 4).String(), "12.3.4"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
