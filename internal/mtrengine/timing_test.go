package mtrengine

import "testing"

func TestNowNonDecreasing(t *testing.T) {
	a := Now()
	b := Now()
	if b < a {
		t.Fatalf("Now() decreased: %d then %d", a, b)
	}
}

func TestClampRTTNeverZero(t *testing.T) {
	if got := clampRTT(0); got != 1 {
		t.Fatalf("clampRTT(0) = %d, want 1", got)
	}
	if got := clampRTT(-5); got != 1 {
		t.Fatalf("clampRTT(-5) = %d, want 1", got)
	}
	if got := clampRTT(42); got != 42 {
		t.Fatalf("clampRTT(42) = %d, want 42", got)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		ns   int64
		want string
	}{
		{500, "0.5µs"},
		{500_000, "500.0µs"},
		{1_000_000, "1.0ms"},
		{12_340_000, "12.3ms"},
	}
	for _, c := range cases {
		if got := FormatDuration(c.ns); got != c.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", c.ns, got, c.want)
		}
	}
}
