package resolve

import (
	"context"
	"net"
	"testing"
)

func TestResolveTargetIPLiteralShortCircuits(t *testing.T) {
	r := New("")
	ip, err := r.ResolveTarget(context.Background(), "203.0.113.7")
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	if !ip.Equal(net.ParseIP("203.0.113.7")) {
		t.Fatalf("ResolveTarget = %v, want 203.0.113.7", ip)
	}
}

func TestReverseLookupNilAddrReturnsEmpty(t *testing.T) {
	r := New("")
	if name := r.ReverseLookup(context.Background(), nil); name != "" {
		t.Fatalf("ReverseLookup(nil) = %q, want empty", name)
	}
}

func TestTimeoutDefaultsWhenUnset(t *testing.T) {
	r := &Resolver{}
	if r.timeout() <= 0 {
		t.Fatal("timeout() should return a positive default")
	}
}
