package mtrengine

import "testing"

// Property 7: encoding then decoding an Echo Request yields the original
// (packet_id, sequence) and a valid checksum. Our codec builds requests via
// golang.org/x/net/icmp, which folds in its own checksum; we verify the
// round trip through an EchoReply carrying the same identity, since a plain
// Echo Request decodes to kindNone by design (only replies/errors match).
func TestEchoReplyRoundTrip(t *testing.T) {
	id := ProbeIdentity{PacketID: 0xBEEF, Sequence: 33005}

	raw, err := buildEchoReplyPacket(id)
	if err != nil {
		t.Fatalf("buildEchoReplyPacket: %v", err)
	}

	d := parseICMP(raw)
	if d.kind != kindEchoReply {
		t.Fatalf("kind = %v, want kindEchoReply", d.kind)
	}
	if d.packetID != id.PacketID || d.sequence != id.Sequence {
		t.Fatalf("decoded identity = (%x,%d), want (%x,%d)", d.packetID, d.sequence, id.PacketID, id.Sequence)
	}
}

// Property 8: a TimeExceeded payload built from a known Echo Request
// decodes back to the same (packet_id, sequence).
func TestTimeExceededRoundTrip(t *testing.T) {
	id := ProbeIdentity{PacketID: 0x1234, Sequence: 40000}

	raw, err := buildTimeExceededPacket(id, 5)
	if err != nil {
		t.Fatalf("buildTimeExceededPacket: %v", err)
	}

	d := parseICMP(raw)
	if d.kind != kindTimeExceeded {
		t.Fatalf("kind = %v, want kindTimeExceeded", d.kind)
	}
	if d.packetID != id.PacketID || d.sequence != id.Sequence {
		t.Fatalf("decoded identity = (%x,%d), want (%x,%d)", d.packetID, d.sequence, id.PacketID, id.Sequence)
	}
}

func TestDestinationUnreachableRoundTrip(t *testing.T) {
	id := ProbeIdentity{PacketID: 0x1234, Sequence: 40001}

	raw, err := buildUnreachablePacket(id)
	if err != nil {
		t.Fatalf("buildUnreachablePacket: %v", err)
	}

	d := parseICMP(raw)
	if d.kind != kindUnreachable {
		t.Fatalf("kind = %v, want kindUnreachable", d.kind)
	}
	if d.packetID != id.PacketID || d.sequence != id.Sequence {
		t.Fatalf("decoded identity = (%x,%d), want (%x,%d)", d.packetID, d.sequence, id.PacketID, id.Sequence)
	}
}

// Out-of-range ICMP types decode to kindNone.
func TestParseICMPUnknownTypeYieldsNone(t *testing.T) {
	// type=5 (Redirect), code=0, checksum placeholder, id/seq zero.
	raw := []byte{5, 0, 0, 0, 0, 0, 0, 0}
	d := parseICMP(raw)
	if d.kind != kindNone {
		t.Fatalf("kind = %v, want kindNone for unknown type", d.kind)
	}
}

func TestParseICMPTooShortYieldsNone(t *testing.T) {
	d := parseICMP([]byte{1, 2, 3})
	if d.kind != kindNone {
		t.Fatalf("kind = %v, want kindNone for short packet", d.kind)
	}
}
