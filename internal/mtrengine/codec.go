package mtrengine

import (
	"encoding/binary"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// icmpv4 message types, per RFC 792.
const (
	typeEchoReply             = 0
	typeUnreachable           = 3
	typeEchoRequest           = 8
	typeTimeExceeded          = 11
)

// probePayloadLen is the filler length appended to every outgoing Echo
// Request. The packet's own identity travels in the standard id/seq fields;
// the payload carries no timing information, since send_time lives in the
// sequence table, not on the wire.
const probePayloadLen = 32

var probeFiller = make([]byte, probePayloadLen)

// decoded is what parseICMP recovers from an incoming datagram: enough to
// either match an EchoReply directly or recover the original probe's
// identity from an embedded error payload.
type decoded struct {
	kind       responseKind
	packetID   uint16
	sequence   uint16
}

type responseKind int

const (
	kindNone responseKind = iota
	kindEchoReply
	kindTimeExceeded
	kindUnreachable
)

// buildEchoRequest marshals an ICMPv4 Echo Request carrying packetID and
// sequence in the standard identifier/sequence fields, with the checksum
// already folded in by icmp.Message.Marshal.
func buildEchoRequest(packetID, sequence uint16) ([]byte, error) {
	msg := &icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   int(packetID),
			Seq:  int(sequence),
			Data: probeFiller,
		},
	}
	return msg.Marshal(nil)
}

// parseICMP recognizes EchoReply, TimeExceeded, and DestinationUnreachable.
// Any other type, or a payload too short to carry an embedded original
// header, yields kindNone — the caller silently discards it.
func parseICMP(data []byte) decoded {
	msg, err := icmp.ParseMessage(1, data) // protocol 1 = ICMP
	if err != nil {
		return decoded{kind: kindNone}
	}

	switch msg.Type {
	case ipv4.ICMPTypeEcho:
		return decoded{kind: kindNone}

	case ipv4.ICMPTypeEchoReply:
		echo, ok := msg.Body.(*icmp.Echo)
		if !ok {
			return decoded{kind: kindNone}
		}
		return decoded{
			kind:     kindEchoReply,
			packetID: uint16(echo.ID),
			sequence: uint16(echo.Seq),
		}

	case ipv4.ICMPTypeTimeExceeded:
		body, ok := msg.Body.(*icmp.TimeExceeded)
		if !ok {
			return decoded{kind: kindNone}
		}
		id, seq, ok := extractEmbeddedIdentity(body.Data)
		if !ok {
			return decoded{kind: kindNone}
		}
		return decoded{kind: kindTimeExceeded, packetID: id, sequence: seq}

	case ipv4.ICMPTypeDestinationUnreachable:
		body, ok := msg.Body.(*icmp.DstUnreach)
		if !ok {
			return decoded{kind: kindNone}
		}
		id, seq, ok := extractEmbeddedIdentity(body.Data)
		if !ok {
			return decoded{kind: kindNone}
		}
		return decoded{kind: kindUnreachable, packetID: id, sequence: seq}
	}

	return decoded{kind: kindNone}
}

// buildEchoReplyPacket marshals a wire-format EchoReply carrying id, used by
// the Sim backend to exercise the same decode path a real socket would.
func buildEchoReplyPacket(id ProbeIdentity) ([]byte, error) {
	msg := &icmp.Message{
		Type: ipv4.ICMPTypeEchoReply,
		Code: 0,
		Body: &icmp.Echo{
			ID:   int(id.PacketID),
			Seq:  int(id.Sequence),
			Data: probeFiller,
		},
	}
	return msg.Marshal(nil)
}

// buildTimeExceededPacket marshals a wire-format TimeExceeded embedding a
// minimal IPv4 header and the original Echo Request identified by id, used
// by the Sim backend.
func buildTimeExceededPacket(id ProbeIdentity, ttl int) ([]byte, error) {
	origICMP, err := buildEchoRequest(id.PacketID, id.Sequence)
	if err != nil {
		return nil, err
	}

	ipHeader := make([]byte, 20)
	ipHeader[0] = 0x45 // version 4, IHL 5 (20 bytes)
	ipHeader[8] = byte(ttl)
	ipHeader[9] = 1 // protocol ICMP

	embedded := append(ipHeader, origICMP...)

	msg := &icmp.Message{
		Type: ipv4.ICMPTypeTimeExceeded,
		Code: 0,
		Body: &icmp.TimeExceeded{
			Data: embedded,
		},
	}
	return msg.Marshal(nil)
}

// buildUnreachablePacket marshals a wire-format DestinationUnreachable
// embedding the original Echo Request identified by id.
func buildUnreachablePacket(id ProbeIdentity) ([]byte, error) {
	origICMP, err := buildEchoRequest(id.PacketID, id.Sequence)
	if err != nil {
		return nil, err
	}

	ipHeader := make([]byte, 20)
	ipHeader[0] = 0x45
	ipHeader[9] = 1

	embedded := append(ipHeader, origICMP...)

	msg := &icmp.Message{
		Type: ipv4.ICMPTypeDestinationUnreachable,
		Code: 1, // host unreachable
		Body: &icmp.DstUnreach{
			Data: embedded,
		},
	}
	return msg.Marshal(nil)
}

// extractEmbeddedIdentity descends into the embedded IPv4 header carried by
// a TimeExceeded or DestinationUnreachable payload and recovers the
// (packet_id, sequence) of the original Echo Request from the first 8 bytes
// of ICMP that follow it.
func extractEmbeddedIdentity(origData []byte) (id, seq uint16, ok bool) {
	if len(origData) < 1 {
		return 0, 0, false
	}
	ipHeaderLen := int(origData[0]&0x0f) * 4
	if ipHeaderLen < 20 || len(origData) < ipHeaderLen+8 {
		return 0, 0, false
	}

	icmpHeader := origData[ipHeaderLen:]
	if icmpHeader[0] != typeEchoRequest {
		return 0, 0, false
	}

	id = binary.BigEndian.Uint16(icmpHeader[4:6])
	seq = binary.BigEndian.Uint16(icmpHeader[6:8])
	return id, seq, true
}
