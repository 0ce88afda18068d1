package desync

import (
	"net"

	"dpidesync/csrand"
	"dpidesync/packet"
	"dpidesync/ttlsock"
)

// Options carries the per-flow FAKE/OOB parameters a Handler needs that
// aren't encoded in a Part itself.
type Options struct {
	OOBChar  byte
	FakeTTL  int
	FakeData packet.Packet
}

// Handler executes a compiled Part list against a socket and payload.
type Handler struct {
	packets *packet.Handler
}

// NewHandler constructs a Handler that uses ph to perform the individual
// fragment writes.
func NewHandler(ph *packet.Handler) *Handler {
	return &Handler{packets: ph}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// resolveAnchor implements the anchor-selection rules of spec §4.3: SNI and
// HOST anchors take priority over END/MID, with SNI winning the tie when
// the payload parses as a TLS handshake (§4.2). Failure to locate a
// requested anchor falls back to 0 (§9).
func resolveAnchor(payload []byte, flag int) int {
	hasSNI := flag&FlagSNI != 0
	hasHost := flag&FlagHost != 0

	switch {
	case hasSNI && hasHost:
		if p, ok := FindSNI(payload); ok {
			return p
		}
		if p, ok := FindHost(payload); ok {
			return p
		}
		return 0
	case hasSNI:
		if p, ok := FindSNI(payload); ok {
			return p
		}
		return 0
	case hasHost:
		if p, ok := FindHost(payload); ok {
			return p
		}
		return 0
	case flag&FlagEnd != 0:
		return len(payload)
	case flag&FlagMid != 0:
		return len(payload) / 2
	default:
		return 0
	}
}

// cutPoints resolves the repeats+skip positional language into a
// non-decreasing sequence of split points within payload, one per
// repetition (spec §4.3: "a part with repeats > 1 applies its split at
// positions p, p+skip, p+2*skip, ..."). RAND jitter is redrawn
// independently for each point, then clamped to stay non-decreasing so the
// resulting fragments never require a negative-length slice — a
// skip=0/repeats>1 configuration legitimately produces zero-length
// fragments in between, amplifying segment count without changing content.
func cutPoints(payload []byte, part Part) []int {
	anchor := resolveAnchor(payload, part.Flag)
	base := anchor + part.Pos

	pts := make([]int, part.Repeats)
	prev := 0
	for i := 0; i < part.Repeats; i++ {
		p := base + i*part.Skip
		if part.Flag&FlagRand != 0 {
			p += csrand.IntRange(-8, 8)
		}
		p = clamp(p, prev, len(payload))
		pts[i] = p
		prev = p
	}
	return pts
}

func sliceFragments(payload []byte, pts []int) [][]byte {
	frags := make([][]byte, 0, len(pts)+1)
	prev := 0
	for _, p := range pts {
		frags = append(frags, payload[prev:p])
		prev = p
	}
	frags = append(frags, payload[prev:])
	return frags
}

func asPackets(frags [][]byte) []packet.Packet {
	out := make([]packet.Packet, len(frags))
	for i, f := range frags {
		out[i] = packet.New(f, 0, len(f), false)
	}
	return out
}

// Apply runs parts, in order, against upstream and payload. It returns true
// only if every emitted write succeeded; on the first failed write it
// short-circuits and attempts no further parts (spec §4.3 invariant 4). An
// empty parts list is equivalent to a single NONE part: the payload is
// still written through verbatim, so the relay stays byte-transparent when
// no desync configuration applies (spec §8 invariant 6).
//
// Per spec §4.3's ordering guarantee, parts chain: the payload fed to part
// i+1 is whichever fragment part i emitted last on the wire (the tail
// fragment for SPLIT/OOB/FAKE, the head fragment for DISORDER/DISOOB, since
// those modes write their fragments in reverse).
func (h *Handler) Apply(upstream *net.TCPConn, payload []byte, parts []Part, opts Options) bool {
	if len(parts) == 0 {
		parts = []Part{{Mode: ModeNone}}
	}

	remaining := payload
	for _, part := range parts {
		last, ok := h.applyPart(upstream, remaining, part, opts)
		if !ok {
			return false
		}
		remaining = last
	}
	return true
}

// applyPart executes a single part and returns the fragment that should
// seed the next part's payload.
func (h *Handler) applyPart(upstream *net.TCPConn, payload []byte, part Part, opts Options) ([]byte, bool) {
	if part.Mode == ModeNone {
		if err := h.packets.Write(upstream, packet.New(payload, 0, len(payload), false)); err != nil {
			return nil, false
		}
		return payload, true
	}

	pts := cutPoints(payload, part)
	frags := sliceFragments(payload, pts)
	pkts := asPackets(frags)

	switch part.Mode {
	case ModeSplit:
		if !h.writeForward(upstream, pkts, nil) {
			return nil, false
		}
		return frags[len(frags)-1], true

	case ModeDisorder:
		if !h.writeReverse(upstream, pkts, nil) {
			return nil, false
		}
		return frags[0], true

	case ModeOOB:
		oob := func() bool { return h.sendOOB(upstream, opts.OOBChar) }
		if !h.writeForward(upstream, pkts, oob) {
			return nil, false
		}
		return frags[len(frags)-1], true

	case ModeDisoob:
		oob := func() bool { return h.sendOOB(upstream, opts.OOBChar) }
		if !h.writeReverse(upstream, pkts, oob) {
			return nil, false
		}
		return frags[0], true

	case ModeFake:
		decoy := func() bool { return h.sendFake(upstream, opts) }
		if !h.writeForward(upstream, pkts, decoy) {
			return nil, false
		}
		return frags[len(frags)-1], true
	}

	return nil, false
}

// writeForward writes pkts in order, invoking sep between each adjacent
// pair (never before the first or after the last fragment).
func (h *Handler) writeForward(upstream *net.TCPConn, pkts []packet.Packet, sep func() bool) bool {
	for i, p := range pkts {
		if i > 0 && sep != nil {
			if !sep() {
				return false
			}
		}
		if err := h.packets.Write(upstream, p); err != nil {
			return false
		}
	}
	return true
}

// writeReverse writes pkts back to front, invoking sep between each
// adjacent pair.
func (h *Handler) writeReverse(upstream *net.TCPConn, pkts []packet.Packet, sep func() bool) bool {
	for i := len(pkts) - 1; i >= 0; i-- {
		if i < len(pkts)-1 && sep != nil {
			if !sep() {
				return false
			}
		}
		if err := h.packets.Write(upstream, pkts[i]); err != nil {
			return false
		}
	}
	return true
}

func (h *Handler) sendOOB(upstream *net.TCPConn, oobChar byte) bool {
	return ttlsock.SendOOB(upstream, oobChar) == nil
}

// sendFake writes the decoy payload with the outgoing TTL temporarily
// lowered, restoring the original TTL before returning even if the write
// itself fails (spec §4.3 FAKE contract, invariant 5).
func (h *Handler) sendFake(upstream *net.TCPConn, opts Options) bool {
	restore, err := ttlsock.SetTTL(upstream, opts.FakeTTL)
	if err != nil {
		return false
	}
	writeErr := h.packets.Write(upstream, opts.FakeData)
	restoreErr := restore()
	return writeErr == nil && restoreErr == nil
}
