// Package config maps the CLI surface onto the in-process parameter records
// that parametrise the desync and proxy packages.
package config

import (
	"flag"
	"fmt"
	"log"
	"net"

	"dpidesync/desync"
	"dpidesync/packet"
)

// ConfigError reports a fatal problem with process-wide configuration, as
// opposed to a malformed per-part offset spec — which is logged and
// dropped rather than treated as fatal (spec.md §7).
type ConfigError string

func (e ConfigError) Error() string { return string(e) }

// DesyncParams bundles the per-flow configuration a single DesyncHandler
// invocation needs: the ordered transformation parts plus the FAKE/OOB
// knobs that don't live on a Part (spec.md §3 DesyncParams).
type DesyncParams struct {
	Parts    []desync.Part
	FakeTTL  int
	FakeData packet.Packet
	OOBChar  byte
}

// Params is process-wide configuration (spec.md §3 Params).
type Params struct {
	ListenIP   string
	ListenPort int
	ConnIP     string
	MaxOpen    int
	BufferSize int
	Debug      int
	DefaultTTL int
	EnableIPv6 bool
	DenyNames  bool
	DenyUDP    bool
	DP         []*DesyncParams
}

// Addr formats ListenIP/ListenPort as a dial/listen address.
func (p *Params) Addr() string {
	return net.JoinHostPort(p.ListenIP, fmt.Sprintf("%d", p.ListenPort))
}

// partFlag is a flag.Value that appends one OffsetSpec-parsed Part to a
// DesyncParams' Parts list per occurrence, tagging it with the mode the
// flag represents. Unlike the Python original's argparse options — which
// are scalar and keep only the last occurrence — this accumulates, so
// `-s 0 -d 4 -o 8` builds a three-part chain in the order given (spec_full.md
// §6).
type partFlag struct {
	mode   desync.Mode
	target *[]desync.Part
}

func (f *partFlag) String() string { return "" }

// Set drops a malformed spec rather than failing the flag parse: spec.md
// §7's ConfigError taxonomy has the offending part dropped at startup
// while the rest of the configuration, and the proxy itself, still start.
func (f *partFlag) Set(spec string) error {
	part, ok := desync.ParsePosition(spec)
	if !ok {
		log.Printf("[WARN] config: dropping malformed offset spec %q", spec)
		return nil
	}
	part.Mode = f.mode
	*f.target = append(*f.target, part)
	return nil
}

// ParseFlags parses args (excluding the program name) into Params. A single
// DesyncParams is built from the -s/-d/-o/-q/-f/-t/-O/-l/-e flags; -N/-U set
// the SOCKS5 policy toggles. A malformed -s/-d/-o/-q/-f or -O offset spec is
// logged and dropped rather than aborting the process (spec.md §7); parts
// that merely fail to resolve an anchor at runtime still degrade to
// anchor=0 per spec.md §9. Only process-wide configuration problems — such
// as an out-of-range -e — are fatal, reported as a ConfigError.
func ParseFlags(args []string) (*Params, error) {
	fs := flag.NewFlagSet("dpiproxy", flag.ContinueOnError)

	listenIP := fs.String("i", "0.0.0.0", "listen address")
	listenPort := fs.Int("p", 1080, "listen port")
	connIP := fs.String("I", "", "source IP for upstream connections (default: OS-chosen)")
	maxOpen := fs.Int("c", 512, "max concurrent connections")
	bufSize := fs.Int("b", 16384, "per-read buffer size")
	debug := fs.Int("x", 0, "debug verbosity (0, 1, or 2)")
	defaultTTL := fs.Int("g", 0, "default TTL applied to upstream sockets (0: leave as-is)")
	fakeTTL := fs.Int("t", 8, "TTL of fake/decoy writes")
	fakeOffsetSpec := fs.String("O", "", "offset into the decoy payload for FAKE")
	fakeDataOverride := fs.String("l", "", "override decoy payload bytes")
	oobChar := fs.Int("e", 0, "override OOB byte")
	denyNames := fs.Bool("N", false, "deny domain-name resolution in SOCKS5")
	denyUDP := fs.Bool("U", true, "deny UDP associate")
	enableIPv6 := fs.Bool("6", false, "enable IPv6 upstream connections")

	var parts []desync.Part
	fs.Var(&partFlag{mode: desync.ModeSplit, target: &parts}, "s", "append a SPLIT part")
	fs.Var(&partFlag{mode: desync.ModeDisorder, target: &parts}, "d", "append a DISORDER part")
	fs.Var(&partFlag{mode: desync.ModeOOB, target: &parts}, "o", "append an OOB part")
	fs.Var(&partFlag{mode: desync.ModeDisoob, target: &parts}, "q", "append a DISOOB part")
	fs.Var(&partFlag{mode: desync.ModeFake, target: &parts}, "f", "append a FAKE part")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *oobChar < 0 || *oobChar > 255 {
		return nil, ConfigError(fmt.Sprintf("config: -e out of byte range: %d", *oobChar))
	}

	fakeData := packet.FakeTLS()
	if *fakeDataOverride != "" {
		b := []byte(*fakeDataOverride)
		fakeData = packet.New(b, 0, len(b), true)
	}
	if *fakeOffsetSpec != "" {
		off, ok := desync.ParsePosition(*fakeOffsetSpec)
		if !ok {
			log.Printf("[WARN] config: dropping malformed -O offset spec %q", *fakeOffsetSpec)
		} else {
			b := fakeData.Bytes()
			pos := off.Pos
			if pos < 0 || pos > len(b) {
				pos = len(b)
			}
			fakeData = packet.New(b, pos, len(b)-pos, fakeData.Dynamic())
		}
	}

	dp := &DesyncParams{
		Parts:    parts,
		FakeTTL:  *fakeTTL,
		FakeData: fakeData,
		OOBChar:  byte(*oobChar),
	}

	return &Params{
		ListenIP:   *listenIP,
		ListenPort: *listenPort,
		ConnIP:     *connIP,
		MaxOpen:    *maxOpen,
		BufferSize: *bufSize,
		Debug:      *debug,
		DefaultTTL: *defaultTTL,
		EnableIPv6: *enableIPv6,
		DenyNames:  *denyNames,
		DenyUDP:    *denyUDP,
		DP:         []*DesyncParams{dp},
	}, nil
}
