package config

import (
	"errors"
	"testing"

	"dpidesync/desync"
)

func TestParseFlagsDefaults(t *testing.T) {
	p, err := ParseFlags(nil)
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if p.ListenIP != "0.0.0.0" || p.ListenPort != 1080 {
		t.Fatalf("defaults = %+v", p)
	}
	if len(p.DP) != 1 || len(p.DP[0].Parts) != 0 {
		t.Fatalf("expected one empty DesyncParams, got %+v", p.DP)
	}
}

func TestParseFlagsAccumulatesParts(t *testing.T) {
	p, err := ParseFlags([]string{"-s", "5", "-d", "3", "-o", "4+e"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	parts := p.DP[0].Parts
	if len(parts) != 3 {
		t.Fatalf("len(parts) = %d, want 3", len(parts))
	}
	wantModes := []desync.Mode{desync.ModeSplit, desync.ModeDisorder, desync.ModeOOB}
	for i, want := range wantModes {
		if parts[i].Mode != want {
			t.Fatalf("parts[%d].Mode = %v, want %v", i, parts[i].Mode, want)
		}
	}
	if parts[2].Flag != desync.FlagEnd {
		t.Fatalf("parts[2].Flag = %d, want FlagEnd", parts[2].Flag)
	}
}

func TestParseFlagsDropsMalformedSpec(t *testing.T) {
	p, err := ParseFlags([]string{"-s", "notanumber", "-d", "3"})
	if err != nil {
		t.Fatalf("a malformed -s spec must not abort ParseFlags: %v", err)
	}
	parts := p.DP[0].Parts
	if len(parts) != 1 || parts[0].Mode != desync.ModeDisorder {
		t.Fatalf("expected the malformed -s occurrence dropped and -d kept, got %+v", parts)
	}
}

func TestParseFlagsDropsMalformedFakeOffset(t *testing.T) {
	p, err := ParseFlags([]string{"-O", "notanumber"})
	if err != nil {
		t.Fatalf("a malformed -O spec must not abort ParseFlags: %v", err)
	}
	if len(p.DP[0].FakeData.Bytes()) == 0 {
		t.Fatal("malformed -O should leave the default decoy payload untouched")
	}
}

func TestParseFlagsRejectsOOBCharOutOfRange(t *testing.T) {
	_, err := ParseFlags([]string{"-e", "256"})
	if err == nil {
		t.Fatal("expected error for out-of-range -e")
	}
	var cfgErr ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected a ConfigError, got %T: %v", err, err)
	}
}

func TestParseFlagsFakeDataOverride(t *testing.T) {
	p, err := ParseFlags([]string{"-l", "custom-decoy"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if string(p.DP[0].FakeData.Bytes()) != "custom-decoy" {
		t.Fatalf("FakeData = %q, want %q", p.DP[0].FakeData.Bytes(), "custom-decoy")
	}
}

func TestParamsAddr(t *testing.T) {
	p := &Params{ListenIP: "127.0.0.1", ListenPort: 1080}
	if got, want := p.Addr(), "127.0.0.1:1080"; got != want {
		t.Fatalf("Addr() = %q, want %q", got, want)
	}
}
