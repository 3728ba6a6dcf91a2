package core_test

import (
	"errors"
	"testing"

	"twowire/core"
	"twowire/core/simbus"
)

func TestScan(t *testing.T) {
	bus := simbus.New(32)
	bus.Attach(0x68, &simbus.Memory{})
	bus.Attach(0x3C, &simbus.Memory{})
	bus.Attach(0x02, &simbus.Memory{}) // reserved, never probed

	found, err := core.Scan(bus, core.FirstScanAddress, core.LastScanAddress)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found[0] != 0x3C || found[1] != 0x68 {
		t.Errorf("Expected [0x3c 0x68], got %v", found)
	}
}

func TestScanBeginFailure(t *testing.T) {
	bus := simbus.New(32)
	bus.BeginErr = errors.New("bus stuck low")
	if _, err := core.Scan(bus, core.FirstScanAddress, core.LastScanAddress); err == nil {
		t.Error("Expected Scan to fail")
	}
}

func TestProfiles(t *testing.T) {
	p, err := core.ProfileByName("SAMD")
	if err != nil {
		t.Fatal(err)
	}
	if p.MaxBufferSize != 250 || !p.SupportsTermination {
		t.Errorf("Unexpected samd profile: %+v", p)
	}

	if _, err := core.ProfileByName("z80"); !errors.Is(err, core.ErrProfile) {
		t.Errorf("Expected ErrProfile, got %v", err)
	}

	for _, p := range core.Profiles() {
		if p.MaxBufferSize <= 0 {
			t.Errorf("%s: no buffer size", p.Name)
		}
		if p.ClockMode == core.ClockHardwareDivider && p.ReferenceClock == 0 {
			t.Errorf("%s: divider without reference clock", p.Name)
		}
		if got := core.LookupProfile(p.Class); got.Name != p.Name {
			t.Errorf("LookupProfile(%d) = %s, want %s", p.Class, got.Name, p.Name)
		}
	}

	for _, m := range []core.ClockMode{core.ClockDirectSet, core.ClockHardwareDivider, core.ClockUnsupported} {
		got, err := core.ParseClockMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseClockMode(%q) = %v, %v", m.String(), got, err)
		}
	}
}
