package sensors

import (
	"math"
	"testing"
)

func TestIDStringParseRoundTrip(t *testing.T) {
	ids := []ID{
		0,
		1,
		0x28AABBCCDDEEFF5A,
		0xFFFFFFFFFFFFFFFF,
		0x8000000000000000,
		0x0123456789ABCDEF,
	}
	seed := uint64(1)
	for i := 0; i < 200; i++ {
		seed = seed*6364136223846793005 + 1442695040888963407
		ids = append(ids, ID(seed))
	}
	for _, id := range ids {
		got, err := ParseID(id.String())
		if err != nil {
			t.Fatalf("ParseID(%s): %v", id, err)
		}
		if got != id {
			t.Errorf("round trip: got %#x, want %#x", uint64(got), uint64(id))
		}
	}
}

func TestIDString(t *testing.T) {
	id := ID(0x28AABBCCDDEEFF5A)
	if got, want := id.String(), "28-AABB-CCDD-EEFF-5A"; got != want {
		t.Errorf("String: got %s, want %s", got, want)
	}
}

func TestParseIDLowerCase(t *testing.T) {
	id, err := ParseID("28-aabb-ccdd-eeff-5a")
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x28AABBCCDDEEFF5A {
		t.Errorf("ParseID: got %#x", uint64(id))
	}
}

func TestParseIDRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"28-AABB-CCDD-EEFF",
		"28AABBCCDDEEFF5A",
		"28-AABB-CCDD-EEFF-5G",
		"28_AABB-CCDD-EEFF-5A",
		"28-AABB-CCDD-EEFF-5A0",
		"28-+ABB-CCDD-EEFF-5A",
		"28-AA_B-CCDD-EEFF-5A",
		"0x-AABB-CCDD-EEFF-5A",
		"28-AABB-CC D-EEFF-5A",
	} {
		if _, err := ParseID(s); err == nil {
			t.Errorf("ParseID(%q) should fail", s)
		}
	}
}

func TestIDROMRoundTrip(t *testing.T) {
	rom := [8]byte{0x28, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11}
	id := IDFromROM(rom)
	if id.Family() != 0x28 {
		t.Errorf("Family: got %#x, want 0x28", id.Family())
	}
	if id.ROM() != rom {
		t.Errorf("ROM: got %x, want %x", id.ROM(), rom)
	}
}

func TestLookup(t *testing.T) {
	devs := []Device{{ID: 1, TemperatureC: 4}, {ID: 2, TemperatureC: math.NaN()}}
	d, ok := Lookup(devs, 2)
	if !ok || d.ID != 2 || d.Valid() {
		t.Errorf("Lookup(2): got %+v, %v", d, ok)
	}
	if _, ok := Lookup(devs, 3); ok {
		t.Error("Lookup(3) should miss")
	}
}

func TestDeviceString(t *testing.T) {
	d := Device{ID: 0x28AABBCCDDEEFF5A, TemperatureC: 25.0625}
	if got, want := d.String(), "Sensor 28-AABB-CCDD-EEFF-5A: 25.06C"; got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}
}
