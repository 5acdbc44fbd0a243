package utils

import (
	"testing"
	"time"
)

func TestParseLocationOffsets(t *testing.T) {
	cases := []struct {
		in      string
		seconds int
	}{
		{"", 0},
		{"UTC", 0},
		{"gmt", 0},
		{"UTC+7", 7 * 3600},
		{"UTC-3", -3 * 3600},
		{"UTC+05:30", 5*3600 + 30*60},
		{"UTC-0330", -(3*3600 + 30*60)},
		{"GMT+2", 2 * 3600},
	}
	for _, tc := range cases {
		loc, err := ParseLocation(tc.in)
		if err != nil {
			t.Errorf("ParseLocation(%q): %v", tc.in, err)
			continue
		}
		_, offset := time.Date(2026, 1, 15, 12, 0, 0, 0, loc).Zone()
		if offset != tc.seconds {
			t.Errorf("ParseLocation(%q) offset = %d, want %d", tc.in, offset, tc.seconds)
		}
	}
}

func TestParseLocationIANA(t *testing.T) {
	loc, err := ParseLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	if loc.String() != "America/New_York" {
		t.Errorf("got %s", loc)
	}
}

func TestParseLocationRejectsGarbage(t *testing.T) {
	for _, in := range []string{"UTC*5", "UTC+99", "UTC+1:99", "Neverland/Nowhere"} {
		if _, err := ParseLocation(in); err == nil {
			t.Errorf("ParseLocation(%q) accepted", in)
		}
	}
}
