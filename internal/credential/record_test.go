package credential

import (
	"strings"
	"testing"

	"multiapi-go/internal/provider"
)

func TestFromStateDefaults(t *testing.T) {
	r, err := FromState(State{Identifier: "sk-test-0123456789abcdef", Provider: "openai"})
	if err != nil {
		t.Fatalf("FromState: %v", err)
	}
	if r.DailyLimit != DefaultDailyLimit {
		t.Errorf("DailyLimit = %d, want %d", r.DailyLimit, DefaultDailyLimit)
	}
	if r.Priority != DefaultPriority {
		t.Errorf("Priority = %d, want %d", r.Priority, DefaultPriority)
	}
	if !r.IsActive {
		t.Error("record should default to active")
	}
	if r.ResolvedEndpoint() != provider.OpenAI.DefaultEndpoint() {
		t.Errorf("ResolvedEndpoint = %q", r.ResolvedEndpoint())
	}
}

func TestFromStateInactiveKept(t *testing.T) {
	inactive := false
	r, err := FromState(State{Identifier: "sk-test-0123456789abcdef", Provider: "openai", IsActive: &inactive})
	if err != nil {
		t.Fatalf("FromState: %v", err)
	}
	if r.IsActive {
		t.Error("explicit is_active=false was lost")
	}
}

func TestFromStateRejectsBadRecords(t *testing.T) {
	cases := []State{
		{Identifier: "", Provider: "openai"},
		{Identifier: "sk-x-0123456789", Provider: "azure"},
		{Identifier: "sk-x-0123456789", Provider: "openai", DailyLimit: -5},
		{Identifier: "sk-x-0123456789", Provider: "openai", CurrentUsage: -1},
	}
	for i, st := range cases {
		if _, err := FromState(st); err == nil {
			t.Errorf("case %d: expected error for %+v", i, st)
		}
	}
}

func TestRedactIdentifier(t *testing.T) {
	long := "sk-proj-abcdefghijklmnopqrstuvwxyz123456"
	got := RedactIdentifier(long)
	want := "..." + long[len(long)-8:]
	if got != want {
		t.Errorf("RedactIdentifier(long) = %q, want %q", got, want)
	}
	if !strings.HasPrefix(got, "...") || len(got) != 11 {
		t.Errorf("long redaction shape wrong: %q", got)
	}

	short := "abcdefgh" // 8 chars: keep at most half
	got = RedactIdentifier(short)
	if got != "...efgh" {
		t.Errorf("RedactIdentifier(short) = %q, want ...efgh", got)
	}
	if strings.Contains(got, short) {
		t.Errorf("short identifier leaked in full: %q", got)
	}

	if got := RedactIdentifier("x"); got != "..." {
		t.Errorf("RedactIdentifier(single) = %q, want ...", got)
	}
}

func TestMatchesSuffix(t *testing.T) {
	r := &Record{Identifier: "sk-test-0123456789abcdef", Provider: provider.OpenAI, DailyLimit: 10}
	if !r.MatchesSuffix("abcdef") {
		t.Error("suffix should match")
	}
	if !r.MatchesSuffix(r.Identifier) {
		t.Error("full identifier should match as its own suffix")
	}
	if r.MatchesSuffix("") {
		t.Error("empty suffix must not match")
	}
	if r.MatchesSuffix("zzz") {
		t.Error("wrong suffix matched")
	}
}

func TestReservationBookkeeping(t *testing.T) {
	r := &Record{Identifier: "sk-test-0123456789abcdef", Provider: provider.OpenAI, DailyLimit: 10}
	r.Reserve()
	r.Reserve()
	if r.InFlight() != 2 {
		t.Fatalf("InFlight = %d, want 2", r.InFlight())
	}
	r.Unreserve()
	r.Unreserve()
	r.Unreserve() // extra release must not go negative
	if r.InFlight() != 0 {
		t.Fatalf("InFlight = %d, want 0", r.InFlight())
	}
}
