package provider

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    Provider
		wantErr bool
	}{
		{"openai", OpenAI, false},
		{"  Anthropic ", Anthropic, false},
		{"GOOGLE", Google, false},
		{"deepseek", DeepSeek, false},
		{"azure", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q): unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDefaults(t *testing.T) {
	if got := OpenAI.DefaultEndpoint(); got != "https://api.openai.com/v1" {
		t.Errorf("openai endpoint = %q", got)
	}
	if got := Google.DefaultEndpoint(); got != "" {
		t.Errorf("google endpoint should be empty, got %q", got)
	}
	for _, p := range DefaultOrder {
		if p.DefaultModel() == "" {
			t.Errorf("provider %s has no default model", p)
		}
	}
}
