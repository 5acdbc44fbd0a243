package provider

import (
	"fmt"
	"strings"
)

// Provider identifies one upstream vendor. The set is fixed at compile
// time; configuration may order it but never extend it.
type Provider string

const (
	OpenAI    Provider = "openai"
	Anthropic Provider = "anthropic"
	Google    Provider = "google"
	DeepSeek  Provider = "deepseek"
)

// DefaultOrder is the declared fallback order used when the
// configuration does not override it.
var DefaultOrder = []Provider{OpenAI, Anthropic, Google, DeepSeek}

var defaultEndpoints = map[Provider]string{
	OpenAI:    "https://api.openai.com/v1",
	Anthropic: "https://api.anthropic.com",
	Google:    "", // google transport builds its URL from the model
	DeepSeek:  "https://api.deepseek.com/v1",
}

var defaultModels = map[Provider]string{
	OpenAI:    "gpt-3.5-turbo",
	Anthropic: "claude-3-sonnet-20240229",
	Google:    "gemini-pro",
	DeepSeek:  "deepseek-chat",
}

// Parse normalizes a provider name and rejects anything outside the
// supported set.
func Parse(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case OpenAI, Anthropic, Google, DeepSeek:
		return p, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Valid reports whether p is one of the supported providers.
func Valid(p Provider) bool {
	_, err := Parse(string(p))
	return err == nil
}

func (p Provider) String() string { return string(p) }

// DefaultEndpoint returns the base URL used when a credential carries
// no endpoint override. Empty for providers whose transport derives the
// URL itself.
func (p Provider) DefaultEndpoint() string { return defaultEndpoints[p] }

// DefaultModel returns the model injected into payloads that omit one.
func (p Provider) DefaultModel() string { return defaultModels[p] }
