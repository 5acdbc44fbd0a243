package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"multiapi-go/internal/credential"
	"multiapi-go/internal/errors"
	"multiapi-go/internal/provider"
)

// Load reads the full configuration document, applies environment
// overrides and defaults, and validates. A missing file gets a default
// document written in its place and a ConfigurationError telling the
// operator to fill in real keys.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := writeDefault(path); werr != nil {
			return nil, &errors.ConfigurationError{Field: "config", Reason: werr.Error()}
		}
		log.WithField("path", path).Info("created default configuration")
		return nil, &errors.ConfigurationError{
			Field:  "config",
			Reason: fmt.Sprintf("default configuration created at %s, add your API keys and restart", path),
		}
	}
	if err != nil {
		return nil, &errors.ConfigurationError{Field: "config", Reason: err.Error()}
	}

	cfg := &Config{path: path}
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, &errors.ConfigurationError{Field: "config", Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the document back in the format its extension implies.
func Save(cfg *Config, path string) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// writeDefault creates the starter document: one placeholder record
// per provider, default settings spelled out so operators see every
// knob.
func writeDefault(path string) error {
	today := time.Now().UTC().Format(credential.DateLayout)
	active := true
	attempts := DefaultRetryAttempts
	delay := DefaultRetryDelay
	tracking := true

	placeholder := func(p provider.Provider, key string) credential.State {
		return credential.State{
			Identifier: key,
			Provider:   p.String(),
			Endpoint:   p.DefaultEndpoint(),
			DailyLimit: credential.DefaultDailyLimit,
			LastReset:  today,
			IsActive:   &active,
			Priority:   credential.DefaultPriority,
		}
	}

	cfg := &Config{
		APIKeys: map[string][]credential.State{
			provider.OpenAI.String():    {placeholder(provider.OpenAI, "sk-your-openai-key-1")},
			provider.Anthropic.String(): {placeholder(provider.Anthropic, "sk-ant-REDACTED")},
			provider.Google.String():    {placeholder(provider.Google, "your-google-api-key-1")},
			provider.DeepSeek.String():  {placeholder(provider.DeepSeek, "sk-your-deepseek-key-1")},
		},
		Settings: Settings{
			RotationStrategy:    DefaultRotationStrategy,
			RetryAttempts:       &attempts,
			RetryDelay:          &delay,
			EnableUsageTracking: &tracking,
			DailyResetHour:      0,
			Timezone:            "UTC",
			RequestTimeout:      DefaultRequestTimeout,
			AutoRotate:          true,
		},
		Server:  Server{Listen: DefaultListen},
		Storage: Storage{Backend: DefaultStorageBackend},
	}
	return Save(cfg, path)
}
