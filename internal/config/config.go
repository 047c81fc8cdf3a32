// Package config loads the relay's environment-sourced configuration and
// validates it once at startup.
package config

import (
	"crypto/rsa"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/agentrelay/relay/internal/forge"
	"github.com/agentrelay/relay/internal/labels"
)

// Config is the relay's full runtime configuration.
type Config struct {
	RelayKey       string // shared secret required on every v2 request
	AppID          int64
	InstallationID int64
	PrivateKeyPEM  string
	APIBaseURL     string // optional forge API base override

	LabelRulesJSON string

	DBPath string

	ObjectStoreEndpoint  string
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string
	ObjectStoreBucket    string
	ObjectStoreUseSSL    bool

	ListenAddr string

	// V1PAT is the personal access token backing the thin v1 wrapper
	// endpoints.
	V1PAT string
}

// FromEnv reads every setting from the process environment.
func FromEnv() *Config {
	return &Config{
		RelayKey:             os.Getenv("RELAY_SHARED_SECRET"),
		AppID:                envInt64("RELAY_APP_ID"),
		InstallationID:       envInt64("RELAY_INSTALLATION_ID"),
		PrivateKeyPEM:        os.Getenv("RELAY_APP_PRIVATE_KEY"),
		APIBaseURL:           os.Getenv("RELAY_FORGE_BASE_URL"),
		LabelRulesJSON:       os.Getenv("RELAY_LABEL_RULES"),
		DBPath:               envOr("RELAY_DB_PATH", "relay.db"),
		ObjectStoreEndpoint:  os.Getenv("RELAY_OBJECT_STORE_ENDPOINT"),
		ObjectStoreAccessKey: os.Getenv("RELAY_OBJECT_STORE_ACCESS_KEY"),
		ObjectStoreSecretKey: os.Getenv("RELAY_OBJECT_STORE_SECRET_KEY"),
		ObjectStoreBucket:    envOr("RELAY_OBJECT_STORE_BUCKET", "relay-evidence"),
		ObjectStoreUseSSL:    strings.EqualFold(os.Getenv("RELAY_OBJECT_STORE_SSL"), "true"),
		ListenAddr:           envOr("RELAY_LISTEN_ADDR", ":8080"),
		V1PAT:                os.Getenv("RELAY_V1_PAT"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string) int64 {
	v, _ := strconv.ParseInt(os.Getenv(key), 10, 64)
	return v
}

// IsValid checks that the configuration required for the service to run at
// all is present and well-formed. Unlike the label rules (see ParseLabelRules),
// these failures ARE startup-fatal.
func (c *Config) IsValid() error {
	if c.RelayKey == "" {
		return errors.New("RELAY_SHARED_SECRET is required")
	}
	if c.AppID == 0 {
		return errors.New("RELAY_APP_ID is required")
	}
	if c.InstallationID == 0 {
		return errors.New("RELAY_INSTALLATION_ID is required")
	}
	if c.PrivateKeyPEM == "" {
		return errors.New("RELAY_APP_PRIVATE_KEY is required")
	}
	if _, err := forge.ParsePrivateKey([]byte(c.PrivateKeyPEM)); err != nil {
		return errors.Wrap(err, "RELAY_APP_PRIVATE_KEY is not a valid PEM key")
	}
	return nil
}

// PrivateKey parses the configured PEM key. Called once at startup after
// IsValid has already confirmed it parses.
func (c *Config) PrivateKey() (*rsa.PrivateKey, error) {
	return forge.ParsePrivateKey([]byte(c.PrivateKeyPEM))
}

// ParseLabelRules parses the configured label-rules JSON blob. Invalid JSON
// degrades to an empty, no-op rule set rather than a fatal error; the
// returned bool reports whether parsing failed so the caller can log the
// degradation.
func (c *Config) ParseLabelRules() (labels.Rules, bool) {
	rules, err := labels.ParseRules([]byte(c.LabelRulesJSON))
	if err != nil {
		return labels.Rules{}, true
	}
	return rules, false
}
