package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
}

func validConfig(t *testing.T) *Config {
	return &Config{
		RelayKey:       "secret",
		AppID:          12345,
		InstallationID: 67890,
		PrivateKeyPEM:  testPEM(t),
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("RELAY_SHARED_SECRET", "s3cret")
	t.Setenv("RELAY_APP_ID", "12345")
	t.Setenv("RELAY_INSTALLATION_ID", "67890")
	t.Setenv("RELAY_FORGE_BASE_URL", "https://forge.example/api/v3")
	t.Setenv("RELAY_OBJECT_STORE_SSL", "TRUE")

	cfg := FromEnv()
	assert.Equal(t, "s3cret", cfg.RelayKey)
	assert.Equal(t, int64(12345), cfg.AppID)
	assert.Equal(t, int64(67890), cfg.InstallationID)
	assert.Equal(t, "https://forge.example/api/v3", cfg.APIBaseURL)
	assert.True(t, cfg.ObjectStoreUseSSL)
	assert.Equal(t, "relay.db", cfg.DBPath, "default db path")
	assert.Equal(t, ":8080", cfg.ListenAddr, "default listen addr")
}

func TestIsValid(t *testing.T) {
	require.NoError(t, validConfig(t).IsValid())
}

func TestIsValid_MissingRequired(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"secret", func(c *Config) { c.RelayKey = "" }, "RELAY_SHARED_SECRET"},
		{"app id", func(c *Config) { c.AppID = 0 }, "RELAY_APP_ID"},
		{"installation id", func(c *Config) { c.InstallationID = 0 }, "RELAY_INSTALLATION_ID"},
		{"key", func(c *Config) { c.PrivateKeyPEM = "" }, "RELAY_APP_PRIVATE_KEY"},
		{"bad key", func(c *Config) { c.PrivateKeyPEM = "not a pem" }, "not a valid PEM key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(cfg)
			err := cfg.IsValid()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseLabelRules_InvalidDegradesNeverFails(t *testing.T) {
	cfg := validConfig(t)
	cfg.LabelRulesJSON = `{"broken":`

	rules, degraded := cfg.ParseLabelRules()
	assert.True(t, degraded)
	assert.Empty(t, rules)
}

func TestParseLabelRules_Valid(t *testing.T) {
	cfg := validConfig(t)
	cfg.LabelRulesJSON = `{"qa.result_submitted":{"PASS":{"add":["status:verified"]}}}`

	rules, degraded := cfg.ParseLabelRules()
	assert.False(t, degraded)
	assert.Equal(t, []string{"status:verified"}, rules["qa.result_submitted"]["PASS"].Add)
}
