package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"WAHOO_CLIENT_ID",
		"WAHOO_CLIENT_SECRET",
		"WAHOO_REDIRECT_URL",
		"WAHOO_SCOPES",
		"WAHOO_ACCOUNT_ID",
		"STATE_DB",
		"WAHOO_RATE_LIMIT_RPS",
		"WAHOO_RATE_LIMIT_BURST",
		"SILENCE_CREDENTIAL_WARNINGS",
		"ENVIRONMENT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	// Keep the missing-credential warning out of test output.
	t.Setenv("SILENCE_CREDENTIAL_WARNINGS", "true")
}

// setRegisteredApp sets the env vars of a registered OAuth application.
func setRegisteredApp(t *testing.T) {
	t.Helper()
	t.Setenv("WAHOO_CLIENT_ID", "cid")
	t.Setenv("WAHOO_CLIENT_SECRET", "csecret")
	t.Setenv("WAHOO_REDIRECT_URL", "https://gravly.example/wahoo/callback")
}

// --- Load: defaults ---

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	setRegisteredApp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.AccountID)
	assert.Equal(t, "", cfg.StateDB)
	assert.Equal(t, 0.5, cfg.RateLimitPerSecond)
	assert.Equal(t, 10, cfg.RateLimitBurst)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, []string{"user_read", "routes_read", "routes_write"}, cfg.WahooScopes)
}

func TestLoad_CredentialsOptional(t *testing.T) {
	clearConfigEnv(t)
	// No client id or secret set; load still succeeds so that stored
	// tokens can be read without an app registration.
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "", cfg.WahooClientID)
}

// --- Load: overrides ---

func TestLoad_ScopeParsing(t *testing.T) {
	clearConfigEnv(t)
	setRegisteredApp(t)
	t.Setenv("WAHOO_SCOPES", "user_read,workouts_read")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"user_read", "workouts_read"}, cfg.WahooScopes)
}

func TestLoad_CustomAccountAndStateDB(t *testing.T) {
	clearConfigEnv(t)
	setRegisteredApp(t)
	t.Setenv("WAHOO_ACCOUNT_ID", "rider-42")
	t.Setenv("STATE_DB", "/var/lib/gravly/state.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "rider-42", cfg.AccountID)
	assert.Equal(t, "/var/lib/gravly/state.db", cfg.StateDB)
}

func TestLoad_CustomRateLimits(t *testing.T) {
	clearConfigEnv(t)
	setRegisteredApp(t)
	t.Setenv("WAHOO_RATE_LIMIT_RPS", "2.5")
	t.Setenv("WAHOO_RATE_LIMIT_BURST", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.RateLimitPerSecond)
	assert.Equal(t, 3, cfg.RateLimitBurst)
}

func TestLoad_CustomEnvironment(t *testing.T) {
	clearConfigEnv(t)
	setRegisteredApp(t)
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
}

// --- validate ---

func TestLoad_RejectsZeroRate(t *testing.T) {
	clearConfigEnv(t)
	setRegisteredApp(t)
	t.Setenv("WAHOO_RATE_LIMIT_RPS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WAHOO_RATE_LIMIT_RPS")
}

func TestLoad_RejectsNegativeRate(t *testing.T) {
	clearConfigEnv(t)
	setRegisteredApp(t)
	t.Setenv("WAHOO_RATE_LIMIT_RPS", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WAHOO_RATE_LIMIT_RPS")
}

func TestLoad_RejectsZeroBurst(t *testing.T) {
	clearConfigEnv(t)
	setRegisteredApp(t)
	t.Setenv("WAHOO_RATE_LIMIT_BURST", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WAHOO_RATE_LIMIT_BURST")
}

func TestValidate_RejectsEmptyAccountID(t *testing.T) {
	cfg := &Config{RateLimitPerSecond: 1, RateLimitBurst: 1, SilenceCredentialWarnings: true}
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WAHOO_ACCOUNT_ID")
}

// --- Credentials ---

func TestCredentials_Mapping(t *testing.T) {
	cfg := &Config{
		WahooClientID:     "cid",
		WahooClientSecret: "csecret",
		WahooRedirectURL:  "https://gravly.example/wahoo/callback",
		WahooScopes:       []string{"user_read", "routes_write"},
	}

	creds := cfg.Credentials()
	assert.Equal(t, "cid", creds.ClientID)
	assert.Equal(t, "csecret", creds.ClientSecret)
	assert.Equal(t, "https://gravly.example/wahoo/callback", creds.RedirectURL)
	assert.Equal(t, []string{"user_read", "routes_write"}, creds.Scopes)
}

// --- IsProduction ---

func TestIsProduction_True(t *testing.T) {
	cfg := &Config{Environment: "production"}
	assert.True(t, cfg.IsProduction())
}

func TestIsProduction_False(t *testing.T) {
	cfg := &Config{Environment: "development"}
	assert.False(t, cfg.IsProduction())
}
