package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const singerConfig = `{
  "domain": "example.auth0.com",
  "non_interactive_client_id": "client",
  "non_interactive_client_secret": "secret",
  "start_date": "2020-01-01T00:00:00Z"
}`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(singerConfig))
	require.NoError(t, err)

	assert.Equal(t, "example.auth0.com", cfg.Domain)
	assert.Equal(t, DefaultPerPage, cfg.PerPage)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeoutSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.State.Backend)
}

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(`
domain: example.auth0.com
non_interactive_client_id: client
non_interactive_client_secret: secret
per_page: 25
state:
  path: /tmp/tap-auth0/state.db
  backend: sqlite
logging:
  level: debug
  format: console
`))
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.PerPage)
	assert.Equal(t, StateBackendSQLite, cfg.State.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestParseStatePathDefaultsToFileBackend(t *testing.T) {
	cfg, err := Parse([]byte(singerConfig[:len(singerConfig)-1] + `, "state": {"path": "/tmp/state.json"}}`))
	require.NoError(t, err)
	assert.Equal(t, StateBackendFile, cfg.State.Backend)
}

func TestParseMissingRequired(t *testing.T) {
	_, err := Parse([]byte(`{"domain": "example.auth0.com"}`))
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "non_interactive_client_id")
	assert.Contains(t, err.Error(), "non_interactive_client_secret")
}

func TestValidate(t *testing.T) {
	base := Config{
		Domain:                "example.auth0.com",
		ClientID:              "client",
		ClientSecret:          "secret",
		PerPage:               DefaultPerPage,
		RequestTimeoutSeconds: DefaultRequestTimeout,
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "per_page too large", mutate: func(c *Config) { c.PerPage = 101 }, wantErr: true},
		{name: "per_page zero", mutate: func(c *Config) { c.PerPage = 0 }, wantErr: true},
		{name: "bad start_date", mutate: func(c *Config) { c.StartDate = "yesterday" }, wantErr: true},
		{name: "fractional start_date", mutate: func(c *Config) { c.StartDate = "2021-03-04T05:06:07.123Z" }},
		{name: "unknown backend", mutate: func(c *Config) { c.State.Backend = "redis" }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.RequestTimeoutSeconds = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("TAP_AUTH0_CLIENT_SECRET", "from-env")
	t.Setenv("TAP_AUTH0_PER_PAGE", "50")
	t.Setenv("TAP_AUTH0_LOG_LEVEL", "warn")

	cfg, err := Parse([]byte(singerConfig))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.ClientSecret)
	assert.Equal(t, 50, cfg.PerPage)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "client", cfg.ClientID)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(singerConfig), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "2020-01-01T00:00:00Z", cfg.StartDate)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestParseTabIndentedJSON(t *testing.T) {
	cfg, err := Parse([]byte("{\n\t\"domain\": \"example.auth0.com\",\n\t\"non_interactive_client_id\": \"client\",\n\t\"non_interactive_client_secret\": \"secret\",\n\t\"per_page\": 10\n}"))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.PerPage)
}
