package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("log_level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 90, cfg.Quota.DailyLimit)
	assert.Equal(t, "America/New_York", cfg.Quota.TimeZone)
	assert.Equal(t, 500*time.Millisecond, cfg.Sources.Forum.QueryDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.Sources.PaidSearch.StrategyDelay)
	assert.Equal(t, 15*time.Second, cfg.Search.AdapterTimeout)
	assert.Equal(t, 6*time.Hour, cfg.Batch.MinSearchInterval)
	assert.Equal(t, 30, cfg.Batch.RetentionDays)
	assert.NotEmpty(t, cfg.Sources.UserAgent)
	assert.False(t, cfg.Database.Enabled())
}

func TestParse_ExpandsSecretsFromEnv(t *testing.T) {
	t.Setenv("TEST_PAID_KEY", "key-123")
	t.Setenv("TEST_PAID_CX", "cx-456")

	data := `
sources:
  paid_search:
    enabled: true
    api_key: ${TEST_PAID_KEY}
    search_engine_id: ${TEST_PAID_CX}
quota:
  daily_limit: 50
`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, "key-123", cfg.Sources.PaidSearch.APIKey)
	assert.Equal(t, "cx-456", cfg.Sources.PaidSearch.SearchEngineID)
	assert.Equal(t, 50, cfg.Quota.DailyLimit)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "forum enabled without credentials",
			data:    "sources:\n  forum:\n    enabled: true\n",
			wantErr: "sources.forum",
		},
		{
			name:    "paid search enabled without credentials",
			data:    "sources:\n  paid_search:\n    enabled: true\n",
			wantErr: "sources.paid_search",
		},
		{
			name:    "bad time zone",
			data:    "quota:\n  time_zone: Mars/Olympus\n",
			wantErr: "quota.time_zone",
		},
		{
			name:    "relative base url",
			data:    "sources:\n  classifieds:\n    base_url: /search\n",
			wantErr: "sources.classifieds.base_url",
		},
		{
			name:    "negative cache size",
			data:    "search:\n  cache_size: -1\n",
			wantErr: "search.cache_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "books", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=books sslmode=disable", d.DSN())
	assert.True(t, d.Enabled())
}
