package config

import (
	"testing"
	"time"

	"lv-tradecore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func required() map[string]string {
	return map[string]string{
		"JWT_ISSUER":          "tradecore",
		"JWT_SECRET":          "secret",
		"INTERNAL_TOKEN_HASH": "$2a$10$abcdefghijklmnopqrstuv",
		"WS_ORIGIN":           "https://app.example.com",
	}
}

func TestFromEnvDefaults(t *testing.T) {
	c, err := FromEnv(env(required()))
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Empty(t, c.DBDSN)
	assert.Equal(t, types.FeeModelEntry, c.FeeModel)
	assert.Equal(t, 24*time.Hour, c.JWTTTL)
	assert.Equal(t, 10*time.Second, c.QuoteMaxAge)
	assert.True(t, c.RunMigrations)
	assert.Equal(t, 8, c.DispatchWorkers)
	assert.Equal(t, 1024, c.DispatchQueue)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "console", c.Log.Format)
}

func TestFromEnvOverrides(t *testing.T) {
	kv := required()
	kv["HTTP_ADDR"] = ":9000"
	kv["DB_DSN"] = "postgres://u:p@localhost/db"
	kv["FEE_MODEL"] = "EXIT"
	kv["PRICE_FEED_SYMBOLS"] = "eurusd, xauusd,,"
	kv["REDIS_ADDR"] = "localhost:6379"
	kv["REDIS_DB"] = "2"
	kv["RUN_MIGRATIONS"] = "false"
	kv["LOG_FORMAT"] = "JSON"
	kv["DISPATCH_WORKERS"] = "16"

	c, err := FromEnv(env(kv))
	require.NoError(t, err)
	assert.Equal(t, ":9000", c.HTTPAddr)
	assert.Equal(t, types.FeeModelExit, c.FeeModel)
	assert.Equal(t, []string{"EURUSD", "XAUUSD"}, c.PriceFeedSymbols)
	assert.Equal(t, 2, c.RedisDB)
	assert.False(t, c.RunMigrations)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, 16, c.DispatchWorkers)
}

func TestFromEnvReportsAllMissing(t *testing.T) {
	_, err := FromEnv(env(map[string]string{"JWT_SECRET": "x"}))
	require.Error(t, err)
	assert.Equal(t, "missing required env: JWT_ISSUER,INTERNAL_TOKEN_HASH,WS_ORIGIN", err.Error())
}

func TestFromEnvRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"FEE_MODEL":        "midway",
		"JWT_TTL":          "forever",
		"QUOTE_MAX_AGE":    "10",
		"DISPATCH_WORKERS": "0",
		"LOG_FORMAT":       "xml",
		"RUN_MIGRATIONS":   "maybe",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			kv := required()
			kv[key] = val
			_, err := FromEnv(env(kv))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}
