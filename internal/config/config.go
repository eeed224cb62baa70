package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"lv-tradecore/internal/logging"
	"lv-tradecore/internal/types"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr          string
	DBDSN             string
	DBMaxConns        int32
	RunMigrations     bool
	JWTIssuer         string
	JWTSecret         string
	JWTTTL            time.Duration
	InternalTokenHash string
	WebSocketOrigin   string
	FeeModel          types.FeeModel
	FeeCacheTTL       time.Duration
	PriceFeedURL      string
	PriceFeedSymbols  []string
	QuoteMaxAge       time.Duration
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	DispatchWorkers   int
	DispatchQueue     int
	Log               logging.LogConfig
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over .env.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the config from getenv and reports every missing required
// key in one error.
func FromEnv(getenv func(string) string) (Config, error) {
	var c Config
	var missing []string
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	c.HTTPAddr = get("HTTP_ADDR")
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	c.DBDSN = get("DB_DSN")
	c.JWTIssuer = get("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = get("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	c.InternalTokenHash = get("INTERNAL_TOKEN_HASH")
	if c.InternalTokenHash == "" {
		missing = append(missing, "INTERNAL_TOKEN_HASH")
	}
	c.WebSocketOrigin = get("WS_ORIGIN")
	if c.WebSocketOrigin == "" {
		missing = append(missing, "WS_ORIGIN")
	}

	var err error
	if c.JWTTTL, err = duration(get("JWT_TTL"), 24*time.Hour); err != nil {
		return c, fmt.Errorf("invalid JWT_TTL: %w", err)
	}
	feeModel, ok := types.ParseFeeModel(get("FEE_MODEL"))
	if !ok {
		return c, errors.New("invalid FEE_MODEL: use entry or exit")
	}
	c.FeeModel = feeModel
	if c.FeeCacheTTL, err = duration(get("FEE_CACHE_TTL"), 30*time.Second); err != nil {
		return c, fmt.Errorf("invalid FEE_CACHE_TTL: %w", err)
	}
	if c.RunMigrations, err = boolean(get("RUN_MIGRATIONS"), true); err != nil {
		return c, fmt.Errorf("invalid RUN_MIGRATIONS: %w", err)
	}
	maxConns, err := integer(get("DB_MAX_CONNS"), 0)
	if err != nil {
		return c, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}
	c.DBMaxConns = int32(maxConns)

	c.PriceFeedURL = get("PRICE_FEED_URL")
	c.PriceFeedSymbols = list(get("PRICE_FEED_SYMBOLS"))
	if c.QuoteMaxAge, err = duration(get("QUOTE_MAX_AGE"), 10*time.Second); err != nil {
		return c, fmt.Errorf("invalid QUOTE_MAX_AGE: %w", err)
	}

	c.RedisAddr = get("REDIS_ADDR")
	c.RedisPassword = getenv("REDIS_PASSWORD")
	if c.RedisDB, err = integer(get("REDIS_DB"), 0); err != nil {
		return c, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	if c.DispatchWorkers, err = integer(get("DISPATCH_WORKERS"), 8); err != nil || c.DispatchWorkers < 1 {
		return c, errors.New("invalid DISPATCH_WORKERS: must be a positive integer")
	}
	if c.DispatchQueue, err = integer(get("DISPATCH_QUEUE"), 1024); err != nil || c.DispatchQueue < 1 {
		return c, errors.New("invalid DISPATCH_QUEUE: must be a positive integer")
	}

	c.Log = logging.DefaultLogConfig()
	if v := get("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := get("LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return c, errors.New("invalid LOG_FORMAT: use console or json")
	}
	c.Log.FilePath = get("LOG_FILE")

	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func duration(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	return time.ParseDuration(raw)
}

func boolean(raw string, def bool) (bool, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseBool(raw)
}

func integer(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func list(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.ToUpper(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}
