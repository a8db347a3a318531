package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type API struct {
	Addr        string
	CORSOrigins []string
	// ChainID and SignatureMaxAge scope EIP-712 request signatures.
	// A signed request is accepted until its deadline, and only if the
	// deadline is at most SignatureMaxAge in the future.
	ChainID         int64
	SignatureMaxAge time.Duration
	DefaultDepth    int
}

type Storage struct {
	DataDir string // pebble directory; empty keeps state in memory only
	WALFile string // optional JSON-lines batch log
	NoSync  bool
}

type Engine struct {
	TradeHistoryLimit int
	ClosedOrderLimit  int
	CheckInvariants   bool
}

type Log struct {
	File  string
	Level string
}

type Config struct {
	API         API
	Storage     Storage
	Engine      Engine
	Log         Log
	MarketsFile string
}

func Default() Config {
	return Config{
		API: API{
			Addr:            ":8080",
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			ChainID:         1337,
			SignatureMaxAge: 5 * time.Minute,
			DefaultDepth:    20,
		},
		Storage: Storage{
			DataDir: "data/db",
		},
		Engine: Engine{
			TradeHistoryLimit: 1000,
			ClosedOrderLimit:  10000,
		},
		Log: Log{
			File:  "data/node.log",
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}
	cfg.API.ChainID = getEnvInt64("CHAIN_ID", cfg.API.ChainID)
	if sec := getEnvInt64("SIGNATURE_MAX_AGE_SEC", -1); sec > 0 {
		cfg.API.SignatureMaxAge = time.Duration(sec) * time.Second
	}
	cfg.API.DefaultDepth = int(getEnvInt64("BOOK_DEFAULT_DEPTH", int64(cfg.API.DefaultDepth)))

	// DATA_DIR may be set to empty on purpose to disable pebble
	if dir, ok := os.LookupEnv("DATA_DIR"); ok {
		cfg.Storage.DataDir = dir
	}
	cfg.Storage.WALFile = getEnv("WAL_FILE", cfg.Storage.WALFile)
	cfg.Storage.NoSync = getEnvBool("STORAGE_NO_SYNC", cfg.Storage.NoSync)

	if limit := getEnvInt64("TRADE_HISTORY_LIMIT", -1); limit > 0 {
		cfg.Engine.TradeHistoryLimit = int(limit)
	}
	cfg.Engine.ClosedOrderLimit = int(getEnvInt64("CLOSED_ORDER_LIMIT", int64(cfg.Engine.ClosedOrderLimit)))
	cfg.Engine.CheckInvariants = getEnvBool("CHECK_INVARIANTS", cfg.Engine.CheckInvariants)

	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	cfg.MarketsFile = getEnv("MARKETS_FILE", cfg.MarketsFile)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
