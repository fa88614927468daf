package params

import (
	"math/big"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Fixed-point engine constants. These are part of the engine's public
// contract and are intentionally not tunable at runtime: off-chain tooling
// and liquidation bots rely on them being stable.
//
// All USD values, debt amounts, and health factors are 1e18 fixed point.
// Price feeds report 8-decimal prices, normalized with FeedPrecisionGap.
var (
	// Precision is the base fixed-point scale (18 decimals).
	Precision = big.NewInt(1e18)

	// FeedPrecisionGap lifts an 8-decimal feed price to 18 decimals.
	FeedPrecisionGap = big.NewInt(1e10)

	// LiquidationThreshold / LiquidationPrecision: only 50% of collateral
	// value counts toward debt capacity (200% overcollateralization).
	LiquidationThreshold = big.NewInt(50)
	LiquidationPrecision = big.NewInt(100)

	// LiquidationBonus / LiquidationPrecision: liquidators receive an extra
	// 10% of the seized collateral quantity.
	LiquidationBonus = big.NewInt(10)

	// MinHealthFactor marks the liquidation boundary (1.0 in 1e18 scale).
	MinHealthFactor = new(big.Int).Set(Precision)
)

// StalenessTimeout is the maximum accepted price-feed age. Older data
// freezes every valuation touching that feed rather than mispricing.
const StalenessTimeout = 3 * time.Hour

type Node struct {
	// ListenAddr is the REST/WS API bind address.
	ListenAddr string
	// DBPath is the pebble ledger directory.
	DBPath string
	// LogFile, when set, tees structured logs to a file.
	LogFile string
}

type Config struct {
	Node Node
}

func Default() Config {
	return Config{
		Node: Node{
			ListenAddr: ":8080",
			DBPath:     "data/ledger",
			LogFile:    "",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("ENGINE_LISTEN_ADDR"); addr != "" {
		cfg.Node.ListenAddr = addr
	}
	if db := os.Getenv("ENGINE_DB_PATH"); db != "" {
		cfg.Node.DBPath = db
	}
	if lf := os.Getenv("LOG_FILE"); lf != "" {
		cfg.Node.LogFile = lf
	}

	return cfg
}
