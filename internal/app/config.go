package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/retail-ledger/internal/domain/product"
	"github.com/xenking/retail-ledger/internal/domain/sale"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (LEDGER_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (LEDGER_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Storage     string `default:"postgres" usage:"Store of record: postgres or memory"`
	SeedFile    string `default:"" usage:"Seed JSON loaded into memory storage; empty loads the bundled demo data" flag:"seed-file"`
	Redis       RedisConfig
	Ledger      LedgerConfig
	Graceful    GracefulConfig
}

// RedisConfig controls the coupon read-through cache. An empty Addr
// disables it.
type RedisConfig struct {
	Addr     string        `default:"" usage:"Redis address for the coupon cache"`
	Password string        `default:"" usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database number"`
	TTL      time.Duration `default:"5m" usage:"Coupon cache entry lifetime"`
}

// LedgerConfig holds the sale recording policies.
type LedgerConfig struct {
	LinePolicy   string `default:"skip" usage:"Unknown sale lines: skip or strict" flag:"line-policy"`
	StockPolicy  string `default:"allow-negative" usage:"Stock below zero: allow-negative or reject" flag:"stock-policy"`
	RestoreStock bool   `default:"false" usage:"Give stock back when sale lines are replaced or a sale is deleted" flag:"restore-stock"`
}

// Policy parses the configured policies.
func (c LedgerConfig) Policy() (sale.Policy, error) {
	lines, err := sale.ParseLinePolicy(c.LinePolicy)
	if err != nil {
		return sale.Policy{}, err
	}
	stock, err := product.ParseStockPolicy(c.StockPolicy)
	if err != nil {
		return sale.Policy{}, err
	}
	return sale.Policy{Lines: lines, Stock: stock, RestoreStock: c.RestoreStock}, nil
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads a .env file if present, then configuration from
// environment variables and YAML config files, and applies
// platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "LEDGER",
		Files:     []string{"config.yaml", "/etc/ledger/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set LEDGER_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	if _, err := c.Ledger.Policy(); err != nil {
		return errors.Wrap(err, "ledger policy")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's LEDGER_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
