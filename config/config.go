package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/modifier"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Round    RoundConfig    `yaml:"round"`
	Modifier ModifierConfig `yaml:"modifier"`
	Backoff  BackoffConfig  `yaml:"backoff"`
	Viewer   ViewerConfig   `yaml:"viewer"`
	Games    GamesConfig    `yaml:"games"`
	Store    StoreConfig    `yaml:"store"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Platform PlatformConfig `yaml:"platform"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// AllowedOrigins feeds the CORS middleware; empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type RoundConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	RevealSeconds   int    `yaml:"reveal_seconds"`
	TimeZoneOffset  int    `yaml:"tz_offset_hours"` // fixed offset, no DST
	TimeZoneName    string `yaml:"tz_name"`
	TickMillis      int    `yaml:"tick_ms"`
	MaxStake        int64  `yaml:"max_stake"` // per-wager total, in points
}

type ModifierConfig struct {
	Ceiling     float64         `yaml:"ceiling"`
	DefaultItem string          `yaml:"default_item"`
	Items       []modifier.Item `yaml:"items"`
}

type BackoffConfig struct {
	BaseSeconds int `yaml:"base_seconds"`
	MaxSeconds  int `yaml:"max_seconds"`
}

type ViewerConfig struct {
	PageSize    int `yaml:"page_size"`
	PollSeconds int `yaml:"poll_seconds"`
}

type GamesConfig struct {
	// Enabled lists game ids to serve; empty serves every built-in game.
	Enabled []string `yaml:"enabled"`
	// Payouts overrides fixed multipliers per game and key.
	Payouts map[string]map[string]float64 `yaml:"payouts"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"` // memory | sqlite | postgres
	DataDir     string `yaml:"data_dir"`
	SQLitePath  string `yaml:"sqlite_path"`
	DatabaseURL string `yaml:"database_url"`
}

type WalletConfig struct {
	OperatorEndpoint string  `yaml:"operator_endpoint"`
	OperatorSecret   string  `yaml:"operator_secret"`
	RequestsPerSec   float64 `yaml:"requests_per_second"`
	InitialBalance   int64   `yaml:"initial_balance"` // in-memory wallet only
}

type PlatformConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads .env files, then the YAML file at path (a missing file means
// defaults), then applies environment overrides.
func Load(path string) (*Config, error) {
	// rgs/.env, cwd .env, or project root .env/.env.local
	_ = godotenv.Load(".env")
	_ = godotenv.Load("rgs/.env")
	_ = godotenv.Load("../.env")
	_ = godotenv.Load("../.env.local")

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Prefer PORT (Render, Fly.io, Railway, etc.) then RGS_PORT
	if p := os.Getenv("PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			cfg.Server.Port = v
		}
	} else if p := os.Getenv("RGS_PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			cfg.Server.Port = v
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DatabaseURL = v
	}
	if v := os.Getenv("RGS_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("RGS_DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}
	if v := os.Getenv("OPERATOR_ENDPOINT"); v != "" {
		cfg.Wallet.OperatorEndpoint = v
	}
	if v := os.Getenv("OPERATOR_SECRET"); v != "" {
		cfg.Wallet.OperatorSecret = v
	}
	if v := os.Getenv("PLATFORM_URL"); v != "" {
		cfg.Platform.URL = v
	}
	if v := os.Getenv("PLATFORM_TOKEN"); v != "" {
		cfg.Platform.Token = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8081
	}
	if cfg.Round.IntervalSeconds <= 0 {
		cfg.Round.IntervalSeconds = 120
	}
	if cfg.Round.RevealSeconds <= 0 {
		cfg.Round.RevealSeconds = 9
	}
	if cfg.Round.TimeZoneName == "" {
		cfg.Round.TimeZoneName = "KST"
		if cfg.Round.TimeZoneOffset == 0 {
			cfg.Round.TimeZoneOffset = 9
		}
	}
	if cfg.Round.TickMillis <= 0 {
		cfg.Round.TickMillis = 1000
	}
	if cfg.Round.MaxStake <= 0 {
		cfg.Round.MaxStake = 1_000_000
	}
	if cfg.Modifier.Ceiling <= 0 {
		cfg.Modifier.Ceiling = 0.5
	}
	if cfg.Backoff.BaseSeconds <= 0 {
		cfg.Backoff.BaseSeconds = 10
	}
	if cfg.Backoff.MaxSeconds <= 0 {
		cfg.Backoff.MaxSeconds = 300
	}
	if cfg.Viewer.PageSize <= 0 {
		cfg.Viewer.PageSize = 50
	}
	if cfg.Viewer.PollSeconds <= 0 {
		cfg.Viewer.PollSeconds = 2
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
		if cfg.Store.DatabaseURL != "" {
			cfg.Store.Driver = "postgres"
		}
	}
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = "data"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = cfg.Store.DataDir + "/rounds.db"
	}
	if cfg.Wallet.RequestsPerSec <= 0 {
		cfg.Wallet.RequestsPerSec = 20
	}
	if cfg.Wallet.InitialBalance <= 0 {
		cfg.Wallet.InitialBalance = 10000
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return errors.New("store driver postgres needs DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Round.RevealSeconds >= c.Round.IntervalSeconds {
		return fmt.Errorf("reveal (%ds) must be shorter than the interval (%ds)", c.Round.RevealSeconds, c.Round.IntervalSeconds)
	}
	if (24*3600)%c.Round.IntervalSeconds != 0 {
		return fmt.Errorf("interval %ds does not divide a day", c.Round.IntervalSeconds)
	}
	return nil
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.Round.IntervalSeconds) * time.Second
}

func (c *Config) Reveal() time.Duration {
	return time.Duration(c.Round.RevealSeconds) * time.Second
}

func (c *Config) Location() *time.Location {
	return time.FixedZone(c.Round.TimeZoneName, c.Round.TimeZoneOffset*3600)
}

func (c *Config) Tick() time.Duration {
	return time.Duration(c.Round.TickMillis) * time.Millisecond
}

func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Backoff.BaseSeconds) * time.Second
}

func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Backoff.MaxSeconds) * time.Second
}

func (c *Config) ViewerPoll() time.Duration {
	return time.Duration(c.Viewer.PollSeconds) * time.Second
}

// Catalog builds the item table, falling back to the shipped one when none is configured.
func (c *Config) Catalog() (*modifier.Catalog, error) {
	if len(c.Modifier.Items) == 0 {
		return modifier.DefaultCatalog(), nil
	}
	def := c.Modifier.DefaultItem
	if def == "" {
		def = c.Modifier.Items[0].ID
	}
	return modifier.NewCatalog(def, c.Modifier.Items...)
}

// GameEnabled reports whether id is served.
func (c *Config) GameEnabled(id string) bool {
	if len(c.Games.Enabled) == 0 {
		return true
	}
	for _, g := range c.Games.Enabled {
		if g == id {
			return true
		}
	}
	return false
}
