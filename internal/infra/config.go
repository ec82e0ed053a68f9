package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"trailing_go/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the application.
// After LoadConfig parses the file, environment variables override the
// deployment-specific fields.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Engine struct {
		CustodyAccount domain.Account `yaml:"custody_account"`
		InboxSize      int            `yaml:"inbox_size"`
		MaxSeqGap      uint64         `yaml:"max_seq_gap"`
		DumpPath       string         `yaml:"dump_path"`
	} `yaml:"engine"`

	Feed struct {
		WSURL   string            `yaml:"ws_url"` // empty disables the feed
		Source  string            `yaml:"source"`
		Markets []domain.MarketID `yaml:"markets"` // empty accepts every market
	} `yaml:"feed"`

	HTTP struct {
		Addr            string `yaml:"addr"`
		ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
		WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	} `yaml:"http"`

	Storage struct {
		DBPath       string `yaml:"db_path"`       // SQLite record journal
		SnapshotPath string `yaml:"snapshot_path"` // BuntDB state snapshots, ":memory:" allowed
	} `yaml:"storage"`

	Paper struct {
		VenueAccount domain.Account `yaml:"venue_account"`
		Markets      []PaperMarket  `yaml:"markets"`
		Funding      []Funding      `yaml:"funding"`
	} `yaml:"paper"`

	Logging struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// PaperMarket lists a market on the paper venue.
type PaperMarket struct {
	domain.Market `yaml:",inline"`
	Tick          int32           `yaml:"tick"`
	Price         decimal.Decimal `yaml:"price"` // currency1 per currency0
}

// Funding credits an account on the paper wallets at startup.
type Funding struct {
	Account domain.Account  `yaml:"account"`
	Asset   domain.Asset    `yaml:"asset"`
	Amount  decimal.Decimal `yaml:"amount"`
}

// LoadConfig reads and parses the config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML, applies defaults and env overrides, and validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.CustodyAccount == "" {
		c.Engine.CustodyAccount = "engine"
	}
	if c.Engine.InboxSize == 0 {
		c.Engine.InboxSize = 1024
	}
	if c.Engine.MaxSeqGap == 0 {
		c.Engine.MaxSeqGap = 1000
	}
	if c.Engine.DumpPath == "" {
		c.Engine.DumpPath = "panic_dump.json"
	}
	if c.Feed.Source == "" {
		c.Feed.Source = "venue"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeoutSec == 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec == 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.Paper.VenueAccount == "" {
		c.Paper.VenueAccount = "venue"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 28
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Engine.InboxSize < 0 {
		return fieldErr("engine.inbox_size", errors.New("must not be negative"))
	}
	if c.Engine.CustodyAccount == c.Paper.VenueAccount {
		return fieldErr("paper.venue_account", errors.New("must differ from engine.custody_account"))
	}

	if c.Feed.WSURL != "" && !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return fieldErr("feed.ws_url", fmt.Errorf("invalid websocket URL: %s", c.Feed.WSURL))
	}

	if c.Storage.DBPath == "" {
		return fieldErr("storage.db_path", errors.New("required"))
	}
	if c.Storage.SnapshotPath == "" {
		return fieldErr("storage.snapshot_path", errors.New("required"))
	}

	seen := make(map[domain.MarketID]bool)
	for i, m := range c.Paper.Markets {
		field := fmt.Sprintf("paper.markets[%d]", i)
		if err := m.Market.Validate(); err != nil {
			return fieldErr(field, err)
		}
		if !m.Price.IsPositive() {
			return fieldErr(field+".price", errors.New("must be positive"))
		}
		if m.Tick < domain.MinTick || m.Tick > domain.MaxTick {
			return fieldErr(field+".tick", fmt.Errorf("out of range: %d", m.Tick))
		}
		if seen[m.ID()] {
			return fieldErr(field, errors.New("duplicate market"))
		}
		seen[m.ID()] = true
	}

	for i, f := range c.Paper.Funding {
		if f.Account == "" || f.Asset == "" || !f.Amount.IsPositive() || !f.Amount.IsInteger() {
			return fieldErr(fmt.Sprintf("paper.funding[%d]", i), errors.New("account, asset and a positive whole amount are required"))
		}
	}

	return nil
}

func fieldErr(field string, err error) error {
	return &domain.ConfigError{Field: field, Err: err}
}

// overrideWithEnv overwrites settings with environment variables when set.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("TRAILING_FEED_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
	if addr := os.Getenv("TRAILING_HTTP_ADDR"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if path := os.Getenv("TRAILING_DB_PATH"); path != "" {
		cfg.Storage.DBPath = path
	}
	if level := os.Getenv("TRAILING_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
