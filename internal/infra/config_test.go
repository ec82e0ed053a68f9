package infra

import (
	"os"
	"path/filepath"
	"testing"

	"trailing_go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
storage:
  db_path: "records.db"
  snapshot_path: ":memory:"
`

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, domain.Account("engine"), cfg.Engine.CustodyAccount)
	assert.Equal(t, domain.Account("venue"), cfg.Paper.VenueAccount)
	assert.Equal(t, 1024, cfg.Engine.InboxSize)
	assert.Equal(t, uint64(1000), cfg.Engine.MaxSeqGap)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "logs", cfg.Logging.Dir)
	assert.Empty(t, cfg.Feed.WSURL)
}

func TestParseConfig_PaperMarkets(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalConfig + `
paper:
  markets:
    - currency0: "USDC"
      currency1: "WETH"
      fee: 3000
      tick_spacing: 60
      tick: -120
      price: "0.5"
  funding:
    - account: "alice"
      asset: "USDC"
      amount: "100000000000000000000"
`))
	require.NoError(t, err)

	require.Len(t, cfg.Paper.Markets, 1)
	m := cfg.Paper.Markets[0]
	assert.Equal(t, domain.Asset("USDC"), m.Currency0)
	assert.Equal(t, uint32(3000), m.Fee)
	assert.Equal(t, int32(60), m.TickSpacing)
	assert.Equal(t, int32(-120), m.Tick)
	assert.Equal(t, "0.5", m.Price.String())

	require.Len(t, cfg.Paper.Funding, 1)
	assert.Equal(t, "100000000000000000000", cfg.Paper.Funding[0].Amount.String())
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"missing db path", `storage: {snapshot_path: "s.db"}`, "storage.db_path"},
		{"bad ws url", minimalConfig + `feed: {ws_url: "http://x"}`, "feed.ws_url"},
		{"same accounts", minimalConfig + `
engine: {custody_account: "a"}
paper: {venue_account: "a"}`, "paper.venue_account"},
		{"unsorted market", minimalConfig + `
paper:
  markets:
    - {currency0: "WETH", currency1: "USDC", fee: 3000, tick_spacing: 60, price: "1"}`, "paper.markets[0]"},
		{"zero price", minimalConfig + `
paper:
  markets:
    - {currency0: "USDC", currency1: "WETH", fee: 3000, tick_spacing: 60, price: "0"}`, "paper.markets[0].price"},
		{"fractional funding", minimalConfig + `
paper:
  funding:
    - {account: "alice", asset: "USDC", amount: "1.5"}`, "paper.funding[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.Error(t, err)

			var ce *domain.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
			assert.False(t, domain.IsRetriable(err))
		})
	}
}

func TestParseConfig_EnvOverride(t *testing.T) {
	t.Setenv("TRAILING_FEED_URL", "wss://feed.example/ticks")
	t.Setenv("TRAILING_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("TRAILING_DB_PATH", "override.db")

	cfg, err := ParseConfig([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "wss://feed.example/ticks", cfg.Feed.WSURL)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
	assert.Equal(t, "override.db", cfg.Storage.DBPath)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "records.db", cfg.Storage.DBPath)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Shipped(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yaml")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Paper.Markets)
}

func TestNewLogger(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalConfig))
	require.NoError(t, err)
	cfg.Logging.Dir = t.TempDir()
	cfg.Logging.Level = "debug"

	logger := NewLogger(cfg)
	logger.Info("hello")

	_, err = os.Stat(filepath.Join(cfg.Logging.Dir, "app.log"))
	assert.NoError(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("debug").String())
	assert.Equal(t, "WARN", ParseLevel("WARN").String())
	assert.Equal(t, "ERROR", ParseLevel("error").String())
	assert.Equal(t, "INFO", ParseLevel("").String())
}
