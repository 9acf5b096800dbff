package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"collateral-watch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig          `mapstructure:"app"`
	Logging    logging.Config     `mapstructure:"logging"`
	Database   DatabaseConfig     `mapstructure:"database"`
	Scheduler  SchedulerConfig    `mapstructure:"scheduler"`
	Ethereum   EthereumConfig     `mapstructure:"ethereum"`
	Defaults   DefaultsConfig     `mapstructure:"defaults"`
	Assets     []AssetConfig      `mapstructure:"assets"`
	Collateral []CollateralConfig `mapstructure:"collateral"`
	Alerting   AlertingConfig     `mapstructure:"alerting"`
	Metrics    MetricsConfig      `mapstructure:"metrics"`
	Export     ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// HolderAccount is the reserve account whose balances and reward
	// accrual this instance watches.
	HolderAccount string `mapstructure:"holder_account"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the refresh cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// EthereumConfig covers on-chain data access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DefaultsConfig holds default-detection policy applied to collateral that
// does not override it. These are policy parameters, never constants.
type DefaultsConfig struct {
	PegTolerancePct float64       `mapstructure:"peg_tolerance_pct"`
	GraceWindow     time.Duration `mapstructure:"grace_window"`
	FeedMaxAge      time.Duration `mapstructure:"feed_max_age"`
}

// RewardConfig describes how to claim a token's accrued rewards.
type RewardConfig struct {
	Token string `mapstructure:"token"`
	// Target is the contract the claim call is made against.
	Target string `mapstructure:"target"`
	// Method is the claim method signature, e.g. "claimComp(address)".
	Method string `mapstructure:"method"`
	// WithHolder packs the holder account as the single address argument.
	WithHolder bool `mapstructure:"with_holder"`
}

// AssetConfig admits a plain (non-collateral) token.
type AssetConfig struct {
	Symbol         string        `mapstructure:"symbol"`
	ERC20          string        `mapstructure:"erc20"`
	Decimals       uint8         `mapstructure:"decimals"`
	MaxTradeVolume float64       `mapstructure:"max_trade_volume"`
	PriceFeed      string        `mapstructure:"price_feed"`
	PegFallback    float64       `mapstructure:"peg_fallback"`
	FeedMaxAge     time.Duration `mapstructure:"feed_max_age"`
	Reward         *RewardConfig `mapstructure:"reward"`
}

// CollateralConfig admits a collateral token with its ratio chain.
type CollateralConfig struct {
	AssetConfig `mapstructure:",squash"`
	TargetName  string `mapstructure:"target_name"`
	// RefPerTokSource is "erc4626" or "constant".
	RefPerTokSource string `mapstructure:"ref_per_tok_source"`
	// Vault is the ERC-4626 vault address; defaults to the erc20 address.
	Vault string `mapstructure:"vault"`
	// TargetPerRefFeed prices the reference unit in target units; empty
	// assumes an exact peg of 1.
	TargetPerRefFeed string `mapstructure:"target_per_ref_feed"`
	// PricePerTargetFeed prices the target unit in UoA; empty assumes the
	// target is the UoA itself.
	PricePerTargetFeed string        `mapstructure:"price_per_target_feed"`
	PegTolerancePct    float64       `mapstructure:"peg_tolerance_pct"`
	GraceWindow        time.Duration `mapstructure:"grace_window"`
}

// AlertingConfig defines alert routing for status transitions.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram alert channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig sets the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLATERALWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "collateralwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x636f6c77))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("defaults.peg_tolerance_pct", 5.0)
	v.SetDefault("defaults.grace_window", "24h")
	v.SetDefault("defaults.feed_max_age", "1h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9464")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Defaults.PegTolerancePct < 0 {
		return fmt.Errorf("defaults.peg_tolerance_pct cannot be negative")
	}
	if c.Defaults.GraceWindow <= 0 {
		return fmt.Errorf("defaults.grace_window must be greater than zero")
	}

	seen := make(map[string]struct{}, len(c.Assets)+len(c.Collateral))
	for _, a := range c.Assets {
		if err := a.validate(); err != nil {
			return err
		}
		if _, dup := seen[a.Symbol]; dup {
			return fmt.Errorf("asset symbol %q configured twice", a.Symbol)
		}
		seen[a.Symbol] = struct{}{}
	}
	for _, col := range c.Collateral {
		if err := col.validate(); err != nil {
			return err
		}
		if _, dup := seen[col.Symbol]; dup {
			return fmt.Errorf("asset symbol %q configured twice", col.Symbol)
		}
		seen[col.Symbol] = struct{}{}
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

func (a AssetConfig) validate() error {
	if a.Symbol == "" {
		return fmt.Errorf("asset entry missing symbol")
	}
	if a.ERC20 == "" {
		return fmt.Errorf("asset %s: erc20 address required", a.Symbol)
	}
	if a.MaxTradeVolume < 0 {
		return fmt.Errorf("asset %s: max_trade_volume cannot be negative", a.Symbol)
	}
	if a.Reward != nil {
		if a.Reward.Token == "" || a.Reward.Target == "" || a.Reward.Method == "" {
			return fmt.Errorf("asset %s: reward requires token, target, and method", a.Symbol)
		}
	}
	return nil
}

func (c CollateralConfig) validate() error {
	if err := c.AssetConfig.validate(); err != nil {
		return err
	}
	if c.TargetName == "" {
		return fmt.Errorf("collateral %s: target_name required", c.Symbol)
	}
	switch c.RefPerTokSource {
	case "", "constant", "erc4626":
	default:
		return fmt.Errorf("collateral %s: unknown ref_per_tok_source %q", c.Symbol, c.RefPerTokSource)
	}
	if c.PegTolerancePct < 0 {
		return fmt.Errorf("collateral %s: peg_tolerance_pct cannot be negative", c.Symbol)
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// PegTolerance resolves the per-collateral tolerance against the defaults.
func (c *Config) PegTolerance(col CollateralConfig) float64 {
	if col.PegTolerancePct > 0 {
		return col.PegTolerancePct
	}
	return c.Defaults.PegTolerancePct
}

// GraceWindow resolves the per-collateral grace window against the defaults.
func (c *Config) GraceWindow(col CollateralConfig) time.Duration {
	if col.GraceWindow > 0 {
		return col.GraceWindow
	}
	return c.Defaults.GraceWindow
}

// FeedMaxAge resolves the per-asset feed staleness limit against the defaults.
func (c *Config) FeedMaxAge(a AssetConfig) time.Duration {
	if a.FeedMaxAge > 0 {
		return a.FeedMaxAge
	}
	return c.Defaults.FeedMaxAge
}
