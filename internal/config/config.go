package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log        LoggingConfig    `yaml:"log"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	Prices     PricesConfig     `yaml:"prices"`
	Yields     YieldsConfig     `yaml:"yields"`
	Swap       SwapConfig       `yaml:"swap"`
	CrossChain CrossChainConfig `yaml:"cross_chain"`
	Reasoning  ReasoningConfig  `yaml:"reasoning"`
	Strategy   StrategyConfig   `yaml:"strategy"`
	Executor   ExecutorConfig   `yaml:"executor"`
	State      StateConfig      `yaml:"state"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Timescale  TimescaleConfig  `yaml:"timescale"`
	Redis      RedisConfig      `yaml:"redis"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MonitorConfig struct {
	PollInterval         time.Duration `yaml:"poll_interval"`
	CycleTimeout         time.Duration `yaml:"cycle_timeout"`
	RefreshThreshold     float64       `yaml:"refresh_threshold"`
	RefreshLimit         int           `yaml:"refresh_limit"`
	AlertHealthFactor    float64       `yaml:"alert_health_factor"`
	AlertCooldown        time.Duration `yaml:"alert_cooldown"`
	LiquidationThreshold float64       `yaml:"liquidation_threshold"`
	DefaultVolatility    float64       `yaml:"default_volatility"`
	MailboxSize          int           `yaml:"mailbox_size"`
}

type IndexerConfig struct {
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	Protocol string        `yaml:"protocol"`
	Chain    string        `yaml:"chain"`
}

type PricesConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	HistoryWindow int           `yaml:"history_window"`
	StreamURL     string        `yaml:"stream_url"`
	StreamPing    time.Duration `yaml:"stream_ping"`
	StreamBackoff time.Duration `yaml:"stream_backoff"`
}

type YieldsConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	TopLimit          int           `yaml:"top_limit"`
	MaxPerProtocol    int           `yaml:"max_per_protocol"`
	MinTVLUSD         float64       `yaml:"min_tvl_usd"`
	DefaultCurrentAPY float64       `yaml:"default_current_apy"`
}

type SwapConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	GasPriceGwei float64       `yaml:"gas_price_gwei"`
}

type CrossChainConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	Wallet  string        `yaml:"wallet"`
}

type ReasoningConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type StrategyConfig struct {
	MinAPYImprovement  float64 `yaml:"min_apy_improvement"`
	MaxBreakEvenMonths float64 `yaml:"max_break_even_months"`
	DefaultPositionUSD float64 `yaml:"default_position_usd"`
	DefaultGasUSD      float64 `yaml:"default_gas_usd"`
}

type ExecutorConfig struct {
	TimeUnit time.Duration `yaml:"time_unit"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type ScheduleConfig struct {
	Digest string `yaml:"digest"`
	Prune  string `yaml:"prune"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

// Default returns a config with every default applied, for tools that run without a file.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Monitor.PollInterval == 0 {
		cfg.Monitor.PollInterval = 30 * time.Second
	}
	if cfg.Monitor.CycleTimeout == 0 {
		cfg.Monitor.CycleTimeout = cfg.Monitor.PollInterval
	}
	if cfg.Monitor.RefreshThreshold == 0 {
		cfg.Monitor.RefreshThreshold = 2.0
	}
	if cfg.Monitor.RefreshLimit == 0 {
		cfg.Monitor.RefreshLimit = 20
	}
	if cfg.Monitor.AlertHealthFactor == 0 {
		cfg.Monitor.AlertHealthFactor = 1.5
	}
	if cfg.Monitor.AlertCooldown == 0 {
		cfg.Monitor.AlertCooldown = 5 * time.Minute
	}
	if cfg.Monitor.LiquidationThreshold == 0 {
		cfg.Monitor.LiquidationThreshold = 0.85
	}
	if cfg.Monitor.DefaultVolatility == 0 {
		cfg.Monitor.DefaultVolatility = 5.0
	}
	if cfg.Monitor.MailboxSize == 0 {
		cfg.Monitor.MailboxSize = 64
	}
	if cfg.Indexer.Timeout == 0 {
		cfg.Indexer.Timeout = 30 * time.Second
	}
	if cfg.Indexer.Protocol == "" {
		cfg.Indexer.Protocol = "aave-v3"
	}
	if cfg.Indexer.Chain == "" {
		cfg.Indexer.Chain = "ethereum"
	}
	if cfg.Prices.BaseURL == "" {
		cfg.Prices.BaseURL = "https://api.coingecko.com"
	}
	if cfg.Prices.Timeout == 0 {
		cfg.Prices.Timeout = 10 * time.Second
	}
	if cfg.Prices.CacheTTL == 0 {
		cfg.Prices.CacheTTL = 60 * time.Second
	}
	if cfg.Prices.HistoryWindow == 0 {
		cfg.Prices.HistoryWindow = 24
	}
	if cfg.Prices.StreamBackoff == 0 {
		cfg.Prices.StreamBackoff = 3 * time.Second
	}
	if cfg.Yields.BaseURL == "" {
		cfg.Yields.BaseURL = "https://yields.llama.fi"
	}
	if cfg.Yields.Timeout == 0 {
		cfg.Yields.Timeout = 30 * time.Second
	}
	if cfg.Yields.CacheTTL == 0 {
		cfg.Yields.CacheTTL = 10 * time.Minute
	}
	if cfg.Yields.TopLimit == 0 {
		cfg.Yields.TopLimit = 15
	}
	if cfg.Yields.MaxPerProtocol == 0 {
		cfg.Yields.MaxPerProtocol = 3
	}
	if cfg.Yields.MinTVLUSD == 0 {
		cfg.Yields.MinTVLUSD = 1_000_000
	}
	if cfg.Yields.DefaultCurrentAPY == 0 {
		cfg.Yields.DefaultCurrentAPY = 5.0
	}
	if cfg.Swap.BaseURL == "" {
		cfg.Swap.BaseURL = "https://api.1inch.dev"
	}
	if cfg.Swap.Timeout == 0 {
		cfg.Swap.Timeout = 10 * time.Second
	}
	if cfg.Swap.GasPriceGwei == 0 {
		cfg.Swap.GasPriceGwei = 50
	}
	if cfg.CrossChain.BaseURL == "" {
		cfg.CrossChain.BaseURL = "https://api.1inch.dev"
	}
	if cfg.CrossChain.Timeout == 0 {
		cfg.CrossChain.Timeout = 15 * time.Second
	}
	if cfg.CrossChain.Wallet == "" {
		cfg.CrossChain.Wallet = "0x0000000000000000000000000000000000000001"
	}
	if cfg.Reasoning.Timeout == 0 {
		cfg.Reasoning.Timeout = 10 * time.Second
	}
	if cfg.Strategy.MinAPYImprovement == 0 {
		cfg.Strategy.MinAPYImprovement = 0.5
	}
	if cfg.Strategy.MaxBreakEvenMonths == 0 {
		cfg.Strategy.MaxBreakEvenMonths = 6
	}
	if cfg.Strategy.DefaultPositionUSD == 0 {
		cfg.Strategy.DefaultPositionUSD = 10_000
	}
	if cfg.Strategy.DefaultGasUSD == 0 {
		cfg.Strategy.DefaultGasUSD = 50
	}
	if cfg.Executor.TimeUnit == 0 {
		cfg.Executor.TimeUnit = time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/liqx-bot.db"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "liqx:events"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9102"
	}
	if cfg.Schedule.Prune == "" {
		cfg.Schedule.Prune = "@every 10m"
	}
}

// applyEnvOverrides lets secrets and endpoints come from the environment instead of the file.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Indexer.URL, "LIQX_SUBGRAPH_URL")
	setString(&cfg.Prices.APIKey, "LIQX_COINGECKO_API_KEY")
	setString(&cfg.Swap.APIKey, "LIQX_ONEINCH_API_KEY")
	setString(&cfg.CrossChain.APIKey, "LIQX_ONEINCH_API_KEY")
	setString(&cfg.Reasoning.URL, "LIQX_REASONING_URL")
	setString(&cfg.Telegram.Token, "LIQX_TELEGRAM_TOKEN")
	setString(&cfg.Telegram.ChatID, "LIQX_TELEGRAM_CHAT_ID")
	setString(&cfg.Timescale.DSN, "LIQX_TIMESCALE_DSN")
	setString(&cfg.Redis.Password, "LIQX_REDIS_PASSWORD")
}

func setString(dst *string, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*dst = val
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Indexer.URL) == "" {
		return errors.New("indexer.url is required")
	}
	if cfg.Monitor.PollInterval < 0 || cfg.Monitor.AlertCooldown < 0 {
		return errors.New("monitor intervals must be >= 0")
	}
	if cfg.Monitor.CycleTimeout > cfg.Monitor.PollInterval {
		return errors.New("monitor.cycle_timeout must not exceed monitor.poll_interval")
	}
	if cfg.Monitor.LiquidationThreshold <= 0 || cfg.Monitor.LiquidationThreshold > 1 {
		return errors.New("monitor.liquidation_threshold must be in (0, 1]")
	}
	if cfg.Monitor.AlertHealthFactor > cfg.Monitor.RefreshThreshold {
		return errors.New("monitor.alert_health_factor exceeds monitor.refresh_threshold")
	}
	if cfg.Reasoning.Enabled && strings.TrimSpace(cfg.Reasoning.URL) == "" {
		return errors.New("reasoning.url is required when reasoning is enabled")
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Telegram.OperatorEnabled && !cfg.Telegram.Enabled {
		return errors.New("telegram.operator_enabled requires telegram.enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	if cfg.Strategy.MaxBreakEvenMonths <= 0 {
		return errors.New("strategy.max_break_even_months must be > 0")
	}
	return nil
}
