package config

// Config is the top-level configuration for the execution engine.
type Config struct {
	App         AppConfig         `toml:"app"`
	Broker      BrokerConfig      `toml:"broker"`
	Execution   ExecutionConfig   `toml:"execution"`
	Instruments InstrumentsConfig `toml:"instruments"`
	Risk        RiskConfig        `toml:"risk"`
	Store       StoreConfig       `toml:"store"`
	Notify      NotifyConfig      `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// BrokerConfig describes how to reach the brokerage REST API.
type BrokerConfig struct {
	APIURL             string `toml:"api_url"`
	APIKey             string `toml:"api_key"`
	AccessToken        string `toml:"access_token"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	// Product routes margin treatment on the broker side (e.g. intraday vs
	// delivery). FallbackProduct is tried once when a close order is
	// rejected for insufficient funds under the primary product.
	Product         string `toml:"product"`
	FallbackProduct string `toml:"fallback_product"`
}

// ExecutionConfig holds the timeouts and retry budgets of the
// reconciliation engine. All durations are seconds unless noted.
type ExecutionConfig struct {
	FillTimeoutSeconds      int     `toml:"fill_timeout_seconds"`
	PollIntervalMillis      int     `toml:"poll_interval_millis"`
	ReconcileTimeoutSeconds int     `toml:"reconcile_timeout_seconds"`
	StopCancelTimeoutSecs   int     `toml:"stop_cancel_timeout_seconds"`
	FlattenAttempts         int     `toml:"flatten_attempts"`
	StopPlaceAttempts       int     `toml:"stop_place_attempts"`
	RetryDelayMillis        int     `toml:"retry_delay_millis"`
	PartialFillPolicy       string  `toml:"partial_fill_policy"` // "force_exit" | "attach"
	StopLimitBufferTicks    int     `toml:"stop_limit_buffer_ticks"`
	DefaultStopPct          float64 `toml:"default_stop_pct"`
}

type InstrumentsConfig struct {
	Path string `toml:"path"`
}

type RiskConfig struct {
	MaxDailyLoss float64 `toml:"max_daily_loss"`
}

type StoreConfig struct {
	TradesPath  string `toml:"trades_path"`
	JournalPath string `toml:"journal_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}
