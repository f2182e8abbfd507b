package config

import "strings"

const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9985"
	defaultBrokerTimeout    = 10
	defaultBrokerProduct    = "MIS"
	defaultFallbackProduct  = "CNC"
	defaultFillTimeout      = 15
	defaultPollInterval     = 500
	defaultReconcileTimeout = 12
	defaultStopCancelSecs   = 10
	defaultFlattenAttempts  = 3
	defaultStopAttempts     = 3
	defaultRetryDelayMillis = 1000
	defaultPartialPolicy    = "force_exit"
	defaultStopBufferTicks  = 3
	defaultStopPct          = 0.01
	defaultInstrumentsPath  = "configs/instruments.yaml"
	defaultTradesPath       = "data/trades.db"
	defaultJournalPath      = "data/journal.db"
)

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Broker.applyDefaults()
	c.Execution.applyDefaults()
	if strings.TrimSpace(c.Instruments.Path) == "" {
		c.Instruments.Path = defaultInstrumentsPath
	}
	c.Store.applyDefaults()
}

func (a *AppConfig) applyDefaults() {
	if strings.TrimSpace(a.Env) == "" {
		a.Env = defaultAppEnv
	}
	if strings.TrimSpace(a.LogLevel) == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
}

func (b *BrokerConfig) applyDefaults() {
	if b.TimeoutSeconds <= 0 {
		b.TimeoutSeconds = defaultBrokerTimeout
	}
	if strings.TrimSpace(b.Product) == "" {
		b.Product = defaultBrokerProduct
	}
	if strings.TrimSpace(b.FallbackProduct) == "" {
		b.FallbackProduct = defaultFallbackProduct
	}
}

func (e *ExecutionConfig) applyDefaults() {
	if e.FillTimeoutSeconds <= 0 {
		e.FillTimeoutSeconds = defaultFillTimeout
	}
	if e.PollIntervalMillis <= 0 {
		e.PollIntervalMillis = defaultPollInterval
	}
	if e.ReconcileTimeoutSeconds <= 0 {
		e.ReconcileTimeoutSeconds = defaultReconcileTimeout
	}
	if e.StopCancelTimeoutSecs <= 0 {
		e.StopCancelTimeoutSecs = defaultStopCancelSecs
	}
	if e.FlattenAttempts <= 0 {
		e.FlattenAttempts = defaultFlattenAttempts
	}
	if e.StopPlaceAttempts <= 0 {
		e.StopPlaceAttempts = defaultStopAttempts
	}
	if e.RetryDelayMillis <= 0 {
		e.RetryDelayMillis = defaultRetryDelayMillis
	}
	if strings.TrimSpace(e.PartialFillPolicy) == "" {
		e.PartialFillPolicy = defaultPartialPolicy
	}
	if e.StopLimitBufferTicks <= 0 {
		e.StopLimitBufferTicks = defaultStopBufferTicks
	}
	if e.DefaultStopPct <= 0 {
		e.DefaultStopPct = defaultStopPct
	}
}

func (s *StoreConfig) applyDefaults() {
	if strings.TrimSpace(s.TradesPath) == "" {
		s.TradesPath = defaultTradesPath
	}
	if strings.TrimSpace(s.JournalPath) == "" {
		s.JournalPath = defaultJournalPath
	}
}
