// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/broker"
	"github.com/tathienbao/signal-executor/internal/risk"
	"github.com/tathienbao/signal-executor/internal/session"
	"github.com/tathienbao/signal-executor/internal/store"
	"github.com/tathienbao/signal-executor/internal/types"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Strategy    StrategyConfig     `yaml:"strategy"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	Session     SessionConfig      `yaml:"session"`
	Admission   AdmissionConfig    `yaml:"admission"`
	Risk        RiskConfig         `yaml:"risk"`
	Execution   ExecutionConfig    `yaml:"execution"`
	Monitor     MonitorConfig      `yaml:"monitor"`
	Audit       AuditConfig        `yaml:"audit"`
	Supervisor  SupervisorConfig   `yaml:"supervisor"`
	Store       StoreConfig        `yaml:"store"`
	Broker      BrokerConfig       `yaml:"broker"`
	Persistence PersistenceConfig  `yaml:"persistence"`
	Alerting    AlertingConfig     `yaml:"alerting"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Shutdown    ShutdownConfig     `yaml:"shutdown"`
}

// StrategyConfig identifies the strategy. Name prefixes every store key.
type StrategyConfig struct {
	Name string `yaml:"name"`
}

// InstrumentConfig describes a tradable instrument.
type InstrumentConfig struct {
	Name          string  `yaml:"name"`
	Symbol        string  `yaml:"symbol"`
	LotSize       int64   `yaml:"lot_size"`
	LotMultiplier int64   `yaml:"lot_multiplier"`
	SecType       string  `yaml:"sec_type"` // FUT | OPT | STK
	Right         string  `yaml:"right"`
	Strike        float64 `yaml:"strike"`
	// Expiry is YYYYMMDD; empty selects the front month.
	Expiry   string `yaml:"expiry"`
	Exchange string `yaml:"exchange"`
	Currency string `yaml:"currency"`
	// PaperPrice seeds the simulated mid price in paper mode.
	PaperPrice float64 `yaml:"paper_price"`
}

// SessionConfig holds trading calendar settings.
type SessionConfig struct {
	Timezone string   `yaml:"timezone"`
	Open     string   `yaml:"open"`
	Close    string   `yaml:"close"`
	Holidays []string `yaml:"holidays"`
}

// AdmissionConfig holds entry admission settings. The z-score, half-life,
// spread and max positions values seed tunables that operators can change
// at runtime.
type AdmissionConfig struct {
	EntryStart       string   `yaml:"entry_start"`
	EntryEnd         string   `yaml:"entry_end"`
	MaxPositions     int      `yaml:"max_positions"`
	MaxEntriesPerDay int      `yaml:"max_entries_per_day"`
	AllowDuplicates  bool     `yaml:"allow_duplicates"`
	AllowLong        bool     `yaml:"allow_long"`
	AllowShort       bool     `yaml:"allow_short"`
	Blacklist        []string `yaml:"blacklist"`
	MoratoriumBars   int      `yaml:"moratorium_bars"`
	MinZScore        float64  `yaml:"min_zscore"`
	MaxZScore        float64  `yaml:"max_zscore"`
	MinHalfLife      float64  `yaml:"min_half_life"`
	MaxHalfLife      float64  `yaml:"max_half_life"`
	MaxSpread        float64  `yaml:"max_spread"`
	SignalMaxAgeSec  int      `yaml:"signal_max_age_sec"`
	PopTimeoutSec    int      `yaml:"pop_timeout_sec"`
}

// RiskConfig holds breach level and daily P&L settings.
type RiskConfig struct {
	StopLossMode    string  `yaml:"stop_loss_mode"` // fixed | stddev
	StopLoss        float64 `yaml:"stop_loss"`
	TakeProfitMode  string  `yaml:"take_profit_mode"`
	TakeProfit      float64 `yaml:"take_profit"`
	DailyStopLoss   float64 `yaml:"daily_stop_loss"`
	DailyTakeProfit float64 `yaml:"daily_take_profit"`
	// CostRate is the modeled round trip cost as a fraction of traded value.
	CostRate float64 `yaml:"cost_rate"`
}

// ExecutionConfig holds order placement settings.
type ExecutionConfig struct {
	EntryStyle         string  `yaml:"entry_style"` // market | relative
	ExitStyle          string  `yaml:"exit_style"`
	RelativeOffset     float64 `yaml:"relative_offset"`
	EntryTimeoutSec    int     `yaml:"entry_timeout_sec"`
	ExitTimeoutSec     int     `yaml:"exit_timeout_sec"`
	GracePeriodSec     int     `yaml:"grace_period_sec"`
	QuoteWaitMs        int     `yaml:"quote_wait_ms"`
	MaxPollIntervalSec int     `yaml:"max_poll_interval_sec"`
	MaxRetries         int     `yaml:"max_retries"`
	RetryDelayMs       int     `yaml:"retry_delay_ms"`
	RateLimitPerSecond int     `yaml:"rate_limit_per_second"`
	QuoteReqBase       int64   `yaml:"quote_req_base"`
}

// MonitorConfig holds exit monitor settings.
type MonitorConfig struct {
	IntervalMs         int    `yaml:"interval_ms"`
	LastExitTime       string `yaml:"last_exit_time"`
	ConnectWaitSec     int    `yaml:"connect_wait_sec"`
	ResubscribeSec     int    `yaml:"resubscribe_sec"`
	StaleSec           int    `yaml:"stale_sec"`
	PersistIntervalSec int    `yaml:"persist_interval_sec"`
	ReqBase            int64  `yaml:"req_base"`
}

// AuditConfig holds completion auditor settings.
type AuditConfig struct {
	IntervalSec   int   `yaml:"interval_sec"`
	StaleAfterSec int   `yaml:"stale_after_sec"`
	GraceSec      int   `yaml:"grace_sec"`
	ReqBase       int64 `yaml:"req_base"`
}

// SupervisorConfig holds supervisor settings.
type SupervisorConfig struct {
	SweepIntervalSec int `yaml:"sweep_interval_sec"`
	// EODSlotMatch selects how end-of-day signals are matched to open
	// positions: any | same_day | same_bar.
	EODSlotMatch string `yaml:"eod_slot_match"`
}

// StoreConfig holds coordination store settings.
type StoreConfig struct {
	Type           string `yaml:"type"` // redis | memory
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	RetryAttempts  int    `yaml:"retry_attempts"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms"`
}

// BrokerConfig holds broker settings.
type BrokerConfig struct {
	Type     string `yaml:"type"` // ibkr, paper
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID int    `yaml:"client_id"`
	Account  string `yaml:"account"`
	Exchange string `yaml:"exchange"`
	Currency string `yaml:"currency"`
}

// PersistenceConfig holds trade journal settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // sqlite
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
	Events   []string        `yaml:"events"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // telegram | console
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`

	// MinSeverity is the lowest severity delivered: info, warning, high, critical.
	MinSeverity string `yaml:"min_severity"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used for keys a file leaves unset.
func Default() *Config {
	return &Config{
		Strategy: StrategyConfig{Name: "executor"},
		Session: SessionConfig{
			Timezone: "Asia/Kolkata",
			Open:     "09:15",
			Close:    "15:30",
		},
		Admission: AdmissionConfig{
			EntryStart:       "09:30",
			EntryEnd:         "15:00",
			MaxPositions:     8,
			MaxEntriesPerDay: 20,
			AllowLong:        true,
			AllowShort:       true,
			MoratoriumBars:   3,
			MaxZScore:        10,
			MaxHalfLife:      1000,
			MaxSpread:        1000000,
			SignalMaxAgeSec:  300,
			PopTimeoutSec:    60,
		},
		Risk: RiskConfig{
			StopLossMode:   risk.ModeFixed,
			TakeProfitMode: risk.ModeFixed,
		},
		Execution: ExecutionConfig{
			EntryStyle:         "market",
			ExitStyle:          "market",
			EntryTimeoutSec:    750,
			ExitTimeoutSec:     750,
			GracePeriodSec:     30,
			QuoteWaitMs:        3000,
			MaxPollIntervalSec: 30,
			MaxRetries:         2,
			RetryDelayMs:       500,
			RateLimitPerSecond: 45,
			QuoteReqBase:       1000,
		},
		Monitor: MonitorConfig{
			IntervalMs:         1000,
			LastExitTime:       "15:20",
			ConnectWaitSec:     180,
			ResubscribeSec:     35,
			StaleSec:           300,
			PersistIntervalSec: 10,
			ReqBase:            2000,
		},
		Audit: AuditConfig{
			IntervalSec:   300,
			StaleAfterSec: 900,
			GraceSec:      30,
			ReqBase:       3000,
		},
		Supervisor: SupervisorConfig{
			SweepIntervalSec: 120,
			EODSlotMatch:     "any",
		},
		Store: StoreConfig{
			Type:           "memory",
			Addr:           "127.0.0.1:6379",
			RetryAttempts:  7,
			RetryBackoffMs: 100,
		},
		Broker: BrokerConfig{
			Type:     "paper",
			Host:     "127.0.0.1",
			Port:     7497,
			ClientID: 1,
			Exchange: "NSE",
			Currency: "INR",
		},
		Metrics:  MetricsConfig{Port: 9090, Path: "/metrics"},
		Shutdown: ShutdownConfig{TimeoutSec: 30},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Strategy validation
	if c.Strategy.Name == "" {
		errs = append(errs, "strategy.name is required")
	}
	if strings.ContainsAny(c.Strategy.Name, ": ") {
		errs = append(errs, "strategy.name must not contain ':' or spaces")
	}

	// Instrument validation
	if len(c.Instruments) == 0 {
		errs = append(errs, "at least one instrument is required")
	}
	seen := make(map[string]bool)
	for i, inst := range c.Instruments {
		if inst.Name == "" {
			errs = append(errs, fmt.Sprintf("instruments[%d].name is required", i))
			continue
		}
		if seen[inst.Name] {
			errs = append(errs, fmt.Sprintf("instruments[%d].name '%s' is duplicated", i, inst.Name))
		}
		seen[inst.Name] = true
		if inst.LotSize <= 0 {
			errs = append(errs, fmt.Sprintf("instruments[%d].lot_size must be positive", i))
		}
		if err := c.Contract(inst).Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("instruments[%d]: %v", i, err))
		}
	}

	// Session validation
	if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("session.timezone '%s' is not a known zone", c.Session.Timezone))
	}
	errs = appendClock(errs, "session.open", c.Session.Open)
	errs = appendClock(errs, "session.close", c.Session.Close)
	errs = appendClock(errs, "admission.entry_start", c.Admission.EntryStart)
	errs = appendClock(errs, "admission.entry_end", c.Admission.EntryEnd)
	errs = appendClock(errs, "monitor.last_exit_time", c.Monitor.LastExitTime)
	for _, h := range c.Session.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			errs = append(errs, fmt.Sprintf("session.holidays '%s' is not YYYY-MM-DD", h))
		}
	}

	// Admission validation
	if c.Admission.MaxPositions <= 0 {
		errs = append(errs, "admission.max_positions must be positive")
	}
	if c.Admission.MaxEntriesPerDay <= 0 {
		errs = append(errs, "admission.max_entries_per_day must be positive")
	}
	if c.Admission.MoratoriumBars < 0 {
		errs = append(errs, "admission.moratorium_bars must not be negative")
	}
	if c.Admission.MinZScore < 0 || c.Admission.MaxZScore < c.Admission.MinZScore {
		errs = append(errs, "admission z-score bounds must satisfy 0 <= min <= max")
	}
	if c.Admission.MinHalfLife < 0 || c.Admission.MaxHalfLife < c.Admission.MinHalfLife {
		errs = append(errs, "admission half-life bounds must satisfy 0 <= min <= max")
	}
	if c.Admission.MaxSpread <= 0 {
		errs = append(errs, "admission.max_spread must be positive")
	}
	if !c.Admission.AllowLong && !c.Admission.AllowShort {
		errs = append(errs, "admission must allow long or short entries")
	}

	// Risk validation
	if !risk.ValidMode(c.Risk.StopLossMode) {
		errs = append(errs, "risk.stop_loss_mode must be 'fixed' or 'stddev'")
	}
	if !risk.ValidMode(c.Risk.TakeProfitMode) {
		errs = append(errs, "risk.take_profit_mode must be 'fixed' or 'stddev'")
	}
	if c.Risk.StopLoss <= 0 {
		errs = append(errs, "risk.stop_loss must be positive")
	}
	if c.Risk.TakeProfit <= 0 {
		errs = append(errs, "risk.take_profit must be positive")
	}
	if c.Risk.DailyStopLoss <= 0 {
		errs = append(errs, "risk.daily_stop_loss must be positive")
	}
	if c.Risk.DailyTakeProfit <= 0 {
		errs = append(errs, "risk.daily_take_profit must be positive")
	}
	if c.Risk.CostRate < 0 || c.Risk.CostRate > 0.1 {
		errs = append(errs, "risk.cost_rate must be between 0 and 0.1")
	}

	// Execution validation
	if !validStyle(c.Execution.EntryStyle) {
		errs = append(errs, "execution.entry_style must be 'market' or 'relative'")
	}
	if !validStyle(c.Execution.ExitStyle) {
		errs = append(errs, "execution.exit_style must be 'market' or 'relative'")
	}
	if c.Execution.EntryTimeoutSec <= 0 || c.Execution.ExitTimeoutSec <= 0 {
		errs = append(errs, "execution timeouts must be positive")
	}
	if c.Execution.MaxRetries < 0 {
		c.Execution.MaxRetries = 2 // default
	}

	// Request id ranges must not overlap
	pool := int64(c.PoolSize())
	bases := []struct {
		name string
		base int64
	}{
		{"execution.quote_req_base", c.Execution.QuoteReqBase},
		{"monitor.req_base", c.Monitor.ReqBase},
		{"audit.req_base", c.Audit.ReqBase},
	}
	for i := range bases {
		if bases[i].base <= 0 {
			errs = append(errs, bases[i].name+" must be positive")
		}
		for j := i + 1; j < len(bases); j++ {
			if abs64(bases[i].base-bases[j].base) <= pool {
				errs = append(errs, fmt.Sprintf("%s and %s overlap", bases[i].name, bases[j].name))
			}
		}
	}

	// Supervisor validation
	switch c.Supervisor.EODSlotMatch {
	case "any", "same_day", "same_bar":
	default:
		errs = append(errs, "supervisor.eod_slot_match must be 'any', 'same_day' or 'same_bar'")
	}

	// Store validation
	if c.Store.Type != "redis" && c.Store.Type != "memory" {
		errs = append(errs, "store.type must be 'redis' or 'memory'")
	}
	if c.Store.Type == "redis" && c.Store.Addr == "" {
		errs = append(errs, "store.addr is required for redis")
	}

	// Broker validation
	if c.Broker.Type != "ibkr" && c.Broker.Type != "paper" {
		errs = append(errs, "broker.type must be 'ibkr' or 'paper'")
	}

	// Persistence validation
	if c.Persistence.Enabled {
		if c.Persistence.Type != "sqlite" {
			errs = append(errs, "persistence.type must be 'sqlite'")
		}
		if c.Persistence.Path == "" {
			errs = append(errs, "persistence.path is required for sqlite")
		}
	}

	// Alerting validation
	for i, ch := range c.Alerting.Channels {
		switch ch.Type {
		case "console":
		case "telegram":
			if ch.BotToken == "" || ch.ChatID == "" {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d] telegram needs bot_token and chat_id", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("alerting.channels[%d].type must be 'telegram' or 'console'", i))
		}
		switch strings.ToLower(ch.MinSeverity) {
		case "", "info", "warning", "warn", "high", "critical":
		default:
			errs = append(errs, fmt.Sprintf("alerting.channels[%d].min_severity '%s' is unknown", i, ch.MinSeverity))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

func appendClock(errs []string, name, v string) []string {
	if _, err := session.ParseClock(v); err != nil {
		return append(errs, fmt.Sprintf("%s '%s' is not HH:MM", name, v))
	}
	return errs
}

func validStyle(s string) bool {
	return s == "market" || s == "relative"
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// PoolSize returns the number of slots and monitors:
// max positions x 3, clamped to [24, 49].
func (c *Config) PoolSize() int {
	n := c.Admission.MaxPositions * 3
	if n < 24 {
		return 24
	}
	if n > 49 {
		return 49
	}
	return n
}

// Instrument returns the instrument with the given name.
func (c *Config) Instrument(name string) (InstrumentConfig, bool) {
	for _, inst := range c.Instruments {
		if inst.Name == name {
			return inst, true
		}
	}
	return InstrumentConfig{}, false
}

// LotSizes maps instrument names to their configured lot size.
func (c *Config) LotSizes() map[string]int64 {
	out := make(map[string]int64, len(c.Instruments))
	for _, inst := range c.Instruments {
		out[inst.Name] = inst.LotSize
	}
	return out
}

// Contract builds the broker contract for an instrument, applying the broker
// exchange and currency when the instrument leaves them empty.
func (c *Config) Contract(inst InstrumentConfig) broker.Contract {
	ct := broker.Contract{
		Symbol:        inst.Symbol,
		LotMultiplier: inst.LotMultiplier,
		SecType:       inst.SecType,
		Right:         inst.Right,
		Strike:        decimal.NewFromFloat(inst.Strike),
		Expiry:        inst.Expiry,
		Exchange:      inst.Exchange,
		Currency:      inst.Currency,
	}
	if ct.Symbol == "" {
		ct.Symbol = inst.Name
	}
	if ct.LotMultiplier == 0 {
		ct.LotMultiplier = 1
	}
	if ct.SecType == "" {
		ct.SecType = "FUT"
	}
	if ct.Exchange == "" {
		ct.Exchange = c.Broker.Exchange
	}
	if ct.Currency == "" {
		ct.Currency = c.Broker.Currency
	}
	return ct
}

// Location returns the session time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Session.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Calendar builds the trading calendar.
func (c *Config) Calendar() (*session.Calendar, error) {
	open, err := session.ParseClock(c.Session.Open)
	if err != nil {
		return nil, err
	}
	closing, err := session.ParseClock(c.Session.Close)
	if err != nil {
		return nil, err
	}
	return session.New(session.Config{
		Location: c.Location(),
		Open:     open,
		Close:    closing,
		Holidays: c.Session.Holidays,
	})
}

// ToLevelConfig converts to risk.LevelConfig.
func (c *Config) ToLevelConfig() risk.LevelConfig {
	return risk.LevelConfig{
		StopLoss:   risk.Amount{Mode: c.Risk.StopLossMode, Value: decimal.NewFromFloat(c.Risk.StopLoss)},
		TakeProfit: risk.Amount{Mode: c.Risk.TakeProfitMode, Value: decimal.NewFromFloat(c.Risk.TakeProfit)},
	}
}

// ToDailyLimits converts to risk.DailyLimits.
func (c *Config) ToDailyLimits() risk.DailyLimits {
	return risk.DailyLimits{
		StopLoss:   decimal.NewFromFloat(c.Risk.DailyStopLoss),
		TakeProfit: decimal.NewFromFloat(c.Risk.DailyTakeProfit),
		CostRate:   decimal.NewFromFloat(c.Risk.CostRate),
	}
}

// Tunables returns the configured tunable defaults.
func (c *Config) Tunables() store.TunableSet {
	return store.TunableSet{
		MaxPositions: c.Admission.MaxPositions,
		MinZScore:    decimal.NewFromFloat(c.Admission.MinZScore),
		MaxZScore:    decimal.NewFromFloat(c.Admission.MaxZScore),
		MinHalfLife:  decimal.NewFromFloat(c.Admission.MinHalfLife),
		MaxHalfLife:  decimal.NewFromFloat(c.Admission.MaxHalfLife),
		MaxSpread:    decimal.NewFromFloat(c.Admission.MaxSpread),
	}
}

// StoreRetry returns the store retry policy.
func (c *Config) StoreRetry() store.RetryConfig {
	return store.RetryConfig{
		Attempts: c.Store.RetryAttempts,
		Delay:    time.Duration(c.Store.RetryBackoffMs) * time.Millisecond,
	}
}

// OrderStyle maps a configured style name.
func OrderStyle(s string) types.OrderStyle {
	if s == "relative" {
		return types.OrderStyleRelative
	}
	return types.OrderStyleMarket
}

// EntryTimeout returns the entry fill wait ceiling.
func (c *Config) EntryTimeout() time.Duration {
	return time.Duration(c.Execution.EntryTimeoutSec) * time.Second
}

// ExitTimeout returns the exit fill wait ceiling.
func (c *Config) ExitTimeout() time.Duration {
	return time.Duration(c.Execution.ExitTimeoutSec) * time.Second
}

// GracePeriod returns the wait after requesting executions.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Execution.GracePeriodSec) * time.Second
}

// QuoteWait returns the one-shot quote wait.
func (c *Config) QuoteWait() time.Duration {
	return time.Duration(c.Execution.QuoteWaitMs) * time.Millisecond
}

// MaxPollInterval returns the fill poll cadence cap.
func (c *Config) MaxPollInterval() time.Duration {
	return time.Duration(c.Execution.MaxPollIntervalSec) * time.Second
}

// RetryDelay returns the retry delay duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Execution.RetryDelayMs) * time.Millisecond
}

// PopTimeout returns the blocking queue pop timeout.
func (c *Config) PopTimeout() time.Duration {
	return time.Duration(c.Admission.PopTimeoutSec) * time.Second
}

// SignalMaxAge returns the oldest admissible signal age.
func (c *Config) SignalMaxAge() time.Duration {
	return time.Duration(c.Admission.SignalMaxAgeSec) * time.Second
}

// MonitorInterval returns the monitor loop period.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalMs) * time.Millisecond
}

// ConnectWait returns how long a monitor waits for connectivity.
func (c *Config) ConnectWait() time.Duration {
	return time.Duration(c.Monitor.ConnectWaitSec) * time.Second
}

// ResubscribeAfter returns the no-tick bound before resubscribing.
func (c *Config) ResubscribeAfter() time.Duration {
	return time.Duration(c.Monitor.ResubscribeSec) * time.Second
}

// StaleAfter returns the price staleness watchdog bound.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Monitor.StaleSec) * time.Second
}

// PersistInterval returns the monitor status write period.
func (c *Config) PersistInterval() time.Duration {
	return time.Duration(c.Monitor.PersistIntervalSec) * time.Second
}

// AuditInterval returns the auditor sweep period.
func (c *Config) AuditInterval() time.Duration {
	return time.Duration(c.Audit.IntervalSec) * time.Second
}

// AuditStaleAfter returns how long a pending record may sit before audit.
func (c *Config) AuditStaleAfter() time.Duration {
	return time.Duration(c.Audit.StaleAfterSec) * time.Second
}

// AuditGrace returns how long the auditor collects executions.
func (c *Config) AuditGrace() time.Duration {
	return time.Duration(c.Audit.GraceSec) * time.Second
}

// SweepInterval returns the supervisor sweep period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Supervisor.SweepIntervalSec) * time.Second
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	// If no events specified, all are enabled
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}
