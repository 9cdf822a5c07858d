package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	State     StateConfig     `yaml:"state"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Advisory  AdvisoryConfig  `yaml:"advisory"`
	Execution ExecutionConfig `yaml:"execution"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Bots      []BotConfig     `yaml:"bots"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type AuditConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type AdvisoryConfig struct {
	RequireApproval bool    `yaml:"require_approval"`
	MinWinProb      float64 `yaml:"min_win_prob"`
}

type ExecutionConfig struct {
	Mode        string  `yaml:"mode"`
	SlippageBps float64 `yaml:"slippage_bps"`
}

type SchedulerConfig struct {
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// BotConfig parameterizes one instrument engine. The per-coin bot variants
// differ only in these values.
type BotConfig struct {
	Instrument         string        `yaml:"instrument"`
	LongOnly           bool          `yaml:"long_only"`
	CapitalUSD         float64       `yaml:"capital_usd"`
	RiskPct            float64       `yaml:"risk_pct"`
	MinConfidence      string        `yaml:"min_confidence"`
	MinQuantity        float64       `yaml:"min_quantity"`
	MaxQuantity        float64       `yaml:"max_quantity"`
	ContractMultiplier float64       `yaml:"contract_multiplier"`
	StopLossPct        float64       `yaml:"stop_loss_pct"`
	TakeProfitPct      float64       `yaml:"take_profit_pct"`
	SnapshotTTL        time.Duration `yaml:"snapshot_ttl"`

	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Cooldown  CooldownConfig  `yaml:"cooldown"`
	Margin    MarginConfig    `yaml:"margin"`
}

type LifecycleConfig struct {
	TrailingActivationPct float64       `yaml:"trailing_activation_pct"`
	TrailDistancePct      float64       `yaml:"trail_distance_pct"`
	MaxUnrealizedLossPct  float64       `yaml:"max_unrealized_loss_pct"`
	EmergencyStopPct      float64       `yaml:"emergency_stop_pct"`
	ProfitTargetPct       float64       `yaml:"profit_target_pct"`
	SARTriggerPct         float64       `yaml:"sar_trigger_pct"`
	SARMinFavorablePct    float64       `yaml:"sar_min_favorable_pct"`
	MaxHoldDuration       time.Duration `yaml:"max_hold_duration"`
}

type CooldownConfig struct {
	HistorySize     int           `yaml:"history_size"`
	CooldownScans   int64         `yaml:"cooldown_scans"`
	WinRateFloor    float64       `yaml:"win_rate_floor"`
	LossStreakLimit int           `yaml:"loss_streak_limit"`
	PauseDuration   time.Duration `yaml:"pause_duration"`
}

type MarginConfig struct {
	Leveraged             bool    `yaml:"leveraged"`
	ContractSize          float64 `yaml:"contract_size"`
	InitialMarginRate     float64 `yaml:"initial_margin_rate"`
	MaintenanceMarginRate float64 `yaml:"maintenance_margin_rate"`
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

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/deriv-fusion-bot.db"
	}
	if cfg.Audit.Schema == "" {
		cfg.Audit.Schema = "public"
	}
	if cfg.Audit.QueueSize <= 0 {
		cfg.Audit.QueueSize = 256
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9002"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Execution.Mode == "" {
		cfg.Execution.Mode = "paper"
	}
	if cfg.Scheduler.ScanInterval <= 0 {
		cfg.Scheduler.ScanInterval = 5 * time.Minute
	}
	for i := range cfg.Bots {
		applyBotDefaults(&cfg.Bots[i])
	}
}

func applyBotDefaults(bot *BotConfig) {
	if bot.RiskPct <= 0 {
		bot.RiskPct = 0.01
	}
	if bot.MinConfidence == "" {
		bot.MinConfidence = "MEDIUM"
	}
	if bot.ContractMultiplier <= 0 {
		bot.ContractMultiplier = 1
	}
	if bot.StopLossPct <= 0 {
		bot.StopLossPct = 0.02
	}
	if bot.TakeProfitPct <= 0 {
		bot.TakeProfitPct = 0.03
	}
	if bot.SnapshotTTL <= 0 {
		bot.SnapshotTTL = time.Minute
	}
	lc := &bot.Lifecycle
	if lc.TrailingActivationPct <= 0 {
		lc.TrailingActivationPct = 0.01
	}
	if lc.TrailDistancePct <= 0 {
		lc.TrailDistancePct = 0.0075
	}
	if lc.MaxUnrealizedLossPct <= 0 {
		lc.MaxUnrealizedLossPct = 0.03
	}
	if lc.EmergencyStopPct <= 0 {
		lc.EmergencyStopPct = 0.05
	}
	if lc.MaxHoldDuration <= 0 {
		lc.MaxHoldDuration = 48 * time.Hour
	}
	cd := &bot.Cooldown
	if cd.HistorySize <= 0 {
		cd.HistorySize = 10
	}
	if cd.CooldownScans <= 0 {
		cd.CooldownScans = 3
	}
	if cd.WinRateFloor <= 0 {
		cd.WinRateFloor = 0.20
	}
	if cd.LossStreakLimit <= 0 {
		cd.LossStreakLimit = 3
	}
	if cd.PauseDuration <= 0 {
		cd.PauseDuration = 30 * time.Minute
	}
	mg := &bot.Margin
	if mg.ContractSize <= 0 {
		mg.ContractSize = 1
	}
	if mg.Leveraged {
		if mg.InitialMarginRate <= 0 {
			mg.InitialMarginRate = 0.10
		}
		if mg.MaintenanceMarginRate <= 0 {
			mg.MaintenanceMarginRate = 0.05
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv("DFB_TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("DFB_TELEGRAM_CHAT_ID")); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	if dsn := strings.TrimSpace(os.Getenv("DFB_AUDIT_DSN")); dsn != "" {
		cfg.Audit.DSN = dsn
	}
}

func validate(cfg *Config) error {
	if len(cfg.Bots) == 0 {
		return errors.New("at least one bot is required")
	}
	seen := make(map[string]struct{}, len(cfg.Bots))
	for i := range cfg.Bots {
		bot := &cfg.Bots[i]
		if bot.Instrument == "" {
			return fmt.Errorf("bots[%d].instrument is required", i)
		}
		if _, dup := seen[bot.Instrument]; dup {
			return fmt.Errorf("duplicate bot instrument %s", bot.Instrument)
		}
		seen[bot.Instrument] = struct{}{}
		if bot.CapitalUSD <= 0 {
			return fmt.Errorf("bots[%d].capital_usd must be > 0", i)
		}
		if bot.RiskPct >= 1 {
			return fmt.Errorf("bots[%d].risk_pct must be < 1", i)
		}
		if bot.MaxQuantity > 0 && bot.MinQuantity > bot.MaxQuantity {
			return fmt.Errorf("bots[%d].min_quantity exceeds max_quantity", i)
		}
		switch bot.MinConfidence {
		case "HIGH", "MEDIUM", "LOW":
		default:
			return fmt.Errorf("bots[%d].min_confidence must be HIGH, MEDIUM or LOW", i)
		}
		lc := bot.Lifecycle
		if lc.EmergencyStopPct < lc.MaxUnrealizedLossPct {
			return fmt.Errorf("bots[%d].lifecycle.emergency_stop_pct must be >= max_unrealized_loss_pct", i)
		}
		if lc.SARTriggerPct > 0 && bot.LongOnly {
			return fmt.Errorf("bots[%d]: stop-and-reverse is not available on long-only bots", i)
		}
		if bot.Margin.Leveraged && bot.Margin.MaintenanceMarginRate >= 1 {
			return fmt.Errorf("bots[%d].margin.maintenance_margin_rate must be < 1", i)
		}
	}
	switch cfg.Execution.Mode {
	case "paper", "live":
	default:
		return fmt.Errorf("execution.mode must be paper or live, got %q", cfg.Execution.Mode)
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Audit.Enabled && strings.TrimSpace(cfg.Audit.DSN) == "" {
		return errors.New("audit.dsn is required when audit is enabled")
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	return nil
}
