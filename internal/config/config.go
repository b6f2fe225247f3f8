package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/praxislabs/concord/internal/models"
	"github.com/praxislabs/concord/internal/tracing"
)

// ServerConfig configures the HTTP API and metrics listeners.
type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MetricsPort int `mapstructure:"metrics_port"`
}

// BackendConfig configures the language-model completion service.
type BackendConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// BudgetConfig holds per-run resource ceilings.
type BudgetConfig struct {
	MaxTokens      int     `mapstructure:"max_tokens"`
	MaxCostUSD     float64 `mapstructure:"max_cost_usd"`
	MaxConcurrency int     `mapstructure:"max_concurrency"`
	RatePerMinute  int     `mapstructure:"rate_per_minute"`
	CostPer1K      float64 `mapstructure:"cost_per_1k_tokens"`
}

// DebateConfig bounds the debate engine.
type DebateConfig struct {
	MaxRounds        int           `mapstructure:"max_rounds"`
	ResolveThreshold float64       `mapstructure:"resolve_threshold"`
	EscalateBelow    float64       `mapstructure:"escalate_below"`
	StallRounds      int           `mapstructure:"stall_rounds"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// PipelineConfig bounds one end-to-end run.
type PipelineConfig struct {
	AgentTimeout  time.Duration `mapstructure:"agent_timeout"`
	GlobalTimeout time.Duration `mapstructure:"global_timeout"`
	Debate        DebateConfig  `mapstructure:"debate"`
	// AgreementThreshold is the weighted-agreement fraction a finding needs
	// to be reported as agreed.
	AgreementThreshold float64 `mapstructure:"agreement_threshold"`
}

// AgentProfile is one rostered agent.
type AgentProfile struct {
	ID                  string                `mapstructure:"id"`
	Specialization      models.Specialization `mapstructure:"specialization"`
	Priority            int                   `mapstructure:"priority"`
	Stage               int                   `mapstructure:"stage"`
	ConfidenceThreshold float64               `mapstructure:"confidence_threshold"`
	HistoricalAccuracy  float64               `mapstructure:"historical_accuracy"`
	Concepts            []string              `mapstructure:"concepts"`
}

// RedisConfig configures the optional event mirror.
type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	DB      int    `mapstructure:"db"`
}

// DatabaseConfig configures the optional Postgres store.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ObservabilityConfig groups logging, metrics and tracing knobs.
type ObservabilityConfig struct {
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// Config is the full swarm configuration, passed explicitly into the
// coordinator so concurrent runs never share mutable process state.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Backend       BackendConfig       `mapstructure:"backend"`
	Budget        BudgetConfig        `mapstructure:"budget"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Roster        []AgentProfile      `mapstructure:"roster"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.metrics_port", 2112)
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout", "60s")
	v.SetDefault("backend.max_retries", 3)
	v.SetDefault("budget.max_tokens", 200000)
	v.SetDefault("budget.max_cost_usd", 5.0)
	v.SetDefault("budget.max_concurrency", 4)
	v.SetDefault("budget.rate_per_minute", 60)
	v.SetDefault("budget.cost_per_1k_tokens", 0.01)
	v.SetDefault("pipeline.agent_timeout", "60s")
	v.SetDefault("pipeline.global_timeout", "5m")
	v.SetDefault("pipeline.agreement_threshold", 0.6)
	v.SetDefault("pipeline.debate.max_rounds", 5)
	v.SetDefault("pipeline.debate.resolve_threshold", 0.8)
	v.SetDefault("pipeline.debate.escalate_below", 0.6)
	v.SetDefault("pipeline.debate.stall_rounds", 2)
	v.SetDefault("pipeline.debate.timeout", "2m")
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
}

// Load reads concord.yaml from CONCORD_CONFIG_PATH or ./config/concord.yaml.
// A missing file yields the built-in defaults with the default roster.
func Load() (*Config, error) {
	path := os.Getenv("CONCORD_CONFIG_PATH")
	if path == "" {
		path = "./config/concord.yaml"
	}
	return LoadFile(path)
}

// LoadFile loads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("CONCORD")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		// No file: defaults only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Roster) == 0 {
		cfg.Roster = DefaultRoster()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects rosters and thresholds the pipeline cannot run with.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Roster))
	for _, p := range c.Roster {
		if p.ID == "" {
			return fmt.Errorf("roster entry missing id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate roster id %q", p.ID)
		}
		seen[p.ID] = true
		if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
			return fmt.Errorf("agent %s: confidence_threshold out of [0,1]", p.ID)
		}
		if p.HistoricalAccuracy < 0 || p.HistoricalAccuracy > 1 {
			return fmt.Errorf("agent %s: historical_accuracy out of [0,1]", p.ID)
		}
	}
	if c.Pipeline.Debate.MaxRounds <= 0 || c.Pipeline.Debate.MaxRounds > 5 {
		return fmt.Errorf("debate max_rounds must be in 1..5, got %d", c.Pipeline.Debate.MaxRounds)
	}
	return nil
}

// DefaultRoster returns the six specialists plus the arbitration judge, with
// neutral historical accuracy.
func DefaultRoster() []AgentProfile {
	mk := func(id string, spec models.Specialization, prio, stage int, concepts ...string) AgentProfile {
		return AgentProfile{
			ID:                  id,
			Specialization:      spec,
			Priority:            prio,
			Stage:               stage,
			ConfidenceThreshold: 0.6,
			HistoricalAccuracy:  0.7,
			Concepts:            concepts,
		}
	}
	return []AgentProfile{
		mk("fiscal-1", models.SpecFiscal, 1, 0, "budget", "deficit", "revenue", "tax", "appropriation"),
		mk("economic-1", models.SpecEconomic, 2, 0, "gdp", "employment", "inflation", "growth", "labor"),
		mk("healthcare-1", models.SpecHealthcare, 3, 1, "medicare", "medicaid", "health", "hospital", "insurance"),
		mk("retirement-1", models.SpecRetirement, 4, 1, "retirement", "pension", "social security", "annuity", "401k"),
		mk("equity-1", models.SpecEquity, 5, 1, "equity", "low-income", "disparity", "minority", "rural"),
		mk("implementation-1", models.SpecImplementation, 6, 2, "agency", "rulemaking", "enforcement", "compliance", "phase-in"),
		mk("judge-1", models.SpecJudge, 99, 99),
	}
}
