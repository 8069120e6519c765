package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/victoralfred/portfolio-risk/internal/adapters/database"
	"github.com/victoralfred/portfolio-risk/internal/domain/ratelimit"
	"github.com/victoralfred/portfolio-risk/internal/logging"
	"github.com/victoralfred/portfolio-risk/internal/risk"
	"github.com/victoralfred/portfolio-risk/internal/service"
)

// EnvPrefix prefixes every environment override, e.g. RISK_DATABASE_HOST
const EnvPrefix = "RISK"

// Config holds the application configuration
type Config struct {
	// Server settings
	Port            int           `mapstructure:"port"`
	Environment     string        `mapstructure:"environment"`
	Version         string        `mapstructure:"version"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	StartTime       time.Time     `mapstructure:"-"`

	CORS      CORSConfig                `mapstructure:"cors"`
	RateLimit ratelimit.RateLimitConfig `mapstructure:"rate_limit"`
	Database  database.Config           `mapstructure:"database"`
	Redis     RedisConfig               `mapstructure:"redis"`
	Log       logging.LogConfig         `mapstructure:"log"`
	Risk      RiskConfig                `mapstructure:"risk"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowedMethods   []string      `mapstructure:"allowed_methods"`
	AllowedHeaders   []string      `mapstructure:"allowed_headers"`
	ExposedHeaders   []string      `mapstructure:"exposed_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// RedisConfig holds the optional Redis connection. When disabled the API
// runs without rate limiting and history caching.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RiskConfig holds the calculation parameters
type RiskConfig struct {
	HistoryDays  int           `mapstructure:"history_days"`
	RiskFreeRate float64       `mapstructure:"risk_free_rate"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`

	MinSamples      int   `mapstructure:"min_samples"`
	MarginalSamples int   `mapstructure:"marginal_samples"`
	Simulations     int   `mapstructure:"simulations"`
	Seed            int64 `mapstructure:"seed"`

	LiquidationBase        float64 `mapstructure:"liquidation_base"`
	MarginCallRatio        float64 `mapstructure:"margin_call_ratio"`
	HighLeverageThreshold  float64 `mapstructure:"high_leverage_threshold"`
	ConcentrationThreshold float64 `mapstructure:"concentration_threshold"`
	LowResilienceThreshold float64 `mapstructure:"low_resilience_threshold"`

	HighLeverageWarning float64 `mapstructure:"high_leverage_warning"`

	RollingWindow int `mapstructure:"rolling_window"`
	RollingStep   int `mapstructure:"rolling_step"`

	Breaker service.BreakerConfig `mapstructure:"breaker"`
}

// Service maps the risk block onto the service and calculator configs
func (r RiskConfig) Service() service.Config {
	stress := risk.DefaultStressConfig()
	stress.LiquidationBase = r.LiquidationBase
	stress.MarginCallRatio = r.MarginCallRatio
	stress.HighLeverageThreshold = r.HighLeverageThreshold
	stress.ConcentrationThreshold = r.ConcentrationThreshold
	stress.LowResilienceThreshold = r.LowResilienceThreshold

	return service.Config{
		Tail: risk.TailConfig{
			MinSamples:      r.MinSamples,
			MarginalSamples: r.MarginalSamples,
			Simulations:     r.Simulations,
			Seed:            r.Seed,
		},
		Stress:       stress,
		Gate:         risk.GateConfig{HighLeverageWarning: r.HighLeverageWarning},
		Beta:         risk.BetaConfig{RollingWindow: r.RollingWindow, RollingStep: r.RollingStep},
		HistoryDays:  r.HistoryDays,
		RiskFreeRate: r.RiskFreeRate,
		FetchTimeout: r.FetchTimeout,
		Breaker:      r.Breaker,
	}
}

// Load reads configuration from defaults, an optional YAML file and RISK_*
// environment variables, in increasing order of precedence
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.StartTime = time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("environment", "development")
	v.SetDefault("version", "1.0.0")
	v.SetDefault("shutdown_timeout", 15*time.Second)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", "X-Client-ID"})
	v.SetDefault("cors.exposed_headers", []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 12*time.Hour)

	rl := ratelimit.DefaultConfig()
	v.SetDefault("rate_limit.global.limit", rl.Global.Limit)
	v.SetDefault("rate_limit.global.window", rl.Global.Window)
	v.SetDefault("rate_limit.per_client.limit", rl.PerClient.Limit)
	v.SetDefault("rate_limit.per_client.window", rl.PerClient.Window)
	v.SetDefault("rate_limit.calculation.limit", rl.Calculation.Limit)
	v.SetDefault("rate_limit.calculation.window", rl.Calculation.Window)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "portfolio_risk")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_lifetime", time.Hour)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 5*time.Minute)

	lc := logging.DefaultLogConfig()
	v.SetDefault("log.level", lc.Level)
	v.SetDefault("log.format", lc.Format)
	v.SetDefault("log.output", lc.Output)
	v.SetDefault("log.file_path", "")
	v.SetDefault("log.max_size", lc.MaxSize)
	v.SetDefault("log.max_backups", lc.MaxBackups)
	v.SetDefault("log.max_age", lc.MaxAge)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.slow_request_threshold", lc.SlowRequestThreshold)

	sc := service.DefaultConfig()
	v.SetDefault("risk.history_days", sc.HistoryDays)
	v.SetDefault("risk.risk_free_rate", sc.RiskFreeRate)
	v.SetDefault("risk.fetch_timeout", sc.FetchTimeout)
	v.SetDefault("risk.min_samples", sc.Tail.MinSamples)
	v.SetDefault("risk.marginal_samples", sc.Tail.MarginalSamples)
	v.SetDefault("risk.simulations", sc.Tail.Simulations)
	v.SetDefault("risk.seed", sc.Tail.Seed)
	v.SetDefault("risk.liquidation_base", sc.Stress.LiquidationBase)
	v.SetDefault("risk.margin_call_ratio", sc.Stress.MarginCallRatio)
	v.SetDefault("risk.high_leverage_threshold", sc.Stress.HighLeverageThreshold)
	v.SetDefault("risk.concentration_threshold", sc.Stress.ConcentrationThreshold)
	v.SetDefault("risk.low_resilience_threshold", sc.Stress.LowResilienceThreshold)
	v.SetDefault("risk.high_leverage_warning", sc.Gate.HighLeverageWarning)
	v.SetDefault("risk.rolling_window", sc.Beta.RollingWindow)
	v.SetDefault("risk.rolling_step", sc.Beta.RollingStep)
	v.SetDefault("risk.breaker.interval", sc.Breaker.Interval)
	v.SetDefault("risk.breaker.timeout", sc.Breaker.Timeout)
	v.SetDefault("risk.breaker.consecutive_failures", sc.Breaker.ConsecutiveFailures)
	v.SetDefault("risk.breaker.min_requests", sc.Breaker.MinRequests)
	v.SetDefault("risk.breaker.failure_ratio", sc.Breaker.FailureRatio)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := c.Database.DSN(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		errs = append(errs, errors.New("redis: address is required when enabled"))
	}

	r := c.Risk
	if r.HistoryDays <= 0 {
		errs = append(errs, errors.New("risk: history_days must be positive"))
	}
	if r.FetchTimeout <= 0 {
		errs = append(errs, errors.New("risk: fetch_timeout must be positive"))
	}
	if r.MinSamples < 2 {
		errs = append(errs, errors.New("risk: min_samples must be at least 2"))
	}
	if r.MarginalSamples < r.MinSamples {
		errs = append(errs, errors.New("risk: marginal_samples must not be below min_samples"))
	}
	if r.Simulations <= 0 {
		errs = append(errs, errors.New("risk: simulations must be positive"))
	}
	if r.LiquidationBase <= 0 || r.LiquidationBase > 100 {
		errs = append(errs, errors.New("risk: liquidation_base must be within (0, 100]"))
	}
	if r.MarginCallRatio <= 0 || r.MarginCallRatio >= 1 {
		errs = append(errs, errors.New("risk: margin_call_ratio must be within (0, 1)"))
	}
	if r.HighLeverageWarning <= 0 {
		errs = append(errs, errors.New("risk: high_leverage_warning must be positive"))
	}
	if r.RollingWindow < 2 || r.RollingStep < 1 {
		errs = append(errs, errors.New("risk: rolling_window must be at least 2 and rolling_step at least 1"))
	}
	if r.Breaker.ConsecutiveFailures == 0 {
		errs = append(errs, errors.New("risk: breaker.consecutive_failures must be positive"))
	}

	for name, rule := range map[string]ratelimit.Rule{
		"global":      c.RateLimit.Global,
		"per_client":  c.RateLimit.PerClient,
		"calculation": c.RateLimit.Calculation,
	} {
		if rule.Limit < 0 || (rule.Limit > 0 && rule.Window <= 0) {
			errs = append(errs, fmt.Errorf("rate_limit.%s: limit needs a positive window", name))
		}
	}

	return errors.Join(errs...)
}
