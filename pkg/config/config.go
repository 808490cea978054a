package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stitts-dev/stream-planner/pkg/types"
)

type Config struct {
	// Server
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	// Logging
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Redis
	RedisURL     string        `mapstructure:"REDIS_URL"`
	PlanCacheTTL time.Duration `mapstructure:"PLAN_CACHE_TTL"`

	// Engine
	EngineConfigPath string `mapstructure:"ENGINE_CONFIG_PATH"`
	WeeklyBudget     int    `mapstructure:"WEEKLY_BUDGET"`
	DailyCapacity    string `mapstructure:"DAILY_CAPACITY"`

	// Daily advance
	EnableDailyAdvance bool   `mapstructure:"ENABLE_DAILY_ADVANCE"`
	DailyAdvanceCron   string `mapstructure:"DAILY_ADVANCE_CRON"`
	WeekStartDay       string `mapstructure:"WEEK_START_DAY"`

	// External data sources
	SnapshotDir             string        `mapstructure:"SNAPSHOT_DIR"`
	ExternalAPITimeout      time.Duration `mapstructure:"EXTERNAL_API_TIMEOUT"`
	CircuitBreakerThreshold int           `mapstructure:"CIRCUIT_BREAKER_THRESHOLD"`

	Capacity [types.DaysPerWeek]int `mapstructure:"-"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "")
	viper.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	viper.SetDefault("PLAN_CACHE_TTL", "10m")
	viper.SetDefault("ENGINE_CONFIG_PATH", "")
	viper.SetDefault("WEEKLY_BUDGET", 7)
	viper.SetDefault("DAILY_CAPACITY", "1,1,1,1,1,1,1")
	viper.SetDefault("ENABLE_DAILY_ADVANCE", false)
	viper.SetDefault("DAILY_ADVANCE_CRON", "0 6 * * *")
	viper.SetDefault("WEEK_START_DAY", "monday")
	viper.SetDefault("SNAPSHOT_DIR", "")
	viper.SetDefault("EXTERNAL_API_TIMEOUT", "10s")
	viper.SetDefault("CIRCUIT_BREAKER_THRESHOLD", 5)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	capacity, err := ParseCapacity(config.DailyCapacity)
	if err != nil {
		return nil, err
	}
	config.Capacity = capacity

	if config.WeeklyBudget < 0 {
		return nil, fmt.Errorf("WEEKLY_BUDGET must be non-negative, got %d", config.WeeklyBudget)
	}
	if _, err := ParseWeekday(config.WeekStartDay); err != nil {
		return nil, err
	}

	return &config, nil
}

// ParseCapacity reads a comma-separated list of seven non-negative slot counts
func ParseCapacity(raw string) ([types.DaysPerWeek]int, error) {
	var capacity [types.DaysPerWeek]int
	parts := strings.Split(raw, ",")
	if len(parts) != types.DaysPerWeek {
		return capacity, fmt.Errorf("DAILY_CAPACITY needs %d values, got %d", types.DaysPerWeek, len(parts))
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return capacity, fmt.Errorf("DAILY_CAPACITY value %q: %w", p, err)
		}
		if n < 0 {
			return capacity, fmt.Errorf("DAILY_CAPACITY value for day %d is negative", i)
		}
		capacity[i] = n
	}
	return capacity, nil
}

// ParseWeekday maps a weekday name onto time.Weekday
func ParseWeekday(name string) (time.Weekday, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == lower {
			return d, nil
		}
	}
	return time.Monday, fmt.Errorf("unknown week start day %q", name)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
