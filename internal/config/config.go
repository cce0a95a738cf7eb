package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the full service configuration, loaded once at startup.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Approval ApprovalConfig `mapstructure:"approval"`
}

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	SSLMode     string        `mapstructure:"sslmode"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	MaxConnTime time.Duration `mapstructure:"max_conn_time"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
	HealthCheck time.Duration `mapstructure:"health_check"`
}

// StoreConfig selects the persistence backend: "postgres" or "memory".
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type TracingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	OutputFile string `mapstructure:"output_file"`
}

// ApprovalConfig holds workflow defaults and the static role policy consumed
// by the security service.
type ApprovalConfig struct {
	WorkflowType     string        `mapstructure:"workflow_type"`
	WorkflowName     string        `mapstructure:"workflow_name"`
	DefaultSteps     []StepConfig  `mapstructure:"default_steps"`
	RequireAllLevels bool          `mapstructure:"require_all_levels"`
	AllowSkipLevels  bool          `mapstructure:"allow_skip_levels"`
	DefaultDeadline  time.Duration `mapstructure:"default_deadline"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	BulkMaxItems     int           `mapstructure:"bulk_max_items"`
	BulkConcurrency  int           `mapstructure:"bulk_concurrency"`
	PendingLimit     int           `mapstructure:"pending_limit"`
	Policy           PolicyConfig  `mapstructure:"policy"`
}

// StepConfig declares one level of the default workflow. A step without a
// required key is required.
type StepConfig struct {
	Level     int      `mapstructure:"level"`
	Role      string   `mapstructure:"role"`
	Required  *bool    `mapstructure:"required"`
	Title     string   `mapstructure:"title"`
	Delegates []string `mapstructure:"delegates"`
}

// IsRequired reports whether the step must be signed off.
func (s StepConfig) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// PolicyConfig is the role policy. Grants lists "role:acts_as_role" pairs,
// Inherits lists "parent:child" role inheritance, GlobalRoles are exempt from
// institution scoping. An approval by one of CompleteRoles finishes the chain.
type PolicyConfig struct {
	Grants        []string `mapstructure:"grants"`
	Inherits      []string `mapstructure:"inherits"`
	GlobalRoles   []string `mapstructure:"global_roles"`
	CompleteRoles []string `mapstructure:"complete_roles"`
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// Load reads configuration from defaults, an optional file and ATIS_* env vars.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ATIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return errors.Errorf("store.driver must be postgres or memory, got %q", c.Store.Driver)
	}
	if len(c.Approval.DefaultSteps) == 0 {
		return errors.New("approval.default_steps must declare at least one level")
	}
	if c.Approval.BulkMaxItems <= 0 {
		return errors.New("approval.bulk_max_items must be positive")
	}
	if c.Approval.BulkConcurrency <= 0 {
		return errors.New("approval.bulk_concurrency must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "be-survey-approvals")
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.environment", "development")

	v.SetDefault("server.port", 8086)
	v.SetDefault("server.grpc_port", 9086)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "atis")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "atis")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_time", time.Hour)
	v.SetDefault("database.max_idle_time", 30*time.Minute)
	v.SetDefault("database.health_check", time.Minute)

	v.SetDefault("store.driver", "postgres")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "notifications.survey_approval")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("tracing.enabled", false)

	v.SetDefault("approval.workflow_type", "survey_response")
	v.SetDefault("approval.workflow_name", "Survey Response Approval")
	v.SetDefault("approval.default_steps", []map[string]any{
		{"level": 1, "role": "schooladmin", "required": true, "title": "School Admin Review"},
		{"level": 2, "role": "sektoradmin", "required": true, "title": "Sector Admin Approval"},
		{"level": 3, "role": "regionadmin", "required": false, "title": "Regional Review"},
	})
	v.SetDefault("approval.require_all_levels", false)
	v.SetDefault("approval.allow_skip_levels", true)
	v.SetDefault("approval.default_deadline", 7*24*time.Hour)
	v.SetDefault("approval.cache_ttl", 5*time.Minute)
	v.SetDefault("approval.bulk_max_items", 200)
	v.SetDefault("approval.bulk_concurrency", 4)
	v.SetDefault("approval.pending_limit", 50)
	v.SetDefault("approval.policy.grants", []string{
		"schooladmin:schooladmin",
		"sektoradmin:sektoradmin",
		"regionadmin:regionadmin",
	})
	v.SetDefault("approval.policy.inherits", []string{
		"superadmin:regionadmin",
		"superadmin:sektoradmin",
		"superadmin:schooladmin",
	})
	v.SetDefault("approval.policy.global_roles", []string{"superadmin"})
	v.SetDefault("approval.policy.complete_roles", []string{"superadmin"})
}
