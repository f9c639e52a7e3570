package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the warden service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Limits        LimitsConfig        `mapstructure:"limits"`
	Blocking      BlockingConfig      `mapstructure:"blocking"`
	Reset         ResetConfig         `mapstructure:"reset"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	AccessControl AccessControlConfig `mapstructure:"access_control"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Bootstrap     BootstrapConfig     `mapstructure:"bootstrap"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	ReadHeaderTimeout     time.Duration `mapstructure:"read_header_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MinConns        int32         `mapstructure:"min_conns"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// LimitsConfig holds the hard-fallback quota limits and evaluation thresholds.
// Per-user and per-team overrides stored in the database take precedence.
type LimitsConfig struct {
	DefaultDaily      int           `mapstructure:"default_daily"`
	DefaultMonthly    int           `mapstructure:"default_monthly"`
	WarningThreshold  float64       `mapstructure:"warning_threshold"`
	CriticalThreshold float64       `mapstructure:"critical_threshold"`
	Timezone          string        `mapstructure:"timezone"`
	ResolveCacheTTL   time.Duration `mapstructure:"resolve_cache_ttl"`
}

type BlockingConfig struct {
	AdminDefaultDuration time.Duration `mapstructure:"admin_default_duration"`
	// ExpireIndefiniteAutoBlocks widens the scheduled sweep to rows without a
	// blocked_until timestamp. Off by default: indefinite blocks then stay
	// until an operator releases them.
	ExpireIndefiniteAutoBlocks bool          `mapstructure:"expire_indefinite_auto_blocks"`
	StatusCacheTTL             time.Duration `mapstructure:"status_cache_ttl"`
}

type ResetConfig struct {
	Schedule   string        `mapstructure:"schedule"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

type NotificationsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Webhooks      []string      `mapstructure:"webhooks"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	WarningDedup  bool          `mapstructure:"warning_dedup"`
	SenderName    string        `mapstructure:"sender_name"`
	SupportEmail  string        `mapstructure:"support_email"`
	AdminContacts []string      `mapstructure:"admin_contacts"`
}

// AccessControlConfig selects how block decisions propagate to the upstream
// access layer. Provider "log" records the decision only; "iam" attaches an
// inline deny policy to the IAM user.
type AccessControlConfig struct {
	Provider        string        `mapstructure:"provider"`
	Region          string        `mapstructure:"region"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	AssumeRoleARN   string        `mapstructure:"assume_role_arn"`
	PolicySuffix    string        `mapstructure:"policy_suffix"`
	DenyActions     []string      `mapstructure:"deny_actions"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

type AuthConfig struct {
	// Disabled turns off admin-key checks; intended for local development only.
	Disabled bool `mapstructure:"disabled"`
}

type BootstrapConfig struct {
	Teams     []BootstrapTeam     `mapstructure:"teams"`
	Users     []BootstrapUser     `mapstructure:"users"`
	AdminKeys []BootstrapAdminKey `mapstructure:"admin_keys"`
}

type BootstrapTeam struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type BootstrapUser struct {
	ID    string `mapstructure:"id"`
	Team  string `mapstructure:"team"`
	Email string `mapstructure:"email"`
	Name  string `mapstructure:"name"`
}

type BootstrapAdminKey struct {
	Name   string `mapstructure:"name"`
	Prefix string `mapstructure:"prefix"`
	Secret string `mapstructure:"secret"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else {
		if cfg := os.Getenv("WARDEN_CONFIG_FILE"); cfg != "" {
			v.SetConfigFile(cfg)
			explicitFile = true
		}
	}

	if !explicitFile {
		// Allow standard lookup locations when no explicit file is provided.
		v.SetConfigName("warden")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set.
func (c *Config) Validate() error {
	var missing []string

	if c.Database.URL == "" {
		missing = append(missing, "WARDEN_DATABASE_URL")
	}
	if c.Redis.URL == "" {
		missing = append(missing, "WARDEN_REDIS_URL")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	// Zero or negative limits are tolerated at evaluation time (treated as
	// unlimited with a logged warning); the configured fallbacks must still
	// be sane because they are the last resort for every user.
	if c.Limits.DefaultDaily <= 0 {
		return fmt.Errorf("limits.default_daily must be > 0")
	}
	if c.Limits.DefaultMonthly <= 0 {
		return fmt.Errorf("limits.default_monthly must be > 0")
	}
	if c.Limits.WarningThreshold <= 0 || c.Limits.WarningThreshold >= 1 {
		return fmt.Errorf("limits.warning_threshold must be between 0 and 1 exclusive")
	}
	if c.Limits.CriticalThreshold <= 0 || c.Limits.CriticalThreshold >= 1 {
		return fmt.Errorf("limits.critical_threshold must be between 0 and 1 exclusive")
	}
	if c.Limits.CriticalThreshold <= c.Limits.WarningThreshold {
		return fmt.Errorf("limits.critical_threshold must be greater than limits.warning_threshold")
	}

	tz := strings.TrimSpace(c.Limits.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("invalid limits.timezone: %w", err)
	}
	c.Limits.Timezone = tz
	if c.Limits.ResolveCacheTTL <= 0 {
		c.Limits.ResolveCacheTTL = 5 * time.Minute
	}

	if c.Blocking.AdminDefaultDuration <= 0 {
		return fmt.Errorf("blocking.admin_default_duration must be > 0")
	}
	if c.Blocking.StatusCacheTTL <= 0 {
		c.Blocking.StatusCacheTTL = 30 * time.Second
	}

	if strings.TrimSpace(c.Reset.Schedule) == "" {
		return fmt.Errorf("reset.schedule must be provided")
	}
	if c.Reset.RunTimeout <= 0 {
		c.Reset.RunTimeout = 5 * time.Minute
	}

	c.Notifications.Webhooks = normalizeStringSlice(c.Notifications.Webhooks)
	c.Notifications.AdminContacts = normalizeStringSlice(c.Notifications.AdminContacts)
	if c.Notifications.Timeout <= 0 {
		c.Notifications.Timeout = 5 * time.Second
	}
	if c.Notifications.MaxRetries <= 0 {
		c.Notifications.MaxRetries = 3
	}

	if err := c.AccessControl.validate(); err != nil {
		return err
	}

	if c.Database.RunMigrations && c.Database.MigrationsDir == "" {
		return fmt.Errorf("database.migrations_dir must be provided when run_migrations is true")
	}
	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}

	if err := c.Bootstrap.validate(); err != nil {
		return err
	}

	return nil
}

func (a *AccessControlConfig) validate() error {
	provider := strings.ToLower(strings.TrimSpace(a.Provider))
	if provider == "" {
		provider = "log"
	}
	switch provider {
	case "log", "iam":
	default:
		return fmt.Errorf("access_control.provider must be log or iam")
	}
	a.Provider = provider

	if a.Timeout <= 0 {
		a.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(a.PolicySuffix) == "" {
		a.PolicySuffix = "_UsagePolicy"
	}
	a.DenyActions = normalizeStringSlice(a.DenyActions)

	if provider == "iam" {
		if strings.TrimSpace(a.Region) == "" {
			return fmt.Errorf("access_control.region must be provided when provider is iam")
		}
		if len(a.DenyActions) == 0 {
			return fmt.Errorf("access_control.deny_actions must be provided when provider is iam")
		}
	}
	return nil
}

func (b *BootstrapConfig) validate() error {
	for i, team := range b.Teams {
		if strings.TrimSpace(team.ID) == "" {
			return fmt.Errorf("bootstrap.teams[%d].id must be provided", i)
		}
		if strings.TrimSpace(team.Name) == "" {
			return fmt.Errorf("bootstrap.teams[%d].name must be provided", i)
		}
	}
	for i, user := range b.Users {
		if strings.TrimSpace(user.ID) == "" {
			return fmt.Errorf("bootstrap.users[%d].id must be provided", i)
		}
	}
	for i, key := range b.AdminKeys {
		if strings.TrimSpace(key.Name) == "" {
			return fmt.Errorf("bootstrap.admin_keys[%d].name must be provided", i)
		}
		if strings.TrimSpace(key.Prefix) == "" {
			return fmt.Errorf("bootstrap.admin_keys[%d].prefix must be provided", i)
		}
		if strings.TrimSpace(key.Secret) == "" {
			return fmt.Errorf("bootstrap.admin_keys[%d].secret must be provided", i)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 5)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("limits.default_daily", 350)
	v.SetDefault("limits.default_monthly", 5000)
	v.SetDefault("limits.warning_threshold", 0.60)
	v.SetDefault("limits.critical_threshold", 0.85)
	v.SetDefault("limits.timezone", "UTC")
	v.SetDefault("limits.resolve_cache_ttl", "5m")

	v.SetDefault("blocking.admin_default_duration", "24h")
	v.SetDefault("blocking.expire_indefinite_auto_blocks", false)
	v.SetDefault("blocking.status_cache_ttl", "30s")

	v.SetDefault("reset.schedule", "5 0 * * *")
	v.SetDefault("reset.run_timeout", "5m")

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.webhooks", []string{})
	v.SetDefault("notifications.timeout", "5s")
	v.SetDefault("notifications.max_retries", 3)
	v.SetDefault("notifications.warning_dedup", true)
	v.SetDefault("notifications.sender_name", "usage warden")

	v.SetDefault("access_control.provider", "log")
	v.SetDefault("access_control.policy_suffix", "_UsagePolicy")
	v.SetDefault("access_control.timeout", "10s")

	v.SetDefault("observability.enable_otlp", true)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")

	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.migrations_dir", "./migrations")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("auth.disabled", false)
}

// Location returns the parsed reporting timezone. Validate has already
// checked it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Limits.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func normalizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clean := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
