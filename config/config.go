package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Venue names recognised by the configuration and the adapters.
const (
	VenueBinance = "binance"
	VenueBybit   = "bybit"
	VenueBitget  = "bitget"
)

// Dispatcher admission modes.
const (
	DispatchWindow = "window"
	DispatchBucket = "bucket"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Reader    ReaderConfig    `yaml:"reader"`
	Poller    PollerConfig    `yaml:"poller"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	Trading   TradingConfig   `yaml:"trading"`
	Venues    VenuesConfig    `yaml:"venues"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// ReaderConfig bounds every individual venue call.
type ReaderConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	// VenueOrder fixes the fold order; unlisted enabled venues follow alphabetically.
	VenueOrder []string `yaml:"venue_order"`
}

type MatcherConfig struct {
	TopK   int  `yaml:"top_k"`
	Enrich bool `yaml:"enrich"`
}

type TradingConfig struct {
	TargetNotional float64 `yaml:"target_notional"`
	DryRun         bool    `yaml:"dry_run"`
}

type DispatcherConfig struct {
	Mode        string        `yaml:"mode"`
	Limit       int           `yaml:"limit"`
	Window      time.Duration `yaml:"window"`
	MaxInFlight int           `yaml:"max_in_flight"`
}

type VenueConfig struct {
	Enabled              bool             `yaml:"enabled"`
	BaseURL              string           `yaml:"base_url"`
	QuoteCurrency        string           `yaml:"quote_currency"`
	Symbols              []string         `yaml:"symbols"`
	FundingIntervalHours float64          `yaml:"funding_interval_hours"`
	FundingConcurrency   int              `yaml:"funding_concurrency"`
	APIKey               string           `yaml:"api_key"`
	APISecret            string           `yaml:"api_secret"`
	Passphrase           string           `yaml:"passphrase"`
	Dispatcher           DispatcherConfig `yaml:"dispatcher"`
}

// HasCredentials reports whether signed endpoints can be used.
func (v VenueConfig) HasCredentials() bool {
	return v.APIKey != "" && v.APISecret != ""
}

type VenuesConfig struct {
	Binance VenueConfig `yaml:"binance"`
	Bybit   VenueConfig `yaml:"bybit"`
	Bitget  VenueConfig `yaml:"bitget"`
}

// ByName returns the configuration of a known venue.
func (v *VenuesConfig) ByName(name string) (*VenueConfig, bool) {
	switch strings.ToLower(name) {
	case VenueBinance:
		return &v.Binance, true
	case VenueBybit:
		return &v.Bybit, true
	case VenueBitget:
		return &v.Bitget, true
	}
	return nil, false
}

// Enabled lists the enabled venue names alphabetically.
func (v *VenuesConfig) Enabled() []string {
	var out []string
	for _, name := range []string{VenueBinance, VenueBitget, VenueBybit} {
		if vc, _ := v.ByName(name); vc.Enabled {
			out = append(out, name)
		}
	}
	return out
}

type ChannelsConfig struct {
	ReportBuffer int `yaml:"report_buffer"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
	Redis RedisConfig `yaml:"redis"`
}

type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	PathStyle       bool          `yaml:"path_style"`
	Prefix          string        `yaml:"prefix"`
	Compression     string        `yaml:"compression"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	MaxBuffer       int           `yaml:"max_buffer"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RedisConfig backs the open position book used by the open and close modes.
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
}

type MetricsConfig struct {
	PrometheusAddr string           `yaml:"prometheus_addr"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type DashboardConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Address        string `yaml:"address"`
	MetricsHistory int    `yaml:"metrics_history"`
	LogHistory     int    `yaml:"log_history"`
	CycleHistory   int    `yaml:"cycle_history"`
}

func defaultVenue(quote string, limit int) VenueConfig {
	return VenueConfig{
		QuoteCurrency:        quote,
		FundingIntervalHours: 8,
		FundingConcurrency:   4,
		Dispatcher: DispatcherConfig{
			Mode:   DispatchWindow,
			Limit:  limit,
			Window: time.Second,
		},
	}
}

// Default returns a configuration with every optional value filled in.
func Default() Config {
	return Config{
		App:     AppConfig{Name: "fundingarb", Version: "dev"},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Reader:  ReaderConfig{Timeout: 10 * time.Second},
		Poller:  PollerConfig{Interval: time.Minute},
		Matcher: MatcherConfig{TopK: 10, Enrich: true},
		Trading: TradingConfig{TargetNotional: 100, DryRun: true},
		Venues: VenuesConfig{
			Binance: defaultVenue("USDT", 10),
			Bybit:   defaultVenue("USDT", 10),
			Bitget:  defaultVenue("USDT", 10),
		},
		Channels: ChannelsConfig{ReportBuffer: 16},
		Storage: StorageConfig{
			S3:    S3Config{Compression: "snappy", FlushInterval: 5 * time.Minute, MaxBuffer: 5000, Prefix: "funding"},
			Redis: RedisConfig{Addr: "localhost:6379", KeyPrefix: "fundingarb", LockTTL: time.Minute},
		},
		Metrics: MetricsConfig{CloudWatch: CloudWatchConfig{Namespace: "FundingArb", Dashboard: "FundingArb"}},
	}
}

// LoadConfig reads the YAML file at path on top of Default, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(cfg *Config) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&cfg.Venues.Binance.APIKey, "BINANCE_API_KEY")
	set(&cfg.Venues.Binance.APISecret, "BINANCE_API_SECRET")
	set(&cfg.Venues.Bybit.APIKey, "BYBIT_API_KEY")
	set(&cfg.Venues.Bybit.APISecret, "BYBIT_API_SECRET")
	set(&cfg.Venues.Bitget.APIKey, "BITGET_API_KEY")
	set(&cfg.Venues.Bitget.APISecret, "BITGET_API_SECRET")
	set(&cfg.Venues.Bitget.Passphrase, "BITGET_PASSPHRASE")

	if cfg.Storage.S3.Enabled {
		set(&cfg.Storage.S3.AccessKeyID, "AWS_ACCESS_KEY_ID")
		set(&cfg.Storage.S3.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
		set(&cfg.Storage.S3.Region, "AWS_REGION")
		set(&cfg.Storage.S3.Bucket, "S3_BUCKET")
	}
	if cfg.Storage.Redis.Enabled {
		set(&cfg.Storage.Redis.Addr, "REDIS_ADDR")
		set(&cfg.Storage.Redis.Password, "REDIS_PASSWORD")
	}
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if cfg.Reader.Timeout <= 0 {
		return fmt.Errorf("reader.timeout must be greater than 0")
	}
	if cfg.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be greater than 0")
	}
	if cfg.Matcher.TopK <= 0 {
		return fmt.Errorf("matcher.top_k must be greater than 0")
	}
	if cfg.Trading.TargetNotional <= 0 {
		return fmt.Errorf("trading.target_notional must be greater than 0")
	}
	if cfg.Channels.ReportBuffer <= 0 {
		return fmt.Errorf("channels.report_buffer must be greater than 0")
	}

	enabled := cfg.Venues.Enabled()
	if len(enabled) < 2 {
		return fmt.Errorf("at least two venues must be enabled, got %d", len(enabled))
	}
	for _, name := range enabled {
		vc, _ := cfg.Venues.ByName(name)
		if err := validateVenue(name, vc); err != nil {
			return err
		}
	}

	seen := make(map[string]bool)
	for _, name := range cfg.Poller.VenueOrder {
		if _, ok := cfg.Venues.ByName(name); !ok {
			return fmt.Errorf("poller.venue_order: unknown venue '%s'", name)
		}
		if seen[strings.ToLower(name)] {
			return fmt.Errorf("poller.venue_order: duplicate venue '%s'", name)
		}
		seen[strings.ToLower(name)] = true
	}

	if !cfg.Trading.DryRun && IsProductionLike(AppEnvironment()) {
		for _, name := range enabled {
			vc, _ := cfg.Venues.ByName(name)
			if !vc.HasCredentials() {
				return fmt.Errorf("venues.%s credentials are required for live trading in %s", name, AppEnvironment())
			}
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
		if cfg.Storage.S3.FlushInterval <= 0 {
			return fmt.Errorf("storage.s3.flush_interval must be greater than 0")
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when kafka is enabled")
		}
	}

	if cfg.Storage.Redis.Enabled {
		if cfg.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required when redis is enabled")
		}
		if cfg.Storage.Redis.LockTTL <= 0 {
			return fmt.Errorf("storage.redis.lock_ttl must be greater than 0")
		}
	}

	return nil
}

func validateVenue(name string, vc *VenueConfig) error {
	prefix := "venues." + name
	if vc.FundingIntervalHours <= 0 {
		return fmt.Errorf("%s.funding_interval_hours must be greater than 0", prefix)
	}
	if vc.FundingConcurrency <= 0 {
		return fmt.Errorf("%s.funding_concurrency must be greater than 0", prefix)
	}
	d := vc.Dispatcher
	switch d.Mode {
	case DispatchWindow, DispatchBucket:
	default:
		return fmt.Errorf("%s.dispatcher.mode '%s' is invalid", prefix, d.Mode)
	}
	if d.Limit <= 0 {
		return fmt.Errorf("%s.dispatcher.limit must be greater than 0", prefix)
	}
	if d.Window <= 0 {
		return fmt.Errorf("%s.dispatcher.window must be greater than 0", prefix)
	}
	if d.MaxInFlight < 0 {
		return fmt.Errorf("%s.dispatcher.max_in_flight must not be negative", prefix)
	}
	if name == VenueBitget && vc.HasCredentials() && vc.Passphrase == "" {
		return fmt.Errorf("%s.passphrase is required with api credentials", prefix)
	}
	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
