package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override (ERPSYNC_WEBHOOK_SECRET, ...).
const EnvPrefix = "ERPSYNC"

// Config is the full service configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Markers    MarkersConfig    `mapstructure:"markers"`
	Storefront StorefrontConfig `mapstructure:"storefront"`
	ERP        ERPConfig        `mapstructure:"erp"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type AppConfig struct {
	Name     string `mapstructure:"name" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

type ServerConfig struct {
	Addr       string `mapstructure:"addr" validate:"required"`
	AdminToken string `mapstructure:"admin_token"`
	RunLocal   bool   `mapstructure:"run_local"`
}

// WebhookConfig covers signature verification and raw request archival.
// An empty Secret is allowed at load time; every signed delivery is then rejected.
type WebhookConfig struct {
	Secret          string `mapstructure:"secret"`
	ArchiveDir      string `mapstructure:"archive_dir"`
	ArchiveS3Bucket string `mapstructure:"archive_s3_bucket"`
	ArchiveS3Prefix string `mapstructure:"archive_s3_prefix"`
}

type QueueConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=memory sqs"`
	QueueURL  string `mapstructure:"queue_url" validate:"required_if=Backend sqs"`
	DepthWarn int    `mapstructure:"depth_warn" validate:"min=0"`
}

type WorkerConfig struct {
	JobTimeout   time.Duration `mapstructure:"job_timeout" validate:"min=0"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"min=1"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" validate:"min=0"`
}

type MarkersConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=file dynamodb memory"`
	Dir     string `mapstructure:"dir" validate:"required_if=Backend file"`
	Table   string `mapstructure:"table" validate:"required_if=Backend dynamodb"`
}

type StorefrontConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`
	ConsumerKey    string        `mapstructure:"consumer_key"`
	ConsumerSecret string        `mapstructure:"consumer_secret"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit" validate:"min=0"`
}

// ERPConfig holds the ERP connection plus the accounting choices the
// document stages need.
type ERPConfig struct {
	BaseURL              string            `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey               string            `mapstructure:"api_key"`
	APISecret            string            `mapstructure:"api_secret"`
	Timeout              time.Duration     `mapstructure:"timeout"`
	RateLimit            float64           `mapstructure:"rate_limit" validate:"min=0"`
	Burst                int               `mapstructure:"burst" validate:"min=0"`
	Company              string            `mapstructure:"company"`
	ExternalRefPrefix    string            `mapstructure:"external_ref_prefix" validate:"required"`
	DefaultModeOfPayment string            `mapstructure:"default_mode_of_payment"`
	ModeOfPayment        map[string]string `mapstructure:"mode_of_payment"`
	ShippingAccount      string            `mapstructure:"shipping_account"`
	TaxAccount           string            `mapstructure:"tax_account"`
	DeliveryNotes        bool              `mapstructure:"delivery_notes"`
}

type MetricsConfig struct {
	Namespace string        `mapstructure:"namespace"`
	Interval  time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "erpsync")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.run_local", false)
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.archive_dir", "data/webhooks")
	v.SetDefault("webhook.archive_s3_bucket", "")
	v.SetDefault("webhook.archive_s3_prefix", "webhooks")
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.queue_url", "")
	v.SetDefault("queue.depth_warn", 500)
	v.SetDefault("worker.job_timeout", 2*time.Minute)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.retry_backoff", 5*time.Second)
	v.SetDefault("markers.backend", "file")
	v.SetDefault("markers.dir", "data/markers")
	v.SetDefault("markers.table", "")
	v.SetDefault("storefront.base_url", "")
	v.SetDefault("storefront.consumer_key", "")
	v.SetDefault("storefront.consumer_secret", "")
	v.SetDefault("storefront.timeout", 30*time.Second)
	v.SetDefault("storefront.rate_limit", 5)
	v.SetDefault("erp.base_url", "")
	v.SetDefault("erp.api_key", "")
	v.SetDefault("erp.api_secret", "")
	v.SetDefault("erp.timeout", 30*time.Second)
	v.SetDefault("erp.rate_limit", 10)
	v.SetDefault("erp.burst", 5)
	v.SetDefault("erp.company", "")
	v.SetDefault("erp.external_ref_prefix", "EXT-")
	v.SetDefault("erp.default_mode_of_payment", "")
	v.SetDefault("erp.shipping_account", "")
	v.SetDefault("erp.tax_account", "")
	v.SetDefault("erp.delivery_notes", false)
	v.SetDefault("metrics.namespace", "")
	v.SetDefault("metrics.interval", time.Minute)
}

// Load reads an optional YAML file and overlays ERPSYNC_* environment variables.
// A .env file in the working directory is loaded first when present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validatorv10.New().Struct(c); err != nil {
		var ve validatorv10.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return fmt.Errorf("invalid config: %s", ve[0].Namespace()+" failed "+ve[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
