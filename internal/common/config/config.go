// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Template      TemplateConfig          `mapstructure:"template"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Site          SiteConfig              `mapstructure:"site"`
	Uploads       UploadConfig            `mapstructure:"uploads"`
	Throttle      ThrottleConfig          `mapstructure:"throttle"`
	Integrations  IntegrationConfig       `mapstructure:"integrations"`
	HTTP          HTTPConfig              `mapstructure:"http"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`

	// RegistryPath points at the activity registry. Empty skips the check.
	RegistryPath string `mapstructure:"registry_path"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	PageIndex string   `mapstructure:"page_index"`
}

// Enabled reports whether an elasticsearch cluster is configured.
func (e ElasticsearchConfig) Enabled() bool {
	return len(e.Addresses) > 0
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Landing page settings ---

// SiteConfig replaces the plugin options the landing page pipeline reads.
type SiteConfig struct {
	TemplateID       int    `mapstructure:"template_id"` // 0 means unset
	DefaultLogoID    int64  `mapstructure:"default_logo_id"`
	DefaultLogoURL   string `mapstructure:"default_logo_url"`
	EnableIPTracking bool   `mapstructure:"enable_ip_tracking"`
	PageAuthorID     int64  `mapstructure:"page_author_id"`
	ElementorVersion string `mapstructure:"elementor_version"`
	PageTitleFormat  string `mapstructure:"page_title_format"`
	BaseURL          string `mapstructure:"base_url"`
	RequireLogo      bool   `mapstructure:"require_logo"`
}

// TemplateIDPtr returns nil when no template is configured.
func (s SiteConfig) TemplateIDPtr() *int {
	if s.TemplateID <= 0 {
		return nil
	}
	id := s.TemplateID
	return &id
}

type UploadConfig struct {
	Dir               string   `mapstructure:"dir"`
	BaseURL           string   `mapstructure:"base_url"`
	ServePath         string   `mapstructure:"serve_path"` // empty disables static serving
	MaxBytes          int64    `mapstructure:"max_bytes"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

type ThrottleConfig struct {
	CookieName    string `mapstructure:"cookie_name"`
	RetentionDays int    `mapstructure:"retention_days"`
	RedisKey      string `mapstructure:"redis_key"`
}

// IntegrationConfig holds settings for the identity provisioning API and AWS.
type IntegrationConfig struct {
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`

	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled  bool   `mapstructure:"enabled"`
			TopicARN string `mapstructure:"topic_arn"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

type ProvisioningConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	BaseURL            string `mapstructure:"base_url"`
	APIKey             string `mapstructure:"api_key"`
	APISecret          string `mapstructure:"api_secret"`
	Timeout            int    `mapstructure:"timeout"` // milliseconds
	MaxUsernameRetries int    `mapstructure:"max_username_retries"`
}

type HTTPConfig struct {
	Address     string   `mapstructure:"address"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TemplateConfig holds settings for the template source resolver.
type TemplateConfig struct {
	CacheTTL int `mapstructure:"cache_ttl"` // milliseconds
}
