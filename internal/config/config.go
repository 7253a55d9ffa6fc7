// Package config loads the job configuration from an optional YAML file,
// .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// REDASH_EXTRACT_REDASH_BASE_URL for redash.base_url.
const EnvPrefix = "REDASH_EXTRACT"

// Config holds all configuration of the extraction job.
type Config struct {
	Redash  RedashConfig  `mapstructure:"redash"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Report  ReportConfig  `mapstructure:"report"`
	Publish PublishConfig `mapstructure:"publish"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// RedashConfig locates the query engine and its credential.
type RedashConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`

	// APIKey wins over the credential sheet when both are set.
	APIKey             string        `mapstructure:"api_key"`
	CredentialSheetURL string        `mapstructure:"credential_sheet_url" validate:"omitempty,url"`
	CredentialKind     string        `mapstructure:"credential_kind"`
	HTTPTimeout        time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
	RateLimit          float64       `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst          int           `mapstructure:"rate_burst" validate:"gte=0"`
}

// RetryConfig sets the attempt budgets and fixed delays.
type RetryConfig struct {
	SubmitAttempts int           `mapstructure:"submit_attempts" validate:"gte=1"`
	SubmitDelay    time.Duration `mapstructure:"submit_delay" validate:"gte=0"`
	PollAttempts   int           `mapstructure:"poll_attempts" validate:"gte=0"`
	PollDelay      time.Duration `mapstructure:"poll_delay" validate:"gte=0"`
	QueryAttempts  int           `mapstructure:"query_attempts" validate:"gte=1"`
	QueryDelay     time.Duration `mapstructure:"query_delay" validate:"gte=0"`
}

// CacheConfig enables the Redis result cache.
type CacheConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// Enabled reports whether query results are cached.
func (c CacheConfig) Enabled() bool {
	return c.RedisURL != "" && c.TTL > 0
}

// PaginatedQuery names a count query and its page query.
type PaginatedQuery struct {
	CountQuery string `mapstructure:"count_query" validate:"required"`
	PageQuery  string `mapstructure:"page_query" validate:"required"`
	PageSize   int64  `mapstructure:"page_size" validate:"gt=0"`
}

// ReportConfig drives the report run.
type ReportConfig struct {
	Timezone     string         `mapstructure:"timezone" validate:"required"`
	Monthly      PaginatedQuery `mapstructure:"monthly"`
	Daily        PaginatedQuery `mapstructure:"daily"`
	Days         int            `mapstructure:"days" validate:"gte=1"`
	LookbackDays int            `mapstructure:"lookback_days" validate:"gte=0"`
	Partitions   int            `mapstructure:"partitions" validate:"gte=1"`
	Pause        time.Duration  `mapstructure:"pause" validate:"gte=0"`
	OutputDir    string         `mapstructure:"output_dir" validate:"required"`

	// DailyFile is a fmt pattern taking the 1-based partition number.
	DailyFile   string `mapstructure:"daily_file" validate:"required"`
	MonthlyFile string `mapstructure:"monthly_file" validate:"required"`

	CountField  string `mapstructure:"count_field" validate:"required"`
	StartParam  string `mapstructure:"start_param" validate:"required"`
	EndParam    string `mapstructure:"end_param" validate:"required"`
	OffsetParam string `mapstructure:"offset_param" validate:"required"`
	LimitParam  string `mapstructure:"limit_param" validate:"required"`
}

// PublishConfig selects the destination of the report files.
type PublishConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=drive gcs s3 azure minio local"`
	Prefix  string `mapstructure:"prefix"`

	Local struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"local"`

	Drive struct {
		FolderID        string `mapstructure:"folder_id"`
		CredentialsFile string `mapstructure:"credentials_file"`
		CredentialsJSON string `mapstructure:"credentials_json"`
	} `mapstructure:"drive"`

	GCS struct {
		Bucket          string `mapstructure:"bucket"`
		CredentialsFile string `mapstructure:"credentials_file"`
	} `mapstructure:"gcs"`

	S3 struct {
		Bucket          string `mapstructure:"bucket"`
		Region          string `mapstructure:"region"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		UsePathStyle    bool   `mapstructure:"use_path_style"`
	} `mapstructure:"s3"`

	Azure struct {
		AccountName string `mapstructure:"account_name"`
		AccountKey  string `mapstructure:"account_key"`
		Container   string `mapstructure:"container"`
		ServiceURL  string `mapstructure:"service_url"`
	} `mapstructure:"azure"`

	MinIO struct {
		Endpoint  string `mapstructure:"endpoint"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		Bucket    string `mapstructure:"bucket"`
		Region    string `mapstructure:"region"`
		UseSSL    bool   `mapstructure:"use_ssl"`
	} `mapstructure:"minio"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Pretty bool   `mapstructure:"pretty"`
	File   string `mapstructure:"file"`
}

// MetricsConfig configures the Pushgateway push at the end of a run.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" validate:"omitempty,url"`
	Job            string `mapstructure:"job"`
}

var defaults = map[string]any{
	"redash.credential_sheet_url": "",
	"redash.credential_kind":      "redash",
	"redash.http_timeout":         60 * time.Second,
	"redash.rate_limit":           0.0,
	"redash.rate_burst":           1,

	"retry.submit_attempts": 3,
	"retry.submit_delay":    10 * time.Second,
	"retry.poll_attempts":   0,
	"retry.poll_delay":      10 * time.Second,
	"retry.query_attempts":  20,
	"retry.query_delay":     5 * time.Second,

	"cache.redis_url": "",
	"cache.ttl":       time.Duration(0),

	"report.timezone":            "Asia/Ho_Chi_Minh",
	"report.monthly.count_query": "346",
	"report.monthly.page_query":  "345",
	"report.monthly.page_size":   50000,
	"report.daily.count_query":   "344",
	"report.daily.page_query":    "341",
	"report.daily.page_size":     50000,
	"report.days":                30,
	"report.lookback_days":       61,
	"report.partitions":          7,
	"report.pause":               3 * time.Second,
	"report.output_dir":          "Auto_CX_Data",
	"report.daily_file":          "daily_reports_last_30_days_%d.pq",
	"report.monthly_file":        "daily_reports_last_3_months.pq",
	"report.count_field":         "total_orders",
	"report.start_param":         "start",
	"report.end_param":           "end",
	"report.offset_param":        "OFFSET",
	"report.limit_param":         "no_of_row",

	"publish.backend":   "local",
	"publish.prefix":    "",
	"publish.local.dir": "published",

	"publish.drive.folder_id":        "",
	"publish.drive.credentials_file": "",
	"publish.drive.credentials_json": "",
	"publish.gcs.bucket":             "",
	"publish.gcs.credentials_file":   "",
	"publish.s3.bucket":              "",
	"publish.s3.region":              "",
	"publish.s3.endpoint":            "",
	"publish.s3.access_key_id":       "",
	"publish.s3.secret_access_key":   "",
	"publish.s3.use_path_style":      false,
	"publish.azure.account_name":     "",
	"publish.azure.account_key":      "",
	"publish.azure.container":        "",
	"publish.azure.service_url":      "",
	"publish.minio.endpoint":         "",
	"publish.minio.access_key":       "",
	"publish.minio.secret_key":       "",
	"publish.minio.bucket":           "",
	"publish.minio.region":           "",
	"publish.minio.use_ssl":          true,

	"log.level":  "info",
	"log.pretty": false,
	"log.file":   "",

	"metrics.pushgateway_url": "",
	"metrics.job":             "redash_extract",
}

// Options controls where Load looks for configuration.
type Options struct {
	// File is an optional YAML config file.
	File string

	// EnvFiles are loaded into the environment before reading it. Missing
	// files are skipped. Variables already set are not overridden.
	EnvFiles []string
}

var validate = validator.New()

// Load reads the configuration. Precedence, highest first: environment,
// config file, defaults.
func Load(opts Options) (*Config, error) {
	for _, f := range opts.EnvFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional names for the secrets, without prefix
	if err := v.BindEnv("redash.api_key", EnvPrefix+"_REDASH_API_KEY", "REDASH_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("redash.base_url", EnvPrefix+"_REDASH_BASE_URL", "REDASH_BASE_URL"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", opts.File, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the settings the selected backend
// needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Redash.APIKey == "" && c.Redash.CredentialSheetURL == "" {
		return fmt.Errorf("invalid config: redash.api_key or redash.credential_sheet_url is required")
	}
	if !strings.Contains(c.Report.DailyFile, "%d") {
		return fmt.Errorf("invalid config: report.daily_file must contain %%d")
	}

	p := c.Publish
	var missing []string
	switch p.Backend {
	case "local":
		if p.Local.Dir == "" {
			missing = append(missing, "publish.local.dir")
		}
	case "drive":
		if p.Drive.FolderID == "" {
			missing = append(missing, "publish.drive.folder_id")
		}
		if p.Drive.CredentialsFile == "" && p.Drive.CredentialsJSON == "" {
			missing = append(missing, "publish.drive.credentials_file")
		}
	case "gcs":
		if p.GCS.Bucket == "" {
			missing = append(missing, "publish.gcs.bucket")
		}
	case "s3":
		if p.S3.Bucket == "" {
			missing = append(missing, "publish.s3.bucket")
		}
	case "azure":
		if p.Azure.Container == "" {
			missing = append(missing, "publish.azure.container")
		}
	case "minio":
		if p.MinIO.Endpoint == "" || p.MinIO.Bucket == "" {
			missing = append(missing, "publish.minio.endpoint", "publish.minio.bucket")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid config: backend %s needs %s", p.Backend, strings.Join(missing, ", "))
	}
	return nil
}
