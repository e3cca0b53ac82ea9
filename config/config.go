package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds harvester configuration.
type Config struct {
	BaseURL  string `mapstructure:"base_url"`
	Token    string `mapstructure:"token"`
	SiteName string `mapstructure:"site_name"`

	Folder              string `mapstructure:"folder"`
	ProductsPerCategory int    `mapstructure:"products_per_category"`
	CheckExistence      bool   `mapstructure:"check_existence"`
	ExportIndividual    bool   `mapstructure:"export_individual"`
	CheckpointPartial   bool   `mapstructure:"checkpoint_partial"`
	KeepInMemory        bool   `mapstructure:"keep_in_memory"`

	ExportFile   bool   `mapstructure:"export_file"`
	OutputFile   string `mapstructure:"output_file"`
	OutputFormat string `mapstructure:"output_format"` // csv, json, or dual

	CategoryWorkers    int     `mapstructure:"category_workers"`
	PageWorkers        int     `mapstructure:"page_workers"`
	QuestionWorkers    int     `mapstructure:"question_workers"`
	Parallelism        int     `mapstructure:"parallelism"`
	RequestsPerSecond  float64 `mapstructure:"requests_per_second"`
	QuestionsPerSecond float64 `mapstructure:"questions_per_second"`
	SkipQuestions      bool    `mapstructure:"skip_questions"`

	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max"`
	UserAgent       string        `mapstructure:"user_agent"`

	PipelineBufferSize int `mapstructure:"pipeline_buffer_size"`
	BatchSize          int `mapstructure:"batch_size"`
	QuestionCacheSize  int `mapstructure:"question_cache_size"`

	RedisAddr        string        `mapstructure:"redis_addr"`
	QuestionCacheTTL time.Duration `mapstructure:"question_cache_ttl"`
	PostgresDSN      string        `mapstructure:"postgres_dsn"`
	PostgresTable    string        `mapstructure:"postgres_table"`
	S3Bucket         string        `mapstructure:"s3_bucket"`
	S3Prefix         string        `mapstructure:"s3_prefix"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	Verbose     bool   `mapstructure:"verbose"`
}

// DefaultConfig returns defaults matching the public marketplace API quotas.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:             "https://api.mercadolibre.com",
		SiteName:            "Colombia",
		Folder:              "data",
		ProductsPerCategory: 5000,
		CheckExistence:      true,
		ExportIndividual:    true,
		CheckpointPartial:   false,
		KeepInMemory:        false,
		ExportFile:          false,
		OutputFile:          "results.csv",
		OutputFormat:        "csv",
		CategoryWorkers:     2,
		PageWorkers:         4,
		QuestionWorkers:     8,
		Parallelism:         16,
		RequestsPerSecond:   20,
		QuestionsPerSecond:  2,
		Timeout:             15 * time.Second,
		MaxRetries:          3,
		RetryBackoff:        250 * time.Millisecond,
		RetryBackoffMax:     4 * time.Second,
		UserAgent:           "meli-harvester/1.0",
		PipelineBufferSize:  512,
		BatchSize:           64,
		QuestionCacheSize:   100000,
		QuestionCacheTTL:    24 * time.Hour,
		PostgresTable:       "products",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if strings.TrimSpace(c.SiteName) == "" {
		return fmt.Errorf("site name cannot be empty")
	}
	if c.Folder == "" {
		return fmt.Errorf("checkpoint folder cannot be empty")
	}
	if c.ProductsPerCategory <= 0 {
		return fmt.Errorf("products per category must be positive")
	}
	if c.CategoryWorkers <= 0 {
		return fmt.Errorf("category workers must be positive")
	}
	if c.PageWorkers <= 0 {
		return fmt.Errorf("page workers must be positive")
	}
	if c.QuestionWorkers <= 0 {
		return fmt.Errorf("question workers must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.QuestionsPerSecond < 0 {
		return fmt.Errorf("questions per second cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.ExportFile && c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty when export is enabled")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.QuestionCacheSize < 0 {
		return fmt.Errorf("question cache size cannot be negative")
	}
	if c.PostgresDSN != "" && c.PostgresTable == "" {
		return fmt.Errorf("postgres table cannot be empty when a DSN is set")
	}

	return nil
}
