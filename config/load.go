package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. HARVESTER_SITE_NAME.
const EnvPrefix = "HARVESTER"

// Load layers defaults, an optional .env file, HARVESTER_* environment
// variables and any flags already bound on v, then validates the result.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	SetDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if v.ConfigFileUsed() == "" {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
	}
	if err := v.ReadInConfig(); err != nil && !isMissingConfig(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults registers every key of d so AutomaticEnv can resolve it.
func SetDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("token", d.Token)
	v.SetDefault("site_name", d.SiteName)
	v.SetDefault("folder", d.Folder)
	v.SetDefault("products_per_category", d.ProductsPerCategory)
	v.SetDefault("check_existence", d.CheckExistence)
	v.SetDefault("export_individual", d.ExportIndividual)
	v.SetDefault("checkpoint_partial", d.CheckpointPartial)
	v.SetDefault("keep_in_memory", d.KeepInMemory)
	v.SetDefault("export_file", d.ExportFile)
	v.SetDefault("output_file", d.OutputFile)
	v.SetDefault("output_format", d.OutputFormat)
	v.SetDefault("category_workers", d.CategoryWorkers)
	v.SetDefault("page_workers", d.PageWorkers)
	v.SetDefault("question_workers", d.QuestionWorkers)
	v.SetDefault("parallelism", d.Parallelism)
	v.SetDefault("requests_per_second", d.RequestsPerSecond)
	v.SetDefault("questions_per_second", d.QuestionsPerSecond)
	v.SetDefault("skip_questions", d.SkipQuestions)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("retry_backoff", d.RetryBackoff)
	v.SetDefault("retry_backoff_max", d.RetryBackoffMax)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("pipeline_buffer_size", d.PipelineBufferSize)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("question_cache_size", d.QuestionCacheSize)
	v.SetDefault("redis_addr", d.RedisAddr)
	v.SetDefault("question_cache_ttl", d.QuestionCacheTTL)
	v.SetDefault("postgres_dsn", d.PostgresDSN)
	v.SetDefault("postgres_table", d.PostgresTable)
	v.SetDefault("s3_bucket", d.S3Bucket)
	v.SetDefault("s3_prefix", d.S3Prefix)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("verbose", d.Verbose)
}

func isMissingConfig(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	return errors.Is(err, fs.ErrNotExist)
}
