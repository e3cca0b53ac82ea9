package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aluiziolira/meli-harvester/config"
	"github.com/aluiziolira/meli-harvester/harvest"
	"github.com/aluiziolira/meli-harvester/models"
	"github.com/aluiziolira/meli-harvester/pipeline"
	"github.com/aluiziolira/meli-harvester/scraper"
)

func newHarvestCmd(v *viper.Viper) *cobra.Command {
	d := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest every category of a site into per-category checkpoints.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runHarvest(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("folder", d.Folder, "Checkpoint folder")
	flags.Int("products-per-category", d.ProductsPerCategory, "Maximum products requested per category")
	flags.Bool("check-existence", d.CheckExistence, "Load existing checkpoints instead of fetching")
	flags.Bool("export-individual", d.ExportIndividual, "Write a checkpoint per harvested category")
	flags.Bool("checkpoint-partial", d.CheckpointPartial, "Also checkpoint categories with skipped pages")
	flags.Bool("keep-in-memory", d.KeepInMemory, "Retain the site dataset in memory")
	flags.Bool("export-file", d.ExportFile, "Write the site dataset to the output file")
	flags.String("output-file", d.OutputFile, "Output file path")
	flags.String("output-format", d.OutputFormat, "Output format: csv, json, or dual")
	flags.Int("category-workers", d.CategoryWorkers, "Categories crawled concurrently")
	flags.Int("page-workers", d.PageWorkers, "Pages fetched concurrently per category")
	flags.Int("question-workers", d.QuestionWorkers, "Question lookups run concurrently per page")
	flags.Float64("questions-per-second", d.QuestionsPerSecond, "Question lookup budget, 0 disables throttling")
	flags.Bool("skip-questions", d.SkipQuestions, "Leave question activity fields empty")
	flags.Int("pipeline-buffer-size", d.PipelineBufferSize, "Export pipeline buffer size")
	flags.Int("batch-size", d.BatchSize, "Export batch size")
	flags.Int("question-cache-size", d.QuestionCacheSize, "In-process question cache entries, 0 disables it")
	flags.String("redis-addr", d.RedisAddr, "Redis address of the shared question cache")
	flags.Duration("question-cache-ttl", d.QuestionCacheTTL, "TTL of shared question cache entries")
	flags.String("postgres-dsn", d.PostgresDSN, "PostgreSQL DSN of the export table")
	flags.String("postgres-table", d.PostgresTable, "PostgreSQL export table")
	flags.String("s3-bucket", d.S3Bucket, "S3 bucket receiving the export files")
	flags.String("s3-prefix", d.S3Prefix, "Key prefix of uploaded export files")
	flags.String("metrics-addr", d.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	bindFlags(v, flags)

	return cmd
}

func runHarvest(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting harvest",
		slog.String("base_url", cfg.BaseURL),
		slog.String("site", cfg.SiteName),
		slog.Int("products_per_category", cfg.ProductsPerCategory),
		slog.Int("category_workers", cfg.CategoryWorkers),
	)

	client, err := scraper.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("initialising client: %w", err)
	}

	stopMetrics := startMetricsServer(cfg.MetricsAddr, client.Metrics)
	defer stopMetrics()

	cache, closeCache, err := newQuestionCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("question cache: %w", err)
	}
	defer closeCache()
	questions := scraper.NewQuestionLookup(client, cfg, cache, client.Metrics)

	store, err := pipeline.NewCheckpointStore(cfg.Folder)
	if err != nil {
		return err
	}

	h, err := harvest.New(ctx, cfg, client, questions, store)
	if err != nil {
		return fmt.Errorf("initialising harvester: %w", err)
	}
	h.Metrics = client.Metrics

	writer, err := createWriter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}

	var (
		sink harvest.Sink
		p    *pipeline.Pipeline
	)
	if writer != nil {
		// one worker keeps the export in category order
		p = pipeline.NewPipeline(ctx, writer, cfg)
		p.Start(1)
		if cfg.Verbose {
			p.StartMetricsReporting(10 * time.Second)
		}
		sink = p
	}

	startTime := time.Now()
	result, runErr := h.Run(ctx, sink)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		if p != nil {
			_ = p.Close()
			_ = writer.Close()
		}
		return fmt.Errorf("harvest failed: %w", runErr)
	}

	var stats *pipeline.Stats
	if p != nil {
		closeErr := p.Close()
		if err := writer.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		if closeErr != nil {
			return fmt.Errorf("export shutdown failed: %w", closeErr)
		}
		if result.TotalRecords > 0 {
			if err := writer.Validate(); err != nil {
				return fmt.Errorf("output validation failed: %w", err)
			}
		}
		snapshot := p.Stats()
		stats = &snapshot

		if cfg.S3Bucket != "" && runErr == nil {
			if err := uploadExports(ctx, cfg, result.Site, writer, startTime); err != nil {
				return err
			}
		}
	}

	printSummary(result, time.Since(startTime), exportPaths(writer), stats)
	return runErr
}

// createWriter returns nil when no export target is configured.
func createWriter(ctx context.Context, cfg *config.Config) (pipeline.OutputWriter, error) {
	var writers []pipeline.OutputWriter
	if cfg.ExportFile {
		w, err := createFileWriter(cfg.OutputFormat, cfg.OutputFile)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	if cfg.PostgresDSN != "" {
		pw, err := pipeline.NewPostgresWriter(ctx, cfg.PostgresDSN, cfg.PostgresTable)
		if err != nil {
			for _, w := range writers {
				_ = w.Close()
			}
			return nil, err
		}
		writers = append(writers, pw)
	}

	switch len(writers) {
	case 0:
		return nil, nil
	case 1:
		return writers[0], nil
	default:
		return pipeline.NewMultiWriter(writers...), nil
	}
}

func createFileWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func exportPaths(writer pipeline.OutputWriter) []string {
	if withPaths, ok := writer.(interface{ Paths() []string }); ok {
		return withPaths.Paths()
	}
	return nil
}

// newQuestionCache layers the in-process LRU in front of Redis when both are
// configured. An unreachable Redis only disables the shared tier.
func newQuestionCache(ctx context.Context, cfg *config.Config) (scraper.QuestionCache, func(), error) {
	noop := func() {}
	var tiers scraper.TieredQuestionCache

	if cfg.QuestionCacheSize > 0 {
		lru, err := scraper.NewLRUQuestionCache(cfg.QuestionCacheSize)
		if err != nil {
			return nil, noop, err
		}
		tiers = append(tiers, lru)
	}

	closer := noop
	if cfg.RedisAddr != "" {
		rc, err := scraper.NewRedisQuestionCache(ctx, cfg.RedisAddr, cfg.QuestionCacheTTL)
		if err != nil {
			slog.Warn("shared question cache unavailable",
				slog.String("addr", cfg.RedisAddr),
				slog.Any("error", err),
			)
		} else {
			tiers = append(tiers, rc)
			closer = func() {
				if err := rc.Close(); err != nil {
					slog.Error("close question cache", slog.Any("error", err))
				}
			}
		}
	}

	switch len(tiers) {
	case 0:
		return nil, closer, nil
	case 1:
		return tiers[0], closer, nil
	default:
		return tiers, closer, nil
	}
}

func uploadExports(ctx context.Context, cfg *config.Config, site models.Site, writer pipeline.OutputWriter, at time.Time) error {
	paths := exportPaths(writer)
	if len(paths) == 0 {
		return nil
	}

	client, err := pipeline.NewS3Client(ctx)
	if err != nil {
		return err
	}
	for _, path := range paths {
		key := pipeline.ExportKey(cfg.S3Prefix, site.ID, path, at)
		if err := pipeline.UploadFile(ctx, client, cfg.S3Bucket, key, path); err != nil {
			return err
		}
		slog.Info("export uploaded",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("key", key),
		)
	}
	return nil
}

func printSummary(result *models.HarvestResult, duration time.Duration, outputs []string, stats *pipeline.Stats) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Harvest complete")

	counts := result.CountByStatus()
	skipped, questionErrors, dropped := 0, 0, 0
	for _, c := range result.Categories {
		skipped += c.PagesSkipped
		questionErrors += c.QuestionErrors
		dropped += c.Dropped
	}

	fmt.Printf("  Site:          %s (%s)\n", result.Site.Name, result.Site.ID)
	fmt.Printf("  Categories:    %d\n", len(result.Categories))
	for _, status := range []models.CategoryStatus{
		models.StatusCheckpoint,
		models.StatusFetched,
		models.StatusPartial,
		models.StatusFailed,
		models.StatusCanceled,
	} {
		if n := counts[status]; n > 0 {
			fmt.Printf("    %-12s %d\n", string(status)+":", n)
		}
	}
	fmt.Printf("  Records:       %d\n", result.TotalRecords)
	fmt.Printf("  Duplicates:    %d\n", result.Duplicates)
	fmt.Printf("  Dropped:       %d\n", dropped)
	fmt.Printf("  Pages skipped: %d\n", skipped)
	fmt.Printf("  Question errs: %d\n", questionErrors)
	if stats != nil {
		fmt.Printf("  Exported:      %d (invalid %d, duplicate %d)\n", stats.Processed, stats.Invalid, stats.Duplicates)
	}

	recordsPerSec := 0.0
	if duration.Seconds() > 0 {
		recordsPerSec = float64(result.TotalRecords) / duration.Seconds()
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Records/sec:   %.2f\n", recordsPerSec)
	for _, path := range outputs {
		fmt.Printf("  Output file:   %s\n", path)
	}

	for _, c := range result.Categories {
		switch c.Status {
		case models.StatusFailed:
			fmt.Printf("  ! %s failed: %s\n", c.Category.ID, c.Err)
		case models.StatusPartial:
			fmt.Printf("  ! %s partial: %d pages skipped\n", c.Category.ID, c.PagesSkipped)
		}
	}
	fmt.Println(separator)
}
