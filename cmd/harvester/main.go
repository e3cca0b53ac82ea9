package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/aluiziolira/meli-harvester/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	err := newRootCmd(viper.New()).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	d := config.DefaultConfig()

	root := &cobra.Command{
		Use:           "harvester",
		Short:         "harvester downloads a marketplace catalog category by category.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("base-url", d.BaseURL, "API base URL")
	flags.String("token", d.Token, "Bearer token sent with every request")
	flags.String("site-name", d.SiteName, "Country name of the site to harvest")
	flags.Duration("timeout", d.Timeout, "Per-request timeout")
	flags.Int("max-retries", d.MaxRetries, "Maximum retry attempts per request")
	flags.Duration("retry-backoff", d.RetryBackoff, "Initial retry backoff")
	flags.Duration("retry-backoff-max", d.RetryBackoffMax, "Maximum retry backoff")
	flags.Int("parallelism", d.Parallelism, "Maximum requests in flight")
	flags.Float64("requests-per-second", d.RequestsPerSecond, "Request budget, 0 disables throttling")
	flags.String("user-agent", d.UserAgent, "User-Agent header")
	flags.BoolP("verbose", "v", d.Verbose, "Enable verbose logging")
	bindFlags(v, flags)

	root.AddCommand(newHarvestCmd(v), newCategoriesCmd(v))
	return root
}

// bindFlags maps every kebab-case flag onto its snake_case config key.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
}

// loadConfig resolves the configuration and installs the default logger.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())
	return cfg, nil
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
