package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/snarg/juicer/internal/app"
	"github.com/snarg/juicer/internal/config"
)

var version = "dev"

// options are the persistent flags shared by every subcommand.
type options struct {
	overrides config.Overrides
	logLevel  string
	asJSON    bool
}

// loadApp builds the services without starting their background loops.
func (o *options) loadApp(ctx context.Context, stderr io.Writer) (*app.App, error) {
	cfg, err := config.Load(o.overrides)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level, err := zerolog.ParseLevel(o.logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: stderr, NoColor: true}).With().Timestamp().Logger().Level(level)
	return app.New(ctx, cfg, log)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRootCommand returns juicectl with all subcommands attached.
func NewRootCommand(ctx context.Context) *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "juicectl",
		Short:         "Transcribe audio and manage the juicer cache and local models.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flags.StringVar(&opts.overrides.DataDir, "data-dir", "", "local data directory (DATA_DIR)")
	flags.StringVar(&opts.overrides.ModelDir, "model-dir", "", "local model directory (MODEL_DIR)")
	flags.StringVar(&opts.overrides.DatabaseURL, "database-url", "", "Postgres URL for history (DATABASE_URL)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	flags.BoolVar(&opts.asJSON, "json", false, "print JSON instead of text")

	rootCmd.AddCommand(NewTranscribeCommand(ctx, opts))
	rootCmd.AddCommand(NewModelCommand(ctx, opts))
	rootCmd.AddCommand(NewCacheCommand(ctx, opts))
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(ctx).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
