package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mobidoc/internal/app"
	"mobidoc/internal/config"
	"mobidoc/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	seed       bool
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("mobidoc", flag.ContinueOnError)
	opts := options{}
	fs.StringVar(&opts.configPath, "config", os.Getenv("MOBIDOC_CONFIG_FILE"), "path to a JSON or YAML config file")
	fs.BoolVar(&opts.seed, "seed", false, "upsert demo users and log their access tokens")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// run blocks until a signal arrives, ctx is cancelled or the server fails.
// ARCHITECTURAL DISCOVERY: Separate run function keeps main trivial and lets
// tests drive the whole lifecycle with their own context
func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfigWithPrecedence(opts.configPath)
	if err != nil {
		return err
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Output: out})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if opts.seed {
		if _, err := application.Seed(ctx); err != nil {
			_ = application.Stop(context.Background())
			return err
		}
	}

	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("failed to start application: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err, ok := <-application.Err(); ok {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logShutdownCause(ctx, log)

		// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return application.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func logShutdownCause(ctx context.Context, log zerolog.Logger) {
	if ctx.Err() != nil {
		log.Info().Msg("shutdown requested")
		return
	}
	log.Warn().Msg("server stopped unexpectedly")
}
