package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tap-auth0/internal/auth0"
	"tap-auth0/internal/config"
	"tap-auth0/internal/singer"
	"tap-auth0/internal/state"
	"tap-auth0/internal/sync"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to config file")
	statePath := flag.String("state", "", "Path to a Singer state file")
	discover := flag.Bool("discover", false, "Print the catalog and exit")
	flag.Parse()

	// Stdout carries the Singer protocol; logs go to stderr until configured.
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Setup logging
	closeLog := setupLogging(cfg.Logging)
	defer closeLog()

	if *discover {
		if err := writeCatalog(os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("Discovery failed")
		}
		return
	}

	// Handle shutdown gracefully
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info().Msg("Shutting down...")
		cancel()
	}()

	if err := run(ctx, cfg, *statePath); err != nil {
		log.Fatal().Err(err).Msg("Extraction failed")
	}
}

func run(ctx context.Context, cfg config.Config, statePath string) error {
	logger := log.With().Str("run_id", uuid.NewString()).Logger()
	log.Logger = logger

	log.Info().Str("domain", cfg.Domain).Msg("Starting tap-auth0")

	store, err := state.Open(cfg.State)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	prior, err := loadPriorState(ctx, statePath, store)
	if err != nil {
		return err
	}

	// Acquire credentials once for the whole run.
	creds := auth0.NewCredentials(ctx, cfg.Domain, cfg.ClientID, cfg.ClientSecret)
	defer creds.Close()

	if _, err := creds.Token(); err != nil {
		return err
	}
	log.Info().Str("audience", creds.Audience()).Msg("Authenticated with management API")

	client := auth0.NewClient(creds, auth0.WithTimeout(cfg.RequestTimeout()))

	writer := singer.NewWriter(os.Stdout)
	var sink sync.Sink = writer
	if store != nil {
		sink = state.NewRecorder(ctx, writer, store)
	}

	started := time.Now()
	result, err := sync.NewExtractor(client, sink, cfg).Extract(ctx, prior)
	if err != nil {
		return err
	}

	watermark, _ := result.State.Bookmark(singer.Users.Name, singer.Users.ReplicationKey)
	log.Info().
		Int("records", result.Records).
		Int("pages", result.Pages).
		Int("windows", result.Windows).
		Str("watermark", watermark).
		Dur("elapsed", time.Since(started)).
		Msg("Extraction complete")

	if pruner, ok := store.(interface {
		Prune(ctx context.Context, keep int) (int64, error)
	}); ok {
		if _, err := pruner.Prune(ctx, cfg.State.Keep); err != nil {
			log.Warn().Err(err).Msg("Failed to prune checkpoint history")
		}
	}

	return nil
}

// loadPriorState prefers an explicit --state file and falls back to the local
// checkpoint store.
func loadPriorState(ctx context.Context, path string, store state.Store) (*singer.State, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read state file: %w", err)
		}
		st, err := singer.ParseState(data)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", path).Msg("Loaded state file")
		return st, nil
	}

	if store == nil {
		return singer.NewState(), nil
	}

	st, err := store.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load saved state, starting fresh")
		return singer.NewState(), nil
	}
	if st == nil {
		return singer.NewState(), nil
	}
	log.Info().Msg("Loaded saved state")
	return st, nil
}

func writeCatalog(w io.Writer) error {
	catalog, err := singer.Discover(singer.Users)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(catalog)
}

func setupLogging(cfg config.LoggingConfig) func() {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = os.Stderr
	closer := func() {}
	if cfg.Path != "" {
		file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to open log file, using stderr")
		} else {
			output = file
			closer = func() { file.Close() }
		}
	}

	// Configure format
	if cfg.Format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}
	return closer
}
