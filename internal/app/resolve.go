package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"skywatch.live/sentinel/internal/cli"
	"skywatch.live/sentinel/internal/config"
	"skywatch.live/sentinel/internal/db"
	"skywatch.live/sentinel/internal/engine"
	"skywatch.live/sentinel/internal/langdetect"
	"skywatch.live/sentinel/internal/logging"
	payloadschema "skywatch.live/sentinel/schema"
)

func runResolve(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	dir := fs.String("dir", "testdata/candidates", "Directory containing .json candidate report files")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")
	workers := fs.Int("workers", 0, "Worker count override (0 uses SW_WORKERS)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	files, err := collectJSONFiles(strings.TrimSpace(*dir), *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Resolve setup failed: %v\n", err)
		return 1
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "Resolve failed: no .json files found under %s\n", strings.TrimSpace(*dir))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		return 1
	}
	defer pool.Close()

	resolver, _ := buildResolver(cfg, pool, logger)

	workerCount := cfg.Workers
	if *workers > 0 {
		workerCount = *workers
	}
	workerPool := engine.NewPool(resolver, workerCount, logger)

	candidates := make(chan engine.Candidate)
	go func() {
		defer close(candidates)
		for _, path := range files {
			raw, err := os.ReadFile(path)
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable candidate file")
				continue
			}
			report, err := payloadschema.ValidateCandidatePayload(json.RawMessage(raw))
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("skipping invalid candidate file")
				continue
			}
			candidate, err := report.ToCandidate()
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("skipping unconvertible candidate file")
				continue
			}
			select {
			case candidates <- candidate:
			case <-ctx.Done():
				return
			}
		}
	}()

	result, err := workerPool.Run(ctx, candidates, func(candidate engine.Candidate) {
		logger.Error().Str("source_url", candidate.Source.URL).Msg("candidate requeued; rerun resolve to retry")
	})
	if err != nil {
		logger.Error().Err(err).Msg("resolve run failed")
		return 1
	}

	fmt.Printf(
		"resolve files=%d resolved=%d created=%d merged=%d refreshed=%d rejected=%d requeued=%d\n",
		len(files),
		result.Resolved,
		result.Created,
		result.Merged,
		result.Refreshed,
		result.Rejected,
		result.Requeued,
	)

	if result.Requeued > 0 {
		return 1
	}
	return 0
}

// buildResolver assembles the cascade from configuration. The returned store
// doubles as the feedback sink and the API query layer.
func buildResolver(cfg *config.Config, pool *db.Pool, logger zerolog.Logger) (*engine.Resolver, *db.IncidentStore) {
	store := db.NewIncidentStore(pool, cfg.EmbedModelName, cfg.EmbedModelVer, cfg.EmbedEndpoint, cfg.EmbedDimensions)

	var embedder engine.Embedder
	if strings.TrimSpace(cfg.EmbedEndpoint) != "" {
		embedder = &engine.HTTPEmbedder{
			Endpoint:   cfg.EmbedEndpoint,
			MaxLength:  cfg.EmbedMaxLength,
			Timeout:    cfg.EmbedTimeout,
			Dimensions: cfg.EmbedDimensions,
		}
	}

	var judge engine.Judge
	if strings.TrimSpace(cfg.JudgeEndpoint) != "" {
		judge = &engine.HTTPJudge{
			Endpoint: cfg.JudgeEndpoint,
			Model:    cfg.JudgeModel,
			Timeout:  cfg.JudgeTimeout,
		}
	}

	resolver := engine.NewResolver(store, embedder, judge, langdetect.Detector{}, cfg.Engine(), logger)
	return resolver, store
}
