// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"photo-restyler/internal/config"
	"photo-restyler/internal/domain"
	"photo-restyler/internal/domain/ports/adapter"
	"photo-restyler/internal/domain/ports/repository"
	aiAdapters "photo-restyler/internal/infra/adapters/ai"
	"photo-restyler/internal/infra/imagecodec"
	"photo-restyler/internal/infra/logging"
	"photo-restyler/internal/infra/metrics"
	red "photo-restyler/internal/infra/redis"
	"photo-restyler/internal/infra/store"
	"photo-restyler/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

const usage = `usage: restyler [-config path] [-dev] <command> [flags]

commands:
  create   -folder DIR [-label L] [-preset P] [-lighting ID] [-text T]
  preview  -run ID [-preset P] [name...]
  retry    -run ID name...
  approve  -run ID [-override name=preset,...] [name...]
  reject   -run ID name...
  submit   -run ID
  poll     -run ID
  wait     -run ID
  fetch    -run ID
  export   -run ID
  show     -run ID
  list
  serve
`

// app holds everything a command needs.
type app struct {
	cfg       *config.Config
	log       *zerolog.Logger
	runs      *store.FileRunStore
	runUC     usecase.RunUseCase
	previewUC usecase.PreviewUseCase
	batchUC   usecase.BatchUseCase
	closers   []func() error
}

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "use the offline image API instead of Gemini")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.close()

	if err := a.dispatch(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		logger.Error().Err(err).Str("command", flag.Arg(0)).Msg("command failed")
		a.close()
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger}

	// ---- Redis (optional cross-process run lock) ----
	var locker repository.RunLocker
	if cfg.Redis.URL != "" {
		client, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		locker = store.ChainLocker{store.NewKeyedMutex(), red.NewLocker(client, cfg.Redis.LockTTL, logger)}
		logger.Info().Str("url", logging.Redact(cfg.Redis.URL, cfg.Runtime.Dev)).Msg("redis run lock enabled")
	}

	// ---- Run store ----
	runs, err := store.NewFileRunStore(cfg.Store.Root, locker, logger)
	if err != nil {
		return nil, err
	}
	a.runs = runs

	// ---- Image API ----
	var api adapter.ImageAPI
	switch {
	case cfg.Runtime.Dev:
		api = aiAdapters.NewNoopImageAPI(logger)
		logger.Info().Msg("AI adapter: noop (dev)")
	default:
		gem, err := aiAdapters.NewGeminiImageAPI(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, logger)
		switch {
		case errors.Is(err, domain.ErrNotConfigured):
			logger.Warn().Msg("no Gemini key configured; generation commands will fail")
		case err != nil:
			return nil, fmt.Errorf("gemini adapter: %w", err)
		default:
			api = gem
			logger.Info().
				Str("key", logging.Redact(cfg.AI.GeminiKey, false)).
				Str("preview_model", cfg.AI.PreviewModel).
				Str("final_model", cfg.AI.FinalModel).
				Msg("AI adapter: Gemini")
		}
	}
	if api != nil {
		api = aiAdapters.NewLimitedImageAPI(api, cfg.AI.ConcurrentLimit)
	}

	// ---- Use cases ----
	codec := imagecodec.New()
	prompts := usecase.NewPromptAssembler(cfg.Catalog())
	gen := usecase.NewGenerationClient(api, nil, logger)

	a.runUC = usecase.NewRunUseCase(runs, runs, prompts, logger)
	a.previewUC = usecase.NewPreviewUseCase(runs, runs, gen, codec, prompts, usecase.PreviewOptions{
		Concurrency: cfg.Preview.Concurrency,
		MaxEdge:     cfg.Preview.MaxEdge,
		Model:       cfg.AI.PreviewModel,
	}, logger)
	a.batchUC = usecase.NewBatchUseCase(runs, runs, api, codec, prompts, usecase.BatchOptions{
		Model:           cfg.AI.FinalModel,
		OutputSize:      cfg.AI.OutputSize,
		SeedPolicy:      cfg.Batch.SeedPolicy,
		FixedSeed:       cfg.Batch.FixedSeed,
		MaxEdge:         cfg.Preview.MaxEdge,
		PollInterval:    cfg.Batch.PollInterval,
		MaxPollAttempts: cfg.Batch.MaxPollAttempts,
		Output: adapter.OutputPolicy{
			Format:        cfg.Output.Format,
			Quality:       cfg.Output.Quality,
			StripMetadata: *cfg.Output.StripMetadata,
		},
	}, logger)
	return a, nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.Warn().Err(err).Msg("close")
		}
	}
	a.closers = nil
}
