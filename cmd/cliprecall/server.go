package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/cliprecall/internal/api"
	"github.com/kalambet/cliprecall/internal/clips"
	"github.com/kalambet/cliprecall/internal/config"
	"github.com/kalambet/cliprecall/internal/embedding"
	"github.com/kalambet/cliprecall/internal/engine"
	"github.com/kalambet/cliprecall/internal/enrich"
	"github.com/kalambet/cliprecall/internal/frames"
	"github.com/kalambet/cliprecall/internal/ingest"
	"github.com/kalambet/cliprecall/internal/media"
	"github.com/kalambet/cliprecall/internal/metrics"
	"github.com/kalambet/cliprecall/internal/search"
	"github.com/kalambet/cliprecall/internal/storage"
	"github.com/kalambet/cliprecall/internal/vision"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Record frames and serve the search API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(cmd.Context(), withMCP)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdin/stdout")
}

// app holds the long-lived components of a running server.
type app struct {
	clips     *clips.Store
	metrics   *metrics.Metrics
	embedder  *embedding.Serial
	enricher  *enrich.Enricher
	pipeline  *ingest.Pipeline
	searcher  *search.Engine
	media     media.Store
	db        *storage.Store
	scheduler gocron.Scheduler
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func runServer(parent context.Context, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "cliprecall version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	if parent == nil {
		parent = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}
	a.scheduler.Start()

	handler := api.NewHandler(api.Deps{
		Clips:    a.clips,
		Searcher: a.searcher,
		Media:    a.media,
		Metrics:  a.metrics.Handler(),
		Running:  a.pipeline.Running,
		Token:    cfg.Server.APIToken,
	})
	if cfg.Server.APIToken == "" {
		slog.Warn("API token not set; HTTP endpoints are unauthenticated", "env", "CLIPRECALL_API_TOKEN")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		printStep("cliprecall listening on %s", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	source := frames.NewDirSource(cfg.Frames.Dir, a.pipeline, nil)
	g.Go(func() error {
		return source.Run(gctx)
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Clips:    a.clips,
			Searcher: a.searcher,
			Version:  version,
		})
		g.Go(func() error {
			// The MCP client closing stdin ends the server.
			defer cancel()
			err := server.NewStdioServer(mcpSrv).Listen(gctx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP stdio server: %w", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	err = g.Wait()
	fmt.Fprintln(os.Stderr, "shutting down...")
	return errors.Join(err, a.shutdown())
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}
	logger := slog.Default()

	a.metrics = metrics.New(func() int { return a.clips.Len() })

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	models := []string{cfg.Embedding.Model}
	if cfg.Enrichment.Provider == config.ProviderOllama {
		models = append(models, cfg.Enrichment.Model)
	}
	var backend embedding.Backend
	if err := engine.EnsureReady(ctx, eng, os.Stderr, models...); err != nil {
		printWarning("embeddings disabled: %v", err)
		slog.Warn("local inference engine unavailable, search falls back to keywords", "error", err)
	} else {
		backend = embedding.NewEngineBackend(eng, cfg.Embedding.Model)
	}
	a.embedder = embedding.NewSerial(backend, cfg.Embedding.MaxTextLength, a.metrics, logger)

	var err error
	a.media, err = openMedia(cfg, logger, a)
	if err != nil {
		a.close()
		return nil, err
	}

	a.clips = clips.NewStore(cfg.Clip.Retention, a.media, logger)

	var analyzer frames.Analyzer = frames.NopAnalyzer{}
	if cfg.Analyzer.URL != "" {
		analyzer = frames.NewSidecarAnalyzer(cfg.Analyzer.URL, frames.SidecarOptions{
			MinConfidence: cfg.Analyzer.MinConfidence,
			Timeout:       cfg.Analyzer.Timeout,
		})
	} else {
		slog.Info("no frame analyzer configured, clips are indexed without on-device keywords")
	}

	a.enricher = enrich.New(enrich.Options{
		Describer:     newDescriber(cfg, eng),
		Store:         a.clips,
		Embedder:      a.embedder,
		Timeout:       cfg.Enrichment.Timeout,
		RatePerMinute: cfg.Enrichment.RatePerMinute,
		Concurrency:   cfg.Enrichment.Concurrency,
		Metrics:       a.metrics,
		Logger:        logger,
	})

	a.pipeline = ingest.New(ingest.Options{
		ClipDuration:   cfg.Clip.Duration,
		KeywordCadence: cfg.Clip.KeywordCadence,
		StillCount:     cfg.Clip.StillCount,
		QueueSize:      cfg.Clip.FrameQueue,
		AnalyzeTimeout: cfg.Analyzer.Timeout,
		Store:          a.clips,
		Media:          a.media,
		Analyzer:       analyzer,
		Embedder:       a.embedder,
		Dispatcher:     a.enricher,
		Metrics:        a.metrics,
		Logger:         logger,
	})

	a.searcher = search.New(search.Options{
		Store:    a.clips,
		Embedder: a.embedder,
		CacheTTL: cfg.Search.CacheTTL,
		Metrics:  a.metrics,
		Logger:   logger,
	})

	a.scheduler, err = gocron.NewScheduler()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	if _, err := a.scheduler.NewJob(
		gocron.DurationJob(cfg.Clip.PruneInterval),
		gocron.NewTask(a.pipeline.RequestPrune),
		gocron.WithName("retention_prune"),
	); err != nil {
		a.close()
		return nil, fmt.Errorf("scheduling retention: %w", err)
	}

	return a, nil
}

func openMedia(cfg config.Config, logger *slog.Logger, a *app) (media.Store, error) {
	switch cfg.Media.Backend {
	case config.MediaSQLite:
		db, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		a.db = db
		s, err := media.NewSQLiteStore(db, cfg.Media.MaxClipBytes, logger)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite media store: %w", err)
		}
		return s, nil
	default:
		s, err := media.NewFileStore(cfg.Media.Dir, 0, logger)
		if err != nil {
			return nil, fmt.Errorf("opening file media store: %w", err)
		}
		return s, nil
	}
}

// newDescriber returns nil when enrichment is disabled.
func newDescriber(cfg config.Config, eng engine.Engine) enrich.Describer {
	switch cfg.Enrichment.Provider {
	case config.ProviderOllama:
		return vision.NewOllamaDescriber(eng, cfg.Enrichment.Model, 0)
	case config.ProviderOpenAI:
		return vision.NewOpenAIDescriber(vision.OpenAIOptions{
			APIKey:  cfg.Enrichment.APIKey,
			BaseURL: cfg.Enrichment.BaseURL,
			Model:   cfg.Enrichment.Model,
		})
	default:
		return nil
	}
}

// shutdown stops recording first so the open clip is finalized and indexed,
// then cancels in-flight enrichment before the embedder goes away.
func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.scheduler.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("stopping scheduler: %w", err))
	}
	if err := a.pipeline.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping pipeline: %w", err))
	}
	a.enricher.Close()
	return errors.Join(errs...)
}

// close releases resources. Safe on a partially built app.
func (a *app) close() {
	if a.embedder != nil {
		a.embedder.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}
}
