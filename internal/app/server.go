package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/yachtie/modelhub/internal/costtrack"
	"github.com/yachtie/modelhub/internal/events"
	"github.com/yachtie/modelhub/internal/health"
	"github.com/yachtie/modelhub/internal/httpapi"
	"github.com/yachtie/modelhub/internal/idempotency"
	"github.com/yachtie/modelhub/internal/interceptor"
	"github.com/yachtie/modelhub/internal/logging"
	"github.com/yachtie/modelhub/internal/metrics"
	"github.com/yachtie/modelhub/internal/providers"
	"github.com/yachtie/modelhub/internal/seed"
	"github.com/yachtie/modelhub/internal/selection"
	"github.com/yachtie/modelhub/internal/stats"
	"github.com/yachtie/modelhub/internal/store"
	"github.com/yachtie/modelhub/internal/tracing"
)

// statsSeedLimit caps how many request log rows are replayed into the stats
// collector on startup.
const statsSeedLimit = 10000

type Server struct {
	cfg Config

	r *chi.Mux

	store       store.Store
	registry    *selection.Registry
	idempotency *idempotency.Cache
	logger      *slog.Logger

	shutdownTracing func(context.Context) error
}

// Version is reported as the OTel service version.
var Version = "dev"

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:        cfg.OTelEnabled,
		Endpoint:       cfg.OTelEndpoint,
		ServiceName:    "modelhub",
		ServiceVersion: Version,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		return nil, err
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}
	logger.Info("database initialized", slog.String("driver", cfg.DBDriver))

	if cfg.SeedFile != "" {
		if err := applySeed(ctx, db, cfg.SeedFile); err != nil {
			_ = db.Close()
			_ = shutdownTracing(ctx)
			return nil, err
		}
	}

	m := metrics.New()
	bus := events.NewBus()
	ht := health.NewTracker(health.DefaultConfig(), health.WithEventBus(bus))

	sc := stats.NewCollector()
	seedStats(ctx, sc, db, cfg.StatsSeedWindow, logger)

	reg := selection.NewRegistry(db,
		selection.WithTTL(cfg.RegistryTTL),
		selection.WithRegistryMetrics(m),
	)
	sel := selection.NewSelector(reg,
		selection.WithHealth(ht),
		selection.WithEventBus(bus),
		selection.WithMetrics(m),
	)

	provs := buildProviders(cfg, logger)
	icpt := interceptor.New(
		costtrack.NewTracker(reg, db),
		costtrack.NewProductionMetrics(
			costtrack.WithPrices(reg),
			costtrack.WithMetrics(m),
			costtrack.WithStats(sc),
			costtrack.WithHealth(ht),
			costtrack.WithEventBus(bus),
			costtrack.WithFeedback(sel),
		),
	)

	var idem *idempotency.Cache
	if cfg.IdempotencyTTL > 0 {
		idem = idempotency.New(cfg.IdempotencyTTL, cfg.IdempotencyMaxEntries)
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(tracing.Middleware())
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-User-ID", "X-Session-ID", idempotency.HeaderKey},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Selector:    sel,
		Store:       db,
		Metrics:     m,
		Health:      ht,
		EventBus:    bus,
		Stats:       sc,
		Interceptor: icpt,
		Providers:   provs,
		Idempotency: idem,
	})

	return &Server{
		cfg:             cfg,
		r:               r,
		store:           db,
		registry:        reg,
		idempotency:     idem,
		logger:          logger,
		shutdownTracing: shutdownTracing,
	}, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Reload applies the parts of cfg that can change without a restart: the log
// level and the seed file. The registry cache is invalidated either way.
func (s *Server) Reload(cfg Config) {
	logging.SetLevel(cfg.LogLevel)
	if cfg.SeedFile != "" {
		if err := applySeed(context.Background(), s.store, cfg.SeedFile); err != nil {
			s.logger.Error("seed reload failed", slog.String("error", err.Error()))
		}
	}
	s.registry.Invalidate()
	s.cfg.LogLevel = cfg.LogLevel
	s.cfg.SeedFile = cfg.SeedFile
	s.logger.Info("configuration reloaded", slog.String("log_level", cfg.LogLevel))
}

func (s *Server) Close() error {
	var errs []error
	if s.idempotency != nil {
		s.idempotency.Stop()
	}
	if s.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, s.shutdownTracing(ctx))
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	var (
		db  store.Store
		err error
	)
	switch cfg.DBDriver {
	case "postgres":
		db, err = store.NewPostgres(cfg.DBDSN)
	default:
		db, err = store.NewSQLite(cfg.DBDSN)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", cfg.DBDriver, err)
	}
	return db, nil
}

func applySeed(ctx context.Context, db store.Store, path string) error {
	f, err := seed.Load(path)
	if err != nil {
		return err
	}
	return seed.Apply(ctx, db, f)
}

// seedStats replays recent request log rows so rolling windows survive a
// restart. Failures only cost history.
func seedStats(ctx context.Context, sc *stats.Collector, db store.Store, window time.Duration, logger *slog.Logger) {
	if window <= 0 {
		return
	}
	logs, err := db.ListAIRequestLogs(ctx, statsSeedLimit, 0)
	if err != nil {
		logger.Warn("failed to load request history for stats", slog.String("error", err.Error()))
		return
	}
	cutoff := time.Now().Add(-window)
	snaps := make([]stats.Snapshot, 0, len(logs))
	for _, l := range logs {
		if l.Timestamp.Before(cutoff) {
			continue
		}
		snaps = append(snaps, stats.Snapshot{
			Timestamp:    l.Timestamp,
			ModelID:      l.Model,
			ProviderID:   l.ProviderID,
			Endpoint:     l.Endpoint,
			LatencyMs:    float64(l.DurationMs),
			CostUSD:      l.CostUSD,
			Success:      l.Success,
			InputTokens:  l.InputTokens,
			OutputTokens: l.OutputTokens,
		})
	}
	sc.Seed(snaps)
	if len(snaps) > 0 {
		logger.Info("stats seeded from request log", slog.Int("requests", len(snaps)))
	}
}

func buildProviders(cfg Config, logger *slog.Logger) *providers.Registry {
	timeout := time.Duration(cfg.ProviderTimeoutSecs) * time.Second
	var clients []providers.Client

	if cfg.OpenAIAPIKey != "" {
		clients = append(clients, providers.NewOpenAI("openai", cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, providers.WithTimeout(timeout)))
	}
	if cfg.AnthropicAPIKey != "" {
		clients = append(clients, providers.NewAnthropic("anthropic", cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, providers.WithTimeout(timeout)))
	}

	ids := make([]string, 0, len(cfg.CompatEndpoints))
	for id := range cfg.CompatEndpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		clients = append(clients, providers.NewOpenAI(id, "", cfg.CompatEndpoints[id], providers.WithTimeout(timeout)))
	}

	reg := providers.NewRegistry(clients...)
	for _, id := range reg.IDs() {
		logger.Info("registered provider", slog.String("provider", id))
	}
	return reg
}
