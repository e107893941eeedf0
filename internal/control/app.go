package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/transync/internal/core/config"
	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/core/session"
	"github.com/vietddude/transync/internal/core/worker"
	"github.com/vietddude/transync/internal/infra/executor"
	redisclient "github.com/vietddude/transync/internal/infra/redis"
	"github.com/vietddude/transync/internal/infra/storage"
	"github.com/vietddude/transync/internal/infra/storage/memory"
	"github.com/vietddude/transync/internal/infra/storage/postgres"
	"github.com/vietddude/transync/internal/orchestration/health"
	"github.com/vietddude/transync/internal/orchestration/queue"
	"github.com/vietddude/transync/internal/orchestration/recovery"
	"github.com/vietddude/transync/internal/orchestration/skip"
	"github.com/vietddude/transync/internal/orchestration/telemetry"
	"github.com/vietddude/transync/internal/orchestration/version"
)

const (
	changeFeedBuffer = 1024
	idlePollInterval = 200 * time.Millisecond
)

// App wires storage, the orchestration components and the background
// workers into one process.
type App struct {
	cfg   *config.AppConfig
	shops map[string]config.ShopConfig

	Store    storage.Store
	Tracker  *version.Tracker
	Skip     *skip.Engine
	Queue    *queue.Queue
	Sessions *session.Manager
	Recovery *recovery.Service
	Health   *health.Monitor

	feed         *version.ChanSink
	healthServer *health.Server
	maintainer   *worker.Maintainer
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp builds the application. Without a database URL everything runs on
// the in-memory store; without a Redis URL locks and attempt windows stay
// in-process.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	log := slog.Default().With("component", "app")

	var (
		store storage.Store
		db    *postgres.DB
	)
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		store = postgres.NewStore(db)
	} else {
		log.Warn("No database configured, using in-memory storage")
		store = memory.NewStore()
	}

	var (
		redisClient *redisclient.Client
		locker      queue.Locker
		attempts    recovery.AttemptCounter
	)
	if cfg.Redis.URL != "" {
		c, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, using in-process locks", "error", err)
		} else {
			redisClient = c
			locker = c
			attempts = redisclient.NewAttemptCounter(c, cfg.Recovery.Window)
		}
	}

	shops := make(map[string]config.ShopConfig, len(cfg.Shops))
	shopIDs := make([]string, 0, len(cfg.Shops))
	for _, s := range cfg.Shops {
		shops[s.ID] = s
		shopIDs = append(shopIDs, s.ID)
	}

	feed := version.NewChanSink(changeFeedBuffer)
	tracker := version.NewTracker(store.Resources, cfg.Version.RequiredFields, feed)

	translationCache := skip.NewTranslationCache(cfg.Skip.CacheTTL)
	engine := skip.NewEngine(store.Translations, translationCache, skip.Config{
		QualityThreshold: cfg.Skip.QualityThreshold,
		MaxRetries:       cfg.Skip.MaxRetries,
		Concurrency:      cfg.Skip.Concurrency,
		ItemTimeout:      cfg.Skip.ItemTimeout,
	})

	q := queue.New(queue.Options{
		Workers:          cfg.Queue.Workers,
		BatchSize:        cfg.Queue.BatchSize,
		ShopConcurrency:  cfg.Queue.ShopConcurrency,
		InlineThreshold:  cfg.Queue.InlineThreshold,
		InlineTimeout:    cfg.Queue.InlineTimeout,
		MaxAttempts:      cfg.Queue.MaxAttempts,
		LockTTL:          cfg.Queue.LockTTL,
		InitialBackoff:   cfg.Queue.InitialBackoff,
		MaxBackoff:       cfg.Queue.MaxBackoff,
		ShopRateLimit:    cfg.Queue.ShopRateLimit,
		QualityThreshold: cfg.Skip.QualityThreshold,
	}, queue.Deps{
		Executor:     executor.NewHTTPExecutor(cfg.Executor),
		Resources:    store.Resources,
		Translations: store.Translations,
		Locker:       locker,
		Cache:        translationCache,
		Telemetry:    telemetry.NewLogEmitter(),
	})

	sessions := session.NewManager(store.Sessions, store.Resources, engine, q, session.Config{
		StaleAfter:   cfg.Session.StaleAfter,
		MaxResumeAge: cfg.Session.MaxResumeAge,
		MaxErrorRate: cfg.Session.MaxErrorRate,
		MinSamples:   cfg.Session.MinSamples,
	})
	sessions.SetStateChangeCallback(func(id string, t session.Transition) {
		log.Info("Session state changed", "session", id, "from", t.From, "to", t.To, "reason", t.Reason)
	})

	rec := recovery.NewService(store, q, attempts, sessions, recovery.Config{
		MaxAttempts:    cfg.Recovery.MaxAttempts,
		Window:         cfg.Recovery.Window,
		ErrorRetention: cfg.Recovery.ErrorRetention,
		StaleAfter:     cfg.Session.StaleAfter,
	})
	q.SetFailureHandler(rec)
	q.OnResult(func(r queue.Result) {
		if len(r.SessionIDs) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sessions.RecordOutcome(ctx, r.SessionIDs, r.State)
	})

	monitor := health.NewMonitor(shopIDs, rec, q)

	if db != nil {
		db.StartMetricsCollector(ctx)
	}

	return &App{
		cfg:          cfg,
		shops:        shops,
		Store:        store,
		Tracker:      tracker,
		Skip:         engine,
		Queue:        q,
		Sessions:     sessions,
		Recovery:     rec,
		Health:       monitor,
		feed:         feed,
		healthServer: health.NewServer(monitor, cfg.Server.Port),
		maintainer:   worker.NewMaintainer(cfg.Maintenance.Interval, sessions, monitor, q),
		db:           db,
		redisClient:  redisClient,
		log:          log,
	}, nil
}

// Start runs the queue dispatcher, the change-feed consumer and the
// maintenance loop. It does not block.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.Queue.Start(ctx)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.consumeChanges(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.maintainer.Start(ctx)
	}()
}

// StartServer serves health and metrics endpoints in the background.
func (a *App) StartServer() {
	go func() {
		if err := a.healthServer.Start(); err != nil {
			a.log.Error("Health server failed", "error", err)
		}
	}()
}

// ShopIDs returns the configured shops in config order.
func (a *App) ShopIDs() []string {
	ids := make([]string, 0, len(a.cfg.Shops))
	for _, s := range a.cfg.Shops {
		ids = append(ids, s.ID)
	}
	return ids
}

// WaitIdle blocks until the queue has nothing queued or in flight.
func (a *App) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		if queued, active := a.Queue.Depth(); queued == 0 && active == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop shuts everything down. In-flight jobs finish before it returns
// unless ctx expires first.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping transync...")
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.Queue.Wait()
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("Shutdown timed out waiting for workers")
	}

	a.feed.Close()

	err := a.healthServer.Stop(ctx)

	if a.redisClient != nil {
		if cerr := a.redisClient.Close(); cerr != nil {
			a.log.Warn("Failed to close Redis", "error", cerr)
		}
	}
	if a.db != nil {
		if cerr := a.db.Close(); cerr != nil {
			a.log.Warn("Failed to close database", "error", cerr)
		}
	}
	return err
}

// consumeChanges turns detected content changes into background work for
// shops with auto-translate enabled.
func (a *App) consumeChanges(ctx context.Context) {
	records := a.feed.Records()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			if err := a.handleChange(ctx, rec); err != nil {
				a.log.Warn("Failed to schedule work for change",
					"shop", rec.ShopID, "resource", rec.ResourceID, "error", err)
			}
		}
	}
}

func (a *App) handleChange(ctx context.Context, rec version.ChangeRecord) error {
	shop, ok := a.shops[rec.ShopID]
	if !ok || !shop.AutoTranslate || len(shop.Languages) == 0 {
		return nil
	}
	if rec.Kind == domain.ChangeDeleted {
		return nil
	}

	res, err := a.Store.Resources.Get(ctx, rec.ResourceID)
	if err != nil {
		return fmt.Errorf("failed to load resource: %w", err)
	}

	result, err := a.Skip.BatchEvaluate(ctx, []*domain.Resource{res}, shop.Languages, skip.BatchOptions{})
	if err != nil {
		return err
	}
	keys := result.Eligible()
	if len(keys) == 0 {
		return nil
	}

	specs := make([]domain.JobSpec, 0, len(keys))
	for _, k := range keys {
		specs = append(specs, domain.JobSpec{
			ShopID:        res.ShopID,
			ResourceID:    res.ID,
			ResourceType:  res.Type,
			Language:      k.Language,
			Urgency:       domain.UrgencyBackground,
			ContentLength: res.ContentLength(),
			Retry:         result.Decisions[k].Action == skip.ActionRetry,
		})
	}
	ids, err := a.Queue.EnqueueBatch(ctx, specs)
	if err != nil {
		return err
	}
	a.log.Debug("Scheduled translations for change",
		"resource", res.ID, "kind", rec.Kind, "jobs", len(ids))
	return nil
}
