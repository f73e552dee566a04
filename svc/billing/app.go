package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/seatledger/pkg/billing"
	"github.com/dmitrymomot/seatledger/pkg/billing/catalog"
	"github.com/dmitrymomot/seatledger/pkg/billing/mongostore"
	"github.com/dmitrymomot/seatledger/pkg/billing/paddle"
	"github.com/dmitrymomot/seatledger/pkg/billing/pgstore"
	"github.com/dmitrymomot/seatledger/pkg/billing/wecom"
	"github.com/dmitrymomot/seatledger/pkg/clientip"
	"github.com/dmitrymomot/seatledger/pkg/httpserver"
	"github.com/dmitrymomot/seatledger/pkg/logger"
	"github.com/dmitrymomot/seatledger/pkg/mongo"
	"github.com/dmitrymomot/seatledger/pkg/pg"
	"github.com/dmitrymomot/seatledger/pkg/ratelimiter"
	"github.com/dmitrymomot/seatledger/pkg/redis"
	"github.com/dmitrymomot/seatledger/pkg/webhook"
)

// App is the assembled billing daemon: the engine, its backends and the HTTP intake.
type App struct {
	Service billing.Service
	Handler http.Handler
	Metrics *Metrics

	cfg      Config
	log      *slog.Logger
	notifier *AsyncNotifier
	closers  []func(context.Context) error
}

// New wires the service from cfg, connecting the selected backends.
// On failure every connection opened so far is closed.
func New(ctx context.Context, cfg Config, log *slog.Logger) (app *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	app = &App{cfg: cfg, log: log, Metrics: NewMetrics()}
	opened := app
	defer func() {
		if err != nil {
			err = errors.Join(err, opened.Close(context.WithoutCancel(ctx)))
		}
	}()

	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", cfg.CatalogPath, err)
	}
	log.InfoContext(ctx, "catalog loaded",
		slog.String("path", cfg.CatalogPath),
		slog.Any("editions", cat.Editions()),
	)
	rounding, err := billing.ParseRounding(cfg.MonthRounding)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	checks := make(map[string]httpserver.Check)
	store, err := app.openStore(ctx, checks)
	if err != nil {
		return nil, err
	}

	opts := []billing.ServiceOption{
		billing.WithLogger(log),
		billing.WithObserver(app.Metrics),
		billing.WithMonths(billing.NewMonthsFunc(cfg.DaysPerMonth, rounding)),
		billing.WithCacheSize(cfg.CacheSize),
		billing.WithFeedBuffer(cfg.FeedBuffer),
		billing.WithLockTimeout(cfg.LockTimeout),
	}

	if cfg.Lock == LockRedis {
		client, err := redis.Connect(ctx, *cfg.Redis)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func(context.Context) error { return client.Close() })
		checks["redis"] = redis.Healthcheck(client)
		opts = append(opts,
			billing.WithLocker(redis.NewLocker(client, redis.WithLockTTL(cfg.LockTTL))),
			billing.WithLeaseTimeout(cfg.LeaseTimeout()),
		)
	}

	classifiers, err := newClassifiers(cfg)
	if err != nil {
		return nil, err
	}
	for _, c := range classifiers {
		opts = append(opts, billing.WithClassifier(c))
	}
	if cfg.TestMode {
		log.WarnContext(ctx, "test mode enabled: webhook signatures are not verified")
	}

	if cfg.Notify.URL != "" {
		sender, err := webhook.NewNotifier(cfg.Notify.URL,
			webhook.WithSecret(cfg.Notify.Secret),
			webhook.WithTimeout(cfg.Notify.Timeout),
			webhook.WithRetries(cfg.Notify.Retries, webhook.Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Jitter: 0.1}),
			webhook.WithCircuitBreaker(cfg.Notify.BreakerFailures, cfg.Notify.BreakerCooldown),
		)
		if err != nil {
			return nil, errors.Join(ErrInvalidConfig, err)
		}
		app.notifier = NewAsyncNotifier(sender, cfg.Notify.QueueSize, log, app.Metrics.ObserveNotifyDropped)
		opts = append(opts, billing.WithPublisher(app.notifier))
	}

	app.Service = billing.NewService(cat, store, opts...)
	app.Metrics.WatchFeed(app.Service.FeedDropped)
	routerOpts := []RouterOption{
		WithRouterLogger(log),
		WithMetrics(app.Metrics),
		WithReadiness(checks),
		WithMaxBodyBytes(cfg.MaxBodyBytes),
		WithClientIPHeaders(cfg.ClientIPHeaders...),
	}
	if cfg.RateLimitEnabled {
		store := ratelimiter.NewMemoryStore()
		app.closers = append(app.closers, func(context.Context) error { return store.Close() })
		limiter, err := ratelimiter.NewBucket(store, cfg.RateLimit)
		if err != nil {
			return nil, errors.Join(ErrInvalidConfig, err)
		}
		routerOpts = append(routerOpts, WithRateLimiter(limiter))
	}
	for channel, ips := range map[billing.Channel][]string{
		wecom.Channel:  cfg.WeCom.AllowedIPs,
		paddle.Channel: cfg.Paddle.AllowedIPs,
	} {
		list, err := clientip.ParseAllowlist(ips)
		if err != nil {
			return nil, errors.Join(ErrInvalidConfig, err)
		}
		routerOpts = append(routerOpts, WithSourceAllowlist(channel, list))
	}
	app.Handler = NewRouter(app.Service, routerOpts...)
	return app, nil
}

func (a *App) openStore(ctx context.Context, checks map[string]httpserver.Check) (billing.Store, error) {
	switch a.cfg.Store {
	case StorePostgres:
		pool, err := pg.Connect(ctx, *a.cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		if err := pg.Migrate(ctx, pool, *a.cfg.Postgres, pgstore.Migrations, pgstore.MigrationsDir, a.log); err != nil {
			return nil, err
		}
		checks["postgres"] = pg.Healthcheck(pool)
		return pgstore.New(pool), nil

	case StoreMongo:
		db, err := mongo.ConnectDatabase(ctx, *a.cfg.Mongo)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(ctx context.Context) error { return db.Client().Disconnect(ctx) })
		store := mongostore.New(db)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure ledger indexes: %w", err)
		}
		checks["mongo"] = mongo.Healthcheck(db.Client())
		return store, nil
	}

	a.log.WarnContext(ctx, "using in-memory ledger: orders are lost on restart")
	return billing.NewMemoryStore(), nil
}

func newClassifiers(cfg Config) ([]billing.Classifier, error) {
	var out []billing.Classifier
	if cfg.WeCom.Enabled {
		out = append(out, wecom.New(wecom.Config{
			SuiteID:          cfg.WeCom.SuiteID,
			Secret:           cfg.WeCom.Secret,
			SkipVerification: cfg.TestMode,
		}))
	}
	if cfg.Paddle.Enabled {
		c, err := paddle.New(paddle.Config{
			WebhookSecret:    cfg.Paddle.WebhookSecret,
			SkipVerification: cfg.TestMode,
		})
		if err != nil {
			return nil, errors.Join(ErrInvalidConfig, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Run serves HTTP and delivers notifications until ctx is done, then releases
// every backend connection.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := httpserver.NewFromConfig(a.cfg.HTTP, httpserver.WithLogger(a.log))
	g.Go(func() error { return srv.Run(ctx, a.Handler) })
	if a.notifier != nil {
		g.Go(func() error { return a.notifier.Run(ctx) })
	}
	g.Go(func() error { return a.watchStates(ctx) })

	err := g.Wait()
	return errors.Join(err, a.Close(context.WithoutCancel(ctx)))
}

// watchStates logs every published state at debug level.
func (a *App) watchStates(ctx context.Context) error {
	sub := a.Service.Subscribe(ctx)
	defer sub.Close()
	for state := range sub.C() {
		a.log.DebugContext(ctx, "subscription state changed",
			logger.Tenant(state.Tenant.Key()),
			logger.PlanID(state.PlanID),
			slog.Int("seats", state.Seats),
			logger.Deadline(state.Deadline),
			slog.String("tier", string(state.Tier())),
		)
	}
	return nil
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, c := range slices.Backward(a.closers) {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
