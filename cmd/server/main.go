// Command server runs the billing HTTP API: plan resolution, provider sync,
// webhooks and plan limits.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cenety/saaskit/modules/billingapi"
	"github.com/cenety/saaskit/pkg/audit"
	"github.com/cenety/saaskit/pkg/billing"
	"github.com/cenety/saaskit/pkg/config"
	"github.com/cenety/saaskit/pkg/httpserver"
	"github.com/cenety/saaskit/pkg/jwt"
	"github.com/cenety/saaskit/pkg/logger"
	"github.com/cenety/saaskit/pkg/metrics"
	"github.com/cenety/saaskit/pkg/pg"
	"github.com/cenety/saaskit/pkg/ratelimit"
	"github.com/cenety/saaskit/pkg/redis"
	"github.com/cenety/saaskit/pkg/requestid"
	"github.com/cenety/saaskit/svc/pgstore"
)

type appConfig struct {
	Env             string `env:"APP_ENV" envDefault:"development"`
	Name            string `env:"APP_NAME" envDefault:"billing"`
	LogLevel        string `env:"LOG_LEVEL"`
	PortalReturnURL string `env:"BILLING_PORTAL_RETURN_URL"`
}

func main() {
	config.LoadEnv()

	var app appConfig
	config.MustLoad(&app)

	opts := []logger.Option{
		logger.WithEnvironment(app.Env, app.Name),
		logger.WithContextExtractors(requestid.LoggerExtractor(), jwt.LoggerExtractor()),
	}
	if app.LogLevel != "" {
		opts = append(opts, logger.WithLevelName(app.LogLevel))
	}
	log := logger.New(opts...)

	if err := run(context.Background(), log, app); err != nil {
		log.Error("server stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, app appConfig) error {
	var (
		pgCfg      pg.Config
		httpCfg    httpserver.Config
		billingCfg billing.Config
		stripeCfg  billing.StripeConfig
		polarCfg   billing.PolarConfig
		jwtCfg     jwt.Config
		limitCfg   ratelimit.Config
	)
	for _, load := range []func() error{
		func() error { return config.Load(&pgCfg) },
		func() error { return config.Load(&httpCfg) },
		func() error { return config.Load(&billingCfg) },
		func() error { return config.Load(&stripeCfg) },
		func() error { return config.Load(&polarCfg) },
		func() error { return config.Load(&jwtCfg) },
		func() error { return config.Load(&limitCfg) },
	} {
		if err := load(); err != nil {
			return err
		}
	}

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, pgCfg, log); err != nil {
		return err
	}

	checks := map[string]httpserver.Check{"postgres": pg.Healthcheck(pool)}

	catalog, err := billingCfg.LoadCatalog()
	if err != nil {
		return err
	}

	resolverOpts := []billing.ResolverOption{billing.WithResolverLogger(log)}
	switch billingCfg.Cache {
	case billing.CacheBackendRedis:
		var redisCfg redis.Config
		if err := config.Load(&redisCfg); err != nil {
			return err
		}
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer closeRedis(log, client)
		checks["redis"] = redis.Healthcheck(client)
		resolverOpts = append(resolverOpts, billing.WithPlanCache(billing.NewRedisCache(client), billingCfg.PlanCacheTTL))
	case billing.CacheBackendMemory:
		resolverOpts = append(resolverOpts, billing.WithPlanCache(billing.NewMemoryCache(billingCfg.CacheSize), billingCfg.PlanCacheTTL))
	case billing.CacheBackendNone:
	default:
		return errors.New("unknown BILLING_CACHE backend: " + billingCfg.Cache)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	auditStorage := audit.NewAsyncStorage(pgstore.NewAuditStorage(pool), log, audit.AsyncOptions{})
	auditLog := audit.NewLogger(auditStorage,
		audit.WithLogger(log),
		audit.WithRequestIDExtractor(requestid.FromContext),
	)

	store := pgstore.NewStore(pool)
	resolver := billing.NewResolver(store, catalog, resolverOpts...)

	syncOpts := []billing.SyncOption{
		billing.WithAuditLogger(auditLog),
		billing.WithObserver(m),
		billing.WithSyncLogger(log),
	}
	if stripeCfg.Enabled() {
		p, err := billing.NewStripeProvider(stripeCfg, log)
		if err != nil {
			return err
		}
		syncOpts = append(syncOpts, billing.WithProvider(p))
	} else {
		log.Warn("stripe is not configured", logger.Provider(string(billing.ProviderStripe)))
	}
	if polarCfg.Enabled() {
		p, err := billing.NewPolarProvider(polarCfg)
		if err != nil {
			return err
		}
		syncOpts = append(syncOpts, billing.WithProvider(p))
	} else {
		log.Warn("polar is not configured", logger.Provider(string(billing.ProviderPolar)))
	}
	synchronizer := billing.NewSynchronizer(store, resolver, syncOpts...)

	enforcer := billing.NewEnforcer(resolver, pgstore.NewUsageCounter(pool),
		billing.WithEnforcerLogger(log),
		billing.WithEnforcerObserver(m),
	)

	sessions, err := jwt.NewFromConfig(jwtCfg)
	if err != nil {
		return err
	}
	limiter, err := ratelimit.New(limitCfg)
	if err != nil {
		return err
	}

	api := billingapi.New(resolver, synchronizer, enforcer, sessions,
		billingapi.WithLogger(log),
		billingapi.WithSessionCookie(jwtCfg.Cookie),
		billingapi.WithRefreshLimiter(limiter),
		billingapi.WithPortalReturnURL(app.PortalReturnURL),
	)

	r := chi.NewRouter()
	r.Use(requestid.Middleware, m.Middleware)
	r.Handle("/metrics", m.Handler())
	r.Get("/health", httpserver.HealthHandler(log, 5*time.Second, checks))
	r.Mount("/", api.Handle())

	srv := httpserver.New(httpCfg,
		httpserver.WithLogger(log),
		httpserver.WithStopHook(auditStorage.Close),
	)
	log.Info("starting server",
		slog.String("addr", httpCfg.Addr),
		slog.Int("plans", len(catalog.Plans())),
	)
	return srv.Run(ctx, r)
}

func closeRedis(log *slog.Logger, client *goredis.Client) {
	if err := client.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		log.Error("failed to close redis", logger.Error(err))
	}
}
