package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanwahyu/support-guardrail/internal/application"
	"github.com/bryanwahyu/support-guardrail/internal/application/guardrail"
	"github.com/bryanwahyu/support-guardrail/internal/config"
	"github.com/bryanwahyu/support-guardrail/internal/domain/actionclaim"
	"github.com/bryanwahyu/support-guardrail/internal/domain/audit"
	"github.com/bryanwahyu/support-guardrail/internal/domain/leak"
	"github.com/bryanwahyu/support-guardrail/internal/domain/messages"
	"github.com/bryanwahyu/support-guardrail/internal/domain/session"
	"github.com/bryanwahyu/support-guardrail/internal/domain/verification"
	openaic "github.com/bryanwahyu/support-guardrail/internal/infra/ai/openai"
	rediscache "github.com/bryanwahyu/support-guardrail/internal/infra/cache/redis"
	"github.com/bryanwahyu/support-guardrail/internal/infra/db/memory"
	mysqlp "github.com/bryanwahyu/support-guardrail/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/support-guardrail/internal/infra/db/postgres"
	"github.com/bryanwahyu/support-guardrail/internal/infra/httpserver"
	"github.com/bryanwahyu/support-guardrail/internal/infra/metrics"
	minioStore "github.com/bryanwahyu/support-guardrail/internal/infra/storage"
	"github.com/bryanwahyu/support-guardrail/internal/logging"
	"github.com/bryanwahyu/support-guardrail/internal/middleware"
)

// stores is what the configured backend provides.
type stores struct {
	states  verification.StateStore
	locks   session.Locker
	sink    audit.Sink
	counter audit.ViolationCounter
	purger  purger
	checks  map[string]middleware.HealthChecker
	closers []func() error
}

type purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("config load error", "path", path, "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Error("store init error", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		for _, c := range st.closers {
			c()
		}
	}()

	// audit sinks: the store first, then the optional MinIO archive
	sinks := audit.MultiSink{st.sink}
	if cfg.Minio.Enabled {
		archive, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.Prefix,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			logger.Error("minio init error", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, archive)
	}

	g := cfg.Guardrail
	catalog := messages.Default()
	filter, err := leak.NewFilter(leak.WithWindow(g.ContextWindow), leak.WithCatalog(catalog))
	if err != nil {
		logger.Error("leak filter init error", "error", err)
		os.Exit(1)
	}

	claims := &actionclaim.Policy{
		Catalog:           catalog,
		CorrectionEnabled: g.CorrectionEnabled,
		CorrectionTimeout: g.CorrectionTimeout,
		Logger:            logger,
	}
	if cfg.OpenAI.Enabled {
		claims.Corrector = openaic.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	}

	m := metrics.New()
	recorder := audit.NewRecorder(sinks, st.counter, audit.RecorderOptions{
		Timeout:   g.AuditTimeout,
		Window:    g.ViolationWindow,
		Threshold: g.ViolationThreshold,
		Logger:    logger,
	})

	svc := &guardrail.Service{
		Catalog: catalog,
		Leak:    filter,
		Verifier: &verification.Machine{
			Catalog:     catalog,
			AskFor:      verification.AskFor(g.AskFor),
			MaxAttempts: g.MaxVerificationAttempts,
		},
		Claims:            claims,
		States:            st.states,
		Locks:             st.locks,
		Audit:             recorder,
		Observer:          m,
		Clock:             application.SystemClock{},
		Logger:            logger,
		StrictGrounding:   g.StrictGrounding,
		DefaultLanguage:   messages.ParseLanguage(g.DefaultLanguage),
		LowStockThreshold: g.LowStockThreshold,
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	readiness := &middleware.Readiness{Checks: st.checks}
	handler := httpserver.NewRouter(svc, httpserver.Options{
		APIKeys:     cfg.Auth.APIKeys,
		RateLimiter: limiter,
		Metrics:     m,
		CORSOrigins: cfg.CORS.AllowedOrigins,
		Checkers:    st.checks,
		Readiness:   readiness,
		Logger:      logger,
	})

	go maintenance(ctx, logger, limiter, st.purger, retention(g.ViolationWindow))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")
	readiness.Drain()

	ctx2, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	// pending audit writes finish before the stores close
	recorder.Wait()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.Store.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, fmt.Errorf("mysql connect: %w", err)
		}
		if cfg.Database.Migrate {
			if err := mysqlp.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, fmt.Errorf("mysql migrate: %w", err)
			}
		}
		// held session locks pin a connection each; keep them off the repository pool
		lockDB, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("mysql lock pool: %w", err)
		}
		v := mysqlp.NewViolationRepository(db)
		st := sqlStores(db, mysqlp.NewStateRepository(db), mysqlp.NewEventRepository(db), v, v)
		st.locks = mysqlp.NewLocker(lockDB, cfg.Server.WriteTimeout)
		st.closers = append(st.closers, lockDB.Close)
		return st, nil

	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		if cfg.Database.Migrate {
			if err := postgresp.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, fmt.Errorf("postgres migrate: %w", err)
			}
		}
		lockDB, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres lock pool: %w", err)
		}
		v := postgresp.NewViolationRepository(db)
		st := sqlStores(db, postgresp.NewStateRepository(db), postgresp.NewEventRepository(db), v, v)
		st.locks = postgresp.NewLocker(lockDB)
		st.closers = append(st.closers, lockDB.Close)
		return st, nil

	case "redis":
		rdb, err := rediscache.Connect(ctx, cfg.RedisURL())
		if err != nil {
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		opts := rediscache.Options{
			Prefix:    cfg.Redis.Prefix,
			StateTTL:  cfg.Redis.StateTTL,
			LockTTL:   cfg.Redis.LockTTL,
			Retention: retention(cfg.Guardrail.ViolationWindow),
		}
		// redis has no append-only log; events go to the process log
		// unless the MinIO archive is enabled
		return &stores{
			states:  rediscache.NewStateStore(rdb, opts),
			locks:   rediscache.NewLocker(rdb, opts),
			sink:    logSink{},
			counter: rediscache.NewCounter(rdb, opts),
			checks: map[string]middleware.HealthChecker{
				"redis": middleware.CheckerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
			},
			closers: []func() error{rdb.Close},
		}, nil
	}

	return &stores{
		states:  memory.NewStateStore(),
		locks:   memory.NewLocker(),
		sink:    memory.NewSink(),
		counter: memory.NewCounter(retention(cfg.Guardrail.ViolationWindow)),
	}, nil
}

func sqlStores(db *sql.DB, states verification.StateStore, sink audit.Sink, counter audit.ViolationCounter, p purger) *stores {
	return &stores{
		states:  states,
		sink:    sink,
		counter: counter,
		purger:  p,
		checks:  map[string]middleware.HealthChecker{"database": &middleware.DatabaseHealthChecker{DB: db}},
		closers: []func() error{db.Close},
	}
}

// logSink writes events to the default logger.
type logSink struct{}

func (logSink) Append(ctx context.Context, e audit.SecurityEvent) error {
	slog.Default().InfoContext(ctx, "security event",
		"event_id", e.ID,
		"type", e.Type,
		"business_id", e.BusinessID,
		"session_id", e.SessionID,
		"details", e.Details,
	)
	return nil
}

// retention keeps counter data for at least a day and two windows.
func retention(window time.Duration) time.Duration {
	if r := 2 * window; r > 24*time.Hour {
		return r
	}
	return 24 * time.Hour
}

func maintenance(ctx context.Context, logger *slog.Logger, limiter *middleware.RateLimiter, p purger, keep time.Duration) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			limiter.Sweep(now)
			if p == nil {
				continue
			}
			n, err := p.PurgeBefore(ctx, now.Add(-keep))
			if err != nil {
				logger.Warn("violation purge failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("violation counter purged", "rows", n)
			}
		}
	}
}
