package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/unclebandit/contactsync-backend/internal/config"
	"github.com/unclebandit/contactsync-backend/internal/db"
	"github.com/unclebandit/contactsync-backend/internal/directory"
	"github.com/unclebandit/contactsync-backend/internal/metrics"
	"github.com/unclebandit/contactsync-backend/internal/model"
	"github.com/unclebandit/contactsync-backend/internal/notifier"
	"github.com/unclebandit/contactsync-backend/internal/queue"
	"github.com/unclebandit/contactsync-backend/internal/repository"
	"github.com/unclebandit/contactsync-backend/internal/service"
	"github.com/unclebandit/contactsync-backend/internal/stats"
	"github.com/unclebandit/contactsync-backend/internal/vault"
)

// app is the wired sync engine shared by serve and run-once.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *sql.DB
	redis   *redis.Client
	broker  *notifier.Broker
	queue   *queue.InMemoryQueue
	store   *repository.Store
	counter *stats.HourlyCounter
	metrics *metrics.Metrics
	orch    *service.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	conn, err := db.Open(ctx, cfg.DSN())
	if err != nil {
		return nil, err
	}
	a.db = conn
	logger.Info("✅ Connected to database")
	if migrate {
		if err := db.Migrate(ctx, conn); err != nil {
			a.close(ctx)
			return nil, err
		}
		logger.Info("schema applied")
	}

	if a.redis, err = stats.NewRedisClient(ctx, cfg.RedisURL); err != nil {
		logger.Warn("redis unavailable, hourly counters disabled", zap.Error(err))
	}
	a.counter = stats.NewHourlyCounter(a.redis)
	a.store = repository.NewStore(conn, a.counter)

	v, err := vault.New(cfg.VaultKey)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("init vault: %w", err)
	}

	a.queue = queue.NewInMemoryQueue(logger)
	var pub queue.AlertPublisher = notifier.LogPublisher{Logger: logger}
	if cfg.AMQPURL != "" {
		broker, err := notifier.DialBroker(ctx, cfg.AMQPURL, cfg.AlertQueue, logger)
		if err != nil {
			logger.Warn("rabbitmq unavailable, alerts will only be logged", zap.Error(err))
		} else {
			a.broker = broker
			pub = broker
		}
	}
	if err := queue.StartAlertSubscriber(a.queue, pub, logger); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("subscribe alerts: %w", err)
	}

	dirOpts := directory.Options{
		BaseURL: cfg.PeopleAPIBaseURL,
		OAuth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.GoogleTokenURL},
		},
		Logger: logger.Named("directory"),
	}
	factory := func(acc model.Account, access, refresh string, onRefresh directory.TokenSaver) (service.Directory, error) {
		c, err := directory.NewClient(dirOpts, acc.Email, access, refresh, onRefresh)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	a.orch = service.NewOrchestrator(a.store, factory, notifier.NewQueueNotifier(a.queue), v,
		service.SyncConfig{
			BatchSize:      cfg.SyncBatchSize,
			ContactCeiling: cfg.ContactCeiling,
			WriteDelay:     cfg.WriteDelay,
			FallbackName:   cfg.FallbackContactName,
		},
		service.WithLogger(logger.Named("sync")),
		service.WithMetrics(a.metrics),
	)
	return a, nil
}

func (a *app) hourlyCounts(ctx context.Context, customer string) (map[string]int, error) {
	return a.counter.Hour(ctx, customer, time.Now())
}

// close drains queued alerts before tearing down connections.
func (a *app) close(ctx context.Context) {
	if a.queue != nil {
		drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.queue.Drain(drainCtx); err != nil {
			a.logger.Warn("alerts still in flight at shutdown", zap.Error(err))
		}
		cancel()
	}
	if a.broker != nil {
		_ = a.broker.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
