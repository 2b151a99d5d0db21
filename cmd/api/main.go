package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"linecare/internal/api"
	"linecare/internal/cache"
	"linecare/internal/config"
	"linecare/internal/events"
	"linecare/internal/httpclient"
	"linecare/internal/integrations/factory"
	"linecare/internal/jobs"
	"linecare/internal/logging"
	"linecare/internal/metrics"
	"linecare/internal/notifications"
	"linecare/internal/orchestrator"
	"linecare/internal/scheduler"
	"linecare/internal/store"
	"linecare/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	if err := run(cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	metrics.RegisterDefault()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(cfg, logger)
	if err != nil { return err }
	defer closeStore()

	var (
		queue  jobs.Queue
		tokens cache.TokenCache
		broker events.Broker
		locker orchestrator.Locker
	)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil { return fmt.Errorf("parse REDIS_URL: %w", err) }
		rdb := redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
		queue, tokens, broker = jobs.NewRedisQueue(rdb), cache.NewRedis(rdb), events.NewRedisBroker(rdb)
		if cfg.SyncLockEnabled { locker = orchestrator.NewRedisLocker(rdb) }
		logger.Info("using redis for jobs, tokens and events")
	} else {
		mq := jobs.NewMemoryQueue()
		defer mq.Close()
		queue, tokens, broker = mq, cache.NewMemory(), events.NewMemory()
		if cfg.SyncLockEnabled { locker = orchestrator.NewMemoryLocker() }
	}

	hcfg := httpclient.DefaultConfig()
	hcfg.Timeout = cfg.HTTPTimeout
	hc := httpclient.New(hcfg, logger.Named("http"))
	f := factory.New()

	hooks := webhooks.NewDispatcher(st, queue, hc, webhooks.Config{
		Timeout:     cfg.WebhookTimeout,
		MaxAttempts: cfg.WebhookMaxAttempts,
		Backoff:     cfg.WebhookBackoff,
	}, logger.Named("webhooks"))
	pub := webhooks.NewPublisher(st, hooks, logger.Named("webhooks"))

	var channels []notifications.Channel
	if cfg.NotifyMailURL != "" {
		channels = append(channels, &notifications.MailChannel{URL: cfg.NotifyMailURL, Token: cfg.NotifyMailToken, HTTP: hc})
	}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		w := notifications.NewKafkaWriter(brokers)
		defer func() { _ = w.Close() }()
		channels = append(channels,
			notifications.NewKafkaChannel(notifications.ChannelSMS, cfg.KafkaTopic, w),
			notifications.NewKafkaChannel(notifications.ChannelPush, cfg.KafkaTopic, w),
		)
	}
	svc := notifications.NewService(logger.Named("notifications"), channels...)
	notify := notifications.NewDispatcher(st, queue, svc, logger.Named("notifications"))

	orch := orchestrator.New(st, f, orchestrator.Options{
		HTTP:    hc,
		Tokens:  tokens,
		Events:  broker,
		Webhook: pub,
		Locker:  locker,
		Logger:  logger.Named("sync"),
	})
	syncs := orchestrator.NewJobs(orch, queue, notify, orchestrator.JobConfig{
		Timeout:  cfg.SyncJobTimeout,
		Backoff:  cfg.SyncBackoff,
		RetryFor: cfg.SyncRetryFor,
	})

	pool := jobs.NewPool(queue, jobs.PoolConfig{WorkerCount: cfg.Workers}, broker, logger.Named("jobs"))
	hooks.Register(pool)
	notify.Register(pool)
	syncs.Register(pool)
	// in-flight jobs finish on shutdown; Stop bounds the wait
	if err := pool.Start(context.Background()); err != nil { return err }

	sched := scheduler.New(syncs, logger.Named("scheduler"))
	if err := sched.ScheduleSync(cfg.SyncSchedule); err != nil { return fmt.Errorf("schedule sync: %w", err) }
	sched.Start()

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: (&api.Server{
			Store:     st,
			Factory:   f,
			Orch:      orch,
			Syncs:     syncs,
			Webhooks:  hooks,
			Publisher: pub,
			Notify:    notify,
			Channels:  svc.Channels(),
			Broker:    broker,
			Logger:    logger.Named("api"),
		}).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) { errCh <- err }
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil { return err }
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil { logger.Warn("http shutdown", zap.Error(err)) }
	if err := pool.Stop(shutdownCtx); err != nil { logger.Warn("job pool shutdown", zap.Error(err)) }
	return nil
}

func openStore(cfg config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil { return nil, nil, fmt.Errorf("open postgres: %w", err) }
	if cfg.DBMigrate {
		if err := pg.Migrate(logger.Named("migrate")); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return pg, func() { _ = pg.Close() }, nil
}
