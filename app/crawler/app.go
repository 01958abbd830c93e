package crawler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/armored-dev/blitzmirror/pkg/db/postgres"
	"github.com/armored-dev/blitzmirror/pkg/db/stats"
	"github.com/armored-dev/blitzmirror/pkg/logging"
	"github.com/armored-dev/blitzmirror/pkg/ratelimit"
	"github.com/armored-dev/blitzmirror/pkg/redis"
	"github.com/armored-dev/blitzmirror/pkg/retry"
	"github.com/armored-dev/blitzmirror/pkg/wargaming"
)

// App wires the crawler pipeline with its store, upstream client, tuning
// channel, scheduler, and ops server.
type App struct {
	Config  *Config
	Logger  *zap.Logger
	Store   *stats.DB
	Redis   *redis.Client // nil when disabled
	Limiter *ratelimit.Limiter
	Params  *ParamState
	Metrics *Metrics
	Crawler *Crawler
	Lag     *LagController
	Cron    *cron.Cron
	Server  *http.Server
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	store, err := stats.New(ctx, logger, postgres.GetPoolConfigForComponent("crawler"))
	if err != nil {
		logger.Fatal("Unable to initialize snapshot store", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Fatal("Unable to connect to Redis", zap.Error(err))
		}
	}

	baseURL := cfg.APIURL
	if baseURL == "" {
		baseURL, err = wargaming.RealmBaseURL(cfg.Realm)
		if err != nil {
			logger.Fatal("Invalid realm", zap.Error(err))
		}
	}

	limiter := ratelimit.New(cfg.RequestsPerSecond, cfg.RequestBurst)
	api := wargaming.New(wargaming.Opts{
		BaseURL:       baseURL,
		ApplicationID: cfg.ApplicationID,
		Timeout:       cfg.APITimeout,
	}, limiter, logger)

	params := NewParamState(&cfg)
	metrics := NewMetrics(limiter)
	retryCfg := retry.Config{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  cfg.RetryInitialDelay,
		MaxDelay:      cfg.RetryMaxDelay,
		Multiplier:    2.0,
		JitterEnabled: true,
	}

	app := &App{
		Config:  &cfg,
		Logger:  logger,
		Store:   store,
		Redis:   redisClient,
		Limiter: limiter,
		Params:  params,
		Metrics: metrics,
	}

	app.Crawler = &Crawler{
		Selector: &Selector{Store: store, Params: params, Logger: logger},
		Detector: &Detector{API: api, Retry: retryCfg, Logger: logger},
		Updater:  &Updater{Store: store, API: api, Retry: retryCfg, Logger: logger},
		Store:    store,
		Config:   &cfg,
		Logger:   logger,
		Metrics:  metrics,
	}

	app.Lag = &LagController{
		Store:   store,
		Params:  params,
		Config:  &cfg,
		Logger:  logger,
		Metrics: metrics,
	}
	if redisClient != nil {
		app.Lag.Tuning = redisClient
	}

	app.Server = app.NewServer()

	if err := app.setupScheduler(ctx); err != nil {
		logger.Fatal("Unable to set up scheduler", zap.Error(err))
	}

	return app
}

// setupScheduler registers the lag controller tick and the periodic
// throughput log on one cron scheduler.
func (a *App) setupScheduler(ctx context.Context) error {
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	if _, err := a.Cron.AddFunc(a.Config.LagCronSpec, func() {
		a.Lag.Tick(ctx)
	}); err != nil {
		return err
	}
	_, err := a.Cron.AddFunc("30 * * * * *", func() {
		a.Metrics.LogStats(a.Logger)
	})
	return err
}

// Start runs the pipeline and blocks until the context is cancelled or the
// configured run duration elapses.
func (a *App) Start(ctx context.Context) {
	if a.Config.RunDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.RunDuration)
		defer cancel()
		a.Logger.Info("One-off invocation", zap.Duration("run_duration", a.Config.RunDuration))
	}

	a.Cron.Start()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.Crawler.Run(groupCtx)
	})
	group.Go(func() error {
		a.Logger.Info("Starting ops server", zap.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Pipeline terminated with error", zap.Error(err))
	}

	a.Stop()
}

// Stop releases every resource the app holds.
func (a *App) Stop() {
	<-a.Cron.Stop().Done()
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	_ = a.Store.Close()
	a.Logger.Info("Crawler stopped")
}
