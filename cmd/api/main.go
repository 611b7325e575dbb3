package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dexra46515/apex-app-shield-sub000/internal/api/routes"
	"github.com/dexra46515/apex-app-shield-sub000/internal/botdetect"
	"github.com/dexra46515/apex-app-shield-sub000/internal/config"
	"github.com/dexra46515/apex-app-shield-sub000/internal/database"
	"github.com/dexra46515/apex-app-shield-sub000/internal/enrich"
	"github.com/dexra46515/apex-app-shield-sub000/internal/kv"
	"github.com/dexra46515/apex-app-shield-sub000/internal/logger"
	"github.com/dexra46515/apex-app-shield-sub000/internal/pipeline"
	"github.com/dexra46515/apex-app-shield-sub000/internal/ratelimit"
	"github.com/dexra46515/apex-app-shield-sub000/internal/reputation"
	"github.com/dexra46515/apex-app-shield-sub000/internal/rules"
	"github.com/dexra46515/apex-app-shield-sub000/internal/server"
	"github.com/dexra46515/apex-app-shield-sub000/internal/services"
	"github.com/dexra46515/apex-app-shield-sub000/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log().WithError(err).Fatal("load config")
	}

	// Log to both stdout and a rotated file
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		logger.Log().WithError(err).Fatal("create log directory")
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "shield.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	logger.Init(cfg.Debug, io.MultiWriter(os.Stdout, rotator))
	log := logger.Component("main")
	log.WithField("version", version.Full()).Infof("starting %s", version.Name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("migrate database")
	}

	scheduler := cron.New()

	var store kv.Store
	if cfg.RedisAddr != "" {
		client, err := kv.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.WithError(err).Fatal("connect redis")
		}
		defer client.Close()
		store = kv.NewRedisStore(client, "shield:")
		log.WithField("addr", cfg.RedisAddr).Info("using redis state store")
	} else {
		mem := kv.NewMemoryStore()
		store = mem
		if _, err := scheduler.AddFunc("@every 1m", func() {
			if n := mem.Sweep(time.Now()); n > 0 {
				logger.Component("kv").WithField("removed", n).Debug("swept expired keys")
			}
		}); err != nil {
			log.WithError(err).Fatal("schedule kv sweep")
		}
		log.Info("using in-process state store")
	}

	ruleService := services.NewRuleSetService(db)
	var source rules.Source = ruleService
	var fileLoader *rules.FileLoader
	if cfg.RulesFile != "" {
		fileLoader = rules.NewFileLoader(cfg.RulesFile)
		source = fileLoader
	}
	cache := rules.NewCache(source)
	if err := cache.Refresh(ctx); err != nil {
		log.WithError(err).Warn("initial rule load incomplete")
	}
	if fileLoader != nil {
		go func() {
			err := fileLoader.Watch(ctx, func() {
				rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = cache.Refresh(rctx)
			})
			if err != nil && ctx.Err() == nil {
				log.WithError(err).Error("rule file watcher stopped")
			}
		}()
	} else if _, err := cache.Schedule(scheduler, cfg.RefreshSchedule, 10*time.Second); err != nil {
		log.WithError(err).Fatal("schedule rule refresh")
	}
	scheduler.Start()

	notifications := services.NewNotificationService(db, cfg.NotifyURLs...)
	var scorer enrich.AnomalyScorer = enrich.NoopScorer{}
	if cfg.ScorerURL != "" {
		scorer = enrich.NewHTTPScorer(cfg.ScorerURL, cfg.ScorerTimeout)
	}
	var exporter enrich.Exporter = enrich.NoopExporter{}
	if cfg.SIEMURL != "" {
		exporter = enrich.NewHTTPExporter(cfg.SIEMURL, cfg.ScorerTimeout)
	}
	security := services.NewSecurityService(db)
	dispatcher := enrich.NewDispatcher(enrich.Config{
		QueueSize:     cfg.QueueSize,
		Workers:       cfg.Workers,
		HighAnomaly:   cfg.HighAnomaly,
		MediumAnomaly: cfg.MediumAnomaly,
	}, enrich.Deps{
		Events:     security,
		Alerts:     []enrich.AlertSink{security, notifications},
		Scorer:     scorer,
		Exporter:   exporter,
		Triggers:   ruleService,
		Reputation: services.NewReputationService(db),
	})

	adaptive, err := rules.NewAdaptiveEngine(store, 0)
	if err != nil {
		log.WithError(err).Fatal("create adaptive engine")
	}
	rep := reputation.New(store)
	classifier := pipeline.New(cfg.DetectorBudget, pipeline.Deps{
		Bots:       botdetect.New(),
		Limiter:    ratelimit.New(store, ratelimit.Config{Limit: cfg.RateLimit, Window: cfg.RateWindow}),
		Reputation: rep,
		Rules:      cache,
		BOLA:       rules.NewBOLAGuard(store, cfg.BOLAThreshold, cfg.BOLAWindow),
		Adaptive:   adaptive,
		Dispatcher: dispatcher,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.New(cfg)
	if err := routes.Register(srv.Engine, routes.Deps{
		DB:            db,
		Config:        cfg,
		Classifier:    classifier,
		Reputation:    rep,
		Rules:         cache,
		Notifications: notifications,
		Registry:      registry,
	}); err != nil {
		log.WithError(err).Fatal("register routes")
	}

	log.WithField("port", cfg.HTTPPort).Info("listening")
	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Error("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	<-scheduler.Stop().Done()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("enrichment queue not drained")
	}
	notifications.Wait()
	log.Info("shutdown complete")
}
