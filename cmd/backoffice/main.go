package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"content-backoffice/internal/common/auth"
	awsclients "content-backoffice/internal/common/aws"
	"content-backoffice/internal/common/config"
	"content-backoffice/internal/common/database"
	"content-backoffice/internal/common/logger"
	"content-backoffice/internal/common/observability"
	"content-backoffice/internal/content/audit"
	"content-backoffice/internal/content/lifecycle"
	"content-backoffice/internal/content/store"
	"content-backoffice/internal/models"
	"content-backoffice/internal/notify/delivery"
	"content-backoffice/internal/notify/digest"
	"content-backoffice/internal/notify/fanout"
	"content-backoffice/internal/notify/notifications"
	"content-backoffice/internal/notify/preference"
	"content-backoffice/internal/notify/subscription"
	"content-backoffice/internal/scheduler"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting content back office",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	obs := observability.New("content-backoffice")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Postgres ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pg.Ping(pingCtx)
	}, 10, 2*time.Second, zapLog, "Postgres initialization")
	if err != nil {
		zapLog.Fatal("postgres unavailable", zap.Error(err))
	}
	defer pg.Close()

	// --- Redis ---
	rdb, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		zapLog.Fatal("redis init failed", zap.Error(err))
	}
	defer rdb.Close()
	err = retryWithBackoff(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx)
	}, 10, 2*time.Second, zapLog, "Redis ping")
	if err != nil {
		zapLog.Fatal("redis unavailable", zap.Error(err))
	}

	// --- Delivery channels ---
	var sesClient delivery.SESService
	var snsClient delivery.SNSService
	if cfg.Notifications.Email.Enabled {
		c, err := awsclients.NewSESClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("SES init failed", zap.Error(err))
		}
		sesClient = c
	}
	if cfg.Notifications.Push.Enabled {
		c, err := awsclients.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("SNS init failed", zap.Error(err))
		}
		snsClient = c
	}

	// --- Identity collaborator ---
	identity := auth.NewIdentityClient(
		cfg.Identity.BaseURL,
		cfg.Identity.ClientID,
		cfg.Identity.ClientSecret,
		config.GetDuration(cfg.Identity.Timeout),
	)

	// --- Stores and services ---
	db := pg.GetDB()
	articles := store.New(db)
	auditLog := audit.New(db)
	notifStore := notifications.NewStore(db)
	subs := subscription.NewRegistry(db, log)
	prefs := preference.NewEvaluator(db, log)
	buckets := digest.NewBuckets(rdb.GetClient())

	dispatcher := delivery.NewDispatcher(delivery.Config{
		EmailEnabled:   cfg.Notifications.Email.Enabled,
		FromEmail:      cfg.Notifications.Email.FromEmail,
		PushEnabled:    cfg.Notifications.Push.Enabled,
		MaxRetries:     cfg.Notifications.MaxRetries,
		InitialBackoff: config.GetDuration(cfg.Notifications.InitialBackoff),
	}, db, rdb.GetClient(), notifStore, sesClient, snsClient, log)

	engine := fanout.NewEngine(articles, subs, prefs, notifStore, buckets, dispatcher, log)
	builder := digest.NewBuilder(buckets, notifStore, prefs, dispatcher, log)

	lifecycleSvc := lifecycle.NewService(db, articles, auditLog, identity, log)
	lifecycleSvc.SetPublishListener(engine)

	// News stays unregistered until it has its own store and publish path;
	// the registry reports a due news schedule as failed.
	registry := scheduler.NewHandlerRegistry()
	registry.Register(models.ContentTypeArticle, func(ctx context.Context, contentID, actorID string) error {
		_, err := lifecycleSvc.PublishNow(ctx, contentID, actorID)
		return err
	})

	schedSvc := scheduler.NewService(db, registry,
		cfg.Scheduler.MaxAttempts, cfg.Scheduler.BatchSize, log)
	lifecycleSvc.SetScheduleManager(schedSvc)

	// --- Periodic triggers ---
	c := cron.New()

	_, err = c.AddFunc(cfg.Scheduler.SweepCron, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		sweepStart := time.Now()
		result, err := schedSvc.ProcessDue(runCtx)
		if err != nil {
			log.Error("sweep failed", map[string]interface{}{"error": err})
			obs.RecordPublicationDuration(runCtx, time.Since(sweepStart), "error")
			return
		}
		for i := 0; i < result.Processed; i++ {
			obs.RecordPublication(runCtx, "processed")
		}
		for i := 0; i < result.Failed; i++ {
			obs.RecordPublication(runCtx, "failed")
		}
		obs.RecordPublicationDuration(runCtx, time.Since(sweepStart), "ok")
		grace := time.Duration(cfg.Scheduler.OverdueGrace) * time.Minute
		overdue, err := schedSvc.GetOverdue(runCtx, grace)
		if err == nil && len(overdue) > 0 {
			log.Warn("overdue schedules detected", map[string]interface{}{
				"count": len(overdue),
			})
		}
	})
	if err != nil {
		zapLog.Fatal("invalid sweep cron", zap.Error(err))
	}

	_, err = c.AddFunc(cfg.Digest.DailyCron, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := builder.BuildDue(runCtx, models.FrequencyDaily); err != nil {
			log.Error("daily digest build failed", map[string]interface{}{"error": err})
		}
	})
	if err != nil {
		zapLog.Fatal("invalid daily digest cron", zap.Error(err))
	}

	_, err = c.AddFunc(cfg.Digest.WeeklyCron, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := builder.BuildDue(runCtx, models.FrequencyWeekly); err != nil {
			log.Error("weekly digest build failed", map[string]interface{}{"error": err})
		}
	})
	if err != nil {
		zapLog.Fatal("invalid weekly digest cron", zap.Error(err))
	}

	_, err = c.AddFunc(cfg.Notifications.DeferredCron, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := dispatcher.ReleaseDue(runCtx); err != nil {
			log.Error("deferred release failed", map[string]interface{}{"error": err})
		}
	})
	if err != nil {
		zapLog.Fatal("invalid deferred-release cron", zap.Error(err))
	}

	c.Start()

	// --- Metrics endpoint ---
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Address, mux); err != nil {
				zapLog.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	zapLog.Info("content back office running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLog.Info("shutting down")
	stopCtx := c.Stop()
	<-stopCtx.Done()
}
