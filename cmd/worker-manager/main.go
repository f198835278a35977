package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dynamic-site-maker/internal/api"
	"dynamic-site-maker/internal/common/aws"
	"dynamic-site-maker/internal/common/camunda"
	"dynamic-site-maker/internal/common/config"
	"dynamic-site-maker/internal/common/contentstore"
	"dynamic-site-maker/internal/common/database"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/common/media"
	"dynamic-site-maker/internal/common/notify"
	"dynamic-site-maker/internal/common/observability"
	"dynamic-site-maker/internal/common/pageindex"
	"dynamic-site-maker/internal/common/provisioning"
	"dynamic-site-maker/internal/common/throttle"

	clp "dynamic-site-maker/internal/workers/landing-page/create-landing-page"
	flp "dynamic-site-maker/internal/workers/landing-page/find-landing-page"
	pu "dynamic-site-maker/internal/workers/landing-page/provision-username"
	rs "dynamic-site-maker/internal/workers/landing-page/resolve-submission"
	rt "dynamic-site-maker/internal/workers/landing-page/resolve-template"
	tt "dynamic-site-maker/internal/workers/landing-page/transform-template"
	ulp "dynamic-site-maker/internal/workers/landing-page/update-landing-page"
	"dynamic-site-maker/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"go.uber.org/zap"
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

// jobHandler is implemented by every landing page worker.
type jobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

func main() {
	bootLog := logger.New("info", "console")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}
	_ = bootLog.Sync()

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, strings.Split(cfg.Logging.Output, ",")...)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting dynamic site maker",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		JaegerEndpoint: cfg.Observability.JaegerEndpoint,
	}, log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(ctx)
	}()

	ctx := context.Background()

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	if err := pg.Migrate(ctx); err != nil {
		zapLog.Fatal("postgres schema migration failed", zap.Error(err))
	}
	zapLog.Info("PostgreSQL connected successfully")

	// --- Redis ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	zapLog.Info("Redis connected successfully")

	deps := map[string]database.Pinger{
		"zeebe":    zeebe,
		"postgres": pg,
		"redis":    redis,
	}

	// --- Elasticsearch (optional) ---
	var index *pageindex.Index
	if cfg.Database.Elasticsearch.Enabled() {
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 5, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Warn("elasticsearch unavailable, page lookups use postgres only", zap.Error(err))
		} else {
			index = pageindex.New(es.Client, cfg.Database.Elasticsearch.PageIndex)
			if err := index.EnsureIndex(ctx); err != nil {
				zapLog.Warn("failed to ensure page index", zap.Error(err))
			}
			deps["elasticsearch"] = es
			zapLog.Info("Elasticsearch connected successfully")
		}
	}

	// --- Landing page services ---
	store := contentstore.New(pg.DB, redis.Client, log)

	submissions := rs.NewResolver(store, log)
	templates := rt.NewResolver(store, rt.ResolverConfig{
		DefaultLogoID:  cfg.Site.DefaultLogoID,
		DefaultLogoURL: cfg.Site.DefaultLogoURL,
		AssetBaseURL:   cfg.Site.BaseURL,
		CacheTTL:       config.GetDuration(cfg.Template.CacheTTL),
	}, log)

	gate := throttle.New(throttle.Config{
		CookieName:    cfg.Throttle.CookieName,
		RetentionDays: cfg.Throttle.RetentionDays,
		RedisKey:      cfg.Throttle.RedisKey,
		TrackIP:       cfg.Site.EnableIPTracking,
	}, redis.Client, log)

	uploader := media.NewUploader(media.Config{
		Dir:               cfg.Uploads.Dir,
		BaseURL:           cfg.Uploads.BaseURL,
		MaxBytes:          cfg.Uploads.MaxBytes,
		AllowedExtensions: cfg.Uploads.AllowedExtensions,
	}, store, log)

	var provisioner *provisioning.Client
	if p := cfg.Integrations.Provisioning; p.Enabled {
		provisioner = provisioning.NewClient(provisioning.Config{
			BaseURL:    p.BaseURL,
			APIKey:     p.APIKey,
			APISecret:  p.APISecret,
			Timeout:    config.GetDuration(p.Timeout),
			MaxRetries: p.MaxUsernameRetries,
		}, log)
	}

	notifier := buildNotifier(ctx, cfg, log, zapLog)

	createDeps := clp.Deps{
		Store:       store,
		Submissions: submissions,
		Templates:   templates,
		Throttle:    gate,
		Uploader:    uploader,
		Notifier:    notifier,
		Obs:         obs,
	}
	updateDeps := ulp.Deps{
		Store:       store,
		Submissions: submissions,
		Templates:   templates,
		Uploader:    uploader,
		Obs:         obs,
	}
	var emailIndex flp.EmailIndex
	if index != nil {
		createDeps.Index = index
		updateDeps.Index = index
		emailIndex = index
	}
	if provisioner != nil {
		createDeps.Provisioner = provisioner
	}

	creator, err := clp.NewService(clp.ServiceConfig{
		AuthorID:         cfg.Site.PageAuthorID,
		TitleFormat:      cfg.Site.PageTitleFormat,
		ElementorVersion: cfg.Site.ElementorVersion,
		BaseURL:          cfg.Site.BaseURL,
		TemplateID:       cfg.Site.TemplateIDPtr(),
		RequireLogo:      cfg.Site.RequireLogo,
	}, createDeps, log)
	if err != nil {
		zapLog.Fatal("create landing page service", zap.Error(err))
	}
	updater, err := ulp.NewService(ulp.ServiceConfig{
		BaseURL:    cfg.Site.BaseURL,
		TemplateID: cfg.Site.TemplateIDPtr(),
	}, updateDeps, log)
	if err != nil {
		zapLog.Fatal("update landing page service", zap.Error(err))
	}
	finder := flp.NewFinder(emailIndex, store, cfg.Site.BaseURL, log)

	// --- Workers ---
	handlers := map[string]jobHandler{}

	enabled, jobs, timeout := workerSettings(cfg, rt.TaskType)
	if enabled {
		handlers[rt.TaskType] = rt.NewHandler(&rt.Config{
			Enabled: true, MaxJobsActive: jobs, Timeout: timeout, DefaultTemplateID: cfg.Site.TemplateID,
		}, templates, log)
	}

	enabled, jobs, timeout = workerSettings(cfg, rs.TaskType)
	if enabled {
		h, err := rs.NewHandler(rs.HandlerOptions{
			Config:   &rs.Config{Enabled: true, MaxJobsActive: jobs, Timeout: timeout},
			Resolver: submissions,
			Logger:   log,
		})
		if err != nil {
			zapLog.Fatal("resolve submission handler", zap.Error(err))
		}
		handlers[rs.TaskType] = h
	}

	enabled, jobs, timeout = workerSettings(cfg, tt.TaskType)
	if enabled {
		handlers[tt.TaskType] = tt.NewHandler(&tt.Config{Enabled: true, MaxJobsActive: jobs, Timeout: timeout}, log)
	}

	enabled, jobs, timeout = workerSettings(cfg, clp.TaskType)
	if enabled {
		h, err := clp.NewHandler(&clp.Config{Enabled: true, MaxJobsActive: jobs, Timeout: timeout}, creator, log)
		if err != nil {
			zapLog.Fatal("create landing page handler", zap.Error(err))
		}
		handlers[clp.TaskType] = h
	}

	enabled, jobs, timeout = workerSettings(cfg, ulp.TaskType)
	if enabled {
		h, err := ulp.NewHandler(&ulp.Config{Enabled: true, MaxJobsActive: jobs, Timeout: timeout}, updater, log)
		if err != nil {
			zapLog.Fatal("update landing page handler", zap.Error(err))
		}
		handlers[ulp.TaskType] = h
	}

	enabled, jobs, timeout = workerSettings(cfg, flp.TaskType)
	if enabled {
		handlers[flp.TaskType] = flp.NewHandler(&flp.Config{Enabled: true, MaxJobsActive: jobs, Timeout: timeout}, finder, log)
	}

	var usernames *pu.Handler
	enabled, jobs, timeout = workerSettings(cfg, pu.TaskType)
	if provisioner != nil {
		usernames = pu.NewHandler(&pu.Config{Enabled: enabled, MaxJobsActive: jobs, Timeout: timeout}, provisioner, log)
		if enabled {
			handlers[pu.TaskType] = usernames
		}
	}

	checkRegistry(cfg.App.RegistryPath, handlers, zapLog)

	var jobWorkers []worker.JobWorker
	for taskType, h := range handlers {
		wc := config.GetWorkerConfig(cfg, taskType)
		opts := camunda.WorkerOptions{
			MaxJobsActive: wc.MaxJobsActive,
			Timeout:       config.GetDuration(wc.Timeout),
		}
		jobWorkers = append(jobWorkers, camunda.StartWorker(zeebe.GetClient(), taskType, opts, instrument(obs, taskType, h), log))
	}
	zapLog.Info("Workers started", zap.Int("count", len(jobWorkers)))

	// --- HTTP intake API ---
	services := api.Services{
		Creator: creator,
		Updater: updater,
		Finder:  finder,
		Gate:    gate,
		Deps:    deps,
	}
	if usernames != nil {
		services.Provisioner = usernames
	}
	server := api.NewServer(api.Config{
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		MaxUploadBytes: cfg.Uploads.MaxBytes,
		UploadsDir:     cfg.Uploads.Dir,
		UploadsPath:    cfg.Uploads.ServePath,
	}, services, log)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.HTTP.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping HTTP server", zap.Error(err))
	}
	for _, jw := range jobWorkers {
		jw.Close()
		jw.AwaitClose()
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}
	if err := redis.Close(); err != nil {
		zapLog.Error("Error closing Redis client", zap.Error(err))
	}
	if err := pg.Close(); err != nil {
		zapLog.Error("Error closing PostgreSQL client", zap.Error(err))
	}

	zapLog.Info("Dynamic site maker stopped gracefully")
}

// workerSettings reads workers.<taskType> from config. Unconfigured workers
// run with the config defaults.
func workerSettings(cfg *config.Config, taskType string) (bool, int, time.Duration) {
	wc := config.GetWorkerConfig(cfg, taskType)
	return wc.Enabled, wc.MaxJobsActive, config.GetDuration(wc.Timeout)
}

// checkRegistry warns about workers the activity registry does not describe.
func checkRegistry(path string, handlers map[string]jobHandler, zapLog *zap.Logger) {
	if path == "" {
		return
	}
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		zapLog.Warn("activity registry unavailable", zap.String("path", path), zap.Error(err))
		return
	}
	taskTypes := make([]string, 0, len(handlers))
	for taskType := range handlers {
		taskTypes = append(taskTypes, taskType)
	}
	if missing := reg.Missing(taskTypes); len(missing) > 0 {
		zapLog.Warn("workers missing from activity registry", zap.Strings("taskTypes", missing))
	}
}

// instrument records otel job metrics around a handler.
func instrument(obs *observability.Observability, taskType string, h jobHandler) worker.JobHandler {
	return func(client worker.JobClient, job entities.Job) {
		start := time.Now()
		h.Handle(client, job)
		ctx := context.Background()
		obs.RecordJobProcessed(ctx, taskType, "handled")
		obs.RecordJobDuration(ctx, taskType, time.Since(start))
	}
}

// buildNotifier wires SES and SNS when enabled. A notifier with neither
// channel is still returned and simply does nothing.
func buildNotifier(ctx context.Context, cfg *config.Config, log logger.Logger, zapLog *zap.Logger) *notify.Notifier {
	awsCfg := cfg.Integrations.AWS

	var mailer notify.Mailer
	if awsCfg.SES.Enabled {
		ses, err := aws.NewSESClient(ctx, awsCfg.Region)
		if err != nil {
			zapLog.Warn("SES disabled", zap.Error(err))
		} else {
			mailer = ses
		}
	}

	var publisher notify.Publisher
	if awsCfg.SNS.Enabled {
		sns, err := aws.NewSNSClient(ctx, awsCfg.Region)
		if err != nil {
			zapLog.Warn("SNS disabled", zap.Error(err))
		} else {
			publisher = sns
		}
	}

	return notify.New(notify.Config{
		FromEmail: awsCfg.SES.FromEmail,
		TopicARN:  awsCfg.SNS.TopicARN,
	}, mailer, publisher, log)
}
