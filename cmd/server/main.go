package main

import (
	"context"
	"log"
	"time"

	"github.com/haatos/simple-dispatch/internal"
	"github.com/haatos/simple-dispatch/internal/handler"
	"github.com/haatos/simple-dispatch/internal/security"
	"github.com/haatos/simple-dispatch/internal/service"
	"github.com/haatos/simple-dispatch/internal/settings"
	"github.com/haatos/simple-dispatch/internal/store"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	settings.ReadDotenv(internal.DotEnvPath)
	settings.Settings = settings.NewSettings()
	internal.InitializeConfiguration(settings.Settings.ConfigPath)
	hashKey, blockKey := security.NewKeys(internal.DotEnvPath)

	rdb := store.InitDatabase(true)
	defer rdb.Close()
	rwdb := store.InitDatabase(false)
	defer rwdb.Close()
	if err := store.RunMigrations(rwdb, settings.Settings.Driver()); err != nil {
		log.Fatal(err)
	}

	scheduler := service.NewScheduler()
	defer scheduler.Shutdown()

	runnerStore := store.NewRunnerSQLStore(rdb, rwdb)
	pipelineStore := store.NewPipelineSQLStore(rdb, rwdb)
	runStore := store.NewRunSQLStore(rdb, rwdb)
	artifactStore := store.NewArtifactSQLStore(rdb, rwdb)
	apiKeyStore := store.NewAPIKeySQLStore(rdb, rwdb)
	aesEncrypter := security.NewAESEncrypter(hashKey)

	runnerSvc := service.NewRunnerService(runnerStore, aesEncrypter)
	pool := service.NewRunnerPool(internal.Config.RunnerPolicy)
	logStore := service.NewFileLogStore(settings.Settings.LogsDir())
	coordinator := service.NewCoordinator(
		service.NewRunnerWorkspaces(settings.Settings.WorkspacesDir()),
		logStore,
		service.NewArtifactCollector(settings.Settings.ArtifactsDir(), artifactStore),
		time.Duration(internal.Config.DefaultJobTimeoutSeconds),
	)
	runQueue := service.NewRunQueue(
		runStore,
		runnerSvc,
		pool,
		coordinator,
		internal.Config.QueueSize,
		internal.Config.MaxConcurrentRuns,
	)
	go runQueue.Run()
	defer runQueue.Shutdown()

	pipelineSvc := service.NewPipelineService(
		pipelineStore,
		runStore,
		artifactStore,
		logStore,
		runQueue,
		scheduler,
		settings.Settings.ArtifactsDir(),
		settings.Settings.ArchivesDir(),
	)
	ctx := context.Background()
	if n, err := pipelineSvc.CancelUnfinishedRuns(ctx); err != nil {
		log.Fatal(err)
	} else if n > 0 {
		log.Printf("cancelled %d runs left unfinished by the previous process\n", n)
	}
	if err := pipelineSvc.InitializeSchedules(ctx); err != nil {
		log.Fatal(err)
	}
	if err := pipelineSvc.ScheduleArchive(); err != nil {
		log.Fatal(err)
	}
	scheduler.Start()

	apiKeySvc := service.NewAPIKeyService(apiKeyStore, service.NewUUIDGen())
	if err := apiKeySvc.InitializeAPIKey(ctx); err != nil {
		log.Fatal(err)
	}

	links := service.NewArtifactLinkService(
		hashKey, blockKey,
		time.Duration(internal.Config.ArtifactLinkExpiresHours),
	)
	runH := handler.NewRunHandler(pipelineSvc, runQueue.Events, links, settings.Settings.BaseURL())

	e := setupEcho()
	api := e.Group("/api", handler.APIKeyMiddleware(apiKeySvc))
	handler.SetupPipelineRoutes(api, pipelineSvc)
	handler.SetupRunRoutes(api, pipelineSvc, runQueue.Events, links, settings.Settings.BaseURL())
	handler.SetupRunnerRoutes(api, runnerSvc)
	handler.SetupAPIKeyRoutes(api, apiKeySvc)
	handler.SetupConfigRoutes(api, settings.Settings.ConfigPath)
	handler.SetupArtifactDownloadRoutes(e, runH)

	internal.GracefulShutdown(e, settings.Settings.Port)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Use(
		middleware.Recover(),
		middleware.RequestLoggerWithConfig(internal.GetRequestLoggerConfig()),
		middleware.CORSWithConfig(internal.GetCORSConfig()),
		middleware.RateLimiterWithConfig(
			internal.GetRateLimiterConfig(internal.Config.RequestsPerSecond),
		),
	)
	return e
}
