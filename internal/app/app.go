package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/common"
	"github.com/ternarybob/memoria/internal/interfaces"
	"github.com/ternarybob/memoria/internal/knowledgeapi"
	"github.com/ternarybob/memoria/internal/services/contextstore"
	"github.com/ternarybob/memoria/internal/services/corpus"
	"github.com/ternarybob/memoria/internal/services/integrity"
	"github.com/ternarybob/memoria/internal/services/knowledge"
	"github.com/ternarybob/memoria/internal/services/notify"
	"github.com/ternarybob/memoria/internal/services/retry"
	"github.com/ternarybob/memoria/internal/services/scheduler"
	"github.com/ternarybob/memoria/internal/storage"
)

// Job names registered with the maintenance scheduler.
const (
	jobReprobe        = "connector-reprobe"
	jobIntegritySweep = "integrity-sweep"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager

	NotifyService    *notify.Service
	CorpusProvider   *corpus.Provider
	RemoteClient     interfaces.RemoteClient
	KnowledgeService interfaces.KnowledgeService
	ContextService   *contextstore.Service
	SchedulerService interfaces.SchedulerService
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, err
	}
	if err := app.initServices(); err != nil {
		app.StorageManager.Close()
		return nil, err
	}
	if err := app.initScheduler(); err != nil {
		app.StorageManager.Close()
		return nil, err
	}

	logger.Info().Msg("Application initialized")
	return app, nil
}

func (a *App) initStorage() error {
	manager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = manager
	return nil
}

func (a *App) initServices() error {
	a.NotifyService = notify.NewService(a.Logger)

	corpusOpts := []corpus.Option{corpus.WithMaxItems(a.Config.Corpus.MaxItems)}
	if a.Config.Corpus.Dir != "" {
		loaded, err := corpus.LoadDir(a.Config.Corpus.Dir, a.Logger)
		if err != nil {
			a.Logger.Warn().Err(err).Str("dir", a.Config.Corpus.Dir).Msg("Corpus overrides could not be loaded, using built-in corpus")
		} else {
			corpusOpts = append(corpusOpts, loaded...)
		}
	}
	a.CorpusProvider = corpus.NewProvider(a.Logger, corpusOpts...)

	clientOpts := []knowledgeapi.ClientOption{knowledgeapi.WithLogger(a.Logger)}
	if a.Config.Remote.RateLimit > 0 {
		clientOpts = append(clientOpts, knowledgeapi.WithRateLimit(a.Config.Remote.RateLimit))
	}
	client := knowledgeapi.NewClient(a.Config.Remote.BaseURL, a.Config.Remote.APIKey, clientOpts...)
	a.RemoteClient = client

	retryPolicy := retry.NewPolicy(
		a.Config.Retry.MaxRetries,
		a.Config.Retry.BaseDelay,
		a.Config.Retry.MaxDelay,
		a.Config.Retry.BackoffFactor,
		retry.WithLogger(a.Logger),
	)
	retryPolicy.ShouldRetry = knowledgeapi.IsRetryable

	a.KnowledgeService = knowledge.NewService(
		a.RemoteClient,
		a.CorpusProvider,
		a.NotifyService,
		a.Logger,
		knowledge.Config{
			MaxAttempts:   a.Config.Connector.MaxAttempts,
			ProbeCooldown: a.Config.Connector.ProbeCooldown,
			CacheTTL:      a.Config.Connector.CacheTTL,
			FetchTimeout:  a.Config.Connector.FetchTimeout,
		},
		retryPolicy,
	)

	validator := integrity.NewValidator(a.Logger)
	a.ContextService = contextstore.NewService(
		a.StorageManager.KeyValue(),
		validator,
		a.NotifyService,
		a.Logger,
		contextstore.Config{
			BudgetFraction: a.Config.Context.BudgetFraction,
			MaxDocContent:  a.Config.Context.MaxDocContent,
			MaxMessages:    a.Config.Context.MaxMessages,
			MaxDocuments:   a.Config.Context.MaxDocuments,
			ChunkThreshold: a.Config.Context.ChunkThreshold,
			ChunkSize:      a.Config.Context.ChunkSize,
			MinMessages:    a.Config.Context.MinMessages,
		},
	)
	if a.Config.Remote.BaseURL != "" {
		a.ContextService.SetRefetchFunc(client.FetchDocument)
	}

	return nil
}

// initScheduler registers background maintenance jobs. The re-probe job only
// touches the remote service while fallback mode is latched; the integrity
// sweep re-validates every tracked conversation.
func (a *App) initScheduler() error {
	a.SchedulerService = scheduler.NewService(a.Logger)

	if !a.Config.Scheduler.Enabled {
		a.Logger.Debug().Msg("Maintenance scheduler disabled by configuration")
		return nil
	}

	err := a.SchedulerService.RegisterJob(jobReprobe, a.Config.Scheduler.ReprobeSchedule, func() error {
		status := a.KnowledgeService.Status()
		if !status.FallbackModeActive {
			return nil
		}
		a.Logger.Debug().Msg("Fallback mode latched, attempting remote recovery")
		if !a.KnowledgeService.TryRecover(context.Background()) {
			a.Logger.Debug().Msg("Remote service still unhealthy")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to register re-probe job: %w", err)
	}

	err = a.SchedulerService.RegisterJob(jobIntegritySweep, a.Config.Scheduler.IntegritySchedule, func() error {
		if err := a.ContextService.SweepIntegrity(context.Background()); err != nil {
			return err
		}
		if err := a.StorageManager.Maintain(context.Background()); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage maintenance failed")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to register integrity sweep job: %w", err)
	}

	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application")

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}

	// Wait for in-flight recovery goroutines before the storage goes away.
	if a.ContextService != nil {
		if err := a.ContextService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close context service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
			return err
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
