package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/phrazzld/leitbox/internal/api"
	"github.com/phrazzld/leitbox/internal/config"
	"github.com/phrazzld/leitbox/internal/domain/leitner"
	"github.com/phrazzld/leitbox/internal/events"
	"github.com/phrazzld/leitbox/internal/media"
	"github.com/phrazzld/leitbox/internal/platform/gcs"
	"github.com/phrazzld/leitbox/internal/platform/httpfetch"
	"github.com/phrazzld/leitbox/internal/platform/localfs"
	"github.com/phrazzld/leitbox/internal/platform/sqlstore"
	"github.com/phrazzld/leitbox/internal/service/auth"
	"github.com/phrazzld/leitbox/internal/service/boxes"
	"github.com/phrazzld/leitbox/internal/service/cards"
	"github.com/phrazzld/leitbox/internal/service/review"
	"github.com/phrazzld/leitbox/internal/service/transfer"
	"github.com/phrazzld/leitbox/internal/store"
	"github.com/phrazzld/leitbox/internal/task"
	"go.uber.org/multierr"
	"google.golang.org/api/option"
)

const sessionJanitorInterval = time.Minute

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	boxStore  store.BoxStore
	cardStore store.CardStore

	scheduler        leitner.Scheduler
	jwtService       auth.JWTService
	boxService       *boxes.Service
	cardService      *cards.Service
	sessions         *review.Registry
	reviewController *review.Controller
	transferService  *transfer.Service

	// mediaHandler serves signed URLs for the local backend and is nil for GCS.
	mediaStorage media.Storage
	mediaHandler http.Handler
	closeMedia   func() error

	broadcaster  *events.Broadcaster
	eventEmitter *events.InMemoryEventEmitter

	taskRunner *task.TaskRunner
}

// newApplication creates a new application instance with all dependencies initialized.
// The database must already be open and migrated.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
	dialect sqlstore.Dialect,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Scheduler.Timezone, err)
	}
	params := leitner.NewDefaultParams()
	params.Location = loc
	app.scheduler, err = leitner.NewSchedulerWithParams(params)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	app.boxStore = sqlstore.NewBoxStore(db, dialect, logger)
	app.cardStore = sqlstore.NewCardStore(db, dialect, logger)

	app.broadcaster = events.NewBroadcaster(logger)
	app.eventEmitter = events.NewInMemoryEventEmitter(logger)
	app.eventEmitter.RegisterHandler(app.broadcaster)

	if err := app.setupMedia(ctx); err != nil {
		return nil, err
	}

	app.boxService, err = boxes.NewService(db, app.boxStore, app.cardStore, app.scheduler, app.eventEmitter, logger)
	if err != nil {
		return nil, app.abort(fmt.Errorf("failed to initialize box service: %w", err))
	}
	app.cardService, err = cards.NewService(app.boxStore, app.cardStore, app.eventEmitter, logger)
	if err != nil {
		return nil, app.abort(fmt.Errorf("failed to initialize card service: %w", err))
	}

	app.sessions = review.NewRegistry(cfg.Review.SessionTTL)
	app.reviewController, err = review.NewController(
		app.boxStore, app.cardStore, app.scheduler, app.sessions, app.eventEmitter, logger)
	if err != nil {
		return nil, app.abort(fmt.Errorf("failed to initialize review controller: %w", err))
	}

	fetcher := httpfetch.New(cfg.Archive.DownloadTimeout, cfg.Archive.MaxMediaBytes, logger)
	app.transferService, err = transfer.NewService(
		db, app.boxStore, app.cardStore, app.mediaStorage, fetcher, app.eventEmitter,
		transfer.OptionsFromConfig(cfg), logger)
	if err != nil {
		return nil, app.abort(fmt.Errorf("failed to initialize transfer service: %w", err))
	}

	app.taskRunner = task.NewTaskRunner(task.NewMemoryStore(), task.TaskRunnerConfig{
		WorkerCount:  cfg.Tasks.WorkerCount,
		QueueSize:    cfg.Tasks.QueueSize,
		JobRetention: cfg.Tasks.JobRetention,
	}, logger)

	logger.Info("application initialized",
		slog.String("driver", string(dialect)),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.Int("task_workers", cfg.Tasks.WorkerCount))
	return app, nil
}

// setupMedia creates the configured media backend.
func (app *application) setupMedia(ctx context.Context) error {
	cfg := app.config.Storage
	switch cfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx, option.WithUserAgent("leitbox"))
		if err != nil {
			return fmt.Errorf("failed to create GCS client: %w", err)
		}
		s, err := gcs.New(client, cfg.Bucket, app.logger)
		if err != nil {
			_ = client.Close()
			return err
		}
		app.mediaStorage = s
		app.closeMedia = client.Close
	default:
		s, err := localfs.New(cfg.LocalDir, cfg.PublicBaseURL, []byte(app.config.Auth.JWTSecret), app.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize local media storage: %w", err)
		}
		app.mediaStorage = s
		app.mediaHandler = s.Handler(api.MediaPrefix)
	}
	return nil
}

// abort releases what newApplication has acquired so far and returns err.
func (app *application) abort(err error) error {
	if app.closeMedia != nil {
		err = multierr.Append(err, app.closeMedia())
	}
	return err
}

// router builds the HTTP handler for the API.
func (app *application) router() http.Handler {
	return api.NewRouter(api.RouterDeps{
		JWTService: app.jwtService,
		Boxes:      app.boxService,
		Cards:      app.cardService,
		Review:     app.reviewController,
		Jobs:       app.taskRunner,
		Exporter:   app.transferService,
		Importer:   app.transferService,
		Subscriber: app.broadcaster,
		JobConfig: api.JobHandlerConfig{
			StagingDir:     app.config.Archive.StagingDir,
			MaxUploadBytes: app.config.Archive.MaxBytes,
		},
		Media:  app.mediaHandler,
		Logger: app.logger,
	})
}

// startBackground starts the task workers and the session janitor. Both
// stop when ctx is done or cleanup runs.
func (app *application) startBackground(ctx context.Context) {
	app.taskRunner.Start()
	go app.sessions.RunJanitor(ctx, sessionJanitorInterval)
}

// cleanup stops background work and releases resources.
// Errors are logged and do not stop the remaining steps.
func (app *application) cleanup() {
	if app.taskRunner != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.config.Tasks.StopTimeout)
		if err := app.taskRunner.Stop(stopCtx); err != nil {
			app.logger.Warn("task runner did not stop cleanly", slog.String("error", err.Error()))
		}
		cancel()
	}

	if app.closeMedia != nil {
		if err := app.closeMedia(); err != nil {
			app.logger.Error("failed to close media storage", slog.String("error", err.Error()))
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database connection", slog.String("error", err.Error()))
		} else {
			app.logger.Info("database connection closed")
		}
	}
}
