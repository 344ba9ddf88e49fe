package container

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"

	"github.com/gdugdh24/gowith-backend/internal/config"
	"github.com/gdugdh24/gowith-backend/internal/delivery/http"
	"github.com/gdugdh24/gowith-backend/internal/delivery/http/handler"
	"github.com/gdugdh24/gowith-backend/internal/delivery/http/middleware"
	"github.com/gdugdh24/gowith-backend/internal/infrastructure/database"
	"github.com/gdugdh24/gowith-backend/internal/infrastructure/gemini"
	"github.com/gdugdh24/gowith-backend/internal/infrastructure/llm"
	"github.com/gdugdh24/gowith-backend/internal/infrastructure/notifier"
	"github.com/gdugdh24/gowith-backend/internal/infrastructure/openai"
	"github.com/gdugdh24/gowith-backend/internal/infrastructure/server"
	"github.com/gdugdh24/gowith-backend/internal/infrastructure/statusstore"
	"github.com/gdugdh24/gowith-backend/internal/repository"
	"github.com/gdugdh24/gowith-backend/internal/repository/memory"
	"github.com/gdugdh24/gowith-backend/internal/repository/postgres"
	"github.com/gdugdh24/gowith-backend/internal/usecase/expiry"
	"github.com/gdugdh24/gowith-backend/internal/usecase/matching"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Container holds all application dependencies
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *sqlx.DB
	Redis    *redis.Client
	Server   *server.Server
	Runner   *matching.Runner
	Notifier *notifier.Dispatcher
	Expiry   *expiry.Scheduler

	router   stdhttp.Handler
	closeLLM func() error
}

type repositories struct {
	requests repository.BuddyRequestRepository
	profiles repository.ProfileRepository
	events   repository.EventRepository
	users    repository.UserRepository
	tags     repository.TagRepository
	matches  repository.MatchRepository
}

// NewContainer creates a new dependency injection container. On error every
// connection opened so far is closed again.
func NewContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Container, err error) {
	c := &Container{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = c.closeConnections()
		}
	}()

	repos, err := c.initRepositories(ctx)
	if err != nil {
		return nil, err
	}

	status, err := c.initStatusStore(ctx)
	if err != nil {
		return nil, err
	}

	completer, err := c.initCompleter(ctx)
	if err != nil {
		return nil, err
	}

	prompts, err := matching.LoadPrompts(cfg.Pipeline.PromptsPath)
	if err != nil {
		return nil, err
	}

	var sender notifier.Sender = notifier.NewLogSender(logger)
	if cfg.Notify.Provider == "smtp" {
		sender = notifier.NewSMTPSender(cfg.Notify.SMTP)
	}
	c.Notifier = notifier.NewDispatcher(sender, cfg.Notify.QueueSize, logger)

	pipeline := matching.NewPipeline(matching.Dependencies{
		Requests:  repos.requests,
		Profiles:  repos.profiles,
		Events:    repos.events,
		Users:     repos.users,
		Tags:      repos.tags,
		Matches:   repos.matches,
		Completer: completer,
		Notifier:  c.Notifier,
		Prompts:   prompts,
		Logger:    logger,
	})
	c.Runner = matching.NewRunner(pipeline, status, cfg.Pipeline.Workers, logger)

	c.Expiry = expiry.NewScheduler(
		expiry.NewExpiryUseCase(repos.requests, cfg.Expiry.ExpireAfter, logger),
		cfg.Expiry.SweepInterval,
	)

	router := http.NewRouter(
		handler.NewMatchingHandler(c.Runner, logger),
		middleware.NewAuthMiddleware(cfg.JWT.AccessSecret),
		logger,
	)
	engine := router.Setup()
	c.router = engine
	c.Server = server.NewServer(&cfg.Server, engine, logger)

	return c, nil
}

func (c *Container) initRepositories(ctx context.Context) (repositories, error) {
	if c.Config.Storage.Type == "memory" {
		c.Logger.Warn("using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		return repositories{
			requests: store.BuddyRequests(),
			profiles: store.Profiles(),
			events:   store.Events(),
			users:    store.Users(),
			tags:     store.Tags(),
			matches:  store.Matches(),
		}, nil
	}

	db, err := database.NewPostgresDB(ctx, &c.Config.Database, c.Config.Pipeline.Workers)
	if err != nil {
		return repositories{}, fmt.Errorf("failed to initialize database: %w", err)
	}
	c.DB = db
	return repositories{
		requests: postgres.NewBuddyRequestRepository(db),
		profiles: postgres.NewProfileRepository(db),
		events:   postgres.NewEventRepository(db),
		users:    postgres.NewUserRepository(db),
		tags:     postgres.NewTagRepository(db),
		matches:  postgres.NewMatchRepository(db),
	}, nil
}

func (c *Container) initStatusStore(ctx context.Context) (matching.StatusStore, error) {
	if c.Config.Pipeline.StatusStore != "redis" {
		return statusstore.NewMemoryStore(), nil
	}
	client, err := database.NewRedisClient(ctx, &c.Config.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}
	c.Redis = client
	return statusstore.NewRedisStore(client, c.Config.Pipeline.StatusTTL), nil
}

// initCompleter builds the configured provider behind the timeout and retry guard.
func (c *Container) initCompleter(ctx context.Context) (matching.Completer, error) {
	cfg := c.Config.LLM

	var backend llm.Completer
	switch cfg.Provider {
	case "gemini":
		client, err := gemini.NewClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		c.closeLLM = client.Close
		backend = client
	default:
		backend = openai.NewClient(openai.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}, nil)
	}

	c.Logger.Info("text completion configured",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Duration("timeout", cfg.Timeout),
	)
	return llm.NewGuard(backend, llm.Options{
		Provider:    cfg.Provider,
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
		RetryJitter: llm.DefaultRetryJitter,
	}, c.Logger), nil
}

// StartBackground starts the work that runs beside the HTTP server.
func (c *Container) StartBackground(ctx context.Context) {
	c.Expiry.Start(ctx)
}

// Close stops background work in dependency order and closes all connections.
// In-flight matching runs get until ctx expires to finish.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.Expiry != nil {
		c.Expiry.Stop()
	}
	if c.Runner != nil {
		if err := c.Runner.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("matching runner: %w", err))
		}
	}
	if c.Notifier != nil {
		if err := c.Notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("notifier: %w", err))
		}
	}
	if err := c.closeConnections(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Container) closeConnections() error {
	var errs []error
	if c.closeLLM != nil {
		if err := c.closeLLM(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close llm client: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
