// Package app assembles the onboarding orchestrator from configuration. The
// API, the queue worker and the retry sweeper share this wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"carepath/internal/config"
	"carepath/internal/db"
	"carepath/internal/dynamo"
	"carepath/internal/external"
	"carepath/internal/notifications/email"
	"carepath/internal/orchestrator"
	"carepath/internal/queue"
	"carepath/internal/tasks"
	"carepath/internal/telemetry"
	"carepath/internal/types"
)

// TaskBackend is a task store that also serves seeding, operator actions
// and the retry sweep. Both the PostgreSQL and DynamoDB stores satisfy it.
type TaskBackend interface {
	orchestrator.TaskStore
	ListTasks(ctx context.Context, subjectID string) ([]types.RegistrationTask, error)
	GetTask(ctx context.Context, taskID string) (*types.RegistrationTask, error)
	Requeue(ctx context.Context, taskID string) error
	EnsureTasks(ctx context.Context, subjectID string, taskTypes []types.TaskType) (int, error)
	ListSubjectsDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

var (
	_ TaskBackend = (*db.TaskRepository)(nil)
	_ TaskBackend = (*dynamo.TaskStore)(nil)
)

// App holds the assembled components.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	AWS        aws.Config
	Pool       *pgxpool.Pool
	Tasks      TaskBackend
	Leases     *db.LeaseRepository
	JobHistory *db.JobHistoryRepository
	Publisher  *queue.OnboardingPublisher
	Service    *orchestrator.Service
}

// New connects to PostgreSQL and AWS and builds the orchestrator.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	a := &App{
		Config:     cfg,
		Logger:     logger,
		AWS:        awsCfg,
		Pool:       pool,
		Leases:     db.NewLeaseRepository(pool),
		JobHistory: db.NewJobHistoryRepository(pool),
	}

	policy := types.RetryPolicy{
		MaxRetries:  cfg.Orchestrator.MaxRetries,
		BackoffUnit: cfg.Orchestrator.BackoffUnit,
	}
	switch cfg.Orchestrator.TaskStoreBackend {
	case config.BackendDynamoDB:
		a.Tasks = dynamo.NewTaskStore(dynamo.NewClient(awsCfg, cfg.AWS.EndpointURL), cfg.AWS.TasksTable, policy)
	default:
		a.Tasks = db.NewTaskRepository(pool, policy)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	a.Publisher = queue.NewOnboardingPublisher(sqsClient, cfg.AWS.OnboardingQueue, logger)

	service, err := a.buildService()
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.Service = service

	logger.Info("orchestrator assembled",
		"task_store", cfg.Orchestrator.TaskStoreBackend,
		"chat_service", cfg.Chat.BaseURL != "",
		"metrics", cfg.Observability.EnableMetrics,
	)
	return a, nil
}

func (a *App) buildService() (*orchestrator.Service, error) {
	cfg := a.Config
	log := telemetry.NewSlogAdapter(a.Logger)

	var metrics orchestrator.Metrics = orchestrator.NopMetrics{}
	if cfg.Observability.EnableMetrics {
		metrics = telemetry.NewCloudWatchMetrics(cloudwatch.NewFromConfig(a.AWS), cfg.Observability.MetricNamespace, log)
	}

	profiles := db.NewProfileRepository(a.Pool)
	careTeam := db.NewCareTeamRepository(a.Pool)

	var rooms tasks.RoomProvisioner = db.NewRoomRepository(a.Pool)
	if cfg.Chat.BaseURL != "" {
		rooms = external.NewChatClient(external.ChatClientConfig{
			BaseURL: cfg.Chat.BaseURL,
			APIKey:  cfg.Chat.APIKey,
			Timeout: cfg.Chat.Timeout,
		})
	}

	renderer, err := email.NewRenderer(cfg.Email.DashboardURL)
	if err != nil {
		return nil, fmt.Errorf("loading email templates: %w", err)
	}
	sender := email.NewWelcomeSender(email.WelcomeSenderConfig{
		Provider: external.NewSESClient(a.AWS, external.SESClientConfig{
			ConfigSetName: cfg.Email.ConfigurationSet,
			Logger:        a.Logger,
		}),
		Renderer: renderer,
		From:     external.SenderIdentity{Name: cfg.Email.FromName, Address: cfg.Email.FromAddress},
		Logger:   log,
	})

	registry, err := orchestrator.NewRegistry(
		tasks.NewCareTeamHandler(profiles, careTeam, log),
		tasks.NewChatRoomHandler(profiles, careTeam, rooms),
		tasks.NewWelcomeHandler(profiles, careTeam, db.NewWelcomeRepository(a.Pool), sender, log),
	)
	if err != nil {
		return nil, fmt.Errorf("registering task handlers: %w", err)
	}

	runner := orchestrator.NewRunner(a.Tasks, registry, orchestrator.RunnerConfig{
		HandlerTimeout: cfg.Orchestrator.HandlerTimeout,
		MaxParallel:    cfg.Orchestrator.MaxParallel,
	}, log, orchestrator.WithRunnerMetrics(metrics))

	checker := orchestrator.NewConvergenceChecker(a.Tasks, profiles,
		orchestrator.ConvergencePolicy{RequireAllCompleted: cfg.Orchestrator.RequireAllCompleted},
		log, metrics)

	return orchestrator.NewService(runner, checker, a.Leases, cfg.Orchestrator.LeaseTTL, log, metrics), nil
}

// Ping checks the database connection.
func (a *App) Ping(ctx context.Context) error {
	return a.Pool.Ping(ctx)
}

// Close releases the database pool.
func (a *App) Close() {
	a.Pool.Close()
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	connectCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout+5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}

// LoadConfig loads configuration, resolving _SSM_PARAM secrets through SSM
// outside the local environment.
func LoadConfig() (*config.Config, error) {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
		provider = config.NewSSMProvider(region)
	}
	return config.LoadConfig(provider)
}
