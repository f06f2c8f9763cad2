package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awstextract "github.com/aws/aws-sdk-go-v2/service/textract"

	"github.com/kirillkom/notation-ocr/internal/adapters/facade"
	"github.com/kirillkom/notation-ocr/internal/config"
	"github.com/kirillkom/notation-ocr/internal/core/ports"
	"github.com/kirillkom/notation-ocr/internal/core/usecase"
	rediscache "github.com/kirillkom/notation-ocr/internal/infrastructure/cache/redis"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/ocr/local"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/ocr/tesseract"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/ocr/textract"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/queue/nats"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/repository/dynamo"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/resilience"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/storage/s3"
	"github.com/kirillkom/notation-ocr/internal/observability/logging"
)

type Options struct {
	Logger   *slog.Logger
	Observer ports.WorkflowObserver
	OnRetry  func(operation string, attempt int, delay time.Duration, err error)
	// RunsOCR makes this process execute local recognition jobs rather than
	// only polling their state.
	RunsOCR bool
}

// Purger removes workflow records past their expiry.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type App struct {
	Config config.Config

	Store         ports.WorkflowStore
	Dispatcher    *facade.Dispatcher
	StorageEvents *usecase.HandleStorageEventUseCase

	// Set for OBJECT_STORE=localfs.
	LocalStorage *localfs.Storage
	LocalSigner  *localfs.Signer
	Publisher    ports.ObjectEventPublisher

	// Set for EVENT_TRANSPORT=nats.
	Queue *nats.Queue

	// Set for STORE_BACKEND=postgres.
	Purger Purger

	closers []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg}

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialBackoff: cfg.RetryInitialBackoff,
		RetryMaxBackoff:     cfg.RetryMaxBackoff,
		RetryJitter:         cfg.RetryJitter,
		BreakerEnabled:      cfg.BreakerEnabled,
		OnRetry:             opts.OnRetry,
	})

	var awsCfg aws.Config
	if usesAWS(cfg) {
		loaded, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.AWSRegion),
			// Retries are owned by the resilience executor.
			awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
		)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = loaded
	}

	store, err := app.newStore(ctx, cfg, awsCfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = store

	var signer ports.UploadSigner
	switch cfg.ObjectStore {
	case config.ObjectStoreS3:
		signer = s3.NewPresigner(awss3.NewFromConfig(awsCfg), cfg.UploadBucket)
	default:
		storage, err := localfs.New(cfg.StoragePath, cfg.UploadBucket)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		localSigner, err := localfs.NewSigner(cfg.PublicBaseURL, cfg.SigningSecret)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init upload signer: %w", err)
		}
		app.LocalStorage = storage
		app.LocalSigner = localSigner
		signer = localSigner
	}

	ocrClient, err := app.newOCRClient(ctx, cfg, awsCfg, opts.RunsOCR)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.StorageEvents = usecase.NewHandleStorageEventUseCase(store, ocrClient, executor, opts.Observer, cfg.UploadPrefix)
	intents := usecase.NewIssueUploadIntentUseCase(store, signer, executor, opts.Observer, usecase.UploadIntentConfig{
		KeyPrefix:   cfg.UploadPrefix,
		URLTTL:      cfg.UploadURLTTL,
		WorkflowTTL: cfg.WorkflowTTL,
	})
	queries := usecase.NewWorkflowQueryUseCase(store, ocrClient, executor, opts.Observer)
	app.Dispatcher = facade.NewDispatcher(intents, app.StorageEvents, queries, logger)

	if cfg.EventTransport == config.TransportNATS {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: executor})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.Queue = queue
		app.Publisher = queue
		app.closers = append(app.closers, queue.Close)
	} else {
		app.Publisher = inlinePublisher{handler: app.StorageEvents, logger: logger}
	}

	return app, nil
}

func (a *App) newStore(ctx context.Context, cfg config.Config, awsCfg aws.Config) (ports.WorkflowStore, error) {
	if cfg.StoreBackend == config.StoreDynamoDB {
		return dynamo.NewWorkflowStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable, cfg.WorkflowTTL), nil
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	repo := postgres.NewWorkflowRepository(db, cfg.WorkflowTTL)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	a.Purger = repo
	return repo, nil
}

func (a *App) newOCRClient(ctx context.Context, cfg config.Config, awsCfg aws.Config, runsOCR bool) (ports.OCRJobClient, error) {
	if cfg.OCREngine == config.OCRTextract {
		return textract.New(awstextract.NewFromConfig(awsCfg)), nil
	}

	// A single process handles events inline and keeps job state in memory;
	// split api/worker deployments share it through redis.
	var jobs local.JobStore
	if cfg.EventTransport == config.TransportNone {
		jobs = local.NewMemoryJobStore(cfg.OCRJobTTL)
		runsOCR = true
	} else {
		client, err := rediscache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("init job store: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		jobs = rediscache.NewJobStore(client, cfg.OCRJobTTL)
	}

	var recognizer local.Recognizer
	if runsOCR {
		recognizer = tesseract.NewRecognizer(cfg.TesseractLang)
	}
	engine := local.NewEngine(ctx, a.LocalStorage, recognizer, jobs, cfg.OCRLocalWorkers)
	a.closers = append(a.closers, func() {
		waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = engine.Wait(waitCtx)
	})
	return engine, nil
}

func usesAWS(cfg config.Config) bool {
	return cfg.StoreBackend == config.StoreDynamoDB ||
		cfg.ObjectStore == config.ObjectStoreS3 ||
		cfg.OCREngine == config.OCRTextract
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// inlinePublisher hands object-created notifications straight to the
// storage-event handler when no broker is configured.
type inlinePublisher struct {
	handler ports.StorageEventHandler
	logger  *slog.Logger
}

func (p inlinePublisher) PublishObjectCreated(ctx context.Context, bucket, key string, size int64) error {
	event := nats.ObjectCreatedEvent(bucket, key, size, time.Now().UTC())
	if _, err := p.handler.HandleEvent(ctx, event); err != nil {
		logging.LogError(ctx, p.logger, "inline storage event failed", err, "key", key)
	}
	return nil
}

var _ ports.ObjectEventPublisher = inlinePublisher{}
