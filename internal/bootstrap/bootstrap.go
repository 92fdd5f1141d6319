// Package bootstrap provides dependency initialization for the VideoForge API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/maauso/videoforge-api/internal/batch"
	"github.com/maauso/videoforge-api/internal/config"
	"github.com/maauso/videoforge-api/internal/imagegen"
	"github.com/maauso/videoforge-api/internal/job"
	"github.com/maauso/videoforge-api/internal/media"
	"github.com/maauso/videoforge-api/internal/notify"
	"github.com/maauso/videoforge-api/internal/pipeline"
	"github.com/maauso/videoforge-api/internal/poller"
	"github.com/maauso/videoforge-api/internal/provider"
	"github.com/maauso/videoforge-api/internal/ratelimit"
	"github.com/maauso/videoforge-api/internal/server"
	"github.com/maauso/videoforge-api/internal/speech"
	"github.com/maauso/videoforge-api/internal/storage"
	"github.com/maauso/videoforge-api/internal/videoapi"
)

const (
	eventBufferSize = 1000
	redisKeyPrefix  = "videoforge:ratelimit:"
	s3KeyPrefix     = "videoforge/"
	sqliteFileName  = "videoforge.db"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Jobs      *job.SubmitService
	Poller    *poller.Poller
	Batches   *batch.Coordinator
	Pipelines *pipeline.Runner
	Speech    speech.Synthesizer
	Events    *notify.EventBus
	Files     *storage.LocalStorage
	Limiter   *ratelimit.Limiter
	Registry  *provider.Registry

	logger  *slog.Logger
	closers []func() error
}

// NewDependencies creates and initializes all dependencies for the application.
// On error, anything already opened is closed.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (deps *Dependencies, err error) {
	d := &Dependencies{logger: logger}
	defer func() {
		if err != nil {
			_ = d.close()
		}
	}()

	repo, err := d.initLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var rdb *goredis.Client
	if cfg.RedisEnabled() {
		rdb, err = d.initRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	d.Events = notify.NewEventBus(eventBufferSize)
	notifiers := []notify.Notifier{d.Events}
	if rdb != nil {
		notifiers = append(notifiers, notify.NewRedisPublisher(rdb, cfg.RedisChannel))
		logger.Info("redis event publisher configured", slog.String("channel", cfg.RedisChannel))
	}
	if cfg.SQSEnabled() {
		sqsClient, err := newSQSClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, notify.NewSQSPublisher(sqsClient, cfg.SQSQueueURL))
		logger.Info("sqs event publisher configured", slog.String("queue_url", cfg.SQSQueueURL))
	}
	notifier := notify.NewMulti(notifiers...)

	local, store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	d.Files = local

	providers, err := initProviders(cfg)
	if err != nil {
		return nil, err
	}
	d.Registry = providers.registry()
	if providers.Face != nil {
		logger.Info("image models configured",
			slog.String("face", providers.Face.Model()),
			slog.String("scene", providers.Scene.Model()),
			slog.String("upscale", providers.Upscale.Model()),
		)
	}

	if cfg.SpeechEnabled() {
		client, err := speech.NewClient(cfg.SpeechAPIURL, cfg.SpeechAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create speech client: %w", err)
		}
		d.Speech = client
	}

	d.Poller = poller.New(repo, logger,
		poller.WithInterval(cfg.PollInterval),
		poller.WithMaxWait(cfg.PollMaxWait),
		poller.WithMaxFailures(cfg.PollMaxFailures),
		poller.WithNotifier(notifier),
	)

	bannedTerms := job.DefaultBannedTerms
	if len(cfg.BannedTerms) > 0 {
		bannedTerms = cfg.BannedTerms
	}
	prompts := job.NewPromptValidator(bannedTerms)
	d.Jobs = job.NewSubmitService(repo, providers.Video, logger,
		job.WithAutoWatch(d.Poller),
		job.WithValidator(prompts),
	)

	d.Batches = batch.NewCoordinator(d.Jobs, repo, logger,
		batch.WithConcurrency(cfg.BatchConcurrency),
		batch.WithRateLimit(cfg.BatchRatePerSec, 1),
		batch.WithMaxCount(cfg.BatchMaxCount),
		batch.WithNotifier(notifier),
		batch.WithAssembler(store, media.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)),
	)

	runnerOpts := []pipeline.Option{
		pipeline.WithNotifier(notifier),
		pipeline.WithPromptValidator(prompts),
	}
	if d.Speech != nil {
		runnerOpts = append(runnerOpts, pipeline.WithSpeech(d.Speech, store))
	}
	d.Pipelines = pipeline.NewRunner(d.Jobs, d.Poller, providers.pipeline(), logger, runnerOpts...)

	d.Limiter, err = d.initLimiter(cfg, rdb)
	if err != nil {
		return nil, err
	}

	if _, err := d.Poller.Resume(ctx, d.Registry); err != nil {
		logger.Warn("failed to resume polling", slog.String("error", err.Error()))
	}

	return d, nil
}

// Handlers builds the HTTP handlers over the dependencies.
func (d *Dependencies) Handlers() *server.Handlers {
	opts := []server.HandlerOption{
		server.WithPoller(d.Poller),
		server.WithBatches(d.Batches),
		server.WithPipelines(d.Pipelines),
		server.WithEvents(d.Events),
		server.WithFiles(d.Files),
		server.WithRegistry(d.Registry),
	}
	if d.Speech != nil {
		opts = append(opts, server.WithSpeech(d.Speech))
	}
	return server.NewHandlers(d.Jobs, d.logger, opts...)
}

// Shutdown cancels running pipelines, stops the poll loops, then closes
// connections. Jobs resume from the ledger on the next start; pipeline
// and batch runs do not.
func (d *Dependencies) Shutdown(ctx context.Context) error {
	var errs []error
	if d.Pipelines != nil {
		if err := d.Pipelines.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("pipelines: %w", err))
		}
	}
	if d.Poller != nil {
		if err := d.Poller.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("poller: %w", err))
		}
	}
	if err := d.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *Dependencies) close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// initLedger opens the job ledger selected by DB_DRIVER.
func (d *Dependencies) initLedger(ctx context.Context, cfg *config.Config) (job.Repository, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case config.DBDriverMemory:
		d.logger.Info("in-memory job ledger configured")
		return job.NewMemoryRepository(), nil
	case config.DBDriverSQLite:
		dsn := cfg.DatabaseURL
		if dsn == "" {
			if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
			dsn = filepath.Join(cfg.TempDir, sqliteFileName)
		}
		dialector = sqlite.Open(dsn)
	case config.DBDriverPostgres:
		dialector = postgres.Open(cfg.DatabaseURL)
	default:
		return nil, config.ErrUnknownDBDriver
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", cfg.DBDriver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", cfg.DBDriver, err)
	}
	d.closers = append(d.closers, sqlDB.Close)

	repo := job.NewGormRepository(db, d.logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	d.logger.Info("sql job ledger configured", slog.String("driver", cfg.DBDriver))
	return repo, nil
}

func (d *Dependencies) initRedis(ctx context.Context, cfg *config.Config) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	d.closers = append(d.closers, rdb.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	d.logger.Info("redis connected", slog.String("addr", cfg.RedisAddr))
	return rdb, nil
}

// initLimiter shares rate limit windows through Redis when available.
func (d *Dependencies) initLimiter(cfg *config.Config, rdb *goredis.Client) (*ratelimit.Limiter, error) {
	var store ratelimit.Store
	if rdb != nil {
		store = ratelimit.NewRedisStore(rdb, redisKeyPrefix)
	} else {
		mem := ratelimit.NewMemoryStore()
		sweepCtx, stop := context.WithCancel(context.Background())
		mem.StartSweeper(sweepCtx, cfg.RateLimitWindow)
		d.closers = append(d.closers, func() error {
			stop()
			return nil
		})
		store = mem
	}

	limiter, err := ratelimit.NewLimiter(store, cfg.RateLimitMaxRequests, cfg.RateLimitWindow)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}
	return limiter, nil
}

func newSQSClient(ctx context.Context, cfg *config.Config) (*sqs.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}

// initStorage creates the appropriate storage backend based on configuration.
// Local storage is always returned for /files and temp work.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.LocalStorage, storage.Storage, error) {
	local, err := storage.NewLocalStorage(cfg.TempDir, storage.WithPublicBaseURL(cfg.PublicBaseURL))
	if err != nil {
		return nil, nil, fmt.Errorf("create local storage: %w", err)
	}

	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Storage(ctx, local, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Prefix:          s3KeyPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return local, s3Store, nil
	}

	logger.Info("local storage configured",
		slog.String("temp_dir", local.TempDir()),
		slog.String("public_dir", local.PublicDir()),
	)
	return local, local, nil
}

// providerSet holds the configured providers. Image providers are nil
// when no image API is configured.
type providerSet struct {
	Video   *provider.VideoAdapter
	Face    *provider.ImageAdapter
	Scene   *provider.ImageAdapter
	Upscale *provider.ImageAdapter
}

func initProviders(cfg *config.Config) (*providerSet, error) {
	vc, err := videoapi.NewClient(cfg.VideoAPIURL, cfg.VideoAPIKey)
	if err != nil {
		return nil, fmt.Errorf("create video API client: %w", err)
	}
	set := &providerSet{Video: provider.NewVideoAdapter(vc)}

	if cfg.ImageEnabled() {
		ic, err := imagegen.NewClient(cfg.ImageAPIURL, imagegen.WithToken(cfg.ImageAPIKey))
		if err != nil {
			return nil, fmt.Errorf("create image API client: %w", err)
		}
		set.Face = provider.NewImageAdapter(ic, cfg.ImageFaceModel)
		set.Scene = provider.NewImageAdapter(ic, cfg.ImageSceneModel)
		set.Upscale = provider.NewImageAdapter(ic, cfg.ImageUpscaleModel)
	}
	return set, nil
}

func (s *providerSet) registry() *provider.Registry {
	r := provider.NewRegistry(s.Video)
	if s.Face != nil {
		r.Register(s.Face)
		r.Register(s.Scene)
		r.Register(s.Upscale)
	}
	return r
}

// pipeline converts the set, leaving missing providers as nil interfaces.
func (s *providerSet) pipeline() pipeline.Providers {
	p := pipeline.Providers{Video: s.Video}
	if s.Face != nil {
		p.Face = s.Face
		p.Scene = s.Scene
		p.Upscale = s.Upscale
	}
	return p
}
