package app

import (
	"context"
	"time"

	"github.com/DRSN-tech/template-matcher/assets"
	config "github.com/DRSN-tech/template-matcher/internal/cfg"
	"github.com/DRSN-tech/template-matcher/internal/infrastructure/embedding"
	"github.com/DRSN-tech/template-matcher/internal/infrastructure/gallery"
	"github.com/DRSN-tech/template-matcher/internal/infrastructure/imaging"
	"github.com/DRSN-tech/template-matcher/internal/infrastructure/kafka"
	minioInfra "github.com/DRSN-tech/template-matcher/internal/infrastructure/minio"
	ml_service "github.com/DRSN-tech/template-matcher/internal/infrastructure/ml-service"
	"github.com/DRSN-tech/template-matcher/internal/repository/fs"
	s3Repo "github.com/DRSN-tech/template-matcher/internal/repository/minio"
	"github.com/DRSN-tech/template-matcher/internal/repository/pgdb"
	pgdbConv "github.com/DRSN-tech/template-matcher/internal/repository/pgdb/converter"
	qdrantRepo "github.com/DRSN-tech/template-matcher/internal/repository/qdrant"
	"github.com/DRSN-tech/template-matcher/internal/repository/redis"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/clients"
	"github.com/DRSN-tech/template-matcher/pkg/closer"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"github.com/DRSN-tech/template-matcher/pkg/postgres"
	"github.com/jimlawless/whereami"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	initTimeout        = 10 * time.Second
	maxMLMessageBytes  = 32 << 20
	kafkaTopicTimeout  = 10 * time.Second
	closerForceTimeout = 5 * time.Second
)

// Core — собранное ядро сопоставления и его опциональные компоненты.
// Общее для HTTP/gRPC-сервиса и CLI.
type Core struct {
	Provider *embedding.Provider
	Gallery  *gallery.Gallery
	MatchUC  *usecase.MatchUseCase

	// Uploader — nil, если MinIO не настроен
	Uploader *minioInfra.TemplateUploader
	// Outbox — nil, если публикация событий не настроена
	Outbox *kafka.OutboxWorker

	Closer *closer.Closer
}

// NewCore собирает ядро по конфигурации. Опциональные компоненты подключаются,
// только если заданы их секции конфигурации. Провайдер не инициализируется.
func NewCore(cfg *config.Config, log logger.Logger) (core *Core, err error) {
	c := closer.NewCloser(closerForceTimeout)
	defer func() {
		if err != nil {
			ctx, cancel := context.WithTimeout(context.Background(), closerForceTimeout)
			defer cancel()
			if cErr := c.Close(ctx); cErr != nil {
				log.Warnf("failed to release resources: %v", cErr)
			}
		}
	}()

	conn, err := grpc.NewClient(
		cfg.Ml.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()), // явное указание gRPC-клиенту использовать НЕзащищённое соединение (без TLS).
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(maxMLMessageBytes), grpc.MaxCallRecvMsgSize(maxMLMessageBytes)),
	)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	c.Add("ml-service conn", func(context.Context) error { return conn.Close() })

	ml := ml_service.NewMLService(conn, cfg.Ml, log)
	provider := embedding.NewProvider(ml, cfg.Ml.LoadTimeout, log)
	preprocessor := imaging.NewPreprocessor(cfg.Matcher.InputSize, log)

	store, uploader, err := initTemplateStore(cfg, log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	cache, err := initEmbeddingCache(cfg, log, c)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	index, err := initTemplateIndex(cfg, c)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	templates, err := gallery.LoadManifest(cfg.Matcher.ManifestPath, assets.TemplatesManifest)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	g, err := gallery.NewGallery(templates, store, preprocessor, cache, index, log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	log.Infof("gallery loaded: %d templates", len(templates))

	recorder, worker, err := initMatchEvents(cfg, log, c)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return &Core{
		Provider: provider,
		Gallery:  g,
		MatchUC:  usecase.NewMatchUC(preprocessor, provider, g, recorder, cfg.Matcher.Threshold, log),
		Uploader: uploader,
		Outbox:   worker,
		Closer:   c,
	}, nil
}

func initTemplateStore(cfg *config.Config, log logger.Logger) (usecase.TemplateStore, *minioInfra.TemplateUploader, error) {
	if cfg.Minio == nil {
		log.Infof("template store: local directory %s", cfg.Matcher.TemplatesDir)
		return fs.NewTemplateRepo(cfg.Matcher.TemplatesDir), nil, nil
	}

	minioClient, err := clients.NewMinIOClient(cfg.Minio)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := clients.EnsureBucket(ctx, minioClient, cfg.Minio.BucketName); err != nil {
		return nil, nil, err
	}

	log.Infof("template store: MinIO bucket %s", cfg.Minio.BucketName)
	repo := s3Repo.NewTemplateRepo(minioClient, cfg.Minio, cfg.Matcher.TemplateCacheDir)
	return repo, minioInfra.NewTemplateUploader(repo, cfg.Minio, log), nil
}

func initEmbeddingCache(cfg *config.Config, log logger.Logger, c *closer.Closer) (usecase.EmbeddingCacheRepository, error) {
	if cfg.Redis == nil {
		return nil, nil
	}

	redisClient := clients.NewRedisClient(cfg.Redis)
	c.Add("redis", func(context.Context) error { return redisClient.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := redisClient.Ping(ctx); err != nil {
		return nil, err
	}

	log.Infof("embedding cache: redis %s", cfg.Redis.Addr)
	return redis.NewEmbeddingCacheRepo(redisClient, cfg.Redis, log), nil
}

func initTemplateIndex(cfg *config.Config, c *closer.Closer) (usecase.TemplateIndexRepository, error) {
	if cfg.Qdrant == nil {
		return nil, nil
	}

	qdrantClient, err := clients.NewQdrantClient(cfg.Qdrant)
	if err != nil {
		return nil, err
	}
	c.Add("qdrant", func(context.Context) error { return qdrantClient.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := clients.EnsureCollection(ctx, qdrantClient); err != nil {
		return nil, err
	}

	return qdrantRepo.NewTemplateIndexRepo(qdrantClient.Client, cfg.Qdrant), nil
}

func initMatchEvents(cfg *config.Config, log logger.Logger, c *closer.Closer) (usecase.MatchEventRecorder, *kafka.OutboxWorker, error) {
	if cfg.Kafka == nil || cfg.Db == nil {
		return nil, nil, nil
	}

	db, err := initPGDB(log, cfg)
	if err != nil {
		return nil, nil, err
	}
	c.Add("postgres", func(context.Context) error {
		db.Close()
		return nil
	})

	producer, err := kafka.NewProducer(log, cfg.Kafka)
	if err != nil {
		return nil, nil, err
	}
	c.Add("kafka producer", func(context.Context) error { return producer.Close() })

	if err := producer.EnsureTopic(kafkaTopicTimeout); err != nil {
		return nil, nil, err
	}

	outboxRepo := pgdb.NewOutboxEventRepo(db.Pool, pgdbConv.NewOutboxEventConverter())
	recorder := usecase.NewOutboxRecorder(outboxRepo, db.Pool, producer)
	worker := kafka.NewOutboxWorker(outboxRepo, log, producer, db.Dsn)

	log.Infof("match events: kafka topic %s", cfg.Kafka.Topic)
	return recorder, worker, nil
}

func initPGDB(logger logger.Logger, cfg *config.Config) (*postgres.PgDatabase, error) {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.Db)
	if err != nil {
		logger.Errorf(err, "failed to connect to database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.RunMigrations(logger); err != nil {
		db.Close()
		logger.Errorf(err, "failed to run migrations")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return db, nil
}
