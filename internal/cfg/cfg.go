package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"github.com/jimlawless/whereami"
	"github.com/joho/godotenv"
)

type Config struct {
	Matcher *MatcherCfg
	Ml      *MLServiceCfg
	Http    *HTTPConfig
	Grpc    *GRPCConfig

	// Опциональные секции: nil, если компонент не настроен
	Minio  *MinIOCfg
	Redis  *RedisCfg
	Qdrant *QdrantCfg
	Db     *PGDBCfg
	Kafka  *KafkaCfg
}

type MatcherCfg struct {
	Threshold        float64 // Минимальная оценка для совпадения
	InputSize        int     // Сторона квадратного входного тензора
	ManifestPath     string  // Путь к манифесту галереи; пусто — встроенный манифест
	TemplatesDir     string  // Локальная директория с изображениями шаблонов
	TemplateCacheDir string  // Куда скачиваются шаблоны из MinIO
	WarmupGallery    bool    // Считать эмбеддинги галереи сразу после загрузки модели
	UploadMaxBytes   int64   // Максимальный размер загружаемого изображения
}

type MLServiceCfg struct {
	Addr         string
	ModelURL     string
	MaxRetries   int
	LoadTimeout  time.Duration
	EmbedTimeout time.Duration
}

type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type GRPCConfig struct {
	Port        string
	NetworkMode string
}

type MinIOCfg struct {
	MinioEndpoint     string // Адрес конечной точки Minio
	BucketName        string // Бакет с изображениями шаблонов
	MinioRootUser     string // Имя пользователя для доступа к Minio
	MinioRootPassword string // Пароль для доступа к Minio
	MinioUseSSL       bool
	UploadConcurrency int // Лимит на число одновременных загрузок в S3
}

type RedisCfg struct {
	Addr         string
	Password     string
	User         string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	Timeout      time.Duration
	EmbeddingTTL time.Duration
}

type QdrantCfg struct {
	Port                 int
	Host                 string
	ApiKey               string
	QdrantCollectionName string // имя коллекции в Qdrant
	UseTLS               bool
	VectorSize           uint64
}

type PGDBCfg struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MigrationsPath string
	MaxConns       int32
}

type KafkaCfg struct {
	Topic             string
	Brokers           []string
	NetworkMode       string
	Partitions        int
	ReplicationFactor int
}

// Load безопасно загружает конфигурацию и возвращает ошибку в случае неудачи.
// Если рядом есть .env, переменные из него подставляются до чтения окружения.
func Load(log logger.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("failed to read .env: %v", err)
	}

	matcher, err := loadMatcherCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	ml, err := loadMLServiceCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	http, err := loadHTTPConfig(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	minio, err := loadMinIOCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	redis, err := loadRedisCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	qdrant, err := loadQdrantCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	kafka, err := loadKafkaCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	var db *PGDBCfg
	if kafka != nil {
		db, err = loadPGDBCfg(log)
		if err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}
	}

	return &Config{
		Matcher: matcher,
		Ml:      ml,
		Http:    http,
		Grpc:    loadGRPCConfig(),
		Minio:   minio,
		Redis:   redis,
		Qdrant:  qdrant,
		Db:      db,
		Kafka:   kafka,
	}, nil
}

func loadMatcherCfg() (*MatcherCfg, error) {
	const (
		defaultThreshold      = 0.1
		defaultInputSize      = 224
		defaultTemplatesDir   = "assets/templates"
		defaultUploadMaxBytes = 10 << 20
	)

	threshold, err := parseFloatEnv("MATCH_THRESHOLD", defaultThreshold)
	if err != nil {
		return nil, e.Wrap("MATCH_THRESHOLD", err)
	}
	if threshold < 0 || threshold > 1 {
		return nil, e.Wrap("MATCH_THRESHOLD", e.ErrIncorrectEnvVariable)
	}

	inputSize, err := parseIntEnv("INPUT_SIZE", defaultInputSize)
	if err != nil {
		return nil, e.Wrap("INPUT_SIZE", err)
	}
	if inputSize <= 0 {
		return nil, e.Wrap("INPUT_SIZE", e.ErrIncorrectEnvVariable)
	}

	warmup, err := parseBoolEnv("WARMUP_GALLERY", true)
	if err != nil {
		return nil, e.Wrap("WARMUP_GALLERY", err)
	}

	uploadMax, err := parseIntEnv("UPLOAD_MAX_BYTES", defaultUploadMaxBytes)
	if err != nil {
		return nil, e.Wrap("UPLOAD_MAX_BYTES", err)
	}

	return &MatcherCfg{
		Threshold:        threshold,
		InputSize:        inputSize,
		ManifestPath:     getEnv("TEMPLATES_MANIFEST"),
		TemplatesDir:     getEnvOrDefault("TEMPLATES_DIR", defaultTemplatesDir),
		TemplateCacheDir: getEnvOrDefault("TEMPLATE_CACHE_DIR", os.TempDir()+"/template-matcher"),
		WarmupGallery:    warmup,
		UploadMaxBytes:   int64(uploadMax),
	}, nil
}

func loadMLServiceCfg() (*MLServiceCfg, error) {
	const (
		defaultHost         = "ml-service"
		defaultPort         = "50051"
		defaultModelURL     = "https://tfhub.dev/google/imagenet/mobilenet_v2_100_224/feature_vector/5"
		defaultMaxRetries   = 3
		defaultLoadTimeout  = 5 * time.Minute
		defaultEmbedTimeout = 30 * time.Second
	)

	maxRetries, err := parseIntEnv("ML_MAX_RETRIES", defaultMaxRetries)
	if err != nil {
		return nil, e.Wrap("ML_MAX_RETRIES", err)
	}

	loadTimeout, err := parseDurationEnv("ML_LOAD_TIMEOUT", defaultLoadTimeout)
	if err != nil {
		return nil, e.Wrap("ML_LOAD_TIMEOUT", err)
	}

	embedTimeout, err := parseDurationEnv("ML_EMBED_TIMEOUT", defaultEmbedTimeout)
	if err != nil {
		return nil, e.Wrap("ML_EMBED_TIMEOUT", err)
	}

	host := getEnvOrDefault("ML_HOST", defaultHost)
	port := getEnvOrDefault("ML_PORT", defaultPort)

	return &MLServiceCfg{
		Addr:         host + ":" + port,
		ModelURL:     getEnvOrDefault("ML_MODEL_URL", defaultModelURL),
		MaxRetries:   maxRetries,
		LoadTimeout:  loadTimeout,
		EmbedTimeout: embedTimeout,
	}, nil
}

func loadHTTPConfig(log logger.Logger) (*HTTPConfig, error) {
	const (
		defaultPort         = "8080"
		defaultReadTimeout  = 15 * time.Second
		defaultWriteTimeout = 60 * time.Second
		defaultIdleTimeout  = 60 * time.Second
	)

	port := getEnvOrDefault("HTTP_PORT", defaultPort)

	readTimeout, err := parseDurationEnv("HTTP_READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("HTTP_WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_WRITE_TIMEOUT")
		return nil, err
	}

	idleTimeout, err := parseDurationEnv("KEEP_ALIVE", defaultIdleTimeout)
	if err != nil {
		log.Errorf(err, "invalid KEEP_ALIVE")
		return nil, err
	}

	return &HTTPConfig{
		Port:         port,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}, nil
}

func loadGRPCConfig() *GRPCConfig {
	const (
		defaultPort        = "8091"
		defaultNetworkMode = "tcp"
	)

	return &GRPCConfig{
		Port:        getEnvOrDefault("GRPC_PORT", defaultPort),
		NetworkMode: getEnvOrDefault("GRPC_NETWORK_MODE", defaultNetworkMode),
	}
}

func loadMinIOCfg(log logger.Logger) (*MinIOCfg, error) {
	endpoint := getEnv("MINIO_ENDPOINT")
	if endpoint == "" {
		return nil, nil
	}

	useSSL, err := parseBoolEnv("MINIO_USE_SSL", false)
	if err != nil {
		log.Errorf(err, "invalid MINIO_USE_SSL")
		return nil, err
	}

	concurrency, err := parseIntEnv("MINIO_UPLOAD_CONCURRENCY", 4)
	if err != nil || concurrency <= 0 {
		log.Errorf(e.ErrIncorrectEnvVariable, "invalid MINIO_UPLOAD_CONCURRENCY")
		return nil, e.Wrap("MINIO_UPLOAD_CONCURRENCY", e.ErrIncorrectEnvVariable)
	}

	bucket := getEnv("BUCKET_NAME")
	if bucket == "" {
		return nil, fmt.Errorf("BUCKET_NAME is required when MINIO_ENDPOINT is set")
	}

	return &MinIOCfg{
		MinioEndpoint:     endpoint,
		BucketName:        bucket,
		MinioRootUser:     getEnv("MINIO_ROOT_USER"),
		MinioRootPassword: getEnv("MINIO_ROOT_PASSWORD"),
		MinioUseSSL:       useSSL,
		UploadConcurrency: concurrency,
	}, nil
}

func loadRedisCfg(log logger.Logger) (*RedisCfg, error) {
	const (
		defaultDB           = 0
		defaultMaxRetries   = 3
		defaultDialTimeout  = 5 * time.Second
		defaultReadTimeout  = 3 * time.Second
		defaultWriteTimeout = 3 * time.Second
		defaultEmbeddingTTL = 24 * time.Hour
	)

	addr := getEnv("REDIS_ADDR")
	if addr == "" {
		return nil, nil
	}

	db, err := parseIntEnv("REDIS_DB_ID", defaultDB)
	if err != nil {
		log.Errorf(err, "invalid REDIS_DB_ID")
		return nil, err
	}

	maxRetries, err := parseIntEnv("REDIS_MAX_RETRIES", defaultMaxRetries)
	if err != nil {
		log.Errorf(err, "invalid REDIS_MAX_RETRIES")
		return nil, err
	}

	dialTimeout, err := parseDurationEnv("REDIS_DIAL_TIMEOUT", defaultDialTimeout)
	if err != nil {
		log.Errorf(err, "invalid REDIS_DIAL_TIMEOUT")
		return nil, err
	}

	readTimeout, err := parseDurationEnv("REDIS_READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid REDIS_READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("REDIS_WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid REDIS_WRITE_TIMEOUT")
		return nil, err
	}

	embeddingTTL, err := parseDurationEnv("EMBEDDING_TTL", defaultEmbeddingTTL)
	if err != nil {
		log.Errorf(err, "invalid EMBEDDING_TTL")
		return nil, err
	}

	timeout := readTimeout
	if writeTimeout > timeout {
		timeout = writeTimeout
	}

	return &RedisCfg{
		Addr:         addr,
		Password:     getEnv("REDIS_PASSWORD"),
		User:         getEnv("REDIS_USER"),
		DB:           db,
		MaxRetries:   maxRetries,
		DialTimeout:  dialTimeout,
		Timeout:      timeout,
		EmbeddingTTL: embeddingTTL,
	}, nil
}

func loadQdrantCfg(log logger.Logger) (*QdrantCfg, error) {
	const (
		defaultQdrantGRPCPort = 6334
		defaultVectorSize     = 1280
		defaultCollection     = "meme_templates"
	)

	host := getEnv("QDRANT_HOST")
	if host == "" {
		return nil, nil
	}

	port, err := parseIntEnv("QDRANT_GRPC_PORT", defaultQdrantGRPCPort)
	if err != nil {
		log.Errorf(err, "invalid QDRANT_GRPC_PORT")
		return nil, err
	}

	useTLS, err := parseBoolEnv("QDRANT_USE_TLS", false)
	if err != nil {
		log.Errorf(err, "invalid QDRANT_USE_TLS")
		return nil, err
	}

	vectorSize, err := parseIntEnv("VECTOR_SIZE", defaultVectorSize)
	if err != nil || vectorSize <= 0 {
		log.Errorf(e.ErrIncorrectEnvVariable, "invalid VECTOR_SIZE")
		return nil, e.Wrap("VECTOR_SIZE", e.ErrIncorrectEnvVariable)
	}

	return &QdrantCfg{
		Host:                 host,
		Port:                 port,
		ApiKey:               getEnv("QDRANT__SERVICE__API_KEY"),
		QdrantCollectionName: getEnvOrDefault("COLLECTION_NAME", defaultCollection),
		UseTLS:               useTLS,
		VectorSize:           uint64(vectorSize),
	}, nil
}

func loadPGDBCfg(log logger.Logger) (*PGDBCfg, error) {
	const (
		defaultHost           = "localhost"
		defaultPort           = "5432"
		defaultSSLMode        = "disable"
		defaultMigrationsPath = "db/migrations"
		defaultMaxConns       = 4
	)

	maxConns, err := parseIntEnv("POSTGRES_MAX_CONNS", defaultMaxConns)
	if err != nil || maxConns <= 0 {
		err = e.Wrap("POSTGRES_MAX_CONNS must be a positive integer", e.ErrIncorrectEnvVariable)
		log.Errorf(err, "invalid POSTGRES_MAX_CONNS")
		return nil, err
	}

	user := getEnv("POSTGRES_USER")
	if user == "" {
		err := fmt.Errorf("POSTGRES_USER is required")
		log.Errorf(err, "missing POSTGRES_USER")
		return nil, err
	}

	password := getEnv("POSTGRES_PASSWORD")
	if password == "" {
		err := fmt.Errorf("POSTGRES_PASSWORD is required")
		log.Errorf(err, "missing POSTGRES_PASSWORD")
		return nil, err
	}

	dbName := getEnv("POSTGRES_DB")
	if dbName == "" {
		err := fmt.Errorf("POSTGRES_DB is required")
		log.Errorf(err, "missing POSTGRES_DB")
		return nil, err
	}

	return &PGDBCfg{
		Host:           getEnvOrDefault("POSTGRES_HOST", defaultHost),
		Port:           getEnvOrDefault("POSTGRES_PORT", defaultPort),
		User:           user,
		Password:       password,
		DBName:         dbName,
		SSLMode:        getEnvOrDefault("SSL_MODE", defaultSSLMode),
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", defaultMigrationsPath),
		MaxConns:       int32(maxConns),
	}, nil
}

// loadKafkaCfg возвращает nil, если KAFKA_BROKERS не задан: события сопоставлений не публикуются.
func loadKafkaCfg() (*KafkaCfg, error) {
	const (
		defaultTopic             = "template-matches"
		defaultPartitions        = 3
		defaultReplicationFactor = 1
		defaultNetworkMode       = "tcp"
	)

	brokerStr := getEnv("KAFKA_BROKERS")
	if brokerStr == "" {
		return nil, nil
	}
	brokers := strings.Split(brokerStr, ",")

	partitions, err := parseIntEnv("KAFKA_PARTITIONS", defaultPartitions)
	if err != nil {
		return nil, e.Wrap("KAFKA_PARTITIONS", err)
	}

	replicationFactor, err := parseIntEnv("REPLICATION_FACTOR", defaultReplicationFactor)
	if err != nil {
		return nil, e.Wrap("REPLICATION_FACTOR", err)
	}

	return &KafkaCfg{
		Brokers:           brokers,
		Topic:             getEnvOrDefault("KAFKA_TOPIC", defaultTopic),
		Partitions:        partitions,
		ReplicationFactor: replicationFactor,
		NetworkMode:       getEnvOrDefault("KAFKA_NETWORK_MODE", defaultNetworkMode),
	}, nil
}

// getEnv возвращает значение переменной окружения.
// Возвращает пустую строку, если переменная не задана.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// parseDurationEnv считывает длительность или возвращает значение по умолчанию.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		return time.ParseDuration(v)
	}

	return defaultValue, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	intValue, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return intValue, nil
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	floatValue, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return floatValue, nil
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	boolValue, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return boolValue, nil
}
