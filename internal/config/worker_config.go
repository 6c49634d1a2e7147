package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mini-maxit/coderunner/internal/logger"
	"github.com/mini-maxit/coderunner/pkg/constants"
)

type Config struct {
	RabbitMQURL      string
	PublishChanSize  int
	ConsumeQueueName string
	MaxWorkers       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// OutcomeCacheTTL of zero disables the outcome cache.
	OutcomeCacheTTL time.Duration

	DefaultTimeLimit time.Duration
	SandboxMemoryMB  int64
	MetricsAddr      string
}

func NewConfig() *Config {
	logger := logger.NewNamedLogger("config")

	_, err := os.Stat(".env")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("failed to stat .env file with error: %v", err)
		}
	} else {
		if os.Getenv("ENV") == "PROD" {
			logger.Warn(".env file detected in production environment. This is not recommended.")
		}
		err = godotenv.Load(".env")
		if err != nil {
			logger.Fatalf("failed to load .env file with error: %v", err)
		}
	}

	rabbitmqURL, publishChanSize := rabbitmqConfig(logger)
	workerQueueName, maxWorkers := workerConfig(logger)
	redisAddr, redisPassword, redisDB, cacheTTL := redisConfig(logger)
	timeLimit, memoryMB := sandboxConfig(logger)

	return &Config{
		RabbitMQURL:      rabbitmqURL,
		PublishChanSize:  publishChanSize,
		ConsumeQueueName: workerQueueName,
		MaxWorkers:       maxWorkers,
		RedisAddr:        redisAddr,
		RedisPassword:    redisPassword,
		RedisDB:          redisDB,
		OutcomeCacheTTL:  cacheTTL,
		DefaultTimeLimit: timeLimit,
		SandboxMemoryMB:  memoryMB,
		MetricsAddr:      stringOrDefault(logger, "METRICS_ADDR", constants.DefaultMetricsAddr),
	}
}

func stringOrDefault(logger *zap.SugaredLogger, key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Warnf("%s is not set, using default value %s", key, def)
		return def
	}
	return v
}

func intOrDefault(logger *zap.SugaredLogger, key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		logger.Warnf("%s is not set, using default value %d", key, def)
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Fatalf("failed to parse %s with error: %v", key, err)
	}
	return n
}

func rabbitmqConfig(logger *zap.SugaredLogger) (string, int) {
	rabbitmqHost := stringOrDefault(logger, "RABBITMQ_HOST", constants.DefaultRabbitmqHost)
	rabbitmqPortStr := stringOrDefault(logger, "RABBITMQ_PORT", constants.DefaultRabbitmqPort)
	rabbitmqPort, err := strconv.ParseUint(rabbitmqPortStr, 10, 16)
	if err != nil {
		logger.Fatalf("failed to parse RABBITMQ_PORT with error: %v", err)
	}
	rabbitmqUser := stringOrDefault(logger, "RABBITMQ_USER", constants.DefaultRabbitmqUser)
	rabbitmqPassword := stringOrDefault(logger, "RABBITMQ_PASSWORD", constants.DefaultRabbitmqPassword)
	publishChanSize := intOrDefault(logger, "RABBITMQ_PUBLISH_CHAN_SIZE", constants.DefaultRabbitmqPublishChanSize)

	rabbitmqURL := fmt.Sprintf("amqp://%s:%s@%s:%d/", rabbitmqUser, rabbitmqPassword, rabbitmqHost, rabbitmqPort)

	return rabbitmqURL, publishChanSize
}

func workerConfig(logger *zap.SugaredLogger) (string, int) {
	workerQueueName := stringOrDefault(logger, "WORKER_QUEUE_NAME", constants.DefaultWorkerQueueName)

	var maxWorkers int64 = constants.DefaultMaxWorkers
	maxWorkersStr := os.Getenv("MAX_WORKERS")
	if maxWorkersStr == "" {
		logger.Warnf("MAX_WORKERS is not set, using default value %d", constants.DefaultMaxWorkers)
	} else {
		var err error
		maxWorkers, err = strconv.ParseInt(maxWorkersStr, 10, 8)
		if err != nil {
			logger.Fatalf("failed to parse MAX_WORKERS with error: %v", err)
		}
		if maxWorkers < 1 {
			logger.Fatalf("MAX_WORKERS must be at least 1, got %d", maxWorkers)
		}
	}

	return workerQueueName, int(maxWorkers)
}

func redisConfig(logger *zap.SugaredLogger) (string, string, int, time.Duration) {
	addr := stringOrDefault(logger, "REDIS_ADDR", constants.DefaultRedisAddr)
	// An empty password is a valid setting, so it is not warned about.
	password := os.Getenv("REDIS_PASSWORD")
	db := intOrDefault(logger, "REDIS_DB", constants.DefaultRedisDB)

	ttl := time.Duration(constants.DefaultOutcomeCacheTTLHours) * time.Hour
	ttlStr := os.Getenv("OUTCOME_CACHE_TTL")
	if ttlStr == "" {
		logger.Warnf("OUTCOME_CACHE_TTL is not set, using default value %s", ttl)
	} else {
		var err error
		ttl, err = time.ParseDuration(ttlStr)
		if err != nil {
			logger.Fatalf("failed to parse OUTCOME_CACHE_TTL with error: %v", err)
		}
		if ttl < 0 {
			logger.Fatalf("OUTCOME_CACHE_TTL must not be negative, got %s", ttl)
		}
	}

	return addr, password, db, ttl
}

func sandboxConfig(logger *zap.SugaredLogger) (time.Duration, int64) {
	limitMs := intOrDefault(logger, "DEFAULT_TIME_LIMIT_MS", constants.DefaultTimeLimitMs)
	if limitMs <= 0 {
		logger.Fatalf("DEFAULT_TIME_LIMIT_MS must be positive, got %d", limitMs)
	}
	memoryMB := intOrDefault(logger, "SANDBOX_MEMORY_MB", constants.DefaultSandboxMemoryMB)
	if memoryMB <= 0 {
		logger.Fatalf("SANDBOX_MEMORY_MB must be positive, got %d", memoryMB)
	}
	return time.Duration(limitMs) * time.Millisecond, int64(memoryMB)
}
