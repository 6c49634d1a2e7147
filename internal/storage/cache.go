package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mini-maxit/coderunner/internal/logger"
	"github.com/mini-maxit/coderunner/pkg/constants"
	pkgerrors "github.com/mini-maxit/coderunner/pkg/errors"
	"github.com/mini-maxit/coderunner/pkg/grading"
)

// OutcomeCache stores graded outcomes keyed by the question and the exact
// submitted source, so a resubmission of the same answer is not run again.
type OutcomeCache interface {
	// Get returns ErrCacheMiss when nothing is stored for the pair.
	Get(ctx context.Context, question grading.Question, source string) (*grading.Outcome, error)
	Put(ctx context.Context, question grading.Question, source string, outcome *grading.Outcome) error
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         constants.DefaultRedisAddr,
		DB:           constants.DefaultRedisDB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
	}
}

// RedisOutcomeCache keeps outcomes as JSON strings with a TTL.
type RedisOutcomeCache struct {
	client           *redis.Client
	ttl              time.Duration
	defaultTimeLimit time.Duration
	logger           *zap.SugaredLogger
}

// NewRedisOutcomeCache connects to Redis and fails when it does not answer
// a ping. defaultTimeLimit is the limit the grader applies to questions
// without their own and becomes part of every key.
func NewRedisOutcomeCache(
	config *RedisConfig,
	ttl time.Duration,
	defaultTimeLimit time.Duration,
) (*RedisOutcomeCache, error) {
	if config == nil || config.Addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolSize:     config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewOutcomeCacheWithClient(client, ttl, defaultTimeLimit), nil
}

func NewOutcomeCacheWithClient(client *redis.Client, ttl, defaultTimeLimit time.Duration) *RedisOutcomeCache {
	if ttl <= 0 {
		ttl = constants.DefaultOutcomeCacheTTLHours * time.Hour
	}
	if defaultTimeLimit <= 0 {
		defaultTimeLimit = constants.DefaultTimeLimitMs * time.Millisecond
	}
	return &RedisOutcomeCache{
		client:           client,
		ttl:              ttl,
		defaultTimeLimit: defaultTimeLimit,
		logger:           logger.NewNamedLogger("outcome-cache"),
	}
}

func (c *RedisOutcomeCache) Get(ctx context.Context, question grading.Question, source string) (*grading.Outcome, error) {
	key, err := OutcomeKey(question, source, c.defaultTimeLimit)
	if err != nil {
		return nil, err
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, pkgerrors.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var outcome grading.Outcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return nil, fmt.Errorf("decode cached outcome: %w", err)
	}
	if outcome.Version != grading.OutcomeVersion {
		return nil, fmt.Errorf("%w: %d", pkgerrors.ErrUnsupportedOutcomeVersion, outcome.Version)
	}

	c.logger.Infof("Cache hit [Question: %s]", question.ID)
	return &outcome, nil
}

func (c *RedisOutcomeCache) Put(
	ctx context.Context,
	question grading.Question,
	source string,
	outcome *grading.Outcome,
) error {
	key, err := OutcomeKey(question, source, c.defaultTimeLimit)
	if err != nil {
		return err
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

func (c *RedisOutcomeCache) Close() error {
	return c.client.Close()
}

// OutcomeKey hashes everything that can change the verdict: the question
// with its testcases, the default time limit and the submitted source.
func OutcomeKey(question grading.Question, source string, defaultTimeLimit time.Duration) (string, error) {
	q, err := json.Marshal(question)
	if err != nil {
		return "", fmt.Errorf("encode question: %w", err)
	}
	h := sha256.New()
	h.Write(q)
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(defaultTimeLimit.Milliseconds(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(source))
	return constants.OutcomeCacheKeyPrefix + hex.EncodeToString(h.Sum(nil)), nil
}
