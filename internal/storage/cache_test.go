package storage_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/mini-maxit/coderunner/internal/storage"
	"github.com/mini-maxit/coderunner/pkg/constants"
	pkgerrors "github.com/mini-maxit/coderunner/pkg/errors"
	"github.com/mini-maxit/coderunner/pkg/grading"
)

func newTestCache(t *testing.T, ttl time.Duration) (*storage.RedisOutcomeCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := storage.NewOutcomeCacheWithClient(client, ttl, 3*time.Second)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func question() grading.Question {
	return grading.Question{
		ID:       "sqr",
		Language: "python3",
		TestCases: []grading.TestCase{
			{TestCode: "print(sqr(-7))", ExpectedOutput: "49\n", Mark: decimal.NewFromInt(1)},
			{TestCode: "print(sqr(0))", ExpectedOutput: "0\n", Mark: decimal.RequireFromString("1.5")},
		},
	}
}

func outcome() *grading.Outcome {
	return &grading.Outcome{
		Version: grading.OutcomeVersion,
		Results: []grading.TestResult{
			{TestCode: "print(sqr(-7))", Expected: "49\n", Got: "49\n", IsCorrect: true,
				Status: grading.TestPassed, Mark: decimal.NewFromInt(1), Display: grading.DisplayShow},
			{Index: 1, TestCode: "print(sqr(0))", Expected: "0\n", Got: "1\n",
				Status: grading.WrongAnswer, Mark: decimal.RequireFromString("1.5"), Display: grading.DisplayHide},
		},
		AchievedMark: decimal.NewFromInt(1),
		MaxMark:      decimal.RequireFromString("2.5"),
		TestCount:    2,
	}
}

func TestOutcomeCache_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	if err := c.Put(ctx, question(), "def sqr(n): return n * n", outcome()); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	got, err := c.Get(ctx, question(), "def sqr(n): return n * n")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Grade() != outcome().Grade() {
		t.Fatalf("expected grade %s, got %s", outcome().Grade(), got.Grade())
	}
	if !got.Fraction().Equal(decimal.RequireFromString("0.4")) {
		t.Fatalf("expected fraction 0.4, got %s", got.Fraction())
	}
	if len(got.Results) != 2 || got.Results[1].Status != grading.WrongAnswer || got.Results[1].Display != grading.DisplayHide {
		t.Fatalf("results did not survive the round trip: %+v", got.Results)
	}
}

func TestOutcomeCache_Miss(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	if err := c.Put(ctx, question(), "a", outcome()); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	_, err := c.Get(ctx, question(), "b")
	if !errors.Is(err, pkgerrors.ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss for different source, got %v", err)
	}

	changed := question()
	changed.TestCases[0].ExpectedOutput = "50\n"
	_, err = c.Get(ctx, changed, "a")
	if !errors.Is(err, pkgerrors.ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss for changed question, got %v", err)
	}
}

func TestOutcomeCache_DefaultTimeLimitChangeMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	src := "def sqr(n): return n * n"

	before := storage.NewOutcomeCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour, 3*time.Second)
	defer before.Close()
	if err := before.Put(ctx, question(), src, outcome()); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	after := storage.NewOutcomeCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour, 5*time.Second)
	defer after.Close()
	if _, err := after.Get(ctx, question(), src); !errors.Is(err, pkgerrors.ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss after the default limit changed, got %v", err)
	}
	if _, err := before.Get(ctx, question(), src); err != nil {
		t.Fatalf("expected hit under the original limit, got %v", err)
	}
}

func TestOutcomeCache_Expiry(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	if err := c.Put(ctx, question(), "a", outcome()); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := c.Get(ctx, question(), "a"); !errors.Is(err, pkgerrors.ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss after expiry, got %v", err)
	}
}

func TestOutcomeCache_RejectsUnknownVersion(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)

	key, err := storage.OutcomeKey(question(), "a", 3*time.Second)
	if err != nil {
		t.Fatalf("OutcomeKey returned error: %v", err)
	}
	if err := mr.Set(key, `{"version":99,"results":[]}`); err != nil {
		t.Fatalf("failed to seed redis: %v", err)
	}

	_, err = c.Get(context.Background(), question(), "a")
	if !errors.Is(err, pkgerrors.ErrUnsupportedOutcomeVersion) {
		t.Fatalf("expected ErrUnsupportedOutcomeVersion, got %v", err)
	}
}

func TestOutcomeKey(t *testing.T) {
	k1, _ := storage.OutcomeKey(question(), "a", 3*time.Second)
	k2, _ := storage.OutcomeKey(question(), "a", 3*time.Second)
	k3, _ := storage.OutcomeKey(question(), "a ", 3*time.Second)
	k4, _ := storage.OutcomeKey(question(), "a", 5*time.Second)

	if !strings.HasPrefix(k1, constants.OutcomeCacheKeyPrefix) {
		t.Fatalf("expected key prefix, got %q", k1)
	}
	if k1 != k2 {
		t.Fatalf("expected stable keys, got %q and %q", k1, k2)
	}
	if k1 == k3 {
		t.Fatalf("expected different sources to give different keys")
	}
	if k1 == k4 {
		t.Fatalf("expected different default time limits to give different keys")
	}
}

func TestNewRedisOutcomeCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := storage.DefaultRedisConfig()
	cfg.Addr = mr.Addr()

	c, err := storage.NewRedisOutcomeCache(cfg, 0, 0)
	if err != nil {
		t.Fatalf("NewRedisOutcomeCache returned error: %v", err)
	}
	_ = c.Close()

	mr.Close()
	if _, err := storage.NewRedisOutcomeCache(cfg, 0, 0); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}
