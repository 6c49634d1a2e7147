package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mini-maxit/coderunner/internal/config"
	"github.com/mini-maxit/coderunner/internal/docker"
	"github.com/mini-maxit/coderunner/internal/languages"
	"github.com/mini-maxit/coderunner/internal/logger"
	"github.com/mini-maxit/coderunner/internal/metrics"
	"github.com/mini-maxit/coderunner/internal/rabbitmq"
	"github.com/mini-maxit/coderunner/internal/rabbitmq/consumer"
	"github.com/mini-maxit/coderunner/internal/rabbitmq/responder"
	"github.com/mini-maxit/coderunner/internal/sandbox"
	"github.com/mini-maxit/coderunner/internal/scheduler"
	"github.com/mini-maxit/coderunner/internal/storage"
	"github.com/mini-maxit/coderunner/pkg/constants"
	"github.com/mini-maxit/coderunner/pkg/grading"
)

func main() {
	defer logger.Sync()
	log := logger.NewNamedLogger("main")

	log.Info("Starting coderunner")

	cfg := config.NewConfig()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	metricsServer := metrics.Serve(cfg.MetricsAddr, reg, logger.NewNamedLogger("metrics"))

	dCli, err := docker.NewDockerClient()
	if err != nil {
		log.Fatalf("Failed to create Docker client: %s", err)
	}

	registry := languages.DefaultRegistry()
	runner := sandbox.NewRunner(dCli, registry, cfg.SandboxMemoryMB)
	grader := grading.NewGrader(runner,
		grading.WithLogger(logger.NewNamedLogger("grader")),
		grading.WithDefaultTimeLimit(cfg.DefaultTimeLimit),
		grading.WithTimeLimitGrace(constants.SandboxTimeLimitGraceMs*time.Millisecond),
	)

	var cache storage.OutcomeCache
	if cfg.OutcomeCacheTTL > 0 {
		redisCfg := storage.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		redisCache, err := storage.NewRedisOutcomeCache(redisCfg, cfg.OutcomeCacheTTL, cfg.DefaultTimeLimit)
		if err != nil {
			// Grading still works without the cache, just slower on resubmissions.
			log.Warnf("Outcome cache disabled: %s", err)
		} else {
			cache = redisCache
			defer func() {
				if err := redisCache.Close(); err != nil {
					log.Errorf("Failed to close outcome cache: %s", err)
				}
			}()
		}
	} else {
		log.Info("Outcome cache disabled by configuration")
	}

	conn := rabbitmq.NewRabbitMqConnection(cfg)
	defer func() {
		if err := conn.Close(); err != nil {
			log.Errorf("Failed to close RabbitMQ connection: %s", err)
		}
	}()

	consumeChannel := rabbitmq.NewRabbitMQChannel(conn)
	publishChannel := rabbitmq.NewRabbitMQChannel(conn)

	resp := responder.NewResponder(publishChannel, cfg.PublishChanSize)
	sched := scheduler.NewScheduler(cfg.MaxWorkers, grader, registry, cache, resp, m)
	cons := consumer.NewConsumer(consumeChannel, cfg.ConsumeQueueName, sched, resp, registry)

	listening := make(chan struct{})
	go func() {
		defer close(listening)
		cons.Listen()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Infof("Received %s, shutting down", sig)
	case <-listening:
		log.Warn("Consumer stopped, shutting down")
	}

	// Closing the consume channel ends Listen; running tasks are cancelled and
	// their error responses flushed before the publish channel goes away.
	if err := consumeChannel.Close(); err != nil {
		log.Warnf("Failed to close consume channel: %s", err)
	}
	sched.Shutdown()
	if err := resp.Close(); err != nil {
		log.Errorf("Failed to close responder: %s", err)
	}
	if err := publishChannel.Close(); err != nil {
		log.Warnf("Failed to close publish channel: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Warnf("Failed to stop metrics server: %s", err)
	}

	log.Info("Coderunner stopped")
}
