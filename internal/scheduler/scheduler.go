package scheduler

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/mini-maxit/coderunner/internal/languages"
	"github.com/mini-maxit/coderunner/internal/logger"
	"github.com/mini-maxit/coderunner/internal/metrics"
	"github.com/mini-maxit/coderunner/internal/pipeline"
	"github.com/mini-maxit/coderunner/internal/rabbitmq/responder"
	"github.com/mini-maxit/coderunner/internal/storage"
	"github.com/mini-maxit/coderunner/pkg/constants"
	"github.com/mini-maxit/coderunner/pkg/errors"
	"github.com/mini-maxit/coderunner/pkg/messages"
)

type Scheduler interface {
	GetWorkersStatus() messages.ResponseWorkerStatusPayload
	ProcessTask(responseQueueName, messageID string, task *messages.GradingTask) error
	// Shutdown cancels running tasks and waits for their workers to finish.
	Shutdown()
}

type scheduler struct {
	mu               sync.Mutex
	busyWorkersCount int
	workers          map[int]pipeline.Worker
	maxWorkers       int
	metrics          *metrics.Metrics
	logger           *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(
	maxWorkers int,
	grader pipeline.Grader,
	registry *languages.Registry,
	cache storage.OutcomeCache,
	responder responder.Responder,
	m *metrics.Metrics,
) Scheduler {
	workers := make(map[int]pipeline.Worker, maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		workers[i] = pipeline.NewWorker(i, grader, registry, cache, responder, m)
	}
	return NewSchedulerWithWorkers(maxWorkers, workers, m)
}

// NewSchedulerWithWorkers builds a scheduler over an existing worker set.
func NewSchedulerWithWorkers(maxWorkers int, workers map[int]pipeline.Worker, m *metrics.Metrics) Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &scheduler{
		workers:    workers,
		maxWorkers: maxWorkers,
		metrics:    m,
		logger:     logger.NewNamedLogger("workerPool"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *scheduler) GetWorkersStatus() messages.ResponseWorkerStatusPayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]messages.WorkerStatus, 0, len(s.workers))
	for id, worker := range s.workers {
		status := messages.WorkerStatus{WorkerID: id, Status: worker.GetStatus()}
		if status.Status == constants.WorkerStatusBusy {
			status.ProcessingMessageID = worker.GetProcessingMessageID()
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].WorkerID < statuses[j].WorkerID })

	return messages.ResponseWorkerStatusPayload{
		BusyWorkers:  s.busyWorkersCount,
		TotalWorkers: s.maxWorkers,
		WorkerStatus: statuses,
	}
}

func (s *scheduler) getFreeWorker() (pipeline.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return nil, errors.ErrFailedToGetFreeWorker
	}

	for _, worker := range s.workers {
		if worker.GetStatus() == constants.WorkerStatusIdle {
			worker.UpdateStatus(constants.WorkerStatusBusy)
			s.busyWorkersCount++
			s.metrics.SetBusyWorkers(s.busyWorkersCount)
			// Added under the lock so Shutdown never races a new task.
			s.wg.Add(1)
			return worker, nil
		}
	}

	return nil, errors.ErrFailedToGetFreeWorker
}

func (s *scheduler) ProcessTask(responseQueueName, messageID string, task *messages.GradingTask) error {
	s.logger.Infof("Processing task [MsgID: %s]", messageID)

	worker, err := s.getFreeWorker()
	if err != nil {
		s.logger.Warnf("No available workers: %s", err)
		return err
	}

	go func(w pipeline.Worker) {
		defer s.wg.Done()
		defer s.markWorkerAsIdle(w)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Errorf("Worker panicked: %v", r)
			}
		}()

		w.ProcessTask(s.ctx, messageID, responseQueueName, task)
	}(worker)

	return nil
}

func (s *scheduler) markWorkerAsIdle(worker pipeline.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	worker.UpdateStatus(constants.WorkerStatusIdle)
	s.busyWorkersCount--
	s.metrics.SetBusyWorkers(s.busyWorkersCount)

	s.logger.Infof("Worker marked as idle [WorkerID: %d]", worker.GetId())
}

func (s *scheduler) Shutdown() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	s.logger.Info("Waiting for running tasks to finish")
	s.wg.Wait()
}
