package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mini-maxit/coderunner/internal/languages"
	"github.com/mini-maxit/coderunner/internal/logger"
	"github.com/mini-maxit/coderunner/internal/metrics"
	"github.com/mini-maxit/coderunner/internal/rabbitmq/responder"
	"github.com/mini-maxit/coderunner/internal/storage"
	"github.com/mini-maxit/coderunner/pkg/constants"
	customErr "github.com/mini-maxit/coderunner/pkg/errors"
	"github.com/mini-maxit/coderunner/pkg/grading"
	"github.com/mini-maxit/coderunner/pkg/messages"
)

// Grader is satisfied by *grading.Grader.
type Grader interface {
	Grade(ctx context.Context, source string, q grading.Question) (*grading.Outcome, error)
}

type Worker interface {
	ProcessTask(ctx context.Context, messageID, responseQueue string, task *messages.GradingTask)
	GetStatus() constants.WorkerStatus
	UpdateStatus(status constants.WorkerStatus)
	GetProcessingMessageID() string
	GetId() int
}

type WorkerState struct {
	Status              constants.WorkerStatus `json:"status"`
	ProcessingMessageID string                 `json:"processing_message_id"`
}

type worker struct {
	id        int
	mu        sync.Mutex
	state     WorkerState
	grader    Grader
	languages *languages.Registry
	cache     storage.OutcomeCache
	responder responder.Responder
	metrics   *metrics.Metrics
	logger    *zap.SugaredLogger
}

// NewWorker creates a worker. cache may be nil, in which case every task is
// graded from scratch.
func NewWorker(
	id int,
	grader Grader,
	registry *languages.Registry,
	cache storage.OutcomeCache,
	responder responder.Responder,
	m *metrics.Metrics,
) Worker {
	return &worker{
		id:        id,
		state:     WorkerState{Status: constants.WorkerStatusIdle},
		grader:    grader,
		languages: registry,
		cache:     cache,
		responder: responder,
		metrics:   m,
		logger:    logger.NewNamedLogger(fmt.Sprintf("worker-%d", id)),
	}
}

func (ws *worker) GetId() int {
	return ws.id
}

func (ws *worker) GetStatus() constants.WorkerStatus {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state.Status
}

func (ws *worker) UpdateStatus(status constants.WorkerStatus) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.state.Status = status
}

func (ws *worker) GetProcessingMessageID() string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state.ProcessingMessageID
}

func (ws *worker) setProcessingMessageID(messageID string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.state.ProcessingMessageID = messageID
}

func (ws *worker) ProcessTask(ctx context.Context, messageID, responseQueue string, task *messages.GradingTask) {
	defer func() {
		if r := recover(); r != nil {
			ws.logger.Errorf("Recovered from panic [MsgID: %s]: %v", messageID, r)
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			ws.publishError(messageID, responseQueue, err)
		}
	}()

	ws.logger.Infof("Processing task [MsgID: %s, SubmissionID: %s]", messageID, task.SubmissionID)
	ws.setProcessingMessageID(messageID)
	defer ws.setProcessingMessageID("")

	q := task.Question
	if _, err := ws.languages.Get(q.Language); err != nil {
		ws.logger.Errorf("Invalid language %q [MsgID: %s]", q.Language, messageID)
		ws.publishError(messageID, responseQueue, err)
		return
	}

	if outcome, ok := ws.cachedOutcome(ctx, messageID, q, task.Source); ok {
		ws.metrics.ObserveOutcome(q.Language, outcome.Grade(), true, 0)
		ws.publishOutcome(messageID, responseQueue, task.SubmissionID, outcome, true)
		return
	}

	start := time.Now()
	outcome, err := ws.grader.Grade(ctx, task.Source, q)
	if err != nil {
		ws.logger.Errorf("Failed to grade submission [MsgID: %s]: %s", messageID, err)
		ws.metrics.ObserveError(err)
		ws.publishError(messageID, responseQueue, describe(err))
		return
	}
	elapsed := time.Since(start)

	ws.storeOutcome(ctx, messageID, q, task.Source, outcome)

	ws.metrics.ObserveOutcome(q.Language, outcome.Grade(), false, elapsed)
	ws.publishOutcome(messageID, responseQueue, task.SubmissionID, outcome, false)
	ws.logger.Infof("Finished processing task [MsgID: %s] in %s", messageID, elapsed)
}

func (ws *worker) cachedOutcome(
	ctx context.Context,
	messageID string,
	q grading.Question,
	source string,
) (*grading.Outcome, bool) {
	if ws.cache == nil {
		return nil, false
	}
	outcome, err := ws.cache.Get(ctx, q, source)
	if err != nil {
		if !errors.Is(err, customErr.ErrCacheMiss) {
			ws.logger.Warnf("Outcome cache lookup failed [MsgID: %s]: %s", messageID, err)
		}
		return nil, false
	}
	ws.logger.Infof("Outcome cache hit [MsgID: %s]", messageID)
	return outcome, true
}

// storeOutcome caches outcomes that do not depend on host load. A testcase
// that ran out of time may pass on a quieter machine, so such outcomes are
// always graded again.
func (ws *worker) storeOutcome(
	ctx context.Context,
	messageID string,
	q grading.Question,
	source string,
	outcome *grading.Outcome,
) {
	if ws.cache == nil {
		return
	}
	if hasTimeLimitExceeded(outcome) {
		ws.logger.Infof("Not caching outcome with a time limit verdict [MsgID: %s]", messageID)
		return
	}
	if err := ws.cache.Put(ctx, q, source, outcome); err != nil {
		ws.logger.Warnf("Failed to cache outcome [MsgID: %s]: %s", messageID, err)
	}
}

func hasTimeLimitExceeded(outcome *grading.Outcome) bool {
	for _, r := range outcome.Results {
		if r.Status == grading.TimeLimitExceeded {
			return true
		}
	}
	return false
}

func (ws *worker) publishOutcome(
	messageID, responseQueue, submissionID string,
	outcome *grading.Outcome,
	cached bool,
) {
	err := ws.responder.PublishPayloadTaskRespond(
		constants.QueueMessageTypeTask,
		messageID,
		responseQueue,
		messages.NewGradingResponse(submissionID, outcome, cached),
	)
	if err != nil {
		ws.logger.Errorf("Failed to publish grading response [MsgID: %s]: %s", messageID, err)
		ws.publishError(messageID, responseQueue, err)
	}
}

func (ws *worker) publishError(messageID, responseQueue string, err error) {
	ws.responder.PublishErrorToResponseQueue(constants.QueueMessageTypeTask, messageID, responseQueue, err)
}

// describe prefixes a grading error with a message the submitter can act on.
func describe(err error) error {
	switch {
	case errors.Is(err, customErr.ErrGradingCancelled):
		return fmt.Errorf("%s: %w", constants.GradingMessageCancelled, err)
	case errors.Is(err, customErr.ErrConfiguration):
		return fmt.Errorf("%s: %w", constants.GradingMessageConfiguration, err)
	case errors.Is(err, customErr.ErrSandbox):
		return fmt.Errorf("%s: %w", constants.GradingMessageSandboxError, err)
	default:
		return err
	}
}
