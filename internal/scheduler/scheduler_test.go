package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gomock "go.uber.org/mock/gomock"

	"github.com/mini-maxit/coderunner/internal/languages"
	"github.com/mini-maxit/coderunner/internal/metrics"
	"github.com/mini-maxit/coderunner/internal/pipeline"
	. "github.com/mini-maxit/coderunner/internal/scheduler"
	"github.com/mini-maxit/coderunner/pkg/constants"
	pkgerrors "github.com/mini-maxit/coderunner/pkg/errors"
	"github.com/mini-maxit/coderunner/pkg/messages"
	mocktests "github.com/mini-maxit/coderunner/tests/mocks"
)

func TestNewScheduler(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	grader := mocktests.NewMockGrader(ctrl)
	responder := mocktests.NewMockResponder(ctrl)

	maxWorkers := 3
	s := NewScheduler(maxWorkers, grader, languages.DefaultRegistry(), nil, responder, nil)
	if s == nil {
		t.Fatalf("NewScheduler returned nil")
	}

	status := s.GetWorkersStatus()
	if len(status.WorkerStatus) != maxWorkers {
		t.Fatalf("expected %d workers, got %d", maxWorkers, len(status.WorkerStatus))
	}
	for i, ws := range status.WorkerStatus {
		if ws.WorkerID != i || ws.Status != constants.WorkerStatusIdle {
			t.Fatalf("unexpected worker status %+v", ws)
		}
	}
}

func TestGetWorkersStatus(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	w0 := mocktests.NewMockWorker(ctrl)
	w1 := mocktests.NewMockWorker(ctrl)

	w0.EXPECT().GetStatus().Return(constants.WorkerStatusBusy).Times(1)
	w0.EXPECT().GetProcessingMessageID().Return("msg-1").Times(1)

	w1.EXPECT().GetStatus().Return(constants.WorkerStatusIdle).Times(1)

	s := NewSchedulerWithWorkers(2, map[int]pipeline.Worker{0: w0, 1: w1}, nil)

	st := s.GetWorkersStatus()
	if st.TotalWorkers != 2 {
		t.Fatalf("expected total_workers 2, got %v", st.TotalWorkers)
	}
	if len(st.WorkerStatus) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(st.WorkerStatus))
	}
	if st.WorkerStatus[0].ProcessingMessageID != "msg-1" {
		t.Fatalf("expected worker 0 to report msg-1, got %+v", st.WorkerStatus[0])
	}
	if st.WorkerStatus[1].ProcessingMessageID != "" {
		t.Fatalf("expected idle worker to report no message, got %+v", st.WorkerStatus[1])
	}
}

func TestProcessTask_SuccessAndMarkIdle(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	w := mocktests.NewMockWorker(ctrl)

	// Scheduler will call GetStatus to find free worker
	w.EXPECT().GetStatus().Return(constants.WorkerStatusIdle).Times(1)
	w.EXPECT().UpdateStatus(constants.WorkerStatusBusy).Times(1)
	w.EXPECT().GetId().Return(0).AnyTimes()

	release := make(chan struct{})
	started := make(chan struct{})
	w.EXPECT().ProcessTask(
		gomock.Any(),
		"msg-id-1",
		"resp",
		gomock.Any(),
	).Do(func(_ context.Context, _ string, _ string, _ *messages.GradingTask) {
		close(started)
		<-release
	}).Times(1)

	w.EXPECT().UpdateStatus(constants.WorkerStatusIdle).Times(1)

	s := NewSchedulerWithWorkers(1, map[int]pipeline.Worker{0: w}, m)

	if err := s.ProcessTask("resp", "msg-id-1", &messages.GradingTask{}); err != nil {
		t.Fatalf("unexpected error from ProcessTask: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for mocked worker ProcessTask to be called")
	}

	expectBusyWorkers(t, reg, 1)

	close(release)
	// Shutdown waits for the worker goroutine, including markWorkerAsIdle.
	s.Shutdown()

	expectBusyWorkers(t, reg, 0)
}

func TestProcessTask_NoFreeWorker(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	w := mocktests.NewMockWorker(ctrl)
	// worker reports busy
	w.EXPECT().GetStatus().Return(constants.WorkerStatusBusy).Times(1)

	s := NewSchedulerWithWorkers(1, map[int]pipeline.Worker{0: w}, nil)

	err := s.ProcessTask("resp", "msg-id-2", &messages.GradingTask{})
	if err == nil {
		t.Fatalf("expected error when no free worker available")
	}
	if !errors.Is(err, pkgerrors.ErrFailedToGetFreeWorker) {
		t.Fatalf("expected ErrFailedToGetFreeWorker, got %v", err)
	}
}

func TestShutdown_CancelsRunningTask(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	w := mocktests.NewMockWorker(ctrl)
	w.EXPECT().GetStatus().Return(constants.WorkerStatusIdle).Times(1)
	w.EXPECT().UpdateStatus(constants.WorkerStatusBusy).Times(1)
	w.EXPECT().UpdateStatus(constants.WorkerStatusIdle).Times(1)
	w.EXPECT().GetId().Return(0).AnyTimes()

	started := make(chan struct{})
	w.EXPECT().ProcessTask(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(ctx context.Context, _ string, _ string, _ *messages.GradingTask) {
			close(started)
			<-ctx.Done()
		})

	s := NewSchedulerWithWorkers(1, map[int]pipeline.Worker{0: w}, nil)
	if err := s.ProcessTask("resp", "msg-id-3", &messages.GradingTask{}); err != nil {
		t.Fatalf("unexpected error from ProcessTask: %v", err)
	}
	<-started

	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Shutdown did not return after cancelling the task")
	}

	// A stopped scheduler takes no new work.
	err := s.ProcessTask("resp", "msg-id-4", &messages.GradingTask{})
	if !errors.Is(err, pkgerrors.ErrFailedToGetFreeWorker) {
		t.Fatalf("expected ErrFailedToGetFreeWorker after shutdown, got %v", err)
	}
}

func TestProcessTask_WorkerPanicStillFreesWorker(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	w := mocktests.NewMockWorker(ctrl)
	w.EXPECT().GetStatus().Return(constants.WorkerStatusIdle).AnyTimes()
	w.EXPECT().UpdateStatus(constants.WorkerStatusBusy).Times(1)
	w.EXPECT().UpdateStatus(constants.WorkerStatusIdle).Times(1)
	w.EXPECT().GetId().Return(0).AnyTimes()
	w.EXPECT().ProcessTask(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(context.Context, string, string, *messages.GradingTask) {
			panic("unexpected")
		})

	s := NewSchedulerWithWorkers(1, map[int]pipeline.Worker{0: w}, nil)
	if err := s.ProcessTask("resp", "msg-id-5", &messages.GradingTask{}); err != nil {
		t.Fatalf("unexpected error from ProcessTask: %v", err)
	}
	s.Shutdown()

	if busy := s.GetWorkersStatus().BusyWorkers; busy != 0 {
		t.Fatalf("expected no busy workers, got %d", busy)
	}
}

func expectBusyWorkers(t *testing.T, reg *prometheus.Registry, n int) {
	t.Helper()
	expected := fmt.Sprintf(`
# HELP coderunner_busy_workers Workers currently grading a submission
# TYPE coderunner_busy_workers gauge
coderunner_busy_workers %d
`, n)
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "coderunner_busy_workers"); err != nil {
		t.Fatalf("unexpected busy_workers: %v", err)
	}
}
