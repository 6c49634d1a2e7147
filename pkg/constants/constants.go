package constants

import (
	"encoding/json"
	"fmt"
)

// Queue message types.
const (
	QueueMessageTypeTask      = "task"
	QueueMessageTypeHandshake = "handshake"
	QueueMessageTypeStatus    = "status"
)

// Grading response messages.
const (
	GradingMessageSandboxError  = "sandbox failed to execute the submission"
	GradingMessageConfiguration = "question is misconfigured"
	GradingMessageCancelled     = "grading was cancelled"
)

// Worker specific constants.
type WorkerStatus int

const (
	WorkerStatusIdle WorkerStatus = iota
	WorkerStatusBusy
)

func (ws WorkerStatus) String() string {
	switch ws {
	case WorkerStatusIdle:
		return "idle"
	case WorkerStatusBusy:
		return "busy"
	default:
		return "unknown"
	}
}

func (ws WorkerStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(ws.String())
}

func (ws *WorkerStatus) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "idle":
		*ws = WorkerStatusIdle
	case "busy":
		*ws = WorkerStatusBusy
	default:
		return fmt.Errorf("unknown worker status %q", s)
	}
	return nil
}

// Sandbox exit codes. ExitCodeSyntaxError and ExitCodeTimeout are set by
// the sandbox script, not by the program.
const (
	ExitCodeSuccess     = 0
	ExitCodeKilled      = 137
	ExitCodeSyntaxError = 200
	ExitCodeTimeout     = 201
)

// Configuration constants.
const (
	DefaultRabbitmqHost            = "localhost"
	DefaultRabbitmqUser            = "guest"
	DefaultRabbitmqPassword        = "guest"
	DefaultRabbitmqPort            = "5672"
	DefaultRabbitmqPublishChanSize = 100
	DefaultWorkerQueueName         = "grading_queue"
	DefaultMaxWorkers              = 10
	DefaultRedisAddr               = "localhost:6379"
	DefaultRedisDB                 = 0
	DefaultOutcomeCacheTTLHours    = 24
	DefaultTimeLimitMs             = 3000
	DefaultSandboxMemoryMB         = 256
	DefaultMetricsAddr             = ":9090"
	RuntimeImagePrefix             = "ghcr.io/mini-maxit/runtime"
)

// Sandbox constants.
const (
	SandboxDir               = "sandbox"
	SandboxStdinFile         = "stdin.txt"
	SandboxBuildErrFile      = "build.err"
	SandboxTimeLimitMarker   = ".time_limit"
	SandboxUser              = "65534:65534"
	SandboxPidsLimit         = 64
	SandboxCompileTimeoutSec = 30
	SandboxTimeLimitGraceMs  = 2000
	MaxSandboxOutputBytes    = 1 << 20
	ContainerCleanupTimeout  = 10
)

// Cache constants.
const (
	OutcomeCacheKeyPrefix = "coderunner:outcome:"
)

// RabbitMQ specific constants.
const (
	RabbitMQReconnectTries      = 10
	RabbitMQMaxPriority         = 3
	RabbitMQRequeuePriority     = 2
	RabbitMQRequeueBackoffMs    = 50
	RabbitMQRequeueBackoffMaxMs = 1000
)
