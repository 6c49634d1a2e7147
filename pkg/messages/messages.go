package messages

import (
	"encoding/json"

	"github.com/mini-maxit/coderunner/pkg/constants"
	"github.com/mini-maxit/coderunner/pkg/grading"
	"github.com/shopspring/decimal"
)

type QueueMessage struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id"`
	Payload   json.RawMessage `json:"payload"`
}

// GradingTask is the payload of a task message: one submission and the
// question it answers.
type GradingTask struct {
	SubmissionID string           `json:"submission_id"`
	Source       string           `json:"source"`
	Question     grading.Question `json:"question"`
}

type ResponseQueueMessage struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id"`
	Ok        bool            `json:"ok"`
	Payload   json.RawMessage `json:"payload"`
}

type GradingResponse struct {
	SubmissionID   string               `json:"submission_id"`
	Grade          grading.Grade        `json:"grade"`
	Fraction       decimal.Decimal      `json:"fraction"`
	Cached         bool                 `json:"cached"`
	Outcome        *grading.Outcome     `json:"outcome"`
	VisibleResults []grading.TestResult `json:"visible_results"`
}

// NewGradingResponse derives the verdict fields from outcome.
func NewGradingResponse(submissionID string, outcome *grading.Outcome, cached bool) GradingResponse {
	return GradingResponse{
		SubmissionID:   submissionID,
		Grade:          outcome.Grade(),
		Fraction:       outcome.Fraction(),
		Cached:         cached,
		Outcome:        outcome,
		VisibleResults: outcome.VisibleResults(),
	}
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type LanguageSpec struct {
	Name       string `json:"name"`
	Image      string `json:"image"`
	Combinator bool   `json:"combinator"`
}

type ResponseHandshakePayload struct {
	Languages []LanguageSpec `json:"languages"`
}

type WorkerStatus struct {
	WorkerID            int                    `json:"worker_id"`
	Status              constants.WorkerStatus `json:"status"`
	ProcessingMessageID string                 `json:"processing_message_id"`
}

type ResponseWorkerStatusPayload struct {
	BusyWorkers  int            `json:"busy_workers"`
	TotalWorkers int            `json:"total_workers"`
	WorkerStatus []WorkerStatus `json:"worker_status"`
}
