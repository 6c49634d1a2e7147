package responder

import (
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mini-maxit/coderunner/internal/logger"
	"github.com/mini-maxit/coderunner/internal/rabbitmq/channel"
	"github.com/mini-maxit/coderunner/pkg/errors"
	"github.com/mini-maxit/coderunner/pkg/messages"
)

type Responder interface {
	PublishErrorToResponseQueue(messageType, messageID, responseQueue string, err error)
	PublishSuccessHandshakeRespond(
		messageType, messageID, responseQueue string,
		languageSpecs []messages.LanguageSpec,
	) error
	PublishSuccessStatusRespond(
		messageType, messageID, responseQueue string,
		status messages.ResponseWorkerStatusPayload,
	) error
	PublishPayloadTaskRespond(
		messageType, messageID, responseQueue string,
		response messages.GradingResponse,
	) error
	// Publish sends msg to queueName on the default exchange.
	Publish(queueName string, msg amqp.Publishing) error
	Close() error
}

type publishRequest struct {
	queue  string
	msg    amqp.Publishing
	result chan error
}

// responder funnels every publish through one goroutine, since an AMQP
// channel must not be written to concurrently.
type responder struct {
	logger   *zap.SugaredLogger
	channel  channel.Channel
	requests chan publishRequest
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewResponder(ch channel.Channel, publishChanSize int) Responder {
	if publishChanSize < 0 {
		publishChanSize = 0
	}
	r := &responder{
		logger:   logger.NewNamedLogger("responder"),
		channel:  ch,
		requests: make(chan publishRequest, publishChanSize),
		done:     make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *responder) loop() {
	defer close(r.done)
	for req := range r.requests {
		req.result <- r.channel.Publish("", req.queue, false, false, req.msg)
	}
}

func (r *responder) Publish(queueName string, msg amqp.Publishing) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return errors.ErrResponderClosed
	}
	result := make(chan error, 1)
	r.requests <- publishRequest{queue: queueName, msg: msg, result: result}
	r.mu.RUnlock()

	return <-result
}

// Close stops accepting publishes and waits for the queued ones to be sent.
func (r *responder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.requests)
	r.mu.Unlock()

	<-r.done
	return nil
}

func (r *responder) PublishErrorToResponseQueue(messageType, messageID, responseQueue string, err error) {
	payload, jsonErr := json.Marshal(messages.ErrorPayload{Error: err.Error()})
	if jsonErr != nil {
		r.logger.Errorf("Failed to marshal error payload: %s", jsonErr)
		return
	}

	if pubErr := r.publishRespondMessage(messageType, messageID, responseQueue, false, payload); pubErr != nil {
		r.logger.Errorf("Failed to publish error message: %s", pubErr)
		return
	}

	r.logger.Infof("Published error message to response queue [MsgID: %s]", messageID)
}

func (r *responder) PublishSuccessHandshakeRespond(
	messageType, messageID, responseQueue string,
	languageSpecs []messages.LanguageSpec,
) error {
	payload, err := json.Marshal(messages.ResponseHandshakePayload{Languages: languageSpecs})
	if err != nil {
		return err
	}
	return r.publishRespondMessage(messageType, messageID, responseQueue, true, payload)
}

func (r *responder) PublishSuccessStatusRespond(
	messageType, messageID, responseQueue string,
	status messages.ResponseWorkerStatusPayload,
) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return r.publishRespondMessage(messageType, messageID, responseQueue, true, payload)
}

func (r *responder) PublishPayloadTaskRespond(
	messageType, messageID, responseQueue string,
	response messages.GradingResponse,
) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return r.publishRespondMessage(messageType, messageID, responseQueue, true, payload)
}

func (r *responder) publishRespondMessage(
	messageType, messageID, responseQueue string,
	ok bool,
	payload []byte,
) error {
	body, err := json.Marshal(messages.ResponseQueueMessage{
		Type:      messageType,
		MessageID: messageID,
		Ok:        ok,
		Payload:   payload,
	})
	if err != nil {
		return err
	}

	return r.Publish(responseQueue, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: messageID,
		Body:          body,
	})
}
