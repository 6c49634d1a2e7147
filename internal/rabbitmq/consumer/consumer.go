package consumer

import (
	"encoding/json"
	e "errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mini-maxit/coderunner/internal/languages"
	"github.com/mini-maxit/coderunner/internal/logger"
	"github.com/mini-maxit/coderunner/internal/rabbitmq/channel"
	"github.com/mini-maxit/coderunner/internal/rabbitmq/responder"
	"github.com/mini-maxit/coderunner/internal/scheduler"
	"github.com/mini-maxit/coderunner/pkg/constants"
	"github.com/mini-maxit/coderunner/pkg/errors"
	"github.com/mini-maxit/coderunner/pkg/messages"
)

type Consumer interface {
	// Listen blocks until the delivery channel is closed.
	Listen()
}

type consumer struct {
	channel         channel.Channel
	workerQueueName string
	scheduler       scheduler.Scheduler
	responder       responder.Responder
	languages       *languages.Registry
	backoff         *backoff
	sleep           func(time.Duration)
	logger          *zap.SugaredLogger
}

type Option func(*consumer)

// WithRequeueBackoff sets how long the consumer waits before requeueing a
// task that found every worker busy. The wait doubles from base up to max
// while the pool stays full. A zero base requeues at once.
func WithRequeueBackoff(base, maxDelay time.Duration) Option {
	return func(c *consumer) {
		c.backoff = &backoff{base: base, max: maxDelay}
	}
}

func NewConsumer(
	mainChannel channel.Channel,
	workerQueueName string,
	scheduler scheduler.Scheduler,
	responder responder.Responder,
	registry *languages.Registry,
	opts ...Option,
) Consumer {
	c := &consumer{
		channel:         mainChannel,
		workerQueueName: workerQueueName,
		scheduler:       scheduler,
		responder:       responder,
		languages:       registry,
		backoff: &backoff{
			base: constants.RabbitMQRequeueBackoffMs * time.Millisecond,
			max:  constants.RabbitMQRequeueBackoffMaxMs * time.Millisecond,
		},
		sleep:  time.Sleep,
		logger: logger.NewNamedLogger("consumer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *consumer) Listen() {
	c.logger.Infof("Declaring queue %s", c.workerQueueName)

	args := make(amqp.Table)
	args["x-max-priority"] = constants.RabbitMQMaxPriority
	_, err := c.channel.QueueDeclare(c.workerQueueName, true, false, false, false, args)
	if err != nil {
		c.logger.Panicf("Failed to declare queue %s: %s", c.workerQueueName, err)
	}

	c.logger.Infof("Listening for messages on queue %s", c.workerQueueName)

	msgs, err := c.channel.Consume(c.workerQueueName, "", true, false, false, false, nil)
	if err != nil {
		c.logger.Panicf("Failed to consume messages from queue %s: %s", c.workerQueueName, err)
	}

	for msg := range msgs {
		c.processMessage(msg)
	}
	c.logger.Infof("Delivery channel closed, stopped listening on %s", c.workerQueueName)
}

func (c *consumer) processMessage(msg amqp.Delivery) {
	var queueMessage messages.QueueMessage
	if err := json.Unmarshal(msg.Body, &queueMessage); err != nil {
		c.logger.Errorf("Failed to unmarshal message: %s", err)
		c.responder.PublishErrorToResponseQueue("", "", msg.ReplyTo, err)
		return
	}

	switch queueMessage.Type {
	case constants.QueueMessageTypeTask:
		c.logger.Infof("Received task message [MsgID: %s]", queueMessage.MessageID)
		c.handleTaskMessage(queueMessage, msg)
	case constants.QueueMessageTypeStatus:
		c.logger.Infof("Received status message [MsgID: %s]", queueMessage.MessageID)
		c.handleStatusMessage(queueMessage, msg.ReplyTo)
	case constants.QueueMessageTypeHandshake:
		c.logger.Infof("Received handshake message [MsgID: %s]", queueMessage.MessageID)
		c.handleHandshakeMessage(queueMessage, msg.ReplyTo)
	default:
		c.logger.Errorf("Unknown message type: %s", queueMessage.Type)
		c.responder.PublishErrorToResponseQueue(
			queueMessage.Type,
			queueMessage.MessageID,
			msg.ReplyTo,
			errors.ErrUnknownMessageType)
	}
}

// requeueWithPriority puts a task that found no free worker back on the
// queue ahead of fresh submissions.
func (c *consumer) requeueWithPriority(msg amqp.Delivery, messageID string) error {
	return c.responder.Publish(c.workerQueueName, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: messageID,
		ReplyTo:       msg.ReplyTo,
		Body:          msg.Body,
		Priority:      uint8(constants.RabbitMQRequeuePriority),
	})
}

func (c *consumer) handleTaskMessage(queueMessage messages.QueueMessage, msg amqp.Delivery) {
	var task messages.GradingTask
	if err := json.Unmarshal(queueMessage.Payload, &task); err != nil {
		c.logger.Errorf("Failed to unmarshal task message: %s", err)
		c.responder.PublishErrorToResponseQueue(
			queueMessage.Type,
			queueMessage.MessageID,
			msg.ReplyTo,
			err)
		return
	}

	err := c.scheduler.ProcessTask(msg.ReplyTo, queueMessage.MessageID, &task)
	if err == nil {
		c.backoff.reset()
		return
	}

	if e.Is(err, errors.ErrFailedToGetFreeWorker) {
		// Blocks Listen until the delay has passed.
		delay := c.backoff.next()
		c.logger.Infof("No free worker, requeueing in %s [MsgID: %s]", delay, queueMessage.MessageID)
		if delay > 0 {
			c.sleep(delay)
		}
		if requeueErr := c.requeueWithPriority(msg, queueMessage.MessageID); requeueErr != nil {
			c.logger.Errorf("Failed to requeue task with higher priority: %s", requeueErr)
			c.responder.PublishErrorToResponseQueue(queueMessage.Type, queueMessage.MessageID, msg.ReplyTo, requeueErr)
		}
		return
	}

	c.logger.Errorf("Failed to process task message: %s", err)
	c.responder.PublishErrorToResponseQueue(
		queueMessage.Type,
		queueMessage.MessageID,
		msg.ReplyTo,
		err)
}

func (c *consumer) handleStatusMessage(queueMessage messages.QueueMessage, replyTo string) {
	status := c.scheduler.GetWorkersStatus()

	err := c.responder.PublishSuccessStatusRespond(queueMessage.Type, queueMessage.MessageID, replyTo, status)
	if err != nil {
		c.logger.Errorf("Failed to publish status message: %s", err)
		c.responder.PublishErrorToResponseQueue(queueMessage.Type, queueMessage.MessageID, replyTo, err)
	}
}

func (c *consumer) handleHandshakeMessage(queueMessage messages.QueueMessage, replyTo string) {
	err := c.responder.PublishSuccessHandshakeRespond(
		queueMessage.Type, queueMessage.MessageID, replyTo, c.languages.Specs())
	if err != nil {
		c.logger.Errorf("Failed to publish supported languages: %s", err)
		c.responder.PublishErrorToResponseQueue(queueMessage.Type, queueMessage.MessageID, replyTo, err)
	}
}
