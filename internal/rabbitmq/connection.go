package rabbitmq

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mini-maxit/coderunner/internal/config"
	"github.com/mini-maxit/coderunner/internal/logger"
	"github.com/mini-maxit/coderunner/internal/rabbitmq/channel"
	"github.com/mini-maxit/coderunner/pkg/constants"
)

// NewRabbitMqConnection dials the broker, retrying with a growing delay
// while it is still starting up. It exits the process when every attempt
// fails.
func NewRabbitMqConnection(cfg *config.Config) *amqp.Connection {
	log := logger.NewNamedLogger("rabbitmq")

	var conn *amqp.Connection
	var err error
	backoff := time.Second
	for attempt := 1; attempt <= constants.RabbitMQReconnectTries; attempt++ {
		conn, err = amqp.Dial(cfg.RabbitMQURL)
		if err == nil {
			log.Infof("Connected to RabbitMQ")
			return conn
		}
		log.Warnf("Failed to connect to RabbitMQ (attempt %d/%d): %s",
			attempt, constants.RabbitMQReconnectTries, err)
		time.Sleep(backoff)
		if backoff < 10*time.Second {
			backoff *= 2
		}
	}

	log.Fatalf("Failed to connect to RabbitMQ: %s", err)
	return nil
}

func NewRabbitMQChannel(conn *amqp.Connection) *channel.AmqpChannel {
	log := logger.NewNamedLogger("rabbitmq")

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("Failed to open RabbitMQ channel: %s", err)
	}
	return channel.NewAmqpChannel(ch)
}
