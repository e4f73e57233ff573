package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mysocial/bridge-relayers/config"
	"github.com/mysocial/bridge-relayers/pkg/deposit"
	"github.com/mysocial/bridge-relayers/pkg/events"
	"github.com/mysocial/bridge-relayers/pkg/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

var ErrMalformedMessage = errors.New("malformed deposit message")

// DepositMessage is the JSON body published by external watchers.
// Type is events.EVENT_EVM_DEPOSIT or events.EVENT_NATIVE_DEPOSIT and selects
// which of Evm and Native is read.
type DepositMessage struct {
	Type   string                    `json:"type"`
	Evm    *types.EvmDepositEvent    `json:"evm,omitempty"`
	Native *types.NativeDepositEvent `json:"native,omitempty"`
}

// Handler is implemented by *handler.DepositProcessor.
type Handler interface {
	Handle(ctx context.Context, envelope *events.EventEnvelope) error
}

// Acknowledger is the subset of amqp.Delivery used to settle a message.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
	handler Handler
}

func NewClient(cfg *config.RabbitMQConfig, handler Handler) (*Client, error) {
	port := cfg.Port
	if port == 0 {
		port = 5672
	}
	connectionString := fmt.Sprintf("amqp://%s:%s@%s:%s/",
		cfg.User, cfg.Password, cfg.Host, strconv.Itoa(port))

	conn, err := amqp.Dial(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	args := amqp.Table{"x-queue-type": "quorum"}
	if cfg.DeadLetterExchange != "" {
		args["x-dead-letter-exchange"] = cfg.DeadLetterExchange
		args["x-dead-letter-routing-key"] = cfg.RoutingKey
	}

	q, err := ch.QueueDeclare(
		cfg.Queue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		args,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare a queue: %w", err)
	}

	return &Client{
		conn:    conn,
		channel: ch,
		queue:   q,
		handler: handler,
	}, nil
}

// Consume settles deliveries until ctx is cancelled or the channel closes.
func (c *Client) Consume(ctx context.Context) error {
	msgs, err := c.channel.ConsumeWithContext(ctx,
		c.queue.Name,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			Process(ctx, c.handler, msg.Body, msg)
		}
	}
}

func (c *Client) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// Process handles one message body and settles it. Malformed messages are
// dropped, rejected deposits are acknowledged, other failures are requeued.
func Process(ctx context.Context, handler Handler, body []byte, ack Acknowledger) {
	log.Debug().Bytes("content", body).Msg("[RabbitMQ] Received message")

	envelope, err := ParseDepositMessage(body)
	if err != nil {
		log.Error().Err(err).Msg("[RabbitMQ] Failed to parse message")
		settle(ack.Nack(false, false))
		return
	}

	err = handler.Handle(ctx, envelope)
	switch {
	case err == nil:
		settle(ack.Ack(false))
	case deposit.IsRejected(err):
		log.Warn().Err(err).Str("type", envelope.EventType).Msg("[RabbitMQ] Deposit rejected")
		settle(ack.Ack(false))
	default:
		log.Error().Err(err).Str("type", envelope.EventType).Msg("[RabbitMQ] Failed to handle deposit")
		settle(ack.Nack(false, true))
	}
}

// ParseDepositMessage decodes a message body into a bus envelope.
func ParseDepositMessage(body []byte) (*events.EventEnvelope, error) {
	var msg DepositMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch msg.Type {
	case events.EVENT_EVM_DEPOSIT:
		if msg.Evm == nil || msg.Evm.Amount == nil {
			return nil, fmt.Errorf("%w: missing evm deposit", ErrMalformedMessage)
		}
		if !msg.Evm.SourceChain.IsEvm() {
			return nil, fmt.Errorf("%w: %s is not an evm chain", ErrMalformedMessage, msg.Evm.SourceChain)
		}
		return &events.EventEnvelope{
			EventType:   msg.Type,
			SourceChain: msg.Evm.SourceChain.String(),
			Data:        msg.Evm,
		}, nil
	case events.EVENT_NATIVE_DEPOSIT:
		if msg.Native == nil || msg.Native.TxDigest.IsZero() {
			return nil, fmt.Errorf("%w: missing native deposit", ErrMalformedMessage)
		}
		if !msg.Native.SourceChain.IsNative() {
			return nil, fmt.Errorf("%w: %s is not a native chain", ErrMalformedMessage, msg.Native.SourceChain)
		}
		return &events.EventEnvelope{
			EventType:   msg.Type,
			SourceChain: msg.Native.SourceChain.String(),
			Data:        msg.Native,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, msg.Type)
	}
}

func settle(err error) {
	if err != nil {
		log.Error().Err(err).Msg("[RabbitMQ] Failed to settle message")
	}
}
