// Package rabbitmq carries publish replays for streamed generations whose
// artifact could not be written to the store.
package rabbitmq

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/studytree-ai/internal/common"
)

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// PublishMessage names a ledger row in publish_pending. The artifact itself
// stays in the ledger.
type PublishMessage struct {
	RequestID string `json:"request_id"`
}

func RetryQueue(queue string) string { return queue + ".retry" }
func DeadQueue(queue string) string  { return queue + ".dlq" }

// DeclareTopology creates the main, retry and dead-letter queues. The server
// and the worker both call it so either can start first.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	// DLQ
	if _, err := ch.QueueDeclare(
		DeadQueue(queue),
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: per-message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		RetryQueue(queue),
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": queue,
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on nack(requeue=false)
	_, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DeadQueue(queue),
		},
	)
	return err
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// EnqueuePublish asks the worker to replay the publish for requestID now.
func (p *Publisher) EnqueuePublish(ctx context.Context, requestID string) error {
	return p.send(ctx, p.queue, requestID, 0)
}

// EnqueueRetry parks requestID on the retry queue; it comes back to the main
// queue after delay.
func (p *Publisher) EnqueueRetry(ctx context.Context, requestID string, delay time.Duration) error {
	return p.send(ctx, RetryQueue(p.queue), requestID, delay)
}

func (p *Publisher) send(ctx context.Context, queue, requestID string, delay time.Duration) error {
	msg, err := NewPublishing(requestID, delay)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",    // default exchange
		queue, // routing key = queue
		false,
		false,
		msg,
	)
}

// NewPublishing builds the persistent AMQP message for requestID. A positive
// delay becomes the per-message expiration.
func NewPublishing(requestID string, delay time.Duration) (amqp.Publishing, error) {
	body, err := json.Marshal(PublishMessage{RequestID: requestID})
	if err != nil {
		return amqp.Publishing{}, err
	}
	mid, err := common.NewULID()
	if err != nil {
		return amqp.Publishing{}, err
	}
	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     mid,
		CorrelationId: requestID,
		Body:          body,
		Timestamp:     time.Now(),
	}
	if delay > 0 {
		msg.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}
	return msg, nil
}

// DecodeMessage parses a delivery body.
func DecodeMessage(body []byte) (PublishMessage, error) {
	var m PublishMessage
	err := json.Unmarshal(body, &m)
	return m, err
}
