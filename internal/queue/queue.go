package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis list the audit stream lives on.
const DefaultKey = "medcheck:audit"

// Event kinds published by the session service.
const (
	KindCheckIn  = "checkin"
	KindCheckOut = "checkout"
)

// Message is one audit event. The worker consumes these and writes them
// to the log; nothing in the request path ever blocks on the queue.
type Message struct {
	Kind      string    `json:"kind"`
	StudentID int64     `json:"studentId"`
	SessionID string    `json:"sessionId"`
	At        time.Time `json:"at"`
}

// Queue is the publish/consume surface shared by the API and the worker.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (Message, error)
}

// InMemory is a buffered channel queue for single-process deployments
// and tests.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates an in-memory queue with the given buffer size.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 128
	}
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues without blocking; a full buffer drops the event.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	default:
		return errors.New("queue full")
	}
}

// Consume blocks until a message arrives or the context ends.
func (q *InMemory) Consume(ctx context.Context) (Message, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Redis is a Redis-list backed queue so the worker can run as a
// separate process.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis creates a Redis queue on the given list key. An empty key
// uses DefaultKey.
func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{client: client, key: key}
}

// Publish pushes one JSON-encoded message.
func (q *Redis) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encoding queue message")
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return errors.Wrap(err, "publishing queue message")
	}
	return nil
}

// Consume blocks on the list until a message arrives or the context
// ends.
func (q *Redis) Consume(ctx context.Context) (Message, error) {
	res, err := q.client.BRPop(ctx, 0, q.key).Result()
	if err != nil {
		return Message{}, errors.Wrap(err, "consuming queue message")
	}
	// BRPop returns [key, value].
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return Message{}, errors.Wrap(err, "decoding queue message")
	}
	return msg, nil
}
