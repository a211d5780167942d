// Package queue hands jobs to the external build workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// JobBuild is the job name consumed by build workers.
const JobBuild = "build"

// Job is the envelope pushed onto a queue list.
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Enqueuer accepts jobs for at-least-once delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) (string, error)
}

// RedisQueue stores jobs in one Redis list per job name.
type RedisQueue struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedis constructs a RedisQueue whose lists are named "<prefix>:<job>".
func NewRedis(client redis.Cmdable, prefix string) *RedisQueue {
	return &RedisQueue{client: client, prefix: prefix, now: time.Now}
}

// Key returns the list a job name is pushed to.
func (q *RedisQueue) Key(name string) string {
	return q.prefix + ":" + name
}

// Enqueue pushes the payload and returns the job id.
func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", name, err)
	}
	job := Job{ID: uuid.NewString(), Name: name, Payload: body, EnqueuedAt: q.now().UTC()}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode %s job: %w", name, err)
	}
	if err := q.client.LPush(ctx, q.Key(name), data).Err(); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}
	return job.ID, nil
}
