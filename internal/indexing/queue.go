// Package indexing implements the C9 asynchronous indexing pipeline: a
// Redis-backed job queue (adapted from the-hive's
// internal/queue/redis_queue.go), a bounded worker pool (adapted from
// the-hive's internal/worker/worker.go), and the per-file pipeline that
// extracts sections, chunks them, embeds the chunks, and upserts them into
// the vector store.
package indexing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job is a single unit of indexing work: index (or re-index) one file.
type Job struct {
	FileID    string    `json:"fileId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Queue is the C9 job queue.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// RedisQueue implements Queue using a Redis list, RPUSH to enqueue and
// BLPOP to dequeue, matching the-hive's redis_queue.go.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue constructs a RedisQueue. key defaults to "ragsentry:index:jobs".
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "ragsentry:index:jobs"
	}
	return &RedisQueue{client: client, key: key}
}

// Enqueue adds a job to the queue using RPUSH.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal index job: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("enqueue index job: %w", err)
	}
	return nil
}

// Dequeue blocks until a job is available using BLPOP, then returns it.
func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	type result struct {
		val []string
		err error
	}
	resultChan := make(chan result, 1)

	go func() {
		val, err := q.client.BLPop(ctx, 0, q.key).Result()
		resultChan <- result{val: val, err: err}
	}()

	select {
	case <-ctx.Done():
		return Job{}, ctx.Err()
	case res := <-resultChan:
		if res.err != nil {
			if res.err == redis.Nil {
				return Job{}, ctx.Err()
			}
			return Job{}, fmt.Errorf("dequeue index job: %w", res.err)
		}
		if len(res.val) < 2 {
			return Job{}, fmt.Errorf("unexpected BLPOP result shape")
		}

		var job Job
		if err := json.Unmarshal([]byte(res.val[1]), &job); err != nil {
			return Job{}, fmt.Errorf("unmarshal index job: %w", err)
		}
		return job, nil
	}
}

// InMemoryQueue is a channel-backed Queue used in tests and single-process
// deployments without Redis.
type InMemoryQueue struct {
	ch chan Job
}

// NewInMemoryQueue constructs an InMemoryQueue with the given buffer size.
func NewInMemoryQueue(buffer int) *InMemoryQueue {
	return &InMemoryQueue{ch: make(chan Job, buffer)}
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.ch:
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}
