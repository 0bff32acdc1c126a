package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultPollInterval = 250 * time.Millisecond

// RedisScheduler is a Redis-backed scheduler. Ready jobs live in a list
// consumed with blocking pops; delayed jobs live in a sorted set scored by
// their due time and are promoted to the ready list by a mover goroutine.
// Jobs survive a process restart.
type RedisScheduler struct {
	client       *redis.Client
	keyPrefix    string
	workers      int
	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	handler Handler
	wg      sync.WaitGroup
}

// RedisSchedulerOptions configures a RedisScheduler
type RedisSchedulerOptions struct {
	// KeyPrefix namespaces the queue keys. Defaults to "triggerflow".
	KeyPrefix string

	// Workers is the worker pool size. Defaults to 1.
	Workers int

	// PollInterval is how often due delayed jobs are promoted. Defaults
	// to 250ms.
	PollInterval time.Duration
}

// NewRedisScheduler creates a Redis-backed scheduler
func NewRedisScheduler(client *redis.Client, opts RedisSchedulerOptions) *RedisScheduler {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "triggerflow"
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisScheduler{
		client:       client,
		keyPrefix:    opts.KeyPrefix,
		workers:      opts.Workers,
		pollInterval: opts.PollInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *RedisScheduler) readyKey() string {
	return s.keyPrefix + ":ready"
}

func (s *RedisScheduler) delayedKey() string {
	return s.keyPrefix + ":delayed"
}

// Enqueue schedules a node execution, optionally delayed
func (s *RedisScheduler) Enqueue(ctx context.Context, runID, nodeID string, delay time.Duration) error {
	payload, err := json.Marshal(Job{RunID: runID, NodeID: nodeID})
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if delay <= 0 {
		if err := s.client.LPush(ctx, s.readyKey(), payload).Err(); err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
		return nil
	}

	due := time.Now().Add(delay)
	err = s.client.ZAdd(ctx, s.delayedKey(), &redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue delayed job: %w", err)
	}
	return nil
}

// Start launches the worker pool and the delayed-job mover
func (s *RedisScheduler) Start(handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handler != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.handler = handler

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.wg.Add(1)
	go s.moveDue()

	return nil
}

// Stop shuts the worker pool down and waits for in-flight jobs
func (s *RedisScheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *RedisScheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Short blocking pop so shutdown is noticed promptly
		result, err := s.client.BRPop(s.ctx, time.Second, s.readyKey()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.Printf("failed to pop job: %v", err)
			time.Sleep(time.Second)
			continue
		}

		// BRPop returns [key, value]
		var job Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("failed to unmarshal job: %v", err)
			continue
		}

		if err := s.handler(context.Background(), job.RunID, job.NodeID); err != nil {
			log.Printf("job failed: run=%s node=%s: %v", job.RunID, job.NodeID, err)
		}
	}
}

// moveDue promotes delayed jobs whose due time has passed to the ready list
func (s *RedisScheduler) moveDue() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		payloads, err := s.client.ZRangeByScore(s.ctx, s.delayedKey(), &redis.ZRangeBy{
			Min: "-inf",
			Max: now,
		}).Result()
		if err != nil {
			if s.ctx.Err() == nil {
				log.Printf("failed to read delayed jobs: %v", err)
			}
			continue
		}

		for _, payload := range payloads {
			// Only the remover that wins the ZRem pushes, so a job
			// promoted by two movers is still delivered once here
			removed, err := s.client.ZRem(s.ctx, s.delayedKey(), payload).Result()
			if err != nil {
				log.Printf("failed to remove delayed job: %v", err)
				continue
			}
			if removed == 0 {
				continue
			}
			if err := s.client.LPush(s.ctx, s.readyKey(), payload).Err(); err != nil {
				log.Printf("failed to promote delayed job: %v", err)
			}
		}
	}
}
