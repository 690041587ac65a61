// Package queue is a small redis-backed delayed task queue used to
// retry fulfillment work that failed inline during callback handling.
// Due tasks live in a ZSET scored by availability time; tasks being
// processed move to a second ZSET scored by a visibility deadline so a
// crashed worker's tasks get redelivered.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// KindFulfillOrder is the task kind for deferred order fulfillment.
const KindFulfillOrder = "fulfill-order"

// Task is one unit of asynchronous work.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}

// Enqueuer publishes tasks.
type Enqueuer struct {
	R        *redis.Client
	Prefix   string
	DedupTTL time.Duration
}

// Enqueue schedules the task. When an idempotency key is supplied the
// task is enqueued at most once per deduplication window, so a burst of
// duplicate callbacks cannot fan out into duplicate retries.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		MaxAttempts: t.MaxAttempts,
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 10
	}
	msg.AvailableAt = time.Now().Add(t.Delay).UnixNano()

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, dedupKey(e.Prefix, kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return e.R.ZAdd(ctx, queueKey(e.Prefix, kind), redis.Z{
		Score:  float64(msg.AvailableAt),
		Member: raw,
	}).Err()
}

// DLQ receives tasks that exhausted their attempts.
type DLQ interface {
	Insert(ctx context.Context, entry DLQEntry) error
}

// Worker consumes tasks of a single kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	RetryBase         time.Duration
	RetryJitter       float64
	Handler           func(context.Context, Task) error
	DeadLetters       DLQ
	Logger            zerolog.Logger
}

// Run processes tasks until the context is cancelled.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return errors.New("queue: worker kind is required")
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	retryBase := w.RetryBase
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}

	qKey := queueKey(w.Prefix, kind)
	pKey := processingKey(w.Prefix, kind)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	requeueTicker := time.NewTicker(time.Second)
	defer requeueTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-requeueTicker.C:
			if err := w.requeueExpired(ctx, pKey, qKey); err != nil {
				return err
			}
		default:
		}

		res, err := w.R.ZPopMin(ctx, qKey, 1).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if errors.Is(err, redis.Nil) {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return err
		}
		if len(res) == 0 {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		member, ok := res[0].Member.(string)
		if !ok {
			continue
		}
		msg, err := decodeMessage(member)
		if err != nil {
			w.Logger.Warn().Str("kind", kind).Msg("dropping undecodable task")
			continue
		}
		now := time.Now().UnixNano()
		if msg.AvailableAt > now {
			// Not due yet: push back and wait out the remainder.
			w.R.ZAdd(ctx, qKey, redis.Z{Score: float64(msg.AvailableAt), Member: member})
			sleep := time.Duration(msg.AvailableAt - now)
			if sleep > time.Second {
				sleep = time.Second
			}
			time.Sleep(sleep)
			continue
		}

		msg.Attempt++
		rawBytes, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		raw := string(rawBytes)
		deadline := time.Now().Add(visibility).UnixNano()
		if err := w.R.ZAdd(ctx, pKey, redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
			return err
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(raw string, m taskMessage) {
			defer func() { <-sem }()
			defer wg.Done()
			err := w.Handler(ctx, Task{Kind: kind, Payload: m.Payload, IdempotencyKey: m.Key})
			if err != nil {
				w.handleFailure(ctx, qKey, pKey, raw, m, retryBase, err)
				return
			}
			w.ack(ctx, pKey, raw, m)
		}(raw, msg)
	}
}

func (w Worker) handleFailure(ctx context.Context, qKey, pKey, raw string, msg taskMessage, base time.Duration, cause error) {
	_ = w.R.ZRem(ctx, pKey, raw)
	if msg.Attempt >= msg.MaxAttempts {
		w.deadLetter(ctx, msg, cause)
		if msg.Key != "" {
			_ = w.R.Del(ctx, dedupKey(w.Prefix, msg.Kind, msg.Key)).Err()
		}
		return
	}
	delay := backoff(base, msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	rawBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}
	w.Logger.Warn().Err(cause).
		Str("kind", msg.Kind).
		Int("attempt", msg.Attempt).
		Dur("retry_in", delay).
		Msg("task failed, retrying")
	_ = w.R.ZAdd(ctx, qKey, redis.Z{Score: float64(msg.AvailableAt), Member: string(rawBytes)}).Err()
}

func (w Worker) deadLetter(ctx context.Context, msg taskMessage, cause error) {
	w.Logger.Error().Err(cause).
		Str("kind", msg.Kind).
		Str("idem_key", msg.Key).
		Int("attempts", msg.Attempt).
		Msg("task exhausted attempts, moving to dead letter store")
	if w.DeadLetters == nil {
		return
	}
	errText := cause.Error()
	entry := DLQEntry{
		Kind:           msg.Kind,
		IdempotencyKey: msg.Key,
		Payload:        msg.Payload,
		Attempts:       msg.Attempt,
		LastError:      &errText,
	}
	if err := w.DeadLetters.Insert(ctx, entry); err != nil {
		w.Logger.Error().Err(err).Str("kind", msg.Kind).Msg("dead letter insert failed")
	}
}

func (w Worker) ack(ctx context.Context, pKey, raw string, msg taskMessage) {
	_ = w.R.ZRem(ctx, pKey, raw)
	if msg.Key != "" {
		_ = w.R.Del(ctx, dedupKey(w.Prefix, msg.Kind, msg.Key)).Err()
	}
}

// requeueExpired returns tasks whose visibility deadline passed back to
// the main queue.
func (w Worker) requeueExpired(ctx context.Context, pKey, qKey string) error {
	now := float64(time.Now().UnixNano())
	due, err := w.R.ZRangeByScore(ctx, pKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range due {
		msg, err := decodeMessage(raw)
		if err != nil {
			_ = w.R.ZRem(ctx, pKey, raw).Err()
			continue
		}
		_ = w.R.ZRem(ctx, pKey, raw).Err()
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, qKey, redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
	}
	return nil
}

// backoff grows exponentially with the attempt number, spread by the
// jitter fraction to avoid thundering retries.
func backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if jitterPct <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * float64(d) * jitterPct
	return d + time.Duration(delta)
}

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == ':':
		default:
			return ""
		}
	}
	return kind
}

func queueKey(prefix, kind string) string {
	if prefix == "" {
		return "queue:" + kind
	}
	return prefix + ":queue:" + kind
}

func processingKey(prefix, kind string) string {
	if prefix == "" {
		return "queue:" + kind + ":processing"
	}
	return prefix + ":" + kind + ":processing"
}

func dedupKey(prefix, kind, key string) string {
	if prefix == "" {
		return "queue:dedup:" + kind + ":" + key
	}
	return prefix + ":dedup:" + kind + ":" + key
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}
