package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEnqueueDedup(t *testing.T) {
	r := newTestRedis(t)
	enq := Enqueuer{R: r, Prefix: "snippy", DedupTTL: time.Hour}
	ctx := context.Background()

	task := Task{Kind: KindFulfillOrder, Payload: []byte(`{"orderNumber":"SN1"}`), IdempotencyKey: "SN1"}
	require.NoError(t, enq.Enqueue(ctx, task))
	require.NoError(t, enq.Enqueue(ctx, task))

	size, err := r.ZCard(ctx, "snippy:queue:fulfill-order").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), size)
}

func TestEnqueueRejectsBadKind(t *testing.T) {
	enq := Enqueuer{R: newTestRedis(t)}
	err := enq.Enqueue(context.Background(), Task{Kind: "Not A Kind"})
	require.Error(t, err)
}

func TestWorkerProcessesTask(t *testing.T) {
	r := newTestRedis(t)
	enq := Enqueuer{R: r, Prefix: "snippy"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan Task, 1)
	w := Worker{
		R:      r,
		Prefix: "snippy",
		Kind:   KindFulfillOrder,
		Logger: zerolog.Nop(),
		Handler: func(ctx context.Context, task Task) error {
			done <- task
			return nil
		},
	}

	require.NoError(t, enq.Enqueue(ctx, Task{Kind: KindFulfillOrder, Payload: []byte(`{"orderNumber":"SN1"}`), IdempotencyKey: "SN1"}))
	go func() { _ = w.Run(ctx) }()

	select {
	case task := <-done:
		require.Equal(t, KindFulfillOrder, task.Kind)
		require.JSONEq(t, `{"orderNumber":"SN1"}`, string(task.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("task was not delivered")
	}
	cancel()

	// Ack clears the dedup marker so the key can be enqueued again.
	require.Eventually(t, func() bool {
		n, err := r.Exists(context.Background(), "snippy:dedup:fulfill-order:SN1").Result()
		return err == nil && n == 0
	}, 5*time.Second, 50*time.Millisecond)
}

type memDLQ struct {
	mu      sync.Mutex
	entries []DLQEntry
}

func (m *memDLQ) Insert(ctx context.Context, entry DLQEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memDLQ) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestWorkerDeadLettersAfterMaxAttempts(t *testing.T) {
	r := newTestRedis(t)
	enq := Enqueuer{R: r, Prefix: "snippy"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dlq := &memDLQ{}
	w := Worker{
		R:           r,
		Prefix:      "snippy",
		Kind:        KindFulfillOrder,
		RetryBase:   time.Millisecond,
		DeadLetters: dlq,
		Logger:      zerolog.Nop(),
		Handler: func(ctx context.Context, task Task) error {
			return context.DeadlineExceeded
		},
	}

	require.NoError(t, enq.Enqueue(ctx, Task{
		Kind:           KindFulfillOrder,
		Payload:        []byte(`{"orderNumber":"SN2"}`),
		IdempotencyKey: "SN2",
		MaxAttempts:    2,
	}))
	go func() { _ = w.Run(ctx) }()

	require.Eventually(t, func() bool { return dlq.len() == 1 }, 10*time.Second, 20*time.Millisecond)
	cancel()

	dlq.mu.Lock()
	entry := dlq.entries[0]
	dlq.mu.Unlock()
	require.Equal(t, KindFulfillOrder, entry.Kind)
	require.Equal(t, "SN2", entry.IdempotencyKey)
	require.Equal(t, 2, entry.Attempts)
	require.NotNil(t, entry.LastError)
}

func TestRequeueExpired(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	w := Worker{R: r, Prefix: "snippy", Kind: KindFulfillOrder, Logger: zerolog.Nop()}

	msg := taskMessage{Kind: KindFulfillOrder, Payload: []byte(`{}`), Attempt: 1, MaxAttempts: 5}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	// Simulate a crashed worker: the task sits in processing with an
	// already-expired visibility deadline.
	expired := float64(time.Now().Add(-time.Minute).UnixNano())
	require.NoError(t, r.ZAdd(ctx, "snippy:fulfill-order:processing", redis.Z{Score: expired, Member: raw}).Err())

	require.NoError(t, w.requeueExpired(ctx, "snippy:fulfill-order:processing", "snippy:queue:fulfill-order"))

	remaining, err := r.ZCard(ctx, "snippy:fulfill-order:processing").Result()
	require.NoError(t, err)
	require.Zero(t, remaining)

	queued, err := r.ZCard(ctx, "snippy:queue:fulfill-order").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), queued)
}

func TestBackoffGrows(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, backoff(base, 1, 0))
	require.Equal(t, 2*base, backoff(base, 2, 0))
	require.Equal(t, 8*base, backoff(base, 4, 0))

	jittered := backoff(base, 3, 0.2)
	require.InDelta(t, float64(4*base), float64(jittered), float64(4*base)*0.25)
}
