package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueueProcessesJobs(t *testing.T) {
	var processed atomic.Int32
	done := make(chan struct{}, 3)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		processed.Add(1)
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(Job{Type: "noop"}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed")
		}
	}
	assert.Equal(t, int32(3), processed.Load())
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	require.Error(t, q.Enqueue(Job{Type: "noop"}))
}

func TestQueueCoalescesWaitingKeys(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	q := NewQueue("coalesce", func(ctx context.Context, job Job) error {
		if job.Type == "block" {
			<-release
			return nil
		}
		calls.Add(1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 8})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{Type: "block"}))
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Job{Type: "invalidate", Key: "dashboard"}))
	}
	close(release)

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	q.Stop()
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueueRetriesFailures(t *testing.T) {
	var attempts atomic.Int32
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{Type: "flaky"}))
	require.Eventually(t, func() bool { return attempts.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
}
