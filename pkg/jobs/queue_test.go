package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesFailedTasks(t *testing.T) {
	var mu sync.Mutex
	attempts := map[string]int{}
	handler := func(ctx context.Context, task Task) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[task.Ref]++
		if attempts[task.Ref] < 3 {
			return errors.New("not yet")
		}
		return nil
	}
	q := NewQueue("test", handler, QueueConfig{Workers: 2, MaxRetries: 5, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Task{Kind: "delete_photo", Ref: "a.jpg"}))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts["a.jpg"] == 3
	}, time.Second, 5*time.Millisecond)
}

func TestQueueRejectsWhenNotRunningOrFull(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("test", func(ctx context.Context, task Task) error {
		<-block
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	assert.Error(t, q.Enqueue(Task{Ref: "early"}))

	q.Start(context.Background())
	require.NoError(t, q.Enqueue(Task{Ref: "one"}))
	assert.Eventually(t, func() bool { return len(q.tasks) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(Task{Ref: "two"}))
	assert.ErrorIs(t, q.Enqueue(Task{Ref: "three"}), ErrQueueFull)

	close(block)
	q.Stop()
	assert.Error(t, q.Enqueue(Task{Ref: "late"}))
}
