package service

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// tracker hands every fire-and-forget batch a real handle. Submission
// registers the batch before the goroutine starts, the goroutine marks it
// done, and shutdown drains whatever is still in flight instead of dropping
// it mid-row.
type tracker struct {
	mu    sync.Mutex
	tasks map[snowflake.ID]chan struct{}
	wg    sync.WaitGroup
}

func newTracker() *tracker {
	return &tracker{tasks: make(map[snowflake.ID]chan struct{})}
}

// register returns the done callback for a batch. Calling done more than
// once is harmless.
func (t *tracker) register(batchID snowflake.ID) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan struct{})
	t.tasks[batchID] = ch
	t.wg.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.tasks, batchID)
			t.mu.Unlock()
			close(ch)
			t.wg.Done()
		})
	}
}

// wait blocks until the batch's task finishes. Unknown batches return
// immediately.
func (t *tracker) wait(batchID snowflake.ID) {
	t.mu.Lock()
	ch, ok := t.tasks[batchID]
	t.mu.Unlock()
	if !ok {
		return
	}
	<-ch
}

// drain waits for every in-flight batch or for ctx, whichever ends first.
func (t *tracker) drain(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
