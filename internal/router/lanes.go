package router

import (
	"context"
	"fmt"
	"hash/maphash"
	"sync"

	"ex-mirror/pkg/mirror"
)

// lanes runs system-stage tasks on FIFO workers. A task runs on the lane its
// partition key hashes to, so tasks for one key run in submission order.
// Global tasks run as a barrier: every lane finishes what was queued before
// them, lane 0 runs the task alone, then all lanes resume.
type lanes struct {
	mu     sync.RWMutex
	closed bool
	queues []chan func()
	seed   maphash.Seed
	wg     sync.WaitGroup
}

func newLanes(count, buffer int) *lanes {
	if count < 1 {
		count = 1
	}
	l := &lanes{
		queues: make([]chan func(), count),
		seed:   maphash.MakeSeed(),
	}
	for idx := range l.queues {
		queue := make(chan func(), buffer)
		l.queues[idx] = queue
		l.wg.Add(1)
		go l.run(queue)
	}

	return l
}

func (l *lanes) run(queue <-chan func()) {
	defer l.wg.Done()

	for task := range queue {
		task()
	}
}

// submit queues task behind earlier tasks of the same partition. It blocks
// while the target lane is full.
func (l *lanes) submit(ctx context.Context, partition string, task func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return mirror.ErrRouterClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	if len(l.queues) == 1 {
		l.queues[0] <- task
		return nil
	}
	if partition == mirror.GlobalPartition {
		l.submitBarrier(task)
		return nil
	}

	l.queues[l.laneOf(partition)] <- task

	return nil
}

// submitBarrier enqueues one part per lane. Parts are enqueued without
// honoring cancellation: a barrier missing a part would stall every lane.
func (l *lanes) submitBarrier(task func()) {
	arrived := &sync.WaitGroup{}
	arrived.Add(len(l.queues))
	release := make(chan struct{})

	for idx, queue := range l.queues {
		if idx == 0 {
			queue <- func() {
				arrived.Done()
				arrived.Wait()
				task()
				close(release)
			}
			continue
		}
		queue <- func() {
			arrived.Done()
			<-release
		}
	}
}

func (l *lanes) laneOf(partition string) int {
	return int(maphash.String(l.seed, partition) % uint64(len(l.queues)))
}

// close stops accepting tasks and waits for queued ones to run.
func (l *lanes) close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for _, queue := range l.queues {
		close(queue)
	}
	l.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close lanes: %w", ctx.Err())
	}
}
