package gaspar

import (
	"context"
	"sync"
	"time"
)

// runningJobs counts occurrences in flight. idle is closed whenever the
// count is zero, so a drain blocks on a channel instead of polling.
type runningJobs struct {
	mu    sync.Mutex
	count int
	idle  chan struct{}
}

func newRunningJobs() *runningJobs {
	idle := make(chan struct{})
	close(idle)
	return &runningJobs{idle: idle}
}

func (r *runningJobs) inc() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		r.idle = make(chan struct{})
	}
	r.count++
}

func (r *runningJobs) dec() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return
	}
	r.count--
	if r.count == 0 {
		close(r.idle)
	}
}

func (r *runningJobs) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *runningJobs) idleChan() (int, <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count, r.idle
}

// wait blocks until no job is running, timeout elapses or ctx is done. It
// returns the number of jobs still running.
func (r *runningJobs) wait(ctx context.Context, timeout time.Duration) int {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		n, idle := r.idleChan()
		if n == 0 {
			return 0
		}

		select {
		case <-idle:
		case <-timer.C:
			return r.Count()
		case <-ctx.Done():
			return r.Count()
		}
	}
}
