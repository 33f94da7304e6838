package motion

import (
	"runtime"

	"github.com/alitto/pond"
)

// Pool bounds CPU-heavy work (JPEG decode, landmark extraction, DTW) so a
// burst of sessions cannot starve the connection goroutines. Session
// goroutines block on their own task, which preserves per-session ordering
// while other sessions proceed in parallel.
type Pool struct {
	workers *pond.WorkerPool
}

// NewPool creates a pool with the given worker count; zero or negative
// means one worker per CPU.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: pond.New(workers, workers*4)}
}

// Run executes fn on the pool and waits for it to finish.
func (p *Pool) Run(fn func()) {
	p.workers.SubmitAndWait(fn)
}

// Close stops the pool after draining queued tasks.
func (p *Pool) Close() {
	p.workers.StopAndWait()
}
