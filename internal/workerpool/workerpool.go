// Package workerpool is a small tomb.v2-supervised worker pool, adapted
// from the teacher's internal/worker.go: a fixed number of goroutines
// pull tasks off a shared channel and run a caller-supplied function
// until the tomb starts dying. The bus intake loop and the C6/C7
// background tickers are all driven by the same pattern.
package workerpool

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

// Func is one unit of work; returning a non-nil error kills the tomb.
type Func = func(t *tomb.Tomb, task any) error

// Pool runs up to n copies of a Func concurrently, pulling tasks off a
// shared buffered channel.
type Pool struct {
	n     int
	tasks chan any
}

// New constructs a pool with n worker slots.
func New(n int) *Pool {
	return &Pool{n: n, tasks: make(chan any, taskChanSize)}
}

// AddTask enqueues a task for the next free worker.
func (p *Pool) AddTask(task any) {
	p.tasks <- task
}

// Run starts n supervised workers under t, each repeatedly pulling a task
// and invoking work until t starts dying.
func (p *Pool) Run(t *tomb.Tomb, work Func) {
	log.Info().Int("workers", p.n).Msg("workerpool starting")
	for i := 0; i < p.n; i++ {
		t.Go(func() error {
			return p.loop(t, work)
		})
	}
}

func (p *Pool) loop(t *tomb.Tomb, work Func) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-p.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Msg("worker exiting")
				return err
			}
		}
	}
}
