package pipeline

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	Workers     int
	MaxInFlight int
	InFlight    int

	SubmittedTotal uint64
	RefusedTotal   uint64
	CompletedTotal uint64
	FailedTotal    uint64
	PanicTotal     uint64
}

type Config struct {
	Workers int
	// MaxInFlight caps submitted-but-undrained tasks. Zero means 3x workers.
	MaxInFlight int
	Runner      Runner
	Logger      *log.Logger
}

// Pool runs tasks on a fixed set of worker goroutines. Submit, DrainResults
// and Close belong to the orchestrating goroutine; only the queues are shared
// with workers.
type Pool struct {
	runner Runner
	logger *log.Logger

	tasks   chan Task
	results chan Result
	wg      sync.WaitGroup

	workers     int
	maxInFlight int
	inFlight    int
	closed      bool

	inFlightGauge  atomic.Int64
	submittedTotal atomic.Uint64
	refusedTotal   atomic.Uint64
	completedTotal atomic.Uint64
	failedTotal    atomic.Uint64
	panicTotal     atomic.Uint64
}

func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 3 * cfg.Workers
	}
	p := &Pool{
		runner:      cfg.Runner,
		logger:      cfg.Logger,
		workers:     cfg.Workers,
		maxInFlight: cfg.MaxInFlight,
		// Both queues hold MaxInFlight entries, so neither a submit under the
		// cap nor a worker delivering a result can block.
		tasks:   make(chan Task, cfg.MaxInFlight),
		results: make(chan Result, cfg.MaxInFlight),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				p.results <- p.run(t)
			}
		}()
	}
	return p
}

// Submit hands t to the workers, or returns false once MaxInFlight tasks are
// outstanding or the pool is closed.
func (p *Pool) Submit(t Task) bool {
	if p.closed || p.inFlight >= p.maxInFlight {
		p.refusedTotal.Add(1)
		return false
	}
	p.inFlight++
	p.inFlightGauge.Store(int64(p.inFlight))
	p.submittedTotal.Add(1)
	p.tasks <- t
	return true
}

// DrainResults returns everything completed since the last call, in arrival
// order, without blocking.
func (p *Pool) DrainResults() []Result {
	var out []Result
	for {
		select {
		case r := <-p.results:
			out = append(out, r)
			p.inFlight--
		default:
			p.inFlightGauge.Store(int64(p.inFlight))
			return out
		}
	}
}

func (p *Pool) InFlight() int { return p.inFlight }

// MaxInFlight is the ceiling Submit enforces.
func (p *Pool) MaxInFlight() int { return p.maxInFlight }

// Full reports that Submit would refuse.
func (p *Pool) Full() bool { return p.closed || p.inFlight >= p.maxInFlight }

// Close stops accepting tasks and waits for workers to finish what they
// hold. Their results are discarded.
func (p *Pool) Close() {
	if p.closed {
		return
	}
	p.closed = true
	close(p.tasks)
	p.wg.Wait()
	for len(p.results) > 0 {
		<-p.results
	}
	p.inFlight = 0
	p.inFlightGauge.Store(0)
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:        p.workers,
		MaxInFlight:    p.maxInFlight,
		InFlight:       int(p.inFlightGauge.Load()),
		SubmittedTotal: p.submittedTotal.Load(),
		RefusedTotal:   p.refusedTotal.Load(),
		CompletedTotal: p.completedTotal.Load(),
		FailedTotal:    p.failedTotal.Load(),
		PanicTotal:     p.panicTotal.Load(),
	}
}

func (p *Pool) run(t Task) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.panicTotal.Add(1)
			res = Result{TaskID: t.ID, Kind: t.Kind, Addr: t.Addr, Version: t.Version,
				Err: fmt.Errorf("pipeline: %s task panicked: %v", t.Kind, r)}
		}
		res.Elapsed = time.Since(start)
		p.completedTotal.Add(1)
		if res.Err != nil {
			p.failedTotal.Add(1)
			p.printf("pipeline task failed kind=%s addr=%s version=%d err=%v", t.Kind, t.Addr, t.Version, res.Err)
		}
	}()
	res = p.runner.Run(t)
	res.TaskID, res.Kind, res.Addr, res.Version = t.ID, t.Kind, t.Addr, t.Version
	return res
}

func (p *Pool) printf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
