package chunkstore

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"voxelflow.ai/internal/chunk"
)

// Job is one save. Bytes are owned by the saver once submitted.
type Job struct {
	Addr    chunk.Address
	Version uint64
	Bytes   []byte
}

// Outcome reports a finished job after all retries.
type Outcome struct {
	Addr     chunk.Address
	Version  uint64
	Attempts int
	Err      error
}

type SaverStats struct {
	Pending         int
	QueueCapacity   int
	SubmittedTotal  uint64
	RefusedTotal    uint64
	SuccessTotal    uint64
	FailTotal       uint64
	RetryTotal      uint64
	LastSuccessUnix int64
	LastErrorUnix   int64
}

type SaverConfig struct {
	Store         Store
	Workers       int
	QueueCapacity int
	// Retries is the number of extra attempts after the first failure.
	Retries int
	// Backoff before retry n is n*n*Backoff.
	Backoff time.Duration
	Timeout time.Duration
	Logger  *log.Logger
}

// Saver writes chunks on background workers. Submit and DrainResults never
// block, so the tick loop can hand off saves and pick up outcomes later.
type Saver struct {
	store   Store
	logger  *log.Logger
	retries int
	backoff time.Duration
	timeout time.Duration

	jobs    chan Job
	results chan Outcome
	pending atomic.Int64
	wg      sync.WaitGroup
	closed  atomic.Bool

	submittedTotal  atomic.Uint64
	refusedTotal    atomic.Uint64
	successTotal    atomic.Uint64
	failTotal       atomic.Uint64
	retryTotal      atomic.Uint64
	lastSuccessUnix atomic.Int64
	lastErrorUnix   atomic.Int64
}

func NewSaver(cfg SaverConfig) *Saver {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Saver{
		store:   cfg.Store,
		logger:  cfg.Logger,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		timeout: cfg.Timeout,
		jobs:    make(chan Job, cfg.QueueCapacity),
		// Room for every job that can be pending at once.
		results: make(chan Outcome, cfg.QueueCapacity+cfg.Workers),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for j := range s.jobs {
				s.results <- s.saveOne(j)
			}
		}()
	}
	return s
}

// Submit queues j, or returns false when the saver is saturated or closed.
func (s *Saver) Submit(j Job) bool {
	if s.closed.Load() || s.pending.Load() >= int64(cap(s.jobs)) {
		s.refusedTotal.Add(1)
		return false
	}
	select {
	case s.jobs <- j:
		s.pending.Add(1)
		s.submittedTotal.Add(1)
		return true
	default:
		s.refusedTotal.Add(1)
		return false
	}
}

func (s *Saver) DrainResults() []Outcome {
	var out []Outcome
	for {
		select {
		case o := <-s.results:
			s.pending.Add(-1)
			out = append(out, o)
		default:
			return out
		}
	}
}

// Close stops accepting jobs and waits for queued ones. Their outcomes stay
// available to DrainResults.
func (s *Saver) Close() {
	if s.closed.Swap(true) {
		return
	}
	close(s.jobs)
	s.wg.Wait()
}

func (s *Saver) Stats() SaverStats {
	return SaverStats{
		Pending:         int(s.pending.Load()),
		QueueCapacity:   cap(s.jobs),
		SubmittedTotal:  s.submittedTotal.Load(),
		RefusedTotal:    s.refusedTotal.Load(),
		SuccessTotal:    s.successTotal.Load(),
		FailTotal:       s.failTotal.Load(),
		RetryTotal:      s.retryTotal.Load(),
		LastSuccessUnix: s.lastSuccessUnix.Load(),
		LastErrorUnix:   s.lastErrorUnix.Load(),
	}
}

func (s *Saver) saveOne(j Job) Outcome {
	attempts, err := s.saveWithRetry(j)
	if err != nil {
		s.failTotal.Add(1)
		s.lastErrorUnix.Store(time.Now().UTC().Unix())
		s.printf("chunk save failed addr=%s version=%d attempts=%d err=%v", j.Addr, j.Version, attempts, err)
		return Outcome{Addr: j.Addr, Version: j.Version, Attempts: attempts, Err: err}
	}
	s.successTotal.Add(1)
	s.lastSuccessUnix.Store(time.Now().UTC().Unix())
	return Outcome{Addr: j.Addr, Version: j.Version, Attempts: attempts}
}

func (s *Saver) saveWithRetry(j Job) (int, error) {
	maxAttempts := 1 + s.retries
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.store.Save(ctx, j.Addr, j.Bytes)
		cancel()
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			s.retryTotal.Add(1)
			time.Sleep(time.Duration(attempt*attempt) * s.backoff)
		}
	}
	return maxAttempts, lastErr
}

func (s *Saver) printf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
