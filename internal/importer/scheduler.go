package importer

import (
	"context"
	"sync"

	"github.com/caiosb/votedata/internal/logger"
)

// RunFunc executes one admitted job until it finishes, fails, or observes
// cancellation through ctx.
type RunFunc func(ctx context.Context, jobID uint)

// QueueEntry is one job's position in the scheduler snapshot.
type QueueEntry struct {
	JobID        uint `json:"job_id"`
	Position     int  `json:"position"`
	IsProcessing bool `json:"is_processing"`
}

// QueueSnapshot is a point-in-time, read-only view of the scheduler.
type QueueSnapshot struct {
	IsProcessing bool         `json:"is_processing"`
	QueueLength  int          `json:"queue_length"`
	Queue        []QueueEntry `json:"queue"`
}

// Scheduler is the process-wide coordinator for import jobs. It owns a FIFO
// queue behind a mutex and admits at most maxActive jobs (one by default)
// into active processing; everything observers see comes out of Snapshot,
// never from the internal structures.
type Scheduler struct {
	mu      sync.Mutex
	queue   []uint
	active  map[uint]context.CancelFunc
	stopped bool

	maxActive int
	run       RunFunc
	wake      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	log       *logger.Logger
}

// NewScheduler creates a scheduler that executes admitted jobs with run.
func NewScheduler(maxActive int, run RunFunc, log *logger.Logger) *Scheduler {
	if maxActive < 1 {
		maxActive = 1
	}
	return &Scheduler{
		active:    make(map[uint]context.CancelFunc),
		maxActive: maxActive,
		run:       run,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		log:       log,
	}
}

// Start launches the admission loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels all active jobs and stops admitting new ones. Blocks until
// in-flight runs have observed cancellation and returned.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for _, cancel := range s.active {
		cancel()
	}
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
}

// Enqueue appends a job to the back of the FIFO queue. Jobs are admitted
// strictly in submission order; a restarted job re-enters here, at the back.
func (s *Scheduler) Enqueue(jobID uint) {
	s.mu.Lock()
	s.queue = append(s.queue, jobID)
	s.mu.Unlock()
	s.kick()
}

// Cancel requests cancellation of a job. An active job gets its context
// cancelled (cooperative: the run observes it within one row or I/O chunk);
// a queued job is removed immediately. Returns false when the job is
// neither queued nor active.
func (s *Scheduler) Cancel(jobID uint) (wasActive, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.active[jobID]; ok {
		cancel()
		return true, true
	}
	for i, id := range s.queue {
		if id == jobID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return false, true
		}
	}
	return false, false
}

// Contains reports whether the job is currently queued or active.
func (s *Scheduler) Contains(jobID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[jobID]; ok {
		return true
	}
	for _, id := range s.queue {
		if id == jobID {
			return true
		}
	}
	return false
}

// Snapshot returns the current queue state for observers. Active jobs come
// first; positions are 1-based across the whole list.
func (s *Scheduler) Snapshot() QueueSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := QueueSnapshot{
		IsProcessing: len(s.active) > 0,
		QueueLength:  len(s.queue),
	}
	pos := 1
	for id := range s.active {
		snap.Queue = append(snap.Queue, QueueEntry{JobID: id, Position: pos, IsProcessing: true})
		pos++
	}
	for _, id := range s.queue {
		snap.Queue = append(snap.Queue, QueueEntry{JobID: id, Position: pos})
		pos++
	}
	return snap
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			s.admit()
		}
	}
}

// admit promotes head-of-queue jobs while active slots are free.
func (s *Scheduler) admit() {
	for {
		s.mu.Lock()
		if s.stopped || len(s.queue) == 0 || len(s.active) >= s.maxActive {
			s.mu.Unlock()
			return
		}
		jobID := s.queue[0]
		s.queue = s.queue[1:]

		ctx, cancel := context.WithCancel(context.Background())
		s.active[jobID] = cancel
		s.mu.Unlock()

		s.log.WithField(logger.FieldJobID, jobID).Info("Job admitted to processing slot")

		s.wg.Add(1)
		go func(jobID uint, ctx context.Context, cancel context.CancelFunc) {
			defer s.wg.Done()
			defer func() {
				cancel()
				s.mu.Lock()
				delete(s.active, jobID)
				s.mu.Unlock()
				// Freeing the slot may unblock the next queued job.
				s.kick()
			}()
			s.run(ctx, jobID)
		}(jobID, ctx, cancel)
	}
}
