package importer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/caiosb/votedata/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "text", ServiceName: "test"})
}

// recordingRun is a RunFunc that records admission order and blocks each run
// until released.
type recordingRun struct {
	mu      sync.Mutex
	order   []uint
	release chan struct{}
	started chan uint
}

func newRecordingRun() *recordingRun {
	return &recordingRun{
		release: make(chan struct{}),
		started: make(chan uint, 16),
	}
}

func (r *recordingRun) run(ctx context.Context, jobID uint) {
	r.mu.Lock()
	r.order = append(r.order, jobID)
	r.mu.Unlock()
	r.started <- jobID

	select {
	case <-r.release:
	case <-ctx.Done():
	}
}

func (r *recordingRun) snapshotOrder() []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint, len(r.order))
	copy(out, r.order)
	return out
}

func waitStart(t *testing.T, r *recordingRun) uint {
	t.Helper()
	select {
	case id := <-r.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a job to start")
		return 0
	}
}

func TestSchedulerAdmitsInSubmissionOrder(t *testing.T) {
	rec := newRecordingRun()
	s := NewScheduler(1, rec.run, testLogger())
	s.Start()
	defer s.Stop()

	s.Enqueue(1)
	s.Enqueue(2)
	s.Enqueue(3)

	if got := waitStart(t, rec); got != 1 {
		t.Fatalf("first admitted job = %d, want 1", got)
	}

	// Only one job may hold the slot.
	snap := s.Snapshot()
	if !snap.IsProcessing {
		t.Error("expected IsProcessing")
	}
	if snap.QueueLength != 2 {
		t.Errorf("queue length = %d, want 2", snap.QueueLength)
	}

	close(rec.release)
	waitStart(t, rec)
	waitStart(t, rec)

	if order := rec.snapshotOrder(); len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("admission order = %v, want [1 2 3]", order)
	}
}

func TestSchedulerSingleSlot(t *testing.T) {
	rec := newRecordingRun()
	s := NewScheduler(1, rec.run, testLogger())
	s.Start()
	defer s.Stop()

	s.Enqueue(10)
	s.Enqueue(11)
	waitStart(t, rec)

	// The second job must stay queued while the first holds the slot.
	select {
	case id := <-rec.started:
		t.Fatalf("job %d started while the slot was taken", id)
	case <-time.After(100 * time.Millisecond):
	}

	close(rec.release)
	if got := waitStart(t, rec); got != 11 {
		t.Errorf("second admitted job = %d, want 11", got)
	}
}

func TestSchedulerCancelQueued(t *testing.T) {
	rec := newRecordingRun()
	s := NewScheduler(1, rec.run, testLogger())
	s.Start()
	defer s.Stop()

	s.Enqueue(1)
	s.Enqueue(2)
	s.Enqueue(3)
	waitStart(t, rec)

	wasActive, found := s.Cancel(2)
	if !found {
		t.Fatal("expected job 2 to be found")
	}
	if wasActive {
		t.Error("queued job reported as active")
	}
	if s.Contains(2) {
		t.Error("cancelled job still in queue")
	}

	close(rec.release)
	if got := waitStart(t, rec); got != 3 {
		t.Errorf("next admitted job = %d, want 3 after 2 was cancelled", got)
	}
}

func TestSchedulerCancelActive(t *testing.T) {
	rec := newRecordingRun()
	s := NewScheduler(1, rec.run, testLogger())
	s.Start()
	defer s.Stop()

	s.Enqueue(1)
	waitStart(t, rec)

	wasActive, found := s.Cancel(1)
	if !found || !wasActive {
		t.Fatalf("Cancel(1) = (%v, %v), want (true, true)", wasActive, found)
	}

	// The run observes ctx cancellation and returns, freeing the slot.
	deadline := time.After(2 * time.Second)
	for s.Contains(1) {
		select {
		case <-deadline:
			t.Fatal("cancelled job never released the slot")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSchedulerCancelUnknown(t *testing.T) {
	rec := newRecordingRun()
	s := NewScheduler(1, rec.run, testLogger())
	s.Start()
	defer s.Stop()

	if _, found := s.Cancel(99); found {
		t.Error("expected unknown job not to be found")
	}
}

func TestSchedulerSnapshotPositions(t *testing.T) {
	rec := newRecordingRun()
	s := NewScheduler(1, rec.run, testLogger())
	s.Start()
	defer s.Stop()

	s.Enqueue(5)
	s.Enqueue(6)
	s.Enqueue(7)
	waitStart(t, rec)

	snap := s.Snapshot()
	if len(snap.Queue) != 3 {
		t.Fatalf("snapshot entries = %d, want 3", len(snap.Queue))
	}
	if !snap.Queue[0].IsProcessing || snap.Queue[0].JobID != 5 {
		t.Errorf("first entry = %+v, want active job 5", snap.Queue[0])
	}
	for i, e := range snap.Queue {
		if e.Position != i+1 {
			t.Errorf("entry %d position = %d, want %d", i, e.Position, i+1)
		}
	}
	if snap.Queue[1].JobID != 6 || snap.Queue[2].JobID != 7 {
		t.Errorf("queued order = [%d %d], want [6 7]", snap.Queue[1].JobID, snap.Queue[2].JobID)
	}

	close(rec.release)
}

func TestSchedulerStopCancelsActive(t *testing.T) {
	rec := newRecordingRun()
	s := NewScheduler(1, rec.run, testLogger())
	s.Start()

	s.Enqueue(1)
	waitStart(t, rec)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after cancelling the active run")
	}
}
