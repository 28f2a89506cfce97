package audio

import (
	"sync"
	"time"
)

// Scheduler plays decoded buffers back to back on an Output.
//
// The cursor only moves forward while buffers are scheduled; Interrupt and
// Reset are the only operations that move it back.
type Scheduler struct {
	out Output

	mu      sync.Mutex
	next    time.Duration
	pending map[uint64]Voice
	seq     uint64
	gen     uint64
}

// NewScheduler creates a scheduler for out. A nil out yields a scheduler whose
// clock is always zero and which plays nothing.
func NewScheduler(out Output) *Scheduler {
	return &Scheduler{
		out:     out,
		pending: make(map[uint64]Voice),
	}
}

func (s *Scheduler) now() time.Duration {
	if s.out == nil {
		return 0
	}
	return s.out.Now()
}

// Schedule queues buf right after everything already scheduled, or at the
// current clock time if the queue has drained. It returns the start time.
func (s *Scheduler) Schedule(buf *Buffer) time.Duration {
	now := s.now()

	s.mu.Lock()
	startAt := s.next
	if now > startAt {
		startAt = now
	}
	s.next = startAt + buf.Duration()
	id := s.seq
	s.seq++
	gen := s.gen
	s.pending[id] = nil
	s.mu.Unlock()

	if s.out == nil {
		return startAt
	}

	voice := s.out.Play(buf, startAt, func() { s.finish(id) })

	s.mu.Lock()
	stale := gen != s.gen
	if _, ok := s.pending[id]; ok && !stale {
		s.pending[id] = voice
	}
	s.mu.Unlock()

	// An interrupt raced with Play; the voice must not survive it.
	if stale && voice != nil {
		voice.Stop()
	}
	return startAt
}

func (s *Scheduler) finish(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Interrupt stops every pending buffer and moves the cursor to now.
func (s *Scheduler) Interrupt() {
	s.flush(s.now())
}

// Reset stops every pending buffer and rewinds the cursor to zero.
func (s *Scheduler) Reset() {
	s.flush(0)
}

func (s *Scheduler) flush(cursor time.Duration) {
	s.mu.Lock()
	voices := make([]Voice, 0, len(s.pending))
	for _, v := range s.pending {
		if v != nil {
			voices = append(voices, v)
		}
	}
	s.pending = make(map[uint64]Voice)
	s.gen++
	s.next = cursor
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
}

// NextStartTime returns the timeline cursor.
func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Pending returns the number of buffers scheduled but not yet finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
