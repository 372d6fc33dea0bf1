// Package scheduler runs timer tasks from a single update loop. Each task is
// keyed by (owner, purpose) so a whole owner can be cancelled at once.
// A Scheduler is not safe for concurrent use.
package scheduler

import (
	"sort"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Key identifies a task.
type Key struct {
	Owner   string
	Purpose string
}

// TaskFunc runs when a task is due.
type TaskFunc func(now time.Time)

type task struct {
	key   Key
	due   time.Time
	every time.Duration
	seq   uint64
	fn    TaskFunc
}

// Scheduler holds pending one-shot and recurring tasks.
type Scheduler struct {
	clock Clock
	tasks map[Key]*task
	seq   uint64
}

// New creates a scheduler reading time from clock.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	return &Scheduler{
		clock: clock,
		tasks: make(map[Key]*task),
	}
}

// Now returns the scheduler clock time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// After runs fn once, d from now. An existing task with the same key is replaced.
func (s *Scheduler) After(key Key, d time.Duration, fn TaskFunc) {
	s.add(key, d, 0, fn)
}

// Every runs fn each interval, first one interval from now.
// An existing task with the same key is replaced.
func (s *Scheduler) Every(key Key, interval time.Duration, fn TaskFunc) {
	s.add(key, interval, interval, fn)
}

func (s *Scheduler) add(key Key, d, every time.Duration, fn TaskFunc) {
	s.seq++
	s.tasks[key] = &task{
		key:   key,
		due:   s.clock.Now().Add(d),
		every: every,
		seq:   s.seq,
		fn:    fn,
	}
}

// Cancel removes the task with key. It reports whether one was pending.
func (s *Scheduler) Cancel(key Key) bool {
	if _, ok := s.tasks[key]; !ok {
		return false
	}
	delete(s.tasks, key)
	return true
}

// CancelOwner removes every task of owner and returns how many were removed.
func (s *Scheduler) CancelOwner(owner string) int {
	n := 0
	for key := range s.tasks {
		if key.Owner == owner {
			delete(s.tasks, key)
			n++
		}
	}
	return n
}

// CancelAll drops every pending task.
func (s *Scheduler) CancelAll() {
	s.tasks = make(map[Key]*task)
}

// Pending reports whether a task with key is scheduled.
func (s *Scheduler) Pending(key Key) bool {
	_, ok := s.tasks[key]
	return ok
}

// Due returns when the task with key fires next.
func (s *Scheduler) Due(key Key) (time.Time, bool) {
	t, ok := s.tasks[key]
	if !ok {
		return time.Time{}, false
	}
	return t.due, true
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	return len(s.tasks)
}

// Advance runs every task due at or before now, earliest first, and returns
// how many ran. Recurring tasks are rescheduled before they run so a task may
// cancel itself. A recurring task that fell behind skips the missed runs.
func (s *Scheduler) Advance(now time.Time) int {
	ran := 0
	for {
		next := s.nextDue(now)
		if next == nil {
			return ran
		}
		if next.every > 0 {
			s.seq++
			next.seq = s.seq
			next.due = next.due.Add(next.every)
			if !next.due.After(now) {
				next.due = now.Add(next.every)
			}
		} else {
			delete(s.tasks, next.key)
		}
		next.fn(now)
		ran++
	}
}

func (s *Scheduler) nextDue(now time.Time) *task {
	var due []*task
	for _, t := range s.tasks {
		if !t.due.After(now) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].seq < due[j].seq
		}
		return due[i].due.Before(due[j].due)
	})
	return due[0]
}
