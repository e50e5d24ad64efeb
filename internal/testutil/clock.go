package testutil

import (
	"fmt"
	"sync"
	"time"

	"dfs-go/internal/dfs"
)

// StepClock starts at a fixed instant and moves forward by step on every
// reading, so consecutive ledger timestamps are ordered and distinct.
type StepClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

var _ dfs.Clock = (*StepClock)(nil)

func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{next: start, step: step}
}

// FixedClock returns a clock that always reads 2024-01-15 10:30:00 UTC.
func FixedClock() *StepClock {
	return NewStepClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), 0)
}

func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(c.step)
	return now
}

// SeqTokens numbers execution tokens per operation: "register-1",
// "share-1", "register-2".
type SeqTokens struct {
	mu     sync.Mutex
	counts map[dfs.Op]int
}

var _ dfs.Tokens = (*SeqTokens)(nil)

func NewSeqTokens() *SeqTokens {
	return &SeqTokens{counts: make(map[dfs.Op]int)}
}

func (s *SeqTokens) Next(op dfs.Op) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[op]++
	return fmt.Sprintf("%s-%d", op, s.counts[op])
}
