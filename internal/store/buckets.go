package store

import (
	"fmt"
	"sync"
	"time"
)

// BucketLocks serializes writers per (agent, date) schedule bucket. The
// orchestrator acquires the bucket before re-reading the agent's day and
// holds it through the committing insert, so two concurrent bookings for
// the same agent and date are linearized: the second sees the first's
// schedule in its fresh read.
//
// Lock entries are created on demand and never removed; the keyspace is
// bounded by agents x active dates, which stays small in practice.
type BucketLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBucketLocks creates an empty lock manager.
func NewBucketLocks() *BucketLocks {
	return &BucketLocks{locks: make(map[string]*sync.Mutex)}
}

func bucketKey(agentID int64, date time.Time) string {
	return fmt.Sprintf("%d|%s", agentID, date.Format("2006-01-02"))
}

// Lock acquires the exclusive lock for the bucket and returns its unlock
// function.
func (b *BucketLocks) Lock(agentID int64, date time.Time) func() {
	key := bucketKey(agentID, date)

	b.mu.Lock()
	l, ok := b.locks[key]
	if !ok {
		l = &sync.Mutex{}
		b.locks[key] = l
	}
	b.mu.Unlock()

	l.Lock()
	return l.Unlock
}
