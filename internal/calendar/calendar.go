// Package calendar serves agent availability data (weekly free windows and
// date-ranged blocks) from a per-agent read cache over the store. Reads are
// hot on the query and booking paths; writes pass through and invalidate
// the owning agent's entry only.
package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/model"
)

// Backend is the persistence surface the calendar caches over.
type Backend interface {
	FreeWindow(ctx context.Context, agentID int64, dayOfWeek int) (*model.FreeWindow, error)
	SetFreeWindow(ctx context.Context, agentID int64, dayOfWeek int, win interval.Interval) (*model.FreeWindow, error)
	DeleteFreeWindow(ctx context.Context, agentID int64, dayOfWeek int) error
	AddBlock(ctx context.Context, agentID int64, startDate, endDate time.Time, win interval.Interval) (*model.Block, error)
	BlocksOn(ctx context.Context, agentID int64, date time.Time) ([]*model.Block, error)
	DeleteBlock(ctx context.Context, id int64) error
}

// agentEntry holds cached reads for a single agent. A nil *FreeWindow is a
// cached "no window configured" answer, hence the presence map.
type agentEntry struct {
	windows map[int]*model.FreeWindow
	blocks  map[string][]*model.Block
}

func newAgentEntry() *agentEntry {
	return &agentEntry{
		windows: make(map[int]*model.FreeWindow),
		blocks:  make(map[string][]*model.Block),
	}
}

// Calendar is a readers-writer cached view over the Backend.
type Calendar struct {
	backend Backend

	mu      sync.RWMutex
	entries map[int64]*agentEntry
}

func New(backend Backend) *Calendar {
	return &Calendar{
		backend: backend,
		entries: make(map[int64]*agentEntry),
	}
}

// FreeWindow returns the agent's weekly window for the day of week, or nil
// when none is configured. Day 0 is Monday.
func (c *Calendar) FreeWindow(ctx context.Context, agentID int64, dayOfWeek int) (*model.FreeWindow, error) {
	c.mu.RLock()
	if entry, ok := c.entries[agentID]; ok {
		if fw, ok := entry.windows[dayOfWeek]; ok {
			c.mu.RUnlock()
			return fw, nil
		}
	}
	c.mu.RUnlock()

	fw, err := c.backend.FreeWindow(ctx, agentID, dayOfWeek)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	entry, ok := c.entries[agentID]
	if !ok {
		entry = newAgentEntry()
		c.entries[agentID] = entry
	}
	entry.windows[dayOfWeek] = fw
	c.mu.Unlock()
	return fw, nil
}

// BlocksOn returns the agent's blocks covering the date, ordered by start
// time.
func (c *Calendar) BlocksOn(ctx context.Context, agentID int64, date time.Time) ([]*model.Block, error) {
	key := date.Format(interval.DateLayout)

	c.mu.RLock()
	if entry, ok := c.entries[agentID]; ok {
		if blocks, ok := entry.blocks[key]; ok {
			c.mu.RUnlock()
			return blocks, nil
		}
	}
	c.mu.RUnlock()

	blocks, err := c.backend.BlocksOn(ctx, agentID, date)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	entry, ok := c.entries[agentID]
	if !ok {
		entry = newAgentEntry()
		c.entries[agentID] = entry
	}
	entry.blocks[key] = blocks
	c.mu.Unlock()
	return blocks, nil
}

// SetFreeWindow replaces the agent's window for the day of week and drops
// the agent's cached entry.
func (c *Calendar) SetFreeWindow(ctx context.Context, agentID int64, dayOfWeek int, win interval.Interval) (*model.FreeWindow, error) {
	fw, err := c.backend.SetFreeWindow(ctx, agentID, dayOfWeek, win)
	if err != nil {
		return nil, err
	}
	c.Invalidate(agentID)
	return fw, nil
}

// DeleteFreeWindow removes the agent's window for the day of week.
func (c *Calendar) DeleteFreeWindow(ctx context.Context, agentID int64, dayOfWeek int) error {
	if err := c.backend.DeleteFreeWindow(ctx, agentID, dayOfWeek); err != nil {
		return err
	}
	c.Invalidate(agentID)
	return nil
}

// AddBlock records a block for the agent.
func (c *Calendar) AddBlock(ctx context.Context, agentID int64, startDate, endDate time.Time, win interval.Interval) (*model.Block, error) {
	block, err := c.backend.AddBlock(ctx, agentID, startDate, endDate, win)
	if err != nil {
		return nil, err
	}
	c.Invalidate(agentID)
	return block, nil
}

// DeleteBlock removes a block. The agent ID is needed to scope the cache
// invalidation.
func (c *Calendar) DeleteBlock(ctx context.Context, agentID, blockID int64) error {
	if err := c.backend.DeleteBlock(ctx, blockID); err != nil {
		return err
	}
	c.Invalidate(agentID)
	return nil
}

// Invalidate drops all cached reads for one agent.
func (c *Calendar) Invalidate(agentID int64) {
	c.mu.Lock()
	delete(c.entries, agentID)
	c.mu.Unlock()
}
