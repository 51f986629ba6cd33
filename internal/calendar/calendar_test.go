package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/model"
)

type countingBackend struct {
	windows map[int64]map[int]*model.FreeWindow
	blocks  map[int64][]*model.Block

	freeWindowCalls int
	blocksOnCalls   int
}

func newCountingBackend() *countingBackend {
	return &countingBackend{
		windows: make(map[int64]map[int]*model.FreeWindow),
		blocks:  make(map[int64][]*model.Block),
	}
}

func (b *countingBackend) FreeWindow(_ context.Context, agentID int64, dow int) (*model.FreeWindow, error) {
	b.freeWindowCalls++
	return b.windows[agentID][dow], nil
}

func (b *countingBackend) SetFreeWindow(_ context.Context, agentID int64, dow int, win interval.Interval) (*model.FreeWindow, error) {
	if b.windows[agentID] == nil {
		b.windows[agentID] = make(map[int]*model.FreeWindow)
	}
	fw := &model.FreeWindow{AgentID: agentID, DayOfWeek: dow, Window: win}
	b.windows[agentID][dow] = fw
	return fw, nil
}

func (b *countingBackend) DeleteFreeWindow(_ context.Context, agentID int64, dow int) error {
	delete(b.windows[agentID], dow)
	return nil
}

func (b *countingBackend) AddBlock(_ context.Context, agentID int64, startDate, endDate time.Time, win interval.Interval) (*model.Block, error) {
	block := &model.Block{ID: int64(len(b.blocks[agentID]) + 1), AgentID: agentID, StartDate: startDate, EndDate: endDate, Window: win}
	b.blocks[agentID] = append(b.blocks[agentID], block)
	return block, nil
}

func (b *countingBackend) BlocksOn(_ context.Context, agentID int64, date time.Time) ([]*model.Block, error) {
	b.blocksOnCalls++
	var out []*model.Block
	for _, block := range b.blocks[agentID] {
		if block.Covers(date) {
			out = append(out, block)
		}
	}
	return out, nil
}

func (b *countingBackend) DeleteBlock(_ context.Context, id int64) error {
	for agentID, blocks := range b.blocks {
		for i, block := range blocks {
			if block.ID == id {
				b.blocks[agentID] = append(blocks[:i], blocks[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func TestFreeWindowCached(t *testing.T) {
	backend := newCountingBackend()
	cal := New(backend)
	ctx := context.Background()

	_, err := cal.SetFreeWindow(ctx, 1, 0, interval.Interval{Start: 480, End: 1080})
	require.NoError(t, err)

	for range 3 {
		fw, err := cal.FreeWindow(ctx, 1, 0)
		require.NoError(t, err)
		require.NotNil(t, fw)
		assert.Equal(t, interval.Interval{Start: 480, End: 1080}, fw.Window)
	}
	assert.Equal(t, 1, backend.freeWindowCalls, "repeat reads served from cache")
}

func TestAbsentWindowCachedToo(t *testing.T) {
	backend := newCountingBackend()
	cal := New(backend)
	ctx := context.Background()

	for range 3 {
		fw, err := cal.FreeWindow(ctx, 1, 4)
		require.NoError(t, err)
		assert.Nil(t, fw)
	}
	assert.Equal(t, 1, backend.freeWindowCalls)
}

func TestWriteInvalidatesOnlyOwningAgent(t *testing.T) {
	backend := newCountingBackend()
	cal := New(backend)
	ctx := context.Background()

	_, err := cal.SetFreeWindow(ctx, 1, 0, interval.Interval{Start: 480, End: 1080})
	require.NoError(t, err)
	_, err = cal.SetFreeWindow(ctx, 2, 0, interval.Interval{Start: 540, End: 1140})
	require.NoError(t, err)

	// Warm both agents.
	_, err = cal.FreeWindow(ctx, 1, 0)
	require.NoError(t, err)
	_, err = cal.FreeWindow(ctx, 2, 0)
	require.NoError(t, err)
	require.Equal(t, 2, backend.freeWindowCalls)

	// Updating agent 1 must not evict agent 2.
	_, err = cal.SetFreeWindow(ctx, 1, 0, interval.Interval{Start: 500, End: 1000})
	require.NoError(t, err)

	fw, err := cal.FreeWindow(ctx, 2, 0)
	require.NoError(t, err)
	require.NotNil(t, fw)
	assert.Equal(t, 2, backend.freeWindowCalls, "agent 2 still cached")

	fw, err = cal.FreeWindow(ctx, 1, 0)
	require.NoError(t, err)
	require.NotNil(t, fw)
	assert.Equal(t, interval.Interval{Start: 500, End: 1000}, fw.Window)
	assert.Equal(t, 3, backend.freeWindowCalls, "agent 1 re-read after write")
}

func TestBlocksCachedPerDate(t *testing.T) {
	backend := newCountingBackend()
	cal := New(backend)
	ctx := context.Background()

	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	block, err := cal.AddBlock(ctx, 1, start, end, interval.Interval{Start: 540, End: 720})
	require.NoError(t, err)

	for range 2 {
		blocks, err := cal.BlocksOn(ctx, 1, start)
		require.NoError(t, err)
		assert.Len(t, blocks, 1)
	}
	assert.Equal(t, 1, backend.blocksOnCalls)

	// A different date is a separate cache line.
	outside, err := cal.BlocksOn(ctx, 1, end.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, outside)
	assert.Equal(t, 2, backend.blocksOnCalls)

	require.NoError(t, cal.DeleteBlock(ctx, 1, block.ID))
	blocks, err := cal.BlocksOn(ctx, 1, start)
	require.NoError(t, err)
	assert.Empty(t, blocks)
	assert.Equal(t, 3, backend.blocksOnCalls, "delete invalidated the cache")
}
