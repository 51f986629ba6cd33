package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fieldsvc/dispatchd/internal/fault"
	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/model"
)

// ---------------------------------------------------------------------------
// Free windows
// ---------------------------------------------------------------------------

// SetFreeWindow replaces or inserts the weekly free window of an agent for
// one day of week. Day 0 is Monday.
func (s *Store) SetFreeWindow(ctx context.Context, agentID int64, dayOfWeek int, win interval.Interval) (*model.FreeWindow, error) {
	if dayOfWeek < 0 || dayOfWeek > 6 {
		return nil, fault.New(fault.KindInvalidInterval, "day of week %d out of range 0..6", dayOfWeek)
	}
	if _, err := interval.New(win.Start, win.End); err != nil {
		return nil, fault.New(fault.KindInvalidInterval, "%v", err)
	}

	var id int64
	err := retryOnContention(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		// Replace-or-insert: soft-delete the current window first so the
		// partial unique index accepts the new row and history survives.
		if _, err := tx.ExecContext(ctx,
			`UPDATE free_windows SET deleted = 1 WHERE agent_id = ? AND day_of_week = ? AND deleted = 0`,
			agentID, dayOfWeek,
		); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO free_windows (agent_id, day_of_week, start_min, end_min, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			agentID, dayOfWeek, win.Start, win.End, s.now(),
		)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("set free window: %w", err)
	}

	return &model.FreeWindow{ID: id, AgentID: agentID, DayOfWeek: dayOfWeek, Window: win}, nil
}

// FreeWindow returns the agent's window for the day of week, or nil when
// none is configured.
func (s *Store) FreeWindow(ctx context.Context, agentID int64, dayOfWeek int) (*model.FreeWindow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, day_of_week, start_min, end_min, created_at
		 FROM free_windows WHERE agent_id = ? AND day_of_week = ? AND deleted = 0`,
		agentID, dayOfWeek)

	var (
		fw      model.FreeWindow
		created string
	)
	err := row.Scan(&fw.ID, &fw.AgentID, &fw.DayOfWeek, &fw.Window.Start, &fw.Window.End, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("free window: %w", err)
	}
	fw.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &fw, nil
}

// DeleteFreeWindow soft-deletes the agent's window for the day of week.
func (s *Store) DeleteFreeWindow(ctx context.Context, agentID int64, dayOfWeek int) error {
	return retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE free_windows SET deleted = 1 WHERE agent_id = ? AND day_of_week = ? AND deleted = 0`,
			agentID, dayOfWeek)
		return err
	})
}

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

// AddBlock records a date-ranged daily exclusion for an agent. An exact
// duplicate of a live block is rejected with Conflict.
func (s *Store) AddBlock(ctx context.Context, agentID int64, startDate, endDate time.Time, win interval.Interval) (*model.Block, error) {
	if endDate.Before(startDate) {
		return nil, fault.New(fault.KindInvalidInterval, "block end date %s before start date %s",
			storageDate(endDate), storageDate(startDate))
	}
	if _, err := interval.New(win.Start, win.End); err != nil {
		return nil, fault.New(fault.KindInvalidInterval, "%v", err)
	}

	var id int64
	err := retryOnContention(func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO blocks (agent_id, start_date, end_date, start_min, end_min, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			agentID, storageDate(startDate), storageDate(endDate), win.Start, win.End, s.now(),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fault.New(fault.KindConflict, "identical block already exists")
		}
		return nil, fmt.Errorf("add block: %w", err)
	}

	return &model.Block{ID: id, AgentID: agentID, StartDate: startDate, EndDate: endDate, Window: win}, nil
}

// BlocksOn lists the agent's live blocks whose date range covers the date.
func (s *Store) BlocksOn(ctx context.Context, agentID int64, date time.Time) ([]*model.Block, error) {
	d := storageDate(date)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, start_date, end_date, start_min, end_min, created_at
		 FROM blocks
		 WHERE agent_id = ? AND deleted = 0 AND start_date <= ? AND end_date >= ?
		 ORDER BY start_min`,
		agentID, d, d)
	if err != nil {
		return nil, fmt.Errorf("blocks on %s: %w", d, err)
	}
	defer rows.Close()

	var out []*model.Block
	for rows.Next() {
		var (
			b                     model.Block
			startD, endD, created string
		)
		if err := rows.Scan(&b.ID, &b.AgentID, &startD, &endD, &b.Window.Start, &b.Window.End, &created); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		b.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		b.StartDate, _ = time.Parse("2006-01-02", startD)
		b.EndDate, _ = time.Parse("2006-01-02", endD)
		out = append(out, &b)
	}
	return out, rows.Err()
}

// DeleteBlock soft-deletes a block by ID.
func (s *Store) DeleteBlock(ctx context.Context, id int64) error {
	return retryOnContention(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE blocks SET deleted = 1 WHERE id = ? AND deleted = 0`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fault.New(fault.KindNotFound, "block %d not found", id)
		}
		return nil
	})
}

// isUniqueViolation detects a UNIQUE constraint failure from modernc.org/sqlite.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
