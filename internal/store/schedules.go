package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldsvc/dispatchd/internal/fault"
	"github.com/fieldsvc/dispatchd/internal/interval"
	"github.com/fieldsvc/dispatchd/internal/model"
)

// ---------------------------------------------------------------------------
// Schedules
// ---------------------------------------------------------------------------

// CreateSchedule atomically inserts a schedule after re-checking that it
// does not overlap any live schedule of the same agent and date. The caller
// is expected to hold the (agent, date) bucket lock so the check and the
// insert form one critical section against other writers.
//
// ID and Protocol are assigned when absent.
func (s *Store) CreateSchedule(ctx context.Context, sched *model.Schedule) error {
	if _, err := interval.New(sched.Window.Start, sched.Window.End); err != nil {
		return fault.New(fault.KindInvalidInterval, "%v", err)
	}
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	if sched.Protocol == "" {
		sched.Protocol = s.proto.Next()
	}
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = s.clock.Now().UTC()
	}

	return retryOnContention(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if sched.Assigned() {
			overlap, err := overlapExistsTx(ctx, tx, sched.AgentID, sched.Date, sched.Window, "")
			if err != nil {
				return err
			}
			if overlap {
				return fault.New(fault.KindOverlap, "agent %d already booked in %s on %s",
					sched.AgentID, sched.Window, storageDate(sched.Date))
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schedules (
				id, protocol, agent_id, service_id, customer_id, project_id,
				date, start_min, end_min, address_text, address_lat, address_lon,
				status, agent_status, step, observation,
				opinion_id, final_opinion_id, final_opinion_user,
				going_at, arrived_at, started_at, finished_at,
				created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sched.ID, sched.Protocol, nullID(sched.AgentID), sched.ServiceID,
			nullID(sched.CustomerID), nullID(sched.ProjectID),
			storageDate(sched.Date), sched.Window.Start, sched.Window.End,
			sched.Address.Text, nullGeoLat(sched.Address.Geo), nullGeoLon(sched.Address.Geo),
			sched.Status, string(sched.AgentStatus), int(sched.Step), sched.Observation,
			nullID(sched.OpinionID), nullID(sched.FinalOpinionID), sched.FinalOpinionUser,
			nullTime(sched.GoingAt), nullTime(sched.ArrivedAt), nullTime(sched.StartedAt), nullTime(sched.FinishedAt),
			sched.CreatedAt.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}

		for _, parent := range sched.ParentIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schedule_parents (schedule_id, parent_id) VALUES (?, ?)`,
				sched.ID, parent,
			); err != nil {
				return fmt.Errorf("insert schedule parent: %w", err)
			}
		}

		return tx.Commit()
	})
}

// UpdateScheduleSlot moves a schedule to a new agent, date, window or
// address, re-checking overlap with the schedule itself excluded.
func (s *Store) UpdateScheduleSlot(ctx context.Context, sched *model.Schedule) error {
	if _, err := interval.New(sched.Window.Start, sched.Window.End); err != nil {
		return fault.New(fault.KindInvalidInterval, "%v", err)
	}

	return retryOnContention(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if sched.Assigned() {
			overlap, err := overlapExistsTx(ctx, tx, sched.AgentID, sched.Date, sched.Window, sched.ID)
			if err != nil {
				return err
			}
			if overlap {
				return fault.New(fault.KindOverlap, "agent %d already booked in %s on %s",
					sched.AgentID, sched.Window, storageDate(sched.Date))
			}
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE schedules SET
				agent_id = ?, date = ?, start_min = ?, end_min = ?,
				address_text = ?, address_lat = ?, address_lon = ?
			 WHERE id = ? AND deleted = 0`,
			nullID(sched.AgentID), storageDate(sched.Date), sched.Window.Start, sched.Window.End,
			sched.Address.Text, nullGeoLat(sched.Address.Geo), nullGeoLon(sched.Address.Geo),
			sched.ID,
		)
		if err != nil {
			return fmt.Errorf("update schedule slot: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fault.New(fault.KindNotFound, "schedule %s not found", sched.ID)
		}

		return tx.Commit()
	})
}

// SaveLifecycle persists the mutable lifecycle fields of a schedule:
// status, step, opinions, observation and the stamped timestamps.
func (s *Store) SaveLifecycle(ctx context.Context, sched *model.Schedule) error {
	return retryOnContention(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE schedules SET
				status = ?, agent_status = ?, step = ?, observation = ?,
				opinion_id = ?, final_opinion_id = ?, final_opinion_user = ?,
				going_at = ?, arrived_at = ?, started_at = ?, finished_at = ?
			 WHERE id = ? AND deleted = 0`,
			sched.Status, string(sched.AgentStatus), int(sched.Step), sched.Observation,
			nullID(sched.OpinionID), nullID(sched.FinalOpinionID), sched.FinalOpinionUser,
			nullTime(sched.GoingAt), nullTime(sched.ArrivedAt), nullTime(sched.StartedAt), nullTime(sched.FinishedAt),
			sched.ID,
		)
		if err != nil {
			return fmt.Errorf("save lifecycle: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fault.New(fault.KindNotFound, "schedule %s not found", sched.ID)
		}
		return nil
	})
}

// GetSchedule fetches a non-deleted schedule with its parent links.
func (s *Store) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, scheduleSelect+` WHERE id = ? AND deleted = 0`, id)
	sched, err := scanSchedule(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT parent_id FROM schedule_parents WHERE schedule_id = ? ORDER BY parent_id`, id)
	if err != nil {
		return nil, fmt.Errorf("schedule parents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var parent string
		if err := rows.Scan(&parent); err != nil {
			return nil, err
		}
		sched.ParentIDs = append(sched.ParentIDs, parent)
	}
	return sched, rows.Err()
}

// ByAgentDate lists the agent's live schedules on a date ordered by start
// time.
func (s *Store) ByAgentDate(ctx context.Context, agentID int64, date time.Time) ([]*model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		scheduleSelect+` WHERE agent_id = ? AND date = ? AND deleted = 0 ORDER BY start_min`,
		agentID, storageDate(date))
	if err != nil {
		return nil, fmt.Errorf("schedules by agent/date: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// Overlaps reports whether any live schedule of the agent on the date
// overlaps the window.
func (s *Store) Overlaps(ctx context.Context, agentID int64, date time.Time, win interval.Interval) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM schedules
		 WHERE agent_id = ? AND date = ? AND deleted = 0 AND start_min < ? AND end_min > ?`,
		agentID, storageDate(date), win.End, win.Start).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("overlap query: %w", err)
	}
	return n > 0, nil
}

// CountByAgentDate counts the agent's live schedules on the date.
func (s *Store) CountByAgentDate(ctx context.Context, agentID int64, date time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM schedules WHERE agent_id = ? AND date = ? AND deleted = 0`,
		agentID, storageDate(date)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count by agent/date: %w", err)
	}
	return n, nil
}

// ScheduleFilter narrows ListSchedules. Zero values mean "any".
type ScheduleFilter struct {
	ProjectID int64
	ServiceID int64
	AgentID   int64
	Date      time.Time
}

// ListSchedules returns live schedules matching the filter, newest first.
func (s *Store) ListSchedules(ctx context.Context, f ScheduleFilter) ([]*model.Schedule, error) {
	query := scheduleSelect + ` WHERE deleted = 0`
	var args []any
	if f.ProjectID != 0 {
		query += ` AND project_id = ?`
		args = append(args, f.ProjectID)
	}
	if f.ServiceID != 0 {
		query += ` AND service_id = ?`
		args = append(args, f.ServiceID)
	}
	if f.AgentID != 0 {
		query += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if !f.Date.IsZero() {
		query += ` AND date = ?`
		args = append(args, storageDate(f.Date))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// SchedulesOn lists every live schedule on a date ordered by agent then
// start time; the timeline endpoint reads whole days at once.
func (s *Store) SchedulesOn(ctx context.Context, date time.Time) ([]*model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		scheduleSelect+` WHERE date = ? AND deleted = 0 ORDER BY agent_id, start_min`,
		storageDate(date))
	if err != nil {
		return nil, fmt.Errorf("schedules on %s: %w", storageDate(date), err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// UnfinishedBefore lists live schedules that are not terminal whose date is
// on or before the given date; the SLA sweeper filters them further.
func (s *Store) UnfinishedBefore(ctx context.Context, date time.Time) ([]*model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		scheduleSelect+` WHERE deleted = 0 AND agent_status IN (?, ?) AND date <= ? ORDER BY date, start_min`,
		string(model.AgentPending), string(model.AgentInProgress), storageDate(date))
	if err != nil {
		return nil, fmt.Errorf("unfinished schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// SoftDeleteSchedule marks a schedule deleted; read paths skip it from
// then on.
func (s *Store) SoftDeleteSchedule(ctx context.Context, id string) error {
	return retryOnContention(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE schedules SET deleted = 1 WHERE id = ? AND deleted = 0`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fault.New(fault.KindNotFound, "schedule %s not found", id)
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Row mapping
// ---------------------------------------------------------------------------

const scheduleSelect = `SELECT
	id, protocol, agent_id, service_id, customer_id, project_id,
	date, start_min, end_min, address_text, address_lat, address_lon,
	status, agent_status, step, observation,
	opinion_id, final_opinion_id, final_opinion_user,
	going_at, arrived_at, started_at, finished_at, created_at
	FROM schedules`

func overlapExistsTx(ctx context.Context, tx *sql.Tx, agentID int64, date time.Time, win interval.Interval, excludeID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM schedules
		 WHERE agent_id = ? AND date = ? AND deleted = 0
		   AND start_min < ? AND end_min > ? AND id != ?`,
		agentID, storageDate(date), win.End, win.Start, excludeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("overlap query: %w", err)
	}
	return n > 0, nil
}

func scanSchedules(rows *sql.Rows) ([]*model.Schedule, error) {
	var out []*model.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func scanSchedule(row rowScanner) (*model.Schedule, error) {
	var (
		sched                                 model.Schedule
		agentID, customerID, projectID        sql.NullInt64
		opinionID, finalOpinionID             sql.NullInt64
		lat, lon                              sql.NullFloat64
		date, agentStatus, created            string
		goingAt, arrivedAt, startedAt, doneAt sql.NullString
		step                                  int
	)
	err := row.Scan(
		&sched.ID, &sched.Protocol, &agentID, &sched.ServiceID, &customerID, &projectID,
		&date, &sched.Window.Start, &sched.Window.End,
		&sched.Address.Text, &lat, &lon,
		&sched.Status, &agentStatus, &step, &sched.Observation,
		&opinionID, &finalOpinionID, &sched.FinalOpinionUser,
		&goingAt, &arrivedAt, &startedAt, &doneAt, &created,
	)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.KindNotFound, "schedule not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	sched.AgentID = agentID.Int64
	sched.CustomerID = customerID.Int64
	sched.ProjectID = projectID.Int64
	sched.OpinionID = opinionID.Int64
	sched.FinalOpinionID = finalOpinionID.Int64
	sched.AgentStatus = model.AgentStatus(agentStatus)
	sched.Step = model.Step(step)
	sched.Date, _ = time.Parse("2006-01-02", date)
	sched.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if lat.Valid && lon.Valid {
		sched.Address.Geo = &model.Geo{Lat: lat.Float64, Lon: lon.Float64}
	}
	sched.GoingAt = parseNullTime(goingAt)
	sched.ArrivedAt = parseNullTime(arrivedAt)
	sched.StartedAt = parseNullTime(startedAt)
	sched.FinishedAt = parseNullTime(doneAt)
	return &sched, nil
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullGeoLat(g *model.Geo) any {
	if g == nil {
		return nil
	}
	return g.Lat
}

func nullGeoLon(g *model.Geo) any {
	if g == nil {
		return nil
	}
	return g.Lon
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
