package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fieldsvc/dispatchd/internal/fault"
	"github.com/fieldsvc/dispatchd/internal/model"
)

// ---------------------------------------------------------------------------
// Service catalog
// ---------------------------------------------------------------------------

// UpsertService inserts a service by name or updates its attributes.
// Idempotent; used by the catalog seed loader.
func (s *Store) UpsertService(ctx context.Context, svc model.Service) (*model.Service, error) {
	err := retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO services (name, category, default_form_id, sla_hours, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET
				category = excluded.category,
				default_form_id = excluded.default_form_id,
				sla_hours = excluded.sla_hours,
				deleted = 0`,
			svc.Name, svc.Category, svc.DefaultFormID, svc.SLAHours, s.now(),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert service: %w", err)
	}
	return s.ServiceByName(ctx, svc.Name)
}

// GetService fetches a non-deleted service by ID.
func (s *Store) GetService(ctx context.Context, id int64) (*model.Service, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, category, default_form_id, sla_hours, created_at
		 FROM services WHERE id = ? AND deleted = 0`, id)
	return scanService(row)
}

// ServiceByName fetches a non-deleted service by its unique name.
func (s *Store) ServiceByName(ctx context.Context, name string) (*model.Service, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, category, default_form_id, sla_hours, created_at
		 FROM services WHERE name = ? AND deleted = 0`, name)
	return scanService(row)
}

// Services lists all non-deleted services ordered by name.
func (s *Store) Services(ctx context.Context) ([]*model.Service, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, category, default_form_id, sla_hours, created_at
		 FROM services WHERE deleted = 0 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var out []*model.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func scanService(row rowScanner) (*model.Service, error) {
	var (
		svc     model.Service
		created string
	)
	err := row.Scan(&svc.ID, &svc.Name, &svc.Category, &svc.DefaultFormID, &svc.SLAHours, &created)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.KindNotFound, "service not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan service: %w", err)
	}
	svc.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &svc, nil
}

// ---------------------------------------------------------------------------
// Service opinions
// ---------------------------------------------------------------------------

// UpsertOpinion inserts or refreshes a catalogued opinion for a service.
func (s *Store) UpsertOpinion(ctx context.Context, op model.ServiceOpinion) (*model.ServiceOpinion, error) {
	err := retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO service_opinions (service_id, name, approved, exchangeable, final, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(service_id, name) WHERE deleted = 0 DO UPDATE SET
				approved = excluded.approved,
				exchangeable = excluded.exchangeable,
				final = excluded.final,
				deleted = 0`,
			op.ServiceID, op.Name, boolInt(op.Approved), boolInt(op.Exchangeable), boolInt(op.Final), s.now(),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert opinion: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, service_id, name, approved, exchangeable, final, created_at
		 FROM service_opinions WHERE service_id = ? AND name = ? AND deleted = 0`,
		op.ServiceID, op.Name)
	return scanOpinion(row)
}

// GetOpinion fetches a non-deleted opinion by ID.
func (s *Store) GetOpinion(ctx context.Context, id int64) (*model.ServiceOpinion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, service_id, name, approved, exchangeable, final, created_at
		 FROM service_opinions WHERE id = ? AND deleted = 0`, id)
	return scanOpinion(row)
}

// OpinionsForService lists the live opinions of a service.
func (s *Store) OpinionsForService(ctx context.Context, serviceID int64) ([]*model.ServiceOpinion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, service_id, name, approved, exchangeable, final, created_at
		 FROM service_opinions WHERE service_id = ? AND deleted = 0 ORDER BY name`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list opinions: %w", err)
	}
	defer rows.Close()

	var out []*model.ServiceOpinion
	for rows.Next() {
		op, err := scanOpinion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func scanOpinion(row rowScanner) (*model.ServiceOpinion, error) {
	var (
		op                          model.ServiceOpinion
		approved, exchange, isFinal int
		created                     string
	)
	err := row.Scan(&op.ID, &op.ServiceID, &op.Name, &approved, &exchange, &isFinal, &created)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.KindNotFound, "service opinion not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan opinion: %w", err)
	}
	op.Approved = approved != 0
	op.Exchangeable = exchange != 0
	op.Final = isFinal != 0
	op.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &op, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
