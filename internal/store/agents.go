package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldsvc/dispatchd/internal/fault"
	"github.com/fieldsvc/dispatchd/internal/model"
)

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

// CreateAgent inserts a new field agent and returns it with its ID set.
func (s *Store) CreateAgent(ctx context.Context, name string, tags []string) (*model.Agent, error) {
	encoded, err := encodeTags(tags)
	if err != nil {
		return nil, err
	}

	var id int64
	err = retryOnContention(func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO agents (name, tags, created_at) VALUES (?, ?, ?)`,
			name, encoded, s.now(),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return s.GetAgent(ctx, id)
}

// GetAgent fetches a non-deleted agent by ID.
func (s *Store) GetAgent(ctx context.Context, id int64) (*model.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, tags, created_at FROM agents WHERE id = ? AND deleted = 0`, id)
	return scanAgent(row)
}

// Agents lists all non-deleted agents ordered by name.
func (s *Store) Agents(ctx context.Context) ([]*model.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, tags, created_at FROM agents WHERE deleted = 0 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AgentsByTag lists non-deleted agents carrying the given capability tag,
// ordered by name.
func (s *Store) AgentsByTag(ctx context.Context, tag string) ([]*model.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, tags, created_at FROM agents WHERE deleted = 0 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		if a.HasTag(tag) {
			out = append(out, a)
		}
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*model.Agent, error) {
	var (
		a       model.Agent
		encoded string
		created string
	)
	if err := row.Scan(&a.ID, &a.Name, &encoded, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, fault.New(fault.KindNotFound, "agent not found")
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	tags, err := decodeTags(encoded)
	if err != nil {
		return nil, err
	}
	a.Tags = tags
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &a, nil
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(encoded string) ([]string, error) {
	if encoded == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(encoded), &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}
