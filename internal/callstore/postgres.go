package callstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps call records in PostgreSQL so status survives restarts
// and can be shared across instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_statuses (
			call_sid TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			phone_number TEXT NOT NULL DEFAULT '',
			customer_name TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS call_contexts (
			call_sid TEXT PRIMARY KEY,
			customer_name TEXT NOT NULL DEFAULT '',
			purpose TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) PutStatus(ctx context.Context, callSid string, status CallStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_statuses (call_sid, status, phone_number, customer_name, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (call_sid) DO UPDATE
		 SET status=$2, phone_number=$3, customer_name=$4, updated_at=$5`,
		callSid, status.Status, status.PhoneNumber, status.CustomerName, status.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put status: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetStatus(ctx context.Context, callSid string) (CallStatus, error) {
	var status CallStatus
	err := s.pool.QueryRow(ctx,
		`SELECT status, phone_number, customer_name, updated_at
		 FROM call_statuses WHERE call_sid=$1`, callSid,
	).Scan(&status.Status, &status.PhoneNumber, &status.CustomerName, &status.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CallStatus{}, ErrNotFound
	}
	if err != nil {
		return CallStatus{}, fmt.Errorf("get status: %w", err)
	}
	return status, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, callSid, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE call_statuses SET status=$2, updated_at=now() WHERE call_sid=$1`,
		callSid, status,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PutContext(ctx context.Context, callSid string, cc CallContext) error {
	if cc.CreatedAt.IsZero() {
		cc.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_contexts (call_sid, customer_name, purpose, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (call_sid) DO UPDATE SET customer_name=$2, purpose=$3`,
		callSid, cc.CustomerName, cc.Purpose, cc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put context: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetContext(ctx context.Context, callSid string) (CallContext, error) {
	var cc CallContext
	err := s.pool.QueryRow(ctx,
		`SELECT customer_name, purpose, created_at FROM call_contexts WHERE call_sid=$1`,
		callSid,
	).Scan(&cc.CustomerName, &cc.Purpose, &cc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CallContext{}, ErrNotFound
	}
	if err != nil {
		return CallContext{}, fmt.Errorf("get context: %w", err)
	}
	return cc, nil
}

func (s *PostgresStore) Delete(ctx context.Context, callSid string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM call_statuses WHERE call_sid=$1`, callSid); err != nil {
		return fmt.Errorf("delete status: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM call_contexts WHERE call_sid=$1`, callSid); err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
