package instancestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBTX is satisfied by *sql.DB and *sql.Tx so callers can batch writes in a
// transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InstanceRow is the persisted record of one job instance.
type InstanceRow struct {
	Deployment string
	Job        string
	Index      int
	State      string
	VMCID      string
	UpdatedAt  time.Time
}

// UpsertInstance inserts or replaces the row for the instance key.
func UpsertInstance(ctx context.Context, db DBTX, row InstanceRow) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO instances
		 (deployment, job, instance_index, state, vm_cid, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(deployment, job, instance_index) DO UPDATE SET
		   state = excluded.state,
		   vm_cid = excluded.vm_cid,
		   updated_at = excluded.updated_at`,
		row.Deployment, row.Job, row.Index, row.State, nullString(row.VMCID),
		row.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert instance: %w", err)
	}
	return nil
}

// GetInstance returns the row for the instance key, or nil when none exists.
func GetInstance(ctx context.Context, db DBTX, deployment, job string, index int) (*InstanceRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var row InstanceRow
	var vmCID sql.NullString
	var updatedAt string

	err := db.QueryRowContext(ctx,
		`SELECT deployment, job, instance_index, state, vm_cid, updated_at
		 FROM instances
		 WHERE deployment = ? AND job = ? AND instance_index = ?`,
		deployment, job, index).Scan(
		&row.Deployment, &row.Job, &row.Index, &row.State, &vmCID, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}

	row.VMCID = vmCID.String
	row.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &row, nil
}

// ListInstances returns every row of a deployment ordered by job and index.
func ListInstances(ctx context.Context, db DBTX, deployment string) ([]InstanceRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := db.QueryContext(ctx,
		`SELECT deployment, job, instance_index, state, vm_cid, updated_at
		 FROM instances
		 WHERE deployment = ?
		 ORDER BY job, instance_index`,
		deployment)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []InstanceRow
	for rows.Next() {
		var row InstanceRow
		var vmCID sql.NullString
		var updatedAt string
		if err := rows.Scan(&row.Deployment, &row.Job, &row.Index, &row.State, &vmCID, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		row.VMCID = vmCID.String
		if row.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return out, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
