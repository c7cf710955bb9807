package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CaioWing/Armada/internal/domain"
)

type RollbackRepo struct {
	pool *pgxpool.Pool
}

func NewRollbackRepo(pool *pgxpool.Pool) *RollbackRepo {
	return &RollbackRepo{pool: pool}
}

const rollbackColumns = `
	id, campaign_id, device_id, update_id, trigger, from_version, to_version,
	status, reason, created_at, finished_at`

func scanRollback(row pgx.Row) (*domain.RollbackOperation, error) {
	op := &domain.RollbackOperation{}
	var updateID *uuid.UUID
	err := row.Scan(
		&op.ID, &op.CampaignID, &op.DeviceID, &updateID, &op.Trigger,
		&op.FromVersion, &op.ToVersion, &op.Status, &op.Reason,
		&op.CreatedAt, &op.FinishedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan rollback operation: %w", err)
	}
	if updateID != nil {
		op.UpdateID = *updateID
	}
	return op, nil
}

// nullableUUID maps the zero uuid to NULL; unservable rollback operations
// have no reverse update to reference.
func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func (r *RollbackRepo) Create(ctx context.Context, op *domain.RollbackOperation) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO rollback_operations (
			campaign_id, device_id, update_id, trigger, from_version, to_version, status, reason
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, created_at
	`,
		op.CampaignID, op.DeviceID, nullableUUID(op.UpdateID), op.Trigger,
		op.FromVersion, op.ToVersion, op.Status, op.Reason,
	).Scan(&op.ID, &op.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert rollback operation: %w", err)
	}
	return nil
}

func (r *RollbackRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RollbackOperation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+rollbackColumns+` FROM rollback_operations WHERE id = $1`, id)
	return scanRollback(row)
}

func (r *RollbackRepo) GetByUpdateID(ctx context.Context, updateID uuid.UUID) (*domain.RollbackOperation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+rollbackColumns+` FROM rollback_operations WHERE update_id = $1`, updateID)
	return scanRollback(row)
}

func (r *RollbackRepo) List(ctx context.Context, f domain.RollbackFilter) ([]*domain.RollbackOperation, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}

	where := "WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if f.CampaignID != nil {
		where += fmt.Sprintf(" AND campaign_id = $%d", argIdx)
		args = append(args, *f.CampaignID)
		argIdx++
	}
	if f.DeviceID != nil {
		where += fmt.Sprintf(" AND device_id = $%d", argIdx)
		args = append(args, *f.DeviceID)
		argIdx++
	}
	if f.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *f.Status)
		argIdx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM rollback_operations "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count rollback operations: %w", err)
	}

	offset := (f.Page - 1) * f.PerPage
	query := fmt.Sprintf(
		`SELECT %s FROM rollback_operations %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		rollbackColumns, where, argIdx, argIdx+1,
	)
	args = append(args, f.PerPage, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list rollback operations: %w", err)
	}
	defer rows.Close()

	var ops []*domain.RollbackOperation
	for rows.Next() {
		op, err := scanRollback(rows)
		if err != nil {
			return nil, 0, err
		}
		ops = append(ops, op)
	}

	if ops == nil {
		ops = []*domain.RollbackOperation{}
	}

	return ops, total, nil
}

func (r *RollbackRepo) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*domain.RollbackOperation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+rollbackColumns+` FROM rollback_operations
		WHERE campaign_id = $1 ORDER BY created_at
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign rollbacks: %w", err)
	}
	defer rows.Close()

	var ops []*domain.RollbackOperation
	for rows.Next() {
		op, err := scanRollback(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (r *RollbackRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RollbackStatus) error {
	var query string
	if status == domain.RollbackStatusCompleted || status == domain.RollbackStatusFailed {
		query = `UPDATE rollback_operations SET status = $1, finished_at = NOW() WHERE id = $2`
	} else {
		query = `UPDATE rollback_operations SET status = $1 WHERE id = $2`
	}

	tag, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update rollback status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
