package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CaioWing/Armada/internal/domain"
)

type CampaignRepo struct {
	pool *pgxpool.Pool
}

func NewCampaignRepo(pool *pgxpool.Pool) *CampaignRepo {
	return &CampaignRepo{pool: pool}
}

const campaignColumns = `
	id, name, firmware_id, strategy, status, target_device_ids,
	pending_count, in_progress_count, completed_count, failed_count, cancelled_count,
	max_concurrent_updates, batch_size, auto_rollback, failure_threshold_percent,
	requires_approval, approved_by, approved_at, scheduled_at,
	created_at, started_at, finished_at`

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := row.Scan(
		&c.ID, &c.Name, &c.FirmwareID, &c.Strategy, &c.Status, &c.TargetDeviceIDs,
		&c.Counters.Pending, &c.Counters.InProgress, &c.Counters.Completed,
		&c.Counters.Failed, &c.Counters.Cancelled,
		&c.MaxConcurrentUpdates, &c.BatchSize, &c.AutoRollback, &c.FailureThresholdPercent,
		&c.RequiresApproval, &c.ApprovedBy, &c.ApprovedAt, &c.ScheduledAt,
		&c.CreatedAt, &c.StartedAt, &c.FinishedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO campaigns (
			name, firmware_id, strategy, status, target_device_ids, pending_count,
			max_concurrent_updates, batch_size, auto_rollback, failure_threshold_percent,
			requires_approval, scheduled_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at
	`,
		c.Name, c.FirmwareID, c.Strategy, c.Status, c.TargetDeviceIDs, c.Counters.Pending,
		c.MaxConcurrentUpdates, c.BatchSize, c.AutoRollback, c.FailureThresholdPercent,
		c.RequiresApproval, c.ScheduledAt,
	).Scan(&c.ID, &c.CreatedAt)

	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	return scanCampaign(row)
}

func (r *CampaignRepo) List(ctx context.Context, f domain.CampaignFilter) ([]*domain.Campaign, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}

	where := "WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if f.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *f.Status)
		argIdx++
	}
	if f.FirmwareID != nil {
		where += fmt.Sprintf(" AND firmware_id = $%d", argIdx)
		args = append(args, *f.FirmwareID)
		argIdx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM campaigns "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	orderCol := "created_at"
	switch f.SortBy {
	case "created_at", "started_at", "finished_at", "status", "name":
		orderCol = f.SortBy
	}
	orderDir := "DESC"
	if f.SortOrder == "asc" {
		orderDir = "ASC"
	}

	offset := (f.Page - 1) * f.PerPage
	query := fmt.Sprintf(
		`SELECT %s FROM campaigns %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		campaignColumns, where, orderCol, orderDir, argIdx, argIdx+1,
	)
	args = append(args, f.PerPage, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	if campaigns == nil {
		campaigns = []*domain.Campaign{}
	}

	return campaigns, total, nil
}

func (r *CampaignRepo) ListByStatus(ctx context.Context, statuses ...domain.CampaignStatus) ([]*domain.Campaign, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = ANY($1) ORDER BY created_at`,
		statuses,
	)
	if err != nil {
		return nil, fmt.Errorf("list campaigns by status: %w", err)
	}
	defer rows.Close()

	var campaigns []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, nil
}

func (r *CampaignRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE campaigns SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) UpdateCounters(ctx context.Context, id uuid.UUID, c domain.CampaignCounters) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET
			pending_count = $1, in_progress_count = $2, completed_count = $3,
			failed_count = $4, cancelled_count = $5
		WHERE id = $6
	`, c.Pending, c.InProgress, c.Completed, c.Failed, c.Cancelled, id)
	if err != nil {
		return fmt.Errorf("update campaign counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) SetApproved(ctx context.Context, id uuid.UUID, approvedBy string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET approved_by = $1, approved_at = NOW() WHERE id = $2
	`, approvedBy, id)
	if err != nil {
		return fmt.Errorf("set campaign approved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) SetStarted(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET started_at = COALESCE(started_at, NOW()), status = 'in_progress' WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("set campaign started: %w", err)
	}
	return nil
}

func (r *CampaignRepo) SetFinished(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET finished_at = NOW(), status = $1 WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("set campaign finished: %w", err)
	}
	return nil
}

func (r *CampaignRepo) CountActiveByFirmware(ctx context.Context, firmwareID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM campaigns
		WHERE firmware_id = $1 AND status IN ('created', 'in_progress', 'paused')
	`, firmwareID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active campaigns: %w", err)
	}
	return count, nil
}

func (r *CampaignRepo) GetStats(ctx context.Context) (*domain.CampaignStats, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM campaigns GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("get campaign stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.CampaignStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan campaign stats: %w", err)
		}
		stats.Total += count
		switch domain.CampaignStatus(status) {
		case domain.CampaignStatusCreated:
			stats.Created = count
		case domain.CampaignStatusInProgress:
			stats.InProgress = count
		case domain.CampaignStatusPaused:
			stats.Paused = count
		case domain.CampaignStatusCompleted:
			stats.Completed = count
		case domain.CampaignStatusFailed:
			stats.Failed = count
		case domain.CampaignStatusCancelled:
			stats.Cancelled = count
		}
	}
	return stats, nil
}
