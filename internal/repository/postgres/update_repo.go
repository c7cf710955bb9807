package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CaioWing/Armada/internal/domain"
)

type UpdateRepo struct {
	pool *pgxpool.Pool
}

func NewUpdateRepo(pool *pgxpool.Pool) *UpdateRepo {
	return &UpdateRepo{pool: pool}
}

const updateColumns = `
	id, campaign_id, device_id, firmware_id, status, progress_percentage,
	retry_count, max_retries, priority, timeout_minutes, from_version, to_version,
	error_code, error_message, created_at, started_at, finished_at`

func scanUpdate(row pgx.Row) (*domain.DeviceUpdate, error) {
	u := &domain.DeviceUpdate{}
	err := row.Scan(
		&u.ID, &u.CampaignID, &u.DeviceID, &u.FirmwareID, &u.Status, &u.ProgressPercentage,
		&u.RetryCount, &u.MaxRetries, &u.Priority, &u.TimeoutMinutes, &u.FromVersion, &u.ToVersion,
		&u.ErrorCode, &u.ErrorMessage, &u.CreatedAt, &u.StartedAt, &u.FinishedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan device update: %w", err)
	}
	return u, nil
}

func (r *UpdateRepo) Create(ctx context.Context, u *domain.DeviceUpdate) error {
	var finishedAt interface{}
	if u.FinishedAt != nil {
		finishedAt = *u.FinishedAt
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO device_updates (
			campaign_id, device_id, firmware_id, status, progress_percentage,
			retry_count, max_retries, priority, timeout_minutes, from_version, to_version,
			error_code, error_message, finished_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id, created_at
	`,
		u.CampaignID, u.DeviceID, u.FirmwareID, u.Status, u.ProgressPercentage,
		u.RetryCount, u.MaxRetries, u.Priority, u.TimeoutMinutes, u.FromVersion, u.ToVersion,
		u.ErrorCode, u.ErrorMessage, finishedAt,
	).Scan(&u.ID, &u.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert device update: %w", err)
	}
	return nil
}

func (r *UpdateRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.DeviceUpdate, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+updateColumns+` FROM device_updates WHERE id = $1`, id)
	return scanUpdate(row)
}

func (r *UpdateRepo) List(ctx context.Context, f domain.UpdateFilter) ([]*domain.DeviceUpdate, int, error) {
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
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM device_updates "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count device updates: %w", err)
	}

	orderCol := "created_at"
	switch f.SortBy {
	case "created_at", "finished_at", "status", "priority", "device_id":
		orderCol = f.SortBy
	}
	orderDir := "DESC"
	if f.SortOrder == "asc" {
		orderDir = "ASC"
	}

	offset := (f.Page - 1) * f.PerPage
	query := fmt.Sprintf(
		`SELECT %s FROM device_updates %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		updateColumns, where, orderCol, orderDir, argIdx, argIdx+1,
	)
	args = append(args, f.PerPage, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list device updates: %w", err)
	}
	defer rows.Close()

	var updates []*domain.DeviceUpdate
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, 0, err
		}
		updates = append(updates, u)
	}

	if updates == nil {
		updates = []*domain.DeviceUpdate{}
	}

	return updates, total, nil
}

func (r *UpdateRepo) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*domain.DeviceUpdate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+updateColumns+` FROM device_updates
		WHERE campaign_id = $1
		ORDER BY priority DESC, device_id ASC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign updates: %w", err)
	}
	defer rows.Close()

	var updates []*domain.DeviceUpdate
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func (r *UpdateRepo) SetPhase(ctx context.Context, id uuid.UUID, status domain.UpdateStatus, progress int) error {
	var query string
	switch status {
	case domain.UpdateStatusCompleted:
		query = `UPDATE device_updates SET status = $1, progress_percentage = $2, finished_at = NOW() WHERE id = $3`
	case domain.UpdateStatusDownloading:
		query = `UPDATE device_updates SET status = $1, progress_percentage = $2, started_at = COALESCE(started_at, NOW()) WHERE id = $3`
	default:
		query = `UPDATE device_updates SET status = $1, progress_percentage = $2 WHERE id = $3`
	}

	tag, err := r.pool.Exec(ctx, query, status, progress, id)
	if err != nil {
		return fmt.Errorf("set update phase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *UpdateRepo) MarkFailed(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE device_updates
		SET status = 'failed', error_code = $1, error_message = $2, finished_at = NOW()
		WHERE id = $3
	`, errorCode, errorMessage, id)
	if err != nil {
		return fmt.Errorf("mark update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *UpdateRepo) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE device_updates SET status = 'cancelled', finished_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark update cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *UpdateRepo) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE device_updates
		SET status = 'scheduled', progress_percentage = 0, retry_count = retry_count + 1,
		    error_code = '', error_message = '', finished_at = NULL
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("reset update for retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *UpdateRepo) CountByStatusForCampaign(ctx context.Context, campaignID uuid.UUID) (map[domain.UpdateStatus]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM device_updates WHERE campaign_id = $1 GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count updates by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.UpdateStatus]int)
	for rows.Next() {
		var status domain.UpdateStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan update count: %w", err)
		}
		counts[status] = count
	}
	return counts, nil
}

func (r *UpdateRepo) LatestCompletedByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*domain.DeviceUpdate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (device_id) `+updateColumns+`
		FROM device_updates
		WHERE campaign_id = $1 AND status = 'completed'
		ORDER BY device_id, created_at DESC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list completed updates: %w", err)
	}
	defer rows.Close()

	var updates []*domain.DeviceUpdate
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func (r *UpdateRepo) LatestForDevice(ctx context.Context, deviceID uuid.UUID) (*domain.DeviceUpdate, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+updateColumns+` FROM device_updates
		WHERE device_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, deviceID)
	return scanUpdate(row)
}

func (r *UpdateRepo) ListStandaloneScheduled(ctx context.Context) ([]*domain.DeviceUpdate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+updateColumns+` FROM device_updates
		WHERE campaign_id IS NULL AND status = 'scheduled'
		ORDER BY priority DESC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list standalone scheduled updates: %w", err)
	}
	defer rows.Close()

	var updates []*domain.DeviceUpdate
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func (r *UpdateRepo) ListStaleInFlight(ctx context.Context, cutoff time.Time) ([]*domain.DeviceUpdate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+updateColumns+` FROM device_updates
		WHERE status IN ('downloading', 'verifying', 'installing', 'rebooting')
		  AND started_at IS NOT NULL AND started_at < $1
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale updates: %w", err)
	}
	defer rows.Close()

	var updates []*domain.DeviceUpdate
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, nil
}
