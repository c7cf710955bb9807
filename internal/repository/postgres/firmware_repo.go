package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CaioWing/Armada/internal/domain"
)

type FirmwareRepo struct {
	pool *pgxpool.Pool
}

func NewFirmwareRepo(pool *pgxpool.Pool) *FirmwareRepo {
	return &FirmwareRepo{pool: pool}
}

const firmwareColumns = `
	id, name, version, device_model, description, file_name, file_size,
	checksum_sha256, checksum_md5, is_security_update, deprecated,
	storage_path, created_at`

func scanFirmware(row pgx.Row) (*domain.Firmware, error) {
	fw := &domain.Firmware{}
	err := row.Scan(
		&fw.ID, &fw.Name, &fw.Version, &fw.DeviceModel, &fw.Description,
		&fw.FileName, &fw.FileSize, &fw.ChecksumSHA256, &fw.ChecksumMD5,
		&fw.IsSecurityUpdate, &fw.Deprecated, &fw.StoragePath, &fw.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan firmware: %w", err)
	}
	return fw, nil
}

func (r *FirmwareRepo) Create(ctx context.Context, fw *domain.Firmware) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO firmwares (
			id, name, version, device_model, description, file_name, file_size,
			checksum_sha256, checksum_md5, is_security_update, storage_path
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at
	`,
		fw.ID, fw.Name, fw.Version, fw.DeviceModel, fw.Description,
		fw.FileName, fw.FileSize, fw.ChecksumSHA256, fw.ChecksumMD5,
		fw.IsSecurityUpdate, fw.StoragePath,
	).Scan(&fw.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert firmware: %w", err)
	}
	return nil
}

func (r *FirmwareRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Firmware, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+firmwareColumns+` FROM firmwares WHERE id = $1`, id)
	return scanFirmware(row)
}

func (r *FirmwareRepo) GetByVersion(ctx context.Context, version, deviceModel string) (*domain.Firmware, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+firmwareColumns+` FROM firmwares
		WHERE version = $1 AND device_model = $2
		ORDER BY created_at DESC LIMIT 1
	`, version, deviceModel)
	return scanFirmware(row)
}

func (r *FirmwareRepo) List(ctx context.Context, f domain.FirmwareFilter) ([]*domain.Firmware, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}

	where := "WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if f.Version != nil {
		where += fmt.Sprintf(" AND version = $%d", argIdx)
		args = append(args, *f.Version)
		argIdx++
	}
	if f.DeviceModel != nil {
		where += fmt.Sprintf(" AND device_model = $%d", argIdx)
		args = append(args, *f.DeviceModel)
		argIdx++
	}
	if f.Deprecated != nil {
		where += fmt.Sprintf(" AND deprecated = $%d", argIdx)
		args = append(args, *f.Deprecated)
		argIdx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM firmwares "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count firmwares: %w", err)
	}

	orderCol := "created_at"
	switch f.SortBy {
	case "created_at", "name", "version", "device_model":
		orderCol = f.SortBy
	}
	orderDir := "DESC"
	if f.SortOrder == "asc" {
		orderDir = "ASC"
	}

	offset := (f.Page - 1) * f.PerPage
	query := fmt.Sprintf(
		`SELECT %s FROM firmwares %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		firmwareColumns, where, orderCol, orderDir, argIdx, argIdx+1,
	)
	args = append(args, f.PerPage, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list firmwares: %w", err)
	}
	defer rows.Close()

	var firmwares []*domain.Firmware
	for rows.Next() {
		fw, err := scanFirmware(rows)
		if err != nil {
			return nil, 0, err
		}
		firmwares = append(firmwares, fw)
	}

	if firmwares == nil {
		firmwares = []*domain.Firmware{}
	}

	return firmwares, total, nil
}

func (r *FirmwareRepo) SetDeprecated(ctx context.Context, id uuid.UUID, deprecated bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE firmwares SET deprecated = $1 WHERE id = $2`, deprecated, id)
	if err != nil {
		return fmt.Errorf("set firmware deprecated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *FirmwareRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM firmwares WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete firmware: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
