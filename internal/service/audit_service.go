package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/CaioWing/Armada/internal/domain"
)

type AuditService struct {
	repo domain.AuditRepository
	log  *slog.Logger
}

func NewAuditService(repo domain.AuditRepository, log *slog.Logger) *AuditService {
	return &AuditService{repo: repo, log: log}
}

// Log records an audit event. It is fire-and-forget: errors are logged but not propagated.
func (s *AuditService) Log(ctx context.Context, entry *domain.AuditEntry) {
	if entry.Details == nil {
		entry.Details = map[string]interface{}{}
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		s.log.Warn("failed to write audit log", "action", entry.Action, "err", err)
	}
}

func (s *AuditService) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, int, error) {
	return s.repo.List(ctx, filter)
}

// Purge removes entries older than the retention window and returns how many
// were deleted. A non-positive retention disables purging.
func (s *AuditService) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	return s.repo.DeleteOlderThan(ctx, time.Now().UTC().Add(-retention))
}

// RunRetention purges expired entries on every tick until the context ends.
func (s *AuditService) RunRetention(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Purge(ctx, retention)
			if err != nil {
				s.log.Warn("audit retention purge failed", "err", err)
				continue
			}
			if deleted > 0 {
				s.log.Info("audit retention purge", "deleted", deleted, "retention", retention)
			}
		}
	}
}
