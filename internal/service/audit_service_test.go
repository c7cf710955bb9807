package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Armada/internal/domain"
)

type mockAuditRepo struct {
	mu        sync.Mutex
	entries   []*domain.AuditEntry
	createErr error
	deleteErr error
}

func newMockAuditRepo() *mockAuditRepo {
	return &mockAuditRepo{}
}

func (m *mockAuditRepo) Create(_ context.Context, entry *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	entry.ID = uuid.New()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) List(_ context.Context, _ domain.AuditFilter) ([]*domain.AuditEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.AuditEntry, len(m.entries))
	copy(out, m.entries)
	return out, len(out), nil
}

func (m *mockAuditRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	var kept []*domain.AuditEntry
	var deleted int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return deleted, nil
}

func newAuditTestService(repo *mockAuditRepo) *AuditService {
	return NewAuditService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAuditLogSwallowsRepoErrors(t *testing.T) {
	repo := newMockAuditRepo()
	repo.createErr = errors.New("connection refused")
	svc := newAuditTestService(repo)

	// Log must never propagate failures to the operation being audited.
	svc.Log(context.Background(), &domain.AuditEntry{
		Actor: "operator@example.com", Action: "campaign.start", Resource: "campaign",
	})
}

func TestAuditPurgeDropsExpiredEntries(t *testing.T) {
	repo := newMockAuditRepo()
	svc := newAuditTestService(repo)
	ctx := context.Background()

	old := &domain.AuditEntry{Action: "firmware.upload", CreatedAt: time.Now().Add(-100 * 24 * time.Hour)}
	recent := &domain.AuditEntry{Action: "campaign.start", CreatedAt: time.Now().Add(-time.Hour)}
	for _, e := range []*domain.AuditEntry{old, recent} {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("seed entry: %v", err)
		}
	}

	deleted, err := svc.Purge(ctx, 90*24*time.Hour)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	entries, _, err := svc.List(ctx, domain.AuditFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "campaign.start" {
		t.Errorf("remaining entries = %v, want only the recent one", entries)
	}
}

func TestAuditPurgeDisabledRetention(t *testing.T) {
	repo := newMockAuditRepo()
	repo.deleteErr = errors.New("should not be called")
	svc := newAuditTestService(repo)

	deleted, err := svc.Purge(context.Background(), 0)
	if err != nil {
		t.Fatalf("Purge with zero retention: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}
