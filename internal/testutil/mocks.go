// Package testutil holds hand-written mocks of domain ports for tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"apitables/internal/domain"
)

// MockFetchHistoryRepo implements domain.FetchHistoryRepository for testing.
// Inserted records are collected for assertions.
type MockFetchHistoryRepo struct {
	InsertFn       func(ctx context.Context, rec *domain.FetchRecord) error
	GetByIDFn      func(ctx context.Context, id string) (*domain.FetchRecord, error)
	ListFn         func(ctx context.Context, filter domain.FetchHistoryFilter) ([]domain.FetchRecord, int64, error)
	DeleteBeforeFn func(ctx context.Context, before time.Time) (int64, error)

	mu      sync.Mutex
	Records []*domain.FetchRecord
}

var _ domain.FetchHistoryRepository = (*MockFetchHistoryRepo)(nil)

// Insert implements the interface method for testing.
func (m *MockFetchHistoryRepo) Insert(ctx context.Context, rec *domain.FetchRecord) error {
	if m.InsertFn != nil {
		if err := m.InsertFn(ctx, rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, rec)
	return nil
}

// GetByID implements the interface method for testing.
func (m *MockFetchHistoryRepo) GetByID(ctx context.Context, id string) (*domain.FetchRecord, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	panic("unexpected call to MockFetchHistoryRepo.GetByID")
}

// List implements the interface method for testing.
func (m *MockFetchHistoryRepo) List(ctx context.Context, filter domain.FetchHistoryFilter) ([]domain.FetchRecord, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockFetchHistoryRepo.List")
}

// DeleteBefore implements the interface method for testing.
func (m *MockFetchHistoryRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	if m.DeleteBeforeFn != nil {
		return m.DeleteBeforeFn(ctx, before)
	}
	panic("unexpected call to MockFetchHistoryRepo.DeleteBefore")
}

// Snapshot returns a copy of the collected records.
func (m *MockFetchHistoryRepo) Snapshot() []*domain.FetchRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.FetchRecord(nil), m.Records...)
}
