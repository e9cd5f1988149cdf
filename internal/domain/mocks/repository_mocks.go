package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/V4T54L/auditd-ingest/internal/domain"
)

// MockRecordRepository is an in-memory implementation of domain.RecordRepository for testing.
type MockRecordRepository struct {
	mu          sync.Mutex
	Records     map[string]domain.AuditRecord
	Inserted    []string
	ExistsCalls int
	Commits     int
	Rollbacks   int
	Now         func() time.Time
	InsertErr   error
	MaxErr      error
	ExistsErr   error
}

// NewMockRecordRepository returns an empty repository whose clock is now.
func NewMockRecordRepository(now time.Time) *MockRecordRepository {
	return &MockRecordRepository{
		Records: make(map[string]domain.AuditRecord),
		Now:     func() time.Time { return now },
	}
}

func (m *MockRecordRepository) Insert(ctx context.Context, record *domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	if _, ok := m.Records[record.LogID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, record.LogID)
	}
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = m.Now()
	}
	m.Records[record.LogID] = *record
	m.Inserted = append(m.Inserted, record.LogID)
	return nil
}

func (m *MockRecordRepository) MaxRunNumber(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MaxErr != nil {
		return 0, m.MaxErr
	}
	maxRun := 0
	for _, r := range m.Records {
		if r.RunNumber > maxRun {
			maxRun = r.RunNumber
		}
	}
	return maxRun, nil
}

func (m *MockRecordRepository) MaxTimestamp(ctx context.Context, column domain.TimestampColumn) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MaxErr != nil {
		return time.Time{}, false, m.MaxErr
	}
	var (
		latest time.Time
		found  bool
	)
	for _, r := range m.Records {
		t := r.EventTimestamp
		if column == domain.ColumnProcessedAt {
			t = r.ProcessedAt
		}
		if !found || t.After(latest) {
			latest, found = t, true
		}
	}
	return latest, found, nil
}

func (m *MockRecordRepository) Exists(ctx context.Context, logID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExistsCalls++
	if m.ExistsErr != nil {
		return false, m.ExistsErr
	}
	_, ok := m.Records[logID]
	return ok, nil
}

// WithTx restores the previous records when fn fails.
func (m *MockRecordRepository) WithTx(ctx context.Context, fn func(store domain.RecordStore) error) error {
	m.mu.Lock()
	snapshot := make(map[string]domain.AuditRecord, len(m.Records))
	for k, v := range m.Records {
		snapshot[k] = v
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.Records = snapshot
		m.Rollbacks++
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.Commits++
	m.mu.Unlock()
	return nil
}

// Count returns the number of stored records.
func (m *MockRecordRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Records)
}

// MockRunLock is a mock implementation of domain.RunLock for testing.
type MockRunLock struct {
	mu         sync.Mutex
	Acquired   int
	Released   int
	AcquireErr error
}

func (m *MockRunLock) Acquire(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AcquireErr != nil {
		return m.AcquireErr
	}
	m.Acquired++
	return nil
}

func (m *MockRunLock) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Released++
	return nil
}

// MockQuarantineRepository is a mock implementation of domain.QuarantineRepository for testing.
type MockQuarantineRepository struct {
	mu       sync.Mutex
	Events   []domain.QuarantinedEvent
	WriteErr error
}

func (m *MockQuarantineRepository) Write(ctx context.Context, event domain.QuarantinedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Events = append(m.Events, event)
	return nil
}

func (m *MockQuarantineRepository) Replay(ctx context.Context, handler func(event domain.QuarantinedEvent) error) error {
	m.mu.Lock()
	events := append([]domain.QuarantinedEvent(nil), m.Events...)
	m.mu.Unlock()
	for _, event := range events {
		if err := handler(event); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockQuarantineRepository) Truncate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = nil
	return nil
}
