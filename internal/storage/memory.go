package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ignite/smart-import/internal/datanorm"
)

// MemoryStore keeps records in process. It applies the same merge rule as
// PostgresStore and is used by the CLI dry runs and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]map[string]datanorm.Value
	// FailOn makes upserts whose key contains the substring fail.
	FailOn string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]map[string]datanorm.Value{}}
}

func dailyKey(clientID string, platform datanorm.Platform, kind datanorm.ContentKind, date string) string {
	return strings.Join([]string{datanorm.DailyTable, clientID, string(platform), string(kind), date}, "|")
}

func entityKey(clientID string, platform datanorm.Platform, table, externalID string) string {
	return strings.Join([]string{table, clientID, string(platform), externalID}, "|")
}

func (s *MemoryStore) UpsertDailyMetric(_ context.Context, clientID string, platform datanorm.Platform, kind datanorm.ContentKind, date string, fields map[string]datanorm.Value) error {
	if !datanorm.IsCanonicalDate(date) {
		return fmt.Errorf("upsert %s: %w: %q", kind, datanorm.ErrInvalidDate, date)
	}
	return s.upsert(dailyKey(clientID, platform, kind, date), fields)
}

func (s *MemoryStore) UpsertEntity(_ context.Context, clientID string, platform datanorm.Platform, table, externalID string, fields map[string]datanorm.Value) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if externalID == "" {
		return fmt.Errorf("upsert %s: empty external id", table)
	}
	return s.upsert(entityKey(clientID, platform, table, externalID), fields)
}

func (s *MemoryStore) upsert(key string, fields map[string]datanorm.Value) error {
	if s.FailOn != "" && strings.Contains(key, s.FailOn) {
		return fmt.Errorf("upsert %s: injected failure", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[key]
	if !ok {
		row = map[string]datanorm.Value{}
		s.rows[key] = row
	}
	for k, v := range fields {
		if v.Imputed {
			if _, exists := row[k]; exists {
				continue
			}
			row[k] = v
			continue
		}
		if v.Populated() {
			row[k] = v
		}
	}
	return nil
}

// Daily returns a stored daily row.
func (s *MemoryStore) Daily(clientID string, platform datanorm.Platform, kind datanorm.ContentKind, date string) (map[string]datanorm.Value, bool) {
	return s.get(dailyKey(clientID, platform, kind, date))
}

// Entity returns a stored entity row.
func (s *MemoryStore) Entity(clientID string, platform datanorm.Platform, table, externalID string) (map[string]datanorm.Value, bool) {
	return s.get(entityKey(clientID, platform, table, externalID))
}

func (s *MemoryStore) get(key string) (map[string]datanorm.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[key]
	if !ok {
		return nil, false
	}
	out := make(map[string]datanorm.Value, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out, true
}

// Len returns the number of stored rows across all tables.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
