// Package store は予測レコードのドキュメントストアです。
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"commodity-forecast-api/pkg/models"
)

// ErrNotFound レコードが存在しない
var ErrNotFound = errors.New("prediction record not found")

// ListFilter 一覧取得の条件
type ListFilter struct {
	Commodity string
	Limit     int
}

// PredictionStore は予測レコードの保存先です。レコードは (uid, id) で識別します。
// Upsert は同じレコードを上書きしますが、createdAt は最初の書き込み時の値を保ちます。
// outputs が空の書き込み（ワークフロー失敗時）は既存の outputs を残します。
type PredictionStore interface {
	Upsert(ctx context.Context, record models.PredictionRecord, now time.Time) (*models.PredictionRecord, error)
	Get(ctx context.Context, uid, id string) (*models.PredictionRecord, error)
	List(ctx context.Context, uid string, filter ListFilter) ([]models.PredictionRecord, error)
	Delete(ctx context.Context, uid, id string) error
}

const defaultListLimit = 50

// MemoryStore はメモリ上のPredictionStoreです。開発環境とテストで使います。
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]models.PredictionRecord
}

type recordKey struct {
	uid string
	id  string
}

// NewMemoryStore は新しいMemoryStoreを生成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]models.PredictionRecord)}
}

func (s *MemoryStore) Upsert(_ context.Context, record models.PredictionRecord, now time.Time) (*models.PredictionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{uid: record.UID, id: record.ID}
	record.CreatedAt = now
	if existing, ok := s.records[key]; ok {
		record.CreatedAt = existing.CreatedAt
		if len(record.Outputs) == 0 {
			record.Outputs = existing.Outputs
		}
	}
	record.UpdatedAt = now
	s.records[key] = record
	return &record, nil
}

func (s *MemoryStore) Get(_ context.Context, uid, id string) (*models.PredictionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[recordKey{uid: uid, id: id}]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (s *MemoryStore) List(_ context.Context, uid string, filter ListFilter) ([]models.PredictionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.PredictionRecord, 0)
	for _, record := range s.records {
		if record.UID != uid {
			continue
		}
		if filter.Commodity != "" && record.Commodity != filter.Commodity {
			continue
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, uid, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{uid: uid, id: id}
	if _, ok := s.records[key]; !ok {
		return ErrNotFound
	}
	delete(s.records, key)
	return nil
}
