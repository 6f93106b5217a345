// Package storage はレポートファイルのオブジェクトストレージです。
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"commodity-forecast-api/pkg/models"
)

// ErrObjectNotFound オブジェクトが存在しない
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage はアップロード、一覧、削除、署名付きURLの発行を提供します。
type ObjectStorage interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	List(ctx context.Context, prefix string) ([]models.ReportObject, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type memoryObject struct {
	body         []byte
	contentType  string
	lastModified time.Time
}

// MemoryStorage はメモリ上のObjectStorageです。S3未設定の開発環境とテストで使います。
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string
	now     func() time.Time
}

// NewMemoryStorage は新しいMemoryStorageを生成します。baseURL は署名付きURLの代わりに返すURLの接頭辞です。
func NewMemoryStorage(baseURL string) *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string]memoryObject),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		now:     time.Now,
	}
}

func (m *MemoryStorage) Put(_ context.Context, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{
		body:         append([]byte(nil), body...),
		contentType:  contentType,
		lastModified: m.now(),
	}
	return nil
}

func (m *MemoryStorage) List(_ context.Context, prefix string) ([]models.ReportObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ReportObject, 0)
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, models.ReportObject{
			Key:          key,
			Size:         int64(len(obj.body)),
			LastModified: obj.lastModified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryStorage) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[key]; !ok {
		return "", ErrObjectNotFound
	}
	expires := m.now().Add(ttl).Unix()
	return fmt.Sprintf("%s/%s?expires=%d", m.baseURL, key, expires), nil
}

// Object はテスト用に保存済みの本文を返します。
func (m *MemoryStorage) Object(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj.body, ok
}
