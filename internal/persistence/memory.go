package persistence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and dry runs. Not durable.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []*Recording
	files  map[int64][]string
	kv     map[string]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		files:  make(map[int64][]string),
		kv:     make(map[string]string),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) AddRecording(_ context.Context, name, url string, start time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.rows = append(m.rows, &Recording{ID: id, Name: name, URL: url, StartTime: start})
	return id, nil
}

func (m *MemoryStore) UpdateTitle(_ context.Context, id int64, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.find(id); r != nil {
		r.Title = title
	}
	return nil
}

func (m *MemoryStore) UpdateCoverPath(_ context.Context, id int64, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.find(id); r != nil {
		r.CoverPath = path
	}
	return nil
}

func (m *MemoryStore) AppendFile(_ context.Context, id int64, fileName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[id] = append(m.files[id], fileName)
	return nil
}

func (m *MemoryStore) GetFiles(_ context.Context, id int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.files[id]...), nil
}

func (m *MemoryStore) GetLatestByStreamer(_ context.Context, name string) (*Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].Name == name {
			cp := *m.rows[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetByFileName(_ context.Context, fileName string) (*Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		for _, f := range m.files[m.rows[i].ID] {
			if f == fileName {
				cp := *m.rows[i]
				return &cp, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) PutKV(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *MemoryStore) GetKV(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// find must be called with mu held.
func (m *MemoryStore) find(id int64) *Recording {
	for _, r := range m.rows {
		if r.ID == id {
			return r
		}
	}
	return nil
}
