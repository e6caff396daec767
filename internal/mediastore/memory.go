package mediastore

import (
	"context"
	"net/url"
	"sync"
)

// Memory keeps objects in process. FailPut and FailDelete let tests break
// individual paths.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	baseURL string

	FailPut    func(path string) error
	FailDelete func(path string) error
}

func NewMemory(baseURL string) *Memory {
	return &Memory{objects: make(map[string][]byte), baseURL: baseURL}
}

func (m *Memory) Put(ctx context.Context, path string, data []byte, contentType string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	if len(data) == 0 {
		return Object{}, ErrEmptyUpload
	}
	if m.FailPut != nil {
		if err := m.FailPut(path); err != nil {
			return Object{}, err
		}
	}

	m.mu.Lock()
	m.objects[path] = append([]byte(nil), data...)
	m.mu.Unlock()

	u, err := url.JoinPath(m.baseURL, path)
	if err != nil {
		return Object{}, err
	}
	return Object{Path: path, URL: u, Size: int64(len(data)), ContentType: contentType}, nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailDelete != nil {
		if err := m.FailDelete(path); err != nil {
			return err
		}
	}
	m.mu.Lock()
	delete(m.objects, path)
	m.mu.Unlock()
	return nil
}

// Has reports whether path is stored.
func (m *Memory) Has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok
}

// Len is the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
