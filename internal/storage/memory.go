package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// Memory is an in-process Storage. Objects live only as long as the
// process, so it suits tests and single-process local runs.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	data        []byte
	contentType string
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

func (m *Memory) Upload(_ context.Context, bucket, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read upload data: %w", err)
	}
	m.mu.Lock()
	m.objects[bucket+"/"+path] = memObject{data: b, contentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Download(_ context.Context, bucket, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[bucket+"/"+path]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, path, ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *Memory) GetPublicURL(bucket, path string) string {
	return "mem://" + bucket + "/" + path
}

// ContentType returns the stored content type and whether the object exists.
func (m *Memory) ContentType(bucket, path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[bucket+"/"+path]
	return obj.contentType, ok
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
