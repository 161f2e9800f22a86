package testutil

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/libraryd/apiserver/internal/storage"
)

// Object is a stored blob with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// ObjectStore is an in-memory storage.ObjectStorage.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string]Object
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string]Object)}
}

func (s *ObjectStore) EnsureBucket(context.Context) error { return nil }

func (s *ObjectStore) Bucket() string { return "memory" }

func (s *ObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{Data: data, ContentType: contentType}
	return nil
}

func (s *ObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.Data)), nil
}

func (s *ObjectStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Object returns the blob stored under key.
func (s *ObjectStore) Object(key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Len reports how many objects are stored.
func (s *ObjectStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

var _ storage.ObjectStorage = (*ObjectStore)(nil)
