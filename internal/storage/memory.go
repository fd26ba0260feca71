package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps recordings in process memory. It backs local runs without
// a bucket and the service tests.
type MemoryStore struct {
	Bucket string
	Now    func() time.Time

	mu      sync.Mutex
	objects map[string]memObject
}

type memObject struct {
	data        []byte
	contentType string
	meta        map[string]string
	created     time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Bucket: "local", objects: map[string]memObject{}}
}

func (m *MemoryStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MemoryStore) Upload(ctx context.Context, in UploadInput) (UploadResult, error) {
	now := m.now()
	blobPath := BuildObjectPath(in.TenantID, in.Filename, now)
	meta, expires := buildMetadata(in, now)
	contentType := in.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(in.Filename)
	}

	m.mu.Lock()
	m.objects[blobPath] = memObject{data: append([]byte(nil), in.Data...), contentType: contentType, meta: meta, created: now}
	m.mu.Unlock()

	signed, err := m.GenerateSignedURL(ctx, blobPath, in.SignedURLMinutes)
	if err != nil {
		return UploadResult{}, err
	}
	return UploadResult{
		BlobPath:  blobPath,
		URI:       fmt.Sprintf("memory://%s/%s", m.Bucket, blobPath),
		SignedURL: signed,
		ExpiresAt: expires,
	}, nil
}

// Put stores data under an explicit path with the given metadata.
func (m *MemoryStore) Put(blobPath string, data []byte, meta map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[blobPath] = memObject{data: data, meta: meta, created: m.now()}
}

func (m *MemoryStore) GenerateSignedURL(ctx context.Context, blobPath string, minutes int) (string, error) {
	expires := m.now().Add(time.Duration(signedURLMinutes(minutes)) * time.Minute)
	return fmt.Sprintf("memory://%s/%s?expires=%d", m.Bucket, blobPath, expires.Unix()), nil
}

func (m *MemoryStore) Download(ctx context.Context, blobPath string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[blobPath]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *MemoryStore) Delete(ctx context.Context, blobPath string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[blobPath]; !ok {
		return false, nil
	}
	delete(m.objects, blobPath)
	return true, nil
}

func (m *MemoryStore) Exists(ctx context.Context, blobPath string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[blobPath]
	return ok, nil
}

func (m *MemoryStore) CleanupExpired(ctx context.Context) (int, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for p, obj := range m.objects {
		if strings.HasPrefix(p, AudioPrefix+"/") && isExpired(obj.meta, now) {
			delete(m.objects, p)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryStore) ListTenantFiles(ctx context.Context, tenantID string, max int) ([]FileInfo, error) {
	if max <= 0 {
		max = 100
	}
	prefix := AudioPrefix + "/" + tenantID + "/"
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []FileInfo{}
	for p, obj := range m.objects {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		out = append(out, FileInfo{BlobPath: p, Size: int64(len(obj.data)), ContentType: obj.contentType, CreatedAt: obj.created, Metadata: obj.meta})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlobPath < out[j].BlobPath })
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}
