package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/contentcms/internal/settings"
	"github.com/angelmondragon/contentcms/pkg/storage/s3"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string]s3.PutInput
	puts    int
	deletes int
	failing map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string]s3.PutInput{}, failing: map[string]bool{}}
}

func (m *memoryStore) HeadObject(ctx context.Context, key string) (*s3.ObjectMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, s3.ErrObjectNotFound
	}
	return &s3.ObjectMeta{Key: key, Size: int64(len(obj.Body)), ContentType: obj.ContentType, Metadata: obj.Metadata}, nil
}

func (m *memoryStore) GetObject(ctx context.Context, key string) (*s3.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, s3.ErrObjectNotFound
	}
	return &s3.Object{
		ObjectMeta: s3.ObjectMeta{Key: key, Size: int64(len(obj.Body)), ContentType: obj.ContentType, Metadata: obj.Metadata},
		Body:       obj.Body,
	}, nil
}

func (m *memoryStore) PutObject(ctx context.Context, in s3.PutInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.objects[in.Key] = in
	return nil
}

func (m *memoryStore) DeleteObjects(ctx context.Context, keys []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var failed []string
	for _, key := range keys {
		if m.failing[key] {
			failed = append(failed, key)
			continue
		}
		m.deletes++
		delete(m.objects, key)
	}
	if len(failed) > 0 {
		return failed, errSlowDown
	}
	return nil, nil
}

var errSlowDown = errors.New("SlowDown: reduce your request rate")

func (m *memoryStore) putImage(t *testing.T, key string, img image.Image, format imaging.Format) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, format))
	m.objects[key] = s3.PutInput{Key: key, Body: buf.Bytes(), ContentType: "image/png", Metadata: map[string]string{"uploaded-by": "test"}}
}

func (m *memoryStore) decode(t *testing.T, key string) image.Image {
	t.Helper()
	obj, ok := m.objects[key]
	require.True(t, ok, "object %s missing", key)
	img, err := imaging.Decode(bytes.NewReader(obj.Body))
	require.NoError(t, err)
	return img
}

type memoryLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{held: map[string]string{}}
}

func (l *memoryLocker) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = token
	return true, nil
}

func (l *memoryLocker) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func (l *memoryLocker) PipelineLockKey(fileID string) string {
	return "cms:lock:pipeline:" + fileID
}

type stubLoader struct {
	cfg settings.WatermarkConfig
	err error
}

func (s *stubLoader) LoadWatermarkConfig(ctx context.Context) (settings.WatermarkConfig, error) {
	return s.cfg, s.err
}

func solid(w, h int, c color.Color) *image.NRGBA {
	return imaging.New(w, h, c)
}
