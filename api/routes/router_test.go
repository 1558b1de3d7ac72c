package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/contentcms/internal/files"
	"github.com/angelmondragon/contentcms/pkg/config"
	"github.com/angelmondragon/contentcms/pkg/db/models"
	"github.com/angelmondragon/contentcms/pkg/enums"
	"github.com/angelmondragon/contentcms/pkg/logger"
	"github.com/angelmondragon/contentcms/pkg/storage/s3"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type memoryIdempotency struct {
	data map[string]string
}

func (m *memoryIdempotency) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", goredis.Nil
}

func (m *memoryIdempotency) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key], _ = value.(string)
	return true, nil
}

func (m *memoryIdempotency) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key], _ = value.(string)
	return nil
}

func (m *memoryIdempotency) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryIdempotency) IdempotencyKey(scope, key string) string {
	return scope + ":" + key
}

type countingFileService struct {
	creates int
}

func (s *countingFileService) Create(ctx context.Context, input files.CreateInput) (*files.CreateResult, error) {
	s.creates++
	return &files.CreateResult{File: &models.File{ID: uuid.New(), Key: input.Key, Status: enums.FileStatusReady}}, nil
}

func (s *countingFileService) Get(ctx context.Context, id uuid.UUID) (*models.File, error) {
	return &models.File{ID: id}, nil
}

func (s *countingFileService) Update(ctx context.Context, id uuid.UUID, input files.UpdateInput) (*models.File, error) {
	return &models.File{ID: id}, nil
}

func (s *countingFileService) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (s *countingFileService) Recover(ctx context.Context, id uuid.UUID) (*files.RecoverResult, error) {
	return &files.RecoverResult{File: &models.File{ID: id}}, nil
}

func (s *countingFileService) PermanentDelete(ctx context.Context, id uuid.UUID) (*files.PurgeResult, error) {
	return &files.PurgeResult{FileIDs: []uuid.UUID{id}}, nil
}

type stubJobs struct{}

func (stubJobs) Get(ctx context.Context, id uuid.UUID) (*models.PipelineJob, error) {
	return &models.PipelineJob{ID: id, Name: enums.JobGenerateDerivatives, Status: enums.JobStatusQueued}, nil
}

func (stubJobs) Remove(ctx context.Context, id uuid.UUID) error {
	return nil
}

type stubCORS struct{}

func (stubCORS) PutBucketCORS(ctx context.Context, rules []s3.CORSRule) error {
	return nil
}

func newTestRouter(deps Dependencies) http.Handler {
	cfg := &config.Config{App: config.AppConfig{Env: "test", CORSOrigins: []string{"http://localhost:3000"}}}
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: &strings.Builder{}})
	return NewRouter(cfg, logg, deps)
}

func defaultDeps() (Dependencies, *countingFileService) {
	svc := &countingFileService{}
	return Dependencies{
		DB:          stubPinger{},
		Redis:       stubPinger{},
		Storage:     stubPinger{},
		Idempotency: &memoryIdempotency{data: map[string]string{}},
		FileService: svc,
		Jobs:        stubJobs{},
		BucketCORS:  stubCORS{},
	}, svc
}

func TestHealthRoutes(t *testing.T) {
	deps, _ := defaultDeps()
	router := newTestRouter(deps)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("live: expected 200 got %d", resp.Code)
	}

	deps.Storage = stubPinger{err: errors.New("bucket unreachable")}
	router = newTestRouter(deps)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready: expected 503 got %d", resp.Code)
	}
}

func TestFileRoutesAreMounted(t *testing.T) {
	deps, _ := defaultDeps()
	router := newTestRouter(deps)
	id := uuid.NewString()

	cases := []struct {
		method string
		path   string
		body   string
		key    string
	}{
		{http.MethodGet, "/api/v1/files/" + id, "", ""},
		{http.MethodPatch, "/api/v1/files/" + id, `{"section":"page"}`, ""},
		{http.MethodDelete, "/api/v1/files/" + id, "", ""},
		{http.MethodPost, "/api/v1/files/" + id + "/recover", "", "recover-1"},
		{http.MethodDelete, "/api/v1/files/" + id + "/permanent", "", "purge-1"},
		{http.MethodGet, "/api/admin/v1/jobs/" + id, "", ""},
		{http.MethodDelete, "/api/admin/v1/jobs/" + id, "", ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		if tc.key != "" {
			req.Header.Set("Idempotency-Key", tc.key)
		}
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s %s: expected 200 got %d: %s", tc.method, tc.path, resp.Code, resp.Body.String())
		}
	}
}

func TestCreateFileRequiresIdempotencyKey(t *testing.T) {
	deps, _ := defaultDeps()
	router := newTestRouter(deps)

	body := `{"key":"uploads/a.pdf","file_name":"a.pdf","mime_type":"application/pdf","size_bytes":10,"section":"page","policy":"private"}`
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/files", strings.NewReader(body)))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without idempotency key got %d", resp.Code)
	}
}

func TestCreateFileReplaysOnRetry(t *testing.T) {
	deps, svc := defaultDeps()
	router := newTestRouter(deps)

	body := `{"key":"uploads/a.pdf","file_name":"a.pdf","mime_type":"application/pdf","size_bytes":10,"section":"page","policy":"private"}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/files", strings.NewReader(body))
		req.Header.Set("Idempotency-Key", "upload-1")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201 got %d: %s", i, resp.Code, resp.Body.String())
		}
	}
	if svc.creates != 1 {
		t.Fatalf("expected one create, got %d", svc.creates)
	}
}
