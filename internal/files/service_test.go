package files

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentcms/internal/derivatives"
	"github.com/angelmondragon/contentcms/internal/jobs"
	"github.com/angelmondragon/contentcms/pkg/db/dbtest"
	"github.com/angelmondragon/contentcms/pkg/db/models"
	"github.com/angelmondragon/contentcms/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentcms/pkg/errors"
	"github.com/angelmondragon/contentcms/pkg/outbox"
)

type stubStorage struct {
	acl        map[string]enums.FilePolicy
	aclCalls   []string
	failACL    map[string]bool
	deleted    []string
	failDelete map[string]bool
}

func newStubStorage() *stubStorage {
	return &stubStorage{
		acl:        map[string]enums.FilePolicy{},
		failACL:    map[string]bool{},
		failDelete: map[string]bool{},
	}
}

func (s *stubStorage) PutObjectACL(ctx context.Context, key string, policy enums.FilePolicy) error {
	s.aclCalls = append(s.aclCalls, key)
	if s.failACL[key] {
		return pkgerrors.New(pkgerrors.CodeDependency, "acl rejected")
	}
	s.acl[key] = policy
	return nil
}

func (s *stubStorage) DeleteObjects(ctx context.Context, keys []string) ([]string, error) {
	var failed []string
	for _, key := range keys {
		if s.failDelete[key] {
			failed = append(failed, key)
			continue
		}
		s.deleted = append(s.deleted, key)
	}
	if len(failed) > 0 {
		return failed, errors.New("delete failed")
	}
	return nil, nil
}

type fixture struct {
	svc     Service
	conn    *gorm.DB
	repo    *Repository
	queue   *jobs.Queue
	storage *stubStorage
	events  *outbox.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, conn := dbtest.NewClient(t)
	repo := NewRepository(conn)
	queue := jobs.NewQueue(conn, 5)
	events := outbox.NewRepository(conn)
	storage := newStubStorage()

	svc, err := NewService(ServiceParams{
		DB:               client,
		Repository:       repo,
		Queue:            queue,
		Storage:          storage,
		Outbox:           outbox.NewService(events, nil),
		ImageMimeTypes:   []string{"image/*"},
		AllowedMimeTypes: []string{"image/*", "video/*", "audio/*", "application/pdf", "text/*"},
		PurgeGrace:       time.Minute,
		DeleteRetries:    2,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, conn: conn, repo: repo, queue: queue, storage: storage, events: events}
}

func (f *fixture) jobCount(t *testing.T, name enums.JobName, status enums.JobStatus) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.PipelineJob{}).
		Where("name = ? AND status = ?", name, status).
		Count(&n).Error)
	return n
}

func (f *fixture) createImage(t *testing.T, key string, section enums.FileSection) *CreateResult {
	t.Helper()
	res, err := f.svc.Create(context.Background(), CreateInput{
		Key:       key,
		FileName:  "photo.png",
		MimeType:  "image/png",
		SizeBytes: 2048,
		Section:   section,
		Policy:    enums.FilePolicyPublicRead,
	})
	require.NoError(t, err)
	return res
}

// addDerivative inserts a derivative row the way the writer does.
func (f *fixture) addDerivative(t *testing.T, root *models.File, size enums.ImageSize) *models.File {
	t.Helper()
	label := size.String()
	width := size.Width()
	row := &models.File{
		Key:               derivatives.DerivedKey(root.Key, label, false),
		Policy:            root.Policy,
		FileName:          derivatives.DerivedFileName(root.FileName, label, false),
		MimeType:          derivatives.JPEGContentType,
		SizeBytes:         100,
		Status:            enums.FileStatusReady,
		Section:           root.Section,
		ImageSizeCategory: &size,
		OriginalImageID:   &root.ID,
		Width:             &width,
	}
	require.NoError(t, f.repo.Create(context.Background(), row))
	return row
}

func TestCreateEligibility(t *testing.T) {
	f := newFixture(t)

	logo := f.createImage(t, "uploads/logo.png", enums.FileSectionSiteLogo)
	assert.Equal(t, enums.FileStatusReady, logo.File.Status)
	assert.Nil(t, logo.JobID)
	require.NotNil(t, logo.File.ImageSizeCategory)
	assert.Equal(t, enums.ImageSizeOriginal, *logo.File.ImageSizeCategory)
	assert.Zero(t, f.jobCount(t, enums.JobGenerateDerivatives, enums.JobStatusQueued))

	blog := f.createImage(t, "uploads/blog.png", enums.FileSectionBlog)
	assert.Equal(t, enums.FileStatusInProgress, blog.File.Status)
	require.NotNil(t, blog.JobID)
	assert.Equal(t, int64(1), f.jobCount(t, enums.JobGenerateDerivatives, enums.JobStatusQueued))

	job, err := f.queue.Get(context.Background(), *blog.JobID)
	require.NoError(t, err)
	require.NotNil(t, job.FileID)
	assert.Equal(t, blog.File.ID, *job.FileID)
}

func TestCreateNonImage(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Create(context.Background(), CreateInput{
		Key:       "docs/report.pdf",
		FileName:  "report.pdf",
		MimeType:  "application/pdf; charset=binary",
		SizeBytes: 10,
		Section:   enums.FileSectionPage,
		Policy:    enums.FilePolicyPrivate,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.FileStatusReady, res.File.Status)
	assert.Equal(t, "application/pdf", res.File.MimeType)
	assert.Nil(t, res.File.ImageSizeCategory)
	assert.Nil(t, res.JobID)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	valid := CreateInput{
		Key:       "uploads/a.png",
		FileName:  "a.png",
		MimeType:  "image/png",
		SizeBytes: 1,
		Section:   enums.FileSectionBlog,
		Policy:    enums.FilePolicyPublicRead,
	}
	cases := map[string]func(in *CreateInput){
		"empty key":       func(in *CreateInput) { in.Key = " " },
		"empty file name": func(in *CreateInput) { in.FileName = "" },
		"no base name":    func(in *CreateInput) { in.FileName = ".png" },
		"path in name":    func(in *CreateInput) { in.FileName = "dir/a.png" },
		"zero size":       func(in *CreateInput) { in.SizeBytes = 0 },
		"disallowed mime": func(in *CreateInput) { in.MimeType = "application/zip" },
		"malformed mime":  func(in *CreateInput) { in.MimeType = "image/" },
		"unknown section": func(in *CreateInput) { in.Section = "banner" },
		"unknown policy":  func(in *CreateInput) { in.Policy = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			_, err := f.svc.Create(context.Background(), in)
			require.Error(t, err)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
		})
	}
}

func TestCreateDuplicateKey(t *testing.T) {
	f := newFixture(t)
	f.createImage(t, "uploads/dup.png", enums.FileSectionBlog)

	_, err := f.svc.Create(context.Background(), CreateInput{
		Key:       "uploads/dup.png",
		FileName:  "dup.png",
		MimeType:  "image/png",
		SizeBytes: 1,
		Section:   enums.FileSectionBlog,
		Policy:    enums.FilePolicyPublicRead,
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
	assert.Equal(t, int64(1), f.jobCount(t, enums.JobGenerateDerivatives, enums.JobStatusQueued))
}

func TestTreeLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createImage(t, "uploads/tree.png", enums.FileSectionBlog)
	root := created.File
	small := f.addDerivative(t, root, enums.ImageSize75)
	large := f.addDerivative(t, root, enums.ImageSize1600)

	private := enums.FilePolicyPrivate
	gallery := enums.FileSectionGallery
	updated, err := f.svc.Update(ctx, small.ID, UpdateInput{Policy: &private, Section: &gallery})
	require.NoError(t, err)
	assert.Equal(t, enums.FilePolicyPrivate, updated.Policy)
	assert.ElementsMatch(t, []string{root.Key, small.Key, large.Key}, f.storage.aclCalls)

	tree, err := f.repo.FindTree(ctx, root.ID, false)
	require.NoError(t, err)
	require.Len(t, tree, 3)
	for _, member := range tree {
		assert.Equal(t, enums.FilePolicyPrivate, member.Policy)
		assert.Equal(t, enums.FileSectionGallery, member.Section)
	}

	renamed := "cover.png"
	_, err = f.svc.Update(ctx, root.ID, UpdateInput{FileName: &renamed})
	require.NoError(t, err)
	child, err := f.repo.FindByID(ctx, large.ID, false)
	require.NoError(t, err)
	assert.Equal(t, large.FileName, child.FileName)

	require.NoError(t, f.svc.SoftDelete(ctx, large.ID))
	trashed, err := f.repo.FindTree(ctx, root.ID, false)
	require.NoError(t, err)
	assert.Empty(t, trashed)
	assert.Zero(t, f.jobCount(t, enums.JobGenerateDerivatives, enums.JobStatusQueued))
	_, err = f.svc.Get(ctx, root.ID)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	recovered, err := f.svc.Recover(ctx, root.ID)
	require.NoError(t, err)
	require.NotNil(t, recovered.JobID)
	assert.Equal(t, enums.FileStatusInProgress, recovered.File.Status)
	withChildren, err := f.svc.Get(ctx, root.ID)
	require.NoError(t, err)
	assert.Len(t, withChildren.GeneratedImageChildren, 2)
	assert.Equal(t, int64(1), f.jobCount(t, enums.JobGenerateDerivatives, enums.JobStatusQueued))

	purge, err := f.svc.PermanentDelete(ctx, small.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{root.ID, small.ID, large.ID}, purge.FileIDs)
	assert.Len(t, purge.Keys, 17, "original key plus every derived key")
	assert.Empty(t, purge.PendingKeys)
	assert.Nil(t, purge.PurgeJobID)
	assert.ElementsMatch(t, purge.Keys, f.storage.deleted)

	_, err = f.repo.FindByID(ctx, root.ID, true)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
	_, err = f.repo.FindByID(ctx, small.ID, true)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
	assert.Zero(t, f.jobCount(t, enums.JobGenerateDerivatives, enums.JobStatusQueued))
	assert.Zero(t, f.jobCount(t, enums.JobPurgeObjects, enums.JobStatusQueued))

	events, err := f.events.ListForAggregate(nil, root.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventFilePurged, events[0].EventType)
}

func TestUpdatePolicyRollsBackOnACLFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.createImage(t, "uploads/acl.png", enums.FileSectionBlog).File
	child := f.addDerivative(t, root, enums.ImageSize320)
	f.storage.failACL[child.Key] = true

	private := enums.FilePolicyPrivate
	_, err := f.svc.Update(ctx, root.ID, UpdateInput{Policy: &private})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err))

	tree, err := f.repo.FindTree(ctx, root.ID, false)
	require.NoError(t, err)
	for _, member := range tree {
		assert.Equal(t, enums.FilePolicyPublicRead, member.Policy)
	}
	if _, touched := f.storage.acl[root.Key]; touched {
		assert.Equal(t, enums.FilePolicyPublicRead, f.storage.acl[root.Key], "applied acl must be reverted")
	}
}

func TestRecoverRequiresTrashedFile(t *testing.T) {
	f := newFixture(t)
	root := f.createImage(t, "uploads/live.png", enums.FileSectionBlog).File

	_, err := f.svc.Recover(context.Background(), root.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestRecoverReadyTreeDoesNotEnqueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.createImage(t, "uploads/ready.png", enums.FileSectionSiteLogo).File
	require.NoError(t, f.svc.SoftDelete(ctx, root.ID))

	res, err := f.svc.Recover(ctx, root.ID)
	require.NoError(t, err)
	assert.Nil(t, res.JobID)
	assert.Equal(t, enums.FileStatusReady, res.File.Status)
}

func TestPermanentDeleteLeavesPurgeJobForFailedKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.createImage(t, "uploads/stuck.png", enums.FileSectionBlog).File
	f.storage.failDelete[root.Key] = true

	res, err := f.svc.PermanentDelete(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{root.Key}, res.PendingKeys)
	require.NotNil(t, res.PurgeJobID)

	job, err := f.queue.Get(ctx, *res.PurgeJobID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobPurgeObjects, job.Name)
	assert.Equal(t, enums.JobStatusQueued, job.Status)

	var payload jobs.PurgeObjectsPayload
	require.NoError(t, jobs.DecodePayload(job.Payload, &payload))
	assert.Equal(t, root.ID, payload.FileID)
	assert.Contains(t, payload.Keys, root.Key)
}

func TestPermanentDeleteSparesKeysOfUnrelatedFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.createImage(t, "uploads/photo.png", enums.FileSectionBlog).File
	child := f.addDerivative(t, root, enums.ImageSize160)

	foreignKey := derivatives.DerivedKey(root.Key, enums.ImageSize480.String(), false)
	foreign, err := f.svc.Create(ctx, CreateInput{
		Key:       foreignKey,
		FileName:  "photo_size_480.jpg",
		MimeType:  "image/jpeg",
		SizeBytes: 512,
		Section:   enums.FileSectionSiteLogo,
		Policy:    enums.FilePolicyPublicRead,
	})
	require.NoError(t, err)
	trashedKey := derivatives.DerivedKey(root.Key, enums.ImageSize800.String(), true)
	trashed, err := f.svc.Create(ctx, CreateInput{
		Key:       trashedKey,
		FileName:  "photo_watermarked_size_800.jpg",
		MimeType:  "image/jpeg",
		SizeBytes: 512,
		Section:   enums.FileSectionSiteLogo,
		Policy:    enums.FilePolicyPublicRead,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.SoftDelete(ctx, trashed.File.ID))

	res, err := f.svc.PermanentDelete(ctx, root.ID)
	require.NoError(t, err)

	assert.Contains(t, f.storage.deleted, root.Key)
	assert.Contains(t, f.storage.deleted, child.Key)
	assert.Contains(t, f.storage.deleted, derivatives.DerivedKey(root.Key, enums.ImageSize75.String(), false))
	assert.NotContains(t, f.storage.deleted, foreignKey)
	assert.NotContains(t, f.storage.deleted, trashedKey)
	assert.NotContains(t, res.Keys, foreignKey)
	assert.NotContains(t, res.Keys, trashedKey)

	live, err := f.repo.FindByID(ctx, foreign.File.ID, false)
	require.NoError(t, err)
	assert.Equal(t, foreignKey, live.Key)
}

func TestPermanentDeleteUnknownFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.PermanentDelete(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}
