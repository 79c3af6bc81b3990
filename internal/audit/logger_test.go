package audit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"qc-review/internal/models"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) InsertAudit(ctx context.Context, e models.AuditEntry) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *mockRepo) ListAudit(ctx context.Context, assetID string) ([]models.AuditEntry, error) {
	args := m.Called(ctx, assetID)
	entries, _ := args.Get(0).([]models.AuditEntry)
	return entries, args.Error(1)
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) Archive(ctx context.Context, e models.AuditEntry) error {
	return m.Called(ctx, e).Error(0)
}

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	repo := new(mockRepo)
	repo.On("InsertAudit", mock.Anything, mock.MatchedBy(func(e models.AuditEntry) bool {
		return e.ID != "" && e.AssetID == "a-1" && e.Remarks == "fine" && !e.Timestamp.IsZero()
	})).Return(nil).Once()

	logger := NewLogger(repo, nil)
	fixed := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	logger.now = func() time.Time { return fixed }

	entry, err := logger.Record(context.Background(), models.AuditEntry{AssetID: "a-1", Decision: models.DecisionApprove, Remarks: "  fine "})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, fixed, entry.Timestamp)
	repo.AssertExpectations(t)
}

func TestRecordInsertFailureIsAuditWriteError(t *testing.T) {
	repo := new(mockRepo)
	repo.On("InsertAudit", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
	archiver := new(mockArchiver)

	_, err := NewLogger(repo, archiver).Record(context.Background(), models.AuditEntry{AssetID: "a-1", Decision: models.DecisionReject})
	var auditErr *models.AuditWriteError
	require.ErrorAs(t, err, &auditErr)
	assert.Equal(t, "a-1", auditErr.AssetID)
	archiver.AssertNotCalled(t, "Archive", mock.Anything, mock.Anything)
}

func TestRecordArchiveFailureIsNotFatal(t *testing.T) {
	repo := new(mockRepo)
	repo.On("InsertAudit", mock.Anything, mock.Anything).Return(nil)
	archiver := new(mockArchiver)
	archiver.On("Archive", mock.Anything, mock.Anything).Return(errors.New("s3 down")).Once()

	_, err := NewLogger(repo, archiver).Record(context.Background(), models.AuditEntry{AssetID: "a-1", Decision: models.DecisionApprove})
	require.NoError(t, err)
	archiver.AssertExpectations(t)
}

func TestHistoryNewestFirstWithIDTiebreak(t *testing.T) {
	t0 := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	repo := new(mockRepo)
	repo.On("ListAudit", mock.Anything, "a-1").Return([]models.AuditEntry{
		{ID: "e-1", Timestamp: t0},
		{ID: "e-3", Timestamp: t0.Add(time.Second)},
		{ID: "e-2", Timestamp: t0.Add(time.Second)},
	}, nil)
	repo.On("ListAudit", mock.Anything, "none").Return(nil, nil)

	logger := NewLogger(repo, nil)
	got, err := logger.History(context.Background(), "a-1")
	require.NoError(t, err)
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	assert.Equal(t, []string{"e-3", "e-2", "e-1"}, ids)

	empty, err := logger.History(context.Background(), "none")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestHistoryBreaksTimestampTiesOnAssetVersion(t *testing.T) {
	t0 := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	repo := new(mockRepo)
	// Random ids sort opposite to the decision order here.
	repo.On("ListAudit", mock.Anything, "a-1").Return([]models.AuditEntry{
		{ID: "ffff", Decision: models.DecisionApprove, AssetVersion: 1, Timestamp: t0},
		{ID: "0000", Decision: models.DecisionReject, AssetVersion: 2, Timestamp: t0},
	}, nil)

	got, err := NewLogger(repo, nil).History(context.Background(), "a-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.DecisionReject, got[0].Decision)
	assert.Equal(t, models.DecisionApprove, got[1].Decision)
}

type captureUploader struct {
	input *s3.PutObjectInput
	body  []byte
}

func (c *captureUploader) Upload(ctx context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	c.input = input
	b, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	c.body = b
	return &manager.UploadOutput{}, nil
}

func TestS3ArchiverKeyLayout(t *testing.T) {
	up := &captureUploader{}
	a := &S3Archiver{bucket: "audit-bucket", prefix: "prod", uploader: up}
	entry := models.AuditEntry{
		ID:        "e-42",
		AssetID:   "a-1",
		Decision:  models.DecisionRework,
		Remarks:   "crop",
		Timestamp: time.Date(2026, 2, 3, 23, 59, 0, 0, time.UTC),
	}
	require.NoError(t, a.Archive(context.Background(), entry))
	require.NotNil(t, up.input)
	assert.Equal(t, "audit-bucket", *up.input.Bucket)
	assert.Equal(t, "prod/qc-audit/2026/02/03/e-42.json", *up.input.Key)
	assert.Contains(t, string(up.body), `"decision":"rework"`)

	assert.Equal(t, "qc-audit/2026/02/03/e-42.json", ObjectKey("", entry))
}
