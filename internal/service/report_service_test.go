package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mwalimu-mwangi/attendance-system/internal/models"
	"github.com/mwalimu-mwangi/attendance-system/internal/repository"
	appErrors "github.com/mwalimu-mwangi/attendance-system/pkg/errors"
	"github.com/mwalimu-mwangi/attendance-system/pkg/storage"
)

type mockReportRepo struct {
	jobs    map[string]*models.ReportJob
	updates []repository.UpdateReportJobParams
}

func (m *mockReportRepo) Create(ctx context.Context, job *models.ReportJob) error {
	if m.jobs == nil {
		m.jobs = make(map[string]*models.ReportJob)
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *mockReportRepo) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return job, nil
}

func (m *mockReportRepo) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	m.updates = append(m.updates, params)
	if job, ok := m.jobs[id]; ok {
		if params.Status != nil {
			job.Status = *params.Status
		}
		if params.ResultURL != nil {
			job.ResultURL = params.ResultURL
		}
		if params.ErrorMessage != nil {
			job.ErrorMessage = params.ErrorMessage
		}
		if params.FinishedAt != nil {
			job.FinishedAt = params.FinishedAt
		}
	}
	return nil
}

func (m *mockReportRepo) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	return nil, nil
}

type mockReportData struct {
	rows    []models.ClassReportRow
	history []models.AttendanceHistoryRow
	summary *models.AttendanceSummary
}

func (m *mockReportData) LessonReport(ctx context.Context, lessonID string) ([]models.ClassReportRow, error) {
	return m.rows, nil
}

func (m *mockReportData) ClassReport(ctx context.Context, classID string) ([]models.ClassReportRow, error) {
	return m.rows, nil
}

func (m *mockReportData) StudentHistory(ctx context.Context, studentID string) ([]models.AttendanceHistoryRow, error) {
	return m.history, nil
}

func (m *mockReportData) StudentSummary(ctx context.Context, studentID string) (*models.AttendanceSummary, error) {
	return m.summary, nil
}

func newTestReportService(t *testing.T, repo *mockReportRepo, data *mockReportData) *ReportService {
	t.Helper()
	files, err := storage.NewExportDir(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewTokenSigner("secret", time.Hour)
	return NewReportService(
		repo, data,
		&mockStudentLookup{student: &models.Student{ID: testStudentID, FullName: "Jane Student", AdmissionNo: "ADM-001"}},
		files, signer, nil,
		validator.New(), zap.NewNop(),
		func() time.Time { return markTuesday },
		ReportQueueConfig{Workers: 1, MaxRetries: 1},
	)
}

func TestReportEnqueueRequiresTypeParams(t *testing.T) {
	svc := newTestReportService(t, &mockReportRepo{}, &mockReportData{})
	actor := Actor{UserID: "admin-1", Role: models.RoleAdmin}

	_, err := svc.Enqueue(context.Background(), actor, CreateReportRequest{
		Type:   models.ReportTypeLessonRoster,
		Format: models.ReportFormatCSV,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Enqueue(context.Background(), actor, CreateReportRequest{
		Type:   models.ReportTypeStudentHistory,
		Format: models.ReportFormatPDF,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportEnqueueRejectsUnknownFormat(t *testing.T) {
	svc := newTestReportService(t, &mockReportRepo{}, &mockReportData{})

	lessonID := testLessonID
	_, err := svc.Enqueue(context.Background(), Actor{UserID: "admin-1"}, CreateReportRequest{
		Type:     models.ReportTypeLessonRoster,
		Format:   "xlsx",
		LessonID: &lessonID,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportEnqueueCreatesQueuedJob(t *testing.T) {
	repo := &mockReportRepo{}
	svc := newTestReportService(t, repo, &mockReportData{})

	lessonID := testLessonID
	job, err := svc.Enqueue(context.Background(), Actor{UserID: "admin-1"}, CreateReportRequest{
		Type:     models.ReportTypeLessonRoster,
		Format:   models.ReportFormatCSV,
		LessonID: &lessonID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, job.Status)
	assert.Equal(t, "admin-1", job.CreatedBy)
	assert.Contains(t, repo.jobs, job.ID)
}

func TestReportProcessGeneratesCSV(t *testing.T) {
	repo := &mockReportRepo{}
	data := &mockReportData{rows: []models.ClassReportRow{
		{AdmissionNo: "ADM-001", StudentName: "Jane Student", Subject: "Maths", Status: models.AttendanceStatusPresent, MarkedAt: markTuesday},
	}}
	svc := newTestReportService(t, repo, data)
	svc.queue.Start(context.Background())
	defer svc.queue.Stop()

	lessonID := testLessonID
	job, err := svc.Enqueue(context.Background(), Actor{UserID: "admin-1"}, CreateReportRequest{
		Type:     models.ReportTypeLessonRoster,
		Format:   models.ReportFormatCSV,
		LessonID: &lessonID,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, err := svc.Get(context.Background(), job.ID)
		return err == nil && stored.Status == models.ReportStatusFinished
	}, 2*time.Second, 20*time.Millisecond)

	stored, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResultURL)
	assert.True(t, strings.HasPrefix(*stored.ResultURL, "/api/reports/download/"))

	token := strings.TrimPrefix(*stored.ResultURL, "/api/reports/download/")
	file, _, err := svc.Download(token)
	require.NoError(t, err)
	defer file.Close()
}

func TestReportDownloadRejectsBadToken(t *testing.T) {
	svc := newTestReportService(t, &mockReportRepo{}, &mockReportData{})

	_, _, err := svc.Download("tampered-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestHistoryDatasetAppendsSummaryRow(t *testing.T) {
	history := []models.AttendanceHistoryRow{
		{Subject: "Maths", DayOfWeek: 2, Status: models.AttendanceStatusPresent, MarkedAt: markTuesday},
	}
	summary := &models.AttendanceSummary{Present: 9, Absent: 1, Total: 10, Percent: 90}

	data := historyDataset(history, summary)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, "TOTAL", data.Rows[1]["Subject"])
	assert.Equal(t, "9 present / 1 absent", data.Rows[1]["Status"])
	assert.Equal(t, "90.0%", data.Rows[1]["Marked At"])
}
