package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mwalimu-mwangi/attendance-system/internal/models"
	"github.com/mwalimu-mwangi/attendance-system/internal/repository"
	appErrors "github.com/mwalimu-mwangi/attendance-system/pkg/errors"
	"github.com/mwalimu-mwangi/attendance-system/pkg/export"
	"github.com/mwalimu-mwangi/attendance-system/pkg/jobs"
	"github.com/mwalimu-mwangi/attendance-system/pkg/storage"
)

type reportRepository interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error)
}

type reportDataSource interface {
	LessonReport(ctx context.Context, lessonID string) ([]models.ClassReportRow, error)
	ClassReport(ctx context.Context, classID string) ([]models.ClassReportRow, error)
	StudentHistory(ctx context.Context, studentID string) ([]models.AttendanceHistoryRow, error)
	StudentSummary(ctx context.Context, studentID string) (*models.AttendanceSummary, error)
}

type reportMetrics interface {
	ObserveReportGeneration(reportType models.ReportType, format models.ReportFormat, duration time.Duration)
}

// CreateReportRequest holds payload for queuing an asynchronous report.
type CreateReportRequest struct {
	Type      models.ReportType   `json:"type" validate:"required"`
	Format    models.ReportFormat `json:"format" validate:"required"`
	LessonID  *string             `json:"lesson_id,omitempty" validate:"omitempty,uuid"`
	ClassID   *string             `json:"class_id,omitempty" validate:"omitempty,uuid"`
	StudentID *string             `json:"student_id,omitempty" validate:"omitempty,uuid"`
}

// ReportService queues, generates and serves downloadable attendance reports.
type ReportService struct {
	repo      reportRepository
	data      reportDataSource
	students  attendanceStudentLookup
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	files     *storage.ExportDir
	signer    *storage.TokenSigner
	queue     *jobs.Queue
	metrics   reportMetrics
	validator *validator.Validate
	logger    *zap.Logger
	clock     func() time.Time
}

// ReportQueueConfig tunes the background worker pool.
type ReportQueueConfig struct {
	Workers    int
	MaxRetries int
}

// NewReportService constructs the report service and its worker queue.
func NewReportService(
	repo reportRepository,
	data reportDataSource,
	students attendanceStudentLookup,
	files *storage.ExportDir,
	signer *storage.TokenSigner,
	metrics reportMetrics,
	validate *validator.Validate,
	logger *zap.Logger,
	clock func() time.Time,
	cfg ReportQueueConfig,
) *ReportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	s := &ReportService{
		repo:      repo,
		data:      data,
		students:  students,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		files:     files,
		signer:    signer,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		clock:     clock,
	}
	s.queue = jobs.NewQueue("reports", s.process, jobs.Config{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return s
}

// Start launches the worker pool and re-enqueues jobs left QUEUED by a
// previous run.
func (s *ReportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
	pending, err := s.repo.ListQueued(ctx, 100)
	if err != nil {
		s.logger.Warn("failed to recover queued report jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(job.ID); err != nil {
			s.logger.Warn("failed to re-enqueue report job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// Stop drains the worker pool.
func (s *ReportService) Stop() {
	s.queue.Stop()
}

// Enqueue validates and queues a report job, returning its metadata.
func (s *ReportService) Enqueue(ctx context.Context, actor Actor, req CreateReportRequest) (*models.ReportJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload")
	}
	if req.Format != models.ReportFormatCSV && req.Format != models.ReportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	switch req.Type {
	case models.ReportTypeLessonRoster:
		if req.LessonID == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "lesson_id is required for lesson roster reports")
		}
	case models.ReportTypeClassRegister:
		if req.ClassID == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "class_id is required for class register reports")
		}
	case models.ReportTypeStudentHistory:
		if req.StudentID == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "student_id is required for student history reports")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown report type")
	}

	job := &models.ReportJob{
		ID:   uuid.NewString(),
		Type: req.Type,
		Params: models.ReportJobParams{
			LessonID:  req.LessonID,
			ClassID:   req.ClassID,
			StudentID: req.StudentID,
			Format:    req.Format,
		},
		Status:    models.ReportStatusQueued,
		CreatedBy: actor.UserID,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report job")
	}
	if err := s.queue.Enqueue(job.ID); err != nil {
		s.logger.Warn("failed to enqueue report job; recovery picks it up on restart",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	return job, nil
}

// Get returns report job metadata.
func (s *ReportService) Get(ctx context.Context, id string) (*models.ReportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	return job, nil
}

// Download resolves a signed token to the generated file.
func (s *ReportService) Download(token string) (*os.File, string, error) {
	grant, err := s.signer.Verify(token)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download link")
	}
	file, err := s.files.Open(grant.File)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "report file no longer available")
	}
	return file, grant.File, nil
}

func (s *ReportService) process(ctx context.Context, jobID string) error {
	started := s.clock()
	row, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load report job %s: %w", jobID, err)
	}
	if row.Status == models.ReportStatusFinished {
		return nil
	}

	processing := models.ReportStatusProcessing
	if err := s.repo.Update(ctx, row.ID, repository.UpdateReportJobParams{Status: &processing}); err != nil {
		return fmt.Errorf("mark report job processing: %w", err)
	}

	dataset, title, err := s.buildDataset(ctx, row)
	if err == nil {
		var rendered []byte
		switch row.Params.Format {
		case models.ReportFormatPDF:
			rendered, err = s.pdf.Render(dataset, title, fmt.Sprintf("Generated %s", s.clock().UTC().Format(time.RFC1123)))
		default:
			rendered, err = s.csv.Render(dataset)
		}
		if err == nil {
			filename := fmt.Sprintf("%s-%s.%s", row.Type, row.ID, row.Params.Format)
			if _, err = s.files.Save(filename, rendered); err == nil {
				var token string
				token, _, err = s.signer.Sign(row.ID, filename)
				if err == nil {
					finished := models.ReportStatusFinished
					finishedAt := s.clock().UTC()
					url := "/api/reports/download/" + token
					err = s.repo.Update(ctx, row.ID, repository.UpdateReportJobParams{
						Status:     &finished,
						ResultURL:  &url,
						FinishedAt: &finishedAt,
					})
				}
			}
		}
	}
	if err != nil {
		failed := models.ReportStatusFailed
		msg := err.Error()
		if updateErr := s.repo.Update(ctx, row.ID, repository.UpdateReportJobParams{Status: &failed, ErrorMessage: &msg}); updateErr != nil {
			s.logger.Error("failed to mark report job failed", zap.String("job_id", row.ID), zap.Error(updateErr))
		}
		return fmt.Errorf("generate report %s: %w", row.ID, err)
	}

	if s.metrics != nil {
		s.metrics.ObserveReportGeneration(row.Type, row.Params.Format, s.clock().Sub(started))
	}
	s.logger.Info("report generated",
		zap.String("job_id", row.ID),
		zap.String("type", string(row.Type)),
		zap.String("format", string(row.Params.Format)),
	)
	return nil
}

func (s *ReportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeLessonRoster:
		rows, err := s.data.LessonReport(ctx, *job.Params.LessonID)
		if err != nil {
			return export.Dataset{}, "", err
		}
		return reportRowsDataset(rows), "Lesson Attendance Roster", nil
	case models.ReportTypeClassRegister:
		rows, err := s.data.ClassReport(ctx, *job.Params.ClassID)
		if err != nil {
			return export.Dataset{}, "", err
		}
		return reportRowsDataset(rows), "Class Attendance Register", nil
	case models.ReportTypeStudentHistory:
		history, err := s.data.StudentHistory(ctx, *job.Params.StudentID)
		if err != nil {
			return export.Dataset{}, "", err
		}
		summary, err := s.data.StudentSummary(ctx, *job.Params.StudentID)
		if err != nil {
			return export.Dataset{}, "", err
		}
		title := "Student Attendance History"
		if student, err := s.students.FindByID(ctx, *job.Params.StudentID); err == nil {
			title = fmt.Sprintf("Attendance History: %s (%s)", student.FullName, student.AdmissionNo)
		}
		return historyDataset(history, summary), title, nil
	default:
		return export.Dataset{}, "", fmt.Errorf("unknown report type %q", job.Type)
	}
}

func reportRowsDataset(rows []models.ClassReportRow) export.Dataset {
	data := export.Dataset{Headers: []string{"Admission No", "Student", "Subject", "Status", "Marked At"}}
	for _, row := range rows {
		data.Rows = append(data.Rows, map[string]string{
			"Admission No": row.AdmissionNo,
			"Student":      row.StudentName,
			"Subject":      row.Subject,
			"Status":       string(row.Status),
			"Marked At":    row.MarkedAt.UTC().Format(time.RFC3339),
		})
	}
	return data
}

func historyDataset(history []models.AttendanceHistoryRow, summary *models.AttendanceSummary) export.Dataset {
	data := export.Dataset{Headers: []string{"Subject", "Day", "Status", "Marked At"}}
	for _, row := range history {
		data.Rows = append(data.Rows, map[string]string{
			"Subject":   row.Subject,
			"Day":       time.Weekday(row.DayOfWeek).String(),
			"Status":    string(row.Status),
			"Marked At": row.MarkedAt.UTC().Format(time.RFC3339),
		})
	}
	if summary != nil {
		data.Rows = append(data.Rows, map[string]string{
			"Subject":   "TOTAL",
			"Day":       "",
			"Status":    fmt.Sprintf("%d present / %d absent", summary.Present, summary.Absent),
			"Marked At": fmt.Sprintf("%.1f%%", summary.Percent),
		})
	}
	return data
}
