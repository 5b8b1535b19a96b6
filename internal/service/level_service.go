package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mwalimu-mwangi/attendance-system/internal/models"
	appErrors "github.com/mwalimu-mwangi/attendance-system/pkg/errors"
)

type levelRepository interface {
	List(ctx context.Context, filter models.LevelFilter) ([]models.Level, int, error)
	FindByID(ctx context.Context, id string) (*models.Level, error)
	Create(ctx context.Context, level *models.Level) error
	Update(ctx context.Context, level *models.Level) error
	Deactivate(ctx context.Context, id string) error
}

type levelDepartmentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Department, error)
}

// CreateLevelRequest holds payload for creating levels.
type CreateLevelRequest struct {
	DepartmentID string `json:"department_id" validate:"required,uuid"`
	Name         string `json:"name" validate:"required"`
}

// UpdateLevelRequest holds payload for updating levels.
type UpdateLevelRequest struct {
	Name   string `json:"name" validate:"required"`
	Active bool   `json:"active"`
}

// LevelService handles level use-cases.
type LevelService struct {
	repo        levelRepository
	departments levelDepartmentLookup
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewLevelService constructs the level service.
func NewLevelService(repo levelRepository, departments levelDepartmentLookup, validate *validator.Validate, logger *zap.Logger) *LevelService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LevelService{repo: repo, departments: departments, validator: validate, logger: logger}
}

// List returns levels and pagination metadata.
func (s *LevelService) List(ctx context.Context, filter models.LevelFilter) ([]models.Level, *models.Pagination, error) {
	levels, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list levels")
	}
	return levels, paginationFor(filter.Page, filter.PageSize, total), nil
}

// Get returns a level by ID.
func (s *LevelService) Get(ctx context.Context, id string) (*models.Level, error) {
	level, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "level not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load level")
	}
	return level, nil
}

// Create registers a new level under an existing department.
func (s *LevelService) Create(ctx context.Context, req CreateLevelRequest) (*models.Level, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid level payload")
	}
	if _, err := s.departments.FindByID(ctx, req.DepartmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "department not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve department")
	}
	level := &models.Level{
		DepartmentID: req.DepartmentID,
		Name:         req.Name,
		Active:       true,
	}
	if err := s.repo.Create(ctx, level); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create level")
	}
	return level, nil
}

// Update modifies an existing level.
func (s *LevelService) Update(ctx context.Context, id string, req UpdateLevelRequest) (*models.Level, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid level payload")
	}
	level, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	level.Name = req.Name
	level.Active = req.Active
	if err := s.repo.Update(ctx, level); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update level")
	}
	return level, nil
}

// Delete soft-deletes a level.
func (s *LevelService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate level")
	}
	return nil
}
