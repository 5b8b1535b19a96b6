package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mwalimu-mwangi/attendance-system/internal/models"
)

// LevelRepository manages persistence for levels.
type LevelRepository struct {
	db *sqlx.DB
}

// NewLevelRepository constructs a LevelRepository.
func NewLevelRepository(db *sqlx.DB) *LevelRepository {
	return &LevelRepository{db: db}
}

const levelColumns = "id, department_id, name, active, created_at, updated_at"

// List returns levels matching filters along with total count.
func (r *LevelRepository) List(ctx context.Context, filter models.LevelFilter) ([]models.Level, int, error) {
	base := "FROM levels WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.DepartmentID != "" {
		conditions = append(conditions, fmt.Sprintf("department_id = $%d", len(args)+1))
		args = append(args, filter.DepartmentID)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	column := sortColumn(filter.SortBy, map[string]string{
		"name":       "name",
		"created_at": "created_at",
	}, "name")
	order := sortOrder(filter.SortOrder)
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", levelColumns, base, column, order, limit, offset)
	var levels []models.Level
	if err := r.db.SelectContext(ctx, &levels, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list levels: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count levels: %w", err)
	}
	return levels, total, nil
}

// FindByID fetches a level by ID.
func (r *LevelRepository) FindByID(ctx context.Context, id string) (*models.Level, error) {
	query := fmt.Sprintf("SELECT %s FROM levels WHERE id = $1", levelColumns)
	var level models.Level
	if err := r.db.GetContext(ctx, &level, query, id); err != nil {
		return nil, err
	}
	return &level, nil
}

// Create inserts a new level.
func (r *LevelRepository) Create(ctx context.Context, level *models.Level) error {
	if level.ID == "" {
		level.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	level.CreatedAt = now
	level.UpdatedAt = now
	const query = `INSERT INTO levels (id, department_id, name, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query, level.ID, level.DepartmentID, level.Name, level.Active, level.CreatedAt, level.UpdatedAt); err != nil {
		return fmt.Errorf("create level: %w", err)
	}
	return nil
}

// Update persists level changes.
func (r *LevelRepository) Update(ctx context.Context, level *models.Level) error {
	level.UpdatedAt = time.Now().UTC()
	const query = `UPDATE levels SET department_id = $2, name = $3, active = $4, updated_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, level.ID, level.DepartmentID, level.Name, level.Active, level.UpdatedAt); err != nil {
		return fmt.Errorf("update level: %w", err)
	}
	return nil
}

// Deactivate disables a level.
func (r *LevelRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE levels SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate level: %w", err)
	}
	return nil
}
