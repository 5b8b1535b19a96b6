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

// ClassRepository manages persistence for classes.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs a ClassRepository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// List returns classes with hierarchy metadata matching the filter.
func (r *ClassRepository) List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, int, error) {
	base := `FROM classes c
JOIN levels l ON l.id = c.level_id
JOIN departments d ON d.id = l.department_id`
	where := []string{"1=1"}
	var args []interface{}

	if filter.LevelID != "" {
		where = append(where, fmt.Sprintf("c.level_id = $%d", len(args)+1))
		args = append(args, filter.LevelID)
	}
	if filter.DepartmentID != "" {
		where = append(where, fmt.Sprintf("l.department_id = $%d", len(args)+1))
		args = append(args, filter.DepartmentID)
	}
	if filter.Active != nil {
		where = append(where, fmt.Sprintf("c.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		search := "%" + strings.ToLower(filter.Search) + "%"
		where = append(where, fmt.Sprintf("LOWER(c.name) LIKE $%d", len(args)+1))
		args = append(args, search)
	}
	whereClause := strings.Join(where, " AND ")

	column := sortColumn(filter.SortBy, map[string]string{
		"name":       "c.name",
		"created_at": "c.created_at",
	}, "c.name")
	order := sortOrder(filter.SortOrder)
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT c.id, c.level_id, c.name, c.active, c.created_at, c.updated_at,
l.name AS level_name, l.department_id, d.name AS department_name,
(SELECT COUNT(*) FROM students s WHERE s.class_id = c.id AND s.active) AS student_count
%s WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, whereClause, column, order, limit, offset)

	var classes []models.ClassDetail
	if err := r.db.SelectContext(ctx, &classes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}
	return classes, total, nil
}

// FindByID fetches a class by ID.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	const query = `SELECT id, level_id, name, active, created_at, updated_at FROM classes WHERE id = $1`
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// Create inserts a new class.
func (r *ClassRepository) Create(ctx context.Context, class *models.Class) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	class.CreatedAt = now
	class.UpdatedAt = now
	const query = `INSERT INTO classes (id, level_id, name, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query, class.ID, class.LevelID, class.Name, class.Active, class.CreatedAt, class.UpdatedAt); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// Update persists class changes.
func (r *ClassRepository) Update(ctx context.Context, class *models.Class) error {
	class.UpdatedAt = time.Now().UTC()
	const query = `UPDATE classes SET level_id = $2, name = $3, active = $4, updated_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, class.ID, class.LevelID, class.Name, class.Active, class.UpdatedAt); err != nil {
		return fmt.Errorf("update class: %w", err)
	}
	return nil
}

// Deactivate disables a class.
func (r *ClassRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE classes SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate class: %w", err)
	}
	return nil
}
