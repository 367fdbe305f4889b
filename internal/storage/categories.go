package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/model"
)

const categoryColumns = `id, name, description, type, confidence, externally_sourced,
	is_active, created_at`

// GetCategories returns all active categories.
func (s *SQLiteStorage) GetCategories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+categoryColumns+` FROM categories
		WHERE is_active = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, *cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	slog.Debug("retrieved categories", "count", len(categories))
	return categories, nil
}

// GetCategoryByName returns an active category by its name.
func (s *SQLiteStorage) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+` FROM categories
		WHERE name = ? AND is_active = 1`, name)
	cat, err := scanCategory(row)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrNotFound
	}
	return cat, err
}

// CreateCategory creates a new category, reactivating a soft-deleted one with
// the same name if it exists.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, category *model.Category) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if category == nil {
		return nil, fmt.Errorf("category cannot be nil")
	}
	if err := validateString(category.Name, "name"); err != nil {
		return nil, err
	}
	if category.Type == "" {
		category.Type = model.CategoryTypeExpense
	}
	if category.Confidence == 0 {
		category.Confidence = 1.0
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE name = ?`, category.Name)
	existing, err := scanCategory(row)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		if !existing.IsActive {
			_, err = s.db.ExecContext(ctx, `
				UPDATE categories SET is_active = 1, type = ?, confidence = ?, externally_sourced = ?
				WHERE id = ?`,
				string(category.Type), category.Confidence, category.ExternallySourced, existing.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to reactivate category: %w", err)
			}
			slog.Info("reactivated existing category", "name", category.Name)
			return s.getCategoryByID(ctx, existing.ID)
		}
		return existing, nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (name, description, type, confidence, externally_sourced, is_active)
		VALUES (?, ?, ?, ?, ?, 1)`,
		category.Name, category.Description, string(category.Type),
		category.Confidence, category.ExternallySourced)
	if err != nil {
		if isUniqueViolation(err) {
			// Concurrent create of the same name; return the winner's row.
			return s.GetCategoryByName(ctx, category.Name)
		}
		return nil, fmt.Errorf("failed to insert category: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get category id: %w", err)
	}
	return s.getCategoryByID(ctx, id)
}

func (s *SQLiteStorage) getCategoryByID(ctx context.Context, id int64) (*model.Category, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id)
	return scanCategory(row)
}

func scanCategory(row rowScanner) (*model.Category, error) {
	var cat model.Category
	err := row.Scan(
		&cat.ID, &cat.Name, &cat.Description, &cat.Type, &cat.Confidence,
		&cat.ExternallySourced, &cat.IsActive, &cat.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan category: %w", err)
	}
	return &cat, nil
}
