package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/micaa/internal/apperrors"
	"github.com/Simplici0/micaa/internal/pricing"
)

type Phase struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (q queries) ListPhases(ctx context.Context) ([]Phase, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, '')
		FROM construction_phases
		ORDER BY id
	`)
	if err != nil {
		return nil, apperrors.Persistence("query phases", err)
	}
	defer rows.Close()

	phases := make([]Phase, 0)
	for rows.Next() {
		var p Phase
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, apperrors.Persistence("scan phase", err)
		}
		phases = append(phases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("iterate phases", err)
	}
	return phases, nil
}

// EnsurePhase returns the id of the phase with name, creating it if needed.
func (q queries) EnsurePhase(ctx context.Context, name, description string) (int64, bool, error) {
	var id int64
	err := q.q.QueryRowContext(ctx, `SELECT id FROM construction_phases WHERE name = ? ORDER BY id LIMIT 1`, name).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, apperrors.Persistence("query phase", err)
	}

	res, err := q.q.ExecContext(ctx, `INSERT INTO construction_phases (name, description) VALUES (?, ?)`, name, nullString(description))
	if err != nil {
		return 0, false, apperrors.Persistence("insert phase", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, apperrors.Persistence("insert phase", err)
	}
	return id, true, nil
}

func (q queries) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT id, name FROM material_categories ORDER BY name`)
	if err != nil {
		return nil, apperrors.Persistence("query material categories", err)
	}
	defer rows.Close()

	categories := make([]Category, 0)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, apperrors.Persistence("scan material category", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("iterate material categories", err)
	}
	return categories, nil
}

// EnsureCategory returns the id of the category with name, creating it if needed.
func (q queries) EnsureCategory(ctx context.Context, name string) (int64, bool, error) {
	res, err := q.q.ExecContext(ctx, `INSERT INTO material_categories (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return 0, false, apperrors.Persistence("insert material category", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, false, apperrors.Persistence("insert material category", err)
	}

	var id int64
	if err := q.q.QueryRowContext(ctx, `SELECT id FROM material_categories WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, false, apperrors.Persistence("query material category", err)
	}
	return id, inserted > 0, nil
}

const materialColumns = `id, category_id, name, unit, price, COALESCE(description, ''), last_updated`

func scanMaterial(scan func(dest ...any) error) (pricing.Material, error) {
	var (
		m       pricing.Material
		updated string
	)
	if err := scan(&m.ID, &m.CategoryID, &m.Name, &m.Unit, &m.Price, &m.Description, &updated); err != nil {
		return pricing.Material{}, err
	}
	m.LastUpdated = parseTime(updated)
	return m, nil
}

// GetMaterial implements pricing.MaterialCatalog.
func (q queries) GetMaterial(ctx context.Context, id int64) (pricing.Material, error) {
	m, err := scanMaterial(q.q.QueryRowContext(ctx, `SELECT `+materialColumns+` FROM materials WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return pricing.Material{}, fmt.Errorf("material %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return pricing.Material{}, apperrors.Persistence("query material", err)
	}
	return m, nil
}

func (q queries) listMaterials(ctx context.Context, query string, args ...any) ([]pricing.Material, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Persistence("query materials", err)
	}
	defer rows.Close()

	materials := make([]pricing.Material, 0)
	for rows.Next() {
		m, err := scanMaterial(rows.Scan)
		if err != nil {
			return nil, apperrors.Persistence("scan material", err)
		}
		materials = append(materials, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("iterate materials", err)
	}
	return materials, nil
}

// ListMaterials returns the catalog, most recently updated first.
func (q queries) ListMaterials(ctx context.Context) ([]pricing.Material, error) {
	return q.listMaterials(ctx, `SELECT `+materialColumns+` FROM materials ORDER BY last_updated DESC, id DESC`)
}

func (q queries) MaterialsByCategory(ctx context.Context, categoryID int64) ([]pricing.Material, error) {
	return q.listMaterials(ctx, `SELECT `+materialColumns+` FROM materials WHERE category_id = ? ORDER BY name`, categoryID)
}

// SearchMaterials matches a case-insensitive name substring.
func (q queries) SearchMaterials(ctx context.Context, nameSubstring string) ([]pricing.Material, error) {
	return q.listMaterials(ctx, `
		SELECT `+materialColumns+`
		FROM materials
		WHERE name LIKE ? ESCAPE '\'
		ORDER BY name, id
	`, "%"+escapeLike(nameSubstring)+"%")
}

func (q queries) CreateMaterial(ctx context.Context, m pricing.Material) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO materials (category_id, name, unit, price, description, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.CategoryID, m.Name, m.Unit, m.Price.StringFixed(pricing.PricePlaces), nullString(m.Description), formatTime(q.now()))
	if err != nil {
		return 0, apperrors.Persistence("insert material", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.Persistence("insert material", err)
	}
	return id, nil
}

func (q queries) UpdateMaterial(ctx context.Context, m pricing.Material) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE materials
		SET
			category_id = ?,
			name = ?,
			unit = ?,
			price = ?,
			description = ?,
			last_updated = ?
		WHERE id = ?
	`, m.CategoryID, m.Name, m.Unit, m.Price.StringFixed(pricing.PricePlaces), nullString(m.Description), formatTime(q.now()), m.ID)
	if err != nil {
		return apperrors.Persistence("update material", err)
	}
	if err := requireAffected(res, "update material"); err != nil {
		return fmt.Errorf("material %d: %w", m.ID, err)
	}
	return nil
}

func (q queries) DeleteMaterial(ctx context.Context, id int64) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM materials WHERE id = ?`, id)
	if err != nil {
		return apperrors.Persistence("delete material", err)
	}
	if err := requireAffected(res, "delete material"); err != nil {
		return fmt.Errorf("material %d: %w", id, err)
	}
	return nil
}

func (q queries) setMaterialPrice(ctx context.Context, id int64, price decimal.Decimal) error {
	res, err := q.q.ExecContext(ctx, `UPDATE materials SET price = ?, last_updated = ? WHERE id = ?`,
		price.StringFixed(pricing.PricePlaces), formatTime(q.now()), id)
	if err != nil {
		return apperrors.Persistence("update material price", err)
	}
	if err := requireAffected(res, "update material price"); err != nil {
		return fmt.Errorf("material %d: %w", id, err)
	}
	return nil
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

// MaterialByNameUnit returns the material with exactly this name and unit.
func (q queries) MaterialByNameUnit(ctx context.Context, name, unit string) (pricing.Material, error) {
	m, err := scanMaterial(q.q.QueryRowContext(ctx, `
		SELECT `+materialColumns+`
		FROM materials
		WHERE name = ? AND unit = ?
		ORDER BY id
		LIMIT 1
	`, name, unit).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return pricing.Material{}, fmt.Errorf("material %q (%s): %w", name, unit, apperrors.ErrNotFound)
	}
	if err != nil {
		return pricing.Material{}, apperrors.Persistence("query material", err)
	}
	return m, nil
}
