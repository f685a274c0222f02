package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/micaa/internal/apperrors"
	"github.com/Simplici0/micaa/internal/pricing"
)

// Activity is a unit of construction work. UnitPrice is the last value written
// by a recompute and is not kept current by composition edits.
type Activity struct {
	ID             int64           `json:"id"`
	PhaseID        int64           `json:"phase_id"`
	PhaseName      string          `json:"phase_name"`
	Name           string          `json:"name"`
	Unit           string          `json:"unit"`
	Description    string          `json:"description,omitempty"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	PriceUpdatedAt *time.Time      `json:"price_updated_at,omitempty"`
}

const activityColumns = `
	a.id, a.phase_id, p.name, a.name, a.unit, COALESCE(a.description, ''), a.unit_price, COALESCE(a.price_updated_at, '')
`

func scanActivity(scan func(dest ...any) error) (Activity, error) {
	var (
		a       Activity
		updated string
	)
	if err := scan(&a.ID, &a.PhaseID, &a.PhaseName, &a.Name, &a.Unit, &a.Description, &a.UnitPrice, &updated); err != nil {
		return Activity{}, err
	}
	if updated != "" {
		t := parseTime(updated)
		a.PriceUpdatedAt = &t
	}
	return a, nil
}

// ListActivities returns all activities, or those of one phase when phaseID > 0.
func (q queries) ListActivities(ctx context.Context, phaseID int64) ([]Activity, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities a
		JOIN construction_phases p ON p.id = a.phase_id
		WHERE (? = 0 OR a.phase_id = ?)
		ORDER BY a.phase_id, a.id
	`, phaseID, phaseID)
	if err != nil {
		return nil, apperrors.Persistence("query activities", err)
	}
	defer rows.Close()

	activities := make([]Activity, 0)
	for rows.Next() {
		a, err := scanActivity(rows.Scan)
		if err != nil {
			return nil, apperrors.Persistence("scan activity", err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("iterate activities", err)
	}
	return activities, nil
}

func (q queries) GetActivity(ctx context.Context, id int64) (Activity, error) {
	a, err := scanActivity(q.q.QueryRowContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities a
		JOIN construction_phases p ON p.id = a.phase_id
		WHERE a.id = ?
	`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Activity{}, fmt.Errorf("activity %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return Activity{}, apperrors.Persistence("query activity", err)
	}
	return a, nil
}

func (q queries) CreateActivity(ctx context.Context, a Activity) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO activities (phase_id, name, unit, description, unit_price)
		VALUES (?, ?, ?, ?, ?)
	`, a.PhaseID, a.Name, a.Unit, nullString(a.Description), a.UnitPrice.StringFixed(pricing.PricePlaces))
	if err != nil {
		return 0, apperrors.Persistence("insert activity", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.Persistence("insert activity", err)
	}
	return id, nil
}

// DeleteActivity removes the activity; its composition goes with it.
func (q queries) DeleteActivity(ctx context.Context, id int64) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, id)
	if err != nil {
		return apperrors.Persistence("delete activity", err)
	}
	if err := requireAffected(res, "delete activity"); err != nil {
		return fmt.Errorf("activity %d: %w", id, err)
	}
	return nil
}

func (q queries) ActivityIDs(ctx context.Context) ([]int64, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT id FROM activities ORDER BY id`)
	if err != nil {
		return nil, apperrors.Persistence("query activity ids", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Persistence("scan activity id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("iterate activity ids", err)
	}
	return ids, nil
}

// Composition returns every component of an activity.
func (q queries) Composition(ctx context.Context, activityID int64) ([]pricing.Component, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, activity_id, material_id, kind, description, unit, quantity, unit_cost
		FROM activity_compositions
		WHERE activity_id = ?
		ORDER BY id
	`, activityID)
	if err != nil {
		return nil, apperrors.Persistence("query composition", err)
	}
	defer rows.Close()

	components := make([]pricing.Component, 0)
	for rows.Next() {
		var (
			c          pricing.Component
			materialID sql.NullInt64
			kind       string
		)
		if err := rows.Scan(&c.ID, &c.ActivityID, &materialID, &kind, &c.Description, &c.Unit, &c.Quantity, &c.UnitCost); err != nil {
			return nil, apperrors.Persistence("scan composition", err)
		}
		c.Kind = pricing.Kind(kind)
		if materialID.Valid {
			id := materialID.Int64
			c.MaterialID = &id
		}
		components = append(components, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("iterate composition", err)
	}
	return components, nil
}

// ReplaceComposition deletes the activity's composition and inserts components.
// Run it inside a transaction; SaveComposition does.
func (q queries) ReplaceComposition(ctx context.Context, activityID int64, components []pricing.Component) error {
	if _, err := q.GetActivity(ctx, activityID); err != nil {
		return err
	}

	if _, err := q.q.ExecContext(ctx, `DELETE FROM activity_compositions WHERE activity_id = ?`, activityID); err != nil {
		return apperrors.Persistence("delete composition", err)
	}

	created := formatTime(q.now())
	for _, c := range components {
		var materialID sql.NullInt64
		if c.MaterialID != nil {
			materialID = sql.NullInt64{Int64: *c.MaterialID, Valid: true}
		}
		if _, err := q.q.ExecContext(ctx, `
			INSERT INTO activity_compositions (activity_id, material_id, kind, description, unit, quantity, unit_cost, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			activityID,
			materialID,
			string(c.Kind),
			c.Description,
			c.Unit,
			c.Quantity.StringFixed(pricing.QuantityPlaces),
			c.UnitCost.StringFixed(pricing.PricePlaces),
			created,
		); err != nil {
			return apperrors.Persistence("insert composition", err)
		}
	}
	return nil
}

// SaveComposition atomically replaces an activity's composition.
func (s *Store) SaveComposition(ctx context.Context, activityID int64, components []pricing.Component) error {
	return s.InTx(ctx, func(tx *Tx) error {
		return tx.ReplaceComposition(ctx, activityID, components)
	})
}

func (q queries) UpdateActivityPrice(ctx context.Context, activityID int64, price decimal.Decimal) error {
	res, err := q.q.ExecContext(ctx, `UPDATE activities SET unit_price = ?, price_updated_at = ? WHERE id = ?`,
		price.StringFixed(pricing.PricePlaces), formatTime(q.now()), activityID)
	if err != nil {
		return apperrors.Persistence("update activity price", err)
	}
	if err := requireAffected(res, "update activity price"); err != nil {
		return fmt.Errorf("activity %d: %w", activityID, err)
	}
	return nil
}

// ActivityByName returns the first activity named exactly name.
func (q queries) ActivityByName(ctx context.Context, name string) (Activity, error) {
	a, err := scanActivity(q.q.QueryRowContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities a
		JOIN construction_phases p ON p.id = a.phase_id
		WHERE a.name = ?
		ORDER BY a.id
		LIMIT 1
	`, name).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Activity{}, fmt.Errorf("activity %q: %w", name, apperrors.ErrNotFound)
	}
	if err != nil {
		return Activity{}, apperrors.Persistence("query activity", err)
	}
	return a, nil
}
