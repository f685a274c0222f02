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

// UserMaterialPrice implements pricing.OverrideSource.
func (q queries) UserMaterialPrice(ctx context.Context, userID int64, materialName, unit string) (decimal.Decimal, bool, error) {
	var price decimal.Decimal
	err := q.q.QueryRowContext(ctx, `
		SELECT price
		FROM user_material_prices
		WHERE user_id = ? AND material_name = ? COLLATE NOCASE AND unit = ? COLLATE NOCASE
	`, userID, materialName, unit).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, apperrors.Persistence("query user material price", err)
	}
	return price, true, nil
}

func (q queries) ListUserMaterialPrices(ctx context.Context, userID int64) ([]pricing.UserMaterialPrice, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT user_id, material_name, unit, price
		FROM user_material_prices
		WHERE user_id = ?
		ORDER BY material_name, unit
	`, userID)
	if err != nil {
		return nil, apperrors.Persistence("query user material prices", err)
	}
	defer rows.Close()

	prices := make([]pricing.UserMaterialPrice, 0)
	for rows.Next() {
		var p pricing.UserMaterialPrice
		if err := rows.Scan(&p.UserID, &p.MaterialName, &p.Unit, &p.Price); err != nil {
			return nil, apperrors.Persistence("scan user material price", err)
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("iterate user material prices", err)
	}
	return prices, nil
}

// UpsertUserMaterialPrice records a user's price for (material name, unit). The
// name does not need to match a catalog material yet.
func (q queries) UpsertUserMaterialPrice(ctx context.Context, p pricing.UserMaterialPrice) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO user_material_prices (user_id, material_name, unit, price, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, material_name, unit) DO UPDATE SET
			price = excluded.price,
			updated_at = excluded.updated_at
	`, p.UserID, p.MaterialName, p.Unit, p.Price.StringFixed(pricing.PricePlaces), formatTime(q.now()))
	if err != nil {
		return apperrors.Persistence("upsert user material price", err)
	}
	return nil
}

func (q queries) DeleteUserMaterialPrice(ctx context.Context, userID int64, materialName, unit string) error {
	res, err := q.q.ExecContext(ctx, `
		DELETE FROM user_material_prices
		WHERE user_id = ? AND material_name = ? COLLATE NOCASE AND unit = ? COLLATE NOCASE
	`, userID, materialName, unit)
	if err != nil {
		return apperrors.Persistence("delete user material price", err)
	}
	if err := requireAffected(res, "delete user material price"); err != nil {
		return fmt.Errorf("user material price %q (%s): %w", materialName, unit, err)
	}
	return nil
}
