package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Simplici0/micaa/internal/apperrors"
	"github.com/Simplici0/micaa/internal/pricing"
)

// AdjustmentRecord is the audit row of one global price adjustment.
type AdjustmentRecord struct {
	ID                uuid.UUID       `json:"id"`
	Factor            decimal.Decimal `json:"factor"`
	AffectedMaterials int             `json:"affected_materials"`
	UpdatedBy         string          `json:"updated_by"`
	CreatedAt         time.Time       `json:"created_at"`
}

// EnsurePriceSettings creates the settings singleton with defaults when missing.
func (q queries) EnsurePriceSettings(ctx context.Context) (bool, error) {
	def := pricing.DefaultPriceSettings()
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO price_settings (id, usd_exchange_rate, inflation_factor, global_adjustment_factor, last_updated)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		def.USDExchangeRate.StringFixed(pricing.FactorPlaces),
		def.InflationFactor.StringFixed(pricing.FactorPlaces),
		def.GlobalAdjustmentFactor.StringFixed(pricing.FactorPlaces),
		formatTime(q.now()),
	)
	if err != nil {
		return false, apperrors.Persistence("insert price settings singleton", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Persistence("insert price settings singleton", err)
	}
	return n > 0, nil
}

// PriceSettings reads the settings singleton.
func (q queries) PriceSettings(ctx context.Context) (pricing.PriceSettings, error) {
	var (
		ps        pricing.PriceSettings
		updated   string
		updatedBy sql.NullString
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT usd_exchange_rate, inflation_factor, global_adjustment_factor, last_updated, updated_by
		FROM price_settings
		WHERE id = 1
	`).Scan(&ps.USDExchangeRate, &ps.InflationFactor, &ps.GlobalAdjustmentFactor, &updated, &updatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return pricing.PriceSettings{}, fmt.Errorf("price settings singleton: %w", apperrors.ErrNotFound)
	}
	if err != nil {
		return pricing.PriceSettings{}, apperrors.Persistence("query price settings", err)
	}
	ps.LastUpdated = parseTime(updated)
	ps.UpdatedBy = updatedBy.String
	return ps, nil
}

// UpdatePriceSettings overwrites the exchange rate and inflation factor. The
// global adjustment factor only changes through ApplyGlobalAdjustment.
func (q queries) UpdatePriceSettings(ctx context.Context, ps pricing.PriceSettings, updatedBy string) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE price_settings
		SET
			usd_exchange_rate = ?,
			inflation_factor = ?,
			last_updated = ?,
			updated_by = ?
		WHERE id = 1
	`,
		ps.USDExchangeRate.StringFixed(pricing.FactorPlaces),
		ps.InflationFactor.StringFixed(pricing.FactorPlaces),
		formatTime(q.now()),
		nullString(updatedBy),
	)
	if err != nil {
		return apperrors.Persistence("update price settings", err)
	}
	if err := requireAffected(res, "update price settings"); err != nil {
		return fmt.Errorf("price settings singleton: %w", err)
	}
	return nil
}

// ApplyGlobalAdjustment multiplies every material price by factor, records the
// factor on the settings row and writes an audit record, all in one
// transaction. On any failure, including ctx expiry, no price changes.
func (s *Store) ApplyGlobalAdjustment(ctx context.Context, factor decimal.Decimal, updatedBy string) (AdjustmentRecord, error) {
	factor = factor.Round(pricing.FactorPlaces)
	if !factor.IsPositive() {
		return AdjustmentRecord{}, apperrors.NewValidationError("factor", "gt=0")
	}

	rec := AdjustmentRecord{
		ID:        uuid.New(),
		Factor:    factor,
		UpdatedBy: updatedBy,
		CreatedAt: s.now(),
	}

	err := s.InTx(ctx, func(tx *Tx) error {
		prices, err := tx.materialPrices(ctx)
		if err != nil {
			return err
		}

		for _, mp := range prices {
			if err := tx.setMaterialPrice(ctx, mp.id, pricing.RoundPrice(mp.price.Mul(rec.Factor))); err != nil {
				return err
			}
			rec.AffectedMaterials++
		}

		if _, err := tx.q.ExecContext(ctx, `
			UPDATE price_settings
			SET global_adjustment_factor = ?, last_updated = ?, updated_by = ?
			WHERE id = 1
		`, rec.Factor.StringFixed(pricing.FactorPlaces), formatTime(rec.CreatedAt), nullString(updatedBy)); err != nil {
			return apperrors.Persistence("update price settings factor", err)
		}

		if _, err := tx.q.ExecContext(ctx, `
			INSERT INTO price_adjustments (id, factor, affected_materials, updated_by, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, rec.ID.String(), rec.Factor.StringFixed(pricing.FactorPlaces), rec.AffectedMaterials, updatedBy, formatTime(rec.CreatedAt)); err != nil {
			return apperrors.Persistence("insert price adjustment audit", err)
		}
		return nil
	})
	if err != nil {
		return AdjustmentRecord{}, apperrors.Persistence("apply global price adjustment", err)
	}
	return rec, nil
}

type materialPrice struct {
	id    int64
	price decimal.Decimal
}

func (q queries) materialPrices(ctx context.Context) ([]materialPrice, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT id, price FROM materials ORDER BY id`)
	if err != nil {
		return nil, apperrors.Persistence("query material prices", err)
	}
	defer rows.Close()

	prices := make([]materialPrice, 0)
	for rows.Next() {
		var mp materialPrice
		if err := rows.Scan(&mp.id, &mp.price); err != nil {
			return nil, apperrors.Persistence("scan material price", err)
		}
		prices = append(prices, mp)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("iterate material prices", err)
	}
	return prices, nil
}

// ListAdjustments returns the most recent global adjustments first.
func (q queries) ListAdjustments(ctx context.Context, limit int) ([]AdjustmentRecord, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, factor, affected_materials, updated_by, created_at
		FROM price_adjustments
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, apperrors.Persistence("query price adjustments", err)
	}
	defer rows.Close()

	records := make([]AdjustmentRecord, 0)
	for rows.Next() {
		var (
			rec     AdjustmentRecord
			id      string
			created string
		)
		if err := rows.Scan(&id, &rec.Factor, &rec.AffectedMaterials, &rec.UpdatedBy, &created); err != nil {
			return nil, apperrors.Persistence("scan price adjustment", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, apperrors.Persistence("parse price adjustment id", err)
		}
		rec.ID = parsed
		rec.CreatedAt = parseTime(created)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("iterate price adjustments", err)
	}
	return records, nil
}
