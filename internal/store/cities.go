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

const cityFactorColumns = `city, country, materials_factor, labor_factor, equipment_factor, transport_factor`

func scanCityFactor(scan func(dest ...any) error) (pricing.CityFactor, error) {
	var f pricing.CityFactor
	err := scan(&f.City, &f.Country, &f.MaterialsFactor, &f.LaborFactor, &f.EquipmentFactor, &f.TransportFactor)
	return f, err
}

// CityFactor looks up the factors of (city, country), ignoring case. A missing
// row is reported with ok = false, not an error.
func (q queries) CityFactor(ctx context.Context, city, country string) (pricing.CityFactor, bool, error) {
	f, err := scanCityFactor(q.q.QueryRowContext(ctx, `
		SELECT `+cityFactorColumns+`
		FROM city_price_factors
		WHERE city = ? COLLATE NOCASE AND country = ? COLLATE NOCASE
	`, city, country).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return pricing.CityFactor{}, false, nil
	}
	if err != nil {
		return pricing.CityFactor{}, false, apperrors.Persistence("query city price factor", err)
	}
	return f, true, nil
}

func (q queries) ListCityFactors(ctx context.Context) ([]pricing.CityFactor, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+cityFactorColumns+` FROM city_price_factors ORDER BY country, city`)
	if err != nil {
		return nil, apperrors.Persistence("query city price factors", err)
	}
	defer rows.Close()

	factors := make([]pricing.CityFactor, 0)
	for rows.Next() {
		f, err := scanCityFactor(rows.Scan)
		if err != nil {
			return nil, apperrors.Persistence("scan city price factor", err)
		}
		factors = append(factors, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("iterate city price factors", err)
	}
	return factors, nil
}

// UpsertCityFactor creates or replaces the factors of (city, country). Factors
// are validated at stored precision.
func (q queries) UpsertCityFactor(ctx context.Context, f pricing.CityFactor) (bool, error) {
	f = f.Rounded()
	if err := pricing.Validate(f); err != nil {
		return false, err
	}
	fixed := func(d decimal.Decimal) string { return d.StringFixed(pricing.FactorPlaces) }
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO city_price_factors (city, country, materials_factor, labor_factor, equipment_factor, transport_factor, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(city, country) DO UPDATE SET
			materials_factor = excluded.materials_factor,
			labor_factor = excluded.labor_factor,
			equipment_factor = excluded.equipment_factor,
			transport_factor = excluded.transport_factor,
			updated_at = excluded.updated_at
	`, f.City, f.Country, fixed(f.MaterialsFactor), fixed(f.LaborFactor), fixed(f.EquipmentFactor), fixed(f.TransportFactor), formatTime(q.now()))
	if err != nil {
		return false, apperrors.Persistence("upsert city price factor", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Persistence("upsert city price factor", err)
	}
	return n > 0, nil
}

func (q queries) DeleteCityFactor(ctx context.Context, city, country string) error {
	res, err := q.q.ExecContext(ctx, `
		DELETE FROM city_price_factors
		WHERE city = ? COLLATE NOCASE AND country = ? COLLATE NOCASE
	`, city, country)
	if err != nil {
		return apperrors.Persistence("delete city price factor", err)
	}
	if err := requireAffected(res, "delete city price factor"); err != nil {
		return fmt.Errorf("city price factor %s, %s: %w", city, country, err)
	}
	return nil
}
