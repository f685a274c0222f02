package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/micaa/internal/apperrors"
)

// MaterialCatalog looks up catalog materials. GetMaterial returns an error
// matching apperrors.ErrNotFound when the id does not exist.
type MaterialCatalog interface {
	GetMaterial(ctx context.Context, id int64) (Material, error)
}

// OverrideSource returns a user's personal price for a material name and unit.
type OverrideSource interface {
	UserMaterialPrice(ctx context.Context, userID int64, materialName, unit string) (decimal.Decimal, bool, error)
}

// CostSource tells where a resolved unit cost came from.
type CostSource string

const (
	SourceLiteral  CostSource = "literal"
	SourceCatalog  CostSource = "catalog"
	SourceOverride CostSource = "override"
)

// Resolution is the effective unit cost of a component.
type Resolution struct {
	UnitCost   decimal.Decimal `json:"unit_cost"`
	Source     CostSource      `json:"source"`
	Unresolved bool            `json:"unresolved,omitempty"`
}

// Resolver resolves component unit costs for one acting user.
// A zero userID means no user context: overrides are not consulted.
type Resolver struct {
	catalog   MaterialCatalog
	overrides OverrideSource
	userID    int64
}

func NewResolver(catalog MaterialCatalog, overrides OverrideSource, userID int64) *Resolver {
	return &Resolver{catalog: catalog, overrides: overrides, userID: userID}
}

// ResolveUnitCost returns the authoritative unit cost of c. A material reference
// that does not exist falls back to the literal cost and is marked unresolved.
func (r *Resolver) ResolveUnitCost(ctx context.Context, c Component) (Resolution, error) {
	if c.ActivityID <= 0 {
		return Resolution{}, apperrors.NewValidationError("activity_id", "gt=0")
	}

	literal := Resolution{UnitCost: c.UnitCost, Source: SourceLiteral}
	if c.Kind != KindMaterial || c.MaterialID == nil {
		return literal, nil
	}

	m, err := r.catalog.GetMaterial(ctx, *c.MaterialID)
	if errors.Is(err, apperrors.ErrNotFound) {
		literal.Unresolved = true
		return literal, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("get material %d: %w", *c.MaterialID, err)
	}

	if r.userID != 0 && r.overrides != nil {
		price, ok, err := r.overrides.UserMaterialPrice(ctx, r.userID, m.Name, m.Unit)
		if err != nil {
			return Resolution{}, fmt.Errorf("get user material price: %w", err)
		}
		if ok {
			return Resolution{UnitCost: price, Source: SourceOverride}, nil
		}
	}

	return Resolution{UnitCost: m.Price, Source: SourceCatalog}, nil
}

// Price resolves every component into a priced line.
func (r *Resolver) Price(ctx context.Context, components []Component) ([]Line, error) {
	lines := make([]Line, 0, len(components))
	for _, c := range components {
		if c.Kind == KindEquipment {
			if c.ActivityID <= 0 {
				return nil, apperrors.NewValidationError("activity_id", "gt=0")
			}
			lines = append(lines, PercentageMarkup{Component: c, Percentage: c.Quantity})
			continue
		}

		res, err := r.ResolveUnitCost(ctx, c)
		if err != nil {
			return nil, err
		}
		lines = append(lines, DirectLineItem{Component: c, Resolution: res})
	}
	return lines, nil
}
