package pricing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/micaa/internal/apperrors"
)

// Line is a priced composition entry: a DirectLineItem or a PercentageMarkup.
type Line interface {
	line()
}

// DirectLineItem is a quantity × unit cost entry (material or labor).
type DirectLineItem struct {
	Component  Component  `json:"component"`
	Resolution Resolution `json:"resolution"`
}

// Cost returns quantity × resolved unit cost at full precision.
func (d DirectLineItem) Cost() decimal.Decimal {
	return d.Component.Quantity.Mul(d.Resolution.UnitCost)
}

// PercentageMarkup is a per-activity equipment percentage stored as a composition row.
type PercentageMarkup struct {
	Component  Component       `json:"component"`
	Percentage decimal.Decimal `json:"percentage"`
}

func (DirectLineItem) line()   {}
func (PercentageMarkup) line() {}

// EquipmentSource records where the equipment percentage came from.
type EquipmentSource string

const (
	EquipmentFromComposition EquipmentSource = "composition"
	EquipmentFromRates       EquipmentSource = "rates"
)

// Breakdown is the result of a unit price analysis. Every value except
// TotalUnitPrice keeps full precision.
type Breakdown struct {
	ActivityID int64 `json:"activity_id"`

	MaterialsCost decimal.Decimal `json:"materials_cost"`
	LaborCost     decimal.Decimal `json:"labor_cost"`
	DirectCost    decimal.Decimal `json:"direct_cost"`

	EquipmentPercentage decimal.Decimal `json:"equipment_percentage"`
	EquipmentSource     EquipmentSource `json:"equipment_source"`
	EquipmentCost       decimal.Decimal `json:"equipment_cost"`

	// Subtotal after equipment, after administrative, after utility.
	Subtotal1 decimal.Decimal `json:"subtotal_1"`
	Subtotal2 decimal.Decimal `json:"subtotal_2"`
	Subtotal3 decimal.Decimal `json:"subtotal_3"`

	AdministrativeCost decimal.Decimal `json:"administrative_cost"`
	UtilityCost        decimal.Decimal `json:"utility_cost"`
	TaxCost            decimal.Decimal `json:"tax_cost"`

	TotalUnitPrice decimal.Decimal `json:"total_unit_price"`

	Rates         IndirectRates `json:"rates"`
	NoComposition bool          `json:"no_composition"`
	Warnings      []Warning     `json:"warnings,omitempty"`
}

// Estimated reports whether the price relied on a fallback and needs review.
func (b Breakdown) Estimated() bool {
	return len(b.Warnings) > 0
}

// ComputeUnitPrice folds priced lines into a unit price breakdown.
//
// Summation over lines is order independent. When more than one equipment
// markup is present the largest percentage is used. Without any markup the
// project's EquipmentPercentage applies.
func ComputeUnitPrice(activityID int64, lines []Line, rates IndirectRates) (Breakdown, error) {
	if activityID <= 0 {
		return Breakdown{}, apperrors.NewValidationError("activity_id", "gt=0")
	}
	if err := Validate(rates); err != nil {
		return Breakdown{}, err
	}

	b := Breakdown{
		ActivityID:          activityID,
		MaterialsCost:       decimal.Zero,
		LaborCost:           decimal.Zero,
		EquipmentPercentage: rates.EquipmentPercentage,
		EquipmentSource:     EquipmentFromRates,
		Rates:               rates,
		NoComposition:       len(lines) == 0,
	}

	if b.NoComposition {
		b.zero()
		b.Warnings = []Warning{{
			Code:    WarnNoComposition,
			Message: fmt.Sprintf("activity %d has no composition; unit price is zero", activityID),
		}}
		return b, nil
	}

	var markup *decimal.Decimal
	for _, l := range lines {
		switch v := l.(type) {
		case DirectLineItem:
			switch v.Component.Kind {
			case KindMaterial:
				b.MaterialsCost = b.MaterialsCost.Add(v.Cost())
			case KindLabor:
				b.LaborCost = b.LaborCost.Add(v.Cost())
			default:
				return Breakdown{}, apperrors.NewValidationError("kind", fmt.Sprintf("unexpected %q", v.Component.Kind))
			}
			if v.Resolution.Unresolved {
				w := Warning{
					Code:        WarnUnresolvedReference,
					ComponentID: v.Component.ID,
					Message:     fmt.Sprintf("material reference for %q not found; literal cost used", v.Component.Description),
				}
				if v.Component.MaterialID != nil {
					w.MaterialID = *v.Component.MaterialID
				}
				b.Warnings = append(b.Warnings, w)
			}
		case PercentageMarkup:
			if markup == nil || v.Percentage.GreaterThan(*markup) {
				p := v.Percentage
				markup = &p
			}
		}
	}

	if markup != nil {
		b.EquipmentPercentage = *markup
		b.EquipmentSource = EquipmentFromComposition
	}

	b.DirectCost = b.MaterialsCost.Add(b.LaborCost)
	b.EquipmentCost = percentOf(b.DirectCost, b.EquipmentPercentage)
	b.applyIndirects()
	sortWarnings(b.Warnings)

	return b, nil
}

// applyIndirects runs the markup chain from DirectCost and EquipmentCost:
// administrative on subtotal1, utility on subtotal2, tax on subtotal3.
func (b *Breakdown) applyIndirects() {
	b.Subtotal1 = b.DirectCost.Add(b.EquipmentCost)
	b.AdministrativeCost = percentOf(b.Subtotal1, b.Rates.AdministrativePercentage)
	b.Subtotal2 = b.Subtotal1.Add(b.AdministrativeCost)
	b.UtilityCost = percentOf(b.Subtotal2, b.Rates.UtilityPercentage)
	b.Subtotal3 = b.Subtotal2.Add(b.UtilityCost)
	b.TaxCost = percentOf(b.Subtotal3, b.Rates.TaxPercentage)
	b.TotalUnitPrice = RoundPrice(b.Subtotal3.Add(b.TaxCost))
}

func (b *Breakdown) zero() {
	b.DirectCost = decimal.Zero
	b.EquipmentCost = decimal.Zero
	b.Subtotal1 = decimal.Zero
	b.Subtotal2 = decimal.Zero
	b.Subtotal3 = decimal.Zero
	b.AdministrativeCost = decimal.Zero
	b.UtilityCost = decimal.Zero
	b.TaxCost = decimal.Zero
	b.TotalUnitPrice = decimal.Zero
}

// percentOf returns base × pct / 100 without any rounding.
func percentOf(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Shift(-2)
}

func sortWarnings(ws []Warning) {
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].Code != ws[j].Code {
			return ws[i].Code < ws[j].Code
		}
		if ws[i].ComponentID != ws[j].ComponentID {
			return ws[i].ComponentID < ws[j].ComponentID
		}
		return ws[i].Message < ws[j].Message
	})
}

// RoundPrice rounds to currency minor units, half away from zero.
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(PricePlaces)
}
