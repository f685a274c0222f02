package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Adjustment describes what a city factor did to a breakdown.
type Adjustment struct {
	City          string          `json:"city"`
	Country       string          `json:"country"`
	Applied       bool            `json:"applied"`
	Factor        CityFactor      `json:"factor"`
	BasePrice     decimal.Decimal `json:"base_price"`
	AdjustedPrice decimal.Decimal `json:"adjusted_price"`
	Delta         decimal.Decimal `json:"delta"`
}

// ApplyGeographicAdjustment scales the materials, labor and equipment costs
// of b by factor and recomputes the indirect chain from the adjusted subtotal
// using b's own rates. The transport factor is reported but does not scale any
// APU category.
//
// A nil factor means the city is not configured: b is returned unchanged with
// a missing_city_factor warning.
func ApplyGeographicAdjustment(b Breakdown, city, country string, factor *CityFactor) (Breakdown, Adjustment) {
	adj := Adjustment{
		City:          city,
		Country:       country,
		BasePrice:     b.TotalUnitPrice,
		AdjustedPrice: b.TotalUnitPrice,
		Delta:         decimal.Zero,
	}

	out := b
	out.Warnings = append([]Warning(nil), b.Warnings...)

	if factor == nil {
		adj.Factor = IdentityCityFactor(city, country)
		out.Warnings = append(out.Warnings, Warning{
			Code:    WarnMissingCityFactor,
			Message: fmt.Sprintf("no price factor configured for %s, %s; base price used", city, country),
		})
		sortWarnings(out.Warnings)
		return out, adj
	}

	adj.Applied = true
	adj.Factor = *factor

	if b.NoComposition {
		return out, adj
	}

	out.MaterialsCost = b.MaterialsCost.Mul(factor.MaterialsFactor)
	out.LaborCost = b.LaborCost.Mul(factor.LaborFactor)
	out.EquipmentCost = b.EquipmentCost.Mul(factor.EquipmentFactor)
	out.DirectCost = out.MaterialsCost.Add(out.LaborCost)
	out.applyIndirects()

	adj.AdjustedPrice = out.TotalUnitPrice
	adj.Delta = out.TotalUnitPrice.Sub(b.TotalUnitPrice)
	return out, adj
}
