package pricing

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Money and factors are encoded at their stored precision, so 420.1 goes out
// as "420.10". Each type shadows its decimal fields with fixed strings.

func (c Component) MarshalJSON() ([]byte, error) {
	type alias Component
	return json.Marshal(struct {
		alias
		Quantity string `json:"quantity"`
		UnitCost string `json:"unit_cost"`
	}{alias(c), c.Quantity.StringFixed(QuantityPlaces), c.UnitCost.StringFixed(PricePlaces)})
}

func (r IndirectRates) MarshalJSON() ([]byte, error) {
	pct := func(d decimal.Decimal) string { return d.StringFixed(PercentagePlaces) }
	return json.Marshal(struct {
		EquipmentPercentage      string `json:"equipment_percentage"`
		AdministrativePercentage string `json:"administrative_percentage"`
		UtilityPercentage        string `json:"utility_percentage"`
		TaxPercentage            string `json:"tax_percentage"`
		SocialChargesPercentage  string `json:"social_charges_percentage"`
	}{
		pct(r.EquipmentPercentage), pct(r.AdministrativePercentage), pct(r.UtilityPercentage),
		pct(r.TaxPercentage), pct(r.SocialChargesPercentage),
	})
}

func (m Material) MarshalJSON() ([]byte, error) {
	type alias Material
	return json.Marshal(struct {
		alias
		Price string `json:"price"`
	}{alias(m), m.Price.StringFixed(PricePlaces)})
}

func (p UserMaterialPrice) MarshalJSON() ([]byte, error) {
	type alias UserMaterialPrice
	return json.Marshal(struct {
		alias
		Price string `json:"price"`
	}{alias(p), p.Price.StringFixed(PricePlaces)})
}

func (f CityFactor) MarshalJSON() ([]byte, error) {
	type alias CityFactor
	return json.Marshal(struct {
		alias
		MaterialsFactor string `json:"materials_factor"`
		LaborFactor     string `json:"labor_factor"`
		EquipmentFactor string `json:"equipment_factor"`
		TransportFactor string `json:"transport_factor"`
	}{
		alias(f),
		f.MaterialsFactor.StringFixed(FactorPlaces), f.LaborFactor.StringFixed(FactorPlaces),
		f.EquipmentFactor.StringFixed(FactorPlaces), f.TransportFactor.StringFixed(FactorPlaces),
	})
}

func (ps PriceSettings) MarshalJSON() ([]byte, error) {
	type alias PriceSettings
	return json.Marshal(struct {
		alias
		USDExchangeRate        string `json:"usd_exchange_rate"`
		InflationFactor        string `json:"inflation_factor"`
		GlobalAdjustmentFactor string `json:"global_adjustment_factor"`
	}{
		alias(ps),
		ps.USDExchangeRate.StringFixed(FactorPlaces), ps.InflationFactor.StringFixed(FactorPlaces),
		ps.GlobalAdjustmentFactor.StringFixed(FactorPlaces),
	})
}

// Intermediate breakdown values keep full precision on the wire.
func (b Breakdown) MarshalJSON() ([]byte, error) {
	type alias Breakdown
	return json.Marshal(struct {
		alias
		TotalUnitPrice string `json:"total_unit_price"`
	}{alias(b), b.TotalUnitPrice.StringFixed(PricePlaces)})
}

func (a Adjustment) MarshalJSON() ([]byte, error) {
	type alias Adjustment
	return json.Marshal(struct {
		alias
		BasePrice     string `json:"base_price"`
		AdjustedPrice string `json:"adjusted_price"`
		Delta         string `json:"delta"`
	}{
		alias(a),
		a.BasePrice.StringFixed(PricePlaces), a.AdjustedPrice.StringFixed(PricePlaces), a.Delta.StringFixed(PricePlaces),
	})
}
