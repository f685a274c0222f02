package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies a composition row.
type Kind string

const (
	KindMaterial Kind = "material"
	KindLabor    Kind = "labor"
	// KindEquipment rows carry a percentage in Quantity, not a physical quantity.
	KindEquipment Kind = "equipment"
)

// Component is one row of an activity's composition, as stored.
type Component struct {
	ID          int64           `json:"id"`
	ActivityID  int64           `json:"activity_id" validate:"gt=0"`
	MaterialID  *int64          `json:"material_id,omitempty"`
	Kind        Kind            `json:"kind" validate:"required,oneof=material labor equipment"`
	Description string          `json:"description" validate:"required"`
	Unit        string          `json:"unit" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gte=0"`
	UnitCost    decimal.Decimal `json:"unit_cost" validate:"gte=0"`
}

// IndirectRates are the per-project percentages applied on top of direct cost.
// Values are percentages: 15 means 15%.
type IndirectRates struct {
	EquipmentPercentage      decimal.Decimal `json:"equipment_percentage" validate:"gte=0,lte=100"`
	AdministrativePercentage decimal.Decimal `json:"administrative_percentage" validate:"gte=0,lte=100"`
	UtilityPercentage        decimal.Decimal `json:"utility_percentage" validate:"gte=0,lte=100"`
	TaxPercentage            decimal.Decimal `json:"tax_percentage" validate:"gte=0,lte=100"`
	SocialChargesPercentage  decimal.Decimal `json:"social_charges_percentage" validate:"gte=0"`
}

// DefaultIndirectRates returns the regional defaults used when a project does
// not configure its own rates.
func DefaultIndirectRates() IndirectRates {
	return IndirectRates{
		EquipmentPercentage:      decimal.RequireFromString("5.00"),
		AdministrativePercentage: decimal.RequireFromString("8.00"),
		UtilityPercentage:        decimal.RequireFromString("15.00"),
		TaxPercentage:            decimal.RequireFromString("3.09"),
		SocialChargesPercentage:  decimal.RequireFromString("71.18"),
	}
}

// Material is a catalog entry.
type Material struct {
	ID          int64           `json:"id"`
	CategoryID  int64           `json:"category_id"`
	Name        string          `json:"name"`
	Unit        string          `json:"unit"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description,omitempty"`
	LastUpdated time.Time       `json:"last_updated"`
}

// UserMaterialPrice is a user's personal price for a material, keyed by name and unit.
type UserMaterialPrice struct {
	UserID       int64           `json:"user_id"`
	MaterialName string          `json:"material_name" validate:"required"`
	Unit         string          `json:"unit" validate:"required"`
	Price        decimal.Decimal `json:"price" validate:"gte=0"`
}

// CityFactor holds the regional multipliers for one (city, country).
type CityFactor struct {
	City            string          `json:"city" validate:"required"`
	Country         string          `json:"country" validate:"required"`
	MaterialsFactor decimal.Decimal `json:"materials_factor" validate:"gt=0"`
	LaborFactor     decimal.Decimal `json:"labor_factor" validate:"gt=0"`
	EquipmentFactor decimal.Decimal `json:"equipment_factor" validate:"gt=0"`
	TransportFactor decimal.Decimal `json:"transport_factor" validate:"gt=0"`
}

// Rounded returns f with every factor at stored precision. Validate the result,
// not the input: 0.00001 is positive but stores as 0.
func (f CityFactor) Rounded() CityFactor {
	f.MaterialsFactor = f.MaterialsFactor.Round(FactorPlaces)
	f.LaborFactor = f.LaborFactor.Round(FactorPlaces)
	f.EquipmentFactor = f.EquipmentFactor.Round(FactorPlaces)
	f.TransportFactor = f.TransportFactor.Round(FactorPlaces)
	return f
}

// IdentityCityFactor returns a factor set that leaves prices unchanged.
func IdentityCityFactor(city, country string) CityFactor {
	one := decimal.RequireFromString("1.0000")
	return CityFactor{
		City:            city,
		Country:         country,
		MaterialsFactor: one,
		LaborFactor:     one,
		EquipmentFactor: one,
		TransportFactor: one,
	}
}

// PriceSettings is a snapshot of the process-wide price settings row.
type PriceSettings struct {
	USDExchangeRate        decimal.Decimal `json:"usd_exchange_rate" validate:"gt=0"`
	InflationFactor        decimal.Decimal `json:"inflation_factor" validate:"gt=0"`
	GlobalAdjustmentFactor decimal.Decimal `json:"global_adjustment_factor" validate:"gt=0"`
	LastUpdated            time.Time       `json:"last_updated"`
	UpdatedBy              string          `json:"updated_by,omitempty"`
}

// Rounded returns ps with its rate and factors at stored precision.
func (ps PriceSettings) Rounded() PriceSettings {
	ps.USDExchangeRate = ps.USDExchangeRate.Round(FactorPlaces)
	ps.InflationFactor = ps.InflationFactor.Round(FactorPlaces)
	ps.GlobalAdjustmentFactor = ps.GlobalAdjustmentFactor.Round(FactorPlaces)
	return ps
}

// DefaultPriceSettings are the values the settings row is created with.
func DefaultPriceSettings() PriceSettings {
	return PriceSettings{
		USDExchangeRate:        decimal.RequireFromString("6.9600"),
		InflationFactor:        decimal.RequireFromString("1.0000"),
		GlobalAdjustmentFactor: decimal.RequireFromString("1.0000"),
	}
}

// WarningCode identifies a recoverable pricing condition.
type WarningCode string

const (
	WarnUnresolvedReference WarningCode = "unresolved_reference"
	WarnMissingCityFactor   WarningCode = "missing_city_factor"
	WarnNoComposition       WarningCode = "no_composition"
)

// Warning annotates a price that was computed with a fallback.
type Warning struct {
	Code        WarningCode `json:"code"`
	ComponentID int64       `json:"component_id,omitempty"`
	MaterialID  int64       `json:"material_id,omitempty"`
	Message     string      `json:"message"`
}

// Precision of persisted values.
const (
	PricePlaces      = 2
	QuantityPlaces   = 4
	FactorPlaces     = 4
	PercentagePlaces = 2
)
