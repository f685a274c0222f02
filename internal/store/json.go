package store

import (
	"encoding/json"

	"github.com/Simplici0/micaa/internal/pricing"
)

func (a Activity) MarshalJSON() ([]byte, error) {
	type alias Activity
	return json.Marshal(struct {
		alias
		UnitPrice string `json:"unit_price"`
	}{alias(a), a.UnitPrice.StringFixed(pricing.PricePlaces)})
}

// Types embedding Budget must define their own MarshalJSON; this one would be
// promoted and drop their fields.
func (b Budget) MarshalJSON() ([]byte, error) {
	type alias Budget
	return json.Marshal(struct {
		alias
		Total string `json:"total"`
	}{alias(b), b.Total.StringFixed(pricing.PricePlaces)})
}

func (it BudgetItem) MarshalJSON() ([]byte, error) {
	type alias BudgetItem
	return json.Marshal(struct {
		alias
		Quantity  string `json:"quantity"`
		UnitPrice string `json:"unit_price"`
		Subtotal  string `json:"subtotal"`
	}{
		alias(it),
		it.Quantity.StringFixed(budgetQuantityPlaces),
		it.UnitPrice.StringFixed(pricing.PricePlaces),
		it.Subtotal.StringFixed(pricing.PricePlaces),
	})
}

func (st Statistics) MarshalJSON() ([]byte, error) {
	type alias Statistics
	return json.Marshal(struct {
		alias
		TotalProjectValue string `json:"total_project_value"`
	}{alias(st), st.TotalProjectValue.StringFixed(pricing.PricePlaces)})
}

func (r AdjustmentRecord) MarshalJSON() ([]byte, error) {
	type alias AdjustmentRecord
	return json.Marshal(struct {
		alias
		Factor string `json:"factor"`
	}{alias(r), r.Factor.StringFixed(pricing.FactorPlaces)})
}
