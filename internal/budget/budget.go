// Package budget prices project budgets from activity unit prices.
package budget

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Simplici0/micaa/internal/apperrors"
	"github.com/Simplici0/micaa/internal/apu"
	"github.com/Simplici0/micaa/internal/pricing"
	"github.com/Simplici0/micaa/internal/store"
)

const QuantityPlaces = 3

// Subtotal returns round(quantity × unitPrice, 2) with quantity kept at 3 places.
func Subtotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return pricing.RoundPrice(quantity.Round(QuantityPlaces).Mul(unitPrice))
}

// Total sums item subtotals.
func Total(items []store.BudgetItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal)
	}
	return total
}

// Detail is a budget with its items.
type Detail struct {
	store.Budget
	Items []store.BudgetItem `json:"items"`
}

// MarshalJSON keeps Items, which the promoted store.Budget encoder would drop.
func (d Detail) MarshalJSON() ([]byte, error) {
	type budget store.Budget
	return json.Marshal(struct {
		budget
		Total string             `json:"total"`
		Items []store.BudgetItem `json:"items"`
	}{budget(d.Budget), d.Total.StringFixed(pricing.PricePlaces), d.Items})
}

type Service struct {
	store  *store.Store
	prices *apu.Service
	log    logrus.FieldLogger
}

func NewService(st *store.Store, prices *apu.Service, logger logrus.FieldLogger) *Service {
	return &Service{store: st, prices: prices, log: logger}
}

func (s *Service) Get(ctx context.Context, budgetID int64) (Detail, error) {
	b, err := s.store.GetBudget(ctx, budgetID)
	if err != nil {
		return Detail{}, err
	}
	items, err := s.store.BudgetItems(ctx, budgetID)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Budget: b, Items: items}, nil
}

func (s *Service) priceContext(ctx context.Context, b store.Budget, userID int64) (apu.PriceContext, error) {
	project, err := s.store.GetProject(ctx, b.ProjectID)
	if err != nil {
		return apu.PriceContext{}, err
	}
	return apu.PriceContext{UserID: userID, ProjectID: project.ID}, nil
}

// AddItem prices activityID for the budget's project and appends it.
func (s *Service) AddItem(ctx context.Context, budgetID, activityID int64, quantity decimal.Decimal, userID int64) (Detail, error) {
	if !quantity.IsPositive() {
		return Detail{}, apperrors.NewValidationError("quantity", "gt=0")
	}
	b, err := s.store.GetBudget(ctx, budgetID)
	if err != nil {
		return Detail{}, err
	}
	pc, err := s.priceContext(ctx, b, userID)
	if err != nil {
		return Detail{}, err
	}
	quote, err := s.prices.GetUnitPrice(ctx, activityID, pc)
	if err != nil {
		return Detail{}, err
	}

	qty := quantity.Round(QuantityPlaces)
	unitPrice := quote.Breakdown.TotalUnitPrice
	err = s.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.AddBudgetItem(ctx, store.BudgetItem{
			BudgetID:   budgetID,
			ActivityID: activityID,
			Quantity:   qty,
			UnitPrice:  unitPrice,
			Subtotal:   Subtotal(qty, unitPrice),
		}); err != nil {
			return err
		}
		return retotal(ctx, tx, budgetID)
	})
	if err != nil {
		return Detail{}, fmt.Errorf("add item to budget %d: %w", budgetID, err)
	}
	return s.Get(ctx, budgetID)
}

// retotal rewrites the budget total from the items as tx sees them.
func retotal(ctx context.Context, tx *store.Tx, budgetID int64) error {
	items, err := tx.BudgetItems(ctx, budgetID)
	if err != nil {
		return err
	}
	return tx.WriteBudgetPricing(ctx, budgetID, items, Total(items))
}

// UpdateItemQuantity changes an item's quantity at its current unit price.
func (s *Service) UpdateItemQuantity(ctx context.Context, budgetID, itemID int64, quantity decimal.Decimal) (Detail, error) {
	if !quantity.IsPositive() {
		return Detail{}, apperrors.NewValidationError("quantity", "gt=0")
	}
	qty := quantity.Round(QuantityPlaces)

	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		items, err := tx.BudgetItems(ctx, budgetID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.ID != itemID {
				continue
			}
			it.Quantity = qty
			it.Subtotal = Subtotal(qty, it.UnitPrice)
			if err := tx.UpdateBudgetItem(ctx, it); err != nil {
				return err
			}
			return retotal(ctx, tx, budgetID)
		}
		return fmt.Errorf("budget item %d: %w", itemID, apperrors.ErrNotFound)
	})
	if err != nil {
		return Detail{}, fmt.Errorf("update item of budget %d: %w", budgetID, err)
	}
	return s.Get(ctx, budgetID)
}

func (s *Service) DeleteItem(ctx context.Context, budgetID, itemID int64) (Detail, error) {
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.DeleteBudgetItem(ctx, budgetID, itemID); err != nil {
			return err
		}
		return retotal(ctx, tx, budgetID)
	})
	if err != nil {
		return Detail{}, fmt.Errorf("delete item of budget %d: %w", budgetID, err)
	}
	return s.Get(ctx, budgetID)
}

// SetStatus moves a budget through draft, active and completed.
func (s *Service) SetStatus(ctx context.Context, budgetID int64, status string) (Detail, error) {
	if err := s.store.SetBudgetStatus(ctx, budgetID, status); err != nil {
		return Detail{}, err
	}
	s.log.WithFields(logrus.Fields{"budget_id": budgetID, "status": status}).Info("budget status changed")
	return s.Get(ctx, budgetID)
}

// Recalculate reprices every item with current activity prices and writes the
// new subtotals and total together.
func (s *Service) Recalculate(ctx context.Context, budgetID, userID int64) (Detail, error) {
	b, err := s.store.GetBudget(ctx, budgetID)
	if err != nil {
		return Detail{}, err
	}
	pc, err := s.priceContext(ctx, b, userID)
	if err != nil {
		return Detail{}, err
	}
	items, err := s.store.BudgetItems(ctx, budgetID)
	if err != nil {
		return Detail{}, err
	}

	estimated := 0
	prices := make(map[int64]decimal.Decimal)
	for i := range items {
		price, ok := prices[items[i].ActivityID]
		if !ok {
			quote, err := s.prices.GetUnitPrice(ctx, items[i].ActivityID, pc)
			if err != nil {
				return Detail{}, fmt.Errorf("price budget item %d: %w", items[i].ID, err)
			}
			if quote.Estimated {
				estimated++
			}
			price = quote.Breakdown.TotalUnitPrice
			prices[items[i].ActivityID] = price
		}
		items[i].UnitPrice = price
		items[i].Subtotal = Subtotal(items[i].Quantity, price)
	}

	total := Total(items)
	if err := s.store.SaveBudgetPricing(ctx, budgetID, items, total); err != nil {
		return Detail{}, fmt.Errorf("save budget %d pricing: %w", budgetID, err)
	}

	s.log.WithFields(logrus.Fields{
		"budget_id": budgetID,
		"items":     len(items),
		"estimated": estimated,
		"total":     total.StringFixed(pricing.PricePlaces),
	}).Info("budget recalculated")
	return s.Get(ctx, budgetID)
}
