// Package apu prices activities from their composition and keeps the cached
// activity unit prices up to date.
package apu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Simplici0/micaa/internal/apperrors"
	"github.com/Simplici0/micaa/internal/metrics"
	"github.com/Simplici0/micaa/internal/pricing"
	"github.com/Simplici0/micaa/internal/store"
)

// PriceContext selects whose overrides, which project rates and which city a
// price is computed for. Zero values mean none.
type PriceContext struct {
	UserID    int64
	ProjectID int64
	City      string
	Country   string
}

// Quote is a priced activity.
type Quote struct {
	Activity   store.Activity        `json:"activity"`
	Lines      []pricing.Line        `json:"lines"`
	Base       pricing.Breakdown     `json:"base"`
	Breakdown  pricing.Breakdown     `json:"breakdown"`
	Adjustment *pricing.Adjustment   `json:"adjustment,omitempty"`
	Settings   pricing.PriceSettings `json:"settings"`
	// TotalUSD converts the unit price with the settings exchange rate.
	TotalUSD  decimal.Decimal   `json:"total_usd"`
	Warnings  []pricing.Warning `json:"warnings"`
	Estimated bool              `json:"estimated"`
}

func (q Quote) MarshalJSON() ([]byte, error) {
	type alias Quote
	return json.Marshal(struct {
		alias
		TotalUSD string `json:"total_usd"`
	}{alias(q), q.TotalUSD.StringFixed(pricing.PricePlaces)})
}

type Service struct {
	store       *store.Store
	log         logrus.FieldLogger
	bulkTimeout time.Duration
}

func NewService(st *store.Store, logger logrus.FieldLogger, bulkTimeout time.Duration) *Service {
	return &Service{store: st, log: logger, bulkTimeout: bulkTimeout}
}

// snapshot is everything a price depends on, read in one transaction.
type snapshot struct {
	activity store.Activity
	lines    []pricing.Line
	rates    pricing.IndirectRates
	settings pricing.PriceSettings
	city     string
	country  string
	factor   *pricing.CityFactor
}

func (s *Service) readSnapshot(ctx context.Context, tx *store.Tx, activityID int64, pc PriceContext) (snapshot, error) {
	snap := snapshot{rates: pricing.DefaultIndirectRates(), city: pc.City, country: pc.Country}

	activity, err := tx.GetActivity(ctx, activityID)
	if err != nil {
		return snapshot{}, err
	}
	snap.activity = activity

	if pc.ProjectID > 0 {
		project, err := tx.GetProject(ctx, pc.ProjectID)
		if err != nil {
			return snapshot{}, err
		}
		snap.rates = project.Rates
		if snap.city == "" {
			snap.city, snap.country = project.City, project.Country
		}
	}

	settings, err := tx.PriceSettings(ctx)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		settings = pricing.DefaultPriceSettings()
	case err != nil:
		return snapshot{}, err
	}
	snap.settings = settings

	components, err := tx.Composition(ctx, activityID)
	if err != nil {
		return snapshot{}, err
	}
	snap.lines, err = pricing.NewResolver(tx, tx, pc.UserID).Price(ctx, components)
	if err != nil {
		return snapshot{}, err
	}

	if snap.city != "" {
		f, ok, err := tx.CityFactor(ctx, snap.city, snap.country)
		if err != nil {
			return snapshot{}, err
		}
		if ok {
			snap.factor = &f
		}
	}
	return snap, nil
}

// GetUnitPrice computes the unit price of an activity for pc. Catalog,
// composition and overrides are read from one consistent snapshot.
func (s *Service) GetUnitPrice(ctx context.Context, activityID int64, pc PriceContext) (Quote, error) {
	start := time.Now()
	quote, err := s.getUnitPrice(ctx, activityID, pc)
	metrics.ObserveUnitPrice(metrics.Result(err), time.Since(start))
	if err != nil {
		return Quote{}, err
	}

	for _, w := range quote.Warnings {
		metrics.IncPricingWarning(string(w.Code))
	}
	if quote.Estimated {
		s.log.WithFields(logrus.Fields{
			"activity_id": activityID,
			"warnings":    len(quote.Warnings),
		}).Debug("unit price estimated")
	}
	return quote, nil
}

func (s *Service) getUnitPrice(ctx context.Context, activityID int64, pc PriceContext) (Quote, error) {
	if activityID <= 0 {
		return Quote{}, apperrors.NewValidationError("activity_id", "gt=0")
	}
	if pc.City == "" && pc.Country != "" {
		return Quote{}, apperrors.NewValidationError("city", "required_with=country")
	}

	var snap snapshot
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		snap, err = s.readSnapshot(ctx, tx, activityID, pc)
		return err
	})
	if err != nil {
		return Quote{}, fmt.Errorf("read pricing snapshot for activity %d: %w", activityID, err)
	}

	base, err := pricing.ComputeUnitPrice(activityID, snap.lines, snap.rates)
	if err != nil {
		return Quote{}, err
	}

	quote := Quote{
		Activity:  snap.activity,
		Lines:     snap.lines,
		Base:      base,
		Breakdown: base,
		Settings:  snap.settings,
	}
	if snap.city != "" {
		adjusted, adj := pricing.ApplyGeographicAdjustment(base, snap.city, snap.country, snap.factor)
		quote.Breakdown = adjusted
		quote.Adjustment = &adj
	}

	quote.Warnings = quote.Breakdown.Warnings
	if quote.Warnings == nil {
		quote.Warnings = []pricing.Warning{}
	}
	quote.Estimated = quote.Breakdown.Estimated()
	if snap.settings.USDExchangeRate.IsPositive() {
		quote.TotalUSD = pricing.RoundPrice(quote.Breakdown.TotalUnitPrice.Div(snap.settings.USDExchangeRate))
	}
	return quote, nil
}

// recompute prices an activity with default rates and catalog prices and
// writes the result to the activity cache.
func recompute(ctx context.Context, tx *store.Tx, activityID int64) (decimal.Decimal, error) {
	components, err := tx.Composition(ctx, activityID)
	if err != nil {
		return decimal.Zero, err
	}
	lines, err := pricing.NewResolver(tx, nil, 0).Price(ctx, components)
	if err != nil {
		return decimal.Zero, err
	}
	b, err := pricing.ComputeUnitPrice(activityID, lines, pricing.DefaultIndirectRates())
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.UpdateActivityPrice(ctx, activityID, b.TotalUnitPrice); err != nil {
		return decimal.Zero, err
	}
	return b.TotalUnitPrice, nil
}

// RecomputeAndPersist refreshes the cached unit price of one activity.
func (s *Service) RecomputeAndPersist(ctx context.Context, activityID int64) (decimal.Decimal, error) {
	if activityID <= 0 {
		return decimal.Zero, apperrors.NewValidationError("activity_id", "gt=0")
	}

	start := time.Now()
	var price decimal.Decimal
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetActivity(ctx, activityID); err != nil {
			return err
		}
		var err error
		price, err = recompute(ctx, tx, activityID)
		return err
	})
	metrics.ObserveRecompute(metrics.ScopeActivity, metrics.Result(err), time.Since(start))
	if err != nil {
		return decimal.Zero, fmt.Errorf("recompute activity %d: %w", activityID, err)
	}

	s.log.WithFields(logrus.Fields{
		"activity_id": activityID,
		"unit_price":  price.StringFixed(pricing.PricePlaces),
	}).Info("activity unit price recomputed")
	return price, nil
}

// RecomputeAll refreshes every activity in one transaction bounded by the
// bulk timeout. Nothing is written if any activity fails.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	ctx, cancel := s.bulkContext(ctx)
	defer cancel()

	start := time.Now()
	count := 0
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		ids, err := tx.ActivityIDs(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := recompute(ctx, tx, id); err != nil {
				return fmt.Errorf("activity %d: %w", id, err)
			}
			count++
		}
		return nil
	})
	metrics.ObserveRecompute(metrics.ScopeAll, metrics.Result(err), time.Since(start))
	if err != nil {
		return 0, apperrors.Persistence("recompute all activities", err)
	}

	s.log.WithFields(logrus.Fields{
		"activities": count,
		"duration":   time.Since(start).String(),
	}).Info("activity unit prices recomputed")
	return count, nil
}

// SaveComposition validates and replaces an activity's composition. The cached
// unit price is left as is until the next recompute.
func (s *Service) SaveComposition(ctx context.Context, activityID int64, components []pricing.Component) error {
	if err := pricing.ValidateComposition(activityID, components); err != nil {
		return err
	}
	if err := s.store.SaveComposition(ctx, activityID, components); err != nil {
		return fmt.Errorf("save composition of activity %d: %w", activityID, err)
	}

	s.log.WithFields(logrus.Fields{
		"activity_id": activityID,
		"components":  len(components),
	}).Info("composition replaced")
	return nil
}

// ApplyGlobalPriceAdjustment multiplies every catalog price by factor.
func (s *Service) ApplyGlobalPriceAdjustment(ctx context.Context, factor decimal.Decimal, updatedBy string) (store.AdjustmentRecord, error) {
	if !factor.Round(pricing.FactorPlaces).IsPositive() {
		return store.AdjustmentRecord{}, apperrors.NewValidationError("factor", "gt=0")
	}
	if updatedBy == "" {
		return store.AdjustmentRecord{}, apperrors.NewValidationError("updated_by", "required")
	}

	ctx, cancel := s.bulkContext(ctx)
	defer cancel()

	start := time.Now()
	rec, err := s.store.ApplyGlobalAdjustment(ctx, factor, updatedBy)
	metrics.ObserveGlobalAdjustment(metrics.Result(err), rec.AffectedMaterials, time.Since(start))
	if err != nil {
		return store.AdjustmentRecord{}, err
	}

	s.log.WithFields(logrus.Fields{
		"factor":     rec.Factor.String(),
		"affected":   rec.AffectedMaterials,
		"updated_by": updatedBy,
		"audit_id":   rec.ID.String(),
	}).Info("global price adjustment applied")
	return rec, nil
}

func (s *Service) PriceSettings(ctx context.Context) (pricing.PriceSettings, error) {
	return s.store.PriceSettings(ctx)
}

// UpdatePriceSettings changes the exchange rate and inflation factor.
func (s *Service) UpdatePriceSettings(ctx context.Context, ps pricing.PriceSettings, updatedBy string) (pricing.PriceSettings, error) {
	current, err := s.store.PriceSettings(ctx)
	if err != nil {
		return pricing.PriceSettings{}, err
	}
	// The global factor is owned by ApplyGlobalPriceAdjustment.
	ps.GlobalAdjustmentFactor = current.GlobalAdjustmentFactor
	ps = ps.Rounded()
	if err := pricing.Validate(ps); err != nil {
		return pricing.PriceSettings{}, err
	}
	if err := s.store.UpdatePriceSettings(ctx, ps, updatedBy); err != nil {
		return pricing.PriceSettings{}, err
	}
	return s.store.PriceSettings(ctx)
}

func (s *Service) bulkContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.bulkTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.bulkTimeout)
}
