package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Simplici0/micaa/internal/apperrors"
	"github.com/Simplici0/micaa/internal/apu"
	"github.com/Simplici0/micaa/internal/export"
	"github.com/Simplici0/micaa/internal/metrics"
	"github.com/Simplici0/micaa/internal/pricing"
)

// parsePriceContext reads ?project=&city=&country= for the acting user.
func parsePriceContext(r *http.Request, userID int64) (apu.PriceContext, error) {
	q := r.URL.Query()
	projectID, err := parseOptionalID(q.Get("project"), "project")
	if err != nil {
		return apu.PriceContext{}, err
	}
	return apu.PriceContext{
		UserID:    userID,
		ProjectID: projectID,
		City:      strings.TrimSpace(q.Get("city")),
		Country:   strings.TrimSpace(q.Get("country")),
	}, nil
}

func (s *server) quote(r *http.Request) (apu.Quote, error) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		return apu.Quote{}, err
	}
	u, _ := userFromContext(r.Context())
	pc, err := parsePriceContext(r, u.ID)
	if err != nil {
		return apu.Quote{}, err
	}
	return s.prices.GetUnitPrice(r.Context(), id, pc)
}

func (s *server) handlePrice(w http.ResponseWriter, r *http.Request) {
	q, err := s.quote(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *server) handleAPUExport(w http.ResponseWriter, r *http.Request) {
	q, err := s.quote(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	data, err := export.BuildAPUXLSX(q)
	metrics.IncExport(metrics.Result(err))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=apu-%d.xlsx", q.Activity.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	price, err := s.prices.RecomputeAndPersist(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity_id": id, "unit_price": price.StringFixed(pricing.PricePlaces)})
}

func (s *server) handleRecomputeAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.prices.RecomputeAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recomputed": n})
}

func (s *server) handleGetPriceSettings(w http.ResponseWriter, r *http.Request) {
	ps, err := s.prices.PriceSettings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

type priceSettingsRequest struct {
	USDExchangeRate decimal.Decimal `json:"usd_exchange_rate" validate:"gt=0"`
	InflationFactor decimal.Decimal `json:"inflation_factor" validate:"gt=0"`
}

func (s *server) handlePutPriceSettings(w http.ResponseWriter, r *http.Request) {
	var req priceSettingsRequest
	if err := decodeValid(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	u, _ := userFromContext(r.Context())
	ps, err := s.prices.UpdatePriceSettings(r.Context(), pricing.PriceSettings{
		USDExchangeRate: req.USDExchangeRate,
		InflationFactor: req.InflationFactor,
	}, u.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

type priceAdjustmentRequest struct {
	Factor decimal.Decimal `json:"factor" validate:"gt=0"`
}

func (s *server) handlePriceAdjustment(w http.ResponseWriter, r *http.Request) {
	var req priceAdjustmentRequest
	if err := decodeValid(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	u, _ := userFromContext(r.Context())
	rec, err := s.prices.ApplyGlobalPriceAdjustment(r.Context(), req.Factor, u.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) handleListPriceAdjustments(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListAdjustments(r.Context(), 50)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *server) handleListCityFactors(w http.ResponseWriter, r *http.Request) {
	factors, err := s.store.ListCityFactors(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, factors)
}

func (s *server) handlePutCityFactor(w http.ResponseWriter, r *http.Request) {
	var f pricing.CityFactor
	if err := decodeValid(r, &f); err != nil {
		s.writeError(w, r, err)
		return
	}
	f.City = strings.TrimSpace(f.City)
	f.Country = strings.TrimSpace(f.Country)

	if _, err := s.store.UpsertCityFactor(r.Context(), f); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.WithFields(logFields(r)).WithFields(logrus.Fields{"city": f.City, "country": f.Country}).Info("city price factor saved")

	saved, _, err := s.store.CityFactor(r.Context(), f.City, f.Country)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *server) handleDeleteCityFactor(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	country := strings.TrimSpace(r.URL.Query().Get("country"))
	if city == "" || country == "" {
		s.writeError(w, r, &apperrors.ValidationError{Fields: map[string]string{"city": "required", "country": "required"}})
		return
	}
	if err := s.store.DeleteCityFactor(r.Context(), city, country); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListMyPrices(w http.ResponseWriter, r *http.Request) {
	u, _ := userFromContext(r.Context())
	prices, err := s.store.ListUserMaterialPrices(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

func (s *server) handlePutMyPrice(w http.ResponseWriter, r *http.Request) {
	var p pricing.UserMaterialPrice
	if err := decodeJSON(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, _ := userFromContext(r.Context())
	p.UserID = u.ID
	p.MaterialName = strings.TrimSpace(p.MaterialName)
	p.Unit = strings.TrimSpace(p.Unit)
	if err := pricing.Validate(p); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.store.UpsertUserMaterialPrice(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	p.Price = pricing.RoundPrice(p.Price)
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleDeleteMyPrice(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("material_name"))
	unit := strings.TrimSpace(r.URL.Query().Get("unit"))
	if name == "" || unit == "" {
		s.writeError(w, r, &apperrors.ValidationError{Fields: map[string]string{"material_name": "required", "unit": "required"}})
		return
	}

	u, _ := userFromContext(r.Context())
	if err := s.store.DeleteUserMaterialPrice(r.Context(), u.ID, name, unit); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
