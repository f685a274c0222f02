package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/micaa/internal/apperrors"
	"github.com/Simplici0/micaa/internal/pricing"
)

func (s *server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Statistics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handlePhases(w http.ResponseWriter, r *http.Request) {
	phases, err := s.store.ListPhases(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, phases)
}

func (s *server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ListCategories(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *server) handleMaterials(w http.ResponseWriter, r *http.Request) {
	var (
		materials []pricing.Material
		err       error
	)
	categoryID, err := parseOptionalID(r.URL.Query().Get("category"), "category")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	switch q := strings.TrimSpace(r.URL.Query().Get("q")); {
	case q != "":
		materials, err = s.store.SearchMaterials(r.Context(), q)
	case categoryID != 0:
		materials, err = s.store.MaterialsByCategory(r.Context(), categoryID)
	default:
		materials, err = s.store.ListMaterials(r.Context())
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, materials)
}

func (s *server) handleMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.store.GetMaterial(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type materialRequest struct {
	CategoryID  int64           `json:"category_id" validate:"gt=0"`
	Name        string          `json:"name" validate:"required"`
	Unit        string          `json:"unit" validate:"required"`
	Price       decimal.Decimal `json:"price" validate:"gte=0"`
	Description string          `json:"description"`
}

// material validates req and checks the category exists.
func (s *server) material(r *http.Request, req materialRequest) (pricing.Material, error) {
	if strings.TrimSpace(req.Name) == "" {
		return pricing.Material{}, apperrors.NewValidationError("name", "required")
	}
	if strings.TrimSpace(req.Unit) == "" {
		return pricing.Material{}, apperrors.NewValidationError("unit", "required")
	}
	categories, err := s.store.ListCategories(r.Context())
	if err != nil {
		return pricing.Material{}, err
	}
	for _, c := range categories {
		if c.ID == req.CategoryID {
			return pricing.Material{
				CategoryID:  req.CategoryID,
				Name:        strings.TrimSpace(req.Name),
				Unit:        strings.TrimSpace(req.Unit),
				Price:       pricing.RoundPrice(req.Price),
				Description: req.Description,
			}, nil
		}
	}
	return pricing.Material{}, fmt.Errorf("material category %d: %w", req.CategoryID, apperrors.ErrNotFound)
}

func (s *server) handleCreateMaterial(w http.ResponseWriter, r *http.Request) {
	var req materialRequest
	if err := decodeValid(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.material(r, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.store.CreateMaterial(r.Context(), m)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err = s.store.GetMaterial(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.WithFields(logFields(r)).WithField("material_id", id).Info("material created")
	writeJSON(w, http.StatusCreated, m)
}

// handleUpdateMaterial replaces a catalog material. Cached activity prices
// pick up the new price on the next recompute.
func (s *server) handleUpdateMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req materialRequest
	if err := decodeValid(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.material(r, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m.ID = id
	if err := s.store.UpdateMaterial(r.Context(), m); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err = s.store.GetMaterial(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *server) handleDeleteMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.DeleteMaterial(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.WithFields(logFields(r)).WithField("material_id", id).Info("material deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleActivities(w http.ResponseWriter, r *http.Request) {
	phaseID, err := parseOptionalID(r.URL.Query().Get("phase"), "phase")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	activities, err := s.store.ListActivities(r.Context(), phaseID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activities)
}

func (s *server) handleActivity(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.store.GetActivity(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *server) handleGetComposition(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.GetActivity(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	components, err := s.store.Composition(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, components)
}

type compositionRequest struct {
	Components []pricing.Component `json:"components"`
}

// handlePutComposition replaces the whole composition. Component activity ids
// are taken from the path.
func (s *server) handlePutComposition(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req compositionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	for i := range req.Components {
		req.Components[i].ID = 0
		req.Components[i].ActivityID = id
	}

	if err := s.prices.SaveComposition(r.Context(), id, req.Components); err != nil {
		s.writeError(w, r, err)
		return
	}

	components, err := s.store.Composition(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, components)
}
