package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/micaa/internal/apperrors"
	"github.com/Simplici0/micaa/internal/pricing"
	"github.com/Simplici0/micaa/internal/store"
)

type projectRequest struct {
	Name     string                 `json:"name" validate:"required"`
	Client   string                 `json:"client"`
	Location string                 `json:"location"`
	City     string                 `json:"city" validate:"required_with=Country"`
	Country  string                 `json:"country"`
	Rates    *pricing.IndirectRates `json:"rates"`
	Status   string                 `json:"status" validate:"omitempty,oneof=planning active completed cancelled"`
}

// rates returns req.Rates validated, or fallback when none were sent.
func (req projectRequest) rates(fallback pricing.IndirectRates) (pricing.IndirectRates, error) {
	if req.Rates == nil {
		return fallback, nil
	}
	if err := pricing.Validate(*req.Rates); err != nil {
		return pricing.IndirectRates{}, err
	}
	return *req.Rates, nil
}

// handleCreateProject creates a project for the acting user. Rates default to
// the regional indirect cost rates.
func (s *server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeValid(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rates, err := req.rates(pricing.DefaultIndirectRates())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	u, _ := userFromContext(r.Context())
	id, err := s.store.CreateProject(r.Context(), store.Project{
		Name:     strings.TrimSpace(req.Name),
		Client:   req.Client,
		Location: req.Location,
		City:     strings.TrimSpace(req.City),
		Country:  strings.TrimSpace(req.Country),
		UserID:   u.ID,
		Status:   req.Status,
		Rates:    rates,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	p, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleListProjects lists the caller's projects. Admins see every project.
func (s *server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	u, _ := userFromContext(r.Context())
	owner := u.ID
	if u.IsAdmin() {
		owner = 0
	}
	projects, err := s.store.ListProjects(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// handleUpdateProject replaces a project's editable fields. Only the owner or
// an admin may edit it; omitted rates and status are kept.
func (s *server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req projectRequest
	if err := decodeValid(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if u, _ := userFromContext(r.Context()); p.UserID != u.ID && !u.IsAdmin() {
		s.writeError(w, r, apperrors.ErrForbidden)
		return
	}
	if p.Rates, err = req.rates(p.Rates); err != nil {
		s.writeError(w, r, err)
		return
	}
	p.Name = strings.TrimSpace(req.Name)
	p.Client = req.Client
	p.Location = req.Location
	p.City = strings.TrimSpace(req.City)
	p.Country = strings.TrimSpace(req.Country)
	if req.Status != "" {
		p.Status = req.Status
	}
	if err := s.store.UpdateProject(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err = s.store.GetProject(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type budgetRequest struct {
	PhaseID int64 `json:"phase_id" validate:"gt=0"`
}

func (s *server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req budgetRequest
	if err := decodeValid(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.GetProject(r.Context(), projectID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.requirePhase(r, req.PhaseID); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := s.store.CreateBudget(r.Context(), store.Budget{ProjectID: projectID, PhaseID: req.PhaseID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.budgets.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (s *server) requirePhase(r *http.Request, phaseID int64) error {
	phases, err := s.store.ListPhases(r.Context())
	if err != nil {
		return err
	}
	for _, p := range phases {
		if p.ID == phaseID {
			return nil
		}
	}
	return fmt.Errorf("phase %d: %w", phaseID, apperrors.ErrNotFound)
}

func (s *server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseOptionalID(r.URL.Query().Get("project"), "project")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	budgets, err := s.store.ListBudgets(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, budgets)
}

func (s *server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.budgets.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type budgetItemRequest struct {
	ActivityID int64           `json:"activity_id" validate:"gt=0"`
	Quantity   decimal.Decimal `json:"quantity" validate:"gt=0"`
}

func (s *server) handleAddBudgetItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req budgetItemRequest
	if err := decodeValid(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	u, _ := userFromContext(r.Context())
	detail, err := s.budgets.AddItem(r.Context(), id, req.ActivityID, req.Quantity, u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (s *server) handleRecalculateBudget(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	u, _ := userFromContext(r.Context())
	detail, err := s.budgets.Recalculate(r.Context(), id, u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type budgetItemUpdateRequest struct {
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
}

func (s *server) handleUpdateBudgetItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	itemID, err := parseIDParam(r, "itemId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req budgetItemUpdateRequest
	if err := decodeValid(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.budgets.UpdateItemQuantity(r.Context(), id, itemID, req.Quantity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *server) handleDeleteBudgetItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	itemID, err := parseIDParam(r, "itemId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.budgets.DeleteItem(r.Context(), id, itemID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type budgetStatusRequest struct {
	Status string `json:"status" validate:"oneof=draft active completed"`
}

func (s *server) handleSetBudgetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req budgetStatusRequest
	if err := decodeValid(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.budgets.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}
