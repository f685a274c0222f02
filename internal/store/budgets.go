package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/micaa/internal/apperrors"
	"github.com/Simplici0/micaa/internal/pricing"
)

type Project struct {
	ID        int64                 `json:"id"`
	Name      string                `json:"name"`
	Client    string                `json:"client,omitempty"`
	Location  string                `json:"location,omitempty"`
	City      string                `json:"city,omitempty"`
	Country   string                `json:"country,omitempty"`
	UserID    int64                 `json:"user_id,omitempty"`
	Status    string                `json:"status"`
	Rates     pricing.IndirectRates `json:"rates"`
	CreatedAt time.Time             `json:"created_at"`
}

// Project and budget statuses accepted by the schema.
const (
	ProjectPlanning  = "planning"
	ProjectActive    = "active"
	ProjectCompleted = "completed"
	ProjectCancelled = "cancelled"

	BudgetDraft     = "draft"
	BudgetActive    = "active"
	BudgetCompleted = "completed"
)

type Budget struct {
	ID        int64           `json:"id"`
	ProjectID int64           `json:"project_id"`
	PhaseID   int64           `json:"phase_id"`
	Total     decimal.Decimal `json:"total"`
	Status    string          `json:"status"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type BudgetItem struct {
	ID           int64           `json:"id"`
	BudgetID     int64           `json:"budget_id"`
	ActivityID   int64           `json:"activity_id"`
	ActivityName string          `json:"activity_name"`
	Unit         string          `json:"unit"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

const budgetQuantityPlaces = 3

func (q queries) CreateProject(ctx context.Context, p Project) (int64, error) {
	if p.Status == "" {
		p.Status = ProjectPlanning
	}
	now := formatTime(q.now())
	pct := func(d decimal.Decimal) string { return d.StringFixed(pricing.PercentagePlaces) }
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO projects (
			name, client, location, city, country, user_id, status,
			equipment_percentage, administrative_percentage, utility_percentage, tax_percentage, social_charges_percentage,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.Name, nullString(p.Client), nullString(p.Location), nullString(p.City), nullString(p.Country), nullInt64(p.UserID), p.Status,
		pct(p.Rates.EquipmentPercentage), pct(p.Rates.AdministrativePercentage), pct(p.Rates.UtilityPercentage),
		pct(p.Rates.TaxPercentage), pct(p.Rates.SocialChargesPercentage),
		now, now,
	)
	if err != nil {
		return 0, apperrors.Persistence("insert project", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.Persistence("insert project", err)
	}
	return id, nil
}

const projectColumns = `
	id, name, COALESCE(client, ''), COALESCE(location, ''), COALESCE(city, ''), COALESCE(country, ''), user_id, status,
	equipment_percentage, administrative_percentage, utility_percentage, tax_percentage, social_charges_percentage,
	created_at`

func scanProject(scan func(dest ...any) error) (Project, error) {
	var (
		p       Project
		userID  sql.NullInt64
		created string
	)
	if err := scan(
		&p.ID, &p.Name, &p.Client, &p.Location, &p.City, &p.Country, &userID, &p.Status,
		&p.Rates.EquipmentPercentage, &p.Rates.AdministrativePercentage, &p.Rates.UtilityPercentage,
		&p.Rates.TaxPercentage, &p.Rates.SocialChargesPercentage,
		&created,
	); err != nil {
		return Project{}, err
	}
	p.UserID = userID.Int64
	p.CreatedAt = parseTime(created)
	return p, nil
}

func (q queries) GetProject(ctx context.Context, id int64) (Project, error) {
	p, err := scanProject(q.q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, fmt.Errorf("project %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return Project{}, apperrors.Persistence("query project", err)
	}
	return p, nil
}

// ListProjects returns the projects of userID, newest first. Zero lists all.
func (q queries) ListProjects(ctx context.Context, userID int64) ([]Project, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE ? = 0 OR user_id = ?
		ORDER BY created_at DESC, id DESC
	`, userID, userID)
	if err != nil {
		return nil, apperrors.Persistence("query projects", err)
	}
	defer rows.Close()

	projects := make([]Project, 0)
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, apperrors.Persistence("scan project", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("iterate projects", err)
	}
	return projects, nil
}

// UpdateProject overwrites the editable fields of p.ID. The owner is kept.
func (q queries) UpdateProject(ctx context.Context, p Project) error {
	pct := func(d decimal.Decimal) string { return d.StringFixed(pricing.PercentagePlaces) }
	res, err := q.q.ExecContext(ctx, `
		UPDATE projects
		SET
			name = ?, client = ?, location = ?, city = ?, country = ?, status = ?,
			equipment_percentage = ?, administrative_percentage = ?, utility_percentage = ?,
			tax_percentage = ?, social_charges_percentage = ?,
			updated_at = ?
		WHERE id = ?
	`,
		p.Name, nullString(p.Client), nullString(p.Location), nullString(p.City), nullString(p.Country), p.Status,
		pct(p.Rates.EquipmentPercentage), pct(p.Rates.AdministrativePercentage), pct(p.Rates.UtilityPercentage),
		pct(p.Rates.TaxPercentage), pct(p.Rates.SocialChargesPercentage),
		formatTime(q.now()), p.ID,
	)
	if err != nil {
		return apperrors.Persistence("update project", err)
	}
	if err := requireAffected(res, "update project"); err != nil {
		return fmt.Errorf("project %d: %w", p.ID, err)
	}
	return nil
}

func (q queries) CreateBudget(ctx context.Context, b Budget) (int64, error) {
	if b.Status == "" {
		b.Status = BudgetDraft
	}
	now := formatTime(q.now())
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO budgets (project_id, phase_id, total, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ProjectID, b.PhaseID, b.Total.StringFixed(pricing.PricePlaces), b.Status, now, now)
	if err != nil {
		return 0, apperrors.Persistence("insert budget", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.Persistence("insert budget", err)
	}
	return id, nil
}

const budgetColumns = `id, project_id, phase_id, total, status, updated_at`

func scanBudget(scan func(dest ...any) error) (Budget, error) {
	var (
		b       Budget
		updated string
	)
	if err := scan(&b.ID, &b.ProjectID, &b.PhaseID, &b.Total, &b.Status, &updated); err != nil {
		return Budget{}, err
	}
	b.UpdatedAt = parseTime(updated)
	return b, nil
}

func (q queries) GetBudget(ctx context.Context, id int64) (Budget, error) {
	b, err := scanBudget(q.q.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Budget{}, fmt.Errorf("budget %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return Budget{}, apperrors.Persistence("query budget", err)
	}
	return b, nil
}

// ListBudgets returns the budgets of projectID, or every budget when it is zero.
func (q queries) ListBudgets(ctx context.Context, projectID int64) ([]Budget, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+budgetColumns+`
		FROM budgets
		WHERE ? = 0 OR project_id = ?
		ORDER BY id
	`, projectID, projectID)
	if err != nil {
		return nil, apperrors.Persistence("query budgets", err)
	}
	defer rows.Close()

	budgets := make([]Budget, 0)
	for rows.Next() {
		b, err := scanBudget(rows.Scan)
		if err != nil {
			return nil, apperrors.Persistence("scan budget", err)
		}
		budgets = append(budgets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("iterate budgets", err)
	}
	return budgets, nil
}

// SetBudgetStatus moves a budget to status. Only active budgets count in Statistics.
func (q queries) SetBudgetStatus(ctx context.Context, id int64, status string) error {
	switch status {
	case BudgetDraft, BudgetActive, BudgetCompleted:
	default:
		return apperrors.NewValidationError("status", "oneof=draft active completed")
	}
	res, err := q.q.ExecContext(ctx, `UPDATE budgets SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(q.now()), id)
	if err != nil {
		return apperrors.Persistence("update budget status", err)
	}
	if err := requireAffected(res, "update budget status"); err != nil {
		return fmt.Errorf("budget %d: %w", id, err)
	}
	return nil
}

func (q queries) BudgetItems(ctx context.Context, budgetID int64) ([]BudgetItem, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT bi.id, bi.budget_id, bi.activity_id, a.name, a.unit, bi.quantity, bi.unit_price, bi.subtotal
		FROM budget_items bi
		JOIN activities a ON a.id = bi.activity_id
		WHERE bi.budget_id = ?
		ORDER BY bi.id
	`, budgetID)
	if err != nil {
		return nil, apperrors.Persistence("query budget items", err)
	}
	defer rows.Close()

	items := make([]BudgetItem, 0)
	for rows.Next() {
		var it BudgetItem
		if err := rows.Scan(&it.ID, &it.BudgetID, &it.ActivityID, &it.ActivityName, &it.Unit, &it.Quantity, &it.UnitPrice, &it.Subtotal); err != nil {
			return nil, apperrors.Persistence("scan budget item", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("iterate budget items", err)
	}
	return items, nil
}

func (q queries) AddBudgetItem(ctx context.Context, it BudgetItem) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO budget_items (budget_id, activity_id, quantity, unit_price, subtotal)
		VALUES (?, ?, ?, ?, ?)
	`,
		it.BudgetID, it.ActivityID,
		it.Quantity.StringFixed(budgetQuantityPlaces),
		it.UnitPrice.StringFixed(pricing.PricePlaces),
		it.Subtotal.StringFixed(pricing.PricePlaces),
	)
	if err != nil {
		return 0, apperrors.Persistence("insert budget item", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.Persistence("insert budget item", err)
	}
	return id, nil
}

// UpdateBudgetItem rewrites the quantity and prices of one item of budgetID.
func (q queries) UpdateBudgetItem(ctx context.Context, it BudgetItem) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE budget_items SET quantity = ?, unit_price = ?, subtotal = ? WHERE id = ? AND budget_id = ?
	`,
		it.Quantity.StringFixed(budgetQuantityPlaces),
		it.UnitPrice.StringFixed(pricing.PricePlaces),
		it.Subtotal.StringFixed(pricing.PricePlaces),
		it.ID, it.BudgetID,
	)
	if err != nil {
		return apperrors.Persistence("update budget item", err)
	}
	if err := requireAffected(res, "update budget item"); err != nil {
		return fmt.Errorf("budget item %d: %w", it.ID, err)
	}
	return nil
}

func (q queries) DeleteBudgetItem(ctx context.Context, budgetID, itemID int64) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM budget_items WHERE id = ? AND budget_id = ?`, itemID, budgetID)
	if err != nil {
		return apperrors.Persistence("delete budget item", err)
	}
	if err := requireAffected(res, "delete budget item"); err != nil {
		return fmt.Errorf("budget item %d: %w", itemID, err)
	}
	return nil
}

// WriteBudgetPricing writes item prices and the budget total. Run it in a
// transaction together with the item change that made the total stale.
func (q queries) WriteBudgetPricing(ctx context.Context, budgetID int64, items []BudgetItem, total decimal.Decimal) error {
	for _, it := range items {
		it.BudgetID = budgetID
		if err := q.UpdateBudgetItem(ctx, it); err != nil {
			return err
		}
	}

	res, err := q.q.ExecContext(ctx, `UPDATE budgets SET total = ?, updated_at = ? WHERE id = ?`,
		total.StringFixed(pricing.PricePlaces), formatTime(q.now()), budgetID)
	if err != nil {
		return apperrors.Persistence("update budget total", err)
	}
	if err := requireAffected(res, "update budget total"); err != nil {
		return fmt.Errorf("budget %d: %w", budgetID, err)
	}
	return nil
}

// SaveBudgetPricing writes item prices and the budget total in one transaction.
func (s *Store) SaveBudgetPricing(ctx context.Context, budgetID int64, items []BudgetItem, total decimal.Decimal) error {
	return s.InTx(ctx, func(tx *Tx) error {
		return tx.WriteBudgetPricing(ctx, budgetID, items, total)
	})
}

// Statistics are the dashboard counters.
type Statistics struct {
	TotalMaterials    int             `json:"total_materials"`
	TotalActivities   int             `json:"total_activities"`
	ActiveBudgets     int             `json:"active_budgets"`
	TotalProjectValue decimal.Decimal `json:"total_project_value"`
}

func (q queries) Statistics(ctx context.Context) (Statistics, error) {
	var st Statistics
	if err := q.q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM materials),
			(SELECT COUNT(*) FROM activities),
			(SELECT COUNT(*) FROM budgets WHERE status = ?)
	`, BudgetActive).Scan(&st.TotalMaterials, &st.TotalActivities, &st.ActiveBudgets); err != nil {
		return Statistics{}, apperrors.Persistence("query statistics", err)
	}

	// Totals are summed as decimals; SUM() over TEXT would go through floats.
	rows, err := q.q.QueryContext(ctx, `SELECT total FROM budgets WHERE status = ?`, BudgetActive)
	if err != nil {
		return Statistics{}, apperrors.Persistence("query active budget totals", err)
	}
	defer rows.Close()

	st.TotalProjectValue = decimal.Zero
	for rows.Next() {
		var total decimal.Decimal
		if err := rows.Scan(&total); err != nil {
			return Statistics{}, apperrors.Persistence("scan budget total", err)
		}
		st.TotalProjectValue = st.TotalProjectValue.Add(total)
	}
	if err := rows.Err(); err != nil {
		return Statistics{}, apperrors.Persistence("iterate budget totals", err)
	}
	return st, nil
}
