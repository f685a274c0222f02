package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/micaa/internal/apperrors"
	"github.com/Simplici0/micaa/internal/db"
	"github.com/Simplici0/micaa/internal/migrations"
	"github.com/Simplici0/micaa/internal/pricing"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "store-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, migrations.Up(ctx, database))
	return New(database)
}

type fixture struct {
	categoryID int64
	phaseID    int64
	activityID int64
	materials  []int64
}

func seedFixture(t *testing.T, s *Store) fixture {
	t.Helper()
	ctx := context.Background()

	var f fixture
	var err error
	f.categoryID, _, err = s.EnsureCategory(ctx, "Aglomerantes")
	require.NoError(t, err)
	f.phaseID, _, err = s.EnsurePhase(ctx, "Obra gruesa", "")
	require.NoError(t, err)

	for _, m := range []pricing.Material{
		{Name: "Cemento portland IP-30", Unit: "kg", Price: d("1.20")},
		{Name: "Arena fina", Unit: "m3", Price: d("70.00")},
		{Name: "Ladrillo adobito", Unit: "pza", Price: d("0.65")},
	} {
		m.CategoryID = f.categoryID
		id, err := s.CreateMaterial(ctx, m)
		require.NoError(t, err)
		f.materials = append(f.materials, id)
	}

	f.activityID, err = s.CreateActivity(ctx, Activity{PhaseID: f.phaseID, Name: "CIMIENTO DE LADRILLO ADOBITO", Unit: "m3"})
	require.NoError(t, err)
	return f
}

func storedPrice(t *testing.T, s *Store, id int64) string {
	t.Helper()
	m, err := s.GetMaterial(context.Background(), id)
	require.NoError(t, err)
	return m.Price.StringFixed(pricing.PricePlaces)
}

func TestSaveCompositionReplacesAll(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	ref := f.materials[0]
	first := []pricing.Component{
		{ActivityID: f.activityID, MaterialID: &ref, Kind: pricing.KindMaterial, Description: "Cemento", Unit: "kg", Quantity: d("60"), UnitCost: d("1.2")},
		{ActivityID: f.activityID, Kind: pricing.KindLabor, Description: "Ayudante", Unit: "hr", Quantity: d("5.7"), UnitCost: d("12.5")},
	}
	require.NoError(t, s.SaveComposition(ctx, f.activityID, first))

	got, err := s.Composition(ctx, f.activityID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].MaterialID)
	assert.Equal(t, ref, *got[0].MaterialID)
	assert.Equal(t, "60.0000", got[0].Quantity.StringFixed(pricing.QuantityPlaces))
	assert.Nil(t, got[1].MaterialID)

	second := []pricing.Component{
		{ActivityID: f.activityID, Kind: pricing.KindEquipment, Description: "Herramientas y equipos", Unit: "%", Quantity: d("5"), UnitCost: d("0")},
	}
	require.NoError(t, s.SaveComposition(ctx, f.activityID, second))

	got, err = s.Composition(ctx, f.activityID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pricing.KindEquipment, got[0].Kind)
}

func TestSaveCompositionUnknownActivity(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveComposition(context.Background(), 999, nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeleteActivityCascadesComposition(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	require.NoError(t, s.SaveComposition(ctx, f.activityID, []pricing.Component{
		{ActivityID: f.activityID, Kind: pricing.KindLabor, Description: "Ayudante", Unit: "hr", Quantity: d("1"), UnitCost: d("12.50")},
	}))
	require.NoError(t, s.DeleteActivity(ctx, f.activityID))

	got, err := s.Composition(ctx, f.activityID)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.GetActivity(ctx, f.activityID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateActivityPrice(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	require.NoError(t, s.UpdateActivityPrice(ctx, f.activityID, d("1234.5")))

	a, err := s.GetActivity(ctx, f.activityID)
	require.NoError(t, err)
	assert.Equal(t, "1234.50", a.UnitPrice.StringFixed(pricing.PricePlaces))
	assert.NotNil(t, a.PriceUpdatedAt)

	err = s.UpdateActivityPrice(ctx, 999, d("1"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMaterialsByCategoryAndUpdate(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	other, _, err := s.EnsureCategory(ctx, "Áridos")
	require.NoError(t, err)

	m, err := s.GetMaterial(ctx, f.materials[1])
	require.NoError(t, err)
	m.CategoryID = other
	m.Price = d("72.456")
	require.NoError(t, s.UpdateMaterial(ctx, m))

	got, err := s.MaterialsByCategory(ctx, other)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Arena fina", got[0].Name)
	assert.Equal(t, "72.46", got[0].Price.StringFixed(pricing.PricePlaces))

	got, err = s.MaterialsByCategory(ctx, f.categoryID)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	m.ID = 9999
	assert.ErrorIs(t, s.UpdateMaterial(ctx, m), apperrors.ErrNotFound)
}

func TestSearchMaterials(t *testing.T) {
	s := newTestStore(t)
	seedFixture(t, s)
	ctx := context.Background()

	got, err := s.SearchMaterials(ctx, "ladrillo")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ladrillo adobito", got[0].Name)

	got, err = s.SearchMaterials(ctx, "%")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestApplyGlobalAdjustment(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()
	_, err := s.EnsurePriceSettings(ctx)
	require.NoError(t, err)

	rec, err := s.ApplyGlobalAdjustment(ctx, d("1.05"), "admin@micaa.test")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.AffectedMaterials)

	assert.Equal(t, "1.26", storedPrice(t, s, f.materials[0]))
	assert.Equal(t, "73.50", storedPrice(t, s, f.materials[1]))
	assert.Equal(t, "0.68", storedPrice(t, s, f.materials[2]))

	ps, err := s.PriceSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0500", ps.GlobalAdjustmentFactor.StringFixed(pricing.FactorPlaces))
	assert.Equal(t, "admin@micaa.test", ps.UpdatedBy)

	audit, err := s.ListAdjustments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, rec.ID, audit[0].ID)
	assert.Equal(t, 3, audit[0].AffectedMaterials)
}

func TestApplyGlobalAdjustmentRejectsNonPositiveFactor(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)

	for _, factor := range []string{"0", "-1.5", "0.00004"} {
		_, err := s.ApplyGlobalAdjustment(context.Background(), d(factor), "admin")
		assert.ErrorIs(t, err, apperrors.ErrValidation, factor)
	}
	assert.Equal(t, "1.20", storedPrice(t, s, f.materials[0]))
}

func TestApplyGlobalAdjustmentIsAtomic(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()
	_, err := s.EnsurePriceSettings(ctx)
	require.NoError(t, err)

	// The second material fails after the first one was already rewritten.
	_, err = s.DB().Exec(fmt.Sprintf(`
		CREATE TRIGGER fail_material_update BEFORE UPDATE ON materials
		WHEN NEW.id = %d
		BEGIN
			SELECT RAISE(ABORT, 'injected failure');
		END
	`, f.materials[1]))
	require.NoError(t, err)

	_, err = s.ApplyGlobalAdjustment(ctx, d("2"), "admin")
	require.ErrorIs(t, err, apperrors.ErrPersistence)

	assert.Equal(t, "1.20", storedPrice(t, s, f.materials[0]))
	assert.Equal(t, "70.00", storedPrice(t, s, f.materials[1]))
	assert.Equal(t, "0.65", storedPrice(t, s, f.materials[2]))

	ps, err := s.PriceSettings(ctx)
	require.NoError(t, err)
	assert.True(t, ps.GlobalAdjustmentFactor.Equal(d("1")))

	audit, err := s.ListAdjustments(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestApplyGlobalAdjustmentHonoursDeadline(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ApplyGlobalAdjustment(ctx, d("3"), "admin")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "1.20", storedPrice(t, s, f.materials[0]))
}

func TestEnsurePriceSettingsIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.EnsurePriceSettings(ctx)
	require.NoError(t, err)
	assert.True(t, inserted)

	require.NoError(t, s.UpdatePriceSettings(ctx, pricing.PriceSettings{USDExchangeRate: d("6.97"), InflationFactor: d("1.02")}, "admin"))

	inserted, err = s.EnsurePriceSettings(ctx)
	require.NoError(t, err)
	assert.False(t, inserted)

	ps, err := s.PriceSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "6.9700", ps.USDExchangeRate.StringFixed(pricing.FactorPlaces))
	assert.Equal(t, "1.0200", ps.InflationFactor.StringFixed(pricing.FactorPlaces))
	assert.True(t, ps.GlobalAdjustmentFactor.Equal(d("1")))
}

func TestCityFactors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.CityFactor(ctx, "Cochabamba", "Bolivia")
	require.NoError(t, err)
	assert.False(t, ok)

	f := pricing.IdentityCityFactor("Cochabamba", "Bolivia")
	f.MaterialsFactor = d("1.1")
	_, err = s.UpsertCityFactor(ctx, f)
	require.NoError(t, err)

	f.LaborFactor = d("0.95")
	_, err = s.UpsertCityFactor(ctx, f)
	require.NoError(t, err)

	got, ok, err := s.CityFactor(ctx, "COCHABAMBA", "bolivia")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1.1000", got.MaterialsFactor.StringFixed(pricing.FactorPlaces))
	assert.Equal(t, "0.9500", got.LaborFactor.StringFixed(pricing.FactorPlaces))

	all, err := s.ListCityFactors(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	tiny := f
	tiny.EquipmentFactor = d("0.00001")
	_, err = s.UpsertCityFactor(ctx, tiny)
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "gt=0", ve.Fields["equipment_factor"])
	got, _, err = s.CityFactor(ctx, "Cochabamba", "Bolivia")
	require.NoError(t, err)
	assert.Equal(t, "1.0000", got.EquipmentFactor.StringFixed(pricing.FactorPlaces))

	require.NoError(t, s.DeleteCityFactor(ctx, "cochabamba", "BOLIVIA"))
	assert.ErrorIs(t, s.DeleteCityFactor(ctx, "Cochabamba", "Bolivia"), apperrors.ErrNotFound)
}

func TestUserMaterialPricesArePerUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureUser(ctx, "ana@micaa.test", "x", RoleUser)
	require.NoError(t, err)
	_, err = s.EnsureUser(ctx, "luis@micaa.test", "x", RoleUser)
	require.NoError(t, err)
	ana, err := s.UserByEmail(ctx, "ana@micaa.test")
	require.NoError(t, err)
	luis, err := s.UserByEmail(ctx, "luis@micaa.test")
	require.NoError(t, err)

	require.NoError(t, s.UpsertUserMaterialPrice(ctx, pricing.UserMaterialPrice{UserID: ana.ID, MaterialName: "Arena fina", Unit: "m3", Price: d("65")}))
	require.NoError(t, s.UpsertUserMaterialPrice(ctx, pricing.UserMaterialPrice{UserID: ana.ID, MaterialName: "arena FINA", Unit: "M3", Price: d("66.5")}))

	price, ok, err := s.UserMaterialPrice(ctx, ana.ID, "ARENA FINA", "m3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "66.50", price.StringFixed(pricing.PricePlaces))

	_, ok, err = s.UserMaterialPrice(ctx, luis.ID, "Arena fina", "m3")
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.ListUserMaterialPrices(ctx, ana.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteUserMaterialPrice(ctx, ana.ID, "Arena fina", "m3"))
	assert.ErrorIs(t, s.DeleteUserMaterialPrice(ctx, ana.ID, "Arena fina", "m3"), apperrors.ErrNotFound)
}

func TestEnsureUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.EnsureUser(ctx, "admin@micaa.test", "hash", RoleAdmin)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.EnsureUser(ctx, "admin@micaa.test", "other", RoleUser)
	require.NoError(t, err)
	assert.False(t, inserted)

	u, err := s.UserByEmail(ctx, "admin@micaa.test")
	require.NoError(t, err)
	assert.True(t, u.IsAdmin())
	assert.Equal(t, "hash", u.PasswordHash)

	byID, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u, byID)

	_, err = s.UserByEmail(ctx, "nobody@micaa.test")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBudgetsAndStatistics(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	projectID, err := s.CreateProject(ctx, Project{Name: "Vivienda", City: "La Paz", Country: "Bolivia", Rates: pricing.DefaultIndirectRates()})
	require.NoError(t, err)

	p, err := s.GetProject(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, "planning", p.Status)
	assert.True(t, p.Rates.TaxPercentage.Equal(d("3.09")))

	budgetID, err := s.CreateBudget(ctx, Budget{ProjectID: projectID, PhaseID: f.phaseID, Status: "active"})
	require.NoError(t, err)

	itemID, err := s.AddBudgetItem(ctx, BudgetItem{BudgetID: budgetID, ActivityID: f.activityID, Quantity: d("12.5"), UnitPrice: d("0"), Subtotal: d("0")})
	require.NoError(t, err)

	items, err := s.BudgetItems(ctx, budgetID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, itemID, items[0].ID)
	assert.Equal(t, "CIMIENTO DE LADRILLO ADOBITO", items[0].ActivityName)

	items[0].UnitPrice = d("100.10")
	items[0].Subtotal = d("1251.25")
	require.NoError(t, s.SaveBudgetPricing(ctx, budgetID, items, d("1251.25")))

	b, err := s.GetBudget(ctx, budgetID)
	require.NoError(t, err)
	assert.Equal(t, "1251.25", b.Total.StringFixed(pricing.PricePlaces))

	st, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalMaterials)
	assert.Equal(t, 1, st.TotalActivities)
	assert.Equal(t, 1, st.ActiveBudgets)
	assert.Equal(t, "1251.25", st.TotalProjectValue.StringFixed(pricing.PricePlaces))

	_, err = s.GetBudget(ctx, budgetID+1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestProjectsListAndUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner, err := s.EnsureUser(ctx, "owner@micaa.test", "x", RoleUser)
	require.NoError(t, err)
	require.True(t, owner)
	u, err := s.UserByEmail(ctx, "owner@micaa.test")
	require.NoError(t, err)

	mine, err := s.CreateProject(ctx, Project{Name: "Vivienda", UserID: u.ID, Rates: pricing.DefaultIndirectRates()})
	require.NoError(t, err)
	_, err = s.CreateProject(ctx, Project{Name: "Colegio", Rates: pricing.DefaultIndirectRates()})
	require.NoError(t, err)

	all, err := s.ListProjects(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	owned, err := s.ListProjects(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "Vivienda", owned[0].Name)

	p := owned[0]
	p.Name = "Vivienda unifamiliar"
	p.City, p.Country = "Sucre", "Bolivia"
	p.Status = ProjectActive
	p.Rates.UtilityPercentage = d("12")
	require.NoError(t, s.UpdateProject(ctx, p))

	got, err := s.GetProject(ctx, mine)
	require.NoError(t, err)
	assert.Equal(t, "Vivienda unifamiliar", got.Name)
	assert.Equal(t, "Sucre", got.City)
	assert.Equal(t, ProjectActive, got.Status)
	assert.Equal(t, u.ID, got.UserID)
	assert.Equal(t, "12.00", got.Rates.UtilityPercentage.StringFixed(pricing.PercentagePlaces))

	p.ID = 9999
	assert.ErrorIs(t, s.UpdateProject(ctx, p), apperrors.ErrNotFound)
}

func TestBudgetStatusAndItems(t *testing.T) {
	s := newTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	projectID, err := s.CreateProject(ctx, Project{Name: "Vivienda", Rates: pricing.DefaultIndirectRates()})
	require.NoError(t, err)
	budgetID, err := s.CreateBudget(ctx, Budget{ProjectID: projectID, PhaseID: f.phaseID})
	require.NoError(t, err)
	otherID, err := s.CreateBudget(ctx, Budget{ProjectID: projectID, PhaseID: f.phaseID})
	require.NoError(t, err)

	itemID, err := s.AddBudgetItem(ctx, BudgetItem{BudgetID: budgetID, ActivityID: f.activityID, Quantity: d("2"), UnitPrice: d("10"), Subtotal: d("20")})
	require.NoError(t, err)
	require.NoError(t, s.SaveBudgetPricing(ctx, budgetID, []BudgetItem{{ID: itemID, Quantity: d("2"), UnitPrice: d("10"), Subtotal: d("20")}}, d("20")))

	st, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.ActiveBudgets)
	assert.True(t, st.TotalProjectValue.IsZero())

	var ve *apperrors.ValidationError
	require.ErrorAs(t, s.SetBudgetStatus(ctx, budgetID, "archived"), &ve)
	require.NoError(t, s.SetBudgetStatus(ctx, budgetID, BudgetActive))
	assert.ErrorIs(t, s.SetBudgetStatus(ctx, 9999, BudgetActive), apperrors.ErrNotFound)

	st, err = s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ActiveBudgets)
	assert.Equal(t, "20.00", st.TotalProjectValue.StringFixed(pricing.PricePlaces))

	budgets, err := s.ListBudgets(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, budgets, 2)
	assert.Equal(t, BudgetActive, budgets[0].Status)
	assert.Equal(t, BudgetDraft, budgets[1].Status)

	// Items are addressed within their budget.
	err = s.UpdateBudgetItem(ctx, BudgetItem{ID: itemID, BudgetID: otherID, Quantity: d("1"), UnitPrice: d("1"), Subtotal: d("1")})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, s.DeleteBudgetItem(ctx, otherID, itemID), apperrors.ErrNotFound)

	require.NoError(t, s.UpdateBudgetItem(ctx, BudgetItem{ID: itemID, BudgetID: budgetID, Quantity: d("3.1234"), UnitPrice: d("10"), Subtotal: d("31.23")}))
	items, err := s.BudgetItems(ctx, budgetID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "3.123", items[0].Quantity.StringFixed(3))

	require.NoError(t, s.DeleteBudgetItem(ctx, budgetID, itemID))
	items, err = s.BudgetItems(ctx, budgetID)
	require.NoError(t, err)
	assert.Empty(t, items)
}
