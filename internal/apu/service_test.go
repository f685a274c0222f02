package apu

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/micaa/internal/apperrors"
	"github.com/Simplici0/micaa/internal/db"
	"github.com/Simplici0/micaa/internal/logging"
	"github.com/Simplici0/micaa/internal/migrations"
	"github.com/Simplici0/micaa/internal/pricing"
	"github.com/Simplici0/micaa/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type env struct {
	svc        *Service
	store      *store.Store
	activityID int64
	materials  map[string]int64
}

func newEnv(t *testing.T, bulkTimeout time.Duration) env {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "apu-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, migrations.Up(ctx, database))

	st := store.New(database)
	_, err = st.EnsurePriceSettings(ctx)
	require.NoError(t, err)

	e := env{
		svc:       NewService(st, logging.NewWithOutput("debug", &bytes.Buffer{}), bulkTimeout),
		store:     st,
		materials: map[string]int64{},
	}

	categoryID, _, err := st.EnsureCategory(ctx, "Agregados")
	require.NoError(t, err)
	for _, m := range []pricing.Material{
		{Name: "Cemento portland IP-30", Unit: "kg", Price: d("1.20")},
		{Name: "Arena fina", Unit: "m3", Price: d("70.00")},
		{Name: "Ladrillo adobito", Unit: "pza", Price: d("0.65")},
		{Name: "Agua", Unit: "lt", Price: d("0.06")},
	} {
		m.CategoryID = categoryID
		id, err := st.CreateMaterial(ctx, m)
		require.NoError(t, err)
		e.materials[m.Name] = id
	}

	phaseID, _, err := st.EnsurePhase(ctx, "Obra gruesa", "")
	require.NoError(t, err)
	e.activityID, err = st.CreateActivity(ctx, store.Activity{PhaseID: phaseID, Name: "CIMIENTO DE LADRILLO ADOBITO", Unit: "m3"})
	require.NoError(t, err)

	require.NoError(t, e.svc.SaveComposition(ctx, e.activityID, e.adobito()))
	return e
}

func (e env) adobito() []pricing.Component {
	ref := func(name string) *int64 {
		id := e.materials[name]
		return &id
	}
	material := func(name, unit, qty, cost string) pricing.Component {
		return pricing.Component{ActivityID: e.activityID, MaterialID: ref(name), Kind: pricing.KindMaterial, Description: name, Unit: unit, Quantity: d(qty), UnitCost: d(cost)}
	}
	labor := func(name, qty, cost string) pricing.Component {
		return pricing.Component{ActivityID: e.activityID, Kind: pricing.KindLabor, Description: name, Unit: "hr", Quantity: d(qty), UnitCost: d(cost)}
	}
	return []pricing.Component{
		material("Cemento portland IP-30", "kg", "60", "1.20"),
		material("Arena fina", "m3", "0.35", "70.00"),
		material("Ladrillo adobito", "pza", "515", "0.65"),
		material("Agua", "lt", "350", "0.06"),
		labor("Ayudante", "5.70", "12.50"),
		labor("Maestro albañil", "7.12", "18.75"),
		{ActivityID: e.activityID, Kind: pricing.KindEquipment, Description: "Herramientas y equipos", Unit: "%", Quantity: d("5"), UnitCost: d("0")},
	}
}

func TestGetUnitPrice(t *testing.T) {
	e := newEnv(t, time.Minute)

	q, err := e.svc.GetUnitPrice(context.Background(), e.activityID, PriceContext{})
	require.NoError(t, err)

	assert.Equal(t, "452.25", q.Breakdown.MaterialsCost.StringFixed(2))
	assert.Equal(t, "204.75", q.Breakdown.LaborCost.StringFixed(2))
	assert.Equal(t, pricing.EquipmentFromComposition, q.Breakdown.EquipmentSource)
	assert.Equal(t, "883.27", q.Breakdown.TotalUnitPrice.StringFixed(2))
	assert.Equal(t, "126.91", q.TotalUSD.StringFixed(2))
	assert.Nil(t, q.Adjustment)
	assert.Empty(t, q.Warnings)
	assert.False(t, q.Estimated)
	assert.Len(t, q.Lines, 7)
}

func TestGetUnitPriceUserOverride(t *testing.T) {
	e := newEnv(t, time.Minute)
	ctx := context.Background()

	_, err := e.store.EnsureUser(ctx, "ana@micaa.test", "x", store.RoleUser)
	require.NoError(t, err)
	ana, err := e.store.UserByEmail(ctx, "ana@micaa.test")
	require.NoError(t, err)
	require.NoError(t, e.store.UpsertUserMaterialPrice(ctx, pricing.UserMaterialPrice{UserID: ana.ID, MaterialName: "Arena fina", Unit: "m3", Price: d("80.00")}))

	mine, err := e.svc.GetUnitPrice(ctx, e.activityID, PriceContext{UserID: ana.ID})
	require.NoError(t, err)
	assert.Equal(t, "887.97", mine.Breakdown.TotalUnitPrice.StringFixed(2))

	var sources []pricing.CostSource
	for _, l := range mine.Lines {
		if item, ok := l.(pricing.DirectLineItem); ok && item.Component.Kind == pricing.KindMaterial {
			sources = append(sources, item.Resolution.Source)
		}
	}
	assert.Contains(t, sources, pricing.SourceOverride)

	anonymous, err := e.svc.GetUnitPrice(ctx, e.activityID, PriceContext{})
	require.NoError(t, err)
	assert.Equal(t, "883.27", anonymous.Breakdown.TotalUnitPrice.StringFixed(2))
}

func TestGetUnitPriceProjectRatesAndCity(t *testing.T) {
	e := newEnv(t, time.Minute)
	ctx := context.Background()

	rates := pricing.IndirectRates{
		EquipmentPercentage:      d("5"),
		AdministrativePercentage: d("10"),
		UtilityPercentage:        d("10"),
		TaxPercentage:            d("0"),
		SocialChargesPercentage:  d("71.18"),
	}
	projectID, err := e.store.CreateProject(ctx, store.Project{Name: "Vivienda", City: "Sucre", Country: "Bolivia", Rates: rates})
	require.NoError(t, err)

	q, err := e.svc.GetUnitPrice(ctx, e.activityID, PriceContext{ProjectID: projectID})
	require.NoError(t, err)
	assert.Equal(t, "834.72", q.Base.TotalUnitPrice.StringFixed(2))
	require.NotNil(t, q.Adjustment)
	assert.False(t, q.Adjustment.Applied)
	assert.Equal(t, "Sucre", q.Adjustment.City)
	require.Len(t, q.Warnings, 1)
	assert.Equal(t, pricing.WarnMissingCityFactor, q.Warnings[0].Code)
	assert.True(t, q.Estimated)

	_, err = e.svc.GetUnitPrice(ctx, e.activityID, PriceContext{ProjectID: projectID + 1})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetUnitPriceCityFactor(t *testing.T) {
	e := newEnv(t, time.Minute)
	ctx := context.Background()

	f := pricing.IdentityCityFactor("Santa Cruz", "Bolivia")
	f.MaterialsFactor = d("1.1")
	_, err := e.store.UpsertCityFactor(ctx, f)
	require.NoError(t, err)

	q, err := e.svc.GetUnitPrice(ctx, e.activityID, PriceContext{City: "santa cruz", Country: "bolivia"})
	require.NoError(t, err)
	require.NotNil(t, q.Adjustment)
	assert.True(t, q.Adjustment.Applied)
	assert.Equal(t, "883.27", q.Base.TotalUnitPrice.StringFixed(2))
	assert.Equal(t, "941.17", q.Breakdown.TotalUnitPrice.StringFixed(2))
	assert.False(t, q.Estimated)
}

func TestGetUnitPriceUnresolvedReference(t *testing.T) {
	e := newEnv(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, e.store.DeleteMaterial(ctx, e.materials["Arena fina"]))

	q, err := e.svc.GetUnitPrice(ctx, e.activityID, PriceContext{})
	require.NoError(t, err)
	assert.Equal(t, "883.27", q.Breakdown.TotalUnitPrice.StringFixed(2))
	require.Len(t, q.Warnings, 1)
	assert.Equal(t, pricing.WarnUnresolvedReference, q.Warnings[0].Code)
	assert.Equal(t, e.materials["Arena fina"], q.Warnings[0].MaterialID)
	assert.True(t, q.Estimated)
}

func TestGetUnitPriceErrors(t *testing.T) {
	e := newEnv(t, time.Minute)
	ctx := context.Background()

	_, err := e.svc.GetUnitPrice(ctx, 0, PriceContext{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = e.svc.GetUnitPrice(ctx, e.activityID+100, PriceContext{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = e.svc.GetUnitPrice(ctx, e.activityID, PriceContext{Country: "Bolivia"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRecomputeAndPersist(t *testing.T) {
	e := newEnv(t, time.Minute)
	ctx := context.Background()

	a, err := e.store.GetActivity(ctx, e.activityID)
	require.NoError(t, err)
	assert.True(t, a.UnitPrice.IsZero(), "composition edits do not touch the cached price")

	price, err := e.svc.RecomputeAndPersist(ctx, e.activityID)
	require.NoError(t, err)
	assert.Equal(t, "883.27", price.StringFixed(2))

	a, err = e.store.GetActivity(ctx, e.activityID)
	require.NoError(t, err)
	assert.Equal(t, "883.27", a.UnitPrice.StringFixed(2))

	again, err := e.svc.RecomputeAndPersist(ctx, e.activityID)
	require.NoError(t, err)
	assert.True(t, price.Equal(again))

	_, err = e.svc.RecomputeAndPersist(ctx, e.activityID+100)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRecomputeAll(t *testing.T) {
	e := newEnv(t, time.Minute)
	ctx := context.Background()

	activity, err := e.store.GetActivity(ctx, e.activityID)
	require.NoError(t, err)
	emptyID, err := e.store.CreateActivity(ctx, store.Activity{PhaseID: activity.PhaseID, Name: "REPLANTEO", Unit: "m2", UnitPrice: d("10")})
	require.NoError(t, err)

	n, err := e.svc.RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a, err := e.store.GetActivity(ctx, e.activityID)
	require.NoError(t, err)
	assert.Equal(t, "883.27", a.UnitPrice.StringFixed(2))

	empty, err := e.store.GetActivity(ctx, emptyID)
	require.NoError(t, err)
	assert.True(t, empty.UnitPrice.IsZero())
}

func TestSaveCompositionValidates(t *testing.T) {
	e := newEnv(t, time.Minute)
	ctx := context.Background()

	bad := e.adobito()
	bad[0].Quantity = d("-1")
	assert.ErrorIs(t, e.svc.SaveComposition(ctx, e.activityID, bad), apperrors.ErrValidation)

	got, err := e.store.Composition(ctx, e.activityID)
	require.NoError(t, err)
	assert.Len(t, got, 7, "rejected save leaves the composition untouched")

	missing := []pricing.Component{{ActivityID: 999, Kind: pricing.KindLabor, Description: "Ayudante", Unit: "hr", Quantity: d("1"), UnitCost: d("1")}}
	assert.ErrorIs(t, e.svc.SaveComposition(ctx, 999, missing), apperrors.ErrNotFound)
}

func TestApplyGlobalPriceAdjustment(t *testing.T) {
	e := newEnv(t, time.Minute)
	ctx := context.Background()

	rec, err := e.svc.ApplyGlobalPriceAdjustment(ctx, d("1.05"), "admin@micaa.test")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.AffectedMaterials)

	price, err := e.svc.RecomputeAndPersist(ctx, e.activityID)
	require.NoError(t, err)
	assert.Equal(t, "910.53", price.StringFixed(2))

	ps, err := e.svc.PriceSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0500", ps.GlobalAdjustmentFactor.StringFixed(4))

	_, err = e.svc.ApplyGlobalPriceAdjustment(ctx, d("0"), "admin@micaa.test")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = e.svc.ApplyGlobalPriceAdjustment(ctx, d("1.1"), "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestApplyGlobalPriceAdjustmentDeadline(t *testing.T) {
	e := newEnv(t, time.Minute)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := e.svc.ApplyGlobalPriceAdjustment(ctx, d("2"), "admin@micaa.test")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	m, err := e.store.GetMaterial(context.Background(), e.materials["Arena fina"])
	require.NoError(t, err)
	assert.Equal(t, "70.00", m.Price.StringFixed(2))
}

func TestUpdatePriceSettingsKeepsGlobalFactor(t *testing.T) {
	e := newEnv(t, time.Minute)
	ctx := context.Background()

	_, err := e.svc.ApplyGlobalPriceAdjustment(ctx, d("1.10"), "admin@micaa.test")
	require.NoError(t, err)

	ps, err := e.svc.UpdatePriceSettings(ctx, pricing.PriceSettings{USDExchangeRate: d("6.86"), InflationFactor: d("1.03"), GlobalAdjustmentFactor: d("9")}, "admin@micaa.test")
	require.NoError(t, err)
	assert.Equal(t, "6.8600", ps.USDExchangeRate.StringFixed(4))
	assert.Equal(t, "1.1000", ps.GlobalAdjustmentFactor.StringFixed(4))

	_, err = e.svc.UpdatePriceSettings(ctx, pricing.PriceSettings{USDExchangeRate: d("0"), InflationFactor: d("1")}, "admin@micaa.test")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
