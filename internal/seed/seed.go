package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Simplici0/micaa/internal/apperrors"
	"github.com/Simplici0/micaa/internal/auth"
	"github.com/Simplici0/micaa/internal/pricing"
	"github.com/Simplici0/micaa/internal/store"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Config contains the values required by startup seed.
type Config struct {
	AdminEmail    string
	AdminPassword string
}

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
	Updates int
}

type catalog struct {
	Phases []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"phases"`
	Categories []string `yaml:"categories"`
	Materials  []struct {
		Category    string `yaml:"category"`
		Name        string `yaml:"name"`
		Unit        string `yaml:"unit"`
		Price       string `yaml:"price"`
		Description string `yaml:"description"`
	} `yaml:"materials"`
	Activities []struct {
		Name        string `yaml:"name"`
		Phase       string `yaml:"phase"`
		Unit        string `yaml:"unit"`
		Description string `yaml:"description"`
		Composition []struct {
			Kind        string `yaml:"kind"`
			Material    string `yaml:"material"`
			Description string `yaml:"description"`
			Unit        string `yaml:"unit"`
			Quantity    string `yaml:"quantity"`
			UnitCost    string `yaml:"unit_cost"`
		} `yaml:"composition"`
	} `yaml:"activities"`
	CityFactors []struct {
		City      string `yaml:"city"`
		Country   string `yaml:"country"`
		Materials string `yaml:"materials"`
		Labor     string `yaml:"labor"`
		Equipment string `yaml:"equipment"`
		Transport string `yaml:"transport"`
	} `yaml:"city_factors"`
}

func loadCatalog() (catalog, error) {
	var c catalog
	if err := yaml.Unmarshal(catalogYAML, &c); err != nil {
		return catalog{}, fmt.Errorf("decode seed catalog: %w", err)
	}
	return c, nil
}

// Run executes the startup seed in an idempotent way. Existing rows are never
// overwritten, so catalog edits survive restarts.
func Run(ctx context.Context, st *store.Store, cfg Config) (Stats, error) {
	c, err := loadCatalog()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{}
	err = st.InTx(ctx, func(tx *store.Tx) error {
		if err := seedAdmin(ctx, tx, cfg.AdminEmail, cfg.AdminPassword, &stats); err != nil {
			return err
		}

		inserted, err := tx.EnsurePriceSettings(ctx)
		if err != nil {
			return fmt.Errorf("ensure price settings: %w", err)
		}
		count(&stats, inserted)

		phases, err := ensurePhases(ctx, tx, c, &stats)
		if err != nil {
			return err
		}
		materials, err := ensureMaterials(ctx, tx, c, &stats)
		if err != nil {
			return err
		}
		if err := ensureActivities(ctx, tx, c, phases, materials, &stats); err != nil {
			return err
		}
		return ensureCityFactors(ctx, tx, c, &stats)
	})
	if err != nil {
		return Stats{}, fmt.Errorf("run seed: %w", err)
	}
	return stats, nil
}

func count(stats *Stats, inserted bool) {
	if inserted {
		stats.Inserts++
	}
}

func seedAdmin(ctx context.Context, tx *store.Tx, email, password string, stats *Stats) error {
	if email == "" || password == "" {
		return nil
	}

	u, err := tx.UserByEmail(ctx, email)
	switch {
	case err == nil:
		if u.Role != store.RoleAdmin {
			if err := tx.SetUserRole(ctx, u.ID, store.RoleAdmin); err != nil {
				return fmt.Errorf("promote admin user: %w", err)
			}
			stats.Updates++
		}
		return nil
	case !errors.Is(err, apperrors.ErrNotFound):
		return fmt.Errorf("check admin user existence: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	inserted, err := tx.EnsureUser(ctx, email, hash, store.RoleAdmin)
	if err != nil {
		return fmt.Errorf("insert admin user: %w", err)
	}
	count(stats, inserted)
	return nil
}

func ensurePhases(ctx context.Context, tx *store.Tx, c catalog, stats *Stats) (map[string]int64, error) {
	ids := make(map[string]int64, len(c.Phases))
	for _, p := range c.Phases {
		id, inserted, err := tx.EnsurePhase(ctx, p.Name, p.Description)
		if err != nil {
			return nil, fmt.Errorf("ensure phase %q: %w", p.Name, err)
		}
		count(stats, inserted)
		ids[p.Name] = id
	}
	return ids, nil
}

func ensureMaterials(ctx context.Context, tx *store.Tx, c catalog, stats *Stats) (map[string]pricing.Material, error) {
	categories := make(map[string]int64, len(c.Categories))
	for _, name := range c.Categories {
		id, inserted, err := tx.EnsureCategory(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("ensure category %q: %w", name, err)
		}
		count(stats, inserted)
		categories[name] = id
	}

	materials := make(map[string]pricing.Material, len(c.Materials))
	for _, m := range c.Materials {
		existing, err := tx.MaterialByNameUnit(ctx, m.Name, m.Unit)
		if err == nil {
			materials[m.Name] = existing
			continue
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("check material %q: %w", m.Name, err)
		}

		categoryID, ok := categories[m.Category]
		if !ok {
			return nil, fmt.Errorf("material %q: unknown category %q", m.Name, m.Category)
		}
		price, err := decimal.NewFromString(m.Price)
		if err != nil {
			return nil, fmt.Errorf("material %q price: %w", m.Name, err)
		}

		material := pricing.Material{CategoryID: categoryID, Name: m.Name, Unit: m.Unit, Price: price, Description: m.Description}
		material.ID, err = tx.CreateMaterial(ctx, material)
		if err != nil {
			return nil, fmt.Errorf("insert material %q: %w", m.Name, err)
		}
		stats.Inserts++
		materials[m.Name] = material
	}
	return materials, nil
}

func ensureActivities(ctx context.Context, tx *store.Tx, c catalog, phases map[string]int64, materials map[string]pricing.Material, stats *Stats) error {
	for _, a := range c.Activities {
		_, err := tx.ActivityByName(ctx, a.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("check activity %q: %w", a.Name, err)
		}

		phaseID, ok := phases[a.Phase]
		if !ok {
			return fmt.Errorf("activity %q: unknown phase %q", a.Name, a.Phase)
		}
		activityID, err := tx.CreateActivity(ctx, store.Activity{PhaseID: phaseID, Name: a.Name, Unit: a.Unit, Description: a.Description})
		if err != nil {
			return fmt.Errorf("insert activity %q: %w", a.Name, err)
		}
		stats.Inserts++

		components := make([]pricing.Component, 0, len(a.Composition))
		for _, row := range a.Composition {
			comp := pricing.Component{
				ActivityID:  activityID,
				Kind:        pricing.Kind(row.Kind),
				Description: row.Description,
				Unit:        row.Unit,
				UnitCost:    decimal.Zero,
			}
			if comp.Quantity, err = decimal.NewFromString(row.Quantity); err != nil {
				return fmt.Errorf("activity %q quantity: %w", a.Name, err)
			}
			if row.UnitCost != "" {
				if comp.UnitCost, err = decimal.NewFromString(row.UnitCost); err != nil {
					return fmt.Errorf("activity %q unit cost: %w", a.Name, err)
				}
			}
			if row.Material != "" {
				m, ok := materials[row.Material]
				if !ok {
					return fmt.Errorf("activity %q: unknown material %q", a.Name, row.Material)
				}
				id := m.ID
				comp.MaterialID = &id
				comp.Description = m.Name
				comp.UnitCost = m.Price
			}
			components = append(components, comp)
		}

		if err := pricing.ValidateComposition(activityID, components); err != nil {
			return fmt.Errorf("activity %q composition: %w", a.Name, err)
		}
		if err := tx.ReplaceComposition(ctx, activityID, components); err != nil {
			return fmt.Errorf("insert composition of %q: %w", a.Name, err)
		}
	}
	return nil
}

func ensureCityFactors(ctx context.Context, tx *store.Tx, c catalog, stats *Stats) error {
	for _, f := range c.CityFactors {
		_, ok, err := tx.CityFactor(ctx, f.City, f.Country)
		if err != nil {
			return fmt.Errorf("check city factor %s: %w", f.City, err)
		}
		if ok {
			continue
		}

		factor := pricing.CityFactor{City: f.City, Country: f.Country}
		for _, v := range []struct {
			dst *decimal.Decimal
			raw string
		}{
			{&factor.MaterialsFactor, f.Materials},
			{&factor.LaborFactor, f.Labor},
			{&factor.EquipmentFactor, f.Equipment},
			{&factor.TransportFactor, f.Transport},
		} {
			if *v.dst, err = decimal.NewFromString(v.raw); err != nil {
				return fmt.Errorf("city factor %s: %w", f.City, err)
			}
		}
		if err := pricing.Validate(factor); err != nil {
			return fmt.Errorf("city factor %s: %w", f.City, err)
		}
		if _, err := tx.UpsertCityFactor(ctx, factor); err != nil {
			return fmt.Errorf("insert city factor %s: %w", f.City, err)
		}
		stats.Inserts++
	}
	return nil
}
