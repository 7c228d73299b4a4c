package seed

import (
	"database/sql"
	"fmt"

	"github.com/Simplici0/platecost/internal/costing"
)

// Config contains the values required by startup seed.
type Config struct {
	// Demo inserts a small bakery catalog to try the API against.
	Demo bool
}

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
}

type demoIngredient struct {
	id, name, packUnit string
	packPrice, packQty float64
	supplierYield      float64
}

type demoLine struct {
	id, kind, ref string
	netQty        float64
	unit          string
	yieldPercent  float64
}

type demoRecipe struct {
	id, name     string
	portions     int
	isSubRecipe  bool
	yieldQty     float64
	yieldUnit    string
	sellingPrice float64
	targetPct    float64
	lines        []demoLine
}

var demoIngredients = []demoIngredient{
	{id: "demo-flour", name: "Wheat flour", packUnit: "kg", packPrice: 20, packQty: 10, supplierYield: 100},
	{id: "demo-butter", name: "Butter", packUnit: "kg", packPrice: 10, packQty: 1, supplierYield: 100},
	{id: "demo-milk", name: "Whole milk", packUnit: "l", packPrice: 1.5, packQty: 1, supplierYield: 100},
	{id: "demo-sugar", name: "Sugar", packUnit: "kg", packPrice: 1.2, packQty: 1, supplierYield: 100},
	{id: "demo-eggs", name: "Eggs", packUnit: "pcs", packPrice: 3, packQty: 12, supplierYield: 95},
}

// Sub-recipes come before the recipes that use them.
var demoRecipes = []demoRecipe{
	{
		id: "demo-vanilla-cream", name: "Vanilla cream", portions: 1,
		isSubRecipe: true, yieldQty: 1, yieldUnit: "kg",
		lines: []demoLine{
			{id: "demo-vc-1", kind: "ingredient", ref: "demo-milk", netQty: 800, unit: "ml", yieldPercent: 100},
			{id: "demo-vc-2", kind: "ingredient", ref: "demo-sugar", netQty: 150, unit: "g", yieldPercent: 100},
			{id: "demo-vc-3", kind: "ingredient", ref: "demo-eggs", netQty: 4, unit: "pcs", yieldPercent: 100},
		},
	},
	{
		id: "demo-bread", name: "Country bread", portions: 4, sellingPrice: 1,
		lines: []demoLine{
			{id: "demo-br-1", kind: "ingredient", ref: "demo-flour", netQty: 500, unit: "g", yieldPercent: 100},
		},
	},
	{
		id: "demo-fruit-tart", name: "Fruit tart", portions: 8, sellingPrice: 4.5, targetPct: 30,
		lines: []demoLine{
			{id: "demo-ft-0", kind: "group", ref: "Crust"},
			{id: "demo-ft-1", kind: "ingredient", ref: "demo-flour", netQty: 200, unit: "g", yieldPercent: 100},
			{id: "demo-ft-2", kind: "ingredient", ref: "demo-butter", netQty: 100, unit: "g", yieldPercent: 90},
			{id: "demo-ft-3", kind: "group", ref: "Filling"},
			{id: "demo-ft-4", kind: "subrecipe", ref: "demo-vanilla-cream", netQty: 250, unit: "g", yieldPercent: 100},
		},
	},
}

// Run executes the startup seed in an idempotent way.
func Run(db *sql.DB, cfg Config) (Stats, error) {
	if !cfg.Demo {
		return Stats{}, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return Stats{}, fmt.Errorf("begin seed transaction: %w", err)
	}

	stats := Stats{}

	for _, in := range demoIngredients {
		if err := ensureIngredient(tx, in, &stats); err != nil {
			_ = tx.Rollback()
			return Stats{}, err
		}
	}
	for _, r := range demoRecipes {
		if err := ensureRecipe(tx, r, &stats); err != nil {
			_ = tx.Rollback()
			return Stats{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	return stats, nil
}

func ensureIngredient(tx *sql.Tx, in demoIngredient, stats *Stats) error {
	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM ingredients WHERE id = ? LIMIT 1)`, in.id).Scan(&exists); err != nil {
		return fmt.Errorf("check ingredient %s existence: %w", in.id, err)
	}
	if exists {
		return nil
	}

	if _, err := tx.Exec(`
		INSERT INTO ingredients (id, name, pack_unit, pack_price, pack_qty, supplier_yield_percent, net_unit_cost, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, in.id, in.name, in.packUnit, in.packPrice, in.packQty, in.supplierYield,
		costing.NetUnitCost(in.packPrice, in.packQty, in.supplierYield), true); err != nil {
		return fmt.Errorf("insert ingredient %s: %w", in.id, err)
	}
	stats.Inserts++
	return nil
}

func ensureRecipe(tx *sql.Tx, r demoRecipe, stats *Stats) error {
	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM recipes WHERE id = ? LIMIT 1)`, r.id).Scan(&exists); err != nil {
		return fmt.Errorf("check recipe %s existence: %w", r.id, err)
	}
	if exists {
		return nil
	}

	if _, err := tx.Exec(`
		INSERT INTO recipes (id, name, portions, is_sub_recipe, yield_qty, yield_unit, selling_price, currency, target_food_cost_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.id, r.name, r.portions, r.isSubRecipe, r.yieldQty, r.yieldUnit, r.sellingPrice, "EUR", r.targetPct); err != nil {
		return fmt.Errorf("insert recipe %s: %w", r.id, err)
	}

	for i, l := range r.lines {
		var ingredientID, subRecipeID, groupTitle any
		switch l.kind {
		case "ingredient":
			ingredientID = l.ref
		case "subrecipe":
			subRecipeID = l.ref
		case "group":
			groupTitle = l.ref
		}
		if groupTitle == nil {
			groupTitle = ""
		}
		unit := l.unit
		if unit == "" {
			unit = "g"
		}

		if _, err := tx.Exec(`
			INSERT INTO recipe_lines (id, recipe_id, kind, ingredient_id, sub_recipe_id, net_qty, unit, yield_percent, position, group_title)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, l.id, r.id, l.kind, ingredientID, subRecipeID, l.netQty, unit, l.yieldPercent, i, groupTitle); err != nil {
			return fmt.Errorf("insert recipe %s line %s: %w", r.id, l.id, err)
		}
	}

	stats.Inserts++
	return nil
}
