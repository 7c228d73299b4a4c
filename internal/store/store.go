// Package store reads and writes recipes, lines and ingredients in SQLite and
// hands the costing engine immutable snapshots of them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Simplici0/platecost/internal/costing"
	"github.com/Simplici0/platecost/internal/units"
)

var (
	// ErrNotFound is returned when an edited row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write would reuse an id it does not own.
	ErrConflict = errors.New("record conflict")
)

// IngredientRecord is an ingredient as purchased. NetUnitCost is derived from
// the pack fields on every write.
type IngredientRecord struct {
	costing.Ingredient
	PackPrice            float64 `json:"packPrice"`
	PackQty              float64 `json:"packQty"`
	SupplierYieldPercent float64 `json:"supplierYieldPercent"`
}

// Store is the SQLite record store.
type Store struct {
	db *sql.DB
}

// New creates a Store on an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	ingredientColumns = `id, name, pack_unit, net_unit_cost, active, pack_price, pack_qty, supplier_yield_percent`
	recipeColumns     = `id, name, portions, is_sub_recipe, yield_qty, yield_unit, selling_price, currency, target_food_cost_pct`
	lineColumns       = `id, recipe_id, kind, ingredient_id, sub_recipe_id, net_qty, unit, yield_percent, gross_qty_override, notes, position, group_title`
)

// LoadSnapshot returns the given recipes, every recipe reachable from them
// through sub-recipe lines, all their lines and the ingredients those lines
// reference. Unknown ids are left out; the aggregator reports them.
func (s *Store) LoadSnapshot(ctx context.Context, recipeIDs ...string) (costing.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return costing.Snapshot{}, fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		snap          costing.Snapshot
		seen          = make(map[string]bool)
		ingredientIDs = make(map[string]bool)
		queue         = append([]string(nil), recipeIDs...)
	)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		recipe, err := scanRecipe(tx.QueryRowContext(ctx, `SELECT `+recipeColumns+` FROM recipes WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return costing.Snapshot{}, fmt.Errorf("load recipe %s: %w", id, err)
		}
		snap.Recipes = append(snap.Recipes, recipe)

		lines, err := queryLines(ctx, tx, `WHERE recipe_id = ?`, id)
		if err != nil {
			return costing.Snapshot{}, err
		}
		for _, l := range lines {
			switch l.Kind {
			case costing.LineIngredient:
				if l.IngredientID != "" {
					ingredientIDs[l.IngredientID] = true
				}
			case costing.LineSubRecipe:
				if l.SubRecipeID != "" && !seen[l.SubRecipeID] {
					queue = append(queue, l.SubRecipeID)
				}
			}
		}
		snap.Lines = append(snap.Lines, lines...)
	}

	if len(ingredientIDs) > 0 {
		ids := make([]any, 0, len(ingredientIDs))
		for id := range ingredientIDs {
			ids = append(ids, id)
		}
		records, err := queryIngredients(ctx, tx, `WHERE id IN (`+placeholders(len(ids))+`)`, ids...)
		if err != nil {
			return costing.Snapshot{}, err
		}
		for _, r := range records {
			snap.Ingredients = append(snap.Ingredients, r.Ingredient)
		}
	}

	return snap, nil
}

// LoadAll returns every recipe, line and ingredient.
func (s *Store) LoadAll(ctx context.Context) (costing.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return costing.Snapshot{}, fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	var snap costing.Snapshot

	rows, err := tx.QueryContext(ctx, `SELECT `+recipeColumns+` FROM recipes ORDER BY id`)
	if err != nil {
		return costing.Snapshot{}, fmt.Errorf("query recipes: %w", err)
	}
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			rows.Close()
			return costing.Snapshot{}, fmt.Errorf("scan recipe: %w", err)
		}
		snap.Recipes = append(snap.Recipes, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return costing.Snapshot{}, fmt.Errorf("iterate recipes: %w", err)
	}
	rows.Close()

	if snap.Lines, err = queryLines(ctx, tx, ``); err != nil {
		return costing.Snapshot{}, err
	}

	records, err := queryIngredients(ctx, tx, ``)
	if err != nil {
		return costing.Snapshot{}, err
	}
	for _, r := range records {
		snap.Ingredients = append(snap.Ingredients, r.Ingredient)
	}

	return snap, nil
}

// ListIngredients returns every ingredient with its pack fields.
func (s *Store) ListIngredients(ctx context.Context) ([]IngredientRecord, error) {
	return queryIngredients(ctx, s.db, ``)
}

// UpsertIngredient inserts or replaces an ingredient and returns it with the
// derived net unit cost.
func (s *Store) UpsertIngredient(ctx context.Context, in IngredientRecord) (IngredientRecord, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	in.PackUnit = string(units.Normalize(in.PackUnit))
	if in.SupplierYieldPercent == 0 {
		in.SupplierYieldPercent = 100
	}
	in.NetUnitCost = costing.NetUnitCost(in.PackPrice, in.PackQty, in.SupplierYieldPercent)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingredients (`+ingredientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			pack_unit = excluded.pack_unit,
			net_unit_cost = excluded.net_unit_cost,
			active = excluded.active,
			pack_price = excluded.pack_price,
			pack_qty = excluded.pack_qty,
			supplier_yield_percent = excluded.supplier_yield_percent,
			updated_at = CURRENT_TIMESTAMP
	`, in.ID, in.Name, in.PackUnit, in.NetUnitCost, in.Active, in.PackPrice, in.PackQty, in.SupplierYieldPercent)
	if err != nil {
		return IngredientRecord{}, fmt.Errorf("upsert ingredient %s: %w", in.ID, err)
	}
	return in, nil
}

// SetIngredientNetCost stores a recomputed net unit cost.
func (s *Store) SetIngredientNetCost(ctx context.Context, id string, cost float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingredients SET net_unit_cost = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, cost, id)
	if err != nil {
		return fmt.Errorf("update ingredient %s cost: %w", id, err)
	}
	return requireAffected(res, "ingredient", id)
}

// UpsertRecipe inserts or replaces a recipe and all of its lines. Line
// positions follow the order of lines; lines without an id get one.
func (s *Store) UpsertRecipe(ctx context.Context, r costing.Recipe, lines []costing.Line) (costing.Recipe, []costing.Line, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.YieldUnit != "" {
		r.YieldUnit = string(units.Normalize(r.YieldUnit))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return costing.Recipe{}, nil, fmt.Errorf("begin recipe transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO recipes (`+recipeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			portions = excluded.portions,
			is_sub_recipe = excluded.is_sub_recipe,
			yield_qty = excluded.yield_qty,
			yield_unit = excluded.yield_unit,
			selling_price = excluded.selling_price,
			currency = excluded.currency,
			target_food_cost_pct = excluded.target_food_cost_pct,
			updated_at = CURRENT_TIMESTAMP
	`, r.ID, r.Name, r.Portions, r.IsSubRecipe, r.YieldQty, r.YieldUnit, r.SellingPrice, r.Currency, r.TargetFoodCostPct)
	if err != nil {
		return costing.Recipe{}, nil, fmt.Errorf("upsert recipe %s: %w", r.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_lines WHERE recipe_id = ?`, r.ID); err != nil {
		return costing.Recipe{}, nil, fmt.Errorf("clear recipe %s lines: %w", r.ID, err)
	}

	saved := make([]costing.Line, 0, len(lines))
	ids := make(map[string]struct{}, len(lines))
	for i, l := range lines {
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		if _, dup := ids[l.ID]; dup {
			return costing.Recipe{}, nil, fmt.Errorf("line %s listed twice: %w", l.ID, ErrConflict)
		}
		ids[l.ID] = struct{}{}
		if err := lineOwnedElsewhere(ctx, tx, l.ID); err != nil {
			return costing.Recipe{}, nil, err
		}
		l.RecipeID = r.ID
		l.Position = i
		if l.Kind != costing.LineGroup {
			l.Unit = string(units.Normalize(l.Unit))
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO recipe_lines (`+lineColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, l.ID, l.RecipeID, l.Kind.String(), nullString(l.IngredientID), nullString(l.SubRecipeID),
			l.NetQty, l.Unit, l.YieldPercent, nullFloat(l.GrossOverride), l.Notes, l.Position, l.GroupTitle)
		if err != nil {
			return costing.Recipe{}, nil, fmt.Errorf("insert line %s: %w", l.ID, err)
		}
		saved = append(saved, l)
	}

	if err := tx.Commit(); err != nil {
		return costing.Recipe{}, nil, fmt.Errorf("commit recipe transaction: %w", err)
	}
	return r, saved, nil
}

// lineOwnedElsewhere runs after the recipe's own lines are cleared, so any row
// still holding id belongs to another recipe.
func lineOwnedElsewhere(ctx context.Context, tx *sql.Tx, id string) error {
	var owner string
	err := tx.QueryRowContext(ctx, `SELECT recipe_id FROM recipe_lines WHERE id = ?`, id).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("check line %s: %w", id, err)
	}
	return fmt.Errorf("line %s belongs to recipe %s: %w", id, owner, ErrConflict)
}

// SetLineYield sets a line's yield percentage and clears its gross override,
// the two being mutually exclusive inputs.
func (s *Store) SetLineYield(ctx context.Context, recipeID, lineID string, yieldPercent float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recipe_lines SET yield_percent = ?, gross_qty_override = NULL
		WHERE id = ? AND recipe_id = ?
	`, yieldPercent, lineID, recipeID)
	if err != nil {
		return fmt.Errorf("update line %s yield: %w", lineID, err)
	}
	return requireAffected(res, "line", lineID)
}

// SetLineGrossOverride sets a line's gross quantity, or clears it when gross is nil.
func (s *Store) SetLineGrossOverride(ctx context.Context, recipeID, lineID string, gross *float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recipe_lines SET gross_qty_override = ?
		WHERE id = ? AND recipe_id = ?
	`, nullFloat(gross), lineID, recipeID)
	if err != nil {
		return fmt.Errorf("update line %s gross: %w", lineID, err)
	}
	return requireAffected(res, "line", lineID)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecipe(row scanner) (costing.Recipe, error) {
	var r costing.Recipe
	err := row.Scan(&r.ID, &r.Name, &r.Portions, &r.IsSubRecipe, &r.YieldQty, &r.YieldUnit,
		&r.SellingPrice, &r.Currency, &r.TargetFoodCostPct)
	return r, err
}

func queryLines(ctx context.Context, q queryer, where string, args ...any) ([]costing.Line, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+lineColumns+` FROM recipe_lines `+where+` ORDER BY recipe_id, position, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query recipe lines: %w", err)
	}
	defer rows.Close()

	var lines []costing.Line
	for rows.Next() {
		var (
			l            costing.Line
			kind         string
			ingredientID sql.NullString
			subRecipeID  sql.NullString
			gross        sql.NullFloat64
		)
		if err := rows.Scan(&l.ID, &l.RecipeID, &kind, &ingredientID, &subRecipeID, &l.NetQty, &l.Unit,
			&l.YieldPercent, &gross, &l.Notes, &l.Position, &l.GroupTitle); err != nil {
			return nil, fmt.Errorf("scan recipe line: %w", err)
		}
		if l.Kind, err = costing.ParseLineKind(kind); err != nil {
			return nil, fmt.Errorf("line %s: %w", l.ID, err)
		}
		l.IngredientID = ingredientID.String
		l.SubRecipeID = subRecipeID.String
		if gross.Valid {
			v := gross.Float64
			l.GrossOverride = &v
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipe lines: %w", err)
	}
	return lines, nil
}

func queryIngredients(ctx context.Context, q queryer, where string, args ...any) ([]IngredientRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+ingredientColumns+` FROM ingredients `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query ingredients: %w", err)
	}
	defer rows.Close()

	var out []IngredientRecord
	for rows.Next() {
		var r IngredientRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.PackUnit, &r.NetUnitCost, &r.Active,
			&r.PackPrice, &r.PackQty, &r.SupplierYieldPercent); err != nil {
			return nil, fmt.Errorf("scan ingredient: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingredients: %w", err)
	}
	return out, nil
}

func requireAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s %s: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
