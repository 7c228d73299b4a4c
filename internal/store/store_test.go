package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/platecost/internal/costing"
	"github.com/Simplici0/platecost/internal/db"
	"github.com/Simplici0/platecost/internal/migrations"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrations.Up(conn))

	return New(conn)
}

func ptr(v float64) *float64 { return &v }

func seedBread(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()

	for _, in := range []IngredientRecord{
		{Ingredient: costing.Ingredient{ID: "flour", Name: "Flour", PackUnit: "kg", Active: true}, PackPrice: 10, PackQty: 5, SupplierYieldPercent: 100},
		{Ingredient: costing.Ingredient{ID: "water", Name: "Water", PackUnit: "l", Active: true}, PackPrice: 1, PackQty: 1},
		{Ingredient: costing.Ingredient{ID: "sugar", Name: "Sugar", PackUnit: "kg", Active: true}, PackPrice: 3, PackQty: 1},
	} {
		_, err := s.UpsertIngredient(ctx, in)
		require.NoError(t, err)
	}

	_, _, err := s.UpsertRecipe(ctx,
		costing.Recipe{ID: "dough", Name: "Dough", Portions: 1, IsSubRecipe: true, YieldQty: 1, YieldUnit: "kg", Currency: "EUR"},
		[]costing.Line{
			{ID: "d1", Kind: costing.LineIngredient, IngredientID: "flour", NetQty: 600, Unit: "g", YieldPercent: 100},
			{ID: "d2", Kind: costing.LineIngredient, IngredientID: "water", NetQty: 400, Unit: "ml", YieldPercent: 100},
		})
	require.NoError(t, err)

	_, _, err = s.UpsertRecipe(ctx,
		costing.Recipe{ID: "bread", Name: "Bread", Portions: 4, SellingPrice: 3, Currency: "EUR", TargetFoodCostPct: 30},
		[]costing.Line{
			{ID: "b0", Kind: costing.LineGroup, GroupTitle: "Base"},
			{ID: "b1", Kind: costing.LineSubRecipe, SubRecipeID: "dough", NetQty: 500, Unit: "g", YieldPercent: 100},
		})
	require.NoError(t, err)

	_, _, err = s.UpsertRecipe(ctx,
		costing.Recipe{ID: "syrup", Name: "Syrup", Portions: 10, Currency: "EUR"},
		[]costing.Line{{ID: "s1", Kind: costing.LineIngredient, IngredientID: "sugar", NetQty: 1, Unit: "kg", YieldPercent: 100}})
	require.NoError(t, err)
}

func TestUpsertIngredient_DerivesNetUnitCost(t *testing.T) {
	s := newTestStore(t)

	saved, err := s.UpsertIngredient(context.Background(), IngredientRecord{
		Ingredient: costing.Ingredient{Name: "Carrots", PackUnit: "KG"},
		PackPrice:  10, PackQty: 5, SupplierYieldPercent: 80,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, "kg", saved.PackUnit)
	assert.InDelta(t, 2.5, saved.NetUnitCost, 1e-9)

	all, err := s.ListIngredients(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.InDelta(t, 2.5, all[0].NetUnitCost, 1e-9)
	assert.Equal(t, 80.0, all[0].SupplierYieldPercent)
}

func TestLoadSnapshot_WalksSubRecipeClosure(t *testing.T) {
	s := newTestStore(t)
	seedBread(t, s)

	snap, err := s.LoadSnapshot(context.Background(), "bread")
	require.NoError(t, err)

	recipeIDs := make([]string, 0, len(snap.Recipes))
	for _, r := range snap.Recipes {
		recipeIDs = append(recipeIDs, r.ID)
	}
	assert.ElementsMatch(t, []string{"bread", "dough"}, recipeIDs)
	assert.Len(t, snap.Lines, 4)

	ingredientIDs := make([]string, 0, len(snap.Ingredients))
	for _, in := range snap.Ingredients {
		ingredientIDs = append(ingredientIDs, in.ID)
	}
	assert.ElementsMatch(t, []string{"flour", "water"}, ingredientIDs)

	result, err := costing.NewAggregator(costing.NewCatalog(snap)).Compute("bread")
	require.NoError(t, err)
	// dough: 0.6 kg * 2.0 + 0.4 l * 1.0 = 1.6 per kg; bread uses 0.5 kg.
	assert.InDelta(t, 0.8, result.TotalCost, 1e-9)
	assert.Empty(t, result.Warnings)
}

func TestLoadSnapshot_UnknownAndCyclicRecipes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.UpsertRecipe(ctx, costing.Recipe{ID: "a", Name: "A", Portions: 1, IsSubRecipe: true, YieldQty: 1, YieldUnit: "kg"},
		[]costing.Line{{ID: "a1", Kind: costing.LineSubRecipe, SubRecipeID: "b", NetQty: 1, Unit: "kg"}})
	require.NoError(t, err)
	_, _, err = s.UpsertRecipe(ctx, costing.Recipe{ID: "b", Name: "B", Portions: 1, IsSubRecipe: true, YieldQty: 1, YieldUnit: "kg"},
		[]costing.Line{{ID: "b1", Kind: costing.LineSubRecipe, SubRecipeID: "a", NetQty: 1, Unit: "kg"}})
	require.NoError(t, err)

	snap, err := s.LoadSnapshot(ctx, "a", "missing")
	require.NoError(t, err)
	assert.Len(t, snap.Recipes, 2)
	assert.Len(t, snap.Lines, 2)
	assert.Empty(t, snap.Ingredients)
}

func TestLoadAll(t *testing.T) {
	s := newTestStore(t)
	seedBread(t, s)

	snap, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Recipes, 3)
	assert.Len(t, snap.Lines, 5)
	assert.Len(t, snap.Ingredients, 3)
}

func TestUpsertRecipe_ReplacesLines(t *testing.T) {
	s := newTestStore(t)
	seedBread(t, s)
	ctx := context.Background()

	_, lines, err := s.UpsertRecipe(ctx,
		costing.Recipe{ID: "bread", Name: "Bread", Portions: 2, Currency: "EUR"},
		[]costing.Line{
			{Kind: costing.LineIngredient, IngredientID: "flour", NetQty: 1, Unit: "Kilo", YieldPercent: 100},
			{Kind: costing.LineIngredient, IngredientID: "water", NetQty: 1, Unit: "l", YieldPercent: 100},
		})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.NotEmpty(t, lines[0].ID)
	assert.Equal(t, "kg", lines[0].Unit)
	assert.Equal(t, 1, lines[1].Position)

	snap, err := s.LoadSnapshot(ctx, "bread")
	require.NoError(t, err)
	require.Len(t, snap.Recipes, 1)
	assert.Equal(t, 2, snap.Recipes[0].Portions)
	assert.Len(t, snap.Lines, 2)
}

func TestUpsertRecipe_RejectsLineIDsItDoesNotOwn(t *testing.T) {
	s := newTestStore(t)
	seedBread(t, s)
	ctx := context.Background()

	tests := []struct {
		name  string
		lines []costing.Line
	}{
		{"line of another recipe", []costing.Line{
			{ID: "d1", Kind: costing.LineIngredient, IngredientID: "flour", NetQty: 1, Unit: "kg", YieldPercent: 100},
		}},
		{"same id twice", []costing.Line{
			{ID: "b9", Kind: costing.LineIngredient, IngredientID: "flour", NetQty: 1, Unit: "kg", YieldPercent: 100},
			{ID: "b9", Kind: costing.LineIngredient, IngredientID: "water", NetQty: 1, Unit: "l", YieldPercent: 100},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.UpsertRecipe(ctx, costing.Recipe{ID: "bread", Name: "Bread", Portions: 4, Currency: "EUR"}, tt.lines)
			require.ErrorIs(t, err, ErrConflict)

			snap, err := s.LoadSnapshot(ctx, "bread")
			require.NoError(t, err)
			assert.Equal(t, 4, countRecipeLines(snap, "bread")+countRecipeLines(snap, "dough"))
		})
	}
}

func countRecipeLines(snap costing.Snapshot, recipeID string) int {
	n := 0
	for _, l := range snap.Lines {
		if l.RecipeID == recipeID {
			n++
		}
	}
	return n
}

func TestSetLineGrossOverrideAndYield(t *testing.T) {
	s := newTestStore(t)
	seedBread(t, s)
	ctx := context.Background()

	require.NoError(t, s.SetLineGrossOverride(ctx, "dough", "d1", ptr(750)))
	snap, err := s.LoadSnapshot(ctx, "dough")
	require.NoError(t, err)
	require.NotNil(t, snap.Lines[0].GrossOverride)
	assert.Equal(t, 750.0, *snap.Lines[0].GrossOverride)

	require.NoError(t, s.SetLineYield(ctx, "dough", "d1", 80))
	snap, err = s.LoadSnapshot(ctx, "dough")
	require.NoError(t, err)
	assert.Nil(t, snap.Lines[0].GrossOverride)
	assert.Equal(t, 80.0, snap.Lines[0].YieldPercent)

	require.NoError(t, s.SetLineGrossOverride(ctx, "dough", "d1", nil))

	assert.ErrorIs(t, s.SetLineYield(ctx, "dough", "nope", 90), ErrNotFound)
	assert.ErrorIs(t, s.SetLineGrossOverride(ctx, "bread", "d1", ptr(1)), ErrNotFound)
}

func TestSetIngredientNetCost(t *testing.T) {
	s := newTestStore(t)
	seedBread(t, s)
	ctx := context.Background()

	require.NoError(t, s.SetIngredientNetCost(ctx, "flour", 4))
	assert.ErrorIs(t, s.SetIngredientNetCost(ctx, "nope", 1), ErrNotFound)

	all, err := s.ListIngredients(ctx)
	require.NoError(t, err)
	for _, in := range all {
		if in.ID == "flour" {
			assert.Equal(t, 4.0, in.NetUnitCost)
		}
	}
}
