package costing

import (
	"fmt"
	"sort"
)

// IngredientIndex is a read-only lookup of ingredients by id.
type IngredientIndex struct {
	byID map[string]Ingredient
}

// NewIngredientIndex builds an index. Later duplicates win.
func NewIngredientIndex(ingredients []Ingredient) *IngredientIndex {
	idx := &IngredientIndex{byID: make(map[string]Ingredient, len(ingredients))}
	for _, ing := range ingredients {
		idx.byID[ing.ID] = ing
	}
	return idx
}

// Lookup returns the ingredient with the given id.
func (i *IngredientIndex) Lookup(id string) (Ingredient, error) {
	ing, ok := i.byID[id]
	if !ok {
		return Ingredient{}, fmt.Errorf("ingredient %s: %w", id, ErrMissingReference)
	}
	return ing, nil
}

// Catalog is a Snapshot indexed for costing. It is immutable once built and
// safe for concurrent readers.
type Catalog struct {
	ingredients *IngredientIndex
	recipes     map[string]Recipe
	lines       map[string][]Line
}

// NewCatalog indexes a snapshot. Lines are grouped per recipe and ordered by
// position, then id, so every pass over a recipe visits lines identically.
func NewCatalog(s Snapshot) *Catalog {
	c := &Catalog{
		ingredients: NewIngredientIndex(s.Ingredients),
		recipes:     make(map[string]Recipe, len(s.Recipes)),
		lines:       make(map[string][]Line),
	}
	for _, r := range s.Recipes {
		c.recipes[r.ID] = r
	}
	for _, l := range s.Lines {
		c.lines[l.RecipeID] = append(c.lines[l.RecipeID], l)
	}
	for id := range c.lines {
		ls := c.lines[id]
		sort.SliceStable(ls, func(a, b int) bool {
			if ls[a].Position != ls[b].Position {
				return ls[a].Position < ls[b].Position
			}
			return ls[a].ID < ls[b].ID
		})
	}
	return c
}

// Ingredients returns the ingredient index.
func (c *Catalog) Ingredients() *IngredientIndex { return c.ingredients }

// Recipe returns a recipe by id.
func (c *Catalog) Recipe(id string) (Recipe, bool) {
	r, ok := c.recipes[id]
	return r, ok
}

// Lines returns the ordered lines of a recipe. The slice must not be modified.
func (c *Catalog) Lines(recipeID string) []Line {
	return c.lines[recipeID]
}

// RecipeIDs returns every recipe id in the catalog, sorted.
func (c *Catalog) RecipeIDs() []string {
	ids := make([]string, 0, len(c.recipes))
	for id := range c.recipes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
