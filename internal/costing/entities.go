// Package costing turns recipe lines into recipe totals.
//
// The package is pure: callers hand it an immutable Snapshot of ingredients,
// recipes and lines, and get back numbers plus warnings. Nothing here performs
// I/O or keeps state between calls.
package costing

import (
	"fmt"
	"math"
)

// LineKind tags the variant of a recipe line.
type LineKind int

const (
	// LineIngredient consumes an ingredient priced per pack unit.
	LineIngredient LineKind = iota
	// LineSubRecipe consumes part of another recipe's yield.
	LineSubRecipe
	// LineGroup is a display heading and never carries cost.
	LineGroup
)

func (k LineKind) String() string {
	switch k {
	case LineIngredient:
		return "ingredient"
	case LineSubRecipe:
		return "subrecipe"
	case LineGroup:
		return "group"
	default:
		return fmt.Sprintf("LineKind(%d)", int(k))
	}
}

// ParseLineKind maps the stored representation back onto a LineKind.
func ParseLineKind(s string) (LineKind, error) {
	switch s {
	case "ingredient":
		return LineIngredient, nil
	case "subrecipe":
		return LineSubRecipe, nil
	case "group":
		return LineGroup, nil
	default:
		return 0, fmt.Errorf("unknown line kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k LineKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *LineKind) UnmarshalText(b []byte) error {
	parsed, err := ParseLineKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Ingredient is a purchasable item priced per PackUnit.
type Ingredient struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	PackUnit    string  `json:"packUnit"`
	NetUnitCost float64 `json:"netUnitCost"`
	Active      bool    `json:"active"`
}

// Recipe holds the metadata needed for costing and pricing.
// YieldQty and YieldUnit only matter when IsSubRecipe is set.
type Recipe struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Portions          int     `json:"portions"`
	IsSubRecipe       bool    `json:"isSubRecipe"`
	YieldQty          float64 `json:"yieldQty,omitempty"`
	YieldUnit         string  `json:"yieldUnit,omitempty"`
	SellingPrice      float64 `json:"sellingPrice,omitempty"`
	Currency          string  `json:"currency"`
	TargetFoodCostPct float64 `json:"targetFoodCostPct,omitempty"`
}

// Line is one row of a recipe. Which reference field is meaningful depends
// on Kind: IngredientID for LineIngredient, SubRecipeID for LineSubRecipe,
// GroupTitle for LineGroup.
type Line struct {
	ID            string   `json:"id"`
	RecipeID      string   `json:"recipeId"`
	Kind          LineKind `json:"kind"`
	IngredientID  string   `json:"ingredientId,omitempty"`
	SubRecipeID   string   `json:"subRecipeId,omitempty"`
	NetQty        float64  `json:"netQty"`
	Unit          string   `json:"unit"`
	YieldPercent  float64  `json:"yieldPercent"`
	GrossOverride *float64 `json:"grossOverride,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	Position      int      `json:"position"`
	GroupTitle    string   `json:"groupTitle,omitempty"`
}

// Snapshot is the immutable batch of records one computation may read.
type Snapshot struct {
	Ingredients []Ingredient
	Recipes     []Recipe
	Lines       []Line
}

// NetUnitCost derives the cost of one usable pack unit from a supplier price.
// packQty is the number of pack units bought for packPrice, and yieldPct the
// usable share after supplier-side loss. Invalid inputs yield 0.
func NetUnitCost(packPrice, packQty, yieldPct float64) float64 {
	if !finite(packPrice) || !finite(packQty) || packPrice <= 0 || packQty <= 0 {
		return 0
	}
	return packPrice / packQty / (clampYield(yieldPct) / 100)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
