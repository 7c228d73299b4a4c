package costing

import (
	"math"
	"strings"

	"github.com/Simplici0/platecost/internal/units"
)

// minYield is the smallest yield percentage a line can resolve to.
const minYield = 0.0001

// ChildCost carries an already computed sub-recipe total together with the
// yield that total is spread over.
type ChildCost struct {
	RecipeID    string
	TotalCost   float64
	YieldQty    float64
	YieldUnit   string
	IsSubRecipe bool
}

// LineCost is the resolved cost of one recipe line.
type LineCost struct {
	LineID   string    `json:"lineId"`
	Kind     LineKind  `json:"kind"`
	Net      float64   `json:"net"`
	Gross    float64   `json:"gross"`
	YieldPct float64   `json:"yieldPct"`
	UnitCost float64   `json:"unitCost"`
	Cost     float64   `json:"cost"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// LineResolver prices individual lines against an ingredient index.
type LineResolver struct {
	ingredients *IngredientIndex
}

// NewLineResolver creates a resolver over idx.
func NewLineResolver(idx *IngredientIndex) *LineResolver {
	return &LineResolver{ingredients: idx}
}

// Resolve computes quantities and cost for line. child must describe the
// referenced sub-recipe for LineSubRecipe lines and is nil when the reference
// does not resolve. A line never fails: problems become warnings and a zero cost.
func (r *LineResolver) Resolve(line Line, child *ChildCost) LineCost {
	out := LineCost{LineID: line.ID, Kind: line.Kind}

	switch line.Kind {
	case LineGroup:
		return out
	case LineIngredient:
		out.Warnings = resolveQuantities(line, &out)
		out.Warnings = append(out.Warnings, r.priceIngredient(line, &out)...)
	case LineSubRecipe:
		out.Warnings = resolveQuantities(line, &out)
		out.Warnings = append(out.Warnings, priceSubRecipe(line, child, &out)...)
	default:
		out.Warnings = []Warning{lineWarning(ErrMissingReference, line, "unknown line kind %s", line.Kind)}
	}
	return out
}

// resolveQuantities fills Net, Gross and YieldPct. An explicit gross override
// wins over the stored yield, and the effective yield is derived from it.
func resolveQuantities(line Line, out *LineCost) []Warning {
	var ws []Warning

	net := line.NetQty
	if !finite(net) || net < 0 {
		ws = append(ws, lineWarning(ErrInvalidQuantity, line, "net quantity %v clamped to 0", line.NetQty))
		net = 0
	}
	out.Net = net

	if o := line.GrossOverride; o != nil && finite(*o) && *o > 0 {
		out.Gross = *o
		out.YieldPct = clamp(net / *o * 100, minYield, 100)
		return ws
	}

	out.YieldPct = clampYield(line.YieldPercent)
	out.Gross = net / (out.YieldPct / 100)
	return ws
}

func (r *LineResolver) priceIngredient(line Line, out *LineCost) []Warning {
	ing, err := r.ingredients.Lookup(line.IngredientID)
	if err != nil {
		return []Warning{lineWarning(ErrMissingReference, line, "ingredient %s not found", line.IngredientID)}
	}
	if !finite(ing.NetUnitCost) || ing.NetUnitCost <= 0 {
		return []Warning{lineWarning(ErrMissingPrice, line, "ingredient %s has no net unit cost", ing.Name)}
	}

	out.UnitCost = ing.NetUnitCost
	qty, err := units.Convert(out.Gross, line.Unit, ing.PackUnit)
	if err != nil {
		return []Warning{lineWarning(units.ErrIncompatibleUnits, line, "%v", err)}
	}
	out.Cost = qty * ing.NetUnitCost
	return nil
}

func priceSubRecipe(line Line, child *ChildCost, out *LineCost) []Warning {
	if child == nil {
		return []Warning{lineWarning(ErrMissingReference, line, "sub-recipe %s not found", line.SubRecipeID)}
	}
	if !child.IsSubRecipe {
		return []Warning{lineWarning(ErrNotSubRecipe, line, "recipe %s is not marked as a sub-recipe", child.RecipeID)}
	}
	if strings.TrimSpace(child.YieldUnit) == "" || !finite(child.YieldQty) || child.YieldQty <= 0 {
		return []Warning{lineWarning(ErrInvalidYield, line, "sub-recipe %s has no usable yield", child.RecipeID)}
	}

	qty, err := units.Convert(out.Gross, line.Unit, child.YieldUnit)
	if err != nil {
		return []Warning{lineWarning(units.ErrIncompatibleUnits, line, "%v", err)}
	}

	out.UnitCost = child.TotalCost / child.YieldQty
	out.Cost = qty * out.UnitCost
	return nil
}

// clampYield treats a missing (non-positive or non-finite) yield as 100%.
func clampYield(y float64) float64 {
	if !finite(y) || y <= 0 {
		return 100
	}
	return clamp(y, minYield, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
