package pricing

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	minTargetPercent = 0.01
	maxTargetPercent = 99.0
	// moneyPlaces is the number of minor-unit digits suggested prices are rounded to.
	moneyPlaces = 2
)

// Input represents the recipe-level values pricing is derived from.
type Input struct {
	TotalCost         float64
	Portions          int
	SellingPrice      float64
	TargetFoodCostPct float64
}

// Result contains portion-level metrics. Pointer fields are nil when their
// precondition does not hold: no selling price set, or no target percentage.
type Result struct {
	CostPerPortion        float64  `json:"costPerPortion"`
	FoodCostPct           *float64 `json:"foodCostPct"`
	Margin                *float64 `json:"margin"`
	MarginPct             *float64 `json:"marginPct"`
	SuggestedPrice        *float64 `json:"suggestedPrice"`
	SuggestedPriceRounded *float64 `json:"suggestedPriceRounded"`
}

// Calculate computes portion cost, food cost, margin and a suggested selling price.
func Calculate(in Input) Result {
	costPerPortion := in.TotalCost / float64(max(1, in.Portions))
	result := Result{CostPerPortion: costPerPortion}

	if valid(in.SellingPrice) && in.SellingPrice > 0 {
		foodCostPct := costPerPortion / in.SellingPrice * 100
		margin := in.SellingPrice - costPerPortion
		marginPct := margin / in.SellingPrice * 100

		result.FoodCostPct = &foodCostPct
		result.Margin = &margin
		result.MarginPct = &marginPct
	}

	if valid(in.TargetFoodCostPct) && in.TargetFoodCostPct > 0 {
		target := math.Max(minTargetPercent, math.Min(maxTargetPercent, in.TargetFoodCostPct))
		suggested := costPerPortion / (target / 100)
		rounded := RoundMoney(suggested)

		result.SuggestedPrice = &suggested
		result.SuggestedPriceRounded = &rounded
	}

	return result
}

// RoundMoney rounds v half away from zero to the currency's minor unit.
func RoundMoney(v float64) float64 {
	if !valid(v) {
		return 0
	}
	rounded, _ := decimal.NewFromFloat(v).Round(moneyPlaces).Float64()
	return rounded
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
