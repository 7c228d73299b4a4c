package snapshots

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Trend summarizes a history for display.
type Trend struct {
	Count     int      `json:"count"`
	Latest    *Point   `json:"latest,omitempty"`
	Previous  *Point   `json:"previous,omitempty"`
	Change    *float64 `json:"change,omitempty"`
	ChangePct *float64 `json:"changePct,omitempty"`
	Min       float64  `json:"minCostPerPortion"`
	Max       float64  `json:"maxCostPerPortion"`
	Mean      float64  `json:"meanCostPerPortion"`
}

// Summarize computes the cost-per-portion trend of points, in any order.
// Change compares the newest point with the one before it.
func Summarize(points []Point) Trend {
	if len(points) == 0 {
		return Trend{}
	}

	sorted := append([]Point(nil), points...)
	sortNewestFirst(sorted)

	values := make([]float64, len(sorted))
	for i, p := range sorted {
		values[i] = p.CostPerPortion
	}

	t := Trend{
		Count:  len(sorted),
		Latest: &sorted[0],
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Mean:   stat.Mean(values, nil),
	}

	if len(sorted) > 1 {
		t.Previous = &sorted[1]
		change := sorted[0].CostPerPortion - sorted[1].CostPerPortion
		t.Change = &change
		if sorted[1].CostPerPortion != 0 {
			pct := change / sorted[1].CostPerPortion * 100
			t.ChangePct = &pct
		}
	}

	return t
}
