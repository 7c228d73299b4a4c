// Package service wires the record store, the costing engine, pricing and the
// cost history together. Every call loads its own snapshot, so concurrent
// edits never change a computation already in flight.
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Simplici0/platecost/internal/batch"
	"github.com/Simplici0/platecost/internal/costing"
	"github.com/Simplici0/platecost/internal/pricing"
	"github.com/Simplici0/platecost/internal/snapshots"
	"github.com/Simplici0/platecost/internal/store"
)

// Records is the part of the record store the service reads and writes.
type Records interface {
	LoadSnapshot(ctx context.Context, recipeIDs ...string) (costing.Snapshot, error)
	LoadAll(ctx context.Context) (costing.Snapshot, error)
	ListIngredients(ctx context.Context) ([]store.IngredientRecord, error)
	SetIngredientNetCost(ctx context.Context, id string, cost float64) error
}

// Config tunes computations.
type Config struct {
	MaxDepth    int
	Concurrency int
}

// Service answers costing questions.
type Service struct {
	records Records
	history *snapshots.Log
	cfg     Config
	log     zerolog.Logger
}

// New creates a Service.
func New(records Records, history *snapshots.Log, cfg Config, log zerolog.Logger) *Service {
	if cfg.MaxDepth < 1 {
		cfg.MaxDepth = costing.DefaultMaxDepth
	}
	return &Service{
		records: records,
		history: history,
		cfg:     cfg,
		log:     log.With().Str("component", "costing_service").Logger(),
	}
}

// RecipeCost is a recipe with its computed cost and pricing.
type RecipeCost struct {
	Recipe  costing.Recipe `json:"recipe"`
	Cost    costing.Result `json:"cost"`
	Pricing pricing.Result `json:"pricing"`
}

// RecipeCostList is the outcome of costing many recipes at once.
type RecipeCostList struct {
	Items   []RecipeCost  `json:"items"`
	Outcome batch.Outcome `json:"outcome"`
}

// HistoryView is a recipe's cost history with its trend.
type HistoryView struct {
	Points []snapshots.Point `json:"points"`
	Trend  snapshots.Trend   `json:"trend"`
}

// RecipeCost computes one recipe. An unknown id returns costing.ErrRecipeNotFound.
func (s *Service) RecipeCost(ctx context.Context, recipeID string) (RecipeCost, error) {
	snap, err := s.records.LoadSnapshot(ctx, recipeID)
	if err != nil {
		return RecipeCost{}, fmt.Errorf("load snapshot for %s: %w", recipeID, err)
	}
	return s.costOf(s.aggregator(snap), recipeID)
}

// ListRecipeCosts computes every recipe over one shared snapshot.
func (s *Service) ListRecipeCosts(ctx context.Context) (RecipeCostList, error) {
	snap, err := s.records.LoadAll(ctx)
	if err != nil {
		return RecipeCostList{}, fmt.Errorf("load all records: %w", err)
	}
	agg := s.aggregator(snap)
	ids := agg.Catalog().RecipeIDs()

	var (
		mu    sync.Mutex
		items = make([]RecipeCost, 0, len(ids))
	)
	outcome := batch.Run(ctx, ids, s.cfg.Concurrency, func(_ context.Context, id string) error {
		rc, err := s.costOf(agg, id)
		if err != nil {
			return err
		}
		mu.Lock()
		items = append(items, rc)
		mu.Unlock()
		return nil
	})

	sort.Slice(items, func(i, j int) bool { return items[i].Recipe.ID < items[j].Recipe.ID })
	return RecipeCostList{Items: items, Outcome: outcome}, nil
}

// RecordSnapshot appends the current cost of a recipe to its history. It
// reports false when the totals did not change since the newest point.
func (s *Service) RecordSnapshot(ctx context.Context, recipeID string) (bool, error) {
	rc, err := s.RecipeCost(ctx, recipeID)
	if err != nil {
		return false, err
	}
	return s.history.Add(ctx, recipeID, pointOf(rc))
}

// SnapshotAll records the current cost of every recipe.
func (s *Service) SnapshotAll(ctx context.Context) (batch.Outcome, error) {
	snap, err := s.records.LoadAll(ctx)
	if err != nil {
		return batch.Outcome{}, fmt.Errorf("load all records: %w", err)
	}
	agg := s.aggregator(snap)

	outcome := batch.Run(ctx, agg.Catalog().RecipeIDs(), s.cfg.Concurrency, func(ctx context.Context, id string) error {
		rc, err := s.costOf(agg, id)
		if err != nil {
			return err
		}
		_, err = s.history.Add(ctx, id, pointOf(rc))
		return err
	})

	s.log.Info().
		Int("succeeded", outcome.Succeeded).
		Int("failed", outcome.Failed).
		Msg("Recorded cost snapshots")
	return outcome, nil
}

// History returns a recipe's cost points, newest first, with their trend.
func (s *Service) History(ctx context.Context, recipeID string) (HistoryView, error) {
	points, err := s.history.List(ctx, recipeID)
	if err != nil {
		return HistoryView{}, err
	}
	return HistoryView{Points: points, Trend: snapshots.Summarize(points)}, nil
}

// RemovePoint deletes one point from a recipe's history.
func (s *Service) RemovePoint(ctx context.Context, recipeID, pointID string) error {
	return s.history.Remove(ctx, recipeID, pointID)
}

// ClearHistory deletes a recipe's whole history.
func (s *Service) ClearHistory(ctx context.Context, recipeID string) error {
	return s.history.Clear(ctx, recipeID)
}

// RecalculateIngredientCosts recomputes the net unit cost of every ingredient
// from its pack price, pack quantity and supplier yield.
func (s *Service) RecalculateIngredientCosts(ctx context.Context) (batch.Outcome, error) {
	ingredients, err := s.records.ListIngredients(ctx)
	if err != nil {
		return batch.Outcome{}, fmt.Errorf("list ingredients: %w", err)
	}

	byID := make(map[string]store.IngredientRecord, len(ingredients))
	ids := make([]string, 0, len(ingredients))
	for _, in := range ingredients {
		byID[in.ID] = in
		ids = append(ids, in.ID)
	}

	outcome := batch.Run(ctx, ids, s.cfg.Concurrency, func(ctx context.Context, id string) error {
		in := byID[id]
		return s.records.SetIngredientNetCost(ctx, id, costing.NetUnitCost(in.PackPrice, in.PackQty, in.SupplierYieldPercent))
	})

	s.log.Info().
		Int("succeeded", outcome.Succeeded).
		Int("failed", outcome.Failed).
		Msg("Recalculated ingredient costs")
	return outcome, nil
}

func (s *Service) aggregator(snap costing.Snapshot) *costing.Aggregator {
	return costing.NewAggregator(costing.NewCatalog(snap), costing.WithMaxDepth(s.cfg.MaxDepth))
}

func (s *Service) costOf(agg *costing.Aggregator, recipeID string) (RecipeCost, error) {
	result, err := agg.Compute(recipeID)
	if err != nil {
		return RecipeCost{}, err
	}
	recipe, _ := agg.Catalog().Recipe(recipeID)

	if len(result.Warnings) > 0 {
		s.log.Debug().
			Str("recipe_id", recipeID).
			Strs("warnings", costing.Messages(result.Warnings)).
			Msg("Recipe cost computed with warnings")
	}

	return RecipeCost{
		Recipe: recipe,
		Cost:   result,
		Pricing: pricing.Calculate(pricing.Input{
			TotalCost:         result.TotalCost,
			Portions:          recipe.Portions,
			SellingPrice:      recipe.SellingPrice,
			TargetFoodCostPct: recipe.TargetFoodCostPct,
		}),
	}, nil
}

func pointOf(rc RecipeCost) snapshots.Point {
	return snapshots.Point{
		TotalCost:      rc.Cost.TotalCost,
		CostPerPortion: rc.Pricing.CostPerPortion,
		Portions:       max(1, rc.Recipe.Portions),
		Currency:       rc.Recipe.Currency,
	}
}
