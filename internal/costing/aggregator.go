package costing

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultMaxDepth bounds sub-recipe nesting for acyclic but pathological chains.
const DefaultMaxDepth = 32

// Result is the cost of one recipe.
type Result struct {
	RecipeID  string     `json:"recipeId"`
	TotalCost float64    `json:"totalCost"`
	Warnings  []Warning  `json:"warnings"`
	Lines     []LineCost `json:"lines"`
}

// Aggregator computes recipe totals over a Catalog, expanding sub-recipes
// depth-first. It holds no mutable state and may be shared across goroutines.
type Aggregator struct {
	catalog  *Catalog
	resolver *LineResolver
	maxDepth int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMaxDepth overrides DefaultMaxDepth. Values below 1 are ignored.
func WithMaxDepth(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxDepth = n
		}
	}
}

// NewAggregator creates an aggregator over c.
func NewAggregator(c *Catalog, opts ...Option) *Aggregator {
	a := &Aggregator{
		catalog:  c,
		resolver: NewLineResolver(c.Ingredients()),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Catalog returns the records the aggregator reads.
func (a *Aggregator) Catalog() *Catalog { return a.catalog }

// Compute returns the total cost of recipeID with its per-line breakdown.
// Only an unknown recipeID is an error; every other problem is reported as
// a warning alongside a best-effort total.
func (a *Aggregator) Compute(recipeID string) (Result, error) {
	if _, ok := a.catalog.Recipe(recipeID); !ok {
		return Result{}, fmt.Errorf("compute recipe %s: %w", recipeID, ErrRecipeNotFound)
	}

	w := &walk{
		memo:  make(map[memoKey]node),
		reach: make(map[string]map[string]struct{}),
	}
	n := a.compute(w, recipeID, map[string]struct{}{}, 0, true)
	return Result{
		RecipeID:  recipeID,
		TotalCost: n.cost,
		Warnings:  dedupe(n.warnings),
		Lines:     n.lines,
	}, nil
}

type node struct {
	cost     float64
	warnings []Warning
	lines    []LineCost
	// cut is set when the walk stopped at this recipe (cycle or depth).
	cut bool
}

// memoKey identifies a sub-recipe walk. Its outcome depends only on the
// recipe, its depth, and which ancestors on the path it can reach again.
type memoKey struct {
	recipeID  string
	depth     int
	ancestors string
}

// walk is the state of one Compute call.
type walk struct {
	memo  map[memoKey]node
	reach map[string]map[string]struct{}
}

// compute walks one recipe. path holds the ancestors of recipeID on the current
// call path only, so a recipe reused by unrelated siblings is not a cycle.
func (a *Aggregator) compute(w *walk, recipeID string, path map[string]struct{}, depth int, keepLines bool) node {
	if _, seen := path[recipeID]; seen {
		return node{warnings: []Warning{cycleWarning(recipeID)}, cut: true}
	}
	if depth > a.maxDepth {
		return node{warnings: []Warning{depthWarning(recipeID, a.maxDepth)}, cut: true}
	}

	var key memoKey
	if !keepLines {
		key = memoKey{recipeID: recipeID, depth: depth, ancestors: a.reachedAncestors(w, recipeID, path)}
		if n, ok := w.memo[key]; ok {
			return n
		}
	}

	withSelf := make(map[string]struct{}, len(path)+1)
	for id := range path {
		withSelf[id] = struct{}{}
	}
	withSelf[recipeID] = struct{}{}

	var out node
	lines := a.catalog.Lines(recipeID)
	if keepLines {
		out.lines = make([]LineCost, 0, len(lines))
	}

	for _, line := range lines {
		var lc LineCost

		switch line.Kind {
		case LineSubRecipe:
			lc = a.subRecipeLine(w, line, withSelf, depth, &out)
		default:
			lc = a.resolver.Resolve(line, nil)
		}

		out.cost += lc.Cost
		out.warnings = append(out.warnings, lc.Warnings...)
		if keepLines {
			out.lines = append(out.lines, lc)
		}
	}

	// Shared subtrees would otherwise copy the same warnings once per route.
	out.warnings = dedupe(out.warnings)
	if !keepLines {
		w.memo[key] = out
	}
	return out
}

// subRecipeLine expands the referenced recipe and prices the line against its
// fresh total. Child warnings are merged into parent.
func (a *Aggregator) subRecipeLine(w *walk, line Line, path map[string]struct{}, depth int, parent *node) LineCost {
	sub, ok := a.catalog.Recipe(line.SubRecipeID)
	if !ok {
		return a.resolver.Resolve(line, nil)
	}

	child := a.compute(w, sub.ID, path, depth+1, false)
	parent.warnings = append(parent.warnings, child.warnings...)

	if child.cut {
		lc := LineCost{LineID: line.ID, Kind: line.Kind}
		lc.Warnings = resolveQuantities(line, &lc)
		return lc
	}

	return a.resolver.Resolve(line, &ChildCost{
		RecipeID:    sub.ID,
		TotalCost:   child.cost,
		YieldQty:    sub.YieldQty,
		YieldUnit:   sub.YieldUnit,
		IsSubRecipe: sub.IsSubRecipe,
	})
}

// reachedAncestors lists, sorted, the members of path that recipeID can reach
// through sub-recipe lines. It is empty for any recipe outside a cycle.
func (a *Aggregator) reachedAncestors(w *walk, recipeID string, path map[string]struct{}) string {
	reach := a.reachable(w, recipeID)
	var ids []string
	for id := range path {
		if _, ok := reach[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return strings.Join(ids, "\x00")
}

// reachable returns every known recipe reachable from recipeID, cached per walk.
func (a *Aggregator) reachable(w *walk, recipeID string) map[string]struct{} {
	if r, ok := w.reach[recipeID]; ok {
		return r
	}
	seen := make(map[string]struct{})
	stack := []string{recipeID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, l := range a.catalog.Lines(id) {
			if l.Kind != LineSubRecipe {
				continue
			}
			if _, ok := a.catalog.Recipe(l.SubRecipeID); !ok {
				continue
			}
			if _, ok := seen[l.SubRecipeID]; ok {
				continue
			}
			seen[l.SubRecipeID] = struct{}{}
			stack = append(stack, l.SubRecipeID)
		}
	}
	w.reach[recipeID] = seen
	return seen
}
