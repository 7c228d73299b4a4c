package costing

import (
	"errors"
	"fmt"

	"github.com/Simplici0/platecost/internal/units"
)

// Warning kinds. A Warning's Kind is one of these (or units.ErrIncompatibleUnits),
// so callers can classify with errors.Is.
var (
	ErrCycleDetected    = errors.New("cycle detected")
	ErrMissingReference = errors.New("missing reference")
	ErrMissingPrice     = errors.New("missing price")
	ErrInvalidYield     = errors.New("invalid yield")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrNotSubRecipe     = errors.New("not a sub-recipe")
	ErrDepthExceeded    = errors.New("max recipe depth exceeded")

	// ErrRecipeNotFound fails a top-level Compute call; it is never a warning.
	ErrRecipeNotFound = errors.New("recipe not found")
)

// ErrIncompatibleUnits is re-exported for callers that only import costing.
var ErrIncompatibleUnits = units.ErrIncompatibleUnits

// Warning explains why part of a cost is incomplete. It serializes as its
// message so API consumers receive a plain list of strings.
type Warning struct {
	Kind     error
	RecipeID string
	LineID   string
	Message  string
}

func (w Warning) String() string { return w.Message }

// Is reports whether the warning belongs to kind.
func (w Warning) Is(kind error) bool { return errors.Is(w.Kind, kind) }

// MarshalText implements encoding.TextMarshaler.
func (w Warning) MarshalText() ([]byte, error) { return []byte(w.Message), nil }

func cycleWarning(recipeID string) Warning {
	return Warning{
		Kind:     ErrCycleDetected,
		RecipeID: recipeID,
		Message:  fmt.Sprintf("cycle detected at %s", recipeID),
	}
}

func depthWarning(recipeID string, max int) Warning {
	return Warning{
		Kind:     ErrDepthExceeded,
		RecipeID: recipeID,
		Message:  fmt.Sprintf("max recipe depth %d exceeded at %s", max, recipeID),
	}
}

func lineWarning(kind error, line Line, format string, args ...any) Warning {
	return Warning{
		Kind:     kind,
		RecipeID: line.RecipeID,
		LineID:   line.ID,
		Message:  fmt.Sprintf("recipe %s line %s: %s", line.RecipeID, line.ID, fmt.Sprintf(format, args...)),
	}
}

// dedupe keeps the first warning for each message, preserving order.
func dedupe(ws []Warning) []Warning {
	if len(ws) == 0 {
		return []Warning{}
	}
	seen := make(map[string]struct{}, len(ws))
	out := make([]Warning, 0, len(ws))
	for _, w := range ws {
		if _, ok := seen[w.Message]; ok {
			continue
		}
		seen[w.Message] = struct{}{}
		out = append(out, w)
	}
	return out
}

// Messages flattens warnings to their text.
func Messages(ws []Warning) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Message
	}
	return out
}
