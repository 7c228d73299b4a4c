// Package snapshots keeps a capped, newest-first history of recipe cost points.
//
// The history of a recipe is a single value in a key-value Store, encoded as a
// JSON array of points. Mutations of one recipe's history are serialized
// through a Locker; different recipes never contend.
package snapshots

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// MaxPoints caps the history length per recipe.
	MaxPoints = 60

	moneyTolerance = 1e-9
)

// ErrPointNotFound is returned by Remove when the id is not in the history.
var ErrPointNotFound = errors.New("cost point not found")

// Point is one recorded (total cost, cost per portion) pair.
type Point struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	TotalCost      float64   `json:"totalCost"`
	CostPerPortion float64   `json:"costPerPortion"`
	Portions       int       `json:"portions"`
	Currency       string    `json:"currency"`
}

// Store persists the history of each recipe under its id.
type Store interface {
	Load(ctx context.Context, recipeID string) ([]Point, error)
	Save(ctx context.Context, recipeID string, points []Point) error
	Delete(ctx context.Context, recipeID string) error
}

// Locker serializes read-modify-write cycles on one recipe's history.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Log is the cost history of every recipe.
type Log struct {
	store  Store
	locker Locker
	now    func() time.Time
	newID  func() string
	log    zerolog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithLocker replaces the default in-process locker.
func WithLocker(l Locker) Option {
	return func(lg *Log) { lg.locker = l }
}

// WithClock sets the time source used for points without CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(lg *Log) { lg.now = now }
}

// New creates a Log backed by store.
func New(store Store, log zerolog.Logger, opts ...Option) *Log {
	l := &Log{
		store:  store,
		locker: NewKeyedMutex(),
		now:    time.Now,
		newID:  uuid.NewString,
		log:    log.With().Str("component", "cost_history").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add records p unless it repeats the newest point's totals. It reports
// whether the point was stored.
func (l *Log) Add(ctx context.Context, recipeID string, p Point) (bool, error) {
	unlock, err := l.locker.Lock(ctx, recipeID)
	if err != nil {
		return false, err
	}
	defer unlock()

	points, err := l.List(ctx, recipeID)
	if err != nil {
		return false, err
	}

	if len(points) > 0 && sameTotals(points[0], p) {
		l.log.Debug().Str("recipe_id", recipeID).Msg("Skipping unchanged cost point")
		return false, nil
	}

	if p.ID == "" {
		p.ID = l.newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = l.now().UTC()
	}

	points = append([]Point{p}, points...)
	sortNewestFirst(points)
	if len(points) > MaxPoints {
		points = points[:MaxPoints]
		if !containsPoint(points, p.ID) {
			l.log.Debug().Str("recipe_id", recipeID).Msg("Skipping cost point older than a full history")
			return false, nil
		}
	}

	if err := l.store.Save(ctx, recipeID, points); err != nil {
		return false, fmt.Errorf("save cost history %s: %w", recipeID, err)
	}

	l.log.Debug().
		Str("recipe_id", recipeID).
		Float64("total_cost", p.TotalCost).
		Int("points", len(points)).
		Msg("Recorded cost point")
	return true, nil
}

func containsPoint(points []Point, id string) bool {
	for _, p := range points {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Remove deletes one point, keeping the order of the rest.
func (l *Log) Remove(ctx context.Context, recipeID, pointID string) error {
	unlock, err := l.locker.Lock(ctx, recipeID)
	if err != nil {
		return err
	}
	defer unlock()

	points, err := l.List(ctx, recipeID)
	if err != nil {
		return err
	}

	kept := points[:0]
	for _, p := range points {
		if p.ID != pointID {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(points) {
		return fmt.Errorf("remove %s from %s: %w", pointID, recipeID, ErrPointNotFound)
	}

	if err := l.store.Save(ctx, recipeID, kept); err != nil {
		return fmt.Errorf("save cost history %s: %w", recipeID, err)
	}
	return nil
}

// Clear empties the history of a recipe.
func (l *Log) Clear(ctx context.Context, recipeID string) error {
	unlock, err := l.locker.Lock(ctx, recipeID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := l.store.Delete(ctx, recipeID); err != nil {
		return fmt.Errorf("clear cost history %s: %w", recipeID, err)
	}
	return nil
}

// List returns a recipe's history, newest first.
func (l *Log) List(ctx context.Context, recipeID string) ([]Point, error) {
	points, err := l.store.Load(ctx, recipeID)
	if err != nil {
		return nil, fmt.Errorf("load cost history %s: %w", recipeID, err)
	}
	if points == nil {
		points = []Point{}
	}
	sortNewestFirst(points)
	return points, nil
}

func sameTotals(a, b Point) bool {
	return math.Abs(a.TotalCost-b.TotalCost) <= moneyTolerance &&
		math.Abs(a.CostPerPortion-b.CostPerPortion) <= moneyTolerance &&
		a.Portions == b.Portions &&
		a.Currency == b.Currency
}

func sortNewestFirst(points []Point) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].CreatedAt.After(points[j].CreatedAt)
	})
}
