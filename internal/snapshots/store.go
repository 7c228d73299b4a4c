package snapshots

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Compile-time interface checks.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// MemoryStore keeps histories in process memory. Safe for concurrent access.
type MemoryStore struct {
	mu     sync.RWMutex
	points map[string][]Point
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string][]Point)}
}

// Load returns a copy of the stored history.
func (s *MemoryStore) Load(_ context.Context, recipeID string) ([]Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Point(nil), s.points[recipeID]...), nil
}

// Save replaces the stored history.
func (s *MemoryStore) Save(_ context.Context, recipeID string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[recipeID] = append([]Point(nil), points...)
	return nil
}

// Delete drops the stored history.
func (s *MemoryStore) Delete(_ context.Context, recipeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.points, recipeID)
	return nil
}

// SQLiteStore keeps histories in the cost_history table, one JSON array per recipe.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on db. The cost_history table comes from migrations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load reads the history of recipeID; a missing row is an empty history.
func (s *SQLiteStore) Load(ctx context.Context, recipeID string) ([]Point, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT points_json FROM cost_history WHERE recipe_id = ?`, recipeID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cost history: %w", err)
	}
	return decodePoints([]byte(raw))
}

// Save upserts the history of recipeID.
func (s *SQLiteStore) Save(ctx context.Context, recipeID string, points []Point) error {
	raw, err := encodePoints(points)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cost_history (recipe_id, points_json, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(recipe_id) DO UPDATE SET
			points_json = excluded.points_json,
			updated_at = excluded.updated_at
	`, recipeID, string(raw))
	if err != nil {
		return fmt.Errorf("upsert cost history: %w", err)
	}
	return nil
}

// Delete removes the history row of recipeID.
func (s *SQLiteStore) Delete(ctx context.Context, recipeID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cost_history WHERE recipe_id = ?`, recipeID); err != nil {
		return fmt.Errorf("delete cost history: %w", err)
	}
	return nil
}

// RedisStore keeps histories as JSON strings under "cost_history:<recipe id>".
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a store on rdb.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "cost_history:"}
}

// Load reads the history of recipeID; a missing key is an empty history.
func (s *RedisStore) Load(ctx context.Context, recipeID string) ([]Point, error) {
	raw, err := s.rdb.Get(ctx, s.prefix+recipeID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cost history: %w", err)
	}
	return decodePoints(raw)
}

// Save overwrites the history of recipeID without expiry.
func (s *RedisStore) Save(ctx context.Context, recipeID string, points []Point) error {
	raw, err := encodePoints(points)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.prefix+recipeID, raw, 0).Err(); err != nil {
		return fmt.Errorf("set cost history: %w", err)
	}
	return nil
}

// Delete removes the history key of recipeID.
func (s *RedisStore) Delete(ctx context.Context, recipeID string) error {
	if err := s.rdb.Del(ctx, s.prefix+recipeID).Err(); err != nil {
		return fmt.Errorf("delete cost history: %w", err)
	}
	return nil
}

func encodePoints(points []Point) ([]byte, error) {
	if points == nil {
		points = []Point{}
	}
	raw, err := json.Marshal(points)
	if err != nil {
		return nil, fmt.Errorf("encode cost points: %w", err)
	}
	return raw, nil
}

func decodePoints(raw []byte) ([]Point, error) {
	var points []Point
	if err := json.Unmarshal(raw, &points); err != nil {
		return nil, fmt.Errorf("decode cost points: %w", err)
	}
	return points, nil
}
