package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ternarybob/arbor"
)

// Store implements interfaces.JobStore, interfaces.StepStore,
// interfaces.Pool and interfaces.UserWorkStore over a single pgxpool.Pool.
// Methods are split across store.go (this file), jobs.go, steps.go,
// workitems.go and userwork.go by entity.
type Store struct {
	db     *pgxpool.Pool
	logger arbor.ILogger
}

// NewStore wraps an already-open pgxpool.Pool.
func NewStore(db *pgxpool.Pool, logger arbor.ILogger) *Store {
	return &Store{db: db, logger: logger}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.db.Close()
}
