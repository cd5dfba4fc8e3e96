// Package roles resolves a user's single active role.
package roles

import (
	"context"
	"time"

	"github.com/randalmurphal/verity/internal/cache"
	"github.com/randalmurphal/verity/internal/db"
)

// Resolver maps a user to their active role. An empty role means the user
// has none.
type Resolver interface {
	ActiveRole(ctx context.Context, userID string) (string, error)
}

// Store resolves roles from the user_roles table and caches the answer.
type Store struct {
	db    *db.DB
	cache *cache.Cache[string]
}

// NewStore creates a Store caching lookups for ttl.
func NewStore(d *db.DB, ttl time.Duration, clock cache.Clock) *Store {
	return &Store{db: d, cache: cache.New[string](ttl, clock)}
}

// ActiveRole returns the user's active role, or "" if none.
func (s *Store) ActiveRole(ctx context.Context, userID string) (string, error) {
	return s.cache.GetOrLoad(userID, func() (string, error) {
		var role string
		err := s.db.RunInTx(ctx, func(tx *db.TxOps) error {
			var err error
			role, err = db.ActiveRoleTx(tx, userID)
			return err
		})
		return role, err
	})
}

// SetActiveRole makes role the user's only active role.
func (s *Store) SetActiveRole(ctx context.Context, userID, role string) error {
	defer s.cache.Delete(userID)
	return s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		return db.SetActiveRoleTx(tx, userID, role)
	})
}

// ClearActiveRole leaves the user without an active role.
func (s *Store) ClearActiveRole(ctx context.Context, userID string) error {
	defer s.cache.Delete(userID)
	return s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		return db.ClearActiveRoleTx(tx, userID)
	})
}

// Static is a fixed user -> role mapping.
type Static map[string]string

// ActiveRole returns the mapped role.
func (s Static) ActiveRole(_ context.Context, userID string) (string, error) {
	return s[userID], nil
}
