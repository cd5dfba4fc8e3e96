// Package settings serves process-wide application settings such as login
// lockout and OTP validity. Values live in app_settings and are cached.
package settings

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/randalmurphal/verity/internal/cache"
	"github.com/randalmurphal/verity/internal/db"
	verrors "github.com/randalmurphal/verity/internal/errors"
)

const (
	KeyMaxFailedLogins    = "max_failed_logins"
	KeyOTPValidityMinutes = "otp_validity_minutes"
)

// defaults holds every known key and its value when none is stored.
var defaults = map[string]string{
	KeyMaxFailedLogins:    "5",
	KeyOTPValidityMinutes: "10",
}

// Keys returns the known setting keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Store reads and writes settings through a TTL cache.
type Store struct {
	db    *db.DB
	cache *cache.Cache[string]
}

// NewStore creates a settings store. The cache is owned by the store; build
// one per process and share it.
func NewStore(d *db.DB, ttl time.Duration, clock cache.Clock) *Store {
	return &Store{db: d, cache: cache.New[string](ttl, clock)}
}

// Get returns the value of a known setting, falling back to its default.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	def, ok := defaults[key]
	if !ok {
		return "", verrors.ErrValidation("key", fmt.Sprintf("unknown setting %q", key))
	}
	return s.cache.GetOrLoad(key, func() (string, error) {
		var value string
		var found bool
		err := s.db.RunInTx(ctx, func(tx *db.TxOps) error {
			var err error
			value, found, err = db.GetSettingTx(tx, key)
			return err
		})
		if err != nil {
			return "", err
		}
		if !found {
			return def, nil
		}
		return value, nil
	})
}

// Int returns a setting parsed as an integer.
func (s *Store) Int(ctx context.Context, key string) (int, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("setting %s is not an integer: %w", key, err)
	}
	return n, nil
}

// Set stores a setting. Every known setting is a positive integer.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if _, ok := defaults[key]; !ok {
		return verrors.ErrValidation("key", fmt.Sprintf("unknown setting %q", key))
	}
	if n, err := strconv.Atoi(value); err != nil || n <= 0 {
		return verrors.ErrValidation("value", "must be a positive integer")
	}
	defer s.cache.Delete(key)
	return s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		return db.SetSettingTx(tx, key, value)
	})
}

// MaxFailedLogins returns how many failed logins lock an account.
func (s *Store) MaxFailedLogins(ctx context.Context) (int, error) {
	return s.Int(ctx, KeyMaxFailedLogins)
}

// OTPValidity returns how long a one-time password stays valid.
func (s *Store) OTPValidity(ctx context.Context) (time.Duration, error) {
	n, err := s.Int(ctx, KeyOTPValidityMinutes)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Minute, nil
}
