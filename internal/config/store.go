package config

import (
	"fmt"

	"github.com/google/uuid"
)

// Keys for global engine parameters. Values are either amounts/factors
// (int64 fixed-point) or account addresses.
const (
	KeyOracleMaxAgeSeconds    = "oracle_max_age_seconds"
	KeyOracleMaxFutureSkew    = "oracle_max_future_skew_seconds"
	KeyMaxPriceDeviation      = "max_price_deviation_factor" // ppm ratio fallback when token has no band
	KeyClaimableWindowSeconds = "claimable_window_seconds"
	KeyCancelReliefSeconds    = "cancel_relief_seconds" // after this age a keeper may cancel on the owner's behalf
	KeyMinExecutionFee        = "min_execution_fee"

	KeyFeeHolderAddress = "fee_holder_address" // receives execution fees on execute
)

var defaultValues = map[string]int64{
	KeyOracleMaxAgeSeconds:    60,
	KeyOracleMaxFutureSkew:    5,
	KeyMaxPriceDeviation:      1_100_000, // 1.1x
	KeyClaimableWindowSeconds: 3_600,
	KeyCancelReliefSeconds:    300,
	KeyMinExecutionFee:        0,
}

// Store is the generic key → (amount|factor|address) configuration store.
// Not thread-safe — only accessed from the single-threaded settlement core.
type Store struct {
	values    map[string]int64
	addresses map[string]uuid.UUID
}

func NewStore() *Store {
	values := make(map[string]int64, len(defaultValues))
	for k, v := range defaultValues {
		values[k] = v
	}
	return &Store{
		values:    values,
		addresses: make(map[string]uuid.UUID),
	}
}

// Int returns the configured value for key, falling back to the default.
func (s *Store) Int(key string) int64 {
	return s.values[key]
}

// SetInt sets an amount/factor value.
func (s *Store) SetInt(key string, value int64) error {
	if value < 0 {
		return fmt.Errorf("config %s must be >= 0, got %d", key, value)
	}
	s.values[key] = value
	return nil
}

// Address returns the configured account address for key.
func (s *Store) Address(key string) (uuid.UUID, bool) {
	addr, ok := s.addresses[key]
	return addr, ok
}

func (s *Store) SetAddress(key string, addr uuid.UUID) {
	s.addresses[key] = addr
}

// AddressSnapshot returns a copy of the configured account addresses.
func (s *Store) AddressSnapshot() map[string]uuid.UUID {
	out := make(map[string]uuid.UUID, len(s.addresses))
	for k, v := range s.addresses {
		out[k] = v
	}
	return out
}

// RestoreAddresses overwrites addresses from a snapshot.
func (s *Store) RestoreAddresses(addrs map[string]uuid.UUID) {
	for k, v := range addrs {
		s.addresses[k] = v
	}
}

// Snapshot returns a copy of all int values (for state hashing and queries).
func (s *Store) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Restore overwrites values from a snapshot.
func (s *Store) Restore(values map[string]int64) {
	for k, v := range values {
		s.values[k] = v
	}
}
