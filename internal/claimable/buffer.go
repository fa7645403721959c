// Package claimable buckets deferred payouts by time window so owners pull
// funds out asynchronously instead of receiving them inline.
package claimable

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	fpmath "PerpPools/internal/math"
)

var ErrNothingToClaim = errors.New("nothing to claim")

// EntryKey addresses one claimable balance. Bucket is the credit timestamp
// divided by the configured window, so credits within a window merge.
type EntryKey struct {
	Token  string
	Owner  uuid.UUID
	Bucket int64
}

func (k EntryKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.Token, k.Owner, k.Bucket)
}

// BucketFor maps a unix timestamp onto its window bucket.
func BucketFor(timestamp, windowSeconds int64) int64 {
	if windowSeconds <= 0 {
		return timestamp
	}
	return timestamp / windowSeconds
}

// Buffer holds all open claimable balances.
// Not thread-safe — only accessed from the single-threaded settlement core.
type Buffer struct {
	entries map[EntryKey]int64
}

func NewBuffer() *Buffer {
	return &Buffer{entries: make(map[EntryKey]int64)}
}

// Credit adds a pending payout. Repeated credits in the same window merge.
func (b *Buffer) Credit(key EntryKey, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("claimable credit must be positive: %d", amount)
	}
	next, err := fpmath.AddChecked(b.entries[key], amount)
	if err != nil {
		return err
	}
	b.entries[key] = next
	return nil
}

// Claim drains one entry completely and deletes it. The returned amount is
// what the caller pays out.
func (b *Buffer) Claim(key EntryKey) (int64, error) {
	amount, ok := b.entries[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNothingToClaim, key)
	}
	delete(b.entries, key)
	return amount, nil
}

// Amount reports a pending balance without claiming it.
func (b *Buffer) Amount(key EntryKey) int64 {
	return b.entries[key]
}

func (b *Buffer) Len() int {
	return len(b.entries)
}

// ByOwner returns the owner's open entries.
func (b *Buffer) ByOwner(owner uuid.UUID) map[EntryKey]int64 {
	out := make(map[EntryKey]int64)
	for key, amount := range b.entries {
		if key.Owner == owner {
			out[key] = amount
		}
	}
	return out
}

// Snapshot copies every entry for persistence.
func (b *Buffer) Snapshot() map[EntryKey]int64 {
	out := make(map[EntryKey]int64, len(b.entries))
	for k, v := range b.entries {
		out[k] = v
	}
	return out
}

// Restore replaces the buffer contents from a snapshot.
func (b *Buffer) Restore(entries map[EntryKey]int64) {
	b.entries = make(map[EntryKey]int64, len(entries))
	for k, v := range entries {
		b.entries[k] = v
	}
}
