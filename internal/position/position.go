// Package position holds leveraged perp positions and their settlement math.
package position

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrPositionNotFound       = errors.New("position not found")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
)

// Key identifies a position. One position per (owner, market, collateral
// token, direction); repeated increases merge into it.
type Key struct {
	Owner           uuid.UUID
	MarketToken     string
	CollateralToken string
	IsLong          bool
}

func (k Key) String() string {
	side := "short"
	if k.IsLong {
		side = "long"
	}
	return fmt.Sprintf("%s:%s:%s:%s", k.Owner, k.MarketToken, k.CollateralToken, side)
}

// Position is one open perp position. Sizes are tracked both in USD (fixed
// at entry, used for PnL) and in index tokens (used for exposure and long
// reservations). Fee accounting is lazy: the Cum* snapshots record the
// market accumulators at last settlement, and the spread to the current
// accumulators is charged on the next touch.
type Position struct {
	Key

	SizeInUsd        int64
	SizeInTokens     int64
	CollateralAmount int64 // in CollateralToken
	ReservedAmount   int64 // pool tokens this position reserved

	CumFundingSnapshot   int64
	CumBorrowingSnapshot int64

	IncreasedAt int64
	DecreasedAt int64
	Version     int64
}

// Clone returns a deep copy for unit-of-work staging.
func (p *Position) Clone() *Position {
	c := *p
	return &c
}

// Ledger holds all open positions.
// Not thread-safe — only accessed from the single-threaded settlement core.
type Ledger struct {
	positions map[Key]*Position
}

func NewLedger() *Ledger {
	return &Ledger{positions: make(map[Key]*Position)}
}

func (l *Ledger) Get(key Key) (*Position, error) {
	p, ok := l.positions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, key)
	}
	return p, nil
}

// Set inserts or replaces a position (unit-of-work commit, snapshot restore).
func (l *Ledger) Set(p *Position) {
	l.positions[p.Key] = p
}

// Delete removes a position; closing at zero size always deletes.
func (l *Ledger) Delete(key Key) {
	delete(l.positions, key)
}

func (l *Ledger) Len() int {
	return len(l.positions)
}

// All returns every open position (iteration order unspecified).
func (l *Ledger) All() []*Position {
	out := make([]*Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	return out
}

// ByOwner returns the owner's open positions.
func (l *Ledger) ByOwner(owner uuid.UUID) []*Position {
	var out []*Position
	for key, p := range l.positions {
		if key.Owner == owner {
			out = append(out, p)
		}
	}
	return out
}
