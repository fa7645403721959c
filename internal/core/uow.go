package core

import (
	"fmt"

	"PerpPools/internal/claimable"
	"PerpPools/internal/market"
	fpmath "PerpPools/internal/math"
	"PerpPools/internal/position"
	"PerpPools/internal/vault"
)

// txn stages every mutation of one settlement attempt. Markets and positions
// are cloned on first touch, custody moves accumulate in the staged bank
// view, and nothing reaches the live state until commit. Discard is free:
// drop the txn and the live state was never touched.
type txn struct {
	core   *SettlementCore
	staged *vault.Staged

	markets         map[string]*market.Market
	positions       map[position.Key]*position.Position
	positionDeletes map[position.Key]struct{}
	claimCredits    map[claimable.EntryKey]int64
	claimDrains     []claimable.EntryKey
}

func (c *SettlementCore) begin(eventRef string, timestamp int64) *txn {
	return &txn{
		core:            c,
		staged:          c.bank.Begin(eventRef, c.sequence, timestamp),
		markets:         make(map[string]*market.Market),
		positions:       make(map[position.Key]*position.Position),
		positionDeletes: make(map[position.Key]struct{}),
		claimCredits:    make(map[claimable.EntryKey]int64),
	}
}

// Get returns the staged clone of a market, cloning on first touch.
// Satisfies the swap router's market resolver.
func (t *txn) Get(marketToken string) (*market.Market, error) {
	if m, ok := t.markets[marketToken]; ok {
		return m, nil
	}
	live, err := t.core.markets.Get(marketToken)
	if err != nil {
		return nil, err
	}
	clone := live.Clone()
	t.markets[marketToken] = clone
	return clone, nil
}

// CreateMarket stages a market that does not exist yet.
func (t *txn) CreateMarket(m *market.Market) error {
	if _, staged := t.markets[m.MarketToken]; staged {
		return fmt.Errorf("%w: %s", market.ErrMarketExists, m.MarketToken)
	}
	if _, err := t.core.markets.Get(m.MarketToken); err == nil {
		return fmt.Errorf("%w: %s", market.ErrMarketExists, m.MarketToken)
	}
	t.markets[m.MarketToken] = m
	return nil
}

// Position returns the staged clone of a position, cloning on first touch.
func (t *txn) Position(key position.Key) (*position.Position, error) {
	if p, ok := t.positions[key]; ok {
		return p, nil
	}
	live, err := t.core.positions.Get(key)
	if err != nil {
		return nil, err
	}
	clone := live.Clone()
	t.positions[key] = clone
	return clone, nil
}

// PositionOrNew returns the staged position, creating an empty one with the
// market's current accumulators when none exists.
func (t *txn) PositionOrNew(key position.Key, m *market.Market) (*position.Position, error) {
	p, err := t.Position(key)
	if err == nil {
		return p, nil
	}
	p = &position.Position{
		Key:                  key,
		CumFundingSnapshot:   m.CumFunding(key.IsLong),
		CumBorrowingSnapshot: m.CumBorrowing(key.IsLong),
	}
	t.positions[key] = p
	return p, nil
}

// DeletePosition stages removal (full close).
func (t *txn) DeletePosition(key position.Key) {
	delete(t.positions, key)
	t.positionDeletes[key] = struct{}{}
}

// CreditClaimable stages a deferred payout into the buffer.
func (t *txn) CreditClaimable(key claimable.EntryKey, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("claimable credit must be positive: %d", amount)
	}
	next, err := fpmath.AddChecked(t.core.claimables.Amount(key), t.claimCredits[key])
	if err != nil {
		return err
	}
	if _, err := fpmath.AddChecked(next, amount); err != nil {
		return err
	}
	t.claimCredits[key] += amount
	return nil
}

// DrainClaimable stages the deletion of a claimed bucket.
func (t *txn) DrainClaimable(key claimable.EntryKey) {
	t.claimDrains = append(t.claimDrains, key)
}

// commit publishes every staged mutation to the live state and returns the
// custody batch. The staged bank re-validates the batch; a failure there
// means a handler produced inconsistent custody, which is a fatal bug.
func (t *txn) commit() *vault.Batch {
	if err := t.staged.Commit(); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced custody batch: %v", err))
	}
	for _, m := range t.markets {
		t.core.markets.Set(m)
	}
	for key := range t.positionDeletes {
		t.core.positions.Delete(key)
	}
	for _, p := range t.positions {
		t.core.positions.Set(p)
	}
	for key, amount := range t.claimCredits {
		if err := t.core.claimables.Credit(key, amount); err != nil {
			panic(fmt.Sprintf("FATAL: staged claimable credit rejected: %v", err))
		}
	}
	for _, key := range t.claimDrains {
		if _, err := t.core.claimables.Claim(key); err != nil {
			panic(fmt.Sprintf("FATAL: staged claimable drain rejected: %v", err))
		}
	}
	return t.staged.Batch()
}
