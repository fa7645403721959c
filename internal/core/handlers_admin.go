package core

import (
	"fmt"

	"github.com/google/uuid"

	"PerpPools/internal/claimable"
	"PerpPools/internal/config"
	"PerpPools/internal/event"
	"PerpPools/internal/market"
	"PerpPools/internal/request"
	"PerpPools/internal/vault"
)

// --- Claims ---

// handleClaimFunds drains one closed claimable bucket to its owner. Open
// buckets stay untouchable so in-flight deferred payouts cannot race a claim.
func (c *SettlementCore) handleClaimFunds(e *event.ClaimFunds) (*vault.Batch, event.Outcome, error) {
	window := c.cfg.Int(config.KeyClaimableWindowSeconds)
	if e.Bucket >= claimable.BucketFor(e.Timestamp, window) {
		return nil, event.Outcome{}, fmt.Errorf("bucket %d is still open", e.Bucket)
	}
	key := claimable.EntryKey{Token: e.Token, Owner: e.Owner, Bucket: e.Bucket}
	amount := c.claimables.Amount(key)
	if amount == 0 {
		return nil, event.Outcome{}, claimable.ErrNothingToClaim
	}

	t := c.begin(e.IdempotencyKey(), e.Timestamp)
	if err := t.staged.Transfer(
		vault.NewClaimableAccount(e.Token),
		vault.NewTraderAccount(e.Owner, e.Token),
		amount, vault.TransferTypeClaimablePayout,
	); err != nil {
		return nil, event.Outcome{}, err
	}
	t.DrainClaimable(key)
	return t.commit(), event.Outcome{Applied: true}, nil
}

// --- Market administration ---

func (c *SettlementCore) handleCreateMarket(e *event.CreateMarket) (*vault.Batch, event.Outcome, error) {
	if err := c.requireMarketKeeper(e.Actor); err != nil {
		return nil, event.Outcome{}, err
	}
	for _, token := range []string{e.IndexToken, e.LongToken, e.ShortToken} {
		if !c.tokens.IsEnabled(token) {
			return nil, event.Outcome{}, fmt.Errorf("token %s is not registered and enabled", token)
		}
	}
	m, err := market.New(e.Market, e.IndexToken, e.LongToken, e.ShortToken, e.Config)
	if err != nil {
		return nil, event.Outcome{}, err
	}
	t := c.begin(e.IdempotencyKey(), e.Timestamp)
	if err := t.CreateMarket(m); err != nil {
		return nil, event.Outcome{}, err
	}
	return t.commit(), event.Outcome{Applied: true}, nil
}

func (c *SettlementCore) handleUpdateMarketConfig(e *event.UpdateMarketConfig) (*vault.Batch, event.Outcome, error) {
	if err := c.requireMarketKeeper(e.Actor); err != nil {
		return nil, event.Outcome{}, err
	}
	if err := e.Config.Validate(); err != nil {
		return nil, event.Outcome{}, err
	}
	t := c.begin(e.IdempotencyKey(), e.Timestamp)
	m, err := t.Get(e.Market)
	if err != nil {
		return nil, event.Outcome{}, err
	}
	m.Config = e.Config
	m.Enabled = e.Enabled
	m.Version++
	return t.commit(), event.Outcome{Applied: true}, nil
}

// handleRemoveMarket deletes a market with no pools, no shares, and no open
// interest. Anything still live keeps the market undeletable.
func (c *SettlementCore) handleRemoveMarket(e *event.RemoveMarket) (*vault.Batch, event.Outcome, error) {
	if err := c.requireMarketKeeper(e.Actor); err != nil {
		return nil, event.Outcome{}, err
	}
	m, err := c.markets.Get(e.Market)
	if err != nil {
		return nil, event.Outcome{}, err
	}
	if !m.IsEmpty() || c.bank.ShareSupply(e.Market) != 0 {
		return nil, event.Outcome{}, fmt.Errorf("%w: %s", market.ErrMarketNotEmpty, e.Market)
	}
	t := c.begin(e.IdempotencyKey(), e.Timestamp)
	batch := t.commit()
	if err := c.markets.Remove(e.Market); err != nil {
		return nil, event.Outcome{}, err
	}
	return batch, event.Outcome{Applied: true}, nil
}

// --- Global parameters ---

func (c *SettlementCore) handleSetParameter(e *event.SetParameter) (*vault.Batch, event.Outcome, error) {
	if !c.roles.IsAdmin(e.Actor) {
		return nil, event.Outcome{}, fmt.Errorf("%w: %s is not an admin", request.ErrPermissionDenied, e.Actor)
	}
	if e.StrValue != "" {
		// Address-valued parameter, e.g. the execution-fee holding account.
		addr, err := uuid.Parse(e.StrValue)
		if err != nil {
			return nil, event.Outcome{}, fmt.Errorf("parse %s address: %w", e.Key, err)
		}
		c.cfg.SetAddress(e.Key, addr)
	} else if err := c.cfg.SetInt(e.Key, e.IntValue); err != nil {
		return nil, event.Outcome{}, err
	}
	t := c.begin(e.IdempotencyKey(), e.Timestamp)
	return t.commit(), event.Outcome{Applied: true}, nil
}
