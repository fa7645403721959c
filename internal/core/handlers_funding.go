package core

import (
	"fmt"

	"PerpPools/internal/event"
	"PerpPools/internal/vault"
)

// handleFundAccount credits a trader from the external boundary once a
// keeper confirms the inbound custody transfer. The external account goes
// negative by the same amount, keeping every token zero-sum.
func (c *SettlementCore) handleFundAccount(e *event.FundAccount) (*vault.Batch, event.Outcome, error) {
	if err := c.requireOrderKeeper(e.Keeper); err != nil {
		return nil, event.Outcome{}, err
	}
	if !c.tokens.IsEnabled(e.Token) {
		return nil, event.Outcome{}, fmt.Errorf("token %s is not enabled", e.Token)
	}
	if e.Amount <= 0 {
		return nil, event.Outcome{}, fmt.Errorf("funding amount must be positive: %d", e.Amount)
	}

	t := c.begin(e.IdempotencyKey(), e.Timestamp)
	if err := t.staged.Transfer(
		vault.NewExternalAccount(e.Token),
		vault.NewTraderAccount(e.Owner, e.Token),
		e.Amount, vault.TransferTypeBoundaryDeposit,
	); err != nil {
		return nil, event.Outcome{}, err
	}
	return t.commit(), event.Outcome{Applied: true}, nil
}

// handleWithdrawFunds returns free trader balance across the boundary.
// Escrowed amounts are held in separate accounts and stay untouched.
func (c *SettlementCore) handleWithdrawFunds(e *event.WithdrawFunds) (*vault.Batch, event.Outcome, error) {
	if e.Amount <= 0 {
		return nil, event.Outcome{}, fmt.Errorf("withdrawal amount must be positive: %d", e.Amount)
	}

	t := c.begin(e.IdempotencyKey(), e.Timestamp)
	if err := t.staged.Transfer(
		vault.NewTraderAccount(e.Owner, e.Token),
		vault.NewExternalAccount(e.Token),
		e.Amount, vault.TransferTypeBoundaryWithdrawal,
	); err != nil {
		return nil, event.Outcome{}, err
	}
	return t.commit(), event.Outcome{Applied: true}, nil
}
