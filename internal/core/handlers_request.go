package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"PerpPools/internal/config"
	"PerpPools/internal/event"
	fpmath "PerpPools/internal/math"
	"PerpPools/internal/oracle"
	"PerpPools/internal/registry"
	"PerpPools/internal/request"
	"PerpPools/internal/vault"
)

// isRetryable reports whether an execution error should leave the request
// pending for the keeper to retry with fresh prices.
func isRetryable(err error) bool {
	return errors.Is(err, oracle.ErrStalePrice) ||
		errors.Is(err, oracle.ErrFutureTimestamp) ||
		errors.Is(err, oracle.ErrPriceDeviation) ||
		errors.Is(err, oracle.ErrPriceNotSet) ||
		errors.Is(err, oracle.ErrSlotBusy)
}

func (c *SettlementCore) requireOrderKeeper(actor uuid.UUID) error {
	if !c.roles.HasRole(actor, registry.RoleOrderKeeper) {
		return fmt.Errorf("%w: %s lacks %s", request.ErrPermissionDenied, actor, registry.RoleOrderKeeper)
	}
	return nil
}

func (c *SettlementCore) requireMarketKeeper(actor uuid.UUID) error {
	if !c.roles.HasRole(actor, registry.RoleMarketKeeper) {
		return fmt.Errorf("%w: %s lacks %s", request.ErrPermissionDenied, actor, registry.RoleMarketKeeper)
	}
	return nil
}

// authorizeCancel lets owners cancel their own requests at any time. A
// keeper may cancel on the owner's behalf once the relief window has
// elapsed, so stuck requests do not pin escrow forever.
func (c *SettlementCore) authorizeCancel(initiator, owner uuid.UUID, createdAt, now int64) error {
	if initiator == owner {
		return nil
	}
	if err := c.requireOrderKeeper(initiator); err != nil {
		return err
	}
	relief := c.cfg.Int(config.KeyCancelReliefSeconds)
	if now-createdAt < relief {
		return fmt.Errorf("%w: %ds elapsed of %ds", request.ErrCancelTooEarly, now-createdAt, relief)
	}
	return nil
}

// acquirePrices claims an oracle slot and validates the relayed reports into
// it. The caller owns the snapshot for the rest of the settlement call and
// must Clear it.
func (c *SettlementCore) acquirePrices(slot string, reports []oracle.PriceReport, now int64) (*oracle.Snapshot, error) {
	snap, err := c.prices.Acquire(slot)
	if err != nil {
		return nil, err
	}
	if err := c.prices.SetPrices(snap, reports, now); err != nil {
		c.prices.Clear(snap)
		return nil, err
	}
	return snap, nil
}

func (c *SettlementCore) checkExecutionFee(fee int64) error {
	if min := c.cfg.Int(config.KeyMinExecutionFee); fee < min {
		return fmt.Errorf("execution fee %d below minimum %d", fee, min)
	}
	return nil
}

// --- Price relay ---

// handleRelayPrices refreshes the deviation reference prices. Reports are
// validated through a throwaway slot; accepted prices update the reference
// as a side effect of validation.
func (c *SettlementCore) handleRelayPrices(e *event.RelayPrices) (*vault.Batch, event.Outcome, error) {
	snap, err := c.acquirePrices(e.CommandID.String(), e.Reports, e.Timestamp)
	if err != nil {
		return nil, event.Outcome{}, err
	}
	c.prices.Clear(snap)

	t := c.begin(e.IdempotencyKey(), e.Timestamp)
	return t.commit(), event.Outcome{Applied: true}, nil
}

// --- Deposits ---

func (c *SettlementCore) handleCreateDeposit(e *event.CreateDeposit) (*vault.Batch, event.Outcome, error) {
	m, err := c.markets.Get(e.Market)
	if err != nil {
		return nil, event.Outcome{}, err
	}
	if !m.Enabled {
		return nil, event.Outcome{}, fmt.Errorf("market %s is disabled", e.Market)
	}
	if e.LongAmount < 0 || e.ShortAmount < 0 || (e.LongAmount == 0 && e.ShortAmount == 0) {
		return nil, event.Outcome{}, fmt.Errorf("deposit amounts invalid: long=%d short=%d", e.LongAmount, e.ShortAmount)
	}
	if m.SingleToken && e.ShortAmount != 0 {
		return nil, event.Outcome{}, fmt.Errorf("single-token market %s accepts long-side deposits only", e.Market)
	}
	if err := c.checkExecutionFee(e.ExecutionFee); err != nil {
		return nil, event.Outcome{}, err
	}

	longToken := e.InitialLongToken
	if longToken == "" {
		longToken = m.LongToken
	}
	shortToken := e.InitialShortToken
	if shortToken == "" {
		shortToken = m.ShortToken
	}

	t := c.begin(e.IdempotencyKey(), e.Timestamp)
	if e.LongAmount > 0 {
		if err := t.staged.Transfer(
			vault.NewTraderAccount(e.Owner, longToken),
			vault.NewEscrowAccount(e.Owner, longToken),
			e.LongAmount, vault.TransferTypeEscrowIn,
		); err != nil {
			return nil, event.Outcome{}, err
		}
	}
	if e.ShortAmount > 0 {
		if err := t.staged.Transfer(
			vault.NewTraderAccount(e.Owner, shortToken),
			vault.NewEscrowAccount(e.Owner, shortToken),
			e.ShortAmount, vault.TransferTypeEscrowIn,
		); err != nil {
			return nil, event.Outcome{}, err
		}
	}
	if err := c.escrowExecutionFee(t, e.Owner, e.ExecutionFee); err != nil {
		return nil, event.Outcome{}, err
	}
	batch := t.commit()

	c.requests.PutDeposit(e.Owner, &request.Deposit{
		MarketToken:       e.Market,
		LongAmount:        e.LongAmount,
		ShortAmount:       e.ShortAmount,
		InitialLongToken:  longToken,
		InitialShortToken: shortToken,
		LongSwapPath:      e.LongSwapPath,
		ShortSwapPath:     e.ShortSwapPath,
		ExecutionFee:      e.ExecutionFee,
		CancelOnError:     e.CancelOnError,
		CreatedAt:         e.Timestamp,
	})
	return batch, event.Outcome{Applied: true}, nil
}

// escrowExecutionFee parks the fee in the shared execution-fee holding
// account until the request reaches a terminal transition.
func (c *SettlementCore) escrowExecutionFee(t *txn, owner uuid.UUID, fee int64) error {
	if fee <= 0 {
		return nil
	}
	return t.staged.Transfer(
		vault.NewTraderAccount(owner, executionFeeToken),
		vault.NewFeeHolderAccount(executionFeeToken),
		fee, vault.TransferTypeExecutionFee,
	)
}

func (c *SettlementCore) payExecutionFee(t *txn, recipient uuid.UUID, fee int64) error {
	if fee <= 0 {
		return nil
	}
	return t.staged.Transfer(
		vault.NewFeeHolderAccount(executionFeeToken),
		vault.NewTraderAccount(recipient, executionFeeToken),
		fee, vault.TransferTypeExecutionFee,
	)
}

// feeRecipient resolves where the fee goes on execute: the configured
// holding address when one is set, otherwise the keeper that did the work.
func (c *SettlementCore) feeRecipient(keeper uuid.UUID) uuid.UUID {
	if addr, ok := c.cfg.Address(config.KeyFeeHolderAddress); ok {
		return addr
	}
	return keeper
}

func (c *SettlementCore) handleExecuteDeposit(e *event.ExecuteDeposit) (*vault.Batch, event.Outcome, error) {
	if err := c.requireOrderKeeper(e.Keeper); err != nil {
		return nil, event.Outcome{}, err
	}
	key := request.Key{Owner: e.Owner, Discriminant: request.DiscriminantDeposit, Nonce: e.Nonce}
	dep, err := c.requests.Deposit(key)
	if err != nil {
		return nil, event.Outcome{}, err
	}

	snap, err := c.acquirePrices(e.CommandID.String(), e.Prices, e.Timestamp)
	if err != nil {
		return nil, event.Outcome{}, err
	}
	defer c.prices.Clear(snap)

	batch, execErr := c.executeDeposit(dep, snap, e.Keeper, e.IdempotencyKey(), e.Timestamp)
	if execErr == nil {
		c.requests.Remove(key)
		return batch, event.Outcome{Applied: true}, nil
	}
	if isRetryable(execErr) || errors.Is(execErr, fpmath.ErrArithmeticOverflow) {
		return nil, event.Outcome{}, execErr
	}
	if !dep.CancelOnError {
		// The deposit stays pending; the owner or a keeper cancels explicitly.
		return nil, event.Outcome{}, execErr
	}

	// Settlement failure: degrade into cancel-refund so escrow never sticks.
	batch = c.refundDeposit(dep, e.Keeper, e.IdempotencyKey(), e.Timestamp)
	c.requests.Remove(key)
	return batch, event.Outcome{Applied: false, Reason: execErr.Error()}, nil
}

func (c *SettlementCore) executeDeposit(dep *request.Deposit, snap *oracle.Snapshot, keeper uuid.UUID, ref string, now int64) (*vault.Batch, error) {
	t := c.begin(ref, now)
	m, err := t.Get(dep.MarketToken)
	if err != nil {
		return nil, err
	}
	if err := m.Accrue(now, snap); err != nil {
		return nil, err
	}
	owner := dep.Key.Owner

	// Convert each escrowed side into the market's own backing token first;
	// the paths are only needed when the deposited tokens differ from them.
	var longAmount, shortAmount int64
	var longHolder, shortHolder vault.AccountKey
	if dep.LongAmount > 0 {
		escrow := vault.NewEscrowAccount(owner, dep.InitialLongToken)
		_, amountOut, holder, err := c.routeHeld(t, dep.LongSwapPath, dep.InitialLongToken, dep.LongAmount, m.LongToken, escrow, snap)
		if err != nil {
			return nil, err
		}
		longAmount, longHolder = amountOut, holder
	}
	if dep.ShortAmount > 0 {
		escrow := vault.NewEscrowAccount(owner, dep.InitialShortToken)
		_, amountOut, holder, err := c.routeHeld(t, dep.ShortSwapPath, dep.InitialShortToken, dep.ShortAmount, m.ShortToken, escrow, snap)
		if err != nil {
			return nil, err
		}
		shortAmount, shortHolder = amountOut, holder
	}

	mint, err := m.ApplyDeposit(longAmount, shortAmount, snap, t.staged.ShareSupply(dep.MarketToken))
	if err != nil {
		return nil, err
	}
	if longAmount > 0 {
		if err := t.staged.Transfer(
			longHolder,
			vault.NewPoolAccount(m.MarketToken, m.LongToken),
			longAmount, vault.TransferTypePoolDeposit,
		); err != nil {
			return nil, err
		}
	}
	if shortAmount > 0 {
		if err := t.staged.Transfer(
			shortHolder,
			vault.NewPoolAccount(m.MarketToken, m.ShortToken),
			shortAmount, vault.TransferTypePoolDeposit,
		); err != nil {
			return nil, err
		}
	}
	if err := t.staged.MintShares(m.MarketToken, owner, mint); err != nil {
		return nil, err
	}
	if err := c.payExecutionFee(t, c.feeRecipient(keeper), dep.ExecutionFee); err != nil {
		return nil, err
	}
	return t.commit(), nil
}

// refundDeposit returns escrow to the owner. A plain cancel refunds the fee
// to the owner too; the auto-cancel execute path passes the keeper instead,
// as compensation for the settlement attempt.
func (c *SettlementCore) refundDeposit(dep *request.Deposit, feeRecipient uuid.UUID, ref string, now int64) *vault.Batch {
	t := c.begin(ref, now)
	owner := dep.Key.Owner
	if dep.LongAmount > 0 {
		if err := t.staged.Transfer(
			vault.NewEscrowAccount(owner, dep.InitialLongToken),
			vault.NewTraderAccount(owner, dep.InitialLongToken),
			dep.LongAmount, vault.TransferTypeEscrowRefund,
		); err != nil {
			panic(fmt.Sprintf("FATAL: escrow refund failed for %s: %v", dep.Key, err))
		}
	}
	if dep.ShortAmount > 0 {
		if err := t.staged.Transfer(
			vault.NewEscrowAccount(owner, dep.InitialShortToken),
			vault.NewTraderAccount(owner, dep.InitialShortToken),
			dep.ShortAmount, vault.TransferTypeEscrowRefund,
		); err != nil {
			panic(fmt.Sprintf("FATAL: escrow refund failed for %s: %v", dep.Key, err))
		}
	}
	if err := c.payExecutionFee(t, feeRecipient, dep.ExecutionFee); err != nil {
		panic(fmt.Sprintf("FATAL: fee refund failed for %s: %v", dep.Key, err))
	}
	return t.commit()
}

func (c *SettlementCore) handleCancelDeposit(e *event.CancelDeposit) (*vault.Batch, event.Outcome, error) {
	key := request.Key{Owner: e.Owner, Discriminant: request.DiscriminantDeposit, Nonce: e.Nonce}
	dep, err := c.requests.Deposit(key)
	if err != nil {
		return nil, event.Outcome{}, err
	}
	if err := c.authorizeCancel(e.Initiator, e.Owner, dep.CreatedAt, e.Timestamp); err != nil {
		return nil, event.Outcome{}, err
	}
	batch := c.refundDeposit(dep, e.Owner, e.IdempotencyKey(), e.Timestamp)
	c.requests.Remove(key)
	return batch, event.Outcome{Applied: true}, nil
}

// --- Withdrawals ---

func (c *SettlementCore) handleCreateWithdrawal(e *event.CreateWithdrawal) (*vault.Batch, event.Outcome, error) {
	if _, err := c.markets.Get(e.Market); err != nil {
		return nil, event.Outcome{}, err
	}
	if e.ShareAmount <= 0 {
		return nil, event.Outcome{}, fmt.Errorf("share amount must be positive: %d", e.ShareAmount)
	}
	if err := c.checkExecutionFee(e.ExecutionFee); err != nil {
		return nil, event.Outcome{}, err
	}

	t := c.begin(e.IdempotencyKey(), e.Timestamp)
	if err := t.staged.Transfer(
		vault.NewTraderAccount(e.Owner, e.Market),
		vault.NewEscrowAccount(e.Owner, e.Market),
		e.ShareAmount, vault.TransferTypeEscrowIn,
	); err != nil {
		return nil, event.Outcome{}, err
	}
	if err := c.escrowExecutionFee(t, e.Owner, e.ExecutionFee); err != nil {
		return nil, event.Outcome{}, err
	}
	batch := t.commit()

	c.requests.PutWithdrawal(e.Owner, &request.Withdrawal{
		MarketToken:   e.Market,
		ShareAmount:   e.ShareAmount,
		LongSwapPath:  e.LongSwapPath,
		ShortSwapPath: e.ShortSwapPath,
		ExecutionFee:  e.ExecutionFee,
		CancelOnError: e.CancelOnError,
		CreatedAt:     e.Timestamp,
	})
	return batch, event.Outcome{Applied: true}, nil
}

func (c *SettlementCore) handleExecuteWithdrawal(e *event.ExecuteWithdrawal) (*vault.Batch, event.Outcome, error) {
	if err := c.requireOrderKeeper(e.Keeper); err != nil {
		return nil, event.Outcome{}, err
	}
	key := request.Key{Owner: e.Owner, Discriminant: request.DiscriminantWithdrawal, Nonce: e.Nonce}
	wd, err := c.requests.Withdrawal(key)
	if err != nil {
		return nil, event.Outcome{}, err
	}

	snap, err := c.acquirePrices(e.CommandID.String(), e.Prices, e.Timestamp)
	if err != nil {
		return nil, event.Outcome{}, err
	}
	defer c.prices.Clear(snap)

	batch, execErr := c.executeWithdrawal(wd, snap, e.Keeper, e.IdempotencyKey(), e.Timestamp)
	if execErr == nil {
		c.requests.Remove(key)
		return batch, event.Outcome{Applied: true}, nil
	}
	if isRetryable(execErr) || errors.Is(execErr, fpmath.ErrArithmeticOverflow) {
		return nil, event.Outcome{}, execErr
	}
	if !wd.CancelOnError {
		return nil, event.Outcome{}, execErr
	}

	batch = c.refundWithdrawal(wd, e.Keeper, e.IdempotencyKey(), e.Timestamp)
	c.requests.Remove(key)
	return batch, event.Outcome{Applied: false, Reason: execErr.Error()}, nil
}

func (c *SettlementCore) executeWithdrawal(wd *request.Withdrawal, snap *oracle.Snapshot, keeper uuid.UUID, ref string, now int64) (*vault.Batch, error) {
	t := c.begin(ref, now)
	m, err := t.Get(wd.MarketToken)
	if err != nil {
		return nil, err
	}
	if err := m.Accrue(now, snap); err != nil {
		return nil, err
	}
	supply := t.staged.ShareSupply(wd.MarketToken)
	longOut, shortOut, err := m.ApplyWithdrawal(wd.ShareAmount, supply)
	if err != nil {
		return nil, err
	}

	owner := wd.Key.Owner
	if err := t.staged.BurnShares(wd.MarketToken, vault.NewEscrowAccount(owner, wd.MarketToken), wd.ShareAmount); err != nil {
		return nil, err
	}
	// Each payout side optionally routes through further markets before it
	// reaches the owner; the pool holds the funds while they travel.
	if longOut > 0 {
		pool := vault.NewPoolAccount(m.MarketToken, m.LongToken)
		tokenOut, amountOut, holder, err := c.routeHeld(t, wd.LongSwapPath, m.LongToken, longOut, "", pool, snap)
		if err != nil {
			return nil, err
		}
		if err := t.staged.Transfer(
			holder,
			vault.NewTraderAccount(owner, tokenOut),
			amountOut, vault.TransferTypePoolWithdrawal,
		); err != nil {
			return nil, err
		}
	}
	if shortOut > 0 {
		pool := vault.NewPoolAccount(m.MarketToken, m.ShortToken)
		tokenOut, amountOut, holder, err := c.routeHeld(t, wd.ShortSwapPath, m.ShortToken, shortOut, "", pool, snap)
		if err != nil {
			return nil, err
		}
		if err := t.staged.Transfer(
			holder,
			vault.NewTraderAccount(owner, tokenOut),
			amountOut, vault.TransferTypePoolWithdrawal,
		); err != nil {
			return nil, err
		}
	}
	if err := c.payExecutionFee(t, c.feeRecipient(keeper), wd.ExecutionFee); err != nil {
		return nil, err
	}
	return t.commit(), nil
}

func (c *SettlementCore) refundWithdrawal(wd *request.Withdrawal, feeRecipient uuid.UUID, ref string, now int64) *vault.Batch {
	t := c.begin(ref, now)
	owner := wd.Key.Owner
	if err := t.staged.Transfer(
		vault.NewEscrowAccount(owner, wd.MarketToken),
		vault.NewTraderAccount(owner, wd.MarketToken),
		wd.ShareAmount, vault.TransferTypeEscrowRefund,
	); err != nil {
		panic(fmt.Sprintf("FATAL: escrow refund failed for %s: %v", wd.Key, err))
	}
	if err := c.payExecutionFee(t, feeRecipient, wd.ExecutionFee); err != nil {
		panic(fmt.Sprintf("FATAL: fee refund failed for %s: %v", wd.Key, err))
	}
	return t.commit()
}

func (c *SettlementCore) handleCancelWithdrawal(e *event.CancelWithdrawal) (*vault.Batch, event.Outcome, error) {
	key := request.Key{Owner: e.Owner, Discriminant: request.DiscriminantWithdrawal, Nonce: e.Nonce}
	wd, err := c.requests.Withdrawal(key)
	if err != nil {
		return nil, event.Outcome{}, err
	}
	if err := c.authorizeCancel(e.Initiator, e.Owner, wd.CreatedAt, e.Timestamp); err != nil {
		return nil, event.Outcome{}, err
	}
	batch := c.refundWithdrawal(wd, e.Owner, e.IdempotencyKey(), e.Timestamp)
	c.requests.Remove(key)
	return batch, event.Outcome{Applied: true}, nil
}
