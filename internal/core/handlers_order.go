package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PerpPools/internal/claimable"
	"PerpPools/internal/config"
	"PerpPools/internal/event"
	fpmath "PerpPools/internal/math"
	"PerpPools/internal/oracle"
	"PerpPools/internal/position"
	"PerpPools/internal/request"
	"PerpPools/internal/swap"
	"PerpPools/internal/vault"
)

func (c *SettlementCore) handleCreateOrder(e *event.CreateOrder) (*vault.Batch, event.Outcome, error) {
	if !e.Kind.Valid() {
		return nil, event.Outcome{}, fmt.Errorf("invalid order kind: %s", e.Kind)
	}
	m, err := c.markets.Get(e.Market)
	if err != nil {
		return nil, event.Outcome{}, err
	}
	if !m.Enabled {
		return nil, event.Outcome{}, fmt.Errorf("market %s is disabled", e.Market)
	}
	if err := c.checkExecutionFee(e.ExecutionFee); err != nil {
		return nil, event.Outcome{}, err
	}
	switch e.Kind {
	case request.KindMarketSwap:
		if e.InitialAmount <= 0 || e.InitialToken == "" {
			return nil, event.Outcome{}, fmt.Errorf("swap order needs an input: token=%q amount=%d", e.InitialToken, e.InitialAmount)
		}
		if len(e.SwapPath) == 0 {
			return nil, event.Outcome{}, fmt.Errorf("%w: swap order needs a path", swap.ErrInvalidSwapPath)
		}
	case request.KindMarketIncrease:
		if e.InitialAmount <= 0 || e.InitialToken == "" {
			return nil, event.Outcome{}, fmt.Errorf("increase order needs collateral: token=%q amount=%d", e.InitialToken, e.InitialAmount)
		}
		if e.CollateralToken == "" {
			return nil, event.Outcome{}, fmt.Errorf("increase order needs a collateral token")
		}
	case request.KindMarketDecrease:
		if e.SizeDeltaUsd <= 0 {
			return nil, event.Outcome{}, fmt.Errorf("decrease order needs a positive size delta: %d", e.SizeDeltaUsd)
		}
		if e.CollateralToken == "" {
			return nil, event.Outcome{}, fmt.Errorf("decrease order needs a collateral token")
		}
	}

	t := c.begin(e.IdempotencyKey(), e.Timestamp)
	if e.Kind != request.KindMarketDecrease {
		if err := t.staged.Transfer(
			vault.NewTraderAccount(e.Owner, e.InitialToken),
			vault.NewEscrowAccount(e.Owner, e.InitialToken),
			e.InitialAmount, vault.TransferTypeEscrowIn,
		); err != nil {
			return nil, event.Outcome{}, err
		}
	}
	if err := c.escrowExecutionFee(t, e.Owner, e.ExecutionFee); err != nil {
		return nil, event.Outcome{}, err
	}
	batch := t.commit()

	c.requests.PutOrder(e.Owner, &request.Order{
		MarketToken:          e.Market,
		Kind:                 e.Kind,
		IsLong:               e.IsLong,
		InitialToken:         e.InitialToken,
		InitialAmount:        e.InitialAmount,
		SwapPath:             e.SwapPath,
		CollateralToken:      e.CollateralToken,
		SizeDeltaUsd:         e.SizeDeltaUsd,
		CollateralWithdrawal: e.CollateralWithdrawal,
		MinOutputAmount:      e.MinOutputAmount,
		AcceptablePrice:      e.AcceptablePrice,
		ExecutionFee:         e.ExecutionFee,
		CancelOnError:        e.CancelOnError,
		DeferPayout:          e.DeferPayout,
		CreatedAt:            e.Timestamp,
	})
	return batch, event.Outcome{Applied: true}, nil
}

func (c *SettlementCore) handleExecuteOrder(e *event.ExecuteOrder) (*vault.Batch, event.Outcome, error) {
	if err := c.requireOrderKeeper(e.Keeper); err != nil {
		return nil, event.Outcome{}, err
	}
	key := request.Key{Owner: e.Owner, Discriminant: request.DiscriminantOrder, Nonce: e.Nonce}
	o, err := c.requests.Order(key)
	if err != nil {
		return nil, event.Outcome{}, err
	}

	snap, err := c.acquirePrices(e.CommandID.String(), e.Prices, e.Timestamp)
	if err != nil {
		return nil, event.Outcome{}, err
	}
	defer c.prices.Clear(snap)

	batch, execErr := c.executeOrder(o, snap, e.Keeper, e.IdempotencyKey(), e.Timestamp)
	if execErr == nil {
		c.requests.Remove(key)
		return batch, event.Outcome{Applied: true}, nil
	}
	if isRetryable(execErr) || errors.Is(execErr, fpmath.ErrArithmeticOverflow) {
		return nil, event.Outcome{}, execErr
	}
	if !o.CancelOnError {
		// The order stays pending; the owner or a keeper cancels explicitly.
		return nil, event.Outcome{}, execErr
	}

	batch = c.refundOrder(o, e.Keeper, e.IdempotencyKey(), e.Timestamp)
	c.requests.Remove(key)
	return batch, event.Outcome{Applied: false, Reason: execErr.Error()}, nil
}

func (c *SettlementCore) executeOrder(o *request.Order, snap *oracle.Snapshot, keeper uuid.UUID, ref string, now int64) (*vault.Batch, error) {
	t := c.begin(ref, now)

	var err error
	switch o.Kind {
	case request.KindMarketSwap:
		err = c.executeSwapOrder(t, o, snap, now)
	case request.KindMarketIncrease:
		err = c.executeIncreaseOrder(t, o, snap, now)
	case request.KindMarketDecrease:
		err = c.executeDecreaseOrder(t, o, snap, now)
	default:
		err = fmt.Errorf("invalid order kind: %s", o.Kind)
	}
	if err != nil {
		return nil, err
	}
	if err := c.payExecutionFee(t, c.feeRecipient(keeper), o.ExecutionFee); err != nil {
		return nil, err
	}
	return t.commit(), nil
}

// routeHeld swaps funds sitting in holder along path, staging the custody
// hop by hop, and returns the output token, amount, and the account holding
// it afterwards (the last hop's pool, or holder itself when no path).
func (c *SettlementCore) routeHeld(t *txn, path []string, tokenIn string, amountIn int64, wantOut string, holder vault.AccountKey, snap *oracle.Snapshot) (string, int64, vault.AccountKey, error) {
	routeRes, err := swap.Route(t, path, tokenIn, amountIn, wantOut, snap, c.impact)
	if err != nil {
		return "", 0, vault.AccountKey{}, err
	}
	for _, hop := range routeRes.Hops {
		r := hop.Result
		poolIn := vault.NewPoolAccount(hop.MarketToken, r.TokenIn)
		if err := t.staged.Transfer(holder, poolIn, r.AmountIn, vault.TransferTypeSwapIn); err != nil {
			return "", 0, vault.AccountKey{}, err
		}
		if r.FeeAmount > 0 {
			if err := t.staged.Transfer(poolIn,
				vault.NewFeeReceiverAccount(hop.MarketToken, r.TokenIn),
				r.FeeAmount, vault.TransferTypeSwapFee,
			); err != nil {
				return "", 0, vault.AccountKey{}, err
			}
		}
		holder = vault.NewPoolAccount(hop.MarketToken, r.TokenOut)
	}
	return routeRes.TokenOut, routeRes.AmountOut, holder, nil
}

func (c *SettlementCore) executeSwapOrder(t *txn, o *request.Order, snap *oracle.Snapshot, now int64) error {
	escrow := vault.NewEscrowAccount(o.Key.Owner, o.InitialToken)
	tokenOut, amountOut, holder, err := c.routeHeld(t, o.SwapPath, o.InitialToken, o.InitialAmount, "", escrow, snap)
	if err != nil {
		return err
	}
	if amountOut < o.MinOutputAmount {
		return fmt.Errorf("swap output %d below minimum %d", amountOut, o.MinOutputAmount)
	}
	return c.payOut(t, o, holder, tokenOut, amountOut, vault.TransferTypeSwapOut, now)
}

// payOut delivers proceeds to the owner, or parks them in the claimable
// buffer when the order defers its payout.
func (c *SettlementCore) payOut(t *txn, o *request.Order, holder vault.AccountKey, token string, amount int64, transferType vault.TransferType, now int64) error {
	if amount <= 0 {
		return nil
	}
	owner := o.Key.Owner
	if !o.DeferPayout {
		return t.staged.Transfer(holder, vault.NewTraderAccount(owner, token), amount, transferType)
	}
	if err := t.staged.Transfer(holder, vault.NewClaimableAccount(token), amount, vault.TransferTypeClaimableCredit); err != nil {
		return err
	}
	bucket := claimable.BucketFor(now, c.cfg.Int(config.KeyClaimableWindowSeconds))
	return t.CreditClaimable(claimable.EntryKey{Token: token, Owner: owner, Bucket: bucket}, amount)
}

func (c *SettlementCore) executeIncreaseOrder(t *txn, o *request.Order, snap *oracle.Snapshot, now int64) error {
	owner := o.Key.Owner

	// Convert the escrowed input into the collateral token first; a path is
	// only needed when the input differs from the collateral.
	escrow := vault.NewEscrowAccount(owner, o.InitialToken)
	collateralToken, collateralAmount, holder, err := c.routeHeld(t, o.SwapPath, o.InitialToken, o.InitialAmount, o.CollateralToken, escrow, snap)
	if err != nil {
		return err
	}

	m, err := t.Get(o.MarketToken)
	if err != nil {
		return err
	}
	if collateralToken != m.LongToken && collateralToken != m.ShortToken {
		return fmt.Errorf("collateral token %s not backed by market %s", collateralToken, o.MarketToken)
	}
	if err := m.Accrue(now, snap); err != nil {
		return err
	}

	key := position.Key{Owner: owner, MarketToken: o.MarketToken, CollateralToken: collateralToken, IsLong: o.IsLong}
	pos, err := t.PositionOrNew(key, m)
	if err != nil {
		return err
	}
	res, err := position.Increase(pos, m, snap, c.impact, o.SizeDeltaUsd, collateralAmount, now)
	if err != nil {
		return err
	}
	if err := o.CheckAcceptablePrice(res.ExecutionPrice); err != nil {
		return err
	}

	// Collateral custody moves into the pool; the position records the
	// logical claim against it.
	if err := t.staged.Transfer(holder,
		vault.NewPoolAccount(m.MarketToken, collateralToken),
		collateralAmount, vault.TransferTypeCollateralIn,
	); err != nil {
		return err
	}
	if res.Fees.UncollectedAmount > 0 {
		c.emitShortfallNotice(key, res.Fees.UncollectedAmount, now)
	}
	return nil
}

func (c *SettlementCore) executeDecreaseOrder(t *txn, o *request.Order, snap *oracle.Snapshot, now int64) error {
	owner := o.Key.Owner
	key := position.Key{Owner: owner, MarketToken: o.MarketToken, CollateralToken: o.CollateralToken, IsLong: o.IsLong}
	pos, err := t.Position(key)
	if err != nil {
		return err
	}
	m, err := t.Get(o.MarketToken)
	if err != nil {
		return err
	}
	if err := m.Accrue(now, snap); err != nil {
		return err
	}

	res, err := position.Decrease(pos, m, snap, c.impact, o.SizeDeltaUsd, o.CollateralWithdrawal, now)
	if err != nil {
		return err
	}
	if err := o.CheckAcceptablePrice(res.ExecutionPrice); err != nil {
		return err
	}
	if res.PayoutAmount < o.MinOutputAmount {
		return fmt.Errorf("decrease payout %d below minimum %d", res.PayoutAmount, o.MinOutputAmount)
	}

	pool := vault.NewPoolAccount(m.MarketToken, o.CollateralToken)
	if res.PnlAmount > 0 {
		if err := c.payOut(t, o, pool, o.CollateralToken, res.PnlAmount, vault.TransferTypePnlPayout, now); err != nil {
			return err
		}
	}
	if withdrawn := res.PayoutAmount - max64(res.PnlAmount, 0); withdrawn > 0 {
		if err := c.payOut(t, o, pool, o.CollateralToken, withdrawn, vault.TransferTypeCollateralOut, now); err != nil {
			return err
		}
	}
	if res.Fees.UncollectedAmount > 0 {
		c.emitShortfallNotice(key, res.Fees.UncollectedAmount, now)
	}
	if res.Closed {
		t.DeletePosition(key)
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// refundOrder returns escrow to the owner; decreases escrow nothing but the
// execution fee.
func (c *SettlementCore) refundOrder(o *request.Order, feeRecipient uuid.UUID, ref string, now int64) *vault.Batch {
	t := c.begin(ref, now)
	owner := o.Key.Owner
	if o.Kind != request.KindMarketDecrease && o.InitialAmount > 0 {
		if err := t.staged.Transfer(
			vault.NewEscrowAccount(owner, o.InitialToken),
			vault.NewTraderAccount(owner, o.InitialToken),
			o.InitialAmount, vault.TransferTypeEscrowRefund,
		); err != nil {
			panic(fmt.Sprintf("FATAL: escrow refund failed for %s: %v", o.Key, err))
		}
	}
	if err := c.payExecutionFee(t, feeRecipient, o.ExecutionFee); err != nil {
		panic(fmt.Sprintf("FATAL: fee refund failed for %s: %v", o.Key, err))
	}
	return t.commit()
}

func (c *SettlementCore) handleCancelOrder(e *event.CancelOrder) (*vault.Batch, event.Outcome, error) {
	key := request.Key{Owner: e.Owner, Discriminant: request.DiscriminantOrder, Nonce: e.Nonce}
	o, err := c.requests.Order(key)
	if err != nil {
		return nil, event.Outcome{}, err
	}
	if err := c.authorizeCancel(e.Initiator, e.Owner, o.CreatedAt, e.Timestamp); err != nil {
		return nil, event.Outcome{}, err
	}
	batch := c.refundOrder(o, e.Owner, e.IdempotencyKey(), e.Timestamp)
	c.requests.Remove(key)
	return batch, event.Outcome{Applied: true}, nil
}

// emitShortfallNotice publishes an informational notice when accrued fees
// exceeded a position's collateral and the pool absorbed the difference.
// Projection-only; the command log already carries the settled state.
func (c *SettlementCore) emitShortfallNotice(key position.Key, amount int64, now int64) {
	marketToken := key.MarketToken
	output := CoreOutput{
		Envelope: &event.Envelope{
			Sequence:       c.sequence,
			IdempotencyKey: fmt.Sprintf("shortfall:%s:%d:%d", key, amount, c.sequence),
			CommandType:    event.CommandTypeShortfallNotice,
			MarketToken:    &marketToken,
			Timestamp:      time.Unix(now, 0).UTC(),
		},
	}
	select {
	case c.projectionChan <- output:
	default:
	}
}
