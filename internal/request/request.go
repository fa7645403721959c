// Package request models the two-phase settlement requests: a user creates
// a deposit, withdrawal, or order with funds escrowed, and a keeper later
// executes or cancels it. Requests exist only while pending; the first
// terminal transition deletes the record, which is what makes every request
// single-use.
package request

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrRecordNotFound     = errors.New("request not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrPriceBoundViolated = errors.New("acceptable price violated")
	ErrCancelTooEarly     = errors.New("cancellation relief window not elapsed")
)

// Discriminant separates the three request namespaces.
type Discriminant string

const (
	DiscriminantDeposit    Discriminant = "deposit"
	DiscriminantWithdrawal Discriminant = "withdrawal"
	DiscriminantOrder      Discriminant = "order"
)

// Key is a deterministic request address: owner plus a store-assigned
// monotonic nonce within the discriminant. No randomness, so replays of the
// same command stream produce the same keys.
type Key struct {
	Owner        uuid.UUID
	Discriminant Discriminant
	Nonce        uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d", k.Discriminant, k.Owner, k.Nonce)
}

// Deposit is a pending pool-liquidity deposit. The initial token amounts sit
// in escrow until execution mints shares or cancellation refunds. An empty
// initial token means the market's own backing token for that side; otherwise
// the swap path converts the escrowed input at execution time.
type Deposit struct {
	Key         Key
	MarketToken string

	LongAmount        int64
	ShortAmount       int64
	InitialLongToken  string
	InitialShortToken string
	LongSwapPath      []string
	ShortSwapPath     []string

	ExecutionFee  int64
	CancelOnError bool
	CreatedAt     int64
}

// Withdrawal is a pending share redemption. The shares to burn are escrowed
// at creation. The swap paths optionally convert each payout side before it
// reaches the owner.
type Withdrawal struct {
	Key         Key
	MarketToken string
	ShareAmount int64

	LongSwapPath  []string
	ShortSwapPath []string

	ExecutionFee  int64
	CancelOnError bool
	CreatedAt     int64
}

// OrderKind selects the order's settlement path.
type OrderKind string

const (
	KindMarketSwap     OrderKind = "MARKET_SWAP"
	KindMarketIncrease OrderKind = "MARKET_INCREASE"
	KindMarketDecrease OrderKind = "MARKET_DECREASE"
)

func (k OrderKind) Valid() bool {
	switch k {
	case KindMarketSwap, KindMarketIncrease, KindMarketDecrease:
		return true
	}
	return false
}

// Order is a pending swap or position change.
//
// For swaps and increases, InitialToken/InitialAmount is the escrowed input
// and SwapPath optionally converts it (into the output token for swaps, into
// CollateralToken for increases). Decreases escrow nothing.
// AcceptablePrice of zero means unbounded. CancelOnError degrades settlement
// failures into an automatic cancel-and-refund instead of leaving the order
// pending. DeferPayout routes proceeds through the claimable buffer.
type Order struct {
	Key         Key
	MarketToken string
	Kind        OrderKind
	IsLong      bool

	InitialToken  string
	InitialAmount int64
	SwapPath      []string

	CollateralToken      string
	SizeDeltaUsd         int64
	CollateralWithdrawal int64
	MinOutputAmount      int64
	AcceptablePrice      int64

	ExecutionFee  int64
	CancelOnError bool
	DeferPayout   bool
	CreatedAt     int64
}

// CheckAcceptablePrice validates an execution price against the order's
// bound. Increases cap the price paid in the exposure direction; decreases
// floor the price received.
func (o *Order) CheckAcceptablePrice(executionPrice int64) error {
	if o.AcceptablePrice == 0 || o.Kind == KindMarketSwap {
		return nil
	}
	violated := false
	switch o.Kind {
	case KindMarketIncrease:
		if o.IsLong {
			violated = executionPrice > o.AcceptablePrice
		} else {
			violated = executionPrice < o.AcceptablePrice
		}
	case KindMarketDecrease:
		if o.IsLong {
			violated = executionPrice < o.AcceptablePrice
		} else {
			violated = executionPrice > o.AcceptablePrice
		}
	}
	if violated {
		return fmt.Errorf("%w: execution %d vs bound %d on %s",
			ErrPriceBoundViolated, executionPrice, o.AcceptablePrice, o.Key)
	}
	return nil
}
