package event

import (
	"github.com/google/uuid"

	"PerpPools/internal/oracle"
)

// CreateDeposit escrows pool-liquidity inputs. The initial tokens default to
// the market's own backing tokens; the swap paths convert other inputs into
// them at execution time.
type CreateDeposit struct {
	CommandID         uuid.UUID
	Owner             uuid.UUID
	Market            string
	LongAmount        int64 // fixed-point
	ShortAmount       int64
	InitialLongToken  string
	InitialShortToken string
	LongSwapPath      []string
	ShortSwapPath     []string
	ExecutionFee      int64
	CancelOnError     bool
	Sequence          int64
	Timestamp         int64
}

func (d *CreateDeposit) IdempotencyKey() string {
	return d.CommandID.String()
}

func (d *CreateDeposit) CommandType() CommandType {
	return CommandTypeCreateDeposit
}

func (d *CreateDeposit) MarketToken() *string {
	return &d.Market
}

func (d *CreateDeposit) SourceSequence() int64 {
	return d.Sequence
}

func (d *CreateDeposit) UnixTime() int64 {
	return d.Timestamp
}

type ExecuteDeposit struct {
	CommandID uuid.UUID
	Keeper    uuid.UUID
	Owner     uuid.UUID
	Nonce     uint64
	Market    string
	Prices    []oracle.PriceReport
	Sequence  int64
	Timestamp int64
}

func (d *ExecuteDeposit) IdempotencyKey() string {
	return d.CommandID.String()
}

func (d *ExecuteDeposit) CommandType() CommandType {
	return CommandTypeExecuteDeposit
}

func (d *ExecuteDeposit) MarketToken() *string {
	return &d.Market
}

func (d *ExecuteDeposit) SourceSequence() int64 {
	return d.Sequence
}

func (d *ExecuteDeposit) UnixTime() int64 {
	return d.Timestamp
}

// CancelDeposit refunds escrow. Initiator is either the owner, or a keeper
// once the relief window has elapsed.
type CancelDeposit struct {
	CommandID uuid.UUID
	Initiator uuid.UUID
	Owner     uuid.UUID
	Nonce     uint64
	Market    string
	Sequence  int64
	Timestamp int64
}

func (d *CancelDeposit) IdempotencyKey() string {
	return d.CommandID.String()
}

func (d *CancelDeposit) CommandType() CommandType {
	return CommandTypeCancelDeposit
}

func (d *CancelDeposit) MarketToken() *string {
	return &d.Market
}

func (d *CancelDeposit) SourceSequence() int64 {
	return d.Sequence
}

func (d *CancelDeposit) UnixTime() int64 {
	return d.Timestamp
}
