package event

import (
	"github.com/google/uuid"

	"PerpPools/internal/oracle"
)

// CreateWithdrawal burns pool shares back into backing tokens. The swap paths
// convert each payout side into another listed token before it reaches the
// owner.
type CreateWithdrawal struct {
	CommandID     uuid.UUID
	Owner         uuid.UUID
	Market        string
	ShareAmount   int64
	LongSwapPath  []string
	ShortSwapPath []string
	ExecutionFee  int64
	CancelOnError bool
	Sequence      int64
	Timestamp     int64
}

func (w *CreateWithdrawal) IdempotencyKey() string {
	return w.CommandID.String()
}

func (w *CreateWithdrawal) CommandType() CommandType {
	return CommandTypeCreateWithdrawal
}

func (w *CreateWithdrawal) MarketToken() *string {
	return &w.Market
}

func (w *CreateWithdrawal) SourceSequence() int64 {
	return w.Sequence
}

func (w *CreateWithdrawal) UnixTime() int64 {
	return w.Timestamp
}

type ExecuteWithdrawal struct {
	CommandID uuid.UUID
	Keeper    uuid.UUID
	Owner     uuid.UUID
	Nonce     uint64
	Market    string
	Prices    []oracle.PriceReport
	Sequence  int64
	Timestamp int64
}

func (w *ExecuteWithdrawal) IdempotencyKey() string {
	return w.CommandID.String()
}

func (w *ExecuteWithdrawal) CommandType() CommandType {
	return CommandTypeExecuteWithdrawal
}

func (w *ExecuteWithdrawal) MarketToken() *string {
	return &w.Market
}

func (w *ExecuteWithdrawal) SourceSequence() int64 {
	return w.Sequence
}

func (w *ExecuteWithdrawal) UnixTime() int64 {
	return w.Timestamp
}

type CancelWithdrawal struct {
	CommandID uuid.UUID
	Initiator uuid.UUID
	Owner     uuid.UUID
	Nonce     uint64
	Market    string
	Sequence  int64
	Timestamp int64
}

func (w *CancelWithdrawal) IdempotencyKey() string {
	return w.CommandID.String()
}

func (w *CancelWithdrawal) CommandType() CommandType {
	return CommandTypeCancelWithdrawal
}

func (w *CancelWithdrawal) MarketToken() *string {
	return &w.Market
}

func (w *CancelWithdrawal) SourceSequence() int64 {
	return w.Sequence
}

func (w *CancelWithdrawal) UnixTime() int64 {
	return w.Timestamp
}
