package event

import (
	"github.com/google/uuid"

	"PerpPools/internal/oracle"
	"PerpPools/internal/request"
)

type CreateOrder struct {
	CommandID uuid.UUID
	Owner     uuid.UUID
	Market    string
	Kind      request.OrderKind
	IsLong    bool

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
	Sequence      int64
	Timestamp     int64
}

func (o *CreateOrder) IdempotencyKey() string {
	return o.CommandID.String()
}

func (o *CreateOrder) CommandType() CommandType {
	return CommandTypeCreateOrder
}

func (o *CreateOrder) MarketToken() *string {
	return &o.Market
}

func (o *CreateOrder) SourceSequence() int64 {
	return o.Sequence
}

func (o *CreateOrder) UnixTime() int64 {
	return o.Timestamp
}

type ExecuteOrder struct {
	CommandID uuid.UUID
	Keeper    uuid.UUID
	Owner     uuid.UUID
	Nonce     uint64
	Market    string
	Prices    []oracle.PriceReport
	Sequence  int64
	Timestamp int64
}

func (o *ExecuteOrder) IdempotencyKey() string {
	return o.CommandID.String()
}

func (o *ExecuteOrder) CommandType() CommandType {
	return CommandTypeExecuteOrder
}

func (o *ExecuteOrder) MarketToken() *string {
	return &o.Market
}

func (o *ExecuteOrder) SourceSequence() int64 {
	return o.Sequence
}

func (o *ExecuteOrder) UnixTime() int64 {
	return o.Timestamp
}

type CancelOrder struct {
	CommandID uuid.UUID
	Initiator uuid.UUID
	Owner     uuid.UUID
	Nonce     uint64
	Market    string
	Sequence  int64
	Timestamp int64
}

func (o *CancelOrder) IdempotencyKey() string {
	return o.CommandID.String()
}

func (o *CancelOrder) CommandType() CommandType {
	return CommandTypeCancelOrder
}

func (o *CancelOrder) MarketToken() *string {
	return &o.Market
}

func (o *CancelOrder) SourceSequence() int64 {
	return o.Sequence
}

func (o *CancelOrder) UnixTime() int64 {
	return o.Timestamp
}
