package event

import (
	"github.com/google/uuid"
)

// FundAccount credits a trader's account from the external custody boundary.
// Relayed by a keeper once the inbound transfer is confirmed upstream.
type FundAccount struct {
	CommandID uuid.UUID
	Keeper    uuid.UUID
	Owner     uuid.UUID
	Token     string
	Amount    int64
	Sequence  int64
	Timestamp int64
}

func (f *FundAccount) IdempotencyKey() string {
	return f.CommandID.String()
}

func (f *FundAccount) CommandType() CommandType {
	return CommandTypeFundAccount
}

func (f *FundAccount) MarketToken() *string {
	return nil // global command
}

func (f *FundAccount) SourceSequence() int64 {
	return f.Sequence
}

func (f *FundAccount) UnixTime() int64 {
	return f.Timestamp
}

// WithdrawFunds moves free trader balance back across the external custody
// boundary. Owner-initiated; escrowed amounts are unreachable by design.
type WithdrawFunds struct {
	CommandID uuid.UUID
	Owner     uuid.UUID
	Token     string
	Amount    int64
	Sequence  int64
	Timestamp int64
}

func (w *WithdrawFunds) IdempotencyKey() string {
	return w.CommandID.String()
}

func (w *WithdrawFunds) CommandType() CommandType {
	return CommandTypeWithdrawFunds
}

func (w *WithdrawFunds) MarketToken() *string {
	return nil // global command
}

func (w *WithdrawFunds) SourceSequence() int64 {
	return w.Sequence
}

func (w *WithdrawFunds) UnixTime() int64 {
	return w.Timestamp
}
