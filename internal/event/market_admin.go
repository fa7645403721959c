package event

import (
	"github.com/google/uuid"

	"PerpPools/internal/market"
)

type CreateMarket struct {
	CommandID  uuid.UUID
	Actor      uuid.UUID
	Market     string
	IndexToken string
	LongToken  string
	ShortToken string
	Config     market.Config
	Sequence   int64
	Timestamp  int64
}

func (m *CreateMarket) IdempotencyKey() string {
	return m.CommandID.String()
}

func (m *CreateMarket) CommandType() CommandType {
	return CommandTypeCreateMarket
}

func (m *CreateMarket) MarketToken() *string {
	return &m.Market
}

func (m *CreateMarket) SourceSequence() int64 {
	return m.Sequence
}

func (m *CreateMarket) UnixTime() int64 {
	return m.Timestamp
}

// UpdateMarketConfig replaces a market's factors and enabled flag.
type UpdateMarketConfig struct {
	CommandID uuid.UUID
	Actor     uuid.UUID
	Market    string
	Config    market.Config
	Enabled   bool
	Sequence  int64
	Timestamp int64
}

func (m *UpdateMarketConfig) IdempotencyKey() string {
	return m.CommandID.String()
}

func (m *UpdateMarketConfig) CommandType() CommandType {
	return CommandTypeUpdateMarketConfig
}

func (m *UpdateMarketConfig) MarketToken() *string {
	return &m.Market
}

func (m *UpdateMarketConfig) SourceSequence() int64 {
	return m.Sequence
}

func (m *UpdateMarketConfig) UnixTime() int64 {
	return m.Timestamp
}

// RemoveMarket deletes an empty market.
type RemoveMarket struct {
	CommandID uuid.UUID
	Actor     uuid.UUID
	Market    string
	Sequence  int64
	Timestamp int64
}

func (m *RemoveMarket) IdempotencyKey() string {
	return m.CommandID.String()
}

func (m *RemoveMarket) CommandType() CommandType {
	return CommandTypeRemoveMarket
}

func (m *RemoveMarket) MarketToken() *string {
	return &m.Market
}

func (m *RemoveMarket) SourceSequence() int64 {
	return m.Sequence
}

func (m *RemoveMarket) UnixTime() int64 {
	return m.Timestamp
}

// SetParameter updates one engine-wide tunable.
type SetParameter struct {
	CommandID uuid.UUID
	Actor     uuid.UUID
	Key       string
	IntValue  int64
	StrValue  string
	Sequence  int64
	Timestamp int64
}

func (p *SetParameter) IdempotencyKey() string {
	return p.CommandID.String()
}

func (p *SetParameter) CommandType() CommandType {
	return CommandTypeSetParameter
}

func (p *SetParameter) MarketToken() *string {
	return nil
}

func (p *SetParameter) SourceSequence() int64 {
	return p.Sequence
}

func (p *SetParameter) UnixTime() int64 {
	return p.Timestamp
}
