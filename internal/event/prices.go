package event

import (
	"github.com/google/uuid"

	"PerpPools/internal/oracle"
)

// RelayPrices refreshes the reference prices used for deviation checks.
// Relayed on its own stream; gaps in PriceSequence are tolerated because a
// newer report supersedes anything missed.
type RelayPrices struct {
	CommandID     uuid.UUID
	Provider      string
	Reports       []oracle.PriceReport
	PriceSequence int64
	Timestamp     int64
}

func (p *RelayPrices) IdempotencyKey() string {
	return p.CommandID.String()
}

func (p *RelayPrices) CommandType() CommandType {
	return CommandTypeRelayPrices
}

func (p *RelayPrices) MarketToken() *string {
	return nil
}

func (p *RelayPrices) SourceSequence() int64 {
	return p.PriceSequence
}

func (p *RelayPrices) UnixTime() int64 {
	return p.Timestamp
}
