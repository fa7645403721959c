package event

import "github.com/google/uuid"

// ClaimFunds drains one claimable bucket to its owner.
type ClaimFunds struct {
	CommandID uuid.UUID
	Owner     uuid.UUID
	Token     string
	Bucket    int64
	Sequence  int64
	Timestamp int64
}

func (c *ClaimFunds) IdempotencyKey() string {
	return c.CommandID.String()
}

func (c *ClaimFunds) CommandType() CommandType {
	return CommandTypeClaimFunds
}

func (c *ClaimFunds) MarketToken() *string {
	return nil // global command
}

func (c *ClaimFunds) SourceSequence() int64 {
	return c.Sequence
}

func (c *ClaimFunds) UnixTime() int64 {
	return c.Timestamp
}
