package query

import "github.com/google/uuid"

// BalanceResponse represents one vault account balance for API queries.
type BalanceResponse struct {
	Owner   uuid.UUID `json:"owner"`
	Token   string    `json:"token"`
	Balance int64     `json:"balance"`
	Escrow  int64     `json:"escrow"` // held by pending requests

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last applied command sequence
}

// PoolResponse represents a market's pool reserves for API queries.
type PoolResponse struct {
	MarketToken  string `json:"market_token"`
	Token        string `json:"token"`
	Balance      int64  `json:"balance"`
	FeesAccrued  int64  `json:"fees_accrued"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// TransferHistoryEntry represents a custody transfer for API queries.
type TransferHistoryEntry struct {
	TransferID   string `json:"transfer_id"`
	BatchID      string `json:"batch_id"`
	EventRef     string `json:"event_ref"`
	Sequence     int64  `json:"sequence"`
	FromAccount  string `json:"from_account"`
	ToAccount    string `json:"to_account"`
	Token        string `json:"token"`
	Amount       int64  `json:"amount"`
	TransferType int32  `json:"transfer_type"`
	Timestamp    int64  `json:"timestamp"`
}

// CommandHistoryEntry represents a settled command for API queries.
type CommandHistoryEntry struct {
	Sequence    int64   `json:"sequence"`
	CommandType string  `json:"command_type"`
	MarketToken *string `json:"market_token,omitempty"`
	Applied     bool    `json:"applied"`
	Reason      string  `json:"reason,omitempty"`
	Timestamp   int64   `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedTokens []UnbalancedToken `json:"unbalanced_tokens,omitempty"`
}

// UnbalancedToken represents a token with non-zero global balance sum.
type UnbalancedToken struct {
	Token     string `json:"token"`
	Imbalance int64  `json:"imbalance"`
}
