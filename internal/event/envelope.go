package event

import (
	"time"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeRelayPrices
	CommandTypeCreateDeposit
	CommandTypeExecuteDeposit
	CommandTypeCancelDeposit
	CommandTypeCreateWithdrawal
	CommandTypeExecuteWithdrawal
	CommandTypeCancelWithdrawal
	CommandTypeCreateOrder
	CommandTypeExecuteOrder
	CommandTypeCancelOrder
	CommandTypeClaimFunds
	CommandTypeCreateMarket
	CommandTypeUpdateMarketConfig
	CommandTypeRemoveMarket
	CommandTypeSetParameter
	CommandTypeShortfallNotice
	CommandTypeFundAccount
	CommandTypeWithdrawFunds
)

// Envelope wraps every applied command in the settlement log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command type discriminator
	CommandType CommandType

	// Market context (nullable for global commands)
	MarketToken *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// Outcome of the attempt: applied, or cancelled-on-error with reason
	Outcome Outcome

	// JSON-encoded command-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Outcome records how a command settled.
type Outcome struct {
	Applied bool
	Reason  string // non-empty when a failure degraded into cancel-refund
}

// Command is the interface all inbound payloads must implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// MarketToken returns the market context (nil for global commands)
	MarketToken() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// UnixTime returns the versioned command timestamp in unix seconds
	UnixTime() int64
}

func (ct CommandType) String() string {
	switch ct {
	case CommandTypeRelayPrices:
		return "RelayPrices"
	case CommandTypeCreateDeposit:
		return "CreateDeposit"
	case CommandTypeExecuteDeposit:
		return "ExecuteDeposit"
	case CommandTypeCancelDeposit:
		return "CancelDeposit"
	case CommandTypeCreateWithdrawal:
		return "CreateWithdrawal"
	case CommandTypeExecuteWithdrawal:
		return "ExecuteWithdrawal"
	case CommandTypeCancelWithdrawal:
		return "CancelWithdrawal"
	case CommandTypeCreateOrder:
		return "CreateOrder"
	case CommandTypeExecuteOrder:
		return "ExecuteOrder"
	case CommandTypeCancelOrder:
		return "CancelOrder"
	case CommandTypeClaimFunds:
		return "ClaimFunds"
	case CommandTypeCreateMarket:
		return "CreateMarket"
	case CommandTypeUpdateMarketConfig:
		return "UpdateMarketConfig"
	case CommandTypeRemoveMarket:
		return "RemoveMarket"
	case CommandTypeSetParameter:
		return "SetParameter"
	case CommandTypeShortfallNotice:
		return "ShortfallNotice"
	case CommandTypeFundAccount:
		return "FundAccount"
	case CommandTypeWithdrawFunds:
		return "WithdrawFunds"
	default:
		return "Unknown"
	}
}
