package vault

import (
	"fmt"

	"github.com/google/uuid"
)

// TransferType classifies a custody movement for the journal.
type TransferType int32

const (
	TransferTypeEscrowIn TransferType = iota
	TransferTypeEscrowRefund
	TransferTypePoolDeposit
	TransferTypePoolWithdrawal
	TransferTypeSwapIn
	TransferTypeSwapOut
	TransferTypeSwapFee
	TransferTypeCollateralIn
	TransferTypeCollateralOut
	TransferTypePositionFee
	TransferTypePnlPayout
	TransferTypeClaimableCredit
	TransferTypeClaimablePayout
	TransferTypeExecutionFee
	TransferTypeShareMint
	TransferTypeShareBurn
	TransferTypeBoundaryDeposit
	TransferTypeBoundaryWithdrawal
)

// Transfer is a single custody movement: Amount leaves From and enters To.
// Balanced by construction, so Σ debits == Σ credits holds per entry.
type Transfer struct {
	TransferID uuid.UUID
	BatchID    uuid.UUID
	EventRef   string // idempotency key of the source command
	Sequence   int64
	From       AccountKey
	To         AccountKey
	Token      string
	Amount     int64 // ALWAYS positive
	Type       TransferType
	Timestamp  int64 // epoch seconds
}

// Batch groups the custody movements of one settlement call.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Transfers []Transfer
}

// Validate ensures the batch is well-formed. An empty batch is valid —
// state-only commands (price relays, config updates) move no custody.
func (b *Batch) Validate() error {
	for _, t := range b.Transfers {
		if t.Amount <= 0 {
			return fmt.Errorf("transfer %s has non-positive amount: %d", t.TransferID, t.Amount)
		}
		if t.BatchID != b.BatchID {
			return fmt.Errorf("transfer %s has mismatched batch_id", t.TransferID)
		}
		if t.From == t.To {
			return fmt.Errorf("transfer %s has same source and destination account", t.TransferID)
		}
		if t.From.Token != t.Token || t.To.Token != t.Token {
			return fmt.Errorf("transfer %s token mismatch: %s between %s and %s",
				t.TransferID, t.Token, t.From.AccountPath(), t.To.AccountPath())
		}
	}
	return nil
}
