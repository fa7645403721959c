package vault

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInsufficientFunds is returned when a transfer would drive the source
// account negative.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Bank is the atomic custody primitive: in-memory token balances per account
// plus per-market share-token supplies. Mutations arrive only through
// committed Staged views, so a failed settlement never touches it.
// Not thread-safe — only accessed from the single-threaded settlement core.
type Bank struct {
	balances map[AccountKey]int64
	supplies map[string]int64 // marketToken -> outstanding share supply
}

func NewBank() *Bank {
	return &Bank{
		balances: make(map[AccountKey]int64),
		supplies: make(map[string]int64),
	}
}

// Balance returns the current balance for an account.
func (b *Bank) Balance(key AccountKey) int64 {
	return b.balances[key]
}

// ShareSupply returns the outstanding share supply for a market token.
func (b *Bank) ShareSupply(marketToken string) int64 {
	return b.supplies[marketToken]
}

// Deposit credits an account from the external boundary. Used for funding
// trader accounts; settlement-internal movement goes through Staged.
func (b *Bank) Deposit(owner uuid.UUID, token string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %d", amount)
	}
	b.balances[NewTraderAccount(owner, token)] += amount
	b.balances[NewExternalAccount(token)] -= amount
	return nil
}

// ValidateNonNegative checks that an account balance is >= 0.
func (b *Bank) ValidateNonNegative(key AccountKey) error {
	if bal := b.balances[key]; bal < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), bal)
	}
	return nil
}

// GlobalBalance sums all account balances per token (0 for a zero-sum bank).
func (b *Bank) GlobalBalance() map[string]int64 {
	totals := make(map[string]int64)
	for key, bal := range b.balances {
		totals[key.Token] += bal
	}
	return totals
}

// Snapshot returns a copy of all balances (for state hashing and snapshots).
func (b *Bank) Snapshot() map[AccountKey]int64 {
	out := make(map[AccountKey]int64, len(b.balances))
	for k, v := range b.balances {
		out[k] = v
	}
	return out
}

// SupplySnapshot returns a copy of all share supplies.
func (b *Bank) SupplySnapshot() map[string]int64 {
	out := make(map[string]int64, len(b.supplies))
	for k, v := range b.supplies {
		out[k] = v
	}
	return out
}

// SetBalance directly sets a balance (snapshot restore only).
func (b *Bank) SetBalance(key AccountKey, balance int64) {
	b.balances[key] = balance
}

// SetShareSupply directly sets a supply (snapshot restore only).
func (b *Bank) SetShareSupply(marketToken string, supply int64) {
	b.supplies[marketToken] = supply
}

// Staged is a copy-on-write view of the Bank scoped to one settlement call.
// Transfers accumulate in its batch and apply to the Bank only on Commit;
// dropping the Staged view discards everything.
type Staged struct {
	bank     *Bank
	deltas   map[AccountKey]int64
	supplies map[string]int64
	batch    *Batch
}

// Begin opens a staged view for one settlement call.
func (b *Bank) Begin(eventRef string, sequence, timestamp int64) *Staged {
	return &Staged{
		bank:     b,
		deltas:   make(map[AccountKey]int64),
		supplies: make(map[string]int64),
		batch: &Batch{
			BatchID:   uuid.New(),
			EventRef:  eventRef,
			Sequence:  sequence,
			Timestamp: timestamp,
		},
	}
}

// Balance returns the effective balance including staged movements.
func (s *Staged) Balance(key AccountKey) int64 {
	return s.bank.balances[key] + s.deltas[key]
}

// ShareSupply returns the effective supply including staged mints/burns.
func (s *Staged) ShareSupply(marketToken string) int64 {
	return s.bank.supplies[marketToken] + s.supplies[marketToken]
}

// Transfer stages a custody movement. The source must have sufficient
// effective balance; escrow and pool accounts never go negative mid-call.
func (s *Staged) Transfer(from, to AccountKey, amount int64, transferType TransferType) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", amount)
	}
	if from.Token != to.Token {
		return fmt.Errorf("transfer token mismatch: %s -> %s", from.AccountPath(), to.AccountPath())
	}
	if from.Scope != ScopeExternal && s.Balance(from) < amount {
		return fmt.Errorf("%w: %s has %d, need %d",
			ErrInsufficientFunds, from.AccountPath(), s.Balance(from), amount)
	}

	s.deltas[from] -= amount
	s.deltas[to] += amount
	s.batch.Transfers = append(s.batch.Transfers, Transfer{
		TransferID: uuid.New(),
		BatchID:    s.batch.BatchID,
		EventRef:   s.batch.EventRef,
		Sequence:   s.batch.Sequence,
		From:       from,
		To:         to,
		Token:      from.Token,
		Amount:     amount,
		Type:       transferType,
		Timestamp:  s.batch.Timestamp,
	})
	return nil
}

// MintShares stages a share-token mint to a trader.
func (s *Staged) MintShares(marketToken string, to uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("mint amount must be positive, got %d", amount)
	}
	s.supplies[marketToken] += amount
	s.deltas[NewTraderAccount(to, marketToken)] += amount
	s.batch.Transfers = append(s.batch.Transfers, Transfer{
		TransferID: uuid.New(),
		BatchID:    s.batch.BatchID,
		EventRef:   s.batch.EventRef,
		Sequence:   s.batch.Sequence,
		From:       NewExternalAccount(marketToken),
		To:         NewTraderAccount(to, marketToken),
		Token:      marketToken,
		Amount:     amount,
		Type:       TransferTypeShareMint,
		Timestamp:  s.batch.Timestamp,
	})
	// Keep the bank zero-sum: mints draw from the external boundary.
	s.deltas[NewExternalAccount(marketToken)] -= amount
	return nil
}

// BurnShares stages a share-token burn from an escrow or trader account.
func (s *Staged) BurnShares(marketToken string, from AccountKey, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("burn amount must be positive, got %d", amount)
	}
	if s.Balance(from) < amount {
		return fmt.Errorf("%w: %s has %d shares, need %d",
			ErrInsufficientFunds, from.AccountPath(), s.Balance(from), amount)
	}
	s.supplies[marketToken] -= amount
	s.deltas[from] -= amount
	s.deltas[NewExternalAccount(marketToken)] += amount
	s.batch.Transfers = append(s.batch.Transfers, Transfer{
		TransferID: uuid.New(),
		BatchID:    s.batch.BatchID,
		EventRef:   s.batch.EventRef,
		Sequence:   s.batch.Sequence,
		From:       from,
		To:         NewExternalAccount(marketToken),
		Token:      marketToken,
		Amount:     amount,
		Type:       TransferTypeShareBurn,
		Timestamp:  s.batch.Timestamp,
	})
	return nil
}

// Batch returns the accumulated transfer batch.
func (s *Staged) Batch() *Batch {
	return s.batch
}

// Commit validates the batch and applies all staged movements to the Bank.
func (s *Staged) Commit() error {
	if err := s.batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	for key, delta := range s.deltas {
		s.bank.balances[key] += delta
	}
	for marketToken, delta := range s.supplies {
		s.bank.supplies[marketToken] += delta
	}
	return nil
}
