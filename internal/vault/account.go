package vault

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	ScopeTrader AccountScope = iota
	ScopeEscrow
	ScopeMarketPool
	ScopeFeeReceiver
	ScopeClaimable
	ScopeFeeHolder
	ScopeExternal
)

// AccountKey identifies a custody account for one token.
// Entity is the owner UUID string for trader/escrow accounts, the market
// token symbol for pool accounts, and a fixed name for system accounts.
type AccountKey struct {
	Scope  AccountScope
	Entity string
	Token  string
}

// NewTraderAccount creates a key for a trader's token holdings.
func NewTraderAccount(owner uuid.UUID, token string) AccountKey {
	return AccountKey{Scope: ScopeTrader, Entity: owner.String(), Token: token}
}

// NewEscrowAccount creates a key for a request's escrowed input tokens.
func NewEscrowAccount(owner uuid.UUID, token string) AccountKey {
	return AccountKey{Scope: ScopeEscrow, Entity: owner.String(), Token: token}
}

// NewPoolAccount creates a key for a market's pool reserve of one token.
func NewPoolAccount(marketToken, token string) AccountKey {
	return AccountKey{Scope: ScopeMarketPool, Entity: marketToken, Token: token}
}

// NewFeeReceiverAccount creates a key for the per-market fee accrual bucket.
func NewFeeReceiverAccount(marketToken, token string) AccountKey {
	return AccountKey{Scope: ScopeFeeReceiver, Entity: marketToken, Token: token}
}

// NewClaimableAccount creates a key for the deferred-payout holding area.
func NewClaimableAccount(token string) AccountKey {
	return AccountKey{Scope: ScopeClaimable, Entity: "claimable", Token: token}
}

// NewFeeHolderAccount creates a key for the execution-fee holding address.
func NewFeeHolderAccount(token string) AccountKey {
	return AccountKey{Scope: ScopeFeeHolder, Entity: "fee_holder", Token: token}
}

// NewExternalAccount creates a key for the external-world boundary.
func NewExternalAccount(token string) AccountKey {
	return AccountKey{Scope: ScopeExternal, Entity: "external", Token: token}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	return fmt.Sprintf("%s:%s:%s", k.scopeName(), k.Entity, k.Token)
}

// ParseAccountPath is the inverse of AccountPath, used when restoring
// balances from a snapshot.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.SplitN(path, ":", 3)
	if len(parts) != 3 {
		return AccountKey{}, fmt.Errorf("malformed account path: %s", path)
	}
	scope, ok := scopeByName[parts[0]]
	if !ok {
		return AccountKey{}, fmt.Errorf("unknown account scope: %s", parts[0])
	}
	return AccountKey{Scope: scope, Entity: parts[1], Token: parts[2]}, nil
}

var scopeByName = map[string]AccountScope{
	"trader":       ScopeTrader,
	"escrow":       ScopeEscrow,
	"pool":         ScopeMarketPool,
	"fee_receiver": ScopeFeeReceiver,
	"claimable":    ScopeClaimable,
	"fee_holder":   ScopeFeeHolder,
	"external":     ScopeExternal,
}

func (k AccountKey) scopeName() string {
	switch k.Scope {
	case ScopeTrader:
		return "trader"
	case ScopeEscrow:
		return "escrow"
	case ScopeMarketPool:
		return "pool"
	case ScopeFeeReceiver:
		return "fee_receiver"
	case ScopeClaimable:
		return "claimable"
	case ScopeFeeHolder:
		return "fee_holder"
	case ScopeExternal:
		return "external"
	default:
		return "unknown"
	}
}
