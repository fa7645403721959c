package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"PerpPools/internal/claimable"
	"PerpPools/internal/config"
	"PerpPools/internal/event"
	"PerpPools/internal/market"
	fpmath "PerpPools/internal/math"
	"PerpPools/internal/observability"
	"PerpPools/internal/oracle"
	"PerpPools/internal/position"
	"PerpPools/internal/registry"
	"PerpPools/internal/request"
	"PerpPools/internal/vault"
)

// executionFeeToken denominates keeper execution fees. Fees sit in the
// fee-holder account from request creation until a terminal transition pays
// them out: to the configured holding address or the executing keeper on
// execute, back to the owner on cancel.
const executionFeeToken = "USDC"

// SettlementCore is the single-threaded command processor. All pool, position
// and custody state lives here; every mutation flows through one txn per
// command so a failed attempt leaves no trace.
type SettlementCore struct {
	sequence          int64
	hasher            *StateHasher
	bank              *vault.Bank
	markets           *market.Manager
	positions         *position.Ledger
	claimables        *claimable.Buffer
	requests          *request.Store
	prices            *oracle.Slots
	tokens            registry.TokenRegistry
	roles             registry.Roles
	cfg               *config.Store
	impact            fpmath.ImpactModel
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope   *event.Envelope
	Batch      *vault.Batch
	StateDelta []byte
}

// Deps carries the collaborators the core does not own.
type Deps struct {
	Tokens    registry.TokenRegistry
	Roles     registry.Roles
	Config    *config.Store
	Impact    fpmath.ImpactModel
	DBChecker DBIdempotencyChecker
	Metrics   *observability.Metrics
}

func NewSettlementCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	deps Deps,
) *SettlementCore {
	if deps.Impact == nil {
		deps.Impact = fpmath.SquaredImbalanceModel{}
	}
	return &SettlementCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		bank:              vault.NewBank(),
		markets:           market.NewManager(),
		positions:         position.NewLedger(),
		claimables:        claimable.NewBuffer(),
		requests:          request.NewStore(),
		prices:            oracle.NewSlots(deps.Tokens, deps.Config),
		tokens:            deps.Tokens,
		roles:             deps.Roles,
		cfg:               deps.Config,
		impact:            deps.Impact,
		idempotency:       NewIdempotencyChecker(1_000_000, deps.DBChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           deps.Metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessCommand is the main processing pipeline
func (c *SettlementCore) ProcessCommand(cmd event.Command) error {
	start := time.Now()
	commandType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(commandType, idempotencyKey)

	// Step 2: Sequence validation
	// Price relays tolerate gaps; everything else is strict per partition.
	if priceCmd, ok := cmd.(*event.RelayPrices); ok {
		if err := c.sequenceValidator.ValidatePriceSequence(priceCmd.Provider, priceCmd.PriceSequence); err != nil {
			return err
		}
	} else {
		if err := c.sequenceValidator.ValidateSequence(c.getPartition(cmd), cmd.SourceSequence(), idempotencyKey, isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreCommandsRejected.WithLabelValues(commandType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch. Handlers stage everything in one txn and commit only
	// on success, so an error here means no state was touched (retryable
	// errors leave the triggering request pending for the keeper to retry).
	batch, outcome, err := c.dispatch(cmd)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreCommandsRejected.WithLabelValues(commandType, "error").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Post-checks
	if err := c.postCheckInvariants(cmd); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 5: Digest, hash, envelope
	stateDigest := c.computeStateDigest(cmd, batch)
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	// The command itself is the log payload; replay decodes it by type.
	payload, err := json.Marshal(cmd)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal command payload: %v", err))
	}

	envelope := &event.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		CommandType:    cmd.CommandType(),
		MarketToken:    cmd.MarketToken(),
		Timestamp:      time.Unix(cmd.UnixTime(), 0).UTC(),
		SourceSequence: cmd.SourceSequence(),
		Outcome:        outcome,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       c.hasher.GetPrevHash(),
	}
	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
	}
	c.sequence++

	// Step 6: Emit outputs.
	// Persistence is a blocking send (backpressure): the core stalls until
	// the persistence worker drains, so no applied command is ever lost.
	c.persistChan <- output

	// Projections are non-blocking with silent drop; workers rebuild from
	// the command log if they fall behind.
	select {
	case c.projectionChan <- output:
	default:
	}

	// Step 7: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(commandType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreCommandsApplied.WithLabelValues(commandType).Inc()
		c.metrics.CoreCommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		deposits, withdrawals, orders := c.requests.PendingCounts()
		c.metrics.PendingRequests.WithLabelValues("deposit").Set(float64(deposits))
		c.metrics.PendingRequests.WithLabelValues("withdrawal").Set(float64(withdrawals))
		c.metrics.PendingRequests.WithLabelValues("order").Set(float64(orders))
	}

	return nil
}

func (c *SettlementCore) dispatch(cmd event.Command) (*vault.Batch, event.Outcome, error) {
	switch e := cmd.(type) {
	case *event.RelayPrices:
		return c.handleRelayPrices(e)
	case *event.CreateDeposit:
		return c.handleCreateDeposit(e)
	case *event.ExecuteDeposit:
		return c.handleExecuteDeposit(e)
	case *event.CancelDeposit:
		return c.handleCancelDeposit(e)
	case *event.CreateWithdrawal:
		return c.handleCreateWithdrawal(e)
	case *event.ExecuteWithdrawal:
		return c.handleExecuteWithdrawal(e)
	case *event.CancelWithdrawal:
		return c.handleCancelWithdrawal(e)
	case *event.CreateOrder:
		return c.handleCreateOrder(e)
	case *event.ExecuteOrder:
		return c.handleExecuteOrder(e)
	case *event.CancelOrder:
		return c.handleCancelOrder(e)
	case *event.ClaimFunds:
		return c.handleClaimFunds(e)
	case *event.CreateMarket:
		return c.handleCreateMarket(e)
	case *event.UpdateMarketConfig:
		return c.handleUpdateMarketConfig(e)
	case *event.RemoveMarket:
		return c.handleRemoveMarket(e)
	case *event.SetParameter:
		return c.handleSetParameter(e)
	case *event.FundAccount:
		return c.handleFundAccount(e)
	case *event.WithdrawFunds:
		return c.handleWithdrawFunds(e)
	default:
		return nil, event.Outcome{}, fmt.Errorf("unknown command type: %T", cmd)
	}
}

// getPartition determines partition key for sequence validation
func (c *SettlementCore) getPartition(cmd event.Command) string {
	if marketToken := cmd.MarketToken(); marketToken != nil {
		return fmt.Sprintf("market:%s", *marketToken)
	}
	return "global"
}

// computeStateDigest creates canonical bytes for the state hash: every
// account touched by the batch with its post-commit balance, then the full
// state of the command's market (pools, open interest, accumulators).
func (c *SettlementCore) computeStateDigest(cmd event.Command, batch *vault.Batch) []byte {
	affectedAccounts := make(map[vault.AccountKey]bool)
	if batch != nil {
		for _, tr := range batch.Transfers {
			affectedAccounts[tr.From] = true
			affectedAccounts[tr.To] = true
		}
	}

	accounts := make([]vault.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, c.bank.Balance(key))
	}

	if marketToken := cmd.MarketToken(); marketToken != nil {
		if m, err := c.markets.Get(*marketToken); err == nil {
			digest = append(digest, []byte(m.MarketToken)...)
			for _, v := range []int64{
				m.PoolLong, m.PoolShort,
				m.OpenInterestLongUsd, m.OpenInterestShortUsd,
				m.ReservedLong, m.ReservedShort,
				m.CumFundingLong, m.CumFundingShort,
				m.CumBorrowingLong, m.CumBorrowingShort,
				c.bank.ShareSupply(m.MarketToken),
			} {
				digest = appendInt64LE(digest, v)
			}
		}
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates global invariants after a command commits
func (c *SettlementCore) postCheckInvariants(cmd event.Command) error {
	// Periodic global balance check: every token must sum to zero across all
	// accounts including the external boundary account.
	if c.sequence > 0 && c.sequence%1000 == 0 {
		totals := c.bank.GlobalBalance()
		for token, total := range totals {
			if total != 0 {
				return fmt.Errorf("global balance non-zero for token %s: %d (at seq %d)",
					token, total, c.sequence)
			}
		}
	}

	// Pool accounting must never go negative for the command's market.
	if marketToken := cmd.MarketToken(); marketToken != nil {
		if m, err := c.markets.Get(*marketToken); err == nil {
			if m.PoolLong < 0 || m.PoolShort < 0 {
				return fmt.Errorf("negative pool in %s: long=%d short=%d",
					m.MarketToken, m.PoolLong, m.PoolShort)
			}
			if m.ReservedLong < 0 || m.ReservedShort < 0 {
				return fmt.Errorf("negative reservation in %s: long=%d short=%d",
					m.MarketToken, m.ReservedLong, m.ReservedShort)
			}
		}
	}

	return nil
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence         int64
	StateHash        [32]byte
	Balances         map[vault.AccountKey]int64
	ShareSupplies    map[string]int64
	Markets          []*market.Market
	Positions        []*position.Position
	Claimables       map[claimable.EntryKey]int64
	Deposits         []*request.Deposit
	Withdrawals      []*request.Withdrawal
	Orders           []*request.Order
	NextRequestNonce uint64
	ReferencePrices  map[string]int64
	ConfigValues     map[string]int64
	ConfigAddresses  map[string]uuid.UUID
	SequenceState    map[string]int64
	IdempotencyKeys  []string
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart, load the latest snapshot then replay the command log.
func (c *SettlementCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.bank.SetBalance(key, balance)
	}
	for marketToken, supply := range snap.ShareSupplies {
		c.bank.SetShareSupply(marketToken, supply)
	}
	for _, m := range snap.Markets {
		c.markets.Set(m)
	}
	for _, p := range snap.Positions {
		c.positions.Set(p)
	}
	c.claimables.Restore(snap.Claimables)
	for _, d := range snap.Deposits {
		c.requests.RestoreDeposit(d)
	}
	for _, w := range snap.Withdrawals {
		c.requests.RestoreWithdrawal(w)
	}
	for _, o := range snap.Orders {
		c.requests.RestoreOrder(o)
	}
	c.requests.SetNextNonce(snap.NextRequestNonce)
	c.prices.RestoreReference(snap.ReferencePrices)
	c.cfg.Restore(snap.ConfigValues)
	c.cfg.RestoreAddresses(snap.ConfigAddresses)
	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *SettlementCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *SettlementCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *SettlementCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *SettlementCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:         c.sequence - 1, // Last processed sequence
		StateHash:        c.hasher.GetPrevHash(),
		Balances:         c.bank.Snapshot(),
		ShareSupplies:    c.bank.SupplySnapshot(),
		Markets:          c.markets.All(),
		Positions:        c.positions.All(),
		Claimables:       c.claimables.Snapshot(),
		Deposits:         c.requests.Deposits(),
		Withdrawals:      c.requests.Withdrawals(),
		Orders:           c.requests.Orders(),
		NextRequestNonce: c.requests.NextNonce(),
		ReferencePrices:  c.prices.Reference(),
		ConfigValues:     c.cfg.Snapshot(),
		ConfigAddresses:  c.cfg.AddressSnapshot(),
		SequenceState:    c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys:  c.idempotency.lru.GetAllKeys(),
	}
}
