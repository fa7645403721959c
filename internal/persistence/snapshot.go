package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PerpPools/internal/market"
	"PerpPools/internal/position"
	"PerpPools/internal/request"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots carry everything the settlement core holds in memory: balances,
// share supplies, markets, positions, claimable entries, pending requests,
// reference prices, config, sequence counters, and the chain tip hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized in-memory state at a point in time.
type SnapshotData struct {
	Sequence         int64                 `json:"sequence"`
	StateHash        []byte                `json:"state_hash"`
	Balances         map[string]int64      `json:"balances"` // AccountPath -> balance
	ShareSupplies    map[string]int64      `json:"share_supplies"`
	Markets          []*market.Market      `json:"markets"`
	Positions        []*position.Position  `json:"positions"`
	Claimables       []ClaimableEntry      `json:"claimables"`
	Deposits         []*request.Deposit    `json:"deposits"`
	Withdrawals      []*request.Withdrawal `json:"withdrawals"`
	Orders           []*request.Order      `json:"orders"`
	NextRequestNonce uint64                `json:"next_request_nonce"`
	ReferencePrices  map[string]int64      `json:"reference_prices"`
	ConfigValues     map[string]int64      `json:"config_values"`
	ConfigAddresses  map[string]uuid.UUID  `json:"config_addresses"`
	SequenceState    map[string]int64      `json:"sequence_state"` // partition -> next expected seq
	IdempotencyKeys  []string              `json:"idempotency_keys"`
	CreatedAt        time.Time             `json:"created_at"`
}

// ClaimableEntry is a serializable claimable-buffer entry.
type ClaimableEntry struct {
	Token  string    `json:"token"`
	Owner  uuid.UUID `json:"owner"`
	Bucket int64     `json:"bucket"`
	Amount int64     `json:"amount"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by replaying commands from the snapshot sequence
// forward before being trusted for restarts.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO command_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart, load the snapshot then replay commands from sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM command_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE command_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadCommandsFrom loads commands from a given sequence for replay.
// Used for warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]CommandRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, market_token, payload,
		       applied, reason, state_hash, prev_hash, timestamp, source_sequence
		FROM command_log.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []CommandRow
	for rows.Next() {
		var c CommandRow
		if err := rows.Scan(
			&c.Sequence, &c.CommandType, &c.IdempotencyKey, &c.MarketToken,
			&c.Payload, &c.Applied, &c.Reason, &c.StateHash, &c.PrevHash,
			&c.Timestamp, &c.SourceSequence,
		); err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}

	return commands, rows.Err()
}

// GetLatestSequence returns the highest sequence in the command log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM command_log.commands
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty command log
	}
	return seq.Int64, nil
}
