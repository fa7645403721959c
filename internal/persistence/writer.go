package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CommandLogWriter writes command envelopes and custody transfers to
// Postgres using batch inserts. Multi-row INSERT keeps the writer portable;
// switch to pgx CopyFrom for production-grade throughput.
type CommandLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// CommandRow represents a row in command_log.commands
type CommandRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	MarketToken    *string
	Payload        []byte // JSON-encoded command payload
	Applied        bool
	Reason         string
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// TransferRow represents a row in command_log.transfers
type TransferRow struct {
	TransferID  string
	BatchID     string
	EventRef    string
	Sequence    int64
	FromAccount string
	ToAccount   string
	Token       string
	Amount      int64
	Type        int32
	Timestamp   int64
}

func NewCommandLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *CommandLogWriter {
	return &CommandLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// execer abstracts *sql.DB and *sql.Tx so batches can share one transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WriteCommandBatch writes a batch of commands to command_log.commands.
func (w *CommandLogWriter) WriteCommandBatch(ctx context.Context, ex execer, commands []CommandRow) error {
	if len(commands) == 0 {
		return nil
	}

	query := `INSERT INTO command_log.commands
		(sequence, command_type, idempotency_key, market_token, payload, applied, reason, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(commands))
	args := make([]interface{}, 0, len(commands)*11)

	for i, c := range commands {
		base := i * 11
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
		))
		args = append(args,
			c.Sequence, c.CommandType, c.IdempotencyKey, c.MarketToken,
			c.Payload, c.Applied, c.Reason, c.StateHash, c.PrevHash,
			c.Timestamp, c.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteTransferBatch writes a batch of custody transfers to command_log.transfers.
func (w *CommandLogWriter) WriteTransferBatch(ctx context.Context, ex execer, transfers []TransferRow) error {
	if len(transfers) == 0 {
		return nil
	}

	query := `INSERT INTO command_log.transfers
		(transfer_id, batch_id, event_ref, sequence, from_account, to_account, token, amount, transfer_type, timestamp)
		VALUES `

	values := make([]string, 0, len(transfers))
	args := make([]interface{}, 0, len(transfers)*10)

	for i, t := range transfers {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			t.TransferID, t.BatchID, t.EventRef, t.Sequence,
			t.FromAccount, t.ToAccount, t.Token, t.Amount,
			t.Type, t.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (transfer_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// MarshalCommandPayload serializes a command payload to JSON for storage.
func MarshalCommandPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
