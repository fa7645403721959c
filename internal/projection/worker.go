package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence    int64
	CommandType string
	MarketToken *string
	Transfers   []TransferEntry
	Timestamp   int64
}

// TransferEntry is a simplified custody transfer for projection consumption.
type TransferEntry struct {
	FromAccount string
	ToAccount   string
	Token       string
	Amount      int64
	Type        int32
}

// ProjectionWorker updates projection tables from settled commands.
// The projection channel is non-blocking with drop: if projections fall
// behind, they can be rebuilt from the command log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the command log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Update balance projections from custody transfers
	for _, t := range output.Transfers {
		if err := pw.updateBalanceProjection(ctx, tx, t, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, t TransferEntry, seq int64) error {
	// Source account: decrease balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, token, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, token)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, t.FromAccount, t.Token, t.Amount, seq); err != nil {
		return err
	}

	// Destination account: increase balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, token, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, token)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, t.ToAccount, t.Token, t.Amount, seq); err != nil {
		return err
	}

	return nil
}

// RebuildProjections rebuilds all projection tables from the command log.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Rebuild credit side from transfers
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, token, balance, last_sequence)
		SELECT
			to_account AS account_path,
			token,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM command_log.transfers
		GROUP BY to_account, token
		ON CONFLICT (account_path, token) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	// Subtract debit side
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, token, balance, last_sequence)
		SELECT
			from_account AS account_path,
			token,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM command_log.transfers
		GROUP BY from_account, token
		ON CONFLICT (account_path, token) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
