package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables. Queries are
// served via gRPC and HTTP/JSON (gRPC-Gateway), reading from PostgreSQL.
// All responses include as_of_sequence for freshness semantics.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns an owner's balance for one token, split into the free
// trader balance and the amount held in escrow by pending requests.
func (qs *QueryService) GetBalance(
	ctx context.Context,
	owner uuid.UUID,
	token string,
) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	traderPath := fmt.Sprintf("trader:%s:%s", owner, token)
	balance, err := qs.getProjectedBalance(ctx, traderPath, token)
	if err != nil {
		return nil, err
	}

	escrowPath := fmt.Sprintf("escrow:%s:%s", owner, token)
	escrow, err := qs.getProjectedBalance(ctx, escrowPath, token)
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		Owner:        owner,
		Token:        token,
		Balance:      balance,
		Escrow:       escrow,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetPools returns a market's pool reserves and accrued fees per token.
func (qs *QueryService) GetPools(
	ctx context.Context,
	marketToken string,
) ([]PoolResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	poolPrefix := fmt.Sprintf("pool:%s:%%", marketToken)
	rows, err := qs.db.QueryContext(ctx, `
		SELECT token, balance
		FROM projections.balances
		WHERE account_path LIKE $1
		ORDER BY token
	`, poolPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []PoolResponse
	for rows.Next() {
		var p PoolResponse
		p.MarketToken = marketToken
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(&p.Token, &p.Balance); err != nil {
			return nil, err
		}
		feePath := fmt.Sprintf("fee_receiver:%s:%s", marketToken, p.Token)
		fees, err := qs.getProjectedBalance(ctx, feePath, p.Token)
		if err != nil {
			return nil, err
		}
		p.FeesAccrued = fees
		pools = append(pools, p)
	}

	return pools, rows.Err()
}

// GetTransferHistory returns custody transfers touching an owner's accounts
// with cursor-based pagination.
func (qs *QueryService) GetTransferHistory(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]TransferHistoryEntry, error) {
	traderPrefix := fmt.Sprintf("trader:%s:%%", owner)
	escrowPrefix := fmt.Sprintf("escrow:%s:%%", owner)

	query := `
		SELECT transfer_id, batch_id, event_ref, sequence,
		       from_account, to_account, token, amount, transfer_type, timestamp
		FROM command_log.transfers
		WHERE from_account LIKE $1 OR to_account LIKE $1
		   OR from_account LIKE $2 OR to_account LIKE $2
	`
	args := []interface{}{traderPrefix, escrowPrefix}
	argIdx := 3

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TransferHistoryEntry
	for rows.Next() {
		var e TransferHistoryEntry
		if err := rows.Scan(
			&e.TransferID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.FromAccount, &e.ToAccount, &e.Token, &e.Amount,
			&e.TransferType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetCommandHistory returns settled commands for a market with pagination.
func (qs *QueryService) GetCommandHistory(
	ctx context.Context,
	marketToken *string,
	limit int,
	afterSequence *int64,
) ([]CommandHistoryEntry, error) {
	query := `
		SELECT sequence, command_type, market_token, applied, reason,
		       EXTRACT(EPOCH FROM timestamp)::BIGINT
		FROM command_log.commands
		WHERE TRUE
	`
	var args []interface{}
	argIdx := 1

	if marketToken != nil {
		query += fmt.Sprintf(" AND market_token = $%d", argIdx)
		args = append(args, *marketToken)
		argIdx++
	}

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CommandHistoryEntry
	for rows.Next() {
		var e CommandHistoryEntry
		if err := rows.Scan(
			&e.Sequence, &e.CommandType, &e.MarketToken, &e.Applied,
			&e.Reason, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain and global balance invariants.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT c1.sequence, c1.prev_hash, c2.state_hash
		FROM command_log.commands c1
		LEFT JOIN command_log.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.sequence > 0 AND c1.prev_hash != COALESCE(c2.state_hash, c1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var prevHash, expectedHash []byte
		if err := rows.Scan(&seq, &prevHash, &expectedHash); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}

	// Check global balance (should sum to zero across all accounts per token)
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT token, SUM(balance) as total
		FROM projections.balances
		GROUP BY token
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var token string
		var total int64
		if err := balanceRows.Scan(&token, &total); err != nil {
			return nil, err
		}
		report.UnbalancedTokens = append(report.UnbalancedTokens, UnbalancedToken{
			Token:     token,
			Imbalance: total,
		})
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedTokens) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string, token string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1 AND token = $2
	`, accountPath, token).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
