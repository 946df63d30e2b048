package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/devblac/erc20-watch/internal/chain"
	"github.com/devblac/erc20-watch/internal/transfer"
)

// Transfer is the textual row form of a transfer event.
type Transfer struct {
	ID            int64  `json:"id"`
	TxHash        string `json:"transaction_hash"`
	BlockNumber   uint64 `json:"block_number"`
	BlockHash     string `json:"block_hash"`
	LogIndex      uint64 `json:"log_index"`
	From          string `json:"from_address"`
	To            string `json:"to_address"`
	Amount        string `json:"amount"`
	TokenContract string `json:"token_contract"`
	Timestamp     uint64 `json:"timestamp"`
}

// RowFromEvent renders ev in canonical text: lower-case hex and a decimal amount.
func RowFromEvent(ev transfer.Event) Transfer {
	return Transfer{
		TxHash:        ev.TxHash.Hex(),
		BlockNumber:   ev.BlockNumber,
		BlockHash:     ev.BlockHash.Hex(),
		LogIndex:      ev.LogIndex,
		From:          strings.ToLower(ev.From.Hex()),
		To:            strings.ToLower(ev.To.Hex()),
		Amount:        ev.Amount.Dec(),
		TokenContract: strings.ToLower(ev.Token.Hex()),
		Timestamp:     ev.Timestamp,
	}
}

// InsertTransfers appends events in one transaction. Rows already present for the same
// (tx, log index, block hash) are skipped so a redelivered range is harmless.
// It returns the number of new rows.
func (s *Store) InsertTransfers(ctx context.Context, events []transfer.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	inserted := 0
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO transfers
  (transaction_hash, block_number, block_hash, log_index, from_address, to_address, amount, token_contract, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`)
		if err != nil {
			return fmt.Errorf("prepare insert transfer: %w", err)
		}
		defer stmt.Close()

		for _, ev := range events {
			row := RowFromEvent(ev)
			res, err := stmt.ExecContext(ctx, row.TxHash, row.BlockNumber, row.BlockHash, row.LogIndex, row.From, row.To, row.Amount, row.TokenContract, row.Timestamp)
			if err != nil {
				return fmt.Errorf("insert transfer %s:%d: %w", row.TxHash, row.LogIndex, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListTransfers returns up to limit rows with block_number >= fromBlock in insertion order.
// limit <= 0 means no limit.
func (s *Store) ListTransfers(ctx context.Context, fromBlock uint64, limit int) ([]Transfer, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, transaction_hash, block_number, block_hash, log_index, from_address, to_address, amount, token_contract, timestamp
FROM transfers
WHERE block_number >= ?
ORDER BY id
LIMIT ?;
`, fromBlock, limit)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.TxHash, &t.BlockNumber, &t.BlockHash, &t.LogIndex, &t.From, &t.To, &t.Amount, &t.TokenContract, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTransfers returns the number of stored rows.
func (s *Store) CountTransfers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transfers;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transfers: %w", err)
	}
	return n, nil
}

// TransferSink persists accepted transfers for the reconciler.
type TransferSink struct {
	store *Store
}

func NewTransferSink(store *Store) *TransferSink {
	return &TransferSink{store: store}
}

func (t *TransferSink) Emit(ctx context.Context, _ chain.Range, events []transfer.Event) error {
	_, err := t.store.InsertTransfers(ctx, events)
	return err
}
