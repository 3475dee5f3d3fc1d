// Package ledger owns per-account balances and the append-only transaction
// log. Every mutation is a single storage transaction: the balance change,
// the idempotency-set insert and the audit entry commit or roll back
// together. Balance checks are expressed in the UPDATE's WHERE clause, never
// as a read-then-write in application code, so concurrent callers serialize
// at the row.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sid-stack/aris-registry/internal/domain"
)

type Ledger struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Ledger {
	return &Ledger{db: db}
}

// Debit atomically decrements the balance if and only if the account is
// active and holds at least amount. Returns the new balance.
func (l *Ledger) Debit(ctx context.Context, accountID int64, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return 0, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var newBalance int64
	err = tx.QueryRow(ctx,
		`UPDATE accounts
		 SET balance = balance - $1, updated_at = now()
		 WHERE id = $2 AND status = 'active' AND balance >= $1
		 RETURNING balance`,
		amount, accountID,
	).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, l.classifyDebitFailure(ctx, tx, accountID)
		}
		return 0, fmt.Errorf("balance update failed: %w", err)
	}

	if err := appendEntry(ctx, tx, accountID, domain.EntryDeduction, amount, "", description); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("tx commit failed: %w", err)
	}
	return newBalance, nil
}

// classifyDebitFailure distinguishes an unknown account from an active one
// that simply lacks funds. Runs inside the same transaction so the row it
// inspects is the row the UPDATE saw.
func (l *Ledger) classifyDebitFailure(ctx context.Context, tx pgx.Tx, accountID int64) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM accounts WHERE id = $1`, accountID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("account lookup failed: %w", err)
	}
	if status != domain.AccountActive {
		return domain.ErrAccountNotFound
	}
	return domain.ErrInsufficientFunds
}

// Credit increments the balance. When externalEventID is non-empty the credit
// is idempotent: a replayed event id makes the whole call a no-op and returns
// applied=false with the current balance.
func (l *Ledger) Credit(ctx context.Context, accountID int64, amount int64, externalEventID, description string) (applied bool, newBalance int64, err error) {
	if amount <= 0 {
		return false, 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return false, 0, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if externalEventID != "" {
		tag, err := tx.Exec(ctx,
			`INSERT INTO processed_events (event_id, account_id) VALUES ($1, $2)
			 ON CONFLICT (event_id) DO NOTHING`,
			externalEventID, accountID,
		)
		if err != nil {
			return false, 0, fmt.Errorf("event reservation failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Replay: report the balance as-is, change nothing.
			var balance int64
			err = tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
			if errors.Is(err, pgx.ErrNoRows) {
				return false, 0, domain.ErrAccountNotFound
			}
			if err != nil {
				return false, 0, fmt.Errorf("balance read failed: %w", err)
			}
			return false, balance, tx.Commit(ctx)
		}
	}

	err = tx.QueryRow(ctx,
		`UPDATE accounts SET balance = balance + $1, updated_at = now()
		 WHERE id = $2 RETURNING balance`,
		amount, accountID,
	).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, 0, domain.ErrAccountNotFound
		}
		return false, 0, fmt.Errorf("balance update failed: %w", err)
	}

	if err := appendEntry(ctx, tx, accountID, domain.EntryPurchase, amount, externalEventID, description); err != nil {
		return false, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, 0, fmt.Errorf("tx commit failed: %w", err)
	}
	return true, newBalance, nil
}

// Refund is an unconditional credit compensating a debit whose downstream
// work failed. It carries its own entry kind so the audit trail separates
// compensation from purchases.
func (l *Ledger) Refund(ctx context.Context, accountID int64, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("refund amount must be positive, got %d", amount)
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return 0, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var newBalance int64
	err = tx.QueryRow(ctx,
		`UPDATE accounts SET balance = balance + $1, updated_at = now()
		 WHERE id = $2 RETURNING balance`,
		amount, accountID,
	).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrAccountNotFound
		}
		return 0, fmt.Errorf("balance update failed: %w", err)
	}

	if err := appendEntry(ctx, tx, accountID, domain.EntryRefund, amount, "", reason); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("tx commit failed: %w", err)
	}
	return newBalance, nil
}

func appendEntry(ctx context.Context, tx pgx.Tx, accountID int64, kind domain.EntryKind, amount int64, eventID, description string) error {
	var ext any
	if eventID != "" {
		ext = eventID
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, kind, amount, external_event_id, description, status)
		 VALUES ($1, $2, $3, $4, $5, $6, 'completed')`,
		uuid.NewString(), accountID, string(kind), amount, ext, description,
	)
	if err != nil {
		return fmt.Errorf("ledger entry failed: %w", err)
	}
	return nil
}
