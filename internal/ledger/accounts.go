package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/sid-stack/aris-registry/internal/domain"
)

// CreateAccount opens an account with a zero balance. Email is optional and
// used only as a webhook lookup fallback.
func (l *Ledger) CreateAccount(ctx context.Context, email string) (int64, error) {
	var e any
	if email != "" {
		e = email
	}
	var id int64
	err := l.db.QueryRow(ctx,
		`INSERT INTO accounts (email, balance, status) VALUES ($1, 0, 'active') RETURNING id`,
		e,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("account insert failed: %w", err)
	}
	return id, nil
}

func (l *Ledger) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	var (
		acc   domain.Account
		email *string
	)
	err := l.db.QueryRow(ctx,
		`SELECT id, email, balance, status, created_at, updated_at FROM accounts WHERE id = $1`,
		id,
	).Scan(&acc.ID, &email, &acc.Balance, &acc.Status, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account query failed: %w", err)
	}
	if email != nil {
		acc.Email = *email
	}
	return &acc, nil
}

// ResolveAccountRef accepts either a numeric account id or an email address.
// Webhook events carry whichever reference the processor had at checkout
// time, so both must resolve.
func (l *Ledger) ResolveAccountRef(ctx context.Context, ref string) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if _, err := l.GetAccount(ctx, id); err != nil {
			return 0, err
		}
		return id, nil
	}

	var id int64
	err := l.db.QueryRow(ctx, `SELECT id FROM accounts WHERE email = $1`, ref).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("account lookup failed: %w", err)
	}
	return id, nil
}

// DeactivateAccount closes an account to further debits. The row and its
// ledger entries remain for audit.
func (l *Ledger) DeactivateAccount(ctx context.Context, id int64) error {
	tag, err := l.db.Exec(ctx,
		`UPDATE accounts SET status = 'deactivated', updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("account update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// GetEntries returns the account's audit trail, newest first.
func (l *Ledger) GetEntries(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	if _, err := l.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	rows, err := l.db.Query(ctx,
		`SELECT id, account_id, kind, amount, external_event_id, description, status, created_at
		 FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("entries query failed: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e   domain.LedgerEntry
			ext *string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Amount, &ext, &e.Description, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("entry scan failed: %w", err)
		}
		if ext != nil {
			e.ExternalEventID = *ext
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
