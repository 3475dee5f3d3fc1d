package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sid-stack/aris-registry/internal/domain"
)

// PgStore is the Postgres-backed hold store. Transitions are single
// conditional UPDATEs, so two concurrent writers racing for the same hold
// serialize at the row and exactly one wins.
type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Insert(ctx context.Context, hold *domain.EscrowHold) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO escrow_holds (id, owner_account_id, amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		hold.ID, hold.OwnerAccountID, hold.Amount, string(hold.Status), hold.CreatedAt, hold.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("hold insert failed: %w", err)
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, id string) (*domain.EscrowHold, error) {
	var (
		h   domain.EscrowHold
		ref *string
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, owner_account_id, amount, status, artifact_ref, created_at, updated_at
		 FROM escrow_holds WHERE id = $1`,
		id,
	).Scan(&h.ID, &h.OwnerAccountID, &h.Amount, &h.Status, &ref, &h.CreatedAt, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrHoldNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hold query failed: %w", err)
	}
	if ref != nil {
		h.ArtifactRef = *ref
	}
	return &h, nil
}

// Transition moves the hold to `to` only if its current status is one of
// `from`. Zero rows affected means the hold either does not exist or has
// already left the expected states.
func (s *PgStore) Transition(ctx context.Context, id string, from []domain.HoldStatus, to domain.HoldStatus, artifactRef string) error {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}

	var (
		affected int64
		err      error
	)
	if artifactRef != "" {
		t, e := s.db.Exec(ctx,
			`UPDATE escrow_holds SET status = $1, artifact_ref = $2, updated_at = now()
			 WHERE id = $3 AND status = ANY($4)`,
			string(to), artifactRef, id, states,
		)
		affected, err = t.RowsAffected(), e
	} else {
		t, e := s.db.Exec(ctx,
			`UPDATE escrow_holds SET status = $1, updated_at = now()
			 WHERE id = $2 AND status = ANY($3)`,
			string(to), id, states,
		)
		affected, err = t.RowsAffected(), e
	}
	if err != nil {
		return fmt.Errorf("hold transition failed: %w", err)
	}
	if affected == 0 {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return gerr
		}
		return domain.ErrHoldTerminal
	}
	return nil
}

func (s *PgStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.EscrowHold, error) {
	return s.list(ctx,
		`SELECT id, owner_account_id, amount, status, artifact_ref, created_at, updated_at
		 FROM escrow_holds
		 WHERE status IN ('AUTHORIZED', 'FUNDS_HELD') AND created_at < $1
		 ORDER BY created_at ASC LIMIT $2`,
		cutoff, limit)
}

func (s *PgStore) ListOpen(ctx context.Context, limit int) ([]domain.EscrowHold, error) {
	return s.list(ctx,
		`SELECT id, owner_account_id, amount, status, artifact_ref, created_at, updated_at
		 FROM escrow_holds
		 WHERE status IN ('AUTHORIZED', 'FUNDS_HELD')
		 ORDER BY created_at ASC LIMIT $1`,
		limit)
}

func (s *PgStore) list(ctx context.Context, query string, args ...any) ([]domain.EscrowHold, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hold list failed: %w", err)
	}
	defer rows.Close()

	var holds []domain.EscrowHold
	for rows.Next() {
		var (
			h   domain.EscrowHold
			ref *string
		)
		if err := rows.Scan(&h.ID, &h.OwnerAccountID, &h.Amount, &h.Status, &ref, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("hold scan failed: %w", err)
		}
		if ref != nil {
			h.ArtifactRef = *ref
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}
