package repo

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/tripcrew/internal/domain"
)

// OutboxRepo stores notifications that must be delivered after the
// transaction that produced them commits.
type OutboxRepo interface {
	// Enqueue appends one pending message per phone with the given reason.
	Enqueue(ctx context.Context, reason string, phones []string) error

	// ClaimPending marks up to limit pending messages as dispatched and
	// returns them ordered by creation time, ties broken by id. Rows locked by a concurrent claimer are
	// skipped, so two dispatchers never receive the same message.
	ClaimPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error)

	// MarkFailed records a delivery error on a dispatched message.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type pgOutboxRepo struct {
	db db
}

// NewOutboxRepo constructs an OutboxRepo backed by the provided db connection.
func NewOutboxRepo(db db) OutboxRepo {
	return &pgOutboxRepo{db: db}
}

func (r *pgOutboxRepo) Enqueue(ctx context.Context, reason string, phones []string) error {
	const q = `
		INSERT INTO notification_outbox (phone, reason)
		SELECT p.phone, @reason
		FROM unnest(@phones::text[]) AS p(phone)`

	if len(phones) == 0 {
		return nil
	}
	if _, err := r.db.Exec(ctx, q, pgx.NamedArgs{"reason": reason, "phones": phones}); err != nil {
		return fmt.Errorf("repo.OutboxRepo.Enqueue: %w", err)
	}
	return nil
}

func (r *pgOutboxRepo) ClaimPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	const q = `
		UPDATE notification_outbox o
		SET status        = 'dispatched',
		    dispatched_at = now()
		FROM (
			SELECT id
			FROM notification_outbox
			WHERE status = 'pending'
			ORDER BY created_at, id
			LIMIT @limit
			FOR UPDATE SKIP LOCKED
		) claimed
		WHERE o.id = claimed.id
		RETURNING o.id, o.phone, o.reason, o.status, o.error, o.created_at, o.dispatched_at`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("repo.OutboxRepo.ClaimPending: %w", err)
	}
	defer rows.Close()

	msgs := []domain.OutboxMessage{}
	for rows.Next() {
		var (
			m      domain.OutboxMessage
			id     pgtype.UUID
			status string
		)
		if err := rows.Scan(&id, &m.Phone, &m.Reason, &status, &m.Error, &m.CreatedAt, &m.DispatchedAt); err != nil {
			return nil, fmt.Errorf("repo.OutboxRepo.ClaimPending: scan: %w", err)
		}
		m.ID = uuid.UUID(id.Bytes)
		m.Status = domain.OutboxStatus(status)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.OutboxRepo.ClaimPending: rows: %w", err)
	}
	// RETURNING order is unspecified; the ORDER BY above only picks which rows.
	slices.SortFunc(msgs, compareOutbox)
	return msgs, nil
}

func compareOutbox(a, b domain.OutboxMessage) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}

func (r *pgOutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	const q = `
		UPDATE notification_outbox
		SET status = 'failed',
		    error  = @error
		WHERE id = @id`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"id": id, "error": reason})
	if err != nil {
		return fmt.Errorf("repo.OutboxRepo.MarkFailed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.OutboxRepo.MarkFailed: %w", domain.ErrNotFound)
	}
	return nil
}
