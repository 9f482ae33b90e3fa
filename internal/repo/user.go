package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/tripcrew/internal/domain"
)

// UserRepo resolves accounts by id or phone number. Read-only.
type UserRepo interface {
	// GetByID returns domain.ErrNotFound if no user has that id.
	GetByID(ctx context.Context, id uuid.UUID) (domain.User, error)

	// GetByPhone returns domain.ErrNotFound if no user owns that phone number.
	GetByPhone(ctx context.Context, phone string) (domain.User, error)

	// ListByPhones returns the users owning any of the given phone numbers.
	// Phones with no account are simply absent from the result.
	ListByPhones(ctx context.Context, phones []string) ([]domain.User, error)
}

type pgUserRepo struct {
	db db
}

// NewUserRepo constructs a UserRepo backed by the provided db connection.
func NewUserRepo(db db) UserRepo {
	return &pgUserRepo{db: db}
}

const userColumns = `id, phone_number, display_name, profile_photo_url, handles`

func (r *pgUserRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = @id`

	u, err := scanUser(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.User{}, fmt.Errorf("repo.UserRepo.GetByID: %w", err)
	}
	return u, nil
}

func (r *pgUserRepo) GetByPhone(ctx context.Context, phone string) (domain.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE phone_number = @phone`

	u, err := scanUser(r.db.QueryRow(ctx, q, pgx.NamedArgs{"phone": phone}))
	if err != nil {
		return domain.User{}, fmt.Errorf("repo.UserRepo.GetByPhone: %w", err)
	}
	return u, nil
}

func (r *pgUserRepo) ListByPhones(ctx context.Context, phones []string) ([]domain.User, error) {
	if len(phones) == 0 {
		return []domain.User{}, nil
	}
	q := `SELECT ` + userColumns + ` FROM users WHERE phone_number = ANY(@phones)`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"phones": phones})
	if err != nil {
		return nil, fmt.Errorf("repo.UserRepo.ListByPhones: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.UserRepo.ListByPhones: scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.UserRepo.ListByPhones: rows: %w", err)
	}
	return users, nil
}

func scanUser(s scanner) (domain.User, error) {
	var (
		u  domain.User
		id pgtype.UUID
	)
	// pgx decodes jsonb straight into the map; NULL leaves it nil.
	err := s.Scan(&id, &u.PhoneNumber, &u.DisplayName, &u.ProfilePhotoURL, &u.Handles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, err
	}
	u.ID = uuid.UUID(id.Bytes)
	return u, nil
}
