package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"letterdesk/internal/apperr"
	"letterdesk/internal/model"
)

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type ProfileRepository struct {
	db DB
}

func NewProfileRepository(db DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// EnsureSchema creates the profiles table when missing.
func (r *ProfileRepository) EnsureSchema(ctx context.Context) error {
	query := `
        CREATE TABLE IF NOT EXISTS profiles (
            email      TEXT PRIMARY KEY,
            data       JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )
    `
	_, err := r.db.Exec(ctx, query)
	return err
}

// Get returns the saved profile of email.
func (r *ProfileRepository) Get(ctx context.Context, email string) (*model.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	query := `
        SELECT email, data, updated_at
        FROM profiles
        WHERE email = $1
    `
	var p model.Profile
	var data []byte
	err := r.db.QueryRow(ctx, query, email).Scan(&p.Email, &data, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("profile", email)
	}
	if err != nil {
		return nil, err
	}
	p.Data = data
	return &p, nil
}

// Save upserts the profile of email.
func (r *ProfileRepository) Save(ctx context.Context, email string, data json.RawMessage) (*model.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperr.Invalid("email", "required")
	}
	if len(data) == 0 || !json.Valid(data) {
		return nil, apperr.Invalid("data", "must be a JSON document")
	}
	query := `
        INSERT INTO profiles (email, data, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (email) DO UPDATE
        SET data = EXCLUDED.data, updated_at = NOW()
        RETURNING updated_at
    `
	p := model.Profile{Email: email, Data: data}
	if err := r.db.QueryRow(ctx, query, email, string(data)).Scan(&p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
