package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jupiterclapton/friendgraph/internal/core/domain"
	"github.com/jupiterclapton/friendgraph/internal/core/ports"
)

var _ ports.Store = (*PostgresRepo)(nil)

// Codes SQLSTATE traduits en erreurs du domaine
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// Une amitié = une seule ligne, (user1_id < user2_id).
const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id   BIGINT PRIMARY KEY,
	name TEXT   NOT NULL
);
CREATE TABLE IF NOT EXISTS friendships (
	user1_id BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	user2_id BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	PRIMARY KEY (user1_id, user2_id),
	CHECK (user1_id < user2_id)
);
CREATE INDEX IF NOT EXISTS friendships_user2_idx ON friendships (user2_id);
`

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: pool}
}

// EnsureSchema crée les tables si besoin (idempotent)
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("db: ensure schema: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListUsers(ctx context.Context) ([]domain.UserRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM users`)
	if err != nil {
		return nil, fmt.Errorf("db: list users: %w", err)
	}

	// Scan manuel : pas de DTO intermédiaire, les colonnes collent au domaine
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.UserRecord, error) {
		var u domain.UserRecord
		err := row.Scan(&u.ID, &u.Name)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("db: scan users: %w", err)
	}
	return users, nil
}

func (r *PostgresRepo) ListEdges(ctx context.Context) ([]domain.Edge, error) {
	rows, err := r.db.Query(ctx, `SELECT user1_id, user2_id FROM friendships`)
	if err != nil {
		return nil, fmt.Errorf("db: list friendships: %w", err)
	}

	edges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Edge, error) {
		var e domain.Edge
		err := row.Scan(&e.A, &e.B)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("db: scan friendships: %w", err)
	}
	return edges, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, a, b domain.UserID) error {
	e := domain.Edge{A: a, B: b}.Canonical()

	q := `INSERT INTO friendships (user1_id, user2_id) VALUES (@user1, @user2)`
	args := pgx.NamedArgs{
		"user1": e.A,
		"user2": e.B,
	}

	if _, err := r.db.Exec(ctx, q, args); err != nil {
		return r.handleError(err)
	}
	return nil
}

func (r *PostgresRepo) Delete(ctx context.Context, a, b domain.UserID) error {
	e := domain.Edge{A: a, B: b}.Canonical()

	tag, err := r.db.Exec(ctx,
		`DELETE FROM friendships WHERE user1_id = $1 AND user2_id = $2`,
		e.A, e.B,
	)
	if err != nil {
		return r.handleError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFriends
	}
	return nil
}

// UpsertUser sert au seed et aux tests d'intégration ; le service ne crée pas d'utilisateurs.
func (r *PostgresRepo) UpsertUser(ctx context.Context, u domain.UserRecord) error {
	q := `
		INSERT INTO users (id, name) VALUES (@id, @name)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`
	if _, err := r.db.Exec(ctx, q, pgx.NamedArgs{"id": u.ID, "name": u.Name}); err != nil {
		return r.handleError(err)
	}
	return nil
}

// --- HELPERS ---

// handleError traduit les codes d'erreur PostgreSQL en erreurs du Domaine
func (r *PostgresRepo) handleError(err error) error {
	return translatePgError(err)
}

func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return domain.ErrAlreadyFriends
		case pgForeignKeyViolation:
			// L'un des deux n'existe pas (ou plus) en base
			return fmt.Errorf("%w: %s", domain.ErrUnknownUser, pgErr.Detail)
		case pgCheckViolation:
			return domain.ErrSelfFriendship
		}
	}
	return err
}
