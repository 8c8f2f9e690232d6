package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/usecase/internal/usecase"
	"github.com/pitabwire/usecase/model"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	email       TEXT NOT NULL UNIQUE,
	invited_by  TEXT NOT NULL DEFAULT '',
	token       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS invitations (
	token       TEXT PRIMARY KEY,
	email       TEXT NOT NULL,
	invited_by  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL,
	used_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS invitations_email_idx ON invitations (email);
`

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// txAttempts bounds how often a transaction aborted by a concurrent writer
// is run again.
const txAttempts = 3

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// PgStore is a PostgreSQL-backed Store using pgx/v5. It is also a
// usecase.Transactor: repositories called with the context passed to the
// transaction function run inside that transaction.
type PgStore struct {
	pool *pgxpool.Pool
}

var (
	_ Store              = (*PgStore)(nil)
	_ usecase.Transactor = (*PgStore)(nil)
)

// PoolConfig sizes the connection pool. Zero values keep the pgx defaults.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// OpenPostgres connects a pool and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string, pc PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("users: parsing postgres dsn: %w", err)
	}
	if pc.MaxConns > 0 {
		poolCfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		poolCfg.MinConns = pc.MinConns
	}
	if pc.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = pc.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("users: connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("users: pinging postgres: %w", err)
	}
	return pool, nil
}

// NewPgStore creates a PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("users: migrating schema: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgStore) db(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// WithinTransaction runs fn in a serializable transaction. A nested call
// joins the outer transaction. A transaction aborted by a concurrent writer
// is retried, so fn sees the winner's committed state; when every attempt
// conflicts the error matches model.ErrPreconditionChanged.
func (s *PgStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return retryConflicts(ctx, txAttempts, func() error {
		return s.runTx(ctx, fn)
	})
}

func (s *PgStore) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("users: begin transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("users: rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("users: commit: %w", err)
	}
	return nil
}

// retryConflicts runs attempt until it returns something other than a
// serialization conflict, at most n times.
func retryConflicts(ctx context.Context, n int, attempt func() error) error {
	var err error
	for range n {
		err = attempt()
		if !isConflict(err) {
			return err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("users: %w: %w", model.ErrPreconditionChanged, err)
}

// isConflict reports whether err aborted a transaction because of a
// concurrent transaction.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}

// IsEmailTaken reports whether a user with the given email exists.
func (s *PgStore) IsEmailTaken(ctx context.Context, email Email) (bool, error) {
	var taken bool
	err := s.db(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email.String(),
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("query email: %w", err)
	}
	return taken, nil
}

// CreateUser inserts a new user. The unique email constraint maps to
// ErrEmailTaken.
func (s *PgStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO users (id, email, invited_by, token, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email.String(), user.InvitedBy, user.Token.String(), user.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail returns the user registered under email.
func (s *PgStore) GetUserByEmail(ctx context.Context, email Email) (User, error) {
	var u User
	var emailStr, token string
	err := s.db(ctx).QueryRow(ctx, `
		SELECT id, email, invited_by, token, created_at
		FROM users
		WHERE email = $1`,
		email.String(),
	).Scan(&u.ID, &emailStr, &u.InvitedBy, &token, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	u.Email = Email(emailStr)
	u.Token = InvitationToken(token)
	return u, nil
}

// CreateInvitation inserts a new invitation.
func (s *PgStore) CreateInvitation(ctx context.Context, inv Invitation) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO invitations (token, email, invited_by, created_at, expires_at, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		inv.Token.String(), inv.Email.String(), inv.InvitedBy, inv.CreatedAt, inv.ExpiresAt, inv.UsedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

// GetByToken returns the invitation for token.
func (s *PgStore) GetByToken(ctx context.Context, token InvitationToken) (Invitation, error) {
	var inv Invitation
	var tokenStr, emailStr string
	err := s.db(ctx).QueryRow(ctx, `
		SELECT token, email, invited_by, created_at, expires_at, used_at
		FROM invitations
		WHERE token = $1`,
		token.String(),
	).Scan(&tokenStr, &emailStr, &inv.InvitedBy, &inv.CreatedAt, &inv.ExpiresAt, &inv.UsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invitation{}, ErrInvitationNotFound
	}
	if err != nil {
		return Invitation{}, fmt.Errorf("query invitation: %w", err)
	}
	inv.Token = InvitationToken(tokenStr)
	inv.Email = Email(emailStr)
	return inv, nil
}

// MarkUsed sets used_at on an unused invitation.
func (s *PgStore) MarkUsed(ctx context.Context, token InvitationToken, at time.Time) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE invitations SET used_at = $2
		WHERE token = $1 AND used_at IS NULL`,
		token.String(), at,
	)
	if err != nil {
		return fmt.Errorf("update invitation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByToken(ctx, token); err != nil {
			return err
		}
		return ErrInvitationUsed
	}
	return nil
}
