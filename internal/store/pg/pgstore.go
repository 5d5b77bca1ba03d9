package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"orgauthz.org/internal/authz"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store implements authz.Store on PostgreSQL. A Store is either bound to the
// pool or, inside InTx, to a single transaction.
type Store struct {
	db *sql.DB
	q  querier
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ authz.Store = (*Store)(nil)

// Open connects to PostgreSQL with pool defaults tuned for short
// authorization queries.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db), nil
}

// NewStore wraps an existing connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users(ctx context.Context) authz.UserStore { return &userStore{q: s.q} }
func (s *Store) Organisations(ctx context.Context) authz.OrganisationStore {
	return &orgStore{q: s.q}
}
func (s *Store) Permissions(ctx context.Context) authz.PermissionStore {
	return &permissionStore{q: s.q}
}
func (s *Store) Agents(ctx context.Context) authz.AgentStore { return &agentStore{q: s.q} }
func (s *Store) Grants(ctx context.Context) authz.GrantStore { return &grantStore{q: s.q} }
func (s *Store) Memberships(ctx context.Context) authz.MembershipStore {
	return &membershipStore{q: s.q}
}

// InTx runs fn inside a database transaction. Nested calls reuse the
// enclosing transaction. The partial unique indexes on agents are the
// backstop for assignment races; their violation surfaces as ErrConflict.
func (s *Store) InTx(ctx context.Context, fn func(authz.Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return authz.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return authz.ErrConflict
		case pgErrForeignKeyViolation:
			return authz.ErrNotFound
		}
	}
	return err
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
