package userstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	// Database drivers: "sqlite" (pure Go) and "pgx".
	_ "github.com/glebarez/go-sqlite"
	_ "github.com/jackc/pgx/v5/stdlib"

	"quarantine-drop/internal/errs"
)

//go:embed migrations
var migrationsFS embed.FS

// SQL dialects understood by OpenSQL.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQLStore keeps users in a "users" table. The primary key makes duplicate
// usernames impossible; the mutex additionally keeps a single writer per
// process so conflict detection stays a simple affected-rows check.
type SQLStore struct {
	mu sync.Mutex
	db *sqlx.DB
}

// OpenSQL connects to dsn using dialect, applies the schema and returns the store.
func OpenSQL(ctx context.Context, dialect, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is empty")
	}

	var driver string
	switch dialect {
	case DialectSQLite:
		driver = "sqlite"
	case DialectPostgres:
		driver = "pgx"
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if dialect == DialectSQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := applySchema(ctx, dialect, db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dialect, err)
	}

	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Get(ctx context.Context, username string) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u,
		`SELECT username, password_hash, created_at FROM users WHERE username = $1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, errs.ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *SQLStore) Create(ctx context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO NOTHING`,
		u.Username, u.PasswordHash, created)
	if err != nil {
		return &errs.PersistenceError{Op: "insert user", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &errs.PersistenceError{Op: "insert user", Err: err}
	}
	if n == 0 {
		return errs.ErrAlreadyExists
	}
	return nil
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
