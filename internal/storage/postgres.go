package storage

import (
	"context"
	"embed"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements KeyEventStore and IngestStore for PostgreSQL
type PostgresStore struct {
	dsn  string
	opts Options

	mu     sync.RWMutex
	db     *sqlx.DB
	closed bool
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(dsn string, opts Options) (*PostgresStore, error) {
	db, err := open(context.Background(), dsn, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{dsn: dsn, opts: opts, db: db}, nil
}

func open(ctx context.Context, dsn string, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// getDB returns the current handle
func (s *PostgresStore) getDB() (*sqlx.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.db, nil
}

// Reconnect opens a fresh pool and swaps it in
func (s *PostgresStore) Reconnect(ctx context.Context) error {
	db, err := open(ctx, s.dsn, s.opts)
	if err != nil {
		return wrap("reconnect", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		db.Close()
		return ErrClosed
	}
	old := s.db
	s.db = db
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	log.Info().Msg("Database connection re-established")
	return nil
}

// Migrate applies the embedded schema migrations and returns how many ran
func (s *PostgresStore) Migrate() (int, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	return Migrate(db)
}

// Migrate applies the embedded schema migrations on db
func Migrate(db *sqlx.DB) (int, error) {
	migrations := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}

	n, err := migrate.Exec(db.DB, "postgres", migrations, migrate.Up)
	if err != nil {
		return n, fmt.Errorf("run migrations: %w", err)
	}
	return n, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
