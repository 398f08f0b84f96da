package vectorstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	insertRecordSQL = `INSERT INTO embedding_records (id, reference, content, embedding)
VALUES ($1, $2, $3, $4)
RETURNING seq`

	deleteByReferenceSQL = `DELETE FROM embedding_records WHERE reference = $1`

	searchSQL = `SELECT id, reference, content, seq, embedding <=> $1 AS distance
FROM embedding_records
ORDER BY distance ASC, seq ASC
LIMIT $2`

	storedDimensionSQL = `SELECT vector_dims(embedding) FROM embedding_records LIMIT 1`
)

// PostgresConfig holds configuration for the pgvector store.
type PostgresConfig struct {
	DSN          string
	Dimension    int
	MaxOpenConns int
	AutoMigrate  bool
}

// Validate validates the configuration.
func (c *PostgresConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("%w: dsn is required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// PostgresStore implements Store on PostgreSQL with the pgvector extension.
// Ranking happens in SQL with the <=> (cosine distance) operator over the
// full table, so results are exact.
type PostgresStore struct {
	db     *sqlx.DB
	dim    int
	logger *zap.Logger
}

type searchRow struct {
	ID        string  `db:"id"`
	Reference string  `db:"reference"`
	Content   string  `db:"content"`
	Seq       int64   `db:"seq"`
	Distance  float64 `db:"distance"`
}

// NewPostgresStore opens a connection pool and optionally applies migrations.
func NewPostgresStore(ctx context.Context, config PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxOpenConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if config.AutoMigrate {
		if err := Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	store := NewPostgresStoreFromDB(db, config.Dimension, logger)
	if err := store.CheckDimension(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// CheckDimension compares the configured dimension with the vectors already
// stored. The embedding column is an untyped vector so one schema serves
// every model; this check stands in for vector(D) after a model change.
func (s *PostgresStore) CheckDimension(ctx context.Context) error {
	var stored int
	err := s.db.QueryRowxContext(ctx, storedDimensionSQL).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("reading stored dimension: %w", err)
	case stored != s.dim:
		return fmt.Errorf("%w: table holds %d-dimensional vectors, configured dimension is %d",
			ErrDimensionMismatch, stored, s.dim)
	}
	return nil
}

// NewPostgresStoreFromDB wraps an existing connection pool.
func NewPostgresStoreFromDB(db *sqlx.DB, dim int, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{db: db, dim: dim, logger: logger}
}

// Migrate applies every pending schema migration.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, rec Record) (string, error) {
	if err := validateRecord(rec, s.dim); err != nil {
		return "", err
	}

	id := uuid.NewString()
	var seq int64
	err := s.db.QueryRowxContext(ctx, insertRecordSQL,
		id, rec.Reference, rec.Content, pgvector.NewVector(rec.Embedding),
	).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("inserting record: %w", err)
	}

	s.logger.Debug("inserted record into postgres",
		zap.String("id", id),
		zap.String("reference", rec.Reference),
		zap.Int64("seq", seq),
	)
	return id, nil
}

// DeleteByReference implements Store. One DELETE statement is atomic.
func (s *PostgresStore) DeleteByReference(ctx context.Context, reference string) error {
	if err := validateReference(reference); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, deleteByReferenceSQL, reference)
	if err != nil {
		return fmt.Errorf("deleting reference %s: %w", reference, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.Debug("deleted postgres records by reference",
			zap.String("reference", reference),
			zap.Int64("removed", n),
		)
	}
	return nil
}

// Search implements Store.
func (s *PostgresStore) Search(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if topK < 0 {
		return nil, ErrInvalidTopK
	}
	if err := validateVector(vector, s.dim); err != nil {
		return nil, err
	}
	if topK == 0 {
		return []Match{}, nil
	}

	var rows []searchRow
	if err := s.db.SelectContext(ctx, &rows, searchSQL, pgvector.NewVector(vector), topK); err != nil {
		return nil, fmt.Errorf("searching records: %w", err)
	}

	matches := make([]Match, len(rows))
	for i, r := range rows {
		matches[i] = Match{
			Record: Record{
				ID:        r.ID,
				Reference: r.Reference,
				Content:   r.Content,
				Seq:       r.Seq,
			},
			Distance: r.Distance,
		}
	}
	return matches, nil
}

// Dimension implements Store.
func (s *PostgresStore) Dimension() int { return s.dim }

// Close closes the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

var _ Store = (*PostgresStore)(nil)
