package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStoreFromDB(sqlx.NewDb(db, "sqlmock"), 3, nil), mock
}

func TestPostgresStore_Insert(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(insertRecordSQL).
		WithArgs(sqlmock.AnyArg(), "course-1", "intro to networking", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(7)))

	id, err := store.Insert(context.Background(), Record{
		Reference: "course-1",
		Content:   "intro to networking",
		Embedding: []float32{1, 0, 0},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertValidatesBeforeQuery(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	_, err := store.Insert(context.Background(), Record{Reference: "r", Content: "c", Embedding: []float32{1}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// pgvector's <=> yields NaN for a zero vector.
	_, err = store.Insert(context.Background(), Record{Reference: "r", Content: "c", Embedding: []float32{0, 0, 0}})
	assert.ErrorIs(t, err, ErrInvalidVector)
	_, err = store.Search(context.Background(), []float32{0, 0, 0}, 3)
	assert.ErrorIs(t, err, ErrInvalidVector)

	assert.ErrorIs(t, store.DeleteByReference(context.Background(), ""), ErrInvalidRecord)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertError(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(insertRecordSQL).WillReturnError(errors.New("connection reset"))

	_, err := store.Insert(context.Background(), Record{Reference: "r", Content: "c", Embedding: []float32{1, 0, 0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgresStore_DeleteByReference(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectExec(deleteByReferenceSQL).
		WithArgs("course-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(deleteByReferenceSQL).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.DeleteByReference(context.Background(), "course-1"))
	require.NoError(t, store.DeleteByReference(context.Background(), "missing"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Search(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	rows := sqlmock.NewRows([]string{"id", "reference", "content", "seq", "distance"}).
		AddRow("id-1", "course-1", "cloud basics", int64(1), 0.05).
		AddRow("id-2", "course-2", "routing tables", int64(2), 0.4)
	mock.ExpectQuery(searchSQL).
		WithArgs(sqlmock.AnyArg(), 2).
		WillReturnRows(rows)

	matches, err := store.Search(context.Background(), []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "cloud basics", matches[0].Content)
	assert.Equal(t, "course-1", matches[0].Reference)
	assert.Equal(t, int64(1), matches[0].Seq)
	assert.InDelta(t, 0.05, matches[0].Distance, 1e-9)
	assert.Equal(t, "routing tables", matches[1].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchShortCircuits(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	matches, err := store.Search(context.Background(), []float32{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)

	_, err = store.Search(context.Background(), []float32{1, 0, 0}, -1)
	assert.ErrorIs(t, err, ErrInvalidTopK)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CheckDimension(t *testing.T) {
	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		wantErr error
	}{
		{"empty table", sqlmock.NewRows([]string{"vector_dims"}), nil},
		{"same dimension", sqlmock.NewRows([]string{"vector_dims"}).AddRow(3), nil},
		{"model changed", sqlmock.NewRows([]string{"vector_dims"}).AddRow(1536), ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockPostgresStore(t)
			mock.ExpectQuery(storedDimensionSQL).WillReturnRows(tt.rows)

			err := store.CheckDimension(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, (&PostgresConfig{Dimension: 3}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&PostgresConfig{DSN: "postgres://localhost/db"}).Validate(), ErrInvalidConfig)
	assert.NoError(t, (&PostgresConfig{DSN: "postgres://localhost/db", Dimension: 3}).Validate())
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_create_embedding_records.up.sql")
	assert.Contains(t, names, "000001_create_embedding_records.down.sql")
}
