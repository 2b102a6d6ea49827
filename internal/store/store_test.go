package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

var anyTime = ArgumentMatcherFunc(func(v interface{}) bool {
	_, ok := v.(time.Time)
	return ok
})

// sessionDocument checks that the bound parameter is the JSON of a session with the given id.
func sessionDocument(id string) ArgumentMatcherFunc {
	return func(v interface{}) bool {
		doc, ok := v.([]byte)
		if !ok {
			return false
		}
		var s Session
		return json.Unmarshal(doc, &s) == nil && s.ID == id
	}
}

const (
	sqlUpsert = `
        INSERT INTO "agent_sessions" (id, name, document, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            document = EXCLUDED.document,
            updated_at = EXCLUDED.updated_at;
    `
	sqlLoad   = `SELECT document FROM "agent_sessions" WHERE id = $1;`
	sqlDelete = `DELETE FROM "agent_sessions" WHERE id = $1;`
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := NewPostgresStore(context.Background(), mockPool, zap.NewNop(), "")
	require.NoError(t, err)
	return s, mockPool
}

func TestNewPostgresStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgresStore(context.Background(), mockPool, zap.NewNop(), "")
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should quote a custom table name", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		s, err := NewPostgresStore(context.Background(), mockPool, zap.NewNop(), `weird"name`)
		require.NoError(t, err)
		assert.Equal(t, `"weird""name"`, s.table)
	})
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	s, mockPool := newMockStore(t)
	mockPool.ExpectExec(`CREATE TABLE IF NOT EXISTS "agent_sessions"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStore_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("upserts the whole document", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		sess := NewSession("sess-1", "demo")
		sess.State = sampleState("goal", 1)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsert)).
			WithArgs("sess-1", "demo", sessionDocument("sess-1"), anyTime, anyTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.Save(ctx, sess))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("wraps driver errors", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		dbErr := errors.New("connection reset")
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsert)).
			WithArgs("sess-1", "demo", pgxmock.AnyArg(), anyTime, anyTime).
			WillReturnError(dbErr)

		err := s.Save(ctx, NewSession("sess-1", "demo"))
		assert.ErrorIs(t, err, dbErr)
	})

	t.Run("rejects invalid ids before touching the database", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		assert.Error(t, s.Save(ctx, NewSession("bad/id", "x")))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStore_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes the stored document", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		want := NewSession("sess-1", "demo")
		want.State = sampleState("goal", 2)
		want.AppendCheckpoint(checkpoint("cp-1", 1, false), DefaultMaxAutoSaves)
		doc, err := json.Marshal(want)
		require.NoError(t, err)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlLoad)).
			WithArgs("sess-1").
			WillReturnRows(pgxmock.NewRows([]string{"document"}).AddRow(doc))

		got, err := s.Load(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, "demo", got.Name)
		assert.Equal(t, "goal", got.State.Goal)
		require.Len(t, got.Checkpoints, 1)
		assert.Equal(t, "cp-1", got.Checkpoints[0].Info.ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("maps no rows to ErrSessionNotFound", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlLoad)).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err := s.Load(ctx, "missing")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestPostgresStore_Delete(t *testing.T) {
	ctx := context.Background()
	s, mockPool := newMockStore(t)

	mockPool.ExpectExec(flexibleSQLMatcher(sqlDelete)).
		WithArgs("sess-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mockPool.ExpectExec(flexibleSQLMatcher(sqlDelete)).
		WithArgs("sess-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, s.Delete(ctx, "sess-1"))
	assert.ErrorIs(t, s.Delete(ctx, "sess-1"), ErrSessionNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStore_List(t *testing.T) {
	ctx := context.Background()
	s, mockPool := newMockStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "name", "goal", "status", "checkpoints", "created_at", "updated_at"}).
		AddRow("b", "second", "goal b", "complete", 3, now, now).
		AddRow("a", "first", "", "", 0, now.Add(-time.Hour), now.Add(-time.Hour))
	mockPool.ExpectQuery(`SELECT id, name,`).WillReturnRows(rows)

	sums, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, "b", sums[0].ID)
	assert.Equal(t, schemas.StatusComplete, sums[0].Status)
	assert.Equal(t, 3, sums[0].Checkpoints)
	assert.Equal(t, "a", sums[1].ID)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
