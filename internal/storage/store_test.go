package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/smart-import/internal/datanorm"
)

func dailyRecord(date string, reach int64) datanorm.NormalizedRecord {
	return datanorm.NormalizedRecord{
		ClientID: "client-1",
		Platform: datanorm.PlatformInstagram,
		Kind:     datanorm.KindReach,
		Table:    datanorm.DailyTable,
		Date:     date,
		Fields:   map[string]datanorm.Value{"reach": datanorm.IntValue(reach)},
	}
}

func postRecord(id string) datanorm.NormalizedRecord {
	return datanorm.NormalizedRecord{
		ClientID:   "client-1",
		Platform:   datanorm.PlatformInstagram,
		Kind:       datanorm.KindPosts,
		Table:      "social_posts",
		ExternalID: id,
		Fields:     map[string]datanorm.Value{"likes": datanorm.IntValue(4)},
		Extra:      map[string]string{"notes": "pinned"},
	}
}

// =============================================================================
// POSTGRES
// =============================================================================

func TestPostgresUpsertDailyMetric(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fields := map[string]datanorm.Value{
		"reach": datanorm.IntValue(10),
		"views": {Type: datanorm.TypeInt, Imputed: true},
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO daily_metrics")).
		WithArgs("client-1", "instagram", "reach", "2024-03-01", `{"views":0}`, `{"reach":10}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresStore(db)
	err = s.UpsertDailyMetric(context.Background(), "client-1", datanorm.PlatformInstagram, datanorm.KindReach, "2024-03-01", fields)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertDailyRejectsNonCanonicalDate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)
	err = s.UpsertDailyMetric(context.Background(), "c", datanorm.PlatformInstagram, datanorm.KindReach, "01/03/2024", nil)
	assert.ErrorIs(t, err, datanorm.ErrInvalidDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertEntity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "youtube_videos"`)).
		WithArgs("client-1", "youtube", "abc", `{}`, `{"title":"Launch"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresStore(db)
	err = s.UpsertEntity(context.Background(), "client-1", datanorm.PlatformYouTube, "youtube_videos", "abc",
		map[string]datanorm.Value{"title": datanorm.StringValue("Launch"), "notes": datanorm.StringValue("")})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertEntityUnknownTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)
	err = s.UpsertEntity(context.Background(), "c", datanorm.PlatformYouTube, "users; DROP TABLE x", "1", nil)
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestPostgresUpsertRecordsIsolatesFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT record_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO daily_metrics")).WillReturnError(errors.New("constraint violation"))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT record_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT record_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "social_posts"`)).
		WithArgs("client-1", "instagram", "p1", `{}`, `{"likes":4,"notes":"pinned"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("RELEASE SAVEPOINT record_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	s := NewPostgresStore(db)
	res, err := Commit(context.Background(), s, []datanorm.NormalizedRecord{dailyRecord("2024-03-01", 1), postRecord("p1")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.ErrorContains(t, res.FirstError, "constraint violation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertRecordsRollbackToSavepointFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT record_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "social_posts"`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("RELEASE SAVEPOINT record_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT record_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO daily_metrics")).WillReturnError(errors.New("constraint violation"))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT record_sp").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	s := NewPostgresStore(db)
	res, err := s.UpsertRecords(context.Background(), []datanorm.NormalizedRecord{
		postRecord("p1"), dailyRecord("2024-03-01", 1), dailyRecord("2024-03-02", 2),
	})
	require.NoError(t, err)
	assert.Zero(t, res.Succeeded, "the earlier record is rolled back with the group")
	assert.Equal(t, 3, res.Failed)
	assert.ErrorContains(t, res.FirstError, "connection reset")
	assert.ErrorContains(t, res.FirstError, "constraint violation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertRecordsReleaseSavepointFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT record_sp").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO daily_metrics")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("RELEASE SAVEPOINT record_sp").WillReturnError(errors.New("current transaction is aborted"))
	mock.ExpectRollback()

	s := NewPostgresStore(db)
	res, err := s.UpsertRecords(context.Background(), []datanorm.NormalizedRecord{
		dailyRecord("2024-03-01", 1), dailyRecord("2024-03-02", 2),
	})
	require.NoError(t, err)
	assert.Zero(t, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	assert.ErrorContains(t, res.FirstError, "release savepoint")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertRecordsBeginFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	s := NewPostgresStore(db)
	_, err = s.UpsertRecords(context.Background(), []datanorm.NormalizedRecord{dailyRecord("2024-03-01", 1)})
	assert.ErrorContains(t, err, "connection refused")
}

// =============================================================================
// MEMORY
// =============================================================================

func TestMemoryStoreMerge(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertDailyMetric(ctx, "c", datanorm.PlatformInstagram, datanorm.KindReach, "2024-03-01",
		map[string]datanorm.Value{"reach": datanorm.IntValue(100)}))
	// an imputed zero does not replace stored data
	require.NoError(t, s.UpsertDailyMetric(ctx, "c", datanorm.PlatformInstagram, datanorm.KindReach, "2024-03-01",
		map[string]datanorm.Value{"reach": {Type: datanorm.TypeInt, Imputed: true}}))

	row, ok := s.Daily("c", datanorm.PlatformInstagram, datanorm.KindReach, "2024-03-01")
	require.True(t, ok)
	assert.Equal(t, int64(100), row["reach"].Int)

	require.NoError(t, s.UpsertDailyMetric(ctx, "c", datanorm.PlatformInstagram, datanorm.KindReach, "2024-03-01",
		map[string]datanorm.Value{"reach": datanorm.IntValue(120)}))
	row, _ = s.Daily("c", datanorm.PlatformInstagram, datanorm.KindReach, "2024-03-01")
	assert.Equal(t, int64(120), row["reach"].Int)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreIdempotent(t *testing.T) {
	s := NewMemoryStore()
	records := []datanorm.NormalizedRecord{dailyRecord("2024-03-01", 5), postRecord("p1")}

	for i := 0; i < 2; i++ {
		res, err := Commit(context.Background(), s, records)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Succeeded)
	}
	assert.Equal(t, 2, s.Len())

	row, ok := s.Entity("client-1", datanorm.PlatformInstagram, "social_posts", "p1")
	require.True(t, ok)
	assert.Equal(t, "pinned", row["notes"].Text)
}

func TestCommitCountsFailures(t *testing.T) {
	s := NewMemoryStore()
	s.FailOn = "2024-03-02"

	res, err := Commit(context.Background(), s, []datanorm.NormalizedRecord{
		dailyRecord("2024-03-01", 1),
		dailyRecord("2024-03-02", 2),
		dailyRecord("2024-03-03", 3),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.ErrorContains(t, res.FirstError, "injected failure")
}

func TestCommitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Commit(ctx, NewMemoryStore(), []datanorm.NormalizedRecord{dailyRecord("2024-03-01", 1)})
	assert.ErrorIs(t, err, context.Canceled)
}
