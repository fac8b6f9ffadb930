package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T, opts Options) *SQLStore {
	t.Helper()

	store, err := NewSQLiteStore(":memory:", opts)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStore_AppendAndListRecent(t *testing.T) {
	store := newTestSQLiteStore(t, Options{Now: steppingClock(baseTime, time.Minute)})
	ctx := context.Background()

	in := sampleInput(t, "Caterpillar Infestation", 92)
	clientTS := time.Date(2025, 2, 28, 8, 30, 0, 0, time.UTC)
	in.ClientTimestamp = &clientTS
	first, err := store.Append(ctx, in)
	require.NoError(t, err)
	second, err := store.Append(ctx, sampleInput(t, "Leaf Flaccidity", 55))
	require.NoError(t, err)

	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "2", second.ID)

	records, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "2", records[0].ID)
	got := records[1]
	assert.Equal(t, "1", got.ID)
	assert.Equal(t, baseTime, got.ReceivedAt)
	assert.Equal(t, "Caterpillar Infestation", got.DisplayName)
	assert.Equal(t, "CCI_Caterpillars", got.DiseaseCode)
	assert.Equal(t, 92, got.ConfidencePercent)
	assert.EqualValues(t, "high", got.SeverityTier)
	assert.Equal(t, "device-7", got.DeviceID)
	assert.Equal(t, &Location{Latitude: 10.5, Longitude: 76.2}, got.Location)
	assert.Equal(t, "Pixel", got.DeviceMetadata["model"])
	require.NotNil(t, got.ClientTimestamp)
	assert.True(t, clientTS.Equal(*got.ClientTimestamp))
}

func TestSQLStore_ListRecentHonoursLimitAndTies(t *testing.T) {
	store := newTestSQLiteStore(t, Options{Now: fixedClock(baseTime)})
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := store.Append(ctx, sampleInput(t, name, 30))
		require.NoError(t, err)
	}

	records, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].DisplayName)
	assert.Equal(t, "b", records[1].DisplayName)
}

func TestSQLStore_ClientIDUpserts(t *testing.T) {
	store := newTestSQLiteStore(t, Options{Now: steppingClock(baseTime, time.Second)})
	ctx := context.Background()

	in := sampleInput(t, "Leaf Yellowing Disease", 55)
	in.ClientID = "scan-abc"
	first, err := store.Append(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "scan-abc", first.ID)

	in.UserNotes = "rechecked"
	_, err = store.Append(ctx, in)
	require.NoError(t, err)

	records, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "scan-abc", records[0].ID)
	assert.Equal(t, "rechecked", records[0].UserNotes)
}

func TestSQLStore_ClientIDMatchingSequenceIDUpserts(t *testing.T) {
	store := newTestSQLiteStore(t, Options{Now: steppingClock(baseTime, time.Second)})
	ctx := context.Background()

	auto, err := store.Append(ctx, sampleInput(t, "auto", 20))
	require.NoError(t, err)
	require.Equal(t, "1", auto.ID)

	in := sampleInput(t, "client", 20)
	in.ClientID = "1"
	_, err = store.Append(ctx, in)
	require.NoError(t, err)

	records, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].ID)
	assert.Equal(t, "client", records[0].DisplayName)
}

func TestSQLStore_SequenceIDSkipsClientIDs(t *testing.T) {
	store := newTestSQLiteStore(t, Options{Now: steppingClock(baseTime, time.Second)})
	ctx := context.Background()

	in := sampleInput(t, "client", 20)
	in.ClientID = "2"
	_, err := store.Append(ctx, in)
	require.NoError(t, err)

	// the client row holds seq 1 under id "2", so the next row skips seq 2
	next, err := store.Append(ctx, sampleInput(t, "auto", 20))
	require.NoError(t, err)
	assert.Equal(t, "3", next.ID)

	records, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	seen := map[string]bool{}
	for _, record := range records {
		assert.False(t, seen[record.ID], "duplicate id %s", record.ID)
		seen[record.ID] = true
	}
	assert.Equal(t, "auto", records[0].DisplayName)
}

func TestSQLStore_EmptyMapsRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t, Options{})
	ctx := context.Background()

	in := sampleInput(t, "Healthy Coconut", 20)
	in.Predictions = map[string]any{}
	in.DeviceMetadata = nil
	_, err := store.Append(ctx, in)
	require.NoError(t, err)

	records, err := store.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotNil(t, records[0].Predictions)
	assert.Empty(t, records[0].Predictions)
	assert.Nil(t, records[0].DeviceMetadata)
}

func TestSQLStore_RequireDeviceID(t *testing.T) {
	store := newTestSQLiteStore(t, Options{RequireDeviceID: true})

	in := sampleInput(t, "Healthy Coconut", 20)
	in.DeviceID = ""
	_, err := store.Append(context.Background(), in)
	assert.True(t, IsInvalid(err))
}

func TestSQLStore_Ping(t *testing.T) {
	store := newTestSQLiteStore(t, Options{})
	assert.NoError(t, store.Ping(context.Background()))
	assert.Equal(t, KindSQLite, store.Kind())
}

func newMockPostgresStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db, DialectPostgres, Options{Now: fixedClock(baseTime)}), mock
}

func TestSQLStore_PostgresRebindsPlaceholders(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO scans .* VALUES \(\$1, \$2, \$3, .*\$16\) ON CONFLICT \(id\)`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(7))
	mock.ExpectExec(`UPDATE scans SET id = \$1 WHERE seq = \$2 AND NOT EXISTS \(SELECT 1 FROM scans WHERE id = \$3\)`).
		WithArgs("7", int64(7), "7").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record, err := store.Append(context.Background(), sampleInput(t, "Caterpillar Infestation", 92))
	require.NoError(t, err)
	assert.Equal(t, "7", record.ID)
	assert.Equal(t, KindPostgres, store.Kind())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DriverFailureIsUnavailable(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO scans`).WillReturnError(errors.New("connection refused"))
	mock.ExpectRollback()

	_, err := store.Append(context.Background(), sampleInput(t, "Caterpillar Infestation", 92))
	assert.True(t, IsUnavailable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ConstraintViolationIsInvalid(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO scans`).WillReturnError(&pgconn.PgError{Code: "23514", Message: "check violation"})
	mock.ExpectRollback()

	_, err := store.Append(context.Background(), sampleInput(t, "Caterpillar Infestation", 92))
	assert.True(t, IsInvalid(err))
}

func TestSQLStore_ListRecentUsesDefaultLimit(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM scans ORDER BY received_at DESC, seq DESC LIMIT \$1`).
		WithArgs(defaultSQLListLimit).
		WillReturnRows(sqlmock.NewRows([]string{
			"seq", "id", "received_at", "display_name", "disease_code", "confidence_percent", "severity_tier",
			"image_url", "recommendation", "user_notes", "status", "device_id",
			"predictions", "device_metadata", "location", "client_timestamp", "raw_submission",
		}).AddRow(
			3, "3", "2025-03-01T12:00:00.000000000Z", "Leaf Flaccidity", "WCLWD_Flaccidity", 64, "medium",
			"https://images.example/3.jpg", nil, nil, "REAL MOBILE UPLOAD", nil,
			`{"WCLWD_Flaccidity":0.64}`, nil, `{"latitude":1,"longitude":2}`, nil, nil,
		))

	records, err := store.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "3", records[0].ID)
	assert.Equal(t, baseTime, records[0].ReceivedAt)
	assert.Equal(t, &Location{Latitude: 1, Longitude: 2}, records[0].Location)
	assert.Nil(t, records[0].DeviceMetadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Rebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	lite := &SQLStore{dialect: DialectSQLite}

	assert.Equal(t, "SELECT $1, $2", pg.rebind("SELECT ?, ?"))
	assert.Equal(t, "SELECT ?, ?", lite.rebind("SELECT ?, ?"))
}
