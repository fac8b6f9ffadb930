package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jo-hoe/plantscan/internal/backend/taxonomy"
)

// Dialect selects the SQL flavour spoken by a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const defaultSQLListLimit = 100

// receivedAtLayout is fixed width so that text ordering equals time ordering.
const receivedAtLayout = "2006-01-02T15:04:05.000000000Z"

var errMissingDeviceID = errors.New("device id is required")

// SQLStore keeps one row per scan, keyed by a unique id column. The
// auto-increment seq column supplies ids for rows without a client id and
// breaks receipt-time ties.
type SQLStore struct {
	db              *sql.DB
	dialect         Dialect
	listLimit       int
	requireDeviceID bool
	opts            Options
}

// NewSQLiteStore opens a SQLite database, e.g. "scans.db" or ":memory:".
func NewSQLiteStore(connectionString string, opts Options) (*SQLStore, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and avoids writer contention
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragma: %w", err)
	}
	return NewSQLStore(db, DialectSQLite, opts), nil
}

// NewPostgresStore opens a PostgreSQL database through the pgx driver.
func NewPostgresStore(connectionString string, opts Options) (*SQLStore, error) {
	db, err := sql.Open("pgx", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewSQLStore(db, DialectPostgres, opts), nil
}

// NewSQLStore wraps an already opened database.
func NewSQLStore(db *sql.DB, dialect Dialect, opts Options) *SQLStore {
	return &SQLStore{
		db:              db,
		dialect:         dialect,
		listLimit:       opts.listLimit(defaultSQLListLimit),
		requireDeviceID: opts.RequireDeviceID,
		opts:            opts,
	}
}

func (s *SQLStore) Kind() string {
	if s.dialect == DialectPostgres {
		return KindPostgres
	}
	return KindSQLite
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	seqColumn := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == DialectPostgres {
		seqColumn = "seq BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS scans (
		` + seqColumn + `,
		id TEXT NOT NULL UNIQUE,
		received_at TEXT NOT NULL,
		display_name TEXT NOT NULL,
		disease_code TEXT NOT NULL,
		confidence_percent INTEGER NOT NULL CHECK (confidence_percent BETWEEN 0 AND 100),
		severity_tier TEXT NOT NULL,
		image_url TEXT,
		recommendation TEXT,
		user_notes TEXT,
		status TEXT,
		device_id TEXT,
		predictions TEXT,
		device_metadata TEXT,
		location TEXT,
		client_timestamp TEXT,
		raw_submission TEXT
	)`,
		"CREATE INDEX IF NOT EXISTS idx_scans_received_at ON scans (received_at DESC, seq DESC)",
	}
	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return s.classify("ensure schema", err)
		}
	}
	return nil
}

const upsertScanSQL = `INSERT INTO scans (
	id, received_at, display_name, disease_code, confidence_percent, severity_tier,
	image_url, recommendation, user_notes, status, device_id,
	predictions, device_metadata, location, client_timestamp, raw_submission
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	received_at = excluded.received_at,
	display_name = excluded.display_name,
	disease_code = excluded.disease_code,
	confidence_percent = excluded.confidence_percent,
	severity_tier = excluded.severity_tier,
	image_url = excluded.image_url,
	recommendation = excluded.recommendation,
	user_notes = excluded.user_notes,
	status = excluded.status,
	device_id = excluded.device_id,
	predictions = excluded.predictions,
	device_metadata = excluded.device_metadata,
	location = excluded.location,
	client_timestamp = excluded.client_timestamp,
	raw_submission = excluded.raw_submission
RETURNING seq`

// claimSequenceIDSQL gives a freshly inserted row its sequence number as id
// unless a client supplied id already holds that value.
const claimSequenceIDSQL = `UPDATE scans SET id = ?
WHERE seq = ? AND NOT EXISTS (SELECT 1 FROM scans WHERE id = ?)`

const discardPendingSQL = `DELETE FROM scans WHERE seq = ?`

// maxSequenceAttempts bounds how many sequence numbers an append may skip
// over because client ids already hold them.
const maxSequenceAttempts = 16

const pendingIDPrefix = "pending:"

// Append stores the record in one transaction. A client id is an upsert key
// on the id column; without one the row is inserted under a pending id and
// then takes its sequence number as id, so both kinds share one id space.
func (s *SQLStore) Append(ctx context.Context, in ScanRecordInput) (*ScanRecord, error) {
	const op = "append"
	if err := validateInput(op, &in); err != nil {
		return nil, err
	}
	if s.requireDeviceID && strings.TrimSpace(in.DeviceID) == "" {
		return nil, invalid(op, errMissingDeviceID)
	}

	receivedAt := s.opts.now()
	args, err := insertArgs(in, receivedAt)
	if err != nil {
		return nil, invalid(op, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.classify(op, err)
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	id := in.ClientID
	if id != "" {
		args[0] = id
		if err := tx.QueryRowContext(ctx, s.rebind(upsertScanSQL), args...).Scan(new(int64)); err != nil {
			return nil, s.classify(op, err)
		}
	} else if id, err = s.insertWithSequenceID(ctx, tx, args); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, s.classify(op, err)
	}
	return &ScanRecord{ID: id, ReceivedAt: receivedAt, ScanRecordInput: in}, nil
}

func (s *SQLStore) insertWithSequenceID(ctx context.Context, tx *sql.Tx, args []any) (string, error) {
	const op = "append"
	for attempt := 0; attempt < maxSequenceAttempts; attempt++ {
		args[0] = pendingIDPrefix + generateID()

		var seq int64
		if err := tx.QueryRowContext(ctx, s.rebind(upsertScanSQL), args...).Scan(&seq); err != nil {
			return "", s.classify(op, err)
		}

		id := strconv.FormatInt(seq, 10)
		result, err := tx.ExecContext(ctx, s.rebind(claimSequenceIDSQL), id, seq, id)
		if err != nil {
			return "", unavailable(op, err)
		}
		claimed, err := result.RowsAffected()
		if err != nil {
			return "", unavailable(op, err)
		}
		if claimed == 1 {
			return id, nil
		}

		// a client id already owns this number; drop the row and draw the next one
		if _, err := tx.ExecContext(ctx, s.rebind(discardPendingSQL), seq); err != nil {
			return "", unavailable(op, err)
		}
	}
	return "", unavailable(op, fmt.Errorf("no free sequence id after %d attempts", maxSequenceAttempts))
}

const selectScansSQL = `SELECT
	seq, id, received_at, display_name, disease_code, confidence_percent, severity_tier,
	image_url, recommendation, user_notes, status, device_id,
	predictions, device_metadata, location, client_timestamp, raw_submission
FROM scans ORDER BY received_at DESC, seq DESC LIMIT ?`

func (s *SQLStore) ListRecent(ctx context.Context, limit int) ([]*ScanRecord, error) {
	const op = "list"
	rows, err := s.db.QueryContext(ctx, s.rebind(selectScansSQL), clampLimit(limit, s.listLimit))
	if err != nil {
		return nil, s.classify(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	records := []*ScanRecord{}
	for rows.Next() {
		record, err := scanRow(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(op, err)
	}
	return records, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// classify maps constraint violations to Invalid and everything else to Unavailable.
func (s *SQLStore) classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return invalid(op, err)
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return invalid(op, err)
	}
	return unavailable(op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*ScanRecord, error) {
	var (
		record     ScanRecord
		seq        int64
		receivedAt string
		severity   string
		id         string
		imageURL   sql.NullString
		recommend  sql.NullString
		userNotes  sql.NullString
		status     sql.NullString
		deviceID   sql.NullString
		preds      sql.NullString
		deviceMeta sql.NullString
		location   sql.NullString
		clientTS   sql.NullString
		rawSub     sql.NullString
	)
	err := row.Scan(
		&seq, &id, &receivedAt, &record.DisplayName, &record.DiseaseCode, &record.ConfidencePercent, &severity,
		&imageURL, &recommend, &userNotes, &status, &deviceID,
		&preds, &deviceMeta, &location, &clientTS, &rawSub,
	)
	if err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	record.ID = id
	if record.ReceivedAt, err = time.Parse(receivedAtLayout, receivedAt); err != nil {
		return nil, fmt.Errorf("parse received_at of row %d: %w", seq, err)
	}
	record.SeverityTier = taxonomy.SeverityTier(severity)
	record.ImageURL = imageURL.String
	record.Recommendation = recommend.String
	record.UserNotes = userNotes.String
	record.Status = status.String
	record.DeviceID = deviceID.String

	if err := decodeJSONColumn(preds, &record.Predictions); err != nil {
		return nil, fmt.Errorf("decode predictions of row %d: %w", seq, err)
	}
	if err := decodeJSONColumn(deviceMeta, &record.DeviceMetadata); err != nil {
		return nil, fmt.Errorf("decode device_metadata of row %d: %w", seq, err)
	}
	if err := decodeJSONColumn(location, &record.Location); err != nil {
		return nil, fmt.Errorf("decode location of row %d: %w", seq, err)
	}
	if err := decodeJSONColumn(rawSub, &record.RawSubmission); err != nil {
		return nil, fmt.Errorf("decode raw_submission of row %d: %w", seq, err)
	}
	if clientTS.Valid && clientTS.String != "" {
		ts, err := time.Parse(time.RFC3339Nano, clientTS.String)
		if err != nil {
			return nil, fmt.Errorf("parse client_timestamp of row %d: %w", seq, err)
		}
		record.ClientTimestamp = &ts
	}
	return &record, nil
}

func insertArgs(in ScanRecordInput, receivedAt time.Time) ([]any, error) {
	predictions, err := encodeJSONColumn(in.Predictions)
	if err != nil {
		return nil, fmt.Errorf("encode predictions: %w", err)
	}
	deviceMetadata, err := encodeJSONColumn(in.DeviceMetadata)
	if err != nil {
		return nil, fmt.Errorf("encode device metadata: %w", err)
	}
	location, err := encodeJSONColumn(in.Location)
	if err != nil {
		return nil, fmt.Errorf("encode location: %w", err)
	}
	rawSubmission, err := encodeJSONColumn(in.RawSubmission)
	if err != nil {
		return nil, fmt.Errorf("encode raw submission: %w", err)
	}
	var clientTimestamp any
	if in.ClientTimestamp != nil {
		clientTimestamp = in.ClientTimestamp.UTC().Format(time.RFC3339Nano)
	}

	return []any{
		in.ClientID, receivedAt.UTC().Format(receivedAtLayout), in.DisplayName, in.DiseaseCode,
		in.ConfidencePercent, string(in.SeverityTier),
		nullable(in.ImageURL), nullable(in.Recommendation), nullable(in.UserNotes), nullable(in.Status), nullable(in.DeviceID),
		predictions, deviceMetadata, location, clientTimestamp, rawSubmission,
	}, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// encodeJSONColumn returns nil for absent values so the column stays NULL.
// An empty object is stored as-is so it reads back empty rather than absent.
func encodeJSONColumn(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return string(data), nil
}

func decodeJSONColumn(column sql.NullString, target any) error {
	if !column.Valid || column.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(column.String), target)
}
