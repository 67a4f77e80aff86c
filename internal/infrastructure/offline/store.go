// Package offline persists the last known domain records in SQLite so the
// event feed can be shown while the backend is unreachable.
package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/clock"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("offline: record not found")

// Record is one cached domain object. Payload holds the CBOR encoding of
// the object itself.
type Record struct {
	ID        string
	Kind      stream.Kind
	CameraID  string
	Timestamp time.Time
	Payload   []byte
	UpdatedAt time.Time
}

// Store is the SQLite backed offline cache
type Store struct {
	db    *sql.DB
	path  string
	clock clock.Clock
}

// Open creates or opens the database at path and applies migrations
func Open(ctx context.Context, path string) (*Store, error) {
	return OpenWithClock(ctx, path, clock.Real())
}

// OpenWithClock is Open with an injected clock for UpdatedAt stamps
func OpenWithClock(ctx context.Context, path string, clk clock.Clock) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: path, clock: clk}, nil
}

// Path returns the database file
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces a record, keyed by kind and id
func (s *Store) Put(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("offline: record id is required")
	}
	if rec.Kind == "" {
		return errors.New("offline: record kind is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO records(id, kind, camera_id, ts, payload, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(kind, id) DO UPDATE SET
	camera_id = excluded.camera_id,
	ts = excluded.ts,
	payload = excluded.payload,
	updated_at = excluded.updated_at
`, rec.ID, string(rec.Kind), rec.CameraID, ts(rec.Timestamp), payloadOrEmpty(rec.Payload), ts(s.clock.Now()))
	if err != nil {
		return fmt.Errorf("put record %s/%s: %w", rec.Kind, rec.ID, err)
	}
	return nil
}

// PutEvent caches a security event
func (s *Store) PutEvent(ctx context.Context, ev stream.SecurityEvent) error {
	rec, err := EventRecord(ev)
	if err != nil {
		return err
	}
	return s.Put(ctx, rec)
}

// PutEvents caches a page of events in one transaction
func (s *Store) PutEvents(ctx context.Context, events []stream.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := ts(s.clock.Now())
	for _, ev := range events {
		rec, err := EventRecord(ev)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO records(id, kind, camera_id, ts, payload, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(kind, id) DO UPDATE SET
	camera_id = excluded.camera_id,
	ts = excluded.ts,
	payload = excluded.payload,
	updated_at = excluded.updated_at
`, rec.ID, string(rec.Kind), rec.CameraID, ts(rec.Timestamp), rec.Payload, now); err != nil {
			return fmt.Errorf("put event %s: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}

// Get returns one record
func (s *Store) Get(ctx context.Context, kind stream.Kind, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, kind, camera_id, ts, payload, updated_at FROM records WHERE kind = ? AND id = ?
`, string(kind), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Query narrows GetAll. Zero values match everything.
type Query struct {
	Kind     stream.Kind
	CameraID string
	Limit    int
}

// GetAll returns matching records newest first by Timestamp
func (s *Store) GetAll(ctx context.Context, q Query) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.CameraID != "" {
		where = append(where, "camera_id = ?")
		args = append(args, q.CameraID)
	}
	query := `SELECT id, kind, camera_id, ts, payload, updated_at FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Events decodes the cached security events, newest first. Records that
// fail to decode are skipped.
func (s *Store) Events(ctx context.Context, cameraID string, limit int) ([]stream.SecurityEvent, error) {
	recs, err := s.GetAll(ctx, Query{Kind: stream.KindEvent, CameraID: cameraID, Limit: limit})
	if err != nil {
		return nil, err
	}
	events := make([]stream.SecurityEvent, 0, len(recs))
	for _, rec := range recs {
		ev, err := rec.Event()
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Delete removes one record
func (s *Store) Delete(ctx context.Context, kind stream.Kind, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, string(kind), id)
	if err != nil {
		return fmt.Errorf("delete record %s/%s: %w", kind, id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes every record and returns how many were removed
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records`)
	if err != nil {
		return 0, fmt.Errorf("clear records: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of cached records
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec       Record
		kind      string
		tsRaw     string
		updatedAt string
	)
	if err := sc.Scan(&rec.ID, &kind, &rec.CameraID, &tsRaw, &rec.Payload, &updatedAt); err != nil {
		return Record{}, err
	}
	rec.Kind = stream.Kind(kind)
	var err error
	if rec.Timestamp, err = parseTS(tsRaw); err != nil {
		return Record{}, fmt.Errorf("parse ts of %s: %w", rec.ID, err)
	}
	if rec.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return Record{}, fmt.Errorf("parse updated_at of %s: %w", rec.ID, err)
	}
	return rec, nil
}

// tsLayout sorts lexically in time order, unlike RFC3339Nano which trims
// trailing zeros
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

func payloadOrEmpty(p []byte) []byte {
	if p == nil {
		return []byte{}
	}
	return p
}
