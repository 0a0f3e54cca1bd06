// Package journal persists completed calls and boot records to SQLite.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultRecentLimit = 50

// timeFormat is fixed-width so started_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record appends a completed call and returns its id. A zero StartedAt is
// replaced with the current time.
func (j *Journal) Record(ctx context.Context, e Entry) (string, error) {
	if e.Class == "" {
		return "", fmt.Errorf("class is empty")
	}
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	started := e.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	var service any
	if e.Service != "" {
		service = e.Service
	}

	// SQLite integers are signed; addresses and lengths round-trip through
	// their two's complement bit pattern.
	_, err := j.db.ExecContext(ctx, `
INSERT INTO call_log(
  id, handle, service, class, addr, len, timeout_us, status, flags, started_at, duration_us
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, int64(e.Handle), service, e.Class, int64(e.Addr), int64(e.Len), int64(e.TimeoutUS),
		int64(e.Status), int64(e.Flags), started.UTC().Format(timeFormat), e.Duration.Microseconds())
	if err != nil {
		return "", fmt.Errorf("record call: %w", err)
	}
	return id, nil
}

// Get returns one call by id.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT id, handle, service, class, addr, len, timeout_us, status, flags, started_at, duration_us
FROM call_log
WHERE id = ?;
`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get call: %w", err)
	}
	return e, nil
}

// Recent returns up to limit calls, newest first. limit <= 0 uses a default.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return j.list(ctx, `
SELECT id, handle, service, class, addr, len, timeout_us, status, flags, started_at, duration_us
FROM call_log
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
}

// History returns up to limit calls to handle that started at or before
// until, newest first.
func (j *Journal) History(ctx context.Context, handle uint32, until time.Time, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return j.list(ctx, `
SELECT id, handle, service, class, addr, len, timeout_us, status, flags, started_at, duration_us
FROM call_log
WHERE handle = ? AND started_at <= ?
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, int64(handle), until.UTC().Format(timeFormat), limit)
}

func (j *Journal) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	return out, nil
}

// Prune deletes calls started before now-retention and returns how many
// were removed. A non-positive retention keeps everything.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UTC().Format(timeFormat)
	res, err := j.db.ExecContext(ctx, `DELETE FROM call_log WHERE started_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune calls: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune calls: %w", err)
	}
	return n, nil
}

// BootStarted records a new monitor lifetime and returns its id.
func (j *Journal) BootStarted(ctx context.Context, monitor string, services int, entry uint64) (string, error) {
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx, `
INSERT INTO boot_log(id, monitor, services, entry, booted_at)
VALUES(?, ?, ?, ?, ?);
`, id, monitor, services, int64(entry), time.Now().UTC().Format(timeFormat))
	if err != nil {
		return "", fmt.Errorf("record boot: %w", err)
	}
	return id, nil
}

// BootStopped closes a boot record. cause may be nil for a clean stop.
func (j *Journal) BootStopped(ctx context.Context, id string, cause error) error {
	var lastError any
	if cause != nil {
		lastError = cause.Error()
	}
	res, err := j.db.ExecContext(ctx, `
UPDATE boot_log SET stopped_at = ?, last_error = ? WHERE id = ?;
`, time.Now().UTC().Format(timeFormat), lastError, id)
	if err != nil {
		return fmt.Errorf("close boot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("close boot %s: no such boot", id)
	}
	return nil
}

// LastBoot returns the most recent boot record, or nil if there is none.
func (j *Journal) LastBoot(ctx context.Context) (*Boot, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT id, monitor, services, entry, booted_at, stopped_at, last_error
FROM boot_log
ORDER BY booted_at DESC, rowid DESC
LIMIT 1;
`)
	b, err := scanBoot(row)
	if err != nil {
		return nil, fmt.Errorf("last boot: %w", err)
	}
	return b, nil
}

// BootAt returns the boot that was live at t, or nil if t predates every
// recorded boot.
func (j *Journal) BootAt(ctx context.Context, t time.Time) (*Boot, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT id, monitor, services, entry, booted_at, stopped_at, last_error
FROM boot_log
WHERE booted_at <= ?
ORDER BY booted_at DESC, rowid DESC
LIMIT 1;
`, t.UTC().Format(timeFormat))
	b, err := scanBoot(row)
	if err != nil {
		return nil, fmt.Errorf("boot at %s: %w", t.Format(time.RFC3339), err)
	}
	return b, nil
}

// scanBoot maps sql.ErrNoRows to a nil boot.
func scanBoot(s scanner) (*Boot, error) {
	var (
		b                    Boot
		entry                int64
		bootedAtS            string
		stoppedAtS, lastErrS sql.NullString
	)
	err := s.Scan(&b.ID, &b.Monitor, &b.Services, &entry, &bootedAtS, &stoppedAtS, &lastErrS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Entry = uint64(entry)
	if t, err := time.Parse(time.RFC3339Nano, bootedAtS); err == nil {
		b.BootedAt = t
	}
	if stoppedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, stoppedAtS.String); err == nil {
			b.StoppedAt = &t
		}
	}
	if lastErrS.Valid {
		b.LastError = &lastErrS.String
	}
	return &b, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e                         Entry
		handle, addr, n, timeout  int64
		status, flags, durationUS int64
		service                   sql.NullString
		startedAtS                string
	)
	if err := s.Scan(&e.ID, &handle, &service, &e.Class, &addr, &n, &timeout, &status, &flags, &startedAtS, &durationUS); err != nil {
		return nil, err
	}
	e.Handle = uint32(handle)
	e.Service = service.String
	e.Addr = uint64(addr)
	e.Len = uint64(n)
	e.TimeoutUS = uint32(timeout)
	e.Status = int32(status)
	e.Flags = uint32(flags)
	e.Duration = time.Duration(durationUS) * time.Microsecond
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		e.StartedAt = t
	}
	return &e, nil
}
