package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"chainalerts/internal/alerting"
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS kv_entries (
        key        TEXT PRIMARY KEY,
        value      JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS alert_triggers (
        id          BIGSERIAL PRIMARY KEY,
        event_id    TEXT NOT NULL UNIQUE,
        category    TEXT NOT NULL,
        source_id   TEXT NOT NULL DEFAULT '',
        metric_key  TEXT NOT NULL DEFAULT '',
        severity    TEXT NOT NULL,
        current     NUMERIC NOT NULL,
        previous    NUMERIC NOT NULL,
        change_pct  NUMERIC NOT NULL,
        payload     JSONB NOT NULL,
        occurred_at TIMESTAMPTZ NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS alert_triggers_source_time ON alert_triggers (source_id, occurred_at DESC);`

	getEntrySQL = `SELECT value FROM kv_entries WHERE key = $1;`

	upsertEntrySQL = `INSERT INTO kv_entries (key, value, updated_at)
    VALUES ($1, $2, now())
    ON CONFLICT (key) DO UPDATE
    SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at;`

	deleteEntrySQL = `DELETE FROM kv_entries WHERE key = $1;`

	insertTriggerSQL = `INSERT INTO alert_triggers (
        event_id,
        category,
        source_id,
        metric_key,
        severity,
        current,
        previous,
        change_pct,
        payload,
        occurred_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (event_id) DO NOTHING;`

	listTriggersSQL = `SELECT
        id,
        event_id,
        category,
        source_id,
        metric_key,
        severity,
        current::text,
        previous::text,
        change_pct::text,
        payload,
        occurred_at,
        created_at
    FROM alert_triggers
    WHERE ($1 = '' OR source_id = $1)
      AND occurred_at >= $2
    ORDER BY occurred_at DESC
    LIMIT $3;`

	deleteTriggersBeforeSQL = `DELETE FROM alert_triggers WHERE occurred_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// noLimit bounds archive queries that ask for every row.
const noLimit = 1 << 31

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL backend: persisted state entries plus the
// unbounded trigger archive.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Get returns the stored value for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	var value []byte
	if err := pool.QueryRow(ctx, getEntrySQL, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get entry %s: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, upsertEntrySQL, key, value); err != nil {
		return fmt.Errorf("upsert entry %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, deleteEntrySQL, key); err != nil {
		return fmt.Errorf("delete entry %s: %w", key, err)
	}
	return nil
}

// Append archives an alert trigger. Re-appending the same event is a no-op.
func (s *Store) Append(ctx context.Context, ev alerting.Event) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	rec, err := triggerFromEvent(ev)
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertTriggerSQL,
		rec.EventID,
		rec.Category,
		rec.SourceID,
		rec.MetricKey,
		rec.Severity,
		rec.Current.String(),
		rec.Previous.String(),
		rec.ChangePct.String(),
		[]byte(rec.Payload),
		rec.OccurredAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert trigger: %w", execErr)
	}
	return nil
}

// Query lists archived triggers newest first.
func (s *Store) Query(ctx context.Context, q alerting.ArchiveQuery) ([]alerting.Event, error) {
	records, err := s.ListTriggers(ctx, q)
	if err != nil {
		return nil, err
	}
	events := make([]alerting.Event, 0, len(records))
	for _, rec := range records {
		var ev alerting.Event
		if err := json.Unmarshal(rec.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode trigger %s: %w", rec.EventID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// ListTriggers returns raw archive rows.
func (s *Store) ListTriggers(ctx context.Context, q alerting.ArchiveQuery) ([]TriggerRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = noLimit
	}
	rows, queryErr := pool.Query(ctx, listTriggersSQL, q.SourceID, q.Since, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list triggers: %w", queryErr)
	}
	defer rows.Close()

	records := make([]TriggerRecord, 0)
	for rows.Next() {
		rec, scanErr := scanTrigger(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// DeleteTriggersBefore prunes archived triggers.
func (s *Store) DeleteTriggersBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteTriggersBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete triggers before: %w", execErr)
	}
	return nil
}

func triggerFromEvent(ev alerting.Event) (TriggerRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return TriggerRecord{}, fmt.Errorf("marshal trigger payload: %w", err)
	}
	return TriggerRecord{
		EventID:    ev.ID,
		Category:   string(ev.Category),
		SourceID:   ev.SourceID(),
		MetricKey:  ev.Metadata.MetricKey,
		Severity:   ev.Severity.String(),
		Current:    decimal.NewFromFloat(ev.Metadata.Current),
		Previous:   decimal.NewFromFloat(ev.Metadata.Previous),
		ChangePct:  decimal.NewFromFloat(ev.Metadata.ChangePct),
		Payload:    payload,
		OccurredAt: ev.Timestamp.UTC(),
	}, nil
}

func scanTrigger(rows pgx.Rows) (TriggerRecord, error) {
	var (
		rec                     TriggerRecord
		currentStr, previousStr string
		changeStr               string
		payload                 []byte
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.EventID,
		&rec.Category,
		&rec.SourceID,
		&rec.MetricKey,
		&rec.Severity,
		&currentStr,
		&previousStr,
		&changeStr,
		&payload,
		&rec.OccurredAt,
		&rec.CreatedAt,
	); err != nil {
		return TriggerRecord{}, err
	}

	var convErr error
	if rec.Current, convErr = decimal.NewFromString(currentStr); convErr != nil {
		return TriggerRecord{}, fmt.Errorf("parse current: %w", convErr)
	}
	if rec.Previous, convErr = decimal.NewFromString(previousStr); convErr != nil {
		return TriggerRecord{}, fmt.Errorf("parse previous: %w", convErr)
	}
	if rec.ChangePct, convErr = decimal.NewFromString(changeStr); convErr != nil {
		return TriggerRecord{}, fmt.Errorf("parse change pct: %w", convErr)
	}
	rec.Payload = json.RawMessage(payload)
	return rec, nil
}

var (
	_ KV               = (*Store)(nil)
	_ alerting.Archive = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
