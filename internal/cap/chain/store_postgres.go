package chain

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store against Postgres via sqlx, the optional
// durable backend alongside the required file-backed one (spec §6),
// grounded the same way as keys.PostgresStore on the teacher's
// store_postgres.go repository shape.
//
// Expected schema:
//
//	CREATE TABLE cap_digest_records (
//		digest_id            text PRIMARY KEY,
//		tenant_id            text NOT NULL,
//		interval_start       timestamptz NOT NULL,
//		interval_end         timestamptz NOT NULL,
//		event_count          integer NOT NULL,
//		events_hash          bytea NOT NULL,
//		previous_digest_hash bytea NOT NULL,
//		current_digest_hash  bytea NOT NULL,
//		signing_key_id       text NOT NULL,
//		signature            bytea NOT NULL
//	);
//	CREATE INDEX ON cap_digest_records (tenant_id, interval_end);
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an already-open sqlx.DB.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type recordRow struct {
	DigestID           string    `db:"digest_id"`
	TenantID           string    `db:"tenant_id"`
	IntervalStart      time.Time `db:"interval_start"`
	IntervalEnd        time.Time `db:"interval_end"`
	EventCount         int       `db:"event_count"`
	EventsHash         []byte    `db:"events_hash"`
	PreviousDigestHash []byte    `db:"previous_digest_hash"`
	CurrentDigestHash  []byte    `db:"current_digest_hash"`
	SigningKeyID       string    `db:"signing_key_id"`
	Signature          []byte    `db:"signature"`
}

func (row recordRow) toRecord() Record {
	return Record{
		DigestID:           row.DigestID,
		TenantID:           row.TenantID,
		IntervalStart:      row.IntervalStart,
		IntervalEnd:        row.IntervalEnd,
		EventCount:         row.EventCount,
		EventsHash:         row.EventsHash,
		PreviousDigestHash: row.PreviousDigestHash,
		CurrentDigestHash:  row.CurrentDigestHash,
		SigningKeyID:       row.SigningKeyID,
		Signature:          row.Signature,
	}
}

func recordToRow(rec Record) recordRow {
	return recordRow{
		DigestID:           rec.DigestID,
		TenantID:           rec.TenantID,
		IntervalStart:      rec.IntervalStart,
		IntervalEnd:        rec.IntervalEnd,
		EventCount:         rec.EventCount,
		EventsHash:         rec.EventsHash,
		PreviousDigestHash: rec.PreviousDigestHash,
		CurrentDigestHash:  rec.CurrentDigestHash,
		SigningKeyID:       rec.SigningKeyID,
		Signature:          rec.Signature,
	}
}

func (s *PostgresStore) Last(ctx context.Context, tenant string) (Record, bool, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row, `
		SELECT digest_id, tenant_id, interval_start, interval_end, event_count,
		       events_hash, previous_digest_hash, current_digest_hash, signing_key_id, signature
		FROM cap_digest_records
		WHERE tenant_id = $1
		ORDER BY interval_end DESC
		LIMIT 1
	`, tenant)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return row.toRecord(), true, nil
}

// Append adds rec with a single INSERT (no explicit transaction). The
// worker keeps no separate watermark: the next tick reads its interval
// start back from Last, so the inserted row is the watermark advance.
func (s *PostgresStore) Append(ctx context.Context, tenant string, rec Record) error {
	row := recordToRow(rec)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO cap_digest_records
			(digest_id, tenant_id, interval_start, interval_end, event_count,
			 events_hash, previous_digest_hash, current_digest_hash, signing_key_id, signature)
		VALUES
			(:digest_id, :tenant_id, :interval_start, :interval_end, :event_count,
			 :events_hash, :previous_digest_hash, :current_digest_hash, :signing_key_id, :signature)
	`, row)
	return err
}

func (s *PostgresStore) List(ctx context.Context, tenant string) ([]Record, error) {
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT digest_id, tenant_id, interval_start, interval_end, event_count,
		       events_hash, previous_digest_hash, current_digest_hash, signing_key_id, signature
		FROM cap_digest_records
		WHERE tenant_id = $1
		ORDER BY interval_end ASC
	`, tenant)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = row.toRecord()
	}
	return out, nil
}

func (s *PostgresStore) ByID(ctx context.Context, tenant, digestID string) (Record, bool, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row, `
		SELECT digest_id, tenant_id, interval_start, interval_end, event_count,
		       events_hash, previous_digest_hash, current_digest_hash, signing_key_id, signature
		FROM cap_digest_records
		WHERE tenant_id = $1 AND digest_id = $2
	`, tenant, digestID)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return row.toRecord(), true, nil
}

var _ Store = (*PostgresStore)(nil)
