package keys

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
// grounded on the teacher's store_postgres.go per-service repository shape
// (packages/com.r3e.services.secrets/store_postgres.go) adapted from plain
// database/sql to sqlx's struct-scanning helpers.
//
// Expected schema:
//
//	CREATE TABLE cap_keys (
//		key_id      text PRIMARY KEY,
//		tenant_id   text NOT NULL,
//		algorithm   text NOT NULL,
//		created_at  timestamptz NOT NULL,
//		expires_at  timestamptz NOT NULL,
//		status      text NOT NULL,
//		retiring_at timestamptz,
//		private_key bytea NOT NULL,
//		public_key  bytea NOT NULL
//	);
//	CREATE INDEX ON cap_keys (tenant_id, status);
//
//	CREATE TABLE cap_key_manifest_entries (
//		id            bigserial PRIMARY KEY,
//		tenant_id     text NOT NULL,
//		key_id        text NOT NULL,
//		public_key    bytea NOT NULL,
//		created_at    timestamptz NOT NULL,
//		retired_at    timestamptz,
//		manifest_hash bytea NOT NULL
//	);
//	CREATE INDEX ON cap_key_manifest_entries (tenant_id);
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an already-open sqlx.DB. Callers open it with
// sqlx.Connect("postgres", dsn) so the lib/pq driver registers itself.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type keyRow struct {
	KeyID      string     `db:"key_id"`
	TenantID   string     `db:"tenant_id"`
	Algorithm  string     `db:"algorithm"`
	CreatedAt  time.Time  `db:"created_at"`
	ExpiresAt  time.Time  `db:"expires_at"`
	Status     string     `db:"status"`
	RetiringAt *time.Time `db:"retiring_at"`
	PrivateKey []byte     `db:"private_key"`
	PublicKey  []byte     `db:"public_key"`
}

func (row keyRow) toRecord() Record {
	return Record{
		KeyID:      row.KeyID,
		TenantID:   row.TenantID,
		Algorithm:  row.Algorithm,
		CreatedAt:  row.CreatedAt,
		ExpiresAt:  row.ExpiresAt,
		Status:     Status(row.Status),
		RetiringAt: row.RetiringAt,
		PrivateKey: row.PrivateKey,
		PublicKey:  row.PublicKey,
	}
}

func recordToRow(rec Record) keyRow {
	return keyRow{
		KeyID:      rec.KeyID,
		TenantID:   rec.TenantID,
		Algorithm:  rec.Algorithm,
		CreatedAt:  rec.CreatedAt,
		ExpiresAt:  rec.ExpiresAt,
		Status:     string(rec.Status),
		RetiringAt: rec.RetiringAt,
		PrivateKey: rec.PrivateKey,
		PublicKey:  rec.PublicKey,
	}
}

func (s *PostgresStore) SaveKey(ctx context.Context, rec Record) error {
	row := recordToRow(rec)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO cap_keys (key_id, tenant_id, algorithm, created_at, expires_at, status, retiring_at, private_key, public_key)
		VALUES (:key_id, :tenant_id, :algorithm, :created_at, :expires_at, :status, :retiring_at, :private_key, :public_key)
		ON CONFLICT (key_id) DO UPDATE SET
			status = EXCLUDED.status,
			retiring_at = EXCLUDED.retiring_at,
			private_key = EXCLUDED.private_key,
			expires_at = EXCLUDED.expires_at
	`, row)
	return err
}

func (s *PostgresStore) LoadActive(ctx context.Context, tenant string) (Record, error) {
	var row keyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT key_id, tenant_id, algorithm, created_at, expires_at, status, retiring_at, private_key, public_key
		FROM cap_keys
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, tenant, string(StatusActive))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return row.toRecord(), nil
}

func (s *PostgresStore) LoadByID(ctx context.Context, keyID string) (Record, error) {
	var row keyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT key_id, tenant_id, algorithm, created_at, expires_at, status, retiring_at, private_key, public_key
		FROM cap_keys
		WHERE key_id = $1
	`, keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return row.toRecord(), nil
}

func (s *PostgresStore) ListByTenant(ctx context.Context, tenant string) ([]Record, error) {
	var rows []keyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT key_id, tenant_id, algorithm, created_at, expires_at, status, retiring_at, private_key, public_key
		FROM cap_keys
		WHERE tenant_id = $1
		ORDER BY created_at DESC
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

type manifestEntryRow struct {
	TenantID     string     `db:"tenant_id"`
	KeyID        string     `db:"key_id"`
	PublicKey    []byte     `db:"public_key"`
	CreatedAt    time.Time  `db:"created_at"`
	RetiredAt    *time.Time `db:"retired_at"`
	ManifestHash []byte     `db:"manifest_hash"`
}

func (s *PostgresStore) AppendManifestEntry(ctx context.Context, tenant string, entry ManifestEntry) error {
	row := manifestEntryRow{
		TenantID:     tenant,
		KeyID:        entry.KeyID,
		PublicKey:    entry.PublicKey,
		CreatedAt:    entry.CreatedAt,
		RetiredAt:    entry.RetiredAt,
		ManifestHash: entry.ManifestHash,
	}
	// Postgres fsyncs every committed transaction by default (fsync=on),
	// satisfying spec §6's append-then-fsync manifest durability guarantee
	// without an explicit driver call.
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO cap_key_manifest_entries (tenant_id, key_id, public_key, created_at, retired_at, manifest_hash)
		VALUES (:tenant_id, :key_id, :public_key, :created_at, :retired_at, :manifest_hash)
	`, row)
	return err
}

func (s *PostgresStore) LoadManifest(ctx context.Context, tenant string) (Manifest, error) {
	var rows []manifestEntryRow
	// created_at ties for a key's creation and retirement entries (spec §3's
	// hash input only covers created_at, not retirement time), so ordering
	// also needs the surrogate id column to preserve append order.
	err := s.db.SelectContext(ctx, &rows, `
		SELECT tenant_id, key_id, public_key, created_at, retired_at, manifest_hash
		FROM cap_key_manifest_entries
		WHERE tenant_id = $1
		ORDER BY id ASC
	`, tenant)
	if err != nil {
		return Manifest{}, err
	}
	entries := make([]ManifestEntry, len(rows))
	for i, row := range rows {
		entries[i] = ManifestEntry{
			KeyID:        row.KeyID,
			PublicKey:    row.PublicKey,
			CreatedAt:    row.CreatedAt,
			RetiredAt:    row.RetiredAt,
			ManifestHash: row.ManifestHash,
		}
	}
	return Manifest{TenantID: tenant, Entries: entries}, nil
}

var _ Store = (*PostgresStore)(nil)
