package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/codec"
)

// sqliteStore keeps queryable addressing columns alongside the full record
// as a CBOR blob, so the record shape can grow without schema migrations.
type sqliteStore struct {
	db    *sql.DB
	codec codec.Codec
}

// OpenSQLite opens (and creates if needed) the sqlite registry at path.
func OpenSQLite(path string) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	stmts := []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS devices (
  ieee       TEXT PRIMARY KEY,
  nwk        INTEGER NOT NULL,
  record     BLOB NOT NULL,
  updated_at INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS devices_nwk_idx ON devices(nwk);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM devices`).Scan(&count); err != nil {
		db.Close()
		return nil, err
	}
	zap.L().Info("device store opened",
		zap.String("backend", "sqlite"),
		zap.String("path", path),
		zap.Int("devices", count))
	return &sqliteStore{db: db, codec: codec.NewRegistry().Get(codec.ContentCBOR)}, nil
}

func ieeeKey(ieee uint64) string { return fmt.Sprintf("%016x", ieee) }

func (s *sqliteStore) Upsert(rec DeviceRecord) error {
	raw, err := s.codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = s.db.Exec(`
INSERT INTO devices (ieee, nwk, record, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(ieee) DO UPDATE SET
  nwk = excluded.nwk, record = excluded.record, updated_at = excluded.updated_at`,
		ieeeKey(rec.IEEE), rec.NWK, raw, time.Now().UnixMilli())
	return err
}

func (s *sqliteStore) Get(ieee uint64) (DeviceRecord, bool, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT record FROM devices WHERE ieee = ?`, ieeeKey(ieee)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return DeviceRecord{}, false, nil
	}
	if err != nil {
		return DeviceRecord{}, false, err
	}
	var rec DeviceRecord
	if err := s.codec.Unmarshal(raw, &rec); err != nil {
		return DeviceRecord{}, false, fmt.Errorf("decode record: %w", err)
	}
	return rec, true, nil
}

func (s *sqliteStore) Delete(ieee uint64) error {
	_, err := s.db.Exec(`DELETE FROM devices WHERE ieee = ?`, ieeeKey(ieee))
	return err
}

func (s *sqliteStore) List() ([]DeviceRecord, error) {
	rows, err := s.db.Query(`SELECT record FROM devices ORDER BY ieee`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DeviceRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec DeviceRecord
		if err := s.codec.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error { return s.db.Close() }
