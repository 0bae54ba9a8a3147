// Package state implements the state store (component C8): a single
// "sandboxes" table durably recording every known sandbox, used by the
// registry (C4) to reconcile with OS reality at process start.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/opensandbox/opensandbox/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS sandboxes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    namespace TEXT NOT NULL,
    config_file TEXT,
    config_last_modified TIMESTAMP,
    status TEXT NOT NULL,
    supervisor_pid INTEGER,
    microvm_pid INTEGER,
    rootfs_paths TEXT,
    config_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    modified_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sandboxes_name_config_file ON sandboxes(name, config_file);
`

// Store is the sqlite-backed state store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the sandboxes table under dataDir/state.db in
// WAL mode.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir state dir %s: %w", dataDir, err)
	}
	dbPath := filepath.Join(dataDir, "state.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert records sb's current state, replacing any existing row for the
// same (namespace, name).
func (s *Store) Upsert(sb types.Sandbox) error {
	configJSON, err := json.Marshal(sb.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	_, err = s.db.Exec(`DELETE FROM sandboxes WHERE namespace = ? AND name = ?`, sb.Namespace, sb.Name)
	if err != nil {
		return fmt.Errorf("delete prior row: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO sandboxes
		 (name, namespace, config_file, config_last_modified, status, supervisor_pid, microvm_pid, rootfs_paths, config_json, created_at, modified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sb.Name, sb.Namespace, sb.ConfigFile, sb.ConfigLastModified,
		string(sb.Status), sb.SupervisorPID, sb.MicroVMPID, strings.Join(sb.RootfsPaths, ","),
		string(configJSON), sb.CreatedAt, sb.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("insert row: %w", err)
	}
	return nil
}

// Remove deletes the row for (namespace, name), if any.
func (s *Store) Remove(namespace, name string) error {
	_, err := s.db.Exec(`DELETE FROM sandboxes WHERE namespace = ? AND name = ?`, namespace, name)
	if err != nil {
		return fmt.Errorf("remove %s/%s: %w", namespace, name, err)
	}
	return nil
}

// All returns every persisted sandbox row, for reconcile() at boot.
func (s *Store) All() ([]types.Sandbox, error) {
	rows, err := s.db.Query(
		`SELECT name, namespace, config_file, config_last_modified, status,
		        supervisor_pid, microvm_pid, rootfs_paths, config_json, created_at, modified_at
		 FROM sandboxes`)
	if err != nil {
		return nil, fmt.Errorf("query sandboxes: %w", err)
	}
	defer rows.Close()

	var out []types.Sandbox
	for rows.Next() {
		var sb types.Sandbox
		var status, rootfsPaths, configJSON string
		var configFile sql.NullString
		var configLastModified sql.NullTime
		if err := rows.Scan(&sb.Name, &sb.Namespace, &configFile, &configLastModified, &status,
			&sb.SupervisorPID, &sb.MicroVMPID, &rootfsPaths, &configJSON, &sb.CreatedAt, &sb.ModifiedAt); err != nil {
			return nil, fmt.Errorf("scan sandbox row: %w", err)
		}
		sb.Status = types.SandboxStatus(status)
		sb.ConfigFile = configFile.String
		if configLastModified.Valid {
			sb.ConfigLastModified = configLastModified.Time
		}
		if rootfsPaths != "" {
			sb.RootfsPaths = strings.Split(rootfsPaths, ",")
		}
		if err := json.Unmarshal([]byte(configJSON), &sb.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config for %s/%s: %w", sb.Namespace, sb.Name, err)
		}
		out = append(out, sb)
	}
	return out, nil
}
