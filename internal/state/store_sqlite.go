package state

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pred_trader/internal/core"
	apperrors "pred_trader/pkg/errors"
	"pred_trader/pkg/telemetry"
)

// SQLiteStore is the database-backed snapshot store. The snapshot is kept
// as a single row; each write replaces it inside a serializable
// transaction, giving the same all-or-nothing visibility as the file
// backend plus WAL crash recovery.
type SQLiteStore struct {
	db     *sql.DB
	logger core.ILogger

	mu sync.Mutex

	goodMu   sync.RWMutex
	lastGood *core.Snapshot
}

// NewSQLiteStore opens (or creates) the snapshot database at dbPath.
func NewSQLiteStore(dbPath string, logger core.ILogger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL,
		checksum BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "state_store"),
	}, nil
}

// Read returns the latest readable snapshot, failing closed to the last
// known-good copy on corruption.
func (s *SQLiteStore) Read() (*core.Snapshot, error) {
	snap, err := s.load(context.Background())
	if err != nil {
		s.goodMu.RLock()
		good := s.lastGood
		s.goodMu.RUnlock()

		if good != nil {
			s.logger.Error("Snapshot unreadable, serving last known-good",
				"error", err, "version", good.Version)
			return good.Clone(), nil
		}
		return nil, err
	}
	if snap == nil {
		s.goodMu.RLock()
		good := s.lastGood
		s.goodMu.RUnlock()
		if good != nil {
			return good.Clone(), nil
		}
		return core.NewSnapshot(), nil
	}

	s.rememberGood(snap)
	return snap, nil
}

func (s *SQLiteStore) rememberGood(snap *core.Snapshot) {
	s.goodMu.Lock()
	s.lastGood = snap.Clone()
	s.goodMu.Unlock()
}

func (s *SQLiteStore) load(ctx context.Context) (*core.Snapshot, error) {
	query := `SELECT data, checksum FROM snapshot WHERE id = 1`
	var data string
	var storedChecksum []byte
	err := s.db.QueryRowContext(ctx, query).Scan(&data, &storedChecksum)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot from db: %w", err)
	}

	computed := sha256.Sum256([]byte(data))
	if len(storedChecksum) != len(computed) {
		return nil, fmt.Errorf("%w: checksum length mismatch", apperrors.ErrSnapshotCorrupt)
	}
	for i := range computed {
		if storedChecksum[i] != computed[i] {
			return nil, fmt.Errorf("%w: checksum mismatch", apperrors.ErrSnapshotCorrupt)
		}
	}

	snap := core.NewSnapshot()
	if err := json.Unmarshal([]byte(data), snap); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrSnapshotCorrupt, err)
	}
	return snap, nil
}

// Write persists a full snapshot inside a serializable transaction.
func (s *SQLiteStore) Write(ctx context.Context, snap *core.Snapshot) error {
	snap.WrittenAt = time.Now().UTC()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	checksum := sha256.Sum256(data)
	query := `INSERT OR REPLACE INTO snapshot (id, data, checksum, updated_at) VALUES (1, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, string(data), checksum[:], time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to write snapshot to db: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	s.rememberGood(snap)
	telemetry.GetGlobalMetrics().SnapshotWrites.Add(ctx, 1)
	return nil
}

// Update runs one read-modify-write cycle; see FileStore.Update.
func (s *SQLiteStore) Update(ctx context.Context, owner core.Owner, mutate func(*core.Snapshot) error) (*core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.load(ctx)
	if err != nil {
		s.goodMu.RLock()
		good := s.lastGood
		s.goodMu.RUnlock()
		if good == nil {
			return nil, err
		}
		s.logger.Error("Snapshot unreadable during update, using last known-good", "error", err)
		latest = good.Clone()
	}
	if latest == nil {
		latest = core.NewSnapshot()
	}

	working := latest.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}

	merged := core.MergeOwned(latest, working, owner)
	merged.Version = latest.Version + 1

	if err := s.Write(ctx, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
