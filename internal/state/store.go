// Package state implements the atomically-swapped shared snapshot through
// which the fast and slow cores coordinate. Writers never block readers:
// the file backend publishes via write-temp-then-rename, so a reader sees
// either the complete prior document or the complete new one.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pred_trader/internal/core"
	apperrors "pred_trader/pkg/errors"
	"pred_trader/pkg/telemetry"
)

// envelope wraps the serialized snapshot with an integrity checksum so a
// torn or bit-rotted document is detected rather than half-applied.
type envelope struct {
	Checksum string          `json:"checksum"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// FileStore is the file-backed snapshot store.
type FileStore struct {
	path   string
	logger core.ILogger

	mu sync.Mutex // serializes this process's read-modify-write cycles

	goodMu   sync.RWMutex
	lastGood *core.Snapshot
}

// NewFileStore creates a store at path. The parent directory is created if
// missing.
func NewFileStore(path string, logger core.ILogger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{
		path:   path,
		logger: logger.WithField("component", "state_store"),
	}, nil
}

// Read returns the latest readable snapshot. A corrupt or unreadable
// document fails closed: the last known-good snapshot is returned with a
// logged anomaly, never an empty one.
func (s *FileStore) Read() (*core.Snapshot, error) {
	snap, err := s.readDisk()
	if err != nil {
		s.goodMu.RLock()
		good := s.lastGood
		s.goodMu.RUnlock()

		if os.IsNotExist(err) && good == nil {
			// First boot: nothing has been written yet.
			return core.NewSnapshot(), nil
		}
		if good != nil {
			s.logger.Error("Snapshot unreadable, serving last known-good",
				"error", err, "version", good.Version)
			return good.Clone(), nil
		}
		return nil, err
	}

	s.rememberGood(snap)
	return snap, nil
}

func (s *FileStore) rememberGood(snap *core.Snapshot) {
	s.goodMu.Lock()
	s.lastGood = snap.Clone()
	s.goodMu.Unlock()
}

func (s *FileStore) readDisk() (*core.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrSnapshotCorrupt, err)
	}

	sum := sha256.Sum256(env.Snapshot)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", apperrors.ErrSnapshotCorrupt)
	}

	snap := core.NewSnapshot()
	if err := json.Unmarshal(env.Snapshot, snap); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrSnapshotCorrupt, err)
	}
	return snap, nil
}

// Write persists a full snapshot atomically: marshal, write to a temp file
// in the same directory, fsync, then rename over the live path.
func (s *FileStore) Write(ctx context.Context, snap *core.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap.WrittenAt = time.Now().UTC()

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	sum := sha256.Sum256(payload)
	data, err := json.MarshalIndent(envelope{
		Checksum: hex.EncodeToString(sum[:]),
		Snapshot: payload,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	s.rememberGood(snap)
	telemetry.GetGlobalMetrics().SnapshotWrites.Add(ctx, 1)
	return nil
}

// Update runs one read-modify-write cycle under the process-local mutex.
// The mutator gets a clone of the freshest snapshot; only the owner's
// subtrees of the result are merged onto the freshest document before the
// atomic write, so the other process's subtrees are never clobbered.
func (s *FileStore) Update(ctx context.Context, owner core.Owner, mutate func(*core.Snapshot) error) (*core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.readLatest()
	if err != nil {
		return nil, err
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

func (s *FileStore) readLatest() (*core.Snapshot, error) {
	snap, err := s.readDisk()
	if err != nil {
		s.goodMu.RLock()
		good := s.lastGood
		s.goodMu.RUnlock()

		if os.IsNotExist(err) && good == nil {
			return core.NewSnapshot(), nil
		}
		if good != nil {
			s.logger.Error("Snapshot unreadable during update, using last known-good", "error", err)
			return good.Clone(), nil
		}
		return nil, err
	}
	return snap, nil
}
