package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FileStore persists reconciliation state as JSON on disk so phases and
// generations survive daemon restarts.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore returns a JSON-backed state store at path.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Load reads state from disk. A missing file yields empty state; a corrupt
// file is set aside under a .corrupt suffix and empty state is returned, so
// one bad write never wedges the daemon.
func (s *FileStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Str("path", s.path).Msg("state file missing, starting fresh")
		return emptyState(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state file: %w", err)
	}

	var loaded State
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.quarantineCorrupt(err)
		return emptyState(), nil
	}
	if loaded.Deployments == nil {
		loaded.Deployments = map[string]DeploymentSnapshot{}
	}
	return loaded, nil
}

// Save writes state atomically: encode to a temp file in the same
// directory, fsync, then rename over the target.
func (s *FileStore) Save(ctx context.Context, current State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if current.Deployments == nil {
		current.Deployments = map[string]DeploymentSnapshot{}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".shepherd-state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if err := writeAndSync(temp, current); err != nil {
		_ = os.Remove(temp.Name())
		return err
	}
	if err := os.Rename(temp.Name(), s.path); err != nil {
		_ = os.Remove(temp.Name())
		return fmt.Errorf("replace state file: %w", err)
	}

	// Sync the directory entry so the rename survives a crash.
	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}
	return nil
}

// quarantineCorrupt moves an unreadable state file aside for inspection.
func (s *FileStore) quarantineCorrupt(cause error) {
	sidecar := s.path + ".corrupt"
	if err := os.Rename(s.path, sidecar); err != nil {
		s.logger.Warn().Str("path", s.path).Err(cause).Msg("state file corrupt, starting fresh")
		return
	}
	s.logger.Warn().
		Str("path", s.path).
		Str("moved_to", sidecar).
		Err(cause).
		Msg("state file corrupt, set aside and starting fresh")
}

func writeAndSync(f *os.File, current State) error {
	if err := json.NewEncoder(f).Encode(current); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode state: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	return nil
}

func emptyState() State {
	return State{Deployments: map[string]DeploymentSnapshot{}}
}
