package ipc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// SpillStore holds payloads too large for inline frames as uuid-named files
// in a per-channel directory. The peer receives only the file name in a
// FrameArtifact frame and reads the payload from the shared directory, so
// huge media buffers never sit in the socket.
type SpillStore struct {
	dir string
}

// NewSpillStore creates the artifact directory for one channel.
func NewSpillStore(dir string) (*SpillStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}
	return &SpillStore{dir: dir}, nil
}

// Dir returns the artifact directory path.
func (s *SpillStore) Dir() string { return s.dir }

// Put writes payload to a fresh artifact file and returns its name.
func (s *SpillStore) Put(payload []byte) (string, error) {
	name := uuid.NewString() + ".bin"
	if err := os.WriteFile(filepath.Join(s.dir, name), payload, 0o600); err != nil {
		return "", fmt.Errorf("spilling payload: %w", err)
	}
	return name, nil
}

// Take reads and deletes the named artifact. Base guards against path
// escape through a hostile name.
func (s *SpillStore) Take(name string) ([]byte, error) {
	path := filepath.Join(s.dir, filepath.Base(name))
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", name, err)
	}
	os.Remove(path)
	return payload, nil
}

// Cleanup removes the artifact directory and anything still spilled in it.
func (s *SpillStore) Cleanup() error {
	return os.RemoveAll(s.dir)
}
