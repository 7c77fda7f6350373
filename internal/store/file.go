package store

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/pkg/errors"

	"stayassist/internal/types"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// FileTurnStore keeps one JSON file per session under dir.
type FileTurnStore struct {
	mu       sync.Mutex
	dir      string
	maxTurns int
}

func NewFileTurnStore(dir string, maxTurns int) *FileTurnStore {
	return &FileTurnStore{dir: dir, maxTurns: maxTurns}
}

func (f *FileTurnStore) path(sessionID string) string {
	return filepath.Join(f.dir, unsafeFileChars.ReplaceAllString(sessionID, "_")+".json")
}

func (f *FileTurnStore) read(sessionID string) ([]types.Turn, error) {
	b, err := os.ReadFile(f.path(sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read transcript")
	}
	var turns []types.Turn
	if err := json.Unmarshal(b, &turns); err != nil {
		return nil, errors.Wrapf(err, "decode transcript %s", f.path(sessionID))
	}
	return turns, nil
}

func (f *FileTurnStore) write(sessionID string, turns []types.Turn) error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return errors.Wrap(err, "create transcript dir")
	}
	b, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return err
	}
	p := f.path(sessionID)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return errors.Wrap(err, "write transcript")
	}
	return os.Rename(tmp, p)
}

func (f *FileTurnStore) Save(_ context.Context, sessionID string, turn types.Turn) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	turns, err := f.read(sessionID)
	if err != nil {
		return err
	}
	return f.write(sessionID, trim(append(turns, turn), f.maxTurns))
}

func (f *FileTurnStore) GetAll(_ context.Context, sessionID string) ([]types.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	turns, err := f.read(sessionID)
	if turns == nil && err == nil {
		turns = []types.Turn{}
	}
	return turns, err
}

func (f *FileTurnStore) Clear(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(sessionID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (f *FileTurnStore) Close() error { return nil }
