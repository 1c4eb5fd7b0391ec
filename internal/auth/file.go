package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
)

// TokenFileName is the name of the token file under the state directory
const TokenFileName = "token"

const lockRetryDelay = 50 * time.Millisecond

// DefaultFilePath returns $XDG_STATE_HOME/examsync/token, creating the directory if needed
func DefaultFilePath() (string, error) {
	path, err := xdg.StateFile(filepath.Join(ServiceName, TokenFileName))
	if err != nil {
		return "", fmt.Errorf("failed to resolve token file location: %w", err)
	}
	return path, nil
}

// FileStore keeps the token in a file readable only by the current user.
// Reads and writes take a lock on a sibling ".lock" file so several
// processes can share the token.
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store backed by the file at path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the token file path
func (s *FileStore) Path() string {
	return s.path
}

// Token implements Store.Token
func (s *FileStore) Token(ctx context.Context) (string, error) {
	if _, err := os.Stat(filepath.Dir(s.path)); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	lock := flock.New(s.lockPath())
	if _, err := lock.TryRLockContext(ctx, lockRetryDelay); err != nil {
		return "", fmt.Errorf("failed to lock token file: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	// #nosec G304 -- path comes from configuration or the XDG state directory
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save implements Store.Save
func (s *FileStore) Save(ctx context.Context, token string) error {
	token, err := normalizeToken(token)
	if err != nil {
		return err
	}
	return s.withLock(ctx, func() error {
		// Write to temporary file first for atomic operation
		tempPath := s.path + ".tmp"
		if err := os.WriteFile(tempPath, []byte(token+"\n"), 0600); err != nil {
			return fmt.Errorf("failed to write temporary token file: %w", err)
		}
		if err := os.Rename(tempPath, s.path); err != nil {
			// Clean up temp file on error
			_ = os.Remove(tempPath)
			return fmt.Errorf("failed to rename token file: %w", err)
		}
		return nil
	})
}

// Clear implements Store.Clear
func (s *FileStore) Clear(ctx context.Context) error {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return s.withLock(ctx, func() error {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove token file: %w", err)
		}
		return nil
	})
}

// Watch calls onChange with the current token whenever another process
// writes or removes the token file. It blocks until ctx is cancelled.
func (s *FileStore) Watch(ctx context.Context, onChange func(token string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	// The file is replaced by rename, so watch the directory and filter by name.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch token directory %s: %w", dir, err)
	}
	slog.Debug("Watching token file", "path", s.path)

	name := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			token, err := s.Token(ctx)
			if err != nil {
				slog.Warn("Failed to read token after change", "path", s.path, "error", err)
				continue
			}
			onChange(token)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			slog.Warn("Token file watcher error", "error", err)
		}
	}
}

func (s *FileStore) lockPath() string {
	return s.path + ".lock"
}

func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	lock := flock.New(s.lockPath())
	if _, err := lock.TryLockContext(ctx, lockRetryDelay); err != nil {
		return fmt.Errorf("failed to lock token file: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
	}()
	return fn()
}
