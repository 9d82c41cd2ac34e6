package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/projectm/lms-session/internal/port/outbound"
)

// FileStore implements outbound.WatchableStore on top of a JSON file.
// It provides atomic writes (write-tmp-then-rename), automatic backups,
// and file locking (flock for cross-process, mutex for in-process), so
// several CLI invocations can share one session file safely.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStore creates a new FileStore for the given file path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:   path,
		logger: logger,
	}
}

// Get returns the value stored under key.
func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	f, err := s.Load()
	if err != nil {
		return "", false, err
	}
	v, ok := f.Values[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	return s.update(func(values map[string]string) bool {
		if old, ok := values[key]; ok && old == value {
			return false
		}
		values[key] = value
		return true
	})
}

// Delete removes the given keys.
func (s *FileStore) Delete(ctx context.Context, keys ...string) error {
	return s.update(func(values map[string]string) bool {
		changed := false
		for _, k := range keys {
			if _, ok := values[k]; ok {
				delete(values, k)
				changed = true
			}
		}
		return changed
	})
}

// Close is a no-op; the file is opened per operation.
func (s *FileStore) Close() error {
	return nil
}

// Load reads and parses the session file.
// If the file does not exist, it returns an empty SessionFile.
// If the file contains invalid JSON, it returns an error.
// Warns if the existing file has permissions more open than 0600.
func (s *FileStore) Load() (*SessionFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.emptyFile(), nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	// Skip on Windows where Unix file permission bits are not supported.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			mode := info.Mode().Perm()
			if mode&0077 != 0 {
				s.logger.Warn("session file has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var f SessionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse session file: %w", err)
	}
	if f.Values == nil {
		f.Values = make(map[string]string)
	}
	return &f, nil
}

// update applies mutate to the current values under both locks and writes
// the file back when mutate reports a change.
//
// The write sequence is:
//  1. Acquire in-process mutex
//  2. Acquire flock on path+".lock"
//  3. Re-read the current file so concurrent writers are not lost
//  4. Copy current file to path+".bak"
//  5. Write to path+".tmp" with 0600 permissions, fsync, rename
//  6. Release flock and mutex
func (s *FileStore) update(mutate func(values map[string]string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}

	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	current, err := s.Load()
	if err != nil {
		return err
	}
	if !mutate(current.Values) {
		return nil
	}
	current.UpdatedAt = time.Now().UTC()

	if currentData, readErr := os.ReadFile(s.path); readErr == nil {
		bakPath := s.path + ".bak"
		if writeErr := os.WriteFile(bakPath, currentData, 0600); writeErr != nil {
			s.logger.Warn("failed to create backup", "error", writeErr)
		}
	}

	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session file: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}

	// Ensure 0600 after rename in case the umask widened it.
	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on session file", "error", err)
	}

	s.logger.Debug("session file saved", "path", s.path)
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it
// over the target path. On any error the temp file is cleaned up.
func (s *FileStore) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to session file: %w", err)
	}
	return nil
}

// Watch reports keys whose values change on disk, whether written by this
// process or another one. The directory is watched rather than the file
// because atomic renames replace the inode.
func (s *FileStore) Watch(ctx context.Context, fn func(key string)) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	last, err := s.Load()
	if err != nil {
		_ = watcher.Close()
		return err
	}

	target := filepath.Clean(s.path)
	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
					!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
					continue
				}
				next, loadErr := s.Load()
				if loadErr != nil {
					s.logger.Warn("failed to reload session file", "error", loadErr)
					continue
				}
				for _, key := range changedKeys(last.Values, next.Values) {
					fn(key)
				}
				last = next
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("session file watcher error", "error", werr)
			}
		}
	}()
	return nil
}

// Exists returns true if the session file exists on disk.
func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Remove deletes the session file together with its backup and lock files.
func (s *FileStore) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, p := range []string{s.path, s.path + ".bak", s.path + ".lock", s.path + ".tmp"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *FileStore) emptyFile() *SessionFile {
	now := time.Now().UTC()
	return &SessionFile{
		Version:   currentVersion,
		Values:    make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// changedKeys returns keys added, removed or modified between a and b.
func changedKeys(a, b map[string]string) []string {
	var out []string
	for k, v := range b {
		if old, ok := a[k]; !ok || old != v {
			out = append(out, k)
		}
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Compile-time interface verification.
var _ outbound.WatchableStore = (*FileStore)(nil)
