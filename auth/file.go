package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileToken is an Authenticator whose token lives in a file. The file is
// watched and re-read whenever it is written, created or renamed into place.
type FileToken struct {
	path string
	log  *slog.Logger

	mu  sync.RWMutex
	tok string

	// reloaded is signalled after every reload attempt; used by tests.
	reloaded chan struct{}
}

// FileTokenOption configures a FileToken.
type FileTokenOption func(*FileToken)

// WithFileLogger sets the logger used to report reloads.
func WithFileLogger(l *slog.Logger) FileTokenOption {
	return func(f *FileToken) {
		if l != nil {
			f.log = l
		}
	}
}

// NewFileToken reads path and starts watching it until ctx is done. The
// initial read must succeed and yield a non-empty token.
func NewFileToken(ctx context.Context, path string, opts ...FileTokenOption) (*FileToken, error) {
	f := &FileToken{path: filepath.Clean(path), log: slog.Default(), reloaded: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(f)
	}

	tok, err := readToken(f.path)
	if err != nil {
		return nil, err
	}
	f.tok = tok

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("auth: watch %s: %w", f.path, err)
	}
	// Watch the directory: editors and secret mounts replace files by rename,
	// which drops a watch placed on the file itself.
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("auth: watch %s: %w", f.path, err)
	}

	go f.watch(ctx, w)
	return f, nil
}

// CheckToken implements Authenticator.
func (f *FileToken) CheckToken(ctx context.Context, tok string) error {
	f.mu.RLock()
	want := f.tok
	f.mu.RUnlock()
	return compare(want, tok)
}

func (f *FileToken) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer func() {
		_ = w.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			f.reload(ctx)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.log.WarnContext(ctx, "auth.token_file.watch_error", slog.String("err", err.Error()))
		}
	}
}

func (f *FileToken) reload(ctx context.Context) {
	defer func() {
		select {
		case f.reloaded <- struct{}{}:
		default:
		}
	}()

	tok, err := readToken(f.path)
	if err != nil {
		// Keep the previous token; a half-written or missing file must not
		// lock everyone out.
		f.log.WarnContext(ctx, "auth.token_file.reload_failed", slog.String("err", err.Error()))
		return
	}

	f.mu.Lock()
	changed := f.tok != tok
	f.tok = tok
	f.mu.Unlock()

	if changed {
		f.log.InfoContext(ctx, "auth.token_file.reloaded", slog.String("path", f.path))
	}
}

func readToken(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("auth: read token file: %w", err)
	}
	tok := strings.TrimSpace(string(raw))
	if tok == "" {
		return "", errors.New("auth: token file is empty")
	}
	return tok, nil
}
