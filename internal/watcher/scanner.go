package watcher

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jeanbovet/semantica/internal/config"
)

// Scanner performs the one-shot stage-8 initial walk over the
// configured roots, per §4.5 "Initial scan".
type Scanner struct {
	roots []string
	gate  *Gate
}

// NewScanner returns a Scanner over cfg's watched folders, gated by a
// Gate compiled from the same config.
func NewScanner(cfg *config.Config) *Scanner {
	return &Scanner{
		roots: cfg.WatchedFolders,
		gate:  NewGate(cfg),
	}
}

// Scan recursively traverses every configured root, applying the gate,
// and invokes emit with an EventAdd Event for every surviving file. It returns
// as soon as ctx is cancelled, leaving later roots unwalked.
func (s *Scanner) Scan(ctx context.Context, emit func(Event)) error {
	for _, root := range s.roots {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.scanRoot(ctx, root, emit); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) scanRoot(ctx context.Context, root string, emit func(Event)) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		if !s.gate.Allow(path, info.Size()) {
			return nil
		}

		emit(Event{Type: EventAdd, Path: path})
		return nil
	})
}
