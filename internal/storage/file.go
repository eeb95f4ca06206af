package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	logx "rtcore/pkg/logx"
)

// fileStore appends entries to <prefix>.journal.jsonl (JSON Lines).
type fileStore struct {
	log logx.Logger
	fs  afero.Fs

	mu   sync.Mutex
	path string
	f    afero.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	journalPath := filepath.Join(dir, base) + ".journal.jsonl"

	f, err := fs.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file journal opened", logx.String("path", journalPath))
	return &fileStore{log: log, fs: fs, path: journalPath, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrDisabled
	}
	_, err = s.f.Write(b)
	return err
}

// Recent scans the whole file and keeps the last n lines. Lines that fail to
// decode (e.g. a torn final write) are skipped.
func (s *fileStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	closed := s.f == nil
	s.mu.Unlock()
	if closed {
		return nil, ErrDisabled
	}

	f, err := s.fs.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]Entry, 0, n)
	r := bufio.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, rerr := r.ReadBytes('\n')
		if len(line) > 0 {
			var e Entry
			if err := json.Unmarshal(line, &e); err != nil {
				s.log.Debug("journal line skipped", logx.Err(err))
			} else {
				if len(ring) == n {
					copy(ring, ring[1:])
					ring = ring[:n-1]
				}
				ring = append(ring, e)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, rerr
		}
	}
	return ring, nil
}
