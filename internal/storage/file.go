package storage

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	logx "embycord/pkg/logx"
)

// fileStore appends delivery records to a JSON Lines file. Reads scan the
// whole file, which is fine for the volumes a retention window leaves behind.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
	f  *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Info("delivery store opened", logx.String("driver", "file"), logx.String("path", path))
	return &fileStore{log: log, path: path, f: f}, nil
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

func (s *fileStore) AppendDelivery(_ context.Context, r DeliveryRecord) error {
	fillDefaults(&r)
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("delivery file closed")
	}
	_, err = s.f.Write(append(b, '\n'))
	return err
}

func (s *fileStore) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	limit = clampLimit(limit)
	s.mu.Lock()
	all, err := s.readAllLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

func (s *fileStore) PruneBefore(ctx context.Context, t time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, errors.New("delivery file closed")
	}

	all, err := s.readAllLocked(ctx)
	if err != nil {
		return 0, err
	}
	keep := all[:0]
	for _, r := range all {
		if !r.At.Before(t) {
			keep = append(keep, r)
		}
	}
	removed := len(all) - len(keep)
	if removed == 0 {
		return 0, nil
	}

	tmp := s.path + ".tmp"
	if err := writeRecords(tmp, keep); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	_ = s.f.Close()
	s.f = nil
	renameErr := os.Rename(tmp, s.path)
	if renameErr != nil {
		_ = os.Remove(tmp)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	s.f = f
	if renameErr != nil {
		return 0, renameErr
	}
	return removed, nil
}

func (s *fileStore) readAllLocked(ctx context.Context) ([]DeliveryRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []DeliveryRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r DeliveryRecord
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			s.log.Warn("skipping corrupt delivery record", logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, sc.Err()
}

func writeRecords(path string, recs []DeliveryRecord) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, r := range recs {
		b, err := json.Marshal(r)
		if err != nil {
			_ = f.Close()
			return err
		}
		_, _ = w.Write(b)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
