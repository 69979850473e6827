package cache

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// fileRecord is one line of the cache file.
type fileRecord struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// File persists entries as JSON lines of {key, value, expires_at}. The whole
// file is indexed in memory on open; Put appends, Sweep compacts. Values must
// be valid JSON.
type File struct {
	path string

	mu      sync.RWMutex
	index   map[string]fileRecord
	w       *os.File
	appends int // lines in the file, live or not

	now func() time.Time
}

// OpenFile loads (or creates) the cache file at path.
func OpenFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "file cache: create dir")
	}

	f := &File{path: path, index: make(map[string]fileRecord), now: time.Now}
	if err := f.load(); err != nil {
		return nil, err
	}

	w, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrap(err, "file cache: open for append")
	}
	f.w = w
	return f, nil
}

func (f *File) load() error {
	r, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "file cache: open")
	}
	defer r.Close() //nolint:errcheck

	now := time.Now()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	skipped := 0
	for sc.Scan() {
		f.appends++
		var rec fileRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil || rec.Key == "" {
			skipped++
			continue
		}
		if !now.Before(rec.ExpiresAt) {
			delete(f.index, rec.Key)
			continue
		}
		f.index[rec.Key] = rec
	}
	if err := sc.Err(); err != nil {
		return eris.Wrap(err, "file cache: scan")
	}
	if skipped > 0 {
		zap.L().Warn("file cache: skipped corrupt records",
			zap.String("path", f.path),
			zap.Int("skipped", skipped),
		)
	}
	return nil
}

// Get implements Cache.
func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.RLock()
	rec, ok := f.index[key]
	f.mu.RUnlock()
	if !ok || !f.now().Before(rec.ExpiresAt) {
		return nil, false, nil
	}
	out := make([]byte, len(rec.Value))
	copy(out, rec.Value)
	return out, true, nil
}

// Put implements Cache.
func (f *File) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if !json.Valid(value) {
		return eris.Errorf("file cache: value for key %s is not valid JSON", key)
	}
	stored := make(json.RawMessage, len(value))
	copy(stored, value)
	rec := fileRecord{Key: key, Value: stored, ExpiresAt: f.now().Add(effectiveTTL(ttl)).UTC()}

	line, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "file cache: encode record")
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w == nil {
		return eris.New("file cache: closed")
	}
	if _, err := f.w.Write(line); err != nil {
		return eris.Wrap(err, "file cache: append")
	}
	f.index[key] = rec
	f.appends++
	return nil
}

// Sweep drops expired entries and rewrites the file with live ones only.
func (f *File) Sweep(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w == nil {
		return 0, eris.New("file cache: closed")
	}

	now := f.now()
	removed := 0
	for k, rec := range f.index {
		if !now.Before(rec.ExpiresAt) {
			delete(f.index, k)
			removed++
		}
	}
	if removed == 0 && f.appends == len(f.index) {
		return 0, nil
	}

	tmp := f.path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, eris.Wrap(err, "file cache: create compaction file")
	}
	bw := bufio.NewWriter(out)
	enc := json.NewEncoder(bw)
	for _, rec := range f.index {
		if err := enc.Encode(rec); err != nil {
			out.Close() //nolint:errcheck
			return 0, eris.Wrap(err, "file cache: write compaction record")
		}
	}
	if err := bw.Flush(); err != nil {
		out.Close() //nolint:errcheck
		return 0, eris.Wrap(err, "file cache: flush compaction file")
	}
	if err := out.Close(); err != nil {
		return 0, eris.Wrap(err, "file cache: close compaction file")
	}

	if err := f.w.Close(); err != nil {
		return 0, eris.Wrap(err, "file cache: close writer")
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return 0, eris.Wrap(err, "file cache: replace file")
	}
	w, err := os.OpenFile(f.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		f.w = nil
		return 0, eris.Wrap(err, "file cache: reopen")
	}
	f.w = w
	f.appends = len(f.index)
	return removed, nil
}

// Close flushes and closes the underlying file.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w == nil {
		return nil
	}
	err := f.w.Close()
	f.w = nil
	return eris.Wrap(err, "file cache: close")
}
