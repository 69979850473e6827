package cache

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T) (*File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache", "entries.jsonl")
	f, err := OpenFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f, path
}

func readRecords(t *testing.T, path string) []fileRecord {
	t.Helper()
	r, err := os.Open(path)
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	var out []fileRecord
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var rec fileRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	return out
}

func TestFile_PersistsRecordFormat(t *testing.T) {
	ctx := context.Background()
	f, path := newTestFile(t)

	require.NoError(t, f.Put(ctx, "k1", []byte(`{"items":[1,2]}`), time.Hour))

	recs := readRecords(t, path)
	require.Len(t, recs, 1)
	assert.Equal(t, "k1", recs[0].Key)
	assert.JSONEq(t, `{"items":[1,2]}`, string(recs[0].Value))
	assert.WithinDuration(t, time.Now().Add(time.Hour), recs[0].ExpiresAt, 5*time.Second)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"expires_at":"`)
}

func TestFile_ReloadsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	f, path := newTestFile(t)

	require.NoError(t, f.Put(ctx, "k", []byte(`"v1"`), time.Hour))
	require.NoError(t, f.Put(ctx, "k", []byte(`"v2"`), time.Hour))
	require.NoError(t, f.Close())

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck

	v, ok, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"v2"`, string(v))
}

func TestFile_RejectsNonJSON(t *testing.T) {
	f, _ := newTestFile(t)
	err := f.Put(context.Background(), "k", []byte("plain text"), 0)
	assert.ErrorContains(t, err, "not valid JSON")
}

func TestFile_SweepCompacts(t *testing.T) {
	ctx := context.Background()
	f, path := newTestFile(t)
	now := time.Now()
	f.now = func() time.Time { return now }

	require.NoError(t, f.Put(ctx, "old", []byte(`1`), time.Minute))
	require.NoError(t, f.Put(ctx, "keep", []byte(`2`), time.Hour))
	require.NoError(t, f.Put(ctx, "keep", []byte(`3`), time.Hour))

	now = now.Add(10 * time.Minute)
	n, err := f.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs := readRecords(t, path)
	require.Len(t, recs, 1)
	assert.Equal(t, "keep", recs[0].Key)
	assert.Equal(t, "3", string(recs[0].Value))

	require.NoError(t, f.Put(ctx, "after", []byte(`4`), time.Hour))
	v, ok, _ := f.Get(ctx, "after")
	assert.True(t, ok)
	assert.Equal(t, "4", string(v))
}

func TestFile_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.jsonl")
	exp := time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano)
	content := "not json\n" + `{"key":"ok","value":{"a":1},"expires_at":"` + exp + `"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	v, ok, err := f.Get(context.Background(), "ok")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(v))
}

func TestFile_PutAfterClose(t *testing.T) {
	f, _ := newTestFile(t)
	require.NoError(t, f.Close())
	assert.ErrorContains(t, f.Put(context.Background(), "k", []byte(`1`), 0), "closed")
}
