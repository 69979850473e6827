package export

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakeBucket serves the subset of the Cloud Storage JSON API the client
// uses for multipart uploads and object listing.
type fakeBucket struct {
	mu      sync.Mutex
	name    string
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeBucket) objectJSON(name string, data []byte) map[string]any {
	sum := md5.Sum(data)
	var crc [4]byte
	binary.BigEndian.PutUint32(crc[:], crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli)))
	return map[string]any{
		"kind":        "storage#object",
		"bucket":      f.name,
		"name":        name,
		"size":        strconv.Itoa(len(data)),
		"contentType": f.types[name],
		"updated":     time.Date(2026, 10, 2, 15, 4, 5, 0, time.UTC).Format(time.RFC3339),
		"md5Hash":     base64.StdEncoding.EncodeToString(sum[:]),
		"crc32c":      base64.StdEncoding.EncodeToString(crc[:]),
	}
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/upload/storage/v1/b/"+f.name+"/o"):
		name, contentType, data, err := readMultipart(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.objects[name] = data
		f.types[name] = contentType
		_ = json.NewEncoder(w).Encode(f.objectJSON(name, data))
	case r.Method == http.MethodGet && r.URL.Path == "/storage/v1/b/"+f.name+"/o":
		prefix := r.URL.Query().Get("prefix")
		items := []map[string]any{}
		for name, data := range f.objects {
			if strings.HasPrefix(name, prefix) {
				items = append(items, f.objectJSON(name, data))
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"kind": "storage#objects", "items": items})
	default:
		http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
	}
}

func readMultipart(r *http.Request) (name, contentType string, data []byte, err error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return "", "", nil, err
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	meta, err := mr.NextPart()
	if err != nil {
		return "", "", nil, err
	}
	var attrs struct {
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
	}
	if err := json.NewDecoder(meta).Decode(&attrs); err != nil {
		return "", "", nil, err
	}
	media, err := mr.NextPart()
	if err != nil {
		return "", "", nil, err
	}
	data, err = io.ReadAll(media)
	if err != nil {
		return "", "", nil, err
	}
	if attrs.Name == "" {
		attrs.Name = r.URL.Query().Get("name")
	}
	return attrs.Name, attrs.ContentType, data, nil
}

func newFakeGCS(t *testing.T) (*GCS, *fakeBucket) {
	t.Helper()
	fb := &fakeBucket{name: "lead-exports", objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	g, err := NewGCS(context.Background(), fb.name,
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g, fb
}

func TestNewGCS_RequiresBucket(t *testing.T) {
	_, err := NewGCS(context.Background(), "", option.WithoutAuthentication())
	assert.Error(t, err)
}

func TestGCS_UploadAndList(t *testing.T) {
	g, fb := newFakeGCS(t)
	ctx := context.Background()

	loc, err := g.Upload(ctx, "leads/a.csv", "text/csv", []byte("x,y\n"))
	require.NoError(t, err)
	assert.Equal(t, "gs://lead-exports/leads/a.csv", loc)
	_, err = g.Upload(ctx, "other/b.json", "application/json", []byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "x,y\n", string(fb.objects["leads/a.csv"]))
	assert.Equal(t, "text/csv", fb.types["leads/a.csv"])

	objs, err := g.List(ctx, "leads/")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "leads/a.csv", objs[0].Name)
	assert.EqualValues(t, 4, objs[0].Size)
	assert.Equal(t, "gs://lead-exports/leads/a.csv", objs[0].Location)
	assert.Equal(t, 2026, objs[0].Updated.Year())

	all, err := g.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "leads/a.csv", all[0].Name)
}

func TestGCS_RejectsEscapingNames(t *testing.T) {
	g, fb := newFakeGCS(t)
	for _, name := range []string{"../evil", "/etc/passwd", "a/../../b", ""} {
		_, err := g.Upload(context.Background(), name, "", []byte("x"))
		assert.Error(t, err, name)
	}
	assert.Empty(t, fb.objects)
}

func TestExporter_UploadsToGCS(t *testing.T) {
	g, fb := newFakeGCS(t)

	e := New([]Format{FormatCSV, FormatJSON}, WithUploader(g))
	artifacts, err := e.Export(context.Background(), snapshot())
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	for _, a := range artifacts {
		assert.Equal(t, "gs://lead-exports/"+a.Name, a.Location)
		assert.EqualValues(t, len(fb.objects[a.Name]), a.Size)
	}
}
