package export

import (
	"context"
	"errors"
	"slices"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS is an Uploader backed by a Cloud Storage bucket. Locations are
// returned as gs://bucket/name.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS opens a client for bucket. Credentials come from the environment
// (GOOGLE_APPLICATION_CREDENTIALS or the metadata server) unless opts
// override them.
func NewGCS(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCS, error) {
	if bucket == "" {
		return nil, eris.New("export: gcs requires a bucket")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "export: gcs client")
	}
	return &GCS{client: client, bucket: bucket}, nil
}

func (g *GCS) location(name string) string {
	return "gs://" + g.bucket + "/" + name
}

// Upload writes data to the named object, replacing any previous version.
func (g *GCS) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || slices.Contains(strings.Split(name, "/"), "..") {
		return "", eris.Errorf("export: invalid object name %q", name)
	}
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", eris.Wrapf(err, "export: gcs write %s", name)
	}
	if err := w.Close(); err != nil {
		return "", eris.Wrapf(err, "export: gcs upload %s", name)
	}
	return g.location(name), nil
}

// List returns objects whose name starts with prefix, sorted by name.
func (g *GCS) List(ctx context.Context, prefix string) ([]Object, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "export: gcs list")
		}
		out = append(out, Object{
			Name:     attrs.Name,
			Size:     attrs.Size,
			Updated:  attrs.Updated.UTC(),
			Location: g.location(attrs.Name),
		})
	}
	slices.SortFunc(out, func(a, b Object) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}
