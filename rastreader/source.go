package rastreader

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// ArchiveSource lists and opens tile archives.
type ArchiveSource interface {
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	String() string
}

// DirSource serves archives from a local directory tree. Names are slash
// separated paths relative to Root.
type DirSource struct {
	Root string
}

func (s DirSource) List(ctx context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.Root, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.Root, err)
	}
	sort.Strings(names)
	return names, nil
}

func (s DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.Root, filepath.FromSlash(name)))
}

func (s DirSource) String() string { return s.Root }

// BucketSource serves archives stored as objects under a prefix of a GCS
// bucket.
type BucketSource struct {
	Bucket string
	Prefix string

	client *storage.Client
	bkt    *storage.BucketHandle
}

// NewBucketSource connects to GCS with the ambient credentials.
func NewBucketSource(ctx context.Context, bucket, prefix string) (*BucketSource, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &BucketSource{Bucket: bucket, Prefix: prefix, client: client, bkt: client.Bucket(bucket)}, nil
}

func (s *BucketSource) List(ctx context.Context) ([]string, error) {
	var names []string
	it := s.bkt.Objects(ctx, &storage.Query{Prefix: s.Prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing gs://%s/%s: %w", s.Bucket, s.Prefix, err)
		}
		names = append(names, attrs.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *BucketSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := s.bkt.Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening object gs://%s/%s: %w", s.Bucket, name, err)
	}
	return rc, nil
}

func (s *BucketSource) String() string { return "gs://" + s.Bucket + "/" + s.Prefix }

// Close releases the storage client.
func (s *BucketSource) Close() error { return s.client.Close() }
