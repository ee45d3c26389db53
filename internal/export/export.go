// Package export copies a finished run into a gocloud.dev blob bucket.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver

	"github.com/tamirms/segsieve"
)

// Result lists what was uploaded.
type Result struct {
	Prefix  string
	Objects []string
	Bytes   int64
}

// Export uploads the value files of the run in dir, then its manifest, under
// <prefix>/ in the bucket at bucketURL. The prefix defaults to the run id.
// The manifest goes last, so a bucket listing that contains it holds the
// whole run. Aborted runs are refused.
func Export(ctx context.Context, bucketURL, dir, prefix string) (*Result, error) {
	m, err := segsieve.ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	for _, f := range m.Files {
		if f.Status != "ok" {
			return nil, fmt.Errorf("export %s: consumer %d %s", dir, f.Consumer, f.Status)
		}
	}
	if prefix == "" {
		prefix = m.RunID
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	defer bucket.Close()

	res := &Result{Prefix: prefix}
	names := []string{m.Prelude.Name}
	for _, f := range m.Files {
		names = append(names, f.Name)
	}
	names = append(names, segsieve.ManifestName)

	for _, name := range names {
		key := path.Join(prefix, name)
		n, err := upload(ctx, bucket, key, filepath.Join(dir, name))
		if err != nil {
			return res, err
		}
		res.Objects = append(res.Objects, key)
		res.Bytes += n
	}
	return res, nil
}

func upload(ctx context.Context, bucket *blob.Bucket, key, src string) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return 0, fmt.Errorf("create writer for %s: %w", key, err)
	}
	n, err := io.Copy(w, f)
	if err != nil {
		return n, errors.Join(fmt.Errorf("write %s: %w", key, err), w.Close())
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("close writer for %s: %w", key, err)
	}
	return n, nil
}
