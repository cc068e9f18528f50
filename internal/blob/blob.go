// Package blob moves videos between object storage and the worker's
// scratch directory. Inputs may be gs:// objects or plain http(s) URLs;
// outputs always land in a bucket.
package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
)

// Store wraps the GCS client plus a plain HTTP client for non-bucket
// inputs.
type Store struct {
	gcs  *storage.Client
	http *http.Client
}

// NewStore creates the storage client with ambient credentials.
func NewStore(ctx context.Context) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &Store{gcs: client, http: http.DefaultClient}, nil
}

// ParseGSURI splits gs://bucket/path/object into bucket and object key.
func ParseGSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// URI: %s", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed gs:// URI: %s", uri)
	}
	return bucket, object, nil
}

// Download fetches the input to destPath. gs:// objects come through
// the storage client; http(s) URLs are streamed directly.
func (s *Store) Download(ctx context.Context, uri, destPath string) error {
	var reader io.ReadCloser

	switch {
	case strings.HasPrefix(uri, "gs://"):
		bucket, object, err := ParseGSURI(uri)
		if err != nil {
			return err
		}
		reader, err = s.gcs.Bucket(bucket).Object(object).NewReader(ctx)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", uri, err)
		}
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return fmt.Errorf("failed to build request for %s: %w", uri, err)
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", uri, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("failed to fetch %s: status %d", uri, resp.StatusCode)
		}
		reader = resp.Body
	default:
		return fmt.Errorf("unsupported input scheme: %s", uri)
	}
	defer reader.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer out.Close()

	n, err := io.Copy(out, reader)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", uri, err)
	}
	logrus.WithFields(logrus.Fields{"uri": uri, "bytes": n}).Info("input downloaded")
	return nil
}

// Upload writes srcPath to the gs:// destination.
func (s *Store) Upload(ctx context.Context, srcPath, uri string) error {
	bucket, object, err := ParseGSURI(uri)
	if err != nil {
		return err
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer in.Close()

	w := s.gcs.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "video/mp4"
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload to %s: %w", uri, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish upload to %s: %w", uri, err)
	}
	logrus.WithField("uri", uri).Info("output uploaded")
	return nil
}

// Close releases the underlying storage client.
func (s *Store) Close() error {
	return s.gcs.Close()
}

// DeriveOutputURI names the result next to the input: <base>_cropped<ext>.
// A gs:// input keeps its bucket and prefix; an http(s) input needs
// outputBucket to know where the result should live.
func DeriveOutputURI(inputURI, outputBucket string) (string, error) {
	switch {
	case strings.HasPrefix(inputURI, "gs://"):
		bucket, object, err := ParseGSURI(inputURI)
		if err != nil {
			return "", err
		}
		return "gs://" + bucket + "/" + croppedName(object), nil
	case strings.HasPrefix(inputURI, "http://"), strings.HasPrefix(inputURI, "https://"):
		if outputBucket == "" {
			return "", fmt.Errorf("http(s) input requires OUTPUT_BUCKET to be set")
		}
		u, err := url.Parse(inputURI)
		if err != nil || u.Path == "" || u.Path == "/" {
			return "", fmt.Errorf("cannot derive output name from %s", inputURI)
		}
		return "gs://" + outputBucket + "/" + croppedName(path.Base(u.Path)), nil
	default:
		return "", fmt.Errorf("unsupported input scheme: %s", inputURI)
	}
}

func croppedName(object string) string {
	ext := path.Ext(object)
	base := strings.TrimSuffix(object, ext)
	if ext == "" {
		ext = ".mp4"
	}
	return base + "_cropped" + ext
}
