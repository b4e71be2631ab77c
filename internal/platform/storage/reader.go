package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	gcs "cloud.google.com/go/storage"
)

var (
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
	errNoClient      = errors.New("storage: cloud storage client is not configured")
)

// Location identifies a Cloud Storage object.
type Location struct {
	Bucket string
	Object string
}

func (l Location) String() string {
	return "gs://" + l.Bucket + "/" + l.Object
}

// ParseLocation parses gs://bucket/object. ok is false when raw is not a gs:// URL,
// meaning the caller should treat it as a local path.
func ParseLocation(raw string) (loc Location, ok bool, err error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "gs://") {
		return Location{}, false, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, true, fmt.Errorf("storage: invalid location %q: %w", raw, err)
	}
	loc = Location{
		Bucket: strings.TrimSpace(u.Host),
		Object: strings.TrimPrefix(u.Path, "/"),
	}
	if loc.Bucket == "" {
		return Location{}, true, errInvalidBucket
	}
	if strings.TrimSpace(loc.Object) == "" {
		return Location{}, true, errInvalidObject
	}
	return loc, true, nil
}

type objectOpener interface {
	NewReader(ctx context.Context, loc Location) (io.ReadCloser, error)
}

type gcsOpener struct {
	client *gcs.Client
}

func (o gcsOpener) NewReader(ctx context.Context, loc Location) (io.ReadCloser, error) {
	return o.client.Bucket(loc.Bucket).Object(loc.Object).NewReader(ctx)
}

// Reader opens seed and fixture files from Cloud Storage or the local filesystem.
type Reader struct {
	opener objectOpener
}

// NewReader constructs a Reader. A nil client restricts the reader to local paths.
func NewReader(client *gcs.Client) *Reader {
	r := &Reader{}
	if client != nil {
		r.opener = gcsOpener{client: client}
	}
	return r
}

// Open returns a stream for location, which is either gs://bucket/object or a file path.
func (r *Reader) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	loc, remote, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	if !remote {
		return os.Open(strings.TrimSpace(location))
	}
	if r == nil || r.opener == nil {
		return nil, errNoClient
	}
	rc, err := r.opener.NewReader(ctx, loc)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("storage: %s: %w", loc, os.ErrNotExist)
		}
		return nil, fmt.Errorf("storage: open %s: %w", loc, err)
	}
	return rc, nil
}

// ReadAll reads the whole object at location.
func (r *Reader) ReadAll(ctx context.Context, location string) ([]byte, error) {
	rc, err := r.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
