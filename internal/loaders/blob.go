// Package loaders provides resource.Fetcher implementations beyond plain
// HTTP: a gocloud.dev/blob loader for mem:// and file:// resources, and a
// Router that picks a loader by URL scheme.
package loaders

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Sternrassler/lazywall/pkg/client"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// Blob loads resources stored in a bucket. A resource URL maps to the
// object key obtained by removing Root from its path; the query (such as
// a retry token) is ignored.
type Blob struct {
	bucket *blob.Bucket
	root   string
}

// NewBlob wraps bucket. root is the URL path prefix of the bucket, e.g.
// "/srv/images/" for file:///srv/images/a.jpg -> key "a.jpg".
func NewBlob(bucket *blob.Bucket, root string) *Blob {
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return &Blob{bucket: bucket, root: root}
}

// OpenDir opens a file bucket for dir. Resources are addressed as
// file://<dir>/<key>.
func OpenDir(ctx context.Context, dir string) (*Blob, error) {
	bucket, err := blob.OpenBucket(ctx, "file://"+dir)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", dir, err)
	}
	return NewBlob(bucket, dir), nil
}

// Key returns the object key addressed by rawURL.
func (b *Blob) Key(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse resource url: %w", err)
	}
	p := u.Path
	if u.Host != "" {
		p = "/" + u.Host + p
	}
	if !strings.HasPrefix(p, b.root) {
		return "", fmt.Errorf("resource %s is outside bucket root %s", rawURL, b.root)
	}
	key := strings.TrimPrefix(p, b.root)
	if key == "" {
		return "", fmt.Errorf("resource %s has no object key", rawURL)
	}
	return key, nil
}

// LoadResource reads the object behind rawURL to the end.
func (b *Blob) LoadResource(ctx context.Context, rawURL string) error {
	key, err := b.Key(rawURL)
	if err != nil {
		return &client.TransportError{ErrorClass: client.ErrorClassClient, URL: rawURL, Message: "resolve key", Err: err}
	}

	r, err := b.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return blobError(rawURL, "open object", err)
	}
	defer r.Close()

	if _, err := io.Copy(io.Discard, r); err != nil {
		return blobError(rawURL, "read object", err)
	}
	return nil
}

// Close closes the bucket.
func (b *Blob) Close() error {
	return b.bucket.Close()
}

// blobError classifies a bucket failure. Missing or forbidden objects
// will not appear on retry; anything else may be transient.
func blobError(rawURL, msg string, err error) error {
	class := client.ErrorClassNetwork
	switch gcerrors.Code(err) {
	case gcerrors.NotFound, gcerrors.InvalidArgument, gcerrors.PermissionDenied:
		class = client.ErrorClassClient
	}
	return &client.TransportError{ErrorClass: class, URL: rawURL, Message: msg, Err: err}
}
