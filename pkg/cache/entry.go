package cache

import (
	"net/http"
	"time"
)

// Entry is a cached listing response: a page of descriptors or a total
// count body, with the validators needed to revalidate it.
type Entry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// ETag for If-None-Match
	ETag string `json:"etag"`

	// Expires is when the entry becomes stale
	Expires time.Time `json:"expires"`

	LastModified time.Time `json:"last_modified"`

	StatusCode int `json:"status_code"`

	ContentType string `json:"content_type,omitempty"`

	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// HasValidator reports whether the entry can be revalidated with a
// conditional request. Entries without one are served as stored.
func (e *Entry) HasValidator() bool {
	if e == nil {
		return false
	}
	return e.ETag != "" || !e.LastModified.IsZero()
}

// Revalidate makes req conditional on the entry: If-None-Match, or
// If-Modified-Since when no ETag is known.
func (e *Entry) Revalidate(req *http.Request) {
	if e == nil || req == nil {
		return
	}
	switch {
	case e.ETag != "":
		req.Header.Set("If-None-Match", e.ETag)
	case !e.LastModified.IsZero():
		req.Header.Set("If-Modified-Since", e.LastModified.UTC().Format(http.TimeFormat))
	}
}
