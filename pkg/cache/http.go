package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL applies to listings that carry neither max-age nor Expires.
const DefaultTTL = 5 * time.Minute

// ReadEntry reads a listing response into an Entry. The response body is
// restored so the caller can still decode it.
func ReadEntry(resp *http.Response) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	now := time.Now()
	entry := &Entry{
		Data:        body,
		ETag:        resp.Header.Get("ETag"),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		CachedAt:    now,
		Expires:     Expiry(resp.Header, now),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			entry.LastModified = t
		}
	}
	return entry, nil
}

// Storable reports whether a listing response may be written to the cache:
// a 200 that is not marked no-store and has not already expired.
func Storable(resp *http.Response, entry *Entry) bool {
	if resp == nil || entry == nil || resp.StatusCode != http.StatusOK {
		return false
	}
	if _, noStore := cacheControl(resp.Header)["no-store"]; noStore {
		return false
	}
	return entry.TTL() > 0
}

// Expiry computes when a listing fetched at now goes stale.
// Cache-Control max-age wins over Expires; without either the entry lives
// for DefaultTTL. Expiry times in the past clamp to now.
func Expiry(h http.Header, now time.Time) time.Time {
	if exp, ok := explicitExpiry(h, now); ok {
		return exp
	}
	return now.Add(DefaultTTL)
}

// RefreshedExpiry returns the expiry a 304 response sets for the stored
// entry, and false when the response says nothing about freshness.
func RefreshedExpiry(h http.Header, now time.Time) (time.Time, bool) {
	return explicitExpiry(h, now)
}

func explicitExpiry(h http.Header, now time.Time) (time.Time, bool) {
	if v, ok := cacheControl(h)["max-age"]; ok {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return now.Add(time.Duration(secs) * time.Second), true
		}
	}
	if v := h.Get("Expires"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			if t.Before(now) {
				return now, true
			}
			return t, true
		}
	}
	return time.Time{}, false
}

// cacheControl parses the Cache-Control directives into lower-case names.
func cacheControl(h http.Header) map[string]string {
	out := make(map[string]string)
	for _, line := range h.Values("Cache-Control") {
		for _, part := range strings.Split(line, ",") {
			name, value, _ := strings.Cut(strings.TrimSpace(part), "=")
			if name == "" {
				continue
			}
			out[strings.ToLower(name)] = strings.Trim(value, `"`)
		}
	}
	return out
}
