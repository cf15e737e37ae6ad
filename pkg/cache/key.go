package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// DefaultPrefix namespaces every key written by the Manager.
const DefaultPrefix = "lazywall"

// Key identifies a cached listing response.
type Key struct {
	// Endpoint is the request path (e.g. "/images")
	Endpoint string

	// Query holds the request parameters (e.g. page and limit)
	Query url.Values

	// Source distinguishes listings of different origins sharing one Redis
	Source string
}

// String generates a deterministic key.
// Format: endpoint:source:query1=val1:query2=val2
//
// Example:
//
//	images:api.example.com:limit=30:page=2
func (k Key) String() string {
	var parts []string

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}
	if k.Source != "" {
		parts = append(parts, k.Source)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(k.Query[name], ",")))
		}
	}

	return strings.Join(parts, ":")
}
