package loaders

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Sternrassler/lazywall/pkg/resource"
)

// ErrUnsupportedScheme is returned for a resource URL no loader handles.
var ErrUnsupportedScheme = errors.New("unsupported resource scheme")

// Router dispatches LoadResource by URL scheme.
type Router struct {
	fetchers map[string]resource.Fetcher
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{fetchers: make(map[string]resource.Fetcher)}
}

// Handle registers f for scheme, replacing any previous loader.
func (r *Router) Handle(scheme string, f resource.Fetcher) {
	r.fetchers[strings.ToLower(scheme)] = f
}

// LoadResource implements resource.Fetcher.
func (r *Router) LoadResource(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse resource url: %w", err)
	}
	f, ok := r.fetchers[strings.ToLower(u.Scheme)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return f.LoadResource(ctx, rawURL)
}
