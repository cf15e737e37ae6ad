// Package gallery reads listing pages from plain HTML galleries. Each
// page is fetched with page and limit query parameters; its <img>
// elements become descriptors and a <meta name="gallery:total"> element
// announces the collection size.
package gallery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/lazywall/pkg/client"
	"github.com/Sternrassler/lazywall/pkg/resource"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 4 << 20

// Source implements pagination.Source over HTML pages.
type Source struct {
	base      *url.URL
	userAgent string
	client    *http.Client
	logger    zerolog.Logger
}

// New creates a source for the gallery rooted at baseURL.
func New(baseURL, userAgent string, logger zerolog.Logger) (*Source, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", baseURL)
	}
	return &Source{
		base:      base,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 15 * time.Second},
		logger:    logger.With().Str("component", "gallery").Logger(),
	}, nil
}

// FetchPage returns the images listed on page.
func (s *Source) FetchPage(ctx context.Context, page, size int) ([]resource.Descriptor, error) {
	parsed, err := s.fetch(ctx, page, size)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Int("page", page).Int("images", len(parsed.Images)).Msg("Gallery page parsed")
	return parsed.Images, nil
}

// FetchTotalCount reads the announced total from the first page.
func (s *Source) FetchTotalCount(ctx context.Context) (int, error) {
	parsed, err := s.fetch(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	if parsed.Total < 0 {
		return 0, &client.TransportError{
			ErrorClass: client.ErrorClassDecode,
			URL:        s.base.String(),
			Message:    "read total",
			Err:        ErrNoTotal,
		}
	}
	return parsed.Total, nil
}

// fetch loads and parses one page. Zero page and size leave the query
// untouched.
func (s *Source) fetch(ctx context.Context, page, size int) (*ParsedPage, error) {
	u := *s.base
	if page != 0 || size != 0 {
		q := u.Query()
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(size))
		u.RawQuery = q.Encode()
	}
	target := u.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &client.TransportError{ErrorClass: client.ErrorClassNetwork, URL: target, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &client.TransportError{
			StatusCode: resp.StatusCode,
			ErrorClass: client.ClassifyStatus(resp.StatusCode),
			URL:        target,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &client.TransportError{ErrorClass: client.ErrorClassNetwork, URL: target, Message: "read body", Err: err}
	}

	parsed, err := ParsePage(target, body)
	if err != nil {
		return nil, &client.TransportError{ErrorClass: client.ErrorClassDecode, URL: target, Message: "parse html", Err: err}
	}
	return parsed, nil
}
