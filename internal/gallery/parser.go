package gallery

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/lazywall/pkg/resource"
	"golang.org/x/net/html"
)

// TotalMetaName is the <meta name> carrying the collection size.
const TotalMetaName = "gallery:total"

// ErrNoTotal is returned when a listing page does not announce its total.
var ErrNoTotal = errors.New("listing has no " + TotalMetaName + " meta element")

// ParsedPage is one HTML listing page.
type ParsedPage struct {
	Images []resource.Descriptor

	// Total is the announced collection size, -1 when absent.
	Total int
}

// ParsePage extracts <img> elements in document order. Sources are
// resolved against pageURL; images without a src are skipped. The id is
// taken from data-id and left empty when missing.
func ParsePage(pageURL string, body []byte) (*ParsedPage, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	page := &ParsedPage{Total: -1}
	var totalErr error

	var walker func(*html.Node)
	walker = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "img":
				if d, ok := imageDescriptor(base, n); ok {
					page.Images = append(page.Images, d)
				}
			case "meta":
				if attr(n, "name") == TotalMetaName && page.Total < 0 {
					content := strings.TrimSpace(attr(n, "content"))
					total, err := strconv.Atoi(content)
					if err != nil || total < 0 {
						totalErr = fmt.Errorf("invalid %s %q", TotalMetaName, content)
					} else {
						page.Total = total
					}
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walker(c)
		}
	}

	walker(doc)

	if totalErr != nil && page.Total < 0 {
		return nil, totalErr
	}
	return page, nil
}

func imageDescriptor(base *url.URL, n *html.Node) (resource.Descriptor, bool) {
	src := strings.TrimSpace(attr(n, "src"))
	if src == "" {
		return resource.Descriptor{}, false
	}
	ref, err := url.Parse(src)
	if err != nil {
		return resource.Descriptor{}, false
	}
	return resource.Descriptor{
		ID:      strings.TrimSpace(attr(n, "data-id")),
		URL:     base.ResolveReference(ref).String(),
		AltText: attr(n, "alt"),
	}, true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
