package catalog

import (
	"bytes"
	"context"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/piprov/piprov/pkg/errors"
	"github.com/piprov/piprov/pkg/storage"
)

const maxListingSize = 1 << 20

// HTMLLister reads an autoindex-style HTML listing and returns its hrefs.
type HTMLLister struct {
	fetcher storage.Fetcher
}

// NewHTMLLister creates a lister that fetches pages through f.
func NewHTMLLister(f storage.Fetcher) *HTMLLister {
	return &HTMLLister{fetcher: f}
}

// List implements Lister.
func (l *HTMLLister) List(ctx context.Context, location string) ([]string, error) {
	page, err := storage.ReadAll(ctx, l.fetcher, location, maxListingSize)
	if err != nil {
		return nil, err
	}
	return parseLinks(bytes.NewReader(page))
}

// parseLinks collects relative hrefs, skipping parent links, queries and
// absolute URLs.
func parseLinks(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse listing")
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				if href == "" || strings.HasPrefix(href, "?") || strings.HasPrefix(href, "..") ||
					strings.HasPrefix(href, "/") || strings.Contains(href, "://") {
					continue
				}
				links = append(links, href)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}
