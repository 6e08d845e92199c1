// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extaxonomy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pdiddy/catalog-enricher/internal/httputil"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// Fetcher downloads the full external taxonomy tree.
type Fetcher interface {
	Fetch(ctx context.Context) ([]types.TaxonomyNode, error)
	Source() string
}

// HTTPFetcher reads a categories.txt file over HTTP.
type HTTPFetcher struct {
	Client     *http.Client
	URL        string
	UserAgent  string
	MaxRetries int
}

// NewHTTPFetcher builds a fetcher from cfg.
func NewHTTPFetcher(cfg types.TaxonomyConfig) *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: cfg.Timeout},
		URL:       cfg.SourceURL,
		UserAgent: cfg.UserAgent,
	}
}

// Source returns the URL the tree is fetched from.
func (f *HTTPFetcher) Source() string { return f.URL }

// Fetch downloads and parses the category list. Rate limiting and gateway
// errors are retried; any other non-200 status is an error.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]types.TaxonomyNode, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, f.Client, req, f.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", f.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: HTTP %d", f.URL, resp.StatusCode)
	}
	return ParseCategories(resp.Body)
}

// ParseCategories parses lines of the form
//
//	gid://shopify/TaxonomyCategory/hg-13-6 : Home & Garden > Outdoor Living > Pavers
//
// Blank lines and lines starting with # are skipped. A node is a leaf when no
// other node's path extends its own.
func ParseCategories(r io.Reader) ([]types.TaxonomyNode, error) {
	var nodes []types.TaxonomyNode
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, rest, ok := strings.Cut(line, " : ")
		if !ok {
			return nil, fmt.Errorf("line %d: missing \" : \" separator", lineNo)
		}
		var path []string
		for _, seg := range strings.Split(rest, ">") {
			if seg = strings.TrimSpace(seg); seg != "" {
				path = append(path, seg)
			}
		}
		if len(path) == 0 {
			return nil, fmt.Errorf("line %d: empty category path", lineNo)
		}
		nodes = append(nodes, types.TaxonomyNode{
			ID:   strings.TrimSpace(id),
			Name: path[len(path)-1],
			Path: path,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading categories: %w", err)
	}

	parents := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if len(n.Path) > 1 {
			parents[strings.Join(n.Path[:len(n.Path)-1], " > ")] = true
		}
	}
	for i := range nodes {
		nodes[i].Leaf = !parents[nodes[i].FullName()]
	}
	return nodes, nil
}
