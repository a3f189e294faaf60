// Package crawler resolves a crawl job's page set — from a sitemap or a
// list of seed URLs — filters it by include/exclude patterns, and fetches
// each page's raw content (§4.12 item 1). Fetch failures are recorded
// per-URL and skipped; they never abort the rest of the crawl.
package crawler

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Config bounds one crawl pass.
type Config struct {
	// HTTPTimeout is the per-request fetch timeout. Defaults to 30s if zero.
	HTTPTimeout time.Duration
	// UserAgent is sent on every fetch request.
	UserAgent string
	// MaxPages caps how many pages are fetched in one crawl job. Zero means
	// unbounded.
	MaxPages int
	// Include, if non-empty, keeps only URLs matching at least one pattern.
	Include []*regexp.Regexp
	// Exclude drops any URL matching any pattern, checked after Include.
	Exclude []*regexp.Regexp
	// MaxNestedSitemaps bounds recursion into a sitemap index.
	MaxNestedSitemaps int
}

const defaultMaxNestedSitemaps = 20

func (cfg Config) resolved() Config {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "onekey-rag-core/1.0 (+documentation crawler)"
	}
	if cfg.MaxNestedSitemaps <= 0 {
		cfg.MaxNestedSitemaps = defaultMaxNestedSitemaps
	}
	return cfg
}

// Page is one successfully fetched page.
type Page struct {
	URL        string
	Body       string
	HTTPStatus int
}

// FetchFailure records one URL's fetch error without aborting the crawl.
type FetchFailure struct {
	URL string
	Err error
}

// Crawler fetches a bounded, filtered page set from either a sitemap URL
// or a list of seed URLs.
type Crawler struct {
	cfg    Config
	client *http.Client
}

// New constructs a Crawler.
func New(cfg Config) *Crawler {
	cfg = cfg.resolved()
	return &Crawler{cfg: cfg, client: &http.Client{Timeout: cfg.HTTPTimeout}}
}

// CrawlSitemap resolves sitemapURL (recursing through a sitemap index up to
// Config.MaxNestedSitemaps levels deep), filters the resulting URL list,
// then fetches each page up to Config.MaxPages.
func (c *Crawler) CrawlSitemap(ctx context.Context, sitemapURL string) ([]Page, []FetchFailure, error) {
	urls, err := c.sitemapURLs(ctx, sitemapURL, c.cfg.MaxNestedSitemaps)
	if err != nil {
		return nil, nil, fmt.Errorf("crawler: resolve sitemap %s: %w", sitemapURL, err)
	}
	return c.fetchAll(ctx, filterURLs(urls, c.cfg.Include, c.cfg.Exclude))
}

// CrawlSeeds filters and fetches an explicit list of seed URLs.
func (c *Crawler) CrawlSeeds(ctx context.Context, seeds []string) ([]Page, []FetchFailure, error) {
	return c.fetchAll(ctx, filterURLs(seeds, c.cfg.Include, c.cfg.Exclude))
}

type urlset struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapLoc `xml:"url"`
}

type sitemapindex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// sitemapURLs fetches and parses one sitemap document, recursing into a
// sitemap index up to maxNested levels. Mirrors the original service's
// sitemap.py: a sitemapindex is fully expanded, plain failures of a nested
// sitemap are skipped rather than aborting the whole resolution.
func (c *Crawler) sitemapURLs(ctx context.Context, sitemapURL string, maxNested int) ([]string, error) {
	body, _, err := c.fetch(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	var index sitemapindex
	if err := xml.Unmarshal([]byte(body), &index); err == nil && len(index.Sitemaps) > 0 {
		if maxNested <= 0 {
			return nil, nil
		}
		var urls []string
		for _, s := range index.Sitemaps {
			nested, err := c.sitemapURLs(ctx, s.Loc, maxNested-1)
			if err != nil {
				continue
			}
			urls = append(urls, nested...)
		}
		return urls, nil
	}

	var set urlset
	if err := xml.Unmarshal([]byte(body), &set); err != nil {
		return nil, fmt.Errorf("parse sitemap xml: %w", err)
	}
	urls := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		if u.Loc != "" {
			urls = append(urls, u.Loc)
		}
	}
	return urls, nil
}

// filterURLs keeps only URLs matching at least one include pattern (when
// any are set), then drops any matching an exclude pattern.
func filterURLs(urls []string, include, exclude []*regexp.Regexp) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if len(include) > 0 && !anyMatch(include, u) {
			continue
		}
		if anyMatch(exclude, u) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// fetchAll fetches urls up to Config.MaxPages, recording per-URL failures
// without stopping the rest of the crawl.
func (c *Crawler) fetchAll(ctx context.Context, urls []string) ([]Page, []FetchFailure, error) {
	if c.cfg.MaxPages > 0 && len(urls) > c.cfg.MaxPages {
		urls = urls[:c.cfg.MaxPages]
	}

	var pages []Page
	var failures []FetchFailure
	for _, u := range urls {
		body, status, err := c.fetch(ctx, u)
		if err != nil {
			failures = append(failures, FetchFailure{URL: u, Err: err})
			continue
		}
		pages = append(pages, Page{URL: u, Body: body, HTTPStatus: status})
	}
	return pages, failures, nil
}

// fetch retrieves the raw body of one URL.
func (c *Crawler) fetch(ctx context.Context, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html, application/xml, text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}
	return string(body), resp.StatusCode, nil
}

// CompilePatterns compiles a list of regex pattern strings, skipping (and
// reporting) any that fail to compile rather than failing the whole list.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, []error) {
	var out []*regexp.Regexp
	var errs []error
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("crawler: invalid pattern %q: %w", p, err))
			continue
		}
		out = append(out, re)
	}
	return out, errs
}
