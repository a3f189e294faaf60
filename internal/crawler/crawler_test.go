package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
)

func TestCrawlSeeds_FetchesAllAndSkipsFailingURLOne(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>hello</body></html>"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{})
	pages, failures, err := c.CrawlSeeds(context.Background(), []string{srv.URL + "/ok", srv.URL + "/missing"})
	if err != nil {
		t.Fatalf("CrawlSeeds error: %v", err)
	}
	if len(pages) != 1 || !strings.Contains(pages[0].Body, "hello") {
		t.Fatalf("expected 1 successful page, got %+v", pages)
	}
	if len(failures) != 1 || failures[0].URL != srv.URL+"/missing" {
		t.Fatalf("expected the missing URL recorded as a failure, got %+v", failures)
	}
}

func TestCrawlSeeds_MaxPagesBoundsFetchCount(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(Config{MaxPages: 1})
	pages, _, err := c.CrawlSeeds(context.Background(), []string{srv.URL + "/a", srv.URL + "/b", srv.URL + "/c"})
	if err != nil {
		t.Fatalf("CrawlSeeds error: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected MaxPages=1 to bound the fetched set, got %d pages", len(pages))
	}
	if hits != 1 {
		t.Fatalf("expected exactly 1 HTTP request issued, got %d", hits)
	}
}

func TestFilterURLs_IncludeThenExclude(t *testing.T) {
	include := []*regexp.Regexp{regexp.MustCompile(`/docs/`)}
	exclude := []*regexp.Regexp{regexp.MustCompile(`/docs/internal/`)}
	urls := []string{
		"https://x.example/docs/guide",
		"https://x.example/docs/internal/secret",
		"https://x.example/blog/post",
	}
	out := filterURLs(urls, include, exclude)
	if len(out) != 1 || out[0] != "https://x.example/docs/guide" {
		t.Fatalf("expected only the non-excluded docs URL to survive, got %+v", out)
	}
}

func TestCrawlSitemap_ExpandsSitemapIndexAndFetchesLeaves(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	leafURL := srv.URL + "/leaf_sitemap.xml"
	pageURL := srv.URL + "/page1"

	mux.HandleFunc("/leaf_sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>` + pageURL + `</loc></url>
</urlset>`))
	})
	mux.HandleFunc("/page1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("page one content"))
	})
	mux.HandleFunc("/sitemap_index_real.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>` + leafURL + `</loc></sitemap>
</sitemapindex>`))
	})

	c := New(Config{})
	pages, failures, err := c.CrawlSitemap(context.Background(), srv.URL+"/sitemap_index_real.xml")
	if err != nil {
		t.Fatalf("CrawlSitemap error: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("expected no fetch failures, got %+v", failures)
	}
	if len(pages) != 1 || pages[0].URL != pageURL || !strings.Contains(pages[0].Body, "page one") {
		t.Fatalf("expected the single leaf page fetched, got %+v", pages)
	}
}

func TestCompilePatterns_SkipsInvalidAndReportsError(t *testing.T) {
	patterns, errs := CompilePatterns([]string{`/docs/`, `(unclosed`})
	if len(patterns) != 1 {
		t.Fatalf("expected 1 valid compiled pattern, got %d", len(patterns))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error reported for the invalid pattern, got %d", len(errs))
	}
}
