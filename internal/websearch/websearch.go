// Package websearch implements the C7 web-search tool: a domain-whitelisted
// HTML search adapter with a Redis-backed TTL cache and rate limiter. It
// never returns an error to callers — any failure degrades to an empty
// result set, per spec.md §4.7, since a missing web result is a worse-answer
// turn, not a failed one.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/redis/go-redis/v9"

	"github.com/fabfab/ragsentry/internal/domain"
)

// Tool is the whitelisted web-search adapter. It queries a single search
// endpoint, keeps only results whose host matches the allowed-domain list,
// and caches/rate-limits through Redis the way the-hive's queue package
// drives Redis for its job list.
type Tool struct {
	endpoint       string
	apiKey         string
	allowedDomains map[string]struct{}
	cacheTTL       time.Duration
	rateLimitMin   int
	http           *http.Client
	redis          *redis.Client
}

// New constructs a Tool. endpoint is a search API that returns a JSON array
// of {title, url, snippet} objects (e.g. a SearXNG JSON instance or
// equivalent); an empty endpoint disables search entirely.
func New(redisClient *redis.Client, endpoint, apiKey string, allowedDomains []string, cacheTTL time.Duration, rateLimitPerMin int) *Tool {
	domains := make(map[string]struct{}, len(allowedDomains))
	for _, d := range allowedDomains {
		domains[strings.ToLower(d)] = struct{}{}
	}
	return &Tool{
		endpoint:       strings.TrimRight(endpoint, "/"),
		apiKey:         apiKey,
		allowedDomains: domains,
		cacheTTL:       cacheTTL,
		rateLimitMin:   rateLimitPerMin,
		http:           &http.Client{Timeout: 8 * time.Second},
		redis:          redisClient,
	}
}

type searchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Search implements domain.WebSearchTool. It never returns an error: an
// upstream failure or rate-limit exhaustion logs and yields an empty slice;
// a cache read or write failure only bypasses the cache.
func (t *Tool) Search(ctx context.Context, query string, maxResults int) []domain.WebResult {
	if t.endpoint == "" {
		return nil
	}

	cacheKey := "websearch:cache:" + query
	if cached, ok := t.readCache(ctx, cacheKey); ok {
		return capResults(cached, maxResults)
	}

	if !t.allowRequest(ctx) {
		log.Printf("websearch: rate limit exhausted, degrading to empty results for query=%q", query)
		return nil
	}

	hits, err := t.fetch(ctx, query)
	if err != nil {
		log.Printf("websearch: search failed, degrading to empty results: %v", err)
		return nil
	}

	results := t.filterWhitelisted(hits)
	t.writeCache(ctx, cacheKey, results)
	return capResults(results, maxResults)
}

func (t *Tool) fetch(ctx context.Context, query string) ([]searchHit, error) {
	reqURL := fmt.Sprintf("%s/search?q=%s&format=json", t.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("search endpoint returned status %d", resp.StatusCode)
	}

	var hits []searchHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return hits, nil
}

func (t *Tool) filterWhitelisted(hits []searchHit) []domain.WebResult {
	out := make([]domain.WebResult, 0, len(hits))
	for _, h := range hits {
		u, err := url.Parse(h.URL)
		if err != nil {
			continue
		}
		host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
		if _, ok := t.allowedDomains[host]; !ok {
			continue
		}
		out = append(out, domain.WebResult{
			Title:   h.Title,
			URL:     h.URL,
			Snippet: cleanSnippet(h.Snippet),
			Source:  host,
		})
	}
	return out
}

// cleanSnippet strips any HTML markup a search provider embedded in its
// snippet field, the way the-hive's HTML parser strips script/style nodes
// before extracting text.
func cleanSnippet(raw string) string {
	if !strings.Contains(raw, "<") {
		return raw
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return raw
	}
	return strings.TrimSpace(doc.Text())
}

func capResults(results []domain.WebResult, max int) []domain.WebResult {
	if max > 0 && len(results) > max {
		return results[:max]
	}
	return results
}

func (t *Tool) readCache(ctx context.Context, key string) ([]domain.WebResult, bool) {
	if t.redis == nil {
		return nil, false
	}
	data, err := t.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var results []domain.WebResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, false
	}
	return results, true
}

func (t *Tool) writeCache(ctx context.Context, key string, results []domain.WebResult) {
	if t.redis == nil {
		return
	}
	data, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := t.redis.Set(ctx, key, data, t.cacheTTL).Err(); err != nil {
		log.Printf("websearch: failed to write cache entry: %v", err)
	}
}

// allowRequest enforces a per-minute budget via INCR+EXPIRE on a
// minute-bucketed key, matching the ratelimit package's leaky-bucket
// pattern. A Redis failure fails open (search proceeds) rather than
// blocking a turn on cache-layer unavailability.
func (t *Tool) allowRequest(ctx context.Context) bool {
	if t.redis == nil || t.rateLimitMin <= 0 {
		return true
	}
	bucket := fmt.Sprintf("websearch:rate:%d", time.Now().Unix()/60)
	n, err := t.redis.Incr(ctx, bucket).Result()
	if err != nil {
		log.Printf("websearch: rate limiter unavailable, failing open: %v", err)
		return true
	}
	if n == 1 {
		t.redis.Expire(ctx, bucket, time.Minute)
	}
	return int(n) <= t.rateLimitMin
}
