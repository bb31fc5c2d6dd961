// Package feeds ingests RSS/Atom feeds and normalizes their entries into
// raw items for the trending pipeline.
package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"trender/internal/core"
	"trender/internal/logger"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultRateInterval = time.Second
	defaultMaxItems     = 100
	defaultUserAgent    = "trender/1.0"
)

// Fetcher downloads and normalizes feeds. Fetches are rate limited across
// all feeds to stay polite with shared hosts.
type Fetcher struct {
	parser   *gofeed.Parser
	limiter  *rate.Limiter
	maxItems int
	log      zerolog.Logger
	now      func() time.Time
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithRateInterval sets the minimum interval between feed fetches.
func WithRateInterval(interval time.Duration) Option {
	return func(f *Fetcher) {
		if interval > 0 {
			f.limiter = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

// WithMaxItemsPerFeed caps how many entries are taken from one feed.
func WithMaxItemsPerFeed(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxItems = n
		}
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.parser.Client = &http.Client{Timeout: timeout}
		}
	}
}

// WithUserAgent sets the User-Agent header sent to feed servers.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.parser.UserAgent = ua
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// NewFetcher creates a feed fetcher with default limits.
func NewFetcher(opts ...Option) *Fetcher {
	parser := gofeed.NewParser()
	parser.UserAgent = defaultUserAgent
	parser.Client = &http.Client{Timeout: defaultTimeout}

	f := &Fetcher{
		parser:   parser,
		limiter:  rate.NewLimiter(rate.Every(defaultRateInterval), 1),
		maxItems: defaultMaxItems,
		log:      logger.Get(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll downloads every feed and returns the combined normalized
// items. A failing feed is logged and skipped; it never aborts the rest.
func (f *Fetcher) FetchAll(ctx context.Context, feedURLs []string) []core.RawItem {
	var items []core.RawItem
	for _, feedURL := range feedURLs {
		if err := f.limiter.Wait(ctx); err != nil {
			f.log.Warn().Err(err).Msg("Feed fetching cancelled")
			return items
		}
		feedItems, err := f.FetchFeed(ctx, feedURL)
		if err != nil {
			f.log.Error().Err(err).Str("feed", feedURL).Msg("Failed to fetch feed")
			continue
		}
		items = append(items, feedItems...)
	}
	f.log.Info().Int("feeds", len(feedURLs)).Int("items", len(items)).Msg("Feed fetch completed")
	return items
}

// FetchFeed downloads and normalizes a single feed.
func (f *Fetcher) FetchFeed(ctx context.Context, feedURL string) ([]core.RawItem, error) {
	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", feedURL, err)
	}

	now := f.now().UTC()
	lang := normalizeLang(feed.Language)

	entries := feed.Items
	if len(entries) > f.maxItems {
		entries = entries[:f.maxItems]
	}

	items := make([]core.RawItem, 0, len(entries))
	for _, entry := range entries {
		if entry.Link == "" && entry.Title == "" {
			continue
		}

		published := now
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UTC()
		} else if entry.UpdatedParsed != nil {
			published = entry.UpdatedParsed.UTC()
		}

		items = append(items, core.RawItem{
			ID:          itemID(feedURL, entry),
			Title:       StripHTML(entry.Title),
			Summary:     StripHTML(entry.Description),
			Content:     StripHTML(entry.Content),
			URL:         entry.Link,
			Domain:      domainOf(entry.Link),
			SourceURL:   feedURL,
			Language:    lang,
			PublishedAt: published,
			FetchedAt:   now,
		})
	}
	return items, nil
}

// itemID derives a stable identifier so refetching the same entry
// replaces rather than duplicates it.
func itemID(feedURL string, entry *gofeed.Item) string {
	seed := entry.GUID
	if seed == "" {
		seed = entry.Link
	}
	if seed == "" {
		seed = feedURL + "|" + entry.Title
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
}

var spaceRe = regexp.MustCompile(`\s+`)

// StripHTML extracts the plain text from an HTML fragment, collapsing
// whitespace. Non-HTML input passes through unchanged apart from
// whitespace normalization.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
	}
	return strings.TrimSpace(spaceRe.ReplaceAllString(doc.Text(), " "))
}

func domainOf(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) > 2 {
		lang = lang[:2]
	}
	return lang
}
