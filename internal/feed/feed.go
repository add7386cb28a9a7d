// Package feed polls RSS and Atom feeds and turns new items into raw
// documents for the intake topic.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/DeafMist/claim-radar/backend/internal/dedupe"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/processing"
)

// Poller fetches a fixed set of feeds. Items already returned by an earlier
// poll are skipped while they stay in the seen window.
type Poller struct {
	parser     *gofeed.Parser
	urls       []string
	sourceType models.SourceType
	timeout    time.Duration
	seen       *dedupe.Recent
	log        *slog.Logger
}

// Options tune a Poller.
type Options struct {
	SourceType     models.SourceType
	RequestTimeout time.Duration
	SeenCapacity   int
	SeenTTL        time.Duration
	Client         *http.Client
}

// NewPoller creates a poller for urls.
func NewPoller(urls []string, opts Options, log *slog.Logger) *Poller {
	if opts.SourceType == "" {
		opts.SourceType = models.SourceMedia
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.SeenCapacity <= 0 {
		opts.SeenCapacity = 5000
	}
	if opts.SeenTTL <= 0 {
		opts.SeenTTL = 7 * 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}

	parser := gofeed.NewParser()
	parser.UserAgent = "claim-radar-feeder/1.0"
	if opts.Client != nil {
		parser.Client = opts.Client
	}

	return &Poller{
		parser:     parser,
		urls:       append([]string(nil), urls...),
		sourceType: opts.SourceType,
		timeout:    opts.RequestTimeout,
		seen:       dedupe.NewRecent(opts.SeenCapacity, opts.SeenTTL),
		log:        log,
	}
}

// Poll fetches every feed once and returns the unseen items. A failing feed
// does not stop the others; its error is joined into the returned error.
func (p *Poller) Poll(ctx context.Context) ([]models.RawDocument, error) {
	var (
		out  []models.RawDocument
		errs []error
	)
	for _, url := range p.urls {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		docs, err := p.fetch(ctx, url)
		if err != nil {
			p.log.Warn("feed fetch failed", slog.String("url", url), slog.Any("err", err))
			errs = append(errs, err)
			continue
		}
		out = append(out, docs...)
	}
	return out, errors.Join(errs...)
}

// MarkSeen records that an item was delivered downstream.
func (p *Poller) MarkSeen(doc models.RawDocument) {
	key := itemKey(doc)
	p.seen.Remember(key, key)
}

func (p *Poller) fetch(ctx context.Context, url string) ([]models.RawDocument, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	f, err := p.parser.ParseURLWithContext(url, fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", url, err)
	}

	docs := make([]models.RawDocument, 0, len(f.Items))
	for _, item := range f.Items {
		doc, ok := ItemToRaw(f, item, p.sourceType)
		if !ok {
			continue
		}
		if _, dup := p.seen.Lookup(itemKey(doc)); dup {
			continue
		}
		docs = append(docs, doc)
	}
	p.log.Debug("feed fetched", slog.String("url", url), slog.Int("items", len(f.Items)), slog.Int("new", len(docs)))
	return docs, nil
}

// ItemToRaw maps a feed item to a raw document. Items without a link or any
// text are dropped.
func ItemToRaw(f *gofeed.Feed, item *gofeed.Item, sourceType models.SourceType) (models.RawDocument, bool) {
	if item == nil {
		return models.RawDocument{}, false
	}
	content := PlainText(item.Content)
	if content == "" {
		content = PlainText(item.Description)
	}
	title := processing.CollapseWhitespace(item.Title)
	link := strings.TrimSpace(item.Link)
	if link == "" || (content == "" && title == "") {
		return models.RawDocument{}, false
	}
	if content == "" {
		content = title
	}

	source := ""
	if f != nil {
		source = strings.TrimSpace(f.Title)
		if source == "" {
			source = strings.TrimSpace(f.Link)
		}
	}
	if source == "" {
		source = link
	}

	var author string
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = strings.TrimSpace(item.Authors[0].Name)
	}

	var published string
	switch {
	case item.PublishedParsed != nil:
		published = item.PublishedParsed.UTC().Format(time.RFC3339)
	case item.UpdatedParsed != nil:
		published = item.UpdatedParsed.UTC().Format(time.RFC3339)
	}

	return models.RawDocument{
		Title:         title,
		URL:           link,
		Content:       content,
		Source:        source,
		SourceType:    string(sourceType),
		Author:        author,
		PublishedDate: published,
	}, true
}

// PlainText drops markup from an HTML fragment.
func PlainText(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return processing.CollapseWhitespace(fragment)
	}
	doc.Find("script, style").Remove()
	return processing.CollapseWhitespace(doc.Text())
}

func itemKey(doc models.RawDocument) string {
	return processing.CanonicalURL(doc.URL)
}
