package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/markusmobius/go-trafilatura"

	"github.com/amosWeiskopf/compwatch/internal/logger"
	"github.com/amosWeiskopf/compwatch/internal/models"
	"github.com/amosWeiskopf/compwatch/pkg/crawler"
	"github.com/amosWeiskopf/compwatch/pkg/utils"
)

// ErrExtractionFailed wraps every fetch or parse failure for a single page.
var ErrExtractionFailed = errors.New("extraction failed")

// Result holds the metadata pulled from one content page
type Result struct {
	URL           string
	Title         string
	Description   string
	PublishDate   *models.Date
	Categories    []string
	FeaturedImage string
}

// metaSelector reads an attribute of the first element matching selector
type metaSelector struct {
	selector string
	attr     string
}

// Selector priority lists. Templates differ across content types on the
// target sites, so every field is tried against several candidates.
var (
	titleSelectors = []string{"h1", "title"}

	descriptionSelectors = []metaSelector{
		{`meta[name="description"]`, "content"},
		{`meta[property="og:description"]`, "content"},
	}

	dateAttrSelectors = []metaSelector{
		{`meta[property="article:published_time"]`, "content"},
		{`meta[property="article:published"]`, "content"},
		{`meta[itemprop="datePublished"]`, "content"},
		{`meta[name="publish_date"]`, "content"},
		{`meta[name="date"]`, "content"},
		{`meta[name="DC.date.issued"]`, "content"},
		{`time[datetime]`, "datetime"},
	}

	dateTextSelectors = []string{".publish-date", ".post-date", ".date", "time"}

	categorySelectors = []string{".tags a", ".tag", ".categories a", ".category", `a[rel="tag"]`, ".topic-tag"}

	imageSelectors = []metaSelector{
		{`meta[property="og:image"]`, "content"},
		{`meta[name="twitter:image"]`, "content"},
		{"article img", "src"},
		{"main img", "src"},
		{".content img", "src"},
	}

	dateLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"January 2, 2006",
		"Jan 2, 2006",
		"2 January 2006",
		"01/02/2006",
	}
)

// Extractor fetches pages and pulls structured metadata out of them
type Extractor struct {
	fetcher crawler.Fetcher
	logger  logger.Logger
}

// New creates a new Extractor instance
func New(fetcher crawler.Fetcher, log logger.Logger) *Extractor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Extractor{
		fetcher: fetcher,
		logger:  log.With(logger.String("component", "extractor")),
	}
}

// Extract fetches pageURL and extracts its metadata. Every failure wraps
// ErrExtractionFailed.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (*Result, error) {
	body, err := e.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	result, err := ExtractHTML(pageURL, body)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("extracted page",
		logger.String("url", pageURL),
		logger.String("title", utils.TruncateText(result.Title, 80)),
		logger.Bool("dated", result.PublishDate != nil),
	)
	return result, nil
}

// ExtractHTML extracts metadata from an already-fetched page body. It
// performs no I/O.
func ExtractHTML(pageURL string, body []byte) (*Result, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body for %s", ErrExtractionFailed, pageURL)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrExtractionFailed, pageURL, err)
	}

	result := &Result{
		URL:         pageURL,
		Title:       firstText(doc, titleSelectors),
		Description: firstAttr(doc, descriptionSelectors),
		Categories:  categories(doc),
	}
	if d, ok := publishDate(doc); ok {
		result.PublishDate = &d
	}
	if img := firstAttr(doc, imageSelectors); img != "" {
		result.FeaturedImage = resolve(base, img)
	}

	if result.Title == "" || result.Description == "" || result.PublishDate == nil || result.FeaturedImage == "" {
		applyFallback(result, base, body)
	}
	return result, nil
}

// applyFallback fills fields the selectors missed from trafilatura's
// metadata extraction. A trafilatura failure is not an error.
func applyFallback(result *Result, base *url.URL, body []byte) {
	extracted, err := trafilatura.Extract(bytes.NewReader(body), trafilatura.Options{OriginalURL: base})
	if err != nil || extracted == nil {
		return
	}

	meta := extracted.Metadata
	if result.Title == "" {
		result.Title = utils.CleanText(meta.Title)
	}
	if result.Description == "" {
		result.Description = utils.CleanText(meta.Description)
	}
	if result.PublishDate == nil && !meta.Date.IsZero() {
		d := models.NewDate(meta.Date)
		result.PublishDate = &d
	}
	if result.FeaturedImage == "" && meta.Image != "" {
		result.FeaturedImage = resolve(base, meta.Image)
	}
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := utils.CleanText(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func firstAttr(doc *goquery.Document, selectors []metaSelector) string {
	for _, sel := range selectors {
		val, _ := doc.Find(sel.selector).First().Attr(sel.attr)
		if val = strings.TrimSpace(val); val != "" {
			return val
		}
	}
	return ""
}

// publishDate returns the first candidate that parses as a date. Attribute
// candidates are tried before visible text.
func publishDate(doc *goquery.Document) (models.Date, bool) {
	for _, sel := range dateAttrSelectors {
		val, _ := doc.Find(sel.selector).First().Attr(sel.attr)
		if d, ok := parseDate(val); ok {
			return d, true
		}
	}
	for _, sel := range dateTextSelectors {
		if d, ok := parseDate(doc.Find(sel).First().Text()); ok {
			return d, true
		}
	}
	return models.Date{}, false
}

func parseDate(raw string) (models.Date, bool) {
	s := utils.CleanText(raw)
	if s == "" {
		return models.Date{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.NewDate(t), true
		}
	}
	// Timestamps with fractional seconds or unusual offsets still carry a leading date.
	if len(s) > 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return models.NewDate(t), true
		}
	}
	return models.Date{}, false
}

// categories unions every tag-like element and article:tag meta value
func categories(doc *goquery.Document) []string {
	var tags []string
	for _, sel := range categorySelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			tags = append(tags, utils.CleanText(s.Text()))
		})
	}
	doc.Find(`meta[property="article:tag"]`).Each(func(_ int, s *goquery.Selection) {
		if val, ok := s.Attr("content"); ok {
			tags = append(tags, utils.CleanText(val))
		}
	})
	return utils.UniqueStrings(tags)
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}
