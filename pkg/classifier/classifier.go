// Package classifier assigns content type, audience and strategic topics
// to extracted pages using fixed rule tables. It performs no I/O.
package classifier

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/amosWeiskopf/compwatch/internal/models"
	"github.com/amosWeiskopf/compwatch/pkg/extractor"
	"github.com/amosWeiskopf/compwatch/pkg/utils"
)

// Content types
const (
	TypeArticle      = "article"
	TypeCaseStudy    = "case-study"
	TypePressRelease = "press-release"
	TypeGlossary     = "glossary"
	TypeSupport      = "support"
	TypeWebinar      = "webinar"
	TypeReportGuide  = "report-guide"
	TypeTestimonial  = "testimonial"
	TypeOther        = "other"
)

// Audiences
const (
	AudienceGeneral     = "general"
	AudienceProviders   = "providers"
	AudienceEmployers   = "employers"
	AudienceHealthPlans = "health-plans"
	AudiencePartners    = "partners"
	AudienceMembers     = "members"
)

// Topic categories
const (
	TopicClinical   = "clinical"
	TopicBusiness   = "business"
	TopicTechnology = "technology"
	TopicMarket     = "market"
)

// typeRule maps a path fragment match to a label. When resolve is set the
// label comes from the title instead.
type typeRule struct {
	fragments []string
	label     string
	resolve   func(title string) string
}

func (r typeRule) matches(path string) bool {
	for _, f := range r.fragments {
		if strings.Contains(path, f) {
			return true
		}
	}
	return false
}

var reportKeywords = []string{"report", "state of", "whitepaper", "ebook", "guide", "study"}

// organizational pages are only interesting when they are actually reports
func resolveOrganizational(title string) string {
	lower := strings.ToLower(title)
	for _, kw := range reportKeywords {
		if strings.Contains(lower, kw) {
			return TypeReportGuide
		}
	}
	return TypeOther
}

// typeRules is evaluated in order; the first match wins.
var typeRules = []typeRule{
	{fragments: []string{"/case-stud", "/success-stor"}, label: TypeCaseStudy},
	{fragments: []string{"/press", "/news"}, label: TypePressRelease},
	{fragments: []string{"/glossary"}, label: TypeGlossary},
	{fragments: []string{"/support", "/help", "/faq"}, label: TypeSupport},
	{fragments: []string{"/webinar", "/events", "/on-demand"}, label: TypeWebinar},
	{fragments: []string{"/report", "/guide", "/whitepaper", "/ebook"}, label: TypeReportGuide},
	{fragments: []string{"/testimonial", "/customer-stor", "/reviews"}, label: TypeTestimonial},
	{fragments: []string{"/blog", "/article", "/insights", "/posts"}, label: TypeArticle},
	{fragments: []string{"/company/", "/about/", "/organization/"}, resolve: resolveOrganizational},
}

type audienceRule struct {
	pattern *regexp.Regexp
	label   string
}

// audienceRules are independent; every match contributes its label.
var audienceRules = []audienceRule{
	{regexp.MustCompile(`provider|clinician|physician|doctor|nurse|health system|hospital|clinic`), AudienceProviders},
	{regexp.MustCompile(`employer|human resources|hr leader|benefits leader|benefits manager|workforce|employee`), AudienceEmployers},
	{regexp.MustCompile(`health plan|payer|payor|insurer|medicare advantage|medicaid|managed care`), AudienceHealthPlans},
	{regexp.MustCompile(`partner|reseller|broker|consultant|integration`), AudiencePartners},
	{regexp.MustCompile(`member|patient|caregiver|consumer`), AudienceMembers},
}

type topicCategory struct {
	name    string
	phrases []string
}

// topicTable lists phrases per category in reporting order. Phrases are
// lowercase and match as plain substrings.
var topicTable = []topicCategory{
	{TopicClinical, []string{
		"chronic condition", "diabetes", "hypertension", "behavioral health", "mental health",
		"care management", "clinical outcomes", "remote monitoring", "virtual care",
		"telehealth", "primary care", "prevention",
	}},
	{TopicBusiness, []string{
		"roi", "return on investment", "cost savings", "value-based", "engagement",
		"retention", "productivity", "health equity", "benefits strategy",
	}},
	{TopicTechnology, []string{
		"ai", "artificial intelligence", "machine learning", "platform", "data", "analytics",
		"interoperability", "automation", "digital health", "app",
	}},
	{TopicMarket, []string{
		"trend", "market", "survey", "industry", "regulation", "policy", "state of",
		"forecast", "benchmark",
	}},
}

// TopicCategories returns the four topic category names in table order
func TopicCategories() []string {
	names := make([]string, 0, len(topicTable))
	for _, c := range topicTable {
		names = append(names, c.name)
	}
	return names
}

// TopicPhrases returns the phrase list for a category, or nil for an unknown one
func TopicPhrases(category string) []string {
	for _, c := range topicTable {
		if c.name == category {
			return append([]string(nil), c.phrases...)
		}
	}
	return nil
}

// ContentType labels a page from its URL path, refined by the title for
// organizational pages. It always returns a label.
func ContentType(pageURL, title string) string {
	path := strings.ToLower(pageURL)
	if u, err := url.Parse(pageURL); err == nil {
		path = strings.ToLower(u.Path)
	}
	for _, rule := range typeRules {
		if !rule.matches(path) {
			continue
		}
		if rule.resolve != nil {
			return rule.resolve(title)
		}
		return rule.label
	}
	return TypeOther
}

// StrategicTopics returns, per category, the phrases that occur in text as
// case-insensitive contiguous substrings. Categories without hits are
// omitted.
func StrategicTopics(text string) map[string][]string {
	lower := strings.ToLower(text)
	hits := make(map[string][]string)
	for _, c := range topicTable {
		for _, phrase := range c.phrases {
			if strings.Contains(lower, phrase) {
				hits[c.name] = append(hits[c.name], phrase)
			}
		}
	}
	return hits
}

// TopicText is the text topics are matched against
func TopicText(record models.ContentRecord) string {
	return record.Title + " " + record.Description
}

// Classifier holds the configurable parts of classification
type Classifier struct {
	b2bAudience map[string]string
}

// New creates a Classifier. b2bAudience maps content types to the audience
// assumed when no explicit audience pattern matched.
func New(b2bAudience map[string]string) *Classifier {
	m := make(map[string]string, len(b2bAudience))
	for k, v := range b2bAudience {
		m[k] = v
	}
	return &Classifier{b2bAudience: m}
}

// Audience returns the audience labels for record. The result is never empty.
func (c *Classifier) Audience(record models.ContentRecord, contentType string) []string {
	haystack := strings.ToLower(strings.Join([]string{
		record.Title,
		record.Description,
		strings.Join(record.Categories, " "),
		record.URL,
	}, " "))

	var labels []string
	for _, rule := range audienceRules {
		if rule.pattern.MatchString(haystack) {
			labels = append(labels, rule.label)
		}
	}
	if len(labels) > 0 {
		return labels
	}
	if label, ok := c.b2bAudience[contentType]; ok && label != "" {
		return []string{label}
	}
	return []string{AudienceGeneral}
}

// Classify builds a content record from an extraction result. Timestamps
// are left for the merge step. The page's own publish date wins over the
// manifest lastmod.
func (c *Classifier) Classify(result *extractor.Result, discovered models.DiscoveredURL) models.ContentRecord {
	record := models.ContentRecord{
		ID:            utils.ContentID(discovered.URL),
		URL:           discovered.URL,
		Title:         result.Title,
		Description:   result.Description,
		PublishDate:   result.PublishDate,
		Categories:    utils.UniqueStrings(result.Categories),
		FeaturedImage: result.FeaturedImage,
	}
	if record.PublishDate == nil && discovered.LastModified != nil {
		d := models.NewDate(*discovered.LastModified)
		record.PublishDate = &d
	}
	record.ContentType = ContentType(record.URL, record.Title)
	record.TargetAudience = c.Audience(record, record.ContentType)
	return record
}
