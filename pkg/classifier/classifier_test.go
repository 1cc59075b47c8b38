package classifier

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/compwatch/internal/models"
	"github.com/amosWeiskopf/compwatch/pkg/extractor"
	"github.com/amosWeiskopf/compwatch/pkg/utils"
)

var defaultB2B = map[string]string{
	TypeCaseStudy:   AudienceEmployers,
	TypeReportGuide: AudienceHealthPlans,
	TypeWebinar:     AudienceEmployers,
}

func TestContentType(t *testing.T) {
	tests := []struct {
		url   string
		title string
		want  string
	}{
		{"https://example.com/resources/case-studies/acme", "Acme cuts costs", TypeCaseStudy},
		{"https://example.com/resources/press-releases/funding", "We raised", TypePressRelease},
		{"https://example.com/resources/glossary/hedis", "HEDIS", TypeGlossary},
		{"https://example.com/resources/webinars/q3", "Q3 update", TypeWebinar},
		{"https://example.com/resources/reports/state-of-care", "State of care", TypeReportGuide},
		{"https://example.com/resources/blog/ai-in-care", "AI in care", TypeArticle},
		{"https://example.com/resources/company/state-of-benefits", "The State of Benefits 2024", TypeReportGuide},
		{"https://example.com/resources/about/leadership", "Our leadership", TypeOther},
		{"https://example.com/resources/misc/thing", "Anything", TypeOther},
		{"HTTPS://EXAMPLE.COM/Resources/Case-Studies/Acme", "", TypeCaseStudy},
		// Path rules come before the title, so a blog post titled like a report stays an article.
		{"https://example.com/resources/blog/annual-report", "Annual report", TypeArticle},
		// The case-study rule is listed before the report rule.
		{"https://example.com/resources/case-studies/guide", "Guide", TypeCaseStudy},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentType(tt.url, tt.title))
		})
	}
}

func TestContentTypeIsTotal(t *testing.T) {
	inputs := []string{"", "not a url", "://", "https://example.com", "https://example.com/?q=1", "/relative/path"}
	for _, in := range inputs {
		got := ContentType(in, "")
		assert.NotEmpty(t, got, in)
	}
}

func TestAudience(t *testing.T) {
	c := New(defaultB2B)

	tests := []struct {
		name        string
		record      models.ContentRecord
		contentType string
		want        []string
	}{
		{
			name:        "multiple independent matches",
			record:      models.ContentRecord{Title: "How employers support members with diabetes"},
			contentType: TypeArticle,
			want:        []string{AudienceEmployers, AudienceMembers},
		},
		{
			name:        "categories and url count",
			record:      models.ContentRecord{Categories: []string{"Health Plans"}, URL: "https://example.com/resources/providers/x"},
			contentType: TypeArticle,
			want:        []string{AudienceProviders, AudienceHealthPlans},
		},
		{
			name:        "case insensitive",
			record:      models.ContentRecord{Description: "For PHYSICIANS"},
			contentType: TypeOther,
			want:        []string{AudienceProviders},
		},
		{
			name:        "b2b fallback for case study",
			record:      models.ContentRecord{Title: "Acme saves money", URL: "https://example.com/resources/case-studies/acme"},
			contentType: TypeCaseStudy,
			want:        []string{AudienceEmployers},
		},
		{
			name:        "b2b fallback for report",
			record:      models.ContentRecord{Title: "State of care"},
			contentType: TypeReportGuide,
			want:        []string{AudienceHealthPlans},
		},
		{
			name:        "explicit match beats b2b fallback",
			record:      models.ContentRecord{Title: "A hospital story"},
			contentType: TypeCaseStudy,
			want:        []string{AudienceProviders},
		},
		{
			name:        "general fallback",
			record:      models.ContentRecord{Title: "Our new office"},
			contentType: TypeArticle,
			want:        []string{AudienceGeneral},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Audience(tt.record, tt.contentType))
		})
	}
}

func TestAudienceIsNeverEmpty(t *testing.T) {
	titles := []string{"", "x", "Employers", "weather", "☃"}
	descriptions := []string{"", "patients and caregivers", "nothing relevant"}
	categories := [][]string{nil, {}, {"Broker"}, {"", ""}}
	urls := []string{"", "https://example.com/resources/blog/a", "https://example.com/resources/case-studies/b"}

	for _, c := range []*Classifier{New(defaultB2B), New(nil)} {
		for _, title := range titles {
			for _, desc := range descriptions {
				for _, cats := range categories {
					for _, u := range urls {
						record := models.ContentRecord{Title: title, Description: desc, Categories: cats, URL: u}
						got := c.Audience(record, ContentType(u, title))
						assert.NotEmpty(t, got, fmt.Sprintf("%q %q %v %q", title, desc, cats, u))
					}
				}
			}
		}
	}
}

func TestStrategicTopics(t *testing.T) {
	hits := StrategicTopics("Our AI-powered platform improves Mental Health outcomes")
	assert.Contains(t, hits[TopicTechnology], "ai")
	assert.Contains(t, hits[TopicTechnology], "platform")
	assert.Equal(t, []string{"mental health"}, hits[TopicClinical])
}

func TestStrategicTopicsIsLiteralSubstring(t *testing.T) {
	// No word boundaries: "ai" occurs inside "air" and "roi" inside "heroine".
	assert.Contains(t, StrategicTopics("Improving air quality")[TopicTechnology], "ai")
	assert.Contains(t, StrategicTopics("A heroine's journey")[TopicBusiness], "roi")

	// Not contiguous, so not a match.
	assert.NotContains(t, StrategicTopics("a i assisted")[TopicTechnology], "ai")
	assert.NotContains(t, StrategicTopics("weather report")[TopicTechnology], "ai")
	assert.Empty(t, StrategicTopics(""))
}

func TestStrategicTopicsKeepsTableOrder(t *testing.T) {
	hits := StrategicTopics("analytics data app")
	assert.Equal(t, []string{"data", "analytics", "app"}, hits[TopicTechnology])
}

func TestTopicTables(t *testing.T) {
	assert.Equal(t, []string{TopicClinical, TopicBusiness, TopicTechnology, TopicMarket}, TopicCategories())
	for _, category := range TopicCategories() {
		assert.NotEmpty(t, TopicPhrases(category))
	}
	assert.Nil(t, TopicPhrases("unknown"))
}

func TestClassify(t *testing.T) {
	c := New(defaultB2B)
	published := models.NewDate(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	lastmod := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	discovered := models.DiscoveredURL{URL: "https://example.com/resources/case-studies/acme", LastModified: &lastmod}

	t.Run("page date wins over lastmod", func(t *testing.T) {
		record := c.Classify(&extractor.Result{
			Title:       "Acme lowers cost",
			PublishDate: &published,
			Categories:  []string{"Savings", "Savings"},
		}, discovered)

		assert.Equal(t, utils.ContentID(discovered.URL), record.ID)
		assert.Equal(t, discovered.URL, record.URL)
		assert.Equal(t, TypeCaseStudy, record.ContentType)
		assert.Equal(t, []string{AudienceEmployers}, record.TargetAudience)
		assert.Equal(t, []string{"Savings"}, record.Categories)
		require.NotNil(t, record.PublishDate)
		assert.Equal(t, "2024-03-05", record.PublishDate.String())
		assert.True(t, record.FirstSeen.IsZero())
	})

	t.Run("lastmod fills a missing date", func(t *testing.T) {
		record := c.Classify(&extractor.Result{Title: "Acme"}, discovered)
		require.NotNil(t, record.PublishDate)
		assert.Equal(t, "2023-12-01", record.PublishDate.String())
		assert.NotNil(t, record.Categories)
	})

	t.Run("no date at all", func(t *testing.T) {
		record := c.Classify(&extractor.Result{Title: "Acme"}, models.DiscoveredURL{URL: discovered.URL})
		assert.Nil(t, record.PublishDate)
	})
}
