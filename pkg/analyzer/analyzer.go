package analyzer

import (
	"fmt"
	"sort"

	"github.com/amosWeiskopf/compwatch/internal/models"
	"github.com/amosWeiskopf/compwatch/pkg/classifier"
)

// Analyzer derives aggregate statistics from a corpus
type Analyzer struct {
	config *Config
}

// Config holds analyzer configuration
type Config struct {
	ShortDescriptionChars int // descriptions below this length are reported
	MaxDuplicateFindings  int
}

// New creates a new Analyzer instance
func New() *Analyzer {
	return &Analyzer{
		config: &Config{
			ShortDescriptionChars: 50,
			MaxDuplicateFindings:  10,
		},
	}
}

// NewWithConfig creates an Analyzer with custom configuration
func NewWithConfig(config *Config) *Analyzer {
	return &Analyzer{config: config}
}

// Analyze computes the corpus summary. The output depends only on the
// records, so an unchanged corpus always yields the same summary.
func (a *Analyzer) Analyze(records []models.ContentRecord) models.Summary {
	categories := classifier.TopicCategories()

	summary := models.Summary{
		ByContentType:   make(map[string]int),
		ByAudience:      make(map[string]int),
		ByTopicCategory: make(map[string]int, len(categories)),
		TopicPhrases:    make(map[string]map[string]int, len(categories)),
		Trends:          make(map[string]map[string]int),
		Gaps:            make(map[string][]string, len(categories)),
	}
	for _, c := range categories {
		summary.ByTopicCategory[c] = 0
		summary.TopicPhrases[c] = make(map[string]int)
	}

	for _, r := range records {
		summary.ByContentType[r.ContentType]++
		for _, audience := range r.TargetAudience {
			summary.ByAudience[audience]++
		}
		if r.IsNew {
			summary.NewThisRun++
		}

		topics := classifier.StrategicTopics(classifier.TopicText(r))
		for category, phrases := range topics {
			summary.ByTopicCategory[category]++
			for _, phrase := range phrases {
				summary.TopicPhrases[category][phrase]++
			}
		}

		if r.PublishDate == nil {
			summary.Undated++
			continue
		}
		month := r.PublishDate.Month()
		bucket, ok := summary.Trends[month]
		if !ok {
			bucket = make(map[string]int)
			summary.Trends[month] = bucket
		}
		for category := range topics {
			bucket[category]++
		}
	}

	for _, c := range categories {
		gaps := []string{}
		for _, phrase := range classifier.TopicPhrases(c) {
			if summary.TopicPhrases[c][phrase] == 0 {
				gaps = append(gaps, phrase)
			}
		}
		summary.Gaps[c] = gaps
	}

	summary.Findings = a.generateFindings(records, summary)
	return summary
}

// Months returns the trend months in chronological order
func Months(summary models.Summary) []string {
	months := make([]string, 0, len(summary.Trends))
	for m := range summary.Trends {
		months = append(months, m)
	}
	sort.Strings(months)
	return months
}

// generateFindings creates a list of data-quality findings, most severe first
func (a *Analyzer) generateFindings(records []models.ContentRecord, summary models.Summary) []models.Finding {
	findings := []models.Finding{}

	missingDesc, shortDesc := 0, 0
	for _, r := range records {
		switch {
		case r.Description == "":
			missingDesc++
		case len(r.Description) < a.config.ShortDescriptionChars:
			shortDesc++
		}
	}
	if missingDesc > 0 {
		findings = append(findings, models.Finding{
			Category:    "Extraction",
			Type:        "Missing Description",
			Description: fmt.Sprintf("%d records have no description", missingDesc),
			Severity:    "medium",
		})
	}
	if shortDesc > 0 {
		findings = append(findings, models.Finding{
			Category:    "Extraction",
			Type:        "Short Description",
			Description: fmt.Sprintf("%d records have a description under %d characters", shortDesc, a.config.ShortDescriptionChars),
			Severity:    "low",
		})
	}

	if summary.Undated > 0 {
		findings = append(findings, models.Finding{
			Category:    "Trends",
			Type:        "Undated Content",
			Description: fmt.Sprintf("%d records have no publish date and are excluded from trends", summary.Undated),
			Severity:    "medium",
		})
	}

	untitled := 0
	titles := make(map[string]int)
	for _, r := range records {
		if r.Title == "" {
			untitled++
			continue
		}
		titles[r.Title]++
	}
	if untitled > 0 {
		findings = append(findings, models.Finding{
			Category:    "Extraction",
			Type:        "Missing Title",
			Description: fmt.Sprintf("%d records have no title", untitled),
			Severity:    "high",
		})
	}

	var duplicates []string
	for title, count := range titles {
		if count > 1 {
			duplicates = append(duplicates, title)
		}
	}
	sort.Strings(duplicates)
	for i, title := range duplicates {
		if i >= a.config.MaxDuplicateFindings {
			break
		}
		findings = append(findings, models.Finding{
			Category:    "Extraction",
			Type:        "Duplicate Title",
			Description: fmt.Sprintf("Title '%s' used on %d records", title, titles[title]),
			Severity:    "low",
		})
	}

	if other := summary.ByContentType[classifier.TypeOther]; other > 0 {
		findings = append(findings, models.Finding{
			Category:    "Classification",
			Type:        "Unclassified Content",
			Description: fmt.Sprintf("%d records fell back to content type %q", other, classifier.TypeOther),
			Severity:    "low",
		})
	}

	severityOrder := map[string]int{"critical": 0, "high": 1, "medium": 2, "low": 3}
	sort.SliceStable(findings, func(i, j int) bool {
		return severityOrder[findings[i].Severity] < severityOrder[findings[j].Severity]
	})
	return findings
}
