package reporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/amosWeiskopf/compwatch/internal/models"
	"github.com/amosWeiskopf/compwatch/pkg/analyzer"
	"github.com/amosWeiskopf/compwatch/pkg/classifier"
)

// MaxListedFailures is the most failed URLs a report lists individually.
// Above it only the count is shown.
const MaxListedFailures = 25

// Supported output formats
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// Reporter renders run and corpus summaries
type Reporter struct {
	runText *template.Template
}

// New creates a new Reporter instance
func New() *Reporter {
	return &Reporter{
		runText: template.Must(template.New("run").Parse(runTextTemplate)),
	}
}

// runView is the rendered shape of a run summary
type runView struct {
	*models.RunSummary
	FailureRatePercent string   `json:"-"`
	Duration           string   `json:"-"`
	ListedFailures     []string `json:"failedUrls,omitempty"`
	FailuresElided     bool     `json:"failuresElided,omitempty"`
}

func newRunView(s *models.RunSummary) runView {
	v := runView{
		RunSummary:         s,
		FailureRatePercent: fmt.Sprintf("%.1f%%", s.FailureRate*100),
		Duration:           s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond).String(),
	}
	if len(s.FailedURLs) > MaxListedFailures {
		v.FailuresElided = true
	} else {
		v.ListedFailures = s.FailedURLs
	}
	return v
}

// RunSummary renders the outcome of one crawl run
func (r *Reporter) RunSummary(s *models.RunSummary, format string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("no run summary to report")
	}
	view := newRunView(s)

	switch format {
	case FormatJSON:
		// The embedded failedUrls field is shadowed by the capped list.
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal run summary: %w", err)
		}
		return string(data), nil
	case FormatMarkdown:
		return generateRunMarkdown(view), nil
	case FormatText, "":
		var buf bytes.Buffer
		if err := r.runText.Execute(&buf, view); err != nil {
			return "", fmt.Errorf("failed to execute template: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

const runTextTemplate = `Run summary ({{.Strategy}}{{if .ForceRefresh}}, force refresh{{end}})
  discovered:       {{.Discovered}}
  new:              {{.New}}
  known kept:       {{.KnownKept}}
  attempted:        {{.Attempted}}
  fetched:          {{.Fetched}}
  failed:           {{.Failed}} ({{.FailureRatePercent}})
  skipped over cap: {{.SkippedOverCap}}
  corpus size:      {{.TotalContent}}
  duration:         {{.Duration}}
{{if .FailuresElided}}Failed URLs: {{len .FailedURLs}} (too many to list)
{{else if .ListedFailures}}Failed URLs:
{{range .ListedFailures}}  - {{.}}
{{end}}{{end}}`

func generateRunMarkdown(v runView) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Crawl Run Summary\n\n")
	fmt.Fprintf(&buf, "*Strategy: %s", v.Strategy)
	if v.ForceRefresh {
		fmt.Fprintf(&buf, " (force refresh)")
	}
	fmt.Fprintf(&buf, ", finished %s*\n\n", v.FinishedAt.Format("January 2, 2006 15:04 MST"))

	fmt.Fprintf(&buf, "| Metric | Count |\n")
	fmt.Fprintf(&buf, "|--------|-------|\n")
	fmt.Fprintf(&buf, "| Discovered | %d |\n", v.Discovered)
	fmt.Fprintf(&buf, "| New | %d |\n", v.New)
	fmt.Fprintf(&buf, "| Known kept | %d |\n", v.KnownKept)
	fmt.Fprintf(&buf, "| Attempted | %d |\n", v.Attempted)
	fmt.Fprintf(&buf, "| Fetched | %d |\n", v.Fetched)
	fmt.Fprintf(&buf, "| Failed | %d (%s) |\n", v.Failed, v.FailureRatePercent)
	fmt.Fprintf(&buf, "| Skipped over cap | %d |\n", v.SkippedOverCap)
	fmt.Fprintf(&buf, "| **Corpus size** | **%d** |\n\n", v.TotalContent)

	switch {
	case v.FailuresElided:
		fmt.Fprintf(&buf, "## Failed URLs\n\n%d URLs failed (too many to list).\n", len(v.FailedURLs))
	case len(v.ListedFailures) > 0:
		fmt.Fprintf(&buf, "## Failed URLs\n\n")
		for _, u := range v.ListedFailures {
			fmt.Fprintf(&buf, "- %s\n", u)
		}
	}
	return buf.String()
}

// CorpusSummary renders the aggregate statistics of a corpus
func (r *Reporter) CorpusSummary(c *models.Corpus, format string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("no corpus to report")
	}

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(c.Summary, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal summary: %w", err)
		}
		return string(data), nil
	case FormatMarkdown:
		return generateCorpusMarkdown(c), nil
	case FormatText, "":
		return generateCorpusText(c), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func generateCorpusText(c *models.Corpus) string {
	var buf bytes.Buffer
	s := c.Summary

	fmt.Fprintf(&buf, "Corpus: %d items, %d new this run, %d undated (updated %s)\n",
		c.TotalContent, s.NewThisRun, s.Undated, c.LastUpdated.Format("2006-01-02 15:04 MST"))

	writeCounts := func(title string, counts map[string]int) {
		fmt.Fprintf(&buf, "%s:\n", title)
		for _, kv := range sortedCounts(counts) {
			fmt.Fprintf(&buf, "  %-16s %d\n", kv.key, kv.count)
		}
	}
	writeCounts("By content type", s.ByContentType)
	writeCounts("By audience", s.ByAudience)

	fmt.Fprintf(&buf, "By topic:\n")
	for _, category := range classifier.TopicCategories() {
		fmt.Fprintf(&buf, "  %-16s %d  gaps: %s\n", category, s.ByTopicCategory[category], strings.Join(s.Gaps[category], ", "))
	}

	for _, f := range s.Findings {
		fmt.Fprintf(&buf, "[%s] %s: %s\n", f.Severity, f.Type, f.Description)
	}
	return buf.String()
}

func generateCorpusMarkdown(c *models.Corpus) string {
	var buf bytes.Buffer
	s := c.Summary

	fmt.Fprintf(&buf, "# Competitor Content Summary\n\n")
	fmt.Fprintf(&buf, "*%d items, updated %s*\n\n", c.TotalContent, c.LastUpdated.Format("January 2, 2006"))

	fmt.Fprintf(&buf, "## Content Types\n\n")
	fmt.Fprintf(&buf, "| Type | Count |\n")
	fmt.Fprintf(&buf, "|------|-------|\n")
	for _, kv := range sortedCounts(s.ByContentType) {
		fmt.Fprintf(&buf, "| %s | %d |\n", kv.key, kv.count)
	}

	fmt.Fprintf(&buf, "\n## Audiences\n\n")
	fmt.Fprintf(&buf, "| Audience | Count |\n")
	fmt.Fprintf(&buf, "|----------|-------|\n")
	for _, kv := range sortedCounts(s.ByAudience) {
		fmt.Fprintf(&buf, "| %s | %d |\n", kv.key, kv.count)
	}

	categories := classifier.TopicCategories()
	fmt.Fprintf(&buf, "\n## Topic Trends\n\n")
	fmt.Fprintf(&buf, "| Month | %s |\n", strings.Join(categories, " | "))
	fmt.Fprintf(&buf, "|-------|%s\n", strings.Repeat("---|", len(categories)))
	for _, month := range analyzer.Months(s) {
		cells := make([]string, 0, len(categories))
		for _, category := range categories {
			cells = append(cells, fmt.Sprintf("%d", s.Trends[month][category]))
		}
		fmt.Fprintf(&buf, "| %s | %s |\n", month, strings.Join(cells, " | "))
	}
	if s.Undated > 0 {
		fmt.Fprintf(&buf, "\n%d undated items are not included in trends.\n", s.Undated)
	}

	fmt.Fprintf(&buf, "\n## Topic Gaps\n\n")
	for _, category := range categories {
		if gaps := s.Gaps[category]; len(gaps) > 0 {
			fmt.Fprintf(&buf, "- **%s:** %s\n", category, strings.Join(gaps, ", "))
		}
	}

	if len(s.Findings) > 0 {
		fmt.Fprintf(&buf, "\n## Findings\n\n")
		for _, f := range s.Findings {
			fmt.Fprintf(&buf, "- **%s** (%s): %s\n", f.Type, f.Severity, f.Description)
		}
	}
	return buf.String()
}

type keyCount struct {
	key   string
	count int
}

// sortedCounts orders by count descending, then key
func sortedCounts(counts map[string]int) []keyCount {
	out := make([]keyCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, keyCount{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	return out
}
