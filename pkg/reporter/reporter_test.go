package reporter

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/compwatch/internal/models"
	"github.com/amosWeiskopf/compwatch/pkg/analyzer"
)

func runSummary(failures int) *models.RunSummary {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := &models.RunSummary{
		Strategy:     "sitemap",
		Discovered:   120,
		New:          100,
		KnownKept:    20,
		Attempted:    100,
		Fetched:      100 - failures,
		Failed:       failures,
		FailureRate:  float64(failures) / 100,
		TotalContent: 120 - failures,
		StartedAt:    start,
		FinishedAt:   start.Add(90 * time.Second),
	}
	for i := 0; i < failures; i++ {
		s.FailedURLs = append(s.FailedURLs, fmt.Sprintf("https://example.com/resources/blog/p%d", i))
	}
	return s
}

func TestRunSummaryText(t *testing.T) {
	out, err := New().RunSummary(runSummary(3), FormatText)
	require.NoError(t, err)

	assert.Contains(t, out, "Run summary (sitemap)")
	assert.Contains(t, out, "failed:           3 (3.0%)")
	assert.Contains(t, out, "duration:         1m30s\nFailed URLs:\n")
	assert.Contains(t, out, "  - https://example.com/resources/blog/p2\n")
}

func TestRunSummaryFailedURLCap(t *testing.T) {
	r := New()

	tests := []struct {
		name     string
		failures int
		listed   bool
	}{
		{name: "at cap lists every URL", failures: MaxListedFailures, listed: true},
		{name: "above cap shows only the count", failures: MaxListedFailures + 1, listed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := runSummary(tt.failures)
			for _, format := range []string{FormatText, FormatMarkdown} {
				out, err := r.RunSummary(s, format)
				require.NoError(t, err)
				assert.Equal(t, tt.listed, strings.Contains(out, "/blog/p0\n"), format)
				assert.Equal(t, !tt.listed, strings.Contains(out, "too many to list"), format)
			}

			out, err := r.RunSummary(s, FormatJSON)
			require.NoError(t, err)
			var decoded map[string]any
			require.NoError(t, json.Unmarshal([]byte(out), &decoded))
			_, hasList := decoded["failedUrls"]
			assert.Equal(t, tt.listed, hasList)
			assert.EqualValues(t, tt.failures, decoded["failed"])
		})
	}
}

func TestRunSummaryCleanRun(t *testing.T) {
	out, err := New().RunSummary(runSummary(0), FormatText)
	require.NoError(t, err)
	assert.NotContains(t, out, "Failed URLs")
	assert.True(t, strings.HasSuffix(out, "1m30s\n"))
}

func TestRunSummaryRejectsUnknownFormat(t *testing.T) {
	_, err := New().RunSummary(runSummary(0), "html")
	assert.Error(t, err)

	_, err = New().RunSummary(nil, FormatText)
	assert.Error(t, err)
}

func TestCorpusSummary(t *testing.T) {
	published := models.NewDate(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	records := []models.ContentRecord{
		{URL: "https://example.com/resources/blog/a", Title: "AI market trends", PublishDate: &published, ContentType: "article", TargetAudience: []string{"general"}, IsNew: true},
		{URL: "https://example.com/resources/blog/b", Title: "Untitled musings", ContentType: "article", TargetAudience: []string{"employers"}},
	}
	corpus := &models.Corpus{
		LastUpdated:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		TotalContent: len(records),
		Content:      records,
		Summary:      analyzer.New().Analyze(records),
	}
	r := New()

	text, err := r.CorpusSummary(corpus, FormatText)
	require.NoError(t, err)
	assert.Contains(t, text, "Corpus: 2 items, 1 new this run, 1 undated")
	assert.Contains(t, text, "article")

	md, err := r.CorpusSummary(corpus, FormatMarkdown)
	require.NoError(t, err)
	assert.Contains(t, md, "| Month | clinical | business | technology | market |")
	assert.Contains(t, md, "| 2024-03 | 0 | 0 | 1 | 1 |")
	assert.Contains(t, md, "1 undated items are not included in trends.")

	js, err := r.CorpusSummary(corpus, FormatJSON)
	require.NoError(t, err)
	var summary models.Summary
	require.NoError(t, json.Unmarshal([]byte(js), &summary))
	assert.Equal(t, 2, summary.ByContentType["article"])
}
