package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format of a calendar date in the corpus file.
const DateLayout = "2006-01-02"

// Date is a calendar date without a time of day.
type Date struct {
	time.Time
}

// NewDate keeps the calendar date of t as written in its own location.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

// String returns the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(DateLayout)
}

// Month returns the YYYY-MM bucket the date falls in.
func (d Date) Month() string {
	return d.Format("2006-01")
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ContentRecord represents one classified content page on the target site
type ContentRecord struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	PublishDate    *Date     `json:"publishDate,omitempty"`
	ContentType    string    `json:"contentType"`
	Categories     []string  `json:"categories"`
	TargetAudience []string  `json:"targetAudience"`
	FeaturedImage  string    `json:"featuredImage,omitempty"`
	FirstSeen      time.Time `json:"firstSeen"`
	LastChecked    time.Time `json:"lastChecked"`
	IsNew          bool      `json:"isNew"`
}

// DiscoveredURL is a candidate content URL with its optional manifest modification date
type DiscoveredURL struct {
	URL          string     `json:"url"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// Corpus is the full persisted collection of classified content
type Corpus struct {
	LastUpdated  time.Time       `json:"lastUpdated"`
	TotalContent int             `json:"totalContent"`
	Content      []ContentRecord `json:"content"`
	Summary      Summary         `json:"summary"`
}

// Summary holds aggregate statistics derived from the corpus
type Summary struct {
	ByContentType   map[string]int            `json:"byContentType"`
	ByAudience      map[string]int            `json:"byAudience"`
	ByTopicCategory map[string]int            `json:"byTopicCategory"`
	TopicPhrases    map[string]map[string]int `json:"topicPhrases"`
	Trends          map[string]map[string]int `json:"trends"`
	Gaps            map[string][]string       `json:"gaps"`
	Undated         int                       `json:"undated"`
	NewThisRun      int                       `json:"newThisRun"`
	Findings        []Finding                 `json:"findings"`
}

// Finding is a data-quality observation about the corpus
type Finding struct {
	Category    string `json:"category"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// RunSummary reports what a single crawl run did
type RunSummary struct {
	Strategy       string    `json:"strategy"`
	ForceRefresh   bool      `json:"forceRefresh"`
	Discovered     int       `json:"discovered"`
	New            int       `json:"new"`
	KnownKept      int       `json:"knownKept"`
	Fetched        int       `json:"fetched"`
	Failed         int       `json:"failed"`
	SkippedOverCap int       `json:"skippedOverCap"`
	Attempted      int       `json:"attempted"`
	FailureRate    float64   `json:"failureRate"`
	FailedURLs     []string  `json:"failedUrls"`
	TotalContent   int       `json:"totalContent"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
}
