package models

import (
	"net/url"
	"strings"
)

const searchBaseURL = "https://www.google.com/search?q="

// EstimatedValue is the appraised market value range.
type EstimatedValue struct {
	Min      float64 `json:"min" yaml:"min"`
	Max      float64 `json:"max" yaml:"max"`
	Currency string  `json:"currency" yaml:"currency"`
}

// Inverted reports whether the range violates min <= max.
func (v EstimatedValue) Inverted() bool {
	return v.Min > v.Max
}

// Normalized returns the range with min and max swapped when inverted.
func (v EstimatedValue) Normalized() EstimatedValue {
	if v.Inverted() {
		v.Min, v.Max = v.Max, v.Min
	}
	return v
}

// AnalysisRecord is the structured appraisal of one photographed item.
type AnalysisRecord struct {
	Title             string         `json:"title" yaml:"title"`
	EstimatedDate     string         `json:"estimatedDate" yaml:"estimatedDate"`
	Origin            string         `json:"origin" yaml:"origin"`
	Style             string         `json:"style,omitempty" yaml:"style,omitempty"`
	ConfidenceScore   float64        `json:"confidenceScore,omitempty" yaml:"confidenceScore,omitempty"`
	EstimatedValue    EstimatedValue `json:"estimatedValue" yaml:"estimatedValue"`
	Description       string         `json:"description" yaml:"description"`
	RestorationTips   []string       `json:"restorationTips" yaml:"restorationTips"`
	HistoricalContext string         `json:"historicalContext" yaml:"historicalContext"`
	DetailedHistory   string         `json:"detailedHistory" yaml:"detailedHistory"`
	SearchQueries     []string       `json:"searchQueries" yaml:"searchQueries"`
	KeyFeatures       []string       `json:"keyFeatures" yaml:"keyFeatures"`
	IsAuthentic       *bool          `json:"isAuthentic,omitempty" yaml:"isAuthentic,omitempty"`
}

// RequiredFields lists the record fields the analysis service must return.
func RequiredFields() []string {
	return []string{
		"title",
		"estimatedDate",
		"origin",
		"estimatedValue",
		"description",
		"restorationTips",
		"historicalContext",
		"detailedHistory",
		"searchQueries",
		"keyFeatures",
	}
}

// SearchURLs maps each search query to a web search link, in query order.
func (r *AnalysisRecord) SearchURLs() []string {
	urls := make([]string, 0, len(r.SearchQueries))
	for _, q := range r.SearchQueries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		urls = append(urls, searchBaseURL+url.QueryEscape(q))
	}
	return urls
}

// Authenticity returns the tri-state authenticity verdict as text.
func (r *AnalysisRecord) Authenticity() string {
	switch {
	case r.IsAuthentic == nil:
		return "unknown"
	case *r.IsAuthentic:
		return "authentic"
	default:
		return "possible reproduction"
	}
}

// HistoryEntry is a persisted analysis together with its image.
type HistoryEntry struct {
	AnalysisRecord `yaml:",inline"`
	ID             string `json:"id" yaml:"id"`
	ImageURL       string `json:"imageUrl" yaml:"imageUrl"`
	Timestamp      int64  `json:"timestamp" yaml:"timestamp"`
}

// Usage is the token accounting reported by the analysis service.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// AnalysisResult is the outcome of one successful analysis call.
type AnalysisResult struct {
	Record *AnalysisRecord
	Model  string
	Usage  Usage
	Cost   *CostInfo
}

// CostInfo is the estimated price of an API call.
type CostInfo struct {
	Total    float64
	Currency string
}
