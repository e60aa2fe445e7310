package newsmodel

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// NarrativeCluster is a content-derived grouping of articles sharing
// symbol, date, and keyword categories.
type NarrativeCluster struct {
	ClusterID        string    `json:"clusterId"`
	Symbol           string    `json:"symbol"`
	Date             string    `json:"date"` // YYYY-MM-DD, market-local
	Categories       []KeywordCategory `json:"categories"`
	ArticleCount     int       `json:"articleCount"`
	DistinctSources  int       `json:"distinctSources"`
	TimeSpreadHours  float64   `json:"timeSpreadHours"`
	CoordinationScore float64  `json:"coordinationScore"`
	DetectedAt       time.Time `json:"detectedAt"`
	OperatorClusterID string   `json:"operatorClusterId,omitempty"`
}

// ClusterID computes cluster_id = sha1(symbol || date || sorted(categories)).
// date is formatted YYYY-MM-DD in the given location.
func ClusterID(symbol string, publishedAt time.Time, loc *time.Location, categories []KeywordCategory) string {
	if symbol == "" {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	date := publishedAt.In(loc).Format("2006-01-02")

	sorted := make([]string, len(categories))
	for i, c := range categories {
		sorted[i] = string(c)
	}
	sort.Strings(sorted)

	h := sha1.New()
	h.Write([]byte(symbol))
	h.Write([]byte(date))
	h.Write([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// ResolveClusterID implements the precedence rule: the content-derived
// id always wins over an operator-supplied one when both are present.
// mismatch reports whether the two differed, so the caller can log it.
func ResolveClusterID(contentDerived, operatorSupplied string) (resolved string, mismatch bool) {
	if operatorSupplied != "" && operatorSupplied != contentDerived {
		return contentDerived, true
	}
	return contentDerived, false
}

// CoordinationScore computes the hourly narrative-cluster score:
// min(100, 20*distinct_sources + 10*articles - 5*time_spread_hours).
func CoordinationScore(distinctSources, articles int, timeSpreadHours float64) float64 {
	score := 20*float64(distinctSources) + 10*float64(articles) - 5*timeSpreadHours
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

// QualifiesAsCoordinated reports whether a cluster of the last 24h meets
// the coordination threshold: >=4 articles from >=3 distinct sources
// spanning <2h.
func QualifiesAsCoordinated(articles, distinctSources int, timeSpreadHours float64) bool {
	return articles >= 4 && distinctSources >= 3 && timeSpreadHours < 2.0
}

// CategoriesMatch reports whether two category sets are identical, used by
// confirmation tracking: (symbol, keyword-category-set, +/-4h window)
// matches.
func CategoriesMatch(a, b []KeywordCategory) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]KeywordCategory(nil), a...)
	bs := append([]KeywordCategory(nil), b...)
	sort.Slice(as, func(i, j int) bool { return as[i] < as[j] })
	sort.Slice(bs, func(i, j int) bool { return bs[i] < bs[j] })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// WithinConfirmationWindow reports whether b is within +/-4h of a, the
// confirmation-matching window.
func WithinConfirmationWindow(a, b time.Time) bool {
	diff := b.Sub(a)
	if diff < 0 {
		diff = -diff
	}
	return diff <= 4*time.Hour
}
