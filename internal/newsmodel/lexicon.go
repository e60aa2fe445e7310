package newsmodel

import (
	"regexp"
	"strings"
)

// tickerPattern matches an optional-$-prefixed 1-5 letter uppercase token,
// used to extract mentioned tickers before allow-list filtering.
var tickerPattern = regexp.MustCompile(`\$?[A-Z]{1,5}\b`)

// defaultBreakingPattern matches common breaking-news phrasing; configurable
// per deployment via Lexicon.BreakingPattern.
var defaultBreakingPattern = regexp.MustCompile(`(?i)\b(breaking|just in|alert|halted|halt)\b`)

// Lexicon holds the configured keyword→category substring map, the known
// exchange-symbol allow-list, and the breaking-news regex used by the
// normalization pipeline. All three are operator-configurable.
type Lexicon struct {
	CategoryTerms    map[KeywordCategory][]string
	KnownSymbols     map[string]bool
	BreakingPattern  *regexp.Regexp
	SourceTierByName map[string]int // source name -> tier, default 5
}

// DefaultLexicon returns the standard keyword→category substring map,
// plus a small starter symbol allow-list. Deployments are expected
// to supply their own KnownSymbols and SourceTierByName at boot.
func DefaultLexicon() *Lexicon {
	return &Lexicon{
		CategoryTerms: map[KeywordCategory][]string{
			CategoryEarnings:     {"earnings", "eps", "quarterly results", "beats estimates", "misses estimates"},
			CategoryFDA:          {"fda", "clinical trial", "drug approval", "phase 3", "phase iii"},
			CategoryMerger:       {"merger", "acquisition", "acquire", "buyout", "takeover"},
			CategoryGuidance:     {"guidance", "outlook", "forecast raised", "forecast cut"},
			CategoryLawsuit:      {"lawsuit", "litigation", "sues", "sued"},
			CategoryBankruptcy:   {"bankruptcy", "chapter 11", "insolvency", "insolvent"},
			CategoryInsider:      {"insider buying", "insider selling", "insider trading"},
			CategoryShort:        {"short interest", "short squeeze", "heavily shorted"},
			CategoryPump:         {"pump", "rally", "surges", "soars"},
			CategoryDump:         {"dump", "sell-off", "plunges", "tumbles"},
			CategoryBreakthrough: {"breakthrough", "groundbreaking", "milestone"},
			CategoryConcerns:     {"concerns", "warns", "warning", "risk of"},
		},
		KnownSymbols:     map[string]bool{},
		BreakingPattern:  defaultBreakingPattern,
		SourceTierByName: map[string]int{},
	}
}

// ExtractKeywords does a case-insensitive substring match of the headline
// and snippet against the configured lexicon, returning the matched
// categories.
func (l *Lexicon) ExtractKeywords(headline, snippet string) map[KeywordCategory]bool {
	haystack := strings.ToLower(headline + " " + snippet)
	found := make(map[KeywordCategory]bool)
	for category, terms := range l.CategoryTerms {
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				found[category] = true
				break
			}
		}
	}
	return found
}

// ExtractTickers extracts mentioned tickers via the configured regex,
// filtered against the known-symbol allow-list. If the allow-list is
// empty, every regex match is accepted — deployments are expected to
// populate it from their reference data.
func (l *Lexicon) ExtractTickers(headline string) []string {
	matches := tickerPattern.FindAllString(headline, -1)
	seen := make(map[string]bool)
	var tickers []string
	for _, m := range matches {
		sym := strings.TrimPrefix(m, "$")
		if len(l.KnownSymbols) > 0 && !l.KnownSymbols[sym] {
			continue
		}
		if !seen[sym] {
			seen[sym] = true
			tickers = append(tickers, sym)
		}
	}
	return tickers
}

// TierFor returns the configured source tier, defaulting to 5 ("unknown").
func (l *Lexicon) TierFor(source string) int {
	if tier, ok := l.SourceTierByName[source]; ok {
		return tier
	}
	return 5
}

// IsBreaking evaluates:
// is_breaking_news = (tier <= 2) AND (age < 30min) AND (headline matches pattern).
func (l *Lexicon) IsBreaking(tier int, ageMinutes float64, headline string) bool {
	if tier > 2 || ageMinutes >= 30 {
		return false
	}
	pattern := l.BreakingPattern
	if pattern == nil {
		pattern = defaultBreakingPattern
	}
	return pattern.MatchString(headline)
}
