package newsmodel

import "math"

// TierWeight is the editorial-reliability weight by source tier. Index 0
// is unused; tiers run 1..5.
var TierWeight = [6]float64{0: 0, 1: 1.0, 2: 0.8, 3: 0.6, 4: 0.4, 5: 0.2}

// MarketStateWeight scales an item's score by the market session it was
// published in; pre-market news carries the most forward signal.
var MarketStateWeight = map[MarketState]float64{
	MarketStatePreMarket:  2.0,
	MarketStateRegular:    1.0,
	MarketStateAfterHours: 0.8,
	MarketStateWeekend:    0.5,
}

// keywordCategoryWeight is the per-category multiplier composed into the
// keyword weight; categories not listed default to 1.0.
var keywordCategoryWeight = map[KeywordCategory]float64{
	CategoryEarnings:   1.2,
	CategoryFDA:        1.5,
	CategoryMerger:     1.3,
	CategoryBankruptcy: 1.3,
	CategoryGuidance:   1.15,
}

const keywordWeightCap = 2.0

// KeywordWeight composes the per-category weights multiplicatively and
// caps the product at 2.0. An item with no recognized keyword categories
// gets a weight of 1.0 (the default), not zero.
func KeywordWeight(categories []KeywordCategory) float64 {
	if len(categories) == 0 {
		return 1.0
	}
	weight := 1.0
	for _, c := range categories {
		w, ok := keywordCategoryWeight[c]
		if !ok {
			w = 1.0
		}
		weight *= w
	}
	if weight > keywordWeightCap {
		weight = keywordWeightCap
	}
	return weight
}

// ItemScore computes a single news item's contribution to its symbol's
// catalyst score:
//
//	item_score(n) = tier_weight * exp(-age_hours/4) * keyword_weight(categories) * market_weight(state)
func ItemScore(tier int, ageHours float64, categories []KeywordCategory, state MarketState) float64 {
	tierW := 0.2
	if tier >= 0 && tier < len(TierWeight) {
		tierW = TierWeight[tier]
	}
	if tierW == 0 {
		tierW = TierWeight[5]
	}
	marketW, ok := MarketStateWeight[state]
	if !ok {
		marketW = MarketStateWeight[MarketStateWeekend]
	}
	return tierW * math.Exp(-ageHours/4.0) * KeywordWeight(categories) * marketW
}

// CatalystScore sums item_score across a symbol's news items and clamps
// the total to [0, 100].
func CatalystScore(itemScores []float64) float64 {
	total := 0.0
	for _, s := range itemScores {
		total += s
	}
	if total > 100 {
		return 100
	}
	if total < 0 {
		return 0
	}
	return total
}

// TechnicalScore computes a symbol's technical confirmation score:
//
//	technical_score = 50 + 10*log10(relative_volume) + 2*price_change_pct, clipped to [0,100]
func TechnicalScore(relativeVolume, priceChangePct float64) float64 {
	if relativeVolume <= 0 {
		relativeVolume = 1e-9 // avoid -Inf; treated as a very low relative volume
	}
	score := 50 + 10*math.Log10(relativeVolume) + 2*priceChangePct
	return clamp(score, 0, 100)
}

// CombinedScore blends catalyst and technical scores 70/30, clamped to
// [0,100].
func CombinedScore(catalystScore, technicalScore float64) float64 {
	return clamp(0.70*catalystScore+0.30*technicalScore, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClassifyPrimaryCatalyst picks the dominant catalyst category for a
// candidate from its aggregated keyword categories, preferring named
// catalysts over the generic fallback.
func ClassifyPrimaryCatalyst(categories []KeywordCategory) PrimaryCatalyst {
	priority := []KeywordCategory{CategoryFDA, CategoryMerger, CategoryEarnings, CategoryBankruptcy, CategoryGuidance}
	present := make(map[KeywordCategory]bool, len(categories))
	for _, c := range categories {
		present[c] = true
	}
	for _, p := range priority {
		if present[p] {
			switch p {
			case CategoryFDA:
				return CatalystFDA
			case CategoryMerger:
				return CatalystMerger
			case CategoryEarnings:
				return CatalystEarnings
			default:
				return CatalystGeneric
			}
		}
	}
	return CatalystGeneric
}
