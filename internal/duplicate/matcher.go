package duplicate

import (
	"cmp"
	"slices"
)

// FindCandidates scores every record in the window against the candidate and
// returns those at or above EmitThreshold, highest confidence first. Records
// that are themselves linked duplicates are skipped. Ties keep window order,
// so callers that pass the window newest-first get the most recent record
// first.
func FindCandidates(candidate Candidate, window []Record) []MatchResult {
	results := make([]MatchResult, 0)

	for _, record := range window {
		if record.LinkedDuplicateID != "" {
			continue
		}
		match := Score(candidate, record)
		if match.Confidence >= EmitThreshold {
			results = append(results, match)
		}
	}

	slices.SortStableFunc(results, func(a, b MatchResult) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	return results
}

// Score compares one record against the candidate without applying any
// threshold. Malformed fields simply fail to match.
func Score(candidate Candidate, record Record) MatchResult {
	match := MatchResult{
		RecordID: record.ID,
		Reasons:  make([]string, 0, 3),
	}

	if amountsMatch(candidate, record) {
		match.Confidence += amountWeight
		match.Reasons = append(match.Reasons, ReasonSameAmount)
	}

	if datesMatch(candidate.Date, record.Date) {
		match.Confidence += dateWeight
		match.Reasons = append(match.Reasons, ReasonSameDate)
	}

	match.MerchantSimilarity = Similarity(candidate.Merchant, record.Merchant)
	if match.MerchantSimilarity > MerchantMatchThreshold {
		match.Confidence += merchantWeight
		if match.MerchantSimilarity > SameMerchantThreshold {
			match.Reasons = append(match.Reasons, ReasonSameMerchant)
		} else {
			match.Reasons = append(match.Reasons, ReasonSimilarMerchant)
		}
	}

	return match
}

// Top returns at most n matches from an already sorted slice.
func Top(matches []MatchResult, n int) []MatchResult {
	if len(matches) <= n {
		return matches
	}
	return matches[:n]
}

func amountsMatch(candidate Candidate, record Record) bool {
	diff := candidate.Amount.Round(2).Sub(record.Amount.Round(2)).Abs()
	return diff.LessThan(amountEpsilon)
}

func datesMatch(a, b string) bool {
	ca, ok := CanonicalDate(a)
	if !ok {
		return false
	}
	cb, ok := CanonicalDate(b)
	if !ok {
		return false
	}
	return ca == cb
}
