package workflow

import "strings"

// ConfidenceFunc scores how well a topic can handle a message, in [0,1].
// Zero means "cannot handle".
type ConfidenceFunc func(message string) float64

// KeywordConfidence returns the default confidence implementation: the
// ratio of keywords found in the message, capped at 1.0. Matching is
// case-insensitive on whole tokens.
func KeywordConfidence(keywords ...string) ConfidenceFunc {
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	return func(message string) float64 {
		if len(lowered) == 0 {
			return 0
		}
		tokens := make(map[string]struct{})
		for _, t := range strings.Fields(strings.ToLower(message)) {
			tokens[strings.Trim(t, ".,!?;:'\"")] = struct{}{}
		}
		matches := 0
		for _, k := range lowered {
			if _, ok := tokens[k]; ok {
				matches++
			}
		}
		score := float64(matches) / float64(len(lowered))
		if score > 1 {
			score = 1
		}
		return score
	}
}

// NoConfidence never matches; topics reachable only by hand-down use it.
func NoConfidence() ConfidenceFunc {
	return func(string) float64 { return 0 }
}
