package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Rating is the normalized BUY/HOLD/SELL call extracted from a response.
type Rating string

const (
	RatingBuy  Rating = "BUY"
	RatingHold Rating = "HOLD"
	RatingSell Rating = "SELL"
)

var validRatings = map[Rating]bool{RatingBuy: true, RatingHold: true, RatingSell: true}

// StructuredResponse is the validated shape extracted from a provider's
// free-text analysis.
type StructuredResponse struct {
	Rating     Rating
	Score      float64
	Confidence float64
	Summary    string
}

var (
	fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	inlineJSONPattern = regexp.MustCompile(`(?s)\{[^{}]*"rating"[^{}]*\}`)
)

type rawStructuredResponse struct {
	Rating     string  `json:"rating"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`
}

// ParseStructuredResponse attempts, in order: a direct JSON parse of the
// stripped text, the first ```json``` fenced block, then the first inline
// {"rating": ...} object. Returns nil if nothing in the text validates.
func ParseStructuredResponse(text string) *StructuredResponse {
	trimmed := strings.TrimSpace(text)

	if resp := tryParseJSON(trimmed); resp != nil {
		return resp
	}
	if m := fencedJSONPattern.FindStringSubmatch(text); m != nil {
		if resp := tryParseJSON(m[1]); resp != nil {
			return resp
		}
	}
	if m := inlineJSONPattern.FindString(text); m != "" {
		if resp := tryParseJSON(m); resp != nil {
			return resp
		}
	}
	return nil
}

func tryParseJSON(candidate string) *StructuredResponse {
	var raw rawStructuredResponse
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return nil
	}

	rating := Rating(strings.ToUpper(strings.TrimSpace(raw.Rating)))
	if !validRatings[rating] {
		return nil
	}

	summary := raw.Summary
	if len(summary) > 1000 {
		summary = summary[:1000]
	}

	return &StructuredResponse{
		Rating:     rating,
		Score:      clamp(raw.Score, 0, 100),
		Confidence: clamp(raw.Confidence, 0, 100),
		Summary:    summary,
	}
}

func clamp(v, min, max float64) float64 {
	switch {
	case v < min:
		return min
	case v > max:
		return max
	default:
		return v
	}
}
