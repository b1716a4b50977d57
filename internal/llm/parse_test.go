package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStructuredResponseDirectJSON(t *testing.T) {
	resp := ParseStructuredResponse(`{"rating": "buy", "score": 150, "confidence": -5, "summary": "strong"}`)
	require.NotNil(t, resp)
	assert.Equal(t, RatingBuy, resp.Rating)
	assert.Equal(t, 100.0, resp.Score)
	assert.Equal(t, 0.0, resp.Confidence)
	assert.Equal(t, "strong", resp.Summary)
}

func TestParseStructuredResponseFencedBlock(t *testing.T) {
	text := "Here is my analysis:\n```json\n{\"rating\": \"SELL\", \"score\": 20, \"confidence\": 80, \"summary\": \"weak\"}\n```\nThanks."
	resp := ParseStructuredResponse(text)
	require.NotNil(t, resp)
	assert.Equal(t, RatingSell, resp.Rating)
}

func TestParseStructuredResponseInlineObject(t *testing.T) {
	text := `Based on the data, I'd say {"rating": "HOLD", "score": 50, "confidence": 60, "summary": "mixed signals"} is appropriate.`
	resp := ParseStructuredResponse(text)
	require.NotNil(t, resp)
	assert.Equal(t, RatingHold, resp.Rating)
}

func TestParseStructuredResponseInvalidRatingReturnsNil(t *testing.T) {
	resp := ParseStructuredResponse(`{"rating": "MAYBE", "score": 50}`)
	assert.Nil(t, resp)
}

func TestParseStructuredResponseNoJSONReturnsNil(t *testing.T) {
	resp := ParseStructuredResponse("just some plain text with no structure")
	assert.Nil(t, resp)
}

func TestParseStructuredResponseSummaryTruncatedAt1000(t *testing.T) {
	long := make([]byte, 1500)
	for i := range long {
		long[i] = 'x'
	}
	text := `{"rating": "BUY", "score": 1, "confidence": 1, "summary": "` + string(long) + `"}`
	resp := ParseStructuredResponse(text)
	require.NotNil(t, resp)
	assert.Len(t, resp.Summary, 1000)
}
