package alerts

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidTicker(t *testing.T) {
	assert.True(t, ValidTicker("AAPL"))
	assert.True(t, ValidTicker("A"))
	assert.False(t, ValidTicker("aapl"))
	assert.False(t, ValidTicker("TOOLONG"))
	assert.False(t, ValidTicker(""))
	assert.False(t, ValidTicker("AA1PL"))
}

func TestNormalizeSoundFallsBackToDefault(t *testing.T) {
	assert.Equal(t, SoundChime, NormalizeSound("chime"))
	assert.Equal(t, SoundDefault, NormalizeSound("garbage"))
	assert.Equal(t, SoundDefault, NormalizeSound(""))
}

func TestEvaluatePriceAbove(t *testing.T) {
	a := Alert{ConditionType: ConditionPriceAbove, Threshold: 200}
	assert.True(t, a.Evaluate(200, 0))
	assert.True(t, a.Evaluate(201, 0))
	assert.False(t, a.Evaluate(199.99, 0))
}

func TestEvaluatePriceBelow(t *testing.T) {
	a := Alert{ConditionType: ConditionPriceBelow, Threshold: 100}
	assert.True(t, a.Evaluate(100, 0))
	assert.True(t, a.Evaluate(99, 0))
	assert.False(t, a.Evaluate(100.01, 0))
}

func TestEvaluatePctChangeCapsThreshold(t *testing.T) {
	a := Alert{ConditionType: ConditionPctChange, Threshold: 500}
	// threshold capped at 100, so only a >=100% move fires.
	assert.False(t, a.Evaluate(0, 50))
	assert.True(t, a.Evaluate(0, 150))
}

func TestEvaluatePctChangeUsesAbsoluteValue(t *testing.T) {
	a := Alert{ConditionType: ConditionPctChange, Threshold: 5}
	assert.True(t, a.Evaluate(0, -6))
	assert.True(t, a.Evaluate(0, 6))
	assert.False(t, a.Evaluate(0, -4))
}

func TestSanitizeFloatReplacesNaNAndInf(t *testing.T) {
	assert.Nil(t, sanitizeFloat(math.NaN()))
	assert.Nil(t, sanitizeFloat(math.Inf(1)))
	assert.Nil(t, sanitizeFloat(math.Inf(-1)))
	assert.Equal(t, 1.5, sanitizeFloat(1.5))
}

func TestFormatMessage(t *testing.T) {
	a := Alert{Ticker: "AAPL", ConditionType: ConditionPriceAbove, Threshold: 200}
	msg := formatMessage(a, 203.41)
	assert.Contains(t, msg, "AAPL")
	assert.Contains(t, msg, "200.00")
	assert.Contains(t, msg, "203.41")
}
