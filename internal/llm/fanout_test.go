package llm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerpulse/core/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := store.Open(store.Config{Path: path, PoolSize: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fakeProvider struct {
	name  string
	model string
	delay time.Duration
	text  string
	err   error
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.model }

func (f *fakeProvider) GenerateAnalysisWithUsage(ctx context.Context, prompt string, maxTokens int) (string, int, error) {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}
	if f.err != nil {
		return "", 0, f.err
	}
	return f.text, 10, nil
}

func (f *fakeProvider) TestConnection(ctx context.Context) error {
	_, _, err := f.GenerateAnalysisWithUsage(ctx, "ping", 8)
	return err
}

func TestFanoutCompareOrdersResultsAndHandlesTimeout(t *testing.T) {
	s := newTestStore(t)
	f := NewFanout(s, zerolog.Nop())
	f.callTimeout = 30 * time.Millisecond
	f.groupTimeout = 200 * time.Millisecond

	fast := &fakeProvider{name: "fast", delay: 2 * time.Millisecond, text: `{"rating":"BUY","score":80,"confidence":70,"summary":"go"}`}
	slow := &fakeProvider{name: "slow", delay: 10 * time.Millisecond, text: `{"rating":"HOLD","score":50,"confidence":50,"summary":"wait"}`}
	timeout := &fakeProvider{name: "timeout", delay: time.Second}

	results := f.Compare(context.Background(), "AAPL", "analyze AAPL", []Provider{fast, slow, timeout})

	require.Len(t, results, 3)
	assert.Equal(t, "fast", results[0].Provider)
	assert.Equal(t, RatingBuy, results[0].Rating)
	assert.Equal(t, "slow", results[1].Provider)
	assert.Equal(t, RatingHold, results[1].Rating)
	assert.Equal(t, "timeout", results[2].Provider)
	assert.Equal(t, "Request timed out", results[2].Error)
}

func TestFanoutComparePersistsRunAndResults(t *testing.T) {
	s := newTestStore(t)
	f := NewFanout(s, zerolog.Nop())

	p := &fakeProvider{name: "fast", delay: time.Millisecond, text: `{"rating":"BUY","score":80,"confidence":70,"summary":"go"}`}
	_ = f.Compare(context.Background(), "AAPL", "analyze AAPL", []Provider{p})

	require.Eventually(t, func() bool {
		conn, release, err := s.Acquire(context.Background())
		require.NoError(t, err)
		defer release()
		var count int
		_ = conn.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM comparison_results").Scan(&count)
		return count == 1
	}, time.Second, 10*time.Millisecond)
}

func TestFanoutCallOnePropagatesProviderError(t *testing.T) {
	s := newTestStore(t)
	f := NewFanout(s, zerolog.Nop())
	p := &fakeProvider{name: "broken", err: fmt.Errorf("upstream 500")}

	result := f.callOne(context.Background(), p, "prompt")
	assert.Equal(t, "upstream 500", result.Error)
}

func TestFanoutRunAsyncDrainsAndMarksComplete(t *testing.T) {
	s := newTestStore(t)
	f := NewFanout(s, zerolog.Nop())
	p := &fakeProvider{name: "fast", delay: time.Millisecond, text: `{"rating":"SELL","score":10,"confidence":90,"summary":"bad"}`}

	runID, err := f.RunAsync(context.Background(), "TSLA", "analyze TSLA", "custom", []Provider{p})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		conn, release, err := s.Acquire(context.Background())
		require.NoError(t, err)
		defer release()
		var status string
		_ = conn.QueryRowContext(context.Background(), "SELECT status FROM comparison_runs WHERE id = ?", runID).Scan(&status)
		return status == "complete"
	}, time.Second, 10*time.Millisecond)
}

func TestFanoutRunAsyncNoProvidersMarksError(t *testing.T) {
	s := newTestStore(t)
	f := NewFanout(s, zerolog.Nop())

	runID, err := f.RunAsync(context.Background(), "TSLA", "analyze TSLA", "custom", nil)
	require.NoError(t, err)

	conn, release, err := s.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	var status string
	require.NoError(t, conn.QueryRowContext(context.Background(), "SELECT status FROM comparison_runs WHERE id = ?", runID).Scan(&status))
	assert.Equal(t, "error", status)
}

func TestBuildPromptTemplates(t *testing.T) {
	assert.Equal(t, "raw prompt", BuildPrompt(TemplateCustom, "AAPL", "ctx", "raw prompt"))
	assert.Contains(t, BuildPrompt(TemplateBullBearThesis, "AAPL", "ctx", "raw"), "bull case")
	assert.Contains(t, BuildPrompt(TemplateRiskSummary, "AAPL", "ctx", "raw"), "risks")
	assert.Contains(t, BuildPrompt(TemplatePriceTarget, "AAPL", "ctx", "raw"), "price target")
}
