package providers

import (
	"errors"

	"github.com/rs/zerolog"
)

// FallbackReason classifies why the registry moved on to the next provider.
type FallbackReason string

const (
	ReasonNoData    FallbackReason = "no_data"
	ReasonException FallbackReason = "exception"
)

// FallbackFunc is invoked at most once per request, when a provider later
// in the chain succeeds after an earlier one failed: from names the first
// provider that failed, to names the provider that served the request.
type FallbackFunc func(from, to string, reason FallbackReason)

// Registry holds an ordered provider chain plus an optional primary
// override. GetQuote/GetHistorical/SearchTicker walk the chain in order;
// the first provider to return a non-empty result wins. Providers that are
// unavailable (e.g. missing API key) are skipped without counting as a
// fallback event.
type Registry struct {
	providers []Provider
	primary   string
	available func(Provider) bool
	log       zerolog.Logger
	OnFallback FallbackFunc
}

// NewRegistry builds a registry over providers in priority order. available
// reports whether a provider is usable (e.g. has a configured API key); a
// nil available treats every provider as usable.
func NewRegistry(providers []Provider, available func(Provider) bool, log zerolog.Logger) *Registry {
	if available == nil {
		available = func(Provider) bool { return true }
	}
	return &Registry{
		providers: providers,
		available: available,
		log:       log.With().Str("component", "provider_registry").Logger(),
	}
}

// SetPrimary overrides the chain's walk order to start at the named
// provider (falling back to the registered order after it).
func (r *Registry) SetPrimary(name string) {
	r.primary = name
}

var errNoData = errors.New("providers: no usable provider returned data")

// orderedChain returns providers in walk order: the primary override first
// (if set and present), then the rest in their registered order.
func (r *Registry) orderedChain() []Provider {
	if r.primary == "" {
		return r.providers
	}
	ordered := make([]Provider, 0, len(r.providers))
	var primary Provider
	for _, p := range r.providers {
		if p.Info().Name == r.primary {
			primary = p
			continue
		}
		ordered = append(ordered, p)
	}
	if primary == nil {
		return r.providers
	}
	return append([]Provider{primary}, ordered...)
}

// GetQuote walks the chain for ticker. If one or more earlier providers are
// tried and fail before one succeeds, OnFallback fires exactly once for the
// whole request, naming the first provider that failed and the one whose
// result ultimately won.
func (r *Registry) GetQuote(ticker string) (Quote, error) {
	var firstFailedName string
	var firstFailedReason FallbackReason

	for _, p := range r.orderedChain() {
		info := p.Info()
		if info.RequiresKey && !r.available(p) {
			continue
		}

		q, err := p.GetQuote(ticker)
		if err != nil {
			r.log.Warn().Err(err).Str("provider", info.Name).Str("ticker", ticker).Msg("provider quote failed")
			if firstFailedName == "" {
				firstFailedName, firstFailedReason = info.Name, ReasonException
			}
			continue
		}
		if q.Price == 0 {
			if firstFailedName == "" {
				firstFailedName, firstFailedReason = info.Name, ReasonNoData
			}
			continue
		}
		r.fireFallback(firstFailedName, info.Name, firstFailedReason)
		return q, nil
	}
	return Quote{}, errNoData
}

// GetHistorical walks the chain the same way GetQuote does.
func (r *Registry) GetHistorical(ticker string, period HistoryPeriod) (PriceHistory, error) {
	var firstFailedName string
	var firstFailedReason FallbackReason

	for _, p := range r.orderedChain() {
		info := p.Info()
		if info.RequiresKey && !r.available(p) {
			continue
		}

		h, err := p.GetHistorical(ticker, period)
		if err != nil {
			r.log.Warn().Err(err).Str("provider", info.Name).Str("ticker", ticker).Msg("provider history failed")
			if firstFailedName == "" {
				firstFailedName, firstFailedReason = info.Name, ReasonException
			}
			continue
		}
		if len(h.Bars) == 0 {
			if firstFailedName == "" {
				firstFailedName, firstFailedReason = info.Name, ReasonNoData
			}
			continue
		}
		r.fireFallback(firstFailedName, info.Name, firstFailedReason)
		return h, nil
	}
	return PriceHistory{}, errNoData
}

// SearchTicker queries providers in chain order, returning the first
// non-empty result set.
func (r *Registry) SearchTicker(query string) []TickerResult {
	for _, p := range r.orderedChain() {
		info := p.Info()
		if info.RequiresKey && !r.available(p) {
			continue
		}
		if results := p.SearchTicker(query); len(results) > 0 {
			return results
		}
	}
	return nil
}

// BatchQuote prefers the first usable provider that implements BatchQuoter
// (YFinance in practice); falls back to per-ticker GetQuote otherwise.
func (r *Registry) BatchQuote(tickers []string) (map[string]Quote, error) {
	for _, p := range r.orderedChain() {
		info := p.Info()
		if info.RequiresKey && !r.available(p) {
			continue
		}
		if bq, ok := p.(BatchQuoter); ok {
			return bq.GetBatchQuotes(tickers)
		}
	}

	out := make(map[string]Quote, len(tickers))
	for _, t := range tickers {
		q, err := r.GetQuote(t)
		if err != nil {
			continue
		}
		out[t] = q
	}
	return out, nil
}

func (r *Registry) fireFallback(from, to string, reason FallbackReason) {
	if from == "" || r.OnFallback == nil {
		return
	}
	r.OnFallback(from, to, reason)
}
