package agents

// stubToReal maps the six frontend-visible agent ids to the five real
// agents that implement them, per spec.md §4.L. Names not present here are
// assumed to already be real names and pass through unchanged.
var stubToReal = map[string]string{
	"sentiment_analyst":   "investigator",
	"technical_analyst":   "scanner",
	"fundamental_analyst": "investigator",
	"market_analyst":      "regime",
	"news_analyst":        "investigator",
	"portfolio_analyst":   "advisor",
}

// ResolveAgentName maps a frontend-visible stub id to its real backing
// agent name. Real names pass through unchanged, so callers can use either
// form interchangeably.
func ResolveAgentName(name string) string {
	if real, ok := stubToReal[name]; ok {
		return real
	}
	return name
}

// StubNames returns the known frontend-visible stub ids, for API surfaces
// that need to advertise the mapping.
func StubNames() map[string]string {
	out := make(map[string]string, len(stubToReal))
	for k, v := range stubToReal {
		out[k] = v
	}
	return out
}
