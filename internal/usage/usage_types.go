package usage

// UsageData is the root structure stored in .stagehand/usage.json.
type UsageData struct {
	Version   string          `json:"version"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// AggregatedStats holds counters broken down by various dimensions.
type AggregatedStats struct {
	Total       TokenCounts            `json:"total"`
	Requests    int64                  `json:"requests"`
	ByNarrative map[string]TokenCounts `json:"by_narrative"`
	ByModel     map[string]TokenCounts `json:"by_model"`
	ByAct       map[string]TokenCounts `json:"by_act"` // keyed narrative/act
}

// TokenCounts holds prompt/completion sums.
type TokenCounts struct {
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
	Total      int64 `json:"total"`
}

func (tc *TokenCounts) Add(prompt, completion, total int64) {
	tc.Prompt += prompt
	tc.Completion += completion
	tc.Total += total
}
