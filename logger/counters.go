package logger

import "sync"

// LevelCounts is the number of warnings and errors a component has logged.
type LevelCounts struct {
	Warnings int64 `json:"warnings"`
	Errors   int64 `json:"errors"`
}

var (
	countsMu sync.Mutex
	counts   = make(map[string]*LevelCounts)
)

func countWarn(component string) {
	countsMu.Lock()
	bucket(component).Warnings++
	countsMu.Unlock()
}

func countError(component string) {
	countsMu.Lock()
	bucket(component).Errors++
	countsMu.Unlock()
}

// caller holds countsMu
func bucket(component string) *LevelCounts {
	c, ok := counts[component]
	if !ok {
		c = &LevelCounts{}
		counts[component] = c
	}
	return c
}

// Counts returns a copy of the per-component warning and error tallies.
func Counts() map[string]LevelCounts {
	countsMu.Lock()
	defer countsMu.Unlock()
	out := make(map[string]LevelCounts, len(counts))
	for k, v := range counts {
		out[k] = *v
	}
	return out
}

// ResetCounts clears all tallies.
func ResetCounts() {
	countsMu.Lock()
	counts = make(map[string]*LevelCounts)
	countsMu.Unlock()
}
