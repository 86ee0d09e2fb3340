package target

import (
	"path/filepath"
	"strings"
	"time"
)

// StrategyID indexes the five resolution strategies in descending
// priority order.
type StrategyID int

const (
	StrategyProcessName StrategyID = iota
	StrategyProcessPath
	StrategyWindowTitle
	StrategyClassName
	StrategyFuzzyTitle
	strategyCount
)

var strategyNames = [strategyCount]string{
	"process-name", "process-path", "window-title", "class-name", "fuzzy-title",
}

func (s StrategyID) String() string {
	if s < 0 || s >= strategyCount {
		return "unknown"
	}
	return strategyNames[s]
}

// strategyPriority orders searches; higher runs first.
var strategyPriority = [strategyCount]int{10, 9, 8, 7, 6}

type strategyState struct {
	enabled      bool
	successCount int
	failureCount int
	lastUsed     time.Time
}

func (s *strategyState) successRate() float64 {
	total := s.successCount + s.failureCount
	if total == 0 {
		return 0
	}
	return float64(s.successCount) / float64(total)
}

func (s *strategyState) record(success bool, now time.Time) {
	s.lastUsed = now
	if success {
		s.successCount++
	} else {
		s.failureCount++
	}
}

// searchOrder returns the enabled strategies sorted by priority, with the
// historical success rate breaking ties. Disabling and re-enabling a
// strategy restores the prior order because priorities and counters are
// both preserved.
func searchOrder(states *[strategyCount]strategyState) []StrategyID {
	order := make([]StrategyID, 0, strategyCount)
	for id := StrategyID(0); id < strategyCount; id++ {
		if states[id].enabled {
			order = append(order, id)
		}
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && betterStrategy(states, order[j], order[j-1]); j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	return order
}

func betterStrategy(states *[strategyCount]strategyState, a, b StrategyID) bool {
	if strategyPriority[a] != strategyPriority[b] {
		return strategyPriority[a] > strategyPriority[b]
	}
	return states[a].successRate() > states[b].successRate()
}

// runStrategy applies one strategy against a window snapshot and returns
// the first matching visible window, or 0.
func runStrategy(id StrategyID, targetText string, partial bool, wins []WindowInfo) uintptr {
	switch id {
	case StrategyProcessName:
		return matchProcessName(targetText, partial, wins)
	case StrategyProcessPath:
		return matchProcessPath(targetText, wins)
	case StrategyWindowTitle:
		return matchSubstring(targetText, wins, func(w WindowInfo) string { return w.Title })
	case StrategyClassName:
		return matchSubstring(targetText, wins, func(w WindowInfo) string { return w.ClassName })
	case StrategyFuzzyTitle:
		return matchFuzzyTitle(targetText, wins)
	}
	return 0
}

// matchProcessName compares the target's basename against each window's
// owning-process basename. Exact (case-insensitive) match wins first;
// with partial allowed, an extension-stripped substring match is accepted
// so "explorer" still finds explorer.exe.
func matchProcessName(targetText string, partial bool, wins []WindowInfo) uintptr {
	name := strings.ToLower(filepath.Base(targetText))
	if name == "" || name == "." {
		return 0
	}
	for _, w := range wins {
		if !w.Visible || w.ProcessPath == "" {
			continue
		}
		if strings.ToLower(filepath.Base(w.ProcessPath)) == name {
			return w.Handle
		}
	}
	if !partial {
		return 0
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if len(stem) < 2 {
		return 0
	}
	for _, w := range wins {
		if !w.Visible || w.ProcessPath == "" {
			continue
		}
		if strings.Contains(strings.ToLower(filepath.Base(w.ProcessPath)), stem) {
			return w.Handle
		}
	}
	return 0
}

// matchProcessPath requires full path equality and only applies when the
// target actually looks like a path.
func matchProcessPath(targetText string, wins []WindowInfo) uintptr {
	if !strings.ContainsAny(targetText, `\/`) {
		return 0
	}
	want := strings.ToLower(filepath.Clean(targetText))
	for _, w := range wins {
		if !w.Visible || w.ProcessPath == "" {
			continue
		}
		if strings.ToLower(filepath.Clean(w.ProcessPath)) == want {
			return w.Handle
		}
	}
	return 0
}

func matchSubstring(targetText string, wins []WindowInfo, field func(WindowInfo) string) uintptr {
	want := strings.ToLower(targetText)
	if want == "" {
		return 0
	}
	for _, w := range wins {
		if !w.Visible {
			continue
		}
		if strings.Contains(strings.ToLower(field(w)), want) {
			return w.Handle
		}
	}
	return 0
}

// matchFuzzyTitle tokenizes the target on '.' and '_' and accepts any
// window whose title contains a token of at least three characters.
func matchFuzzyTitle(targetText string, wins []WindowInfo) uintptr {
	tokens := fuzzyTokens(targetText)
	if len(tokens) == 0 {
		return 0
	}
	for _, w := range wins {
		if !w.Visible {
			continue
		}
		title := strings.ToLower(w.Title)
		for _, tok := range tokens {
			if strings.Contains(title, tok) {
				return w.Handle
			}
		}
	}
	return 0
}

// fuzzyTokens splits on '.' and '_' and keeps lowercase tokens of length
// >= 3.
func fuzzyTokens(targetText string) []string {
	parts := strings.FieldsFunc(strings.ToLower(targetText), func(r rune) bool {
		return r == '.' || r == '_'
	})
	tokens := parts[:0]
	for _, p := range parts {
		if len(p) >= 3 {
			tokens = append(tokens, p)
		}
	}
	return tokens
}
