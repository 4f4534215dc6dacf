package chat

import (
	"github.com/campaignhq/assistant/internal/thread"
)

// EstimateTokens approximates the token count of text by character
// count. Deliberately cheap; charsPerToken is configurable because the
// constant can misclassify requests near the context ceiling.
func EstimateTokens(text string, charsPerToken float64) int {
	if charsPerToken <= 0 {
		charsPerToken = 3.5
	}
	return int(float64(len(text)) / charsPerToken)
}

// SelectStrategy picks the execution strategy for a turn. The completion
// path cannot use server-side file retrieval and has a hard context
// ceiling, so any file attachment or over-budget request goes through
// the provider-managed session.
func SelectStrategy(hasFile bool, estimatedTokens, contextWindow int) string {
	if !hasFile && estimatedTokens < contextWindow {
		return thread.StrategyCompletion
	}
	return thread.StrategySession
}
