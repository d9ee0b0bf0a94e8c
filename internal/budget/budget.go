// Package budget estimates prompt sizes with a character heuristic
// (1 token ≈ 4 characters) so prompt assembly can stay inside a model's
// context window without depending on any one tokenizer.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

// charsPerToken is the character-to-token ratio used for estimation.
const charsPerToken = 4

// Estimate returns a rough token count for s. Non-empty input is at least 1.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages sums the estimates of role and content for each message
// plus a small per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitBlocks returns the longest prefix of blocks whose estimated size, added
// to fixedTokens, stays within maxTokens. Blocks are assumed ordered by
// relevance, so the least relevant are dropped first. maxTokens <= 0 means
// unlimited.
func FitBlocks(blocks []string, fixedTokens, maxTokens int) []string {
	if maxTokens <= 0 {
		return blocks
	}
	used := fixedTokens
	for i, b := range blocks {
		used += Estimate(b)
		if used > maxTokens {
			return blocks[:i]
		}
	}
	return blocks
}
