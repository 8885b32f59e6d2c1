package compress

import (
	"context"
	"sort"
	"strings"

	"github.com/engramdev/engram/internal/memory"
	"github.com/engramdev/engram/internal/retrieval"
)

// Extractive is the default Summarizer: no model call, just the leading
// sentence of each substantive turn as a key point and keyword extraction
// for topics. Coarser than an LLM summary, but deterministic and free.
type Extractive struct {
	maxKeyPoints int
	maxTopics    int
}

// Compile-time interface check.
var _ Summarizer = (*Extractive)(nil)

// NewExtractive creates an extractive summarizer.
func NewExtractive(maxKeyPoints, maxTopics int) *Extractive {
	if maxKeyPoints <= 0 {
		maxKeyPoints = 8
	}
	if maxTopics <= 0 {
		maxTopics = 5
	}
	return &Extractive{maxKeyPoints: maxKeyPoints, maxTopics: maxTopics}
}

// Summarize implements Summarizer.
func (e *Extractive) Summarize(_ context.Context, msgs []memory.Message) (Draft, error) {
	var keyPoints []string
	topicCounts := make(map[string]int)
	topicOrder := make(map[string]int)

	for i := range msgs {
		content := strings.TrimSpace(msgs[i].Content)
		if content == "" {
			continue
		}

		for _, kw := range retrieval.Keywords(content) {
			if _, seen := topicCounts[kw]; !seen {
				topicOrder[kw] = len(topicOrder)
			}
			topicCounts[kw]++
		}

		// Assistant turns mostly restate the user's asks; key points come
		// from user and system turns.
		if msgs[i].Role == memory.RoleAssistant {
			continue
		}
		if len(keyPoints) < e.maxKeyPoints {
			keyPoints = append(keyPoints, firstSentence(content))
		}
	}

	topics := rankTopics(topicCounts, topicOrder, e.maxTopics)

	var b strings.Builder
	b.WriteString("Earlier conversation")
	if len(topics) > 0 {
		b.WriteString(" about ")
		b.WriteString(strings.Join(topics, ", "))
	}
	b.WriteString(".")
	for _, kp := range keyPoints {
		b.WriteString("\n- ")
		b.WriteString(kp)
	}

	return Draft{
		Content:   b.String(),
		KeyPoints: keyPoints,
		Topics:    topics,
	}, nil
}

// firstSentence returns the leading sentence of content, capped at 140 runes.
func firstSentence(content string) string {
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[:nl]
	}
	for _, sep := range []string{". ", "! ", "? "} {
		if i := strings.Index(content, sep); i >= 0 {
			content = content[:i+1]
			break
		}
	}
	runes := []rune(strings.TrimSpace(content))
	if len(runes) > 140 {
		return string(runes[:140])
	}
	return string(runes)
}

// rankTopics orders topics by frequency descending, first-seen ascending.
func rankTopics(counts map[string]int, order map[string]int, limit int) []string {
	topics := make([]string, 0, len(counts))
	for t := range counts {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return order[topics[i]] < order[topics[j]]
	})
	if len(topics) > limit {
		topics = topics[:limit]
	}
	return topics
}
