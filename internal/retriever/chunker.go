package retriever

import (
	"strings"

	"github.com/xxxsen/chatpress/internal/model"
)

// EstimateTokens prices text without a tokenizer: one token per word
// for latin text, one per rune for wide characters.
func EstimateTokens(text string) int {
	count := 0
	for _, r := range text {
		if r > 127 {
			count++
		}
	}
	count += len(strings.Fields(text))
	if count == 0 && len(text) > 0 {
		return 1
	}
	return count
}

// ChunkMarkdown splits markdown into chunks of at most maxTokens,
// cutting on paragraph boundaries. Each chunk carries a tail of up to
// overlapTokens from its predecessor so context survives the cut.
func ChunkMarkdown(text string, maxTokens int, overlapTokens int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if EstimateTokens(p) > maxTokens {
			paragraphs = append(paragraphs, splitLongParagraph(p, maxTokens)...)
			continue
		}
		paragraphs = append(paragraphs, p)
	}

	var chunks []string
	var current []string
	currentTokens := 0
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, "\n\n"))

		overlap := 0
		var carried []string
		for i := len(current) - 1; i >= 0; i-- {
			t := EstimateTokens(current[i])
			if overlap+t > overlapTokens {
				break
			}
			overlap += t
			carried = append([]string{current[i]}, carried...)
		}
		current = carried
		currentTokens = overlap
	}
	for _, p := range paragraphs {
		t := EstimateTokens(p)
		if currentTokens > 0 && currentTokens+t > maxTokens {
			flush()
		}
		current = append(current, p)
		currentTokens += t
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}
	return chunks
}

func splitLongParagraph(p string, maxTokens int) []string {
	words := strings.Fields(p)
	var parts []string
	var current []string
	for _, w := range words {
		current = append(current, w)
		if len(current) >= maxTokens {
			parts = append(parts, strings.Join(current, " "))
			current = nil
		}
	}
	if len(current) > 0 {
		parts = append(parts, strings.Join(current, " "))
	}
	return parts
}

// ChunksForWindow tags each chunk with its source window for logging
// and indexing.
func ChunksForWindow(win model.Window, text string, maxTokens int, overlapTokens int) []model.Chunk {
	raw := ChunkMarkdown(text, maxTokens, overlapTokens)
	chunks := make([]model.Chunk, 0, len(raw))
	for i, c := range raw {
		chunks = append(chunks, model.Chunk{
			SourceWindowIndex: win.Index,
			ChunkIndex:        i,
			Text:              c,
			TokenCount:        EstimateTokens(c),
		})
	}
	return chunks
}
