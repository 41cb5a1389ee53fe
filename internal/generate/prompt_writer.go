package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/chatpress/internal/ai"
	"github.com/xxxsen/chatpress/internal/model"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const documentSeparator = "---DOCUMENT---"

// noOutputMarker is the exact reply the prompt asks for when the
// provider decides the window deserves no document.
const noOutputMarker = "NO_POST"

const defaultInstructions = `You are an editor turning a chat transcript into polished standalone posts.
Write zero or more markdown documents based on the conversation below.
Each document starts with a level-1 heading. Separate documents with a line containing only ` + documentSeparator + `.
If nothing in the conversation is worth a post, reply with exactly ` + noOutputMarker + `.`

type promptWriter struct {
	gen          ai.IGenerator
	instructions string
}

func NewPromptWriter(gen ai.IGenerator, instructions string) IWriter {
	if strings.TrimSpace(instructions) == "" {
		instructions = defaultInstructions
	}
	return &promptWriter{gen: gen, instructions: instructions}
}

func (w *promptWriter) WriteWindow(ctx context.Context, win model.Window, windowText string, bundle model.ContextBundle) (Output, error) {
	prompt := w.buildPrompt(windowText, bundle)
	raw, err := w.gen.Generate(ctx, prompt)
	if err != nil {
		return Output{}, err
	}
	out := parseOutput(raw)
	logutil.GetLogger(ctx).Info("window written",
		zap.Int("window", win.Index),
		zap.Int("documents", len(out.Documents)),
		zap.Int("context_entries", len(bundle.Entries)))
	return out, nil
}

func (w *promptWriter) buildPrompt(windowText string, bundle model.ContextBundle) string {
	var sb strings.Builder
	sb.WriteString(w.instructions)
	sb.WriteString("\n\n")
	if !bundle.Empty() {
		sb.WriteString("# Prior coverage\n\n")
		sb.WriteString("Avoid repeating these earlier posts; reference or extend them instead.\n\n")
		for _, ent := range bundle.Entries {
			fmt.Fprintf(&sb, "### %s (similarity %.2f)\n\n%s\n\n", ent.DocumentID, ent.Similarity, ent.ChunkText)
		}
	}
	sb.WriteString("# Conversation\n\n")
	sb.WriteString(windowText)
	return sb.String()
}

func parseOutput(raw string) Output {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == noOutputMarker {
		return Output{}
	}
	var docs []model.GeneratedDocument
	for _, part := range strings.Split(raw, documentSeparator) {
		part = strings.TrimSpace(part)
		if part == "" || part == noOutputMarker {
			continue
		}
		docs = append(docs, model.GeneratedDocument{Content: part})
	}
	return Output{Documents: docs}
}
