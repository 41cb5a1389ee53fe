package retriever

import (
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/chatpress/internal/model"
)

// ConsolidateWindow renders a window as a single markdown document.
// The output is byte-deterministic for a given window, so it doubles
// as the cache fingerprint input.
func ConsolidateWindow(win model.Window) string {
	var sb strings.Builder
	for i, m := range win.Messages {
		fmt.Fprintf(&sb, "## Message %d\n\n", i+1)
		fmt.Fprintf(&sb, "**Author:** %s\n", m.Author)
		fmt.Fprintf(&sb, "**Timestamp:** %s\n\n", m.Timestamp.UTC().Format(time.RFC3339))
		body := strings.TrimSpace(m.Body)
		if body != "" {
			sb.WriteString(body)
			sb.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(sb.String())
}
