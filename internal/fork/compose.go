package fork

import (
	"fmt"
	"strings"
)

// ComposeContent folds queued references ahead of the typed text:
// numbered "[Reference k]" blocks joined by blank lines, a separator line,
// then the user's own text. With no references the typed text passes through
// unchanged.
func ComposeContent(mentionedTexts []string, typed string) string {
	if len(mentionedTexts) == 0 {
		return typed
	}

	blocks := make([]string, 0, len(mentionedTexts))
	for i, text := range mentionedTexts {
		blocks = append(blocks, fmt.Sprintf("[Reference %d]\n%s", i+1, text))
	}
	return strings.Join(blocks, "\n\n") + "\n\n---\n\n" + typed
}
