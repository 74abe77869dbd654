package export

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// MarkdownExporter exports manifests as a Markdown report with inline images
type MarkdownExporter struct{}

// Export writes a Markdown report of the reconstruction
func (e *MarkdownExporter) Export(manifest *Manifest, w io.Writer) error {
	_, _ = fmt.Fprintf(w, "# Monitor %s\n\n", escapeMarkdown(manifest.MonitorID))

	_, _ = fmt.Fprintf(w, "**Run:** %s  \n", manifest.GroupingKey)
	if !manifest.StartedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "**Started:** %s  \n", manifest.StartedAt.UTC().Format(time.RFC1123))
	}
	_, _ = fmt.Fprintf(w, "**Duration:** %ds  \n", manifest.DurationSeconds)
	_, _ = fmt.Fprintf(w, "**Steps:** %d (%d failed)\n\n", len(manifest.Steps), manifest.Failed())

	_, _ = fmt.Fprintf(w, "---\n\n")

	if len(manifest.Steps) == 0 {
		_, _ = fmt.Fprintf(w, "_No image data_\n")
		return nil
	}

	for i, step := range manifest.Steps {
		_, _ = fmt.Fprintf(w, "## Step %d\n\n", step.Index)
		if step.Status == "ok" {
			_, _ = fmt.Fprintf(w, "![Step %d](%s)\n\n", step.Index, step.File)
			_, _ = fmt.Fprintf(w, "%dx%d %s\n\n", step.Width, step.Height, step.Format)
		} else {
			_, _ = fmt.Fprintf(w, "**Failed (%s):** %s\n\n", step.Status, escapeMarkdown(step.Error))
		}

		if i < len(manifest.Steps)-1 {
			_, _ = fmt.Fprintf(w, "---\n\n")
		}
	}

	return nil
}

func escapeMarkdown(text string) string {
	text = strings.ReplaceAll(text, "**", "\\*\\*")
	text = strings.ReplaceAll(text, "__", "\\_\\_")
	return text
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}
