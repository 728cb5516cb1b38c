package approval

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const maxDiffPreviewLines = 120

// PreviewDiff renders a +/- line preview of a pending file write, used when
// escalating a refused write for confirmation. Long previews are truncated.
func PreviewDiff(before, after string) string {
	if before == after {
		return ""
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var sb strings.Builder
	lines := 0
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range strings.Split(strings.TrimRight(d.Text, "\n"), "\n") {
			if d.Type == diffmatchpatch.DiffEqual && line == "" {
				continue
			}
			if lines >= maxDiffPreviewLines {
				sb.WriteString("... (diff truncated)\n")
				return sb.String()
			}
			sb.WriteString(prefix)
			sb.WriteString(" ")
			sb.WriteString(line)
			sb.WriteString("\n")
			lines++
		}
	}
	return sb.String()
}
