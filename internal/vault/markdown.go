package vault

import "strings"

// section is one heading-delimited slice of a markdown file. anchor is the
// "#H1" or "#H1#H2" suffix appended to the source key.
type section struct {
	anchor string
	text   string
}

// splitSections slices markdown content at level-1 and level-2 headings.
// Preamble before the first heading belongs to the source entity only. A
// level-2 section is keyed under its level-1 parent; deeper headings stay
// inside their enclosing section. Fenced code blocks are opaque: a "#"
// inside one is not a heading.
func splitSections(content string) []section {
	var (
		sections []section
		h1, h2   string
		buf      strings.Builder
		inFence  bool
	)

	flush := func() {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if text == "" || h1 == "" && h2 == "" {
			return
		}
		anchor := ""
		if h1 != "" {
			anchor += "#" + h1
		}
		if h2 != "" {
			anchor += "#" + h2
		}
		sections = append(sections, section{anchor: anchor, text: text})
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence {
			if title, ok := heading(line, "# "); ok {
				flush()
				h1, h2 = title, ""
				buf.WriteString(line + "\n")
				continue
			}
			if title, ok := heading(line, "## "); ok {
				flush()
				h2 = title
				buf.WriteString(line + "\n")
				continue
			}
		}
		buf.WriteString(line + "\n")
	}
	flush()
	return sections
}

func heading(line, prefix string) (string, bool) {
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	title := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if title == "" {
		return "", false
	}
	return title, true
}
