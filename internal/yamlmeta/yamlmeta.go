// Package yamlmeta hides and reveals editor metadata in serialized workflow
// YAML. Keys prefixed with "x_" are commented out before the file is handed
// to the CI runner and uncommented before the file is parsed again.
//
// Both transforms work on text lines, treat a tab as two spaces and keep
// line endings as "\n".
package yamlmeta

import (
	"regexp"
	"strings"
)

var (
	metadataKey  = regexp.MustCompile(`^(\s*)(x_[A-Za-z0-9_-]+):(.*)$`)
	leadingHash  = regexp.MustCompile(`^(\s*)#( ?)(.*)$`)
	lineSplitter = regexp.MustCompile(`\r?\n`)
)

const commentPrefix = "# "

// Mask comments out every x_ key line and every line nested below it.
//
// Lines that are already comments outside a masked region are left alone.
// Inside a region every line is masked again, blank lines included, so that
// a single Unhide restores it. The region ends at the first non-blank line
// indented no deeper than the key.
func Mask(yaml string) string {
	lines := splitLines(yaml)
	out := make([]string, 0, len(lines))

	for i := 0; i < len(lines); {
		line := lines[i]
		if isComment(line) {
			out = append(out, line)
			i++
			continue
		}

		m := metadataKey.FindStringSubmatch(line)
		if m == nil {
			out = append(out, line)
			i++
			continue
		}

		baseIndent := len(m[1])
		out = append(out, commentPrefix+line)
		i++

		for i < len(lines) {
			next := lines[i]
			if next == "" && i == len(lines)-1 {
				// trailing newline
				break
			}
			if next != "" && leadingSpaces(next) <= baseIndent {
				break
			}
			out = append(out, commentPrefix+next)
			i++
		}
	}
	return strings.Join(out, "\n")
}

// Unhide removes one leading "#" and at most one following space from every
// comment line, keeping its indentation. It cannot tell masked metadata from
// comments a person wrote, so both are uncommented.
func Unhide(yaml string) string {
	lines := splitLines(yaml)
	for i, line := range lines {
		if m := leadingHash.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + m[3]
		}
	}
	return strings.Join(lines, "\n")
}

func splitLines(yaml string) []string {
	return lineSplitter.Split(strings.ReplaceAll(yaml, "\t", "  "), -1)
}

func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

func leadingSpaces(line string) int {
	return len(line) - len(strings.TrimLeft(line, " "))
}
