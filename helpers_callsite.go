// jspsupport/helpers_callsite.go
// Method-call disambiguation: locating the concrete call site nearest the
// cursor and counting its arguments so overloads can be matched by
// parameter count.
package jspsupport

import (
	"regexp"
	"strings"
)

// callSitePattern builds the scanning pattern for receiver.method( call
// occurrences. The receiver is matched as written in the document (a
// variable name, a simple class name, or a chained expression tail).
func callSitePattern(receiver, method string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(receiver) + `\s*\.\s*` + regexp.QuoteMeta(method) + `\s*\(`)
}

// findNearestCallSite scans the full document text for receiver.method(
// occurrences and returns the byte offset of the opening paren of the one
// whose start is numerically closest to cursorOffset, ties broken by first
// occurrence. Returns -1 when no call site exists.
func findNearestCallSite(text, receiver, method string, cursorOffset int) int {
	if receiver == "" || method == "" {
		return -1
	}
	matches := callSitePattern(receiver, method).FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return -1
	}
	best := -1
	bestDist := -1
	for _, m := range matches {
		dist := m[0] - cursorOffset
		if dist < 0 {
			dist = -dist
		}
		if best < 0 || dist < bestDist {
			bestDist = dist
			best = m[1] - 1 // offset of the '('
		}
	}
	return best
}

// countCallArguments counts the arguments of the call whose opening paren
// sits at openParen. Commas separate arguments only at bracket depth zero
// relative to that paren and outside string literals; nested parens,
// brackets and braces raise the depth, and single/double-quoted literals
// (backslash-escape aware) are opaque. A call has zero arguments only when
// no non-whitespace content appears before the matching close paren. If the
// call is unterminated the count accumulated so far is returned.
func countCallArguments(text string, openParen int) int {
	if openParen < 0 || openParen >= len(text) || text[openParen] != '(' {
		return 0
	}

	depth := 0
	commas := 0
	sawContent := false
	var quote byte
	escaped := false

	for i := openParen; i < len(text); i++ {
		c := text[i]

		if quote != 0 {
			sawContent = true
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case quote:
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"':
			quote = c
			sawContent = true
		case '(', '[', '{':
			depth++
			if i != openParen {
				sawContent = true
			}
		case ')', ']', '}':
			depth--
			if depth == 0 && c == ')' {
				if !sawContent {
					return 0
				}
				return commas + 1
			}
			sawContent = true
		case ',':
			if depth == 1 {
				commas++
			}
			sawContent = true
		case ' ', '\t', '\r', '\n':
			// whitespace never counts as content
		default:
			sawContent = true
		}
	}

	if !sawContent {
		return 0
	}
	return commas + 1
}

// countDeclarationParams counts the declared parameters of a method
// declaration whose parameter list opens at openParen, using the same
// bracket- and string-aware splitting as call-argument counting.
func countDeclarationParams(text string, openParen int) int {
	return countCallArguments(text, openParen)
}

// pickByParamCount selects the index of the candidate whose parameter count
// best matches want: an exact match wins, otherwise the smallest absolute
// difference, with ties resolved to the first candidate scanned. Returns -1
// for an empty candidate list.
func pickByParamCount(counts []int, want int) int {
	best := -1
	bestDiff := -1
	for i, c := range counts {
		if c == want {
			return i
		}
		diff := c - want
		if diff < 0 {
			diff = -diff
		}
		if best < 0 || diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}
	return best
}

// lineAt returns the start and end byte offsets of the line containing
// offset (end excludes the newline).
func lineAt(text string, offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(text) {
		offset = len(text)
	}
	start := strings.LastIndexByte(text[:offset], '\n') + 1
	end := strings.IndexByte(text[offset:], '\n')
	if end < 0 {
		end = len(text)
	} else {
		end += offset
	}
	return start, end
}
