// jspsupport/helpers_lexical.go
// Lexical context analysis: extracting and classifying the word under the
// cursor. Everything here is pure text heuristics; each pattern is isolated
// behind a named function so it can be unit-tested and swapped independently.
package jspsupport

import (
	"regexp"
	"strings"
)

var (
	// importTailRe matches an unterminated scripting import statement at the
	// end of the window preceding the expanded word, e.g. "import java.util."
	importTailRe = regexp.MustCompile(`\bimport\s+([\w.]*)\s*$`)

	// pageImportTailRe matches an unterminated page-directive import
	// attribute value at the end of the window, capturing everything typed
	// after the opening quote, e.g. `<%@ page import="a.B, c.`
	pageImportTailRe = regexp.MustCompile(`<%@\s*page\b[^%>]*\bimport\s*=\s*"([^"]*)$`)

	// capitalizedIdentRe recognizes a bare class-like identifier.
	capitalizedIdentRe = regexp.MustCompile(`^[A-Z]\w*$`)

	// lowerIdentRe recognizes a bare variable-like identifier.
	lowerIdentRe = regexp.MustCompile(`^[a-z_]\w*$`)
)

// isWordByte reports whether c belongs to the identifier charset used for
// word expansion. Parentheses participate only when includeParens is set
// (left-expansion across call parens for chained receivers).
func isWordByte(c byte, includeParens bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '.' || c == '$':
		return true
	case includeParens && (c == '(' || c == ')'):
		return true
	}
	return false
}

// wordAt extracts the word under the cursor at the given byte offset.
// Expansion runs left across the identifier charset (plus parens when
// includeCallParens is set) and right across the identifier charset only; a
// call's closing paren marks the argument list, never the name. Two rewrites
// then reconstruct dotted paths split by whitespace before the cursor: an
// unterminated scripting import, or an unterminated page-directive import
// attribute, found in the 50 characters preceding the expanded word.
func wordAt(text string, offset int, includeCallParens bool) string {
	if offset < 0 {
		return ""
	}
	if offset > len(text) {
		offset = len(text)
	}

	start := offset
	for start > 0 && isWordByte(text[start-1], includeCallParens) {
		start--
	}
	end := offset
	for end < len(text) && isWordByte(text[end], false) {
		end++
	}
	word := text[start:end]

	windowStart := start - importWindowSize
	if windowStart < 0 {
		windowStart = 0
	}
	window := text[windowStart:start]

	if m := importTailRe.FindStringSubmatch(window); m != nil {
		return m[1] + word
	}
	if m := pageImportTailRe.FindStringSubmatch(window); m != nil {
		return lastImportEntry(m[1]) + word
	}
	return word
}

// lastImportEntry reduces a partially typed import attribute value to the
// entry being typed: the text after the final comma, whitespace stripped.
func lastImportEntry(value string) string {
	if idx := strings.LastIndex(value, ","); idx >= 0 {
		value = value[idx+1:]
	}
	return strings.TrimSpace(value)
}

// splitClassAndMethod splits a dotted (possibly paren-carrying) reference
// into its receiver/class portion and method name. The method name is the
// substring after the last dot, truncated at its first paren; the class
// portion is everything before that dot, also truncated at its own first
// paren (chained calls like a.b().c resolve the receiver expression up to
// its call parens). A dotless input is treated as a bare method name.
func splitClassAndMethod(fullPath string) (className, methodName string) {
	lastDot := strings.LastIndex(fullPath, ".")
	if lastDot < 0 {
		methodName = fullPath
		if p := strings.Index(methodName, "("); p >= 0 {
			methodName = methodName[:p]
		}
		return "", methodName
	}
	methodName = fullPath[lastDot+1:]
	if p := strings.Index(methodName, "("); p >= 0 {
		methodName = methodName[:p]
	}
	className = fullPath[:lastDot]
	if p := strings.Index(className, "("); p >= 0 {
		className = className[:p]
	}
	return className, methodName
}

// isCapitalizedIdent reports whether word is a bare class-like identifier.
func isCapitalizedIdent(word string) bool {
	return capitalizedIdentRe.MatchString(word)
}

// isLowerIdent reports whether word is a bare variable-like identifier.
func isLowerIdent(word string) bool {
	return lowerIdentRe.MatchString(word)
}

// firstSegment returns the text before the first dot, or the whole word.
func firstSegment(word string) string {
	if idx := strings.Index(word, "."); idx >= 0 {
		return word[:idx]
	}
	return word
}

// startsUppercase reports whether s begins with an ASCII uppercase letter.
func startsUppercase(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}

// startsLowercase reports whether s begins with an ASCII lowercase letter
// or underscore.
func startsLowercase(s string) bool {
	return s != "" && (s[0] >= 'a' && s[0] <= 'z' || s[0] == '_')
}

// scriptFunctionDeclPattern builds the pattern recognizing a script-level
// function declaration for name: a return-type-like token followed by the
// name and an opening paren.
func scriptFunctionDeclPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`\b(?:void|boolean|int|long|short|byte|char|float|double|[A-Z][\w.]*(?:<[^>\n]*>)?(?:\[\])*)\s+(` + regexp.QuoteMeta(name) + `)\s*\(`)
}

// findScriptFunction scans document text line by line for a declaration of
// the named script-level function, returning the byte span of the name in
// the first matching line.
func findScriptFunction(text, name string) (start, end int, ok bool) {
	if name == "" {
		return 0, 0, false
	}
	pattern := scriptFunctionDeclPattern(name)
	lineStart := 0
	for lineStart <= len(text) {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		var line string
		if lineEnd < 0 {
			line = text[lineStart:]
			lineEnd = len(text)
		} else {
			line = text[lineStart : lineStart+lineEnd]
			lineEnd += lineStart
		}
		if m := pattern.FindStringSubmatchIndex(line); m != nil {
			return lineStart + m[2], lineStart + m[3], true
		}
		if lineEnd >= len(text) {
			break
		}
		lineStart = lineEnd + 1
	}
	return 0, 0, false
}
