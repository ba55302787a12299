// jspsupport/helpers_completion.go
// Directive completion: augments whatever the configured markup completer
// offers with page-directive entries when the line prefix suggests the
// author is typing one.
package jspsupport

import (
	"context"
	"strings"
)

// MarkupCompleter supplies base completions for the markup surrounding the
// embedded code. The default implementation offers nothing; editors embed
// their own.
type MarkupCompleter interface {
	Complete(ctx context.Context, uri DocumentURI, text string, offset int) []CompletionItem
}

// noopMarkupCompleter is the default collaborator.
type noopMarkupCompleter struct{}

func (noopMarkupCompleter) Complete(context.Context, DocumentURI, string, int) []CompletionItem {
	return nil
}

// directiveEntryKind distinguishes the snippet shapes a directive
// completion may take.
type directiveEntryKind int

const (
	entryDirectiveOpen directiveEntryKind = iota
	entryPageDirective
	entryImportAttribute
)

type directiveEntry struct {
	kind       directiveEntryKind
	label      string
	insertText string
	detail     string
	doc        string
}

var directiveEntries = []directiveEntry{
	{
		kind:       entryDirectiveOpen,
		label:      "<%@ page %>",
		insertText: "<%@ page ${1} %>",
		detail:     "page directive",
		doc:        "Declares page-level settings such as imports and content type.",
	},
	{
		kind:       entryDirectiveOpen,
		label:      "<%! %>",
		insertText: "<%! ${1} %>",
		detail:     "declaration block",
		doc:        "Declares members and functions shared across the page.",
	},
	{
		kind:       entryDirectiveOpen,
		label:      "<%= %>",
		insertText: "<%= ${1} %>",
		detail:     "expression block",
		doc:        "Evaluates an expression and writes the result into the output.",
	},
	{
		kind:       entryDirectiveOpen,
		label:      "<% %>",
		insertText: "<% ${1} %>",
		detail:     "scriptlet block",
		doc:        "Embeds statements executed when the page renders.",
	},
	{
		kind:       entryPageDirective,
		label:      "page import",
		insertText: "page import=\"${1}\" %>",
		detail:     "page directive with import attribute",
		doc:        "Imports types for use inside embedded code regions.",
	},
	{
		kind:       entryImportAttribute,
		label:      "import",
		insertText: "import=\"${1}\"",
		detail:     "import attribute",
		doc:        "Comma-separated list of fully qualified type names.",
	},
}

// Complete returns the base completions plus any directive entries whose
// trigger matches the current line prefix.
func (n *Navigator) Complete(ctx context.Context, uri DocumentURI, text string, offset int, linePrefix string) []CompletionItem {
	items := n.markupCompleter().Complete(ctx, uri, text, offset)

	for _, entry := range directiveEntries {
		if !entry.triggered(linePrefix) {
			continue
		}
		items = append(items, CompletionItem{
			Label:            entry.label,
			Kind:             CompletionItemKindSnippet,
			Detail:           entry.detail,
			Documentation:    entry.doc,
			InsertTextFormat: SnippetFormat,
			InsertText:       entry.insertText,
		})
	}
	return items
}

// triggered decides per entry kind whether the line prefix warrants the
// suggestion: a bare "<" offers the directive opener, an opened directive
// offers the page form, and a page directive offers the import attribute.
func (e directiveEntry) triggered(linePrefix string) bool {
	switch e.kind {
	case entryDirectiveOpen:
		return strings.HasSuffix(linePrefix, "<")
	case entryPageDirective:
		return strings.Contains(linePrefix, "<%@") && !strings.Contains(linePrefix, "page")
	case entryImportAttribute:
		return strings.Contains(linePrefix, "<%@") && strings.Contains(linePrefix, "page")
	}
	return false
}
