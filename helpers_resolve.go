// jspsupport/helpers_resolve.go
// Definition resolution: classifies the token under the cursor and drives
// the locator. The precedence order matters: import-directive entries short
// circuit everything, then dotted paths, then bare class names, then
// same-document script functions.
package jspsupport

import (
	"context"
	"log/slog"
	"strings"
)

// ResolveDefinition resolves a go-to-definition request at a byte offset in
// the document. A nil result means nothing resolvable was under the cursor;
// that is never reported as an error.
func (n *Navigator) ResolveDefinition(ctx context.Context, uri DocumentURI, text string, version, offset int) *Location {
	logger := n.logger.With("op", "ResolveDefinition", "uri", string(uri))
	cfg := n.GetCurrentConfig()
	idx := n.currentWorkspace()

	originPath, err := ValidateAndGetFilePath(string(uri), logger)
	if err != nil {
		logger.Warn("Invalid document URI", "error", err)
		originPath = ""
	}

	// Cursor inside a page-directive import value resolves the entry under
	// the cursor directly, bypassing word extraction.
	if fqn, ok := importEntryAt(text, offset); ok {
		logger.Debug("Resolving import directive entry", "fqn", fqn)
		return n.locator.locate(ctx, locateQuery{FQN: fqn, OriginPath: originPath}, idx, cfg)
	}

	word := wordAt(text, offset, false)
	if word == "" {
		return nil
	}
	if strings.HasPrefix(word, ".") {
		// A leading dot means the receiver is a call expression; re-derive
		// with call parentheses included so the receiver chain survives.
		word = strings.TrimPrefix(wordAt(text, offset, true), ".")
	}
	if word == "" {
		return nil
	}
	logger.Debug("Resolving word", "word", word)

	facts := n.docs.facts(string(uri), version, text)

	if strings.Contains(word, ".") {
		return n.resolveDottedPath(ctx, word, text, offset, originPath, facts, idx, cfg, logger)
	}

	if startsUppercase(word) {
		fqn := word
		if imported, ok := facts.Imports[word]; ok {
			fqn = imported
		}
		return n.locator.locate(ctx, locateQuery{FQN: fqn, OriginPath: originPath}, idx, cfg)
	}

	// Lowercase bare word: a function declared in a script region of this
	// same document is the only remaining candidate.
	if start, end, ok := findScriptFunction(text, word); ok {
		loc, convErr := spanToLocation(originPath, []byte(text), start, end, logger)
		if convErr != nil {
			logger.Warn("Position conversion failed", "error", convErr)
			return nil
		}
		return loc
	}
	return nil
}

// resolveDottedPath handles qualified names and member access chains.
func (n *Navigator) resolveDottedPath(ctx context.Context, word, text string, offset int, originPath string,
	facts *documentFacts, idx *WorkspaceIndex, cfg Config, logger *slog.Logger) *Location {

	first := firstSegment(word)

	if startsUppercase(first) {
		// Could be a full qualified type name, or Class.method. Try the
		// whole path as a type first; a hit there beats splitting.
		if loc := n.locator.locate(ctx, locateQuery{FQN: word, OriginPath: originPath}, idx, cfg); loc != nil {
			return loc
		}
		className, methodName := splitClassAndMethod(word)
		if className == "" {
			return nil
		}
		fqn := className
		if !strings.Contains(className, ".") {
			if imported, ok := facts.Imports[className]; ok {
				fqn = imported
			}
		}
		q := locateQuery{FQN: fqn, OriginPath: originPath}
		if methodName != "" {
			receiver := strings.TrimSuffix(strings.TrimSuffix(word, methodName), ".")
			q.Method = methodName
			q.HasMethod = true
			q.ParamCount = observedArgumentCount(text, receiver, methodName, offset)
		}
		return n.locator.locate(ctx, q, idx, cfg)
	}

	// Lowercase first segment: a declared scripting variable. Its type
	// comes from the document facts, then the import table widens the
	// simple type name to a qualified one.
	className, methodName := splitClassAndMethod(word)
	varName := firstSegment(className)
	if varName != first {
		varName = first
	}
	typeName := ""
	for _, v := range facts.Variables {
		if v.Name == varName {
			typeName = v.Type
			break
		}
	}
	if typeName == "" {
		logger.Debug("No declaration found for variable", "name", varName)
		return nil
	}
	fqn := typeName
	if !strings.Contains(typeName, ".") {
		if imported, ok := facts.Imports[typeName]; ok {
			fqn = imported
		}
	}
	q := locateQuery{FQN: fqn, OriginPath: originPath}
	if methodName != "" {
		receiver := strings.TrimSuffix(strings.TrimSuffix(word, methodName), ".")
		q.Method = methodName
		q.HasMethod = true
		q.ParamCount = observedArgumentCount(text, receiver, methodName, offset)
	}
	return n.locator.locate(ctx, q, idx, cfg)
}

// observedArgumentCount finds the call site nearest the cursor for
// receiver.method and counts its arguments. Zero when no call site exists;
// the declaration picker then prefers the lowest-arity overload it can.
func observedArgumentCount(text, receiver, method string, cursorOffset int) int {
	openParen := findNearestCallSite(text, receiver, method, cursorOffset)
	if openParen < 0 {
		return 0
	}
	return countCallArguments(text, openParen)
}

// importEntryAt reports the import-list entry under the cursor when the
// cursor sits inside the import attribute value of a page directive. The
// directive is searched within a bounded window around the cursor.
func importEntryAt(text string, offset int) (string, bool) {
	if offset < 0 || offset > len(text) {
		return "", false
	}
	lo := offset - directiveSearchWindow
	if lo < 0 {
		lo = 0
	}
	hi := offset + directiveSearchWindow
	if hi > len(text) {
		hi = len(text)
	}
	start := strings.LastIndex(text[lo:offset], "<%@")
	if start < 0 {
		return "", false
	}
	start += lo
	endRel := strings.Index(text[offset:hi], "%>")
	if endRel < 0 {
		return "", false
	}
	block := text[start : offset+endRel+2]

	m := pageImportRe.FindStringSubmatchIndex(block)
	if m == nil {
		return "", false
	}
	valStart := start + m[2]
	valEnd := start + m[3]
	if offset < valStart || offset > valEnd {
		return "", false
	}

	pos := valStart
	for _, entry := range strings.Split(text[valStart:valEnd], ",") {
		entryEnd := pos + len(entry)
		if offset >= pos && offset <= entryEnd {
			trimmed := strings.TrimSpace(entry)
			return trimmed, trimmed != ""
		}
		pos = entryEnd + 1
	}
	return "", false
}
