// jspsupport/helpers_document.go
// Per-open-document cache of lightweight parsed facts: scripting variable
// declarations and the import alias table. Entries are keyed by URI and
// valid only for the document version they were derived from.
package jspsupport

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

var (
	// scriptRegionRe matches embedded-code regions: scriptlets <% %>,
	// declarations <%! %>, and expressions <%= %>. Directives <%@ %> are
	// excluded; they carry no scripting code.
	scriptRegionRe = regexp.MustCompile(`(?s)<%[!=]?([^@].*?)%>`)

	// pageImportRe captures the import attribute value of a page directive.
	pageImportRe = regexp.MustCompile(`<%@\s*page\b[^%>]*\bimport\s*=\s*"([^"]*)"`)

	// variableDeclRe matches declaration-like patterns inside script
	// regions: a capitalized (possibly generic/array) type followed by a
	// variable name and an initializer or terminator.
	variableDeclRe = regexp.MustCompile(`\b([A-Z]\w*(?:\.[A-Z]\w*)*(?:<[^>\n]*>)?(?:\[\])*)\s+([a-z_]\w*)\s*[=;]`)

	// forEachDeclRe matches for-each headers: for (Type name : expr).
	forEachDeclRe = regexp.MustCompile(`\bfor\s*\(\s*(?:final\s+)?([A-Z]\w*(?:\.[A-Z]\w*)*(?:<[^>\n]*>)?(?:\[\])*)\s+([a-z_]\w*)\s*:`)
)

// documentCache owns one documentFacts entry per open document URI. An
// entry is served only when its version matches; any mismatch forces a full
// re-scan and replacement. Concurrent requests racing to populate the same
// URI tolerate redundant recomputation; last write wins.
type documentCache struct {
	cache  *ristretto.Cache
	logger *slog.Logger

	mu  sync.Mutex
	ttl time.Duration
}

func newDocumentCache(ttl time.Duration, logger *slog.Logger) (*documentCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     64 << 20, // 64MB of parsed facts is far beyond any session
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &documentCache{cache: cache, ttl: ttl, logger: logger.With("component", "documentCache")}, nil
}

// facts returns the parsed facts for the document, re-deriving them when no
// entry exists or the cached entry was built from a different version.
func (c *documentCache) facts(uri string, version int, text string) *documentFacts {
	if cached, found := c.cache.Get(uri); found {
		if f, ok := cached.(*documentFacts); ok && f.Version == version {
			c.logger.Debug("Document facts cache hit", "uri", uri, "version", version)
			return f
		}
		c.logger.Debug("Document facts stale, re-deriving", "uri", uri, "version", version)
	}

	f := deriveDocumentFacts(text, version)
	cost := int64(len(f.Variables)*16 + len(f.Imports)*32 + 1)
	c.mu.Lock()
	ttl := c.ttl
	c.mu.Unlock()
	if !c.cache.SetWithTTL(uri, f, cost, ttl) {
		c.logger.Warn("Document facts cache set rejected", "uri", uri)
	}
	c.cache.Wait()
	return f
}

// setTTL applies a new time-to-live to future entries.
func (c *documentCache) setTTL(ttl time.Duration) {
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

// invalidate drops the entry for a closed document.
func (c *documentCache) invalidate(uri string) {
	c.cache.Del(uri)
	c.logger.Debug("Document facts invalidated", "uri", uri)
}

func (c *documentCache) metrics() *ristretto.Metrics {
	return c.cache.Metrics
}

func (c *documentCache) close() {
	c.cache.Close()
}

// deriveDocumentFacts performs the full text scan: variables from
// declaration-like and for-each patterns inside embedded-code regions, and
// the import alias table from page directives.
func deriveDocumentFacts(text string, version int) *documentFacts {
	return &documentFacts{
		Version:   version,
		Variables: scanVariables(text),
		Imports:   scanImports(text),
	}
}

// scanVariables collects variable declarations from all embedded-code
// regions in scan order. Multiple declarations of the same name keep only
// the first found; this is an accepted heuristic, not a scoping model.
func scanVariables(text string) []VariableDeclaration {
	var vars []VariableDeclaration
	seen := make(map[string]struct{})

	add := func(typeName, name string) {
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		vars = append(vars, VariableDeclaration{Name: name, Type: baseTypeName(typeName)})
	}

	type declMatch struct {
		offset   int
		typeName string
		name     string
	}

	for _, region := range scriptRegionRe.FindAllStringSubmatchIndex(text, -1) {
		body := text[region[2]:region[3]]
		var found []declMatch
		for _, m := range forEachDeclRe.FindAllStringSubmatchIndex(body, -1) {
			found = append(found, declMatch{m[0], body[m[2]:m[3]], body[m[4]:m[5]]})
		}
		for _, m := range variableDeclRe.FindAllStringSubmatchIndex(body, -1) {
			found = append(found, declMatch{m[0], body[m[2]:m[3]], body[m[4]:m[5]]})
		}
		// Both patterns contribute; first-found is textual order, not
		// pattern order.
		sort.SliceStable(found, func(i, j int) bool { return found[i].offset < found[j].offset })
		for _, d := range found {
			add(d.typeName, d.name)
		}
	}
	return vars
}

// baseTypeName strips generics and array suffixes from a declared type,
// leaving the name resolvable through the import table.
func baseTypeName(t string) string {
	if idx := strings.Index(t, "<"); idx >= 0 {
		t = t[:idx]
	}
	return strings.TrimSuffix(strings.TrimSpace(t), "[]")
}

// scanImports builds the simple-name -> fully-qualified-name alias table
// from every page-directive import attribute in the document. Wildcard
// entries carry no simple name and are skipped.
func scanImports(text string) map[string]string {
	imports := make(map[string]string)
	for _, m := range pageImportRe.FindAllStringSubmatch(text, -1) {
		for _, entry := range strings.Split(m[1], ",") {
			fqn := strings.TrimSpace(entry)
			if fqn == "" || strings.HasSuffix(fqn, ".*") {
				continue
			}
			simple := fqn
			if idx := strings.LastIndex(fqn, "."); idx >= 0 {
				simple = fqn[idx+1:]
			}
			if simple == "" {
				continue
			}
			if _, dup := imports[simple]; !dup {
				imports[simple] = fqn
			}
		}
	}
	return imports
}
