// jspsupport/helpers_locate.go
// Declaration locator: turns a resolved type (and optional method) into a
// concrete source location by searching, in order, the workspace source
// roots, dependency source archives, and the platform source archive.
// Every I/O failure along the way degrades to "not found" for that
// candidate; locate never fails the overall request.
package jspsupport

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// packageDeclRe extracts the declared package of a source file for
// verification against the qualified name being located.
var packageDeclRe = regexp.MustCompile(`(?m)^\s*package\s+([\w.]+)\s*;`)

// locateQuery is one resolved lookup: a qualified or bare type name,
// optionally narrowed to a method with an observed argument count.
type locateQuery struct {
	FQN        string
	Method     string
	ParamCount int
	HasMethod  bool
	OriginPath string
}

type declarationLocator struct {
	archives *archiveSet
	logger   *slog.Logger
}

func newDeclarationLocator(archives *archiveSet, logger *slog.Logger) *declarationLocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &declarationLocator{archives: archives, logger: logger.With("component", "locator")}
}

// locate runs the tiered search. A nil result means no declaration was
// found anywhere; that is the normal outcome for unresolvable names, not
// an error.
func (l *declarationLocator) locate(ctx context.Context, q locateQuery, idx *WorkspaceIndex, cfg Config) *Location {
	logger := l.logger.With("fqn", q.FQN, "method", q.Method)

	if loc := l.locateInWorkspace(ctx, q, idx, cfg); loc != nil {
		logger.Debug("Declaration found in workspace")
		return loc
	}
	if ctx.Err() != nil {
		return nil
	}

	if strings.Contains(q.FQN, ".") {
		if loc := l.locateInDependencies(ctx, q, idx, cfg); loc != nil {
			logger.Debug("Declaration found in dependency sources")
			return loc
		}
		if ctx.Err() != nil {
			return nil
		}
		if loc := l.locateInPlatform(q, cfg); loc != nil {
			logger.Debug("Declaration found in platform sources")
			return loc
		}
	}

	logger.Debug("Declaration not found")
	return nil
}

// locateInWorkspace searches the workspace source roots. Qualified names
// map directly to a relative path and must pass package verification; bare
// names fall back to a depth-bounded file-name walk.
func (l *declarationLocator) locateInWorkspace(ctx context.Context, q locateQuery, idx *WorkspaceIndex, cfg Config) *Location {
	if idx == nil {
		return nil
	}
	roots := orderSourceRoots(idx.SourceRoots, q.OriginPath)

	if pkg, simple, qualified := splitQualifiedType(q.FQN); qualified {
		relPath := filepath.FromSlash(strings.ReplaceAll(q.FQN, ".", "/")) + sourceFileExt
		for _, root := range roots {
			if ctx.Err() != nil {
				return nil
			}
			candidate := filepath.Join(root.SourcePath, relPath)
			content, err := os.ReadFile(candidate)
			if err != nil {
				continue
			}
			if declared := declaredPackage(content); declared != "" && declared != pkg {
				l.logger.Debug("Package declaration mismatch, continuing search", "path", candidate, "declared", declared, "expected", pkg)
				continue
			}
			if loc := l.locateInContent(candidate, content, simple, q); loc != nil {
				return loc
			}
		}
		return nil
	}

	// Bare name: the file is expected to be named after the type.
	fileName := q.FQN + sourceFileExt
	maxDepth := cfg.MaxDiscoveryDepth
	if maxDepth <= 0 {
		maxDepth = defaultDiscoveryDepth
	}
	for _, root := range roots {
		if ctx.Err() != nil {
			return nil
		}
		var found string
		filepath.WalkDir(root.SourcePath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			rel, relErr := filepath.Rel(root.SourcePath, path)
			if relErr != nil {
				return nil
			}
			if d.IsDir() {
				if strings.Count(rel, string(filepath.Separator))+1 > maxDepth {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Name() == fileName {
				found = path
				return filepath.SkipAll
			}
			return nil
		})
		if found == "" {
			continue
		}
		content, err := os.ReadFile(found)
		if err != nil {
			continue
		}
		if loc := l.locateInContent(found, content, q.FQN, q); loc != nil {
			return loc
		}
	}
	return nil
}

// locateInDependencies checks each dependency's sources archive for the
// exact entry path derived from the qualified name.
func (l *declarationLocator) locateInDependencies(ctx context.Context, q locateQuery, idx *WorkspaceIndex, cfg Config) *Location {
	if idx == nil || cfg.DependencyCacheRoot == "" {
		return nil
	}
	_, simple, _ := splitQualifiedType(q.FQN)
	entryPath := strings.ReplaceAll(q.FQN, ".", "/") + sourceFileExt

	for _, coord := range idx.Dependencies {
		if ctx.Err() != nil {
			return nil
		}
		archivePath := coord.sourceArchivePath(cfg.DependencyCacheRoot)
		handle, err := l.archives.openArchive(archivePath)
		if err != nil {
			continue
		}
		name, err := l.archives.findEntry(handle, entryPath)
		if err != nil || name == "" {
			continue
		}
		if loc := l.locateInArchiveEntry(handle, name, simple, q); loc != nil {
			return loc
		}
	}
	return nil
}

// locateInPlatform checks the platform source archive for names under a
// configured platform prefix. Platform archives nest entries under a
// module directory, so matching is by path suffix.
func (l *declarationLocator) locateInPlatform(q locateQuery, cfg Config) *Location {
	if cfg.PlatformHome == "" || !hasPlatformPrefix(q.FQN, cfg.PlatformPrefixes) {
		return nil
	}
	_, simple, _ := splitQualifiedType(q.FQN)
	entrySuffix := strings.ReplaceAll(q.FQN, ".", "/") + sourceFileExt

	archivePath := filepath.Join(cfg.PlatformHome, "lib", "src.zip")
	handle, err := l.archives.openArchive(archivePath)
	if err != nil {
		return nil
	}
	name, err := l.archives.findEntryBySuffix(handle, entrySuffix)
	if err != nil || name == "" {
		return nil
	}
	return l.locateInArchiveEntry(handle, name, simple, q)
}

func (l *declarationLocator) locateInArchiveEntry(handle *archiveHandle, entryName, simpleName string, q locateQuery) *Location {
	extractedPath, err := l.archives.extract(handle, entryName)
	if err != nil {
		l.logger.Warn("Extraction failed", "archive", handle.path, "entry", entryName, "error", err)
		return nil
	}
	content, err := os.ReadFile(extractedPath)
	if err != nil {
		l.logger.Warn("Reading extracted file failed", "path", extractedPath, "error", err)
		return nil
	}
	return l.locateInContent(extractedPath, content, simpleName, q)
}

// locateInContent finds the declaration span inside a known-relevant file.
// When a method is requested but no overload matches, the type declaration
// itself is the answer.
func (l *declarationLocator) locateInContent(path string, content []byte, simpleName string, q locateQuery) *Location {
	typeStart, typeEnd, ok := searchTypeDecl(string(content), simpleName)
	if !ok {
		return nil
	}
	start, end := typeStart, typeEnd
	if q.HasMethod {
		if mStart, mEnd, found := searchMethodDecl(string(content), typeStart, q.Method, q.ParamCount); found {
			start, end = mStart, mEnd
		}
	}
	loc, err := spanToLocation(path, content, start, end, l.logger)
	if err != nil {
		l.logger.Warn("Position conversion failed", "path", path, "error", err)
		return nil
	}
	return loc
}

// searchTypeDecl returns the byte span of the type name in its declaration
// header within content.
func searchTypeDecl(content, name string) (start, end int, ok bool) {
	re, err := regexp.Compile(`\b(?:class|interface|enum|record|@interface)\s+(` + regexp.QuoteMeta(name) + `)\b`)
	if err != nil {
		return 0, 0, false
	}
	m := re.FindStringSubmatchIndex(content)
	if m == nil {
		return 0, 0, false
	}
	return m[2], m[3], true
}

// searchMethodDecl finds the declaration of name after fromOffset whose
// parameter count best matches wantParams: exact count wins, then nearest,
// then first found. The scan stops at the closing brace of the type body
// starting at fromOffset, so a same-named method in a later top-level type
// in the file is never matched. Call sites are filtered out by requiring a
// type-like token before the name and rejecting member access.
func searchMethodDecl(content string, fromOffset int, name string, wantParams int) (start, end int, ok bool) {
	re, err := regexp.Compile(`(?m)^[^\n=+\-]*?[\w>\]]\s+(` + regexp.QuoteMeta(name) + `)\s*\(`)
	if err != nil {
		return 0, 0, false
	}
	region := content[fromOffset:enclosingTypeEnd(content, fromOffset)]

	var starts, ends, counts []int
	for _, m := range re.FindAllStringSubmatchIndex(region, -1) {
		nameStart := fromOffset + m[2]
		nameEnd := fromOffset + m[3]
		if prev := precedingWord(content, nameStart); prev == "new" || prev == "return" {
			continue
		}
		if nameStart > 0 && content[nameStart-1] == '.' {
			continue
		}
		openParen := strings.IndexByte(content[nameEnd:], '(')
		if openParen < 0 {
			continue
		}
		starts = append(starts, nameStart)
		ends = append(ends, nameEnd)
		counts = append(counts, countDeclarationParams(content, nameEnd+openParen))
	}

	pick := pickByParamCount(counts, wantParams)
	if pick < 0 {
		return 0, 0, false
	}
	return starts[pick], ends[pick], true
}

// enclosingTypeEnd returns the offset just past the closing brace of the
// type body whose header starts at fromOffset. Braces inside string and
// character literals are ignored; an unterminated body extends to the end
// of content.
func enclosingTypeEnd(content string, fromOffset int) int {
	depth := 0
	opened := false
	var quote byte
	escaped := false

	for i := fromOffset; i < len(content); i++ {
		c := content[i]
		if quote != 0 {
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
		case '{':
			depth++
			opened = true
		case '}':
			depth--
			if opened && depth <= 0 {
				return i + 1
			}
		}
	}
	return len(content)
}

// precedingWord returns the identifier immediately before offset, skipping
// whitespace.
func precedingWord(content string, offset int) string {
	i := offset
	for i > 0 && (content[i-1] == ' ' || content[i-1] == '\t') {
		i--
	}
	j := i
	for j > 0 && isWordByte(content[j-1], false) && content[j-1] != '.' {
		j--
	}
	return content[j:i]
}

// orderSourceRoots puts the root containing the origin document first, then
// longer module paths before shorter ones, keeping the walk stable.
func orderSourceRoots(roots []SourceRoot, originPath string) []SourceRoot {
	ordered := make([]SourceRoot, len(roots))
	copy(ordered, roots)
	sort.SliceStable(ordered, func(i, j int) bool {
		iOrigin := containsPath(ordered[i].ModulePath, originPath)
		jOrigin := containsPath(ordered[j].ModulePath, originPath)
		if iOrigin != jOrigin {
			return iOrigin
		}
		return len(ordered[i].ModulePath) > len(ordered[j].ModulePath)
	})
	return ordered
}

func containsPath(dir, path string) bool {
	if dir == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func splitQualifiedType(fqn string) (pkg, simple string, qualified bool) {
	idx := strings.LastIndex(fqn, ".")
	if idx < 0 {
		return "", fqn, false
	}
	return fqn[:idx], fqn[idx+1:], true
}

func declaredPackage(content []byte) string {
	m := packageDeclRe.FindSubmatch(content)
	if m == nil {
		return ""
	}
	return string(m[1])
}

func hasPlatformPrefix(fqn string, prefixes []string) bool {
	if len(prefixes) == 0 {
		prefixes = defaultPlatformPrefixes
	}
	for _, p := range prefixes {
		if strings.HasPrefix(fqn, p) {
			return true
		}
	}
	return false
}
