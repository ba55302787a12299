// jspsupport/helpers_discovery.go
// Workspace source-root and dependency discovery. Walks the workspace for
// Maven project descriptors, honoring .gitignore rules and a recursion
// depth ceiling, and turns each descriptor into source roots plus
// dependency coordinates for the archive lookup tiers.
package jspsupport

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

const projectDescriptorName = "pom.xml"

// pomProject is the subset of the Maven descriptor the resolver needs.
type pomProject struct {
	XMLName      xml.Name        `xml:"project"`
	GroupID      string          `xml:"groupId"`
	ArtifactID   string          `xml:"artifactId"`
	Version      string          `xml:"version"`
	Parent       pomParent       `xml:"parent"`
	Properties   pomProperties   `xml:"properties"`
	Modules      []string        `xml:"modules>module"`
	Dependencies []pomDependency `xml:"dependencies>dependency"`
}

type pomParent struct {
	GroupID string `xml:"groupId"`
	Version string `xml:"version"`
}

type pomDependency struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

// pomProperties decodes the freeform <properties> block into a name/value
// map for ${...} placeholder resolution.
type pomProperties struct {
	Values map[string]string
}

func (p *pomProperties) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	p.Values = make(map[string]string)
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var value string
			if err := d.DecodeElement(&value, &t); err != nil {
				return err
			}
			p.Values[t.Name.Local] = strings.TrimSpace(value)
		case xml.EndElement:
			if t.Name == start.Name {
				return nil
			}
		}
	}
}

// DiscoverWorkspace builds the workspace index for root: every source root
// under a discovered project descriptor plus the deduplicated dependency
// list across all descriptors. Malformed descriptors are logged and
// skipped; a workspace with no descriptors still gets conventional source
// roots under the root itself.
func DiscoverWorkspace(root string, cfg Config, logger *slog.Logger) *WorkspaceIndex {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("op", "DiscoverWorkspace", "root", root)

	idx := &WorkspaceIndex{Root: root}
	seenCoords := make(map[DependencyCoordinate]struct{})
	seenModules := make(map[string]struct{})

	pomPaths := findProjectDescriptors(root, cfg.MaxDiscoveryDepth, logger)
	for _, pomPath := range pomPaths {
		moduleDir := filepath.Dir(pomPath)
		if _, dup := seenModules[moduleDir]; dup {
			continue
		}
		seenModules[moduleDir] = struct{}{}

		project, err := parseProjectDescriptor(pomPath)
		if err != nil {
			logger.Warn("Skipping malformed project descriptor", "path", pomPath, "error", err)
			addConventionalRoots(idx, moduleDir, cfg.SourceDirFallbacks)
			continue
		}

		addConventionalRoots(idx, moduleDir, cfg.SourceDirFallbacks)
		for _, dep := range project.Dependencies {
			coord := resolveCoordinate(dep, project)
			if coord.GroupID == "" || coord.ArtifactID == "" || coord.Version == "" {
				logger.Debug("Dependency missing coordinates, skipping", "path", pomPath,
					"groupId", coord.GroupID, "artifactId", coord.ArtifactID, "version", coord.Version)
				continue
			}
			if _, dup := seenCoords[coord]; dup {
				continue
			}
			seenCoords[coord] = struct{}{}
			idx.Dependencies = append(idx.Dependencies, coord)
		}
	}

	if len(idx.SourceRoots) == 0 {
		addConventionalRoots(idx, root, cfg.SourceDirFallbacks)
	}

	logger.Info("Workspace discovery complete",
		"sourceRoots", len(idx.SourceRoots), "dependencies", len(idx.Dependencies), "descriptors", len(pomPaths))
	return idx
}

// findProjectDescriptors walks root collecting pom.xml paths, pruning
// gitignored directories and stopping at the depth ceiling. Results are
// sorted so discovery order is stable across runs.
func findProjectDescriptors(root string, maxDepth int, logger *slog.Logger) []string {
	if maxDepth <= 0 {
		maxDepth = defaultDiscoveryDepth
	}

	var matcher *ignore.GitIgnore
	if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		matcher = gi
	}

	var paths []string
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logger.Debug("Walk error, skipping subtree", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1
		if d.IsDir() {
			if depth > maxDepth {
				return filepath.SkipDir
			}
			name := d.Name()
			if name == ".git" || name == "target" || name == "node_modules" {
				return filepath.SkipDir
			}
			if matcher != nil && matcher.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != projectDescriptorName {
			return nil
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})

	sort.Strings(paths)
	return paths
}

func parseProjectDescriptor(path string) (*pomProject, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadataMalformed, err)
	}
	var project pomProject
	if err := xml.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadataMalformed, err)
	}
	return &project, nil
}

// resolveCoordinate fills in inherited and property-placeholder values on a
// declared dependency. Placeholders resolve against the descriptor's own
// properties plus the standard project.version/project.groupId names;
// anything unresolvable is left empty so the dependency gets skipped.
func resolveCoordinate(dep pomDependency, project *pomProject) DependencyCoordinate {
	version := project.Version
	if version == "" {
		version = project.Parent.Version
	}
	groupID := project.GroupID
	if groupID == "" {
		groupID = project.Parent.GroupID
	}

	props := map[string]string{
		"project.version": version,
		"project.groupId": groupID,
	}
	for k, v := range project.Properties.Values {
		props[k] = v
	}

	return DependencyCoordinate{
		GroupID:    resolvePlaceholders(dep.GroupID, props),
		ArtifactID: resolvePlaceholders(dep.ArtifactID, props),
		Version:    resolvePlaceholders(dep.Version, props),
	}
}

func resolvePlaceholders(value string, props map[string]string) string {
	for i := 0; i < 5; i++ { // bounded in case properties reference each other cyclically
		start := strings.Index(value, "${")
		if start < 0 {
			return value
		}
		end := strings.Index(value[start:], "}")
		if end < 0 {
			return ""
		}
		name := value[start+2 : start+end]
		replacement, ok := props[name]
		if !ok {
			return ""
		}
		value = value[:start] + replacement + value[start+end+1:]
	}
	if strings.Contains(value, "${") {
		return ""
	}
	return value
}

// addConventionalRoots appends the first existing conventional source
// directory under moduleDir as a source root.
func addConventionalRoots(idx *WorkspaceIndex, moduleDir string, fallbacks []string) {
	if len(fallbacks) == 0 {
		fallbacks = defaultSourceDirs
	}
	for _, rel := range fallbacks {
		candidate := filepath.Join(moduleDir, filepath.FromSlash(rel))
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			idx.SourceRoots = append(idx.SourceRoots, SourceRoot{ModulePath: moduleDir, SourcePath: candidate})
			return
		}
	}
}
